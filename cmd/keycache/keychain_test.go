package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/benaskins/keycache/internal/credential"
	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/registry"
	"github.com/benaskins/keycache/internal/store"
)

// brokenKeychain returns a locked keychain whose store is closed, so its
// schema cannot be read.
func brokenKeychain(t *testing.T) *keychain.Keychain {
	t.Helper()
	s := store.NewMemoryStore("broken")
	if err := s.Create(store.StandardRelations()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()
	kc := keychain.New(keychain.ID{Name: "broken", Module: registry.ModuleMemory}, s)
	kc.Lock()
	return kc
}

func TestUnlockPromptsWhenResolverFails(t *testing.T) {
	kc := brokenKeychain(t)
	r := credential.NewResolver(registry.New(t.TempDir()))

	prompted := false
	msg, err := unlock(kc, r, func(string) ([]byte, error) {
		prompted = true
		return []byte("hunter2"), nil
	})
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !prompted {
		t.Error("expected a password prompt")
	}
	if kc.IsLocked() {
		t.Error("expected keychain to be unlocked")
	}
	if !strings.Contains(msg, "unlocked") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestUnlockPromptError(t *testing.T) {
	kc := brokenKeychain(t)
	r := credential.NewResolver(registry.New(t.TempDir()))
	boom := errors.New("no terminal")

	_, err := unlock(kc, r, func(string) ([]byte, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected prompt error, got %v", err)
	}
	if !kc.IsLocked() {
		t.Error("expected keychain to stay locked")
	}
}

func TestUnlockWithReferral(t *testing.T) {
	reg := registry.New(t.TempDir())
	a, err := reg.Keychain(keychain.ID{Name: "a", Module: registry.ModuleMemory})
	if err != nil {
		t.Fatalf("Keychain: %v", err)
	}
	b, err := reg.Keychain(keychain.ID{Name: "b", Module: registry.ModuleMemory})
	if err != nil {
		t.Fatalf("Keychain: %v", err)
	}
	key := keychain.NewItem(store.SymmetricKey, store.Attributes{
		store.AttrKeyLabel: []byte("K1"),
	}, []byte("material"))
	if err := b.Add(key); err != nil {
		t.Fatalf("Add key: %v", err)
	}
	ref := credential.Referral{Kind: credential.ReferralDirectKey, Target: b.ID(), KeyLabel: []byte("K1")}
	if err := a.Add(ref.Item()); err != nil {
		t.Fatalf("Add referral: %v", err)
	}
	a.Lock()

	msg, err := unlock(a, credential.NewResolver(reg), func(string) ([]byte, error) {
		t.Fatal("expected no prompt")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if a.IsLocked() {
		t.Error("expected keychain to be unlocked")
	}
	if !strings.Contains(msg, "direct-key") {
		t.Errorf("expected the referral kind in %q", msg)
	}
}
