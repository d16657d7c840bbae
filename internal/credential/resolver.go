// Package credential discovers the keys that can unlock a keychain without
// prompting, by following the keychain's unlock-referral records.
//
// Resolution is best effort. A referral that cannot be followed is skipped,
// and a keychain with no usable referral resolves to no credentials, which
// sends the caller down the interactive unlock path.
package credential

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/store"
)

// Registry is the part of the keychain registry the resolver needs.
type Registry interface {
	Keychain(id keychain.ID) (*keychain.Keychain, error)
	SearchList() []*keychain.Keychain
}

// Sample is one candidate unlock credential.
type Sample struct {
	Kind       ReferralKind
	Connection keychain.ID
	Key        *keychain.Item
	Referral   []byte
}

// Resolver computes the credential samples of one keychain once and keeps
// the key items they depend on alive until Clear.
type Resolver struct {
	registry Registry
	logger   *slog.Logger

	mu       sync.Mutex
	computed bool
	pinned   map[*keychain.Item]struct{}
	samples  []Sample
}

// Option configures a resolver.
type Option func(*Resolver)

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver returns a resolver looking up referral targets in reg.
func NewResolver(reg Registry, opts ...Option) *Resolver {
	r := &Resolver{
		registry: reg,
		logger:   slog.With("component", "credential"),
		pinned:   make(map[*keychain.Item]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve follows kc's unlock referrals and reports whether any credential
// was found. The scan runs once; later calls return the first answer until
// Clear. An error is returned only when kc's schema cannot be read.
func (r *Resolver) Resolve(kc *keychain.Keychain) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.computed {
		return len(r.samples) > 0, nil
	}

	known, err := kc.HasRecordType(store.UnlockReferral)
	if err != nil {
		return false, fmt.Errorf("resolve credentials of %s: %w", kc, err)
	}
	if !known {
		r.computed = true
		return false, nil
	}

	cur, err := kc.Store().Cursor(store.NewQuery(store.UnlockReferral))
	if errors.Is(err, store.ErrInvalidRecordType) {
		r.computed = true
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve credentials of %s: %w", kc, err)
	}
	recs, err := store.Collect(cur)
	if err != nil {
		return false, fmt.Errorf("resolve credentials of %s: %w", kc, err)
	}

	for _, rec := range recs {
		ref := ParseReferral(rec)
		if _, ok := ref.Kind.keyType(); !ok {
			r.logger.Info("skipping unsupported unlock referral", "keychain", kc.String(), "kind", ref.Kind.String())
			continue
		}
		r.processReferral(ref)
	}
	r.computed = true
	return len(r.samples) > 0, nil
}

// processReferral searches the referral's target keychain, then the search
// list keychains of the same module.
func (r *Resolver) processReferral(ref Referral) {
	target, err := r.registry.Keychain(ref.Target)
	if err == nil && r.searchForKey(ref, []*keychain.Keychain{target}) {
		return
	}
	if err != nil {
		r.logger.Debug("referral target unavailable", "target", ref.Target.String(), "error", err)
	}
	r.searchForKey(ref, r.fallbackSearchList(ref.Target))
}

func (r *Resolver) fallbackSearchList(id keychain.ID) []*keychain.Keychain {
	var out []*keychain.Keychain
	for _, kc := range r.registry.SearchList() {
		if kc.ID().Module == id.Module {
			out = append(out, kc)
		}
	}
	return out
}

// searchForKey appends a sample for every key in kcs matching the referral's
// label and reports whether it appended any. Errors end the search quietly.
func (r *Resolver) searchForKey(ref Referral, kcs []*keychain.Keychain) bool {
	rt, ok := ref.Kind.keyType()
	if !ok || len(kcs) == 0 {
		return false
	}
	q := store.NewQuery(rt).Where(store.AttrKeyLabel, ref.KeyLabel)
	if len(ref.AppTag) > 0 {
		q = q.Where(store.AttrAppTag, ref.AppTag)
	}

	cur := keychain.NewSearchCursor(kcs, q)
	defer cur.Close()

	found := false
	for {
		it, ok, err := cur.Next()
		if err != nil {
			r.logger.Debug("referral key search failed", "label", string(ref.KeyLabel), "error", err)
			return found
		}
		if !ok {
			return found
		}
		owner := it.Keychain()
		if owner == nil {
			continue
		}
		r.samples = append(r.samples, Sample{
			Kind:       ref.Kind,
			Connection: owner.ID(),
			Key:        it,
			Referral:   append([]byte(nil), ref.Raw...),
		})
		r.pinned[it] = struct{}{}
		found = true
	}
}

// Samples returns the credential samples found by the last Resolve.
func (r *Resolver) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Pinned reports whether it is kept alive by a sample.
func (r *Resolver) Pinned(it *keychain.Item) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pinned[it]
	return ok
}

// Clear forgets every sample and pinned item; the next Resolve scans again.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.computed = false
	r.samples = nil
	clear(r.pinned)
}
