package credential

import (
	"errors"
	"testing"

	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	keychains  map[keychain.ID]*keychain.Keychain
	searchList []*keychain.Keychain
}

func (r *fakeRegistry) Keychain(id keychain.ID) (*keychain.Keychain, error) {
	kc, ok := r.keychains[id]
	if !ok {
		return nil, errors.New("no such keychain")
	}
	return kc, nil
}

func (r *fakeRegistry) SearchList() []*keychain.Keychain { return r.searchList }

func newRegistry() *fakeRegistry {
	return &fakeRegistry{keychains: make(map[keychain.ID]*keychain.Keychain)}
}

// open creates a memory keychain with the standard schema, wrapped in a
// cursor-counting store.
func (r *fakeRegistry) open(t *testing.T, name string) (*keychain.Keychain, *store.CountingStore) {
	t.Helper()
	mem := store.NewMemoryStore(name)
	require.NoError(t, mem.Create(store.StandardRelations()))
	cs := store.NewCountingStore(mem)
	id := keychain.ID{Name: name, Module: "memory"}
	kc := keychain.New(id, cs)
	r.keychains[id] = kc
	return kc, cs
}

func addKey(t *testing.T, kc *keychain.Keychain, rt store.RecordType, label string) *keychain.Item {
	t.Helper()
	it := keychain.NewItem(rt, store.Attributes{
		store.AttrKeyLabel: []byte(label),
	}, []byte("material-"+label))
	require.NoError(t, kc.Add(it))
	return it
}

func addReferral(t *testing.T, kc *keychain.Keychain, kind ReferralKind, target keychain.ID, label string) {
	t.Helper()
	ref := Referral{
		Kind:     kind,
		Target:   target,
		KeyLabel: []byte(label),
		Raw:      []byte("blob-" + label),
	}
	require.NoError(t, kc.Add(ref.Item()))
}

func TestResolve_DirectKey(t *testing.T) {
	reg := newRegistry()
	a, _ := reg.open(t, "a")
	b, _ := reg.open(t, "b")
	key := addKey(t, b, store.SymmetricKey, "K1")
	addReferral(t, a, ReferralDirectKey, b.ID(), "K1")

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	assert.True(t, ok)

	samples := r.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, ReferralDirectKey, samples[0].Kind)
	assert.Equal(t, b.ID(), samples[0].Connection)
	assert.Same(t, key, samples[0].Key)
	assert.Equal(t, []byte("blob-K1"), samples[0].Referral)
	assert.True(t, r.Pinned(key))

	cached, err := b.Item(key.PrimaryKey())
	require.NoError(t, err)
	assert.True(t, r.Pinned(cached))
}

func TestResolve_WrappedPrivateKey(t *testing.T) {
	reg := newRegistry()
	a, _ := reg.open(t, "a")
	b, _ := reg.open(t, "b")
	addKey(t, b, store.SymmetricKey, "K2")
	priv := addKey(t, b, store.PrivateKey, "K2")
	addReferral(t, a, ReferralWrappedPrivateKey, b.ID(), "K2")

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	require.True(t, ok)

	samples := r.Samples()
	require.Len(t, samples, 1)
	assert.Same(t, priv, samples[0].Key)
}

func TestResolve_Idempotent(t *testing.T) {
	reg := newRegistry()
	a, counter := reg.open(t, "a")
	b, _ := reg.open(t, "b")
	addKey(t, b, store.SymmetricKey, "K1")
	addReferral(t, a, ReferralDirectKey, b.ID(), "K1")

	r := NewResolver(reg)
	first, err := r.Resolve(a)
	require.NoError(t, err)
	second, err := r.Resolve(a)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.Cursors(store.UnlockReferral))
	assert.Len(t, r.Samples(), 1)

	r.Clear()
	assert.Empty(t, r.Samples())
	_, err = r.Resolve(a)
	require.NoError(t, err)
	assert.Equal(t, 2, counter.Cursors(store.UnlockReferral))
	assert.Len(t, r.Samples(), 1)
}

func TestResolve_NoReferrals(t *testing.T) {
	reg := newRegistry()
	a, counter := reg.open(t, "a")

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Resolve(a)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, counter.Cursors(store.UnlockReferral))
}

func TestResolve_ReferralTypeUnknown(t *testing.T) {
	mem := store.NewMemoryStore("bare")
	require.NoError(t, mem.Create([]store.RelationInfo{store.GenericPasswordRelation()}))
	cs := store.NewCountingStore(mem)
	kc := keychain.New(keychain.ID{Name: "bare", Module: "memory"}, cs)

	r := NewResolver(newRegistry())
	ok, err := r.Resolve(kc)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, cs.Cursors(store.UnlockReferral))
}

func TestResolve_UnsupportedKindSkipped(t *testing.T) {
	reg := newRegistry()
	a, _ := reg.open(t, "a")
	b, _ := reg.open(t, "b")
	addKey(t, b, store.SymmetricKey, "K1")
	addReferral(t, a, ReferralKind(99), b.ID(), "K1")
	addReferral(t, a, ReferralDirectKey, b.ID(), "K1")

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, r.Samples(), 1)
}

func TestResolve_FallbackSearchList(t *testing.T) {
	reg := newRegistry()
	a, _ := reg.open(t, "a")
	b, _ := reg.open(t, "b")
	key := addKey(t, b, store.SymmetricKey, "K1")

	other := store.NewMemoryStore("other")
	require.NoError(t, other.Create(store.StandardRelations()))
	c := keychain.New(keychain.ID{Name: "c", Module: "sqlite"}, other)
	addKey(t, c, store.SymmetricKey, "K1")

	reg.searchList = []*keychain.Keychain{c, b}
	addReferral(t, a, ReferralDirectKey, keychain.ID{Name: "moved", Module: "memory"}, "K1")

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	require.True(t, ok)

	samples := r.Samples()
	require.Len(t, samples, 1, "keychains of another module are not searched")
	assert.Same(t, key, samples[0].Key)
}

func TestResolve_TargetWithoutKeyFallsBack(t *testing.T) {
	reg := newRegistry()
	a, _ := reg.open(t, "a")
	b, _ := reg.open(t, "b")
	c, _ := reg.open(t, "c")
	key := addKey(t, c, store.SymmetricKey, "K1")
	reg.searchList = []*keychain.Keychain{b, c}
	addReferral(t, a, ReferralDirectKey, b.ID(), "K1")

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, r.Pinned(key))
}

func TestResolve_NoMatchingKey(t *testing.T) {
	reg := newRegistry()
	a, _ := reg.open(t, "a")
	b, _ := reg.open(t, "b")
	addKey(t, b, store.SymmetricKey, "other")
	reg.searchList = []*keychain.Keychain{b}
	addReferral(t, a, ReferralDirectKey, b.ID(), "K1")

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, r.Samples())
}

func TestResolve_ClosedTargetIsNoMatch(t *testing.T) {
	reg := newRegistry()
	a, _ := reg.open(t, "a")
	b, _ := reg.open(t, "b")
	addKey(t, b, store.SymmetricKey, "K1")
	addReferral(t, a, ReferralDirectKey, b.ID(), "K1")
	require.NoError(t, b.Close())

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_FallbackSkipsFailingKeychain(t *testing.T) {
	reg := newRegistry()
	a, _ := reg.open(t, "a")
	broken, _ := reg.open(t, "broken")
	c, _ := reg.open(t, "c")
	addKey(t, broken, store.SymmetricKey, "K1")
	key := addKey(t, c, store.SymmetricKey, "K1")
	require.NoError(t, broken.Close())
	reg.searchList = []*keychain.Keychain{broken, c}

	addReferral(t, a, ReferralDirectKey, keychain.ID{Name: "gone", Module: "memory"}, "K1")

	r := NewResolver(reg)
	ok, err := r.Resolve(a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, r.Samples(), 1)
	assert.Same(t, key, r.Samples()[0].Key)
	assert.Equal(t, c.ID(), r.Samples()[0].Connection)
}

func TestParseReferral(t *testing.T) {
	ref := Referral{
		Kind:     ReferralWrappedPrivateKey,
		Target:   keychain.ID{Name: "b", Module: "sqlite", Subservice: 3},
		KeyLabel: []byte("K1"),
		AppTag:   []byte("tag"),
		Raw:      []byte("blob"),
	}
	it := ref.Item()

	got := ParseReferral(store.Record{Type: store.UnlockReferral, Attrs: it.Attributes(), Payload: it.Data()})
	assert.Equal(t, ref, got)
}

func TestParseReferralKind(t *testing.T) {
	k, err := ParseReferralKind("direct-key")
	require.NoError(t, err)
	assert.Equal(t, ReferralDirectKey, k)

	k, err = ParseReferralKind(ReferralWrappedPrivateKey.String())
	require.NoError(t, err)
	assert.Equal(t, ReferralWrappedPrivateKey, k)

	_, err = ParseReferralKind("smartcard")
	assert.Error(t, err)
}
