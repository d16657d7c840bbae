package keychain

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/benaskins/keycache/internal/events"
	"github.com/benaskins/keycache/internal/store"
)

func newTestKeychain(t *testing.T, opts ...Option) (*Keychain, *events.History) {
	t.Helper()
	s := store.NewMemoryStore("login")
	if err := s.Create(store.StandardRelations()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	h := events.NewHistory(64)
	opts = append([]Option{WithNotifier(h)}, opts...)
	return New(ID{Name: "login", Module: "memory"}, s, opts...), h
}

func password(account, service, secret string) *Item {
	return NewItem(store.GenericPassword, store.Attributes{
		store.AttrAccount: []byte(account),
		store.AttrService: []byte(service),
	}, []byte(secret))
}

func mustAdd(t *testing.T, k *Keychain, it *Item) store.PrimaryKey {
	t.Helper()
	if err := k.Add(it); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return it.PrimaryKey()
}

func kindsEqual(got, want []events.Kind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type fakeRegistry struct {
	mu      sync.Mutex
	locks   atomic.Int32
	removed []ID
}

func (r *fakeRegistry) ConstructionLock() sync.Locker {
	r.locks.Add(1)
	return &r.mu
}

func (r *fakeRegistry) RemoveKeychain(id ID, _ *Keychain) {
	r.removed = append(r.removed, id)
}

func TestAddCachesItem(t *testing.T) {
	k, h := newTestKeychain(t)
	it := password("alice", "mail", "hunter2")

	key := mustAdd(t, k, it)

	if !it.IsPersistent() {
		t.Fatal("expected item to be persistent after Add")
	}
	if it.Keychain() != k {
		t.Errorf("expected item bound to %s", k)
	}
	got, err := k.Item(key)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if got != it {
		t.Error("expected lookup to return the added item")
	}
	if !kindsEqual(h.Kinds(), []events.Kind{events.KindAdd}) {
		t.Errorf("unexpected events %v", h.Kinds())
	}
	if e := h.Events()[0]; e.Key != key || e.Keychain != k.String() {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestAddDuplicate(t *testing.T) {
	k, _ := newTestKeychain(t)
	mustAdd(t, k, password("alice", "mail", "a"))

	dup := password("alice", "mail", "b")
	err := k.Add(dup)
	if !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem, got %v", err)
	}
	if dup.IsPersistent() {
		t.Error("expected rejected item to stay floating")
	}
}

func TestAddPersistentItem(t *testing.T) {
	k, _ := newTestKeychain(t)
	it := password("alice", "mail", "a")
	mustAdd(t, k, it)

	if err := k.Add(it); !errors.Is(err, ErrInvalidItemRef) {
		t.Errorf("expected ErrInvalidItemRef, got %v", err)
	}
}

func TestItemMissing(t *testing.T) {
	k, _ := newTestKeychain(t)
	key, err := k.PrimaryKeyFor(store.GenericPassword, store.Attributes{
		store.AttrAccount: []byte("nobody"),
		store.AttrService: []byte("mail"),
	})
	if err != nil {
		t.Fatalf("PrimaryKeyFor: %v", err)
	}

	_, err = k.Item(key)
	if !errors.Is(err, ErrInvalidItemRef) {
		t.Errorf("expected ErrInvalidItemRef, got %v", err)
	}
	if k.CacheLen() != 0 {
		t.Errorf("expected empty cache, got %d", k.CacheLen())
	}
}

func TestItemLoadsFromStore(t *testing.T) {
	k, _ := newTestKeychain(t)
	key := mustAdd(t, k, password("alice", "mail", "hunter2"))
	k.Purge()

	it, err := k.Item(key)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if string(it.Data()) != "hunter2" {
		t.Errorf("expected payload hunter2, got %q", it.Data())
	}
	again, _ := k.Item(key)
	if again != it {
		t.Error("expected second lookup to hit the cache")
	}
}

func TestConcurrentLookupsShareOneItem(t *testing.T) {
	k, _ := newTestKeychain(t)
	key := mustAdd(t, k, password("alice", "mail", "x"))
	k.Purge()

	const n = 32
	var wg sync.WaitGroup
	results := make([]*Item, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = k.Item(key)
		}()
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("lookup %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("lookup %d returned a different item", i)
		}
	}
	if k.CacheLen() != 1 {
		t.Errorf("expected 1 cached item, got %d", k.CacheLen())
	}
}

func TestBindNewDuplicate(t *testing.T) {
	k, _ := newTestKeychain(t)
	first := password("alice", "mail", "x")
	key := mustAdd(t, k, first)

	_, err := k.BindNew(key, func() (*Item, error) {
		return password("alice", "mail", "y"), nil
	})
	if !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem, got %v", err)
	}
	if got, _ := k.Lookup(key); got != first {
		t.Error("expected the first item to stay cached")
	}
}

func TestBindNewLoaderError(t *testing.T) {
	k, _ := newTestKeychain(t)
	boom := errors.New("boom")

	_, err := k.BindNew(store.PrimaryKey{}, func() (*Item, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected loader error, got %v", err)
	}
}

func TestCompleteAddLosingRace(t *testing.T) {
	k, _ := newTestKeychain(t)
	winner := password("alice", "mail", "x")
	key := mustAdd(t, k, winner)

	loser := password("alice", "mail", "y")
	k.CompleteAdd(loser, key)

	if got, _ := k.Lookup(key); got != winner {
		t.Error("expected the winner to stay cached")
	}
	if k.Cached(loser) {
		t.Error("expected the loser to be outside the cache")
	}
}

func TestReleaseDropsIdentity(t *testing.T) {
	k, _ := newTestKeychain(t)
	it := password("alice", "mail", "x")
	key := mustAdd(t, k, it)

	k.Release(it)
	if _, ok := k.Lookup(key); ok {
		t.Fatal("expected released item to be gone from the cache")
	}

	again, err := k.Item(key)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if again == it {
		t.Error("expected a new item after release")
	}
}

func TestStaleEntryIsMiss(t *testing.T) {
	k, _ := newTestKeychain(t)
	it := password("alice", "mail", "x")
	key := mustAdd(t, k, it)

	k.mu.Lock()
	it.inCache = false
	k.mu.Unlock()

	if _, ok := k.Lookup(key); ok {
		t.Error("expected stale entry to be reported as a miss")
	}
	if k.CacheLen() != 0 {
		t.Errorf("expected stale entry to be dropped, got %d entries", k.CacheLen())
	}
}

func TestUpdateRekeys(t *testing.T) {
	k, h := newTestKeychain(t)
	it := password("alice", "mail", "x")
	oldKey := mustAdd(t, k, it)

	it.SetAttribute(store.AttrAccount, []byte("bob"))
	if !it.Modified() {
		t.Fatal("expected pending modification")
	}
	if err := k.Update(it); err != nil {
		t.Fatalf("Update: %v", err)
	}

	newKey := it.PrimaryKey()
	if newKey == oldKey {
		t.Fatal("expected primary key to change")
	}
	if _, ok := k.Lookup(oldKey); ok {
		t.Error("expected old key to be gone")
	}
	if got, _ := k.Lookup(newKey); got != it {
		t.Error("expected item under the new key")
	}
	if it.Modified() {
		t.Error("expected no pending modification after Update")
	}
	if !kindsEqual(h.Kinds(), []events.Kind{events.KindAdd, events.KindUpdate}) {
		t.Errorf("unexpected events %v", h.Kinds())
	}
}

func TestUpdatePasswordPostsPasswordChanged(t *testing.T) {
	k, h := newTestKeychain(t)
	it := password("alice", "mail", "old")
	mustAdd(t, k, it)

	it.SetData([]byte("new"))
	if err := k.Update(it); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if string(it.Data()) != "new" {
		t.Errorf("expected payload new, got %q", it.Data())
	}
	last := h.Last(1)[0]
	if last.Kind != events.KindPasswordChanged {
		t.Errorf("expected password_changed, got %s", last.Kind)
	}
}

func TestUpdateIntoDuplicate(t *testing.T) {
	k, _ := newTestKeychain(t)
	mustAdd(t, k, password("alice", "mail", "x"))
	it := password("bob", "mail", "y")
	key := mustAdd(t, k, it)

	it.SetAttribute(store.AttrAccount, []byte("alice"))
	if err := k.Update(it); !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem, got %v", err)
	}
	if got, _ := k.Lookup(key); got != it {
		t.Error("expected item to keep its old key")
	}
}

func TestUpdateForeignItem(t *testing.T) {
	k, _ := newTestKeychain(t)
	other, _ := newTestKeychain(t)
	it := password("alice", "mail", "x")
	mustAdd(t, other, it)

	it.SetData([]byte("y"))
	if err := k.Update(it); !errors.Is(err, ErrInvalidItemRef) {
		t.Errorf("expected ErrInvalidItemRef, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	k, h := newTestKeychain(t)
	it := password("alice", "mail", "x")
	key := mustAdd(t, k, it)

	if err := k.Delete(it); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if it.IsPersistent() {
		t.Error("expected deleted item to be floating")
	}
	if it.PrimaryKey() != key {
		t.Error("expected deleted item to keep its key")
	}
	if _, ok := k.Lookup(key); ok {
		t.Error("expected key to be gone from the cache")
	}
	if _, err := k.Item(key); !errors.Is(err, ErrInvalidItemRef) {
		t.Errorf("expected ErrInvalidItemRef, got %v", err)
	}
	last := h.Last(1)[0]
	if last.Kind != events.KindDelete || last.Key != key {
		t.Errorf("unexpected event %+v", last)
	}

	// A deleted item can be added again.
	if err := k.Add(it); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
}

func TestDidDelete(t *testing.T) {
	k, h := newTestKeychain(t)
	it := password("alice", "mail", "x")
	key := mustAdd(t, k, it)

	if err := k.Store().Delete(it.UniqueID()); err != nil {
		t.Fatalf("store Delete: %v", err)
	}
	k.DidDelete(key)

	if it.IsPersistent() {
		t.Error("expected item to be floating")
	}
	if _, ok := k.Lookup(key); ok {
		t.Error("expected key to be gone from the cache")
	}
	if h.Last(1)[0].Kind != events.KindDelete {
		t.Errorf("expected delete event, got %v", h.Kinds())
	}
}

func TestBatchFlushInOrder(t *testing.T) {
	k, h := newTestKeychain(t)

	k.SetBatchMode(true, false)
	if !k.Batching() {
		t.Fatal("expected batching")
	}
	a := password("alice", "mail", "x")
	b := password("bob", "mail", "y")
	keyA := mustAdd(t, k, a)
	mustAdd(t, k, b)
	if err := k.Delete(a); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if !kindsEqual(h.Kinds(), []events.Kind{events.KindEnterBatch}) {
		t.Fatalf("expected only enter_batch while batching, got %v", h.Kinds())
	}

	k.SetBatchMode(false, false)
	want := []events.Kind{
		events.KindEnterBatch,
		events.KindAdd,
		events.KindAdd,
		events.KindDelete,
		events.KindLeaveBatch,
	}
	if !kindsEqual(h.Kinds(), want) {
		t.Fatalf("expected %v, got %v", want, h.Kinds())
	}
	if e := h.Events()[3]; e.Key != keyA {
		t.Errorf("expected delete event to carry %s, got %s", keyA, e.Key)
	}
	if k.Batching() {
		t.Error("expected batching to be off")
	}
}

func TestBatchResolvesKeyAtFlush(t *testing.T) {
	k, h := newTestKeychain(t)
	it := password("alice", "mail", "x")
	mustAdd(t, k, it)

	k.SetBatchMode(true, false)
	it.SetAttribute(store.AttrAccount, []byte("bob"))
	if err := k.Update(it); err != nil {
		t.Fatalf("Update: %v", err)
	}
	it.SetAttribute(store.AttrAccount, []byte("carol"))
	if err := k.Update(it); err != nil {
		t.Fatalf("Update: %v", err)
	}
	k.SetBatchMode(false, false)

	final := it.PrimaryKey()
	evs := h.Events()
	for _, e := range evs[2:4] {
		if e.Kind != events.KindUpdate || e.Key != final {
			t.Errorf("expected update of %s, got %+v", final, e)
		}
	}
}

func TestBatchRollback(t *testing.T) {
	k, h := newTestKeychain(t)

	k.SetBatchMode(true, false)
	mustAdd(t, k, password("alice", "mail", "x"))
	k.SetBatchMode(false, true)

	want := []events.Kind{events.KindEnterBatch, events.KindLeaveBatch}
	if !kindsEqual(h.Kinds(), want) {
		t.Errorf("expected %v, got %v", want, h.Kinds())
	}

	// Rolled back events are not posted by a later flush either.
	k.SetBatchMode(true, false)
	k.SetBatchMode(false, false)
	want = append(want, events.KindEnterBatch, events.KindLeaveBatch)
	if !kindsEqual(h.Kinds(), want) {
		t.Errorf("expected %v, got %v", want, h.Kinds())
	}
}

func TestBatchBuffersUncachedDidDelete(t *testing.T) {
	k, h := newTestKeychain(t)
	it := password("alice", "mail", "x")
	key := mustAdd(t, k, it)
	k.Release(it)
	h.Reset()

	k.SetBatchMode(true, false)
	k.DidDelete(key)
	k.SetBatchMode(false, true)

	want := []events.Kind{events.KindEnterBatch, events.KindLeaveBatch}
	if !kindsEqual(h.Kinds(), want) {
		t.Fatalf("expected %v after rollback, got %v", want, h.Kinds())
	}

	h.Reset()
	k.SetBatchMode(true, false)
	k.DidDelete(key)
	if !kindsEqual(h.Kinds(), []events.Kind{events.KindEnterBatch}) {
		t.Fatalf("expected delete to be buffered, got %v", h.Kinds())
	}
	k.SetBatchMode(false, false)

	want = []events.Kind{events.KindEnterBatch, events.KindDelete, events.KindLeaveBatch}
	if !kindsEqual(h.Kinds(), want) {
		t.Fatalf("expected %v, got %v", want, h.Kinds())
	}
	if e := h.Events()[1]; e.Key != key {
		t.Errorf("expected delete event to carry %s, got %s", key, e.Key)
	}
}

func TestBatchReenter(t *testing.T) {
	k, h := newTestKeychain(t)

	k.SetBatchMode(true, false)
	k.SetBatchMode(true, false)

	want := []events.Kind{events.KindEnterBatch, events.KindEnterBatch}
	if !kindsEqual(h.Kinds(), want) {
		t.Errorf("expected %v, got %v", want, h.Kinds())
	}
	if !k.Batching() {
		t.Error("expected batching")
	}
}

func TestLockUnlockEvents(t *testing.T) {
	k, h := newTestKeychain(t)

	k.Lock()
	if !k.IsLocked() {
		t.Error("expected locked")
	}
	k.Unlock()
	if k.IsLocked() {
		t.Error("expected unlocked")
	}

	want := []events.Kind{events.KindLock, events.KindUnlock}
	if !kindsEqual(h.Kinds(), want) {
		t.Errorf("expected %v, got %v", want, h.Kinds())
	}
}

func TestNotifierMayReenter(t *testing.T) {
	var k *Keychain
	var seen []*Item
	n := events.NotifierFunc(func(e events.Event) {
		if e.Kind != events.KindAdd {
			return
		}
		it, ok := k.Lookup(e.Key)
		if !ok {
			return
		}
		seen = append(seen, it)
		k.SetBatchMode(false, false)
	})
	k, _ = newTestKeychain(t, WithNotifier(n))

	it := password("alice", "mail", "x")
	mustAdd(t, k, it)

	if len(seen) != 1 || seen[0] != it {
		t.Errorf("expected notifier to see the added item, got %v", seen)
	}
}

func TestConstructionLockHeldForNewItems(t *testing.T) {
	reg := &fakeRegistry{}
	k, _ := newTestKeychain(t, WithRegistry(reg))
	key := mustAdd(t, k, password("alice", "mail", "x"))
	if n := reg.locks.Load(); n != 0 {
		t.Fatalf("expected Add not to construct through the registry, got %d", n)
	}

	k.Purge()
	if _, err := k.Item(key); err != nil {
		t.Fatalf("Item: %v", err)
	}
	if n := reg.locks.Load(); n != 1 {
		t.Errorf("expected 1 construction lock, got %d", n)
	}

	if _, err := k.Item(key); err != nil {
		t.Fatalf("Item: %v", err)
	}
	if n := reg.locks.Load(); n != 1 {
		t.Errorf("expected cache hit without construction, got %d locks", n)
	}
}

// lockWatchingStore records whether the registry's construction lock was
// held when a cursor was opened.
type lockWatchingStore struct {
	store.Store
	reg      *fakeRegistry
	heldByIO atomic.Bool
}

func (s *lockWatchingStore) Cursor(q store.Query) (store.Cursor, error) {
	if s.reg.mu.TryLock() {
		s.reg.mu.Unlock()
	} else {
		s.heldByIO.Store(true)
	}
	return s.Store.Cursor(q)
}

func TestConstructionLockReleasedBeforeLoad(t *testing.T) {
	mem := store.NewMemoryStore("login")
	if err := mem.Create(store.StandardRelations()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg := &fakeRegistry{}
	s := &lockWatchingStore{Store: mem, reg: reg}
	k := New(ID{Name: "login", Module: "memory"}, s, WithRegistry(reg))
	key := mustAdd(t, k, password("alice", "mail", "x"))

	k.Purge()
	if _, err := k.Item(key); err != nil {
		t.Fatalf("Item: %v", err)
	}
	if reg.locks.Load() != 1 {
		t.Fatalf("expected 1 construction lock, got %d", reg.locks.Load())
	}
	if s.heldByIO.Load() {
		t.Error("expected the construction lock to be released before reading the store")
	}
}

func TestCloseRemovesFromRegistry(t *testing.T) {
	reg := &fakeRegistry{}
	k, _ := newTestKeychain(t, WithRegistry(reg))
	it := password("alice", "mail", "x")
	key := mustAdd(t, k, it)

	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if len(reg.removed) != 1 || reg.removed[0] != k.ID() {
		t.Errorf("expected one RemoveKeychain call, got %v", reg.removed)
	}
	if k.Cached(it) {
		t.Error("expected cache to be purged")
	}
	if _, err := k.Item(key); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := k.Add(password("bob", "mail", "y")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPrimaryKeyForNewRelation(t *testing.T) {
	k, _ := newTestKeychain(t)
	if _, err := k.Schema(); err != nil {
		t.Fatalf("Schema: %v", err)
	}

	const custom store.RecordType = 0x80001234
	info := store.RelationInfo{
		Type: custom,
		Name: "custom",
		Attributes: []store.AttributeInfo{
			{ID: "name", Name: "Name", Format: store.FormatString},
		},
		Indexes: []store.IndexInfo{{Attribute: "name", Unique: true}},
	}
	// Created behind the keychain's back: the cached schema is stale.
	if err := k.Store().CreateRelation(info); err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}

	key, err := k.PrimaryKeyFor(custom, store.Attributes{"name": []byte("x")})
	if err != nil {
		t.Fatalf("PrimaryKeyFor: %v", err)
	}
	if key.Type() != custom {
		t.Errorf("expected key of %s, got %s", custom, key.Type())
	}
}

func TestHasRecordTypeUsesCachedSchema(t *testing.T) {
	mem := store.NewMemoryStore("bare")
	if err := mem.Create([]store.RelationInfo{store.GenericPasswordRelation()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	cs := store.NewCountingStore(mem)
	k := New(ID{Name: "bare", Module: "memory"}, cs)

	for range 3 {
		ok, err := k.HasRecordType(store.UnlockReferral)
		if err != nil {
			t.Fatalf("HasRecordType: %v", err)
		}
		if ok {
			t.Fatal("expected unlock referrals to be unknown")
		}
	}
	builds := cs.Cursors(store.SchemaInfo)
	if builds != 1 {
		t.Errorf("expected one schema build, got %d", builds)
	}

	if err := mem.CreateRelation(store.UnlockReferralRelation()); err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}
	k.InvalidateSchema()
	ok, err := k.HasRecordType(store.UnlockReferral)
	if err != nil {
		t.Fatalf("HasRecordType: %v", err)
	}
	if !ok {
		t.Error("expected the rebuilt schema to know unlock referrals")
	}
}

func TestCreateRelationUpdatesSchema(t *testing.T) {
	k, _ := newTestKeychain(t)
	c, err := k.Schema()
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}

	const custom store.RecordType = 0x80001235
	err = k.CreateRelation(store.RelationInfo{
		Type:       custom,
		Name:       "custom",
		Attributes: []store.AttributeInfo{{ID: "name", Name: "Name", Format: store.FormatString}},
		Indexes:    []store.IndexInfo{{Attribute: "name", Unique: true}},
	})
	if err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}
	if !c.HasRecordType(custom) {
		t.Error("expected cached schema to know the new relation")
	}
}

func TestItemsAndSearchCursor(t *testing.T) {
	k1, _ := newTestKeychain(t)
	k2, _ := newTestKeychain(t)
	mustAdd(t, k1, password("alice", "mail", "1"))
	mustAdd(t, k1, password("alice", "chat", "2"))
	mustAdd(t, k2, password("alice", "mail", "3"))
	mustAdd(t, k2, password("bob", "mail", "4"))

	items, err := k1.Items(store.NewQuery(store.GenericPassword))
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	q := store.NewQuery(store.GenericPassword).Where(store.AttrService, []byte("mail"))
	cur := NewSearchCursor([]*Keychain{k1, k2}, q)
	defer cur.Close()
	var secrets []string
	for {
		it, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		secrets = append(secrets, string(it.Data()))
	}
	if len(secrets) != 3 || secrets[0] != "1" || secrets[1] != "3" || secrets[2] != "4" {
		t.Errorf("expected [1 3 4], got %v", secrets)
	}
}

func TestSearchCursorReturnsCachedItems(t *testing.T) {
	k, _ := newTestKeychain(t)
	it := password("alice", "mail", "x")
	mustAdd(t, k, it)

	items, err := k.Items(store.NewQuery(store.GenericPassword))
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 1 || items[0] != it {
		t.Error("expected search to return the cached item")
	}
}

func TestSearchCursorSkipsUnknownRelation(t *testing.T) {
	bare := store.NewMemoryStore("bare")
	if err := bare.Create([]store.RelationInfo{store.GenericPasswordRelation()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	k1 := New(ID{Name: "bare", Module: "memory"}, bare)
	k2, _ := newTestKeychain(t)
	key := NewItem(store.SymmetricKey, store.Attributes{
		store.AttrKeyLabel: []byte("label"),
	}, []byte("material"))
	mustAdd(t, k2, key)

	cur := NewSearchCursor([]*Keychain{k1, k2}, store.NewQuery(store.SymmetricKey))
	defer cur.Close()
	it, ok, err := cur.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok || it != key {
		t.Fatal("expected the key from the second keychain")
	}
	if _, ok, _ := cur.Next(); ok {
		t.Error("expected end of search")
	}
}

func TestSearchCursorSkipsFailingKeychain(t *testing.T) {
	broken, _ := newTestKeychain(t)
	mustAdd(t, broken, password("alice", "mail", "lost"))
	if err := broken.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	k, _ := newTestKeychain(t)
	it := password("alice", "mail", "x")
	mustAdd(t, k, it)

	cur := NewSearchCursor([]*Keychain{broken, k}, store.NewQuery(store.GenericPassword))
	defer cur.Close()
	got, ok, err := cur.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok || got != it {
		t.Fatal("expected the item of the working keychain")
	}
	if _, ok, _ := cur.Next(); ok {
		t.Error("expected end of search")
	}

	if _, err := broken.Items(store.NewQuery(store.GenericPassword)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Items, got %v", err)
	}
}

func TestItemVariants(t *testing.T) {
	tests := []struct {
		rt   store.RecordType
		want string
	}{
		{store.GenericPassword, "generic"},
		{store.InternetPassword, "generic"},
		{store.Certificate, "certificate"},
		{store.PrivateKey, "key"},
		{store.ExtendedAttribute, "extended-attribute"},
	}
	for _, tt := range tests {
		if got := NewItem(tt.rt, nil, nil).Variant().Kind(); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.rt, tt.want, got)
		}
	}
	if v := NewItem(store.SymmetricKey, nil, nil).Variant().(KeyRecord); v.Class != KeyClassSymmetric {
		t.Errorf("expected symmetric key class, got %s", v.Class)
	}
}

func TestItemCopyIsFloating(t *testing.T) {
	k, _ := newTestKeychain(t)
	it := password("alice", "mail", "x")
	mustAdd(t, k, it)

	cp := it.Copy()
	if cp.IsPersistent() {
		t.Error("expected copy to be floating")
	}
	if string(cp.Data()) != "x" {
		t.Errorf("expected copied payload, got %q", cp.Data())
	}
	cp.SetAttribute(store.AttrService, []byte("chat"))
	if err := k.Add(cp); err != nil {
		t.Fatalf("Add copy: %v", err)
	}
}

func TestReadDataPostsAccess(t *testing.T) {
	k, h := newTestKeychain(t)
	it := password("alice", "mail", "hunter2")
	key := mustAdd(t, k, it)

	data, err := k.ReadData(it)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if string(data) != "hunter2" {
		t.Errorf("expected hunter2, got %q", data)
	}
	last := h.Last(1)[0]
	if last.Kind != events.KindDataAccess || last.Key != key {
		t.Errorf("unexpected event %+v", last)
	}

	if _, err := k.ReadData(password("bob", "mail", "x")); !errors.Is(err, ErrInvalidItemRef) {
		t.Errorf("expected ErrInvalidItemRef for a floating item, got %v", err)
	}
}
