package keychain

import (
	"errors"
	"fmt"

	"github.com/benaskins/keycache/internal/store"
)

// Lookup returns the cached item for key. An entry whose membership flag has
// been cleared is dropped and reported as a miss.
func (k *Keychain) Lookup(key store.PrimaryKey) (*Item, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lookupLocked(key)
}

func (k *Keychain) lookupLocked(key store.PrimaryKey) (*Item, bool) {
	it, ok := k.items[key]
	if !ok {
		return nil, false
	}
	if !it.inCache {
		delete(k.items, key)
		return nil, false
	}
	return it, true
}

// BindNew runs loader without holding the keychain mutex and registers the
// item it returns under key. If another goroutine registered an item for key
// while loader ran, the new item is discarded and ErrDuplicateItem returned.
func (k *Keychain) BindNew(key store.PrimaryKey, loader func() (*Item, error)) (*Item, error) {
	it, err := loader()
	if err != nil {
		return nil, err
	}
	if err := k.Register(key, it); err != nil {
		return nil, err
	}
	return it, nil
}

// Register caches it under key and marks it a cache member. It fails with
// ErrDuplicateItem if a live entry already exists.
func (k *Keychain) Register(key store.PrimaryKey, it *Item) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.registerLocked(key, it)
}

func (k *Keychain) registerLocked(key store.PrimaryKey, it *Item) error {
	if existing, ok := k.lookupLocked(key); ok {
		if existing == it {
			return nil
		}
		return fmt.Errorf("%w: %s in %s", ErrDuplicateItem, key, k.id)
	}
	k.items[key] = it
	it.inCache = true
	return nil
}

// Remove drops the entry for key if it points at it, and clears the item's
// membership flag. Removing twice is harmless.
func (k *Keychain) Remove(key store.PrimaryKey, it *Item) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeLocked(key, it)
}

func (k *Keychain) removeLocked(key store.PrimaryKey, it *Item) {
	if cur, ok := k.items[key]; ok && cur == it {
		delete(k.items, key)
	}
	it.inCache = false
}

// CompleteAdd registers an item that was just inserted into the store. Losing
// a registration race is not an error: the other goroutine's item stays
// cached and it is left out of the cache.
func (k *Keychain) CompleteAdd(it *Item, key store.PrimaryKey) {
	k.mu.Lock()
	err := k.registerLocked(key, it)
	if err != nil {
		it.inCache = false
	}
	k.mu.Unlock()

	if err != nil {
		k.logRace("add", key)
	}
}

// DidUpdate moves it from oldKey to newKey after a modification changed its
// primary key. A losing race on newKey is tolerated as in CompleteAdd.
func (k *Keychain) DidUpdate(it *Item, oldKey, newKey store.PrimaryKey) {
	if oldKey == newKey {
		return
	}

	k.mu.Lock()
	if cur, ok := k.items[oldKey]; ok && cur == it {
		delete(k.items, oldKey)
	}
	err := k.registerLocked(newKey, it)
	if err != nil {
		it.inCache = false
	}
	k.mu.Unlock()

	if err != nil {
		k.logRace("update", newKey)
	}
}

func (k *Keychain) logRace(op string, key store.PrimaryKey) {
	k.raceLog.Do(func() {
		k.logger.Warn("lost item cache registration race", "op", op, "key", key.String())
	})
}

// Release drops it from the cache. The item stays valid; a later lookup of
// the same record creates a new Item.
func (k *Keychain) Release(it *Item) {
	k.Remove(it.PrimaryKey(), it)
}

// Purge drops every cached item.
func (k *Keychain) Purge() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.purgeLocked()
}

func (k *Keychain) purgeLocked() {
	for key, it := range k.items {
		it.inCache = false
		delete(k.items, key)
	}
}

// CacheLen returns the number of cached items.
func (k *Keychain) CacheLen() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.items)
}

// Cached reports whether it is the cache member for its key.
func (k *Keychain) Cached(it *Item) bool {
	key := it.PrimaryKey()
	k.mu.Lock()
	defer k.mu.Unlock()
	cur, ok := k.items[key]
	return ok && cur == it && it.inCache
}

// retrieve checks the cache and constructs on a miss. A registration race
// lost while load ran is retried against the cache once.
func (k *Keychain) retrieve(key store.PrimaryKey, load func(*Item) error) (*Item, error) {
	if it, ok := k.Lookup(key); ok {
		return it, nil
	}
	shell, hit := k.newShell(key)
	if hit {
		return shell, nil
	}
	it, err := k.BindNew(key, func() (*Item, error) {
		if err := load(shell); err != nil {
			return nil, err
		}
		return shell, nil
	})
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, ErrDuplicateItem) {
		return nil, err
	}
	if it, ok := k.Lookup(key); ok {
		return it, nil
	}
	return nil, fmt.Errorf("%w: %s reported duplicate but is not cached", ErrInternal, key)
}

// newShell holds the registry's construction lock while it checks the cache
// again and creates an empty item for key. The lock is released before the
// item is loaded. hit is true if that check found a cached item.
func (k *Keychain) newShell(key store.PrimaryKey) (it *Item, hit bool) {
	if k.registry != nil {
		l := k.registry.ConstructionLock()
		l.Lock()
		defer l.Unlock()
	}
	if it, ok := k.Lookup(key); ok {
		return it, true
	}
	return &Item{variant: variantFor(key.Type()), rt: key.Type()}, false
}

// Item returns the item for key, loading it from the store on a cache miss.
func (k *Keychain) Item(key store.PrimaryKey) (*Item, error) {
	if err := k.checkOpen(); err != nil {
		return nil, err
	}
	return k.retrieve(key, func(it *Item) error {
		rec, err := k.findRecord(key)
		if err != nil {
			return err
		}
		it.bind(k, key, rec)
		return nil
	})
}

// ItemForRecord returns the item for a record read from this keychain's
// store, reusing the cached item when there is one.
func (k *Keychain) ItemForRecord(rec store.Record) (*Item, error) {
	if err := k.checkOpen(); err != nil {
		return nil, err
	}
	key, err := k.PrimaryKeyFor(rec.Type, rec.Attrs)
	if err != nil {
		return nil, err
	}
	return k.retrieve(key, func(it *Item) error {
		it.bind(k, key, rec)
		return nil
	})
}

// findRecord looks the record for key up in the store.
func (k *Keychain) findRecord(key store.PrimaryKey) (store.Record, error) {
	rt := key.Type()
	q := store.NewQuery(rt)
	ids, err := k.primaryKeyIDs(rt)
	if err != nil {
		return store.Record{}, err
	}
	vals, err := key.Values(ids)
	if err != nil {
		return store.Record{}, fmt.Errorf("%w: %v", ErrInvalidItemRef, err)
	}
	for _, id := range ids {
		q = q.Where(id, vals[id])
	}

	cur, err := k.store.Cursor(q)
	if err != nil {
		return store.Record{}, fmt.Errorf("find %s in %s: %w", key, k.id, err)
	}
	defer cur.Close()
	rec, ok, err := cur.Next()
	if err != nil {
		return store.Record{}, fmt.Errorf("find %s in %s: %w", key, k.id, err)
	}
	if !ok {
		return store.Record{}, fmt.Errorf("%w: %s not in %s", ErrInvalidItemRef, key, k.id)
	}
	return rec, nil
}
