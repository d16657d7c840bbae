package keychain

import (
	"errors"
	"fmt"

	"github.com/benaskins/keycache/internal/events"
	"github.com/benaskins/keycache/internal/store"
)

// Add inserts a floating item into the keychain, registers it in the cache
// and posts an add event.
func (k *Keychain) Add(it *Item) error {
	if err := k.checkOpen(); err != nil {
		return err
	}
	if it.IsPersistent() {
		return fmt.Errorf("%w: item already belongs to %s", ErrInvalidItemRef, it.Keychain())
	}

	attrs := it.Attributes()
	payload := it.Data()
	key, err := k.PrimaryKeyFor(it.rt, attrs)
	if err != nil {
		return err
	}

	id, err := k.store.Insert(it.rt, attrs, payload)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRecord) {
			return fmt.Errorf("%w: %s in %s", ErrDuplicateItem, key, k.id)
		}
		return fmt.Errorf("add %s to %s: %w", it.rt, k.id, err)
	}

	it.bind(k, key, store.Record{Type: it.rt, ID: id, Attrs: attrs, Payload: payload})
	k.CompleteAdd(it, key)
	k.notify(events.KindAdd, it)
	return nil
}

// Update writes an item's pending modifications to the store. If the primary
// key changed, the cache entry moves with it.
func (k *Keychain) Update(it *Item) error {
	if err := k.checkOpen(); err != nil {
		return err
	}
	owner, id, attrs, payload := it.changes()
	if owner != k {
		return fmt.Errorf("%w: item is not in %s", ErrInvalidItemRef, k.id)
	}
	if len(attrs) == 0 && payload == nil {
		return nil
	}

	if err := k.store.Modify(it.rt, id, attrs, payload, store.ModifyMerge); err != nil {
		if errors.Is(err, store.ErrDuplicateRecord) {
			return fmt.Errorf("%w: update would duplicate a record in %s", ErrDuplicateItem, k.id)
		}
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: %v", ErrInvalidItemRef, err)
		}
		return fmt.Errorf("update %s in %s: %w", it.rt, k.id, err)
	}
	rec, err := k.store.Get(id)
	if err != nil {
		return fmt.Errorf("reread %s in %s: %w", id, k.id, err)
	}

	oldKey := it.PrimaryKey()
	newKey, err := k.PrimaryKeyFor(it.rt, rec.Attrs)
	if err != nil {
		return err
	}
	it.bind(k, newKey, rec)
	k.DidUpdate(it, oldKey, newKey)

	kind := events.KindUpdate
	if payload != nil && it.rt.IsPassword() {
		kind = events.KindPasswordChanged
	}
	k.notify(kind, it)
	return nil
}

// Delete removes an item from the store and the cache. The item becomes
// floating again and keeps its attributes.
func (k *Keychain) Delete(it *Item) error {
	if err := k.checkOpen(); err != nil {
		return err
	}
	owner, id, _, _ := it.changes()
	if owner != k {
		return fmt.Errorf("%w: item is not in %s", ErrInvalidItemRef, k.id)
	}

	if err := k.store.Delete(id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			k.Remove(it.PrimaryKey(), it)
			it.unbind()
			return fmt.Errorf("%w: %v", ErrInvalidItemRef, err)
		}
		return fmt.Errorf("delete %s from %s: %w", it.rt, k.id, err)
	}

	k.Remove(it.PrimaryKey(), it)
	it.unbind()
	k.notify(events.KindDelete, it)
	return nil
}

// DidDelete handles a deletion reported by the store rather than made
// through this keychain. The cached item, if any, becomes floating.
func (k *Keychain) DidDelete(key store.PrimaryKey) {
	it, ok := k.Lookup(key)
	if !ok {
		k.notifyKey(events.KindDelete, key)
		return
	}
	k.Remove(key, it)
	it.unbind()
	k.notify(events.KindDelete, it)
}

// Items returns every item matching q in this keychain.
func (k *Keychain) Items(q store.Query) ([]*Item, error) {
	if err := k.checkOpen(); err != nil {
		return nil, err
	}
	cur := NewSearchCursor([]*Keychain{k}, q)
	defer cur.Close()
	var out []*Item
	for {
		it, ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, it)
	}
}

// ReadData returns the payload of an item in k and posts a data-access event.
func (k *Keychain) ReadData(it *Item) ([]byte, error) {
	if err := k.checkOpen(); err != nil {
		return nil, err
	}
	if it.Keychain() != k {
		return nil, fmt.Errorf("%w: item is not in %s", ErrInvalidItemRef, k.id)
	}
	data := it.Data()
	k.notify(events.KindDataAccess, it)
	return data, nil
}
