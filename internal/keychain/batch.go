package keychain

import (
	"github.com/benaskins/keycache/internal/events"
	"github.com/benaskins/keycache/internal/store"
)

// SetBatchMode switches change notifications between immediate posting and
// buffering.
//
// Entering batch mode posts an enter-batch event right away; entering again
// while batching only repeats that event. Leaving posts every buffered event
// in the order it was buffered, then a leave-batch event. With rollback set
// the buffered events are dropped instead, and only leave-batch is posted.
func (k *Keychain) SetBatchMode(on, rollback bool) {
	if on {
		k.mu.Lock()
		k.batching = true
		k.mu.Unlock()
		k.post(events.KindEnterBatch, store.PrimaryKey{})
		return
	}

	k.mu.Lock()
	buffered := k.pending
	k.pending = nil
	k.batching = false
	k.mu.Unlock()

	if !rollback {
		for _, pe := range buffered {
			key := pe.key
			if pe.item != nil {
				key = pe.item.PrimaryKey()
			}
			k.post(pe.kind, key)
		}
	}
	k.post(events.KindLeaveBatch, store.PrimaryKey{})
}

// Batching reports whether the keychain is in batch mode.
func (k *Keychain) Batching() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.batching
}

// notify posts an event about it, or buffers it in batch mode. The item's key
// is resolved when the event is actually posted.
func (k *Keychain) notify(kind events.Kind, it *Item) {
	k.mu.Lock()
	if k.batching {
		k.pending = append(k.pending, pendingEvent{kind: kind, item: it})
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()
	k.post(kind, keyOf(it))
}

// notifyKey is notify for an event that names a record by key only.
func (k *Keychain) notifyKey(kind events.Kind, key store.PrimaryKey) {
	k.mu.Lock()
	if k.batching {
		k.pending = append(k.pending, pendingEvent{kind: kind, key: key})
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()
	k.post(kind, key)
}

func (k *Keychain) post(kind events.Kind, key store.PrimaryKey) {
	k.notifier.Post(events.Event{Kind: kind, Keychain: k.id.String(), Key: key})
}

func keyOf(it *Item) store.PrimaryKey {
	if it == nil {
		return store.PrimaryKey{}
	}
	return it.PrimaryKey()
}
