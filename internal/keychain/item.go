package keychain

import (
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/benaskins/keycache/internal/store"
)

// Item is the in-memory representation of one persisted, or about to be
// persisted, record.
//
// An item is floating until Keychain.Add succeeds. A keychain holds at most
// one Item per primary key in its cache, so two lookups of the same record
// return the same *Item.
type Item struct {
	variant Variant

	mu       sync.Mutex
	rt       store.RecordType
	keychain *Keychain
	key      store.PrimaryKey
	id       store.UniqueID
	attrs    store.Attributes
	payload  []byte
	pending  store.Attributes // modified since the last Add/Update
	newData  []byte

	// inCache is guarded by the owning keychain's mutex, never by mu.
	inCache bool
}

// NewItem creates a floating item of type rt. The item is not bound to any
// keychain until it is added to one.
func NewItem(rt store.RecordType, attrs store.Attributes, payload []byte) *Item {
	return &Item{
		variant: variantFor(rt),
		rt:      rt,
		attrs:   attrs.Clone(),
		payload: append([]byte(nil), payload...),
	}
}

// Type returns the record type of the item.
func (it *Item) Type() store.RecordType { return it.rt }

// Variant returns the record-kind specific part of the item.
func (it *Item) Variant() Variant { return it.variant }

// Keychain returns the keychain the item is persisted in, or nil while it is
// floating.
func (it *Item) Keychain() *Keychain {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.keychain
}

// PrimaryKey returns the item's key. It is zero until the item is first
// persisted and keeps its last value after a delete.
func (it *Item) PrimaryKey() store.PrimaryKey {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.key
}

// UniqueID returns the store handle, or "" while floating.
func (it *Item) UniqueID() store.UniqueID {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.id
}

// IsPersistent reports whether the item is stored in a keychain.
func (it *Item) IsPersistent() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.keychain != nil
}

// Attributes returns the item's attributes including unsaved modifications.
func (it *Item) Attributes() store.Attributes {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.attrs.Merge(it.pending)
}

// Attribute returns one attribute value and whether it is set.
func (it *Item) Attribute(id store.AttrID) ([]byte, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if v, ok := it.pending[id]; ok {
		return append([]byte(nil), v...), true
	}
	v, ok := it.attrs[id]
	return append([]byte(nil), v...), ok
}

// Data returns the item's payload including an unsaved replacement.
func (it *Item) Data() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.newData != nil {
		return append([]byte(nil), it.newData...)
	}
	return append([]byte(nil), it.payload...)
}

// SetAttribute records a modification. Persistent items keep it pending
// until Keychain.Update.
func (it *Item) SetAttribute(id store.AttrID, value []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.keychain == nil {
		if it.attrs == nil {
			it.attrs = make(store.Attributes)
		}
		it.attrs[id] = append([]byte(nil), value...)
		return
	}
	if it.pending == nil {
		it.pending = make(store.Attributes)
	}
	it.pending[id] = append([]byte(nil), value...)
}

// SetData replaces the payload, pending until Keychain.Update for persistent
// items.
func (it *Item) SetData(data []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.keychain == nil {
		it.payload = append([]byte(nil), data...)
		return
	}
	it.newData = append([]byte{}, data...)
}

// Modified reports whether the item has unsaved modifications.
func (it *Item) Modified() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.pending) > 0 || it.newData != nil
}

// Copy returns a floating item with the same type, attributes and payload.
func (it *Item) Copy() *Item {
	return NewItem(it.rt, it.Attributes(), it.Data())
}

// Certificate parses the payload of a certificate item.
func (it *Item) Certificate() (*x509.Certificate, error) {
	if _, ok := it.variant.(CertificateRecord); !ok {
		return nil, fmt.Errorf("%w: %s is not a certificate", ErrInvalidItemRef, it.rt)
	}
	cert, err := x509.ParseCertificate(it.Data())
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

func (it *Item) String() string {
	return fmt.Sprintf("%s %s", it.rt, it.PrimaryKey())
}

// bind marks the item as persisted in k under key and id with the stored
// attributes and payload.
func (it *Item) bind(k *Keychain, key store.PrimaryKey, rec store.Record) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.keychain = k
	it.key = key
	it.id = rec.ID
	it.attrs = rec.Attrs.Clone()
	it.payload = append([]byte(nil), rec.Payload...)
	it.pending = nil
	it.newData = nil
}

// unbind makes the item floating again, keeping its last known key and
// attributes so it can be re-added.
func (it *Item) unbind() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.attrs = it.attrs.Merge(it.pending)
	if it.newData != nil {
		it.payload = it.newData
	}
	it.pending = nil
	it.newData = nil
	it.keychain = nil
	it.id = ""
}

// changes returns what Update has to write.
func (it *Item) changes() (k *Keychain, id store.UniqueID, attrs store.Attributes, payload []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.keychain, it.id, it.pending.Clone(), it.newData
}
