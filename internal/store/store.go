// Package store defines the attributed-record store that keychains sit on.
//
// A store holds typed records. Each record has a record type, a set of
// attributes keyed by four-character codes, an optional opaque payload and a
// store-assigned unique handle. The set of record types ("relations") and
// their attributes and indexes is itself kept in reserved schema relations
// that can be enumerated with ordinary cursors.
package store

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNoSuchClass is returned when a record type is not known.
	ErrNoSuchClass = errors.New("no such record class")
	// ErrInvalidRecordType is returned by a store for operations on a
	// relation it does not have.
	ErrInvalidRecordType = errors.New("invalid record type")
	// ErrNoSuchAttribute is returned when a record type is known but the
	// attribute is not part of it.
	ErrNoSuchAttribute = errors.New("no such attribute")
	// ErrRecordNotFound is returned when a unique handle does not name a record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateRecord is returned when an insert or modify would violate a
	// unique index.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("store closed")
	// ErrInvalidQuery is returned for a malformed query.
	ErrInvalidQuery = errors.New("invalid query")
)

// UniqueID is the store-assigned handle of one persisted record.
type UniqueID string

// NewUniqueID returns a fresh random handle.
func NewUniqueID() UniqueID {
	return UniqueID(uuid.NewString())
}

// Record is one persisted record as returned by a cursor or Get.
type Record struct {
	Type    RecordType
	ID      UniqueID
	Attrs   Attributes
	Payload []byte
}

// ModifyMode controls how Modify combines new attributes with the stored ones.
type ModifyMode int

const (
	// ModifyMerge overwrites the given attributes and keeps the others.
	ModifyMerge ModifyMode = iota
	// ModifyReplace discards every stored attribute not given.
	ModifyReplace
)

// Store is the attributed-record backend of one keychain.
//
// Implementations must be safe for concurrent use. Calls may block on the
// underlying storage.
type Store interface {
	// Name is the database name of the store, unique within a module.
	Name() string
	// Create initialises an empty store with the given relations.
	Create(relations []RelationInfo) error
	// CreateRelation adds one relation to an existing store.
	CreateRelation(info RelationInfo) error
	Insert(rt RecordType, attrs Attributes, payload []byte) (UniqueID, error)
	// Modify updates a record. A nil payload leaves the stored payload as is.
	Modify(rt RecordType, id UniqueID, attrs Attributes, payload []byte, mode ModifyMode) error
	Delete(id UniqueID) error
	Get(id UniqueID) (Record, error)
	// Cursor returns the records matching q in insertion order.
	Cursor(q Query) (Cursor, error)
	Close() error
}

// Cursor iterates the records matching a query.
type Cursor interface {
	// Next returns the next record. ok is false once the cursor is exhausted.
	Next() (rec Record, ok bool, err error)
	Close() error
}

// Predicate matches records whose attribute equals Value.
type Predicate struct {
	Attr  AttrID
	Value []byte
}

// Query selects records of one type matching every predicate.
type Query struct {
	Type       RecordType
	Predicates []Predicate
}

// NewQuery returns a query for every record of type rt.
func NewQuery(rt RecordType) Query {
	return Query{Type: rt}
}

// Where returns a copy of q with an extra equality predicate.
func (q Query) Where(attr AttrID, value []byte) Query {
	preds := make([]Predicate, len(q.Predicates), len(q.Predicates)+1)
	copy(preds, q.Predicates)
	q.Predicates = append(preds, Predicate{Attr: attr, Value: value})
	return q
}

// Matches reports whether attrs satisfies every predicate of q. An absent
// attribute matches an empty value, as in primary keys.
func (q Query) Matches(attrs Attributes) bool {
	for _, p := range q.Predicates {
		if string(attrs[p.Attr]) != string(p.Value) {
			return false
		}
	}
	return true
}

// Collect drains c and closes it.
func Collect(c Cursor) ([]Record, error) {
	defer c.Close()
	var out []Record
	for {
		rec, ok, err := c.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, rec)
	}
}

// sliceCursor iterates a snapshot of records.
type sliceCursor struct {
	records []Record
	pos     int
	closed  bool
}

func (c *sliceCursor) Next() (Record, bool, error) {
	if c.closed {
		return Record{}, false, ErrStoreClosed
	}
	if c.pos >= len(c.records) {
		return Record{}, false, nil
	}
	rec := c.records[c.pos]
	c.pos++
	return rec, true, nil
}

func (c *sliceCursor) Close() error {
	c.closed = true
	return nil
}
