package store

import (
	"fmt"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for testing and for
// keychains that do not need to outlive the process.
type MemoryStore struct {
	name    string
	catalog *catalog

	mu      sync.RWMutex
	closed  bool
	records map[UniqueID]*Record
	order   []UniqueID
	unique  map[RecordType]map[string]UniqueID
}

// NewMemoryStore creates an empty in-memory store. Call Create before use to
// add relations.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:    name,
		catalog: newCatalog(),
		records: make(map[UniqueID]*Record),
		unique:  make(map[RecordType]map[string]UniqueID),
	}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Create(relations []RelationInfo) error {
	for _, r := range relations {
		if err := s.CreateRelation(r); err != nil {
			return fmt.Errorf("memory store create: %w", err)
		}
	}
	return nil
}

func (s *MemoryStore) CreateRelation(info RelationInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if info.Type.IsSchema() {
		return fmt.Errorf("%w: %s is reserved", ErrInvalidRecordType, info.Type)
	}
	if s.catalog.has(info.Type) {
		return fmt.Errorf("%w: relation %s exists", ErrDuplicateRecord, info.Type)
	}
	for _, rec := range schemaRecords(info) {
		s.insertLocked(rec.Type, rec.Attrs, nil, nil)
	}
	s.catalog.add(info)
	return nil
}

func (s *MemoryStore) Insert(rt RecordType, attrs Attributes, payload []byte) (UniqueID, error) {
	info, err := s.catalog.validate(rt, attrs)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	uk := uniqueKey(info, attrs)
	if uk != nil {
		if _, taken := s.unique[rt][string(uk)]; taken {
			return "", fmt.Errorf("%w: %s", ErrDuplicateRecord, rt)
		}
	}
	return s.insertLocked(rt, attrs, payload, uk), nil
}

func (s *MemoryStore) insertLocked(rt RecordType, attrs Attributes, payload, uk []byte) UniqueID {
	id := NewUniqueID()
	s.records[id] = &Record{
		Type:    rt,
		ID:      id,
		Attrs:   attrs.Clone(),
		Payload: append([]byte(nil), payload...),
	}
	s.order = append(s.order, id)
	if uk != nil {
		if s.unique[rt] == nil {
			s.unique[rt] = make(map[string]UniqueID)
		}
		s.unique[rt][string(uk)] = id
	}
	return id
}

func (s *MemoryStore) Modify(rt RecordType, id UniqueID, attrs Attributes, payload []byte, mode ModifyMode) error {
	info, err := s.catalog.validate(rt, attrs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok || rec.Type != rt {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	next := attrs.Clone()
	if mode == ModifyMerge {
		next = rec.Attrs.Merge(attrs)
	}
	oldKey := uniqueKey(info, rec.Attrs)
	newKey := uniqueKey(info, next)
	if newKey != nil && string(newKey) != string(oldKey) {
		if _, taken := s.unique[rt][string(newKey)]; taken {
			return fmt.Errorf("%w: %s", ErrDuplicateRecord, rt)
		}
		if s.unique[rt] == nil {
			s.unique[rt] = make(map[string]UniqueID)
		}
		delete(s.unique[rt], string(oldKey))
		s.unique[rt][string(newKey)] = id
	}

	rec.Attrs = next
	if payload != nil {
		rec.Payload = append([]byte(nil), payload...)
	}
	return nil
}

func (s *MemoryStore) Delete(id UniqueID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if info, err := s.catalog.relation(rec.Type); err == nil {
		if uk := uniqueKey(info, rec.Attrs); uk != nil {
			delete(s.unique[rec.Type], string(uk))
		}
	}
	delete(s.records, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Get(id UniqueID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return copyRecord(rec), nil
}

// Cursor snapshots the matching records; later writes are not observed.
func (s *MemoryStore) Cursor(q Query) (Cursor, error) {
	if err := s.catalog.validateQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Type == q.Type && q.Matches(rec.Attrs) {
			out = append(out, copyRecord(rec))
		}
	}
	return &sliceCursor{records: out}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyRecord(rec *Record) Record {
	return Record{
		Type:    rec.Type,
		ID:      rec.ID,
		Attrs:   rec.Attrs.Clone(),
		Payload: append([]byte(nil), rec.Payload...),
	}
}
