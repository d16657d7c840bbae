package store

import "sync"

// CountingStore wraps a Store and counts the cursors opened per record type.
type CountingStore struct {
	Store

	mu      sync.Mutex
	cursors map[RecordType]int
}

// NewCountingStore wraps inner.
func NewCountingStore(inner Store) *CountingStore {
	return &CountingStore{Store: inner, cursors: make(map[RecordType]int)}
}

func (s *CountingStore) Cursor(q Query) (Cursor, error) {
	s.mu.Lock()
	s.cursors[q.Type]++
	s.mu.Unlock()
	return s.Store.Cursor(q)
}

// Cursors returns how many cursors over rt have been opened.
func (s *CountingStore) Cursors(rt RecordType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[rt]
}
