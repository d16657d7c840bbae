// Package schema caches which attributes and primary-key attributes each
// record type of a store has.
//
// A Cache is built by introspecting the store's schema relations. It is never
// merged with fresh store state: callers that hit ErrNoSuchClass discard the
// whole cache, build a new one and retry once (see Retry).
package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/benaskins/keycache/internal/store"
)

// Cache is the schema of one store as of the moment it was built, plus any
// relations created through it since.
type Cache struct {
	mu         sync.RWMutex
	attributes map[store.RecordType]map[store.AttrID]store.Format
	primaryKey map[store.RecordType][]store.AttributeInfo
}

// Build reads the schema relations of s.
func Build(s store.Store) (*Cache, error) {
	c := &Cache{
		attributes: make(map[store.RecordType]map[store.AttrID]store.Format),
		primaryKey: make(map[store.RecordType][]store.AttributeInfo),
	}

	infos, err := collect(s, store.NewQuery(store.SchemaInfo))
	if err != nil {
		return nil, fmt.Errorf("read schema info: %w", err)
	}
	for _, info := range infos {
		rt := store.RecordType(info.Attrs.Uint32(store.AttrRelationID))
		if rt.IsSchema() {
			continue
		}
		if err := c.load(s, rt); err != nil {
			return nil, fmt.Errorf("read schema of %s: %w", rt, err)
		}
	}
	return c, nil
}

func (c *Cache) load(s store.Store, rt store.RecordType) error {
	rid := store.EncodeUint32(uint32(rt))

	attrs, err := collect(s, store.NewQuery(store.SchemaAttributes).Where(store.AttrRelationID, rid))
	if err != nil {
		return err
	}
	formats := make(map[store.AttrID]store.Format, len(attrs))
	infos := make(map[store.AttrID]store.AttributeInfo, len(attrs))
	for _, a := range attrs {
		info := store.AttributeInfo{
			ID:     store.AttrID(a.Attrs.String(store.AttrAttributeID)),
			Name:   a.Attrs.String(store.AttrAttributeName),
			Format: store.Format(a.Attrs.Uint32(store.AttrFormat)),
		}
		formats[info.ID] = info.Format
		infos[info.ID] = info
	}

	q := store.NewQuery(store.SchemaIndexes).
		Where(store.AttrRelationID, rid).
		Where(store.AttrIndexType, store.EncodeUint32(store.IndexTypeUnique))
	indexes, err := collect(s, q)
	if err != nil {
		return err
	}
	var pk []store.AttributeInfo
	seen := make(map[store.AttrID]bool)
	for _, idx := range indexes {
		id := store.AttrID(idx.Attrs.String(store.AttrAttributeID))
		if seen[id] {
			continue
		}
		seen[id] = true
		info, ok := infos[id]
		if !ok {
			info = store.AttributeInfo{ID: id}
		}
		pk = append(pk, info)
	}

	c.attributes[rt] = formats
	c.primaryKey[rt] = pk
	return nil
}

func collect(s store.Store, q store.Query) ([]store.Record, error) {
	cur, err := s.Cursor(q)
	if err != nil {
		return nil, err
	}
	return store.Collect(cur)
}

// HasRecordType reports whether rt is a known relation.
func (c *Cache) HasRecordType(rt store.RecordType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.attributes[rt]
	return ok
}

// AttributeFormat returns the format of attr in rt.
func (c *Cache) AttributeFormat(rt store.RecordType, attr store.AttrID) (store.Format, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	formats, ok := c.attributes[rt]
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrNoSuchClass, rt)
	}
	f, ok := formats[attr]
	if !ok {
		return 0, fmt.Errorf("%w: %q in %s", store.ErrNoSuchAttribute, attr, rt)
	}
	return f, nil
}

// PrimaryKeyAttributes returns the ordered primary-key attributes of rt.
func (c *Cache) PrimaryKeyAttributes(rt store.RecordType) ([]store.AttributeInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pk, ok := c.primaryKey[rt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNoSuchClass, rt)
	}
	out := make([]store.AttributeInfo, len(pk))
	copy(out, pk)
	return out, nil
}

// PrimaryKeyIDs returns the attribute codes of PrimaryKeyAttributes.
func (c *Cache) PrimaryKeyIDs(rt store.RecordType) ([]store.AttrID, error) {
	pk, err := c.PrimaryKeyAttributes(rt)
	if err != nil {
		return nil, err
	}
	ids := make([]store.AttrID, len(pk))
	for i, a := range pk {
		ids[i] = a.ID
	}
	return ids, nil
}

// AttributeIDs returns the attribute codes of rt in sorted order.
func (c *Cache) AttributeIDs(rt store.RecordType) ([]store.AttrID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	formats, ok := c.attributes[rt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNoSuchClass, rt)
	}
	return slices.Sorted(maps.Keys(formats)), nil
}

// RecordTypes returns every known user record type in ascending order.
func (c *Cache) RecordTypes() []store.RecordType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.attributes))
}

// RecordCreated adds a relation created after the cache was built. It is a
// no-op for schema-range types and for types already known.
func (c *Cache) RecordCreated(rt store.RecordType, attrs []store.AttributeInfo, indexes []store.IndexInfo) {
	if rt.IsSchema() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.attributes[rt]; ok {
		return
	}

	formats := make(map[store.AttrID]store.Format, len(attrs))
	byID := make(map[store.AttrID]store.AttributeInfo, len(attrs))
	for _, a := range attrs {
		formats[a.ID] = a.Format
		byID[a.ID] = a
	}
	info := store.RelationInfo{Type: rt, Attributes: attrs, Indexes: indexes}
	var pk []store.AttributeInfo
	for _, id := range info.UniqueAttributes() {
		a, ok := byID[id]
		if !ok {
			a = store.AttributeInfo{ID: id}
		}
		pk = append(pk, a)
	}
	c.attributes[rt] = formats
	c.primaryKey[rt] = pk
}

// IsMiss reports whether err means the cache no longer matches the store.
func IsMiss(err error) bool {
	return errors.Is(err, store.ErrNoSuchClass) || errors.Is(err, store.ErrInvalidRecordType)
}
