package store

import (
	"fmt"
	"sync"
)

// catalog tracks the relations of a store for validation and unique-index
// enforcement. Both store implementations rebuild it from their schema
// records on open.
type catalog struct {
	mu        sync.RWMutex
	relations map[RecordType]RelationInfo
}

func newCatalog() *catalog {
	c := &catalog{relations: make(map[RecordType]RelationInfo)}
	for _, r := range schemaRelations() {
		c.relations[r.Type] = r
	}
	return c
}

func (c *catalog) add(info RelationInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relations[info.Type] = info
}

func (c *catalog) has(rt RecordType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.relations[rt]
	return ok
}

func (c *catalog) relation(rt RecordType) (RelationInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.relations[rt]
	if !ok {
		return RelationInfo{}, fmt.Errorf("%w: %s", ErrInvalidRecordType, rt)
	}
	return info, nil
}

// validate checks that rt exists and that every attribute belongs to it.
func (c *catalog) validate(rt RecordType, attrs Attributes) (RelationInfo, error) {
	info, err := c.relation(rt)
	if err != nil {
		return info, err
	}
	known := make(map[AttrID]bool, len(info.Attributes))
	for _, a := range info.Attributes {
		known[a.ID] = true
	}
	for id := range attrs {
		if !known[id] {
			return info, fmt.Errorf("%w: %q in %s", ErrNoSuchAttribute, id, rt)
		}
	}
	return info, nil
}

// validateQuery checks that q names a known relation and attributes.
func (c *catalog) validateQuery(q Query) error {
	attrs := make(Attributes, len(q.Predicates))
	for _, p := range q.Predicates {
		if p.Attr == "" {
			return fmt.Errorf("%w: empty attribute in predicate", ErrInvalidQuery)
		}
		attrs[p.Attr] = nil
	}
	_, err := c.validate(q.Type, attrs)
	return err
}

// uniqueKey returns the encoded unique-index tuple of a record, or nil when
// the relation has no unique index.
func uniqueKey(info RelationInfo, attrs Attributes) []byte {
	ids := info.UniqueAttributes()
	if len(ids) == 0 {
		return nil
	}
	return encodeKey(attrs, ids)
}

// loadRelations rebuilds RelationInfo values from schema records.
func loadRelations(infos, attrs, indexes []Record) []RelationInfo {
	byType := make(map[RecordType]*RelationInfo)
	var order []RecordType
	for _, r := range infos {
		rt := RecordType(r.Attrs.Uint32(AttrRelationID))
		if _, ok := byType[rt]; ok {
			continue
		}
		byType[rt] = &RelationInfo{Type: rt, Name: r.Attrs.String(AttrRelationName)}
		order = append(order, rt)
	}
	for _, r := range attrs {
		info, ok := byType[RecordType(r.Attrs.Uint32(AttrRelationID))]
		if !ok {
			continue
		}
		info.Attributes = append(info.Attributes, AttributeInfo{
			ID:     AttrID(r.Attrs.String(AttrAttributeID)),
			Name:   r.Attrs.String(AttrAttributeName),
			Format: Format(r.Attrs.Uint32(AttrFormat)),
		})
	}
	for _, r := range indexes {
		info, ok := byType[RecordType(r.Attrs.Uint32(AttrRelationID))]
		if !ok {
			continue
		}
		info.Indexes = append(info.Indexes, IndexInfo{
			ID:        r.Attrs.Uint32(AttrIndexID),
			Attribute: AttrID(r.Attrs.String(AttrAttributeID)),
			Unique:    r.Attrs.Uint32(AttrIndexType) == IndexTypeUnique,
		})
	}
	out := make([]RelationInfo, 0, len(order))
	for _, rt := range order {
		out = append(out, *byType[rt])
	}
	return out
}
