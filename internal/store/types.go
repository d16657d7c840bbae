package store

import (
	"encoding/binary"
	"fmt"
	"maps"
)

// RecordType identifies a relation.
type RecordType uint32

// Reserved schema relations.
const (
	SchemaInfo          RecordType = 0x00000000
	SchemaIndexes       RecordType = 0x00000001
	SchemaAttributes    RecordType = 0x00000002
	SchemaParsingModule RecordType = 0x00000003

	schemaRangeEnd RecordType = 0x00000004
)

// Standard keychain relations.
const (
	PublicKey          RecordType = 0x0000000F
	PrivateKey         RecordType = 0x00000010
	SymmetricKey       RecordType = 0x00000011
	GenericPassword    RecordType = 0x80000000
	InternetPassword   RecordType = 0x80000001
	AppleSharePassword RecordType = 0x80000002
	Certificate        RecordType = 0x80001000
	UnlockReferral     RecordType = 0x80008000
	ExtendedAttribute  RecordType = 0x80008001
)

// IsSchema reports whether rt is one of the reserved schema relations.
func (rt RecordType) IsSchema() bool {
	return rt < schemaRangeEnd
}

// IsKey reports whether rt is one of the key relations.
func (rt RecordType) IsKey() bool {
	return rt == PublicKey || rt == PrivateKey || rt == SymmetricKey
}

// IsPassword reports whether rt is one of the password relations.
func (rt RecordType) IsPassword() bool {
	return rt == GenericPassword || rt == InternetPassword || rt == AppleSharePassword
}

func (rt RecordType) String() string {
	switch rt {
	case SchemaInfo:
		return "schema-info"
	case SchemaIndexes:
		return "schema-indexes"
	case SchemaAttributes:
		return "schema-attributes"
	case SchemaParsingModule:
		return "schema-parsing-module"
	case PublicKey:
		return "public-key"
	case PrivateKey:
		return "private-key"
	case SymmetricKey:
		return "symmetric-key"
	case GenericPassword:
		return "generic-password"
	case InternetPassword:
		return "internet-password"
	case AppleSharePassword:
		return "appleshare-password"
	case Certificate:
		return "certificate"
	case UnlockReferral:
		return "unlock-referral"
	case ExtendedAttribute:
		return "extended-attribute"
	}
	return fmt.Sprintf("0x%08x", uint32(rt))
}

// AttrID is a four-character attribute code.
type AttrID string

// Format is the value format of an attribute.
type Format int

const (
	FormatString Format = iota
	FormatSint32
	FormatUint32
	FormatBlob
	FormatTimeDate
)

func (f Format) String() string {
	switch f {
	case FormatString:
		return "string"
	case FormatSint32:
		return "sint32"
	case FormatUint32:
		return "uint32"
	case FormatBlob:
		return "blob"
	case FormatTimeDate:
		return "timedate"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// Attributes maps attribute codes to their encoded values.
type Attributes map[AttrID][]byte

// Clone returns a deep copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Merge returns a copy of a overlaid with b.
func (a Attributes) Merge(b Attributes) Attributes {
	out := a.Clone()
	if out == nil {
		out = make(Attributes, len(b))
	}
	maps.Copy(out, b.Clone())
	return out
}

// String returns the attribute as a string, or "" when absent.
func (a Attributes) String(id AttrID) string {
	return string(a[id])
}

// Uint32 decodes a uint32 attribute. Absent or short values decode to zero.
func (a Attributes) Uint32(id AttrID) uint32 {
	return DecodeUint32(a[id])
}

// EncodeUint32 encodes v in the store's big-endian form.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// DecodeUint32 decodes a value written by EncodeUint32.
func DecodeUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// AttributeInfo describes one attribute of a relation.
type AttributeInfo struct {
	ID     AttrID
	Name   string
	Format Format
}

// IndexInfo describes one attribute of an index. A multi-attribute index is
// several IndexInfo entries sharing the same ID.
type IndexInfo struct {
	ID        uint32
	Attribute AttrID
	Unique    bool
}

// RelationInfo describes a relation: its type, attributes and indexes.
type RelationInfo struct {
	Type       RecordType
	Name       string
	Attributes []AttributeInfo
	Indexes    []IndexInfo
}

// UniqueAttributes returns the attributes of the relation's unique indexes,
// in declaration order.
func (r RelationInfo) UniqueAttributes() []AttrID {
	var out []AttrID
	seen := make(map[AttrID]bool)
	for _, idx := range r.Indexes {
		if !idx.Unique || seen[idx.Attribute] {
			continue
		}
		seen[idx.Attribute] = true
		out = append(out, idx.Attribute)
	}
	return out
}

// Attribute codes of the schema relations.
const (
	AttrRelationID    AttrID = "rid "
	AttrRelationName  AttrID = "rnm "
	AttrAttributeID   AttrID = "aid "
	AttrAttributeName AttrID = "anm "
	AttrFormat        AttrID = "afm "
	AttrIndexID       AttrID = "iid "
	AttrIndexType     AttrID = "ity "
)

// Index types stored in SchemaIndexes.
const (
	IndexTypeUnique    uint32 = 0
	IndexTypeNonUnique uint32 = 1
)

// schemaRelations are present in every store.
func schemaRelations() []RelationInfo {
	return []RelationInfo{
		{
			Type: SchemaInfo,
			Name: "schema-info",
			Attributes: []AttributeInfo{
				{ID: AttrRelationID, Name: "RelationID", Format: FormatUint32},
				{ID: AttrRelationName, Name: "RelationName", Format: FormatString},
			},
		},
		{
			Type: SchemaAttributes,
			Name: "schema-attributes",
			Attributes: []AttributeInfo{
				{ID: AttrRelationID, Name: "RelationID", Format: FormatUint32},
				{ID: AttrAttributeID, Name: "AttributeID", Format: FormatString},
				{ID: AttrAttributeName, Name: "AttributeName", Format: FormatString},
				{ID: AttrFormat, Name: "AttributeFormat", Format: FormatUint32},
			},
		},
		{
			Type: SchemaIndexes,
			Name: "schema-indexes",
			Attributes: []AttributeInfo{
				{ID: AttrRelationID, Name: "RelationID", Format: FormatUint32},
				{ID: AttrIndexID, Name: "IndexID", Format: FormatUint32},
				{ID: AttrAttributeID, Name: "AttributeID", Format: FormatString},
				{ID: AttrIndexType, Name: "IndexType", Format: FormatUint32},
			},
		},
	}
}

// schemaRecords returns the records describing info in the schema relations.
func schemaRecords(info RelationInfo) []Record {
	rid := EncodeUint32(uint32(info.Type))
	recs := []Record{{
		Type: SchemaInfo,
		Attrs: Attributes{
			AttrRelationID:   rid,
			AttrRelationName: []byte(info.Name),
		},
	}}
	for _, a := range info.Attributes {
		recs = append(recs, Record{
			Type: SchemaAttributes,
			Attrs: Attributes{
				AttrRelationID:    rid,
				AttrAttributeID:   []byte(a.ID),
				AttrAttributeName: []byte(a.Name),
				AttrFormat:        EncodeUint32(uint32(a.Format)),
			},
		})
	}
	for _, idx := range info.Indexes {
		ity := IndexTypeNonUnique
		if idx.Unique {
			ity = IndexTypeUnique
		}
		recs = append(recs, Record{
			Type: SchemaIndexes,
			Attrs: Attributes{
				AttrRelationID:  rid,
				AttrIndexID:     EncodeUint32(idx.ID),
				AttrAttributeID: []byte(idx.Attribute),
				AttrIndexType:   EncodeUint32(ity),
			},
		})
	}
	return recs
}
