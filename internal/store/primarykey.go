package store

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// PrimaryKey identifies one persisted record by the values of its relation's
// primary-key attributes. It is comparable and may be used as a map key.
// The zero value is the empty key of a record never persisted.
type PrimaryKey struct {
	rt   RecordType
	data string
}

// MakePrimaryKey builds the key of a record of type rt from its attributes.
// Attributes missing from attrs encode as empty values.
func MakePrimaryKey(rt RecordType, attrs Attributes, keyAttrs []AttrID) PrimaryKey {
	return PrimaryKey{rt: rt, data: string(encodeKey(attrs, keyAttrs))}
}

// encodeKey length-prefixes each value so distinct tuples never collide.
func encodeKey(attrs Attributes, keyAttrs []AttrID) []byte {
	var buf []byte
	for _, id := range keyAttrs {
		v := attrs[id]
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// Values decodes the key back into attribute values, given the same ordered
// primary-key attributes it was built with.
func (k PrimaryKey) Values(keyAttrs []AttrID) (Attributes, error) {
	out := make(Attributes, len(keyAttrs))
	rest := []byte(k.data)
	for _, id := range keyAttrs {
		if len(rest) < 4 {
			return nil, fmt.Errorf("primary key truncated at %q", id)
		}
		n := binary.BigEndian.Uint32(rest)
		rest = rest[4:]
		if uint32(len(rest)) < n {
			return nil, fmt.Errorf("primary key truncated in %q", id)
		}
		out[id] = append([]byte(nil), rest[:n]...)
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("primary key has %d trailing bytes", len(rest))
	}
	return out, nil
}

// Type returns the record type the key belongs to.
func (k PrimaryKey) Type() RecordType { return k.rt }

// IsZero reports whether k is the empty key.
func (k PrimaryKey) IsZero() bool { return k == PrimaryKey{} }

// Bytes returns the encoded key: the record type followed by the encoded
// primary-key values.
func (k PrimaryKey) Bytes() []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(k.rt))
	return append(b, k.data...)
}

// ParsePrimaryKey decodes the output of Bytes.
func ParsePrimaryKey(b []byte) (PrimaryKey, error) {
	if len(b) < 4 {
		return PrimaryKey{}, fmt.Errorf("primary key too short: %d bytes", len(b))
	}
	return PrimaryKey{rt: RecordType(binary.BigEndian.Uint32(b)), data: string(b[4:])}, nil
}

func (k PrimaryKey) String() string {
	if k.IsZero() {
		return "<none>"
	}
	return k.rt.String() + ":" + hex.EncodeToString([]byte(k.data))
}
