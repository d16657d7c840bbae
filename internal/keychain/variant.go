package keychain

import "github.com/benaskins/keycache/internal/store"

// Variant is the record-kind specific part of an Item. The set of variants is
// closed: GenericRecord, CertificateRecord, KeyRecord and
// ExtendedAttributeRecord.
type Variant interface {
	Kind() string
	variant()
}

// GenericRecord covers passwords and any relation without special handling.
type GenericRecord struct{}

// CertificateRecord is an X.509 certificate whose payload is DER.
type CertificateRecord struct{}

// KeyRecord is a public, private or symmetric key.
type KeyRecord struct {
	Class KeyClass
}

// ExtendedAttributeRecord is a named attribute attached to another item.
type ExtendedAttributeRecord struct{}

func (GenericRecord) Kind() string           { return "generic" }
func (CertificateRecord) Kind() string       { return "certificate" }
func (KeyRecord) Kind() string               { return "key" }
func (ExtendedAttributeRecord) Kind() string { return "extended-attribute" }

func (GenericRecord) variant()           {}
func (CertificateRecord) variant()       {}
func (KeyRecord) variant()               {}
func (ExtendedAttributeRecord) variant() {}

// KeyClass tells the key relations apart.
type KeyClass int

const (
	KeyClassPublic KeyClass = iota
	KeyClassPrivate
	KeyClassSymmetric
)

func (c KeyClass) String() string {
	switch c {
	case KeyClassPublic:
		return "public"
	case KeyClassPrivate:
		return "private"
	case KeyClassSymmetric:
		return "symmetric"
	}
	return "unknown"
}

// variantFor is the single factory choosing an item's variant from its
// record type.
func variantFor(rt store.RecordType) Variant {
	switch rt {
	case store.Certificate:
		return CertificateRecord{}
	case store.PublicKey:
		return KeyRecord{Class: KeyClassPublic}
	case store.PrivateKey:
		return KeyRecord{Class: KeyClassPrivate}
	case store.SymmetricKey:
		return KeyRecord{Class: KeyClassSymmetric}
	case store.ExtendedAttribute:
		return ExtendedAttributeRecord{}
	}
	return GenericRecord{}
}
