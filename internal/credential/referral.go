package credential

import (
	"fmt"

	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/store"
)

// ReferralKind is the type attribute of an unlock-referral record.
type ReferralKind uint32

const (
	// ReferralDirectKey names a symmetric key that unlocks the keychain
	// directly.
	ReferralDirectKey ReferralKind = 1
	// ReferralWrappedPrivateKey names a private key that unwraps the
	// keychain's master key.
	ReferralWrappedPrivateKey ReferralKind = 2
)

func (k ReferralKind) String() string {
	switch k {
	case ReferralDirectKey:
		return "direct-key"
	case ReferralWrappedPrivateKey:
		return "wrapped-private-key"
	}
	return fmt.Sprintf("referral(%d)", uint32(k))
}

// ParseReferralKind parses the names printed by ReferralKind.String.
func ParseReferralKind(s string) (ReferralKind, error) {
	switch s {
	case "direct-key", "direct":
		return ReferralDirectKey, nil
	case "wrapped-private-key", "wrapped":
		return ReferralWrappedPrivateKey, nil
	}
	return 0, fmt.Errorf("unknown referral kind %q", s)
}

// keyType returns the relation holding the keys a referral of kind k names.
func (k ReferralKind) keyType() (store.RecordType, bool) {
	switch k {
	case ReferralDirectKey:
		return store.SymmetricKey, true
	case ReferralWrappedPrivateKey:
		return store.PrivateKey, true
	}
	return 0, false
}

// Referral is a decoded unlock-referral record.
type Referral struct {
	Kind     ReferralKind
	Target   keychain.ID
	KeyLabel []byte
	AppTag   []byte
	Raw      []byte
}

// ParseReferral decodes rec. Raw is the record's payload.
func ParseReferral(rec store.Record) Referral {
	return Referral{
		Kind: ReferralKind(rec.Attrs.Uint32(store.AttrType)),
		Target: keychain.ID{
			Name:       rec.Attrs.String(store.AttrDbName),
			Module:     rec.Attrs.String(store.AttrDbModule),
			Subservice: rec.Attrs.Uint32(store.AttrDbSubservice),
		},
		KeyLabel: append([]byte(nil), rec.Attrs[store.AttrKeyLabel]...),
		AppTag:   append([]byte(nil), rec.Attrs[store.AttrKeyAppTag]...),
		Raw:      append([]byte(nil), rec.Payload...),
	}
}

// Item returns a floating unlock-referral item for ref, ready to be added to
// the keychain it unlocks.
func (ref Referral) Item() *keychain.Item {
	attrs := store.Attributes{
		store.AttrType:         store.EncodeUint32(uint32(ref.Kind)),
		store.AttrDbName:       []byte(ref.Target.Name),
		store.AttrDbModule:     []byte(ref.Target.Module),
		store.AttrDbSubservice: store.EncodeUint32(ref.Target.Subservice),
		store.AttrKeyLabel:     ref.KeyLabel,
	}
	if len(ref.AppTag) > 0 {
		attrs[store.AttrKeyAppTag] = ref.AppTag
	}
	return keychain.NewItem(store.UnlockReferral, attrs, ref.Raw)
}
