package store

// Attribute codes of the standard keychain relations.
const (
	AttrCreationDate AttrID = "cdat"
	AttrModDate      AttrID = "mdat"
	AttrDescription  AttrID = "desc"
	AttrComment      AttrID = "icmt"
	AttrCreator      AttrID = "crtr"
	AttrType         AttrID = "type"
	AttrLabel        AttrID = "labl"
	AttrAccount      AttrID = "acct"
	AttrService      AttrID = "svce"
	AttrGeneric      AttrID = "gena"
	AttrSecurityDom  AttrID = "sdmn"
	AttrServer       AttrID = "srvr"
	AttrProtocol     AttrID = "ptcl"
	AttrAuthType     AttrID = "atyp"
	AttrPort         AttrID = "port"
	AttrPath         AttrID = "path"

	AttrCertType     AttrID = "ctyp"
	AttrCertEncoding AttrID = "cenc"
	AttrAlias        AttrID = "alis"
	AttrSubject      AttrID = "subj"
	AttrIssuer       AttrID = "issu"
	AttrSerial       AttrID = "snbr"

	AttrKeyClass  AttrID = "kcls"
	AttrKeyLabel  AttrID = "klbl"
	AttrAppTag    AttrID = "atag"
	AttrKeyType   AttrID = "ktyp"
	AttrKeySize   AttrID = "ksiz"
	AttrPrintName AttrID = "prnt"

	AttrDbName       AttrID = "dbnm"
	AttrDbModule     AttrID = "dbgd"
	AttrDbSubservice AttrID = "dbss"
	AttrKeyAppTag    AttrID = "kapl"

	AttrRecordType AttrID = "rcrt"
	AttrRecordID   AttrID = "rcid"
	AttrAttrName   AttrID = "anam"
)

// StandardRelations returns the relations of a freshly created keychain.
func StandardRelations() []RelationInfo {
	return []RelationInfo{
		GenericPasswordRelation(),
		InternetPasswordRelation(),
		CertificateRelation(),
		KeyRelation(PublicKey, "public-key"),
		KeyRelation(PrivateKey, "private-key"),
		KeyRelation(SymmetricKey, "symmetric-key"),
		UnlockReferralRelation(),
		ExtendedAttributeRelation(),
	}
}

func passwordAttributes() []AttributeInfo {
	return []AttributeInfo{
		{ID: AttrCreationDate, Name: "CreationDate", Format: FormatTimeDate},
		{ID: AttrModDate, Name: "ModDate", Format: FormatTimeDate},
		{ID: AttrDescription, Name: "Description", Format: FormatString},
		{ID: AttrComment, Name: "Comment", Format: FormatString},
		{ID: AttrCreator, Name: "Creator", Format: FormatUint32},
		{ID: AttrType, Name: "Type", Format: FormatUint32},
		{ID: AttrLabel, Name: "PrintName", Format: FormatBlob},
		{ID: AttrAccount, Name: "Account", Format: FormatBlob},
	}
}

func uniqueIndex(attrs ...AttrID) []IndexInfo {
	out := make([]IndexInfo, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, IndexInfo{ID: 0, Attribute: a, Unique: true})
	}
	return out
}

func GenericPasswordRelation() RelationInfo {
	attrs := append(passwordAttributes(),
		AttributeInfo{ID: AttrService, Name: "Service", Format: FormatBlob},
		AttributeInfo{ID: AttrGeneric, Name: "Generic", Format: FormatBlob},
	)
	return RelationInfo{
		Type:       GenericPassword,
		Name:       "generic-password",
		Attributes: attrs,
		Indexes:    uniqueIndex(AttrAccount, AttrService),
	}
}

func InternetPasswordRelation() RelationInfo {
	attrs := append(passwordAttributes(),
		AttributeInfo{ID: AttrSecurityDom, Name: "SecurityDomain", Format: FormatBlob},
		AttributeInfo{ID: AttrServer, Name: "Server", Format: FormatBlob},
		AttributeInfo{ID: AttrProtocol, Name: "Protocol", Format: FormatUint32},
		AttributeInfo{ID: AttrAuthType, Name: "AuthType", Format: FormatBlob},
		AttributeInfo{ID: AttrPort, Name: "Port", Format: FormatUint32},
		AttributeInfo{ID: AttrPath, Name: "Path", Format: FormatBlob},
	)
	return RelationInfo{
		Type:       InternetPassword,
		Name:       "internet-password",
		Attributes: attrs,
		Indexes: uniqueIndex(AttrAccount, AttrSecurityDom, AttrServer,
			AttrProtocol, AttrAuthType, AttrPort, AttrPath),
	}
}

func CertificateRelation() RelationInfo {
	return RelationInfo{
		Type: Certificate,
		Name: "certificate",
		Attributes: []AttributeInfo{
			{ID: AttrCertType, Name: "CertType", Format: FormatUint32},
			{ID: AttrCertEncoding, Name: "CertEncoding", Format: FormatUint32},
			{ID: AttrLabel, Name: "PrintName", Format: FormatBlob},
			{ID: AttrAlias, Name: "Alias", Format: FormatBlob},
			{ID: AttrSubject, Name: "Subject", Format: FormatBlob},
			{ID: AttrIssuer, Name: "Issuer", Format: FormatBlob},
			{ID: AttrSerial, Name: "SerialNumber", Format: FormatBlob},
		},
		Indexes: uniqueIndex(AttrCertType, AttrIssuer, AttrSerial),
	}
}

func KeyRelation(rt RecordType, name string) RelationInfo {
	return RelationInfo{
		Type: rt,
		Name: name,
		Attributes: []AttributeInfo{
			{ID: AttrKeyClass, Name: "KeyClass", Format: FormatUint32},
			{ID: AttrPrintName, Name: "PrintName", Format: FormatBlob},
			{ID: AttrKeyLabel, Name: "Label", Format: FormatBlob},
			{ID: AttrAppTag, Name: "ApplicationTag", Format: FormatBlob},
			{ID: AttrCreator, Name: "KeyCreator", Format: FormatBlob},
			{ID: AttrKeyType, Name: "KeyType", Format: FormatUint32},
			{ID: AttrKeySize, Name: "KeySizeInBits", Format: FormatUint32},
		},
		Indexes: uniqueIndex(AttrKeyLabel, AttrAppTag, AttrCreator, AttrKeyType),
	}
}

func UnlockReferralRelation() RelationInfo {
	return RelationInfo{
		Type: UnlockReferral,
		Name: "unlock-referral",
		Attributes: []AttributeInfo{
			{ID: AttrType, Name: "Type", Format: FormatUint32},
			{ID: AttrDbName, Name: "DbName", Format: FormatString},
			{ID: AttrDbModule, Name: "DbGuid", Format: FormatString},
			{ID: AttrDbSubservice, Name: "DbSSID", Format: FormatUint32},
			{ID: AttrKeyLabel, Name: "KeyLabel", Format: FormatBlob},
			{ID: AttrKeyAppTag, Name: "KeyAppTag", Format: FormatBlob},
			{ID: AttrLabel, Name: "PrintName", Format: FormatBlob},
		},
		Indexes: uniqueIndex(AttrType, AttrDbName, AttrDbModule, AttrDbSubservice, AttrKeyLabel),
	}
}

func ExtendedAttributeRelation() RelationInfo {
	return RelationInfo{
		Type: ExtendedAttribute,
		Name: "extended-attribute",
		Attributes: []AttributeInfo{
			{ID: AttrRecordType, Name: "RecordType", Format: FormatUint32},
			{ID: AttrRecordID, Name: "ItemID", Format: FormatBlob},
			{ID: AttrAttrName, Name: "AttributeName", Format: FormatBlob},
			{ID: AttrModDate, Name: "ModDate", Format: FormatTimeDate},
		},
		Indexes: uniqueIndex(AttrRecordType, AttrRecordID, AttrAttrName),
	}
}
