// Package field defines the closed set of declaration and field kinds that
// make up the IR, mirroring the `kind` discriminant carried on the wire.
package field

//go:generate stringer -type=DeclKind -linecomment

// DeclKind identifies which declaration variant a node is.
type DeclKind uint8

const (
	DeclUnknown      DeclKind = 0 // unknown_declaration
	DeclEnum         DeclKind = 1 // enum_declaration
	DeclPacket       DeclKind = 2 // packet_declaration
	DeclStruct       DeclKind = 3 // struct_declaration
	DeclGroup        DeclKind = 4 // group_declaration
	DeclCustomField  DeclKind = 5 // custom_field_declaration
	DeclChecksum     DeclKind = 6 // checksum_declaration
	DeclEndianness   DeclKind = 7 // endianness_declaration
)

func (k DeclKind) String() string {
	switch k {
	case DeclEnum:
		return "enum_declaration"
	case DeclPacket:
		return "packet_declaration"
	case DeclStruct:
		return "struct_declaration"
	case DeclGroup:
		return "group_declaration"
	case DeclCustomField:
		return "custom_field_declaration"
	case DeclChecksum:
		return "checksum_declaration"
	case DeclEndianness:
		return "endianness_declaration"
	}
	return "unknown_declaration"
}

//go:generate stringer -type=Kind -linecomment

// Kind identifies which field variant a node is.
type Kind uint8

const (
	KindUnknown Kind = 0 // unknown_field
	KindScalar  Kind = 1 // scalar_field
	KindTypedef Kind = 2 // typedef_field
	KindArray   Kind = 3 // array_field
	KindSize    Kind = 4 // size_field
	KindCount   Kind = 5 // count_field
	KindBody    Kind = 6 // body_field
	KindPayload Kind = 7 // payload_field
	KindFixed   Kind = 8 // fixed_field
	KindReserved Kind = 9 // reserved_field
	KindPadding Kind = 10 // padding_field
	KindChecksum Kind = 11 // checksum_field
	KindGroup   Kind = 12 // group_field
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar_field"
	case KindTypedef:
		return "typedef_field"
	case KindArray:
		return "array_field"
	case KindSize:
		return "size_field"
	case KindCount:
		return "count_field"
	case KindBody:
		return "body_field"
	case KindPayload:
		return "payload_field"
	case KindFixed:
		return "fixed_field"
	case KindReserved:
		return "reserved_field"
	case KindPadding:
		return "padding_field"
	case KindChecksum:
		return "checksum_field"
	case KindGroup:
		return "group_field"
	}
	return "unknown_field"
}

// IsBitGranular reports whether a field of this kind, by its kind alone
// (ignoring byte-boundary alignment of the instance itself), is the sort
// that packs into a shared bit chunk: scalar, size, count, reserved, and
// fixed fields all do; a typedef field only does when its referent is an
// enum, which this package cannot know, so callers check that separately.
func IsBitGranular(k Kind) bool {
	switch k {
	case KindScalar, KindSize, KindCount, KindReserved, KindFixed:
		return true
	}
	return false
}
