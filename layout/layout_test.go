package layout_test

import (
	"fmt"
	"testing"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/pdlc/desugar"
	"github.com/bearlytools/pdlc/ir"
	"github.com/bearlytools/pdlc/layout"
)

func build(t *testing.T, doc string) *ir.File {
	t.Helper()
	ctx := context.Background()
	f, err := ir.Decode(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := ir.BuildScopes(ctx, f); err != nil {
		t.Fatalf("BuildScopes: %v", err)
	}
	if err := desugar.Normalize(ctx, f); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return f
}

func TestDeclarationSizeScalarPacket(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "Packet_Scalar_Field", "fields": [
	      {"kind": "scalar_field", "id": "a", "width": 56},
	      {"kind": "scalar_field", "id": "c", "width": 8}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["Packet_Scalar_Field"]
	size, ok := layout.DeclarationSize(f, pkt, false)
	if !ok {
		t.Fatalf("DeclarationSize: not statically known")
	}
	if size != 64 {
		t.Fatalf("DeclarationSize = %d bits, want 64", size)
	}
}

func TestChecksumRange(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "checksum_declaration", "id": "crc", "width": 8, "function": "basic_checksum"},
	    {"kind": "packet_declaration", "id": "Packet_Checksum_Field_FromStart", "fields": [
	      {"kind": "checksum_field", "field_id": "sum"},
	      {"kind": "scalar_field", "id": "a", "width": 16},
	      {"kind": "scalar_field", "id": "b", "width": 16},
	      {"kind": "typedef_field", "id": "sum", "type_id": "crc"}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["Packet_Checksum_Field_FromStart"].(*ir.PacketDeclaration)
	marker := pkt.Fields[0].(*ir.ChecksumField)

	start, end, err := layout.ChecksumRange(f, pkt, marker)
	if err != nil {
		t.Fatalf("ChecksumRange: %v", err)
	}
	if start != 0 || end != 32 {
		t.Fatalf("ChecksumRange = (%d,%d), want (0,32)", start, end)
	}
}

func TestArraySizeSourceCountField(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "Sized", "fields": [
	      {"kind": "count_field", "id": "n", "field_id": "vals", "width": 8},
	      {"kind": "array_field", "id": "vals", "width": 16}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["Sized"].(*ir.PacketDeclaration)
	arr := pkt.Fields[1].(*ir.ArrayField)
	src := layout.ArraySizeSourceOf(pkt, arr, "vals")
	if src.CountFieldID != "n" {
		t.Fatalf("ArraySizeSourceOf = %+v, want CountFieldID=n", src)
	}
	if src.Unbounded() {
		t.Fatalf("array should not be unbounded")
	}
}

func TestOffsetFromStartAndEnd(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "P", "fields": [
	      {"kind": "scalar_field", "id": "a", "width": 8},
	      {"kind": "scalar_field", "id": "b", "width": 16},
	      {"kind": "scalar_field", "id": "c", "width": 8}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["P"]

	start, ok := layout.OffsetFromStart(f, pkt, "b")
	if !ok || start != 8 {
		t.Fatalf("OffsetFromStart(b) = (%d,%v), want (8,true)", start, ok)
	}
	end, ok := layout.OffsetFromEnd(f, pkt, "b")
	if !ok || end != 8 {
		t.Fatalf("OffsetFromEnd(b) = (%d,%v), want (8,true)", end, ok)
	}
	end, ok = layout.OffsetFromEnd(f, pkt, "c")
	if !ok || end != 0 {
		t.Fatalf("OffsetFromEnd(c) = (%d,%v), want (0,true)", end, ok)
	}
}

func TestIsBitFieldEnumTypedef(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "enum_declaration", "id": "Op", "width": 4, "tags": [
	      {"id": "A", "value": 0}, {"id": "B", "value": 1}
	    ]},
	    {"kind": "struct_declaration", "id": "S", "fields": [
	      {"kind": "scalar_field", "id": "x", "width": 8}
	    ]},
	    {"kind": "packet_declaration", "id": "P", "fields": [
	      {"kind": "typedef_field", "id": "op", "type_id": "Op"},
	      {"kind": "scalar_field", "id": "pad", "width": 4},
	      {"kind": "typedef_field", "id": "s", "type_id": "S"}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["P"].(*ir.PacketDeclaration)

	if !layout.IsBitField(f, pkt.Fields[0]) {
		t.Fatalf("IsBitField(op): enum typedef should be bit-granular")
	}
	if layout.IsBitField(f, pkt.Fields[2]) {
		t.Fatalf("IsBitField(s): struct typedef should not be bit-granular")
	}

	size, ok := layout.DeclarationSize(f, pkt, false)
	if !ok || size != 16 {
		t.Fatalf("DeclarationSize = (%d,%v), want (16,true)", size, ok)
	}
}

func TestDerivedPacketsSkipsPayloadOnlyAlias(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "Root", "fields": [
	      {"kind": "scalar_field", "id": "op", "width": 8},
	      {"kind": "payload_field", "id": "payload"}
	    ]},
	    {"kind": "packet_declaration", "id": "Alias", "parent_id": "Root",
	      "constraints": [{"id": "op", "value": 1}],
	      "fields": [{"kind": "payload_field", "id": "payload"}]},
	    {"kind": "packet_declaration", "id": "Concrete", "parent_id": "Alias",
	      "fields": [{"kind": "scalar_field", "id": "x", "width": 8}]}
	  ]
	}`)
	root := f.PacketScope["Root"]

	children := layout.DerivedPackets(f, root)
	if len(children) != 1 || children[0].DeclID != "Concrete" {
		ids := make([]string, len(children))
		for i, c := range children {
			ids[i] = c.DeclID
		}
		t.Fatalf("DerivedPackets(Root) = %v, want [Concrete] (Alias is payload-only)", ids)
	}
}

func TestBodyShiftNonZeroAndBigEndianRejected(t *testing.T) {
	doc := `{
	  "endianness": {"value": "%s"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "Parent", "fields": [
	      {"kind": "scalar_field", "id": "flags", "width": 3},
	      {"kind": "payload_field", "id": "payload"},
	      {"kind": "scalar_field", "id": "tail", "width": 5}
	    ]},
	    {"kind": "packet_declaration", "id": "Child", "parent_id": "Parent",
	      "fields": [{"kind": "scalar_field", "id": "b", "width": 8}]}
	  ]
	}`
	ctx := context.Background()

	f := build(t, fmt.Sprintf(doc, "little_endian"))
	shift, err := layout.BodyShift(ctx, f, f.PacketScope["Child"])
	if err != nil {
		t.Fatalf("BodyShift(LE): %v", err)
	}
	if shift != 3 {
		t.Fatalf("BodyShift(LE) = %d, want 3", shift)
	}

	f = build(t, fmt.Sprintf(doc, "big_endian"))
	if _, err := layout.BodyShift(ctx, f, f.PacketScope["Child"]); err == nil {
		t.Fatalf("BodyShift(BE): want error for non-zero shift on a big-endian file, got nil")
	}
}

func TestFieldSizePaddedArray(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "P", "fields": [
	      {"kind": "array_field", "id": "vals", "width": 16},
	      {"kind": "padding_field", "size": 16}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["P"].(*ir.PacketDeclaration)
	arr := pkt.Fields[0].(*ir.ArrayField)

	size, ok := layout.FieldSize(arr, false)
	if !ok || size != 128 {
		t.Fatalf("FieldSize(padded array) = (%d,%v), want (128,true)", size, ok)
	}
}

func TestArrayElementSize(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "struct_declaration", "id": "Pair", "fields": [
	      {"kind": "scalar_field", "id": "x", "width": 8},
	      {"kind": "scalar_field", "id": "y", "width": 8}
	    ]},
	    {"kind": "custom_field_declaration", "id": "Opaque"},
	    {"kind": "packet_declaration", "id": "P", "fields": [
	      {"kind": "scalar_field", "id": "a", "width": 8},
	      {"kind": "array_field", "id": "pairs", "element_type_id": "Pair", "size": 3},
	      {"kind": "array_field", "id": "words", "width": 16, "size": 2},
	      {"kind": "array_field", "id": "blobs", "element_type_id": "Opaque"}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["P"].(*ir.PacketDeclaration)

	pairs := pkt.Fields[1].(*ir.ArrayField)
	ew, ok := layout.ArrayElementSize(f, pairs)
	if !ok || ew != 16 {
		t.Fatalf("ArrayElementSize(pairs) = (%d,%v), want (16,true)", ew, ok)
	}

	words := pkt.Fields[2].(*ir.ArrayField)
	ew, ok = layout.ArrayElementSize(f, words)
	if !ok || ew != 16 {
		t.Fatalf("ArrayElementSize(words) = (%d,%v), want (16,true)", ew, ok)
	}

	blobs := pkt.Fields[3].(*ir.ArrayField)
	if _, ok := layout.ArrayElementSize(f, blobs); ok {
		t.Fatalf("ArrayElementSize(blobs): want unknown for a variable-size custom element")
	}

	// A constant-count typedef array contributes count x element size, so
	// offsets past it stay decidable.
	size, ok := layout.FieldSizeInFile(f, pairs, true)
	if !ok || size != 48 {
		t.Fatalf("FieldSizeInFile(pairs) = (%d,%v), want (48,true)", size, ok)
	}
	off, ok := layout.OffsetFromStart(f, pkt, "words")
	if !ok || off != 56 {
		t.Fatalf("OffsetFromStart(words) = (%d,%v), want (56,true)", off, ok)
	}
}

func TestDeclarationSizeWithTypedefArray(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "struct_declaration", "id": "Pair", "fields": [
	      {"kind": "scalar_field", "id": "x", "width": 8},
	      {"kind": "scalar_field", "id": "y", "width": 8}
	    ]},
	    {"kind": "packet_declaration", "id": "P", "fields": [
	      {"kind": "scalar_field", "id": "a", "width": 8},
	      {"kind": "array_field", "id": "pairs", "element_type_id": "Pair", "size": 2}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["P"]
	size, ok := layout.DeclarationSize(f, pkt, false)
	if !ok || size != 40 {
		t.Fatalf("DeclarationSize = (%d,%v), want (40,true)", size, ok)
	}
}

func TestPayloadSizeSource(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "P", "fields": [
	      {"kind": "size_field", "id": "p_size", "field_id": "p", "width": 8},
	      {"kind": "payload_field", "id": "p"}
	    ]}
	  ]
	}`)
	pkt := f.PacketScope["P"]
	if got := layout.PayloadSizeSourceOf(pkt, "p"); got != "p_size" {
		t.Fatalf("PayloadSizeSourceOf = %q, want p_size", got)
	}
	if got := layout.PayloadSizeSourceOf(pkt, "other"); got != "" {
		t.Fatalf("PayloadSizeSourceOf(other) = %q, want empty", got)
	}
}

func TestAncestorWalksToRoot(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "Root", "fields": [
	      {"kind": "scalar_field", "id": "a", "width": 8},
	      {"kind": "payload_field", "id": "payload"}
	    ]},
	    {"kind": "packet_declaration", "id": "Mid", "parent_id": "Root", "fields": [
	      {"kind": "scalar_field", "id": "b", "width": 8},
	      {"kind": "payload_field", "id": "payload"}
	    ]},
	    {"kind": "packet_declaration", "id": "Leaf", "parent_id": "Mid", "fields": [
	      {"kind": "scalar_field", "id": "c", "width": 8}
	    ]}
	  ]
	}`)
	if got := layout.Ancestor(f, f.PacketScope["Leaf"]); got.ID() != "Root" {
		t.Fatalf("Ancestor(Leaf) = %q, want Root", got.ID())
	}
	if got := layout.Ancestor(f, f.PacketScope["Root"]); got.ID() != "Root" {
		t.Fatalf("Ancestor(Root) = %q, want Root", got.ID())
	}
}

func TestBodyShiftZeroOnByteAlignedParent(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "ScalarParent", "fields": [
	      {"kind": "scalar_field", "id": "a", "width": 8},
	      {"kind": "payload_field", "id": "payload"}
	    ]},
	    {"kind": "packet_declaration", "id": "ScalarChild_A", "parent_id": "ScalarParent",
	      "constraints": [{"id": "a", "value": 0}],
	      "fields": [{"kind": "scalar_field", "id": "b", "width": 8}]}
	  ]
	}`)
	child := f.PacketScope["ScalarChild_A"]
	ctx := context.Background()
	shift, err := layout.BodyShift(ctx, f, child)
	if err != nil {
		t.Fatalf("BodyShift: %v", err)
	}
	if shift != 0 {
		t.Fatalf("BodyShift = %d, want 0", shift)
	}
}
