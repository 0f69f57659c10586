package ir_test

import (
	"testing"

	"github.com/gostdlib/base/context"
	"github.com/kylelemons/godebug/pretty"

	"github.com/bearlytools/pdlc/ir"
)

const scalarPacketDoc = `{
  "endianness": {"value": "little_endian"},
  "declarations": [
    {
      "kind": "packet_declaration",
      "id": "Packet_Scalar_Field",
      "fields": [
        {"kind": "scalar_field", "id": "a", "width": 8},
        {"kind": "scalar_field", "id": "c", "width": 8}
      ]
    }
  ]
}`

func TestDecodeScalarPacket(t *testing.T) {
	ctx := context.Background()
	f, err := ir.Decode(ctx, []byte(scalarPacketDoc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := ir.BuildScopes(ctx, f); err != nil {
		t.Fatalf("BuildScopes: %v", err)
	}

	if f.Endianness != ir.LittleEndian {
		t.Fatalf("endianness = %v, want little_endian", f.Endianness)
	}

	pkt, ok := f.PacketScope["Packet_Scalar_Field"].(*ir.PacketDeclaration)
	if !ok {
		t.Fatalf("Packet_Scalar_Field missing from packet scope")
	}
	if len(pkt.Fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(pkt.Fields))
	}

	a, ok := pkt.Fields[0].(*ir.ScalarField)
	if !ok || a.FieldID != "a" || a.Width != 8 {
		t.Fatalf("unexpected first field: %s", pretty.Sprint(pkt.Fields[0]))
	}
	if ir.DeclOf(a) != pkt {
		t.Fatalf("field 'a' back-reference does not point at its declaration")
	}
}

func TestDecodeUndefinedTypeRef(t *testing.T) {
	doc := `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {
	      "kind": "packet_declaration",
	      "id": "Bad",
	      "fields": [{"kind": "typedef_field", "id": "x", "type_id": "DoesNotExist"}]
	    }
	  ]
	}`
	ctx := context.Background()
	f, err := ir.Decode(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := ir.BuildScopes(ctx, f); err == nil {
		t.Fatalf("BuildScopes: want error for undefined type_id, got nil")
	}
}
