package parseplan_test

import (
	"bytes"
	"testing"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/pdlc/internal/binary"
	"github.com/bearlytools/pdlc/parseplan"
	"github.com/bearlytools/pdlc/serializeplan"
)

// Round-trip: serialize(parse(packed)) == packed, driven through both
// reference executors over the same declaration.
func TestRoundTripSizeFieldPacket(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {"kind": "packet_declaration", "id": "Packet_Size_Field", "fields": [
	      {"kind": "scalar_field", "id": "a", "width": 5},
	      {"kind": "size_field", "id": "b_size", "field_id": "b", "width": 3},
	      {"kind": "array_field", "id": "b", "width": 8}
	    ]}
	  ]
	}`)
	ctx := context.Background()

	parseActions, err := parseplan.Plan(ctx, f, "Packet_Size_Field")
	if err != nil {
		t.Fatalf("parseplan.Plan: %v", err)
	}
	writeActions, err := serializeplan.Plan(ctx, f, "Packet_Size_Field")
	if err != nil {
		t.Fatalf("serializeplan.Plan: %v", err)
	}

	packed := []byte{0x48, 0xAA, 0xBB} // a=8, b_size=2, two data bytes

	res, rest, err := parseplan.Exec(ctx, binary.LittleEndian, parseActions, packed, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("parse left %x unconsumed", rest)
	}

	out, err := serializeplan.Exec(ctx, binary.LittleEndian, writeActions, serializeplan.Input{
		Fields: res.Fields,
		Arrays: res.Arrays,
	}, nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Equal(out, packed) {
		t.Fatalf("serialize(parse(%x)) = %x, want the original bytes", packed, out)
	}
}

func TestRoundTripEnumChunkBigEndian(t *testing.T) {
	f := build(t, `{
	  "endianness": {"value": "big_endian"},
	  "declarations": [
	    {"kind": "enum_declaration", "id": "Op", "width": 4, "tags": [
	      {"id": "A", "value": 1}, {"id": "B", "value": 2}
	    ]},
	    {"kind": "packet_declaration", "id": "P", "fields": [
	      {"kind": "typedef_field", "id": "op", "type_id": "Op"},
	      {"kind": "scalar_field", "id": "x", "width": 12}
	    ]}
	  ]
	}`)
	ctx := context.Background()

	parseActions, err := parseplan.Plan(ctx, f, "P")
	if err != nil {
		t.Fatalf("parseplan.Plan: %v", err)
	}
	writeActions, err := serializeplan.Plan(ctx, f, "P")
	if err != nil {
		t.Fatalf("serializeplan.Plan: %v", err)
	}

	in := serializeplan.Input{Fields: map[string]uint64{"op": 2, "x": 0xABC}}
	packed, err := serializeplan.Exec(ctx, binary.BigEndian, writeActions, in, nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if len(packed) != 2 {
		t.Fatalf("packed = %x, want 2 bytes", packed)
	}

	res, rest, err := parseplan.Exec(ctx, binary.BigEndian, parseActions, packed, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("parse left %x unconsumed", rest)
	}
	if res.Fields["op"] != 2 || res.Fields["x"] != 0xABC {
		t.Fatalf("parsed fields = %v, want op=2 x=0xabc", res.Fields)
	}
}
