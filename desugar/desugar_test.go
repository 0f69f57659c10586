package desugar_test

import (
	"testing"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/pdlc/desugar"
	"github.com/bearlytools/pdlc/ir"
)

func mustBuild(t *testing.T, doc string) *ir.File {
	t.Helper()
	ctx := context.Background()
	f, err := ir.Decode(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := ir.BuildScopes(ctx, f); err != nil {
		t.Fatalf("BuildScopes: %v", err)
	}
	return f
}

func TestNormalizePadding(t *testing.T) {
	doc := `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {
	      "kind": "packet_declaration",
	      "id": "Padded",
	      "fields": [
	        {"kind": "array_field", "id": "vals", "width": 16, "size": 2},
	        {"kind": "padding_field", "size": 17}
	      ]
	    }
	  ]
	}`
	f := mustBuild(t, doc)
	ctx := context.Background()
	if err := desugar.Normalize(ctx, f); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	pkt := f.PacketScope["Padded"].(*ir.PacketDeclaration)
	if len(pkt.Fields) != 1 {
		t.Fatalf("got %d fields after normalize, want 1 (padding consumed)", len(pkt.Fields))
	}
	arr, ok := pkt.Fields[0].(*ir.ArrayField)
	if !ok {
		t.Fatalf("remaining field is not an array field: %T", pkt.Fields[0])
	}
	if arr.PaddedSize == nil || *arr.PaddedSize != 17 {
		t.Fatalf("array PaddedSize = %v, want 17", arr.PaddedSize)
	}
}

// A derived packet's own Constraints list restricts fields owned by its
// *parent*, not anything in its own Fields list; constraints only ever
// flow into normalization via a GroupField's own constraints, threaded
// into that group's expansion. So a PacketDeclaration's Constraints never
// fold anything in the IR at normalize time; they stay metadata consulted
// later, at specialization and test-vector generation time (see
// layout.DerivedPackets and testvectors' constraint threading up the
// parent chain).
func TestNormalizeDeclarationConstraintsNotFoldedIntoParent(t *testing.T) {
	doc := `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {
	      "kind": "packet_declaration",
	      "id": "ScalarParent",
	      "fields": [
	        {"kind": "scalar_field", "id": "a", "width": 8},
	        {"kind": "payload_field", "id": "payload"}
	      ]
	    },
	    {
	      "kind": "packet_declaration",
	      "id": "ScalarChild_A",
	      "parent_id": "ScalarParent",
	      "constraints": [{"id": "a", "value": 0}],
	      "fields": [
	        {"kind": "scalar_field", "id": "b", "width": 8}
	      ]
	    }
	  ]
	}`
	f := mustBuild(t, doc)
	ctx := context.Background()
	if err := desugar.Normalize(ctx, f); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	parent := f.PacketScope["ScalarParent"].(*ir.PacketDeclaration)
	if _, stillScalar := parent.Fields[0].(*ir.ScalarField); !stillScalar {
		t.Fatalf("parent field 'a' should remain a ScalarField after normalize, got %T", parent.Fields[0])
	}

	child := f.PacketScope["ScalarChild_A"].(*ir.PacketDeclaration)
	if len(child.Constraints) != 1 || child.Constraints[0].ID != "a" {
		t.Fatalf("child constraints should survive normalize untouched, got %+v", child.Constraints)
	}
}

// GroupField is the one place desugar_field_ actually threads constraints:
// a group reference's own Constraints apply to the group's inlined fields
// as they're expanded.
func TestNormalizeGroupFieldConstraintToFixed(t *testing.T) {
	doc := `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {
	      "kind": "group_declaration",
	      "id": "Hdr",
	      "fields": [
	        {"kind": "scalar_field", "id": "a", "width": 8},
	        {"kind": "scalar_field", "id": "b", "width": 8}
	      ]
	    },
	    {
	      "kind": "packet_declaration",
	      "id": "UsesGroup",
	      "fields": [
	        {"kind": "group_field", "group_id": "Hdr", "constraints": [{"id": "a", "value": 7}]}
	      ]
	    }
	  ]
	}`
	f := mustBuild(t, doc)
	ctx := context.Background()
	if err := desugar.Normalize(ctx, f); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	pkt := f.PacketScope["UsesGroup"].(*ir.PacketDeclaration)
	if len(pkt.Fields) != 2 {
		t.Fatalf("got %d fields after group expansion, want 2", len(pkt.Fields))
	}
	fixed, ok := pkt.Fields[0].(*ir.FixedField)
	if !ok {
		t.Fatalf("constrained group field 'a' was not rewritten to FixedField, got %T", pkt.Fields[0])
	}
	if fixed.Value == nil || *fixed.Value != 7 {
		t.Fatalf("fixed field value = %v, want 7", fixed.Value)
	}
	if ir.DeclOf(fixed) != pkt {
		t.Fatalf("fixed field's declaration back-reference not set to the owning packet")
	}
	b, ok := pkt.Fields[1].(*ir.ScalarField)
	if !ok || b.FieldID != "b" {
		t.Fatalf("unconstrained group field 'b' should remain a ScalarField, got %T", pkt.Fields[1])
	}
}

func TestNormalizeMissingGroupIsFatal(t *testing.T) {
	doc := `{
	  "endianness": {"value": "little_endian"},
	  "declarations": [
	    {
	      "kind": "group_declaration",
	      "id": "G",
	      "fields": [{"kind": "scalar_field", "id": "x", "width": 8}]
	    }
	  ]
	}`
	f := mustBuild(t, doc)
	// Sabotage: after BuildScopes has validated every group reference, add
	// a packet that uses a group the file never actually declares.
	f.Declarations = append(f.Declarations, &ir.PacketDeclaration{
		DeclID: "UsesMissingGroup",
		Fields: []ir.Field{&ir.GroupField{GroupID: "NoSuchGroup"}},
	})
	ctx := context.Background()
	if err := desugar.Normalize(ctx, f); err == nil {
		t.Fatalf("Normalize: want error for undefined group id, got nil")
	}
}
