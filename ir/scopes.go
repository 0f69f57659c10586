package ir

import (
	"fmt"

	"github.com/bearlytools/pdlc/internal/errs"
	"github.com/gostdlib/base/context"
	"golang.org/x/exp/slices"
)

// BuildScopes wires every declaration's file back-reference, every field's
// declaration back-reference, sorts each EnumDeclaration's tags by value,
// and populates File.PacketScope/TypedefScope/GroupScope. It then validates
// duplicate ids and undefined references. Call once, before desugar.Normalize.
func BuildScopes(ctx context.Context, f *File) error {
	f.PacketScope = make(map[string]Declaration)
	f.TypedefScope = make(map[string]Declaration)
	f.GroupScope = make(map[string]Declaration)

	for _, d := range f.Declarations {
		d.setFile(f)

		id := d.ID()
		if id == "" {
			return errs.E(ctx, errs.CatMalformedIR, errs.TypeDuplicateID, fmt.Errorf("declaration with empty id"))
		}

		var scope map[string]Declaration
		switch dd := d.(type) {
		case *PacketDeclaration:
			scope = f.PacketScope
			for _, fl := range dd.Fields {
				fl.setDecl(d)
			}
		case *StructDeclaration:
			scope = f.TypedefScope
			for _, fl := range dd.Fields {
				fl.setDecl(d)
			}
		case *GroupDeclaration:
			scope = f.GroupScope
			for _, fl := range dd.Fields {
				fl.setDecl(d)
			}
		case *EnumDeclaration:
			scope = f.TypedefScope
			slices.SortFunc(dd.Tags, func(a, b Tag) int {
				ak, bk := tagSortKey(a), tagSortKey(b)
				switch {
				case ak < bk:
					return -1
				case ak > bk:
					return 1
				default:
					return 0
				}
			})
		case *CustomFieldDeclaration:
			scope = f.TypedefScope
		case *ChecksumDeclaration:
			scope = f.TypedefScope
		default:
			return errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("declaration %q has unrecognized kind", id))
		}

		if _, exists := scope[id]; exists {
			return errs.E(ctx, errs.CatMalformedIR, errs.TypeDuplicateID, fmt.Errorf("duplicate declaration id %q", id))
		}
		scope[id] = d
	}

	return validateRefs(ctx, f)
}

func tagSortKey(t Tag) uint64 {
	switch {
	case t.IsValue():
		return *t.Value
	case t.IsRange():
		return *t.RangeLo
	default:
		return 0
	}
}

// validateRefs checks that every parent_id, type_id, element type id,
// group_id, and fixed-field enum_id used in the IR resolves in the
// appropriate scope; constraint ids are not checked.
func validateRefs(ctx context.Context, f *File) error {
	resolveParent := func(parentID string) error {
		if parentID == "" {
			return nil
		}
		if _, ok := f.PacketScope[parentID]; ok {
			return nil
		}
		if _, ok := f.TypedefScope[parentID]; ok {
			return nil
		}
		return errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("undefined parent_id %q", parentID))
	}

	for _, d := range f.Declarations {
		switch dd := d.(type) {
		case *PacketDeclaration:
			if err := resolveParent(dd.ParentID); err != nil {
				return err
			}
			if err := validateFields(ctx, f, dd.Fields); err != nil {
				return err
			}
			if err := validatePayloadCount(ctx, dd.DeclID, dd.Fields); err != nil {
				return err
			}
		case *StructDeclaration:
			if err := resolveParent(dd.ParentID); err != nil {
				return err
			}
			if err := validateFields(ctx, f, dd.Fields); err != nil {
				return err
			}
			if err := validatePayloadCount(ctx, dd.DeclID, dd.Fields); err != nil {
				return err
			}
		case *GroupDeclaration:
			if err := validateFields(ctx, f, dd.Fields); err != nil {
				return err
			}
		}
	}
	return validateParentChains(ctx, f)
}

// validatePayloadCount enforces that a declaration has at most one
// payload/body field.
func validatePayloadCount(ctx context.Context, id string, fields []Field) error {
	n := 0
	for _, fl := range fields {
		switch fl.(type) {
		case *PayloadField, *BodyField:
			n++
		}
	}
	if n > 1 {
		return errs.E(ctx, errs.CatMalformedIR, errs.TypeDuplicateID, fmt.Errorf("declaration %q has %d payload/body fields, at most one allowed", id, n))
	}
	return nil
}

// validateParentChains rejects cyclic parent references, so the
// descend-to-root walks elsewhere can recurse freely.
func validateParentChains(ctx context.Context, f *File) error {
	parentOf := func(d Declaration) string {
		switch dd := d.(type) {
		case *PacketDeclaration:
			return dd.ParentID
		case *StructDeclaration:
			return dd.ParentID
		}
		return ""
	}
	resolve := func(id string) Declaration {
		if d, ok := f.PacketScope[id]; ok {
			return d
		}
		return f.TypedefScope[id]
	}

	for _, d := range f.Declarations {
		seen := map[string]bool{d.ID(): true}
		cur := d
		for {
			pid := parentOf(cur)
			if pid == "" {
				break
			}
			if seen[pid] {
				return errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("declaration %q has a cyclic parent chain through %q", d.ID(), pid))
			}
			seen[pid] = true
			next := resolve(pid)
			if next == nil {
				break
			}
			cur = next
		}
	}
	return nil
}

func validateFields(ctx context.Context, f *File, fields []Field) error {
	for _, fl := range fields {
		switch ff := fl.(type) {
		case *TypedefField:
			if _, ok := f.TypedefScope[ff.TypeID]; !ok {
				return errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("undefined type_id %q", ff.TypeID))
			}
		case *ArrayField:
			if ff.ElementTypeID != nil {
				if _, ok := f.TypedefScope[*ff.ElementTypeID]; !ok {
					return errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("undefined element type_id %q", *ff.ElementTypeID))
				}
			}
		case *GroupField:
			if _, ok := f.GroupScope[ff.GroupID]; !ok {
				return errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("undefined group_id %q", ff.GroupID))
			}
		case *FixedField:
			if ff.EnumID != nil {
				if _, ok := f.TypedefScope[*ff.EnumID]; !ok {
					return errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("undefined enum_id %q", *ff.EnumID))
				}
			}
		}
	}
	return nil
}
