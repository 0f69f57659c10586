// Package desugar rewrites a raw, freshly-decoded ir.File into canonical
// form: group fields are inlined, constrained fields become fixed fields,
// padding attaches to its predecessor array, and group declarations are
// dropped.
package desugar

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/bearlytools/pdlc/internal/errs"
	"github.com/bearlytools/pdlc/ir"
	"github.com/gostdlib/base/context"
)

// Normalize rewrites f in place into canonical form. Call after
// ir.BuildScopes and before layout queries or planning.
func Normalize(ctx context.Context, f *ir.File) error {
	for _, d := range f.Declarations {
		switch dd := d.(type) {
		case *ir.PacketDeclaration:
			// dd.Constraints fixes fields inherited from dd's parent, not
			// any field in dd.Fields itself, so the top-level call starts
			// with no constraints in scope; only a GroupField's own
			// constraints ever apply here, to the group's inlined fields.
			fields, err := normalizeFields(ctx, f, dd, nil, dd.Fields)
			if err != nil {
				return errors.Wrapf(err, "normalizing packet %q", dd.DeclID)
			}
			dd.Fields = fields
		case *ir.StructDeclaration:
			fields, err := normalizeFields(ctx, f, dd, nil, dd.Fields)
			if err != nil {
				return errors.Wrapf(err, "normalizing struct %q", dd.DeclID)
			}
			dd.Fields = fields
		}
	}

	dropGroups(f)

	return nil
}

// normalizeFields walks fields in order, expanding GroupField references,
// substituting FixedField for constrained Scalar/Typedef fields, and
// consuming PaddingField into the preceding array's PaddedSize. owner is
// the declaration the resulting fields belong to (needed for re-parenting
// fields inlined from a group).
func normalizeFields(ctx context.Context, f *ir.File, owner ir.Declaration, constraints map[string]ir.Constraint, fields []ir.Field) ([]ir.Field, error) {
	out := make([]ir.Field, 0, len(fields))

	for _, fl := range fields {
		switch ff := fl.(type) {
		case *ir.GroupField:
			group, ok := f.GroupScope[ff.GroupID]
			if !ok {
				return nil, errs.E(ctx, errs.CatNormalization, errs.TypeUndefinedRef, fmt.Errorf("group %q referenced without definition", ff.GroupID))
			}
			gd := group.(*ir.GroupDeclaration)

			merged := make(map[string]ir.Constraint, len(constraints)+len(ff.Constraints))
			for k, v := range constraints {
				merged[k] = v
			}
			for _, c := range ff.Constraints {
				merged[c.ID] = c
			}

			expanded, err := normalizeFields(ctx, f, owner, merged, gd.Fields)
			if err != nil {
				return nil, errors.Wrapf(err, "expanding group %q", ff.GroupID)
			}
			for _, ex := range expanded {
				ir.SetDecl(ex, owner)
			}
			out = append(out, expanded...)

		case *ir.PaddingField:
			if len(out) == 0 {
				return nil, errs.E(ctx, errs.CatNormalization, errs.TypeMissingPredecessor, fmt.Errorf("padding field has no preceding field"))
			}
			prev, ok := out[len(out)-1].(*ir.ArrayField)
			if !ok {
				return nil, errs.E(ctx, errs.CatNormalization, errs.TypeMissingPredecessor, fmt.Errorf("padding field's predecessor is not an array field"))
			}
			size := ff.Size
			prev.PaddedSize = &size
			// consumed: not re-emitted.

		default:
			constrained, matched := applyConstraint(fl, constraints)
			if matched {
				ir.SetDecl(constrained, owner)
				out = append(out, constrained)
				continue
			}
			out = append(out, fl)
		}
	}

	return out, nil
}

// applyConstraint substitutes a FixedField for a ScalarField or TypedefField
// whose id matches one of the constraints in scope (those of the enclosing
// GroupField references), preserving width. Any other field kind is returned unchanged.
func applyConstraint(fl ir.Field, constraints map[string]ir.Constraint) (ir.Field, bool) {
	switch t := fl.(type) {
	case *ir.ScalarField:
		c, ok := constraints[t.FieldID]
		if !ok {
			return fl, false
		}
		w := t.Width
		return &ir.FixedField{Width: &w, Value: c.Value}, true
	case *ir.TypedefField:
		c, ok := constraints[t.FieldID]
		if !ok {
			return fl, false
		}
		typeID := t.TypeID
		return &ir.FixedField{EnumID: &typeID, TagID: c.TagID, Value: c.Value}, true
	}
	return fl, false
}

// dropGroups removes every GroupDeclaration from f.Declarations and clears
// f.GroupScope; no group node survives normalization.
func dropGroups(f *ir.File) {
	out := make([]ir.Declaration, 0, len(f.Declarations))
	for _, d := range f.Declarations {
		if _, ok := d.(*ir.GroupDeclaration); ok {
			continue
		}
		out = append(out, d)
	}
	f.Declarations = out
	f.GroupScope = map[string]ir.Declaration{}
}
