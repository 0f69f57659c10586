// Package layout answers the statically-decidable questions codegen needs
// about canonical (post-desugar) IR: bit widths, offsets, array/payload
// size sources, bit-field-ness, packet body shift, ancestry, and derived
// packets. Every function here is a pure query; none mutates the IR.
package layout

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/bearlytools/pdlc/internal/errs"
	"github.com/bearlytools/pdlc/internal/field"
	"github.com/bearlytools/pdlc/ir"
	"github.com/gostdlib/base/context"
)

// Fields returns the own field list of a packet or struct declaration, or
// nil for any other declaration kind.
func Fields(d ir.Declaration) []ir.Field {
	switch dd := d.(type) {
	case *ir.PacketDeclaration:
		return dd.Fields
	case *ir.StructDeclaration:
		return dd.Fields
	}
	return nil
}

// ParentID returns the parent_id of a packet or struct declaration, or ""
// if it has none or isn't a packet/struct.
func ParentID(d ir.Declaration) string {
	switch dd := d.(type) {
	case *ir.PacketDeclaration:
		return dd.ParentID
	case *ir.StructDeclaration:
		return dd.ParentID
	}
	return ""
}

func resolve(f *ir.File, id string) (ir.Declaration, bool) {
	if d, ok := f.PacketScope[id]; ok {
		return d, true
	}
	if d, ok := f.TypedefScope[id]; ok {
		return d, true
	}
	return nil, false
}

// FieldSize returns the size in bits of f, and false if it's not statically
// decidable (an unbounded array, or a payload/body field when
// skipPayload is false).
func FieldSize(fl ir.Field, skipPayload bool) (int, bool) {
	switch t := fl.(type) {
	case *ir.ScalarField:
		return t.Width, true
	case *ir.SizeField:
		return t.Width, true
	case *ir.CountField:
		return t.Width, true
	case *ir.ReservedField:
		return t.Width, true
	case *ir.ChecksumField:
		return 0, true
	case *ir.FixedField:
		if t.Width != nil {
			return *t.Width, true
		}
		// An enum-tag FixedField's width requires resolving EnumID
		// against the File's typedef scope; see FieldSizeInFile.
		return 0, false
	case *ir.ArrayField:
		if t.PaddedSize != nil {
			return *t.PaddedSize * 8, true
		}
		if t.Size != nil && t.ElementWidth != nil {
			return *t.Size * *t.ElementWidth, true
		}
		return 0, false
	case *ir.TypedefField:
		return 0, false // resolved by FieldSizeInFile, which has scope access
	case *ir.PayloadField, *ir.BodyField:
		if skipPayload {
			return 0, true
		}
		return 0, false
	case *ir.PaddingField:
		return 0, true
	}
	return 0, false
}

// ArrayElementSize returns the bit width of one element of arr: the
// inline scalar width when the array declares one, otherwise the
// declaration size of the referent element type. Absent when neither is
// statically known (a variable-size custom element).
func ArrayElementSize(f *ir.File, arr *ir.ArrayField) (int, bool) {
	if arr.ElementWidth != nil {
		return *arr.ElementWidth, true
	}
	if arr.ElementTypeID != nil {
		referent, ok := resolve(f, *arr.ElementTypeID)
		if !ok {
			return 0, false
		}
		return DeclarationSize(f, referent, false)
	}
	return 0, false
}

// FieldSizeInFile is FieldSize extended to resolve TypedefField,
// typedef-element array, and enum-tag FixedField sizes via the owning
// File's typedef scope.
func FieldSizeInFile(f *ir.File, fl ir.Field, skipPayload bool) (int, bool) {
	switch t := fl.(type) {
	case *ir.TypedefField:
		referent, ok := resolve(f, t.TypeID)
		if !ok {
			return 0, false
		}
		return DeclarationSize(f, referent, false)
	case *ir.ArrayField:
		if t.PaddedSize != nil {
			return *t.PaddedSize * 8, true
		}
		if t.Size != nil {
			ew, ok := ArrayElementSize(f, t)
			if !ok {
				return 0, false
			}
			return *t.Size * ew, true
		}
		return 0, false
	case *ir.FixedField:
		if t.Width != nil {
			return *t.Width, true
		}
		if t.EnumID != nil {
			referent, ok := f.TypedefScope[*t.EnumID]
			if !ok {
				return 0, false
			}
			enum, ok := referent.(*ir.EnumDeclaration)
			if !ok {
				return 0, false
			}
			return enum.Width, true
		}
		return 0, false
	}
	return FieldSize(fl, skipPayload)
}

// DeclarationSize returns the size in bits of an entire declaration: for
// enum/custom-field/checksum declarations, their own width; for
// packet/struct declarations, their parent's declaration size (computed
// with skipPayload=true) plus the sum of their own field sizes.
func DeclarationSize(f *ir.File, d ir.Declaration, skipPayload bool) (int, bool) {
	switch dd := d.(type) {
	case *ir.EnumDeclaration:
		return dd.Width, true
	case *ir.CustomFieldDeclaration:
		if dd.Width == nil {
			return 0, false
		}
		return *dd.Width, true
	case *ir.ChecksumDeclaration:
		return dd.Width, true
	}

	fields := Fields(d)
	parentID := ParentID(d)

	total := 0
	if parentID != "" {
		parent, ok := resolve(f, parentID)
		if !ok {
			return 0, false
		}
		ps, ok := DeclarationSize(f, parent, true)
		if !ok {
			return 0, false
		}
		total += ps
	}

	for _, fl := range fields {
		sz, ok := FieldSizeInFile(f, fl, skipPayload)
		if !ok {
			return 0, false
		}
		total += sz
	}
	return total, true
}

// IsBitField reports whether fl packs into a shared bit chunk: scalar,
// size, count, reserved, and fixed fields always do; a typedef field does
// only when its referent is an enum.
func IsBitField(f *ir.File, fl ir.Field) bool {
	if field.IsBitGranular(fl.Kind()) {
		return true
	}
	if t, ok := fl.(*ir.TypedefField); ok {
		referent, ok := resolve(f, t.TypeID)
		if !ok {
			return false
		}
		_, isEnum := referent.(*ir.EnumDeclaration)
		return isEnum
	}
	return false
}

// ArraySizeSource describes what determines an array field's element
// count or byte size.
type ArraySizeSource struct {
	// Constant is set when the array has a compile-time constant element
	// count (ArrayField.Size).
	Constant *int
	// SizeFieldID is set when a SizeField in the same declaration names
	// this array, giving its byte size.
	SizeFieldID string
	// CountFieldID is set when a CountField in the same declaration names
	// this array, giving its element count.
	CountFieldID string
}

// Unbounded reports whether none of Constant/SizeFieldID/CountFieldID is
// set, meaning the array's extent isn't statically known and it must
// consume the rest of its span.
func (s ArraySizeSource) Unbounded() bool {
	return s.Constant == nil && s.SizeFieldID == "" && s.CountFieldID == ""
}

// ArraySizeSourceOf returns the size source for the array field with id
// arrayID declared in d.
func ArraySizeSourceOf(d ir.Declaration, arr *ir.ArrayField, arrayID string) ArraySizeSource {
	if arr.Size != nil {
		return ArraySizeSource{Constant: arr.Size}
	}
	for _, fl := range Fields(d) {
		switch t := fl.(type) {
		case *ir.SizeField:
			if t.TargetID == arrayID {
				return ArraySizeSource{SizeFieldID: t.FieldID}
			}
		case *ir.CountField:
			if t.TargetID == arrayID {
				return ArraySizeSource{CountFieldID: t.FieldID}
			}
		}
	}
	return ArraySizeSource{}
}

// PayloadSizeSourceOf returns the id of the SizeField in d that names the
// payload/body field payloadID, or "" if none does (a sizeless payload is
// either trailing or bounded by offset-from-end).
func PayloadSizeSourceOf(d ir.Declaration, payloadID string) string {
	for _, fl := range Fields(d) {
		if sf, ok := fl.(*ir.SizeField); ok && sf.TargetID == payloadID {
			return sf.FieldID
		}
	}
	return ""
}

// fieldID extracts the identifier of any field kind that carries one.
func fieldID(fl ir.Field) string {
	switch t := fl.(type) {
	case *ir.ScalarField:
		return t.FieldID
	case *ir.TypedefField:
		return t.FieldID
	case *ir.ArrayField:
		return t.FieldID
	case *ir.SizeField:
		return t.FieldID
	case *ir.CountField:
		return t.FieldID
	case *ir.PayloadField:
		return t.FieldID
	case *ir.BodyField:
		return t.FieldID
	}
	return ""
}

// OffsetFromStart returns the bit offset of the field with id targetID
// from the start of d's own field list (not including any parent), and
// false if any preceding field's size is unknown.
func OffsetFromStart(f *ir.File, d ir.Declaration, targetID string) (int, bool) {
	offset := 0
	for _, fl := range Fields(d) {
		if fieldID(fl) == targetID {
			return offset, true
		}
		sz, ok := FieldSizeInFile(f, fl, true)
		if !ok {
			return 0, false
		}
		offset += sz
	}
	return 0, false
}

// OffsetFromEnd returns the bit offset of the field with id targetID from
// the end of d's own field list, and false if any following field's size
// is unknown.
func OffsetFromEnd(f *ir.File, d ir.Declaration, targetID string) (int, bool) {
	fields := Fields(d)
	offset := 0
	found := false
	for i := len(fields) - 1; i >= 0; i-- {
		fl := fields[i]
		if fieldID(fl) == targetID {
			found = true
			break
		}
		sz, ok := FieldSizeInFile(f, fl, true)
		if !ok {
			return 0, false
		}
		offset += sz
	}
	if !found {
		return 0, false
	}
	return offset, true
}

// Ancestor follows parent_id to the root declaration.
func Ancestor(f *ir.File, d ir.Declaration) ir.Declaration {
	for {
		pid := ParentID(d)
		if pid == "" {
			return d
		}
		parent, ok := resolve(f, pid)
		if !ok {
			return d
		}
		d = parent
	}
}

// isPayloadOnly reports whether d's only field is a payload or body field,
// making it a transparent alias in derived-packet walks.
func isPayloadOnly(d ir.Declaration) bool {
	fields := Fields(d)
	if len(fields) != 1 {
		return false
	}
	switch fields[0].(type) {
	case *ir.PayloadField, *ir.BodyField:
		return true
	}
	return false
}

// BodyShift returns the number of bits between the last byte boundary and
// the start of d's payload/body, walking up through any empty (payload-
// only) parents. A non-zero shift on a big-endian file is an error.
func BodyShift(ctx context.Context, f *ir.File, d ir.Declaration) (int, error) {
	cur := d
	shift := 0
	for {
		pid := ParentID(cur)
		if pid == "" {
			break
		}
		parent, ok := resolve(f, pid)
		if !ok {
			break
		}
		if isPayloadOnly(parent) {
			cur = parent
			continue
		}

		payloadID := findPayloadID(parent)
		if payloadID == "" {
			break
		}
		off, ok := OffsetFromStart(f, parent, payloadID)
		if !ok {
			return 0, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("cannot compute body shift: payload offset in %q is not statically known", parent.ID()))
		}
		shift = off % 8
		break
	}

	if shift != 0 && f.Endianness == ir.BigEndian {
		return 0, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeBadShift, fmt.Errorf("declaration %q has non-zero body shift %d on a big-endian file", d.ID(), shift))
	}
	return shift, nil
}

func findPayloadID(d ir.Declaration) string {
	for _, fl := range Fields(d) {
		switch t := fl.(type) {
		case *ir.PayloadField:
			return t.FieldID
		case *ir.BodyField:
			return t.FieldID
		}
	}
	return ""
}

// DerivedPackets returns d's direct children in the packet scope. A child
// whose only field is a payload is a transparent alias: it is skipped and
// its own children are returned in its place. The alias's constraints are
// not folded here; specialization and test-vector generation collect them
// by walking the parent chain themselves.
func DerivedPackets(f *ir.File, d ir.Declaration) []*ir.PacketDeclaration {
	var direct []*ir.PacketDeclaration
	for _, other := range f.Declarations {
		pkt, ok := other.(*ir.PacketDeclaration)
		if !ok {
			continue
		}
		if pkt.ParentID == d.ID() {
			direct = append(direct, pkt)
		}
	}

	var out []*ir.PacketDeclaration
	for _, child := range direct {
		if isPayloadOnly(child) {
			out = append(out, DerivedPackets(f, child)...)
			continue
		}
		out = append(out, child)
	}
	return out
}

// ChecksumRange resolves the bit span a ChecksumField covers: from the
// marker's own position up to (but not including) the checksum-valued
// field it names. Both bounds are derived forward from declaration
// layout, never via negative-index slicing into a partially-written
// buffer.
func ChecksumRange(f *ir.File, d ir.Declaration, marker *ir.ChecksumField) (startBit, endBit int, err error) {
	fields := Fields(d)
	markerIdx := -1
	for i, fl := range fields {
		if same, ok := fl.(*ir.ChecksumField); ok && same == marker {
			markerIdx = i
			break
		}
	}
	if markerIdx < 0 {
		return 0, 0, errors.New("checksum marker not found in declaration's own field list")
	}

	start := 0
	for i := 0; i < markerIdx; i++ {
		sz, ok := FieldSizeInFile(f, fields[i], true)
		if !ok {
			return 0, 0, errors.Errorf("checksum range start: field %d size unknown", i)
		}
		start += sz
	}

	end, ok := OffsetFromStart(f, d, marker.TargetID)
	if !ok {
		return 0, 0, errors.Errorf("checksum range end: target field %q offset unknown", marker.TargetID)
	}

	return start, end, nil
}
