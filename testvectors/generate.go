package testvectors

import (
	"fmt"

	bitpack "github.com/bearlytools/pdlc/internal/bits"
	"github.com/bearlytools/pdlc/internal/errs"
	"github.com/bearlytools/pdlc/ir"
	"github.com/bearlytools/pdlc/layout"
	"github.com/gostdlib/base/context"
)

// Bounds on generated vectors and filler data.
const (
	MaxArraySize       = 256
	MaxArrayCount      = 32
	DefaultArrayCount  = 3
	DefaultPayloadSize = 5
	productCap         = 32
)

// generateFieldValues enumerates the candidate Values for one field:
// minimum, maximum, enumerated, and typical values per field kind.
// constraints holds the ancestor-chain constraints accumulated by
// generateFieldsRecursive, keyed by field id; payload, when non-nil,
// supplies the already-generated child packets a payload/body field
// should wrap instead of generating its own filler.
func generateFieldValues(ctx context.Context, f *ir.File, d ir.Declaration, fl ir.Field, constraints map[string]ir.Constraint, payload []*Packet, gen *BitGenerator) ([]*Value, error) {
	switch t := fl.(type) {
	case *ir.ChecksumField:
		// A checksum marker is a zero-width placeholder; its actual
		// value lives on the TypedefField it covers.
		return []*Value{NewInt(0, 0)}, nil

	case *ir.SizeField:
		return []*Value{generateSizeFieldValue(t)}, nil

	case *ir.CountField:
		return []*Value{generateCountFieldValue(t)}, nil

	case *ir.PayloadField:
		if payload != nil {
			return wrapPayload(payload)
		}
		return generatePayloadFieldValues(d, t.FieldID, t.SizeModifier, gen)

	case *ir.BodyField:
		if payload != nil {
			return wrapPayload(payload)
		}
		return generatePayloadFieldValues(d, t.FieldID, t.SizeModifier, gen)

	case *ir.FixedField:
		return generateFixedFieldValues(ctx, f, t)

	case *ir.ReservedField:
		return []*Value{NewInt(0, t.Width)}, nil

	case *ir.ArrayField:
		return generateArrayFieldValues(ctx, f, d, t, gen)

	case *ir.ScalarField:
		if c, ok := constraints[t.FieldID]; ok {
			v := uint64(0)
			if c.Value != nil {
				v = *c.Value
			}
			return []*Value{NewInt(v, t.Width)}, nil
		}
		mask := uint64(0)
		if t.Width > 0 {
			mask = bitpack.Mask[uint64](0, uint64(t.Width))
		}
		return []*Value{
			NewInt(0, t.Width),
			NewInt(mask, t.Width),
			gen.Generate(t.Width),
		}, nil

	case *ir.TypedefField:
		return generateTypedefFieldValues(ctx, f, constraints, t, gen)
	}

	return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("unsupported field kind %v", fl.Kind()))
}

func wrapPayload(payload []*Packet) ([]*Value, error) {
	out := make([]*Value, 0, len(payload))
	for _, p := range payload {
		v, err := newPacketValue(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func generateFixedFieldValues(ctx context.Context, f *ir.File, t *ir.FixedField) ([]*Value, error) {
	if t.EnumID != nil {
		enumDecl, ok := f.TypedefScope[*t.EnumID].(*ir.EnumDeclaration)
		if !ok {
			return nil, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("fixed field references undefined enum %q", *t.EnumID))
		}
		tagID := ""
		if t.TagID != nil {
			tagID = *t.TagID
		}
		val, found := findTagValue(enumDecl.Tags, tagID)
		if !found {
			return nil, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("undefined enum tag %q", tagID))
		}
		return []*Value{NewInt(val, enumDecl.Width)}, nil
	}

	w, v := 0, uint64(0)
	if t.Width != nil {
		w = *t.Width
	}
	if t.Value != nil {
		v = *t.Value
	}
	return []*Value{NewInt(v, w)}, nil
}

// findTagValue looks up a value tag by id among an enum's own top-level
// tags; it does not recurse into subgroups, matching the constraint and
// fixed-field lookups it grounds on.
func findTagValue(tags []ir.Tag, tagID string) (uint64, bool) {
	for _, t := range tags {
		if t.ID == tagID && t.IsValue() {
			return *t.Value, true
		}
	}
	return 0, false
}

func generateSizeFieldValue(sf *ir.SizeField) *Value {
	targetID := sf.TargetID
	return NewIntFunc(func(parent *Packet) (uint64, error) {
		n, err := targetOctetSize(parent, targetID)
		if err != nil {
			return 0, err
		}
		return uint64(n), nil
	}, sf.Width)
}

func generateCountFieldValue(cf *ir.CountField) *Value {
	targetID := cf.TargetID
	return NewIntFunc(func(parent *Packet) (uint64, error) {
		for _, pf := range parent.Fields {
			id, ok := fieldRefID(pf.Ref)
			if !ok || id != targetID {
				continue
			}
			if pf.Value.kind != valList {
				return 0, fmt.Errorf("field %q is not an array", targetID)
			}
			return uint64(len(pf.Value.listVal)), nil
		}
		return 0, fmt.Errorf("field %q not found in packet %q", targetID, parent.Ref.ID())
	}, cf.Width)
}

func generateChecksumFieldValue(f *ir.File, tf *ir.TypedefField, width int) *Value {
	targetID := tf.FieldID
	return NewIntFunc(func(parent *Packet) (uint64, error) {
		var s *BitSerializer
		for _, pf := range parent.Fields {
			if cf, ok := pf.Ref.(*ir.ChecksumField); ok && cf.TargetID == targetID {
				s = NewBitSerializer(f.Endianness == ir.BigEndian)
				continue
			}
			if td, ok := pf.Ref.(*ir.TypedefField); ok && td.FieldID == targetID {
				if s == nil {
					return 0, fmt.Errorf("checksum field %q: no covering marker found", targetID)
				}
				return basicChecksum(s.stream, width)
			}
			if s != nil {
				if err := pf.Value.serialize(s); err != nil {
					return 0, err
				}
			}
		}
		return 0, fmt.Errorf("checksum field %q: malformed checksum range", targetID)
	}, width)
}

// basicChecksum is the additive sum-mod-256 checksum the generator itself
// uses to stand in for a real ChecksumFunc when building fixtures; the
// user-supplied function named on the ChecksumDeclaration is what a
// generated parser/serializer calls at runtime, not this.
func basicChecksum(data []byte, width int) (uint64, error) {
	if width != 8 {
		return 0, fmt.Errorf("checksum width %d unsupported; only 8-bit checksums are generated", width)
	}
	sum := 0
	for _, b := range data {
		sum += int(b)
	}
	return uint64(sum % 256), nil
}

// generatePaddingFieldGroup synthesizes the candidate-value group for the
// padding that followed arr before normalization consumed it. desugar.
// Normalize folds a PaddingField into its predecessor array's PaddedSize
// rather than re-emitting the node, so the generator reconstructs an
// equivalent freestanding field here: an anonymous *ir.PaddingField ref
// (never registered in any scope) whose value is zero and whose width is
// deferred to a thunk reading the array's finalized length.
func generatePaddingFieldGroup(arr *ir.ArrayField) []*Field {
	paddedSize := *arr.PaddedSize
	arrID := arr.FieldID
	widthFn := func(parent *Packet) (int, error) {
		w, err := fieldBitWidth(parent, arrID)
		if err != nil {
			return 0, err
		}
		target := paddedSize * 8
		if w > target {
			return 0, fmt.Errorf("array %q width %d bits exceeds padded size %d bits", arrID, w, target)
		}
		return target - w, nil
	}
	ref := &ir.PaddingField{Size: paddedSize}
	return []*Field{{Value: NewIntWidthFunc(0, widthFn), Ref: ref}}
}

// targetOctetSize returns the octet length of the field named targetID
// plus its own size_modifier (an array or payload/body field's), the
// quantity a SizeField reports.
func targetOctetSize(parent *Packet, targetID string) (int, error) {
	for _, pf := range parent.Fields {
		id, ok := fieldRefID(pf.Ref)
		if !ok || id != targetID {
			continue
		}
		w := pf.Value.Width()
		if w%8 != 0 {
			return 0, fmt.Errorf("field %q width %d bits is not a multiple of 8", targetID, w)
		}
		return w/8 + sizeModifierOf(pf.Ref), nil
	}
	return 0, fmt.Errorf("field %q not found in packet %q", targetID, parent.Ref.ID())
}

// fieldBitWidth returns the raw bit width of the field named targetID,
// the quantity padding measures against.
func fieldBitWidth(parent *Packet, targetID string) (int, error) {
	for _, pf := range parent.Fields {
		id, ok := fieldRefID(pf.Ref)
		if !ok || id != targetID {
			continue
		}
		w := pf.Value.Width()
		if w%8 != 0 {
			return 0, fmt.Errorf("field %q width %d bits is not a multiple of 8", targetID, w)
		}
		return w, nil
	}
	return 0, fmt.Errorf("field %q not found in packet %q", targetID, parent.Ref.ID())
}

func sizeModifierOf(fl ir.Field) int {
	switch t := fl.(type) {
	case *ir.ArrayField:
		return t.SizeModifier
	case *ir.PayloadField:
		return t.SizeModifier
	case *ir.BodyField:
		return t.SizeModifier
	}
	return 0
}

func generatePayloadFieldValues(d ir.Declaration, fieldID string, sizeModifier int, gen *BitGenerator) ([]*Value, error) {
	maxSize := DefaultPayloadSize
	if sfID := layout.PayloadSizeSourceOf(d, fieldID); sfID != "" {
		sf := findSizeField(d, sfID)
		maxSize = (1 << uint(sf.Width)) - 1
	}
	maxSize -= sizeModifier

	if maxSize <= 0 {
		return nil, fmt.Errorf("payload %q has non-positive max size %d", fieldID, maxSize)
	}
	return []*Value{NewList(nil), NewList(gen.GenerateList(8, maxSize))}, nil
}

func generateArrayFieldValues(ctx context.Context, f *ir.File, d ir.Declaration, arr *ir.ArrayField, gen *BitGenerator) ([]*Value, error) {
	if arr.ElementWidth != nil {
		return generateScalarArrayFieldValues(d, arr, gen)
	}
	return generateTypedefArrayFieldValues(ctx, f, d, arr, gen)
}

func generateScalarArrayFieldValues(d ir.Declaration, arr *ir.ArrayField, gen *BitGenerator) ([]*Value, error) {
	elementWidth := *arr.ElementWidth
	if elementWidth%8 != 0 {
		return nil, fmt.Errorf("array %q element size %d bits is not a multiple of 8", arr.FieldID, elementWidth)
	}
	elementBytes := elementWidth / 8

	src := layout.ArraySizeSourceOf(d, arr, arr.FieldID)

	// A padded array holds at most as many elements as fit its padded size.
	capCount := func(n int) int {
		if arr.PaddedSize != nil && *arr.PaddedSize/elementBytes < n {
			return *arr.PaddedSize / elementBytes
		}
		return n
	}

	switch {
	case src.Constant != nil:
		return []*Value{NewList(gen.GenerateList(elementWidth, *src.Constant))}, nil

	case src.CountFieldID != "":
		cf := findCountField(d, src.CountFieldID)
		maxCount := (1 << uint(cf.Width)) - 1
		return []*Value{NewList(nil), NewList(gen.GenerateList(elementWidth, capCount(maxCount)))}, nil

	case src.SizeFieldID != "":
		sf := findSizeField(d, src.SizeFieldID)
		maxSize := (1 << uint(sf.Width)) - 1 - arr.SizeModifier
		maxCount := maxSize / elementBytes
		return []*Value{NewList(nil), NewList(gen.GenerateList(elementWidth, capCount(maxCount)))}, nil

	default:
		return []*Value{NewList(nil), NewList(gen.GenerateList(elementWidth, capCount(DefaultArrayCount)))}, nil
	}
}

// generateTypedefArrayFieldValues packs all generated element values for
// the array's referent type into one or more chunks sized to the array's
// bound(s).
func generateTypedefArrayFieldValues(ctx context.Context, f *ir.File, d ir.Declaration, arr *ir.ArrayField, gen *BitGenerator) ([]*Value, error) {
	typeDecl, ok := f.TypedefScope[*arr.ElementTypeID]
	if !ok {
		return nil, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("array %q references undefined type %q", arr.FieldID, *arr.ElementTypeID))
	}

	maxSize := MaxArraySize
	maxCount := MaxArrayCount
	minCount := 0

	if arr.PaddedSize != nil {
		maxSize = *arr.PaddedSize
	}

	src := layout.ArraySizeSourceOf(d, arr, arr.FieldID)
	switch {
	case src.SizeFieldID != "":
		sf := findSizeField(d, src.SizeFieldID)
		maxSize = (1 << uint(sf.Width)) - 1 - arr.SizeModifier
	case src.CountFieldID != "":
		cf := findCountField(d, src.CountFieldID)
		maxCount = (1 << uint(cf.Width)) - 1
	case src.Constant != nil:
		minCount, maxCount = *src.Constant, *src.Constant
	}

	var values []*Value
	var chunk []*Value
	chunkSize := 0

	for len(values) == 0 {
		elementValues, err := generateTypedefValues(ctx, f, typeDecl, gen)
		if err != nil {
			return nil, err
		}
		for _, ev := range elementValues {
			if ev.Width()%8 != 0 {
				return nil, fmt.Errorf("array %q element width %d bits is not a multiple of 8", arr.FieldID, ev.Width())
			}
			elementSize := ev.Width() / 8

			if len(chunk) >= maxCount || chunkSize+elementSize > maxSize {
				if len(chunk) < minCount {
					return nil, fmt.Errorf("array %q chunk of %d elements is shorter than minimum count %d", arr.FieldID, len(chunk), minCount)
				}
				values = append(values, NewList(chunk))
				chunk = nil
				chunkSize = 0
			}

			chunk = append(chunk, ev)
			chunkSize += elementSize
		}
	}

	if minCount == 0 {
		values = append(values, NewList(nil))
	}
	return values, nil
}

// generateTypedefValues enumerates representative Values for a typedef's
// referent declaration.
func generateTypedefValues(ctx context.Context, f *ir.File, decl ir.Declaration, gen *BitGenerator) ([]*Value, error) {
	switch dd := decl.(type) {
	case *ir.EnumDeclaration:
		var out []*Value
		for _, t := range dd.Tags {
			for _, leaf := range t.Leaves() {
				out = append(out, NewInt(*leaf.Value, dd.Width))
			}
		}
		return out, nil

	case *ir.ChecksumDeclaration:
		return nil, fmt.Errorf("checksum declaration %q must be referenced from a typedef field, not enumerated directly", dd.DeclID)

	case *ir.CustomFieldDeclaration:
		// Custom field content is opaque here: only the Parse/ParseAll
		// contract is known, not a way to generate sample values.
		return nil, fmt.Errorf("custom field %q has no built-in value generator", dd.DeclID)

	case *ir.StructDeclaration:
		structs, err := generateStructValues(ctx, f, dd, gen)
		if err != nil {
			return nil, err
		}
		out := make([]*Value, 0, len(structs))
		for _, p := range structs {
			v, err := newPacketValue(p)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported typedef declaration kind %v", decl.Kind())
}

func generateTypedefFieldValues(ctx context.Context, f *ir.File, constraints map[string]ir.Constraint, tf *ir.TypedefField, gen *BitGenerator) ([]*Value, error) {
	typeDecl, ok := f.TypedefScope[tf.TypeID]
	if !ok {
		return nil, fmt.Errorf("typedef field %q references undefined type %q", tf.FieldID, tf.TypeID)
	}

	if enumDecl, isEnum := typeDecl.(*ir.EnumDeclaration); isEnum {
		if c, constrained := constraints[tf.FieldID]; constrained {
			tagID := ""
			if c.TagID != nil {
				tagID = *c.TagID
			}
			val, found := findTagValue(enumDecl.Tags, tagID)
			if !found {
				return nil, fmt.Errorf("undefined enum tag %q", tagID)
			}
			return []*Value{NewInt(val, enumDecl.Width)}, nil
		}
	}

	if _, isChecksum := typeDecl.(*ir.ChecksumDeclaration); isChecksum {
		width, known := layout.FieldSizeInFile(f, tf, true)
		if !known {
			return nil, fmt.Errorf("checksum field %q has unknown width", tf.FieldID)
		}
		return []*Value{generateChecksumFieldValue(f, tf, width)}, nil
	}

	return generateTypedefValues(ctx, f, typeDecl, gen)
}

func findSizeField(d ir.Declaration, id string) *ir.SizeField {
	for _, fl := range layout.Fields(d) {
		if sf, ok := fl.(*ir.SizeField); ok && sf.FieldID == id {
			return sf
		}
	}
	return nil
}

func findCountField(d ir.Declaration, id string) *ir.CountField {
	for _, fl := range layout.Fields(d) {
		if cf, ok := fl.(*ir.CountField); ok && cf.FieldID == id {
			return cf
		}
	}
	return nil
}

// generateFields produces one candidate-value group per field of d's own
// field list, injecting a synthetic padding group after any array whose
// PaddedSize was set by desugar.Normalize.
func generateFields(ctx context.Context, f *ir.File, d ir.Declaration, constraints map[string]ir.Constraint, payload []*Packet, gen *BitGenerator) ([][]*Field, error) {
	var out [][]*Field
	for _, fl := range layout.Fields(d) {
		values, err := generateFieldValues(ctx, f, d, fl, constraints, payload, gen)
		if err != nil {
			return nil, err
		}
		group := make([]*Field, len(values))
		for i, v := range values {
			group[i] = &Field{Value: v, Ref: fl}
		}
		out = append(out, group)

		if arr, ok := fl.(*ir.ArrayField); ok && arr.PaddedSize != nil {
			out = append(out, generatePaddingFieldGroup(arr))
		}
	}
	return out, nil
}

// generateFieldsRecursive generates decl's own fields, then (if decl has a
// parent) wraps each candidate combination as a Packet and hands the whole
// set up as the parent's payload, accumulating decl's own constraints for
// the parent's field generation, continuing until the root ancestor. It
// returns the ROOT's candidate-value groups; the caller tags the resulting
// instances with the originally requested (possibly derived) declaration.
func generateFieldsRecursive(ctx context.Context, f *ir.File, scope map[string]ir.Declaration, d ir.Declaration, constraints map[string]ir.Constraint, payload []*Packet, gen *BitGenerator) ([][]*Field, error) {
	fields, err := generateFields(ctx, f, d, constraints, payload, gen)
	if err != nil {
		return nil, err
	}

	parentID := layout.ParentID(d)
	if parentID == "" {
		return fields, nil
	}

	combos := product(fields)
	packets := make([]*Packet, len(combos))
	for i, combo := range combos {
		packets[i] = &Packet{Fields: combo, Ref: d}
	}

	parentDecl, ok := scope[parentID]
	if !ok {
		return nil, fmt.Errorf("declaration %q parent %q not found", d.ID(), parentID)
	}

	return generateFieldsRecursive(ctx, f, scope, parentDecl, mergeConstraints(constraints, declConstraints(d)), packets, gen)
}

func declConstraints(d ir.Declaration) []ir.Constraint {
	switch dd := d.(type) {
	case *ir.PacketDeclaration:
		return dd.Constraints
	case *ir.StructDeclaration:
		return dd.Constraints
	}
	return nil
}

func mergeConstraints(base map[string]ir.Constraint, add []ir.Constraint) map[string]ir.Constraint {
	merged := make(map[string]ir.Constraint, len(base)+len(add))
	for k, v := range base {
		merged[k] = v
	}
	for _, c := range add {
		merged[c.ID] = c
	}
	return merged
}

func generatePacketValues(ctx context.Context, f *ir.File, decl *ir.PacketDeclaration, gen *BitGenerator) ([]*Packet, error) {
	fields, err := generateFieldsRecursive(ctx, f, f.PacketScope, decl, map[string]ir.Constraint{}, nil, gen)
	if err != nil {
		return nil, err
	}
	return packetsFrom(product(fields), decl), nil
}

func generateStructValues(ctx context.Context, f *ir.File, decl *ir.StructDeclaration, gen *BitGenerator) ([]*Packet, error) {
	fields, err := generateFieldsRecursive(ctx, f, f.TypedefScope, decl, map[string]ir.Constraint{}, nil, gen)
	if err != nil {
		return nil, err
	}
	return packetsFrom(product(fields), decl), nil
}

func packetsFrom(combos [][]*Field, ref ir.Declaration) []*Packet {
	out := make([]*Packet, len(combos))
	for i, combo := range combos {
		out[i] = &Packet{Fields: combo, Ref: ref}
	}
	return out
}

// product takes the Cartesian product of each field's candidate-value
// group, capped at 32 combinations; past the cap it instead samples
// max_len+1 combinations (max_len the longest group), picking value
// idx % len(group) from each group so every value appears at least once.
func product(fields [][]*Field) [][]*Field {
	if len(fields) == 0 {
		return [][]*Field{{}}
	}

	count := 1
	maxLen := 0
	for _, fl := range fields {
		count *= len(fl)
		if len(fl) > maxLen {
			maxLen = len(fl)
		}
	}

	if count <= productCap {
		return cartesian(fields)
	}

	out := make([][]*Field, maxLen+1)
	for idx := 0; idx <= maxLen; idx++ {
		combo := make([]*Field, len(fields))
		for i, fl := range fields {
			combo[i] = fl[idx%len(fl)].clone()
		}
		out[idx] = combo
	}
	return out
}

func cartesian(fields [][]*Field) [][]*Field {
	if len(fields) == 0 {
		return [][]*Field{{}}
	}
	rest := cartesian(fields[1:])
	var out [][]*Field
	for _, item := range fields[0] {
		for _, tail := range rest {
			combo := make([]*Field, 0, len(tail)+1)
			combo = append(combo, item.clone())
			for _, tf := range tail {
				combo = append(combo, tf.clone())
			}
			out = append(out, combo)
		}
	}
	return out
}
