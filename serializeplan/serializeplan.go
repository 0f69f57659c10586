// Package serializeplan is the write-direction counterpart to parseplan:
// it turns a canonical declaration into an ordered sequence of concrete
// write actions over an output buffer, including bit accumulation with
// range checks, array writes with padding, checksum write-back, and
// delegation from a derived packet to its parent.
package serializeplan

import (
	"fmt"

	"github.com/bearlytools/pdlc/internal/errs"
	"github.com/bearlytools/pdlc/internal/field"
	"github.com/bearlytools/pdlc/ir"
	"github.com/bearlytools/pdlc/layout"
	"github.com/gostdlib/base/context"
)

// Kind discriminates the action variants produced by Plan.
type Kind int

const (
	// WriteChunk closes a buffered run of bit-granular fields into one
	// little/big-endian write of a backing unsigned integer.
	WriteChunk Kind = iota
	// WriteTypedef writes a nested struct/enum/custom field verbatim.
	WriteTypedef
	// WriteArray writes an array's elements, padding to PaddedSize with
	// zero bytes if set.
	WriteArray
	// WritePayload writes the payload/body bytes, re-extracting a
	// bit-shifted leading byte into the prior chunk when Shift != 0.
	WritePayload
	// WriteChecksum invokes the user checksum function over
	// [ChecksumStartBit, ChecksumEndBit) and writes its output.
	WriteChecksum
	// Delegate emits own fields into a local buffer and hands it to the
	// parent declaration's serializer as its payload argument.
	Delegate
)

// ChunkField is one bit-granular field folded into a WriteChunk action.
type ChunkField struct {
	Shift   int
	Width   int
	FieldID string
	Kind    field.Kind

	// FixedValue is the literal to emit for a KindFixed field.
	FixedValue uint64

	// EnumID names the referent for a typedef field folded in at its
	// enum's declared width.
	EnumID string

	// SizeOfFieldID / CountOfFieldID name the field this size/count
	// field's value is computed from, for KindSize/KindCount entries.
	// SizeOfElementBytes is the target array's element byte width, so a
	// size field reports element-count × element-bytes rather than the
	// bare element count.
	SizeOfFieldID      string
	SizeOfElementBytes int
	CountOfFieldID     string
	SizeModifier       int
}

// Action is one step of a serialize plan.
type Action struct {
	Kind Kind

	ByteWidth   int
	ChunkFields []ChunkField

	FieldID string
	TypeID  string
	// TypeWidthBits is the referent's statically-known size, when
	// HasTypeWidth; a self-delimiting referent serializes through its
	// own plan.
	TypeWidthBits int
	HasTypeWidth  bool

	// ElementWidth is the resolved per-element bit width: the array's
	// inline scalar width, or the referent element type's declaration
	// size; 0 when the element type is self-delimiting and each element
	// must be serialized through its own plan.
	ElementWidth  int
	ElementTypeID string
	PaddedSize    int
	HasPaddedSize bool

	SizeModifier int
	// Shift is the payload's bit offset within its first byte; non-zero
	// means the first payload byte is OR-combined into the preceding
	// WriteChunk's final byte.
	Shift int

	ChecksumFunc      string
	ChecksumWidthBits int
	ChecksumStartBit  int
	ChecksumEndBit    int

	ParentID string
}

// Plan produces the ordered serialize action list for declID.
func Plan(ctx context.Context, f *ir.File, declID string) ([]Action, error) {
	d, ok := f.PacketScope[declID]
	if !ok {
		d, ok = f.TypedefScope[declID]
	}
	if !ok {
		return nil, errs.E(ctx, errs.CatMalformedIR, errs.TypeUndefinedRef, fmt.Errorf("declaration %q not found", declID))
	}

	fields := layout.Fields(d)
	markers := checksumMarkers(fields)

	var actions []Action
	var chunk []ChunkField
	bitPos := 0

	flush := func() {
		if len(chunk) == 0 {
			return
		}
		actions = append(actions, Action{Kind: WriteChunk, ByteWidth: bitPos / 8, ChunkFields: chunk})
		chunk = nil
		bitPos = 0
	}

	for i, fl := range fields {
		if cf, ok := toChunkField(f, fl); ok {
			cf.Shift = bitPos
			chunk = append(chunk, cf)
			bitPos += cf.Width
			if bitPos%8 == 0 {
				flush()
			}
			continue
		}

		_, isPayload := fl.(*ir.PayloadField)
		_, isBody := fl.(*ir.BodyField)
		if bitPos%8 != 0 && !isPayload && !isBody {
			return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnaligned, fmt.Errorf("field %d of %q does not start on a byte boundary", i, declID))
		}
		if bitPos%8 == 0 {
			flush()
		}

		switch t := fl.(type) {
		case *ir.TypedefField:
			if marker, covered := markers[t.FieldID]; covered {
				start, end, err := layout.ChecksumRange(f, d, marker)
				if err != nil {
					return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, err)
				}
				checksumDecl := f.TypedefScope[t.TypeID]
				fn, width := "", 8
				if cd, ok := checksumDecl.(*ir.ChecksumDeclaration); ok {
					fn, width = cd.Function, cd.Width
				}
				actions = append(actions, Action{Kind: WriteChecksum, FieldID: t.FieldID, TypeID: t.TypeID, ChecksumFunc: fn, ChecksumWidthBits: width, ChecksumStartBit: start, ChecksumEndBit: end})
				continue
			}
			if sd, ok := f.TypedefScope[t.TypeID].(*ir.StructDeclaration); ok && sd.ParentID != "" {
				return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("typedef field %q references derived struct %q", t.FieldID, t.TypeID))
			}
			a := Action{Kind: WriteTypedef, FieldID: t.FieldID, TypeID: t.TypeID}
			if w, known := layout.FieldSizeInFile(f, t, true); known {
				a.TypeWidthBits, a.HasTypeWidth = w, true
			}
			actions = append(actions, a)

		case *ir.ArrayField:
			a := Action{Kind: WriteArray, FieldID: t.FieldID, SizeModifier: t.SizeModifier}
			if ew, ok := layout.ArrayElementSize(f, t); ok {
				a.ElementWidth = ew
			}
			if t.ElementTypeID != nil {
				a.ElementTypeID = *t.ElementTypeID
			}
			if t.PaddedSize != nil {
				a.PaddedSize, a.HasPaddedSize = *t.PaddedSize, true
			}
			actions = append(actions, a)

		case *ir.PayloadField:
			a, err := planPayload(ctx, f, t.FieldID, t.SizeModifier, bitPos%8)
			if err != nil {
				return nil, err
			}
			if a.Shift != 0 {
				chunk = append(chunk, ChunkField{Shift: bitPos, Width: 8 - bitPos%8, Kind: field.KindReserved})
				bitPos += 8 - bitPos%8
				flush()
			}
			actions = append(actions, a)
		case *ir.BodyField:
			a, err := planPayload(ctx, f, t.FieldID, t.SizeModifier, bitPos%8)
			if err != nil {
				return nil, err
			}
			if a.Shift != 0 {
				chunk = append(chunk, ChunkField{Shift: bitPos, Width: 8 - bitPos%8, Kind: field.KindReserved})
				bitPos += 8 - bitPos%8
				flush()
			}
			actions = append(actions, a)
		}
	}
	if bitPos%8 != 0 {
		return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnaligned, fmt.Errorf("declaration %q does not end on a byte boundary", declID))
	}
	flush()

	if pid := layout.ParentID(d); pid != "" {
		shift, err := layout.BodyShift(ctx, f, d)
		if err != nil {
			return nil, err
		}
		actions = append(actions, Action{Kind: Delegate, ParentID: pid, Shift: shift})
	}

	return actions, nil
}

func planPayload(ctx context.Context, f *ir.File, fieldID string, sizeModifier, shift int) (Action, error) {
	if shift != 0 && f.Endianness == ir.BigEndian {
		return Action{}, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeBadShift, fmt.Errorf("payload %q has non-zero bit shift %d on a big-endian file", fieldID, shift))
	}
	return Action{Kind: WritePayload, FieldID: fieldID, SizeModifier: sizeModifier, Shift: shift}, nil
}

func checksumMarkers(fields []ir.Field) map[string]*ir.ChecksumField {
	m := map[string]*ir.ChecksumField{}
	for _, fl := range fields {
		if cf, ok := fl.(*ir.ChecksumField); ok {
			m[cf.TargetID] = cf
		}
	}
	return m
}

// toChunkField converts any bit-granular field into its chunk entry,
// resolving an enum-referencing typedef or fixed field to the enum's
// declared width (and, for fixed fields, its tag's literal value).
func toChunkField(f *ir.File, fl ir.Field) (ChunkField, bool) {
	switch t := fl.(type) {
	case *ir.ScalarField:
		return ChunkField{Width: t.Width, FieldID: t.FieldID, Kind: field.KindScalar}, true
	case *ir.ReservedField:
		return ChunkField{Width: t.Width, Kind: field.KindReserved}, true
	case *ir.FixedField:
		w := 0
		if t.Width != nil {
			w = *t.Width
		} else if t.EnumID != nil {
			if enum, ok := f.TypedefScope[*t.EnumID].(*ir.EnumDeclaration); ok {
				w = enum.Width
			}
		}
		v := uint64(0)
		if t.Value != nil {
			v = *t.Value
		} else if t.EnumID != nil && t.TagID != nil {
			if enum, ok := f.TypedefScope[*t.EnumID].(*ir.EnumDeclaration); ok {
				for _, tag := range enum.Tags {
					for _, leaf := range tag.Leaves() {
						if leaf.ID == *t.TagID {
							v = *leaf.Value
						}
					}
				}
			}
		}
		return ChunkField{Width: w, Kind: field.KindFixed, FixedValue: v}, true
	case *ir.SizeField:
		mod, elemBytes := sizeTargetParams(f, t)
		return ChunkField{Width: t.Width, FieldID: t.FieldID, Kind: field.KindSize, SizeOfFieldID: t.TargetID, SizeOfElementBytes: elemBytes, SizeModifier: mod}, true
	case *ir.CountField:
		return ChunkField{Width: t.Width, FieldID: t.FieldID, Kind: field.KindCount, CountOfFieldID: t.TargetID}, true
	case *ir.TypedefField:
		enum, ok := f.TypedefScope[t.TypeID].(*ir.EnumDeclaration)
		if !ok {
			return ChunkField{}, false
		}
		return ChunkField{Width: enum.Width, FieldID: t.FieldID, Kind: field.KindTypedef, EnumID: enum.ID()}, true
	}
	return ChunkField{}, false
}

// sizeTargetParams looks up the size_modifier of the field a SizeField
// reports on, plus the element byte width if that target is an array; the
// written size is octet_length(target) + size_modifier. elementBytes is 0
// when the target is an array of self-delimiting elements, whose byte
// length cannot be derived from an element count.
func sizeTargetParams(f *ir.File, sf *ir.SizeField) (modifier, elementBytes int) {
	d := ir.DeclOf(sf)
	if d == nil {
		return 0, 1
	}
	for _, fl := range layout.Fields(d) {
		switch t := fl.(type) {
		case *ir.ArrayField:
			if t.FieldID == sf.TargetID {
				ew, ok := layout.ArrayElementSize(f, t)
				if !ok {
					return t.SizeModifier, 0
				}
				return t.SizeModifier, (ew + 7) / 8
			}
		case *ir.PayloadField:
			if t.FieldID == sf.TargetID {
				return t.SizeModifier, 1
			}
		case *ir.BodyField:
			if t.FieldID == sf.TargetID {
				return t.SizeModifier, 1
			}
		}
	}
	return 0, 1
}
