// Package parseplan turns a canonical declaration into an ordered sequence
// of concrete parse actions over a byte span: bit-chunk reads, size/count
// derivation, array and payload extraction, checksum verification, and
// specialization dispatch to derived packets. Rendering an action list
// into target-language source is a separate, mechanical step that belongs
// to each backend.
package parseplan

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
	// ReadChunk closes a buffered run of bit-granular fields: check
	// ByteWidth bytes are available, read one little/big-endian backing
	// integer, then extract each ChunkField's value.
	ReadChunk Kind = iota
	// ReadTypedef reads a byte-aligned nested struct/enum/custom field.
	ReadTypedef
	// ReadArray reads an array field; which of static count, size field,
	// count field, or none is known is carried on the action itself.
	ReadArray
	// ReadPayload reads the payload/body region.
	ReadPayload
	// VerifyChecksum reads a checksum-valued typedef field and compares
	// the user checksum function's output over [ChecksumStartBit,
	// ChecksumEndBit) against it.
	VerifyChecksum
	// Specialize dispatches to the first matching derived packet, or
	// falls back to the current declaration.
	Specialize
)

// ChunkField is one bit-granular field folded into a ReadChunk action.
type ChunkField struct {
	Shift   int
	Width   int
	FieldID string
	Kind    field.Kind

	// FixedValue is set when Kind == field.KindFixed: the parsed value
	// must equal it or parsing fails.
	FixedValue uint64

	// EnumID is set for a typedef field whose referent is an enum,
	// folded into the chunk at the enum's declared width. ValidValues
	// and ValidRanges together hold the declared tag set the parsed
	// value must fall in; a value outside both fails the parse.
	EnumID      string
	ValidValues []uint64
	ValidRanges [][2]uint64
}

// Action is one step of a parse plan.
type Action struct {
	Kind Kind

	// ReadChunk
	ByteWidth   int
	ChunkFields []ChunkField

	// ReadTypedef / VerifyChecksum
	FieldID string
	TypeID  string
	// TypeWidthBits is the referent's statically-known size; when
	// HasTypeWidth is false the referent is self-delimiting and the
	// generated parser delegates to its parse, which returns the
	// residual span.
	TypeWidthBits int
	HasTypeWidth  bool

	// ReadArray. ElementWidth is the resolved per-element bit width: the
	// array's inline scalar width, or the referent element type's
	// declaration size; 0 when the element type is self-delimiting and
	// each element must be parsed through its own plan.
	ElementWidth  int
	ElementTypeID string
	Count         int
	HasCount      bool
	SizeFieldID   string
	CountFieldID  string
	PaddedSize    int
	HasPaddedSize bool

	// ReadPayload
	SizeModifier int
	HasSizeField bool
	// Shift is the bit offset of the payload within its last
	// partially-filled byte; non-zero means the preceding ReadChunk's
	// final byte is shared with the payload span.
	Shift int
	// SuffixBytes is the static byte length of the fields following the
	// payload; the payload ends that many bytes before the span does.
	SuffixBytes int
	HasSuffix   bool

	// VerifyChecksum
	ChecksumFunc      string
	ChecksumWidthBits int
	ChecksumStartBit  int
	ChecksumEndBit    int

	// Specialize
	Children []string
}

// Plan produces the ordered parse action list for declID.
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
		actions = append(actions, Action{Kind: ReadChunk, ByteWidth: bitPos / 8, ChunkFields: chunk})
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
				actions = append(actions, Action{
					Kind: VerifyChecksum, FieldID: t.FieldID, TypeID: t.TypeID,
					ChecksumFunc: fn, ChecksumWidthBits: width,
					ChecksumStartBit: start, ChecksumEndBit: end,
				})
				continue
			}
			if sd, ok := f.TypedefScope[t.TypeID].(*ir.StructDeclaration); ok && sd.ParentID != "" {
				return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("typedef field %q references derived struct %q", t.FieldID, t.TypeID))
			}
			a := Action{Kind: ReadTypedef, FieldID: t.FieldID, TypeID: t.TypeID}
			if w, known := layout.FieldSizeInFile(f, t, true); known {
				a.TypeWidthBits, a.HasTypeWidth = w, true
			}
			actions = append(actions, a)

		case *ir.ArrayField:
			src := layout.ArraySizeSourceOf(d, t, t.FieldID)
			if src.Unbounded() && t.PaddedSize == nil && i != len(fields)-1 {
				return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("unbounded array %q is followed by other fields", t.FieldID))
			}
			a := Action{Kind: ReadArray, FieldID: t.FieldID}
			if ew, ok := layout.ArrayElementSize(f, t); ok {
				a.ElementWidth = ew
			}
			if t.ElementTypeID != nil {
				a.ElementTypeID = *t.ElementTypeID
			}
			if src.Constant != nil {
				a.Count, a.HasCount = *src.Constant, true
			}
			if t.PaddedSize != nil {
				a.PaddedSize, a.HasPaddedSize = *t.PaddedSize, true
			}
			a.SizeFieldID, a.CountFieldID, a.SizeModifier = src.SizeFieldID, src.CountFieldID, t.SizeModifier
			actions = append(actions, a)

		case *ir.PayloadField:
			a, err := planPayload(ctx, f, d, t.FieldID, t.SizeModifier, bitPos%8)
			if err != nil {
				return nil, err
			}
			if a.Shift != 0 {
				// Fill out the partially-written byte with a reserved
				// read; the shared byte is re-read as part of the
				// payload span so a child plan can recover its own
				// leading bits.
				chunk = append(chunk, ChunkField{Shift: bitPos, Width: 8 - bitPos%8, Kind: field.KindReserved})
				bitPos += 8 - bitPos%8
				flush()
			}
			actions = append(actions, a)
		case *ir.BodyField:
			a, err := planPayload(ctx, f, d, t.FieldID, t.SizeModifier, bitPos%8)
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

	children := layout.DerivedPackets(f, d)
	if len(children) > 0 {
		ids := make([]string, 0, len(children))
		for _, c := range children {
			ids = append(ids, c.ID())
		}
		actions = append(actions, Action{Kind: Specialize, Children: ids})
	}

	return actions, nil
}

func planPayload(ctx context.Context, f *ir.File, d ir.Declaration, fieldID string, sizeModifier, shift int) (Action, error) {
	if shift != 0 && f.Endianness == ir.BigEndian {
		return Action{}, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeBadShift, fmt.Errorf("payload %q has non-zero bit shift %d on a big-endian file", fieldID, shift))
	}

	a := Action{Kind: ReadPayload, FieldID: fieldID, SizeModifier: sizeModifier, Shift: shift}
	if sf := layout.PayloadSizeSourceOf(d, fieldID); sf != "" {
		a.HasSizeField, a.SizeFieldID = true, sf
		return a, nil
	}

	// With no size field the payload is either trailing or bounded by a
	// static suffix of following fields.
	end, ok := layout.OffsetFromEnd(f, d, fieldID)
	if !ok {
		return Action{}, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("payload %q has neither a size field nor a statically-sized suffix", fieldID))
	}
	if end != 0 {
		if end%8 != 0 {
			return Action{}, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnaligned, fmt.Errorf("payload %q suffix of %d bits is not byte-aligned", fieldID, end))
		}
		a.SuffixBytes, a.HasSuffix = end/8, true
	}
	return a, nil
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

// toChunkField converts any bit-granular field into its chunk entry. An
// enum-referencing typedef field folds in at the enum's declared width,
// carrying the closed value set for the extraction check.
func toChunkField(f *ir.File, fl ir.Field) (ChunkField, bool) {
	switch t := fl.(type) {
	case *ir.ScalarField:
		return ChunkField{Width: t.Width, FieldID: t.FieldID, Kind: field.KindScalar}, true
	case *ir.SizeField:
		return ChunkField{Width: t.Width, FieldID: t.FieldID, Kind: field.KindSize}, true
	case *ir.CountField:
		return ChunkField{Width: t.Width, FieldID: t.FieldID, Kind: field.KindCount}, true
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
	case *ir.TypedefField:
		enum, ok := f.TypedefScope[t.TypeID].(*ir.EnumDeclaration)
		if !ok {
			return ChunkField{}, false
		}
		cf := ChunkField{Width: enum.Width, FieldID: t.FieldID, Kind: field.KindTypedef, EnumID: enum.ID()}
		cf.ValidValues, cf.ValidRanges = enumTagSet(enum)
		return cf, true
	}
	return ChunkField{}, false
}

// enumTagSet flattens an enum's tags (recursing into subgroups) into the
// declared value set and range set a parsed value is checked against.
func enumTagSet(e *ir.EnumDeclaration) ([]uint64, [][2]uint64) {
	var values []uint64
	var ranges [][2]uint64
	var walk func(tags []ir.Tag)
	walk = func(tags []ir.Tag) {
		for _, t := range tags {
			switch {
			case t.IsValue():
				values = append(values, *t.Value)
			case t.IsRange():
				ranges = append(ranges, [2]uint64{*t.RangeLo, *t.RangeHi})
			case t.IsGroup():
				walk(t.SubTags)
			}
		}
	}
	walk(e.Tags)
	return values, ranges
}
