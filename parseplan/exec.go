package parseplan

import (
	"fmt"
	"log"

	"github.com/bearlytools/pdlc/internal/binary"
	bitpack "github.com/bearlytools/pdlc/internal/bits"
	"github.com/bearlytools/pdlc/internal/errs"
	"github.com/bearlytools/pdlc/internal/field"
	"github.com/gostdlib/base/context"
)

// Result is what a reference Exec run produces: the scalar/size/count/
// fixed field values read, any array of uint64 elements by field id, the
// payload bytes, and (if specialization matched) the id of the derived
// packet the bytes actually belong to.
type Result struct {
	Fields      map[string]uint64
	Arrays      map[string][]uint64
	Payload     []byte
	Specialized string
}

// ChecksumFunc computes a checksum over a byte span; implementations are
// supplied by the caller, keyed by the function name a ChecksumDeclaration
// carries.
type ChecksumFunc func([]byte) uint64

// Exec is a small reference interpreter over a parse plan. It is not the
// target-language code a real backend renders; it exists so this module's
// own test suite can assert round-trip behavior without a generated
// backend to drive.
func Exec(ctx context.Context, order binary.Order, actions []Action, data []byte, checksums map[string]ChecksumFunc) (Result, []byte, error) {
	res := Result{Fields: map[string]uint64{}, Arrays: map[string][]uint64{}}
	span := data

	for _, a := range actions {
		log.Printf("parseplan exec: action kind=%d", a.Kind)
		switch a.Kind {
		case ReadChunk:
			if len(span) < a.ByteWidth {
				return res, span, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("need %d bytes, have %d", a.ByteWidth, len(span)))
			}
			if a.ByteWidth > 8 {
				return res, span, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnaligned, fmt.Errorf("chunk byte width %d exceeds 8-byte backing integer", a.ByteWidth))
			}
			chunk := span[:a.ByteWidth]
			span = span[a.ByteWidth:]

			raw := binary.GetUint(order, chunk)

			for _, cf := range a.ChunkFields {
				mask := bitpack.Mask[uint64](uint64(0), uint64(cf.Width))
				val := bitpack.GetValue[uint64, uint64](raw, mask<<cf.Shift, uint64(cf.Shift))
				switch cf.Kind {
				case field.KindFixed:
					if val != cf.FixedValue {
						return res, span, errs.E(ctx, errs.CatRuntime, errs.TypeValueMismatch, fmt.Errorf("fixed field mismatch: got %d, want %d", val, cf.FixedValue))
					}
				case field.KindReserved:
					// parsed value discarded.
				case field.KindTypedef:
					if !enumValueValid(val, cf.ValidValues, cf.ValidRanges) {
						return res, span, errs.E(ctx, errs.CatRuntime, errs.TypeValueMismatch, fmt.Errorf("enum %q value %d is outside its declared tag set", cf.EnumID, val))
					}
					res.Fields[cf.FieldID] = val
				default:
					if cf.FieldID != "" {
						res.Fields[cf.FieldID] = val
					}
				}
			}

		case ReadTypedef:
			if !a.HasTypeWidth {
				return res, span, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("typedef field %q is self-delimiting; drive its own plan with a nested Exec", a.FieldID))
			}
			w := a.TypeWidthBits / 8
			if len(span) < w {
				return res, span, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("typedef field %q needs %d bytes, have %d", a.FieldID, w, len(span)))
			}
			if w <= 8 {
				res.Fields[a.FieldID] = binary.GetUint(order, span[:w])
			}
			span = span[w:]

		case ReadArray:
			elems, rest, err := execArray(ctx, order, a, res, span)
			if err != nil {
				return res, span, err
			}
			res.Arrays[a.FieldID] = elems
			span = rest

		case ReadPayload:
			if a.Shift != 0 {
				// The last chunk byte carries the payload's leading
				// bits; re-include it so a child plan can recover them.
				span = data[len(data)-len(span)-1:]
			}
			size := len(span)
			switch {
			case a.HasSizeField:
				sz, ok := res.Fields[a.SizeFieldID]
				if !ok {
					return res, span, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("size field %q not yet parsed", a.SizeFieldID))
				}
				size = int(sz) - a.SizeModifier
			case a.HasSuffix:
				size = len(span) - a.SuffixBytes
			}
			if size < 0 || size > len(span) {
				return res, span, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("payload size %d out of range for span of %d bytes", size, len(span)))
			}
			res.Payload = span[:size]
			span = span[size:]

		case VerifyChecksum:
			w := (a.ChecksumWidthBits + 7) / 8
			if w == 0 {
				w = 1
			}
			if len(span) < w {
				return res, span, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("checksum value needs %d bytes, have %d", w, len(span)))
			}
			value := binary.GetUint(order, span[:w])
			span = span[w:]
			res.Fields[a.FieldID] = value

			if fn, ok := checksums[a.ChecksumFunc]; ok {
				startByte, endByte := a.ChecksumStartBit/8, a.ChecksumEndBit/8
				if endByte > len(data) {
					endByte = len(data)
				}
				got := fn(data[startByte:endByte])
				if got != value {
					return res, span, errs.E(ctx, errs.CatRuntime, errs.TypeChecksumMismatch, fmt.Errorf("checksum mismatch: computed %d, wire %d", got, value))
				}
			}

		case Specialize:
			// The reference interpreter doesn't recurse into child
			// plans; callers that care about specialization drive it
			// themselves by calling Exec again with a child's plan.
		}
	}

	return res, span, nil
}

func enumValueValid(val uint64, values []uint64, ranges [][2]uint64) bool {
	for _, v := range values {
		if val == v {
			return true
		}
	}
	for _, r := range ranges {
		if val >= r[0] && val <= r[1] {
			return true
		}
	}
	return false
}

// execArray reads an array's elements, each decoded from the resolved
// element width (an inline scalar width, or the referent struct/enum
// type's declaration size backing its own chunk). Self-delimiting element
// types have no statically-resolved width and need their own plan driven
// per element, which this reference interpreter reports rather than
// silently consuming nothing.
func execArray(ctx context.Context, order binary.Order, a Action, res Result, span []byte) ([]uint64, []byte, error) {
	elemBytes := (a.ElementWidth + 7) / 8
	count := 0
	switch {
	case a.HasCount:
		count = a.Count
	case a.CountFieldID != "":
		c, ok := res.Fields[a.CountFieldID]
		if !ok {
			return nil, span, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("count field %q not yet parsed for array %q", a.CountFieldID, a.FieldID))
		}
		count = int(c)
	case a.SizeFieldID != "":
		sz, ok := res.Fields[a.SizeFieldID]
		if !ok {
			return nil, span, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("size field %q not yet parsed for array %q", a.SizeFieldID, a.FieldID))
		}
		if elemBytes == 0 {
			return nil, span, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("array %q has unknown element width", a.FieldID))
		}
		size := int(sz) - a.SizeModifier
		if size%elemBytes != 0 {
			return nil, span, errs.E(ctx, errs.CatRuntime, errs.TypeValueMismatch, fmt.Errorf("array %q byte size %d is not a multiple of element size %d", a.FieldID, size, elemBytes))
		}
		count = size / elemBytes
	case a.HasPaddedSize:
		count = a.PaddedSize / maxInt(elemBytes, 1)
	default:
		if elemBytes == 0 {
			return nil, span, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("array %q is unbounded with unknown element width", a.FieldID))
		}
		count = len(span) / elemBytes
	}

	if count > 0 && elemBytes == 0 {
		return nil, span, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("array %q elements (%s) are self-delimiting; drive each element's own plan with a nested Exec", a.FieldID, a.ElementTypeID))
	}
	if elemBytes > 8 {
		return nil, span, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("array %q element width %d bytes exceeds the 8-byte backing integer", a.FieldID, elemBytes))
	}

	need := count * elemBytes
	if a.HasPaddedSize && a.PaddedSize > need {
		need = a.PaddedSize
	}
	if need > len(span) {
		return nil, span, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("array %q needs %d bytes, have %d", a.FieldID, need, len(span)))
	}

	elems := make([]uint64, 0, count)
	cursor := span
	for i := 0; i < count; i++ {
		elems = append(elems, binary.GetUint(order, cursor[:elemBytes]))
		cursor = cursor[elemBytes:]
	}

	return elems, span[need:], nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
