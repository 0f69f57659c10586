package serializeplan

import (
	"fmt"
	"log"

	"github.com/bearlytools/pdlc/internal/binary"
	bitpack "github.com/bearlytools/pdlc/internal/bits"
	"github.com/bearlytools/pdlc/internal/errs"
	"github.com/bearlytools/pdlc/internal/field"
	"github.com/gostdlib/base/context"
)

// Input is what Exec needs to resolve a field reference while serializing:
// scalar/size/count values, arrays of uint64 elements, and payload bytes.
// A size/count field's own entry in Fields, if present, is ignored in
// favor of being computed from its target.
type Input struct {
	Fields  map[string]uint64
	Arrays  map[string][]uint64
	Payload []byte
}

// ChecksumFunc computes a checksum over a byte span.
type ChecksumFunc func([]byte) uint64

// Exec is a small reference interpreter over a serialize plan, mirroring
// parseplan.Exec; it exists for this module's own tests, not as the
// target-language code a real backend renders.
func Exec(ctx context.Context, order binary.Order, actions []Action, in Input, checksums map[string]ChecksumFunc) ([]byte, error) {
	var out []byte

	for _, a := range actions {
		log.Printf("serializeplan exec: action kind=%d", a.Kind)
		switch a.Kind {
		case WriteChunk:
			var raw uint64
			for _, cf := range a.ChunkFields {
				val, err := chunkFieldValue(ctx, cf, in)
				if err != nil {
					return nil, err
				}
				if err := rangeCheck(ctx, val, cf.Width); err != nil {
					return nil, err
				}
				raw = bitpack.SetValue[uint64, uint64](val, raw, uint64(cf.Shift), uint64(cf.Shift+cf.Width))
			}
			if a.ByteWidth > 8 {
				return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnaligned, fmt.Errorf("chunk byte width %d exceeds 8-byte backing integer", a.ByteWidth))
			}
			buf := make([]byte, a.ByteWidth)
			binary.PutUint(order, buf, raw)
			out = append(out, buf...)

		case WriteTypedef:
			if !a.HasTypeWidth {
				return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("typedef field %q is self-delimiting; drive its own plan with a nested Exec", a.FieldID))
			}
			w := a.TypeWidthBits / 8
			buf := make([]byte, w)
			if w <= 8 {
				binary.PutUint(order, buf, in.Fields[a.FieldID])
			}
			out = append(out, buf...)

		case WriteArray:
			elems := in.Arrays[a.FieldID]
			elemBytes := (a.ElementWidth + 7) / 8
			if len(elems) > 0 && elemBytes == 0 {
				return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("array %q elements (%s) are self-delimiting; drive each element's own plan with a nested Exec", a.FieldID, a.ElementTypeID))
			}
			if elemBytes > 8 {
				return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("array %q element width %d bytes exceeds the 8-byte backing integer", a.FieldID, elemBytes))
			}
			written := 0
			for _, v := range elems {
				if err := rangeCheck(ctx, v, a.ElementWidth); err != nil {
					return nil, err
				}
				buf := make([]byte, elemBytes)
				binary.PutUint(order, buf, v)
				out = append(out, buf...)
				written += elemBytes
			}
			if a.HasPaddedSize && written < a.PaddedSize {
				out = append(out, make([]byte, a.PaddedSize-written)...)
			}

		case WritePayload:
			payload := in.Payload
			if a.Shift != 0 && len(payload) > 0 {
				// The preceding chunk's final byte and the payload's
				// first byte share the wire; OR the payload's leading
				// bits into the already-written byte.
				if len(out) == 0 {
					return nil, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeBadShift, fmt.Errorf("payload %q is bit-shifted but no chunk byte precedes it", a.FieldID))
				}
				out[len(out)-1] |= payload[0]
				payload = payload[1:]
			}
			out = append(out, payload...)

		case WriteChecksum:
			fn, ok := checksums[a.ChecksumFunc]
			if !ok {
				return nil, errs.E(ctx, errs.CatRuntime, errs.TypeUnknown, fmt.Errorf("no checksum function registered for %q", a.ChecksumFunc))
			}
			startByte, endByte := a.ChecksumStartBit/8, a.ChecksumEndBit/8
			if endByte > len(out) {
				endByte = len(out)
			}
			if startByte > len(out) {
				startByte = len(out)
			}
			sum := fn(out[startByte:endByte])
			w := (a.ChecksumWidthBits + 7) / 8
			if w == 0 {
				w = 1
			}
			buf := make([]byte, w)
			binary.PutUint(order, buf, sum)
			out = append(out, buf...)

		case Delegate:
			// A reference interpreter serializes one declaration at a
			// time; callers compose multi-level derived packets by
			// calling Exec again on the parent's plan with this
			// declaration's bytes as in.Payload.
		}
	}

	return out, nil
}

func chunkFieldValue(ctx context.Context, cf ChunkField, in Input) (uint64, error) {
	switch cf.Kind {
	case field.KindFixed:
		return cf.FixedValue, nil
	case field.KindReserved:
		return 0, nil
	case field.KindSize:
		if arr, ok := in.Arrays[cf.SizeOfFieldID]; ok {
			if cf.SizeOfElementBytes == 0 {
				return 0, errs.E(ctx, errs.CatUnsupportedLayout, errs.TypeUnknownSize, fmt.Errorf("size of array %q cannot be derived: its elements are self-delimiting", cf.SizeOfFieldID))
			}
			return uint64(len(arr)*cf.SizeOfElementBytes) + uint64(cf.SizeModifier), nil
		}
		return uint64(len(in.Payload)) + uint64(cf.SizeModifier), nil
	case field.KindCount:
		return uint64(len(in.Arrays[cf.CountOfFieldID])), nil
	default:
		v, ok := in.Fields[cf.FieldID]
		if !ok {
			return 0, errs.E(ctx, errs.CatRuntime, errs.TypeSpanTooShort, fmt.Errorf("no value supplied for field %q", cf.FieldID))
		}
		return v, nil
	}
}

func rangeCheck(ctx context.Context, val uint64, width int) error {
	if width >= 64 {
		return nil
	}
	if val >= (uint64(1) << uint(width)) {
		return errs.E(ctx, errs.CatOverflow, errs.TypeRangeOverflow, fmt.Errorf("value %d does not fit in %d bits", val, width))
	}
	return nil
}
