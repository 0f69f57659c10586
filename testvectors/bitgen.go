package testvectors

import (
	"github.com/bearlytools/pdlc/internal/binary"
	bitpack "github.com/bearlytools/pdlc/internal/bits"
)

// BitGenerator is a deterministic pseudo-random filler for scalar and
// array element values: an explicit rolling-byte counter threaded as a
// value, not a package-level global, so test-vector generation stays
// reproducible and safe to run concurrently over independent Files.
type BitGenerator struct {
	value uint64
	shift uint
}

// Generate produces a value of the given width by slicing consecutive
// bits off an incrementing byte counter.
func (g *BitGenerator) Generate(width int) *Value {
	var value uint64
	remains := width
	for remains > 0 {
		w := 8 - int(g.shift)
		if w > remains {
			w = remains
		}
		mask := uint64(1)<<uint(w) - 1
		value = (value << uint(w)) | ((g.value >> g.shift) & mask)
		remains -= w
		g.shift += uint(w)
		if g.shift >= 8 {
			g.shift = 0
			g.value = (g.value + 1) % 0xFF
		}
	}
	return NewInt(value, width)
}

// GenerateList produces count independent values of the given width.
func (g *BitGenerator) GenerateList(width, count int) []*Value {
	out := make([]*Value, count)
	for i := range out {
		out[i] = g.Generate(width)
	}
	return out
}

// BitSerializer accumulates bit-granular values into a byte stream,
// flushing a backing integer to bytes each time the pending bit count
// lands on a byte boundary. It is the test-vector generator's own encoder,
// independent of serializeplan.Exec, since it must serialize against
// whatever Values were actually generated rather than a precomputed plan.
type BitSerializer struct {
	stream []byte
	value  uint64
	shift  int
	order  binary.Order
}

// NewBitSerializer starts an empty serializer for the given byte order.
func NewBitSerializer(bigEndian bool) *BitSerializer {
	order := binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	return &BitSerializer{order: order}
}

// Append folds value (width bits) into the pending chunk, flushing to the
// stream whenever the pending bit count reaches a byte boundary.
func (s *BitSerializer) Append(value uint64, width int) {
	if width > 0 {
		s.value = bitpack.SetValue(value, s.value, uint64(s.shift), uint64(s.shift+width))
	}
	s.shift += width

	if s.shift%8 == 0 {
		w := s.shift / 8
		buf := make([]byte, w)
		binary.PutUint(s.order, buf, s.value)
		s.stream = append(s.stream, buf...)
		s.shift = 0
		s.value = 0
	}
}
