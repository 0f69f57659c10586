// Package binary decodes and encodes the unsigned integers backing a
// bit-packed field chunk, parameterized by byte order so the same code path
// serves both little- and big-endian PDL files.
package binary

import (
	"encoding/binary"
)

// Order is the byte order a File's fields are packed with.
type Order = binary.ByteOrder

// LittleEndian and BigEndian are the two orders PDL files declare.
var (
	LittleEndian Order = binary.LittleEndian
	BigEndian    Order = binary.BigEndian
)

// GetUint decodes an unsigned integer from a byte span of arbitrary width
// (1-8 bytes) using the given order. Bit-packed field chunks routinely land
// on widths encoding/binary's Uint16/32/64 don't cover directly (a 56-bit
// scalar closes a 7-byte chunk), so this walks the span a byte at a time
// instead of dispatching to a fixed-width decoder.
func GetUint(order Order, b []byte) uint64 {
	var v uint64
	if order == BigEndian {
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// PutUint encodes v into b (len(b) between 1 and 8) using the given order,
// the Put counterpart to GetUint.
func PutUint(order Order, b []byte, v uint64) {
	if order == BigEndian {
		for i := len(b) - 1; i >= 0; i-- {
			b[i] = byte(v)
			v >>= 8
		}
		return
	}
	for i := 0; i < len(b); i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
