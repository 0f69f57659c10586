// Package bits provides the generic bit-packed chunk primitives shared by
// the parse and serialize planners and the test-vector bit serializer.
package bits

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"golang.org/x/exp/constraints"
)

// SetValue stores "val" in unsigned number "store" starting at bit "start"
// and ending at bit "end" (exclusive). If start >= end, this panics.
func SetValue[I, U constraints.Unsigned](val I, store U, start, end uint64) U {
	if start >= end {
		panic("start cannot be >= end")
	}

	c := U(val) << start

	return store | c
}

// SetValueBytes stores "val" in "store" starting at bit "start" and ending
// at bit "end" (exclusive), treating store as a single little-endian
// unsigned integer of len(store) bytes. len(store) must be 1, 2, 4, or 8.
func SetValueBytes[I constraints.Unsigned](val I, store []byte, start, end uint64) {
	if start >= end {
		panic("start cannot be >= end")
	}

	l := len(store)
	if l > 8 {
		panic("SetValueBytes() cannot receive a len(store) > 8, as 8 bytes stores our maximum integer size, 64 bits")
	}

	switch l {
	case 1:
		store[0] |= byte(val) << start
	case 2:
		u := binary.LittleEndian.Uint16(store)
		u |= uint16(val) << start
		binary.LittleEndian.PutUint16(store, u)
	case 4:
		u := binary.LittleEndian.Uint32(store)
		u |= uint32(val) << start
		binary.LittleEndian.PutUint32(store, u)
	case 8:
		u := binary.LittleEndian.Uint64(store)
		u |= uint64(val) << start
		binary.LittleEndian.PutUint64(store, u)
	default:
		panic(fmt.Sprintf("SetValueBytes() must receive a len(store) == 1 | 2 | 4 | 8, got %d", l))
	}
}

// GetValue retrieves a value stored with SetValue. store is the unsigned
// number the value was stored in. bitMask is the mask to apply to retrieve
// the value. start is the bit position the value was stored at.
func GetValue[U, U1 constraints.Unsigned](store U, bitMask U, start uint64) U1 {
	return U1((store & bitMask) >> start)
}

// GetBit gets a single bit value from "store" at position "pos". true if
// set, false if not.
func GetBit[U constraints.Unsigned](store U, pos uint8) bool {
	checkPos(store, pos)
	return store&(1<<pos) != 0
}

// SetBit sets a single bit in "store" at position "pos" to value "val".
func SetBit[U constraints.Unsigned](store U, pos uint8, val bool) U {
	checkPos(store, pos)
	if val {
		return store | (1 << pos)
	}
	return store & ^(1 << pos)
}

// ClearBit clears the bit at pos in store.
func ClearBit[U constraints.Unsigned](store U, pos uint8) U {
	store &^= (1 << pos)
	return store
}

// ClearBits clears all bits from "from" (inclusive) to "to" (exclusive).
func ClearBits[U constraints.Unsigned](store U, from, to uint8) U {
	for i := from; i < to; i++ {
		store = ClearBit(store, i)
	}
	return store
}

func checkPos[U constraints.Unsigned](store U, pos uint8) {
	switch any(store).(type) {
	case uint8:
		if pos > 7 {
			panic(fmt.Sprintf("can't address a uint8 bit position %d", pos))
		}
	case uint16:
		if pos > 15 {
			panic(fmt.Sprintf("can't address a uint16 bit position %d", pos))
		}
	case uint32:
		if pos > 31 {
			panic(fmt.Sprintf("can't address a uint32 bit position %d", pos))
		}
	case uint64:
		if pos > 63 {
			panic(fmt.Sprintf("can't address a uint64 bit position %d", pos))
		}
	}
}

// Mask creates a mask for setting, getting, and clearing a set of bits.
// start is the bit to start at (inclusive), end is the bit to end at
// (exclusive); index starts at 0. If start >= end, this panics.
func Mask[U constraints.Unsigned](start, end uint64) U {
	return U(setBits(uint(0), start, end))
}

func setBits[I constraints.Unsigned](n I, start, end uint64) I {
	var size uint64
	switch any(n).(type) {
	case uint:
		size = bits.UintSize
	case uint8:
		size = 8
	case uint16:
		size = 16
	case uint32:
		size = 32
	case uint64:
		size = 64
	default:
		panic(fmt.Sprintf("n must be of type uint8/uint16/uint32/uint64, was %T", n))
	}

	if start >= end {
		panic("start cannot be >= end")
	}
	if end > size {
		panic(fmt.Sprintf("end cannot be %d, as that is the largest amount of bits in a %d bit number", end, size))
	}

	var r uint
	for x := start; x < end; x++ {
		r |= uint(1) << x
	}

	return n | I(r)
}

// BytesInBinary renders bs as a space-separated string of 8-bit binary
// groups, useful in test failure messages.
func BytesInBinary(bs []byte) string {
	buff := strings.Builder{}
	for _, n := range bs {
		buff.WriteString(fmt.Sprintf("% 08b", n))
	}
	return buff.String()
}

// RoundUpToByte returns the number of bytes needed to hold nBits bits.
func RoundUpToByte(nBits uint64) uint64 {
	return (nBits + 7) / 8
}
