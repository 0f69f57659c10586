// Package testvectors generates reference encodings: for every top-level
// packet with no derived children, it enumerates a bounded set of field
// value combinations, finalizes the deferred size/count/padding/checksum
// thunks against their siblings, serializes the result with the file's own
// endianness, and emits {packed, unpacked} pairs grouped by root ancestor
// packet.
package testvectors

import (
	"fmt"

	"github.com/bearlytools/pdlc/ir"
)

type valueKind int

const (
	valInt valueKind = iota
	valList
	valPacket
)

// widthFunc and intFunc are the two places a Value can defer computation to
// a finalize pass: a size/count field's width is fixed but its value reads a
// sibling's length, while a padding field's value is always zero but its
// width reads a sibling's length.
type widthFunc func(*Packet) (int, error)
type intFunc func(*Packet) (uint64, error)

// Value is the tagged union backing a generated field's content: a
// concrete or deferred unsigned integer, a list of Values (an array), or a
// nested Packet (a payload, or a typedef field referencing a struct).
type Value struct {
	kind  valueKind
	width int
	widthFn widthFunc

	intVal uint64
	intFn  intFunc

	listVal []*Value
	pktVal  *Packet
}

// NewInt returns a fully-resolved integer Value of the given width.
func NewInt(val uint64, width int) *Value {
	return &Value{kind: valInt, intVal: val, width: width}
}

// NewIntFunc returns an integer Value whose width is known up front but
// whose value is computed from sibling field state at finalize time (a
// size or count field).
func NewIntFunc(fn intFunc, width int) *Value {
	return &Value{kind: valInt, intFn: fn, width: width}
}

// NewIntWidthFunc returns an integer Value whose value is known (always 0,
// for padding) but whose width is computed from sibling field state at
// finalize time.
func NewIntWidthFunc(val uint64, widthFn widthFunc) *Value {
	return &Value{kind: valInt, intVal: val, widthFn: widthFn}
}

// NewList returns an array Value; its width is the sum of its elements'.
func NewList(vs []*Value) *Value {
	w := 0
	for _, v := range vs {
		w += v.width
	}
	return &Value{kind: valList, listVal: vs, width: w}
}

// newPacketValue wraps a fully-built Packet as a Value, eagerly computing
// its width (which finalizes the packet).
func newPacketValue(p *Packet) (*Value, error) {
	w, err := p.Width()
	if err != nil {
		return nil, err
	}
	return &Value{kind: valPacket, pktVal: p, width: w}, nil
}

// Width returns v's resolved bit width; only meaningful after finalize.
func (v *Value) Width() int { return v.width }

// shallowClone copies the Value struct itself, sharing any nested
// list/packet by reference. Cloning only needs to isolate a thunk's
// resolved state across Cartesian-product combinations, never the nested
// data it reads.
func (v *Value) shallowClone() *Value {
	c := *v
	return &c
}

func (v *Value) finalize(parent *Packet) error {
	if v.widthFn != nil {
		w, err := v.widthFn(parent)
		if err != nil {
			return err
		}
		v.width = w
		v.widthFn = nil
	}

	switch v.kind {
	case valInt:
		if v.intFn != nil {
			iv, err := v.intFn(parent)
			if err != nil {
				return err
			}
			v.intVal = iv
			v.intFn = nil
		}
	case valList:
		for _, e := range v.listVal {
			if err := e.finalize(parent); err != nil {
				return err
			}
		}
	case valPacket:
		if err := v.pktVal.Finalize(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Value) serialize(s *BitSerializer) error {
	switch v.kind {
	case valInt:
		s.Append(v.intVal, v.width)
	case valList:
		for _, e := range v.listVal {
			if err := e.serialize(s); err != nil {
				return err
			}
		}
	case valPacket:
		return v.pktVal.serialize(s)
	}
	return nil
}

// ToJSON renders v as an unpacked-tree node: an int, a list, or a nested
// object.
func (v *Value) ToJSON() any {
	switch v.kind {
	case valInt:
		return v.intVal
	case valList:
		out := make([]any, len(v.listVal))
		for i, e := range v.listVal {
			out[i] = e.ToJSON()
		}
		return out
	case valPacket:
		return v.pktVal.ToJSON()
	}
	return nil
}

// Field pairs a generated Value with the ir.Field it was generated for.
type Field struct {
	Value *Value
	Ref   ir.Field
}

func (fd *Field) finalize(parent *Packet) error { return fd.Value.finalize(parent) }

func (fd *Field) serialize(s *BitSerializer) error { return fd.Value.serialize(s) }

func (fd *Field) clone() *Field {
	return &Field{Value: fd.Value.shallowClone(), Ref: fd.Ref}
}

// Packet is one generated instance of a declaration: an ordered list of
// Fields plus the declaration it was generated for (which, for a derived
// packet's instances, is the derived declaration itself even though Fields
// holds the root ancestor's merged layout; see generateFieldsRecursive).
type Packet struct {
	Fields []*Field
	Ref    ir.Declaration
}

// Finalize runs each field's deferred thunks. It always threads itself as
// the parent, even when called while building a payload for some other
// packet: sibling-relative computations (size-of, count-of, checksum
// range, padding width) are always resolved within one packet's own field
// list, never against an outer ancestor.
func (p *Packet) Finalize() error {
	for _, fd := range p.Fields {
		if err := fd.finalize(p); err != nil {
			return err
		}
	}
	return nil
}

func (p *Packet) serialize(s *BitSerializer) error {
	for _, fd := range p.Fields {
		if err := fd.serialize(s); err != nil {
			return err
		}
	}
	return nil
}

// Serialize finalizes and packs p into bytes using the given bit order,
// failing if the total width isn't an integral number of octets.
func (p *Packet) Serialize(bigEndian bool) ([]byte, error) {
	if err := p.Finalize(); err != nil {
		return nil, err
	}
	s := NewBitSerializer(bigEndian)
	if err := p.serialize(s); err != nil {
		return nil, err
	}
	if s.shift != 0 {
		return nil, fmt.Errorf("packet %q size is not an integral number of octets", p.Ref.ID())
	}
	return s.stream, nil
}

// Width finalizes p and returns its total bit width.
func (p *Packet) Width() (int, error) {
	if err := p.Finalize(); err != nil {
		return 0, err
	}
	total := 0
	for _, fd := range p.Fields {
		total += fd.Value.Width()
	}
	return total, nil
}

// ToJSON renders p as a flat object keyed by field id: a payload/body field
// holding a nested Packet is merged in place, any other payload/body is
// emitted under "payload", and a field kind with no stable id (padding and
// checksum markers) is omitted entirely.
func (p *Packet) ToJSON() map[string]any {
	result := make(map[string]any, len(p.Fields))
	for _, fd := range p.Fields {
		switch fd.Ref.(type) {
		case *ir.PayloadField, *ir.BodyField:
			if fd.Value.kind == valPacket {
				for k, v := range fd.Value.pktVal.ToJSON() {
					result[k] = v
				}
			} else {
				result["payload"] = fd.Value.ToJSON()
			}
		default:
			if id, ok := fieldRefID(fd.Ref); ok {
				result[id] = fd.Value.ToJSON()
			}
		}
	}
	return result
}

// fieldRefID extracts the identifier of any field kind that carries one.
// FixedField, ReservedField, PaddingField, and ChecksumField have none
// (they're anonymous or zero-width markers) and are skipped by ToJSON.
func fieldRefID(fl ir.Field) (string, bool) {
	switch t := fl.(type) {
	case *ir.ScalarField:
		return t.FieldID, true
	case *ir.TypedefField:
		return t.FieldID, true
	case *ir.ArrayField:
		return t.FieldID, true
	case *ir.SizeField:
		return t.FieldID, true
	case *ir.CountField:
		return t.FieldID, true
	case *ir.PayloadField:
		return t.FieldID, true
	case *ir.BodyField:
		return t.FieldID, true
	}
	return "", false
}
