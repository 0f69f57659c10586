// Package ir defines the canonical in-memory data model for a parsed PDL
// file: declarations, fields, tags, and constraints, plus the file-level
// scopes and back-references codegen needs.
package ir

import (
	"github.com/bearlytools/pdlc/internal/field"
)

// Order is the byte order a File declares its fields packed in.
type Order uint8

const (
	// LittleEndian is the default and the only order with well-defined
	// semantics for non-zero packet body shifts.
	LittleEndian Order = 0
	// BigEndian files must have zero packet body shift everywhere; see
	// layout.BodyShift.
	BigEndian Order = 1
)

func (o Order) String() string {
	if o == BigEndian {
		return "big_endian"
	}
	return "little_endian"
}

// File is the root of the IR: one endianness marker plus an ordered
// sequence of declarations, indexed three ways by scope.
type File struct {
	Endianness Order

	// Declarations preserves source order; this is the order codegen
	// output and test-vector grouping both key off of.
	Declarations []Declaration

	// PacketScope, TypedefScope, and GroupScope are name indexes built by
	// BuildScopes. PacketScope holds PacketDeclaration; TypedefScope
	// holds StructDeclaration, EnumDeclaration, CustomFieldDeclaration,
	// and ChecksumDeclaration; GroupScope holds GroupDeclaration and is
	// emptied by desugar.Normalize.
	PacketScope  map[string]Declaration
	TypedefScope map[string]Declaration
	GroupScope   map[string]Declaration
}

// Declaration is the sum type of top-level IR nodes.
type Declaration interface {
	ID() string
	Kind() field.DeclKind
	// file returns the owning File, set by BuildScopes. Unexported so
	// only this package can wire back-references.
	file() *File
	setFile(f *File)
}

// Field is the sum type of nodes that appear inside a declaration's field
// list.
type Field interface {
	Kind() field.Kind
	// decl returns the owning Declaration, set by BuildScopes.
	decl() Declaration
	setDecl(d Declaration)
}

type declBase struct {
	f *File
}

func (d *declBase) file() *File    { return d.f }
func (d *declBase) setFile(f *File) { d.f = f }

type fieldBase struct {
	d Declaration
}

func (b *fieldBase) decl() Declaration    { return b.d }
func (b *fieldBase) setDecl(d Declaration) { b.d = d }

// DeclOf returns the declaration a field belongs to. Only valid after
// BuildScopes has run.
func DeclOf(f Field) Declaration {
	return f.decl()
}

// FileOf returns the File a declaration belongs to. Only valid after
// BuildScopes has run.
func FileOf(d Declaration) *File {
	return d.file()
}

// SetDecl re-parents a field to d. desugar.Normalize uses this when a
// GroupField's fields are inlined into the declaration at the reference
// site, and when a constrained field is replaced by a FixedField.
func SetDecl(f Field, d Declaration) {
	f.setDecl(d)
}

// Tag is one entry of an EnumDeclaration: a named value, a reserved range,
// or a named subgroup of further tags. Exactly one of Value, Range, or
// SubTags is set.
type Tag struct {
	ID string

	Value *uint64

	RangeLo *uint64
	RangeHi *uint64

	SubTags []Tag
}

// IsValue reports whether this tag names a single value.
func (t Tag) IsValue() bool { return t.Value != nil }

// IsRange reports whether this tag names a reserved inclusive range.
func (t Tag) IsRange() bool { return t.RangeLo != nil && t.RangeHi != nil }

// IsGroup reports whether this tag names a subgroup of further tags.
func (t Tag) IsGroup() bool { return len(t.SubTags) > 0 }

// Leaves returns every value-tag reachable from t, recursing into
// subgroups, in declaration order.
func (t Tag) Leaves() []Tag {
	if t.IsValue() {
		return []Tag{t}
	}
	var out []Tag
	for _, st := range t.SubTags {
		out = append(out, st.Leaves()...)
	}
	return out
}

// Constraint fixes the value of an inherited field on a derived packet or
// struct, or on a GroupField expansion site.
type Constraint struct {
	ID string

	Value *uint64
	TagID *string
}

// EnumDeclaration is a closed (ranges cover every code point) or open
// (ranges present but don't exhaust the width) set of named integer tags.
type EnumDeclaration struct {
	declBase
	DeclID string
	Width  int
	Tags   []Tag
}

func (e *EnumDeclaration) ID() string          { return e.DeclID }
func (e *EnumDeclaration) Kind() field.DeclKind { return field.DeclEnum }

// IsClosed reports whether every value in [0, 2^Width) is covered by a
// value tag or a range tag.
func (e *EnumDeclaration) IsClosed() bool {
	covered := make(map[uint64]bool)
	var mark func(tags []Tag)
	mark = func(tags []Tag) {
		for _, t := range tags {
			switch {
			case t.IsValue():
				covered[*t.Value] = true
			case t.IsRange():
				for v := *t.RangeLo; v <= *t.RangeHi; v++ {
					covered[v] = true
				}
			case t.IsGroup():
				mark(t.SubTags)
			}
		}
	}
	mark(e.Tags)
	max := uint64(1) << uint(e.Width)
	return uint64(len(covered)) >= max
}

// PacketDeclaration is a named, ordered field list that lives in the
// packet scope and may be derived from a parent packet via constraints.
type PacketDeclaration struct {
	declBase
	DeclID      string
	ParentID    string // empty if root
	Constraints []Constraint
	Fields      []Field
}

func (p *PacketDeclaration) ID() string          { return p.DeclID }
func (p *PacketDeclaration) Kind() field.DeclKind { return field.DeclPacket }

// StructDeclaration is the same shape as PacketDeclaration but lives in the
// typedef scope and is referenced by TypedefField, never specialized to at
// the top level.
type StructDeclaration struct {
	declBase
	DeclID      string
	ParentID    string
	Constraints []Constraint
	Fields      []Field
}

func (s *StructDeclaration) ID() string          { return s.DeclID }
func (s *StructDeclaration) Kind() field.DeclKind { return field.DeclStruct }

// GroupDeclaration is a reusable field list inlined at each GroupField
// reference site by desugar.Normalize. It does not survive normalization.
type GroupDeclaration struct {
	declBase
	DeclID string
	Fields []Field
}

func (g *GroupDeclaration) ID() string          { return g.DeclID }
func (g *GroupDeclaration) Kind() field.DeclKind { return field.DeclGroup }

// CustomFieldDeclaration names an opaque type with a user-supplied
// parse/serialize implementation. Width is nil for variable-size custom
// fields, which cannot participate in a bit chunk.
type CustomFieldDeclaration struct {
	declBase
	DeclID string
	Width  *int
}

func (c *CustomFieldDeclaration) ID() string          { return c.DeclID }
func (c *CustomFieldDeclaration) Kind() field.DeclKind { return field.DeclCustomField }

// ChecksumDeclaration names a user-supplied checksum function of the
// declared width.
type ChecksumDeclaration struct {
	declBase
	DeclID   string
	Width    int
	Function string
}

func (c *ChecksumDeclaration) ID() string          { return c.DeclID }
func (c *ChecksumDeclaration) Kind() field.DeclKind { return field.DeclChecksum }

// ScalarField is an unsigned integer of Width bits.
type ScalarField struct {
	fieldBase
	FieldID string
	Width   int
}

func (s *ScalarField) Kind() field.Kind { return field.KindScalar }

// TypedefField nests an enum, struct, custom field, or checksum value.
type TypedefField struct {
	fieldBase
	FieldID string
	TypeID  string
}

func (t *TypedefField) Kind() field.Kind { return field.KindTypedef }

// ArrayField is a repeated sequence of either scalar (ElementWidth set) or
// typedef (ElementTypeID set) elements.
type ArrayField struct {
	fieldBase
	FieldID string

	ElementWidth  *int
	ElementTypeID *string

	// SizeModifier is added to a size-field-derived byte count before
	// use, the same adjustment payload fields carry.
	SizeModifier int

	// Size is the compile-time constant element count, if the array has
	// one. Nil means the count comes from a SizeField/CountField or is
	// unbounded.
	Size *int

	// PaddedSize is the octet width this array is right-zero-padded to,
	// set by desugar.Normalize from a following PaddingField.
	PaddedSize *int
}

func (a *ArrayField) Kind() field.Kind { return field.KindArray }

// SizeField carries the byte length of another field (TargetID) in the
// same declaration.
type SizeField struct {
	fieldBase
	FieldID  string
	TargetID string
	Width    int
}

func (s *SizeField) Kind() field.Kind { return field.KindSize }

// CountField carries the element count of another field (TargetID) in the
// same declaration.
type CountField struct {
	fieldBase
	FieldID  string
	TargetID string
	Width    int
}

func (c *CountField) Kind() field.Kind { return field.KindCount }

// PayloadField is the variable-length region holding either a derived
// packet's serialized body or free-form bytes.
type PayloadField struct {
	fieldBase
	FieldID      string
	SizeModifier int
}

func (p *PayloadField) Kind() field.Kind { return field.KindPayload }

// BodyField is the body-keyword variant of the payload region; it differs
// from PayloadField only in how the schema spells it.
type BodyField struct {
	fieldBase
	FieldID      string
	SizeModifier int
}

func (b *BodyField) Kind() field.Kind { return field.KindBody }

// FixedField is a constant that must appear verbatim: either a literal of
// Width bits, or a reference to an enum tag.
type FixedField struct {
	fieldBase
	Width *int
	Value *uint64

	EnumID *string
	TagID  *string
}

func (f *FixedField) Kind() field.Kind { return field.KindFixed }

// ReservedField is Width bits that must be written zero and whose parsed
// value is discarded.
type ReservedField struct {
	fieldBase
	Width int
}

func (r *ReservedField) Kind() field.Kind { return field.KindReserved }

// PaddingField is consumed by desugar.Normalize: it sets the preceding
// array's PaddedSize and is not re-emitted. It exists in the IR only
// pre-normalization.
type PaddingField struct {
	fieldBase
	Size int
}

func (p *PaddingField) Kind() field.Kind { return field.KindPadding }

// ChecksumField is a zero-width marker declaring that the checksum carried
// by TargetID covers bytes from this point to the checksum value field.
type ChecksumField struct {
	fieldBase
	TargetID string
}

func (c *ChecksumField) Kind() field.Kind { return field.KindChecksum }

// GroupField references a GroupDeclaration; desugar.Normalize expands it
// away, threading Constraints into the inlined fields. It does not survive
// normalization.
type GroupField struct {
	fieldBase
	GroupID     string
	Constraints []Constraint
}

func (g *GroupField) Kind() field.Kind { return field.KindGroup }
