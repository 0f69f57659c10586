// Package errs provides the error type used across this module. It wraps
// github.com/gostdlib/base/errors the way the rest of this codebase's
// lineage does, so call sites never need to import the stdlib errors
// package directly.
package errs

import (
	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/errors"
)

//go:generate stringer -type=Category -linecomment

// Category represents the category of the error, per the taxonomy this
// module uses to classify failures.
type Category uint32

func (c Category) Category() string {
	return c.String()
}

func (c Category) String() string {
	switch c {
	case CatMalformedIR:
		return "MalformedIR"
	case CatUnsupportedLayout:
		return "UnsupportedLayout"
	case CatNormalization:
		return "Normalization"
	case CatRuntime:
		return "Runtime"
	case CatOverflow:
		return "Overflow"
	}
	return "Unknown"
}

const (
	// CatUnknown represents an unknown category. This should not be used.
	CatUnknown Category = Category(0)
	// CatMalformedIR covers missing scopes, undefined group/type/tag ids,
	// and duplicate declaration ids. Always fatal.
	CatMalformedIR Category = Category(1)
	// CatUnsupportedLayout covers layouts this core cannot statically
	// plan: a typedef field off a byte boundary, a payload with unknown
	// size and unknown suffix length, a big-endian file with non-zero
	// body shift, a derived struct referenced as a typedef. Fatal.
	CatUnsupportedLayout Category = Category(2)
	// CatNormalization covers desugaring failures: padding without a
	// predecessor, a group referenced without a definition. Fatal.
	CatNormalization Category = Category(3)
	// CatRuntime covers errors surfaced by a generated parser at
	// runtime: span too short, fixed-value mismatch, enum value outside
	// a closed set, checksum mismatch, size/count overflow.
	CatRuntime Category = Category(4)
	// CatOverflow covers a generated serializer's range check: a
	// scalar, size, or count value exceeding its declared bit width.
	CatOverflow Category = Category(5)
)

//go:generate stringer -type=Type -linecomment

// Type represents the finer-grained type of the error within its Category.
type Type uint16

func (t Type) Type() string {
	return t.String()
}

func (t Type) String() string {
	switch t {
	case TypeUndefinedRef:
		return "UndefinedRef"
	case TypeDuplicateID:
		return "DuplicateID"
	case TypeMissingScope:
		return "MissingScope"
	case TypeUnaligned:
		return "Unaligned"
	case TypeUnknownSize:
		return "UnknownSize"
	case TypeBadShift:
		return "BadShift"
	case TypeMissingPredecessor:
		return "MissingPredecessor"
	case TypeSpanTooShort:
		return "SpanTooShort"
	case TypeValueMismatch:
		return "ValueMismatch"
	case TypeChecksumMismatch:
		return "ChecksumMismatch"
	case TypeRangeOverflow:
		return "RangeOverflow"
	}
	return "Unknown"
}

const (
	// TypeUnknown represents an unknown type. This should not be used.
	TypeUnknown Type = Type(0)
	// TypeUndefinedRef: a group/type/tag/field id referenced but never
	// declared.
	TypeUndefinedRef Type = Type(1)
	// TypeDuplicateID: two declarations (or two fields in one
	// declaration) share an id.
	TypeDuplicateID Type = Type(2)
	// TypeMissingScope: a File is missing packet_scope/typedef_scope/
	// group_scope entirely.
	TypeMissingScope Type = Type(3)
	// TypeUnaligned: a non-bit field does not start on a byte boundary.
	TypeUnaligned Type = Type(4)
	// TypeUnknownSize: a quantity the planner needs is not statically
	// decidable (e.g. an unbounded array followed by fixed fields).
	TypeUnknownSize Type = Type(5)
	// TypeBadShift: a big-endian file has a non-zero packet body shift.
	TypeBadShift Type = Type(6)
	// TypeMissingPredecessor: a PaddingField has no preceding array.
	TypeMissingPredecessor Type = Type(7)
	// TypeSpanTooShort: a generated parser ran out of input bytes.
	TypeSpanTooShort Type = Type(8)
	// TypeValueMismatch: a FixedField read back a value other than its
	// declared constant.
	TypeValueMismatch Type = Type(9)
	// TypeChecksumMismatch: a computed checksum disagreed with the
	// value carried on the wire.
	TypeChecksumMismatch Type = Type(10)
	// TypeRangeOverflow: a value handed to a generated serializer does
	// not fit in its field's declared width.
	TypeRangeOverflow Type = Type(11)
)

// LogAttrer is an interface that can be implemented by an error to return a
// list of attributes used in logging.
type LogAttrer = errors.LogAttrer

// Error is the error type for this module. Error implements
// github.com/gostdlib/base/errors.E .
type Error = errors.Error

// EOption is an optional argument for E().
type EOption = errors.EOption

// WithStackTrace adds a stack trace to the error, useful for the rarer
// normalization/layout failures where call-site context matters.
func WithStackTrace() EOption {
	return errors.WithStackTrace()
}

// WithCallNum sets runtime.CallNum() when E() is called from another
// wrapper one frame removed, so the recorded file/line stays accurate.
func WithCallNum(i int) EOption {
	return errors.WithCallNum(i)
}

// E creates a new Error with the given category, type, and message. Category
// and Type satisfy the Category()/Type() string accessors errors.E expects.
func E(ctx context.Context, c Category, t Type, msg error, options ...EOption) Error {
	opts := make([]EOption, 0, len(options)+1)
	opts = append(opts, WithCallNum(2))
	opts = append(opts, options...)

	return errors.E(ctx, c, t, msg, opts...)
}
