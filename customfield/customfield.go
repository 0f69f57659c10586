// Package customfield holds the two contracts callers supply themselves: a
// CustomFieldDeclaration's parse functions, and a ChecksumDeclaration's
// checksum function. Neither parseplan nor serializeplan implements these;
// they only carry the function's name through a plan's Action and call
// whatever the caller registers (parseplan.ChecksumFunc /
// serializeplan.ChecksumFunc).
package customfield

import "github.com/cespare/xxhash/v2"

// Parser is the contract a CustomFieldDeclaration named T must satisfy.
// Parse consumes a prefix of span and returns the decoded value plus
// whatever bytes remain, for a custom field embedded ahead of other
// fields in the same region; ParseAll requires the whole span to decode
// with nothing left over, for a custom field that is the last (or only)
// field of its region.
type Parser interface {
	Parse(span []byte) (value any, residual []byte, err error)
	ParseAll(span []byte) (value any, err error)
}

// XXHashChecksum returns a checksum function of the given bit width backed
// by xxhash, for fixtures and tests that need a working ChecksumFunc
// implementation. It is an example, not a blessed default: a
// real PDL file names whatever function its target runtime provides, and
// this core never calls it on its own.
//
// The returned func's signature matches both parseplan.ChecksumFunc and
// serializeplan.ChecksumFunc (each its own named type over the same
// underlying func([]byte) uint64) without importing either package.
func XXHashChecksum(width int) func([]byte) uint64 {
	mask := ^uint64(0)
	if width < 64 {
		mask = uint64(1)<<uint(width) - 1
	}
	return func(data []byte) uint64 {
		return xxhash.Sum64(data) & mask
	}
}
