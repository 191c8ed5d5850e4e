// Package model defines the data types shared across the object database,
// the pipeline loader, and the lockfile: content hashes, per-object
// metadata, and the dependency/output entities a stage declares.
package model

import "strings"

// dirSuffix marks a Hash as identifying a tree object rather than a blob,
// so callers can tell trees from files without reading the object.
const dirSuffix = ".dir"

// DefaultAlgorithm is used for every hash computed by this module unless a
// caller explicitly requests otherwise. The algorithm name travels with
// the value so a future migration is a non-breaking extension.
const DefaultAlgorithm = "md5"

// Hash is a content hash paired with the algorithm that produced it.
type Hash struct {
	Algorithm string `json:"-" yaml:"-"`
	Value     string `json:"md5,omitempty" yaml:"md5,omitempty"`
	// Dir marks this hash as a tree object's hash (rendered with the
	// ".dir" suffix in its string form).
	Dir bool `json:"-" yaml:"-"`
}

// NewHash builds a Hash using DefaultAlgorithm.
func NewHash(value string) Hash {
	return Hash{Algorithm: DefaultAlgorithm, Value: value}
}

// NewDirHash builds a tree Hash using DefaultAlgorithm.
func NewDirHash(value string) Hash {
	return Hash{Algorithm: DefaultAlgorithm, Value: value, Dir: true}
}

// IsEmpty reports whether h carries no digest.
func (h Hash) IsEmpty() bool {
	return h.Value == ""
}

// String renders the hash the way it appears on disk and in lockfiles:
// the hex digest, suffixed with ".dir" for tree objects.
func (h Hash) String() string {
	if h.Dir {
		return h.Value + dirSuffix
	}
	return h.Value
}

// ParseHash parses a digest possibly carrying the ".dir" suffix.
func ParseHash(s string) Hash {
	if strings.HasSuffix(s, dirSuffix) {
		return Hash{Algorithm: DefaultAlgorithm, Value: strings.TrimSuffix(s, dirSuffix), Dir: true}
	}
	return Hash{Algorithm: DefaultAlgorithm, Value: s}
}

// Equal compares two hashes by algorithm and value; the Dir flag is not
// part of content identity (a blob and a tree can never collide because
// their inputs differ, but equality here only concerns the digest).
func (h Hash) Equal(other Hash) bool {
	return h.Algorithm == other.Algorithm && h.Value == other.Value
}

// FanOut splits a hex digest into the two-character fan-out directory
// name and the remaining suffix, per the ODB's on-disk layout.
func (h Hash) FanOut() (dir, rest string) {
	if len(h.Value) < 3 {
		return h.Value, ""
	}
	return h.Value[:2], h.Value[2:]
}
