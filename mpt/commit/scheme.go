package commit

import (
	"fmt"
	"strings"

	"github.com/bluesky-social/vds/mpt/nibble"
)

// Scheme maps node contents to digests. Implementations must be pure and byte-for-byte reproducible:
// external verifiers recompute these digests from proofs.
//
// Absent children are passed as nil slots. A nil valueDigest means the branch has no terminal value.
type Scheme interface {
	Name() string
	Hasher() Hasher
	NullDigest() []byte
	CommitLeaf(suffix nibble.Path, valueDigest []byte) []byte
	CommitBranch(prefix nibble.Path, children [16][]byte, valueDigest []byte) []byte
	CommitExtension(path nibble.Path, child []byte) []byte
	// SupportsBranchValue reports whether a value terminating at a branch is part of the branch
	// commitment. Schemes without it cannot store a key that is a strict prefix of another key.
	SupportsBranchValue() bool
}

const (
	SchemeMPF     = "mpf"
	SchemeClassic = "classic"
)

// SchemeByName resolves a commitment scheme from configuration.
func SchemeByName(name string, h Hasher) (Scheme, error) {
	switch strings.ToLower(name) {
	case SchemeMPF, "forestry", "":
		return NewMPF(h), nil
	case SchemeClassic, "mpt":
		return NewClassic(h), nil
	default:
		return nil, fmt.Errorf("unknown commitment scheme: %q", name)
	}
}

// IsNull reports whether d is the scheme's empty-subtree digest (or empty).
func IsNull(s Scheme, d []byte) bool {
	if len(d) == 0 {
		return true
	}
	null := s.NullDigest()
	if len(d) != len(null) {
		return false
	}
	for i := range d {
		if d[i] != null[i] {
			return false
		}
	}
	return true
}

func zeros(n int) []byte {
	return make([]byte, n)
}
