package proof

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"
)

var ErrMalformedProof = errors.New("malformed proof")

var ErrInvalidProof = errors.New("proof does not match root")

var ErrUnsupportedFormat = errors.New("proof cannot be expressed in this format")

// Type classifies what a traversal proves about its key.
type Type uint8

const (
	Inclusion Type = iota + 1
	// NonInclusionMissingBranch ends at a branch whose slot for the next key nibble is empty.
	NonInclusionMissingBranch
	// NonInclusionDifferentLeaf ends at a leaf with another suffix, or at a branch whose prefix
	// the key leaves.
	NonInclusionDifferentLeaf
)

func (t Type) String() string {
	switch t {
	case Inclusion:
		return "inclusion"
	case NonInclusionMissingBranch:
		return "non-inclusion-missing-branch"
	case NonInclusionDifferentLeaf:
		return "non-inclusion-different-leaf"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Step records one branch visited on the way down.
type Step struct {
	// Branch is the visited node as stored, prefix and all children included.
	Branch *node.Branch
	// Nibble is the child slot the key continues into, or -1 when the key ends at this branch.
	Nibble int
	// Neighbor is set when the branch holds exactly one child besides Nibble and no value: the
	// forestry layout folds such a branch into a fork or leaf step.
	Neighbor node.Node
}

// NeighborNibble returns the slot of the single other child, or -1.
func (s Step) NeighborNibble() int {
	if s.Branch == nil || s.Branch.HasValue() {
		return -1
	}
	idx := -1
	for i, c := range s.Branch.Children {
		if i == s.Nibble || len(c) == 0 {
			continue
		}
		if idx >= 0 {
			return -1
		}
		idx = i
	}
	return idx
}

// Traversal is the format-independent record of a lookup, from the root to where the key's path
// ends or diverges.
type Traversal struct {
	Type  Type
	Path  nibble.Path
	Steps []Step
	// Terminal is the matching or conflicting *node.Leaf, a *node.Branch whose prefix the path
	// diverges from, or nil.
	Terminal node.Node
}

// Consumed returns the number of path nibbles used up by the steps.
func (t *Traversal) Consumed() int {
	n := 0
	for _, st := range t.Steps {
		n += st.Branch.Prefix.Len()
		if st.Nibble >= 0 {
			n++
		}
	}
	return n
}

// Verify replays the traversal bottom-up and reports whether it proves that path holds value
// (including) or holds nothing (!including) under expectedRoot. Structural problems are returned as
// errors wrapping ErrMalformedProof.
func Verify(s commit.Scheme, expectedRoot []byte, path nibble.Path, value []byte, including bool, t *Traversal) (bool, error) {
	if t == nil {
		return false, fmt.Errorf("%w: nil traversal", ErrMalformedProof)
	}
	if !t.Path.Equal(path) {
		return false, fmt.Errorf("%w: traversal is for path %s", ErrMalformedProof, t.Path)
	}
	if including && len(value) == 0 {
		return false, nil
	}

	if len(t.Steps) == 0 && t.Terminal == nil {
		return !including && commit.IsNull(s, expectedRoot), nil
	}

	pos := 0
	for i, st := range t.Steps {
		if st.Branch == nil {
			return false, fmt.Errorf("%w: step %d has no branch", ErrMalformedProof, i)
		}
		if !st.Branch.Canonical() {
			return false, fmt.Errorf("%w: step %d is not a canonical branch", ErrMalformedProof, i)
		}
		if !path.From(pos).HasPrefix(st.Branch.Prefix) {
			return false, fmt.Errorf("%w: step %d prefix leaves the key path", ErrMalformedProof, i)
		}
		pos += st.Branch.Prefix.Len()
		last := i == len(t.Steps)-1
		if st.Nibble < 0 {
			if !last || t.Terminal != nil || pos != path.Len() {
				return false, fmt.Errorf("%w: step %d ends the key early", ErrMalformedProof, i)
			}
			continue
		}
		if pos >= path.Len() || int(path.At(pos)) != st.Nibble {
			return false, fmt.Errorf("%w: step %d nibble does not follow the key path", ErrMalformedProof, i)
		}
		pos++
		if !last && len(st.Branch.Children[st.Nibble]) == 0 {
			return false, fmt.Errorf("%w: step %d descends into an empty slot", ErrMalformedProof, i)
		}
	}

	var (
		cur   []byte
		claim bool
	)
	switch term := t.Terminal.(type) {
	case nil:
		st := t.Steps[len(t.Steps)-1]
		if st.Nibble < 0 {
			if including {
				claim = bytes.Equal(st.Branch.Value, value)
			} else {
				claim = !st.Branch.HasValue()
			}
		} else {
			if len(st.Branch.Children[st.Nibble]) != 0 {
				return false, fmt.Errorf("%w: traversal stops above an occupied slot", ErrMalformedProof)
			}
			claim = !including
		}
	case *node.Leaf:
		match := term.Suffix.Equal(path.From(pos))
		if including {
			claim = match
			cur = s.CommitLeaf(path.From(pos), s.Hasher().Digest(value))
		} else {
			claim = !match
			cur = term.Hash(s)
		}
	case *node.Branch:
		if path.From(pos).HasPrefix(term.Prefix) {
			return false, fmt.Errorf("%w: terminal branch is on the key path", ErrMalformedProof)
		}
		claim = !including
		cur = term.Hash(s)
	default:
		return false, fmt.Errorf("%w: unexpected terminal %T", ErrMalformedProof, term)
	}

	for i := len(t.Steps) - 1; i >= 0; i-- {
		st := t.Steps[i]
		b := *st.Branch
		if st.Nibble >= 0 {
			b.Children[st.Nibble] = cur
		}
		cur = b.Hash(s)
	}

	if !bytes.Equal(cur, expectedRoot) {
		return false, nil
	}
	return claim, nil
}

// Check is Verify with a failed check reported as ErrInvalidProof.
func Check(s commit.Scheme, expectedRoot []byte, path nibble.Path, value []byte, including bool, t *Traversal) error {
	ok, err := Verify(s, expectedRoot, path, value, including, t)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidProof
	}
	return nil
}
