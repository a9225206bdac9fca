package commit

import (
	"github.com/bluesky-social/vds/mpt/nibble"
)

// MPF is the compact "merkle patricia forestry" commitment: every node hash is combine(a, b) = H(a || b).
//
//	leaf   = combine(suffix(path), H(value))
//	branch = combine(nibbles(prefix), merkle16(children))
//
// where suffix() is the 0xff/0x00 tagged encoding from nibble.Path.MPFSuffix, nibbles() is one byte
// per nibble, and merkle16 is a balanced binary tree over the 16 child slots with the null digest in
// empty slots. Branches carry no terminal value. This layout is what the Aiken on-chain verifier
// recomputes.
type MPF struct {
	h    Hasher
	null []byte
}

var _ Scheme = (*MPF)(nil)

func NewMPF(h Hasher) *MPF {
	return &MPF{h: h, null: zeros(h.Size())}
}

func (m *MPF) Name() string              { return SchemeMPF }
func (m *MPF) Hasher() Hasher            { return m.h }
func (m *MPF) SupportsBranchValue() bool { return false }

func (m *MPF) NullDigest() []byte {
	out := make([]byte, len(m.null))
	copy(out, m.null)
	return out
}

func (m *MPF) combine(a, b []byte) []byte {
	return m.h.Digest(a, b)
}

func (m *MPF) CommitLeaf(suffix nibble.Path, valueDigest []byte) []byte {
	return m.combine(suffix.MPFSuffix(), valueDigest)
}

// CommitBranch ignores valueDigest; the engine never produces branch values under this scheme.
func (m *MPF) CommitBranch(prefix nibble.Path, children [16][]byte, valueDigest []byte) []byte {
	return m.combine(prefix.NibbleBytes(), m.Merkle16(children))
}

// CommitExtension folds a nibble run onto an already committed subtree root. The forestry layout has
// no extension nodes; a prefixed branch hashes the same as its prefix folded onto merkle16.
func (m *MPF) CommitExtension(path nibble.Path, child []byte) []byte {
	return m.combine(path.NibbleBytes(), child)
}

func (m *MPF) slot(d []byte) []byte {
	if len(d) == 0 {
		return m.null
	}
	return d
}

// Merkle16 is the root of the balanced binary tree over the 16 child slots.
func (m *MPF) Merkle16(children [16][]byte) []byte {
	return m.merkleRange(children, 0, 16)
}

func (m *MPF) merkleRange(children [16][]byte, start, end int) []byte {
	if end-start == 1 {
		return m.slot(children[start])
	}
	mid := start + (end-start)/2
	return m.combine(m.merkleRange(children, start, mid), m.merkleRange(children, mid, end))
}

// Neighbors returns the sibling subtree roots needed to rebuild merkle16 from the child at index me:
// the opposite half of size 8, then 4, 2 and 1.
func (m *MPF) Neighbors(children [16][]byte, me int) [4][]byte {
	var out [4][]byte
	pivot, n := 8, 8
	for i := 0; n >= 1; i++ {
		if me < pivot {
			out[i] = m.merkleRange(children, pivot, pivot+n)
			pivot -= n >> 1
		} else {
			out[i] = m.merkleRange(children, pivot-n, pivot)
			pivot += n >> 1
		}
		n >>= 1
	}
	return out
}

// Merkle16FromNeighbors rebuilds merkle16 given the digest at slot me and the four neighbor roots
// produced by Neighbors.
func (m *MPF) Merkle16FromNeighbors(me int, digest []byte, neighbors [4][]byte) []byte {
	acc := digest
	for k := 0; k < 4; k++ {
		nb := neighbors[3-k]
		if (me>>k)&1 == 0 {
			acc = m.combine(acc, nb)
		} else {
			acc = m.combine(nb, acc)
		}
	}
	return acc
}

// SparseMerkle16 is merkle16 over a slot array holding only two non-empty entries.
func (m *MPF) SparseMerkle16(me int, meDigest []byte, other int, otherDigest []byte) []byte {
	var children [16][]byte
	children[me] = meDigest
	children[other] = otherDigest
	return m.Merkle16(children)
}
