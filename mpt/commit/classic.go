package commit

import (
	"github.com/bluesky-social/vds/mpt/nibble"
)

// Classic commits nodes with hex-prefix encoded paths and a binary merkle root over the branch slots:
//
//	leaf      = H(hp(suffix, leaf) || H(value))
//	extension = H(hp(path, ext) || child)
//	branch    = H(merkle(children[0..15] [, H(value)]))
//
// Absent children hash as the null digest. When a branch has a terminal value its digest is the 17th
// merkle leaf and odd layers carry their last element up unchanged. A branch with a compressed prefix
// commits as extension(prefix, branch), so it hashes identically to the Extension -> Branch pair that
// represents it on the wire.
type Classic struct {
	h    Hasher
	null []byte
}

var _ Scheme = (*Classic)(nil)

func NewClassic(h Hasher) *Classic {
	return &Classic{h: h, null: zeros(h.Size())}
}

func (c *Classic) Name() string              { return SchemeClassic }
func (c *Classic) Hasher() Hasher            { return c.h }
func (c *Classic) SupportsBranchValue() bool { return true }

func (c *Classic) NullDigest() []byte {
	out := make([]byte, len(c.null))
	copy(out, c.null)
	return out
}

func (c *Classic) CommitLeaf(suffix nibble.Path, valueDigest []byte) []byte {
	return c.h.Digest(nibble.EncodeHP(suffix, true), valueDigest)
}

func (c *Classic) CommitExtension(path nibble.Path, child []byte) []byte {
	return c.h.Digest(nibble.EncodeHP(path, false), child)
}

func (c *Classic) CommitBranch(prefix nibble.Path, children [16][]byte, valueDigest []byte) []byte {
	layer := make([][]byte, 0, 17)
	for _, ch := range children {
		if len(ch) == 0 {
			layer = append(layer, c.null)
		} else {
			layer = append(layer, ch)
		}
	}
	if len(valueDigest) > 0 {
		layer = append(layer, valueDigest)
	}
	for len(layer) > 1 {
		next := make([][]byte, 0, (len(layer)+1)/2)
		for i := 0; i+1 < len(layer); i += 2 {
			next = append(next, c.h.Digest(layer[i], layer[i+1]))
		}
		if len(layer)%2 == 1 {
			next = append(next, layer[len(layer)-1])
		}
		layer = next
	}
	d := c.h.Digest(layer[0])
	if prefix.Len() > 0 {
		return c.CommitExtension(prefix, d)
	}
	return d
}
