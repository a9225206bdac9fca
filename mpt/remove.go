package mpt

import (
	"context"

	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"
)

// remove deletes path below the subtree rooted at d. It returns the new subtree digest (nil when the
// subtree became empty) and whether the key was present.
func (v view) remove(ctx context.Context, d []byte, path nibble.Path) ([]byte, bool, error) {
	if d == nil {
		return nil, false, nil
	}
	n, err := v.load(ctx, d)
	if err != nil {
		return nil, false, err
	}

	switch n := n.(type) {
	case *node.Leaf:
		if n.Suffix.Equal(path) {
			return nil, true, nil
		}
		return d, false, nil

	case *node.Branch:
		if !path.HasPrefix(n.Prefix) {
			return d, false, nil
		}
		rem := path.From(n.Prefix.Len())
		nb := &node.Branch{Prefix: n.Prefix, Children: n.Children, Value: n.Value}
		if rem.IsEmpty() {
			if !n.HasValue() {
				return d, false, nil
			}
			nb.Value = nil
		} else {
			idx := rem.At(0)
			child, found, err := v.remove(ctx, n.Children[idx], rem.From(1))
			if err != nil {
				return nil, false, err
			}
			if !found {
				return d, false, nil
			}
			nb.Children[idx] = child
		}
		out, err := v.normalize(ctx, nb)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil

	default:
		return nil, false, &InvariantError{Reason: "unexpected node kind " + n.Kind().String(), Digest: d}
	}
}

// normalize stages br, first collapsing it if it no longer holds two entries: a lone value becomes a
// leaf, a lone child absorbs the prefix and its slot nibble.
func (v view) normalize(ctx context.Context, br *node.Branch) ([]byte, error) {
	if br.Canonical() {
		return v.stage(br), nil
	}
	if br.HasValue() {
		return v.stage(&node.Leaf{Suffix: br.Prefix, Value: br.Value}), nil
	}
	idx := br.OnlyChild()
	if idx < 0 {
		return nil, nil
	}
	child, err := v.load(ctx, br.Children[idx])
	if err != nil {
		return nil, err
	}
	lead := nibble.Concat(br.Prefix, nibble.Of(byte(idx)))
	switch c := child.(type) {
	case *node.Leaf:
		return v.stage(&node.Leaf{Suffix: nibble.Concat(lead, c.Suffix), Value: c.Value}), nil
	case *node.Branch:
		return v.stage(&node.Branch{Prefix: nibble.Concat(lead, c.Prefix), Children: c.Children, Value: c.Value}), nil
	default:
		return nil, &InvariantError{Reason: "unexpected node kind " + child.Kind().String(), Digest: br.Children[idx]}
	}
}
