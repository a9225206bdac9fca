package mpt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"
)

// insert writes value at path below the subtree rooted at d (nil for empty) and returns the new
// subtree digest. Untouched siblings keep their digests; when nothing changes d is returned as is.
func (v view) insert(ctx context.Context, d []byte, path nibble.Path, value []byte) ([]byte, error) {
	if d == nil {
		return v.stage(&node.Leaf{Suffix: path, Value: value}), nil
	}
	n, err := v.load(ctx, d)
	if err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case *node.Leaf:
		if n.Suffix.Equal(path) {
			if bytes.Equal(n.Value, value) {
				return d, nil
			}
			return v.stage(&node.Leaf{Suffix: path, Value: value}), nil
		}
		cp := nibble.CommonPrefix(n.Suffix, path)
		br := &node.Branch{Prefix: path.Slice(0, cp)}
		if err := v.place(br, n.Suffix.From(cp), n.Value); err != nil {
			return nil, err
		}
		if err := v.place(br, path.From(cp), value); err != nil {
			return nil, err
		}
		return v.stage(br), nil

	case *node.Branch:
		cp := nibble.CommonPrefix(n.Prefix, path)
		if cp < n.Prefix.Len() {
			// the path leaves the prefix: split it around a new branch
			lower := &node.Branch{Prefix: n.Prefix.From(cp + 1), Children: n.Children, Value: n.Value}
			upper := &node.Branch{Prefix: n.Prefix.Slice(0, cp)}
			upper.Children[n.Prefix.At(cp)] = v.stage(lower)
			if err := v.place(upper, path.From(cp), value); err != nil {
				return nil, err
			}
			return v.stage(upper), nil
		}

		rem := path.From(n.Prefix.Len())
		nb := &node.Branch{Prefix: n.Prefix, Children: n.Children, Value: n.Value}
		if rem.IsEmpty() {
			if !v.t.scheme.SupportsBranchValue() {
				return nil, fmt.Errorf("%w: key is a prefix of a stored key", ErrInvalidKey)
			}
			if bytes.Equal(n.Value, value) {
				return d, nil
			}
			nb.Value = value
			return v.stage(nb), nil
		}
		idx := rem.At(0)
		child, err := v.insert(ctx, n.Children[idx], rem.From(1), value)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(child, n.Children[idx]) {
			return d, nil
		}
		nb.Children[idx] = child
		return v.stage(nb), nil

	default:
		return nil, &InvariantError{Reason: "unexpected node kind " + n.Kind().String(), Digest: d}
	}
}

// place puts a leaf for rem into br: as the branch value when rem is empty, else as a new child.
// The caller guarantees the slot is free.
func (v view) place(br *node.Branch, rem nibble.Path, value []byte) error {
	if rem.IsEmpty() {
		if !v.t.scheme.SupportsBranchValue() {
			return fmt.Errorf("%w: key is a prefix of a stored key", ErrInvalidKey)
		}
		br.Value = value
		return nil
	}
	br.Children[rem.At(0)] = v.stage(&node.Leaf{Suffix: rem.From(1), Value: value})
	return nil
}
