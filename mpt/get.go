package mpt

import (
	"context"

	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"
)

// view resolves digests against staged nodes first, then the store. A view with a nil staged map
// only sees committed nodes.
type view struct {
	t      *Trie
	staged map[string]node.Node
}

func (t *Trie) view(staged map[string]node.Node) view {
	return view{t: t, staged: staged}
}

func (v view) load(ctx context.Context, d []byte) (node.Node, error) {
	if v.staged != nil {
		if n, ok := v.staged[string(d)]; ok {
			return n, nil
		}
	}
	return v.t.loadStored(ctx, d)
}

// stage records a new node and returns its digest. Only a view with a staged map may stage.
func (v view) stage(n node.Node) []byte {
	d := n.Hash(v.t.scheme)
	v.staged[string(d)] = n
	return d
}

func (v view) get(ctx context.Context, root []byte, path nibble.Path) ([]byte, bool, error) {
	cur := root
	pos := 0
	for cur != nil {
		n, err := v.load(ctx, cur)
		if err != nil {
			return nil, false, err
		}
		switch n := n.(type) {
		case *node.Leaf:
			if n.Suffix.Equal(path.From(pos)) {
				return n.Value, true, nil
			}
			return nil, false, nil
		case *node.Branch:
			if !path.From(pos).HasPrefix(n.Prefix) {
				return nil, false, nil
			}
			pos += n.Prefix.Len()
			if pos == path.Len() {
				if n.HasValue() {
					return n.Value, true, nil
				}
				return nil, false, nil
			}
			cur = n.Children[path.At(pos)]
			pos++
		default:
			return nil, false, &InvariantError{Reason: "unexpected node kind " + n.Kind().String(), Digest: cur}
		}
	}
	return nil, false, nil
}
