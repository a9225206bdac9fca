package mpt

import (
	"context"

	"github.com/bluesky-social/vds/mpt/node"
	"github.com/bluesky-social/vds/mpt/proof"

	"go.opentelemetry.io/otel"
)

// Proof records the lookup of key in a committed version: every branch on the way down and the node
// where the key's path ends or diverges.
func (t *Trie) Proof(ctx context.Context, key []byte, version uint64) (*proof.Traversal, error) {
	path, err := t.keyPath(key)
	if err != nil {
		return nil, err
	}
	root, err := t.rootFor(ctx, version)
	if err != nil {
		return nil, err
	}

	v := t.view(nil)
	tr := &proof.Traversal{Path: path, Type: proof.NonInclusionMissingBranch}
	cur := root
	pos := 0
	for cur != nil {
		n, err := v.load(ctx, cur)
		if err != nil {
			return nil, err
		}
		switch n := n.(type) {
		case *node.Leaf:
			tr.Terminal = n
			if n.Suffix.Equal(path.From(pos)) {
				tr.Type = proof.Inclusion
			} else {
				tr.Type = proof.NonInclusionDifferentLeaf
			}
			return tr, nil
		case *node.Branch:
			if !path.From(pos).HasPrefix(n.Prefix) {
				tr.Terminal = n
				tr.Type = proof.NonInclusionDifferentLeaf
				return tr, nil
			}
			pos += n.Prefix.Len()
			if pos == path.Len() {
				tr.Steps = append(tr.Steps, proof.Step{Branch: n, Nibble: -1})
				if n.HasValue() {
					tr.Type = proof.Inclusion
				}
				return tr, nil
			}
			st := proof.Step{Branch: n, Nibble: int(path.At(pos))}
			if nb := st.NeighborNibble(); nb >= 0 {
				st.Neighbor, err = v.load(ctx, n.Children[nb])
				if err != nil {
					return nil, err
				}
			}
			tr.Steps = append(tr.Steps, st)
			cur = n.Children[st.Nibble]
			pos++
		default:
			return nil, &InvariantError{Reason: "unexpected node kind " + n.Kind().String(), Digest: cur}
		}
	}
	return tr, nil
}

// ProofWire renders the proof for key at version in a wire format. found is false when the version
// holds an empty trie, in which case there is nothing to prove against.
func (t *Trie) ProofWire(ctx context.Context, key []byte, version uint64, format proof.Format) ([]byte, bool, error) {
	ctx, span := otel.Tracer("mpt").Start(ctx, "ProofWire")
	defer span.End()

	tr, err := t.Proof(ctx, key, version)
	if err != nil {
		return nil, false, err
	}
	if len(tr.Steps) == 0 && tr.Terminal == nil {
		return nil, false, nil
	}
	wire, err := proof.Encode(format, t.scheme, tr)
	if err != nil {
		return nil, false, err
	}
	proofsGenerated.WithLabelValues(string(format), tr.Type.String()).Inc()
	return wire, true, nil
}
