package proof

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"

	cbg "github.com/whyrusleeping/cbor-gen"
)

const maxClassicNodes = 4096

// ClassicNodes lists the nodes of a classic proof from the root down. A prefixed branch becomes an
// extension followed by the unprefixed branch; a branch the key diverges from is represented by its
// extension alone.
func ClassicNodes(s commit.Scheme, t *Traversal) ([]node.Node, error) {
	if s.Name() != commit.SchemeClassic {
		return nil, fmt.Errorf("%w: node-list proofs need the classic scheme, not %s", ErrUnsupportedFormat, s.Name())
	}
	var out []node.Node
	for _, st := range t.Steps {
		bare := st.Branch.Unprefixed()
		if st.Branch.Prefix.Len() > 0 {
			out = append(out, &node.Extension{Path: st.Branch.Prefix, Child: bare.Hash(s)})
		}
		out = append(out, bare)
	}
	switch term := t.Terminal.(type) {
	case *node.Leaf:
		out = append(out, term)
	case *node.Branch:
		out = append(out, &node.Extension{Path: term.Prefix, Child: term.Unprefixed().Hash(s)})
	}
	return out, nil
}

// EncodeClassic writes nodes as a CBOR array of byte strings, each holding one encoded node.
func EncodeClassic(codec node.Codec, nodes []node.Node) ([]byte, error) {
	buf := new(bytes.Buffer)
	cw := cbg.NewCborWriter(buf)
	if err := cw.WriteMajorTypeHeader(cbg.MajArray, uint64(len(nodes))); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		enc, err := codec.Encode(n)
		if err != nil {
			return nil, err
		}
		if err := cbg.WriteByteArray(cw, enc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func DecodeClassic(codec node.Codec, data []byte) ([]node.Node, error) {
	br := bytes.NewReader(data)
	cr := cbg.NewCborReader(br)
	maj, n, err := cr.ReadHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedProof, err)
	}
	if maj != cbg.MajArray {
		return nil, fmt.Errorf("%w: expected array, got major type %d", ErrMalformedProof, maj)
	}
	if n > maxClassicNodes {
		return nil, fmt.Errorf("%w: %d nodes", ErrMalformedProof, n)
	}
	out := make([]node.Node, 0, n)
	for i := uint64(0); i < n; i++ {
		raw, err := cbg.ReadByteArray(cr, maxMPFBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %w", ErrMalformedProof, i, err)
		}
		nd, err := codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %w", ErrMalformedProof, i, err)
		}
		out = append(out, nd)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformedProof)
	}
	return out, nil
}

// VerifyClassic walks a node-list proof: every node must hash to the digest its parent references,
// the walk must follow path, and nothing may follow the node where the walk ends.
func VerifyClassic(s commit.Scheme, codec node.Codec, expectedRoot []byte, path nibble.Path, value []byte, including bool, wire []byte) (bool, error) {
	nodes, err := DecodeClassic(codec, wire)
	if err != nil {
		return false, err
	}
	if including && len(value) == 0 {
		return false, nil
	}
	if len(nodes) == 0 {
		return !including && commit.IsNull(s, expectedRoot), nil
	}

	expected := expectedRoot
	pos := 0
	for i, n := range nodes {
		last := i == len(nodes)-1
		if !bytes.Equal(n.Hash(s), expected) {
			return false, nil
		}
		// done reports the outcome of a walk that ends at node i
		done := func(present bool) (bool, error) {
			if !last {
				return false, fmt.Errorf("%w: %d entries after the terminal node", ErrMalformedProof, len(nodes)-1-i)
			}
			return present == including, nil
		}

		switch n := n.(type) {
		case *node.Extension:
			if !path.From(pos).HasPrefix(n.Path) {
				return done(false)
			}
			pos += n.Path.Len()
			expected = n.Child
		case *node.Branch:
			if n.Prefix.Len() > 0 || !n.Canonical() {
				return false, fmt.Errorf("%w: node %d is not a bare canonical branch", ErrMalformedProof, i)
			}
			if pos == path.Len() {
				if !n.HasValue() {
					return done(false)
				}
				if including && !bytes.Equal(n.Value, value) {
					return done(false)
				}
				return done(true)
			}
			child := n.Children[path.At(pos)]
			if len(child) == 0 {
				return done(false)
			}
			pos++
			expected = child
		case *node.Leaf:
			if !n.Suffix.Equal(path.From(pos)) {
				return done(false)
			}
			if including && !bytes.Equal(n.Value, value) {
				return done(false)
			}
			return done(true)
		default:
			return false, fmt.Errorf("%w: unexpected node %T", ErrMalformedProof, n)
		}
		if pos > path.Len() {
			return false, fmt.Errorf("%w: proof runs past the end of the key path", ErrMalformedProof)
		}
	}
	return false, fmt.Errorf("%w: proof ends before reaching a terminal node", ErrMalformedProof)
}
