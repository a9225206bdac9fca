package mpt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"

	"github.com/xlab/treeprint"
)

// Entry is one key/value pair found by a scan. Key is the packed path: the key itself in raw mode,
// its hash in hashed mode.
type Entry struct {
	Path  nibble.Path
	Key   []byte
	Value []byte
}

var errStopWalk = errors.New("stop walk")

// compatible reports whether one path is a prefix of the other.
func compatible(a, b nibble.Path) bool {
	m := min(a.Len(), b.Len())
	return a.Slice(0, m).Equal(b.Slice(0, m))
}

// walkEntries visits, in key order, every entry below d whose full path starts with want.
func (v view) walkEntries(ctx context.Context, d []byte, base, want nibble.Path, fn func(path nibble.Path, value []byte) error) error {
	if d == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := v.load(ctx, d)
	if err != nil {
		return err
	}
	switch n := n.(type) {
	case *node.Leaf:
		full := nibble.Concat(base, n.Suffix)
		if full.HasPrefix(want) {
			return fn(full, n.Value)
		}
		return nil
	case *node.Branch:
		here := nibble.Concat(base, n.Prefix)
		if !compatible(here, want) {
			return nil
		}
		if n.HasValue() && here.HasPrefix(want) {
			if err := fn(here, n.Value); err != nil {
				return err
			}
		}
		for i, c := range n.Children {
			if len(c) == 0 {
				continue
			}
			sub := nibble.Concat(here, nibble.Of(byte(i)))
			if !compatible(sub, want) {
				continue
			}
			if err := v.walkEntries(ctx, c, sub, want, fn); err != nil {
				return err
			}
		}
		return nil
	default:
		return &InvariantError{Reason: "unexpected node kind " + n.Kind().String(), Digest: d}
	}
}

func (t *Trie) collect(ctx context.Context, version uint64, want nibble.Path, limit int) ([]Entry, error) {
	root, err := t.rootFor(ctx, version)
	if err != nil {
		return nil, err
	}
	var out []Entry
	err = t.view(nil).walkEntries(ctx, root, nil, want, func(path nibble.Path, value []byte) error {
		key, err := path.Bytes()
		if err != nil {
			return &InvariantError{Reason: fmt.Sprintf("entry at odd-length path %s", path), Digest: root}
		}
		out = append(out, Entry{Path: path, Key: key, Value: value})
		if limit > 0 && len(out) >= limit {
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	return out, nil
}

// Entries lists up to limit entries of a committed version in path order; limit <= 0 means all.
func (t *Trie) Entries(ctx context.Context, version uint64, limit int) ([]Entry, error) {
	return t.collect(ctx, version, nil, limit)
}

// ScanPrefix lists up to limit entries whose key starts with prefix. Only raw-mode tries keep key
// order, so hashed tries return ErrUnsupported.
func (t *Trie) ScanPrefix(ctx context.Context, version uint64, prefix []byte, limit int) ([]Entry, error) {
	if t.keyMode != KeyRaw {
		return nil, fmt.Errorf("%w: prefix scans need raw keys", ErrUnsupported)
	}
	return t.collect(ctx, version, nibble.FromBytes(prefix), limit)
}

type Stats struct {
	Leaves       int
	Branches     int
	BranchValues int
	// MaxDepth is the number of branches above the deepest leaf
	MaxDepth      int
	PrefixNibbles int
	EncodedBytes  int
}

func (v view) visit(ctx context.Context, d []byte, depth int, fn func(d []byte, n node.Node, depth int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := v.load(ctx, d)
	if err != nil {
		return err
	}
	if err := fn(d, n, depth); err != nil {
		return err
	}
	for _, c := range n.Refs() {
		if err := v.visit(ctx, c, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Stats walks a committed version and summarizes its shape.
func (t *Trie) Stats(ctx context.Context, version uint64) (*Stats, error) {
	root, err := t.rootFor(ctx, version)
	if err != nil {
		return nil, err
	}
	st := &Stats{}
	if root == nil {
		return st, nil
	}
	err = t.view(nil).visit(ctx, root, 0, func(d []byte, n node.Node, depth int) error {
		enc, err := t.codec.Encode(n)
		if err != nil {
			return err
		}
		st.EncodedBytes += len(enc)
		switch n := n.(type) {
		case *node.Leaf:
			st.Leaves++
			st.MaxDepth = max(st.MaxDepth, depth)
		case *node.Branch:
			st.Branches++
			st.PrefixNibbles += n.Prefix.Len()
			if n.HasValue() {
				st.BranchValues++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func shortDigest(d []byte) string {
	if len(d) > 4 {
		d = d[:4]
	}
	return hex.EncodeToString(d)
}

func (v view) printTree(ctx context.Context, d []byte, label string, tree treeprint.Tree) error {
	n, err := v.load(ctx, d)
	if err != nil {
		return err
	}
	switch n := n.(type) {
	case *node.Leaf:
		tree.AddNode(fmt.Sprintf("%sleaf %s = %q (%s)", label, n.Suffix, n.Value, shortDigest(d)))
	case *node.Branch:
		desc := fmt.Sprintf("%sbranch %s (%s)", label, n.Prefix, shortDigest(d))
		if n.HasValue() {
			desc += fmt.Sprintf(" = %q", n.Value)
		}
		sub := tree.AddBranch(desc)
		for i, c := range n.Children {
			if len(c) == 0 {
				continue
			}
			if err := v.printTree(ctx, c, fmt.Sprintf("[%x] ", i), sub); err != nil {
				return err
			}
		}
	default:
		return &InvariantError{Reason: "unexpected node kind " + n.Kind().String(), Digest: d}
	}
	return nil
}

// DumpTree writes a text rendering of a committed version to w.
func (t *Trie) DumpTree(ctx context.Context, version uint64, w io.Writer) error {
	root, err := t.rootFor(ctx, version)
	if err != nil {
		return err
	}
	tree := treeprint.NewWithRoot(fmt.Sprintf("version %d root %x", version, t.digestOf(root)))
	if root != nil {
		if err := t.view(nil).printTree(ctx, root, "", tree); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, tree.String())
	return err
}

type treeNode struct {
	Digest   string               `json:"digest"`
	Kind     string               `json:"kind"`
	Path     string               `json:"path,omitempty"`
	Value    string               `json:"value,omitempty"`
	Children map[string]*treeNode `json:"children,omitempty"`
}

func (v view) jsonTree(ctx context.Context, d []byte) (*treeNode, error) {
	n, err := v.load(ctx, d)
	if err != nil {
		return nil, err
	}
	out := &treeNode{Digest: hex.EncodeToString(d), Kind: n.Kind().String()}
	switch n := n.(type) {
	case *node.Leaf:
		out.Path = n.Suffix.String()
		out.Value = hex.EncodeToString(n.Value)
	case *node.Branch:
		out.Path = n.Prefix.String()
		if n.HasValue() {
			out.Value = hex.EncodeToString(n.Value)
		}
		out.Children = make(map[string]*treeNode)
		for i, c := range n.Children {
			if len(c) == 0 {
				continue
			}
			sub, err := v.jsonTree(ctx, c)
			if err != nil {
				return nil, err
			}
			out.Children[fmt.Sprintf("%x", i)] = sub
		}
	}
	return out, nil
}

// TreeJSON renders a committed version as nested JSON, values hex encoded.
func (t *Trie) TreeJSON(ctx context.Context, version uint64) ([]byte, error) {
	root, err := t.rootFor(ctx, version)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return []byte("null"), nil
	}
	tree, err := t.view(nil).jsonTree(ctx, root)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(tree, "", "  ")
}
