package node

import (
	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/nibble"
)

// Node is one of *Leaf, *Branch or *Extension. The set is closed; code switching over node kinds
// should treat any other type as a bug.
type Node interface {
	// Hash computes the node's commitment under the given scheme.
	Hash(s commit.Scheme) []byte
	// Refs lists the digests this node references, in slot order.
	Refs() [][]byte
	Kind() Kind

	sealed()
}

type Kind uint8

const (
	KindLeaf      Kind = 0x01
	KindBranch    Kind = 0x02
	KindExtension Kind = 0x03
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindBranch:
		return "branch"
	case KindExtension:
		return "extension"
	default:
		return "unknown"
	}
}

// Leaf terminates a key. Suffix holds the key nibbles not consumed by ancestors.
type Leaf struct {
	Suffix nibble.Path
	Value  []byte
}

func (l *Leaf) Kind() Kind     { return KindLeaf }
func (l *Leaf) Refs() [][]byte { return nil }
func (l *Leaf) sealed()        {}

func (l *Leaf) Hash(s commit.Scheme) []byte {
	return s.CommitLeaf(l.Suffix, s.Hasher().Digest(l.Value))
}

// Branch fans out on one nibble after skipping Prefix. Children slots are nil when empty. Value is
// nil unless a key terminates exactly at this branch, which only schemes supporting branch values
// allow.
type Branch struct {
	Prefix   nibble.Path
	Children [16][]byte
	Value    []byte
}

func (b *Branch) Kind() Kind { return KindBranch }
func (b *Branch) sealed()    {}

func (b *Branch) Refs() [][]byte {
	out := make([][]byte, 0, 16)
	for _, c := range b.Children {
		if len(c) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func (b *Branch) HasValue() bool {
	return len(b.Value) > 0
}

func (b *Branch) ChildCount() int {
	n := 0
	for _, c := range b.Children {
		if len(c) > 0 {
			n++
		}
	}
	return n
}

// OnlyChild returns the slot of the single child, or -1 if there isn't exactly one.
func (b *Branch) OnlyChild() int {
	idx := -1
	for i, c := range b.Children {
		if len(c) == 0 {
			continue
		}
		if idx >= 0 {
			return -1
		}
		idx = i
	}
	return idx
}

// Bitmap has bit i set when child slot i is occupied.
func (b *Branch) Bitmap() uint16 {
	var bm uint16
	for i, c := range b.Children {
		if len(c) > 0 {
			bm |= 1 << uint(i)
		}
	}
	return bm
}

// Canonical reports whether the branch satisfies the trie's shape invariant: at least two entries,
// counting a terminal value as one.
func (b *Branch) Canonical() bool {
	n := b.ChildCount()
	if b.HasValue() {
		n++
	}
	return n >= 2
}

func (b *Branch) Hash(s commit.Scheme) []byte {
	var vd []byte
	if b.HasValue() {
		vd = s.Hasher().Digest(b.Value)
	}
	return s.CommitBranch(b.Prefix, b.Children, vd)
}

// Unprefixed returns a copy of the branch without its compressed prefix.
func (b *Branch) Unprefixed() *Branch {
	return &Branch{Children: b.Children, Value: b.Value}
}

// Extension skips Path and continues at Child. The engine stores compressed runs as branch prefixes;
// extensions appear where a layout needs the run as its own node, as in classic proofs.
type Extension struct {
	Path  nibble.Path
	Child []byte
}

func (e *Extension) Kind() Kind     { return KindExtension }
func (e *Extension) Refs() [][]byte { return [][]byte{e.Child} }
func (e *Extension) sealed()        {}

func (e *Extension) Hash(s commit.Scheme) []byte {
	return s.CommitExtension(e.Path, e.Child)
}
