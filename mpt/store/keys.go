package store

import (
	"encoding/binary"
)

const (
	tagNode     = 'N'
	tagRefcount = 'C'
	tagRoot     = 'R'
	tagLatest   = 'L'
	tagMode     = 'M'
)

// Keys lays out every record of one trie inside a shared store. The first byte of every key is the
// namespace, so several tries can live in one database without colliding.
//
//	ns 'N' digest   -> encoded node
//	ns 'C' digest   -> refcount (uint64 big-endian)
//	ns 'R' version  -> root digest (version as uint64 big-endian, so roots iterate in version order)
//	ns 'L'          -> latest version || root digest
//	ns 'M'          -> storage mode
type Keys struct {
	ns byte
}

func NewKeys(namespace byte) Keys {
	return Keys{ns: namespace}
}

func (k Keys) Namespace() byte {
	return k.ns
}

func (k Keys) tagged(tag byte, rest []byte) []byte {
	out := make([]byte, 0, 2+len(rest))
	out = append(out, k.ns, tag)
	return append(out, rest...)
}

func (k Keys) Node(digest []byte) []byte     { return k.tagged(tagNode, digest) }
func (k Keys) NodePrefix() []byte            { return k.tagged(tagNode, nil) }
func (k Keys) Refcount(digest []byte) []byte { return k.tagged(tagRefcount, digest) }
func (k Keys) RefcountPrefix() []byte        { return k.tagged(tagRefcount, nil) }
func (k Keys) RootPrefix() []byte            { return k.tagged(tagRoot, nil) }
func (k Keys) Latest() []byte                { return k.tagged(tagLatest, nil) }
func (k Keys) Mode() []byte                  { return k.tagged(tagMode, nil) }

func (k Keys) Root(version uint64) []byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], version)
	return k.tagged(tagRoot, v[:])
}

// DigestFromNodeKey strips the namespace and tag from a node or refcount key.
func (k Keys) DigestFromNodeKey(key []byte) []byte {
	if len(key) < 2 {
		return nil
	}
	out := make([]byte, len(key)-2)
	copy(out, key[2:])
	return out
}

func (k Keys) versionFromRootKey(key []byte) (uint64, bool) {
	if len(key) != 10 || key[0] != k.ns || key[1] != tagRoot {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[2:]), true
}

// EncodeRefcount and DecodeRefcount fix the refcount record format.
func EncodeRefcount(n uint64) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], n)
	return out[:]
}

func DecodeRefcount(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
