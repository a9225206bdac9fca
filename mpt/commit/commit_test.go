package commit

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bluesky-social/vds/mpt/nibble"
)

func TestHashers(t *testing.T) {
	assert := assert.New(t)

	empty := map[string]string{
		HashBlake2b256: "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		HashSHA256:     "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashKeccak256:  "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
	}
	for name, want := range empty {
		h, err := HasherByName(name)
		assert.NoError(err)
		assert.Equal(name, h.Name())
		assert.Equal(32, h.Size())
		assert.Equal(want, hex.EncodeToString(h.Digest()))
		// parts are concatenated
		assert.Equal(h.Digest([]byte("abcd")), h.Digest([]byte("ab"), []byte("cd")))
	}

	_, err := HasherByName("md5")
	assert.Error(err)
}

func digests(h Hasher, n int) [16][]byte {
	var out [16][]byte
	for i := 0; i < n; i++ {
		out[i] = h.Digest([]byte{byte(i)})
	}
	return out
}

func TestMPFNeighbors(t *testing.T) {
	assert := assert.New(t)
	m := NewMPF(Blake2b256())

	children := digests(m.Hasher(), 16)
	children[3] = nil
	children[12] = nil
	root := m.Merkle16(children)

	for me := 0; me < 16; me++ {
		nb := m.Neighbors(children, me)
		assert.Equal(root, m.Merkle16FromNeighbors(me, m.slot(children[me]), nb), "slot %d", me)
	}

	var sparse [16][]byte
	sparse[2] = children[0]
	sparse[9] = children[1]
	assert.Equal(m.Merkle16(sparse), m.SparseMerkle16(9, children[1], 2, children[0]))
}

func TestMPFCommitments(t *testing.T) {
	assert := assert.New(t)
	h := Blake2b256()
	m := NewMPF(h)

	assert.Equal(make([]byte, 32), m.NullDigest())
	assert.False(m.SupportsBranchValue())

	vd := h.Digest([]byte("value"))
	even := nibble.Of(1, 2, 3, 4)
	odd := nibble.Of(2, 3, 4)
	assert.Equal(h.Digest([]byte{0xff, 0x12, 0x34}, vd), m.CommitLeaf(even, vd))
	assert.Equal(h.Digest([]byte{0x00, 0x02, 0x34}, vd), m.CommitLeaf(odd, vd))

	children := digests(h, 2)
	merkle := m.Merkle16(children)
	assert.Equal(h.Digest([]byte{}, merkle), m.CommitBranch(nil, children, nil))
	assert.Equal(h.Digest([]byte{0x6, 0x1}, merkle), m.CommitBranch(nibble.Of(6, 1), children, nil))
	assert.Equal(m.CommitBranch(nibble.Of(6, 1), children, nil), m.CommitExtension(nibble.Of(6, 1), merkle))
}

func TestClassicCommitments(t *testing.T) {
	assert := assert.New(t)
	h := Keccak256()
	c := NewClassic(h)

	assert.True(c.SupportsBranchValue())

	vd := h.Digest([]byte("value"))
	assert.Equal(h.Digest([]byte{0x20}, vd), c.CommitLeaf(nibble.Path{}, vd))
	assert.NotEqual(c.CommitLeaf(nibble.Path{}, vd), c.CommitLeaf(nibble.Of(0), vd))
	assert.NotEqual(c.CommitLeaf(nibble.Of(1), vd), c.CommitExtension(nibble.Of(1), vd))

	children := digests(h, 3)
	plain := c.CommitBranch(nil, children, nil)
	withValue := c.CommitBranch(nil, children, vd)
	assert.NotEqual(plain, withValue)

	// a prefixed branch hashes as extension(prefix) -> branch
	prefixed := c.CommitBranch(nibble.Of(7, 0, 7), children, nil)
	assert.Equal(c.CommitExtension(nibble.Of(7, 0, 7), plain), prefixed)

	// 17 slots: the value digest is carried up through the odd layers
	layer := make([][]byte, 0, 17)
	for _, ch := range children {
		if ch == nil {
			ch = c.NullDigest()
		}
		layer = append(layer, ch)
	}
	layer = append(layer, vd)
	for len(layer) > 1 {
		var next [][]byte
		for i := 0; i+1 < len(layer); i += 2 {
			next = append(next, h.Digest(layer[i], layer[i+1]))
		}
		if len(layer)%2 == 1 {
			next = append(next, layer[len(layer)-1])
		}
		layer = next
	}
	assert.Equal(h.Digest(layer[0]), withValue)
}

func TestSchemeByName(t *testing.T) {
	assert := assert.New(t)

	s, err := SchemeByName("mpf", Blake2b256())
	assert.NoError(err)
	assert.Equal(SchemeMPF, s.Name())
	assert.True(IsNull(s, s.NullDigest()))
	assert.True(IsNull(s, nil))
	assert.False(IsNull(s, s.Hasher().Digest()))

	s, err = SchemeByName("classic", SHA256())
	assert.NoError(err)
	assert.Equal(SchemeClassic, s.Name())

	_, err = SchemeByName("jmt", SHA256())
	assert.Error(err)
}
