package mpt

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"
	"github.com/bluesky-social/vds/mpt/proof"
	"github.com/bluesky-social/vds/mpt/store"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type debugWriter struct {
	t *testing.T
}

func (w *debugWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(&debugWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestTrie(t *testing.T, st store.NodeStore, opts ...Option) *Trie {
	opts = append([]Option{WithLogger(testLogger(t))}, opts...)
	tr, err := New(context.Background(), st, opts...)
	require.NoError(t, err)
	return tr
}

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestScenarioInsertOverwrite(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tr := newTestTrie(t, store.NewMemStore())

	assert.Equal(make([]byte, 32), tr.Root())

	res, err := tr.Commit(ctx, 1, []Update{Set([]byte("apple"), []byte("🍎"))})
	require.NoError(t, err)
	assert.Equal(mustHex(t, "3355b7e9abdc21a85317111627c48b4e44ff9ce0b5a3a6d4ee2afb6f04115505"), res.Root)
	assert.Equal(1, res.NodesWritten)

	val, found, err := tr.GetAt(ctx, []byte("apple"), 1)
	assert.NoError(err)
	assert.True(found)
	assert.Equal([]byte("🍎"), val)

	res, err = tr.Commit(ctx, 2, []Update{Set([]byte("apple"), []byte("🍏"))})
	require.NoError(t, err)
	assert.Equal(mustHex(t, "af75a0872f610151166b43bca76f12d4966a84abbcf51a527bbb48a962979b87"), res.Root)

	val, found, err = tr.GetAt(ctx, []byte("apple"), 2)
	assert.NoError(err)
	assert.True(found)
	assert.Equal([]byte("🍏"), val)

	// the old version is untouched
	val, found, err = tr.GetAt(ctx, []byte("apple"), 1)
	assert.NoError(err)
	assert.True(found)
	assert.Equal([]byte("🍎"), val)
}

func TestScenarioBranchSplit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	updates := []Update{
		Set([]byte("apple"), []byte("🍎")),
		Set([]byte("apricot"), []byte("🤷")),
	}

	hashed := newTestTrie(t, store.NewMemStore())
	res, err := hashed.Commit(ctx, 1, updates)
	require.NoError(t, err)
	assert.Equal(mustHex(t, "84937322f15ed92a323c82c36fe122991906ff9d26ae152adbbc3ad1f8898f39"), res.Root)

	raw := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw))
	res, err = raw.Commit(ctx, 1, updates)
	require.NoError(t, err)
	assert.Equal(mustHex(t, "bcc7e65f838cbf367475d0b5b7aa0488330588c7e22edb8e3dcdf5a6b2d82752"), res.Root)

	stats, err := raw.Stats(ctx, 1)
	assert.NoError(err)
	assert.Equal(2, stats.Leaves)
	assert.Equal(1, stats.Branches)
	assert.Equal(1, stats.MaxDepth)
	// "ap" plus the high nibble of 'p' vs 'r'
	assert.Equal(5, stats.PrefixNibbles)

	for _, u := range updates {
		val, found, err := raw.GetAt(ctx, u.Key, 1)
		assert.NoError(err)
		assert.True(found)
		assert.Equal(u.Value, val)
	}
	_, found, err := raw.GetAt(ctx, []byte("apri"), 1)
	assert.NoError(err)
	assert.False(found)

	// apple = 6 1 7 0 7 | 0 | 6 c 6 5
	trav, err := raw.Proof(ctx, []byte("apple"), 1)
	require.NoError(t, err)
	assert.Equal(proof.Inclusion, trav.Type)
	require.Len(t, trav.Steps, 1)
	assert.True(trav.Steps[0].Branch.Prefix.Equal(nibble.Of(6, 1, 7, 0, 7)))
	assert.Equal(0, trav.Steps[0].Nibble)
	assert.Equal(2, trav.Steps[0].NeighborNibble())
	leaf, ok := trav.Terminal.(*node.Leaf)
	require.True(t, ok)
	assert.True(leaf.Suffix.Equal(nibble.Of(6, 0xc, 6, 5)))

	steps, err := proof.MPFSteps(raw.Scheme().(*commit.MPF), trav)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	// a leaf step (tag 123) skipping the shared prefix, carrying apricot's key
	assert.Equal(123, steps[0].Kind)
	assert.Equal(5, steps[0].Skip)
	assert.Equal([]byte("apricot"), steps[0].Key)
}

func TestScenarioDeleteCollapse(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tr := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw))

	_, err := tr.Commit(ctx, 1, []Update{Set([]byte("a"), []byte("1")), Set([]byte("b"), []byte("2"))})
	require.NoError(t, err)
	assert.Equal(mustHex(t, "76bee0de201dd534067f5f36a7961e9fa646ba893f73190b8388ab53aa5444cb"), tr.Root())

	res, err := tr.Commit(ctx, 2, []Update{Remove([]byte("a"))})
	require.NoError(t, err)
	assert.Equal(mustHex(t, "287a5c20d4aae5b9373087bb23dc7260981ed6888c2bccb8d3d9f0ea02e09047"), res.Root)

	stats, err := tr.Stats(ctx, 2)
	assert.NoError(err)
	assert.Equal(1, stats.Leaves)
	assert.Equal(0, stats.Branches)

	// same root as a trie that only ever held b
	fresh := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw))
	other, err := fresh.Commit(ctx, 1, []Update{Set([]byte("b"), []byte("2"))})
	require.NoError(t, err)
	assert.Equal(other.Root, res.Root)

	res, err = tr.Commit(ctx, 3, []Update{Remove([]byte("b"))})
	require.NoError(t, err)
	assert.Equal(make([]byte, 32), res.Root)
}

func TestDeleteCollapsesNestedBranches(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	keys := []string{"abcd", "abce", "abzz", "b"}

	tr := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw))
	var ups []Update
	for _, k := range keys {
		ups = append(ups, Set([]byte(k), []byte("v-"+k)))
	}
	_, err := tr.Commit(ctx, 1, ups)
	require.NoError(t, err)

	for i, k := range keys[:3] {
		_, err := tr.Commit(ctx, uint64(i+2), []Update{Remove([]byte(k))})
		require.NoError(t, err)

		want := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw))
		var rest []Update
		for _, r := range keys[i+1:] {
			rest = append(rest, Set([]byte(r), []byte("v-"+r)))
		}
		res, err := want.Commit(ctx, 1, rest)
		require.NoError(t, err)
		assert.Equal(res.Root, tr.Root(), "after removing %s", k)
	}
}

func TestClassicBranchValues(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tr := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw), WithScheme(commit.NewClassic(commit.Keccak256())))

	kv := map[string]string{"do": "verb", "dog": "puppy", "doge": "coin", "horse": "stallion"}
	var ups []Update
	for k, v := range kv {
		ups = append(ups, Set([]byte(k), []byte(v)))
	}
	_, err := tr.Commit(ctx, 1, ups)
	require.NoError(t, err)

	for k, v := range kv {
		val, found, err := tr.GetAt(ctx, []byte(k), 1)
		assert.NoError(err)
		assert.True(found, k)
		assert.Equal([]byte(v), val)
	}
	for _, k := range []string{"d", "dogs", "hors", "cat"} {
		_, found, err := tr.GetAt(ctx, []byte(k), 1)
		assert.NoError(err)
		assert.False(found, k)
	}

	stats, err := tr.Stats(ctx, 1)
	assert.NoError(err)
	assert.Equal(2, stats.BranchValues)

	// removing the value held by a branch keeps its children
	_, err = tr.Commit(ctx, 2, []Update{Remove([]byte("do"))})
	require.NoError(t, err)
	_, found, err := tr.GetAt(ctx, []byte("do"), 2)
	assert.NoError(err)
	assert.False(found)
	val, found, err := tr.GetAt(ctx, []byte("doge"), 2)
	assert.NoError(err)
	assert.True(found)
	assert.Equal([]byte("coin"), val)

	// and dropping "doge" leaves "dog" as a plain leaf
	_, err = tr.Commit(ctx, 3, []Update{Remove([]byte("doge"))})
	require.NoError(t, err)
	stats, err = tr.Stats(ctx, 3)
	assert.NoError(err)
	assert.Equal(0, stats.BranchValues)
	assert.Equal(2, stats.Leaves)
}

func TestRoundTripReopen(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	memfs := vfs.NewMem()

	st, err := store.NewPebbleStore("trie", &store.PebbleOptions{FS: memfs, Logger: testLogger(t)})
	require.NoError(t, err)
	tr := newTestTrie(t, st)

	kv := make(map[string][]byte)
	var ups []Update
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%d", i)
		kv[k] = []byte(fmt.Sprintf("value-%d", i*7))
		ups = append(ups, Set([]byte(k), kv[k]))
	}
	res, err := tr.Commit(ctx, 10, ups)
	require.NoError(t, err)
	assert.NoError(st.Close())

	st, err = store.NewPebbleStore("trie", &store.PebbleOptions{FS: memfs, Logger: testLogger(t)})
	require.NoError(t, err)
	defer st.Close()
	reopened := newTestTrie(t, st)

	assert.Equal(res.Root, reopened.Root())
	latest, ok, err := reopened.LatestVersion(ctx)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(uint64(10), latest)

	for k, v := range kv {
		val, found, err := reopened.Get(ctx, []byte(k))
		assert.NoError(err)
		assert.True(found)
		assert.Equal(v, val)
	}

	entries, err := reopened.Entries(ctx, 10, 0)
	assert.NoError(err)
	assert.Len(entries, len(kv))
}

func TestIdempotentPut(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tr := newTestTrie(t, store.NewMemStore())

	up := []Update{Set([]byte("k1"), []byte("v1")), Set([]byte("k2"), []byte("v2"))}
	first, err := tr.Commit(ctx, 1, up)
	require.NoError(t, err)
	second, err := tr.Commit(ctx, 2, up)
	require.NoError(t, err)

	assert.Equal(first.Root, second.Root)
	assert.Equal(0, second.NodesWritten)

	assert.NoError(tr.Put(ctx, []byte("k1"), []byte("v1")))
	assert.False(tr.Dirty())
}

func TestOrderIndependence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var ups []Update
	for i := 0; i < 100; i++ {
		ups = append(ups, Set([]byte(fmt.Sprintf("k%03d", i)), []byte(fmt.Sprintf("v%d", rng.Int()))))
	}

	for _, mode := range []KeyMode{KeyRaw, KeyHashed} {
		base := newTestTrie(t, store.NewMemStore(), WithKeyMode(mode))
		want, err := base.Commit(ctx, 1, ups)
		require.NoError(t, err)

		for round := 0; round < 5; round++ {
			shuffled := append([]Update(nil), ups...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			one := newTestTrie(t, store.NewMemStore(), WithKeyMode(mode))
			got, err := one.Commit(ctx, 1, shuffled)
			require.NoError(t, err)
			assert.Equal(want.Root, got.Root)

			two := newTestTrie(t, store.NewMemStore(), WithKeyMode(mode))
			split := rng.Intn(len(shuffled))
			_, err = two.Commit(ctx, 1, shuffled[:split])
			require.NoError(t, err)
			got, err = two.Commit(ctx, 2, shuffled[split:])
			require.NoError(t, err)
			assert.Equal(want.Root, got.Root)
		}
	}

	// the last write to a key wins
	tr := newTestTrie(t, store.NewMemStore())
	_, err := tr.Commit(ctx, 1, []Update{
		Set([]byte("same"), []byte("first")),
		Set([]byte("same"), []byte("second")),
	})
	require.NoError(t, err)
	val, _, err := tr.GetAt(ctx, []byte("same"), 1)
	assert.NoError(err)
	assert.Equal([]byte("second"), val)
}

func TestWorkingState(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tr := newTestTrie(t, store.NewMemStore())

	assert.NoError(tr.Put(ctx, []byte("a"), []byte("1")))
	assert.NoError(tr.Put(ctx, []byte("b"), []byte("2")))
	assert.True(tr.Dirty())

	val, found, err := tr.Get(ctx, []byte("a"))
	assert.NoError(err)
	assert.True(found)
	assert.Equal([]byte("1"), val)

	tr.Discard()
	assert.False(tr.Dirty())
	_, found, err = tr.Get(ctx, []byte("a"))
	assert.NoError(err)
	assert.False(found)

	assert.NoError(tr.Put(ctx, []byte("a"), []byte("1")))
	assert.NoError(tr.Put(ctx, []byte("b"), []byte("2")))
	found, err = tr.Delete(ctx, []byte("b"))
	assert.NoError(err)
	assert.True(found)
	found, err = tr.Delete(ctx, []byte("nope"))
	assert.NoError(err)
	assert.False(found)

	// an empty value deletes
	assert.NoError(tr.Put(ctx, []byte("c"), []byte("3")))
	assert.NoError(tr.Put(ctx, []byte("c"), nil))

	res, err := tr.CommitWorking(ctx, 1)
	require.NoError(t, err)
	assert.False(tr.Dirty())

	entries, err := tr.Entries(ctx, 1, 0)
	assert.NoError(err)
	assert.Len(entries, 1)

	// staged nodes made unreachable by later writes are not persisted
	assert.Equal(1, res.NodesWritten)
}

func TestInvalidKeys(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	tr := newTestTrie(t, store.NewMemStore())
	assert.ErrorIs(tr.Put(ctx, nil, []byte("x")), ErrInvalidKey)
	_, _, err := tr.Get(ctx, []byte{})
	assert.ErrorIs(err, ErrInvalidKey)
	_, err = tr.Commit(ctx, 1, []Update{Set(nil, []byte("x"))})
	assert.ErrorIs(err, ErrInvalidKey)

	// the forestry layout has no branch values, so a raw key may not prefix another
	raw := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw))
	_, err = raw.Commit(ctx, 1, []Update{Set([]byte("ab"), []byte("1")), Set([]byte("abc"), []byte("2"))})
	assert.ErrorIs(err, ErrInvalidKey)
	_, err = raw.Commit(ctx, 1, []Update{Set([]byte("abc"), []byte("2")), Set([]byte("ab"), []byte("1"))})
	assert.ErrorIs(err, ErrInvalidKey)

	// a failed commit leaves nothing behind
	_, ok, err := raw.LatestVersion(ctx)
	assert.NoError(err)
	assert.False(ok)
	assert.False(raw.Dirty())
}

func TestVersioning(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr := newTestTrie(t, st, WithKeyMode(KeyRaw))

	v1, err := tr.Commit(ctx, 1, []Update{Set([]byte("a"), []byte("1"))})
	require.NoError(t, err)
	_, err = tr.Commit(ctx, 1, []Update{Set([]byte("b"), []byte("2"))})
	assert.ErrorIs(err, ErrInvalidVersion)
	_, err = tr.Commit(ctx, 0, nil)
	assert.ErrorIs(err, ErrInvalidVersion)

	v5, err := tr.Commit(ctx, 5, []Update{Set([]byte("b"), []byte("2"))})
	require.NoError(t, err)

	versions, err := tr.Versions(ctx)
	assert.NoError(err)
	assert.Equal([]uint64{1, 5}, versions)

	_, _, err = tr.GetAt(ctx, []byte("a"), 3)
	assert.ErrorIs(err, ErrVersionNotFound)
	_, err = tr.RootAt(ctx, 3)
	assert.ErrorIs(err, ErrVersionNotFound)

	// version 5 moved a below a branch, so its old leaf is only held by version 1
	rc, err := store.ReadRefcount(ctx, st, tr.Keys(), v1.Root)
	assert.NoError(err)
	assert.Equal(uint64(1), rc)
	leafA := &node.Leaf{Value: []byte("1")}
	rc, err = store.ReadRefcount(ctx, st, tr.Keys(), leafA.Hash(tr.Scheme()))
	assert.NoError(err)
	assert.Equal(uint64(1), rc)

	rb, err := tr.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(uint64(6), rb.Version)
	assert.Equal(v1.Root, rb.Root)
	assert.Equal(v1.Root, tr.Root())
	_, found, err := tr.GetAt(ctx, []byte("b"), 6)
	assert.NoError(err)
	assert.False(found)

	rc, err = store.ReadRefcount(ctx, st, tr.Keys(), v1.Root)
	assert.NoError(err)
	assert.Equal(uint64(2), rc)

	assert.NoError(tr.LoadVersion(ctx, 5))
	assert.Equal(v5.Root, tr.Root())
	assert.ErrorIs(tr.LoadVersion(ctx, 4), ErrVersionNotFound)
}

func TestRefcountsShareNodes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr := newTestTrie(t, st, WithKeyMode(KeyRaw))

	r1, err := tr.Commit(ctx, 1, []Update{Set([]byte("a"), []byte("1")), Set([]byte("b"), []byte("2"))})
	require.NoError(t, err)
	r2, err := tr.Commit(ctx, 2, []Update{Set([]byte("c"), []byte("3"))})
	require.NoError(t, err)
	assert.Equal(2, r2.NodesWritten)

	leafA := &node.Leaf{Suffix: nibble.Path{}, Value: []byte("1")}
	for _, c := range []struct {
		digest []byte
		want   uint64
	}{
		{leafA.Hash(tr.Scheme()), 2},
		{r1.Root, 1},
		{r2.Root, 1},
	} {
		rc, err := store.ReadRefcount(ctx, st, tr.Keys(), c.digest)
		assert.NoError(err)
		assert.Equal(c.want, rc)
	}
}

func TestSingleVersionMode(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr := newTestTrie(t, st, WithStorageMode(store.ModeSingleVersion))

	_, err := tr.Commit(ctx, 0, []Update{Set([]byte("a"), []byte("1"))})
	require.NoError(t, err)
	res, err := tr.Commit(ctx, 0, []Update{Set([]byte("b"), []byte("2"))})
	require.NoError(t, err)

	_, err = tr.Commit(ctx, 1, nil)
	assert.ErrorIs(err, ErrInvalidVersion)
	_, err = tr.Rollback(ctx, 0)
	assert.ErrorIs(err, ErrUnsupported)

	versions, err := tr.Versions(ctx)
	assert.NoError(err)
	assert.Equal([]uint64{0}, versions)
	root, err := tr.RootAt(ctx, 0)
	assert.NoError(err)
	assert.Equal(res.Root, root)

	refs := 0
	assert.NoError(st.Iterate(ctx, tr.Keys().RefcountPrefix(), func(k, v []byte) error {
		refs++
		return nil
	}))
	assert.Equal(0, refs)

	// reopening in the other mode is refused
	_, err = New(ctx, st)
	assert.ErrorIs(err, store.ErrStorageModeMismatch)
	// but another namespace is independent
	_, err = New(ctx, st, WithNamespace(2))
	assert.NoError(err)
}

func TestInvariantViolation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr := newTestTrie(t, st)
	codec := tr.Codec()
	index := store.NewVersionIndex(st, tr.Keys())

	// a stored branch with a single child
	leaf := &node.Leaf{Suffix: nibble.Of(1, 2), Value: []byte("x")}
	lonely := &node.Branch{}
	lonely.Children[3] = leaf.Hash(tr.Scheme())
	b := store.NewBatch()
	for _, n := range []node.Node{leaf, lonely} {
		enc, err := codec.Encode(n)
		require.NoError(t, err)
		b.Put(tr.Keys().Node(n.Hash(tr.Scheme())), enc)
	}
	index.PutRoot(b, 1, lonely.Hash(tr.Scheme()))
	// a root that points nowhere
	index.PutRoot(b, 2, bytes.Repeat([]byte{0xab}, 32))
	require.NoError(t, st.Write(ctx, b))

	_, _, err := tr.GetAt(ctx, []byte("k"), 1)
	assert.ErrorIs(err, ErrInvariantViolation)
	var ie *InvariantError
	assert.True(errors.As(err, &ie))
	assert.Contains(ie.Reason, "fewer than two")

	_, _, err = tr.GetAt(ctx, []byte("k"), 2)
	assert.ErrorIs(err, ErrInvariantViolation)
	_, err = tr.Proof(ctx, []byte("k"), 2)
	assert.ErrorIs(err, ErrInvariantViolation)
}

func TestCommitFailureLeavesStateUnchanged(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr := newTestTrie(t, st)

	first, err := tr.Commit(ctx, 1, []Update{Set([]byte("a"), []byte("1"))})
	require.NoError(t, err)

	boom := errors.New("disk on fire")
	st.SetWriteHook(func(*store.Batch) error { return boom })
	assert.NoError(tr.Put(ctx, []byte("b"), []byte("2")))
	_, err = tr.CommitWorking(ctx, 2)
	assert.ErrorIs(err, boom)
	var be *store.BatchError
	assert.True(errors.As(err, &be))
	assert.True(be.Retryable())

	latest, _, err := tr.LatestVersion(ctx)
	assert.NoError(err)
	assert.Equal(uint64(1), latest)
	assert.True(tr.Dirty())
	_, err = tr.RootAt(ctx, 2)
	assert.ErrorIs(err, ErrVersionNotFound)

	// retrying once the store recovers commits the same state
	st.SetWriteHook(nil)
	res, err := tr.CommitWorking(ctx, 2)
	require.NoError(t, err)
	assert.NotEqual(first.Root, res.Root)
	val, found, err := tr.GetAt(ctx, []byte("b"), 2)
	assert.NoError(err)
	assert.True(found)
	assert.Equal([]byte("2"), val)
}

func TestScanPrefix(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tr := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw), WithScheme(commit.NewClassic(commit.SHA256())))

	keys := []string{"app", "apple", "apricot", "banana", "blueberry", "cherry"}
	var ups []Update
	for _, k := range keys {
		ups = append(ups, Set([]byte(k), []byte(strings.ToUpper(k))))
	}
	_, err := tr.Commit(ctx, 1, ups)
	require.NoError(t, err)

	entries, err := tr.Entries(ctx, 1, 0)
	assert.NoError(err)
	var got []string
	for _, e := range entries {
		got = append(got, string(e.Key))
	}
	assert.Equal(keys, got)

	entries, err = tr.ScanPrefix(ctx, 1, []byte("ap"), 0)
	assert.NoError(err)
	assert.Len(entries, 3)
	assert.Equal([]byte("APP"), entries[0].Value)

	entries, err = tr.ScanPrefix(ctx, 1, []byte("b"), 1)
	assert.NoError(err)
	assert.Len(entries, 1)
	assert.Equal([]byte("banana"), entries[0].Key)

	entries, err = tr.ScanPrefix(ctx, 1, []byte("zz"), 0)
	assert.NoError(err)
	assert.Empty(entries)

	hashed := newTestTrie(t, store.NewMemStore())
	_, err = hashed.ScanPrefix(ctx, 1, []byte("ap"), 0)
	assert.ErrorIs(err, ErrUnsupported)
}

func TestDumpTree(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tr := newTestTrie(t, store.NewMemStore(), WithKeyMode(KeyRaw))

	_, err := tr.Commit(ctx, 1, []Update{Set([]byte("apple"), []byte("red")), Set([]byte("apricot"), []byte("orange"))})
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.NoError(tr.DumpTree(ctx, 1, &buf))
	out := buf.String()
	assert.Contains(out, "version 1")
	assert.Contains(out, "branch 61707")
	assert.Contains(out, `"red"`)
	assert.Contains(out, `"orange"`)

	raw, err := tr.TreeJSON(ctx, 1)
	assert.NoError(err)
	var tree map[string]any
	assert.NoError(json.Unmarshal(raw, &tree))
	assert.Equal("branch", tree["kind"])
	assert.Len(tree["children"], 2)
}
