package gc

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/bluesky-social/vds/mpt"
	"github.com/bluesky-social/vds/mpt/proof"
	"github.com/bluesky-social/vds/mpt/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countNodes(t *testing.T, st store.NodeStore, keys store.Keys) int {
	n := 0
	require.NoError(t, st.Iterate(context.Background(), keys.NodePrefix(), func(_, _ []byte) error {
		n++
		return nil
	}))
	return n
}

func TestRetentionPolicies(t *testing.T) {
	assert := assert.New(t)
	versions := []uint64{1, 2, 3, 5}

	assert.Equal([]uint64{3, 5}, KeepLatest(2).Retain(versions))
	assert.Equal(versions, KeepLatest(10).Retain(versions))
	assert.Empty(KeepLatest(0).Retain(versions))
	assert.Equal([]uint64{1, 5}, KeepVersions(5, 1, 1, 4).Retain(versions))

	p, err := ParsePolicy("latest:3")
	assert.NoError(err)
	assert.Equal("keep-latest(3)", p.String())
	p, err = ParsePolicy("versions:7, 2")
	assert.NoError(err)
	assert.Equal("keep-versions(2,7)", p.String())

	for _, bad := range []string{"latest", "latest:0", "versions:x", "oldest:1"} {
		_, err := ParsePolicy(bad)
		assert.Error(err, bad)
	}

	s, err := ParseStrategy("mark-sweep")
	assert.NoError(err)
	assert.Equal(StrategyMarkSweep, s)
	_, err = ParseStrategy("copying")
	assert.Error(err)
}

func TestScenarioRetainLatest(t *testing.T) {
	for _, strategy := range []Strategy{StrategyRefcount, StrategyMarkSweep} {
		t.Run(strategy.String(), func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			st := store.NewMemStore()
			tr, err := mpt.New(ctx, st)
			require.NoError(t, err)

			_, err = tr.Commit(ctx, 1, []mpt.Update{mpt.Set([]byte("k1"), []byte("v1"))})
			require.NoError(t, err)
			_, err = tr.Commit(ctx, 2, []mpt.Update{mpt.Set([]byte("k2"), []byte("v2"))})
			require.NoError(t, err)

			for _, v := range []uint64{1, 2} {
				val, found, err := tr.GetAt(ctx, []byte("k1"), v)
				assert.NoError(err)
				assert.True(found)
				assert.Equal([]byte("v1"), val)
			}
			assert.Equal(4, countNodes(t, st, tr.Keys()))

			rep, err := NewManager(tr, nil).RunSync(ctx, strategy, KeepLatest(1), Options{})
			require.NoError(t, err)
			assert.Equal([]uint64{1}, rep.Retired)
			assert.Equal([]uint64{2}, rep.Retained)
			assert.Equal(1, rep.Deleted)
			assert.Equal(3, countNodes(t, st, tr.Keys()))

			val, found, err := tr.GetAt(ctx, []byte("k1"), 2)
			assert.NoError(err)
			assert.True(found)
			assert.Equal([]byte("v1"), val)
			_, _, err = tr.GetAt(ctx, []byte("k1"), 1)
			assert.ErrorIs(err, mpt.ErrVersionNotFound)

			// the trie keeps committing on top of the retained version
			_, err = tr.Commit(ctx, 3, []mpt.Update{mpt.Set([]byte("k3"), []byte("v3"))})
			assert.NoError(err)
			entries, err := tr.Entries(ctx, 3, 0)
			assert.NoError(err)
			assert.Len(entries, 3)
		})
	}
}

func TestGCSafety(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr, err := mpt.New(ctx, st, mpt.WithKeyMode(mpt.KeyRaw))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	state := make(map[string]string)
	snapshots := make(map[uint64]map[string]string)
	for v := uint64(1); v <= 12; v++ {
		var ups []mpt.Update
		for i := 0; i < 20; i++ {
			k := fmt.Sprintf("key-%02d", rng.Intn(40))
			if rng.Intn(4) == 0 {
				ups = append(ups, mpt.Remove([]byte(k)))
				delete(state, k)
				continue
			}
			val := fmt.Sprintf("v%d-%d", v, rng.Int())
			ups = append(ups, mpt.Set([]byte(k), []byte(val)))
			state[k] = val
		}
		_, err := tr.Commit(ctx, v, ups)
		require.NoError(t, err)
		snap := make(map[string]string, len(state))
		for k, val := range state {
			snap[k] = val
		}
		snapshots[v] = snap
	}

	before := countNodes(t, st, tr.Keys())
	mgr := NewManager(tr, nil)

	var progress int
	rep, err := mgr.RunSync(ctx, StrategyRefcount, KeepVersions(3, 8), Options{
		BatchSize: 16,
		Progress:  func(Report) { progress++ },
	})
	require.NoError(t, err)
	assert.Equal([]uint64{3, 8, 12}, rep.Retained)
	assert.Len(rep.Retired, 9)
	assert.Greater(rep.Deleted, 0)
	assert.Equal(rep.Batches, progress)
	assert.Greater(rep.Batches, 1)
	assert.Equal(before-rep.Deleted, countNodes(t, st, tr.Keys()))

	for _, v := range rep.Retained {
		root, err := tr.RootAt(ctx, v)
		require.NoError(t, err)
		for k := 0; k < 40; k++ {
			key := fmt.Sprintf("key-%02d", k)
			want, present := snapshots[v][key]
			val, found, err := tr.GetAt(ctx, []byte(key), v)
			require.NoError(t, err)
			assert.Equal(present, found, "version %d key %s", v, key)
			if present {
				assert.Equal([]byte(want), val)
			}

			wire, _, err := tr.ProofWire(ctx, []byte(key), v, proof.FormatMPF)
			require.NoError(t, err)
			assert.NoError(proof.CheckWire(proof.FormatMPF, tr.Scheme(), mpt.KeyRaw, root, []byte(key), []byte(want), present, wire))
		}
	}

	// refcounts are exact, so nothing unreachable is left for a sweep to find
	dry, err := mgr.RunSync(ctx, StrategyMarkSweep, KeepLatest(100), Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(dry.Retired)
	assert.Equal(0, dry.Deleted)
	assert.Equal(dry.Marked, dry.Scanned)
}

func TestDryRun(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr, err := mpt.New(ctx, st)
	require.NoError(t, err)

	for v := uint64(1); v <= 3; v++ {
		_, err := tr.Commit(ctx, v, []mpt.Update{mpt.Set([]byte("same"), []byte(fmt.Sprintf("v%d", v)))})
		require.NoError(t, err)
	}
	records := st.Len()

	for _, strategy := range []Strategy{StrategyRefcount, StrategyMarkSweep} {
		rep, err := NewManager(tr, nil).RunSync(ctx, strategy, KeepLatest(1), Options{DryRun: true})
		require.NoError(t, err)
		assert.True(rep.DryRun)
		assert.Equal(2, rep.Deleted, strategy.String())
		assert.Equal(records, st.Len())
	}

	versions, err := tr.Versions(ctx)
	assert.NoError(err)
	assert.Equal([]uint64{1, 2, 3}, versions)
}

func TestKeepsPinnedAndSharedRoots(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr, err := mpt.New(ctx, st, mpt.WithKeyMode(mpt.KeyRaw))
	require.NoError(t, err)

	v1, err := tr.Commit(ctx, 1, []mpt.Update{mpt.Set([]byte("a"), []byte("1"))})
	require.NoError(t, err)
	_, err = tr.Commit(ctx, 2, []mpt.Update{mpt.Set([]byte("b"), []byte("2"))})
	require.NoError(t, err)
	rb, err := tr.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(v1.Root, rb.Root)

	rep, err := NewManager(tr, nil).RunSync(ctx, StrategyRefcount, KeepLatest(1), Options{})
	require.NoError(t, err)
	assert.Equal([]uint64{1, 2}, rep.Retired)
	// version 2's branch and both its leaves
	assert.Equal(3, rep.Deleted)
	assert.Equal(1, countNodes(t, st, tr.Keys()))

	val, found, err := tr.GetAt(ctx, []byte("a"), 3)
	assert.NoError(err)
	assert.True(found)
	assert.Equal([]byte("1"), val)
	rc, err := store.ReadRefcount(ctx, st, tr.Keys(), v1.Root)
	assert.NoError(err)
	assert.Equal(uint64(1), rc)

	// a trie positioned on an older version keeps it alive
	_, err = tr.Commit(ctx, 4, []mpt.Update{mpt.Set([]byte("c"), []byte("3"))})
	require.NoError(t, err)
	require.NoError(t, tr.LoadVersion(ctx, 3))
	rep, err = NewManager(tr, nil).RunSync(ctx, StrategyMarkSweep, KeepLatest(1), Options{})
	require.NoError(t, err)
	assert.Equal([]uint64{3, 4}, rep.Retained)
	assert.Empty(rep.Retired)
	assert.Equal(0, rep.Deleted)
}

func TestSingleVersionSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := store.NewMemStore()
	tr, err := mpt.New(ctx, st, mpt.WithStorageMode(store.ModeSingleVersion))
	require.NoError(t, err)

	_, err = tr.Commit(ctx, 0, []mpt.Update{mpt.Set([]byte("a"), []byte("1"))})
	require.NoError(t, err)
	_, err = tr.Commit(ctx, 0, []mpt.Update{mpt.Set([]byte("a"), []byte("2"))})
	require.NoError(t, err)
	assert.Equal(2, countNodes(t, st, tr.Keys()))

	mgr := NewManager(tr, nil)
	_, err = mgr.RunSync(ctx, StrategyRefcount, KeepLatest(1), Options{})
	assert.ErrorIs(err, mpt.ErrUnsupported)

	rep, err := mgr.RunSync(ctx, StrategyMarkSweep, KeepLatest(1), Options{Workers: 1})
	require.NoError(t, err)
	assert.Equal(1, rep.Marked)
	assert.Equal(2, rep.Scanned)
	assert.Equal(1, rep.Deleted)

	val, found, err := tr.Get(ctx, []byte("a"))
	assert.NoError(err)
	assert.True(found)
	assert.Equal([]byte("2"), val)
}
