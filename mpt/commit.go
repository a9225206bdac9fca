package mpt

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/bluesky-social/vds/mpt/node"
	"github.com/bluesky-social/vds/mpt/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Update is one write in a Commit. An empty Value deletes the key.
type Update struct {
	Key   []byte
	Value []byte
}

func Set(key, value []byte) Update {
	return Update{Key: key, Value: value}
}

func Remove(key []byte) Update {
	return Update{Key: key}
}

type CommitResult struct {
	Version uint64
	Root    []byte
	// NodesWritten counts nodes new to the store; NodesReused counts staged nodes it already had
	NodesWritten int
	NodesReused  int
	BatchOps     int
	BatchBytes   int
	Duration     time.Duration
}

// Commit applies updates on top of the working root, in order, and persists the result as version.
// In multi-version mode version must be greater than the latest committed version; in single-version
// mode it must be 0. If anything fails the working state is left as it was.
func (t *Trie) Commit(ctx context.Context, version uint64, updates []Update) (*CommitResult, error) {
	ctx, span := otel.Tracer("mpt").Start(ctx, "Commit")
	defer span.End()
	span.SetAttributes(attribute.Int64("version", int64(version)), attribute.Int("updates", len(updates)))

	t.lk.Lock()
	defer t.lk.Unlock()

	if err := t.checkVersion(ctx, version); err != nil {
		return nil, err
	}

	staged := maps.Clone(t.staged)
	v := t.view(staged)
	root := t.root
	for _, u := range updates {
		path, err := t.keyPath(u.Key)
		if err != nil {
			return nil, err
		}
		if len(u.Value) == 0 {
			root, _, err = v.remove(ctx, root, path)
		} else {
			root, err = v.insert(ctx, root, path, u.Value)
		}
		if err != nil {
			return nil, err
		}
	}

	res, err := t.persist(ctx, version, root, staged)
	if err != nil {
		return nil, err
	}
	t.root = root
	t.base = root
	t.version = version
	t.hasVersion = true
	t.staged = make(map[string]node.Node)
	return res, nil
}

// CommitWorking persists the writes made with Put and Delete since the last commit.
func (t *Trie) CommitWorking(ctx context.Context, version uint64) (*CommitResult, error) {
	return t.Commit(ctx, version, nil)
}

// Rollback makes the state of an earlier version current again by committing its root as a new
// version, one past the latest. History is kept; nothing is deleted.
func (t *Trie) Rollback(ctx context.Context, version uint64) (*CommitResult, error) {
	if t.mode != store.ModeMultiVersion {
		return nil, fmt.Errorf("%w: rollback needs multi-version storage", ErrUnsupported)
	}
	root, err := t.rootFor(ctx, version)
	if err != nil {
		return nil, err
	}

	t.lk.Lock()
	defer t.lk.Unlock()

	latest, ok, err := t.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	next := version + 1
	if ok {
		next = latest + 1
	}
	res, err := t.persist(ctx, next, root, nil)
	if err != nil {
		return nil, err
	}
	t.root = root
	t.base = root
	t.version = next
	t.hasVersion = true
	t.staged = make(map[string]node.Node)
	t.log.Info("rolled back", "to", version, "as", next)
	return res, nil
}

func (t *Trie) checkVersion(ctx context.Context, version uint64) error {
	if t.mode == store.ModeSingleVersion {
		if version != 0 {
			return fmt.Errorf("%w: single-version storage only commits version 0, got %d", ErrInvalidVersion, version)
		}
		return nil
	}
	latest, ok, err := t.LatestVersion(ctx)
	if err != nil {
		return err
	}
	if ok && version <= latest {
		return fmt.Errorf("%w: %d is not after latest version %d", ErrInvalidVersion, version, latest)
	}
	return nil
}

// persist writes, in one batch, every staged node reachable from root that the store does not
// already hold, the refcount increments for the nodes they reference, and the version entry.
// Digests not in staged are already durable and are not descended into.
func (t *Trie) persist(ctx context.Context, version uint64, root []byte, staged map[string]node.Node) (*CommitResult, error) {
	start := time.Now()
	multi := t.mode == store.ModeMultiVersion
	res := &CommitResult{Version: version, Root: t.digestOf(root)}

	b := store.NewBatch()
	incs := make(map[string]uint64)
	seen := make(map[string]bool)
	var stack [][]byte
	if root != nil {
		stack = append(stack, root)
	}
	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[string(d)] {
			continue
		}
		seen[string(d)] = true

		n, ok := staged[string(d)]
		if !ok {
			continue
		}
		_, err := t.st.Get(ctx, t.keys.Node(d))
		if err == nil {
			res.NodesReused++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		enc, err := t.codec.Encode(n)
		if err != nil {
			return nil, fmt.Errorf("encoding node %x: %w", d, err)
		}
		b.Put(t.keys.Node(d), enc)
		res.NodesWritten++
		for _, c := range n.Refs() {
			if multi {
				incs[string(c)]++
			}
			stack = append(stack, c)
		}
	}
	if multi && root != nil {
		incs[string(root)]++
	}
	for d, delta := range incs {
		rc, err := store.ReadRefcount(ctx, t.st, t.keys, []byte(d))
		if err != nil {
			return nil, err
		}
		b.Put(t.keys.Refcount([]byte(d)), store.EncodeRefcount(rc+delta))
	}
	t.index.PutRoot(b, version, res.Root)

	res.BatchOps = b.Len()
	res.BatchBytes = b.Size()
	if err := t.st.Write(ctx, b); err != nil {
		commitsTotal.WithLabelValues("error").Inc()
		t.log.Error("commit failed", "version", version, "ops", res.BatchOps, "err", err)
		return nil, fmt.Errorf("committing version %d: %w", version, err)
	}

	res.Duration = time.Since(start)
	commitsTotal.WithLabelValues("ok").Inc()
	commitDuration.Observe(res.Duration.Seconds())
	nodesWritten.Add(float64(res.NodesWritten))
	nodesReused.Add(float64(res.NodesReused))
	t.log.Debug("committed", "version", version, "root", fmt.Sprintf("%x", res.Root), "written", res.NodesWritten, "reused", res.NodesReused, "ops", res.BatchOps, "bytes", res.BatchBytes)
	return res, nil
}

// Exclusive runs fn while holding the trie's write lock, so no commit interleaves with it. pinned is
// the committed version the working state was loaded from; ok is false before the first commit.
// Garbage collection runs this way and must keep the pinned version.
func (t *Trie) Exclusive(fn func(pinned uint64, ok bool) error) error {
	t.lk.Lock()
	defer t.lk.Unlock()
	return fn(t.version, t.hasVersion)
}
