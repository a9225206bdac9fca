// Package gc reclaims trie nodes that no retained version can reach.
//
// Collection is an explicit pass: callers pick a retention policy, the versions outside it are retired
// (their root index entries removed), and the nodes only they referenced are deleted. Two strategies
// are available. StrategyRefcount walks down from each retired root decrementing the refcounts commits
// maintain and deletes what reaches zero. StrategyMarkSweep marks everything reachable from the
// retained roots and deletes every other node; it also works for single-version tries, which keep no
// refcounts.
//
// A run holds the trie's write lock, so commits wait for it while readers of retained versions do
// not. The version the trie's working state is based on is always retained, as is the latest one.
package gc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bluesky-social/vds/mpt"
	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/node"
	"github.com/bluesky-social/vds/mpt/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Strategy int

const (
	StrategyRefcount Strategy = iota
	StrategyMarkSweep
)

func (s Strategy) String() string {
	switch s {
	case StrategyRefcount:
		return "refcount"
	case StrategyMarkSweep:
		return "mark-sweep"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "refcount", "rc":
		return StrategyRefcount, nil
	case "mark-sweep", "marksweep", "ms":
		return StrategyMarkSweep, nil
	default:
		return 0, fmt.Errorf("unknown gc strategy: %q", s)
	}
}

const (
	DefaultBatchSize = 10_000
	DefaultWorkers   = 4
)

type Options struct {
	// DryRun computes the report without writing anything.
	DryRun bool
	// BatchSize bounds the operations per store batch; zero means DefaultBatchSize.
	BatchSize int
	// Workers bounds how many retained roots are marked at once; zero means DefaultWorkers.
	Workers int
	// Progress, if set, is called after each batch with the running totals.
	Progress func(r Report)
}

// Report summarizes a run. Marked counts nodes reached from retained roots (mark-sweep only);
// Scanned counts nodes examined for deletion.
type Report struct {
	Strategy Strategy
	Policy   string
	DryRun   bool
	Retained []uint64
	Retired  []uint64
	Marked   int
	Scanned  int
	Deleted  int
	Batches  int
	Duration time.Duration
}

type Manager struct {
	trie *mpt.Trie
	st   store.NodeStore
	keys store.Keys

	index  *store.VersionIndex
	codec  node.Codec
	scheme commit.Scheme

	log *slog.Logger
}

func NewManager(t *mpt.Trie, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		trie:   t,
		st:     t.Store(),
		keys:   t.Keys(),
		index:  store.NewVersionIndex(t.Store(), t.Keys()),
		codec:  t.Codec(),
		scheme: t.Scheme(),
		log:    log.With("system", "gc", "namespace", t.Keys().Namespace()),
	}
}

// RunSync retires the versions policy does not keep and deletes the nodes they alone referenced.
func (m *Manager) RunSync(ctx context.Context, strategy Strategy, policy RetentionPolicy, opts Options) (*Report, error) {
	ctx, span := otel.Tracer("gc").Start(ctx, "RunSync")
	defer span.End()
	span.SetAttributes(
		attribute.String("strategy", strategy.String()),
		attribute.String("policy", policy.String()),
		attribute.Bool("dryRun", opts.DryRun),
	)

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if strategy == StrategyRefcount && m.trie.StorageMode() != store.ModeMultiVersion {
		return nil, fmt.Errorf("%w: refcount collection needs multi-version storage", mpt.ErrUnsupported)
	}

	start := time.Now()
	rep := &Report{Strategy: strategy, Policy: policy.String(), DryRun: opts.DryRun}
	err := m.trie.Exclusive(func(pinned uint64, hasPinned bool) error {
		retained, retired, err := m.plan(ctx, policy, pinned, hasPinned)
		if err != nil {
			return err
		}
		rep.Retained = retained
		rep.Retired = retired

		switch strategy {
		case StrategyRefcount:
			return m.refcount(ctx, rep, opts)
		case StrategyMarkSweep:
			return m.markSweep(ctx, rep, opts)
		default:
			return fmt.Errorf("unknown gc strategy %d", strategy)
		}
	})
	rep.Duration = time.Since(start)

	if err != nil {
		runsTotal.WithLabelValues(strategy.String(), "error").Inc()
		m.log.Error("gc failed", "strategy", strategy, "policy", rep.Policy, "deleted", rep.Deleted, "err", err)
		return nil, err
	}
	runsTotal.WithLabelValues(strategy.String(), "ok").Inc()
	runDuration.WithLabelValues(strategy.String()).Observe(rep.Duration.Seconds())
	if !opts.DryRun {
		nodesDeleted.WithLabelValues(strategy.String()).Add(float64(rep.Deleted))
		versionsRetired.Add(float64(len(rep.Retired)))
	}
	span.SetAttributes(attribute.Int("retired", len(rep.Retired)), attribute.Int("deleted", rep.Deleted))
	m.log.Info("gc finished", "strategy", strategy, "policy", rep.Policy, "dryRun", opts.DryRun,
		"retained", len(rep.Retained), "retired", len(rep.Retired), "marked", rep.Marked,
		"scanned", rep.Scanned, "deleted", rep.Deleted, "duration", rep.Duration)
	return rep, nil
}

// plan splits the committed versions into retained and retired ones. The latest version and the
// pinned one are retained whatever the policy says.
func (m *Manager) plan(ctx context.Context, policy RetentionPolicy, pinned uint64, hasPinned bool) ([]uint64, []uint64, error) {
	versions, err := m.index.Versions(ctx)
	if err != nil {
		return nil, nil, err
	}
	keep := make(map[uint64]bool)
	for _, v := range policy.Retain(versions) {
		keep[v] = true
	}
	if latest, _, ok, err := m.index.Latest(ctx); err != nil {
		return nil, nil, err
	} else if ok {
		keep[latest] = true
	}
	if hasPinned {
		keep[pinned] = true
	}

	var retained, retired []uint64
	for _, v := range versions {
		if keep[v] {
			retained = append(retained, v)
		} else {
			retired = append(retired, v)
		}
	}
	return retained, retired, nil
}

// rootOf returns the root committed at version, nil for an empty trie.
func (m *Manager) rootOf(ctx context.Context, version uint64) ([]byte, error) {
	root, err := m.index.Root(ctx, version)
	if err != nil {
		return nil, err
	}
	if commit.IsNull(m.scheme, root) {
		return nil, nil
	}
	return root, nil
}

func (m *Manager) loadNode(ctx context.Context, d []byte) (node.Node, error) {
	raw, err := m.st.Get(ctx, m.keys.Node(d))
	if errors.Is(err, store.ErrNotFound) {
		return nil, &mpt.InvariantError{Reason: "dangling child reference", Digest: d}
	}
	if err != nil {
		return nil, err
	}
	n, err := m.codec.Decode(raw)
	if err != nil {
		return nil, &mpt.InvariantError{Reason: err.Error(), Digest: d}
	}
	return n, nil
}

// batcher flushes a batch whenever it grows past size. Dry runs count batches without writing.
type batcher struct {
	m    *Manager
	b    *store.Batch
	size int
	dry  bool
	rep  *Report
	prog func(Report)
}

func (m *Manager) newBatcher(rep *Report, opts Options) *batcher {
	return &batcher{m: m, b: store.NewBatch(), size: opts.BatchSize, dry: opts.DryRun, rep: rep, prog: opts.Progress}
}

func (bt *batcher) maybeFlush(ctx context.Context) error {
	if bt.b.Len() < bt.size {
		return nil
	}
	return bt.flush(ctx)
}

func (bt *batcher) flush(ctx context.Context) error {
	if bt.b.Len() == 0 {
		return nil
	}
	if !bt.dry {
		if err := bt.m.st.Write(ctx, bt.b); err != nil {
			return fmt.Errorf("writing gc batch: %w", err)
		}
	}
	bt.rep.Batches++
	bt.b.Reset()
	if bt.prog != nil {
		r := *bt.rep
		r.Retained = slices.Clone(r.Retained)
		r.Retired = slices.Clone(r.Retired)
		bt.prog(r)
	}
	return nil
}
