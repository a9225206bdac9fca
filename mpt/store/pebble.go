package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleStore is a NodeStore backed by a pebble database. Batches map onto pebble batches, which
// commit atomically.
type PebbleStore struct {
	db   *pebble.DB
	path string
	sync bool

	log *slog.Logger
}

var _ NodeStore = (*PebbleStore)(nil)

type PebbleOptions struct {
	// FS overrides the filesystem; tests use vfs.NewMem()
	FS vfs.FS
	// CacheSize is the block cache size in bytes; zero keeps pebble's default
	CacheSize int64
	// NoSync skips fsync on batch commit. Commits stay atomic but the last ones may be lost on crash.
	NoSync bool
	Logger *slog.Logger
}

func NewPebbleStore(path string, opts *PebbleOptions) (*PebbleStore, error) {
	if opts == nil {
		opts = &PebbleOptions{}
	}
	popts := &pebble.Options{}
	if opts.FS != nil {
		popts.FS = opts.FS
	}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		popts.Cache = cache
	}
	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, fmt.Errorf("%s: could not open pebble db, %w", path, err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &PebbleStore{
		db:   db,
		path: path,
		sync: !opts.NoSync,
		log:  log.With("system", "pebblestore", "path", path),
	}, nil
}

func (ps *PebbleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	val, closer, err := ps.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &OpError{Op: "get", Key: key, Err: err}
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (ps *PebbleStore) Write(ctx context.Context, b *Batch) error {
	start := time.Now()
	err := ps.write(b)
	observeBatch("pebble", b, start, err)
	if err != nil {
		ps.log.Error("pebble batch commit", "ops", b.Len(), "bytes", b.Size(), "err", err)
		return batchErr(b, err)
	}
	return nil
}

func (ps *PebbleStore) write(b *Batch) error {
	batch := ps.db.NewBatch()
	defer batch.Close()
	for _, op := range b.Ops() {
		var err error
		switch op.Kind {
		case OpPut:
			err = batch.Set(op.Key, op.Value, nil)
		case OpDelete:
			err = batch.Delete(op.Key, nil)
		default:
			err = fmt.Errorf("unknown batch op kind %d", op.Kind)
		}
		if err != nil {
			return err
		}
	}
	opts := pebble.NoSync
	if ps.sync {
		opts = pebble.Sync
	}
	return batch.Commit(opts)
}

func (ps *PebbleStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	iter, err := ps.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return &OpError{Op: "iterate", Key: prefix, Err: err}
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := iter.ValueAndErr()
		if err != nil {
			return &OpError{Op: "iterate", Key: iter.Key(), Err: err}
		}
		if err := fn(iter.Key(), val); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return &OpError{Op: "iterate", Key: prefix, Err: err}
	}
	return nil
}

func (ps *PebbleStore) Close() error {
	err := ps.db.Flush()
	if err != nil {
		ps.log.Error("pebble flush", "err", err)
	}
	err = ps.db.Close()
	if err != nil {
		ps.log.Error("pebble close", "err", err)
	}
	return err
}
