package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore is a NodeStore backed by goleveldb.
type LevelDBStore struct {
	db   *leveldb.DB
	path string
	wo   *opt.WriteOptions

	log *slog.Logger
}

var _ NodeStore = (*LevelDBStore)(nil)

func NewLevelDBStore(path string, noSync bool) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		NoSync: noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}
	return &LevelDBStore{
		db:   db,
		path: path,
		wo:   &opt.WriteOptions{Sync: !noSync},
		log:  slog.Default().With("system", "leveldbstore", "path", path),
	}, nil
}

func (ls *LevelDBStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	val, err := ls.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &OpError{Op: "get", Key: key, Err: err}
	}
	return val, nil
}

func (ls *LevelDBStore) Write(ctx context.Context, b *Batch) error {
	start := time.Now()
	batch := new(leveldb.Batch)
	for _, op := range b.Ops() {
		switch op.Kind {
		case OpPut:
			batch.Put(op.Key, op.Value)
		case OpDelete:
			batch.Delete(op.Key)
		default:
			return batchErr(b, fmt.Errorf("unknown batch op kind %d", op.Kind))
		}
	}
	err := ls.db.Write(batch, ls.wo)
	observeBatch("leveldb", b, start, err)
	if err != nil {
		ls.log.Error("leveldb batch write", "ops", b.Len(), "bytes", b.Size(), "err", err)
		return batchErr(b, err)
	}
	return nil
}

func (ls *LevelDBStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	iter := ls.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return &OpError{Op: "iterate", Key: prefix, Err: err}
	}
	return nil
}

func (ls *LevelDBStore) Close() error {
	return ls.db.Close()
}
