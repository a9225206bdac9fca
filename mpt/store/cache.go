package store

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore keeps recently read records in an LRU in front of another NodeStore. Writes go to the
// base store first and then update the cache, so all writers must go through the same CachedStore.
//
// A read that misses fills the cache only if no write completed while it was reading the base
// store; otherwise it could put back a value the write just replaced.
type CachedStore struct {
	base  NodeStore
	cache *lru.Cache[string, []byte]

	// lk serializes writers and guards gen
	lk  sync.Mutex
	gen uint64
}

var _ NodeStore = (*CachedStore)(nil)

func NewCachedStore(base NodeStore, size int) (*CachedStore, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("creating node cache: %w", err)
	}
	return &CachedStore{
		base:  base,
		cache: cache,
	}, nil
}

func (cs *CachedStore) Base() NodeStore {
	return cs.base
}

func (cs *CachedStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, ok := cs.cache.Get(string(key))
	if ok {
		cacheHits.Inc()
		return v, nil
	}
	cacheMisses.Inc()

	cs.lk.Lock()
	gen := cs.gen
	cs.lk.Unlock()

	v, err := cs.base.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	cs.lk.Lock()
	if cs.gen == gen {
		cs.cache.Add(string(key), v)
	}
	cs.lk.Unlock()
	return v, nil
}

func (cs *CachedStore) Write(ctx context.Context, b *Batch) error {
	cs.lk.Lock()
	defer cs.lk.Unlock()

	err := cs.base.Write(ctx, b)
	cs.gen++
	if err != nil {
		// the base store may not say how much of a failed batch landed
		for _, op := range b.Ops() {
			cs.cache.Remove(string(op.Key))
		}
		return err
	}

	for _, op := range b.Ops() {
		switch op.Kind {
		case OpPut:
			v := make([]byte, len(op.Value))
			copy(v, op.Value)
			cs.cache.Add(string(op.Key), v)
		case OpDelete:
			cs.cache.Remove(string(op.Key))
		}
	}
	return nil
}

func (cs *CachedStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return cs.base.Iterate(ctx, prefix, fn)
}

// Purge drops every cached record.
func (cs *CachedStore) Purge() {
	cs.cache.Purge()
}

func (cs *CachedStore) Close() error {
	cs.cache.Purge()
	return cs.base.Close()
}
