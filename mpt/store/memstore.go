package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory NodeStore. It is mostly useful for tests and for short-lived tries.
type MemStore struct {
	lk     sync.RWMutex
	data   map[string][]byte
	closed bool

	// if set, called before applying each batch; a non-nil error aborts the batch untouched
	writeHook func(*Batch) error
}

var _ NodeStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// SetWriteHook installs a function that can veto batch writes, for fault injection in tests.
func (ms *MemStore) SetWriteHook(fn func(*Batch) error) {
	ms.lk.Lock()
	defer ms.lk.Unlock()
	ms.writeHook = fn
}

func (ms *MemStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	ms.lk.RLock()
	defer ms.lk.RUnlock()
	if ms.closed {
		return nil, &OpError{Op: "get", Key: key, Err: ErrClosed}
	}
	v, ok := ms.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (ms *MemStore) Write(ctx context.Context, b *Batch) error {
	start := time.Now()
	ms.lk.Lock()
	defer ms.lk.Unlock()

	err := ms.applyLocked(b)
	observeBatch("memory", b, start, err)
	if err != nil {
		return batchErr(b, err)
	}
	return nil
}

func (ms *MemStore) applyLocked(b *Batch) error {
	if ms.closed {
		return ErrClosed
	}
	if ms.writeHook != nil {
		if err := ms.writeHook(b); err != nil {
			return err
		}
	}
	for _, op := range b.Ops() {
		if op.Kind != OpPut && op.Kind != OpDelete {
			return fmt.Errorf("unknown batch op kind %d", op.Kind)
		}
	}
	for _, op := range b.Ops() {
		switch op.Kind {
		case OpPut:
			v := make([]byte, len(op.Value))
			copy(v, op.Value)
			ms.data[string(op.Key)] = v
		case OpDelete:
			delete(ms.data, string(op.Key))
		}
	}
	return nil
}

func (ms *MemStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	ms.lk.RLock()
	if ms.closed {
		ms.lk.RUnlock()
		return &OpError{Op: "iterate", Key: prefix, Err: ErrClosed}
	}
	type kv struct {
		k string
		v []byte
	}
	var items []kv
	for k, v := range ms.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			items = append(items, kv{k: k, v: v})
		}
	}
	ms.lk.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].k < items[j].k })
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(it.k), it.v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records held, across all namespaces.
func (ms *MemStore) Len() int {
	ms.lk.RLock()
	defer ms.lk.RUnlock()
	return len(ms.data)
}

func (ms *MemStore) Close() error {
	ms.lk.Lock()
	defer ms.lk.Unlock()
	ms.closed = true
	return nil
}
