package store

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("key not found in node store")

var ErrClosed = errors.New("node store is closed")

// NodeStore is the ordered byte store the trie persists into. Implementations must apply a Batch
// atomically: either every operation becomes visible or none does.
type NodeStore interface {
	// Get returns the value stored at key, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Write applies all operations in the batch atomically, in order.
	Write(ctx context.Context, b *Batch) error
	// Iterate calls fn for every key with the given prefix in ascending key order. The key and value
	// slices are only valid for the duration of the call. Returning an error from fn stops iteration.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Batch is an ordered list of puts and deletes. Later operations on the same key win.
type Batch struct {
	ops  []Op
	size int
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Op{Kind: OpPut, Key: key, Value: value})
	b.size += len(key) + len(value)
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Key: key})
	b.size += len(key)
}

func (b *Batch) Ops() []Op {
	return b.ops
}

// Len is the number of operations in the batch.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Size is the approximate payload size of the batch in bytes.
func (b *Batch) Size() int {
	return b.size
}

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

// OpError is a failed single store operation.
type OpError struct {
	Op  string
	Key []byte
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("node store %s %x: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// BatchError is a failed atomic batch write. The store is left as it was before the batch.
type BatchError struct {
	Ops   int
	Bytes int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("node store batch write failed (%d ops, ~%d bytes): %v", e.Ops, e.Bytes, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Retryable reports that the batch may succeed if retried, possibly split into smaller batches.
func (e *BatchError) Retryable() bool {
	return true
}

func batchErr(b *Batch, err error) error {
	return &BatchError{Ops: b.Len(), Bytes: b.Size(), Err: err}
}

// prefixEnd returns the smallest key greater than every key with the given prefix, or nil when the
// prefix is all 0xff bytes.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
