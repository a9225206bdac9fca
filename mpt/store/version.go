package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var ErrStorageModeMismatch = errors.New("storage mode does not match the mode the store was created with")

// Mode fixes how versions are kept. It is recorded on first use and checked on every reopen.
type Mode uint8

const (
	// ModeMultiVersion keeps one root per committed version, with refcounted nodes.
	ModeMultiVersion Mode = 1
	// ModeSingleVersion keeps a single root at version 0 that every commit overwrites. Nodes are not
	// refcounted; orphans are reclaimed by mark-sweep.
	ModeSingleVersion Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeMultiVersion:
		return "multi-version"
	case ModeSingleVersion:
		return "single-version"
	default:
		return fmt.Sprintf("mode(%d)", m)
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "multi-version", "multi", "":
		return ModeMultiVersion, nil
	case "single-version", "single":
		return ModeSingleVersion, nil
	default:
		return 0, fmt.Errorf("unknown storage mode: %q", s)
	}
}

// EnsureMode records mode in an empty namespace, or checks it against the recorded one.
func EnsureMode(ctx context.Context, st NodeStore, keys Keys, mode Mode) error {
	b, err := st.Get(ctx, keys.Mode())
	if errors.Is(err, ErrNotFound) {
		batch := NewBatch()
		batch.Put(keys.Mode(), []byte{byte(mode)})
		return st.Write(ctx, batch)
	}
	if err != nil {
		return err
	}
	if len(b) != 1 || Mode(b[0]) != mode {
		var have Mode
		if len(b) == 1 {
			have = Mode(b[0])
		}
		return fmt.Errorf("%w: store has %s, opened as %s", ErrStorageModeMismatch, have, mode)
	}
	return nil
}

// VersionIndex maps committed versions to root digests. Writes go into a caller-provided batch so they
// land atomically with the nodes they reference.
type VersionIndex struct {
	st   NodeStore
	keys Keys
}

func NewVersionIndex(st NodeStore, keys Keys) *VersionIndex {
	return &VersionIndex{st: st, keys: keys}
}

// Root returns the root digest committed at version, or an error wrapping ErrNotFound.
func (vi *VersionIndex) Root(ctx context.Context, version uint64) ([]byte, error) {
	root, err := vi.st.Get(ctx, vi.keys.Root(version))
	if err != nil {
		return nil, fmt.Errorf("root for version %d: %w", version, err)
	}
	return root, nil
}

// Latest returns the most recently committed version and its root. ok is false for an empty index.
func (vi *VersionIndex) Latest(ctx context.Context) (uint64, []byte, bool, error) {
	b, err := vi.st.Get(ctx, vi.keys.Latest())
	if errors.Is(err, ErrNotFound) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	if len(b) < 8 {
		return 0, nil, false, fmt.Errorf("corrupt latest version record (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], true, nil
}

// Versions lists committed versions in ascending order.
func (vi *VersionIndex) Versions(ctx context.Context) ([]uint64, error) {
	var out []uint64
	err := vi.st.Iterate(ctx, vi.keys.RootPrefix(), func(key, _ []byte) error {
		v, ok := vi.keys.versionFromRootKey(key)
		if !ok {
			return fmt.Errorf("unexpected key in root index: %x", key)
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutRoot records root at version and moves the latest pointer to it.
func (vi *VersionIndex) PutRoot(b *Batch, version uint64, root []byte) {
	b.Put(vi.keys.Root(version), root)
	vi.SetLatest(b, version, root)
}

func (vi *VersionIndex) DeleteRoot(b *Batch, version uint64) {
	b.Delete(vi.keys.Root(version))
}

func (vi *VersionIndex) SetLatest(b *Batch, version uint64, root []byte) {
	val := make([]byte, 8, 8+len(root))
	binary.BigEndian.PutUint64(val, version)
	b.Put(vi.keys.Latest(), append(val, root...))
}

func (vi *VersionIndex) ClearLatest(b *Batch) {
	b.Delete(vi.keys.Latest())
}

// ReadRefcount returns the refcount recorded for a node digest; absent records count as zero.
func ReadRefcount(ctx context.Context, st NodeStore, keys Keys, digest []byte) (uint64, error) {
	b, err := st.Get(ctx, keys.Refcount(digest))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return DecodeRefcount(b), nil
}
