package mpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/nibble"
	"github.com/bluesky-social/vds/mpt/node"
	"github.com/bluesky-social/vds/mpt/store"
)

type KeyMode = commit.KeyMode

const (
	KeyRaw    = commit.KeyRaw
	KeyHashed = commit.KeyHashed
)

type config struct {
	scheme    commit.Scheme
	keyMode   KeyMode
	namespace byte
	mode      store.Mode
	log       *slog.Logger
}

type Option func(*config)

// WithScheme sets the commitment scheme. Defaults to the forestry (mpf) scheme over blake2b-256.
func WithScheme(s commit.Scheme) Option {
	return func(c *config) { c.scheme = s }
}

// WithKeyMode sets how keys map to paths. Defaults to KeyHashed.
func WithKeyMode(m KeyMode) Option {
	return func(c *config) { c.keyMode = m }
}

// WithNamespace isolates this trie's records from other tries sharing the same store.
func WithNamespace(ns byte) Option {
	return func(c *config) { c.namespace = ns }
}

func WithStorageMode(m store.Mode) Option {
	return func(c *config) { c.mode = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// Trie is a handle on one namespace of a NodeStore. Reads of committed versions are safe for
// concurrent use; writes to the working root are serialized on an internal lock.
type Trie struct {
	st      store.NodeStore
	keys    store.Keys
	index   *store.VersionIndex
	scheme  commit.Scheme
	codec   node.Codec
	keyMode KeyMode
	mode    store.Mode

	log *slog.Logger

	lk sync.RWMutex
	// working root, nil for the empty trie
	root []byte
	// root and version the working state was loaded from or last committed as
	base       []byte
	version    uint64
	hasVersion bool
	// nodes created by uncommitted writes, by digest
	staged map[string]node.Node
}

// New opens the trie stored in st, positioning the working root at the latest committed version.
func New(ctx context.Context, st store.NodeStore, opts ...Option) (*Trie, error) {
	cfg := config{
		keyMode: KeyHashed,
		mode:    store.ModeMultiVersion,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.scheme == nil {
		cfg.scheme = commit.NewMPF(commit.Blake2b256())
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}

	keys := store.NewKeys(cfg.namespace)
	if err := store.EnsureMode(ctx, st, keys, cfg.mode); err != nil {
		return nil, err
	}

	t := &Trie{
		st:      st,
		keys:    keys,
		index:   store.NewVersionIndex(st, keys),
		scheme:  cfg.scheme,
		codec:   node.NewBinaryCodec(cfg.scheme.Hasher().Size()),
		keyMode: cfg.keyMode,
		mode:    cfg.mode,
		log:     cfg.log.With("system", "mpt", "namespace", cfg.namespace, "scheme", cfg.scheme.Name()),
		staged:  make(map[string]node.Node),
	}

	v, root, ok, err := t.index.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading latest version: %w", err)
	}
	if ok {
		t.version = v
		t.hasVersion = true
		t.base = t.normalizeRoot(root)
		t.root = t.base
	}
	return t, nil
}

func (t *Trie) Scheme() commit.Scheme   { return t.scheme }
func (t *Trie) KeyMode() KeyMode        { return t.keyMode }
func (t *Trie) StorageMode() store.Mode { return t.mode }
func (t *Trie) Store() store.NodeStore  { return t.st }
func (t *Trie) Keys() store.Keys        { return t.keys }
func (t *Trie) Codec() node.Codec       { return t.codec }

func (t *Trie) normalizeRoot(d []byte) []byte {
	if commit.IsNull(t.scheme, d) {
		return nil
	}
	return d
}

func (t *Trie) digestOf(root []byte) []byte {
	if root == nil {
		return t.scheme.NullDigest()
	}
	return root
}

// Root returns the digest of the working root; the null digest for an empty trie.
func (t *Trie) Root() []byte {
	t.lk.RLock()
	defer t.lk.RUnlock()
	return t.digestOf(t.root)
}

// Dirty reports whether there are writes not yet committed.
func (t *Trie) Dirty() bool {
	t.lk.RLock()
	defer t.lk.RUnlock()
	return string(t.root) != string(t.base)
}

// LatestVersion returns the most recently committed version; ok is false before the first commit.
func (t *Trie) LatestVersion(ctx context.Context) (uint64, bool, error) {
	v, _, ok, err := t.index.Latest(ctx)
	return v, ok, err
}

// RootAt returns the root digest committed at version.
func (t *Trie) RootAt(ctx context.Context, version uint64) ([]byte, error) {
	root, err := t.index.Root(ctx, version)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (t *Trie) rootFor(ctx context.Context, version uint64) ([]byte, error) {
	root, err := t.RootAt(ctx, version)
	if err != nil {
		return nil, err
	}
	return t.normalizeRoot(root), nil
}

func (t *Trie) Versions(ctx context.Context) ([]uint64, error) {
	return t.index.Versions(ctx)
}

// LoadVersion resets the working root to a committed version, dropping uncommitted writes.
func (t *Trie) LoadVersion(ctx context.Context, version uint64) error {
	root, err := t.rootFor(ctx, version)
	if err != nil {
		return err
	}
	t.lk.Lock()
	defer t.lk.Unlock()
	t.root = root
	t.base = root
	t.version = version
	t.hasVersion = true
	t.staged = make(map[string]node.Node)
	return nil
}

// Discard drops uncommitted writes.
func (t *Trie) Discard() {
	t.lk.Lock()
	defer t.lk.Unlock()
	t.root = t.base
	t.staged = make(map[string]node.Node)
}

func (t *Trie) keyPath(key []byte) (nibble.Path, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return t.keyMode.Path(t.scheme.Hasher(), key), nil
}

// loadStored reads and decodes a node, checking the shape invariants a stored node must satisfy.
func (t *Trie) loadStored(ctx context.Context, d []byte) (node.Node, error) {
	raw, err := t.st.Get(ctx, t.keys.Node(d))
	if errors.Is(err, store.ErrNotFound) {
		return nil, &InvariantError{Reason: "dangling child reference", Digest: d}
	}
	if err != nil {
		return nil, err
	}
	n, err := t.codec.Decode(raw)
	if err != nil {
		return nil, &InvariantError{Reason: err.Error(), Digest: d}
	}
	nodesLoaded.Inc()

	switch n := n.(type) {
	case *node.Leaf:
	case *node.Branch:
		if !n.Canonical() {
			return nil, &InvariantError{Reason: "branch with fewer than two entries", Digest: d}
		}
		if n.HasValue() && !t.scheme.SupportsBranchValue() {
			return nil, &InvariantError{Reason: "branch value under a scheme without branch values", Digest: d}
		}
	case *node.Extension:
		return nil, &InvariantError{Reason: "extension node in storage", Digest: d}
	}
	return n, nil
}

// Get looks key up in the working root, including uncommitted writes.
func (t *Trie) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	path, err := t.keyPath(key)
	if err != nil {
		return nil, false, err
	}
	t.lk.RLock()
	defer t.lk.RUnlock()
	return t.view(t.staged).get(ctx, t.root, path)
}

// GetAt looks key up in a committed version.
func (t *Trie) GetAt(ctx context.Context, key []byte, version uint64) ([]byte, bool, error) {
	path, err := t.keyPath(key)
	if err != nil {
		return nil, false, err
	}
	root, err := t.rootFor(ctx, version)
	if err != nil {
		return nil, false, err
	}
	return t.view(nil).get(ctx, root, path)
}

// Put sets key to value in the working root. An empty value deletes the key.
func (t *Trie) Put(ctx context.Context, key, value []byte) error {
	if len(value) == 0 {
		_, err := t.Delete(ctx, key)
		return err
	}
	path, err := t.keyPath(key)
	if err != nil {
		return err
	}
	t.lk.Lock()
	defer t.lk.Unlock()
	root, err := t.view(t.staged).insert(ctx, t.root, path, value)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

// Delete removes key from the working root, reporting whether it was present.
func (t *Trie) Delete(ctx context.Context, key []byte) (bool, error) {
	path, err := t.keyPath(key)
	if err != nil {
		return false, err
	}
	t.lk.Lock()
	defer t.lk.Unlock()
	root, found, err := t.view(t.staged).remove(ctx, t.root, path)
	if err != nil {
		return false, err
	}
	t.root = root
	return found, nil
}
