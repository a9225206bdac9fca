package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bluesky-social/vds/mpt"
	"github.com/bluesky-social/vds/mpt/commit"
	"github.com/bluesky-social/vds/mpt/store"
	"github.com/bluesky-social/vds/util/cliutil"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
)

// Config is the on-disk form of the trie settings. Every field has a matching global flag.
type Config struct {
	Store       string `toml:"store"`
	Namespace   uint8  `toml:"namespace"`
	Scheme      string `toml:"scheme"`
	Hash        string `toml:"hash"`
	KeyMode     string `toml:"key_mode"`
	StorageMode string `toml:"storage_mode"`
	CacheSize   int    `toml:"cache_size"`
	NoSync      bool   `toml:"no_sync"`
	DBTracing   bool   `toml:"db_tracing"`

	Log LogConfig `toml:"log"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Store:       "data/vds",
		Scheme:      commit.SchemeMPF,
		Hash:        commit.HashBlake2b256,
		KeyMode:     "hashed",
		StorageMode: "multi-version",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// configFromCLI loads the config file, if any, and applies the flags that were set.
func configFromCLI(cctx *cli.Context) (*Config, error) {
	cfg := DefaultConfig()
	if path := cctx.String("config"); path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if cctx.IsSet("store") {
		cfg.Store = cctx.String("store")
	}
	if cctx.IsSet("namespace") {
		ns := cctx.Uint("namespace")
		if ns > 255 {
			return nil, fmt.Errorf("namespace %d out of range", ns)
		}
		cfg.Namespace = uint8(ns)
	}
	if cctx.IsSet("scheme") {
		cfg.Scheme = cctx.String("scheme")
	}
	if cctx.IsSet("hash") {
		cfg.Hash = cctx.String("hash")
	}
	if cctx.IsSet("key-mode") {
		cfg.KeyMode = cctx.String("key-mode")
	}
	if cctx.IsSet("storage-mode") {
		cfg.StorageMode = cctx.String("storage-mode")
	}
	if cctx.IsSet("cache-size") {
		cfg.CacheSize = cctx.Int("cache-size")
	}
	if cctx.IsSet("no-sync") {
		cfg.NoSync = cctx.Bool("no-sync")
	}
	if cctx.IsSet("db-tracing") {
		cfg.DBTracing = cctx.Bool("db-tracing")
	}
	if cctx.IsSet("log-level") {
		cfg.Log.Level = cctx.String("log-level")
	}
	if cctx.IsSet("log-format") {
		cfg.Log.Format = cctx.String("log-format")
	}
	return cfg, nil
}

// Commitment resolves the scheme and key mode, which is all a proof verifier needs.
func (cfg *Config) Commitment() (commit.Scheme, commit.KeyMode, error) {
	h, err := commit.HasherByName(cfg.Hash)
	if err != nil {
		return nil, 0, err
	}
	scheme, err := commit.SchemeByName(cfg.Scheme, h)
	if err != nil {
		return nil, 0, err
	}
	km, err := commit.ParseKeyMode(cfg.KeyMode)
	if err != nil {
		return nil, 0, err
	}
	return scheme, km, nil
}

// Options turns the config into trie options.
func (cfg *Config) Options(log *slog.Logger) ([]mpt.Option, error) {
	scheme, km, err := cfg.Commitment()
	if err != nil {
		return nil, err
	}
	mode, err := store.ParseMode(cfg.StorageMode)
	if err != nil {
		return nil, err
	}
	return []mpt.Option{
		mpt.WithScheme(scheme),
		mpt.WithKeyMode(km),
		mpt.WithStorageMode(mode),
		mpt.WithNamespace(cfg.Namespace),
		mpt.WithLogger(log),
	}, nil
}

type session struct {
	cfg  *Config
	log  *slog.Logger
	st   store.NodeStore
	trie *mpt.Trie

	closers []func() error
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// openSession sets up logging, opens the store and the trie the global flags describe.
func openSession(cctx *cli.Context) (*session, error) {
	cfg, err := configFromCLI(cctx)
	if err != nil {
		return nil, err
	}
	log, logCloser, err := cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cfg.Log.Level,
		LogFormat: cfg.Log.Format,
		LogPath:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log.With("system", "triectl")}
	s.closers = append(s.closers, logCloser.Close)

	opts, err := cfg.Options(log)
	if err != nil {
		s.Close()
		return nil, err
	}
	st, err := cliutil.OpenStore(cfg.Store, cliutil.StoreOptions{
		CacheSize: cfg.CacheSize,
		NoSync:    cfg.NoSync,
		DBTracing: cfg.DBTracing,
		Logger:    log,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.st = st
	s.closers = append(s.closers, st.Close)

	tr, err := mpt.New(cctx.Context, st, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.trie = tr
	return s, nil
}

// nextVersion picks the version a write commits as when none is given.
func (s *session) nextVersion(ctx context.Context, cctx *cli.Context) (uint64, error) {
	if cctx.IsSet("version") {
		return cctx.Uint64("version"), nil
	}
	if s.trie.StorageMode() == store.ModeSingleVersion {
		return 0, nil
	}
	latest, ok, err := s.trie.LatestVersion(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return latest + 1, nil
}

// readVersion picks the version a read looks at when none is given: the latest.
func (s *session) readVersion(ctx context.Context, cctx *cli.Context) (uint64, error) {
	if cctx.IsSet("version") {
		return cctx.Uint64("version"), nil
	}
	latest, ok, err := s.trie.LatestVersion(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("nothing committed yet")
	}
	return latest, nil
}
