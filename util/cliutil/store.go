package cliutil

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bluesky-social/vds/mpt/store"

	"gorm.io/plugin/opentelemetry/tracing"
)

type StoreOptions struct {
	// CacheSize is the number of records kept in an LRU in front of the store; zero disables it.
	CacheSize int
	// NoSync skips fsync on batch commits (pebble and leveldb).
	NoSync bool
	// Table names the SQL table records live in.
	Table          string
	MaxConnections int
	// DBTracing adds otel spans around SQL queries.
	DBTracing bool
	Logger    *slog.Logger
}

// sqlStore closes the database it was opened with.
type sqlStore struct {
	*store.SQLStore
	db *sql.DB
}

func (s *sqlStore) Close() error {
	return errors.Join(s.SQLStore.Close(), s.db.Close())
}

// OpenStore opens a node store from a url:
//
// - "memory" (or "mem://") for a throwaway in-memory store
// - "pebble://dir" or a bare directory path for pebble
// - "leveldb://dir" for leveldb
// - any database url SetupDatabase accepts for sqlite or postgres
func OpenStore(url string, opts StoreOptions) (store.NodeStore, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var (
		st  store.NodeStore
		err error
	)
	switch {
	case url == "memory" || strings.HasPrefix(url, "mem://"):
		st = store.NewMemStore()
	case strings.HasPrefix(url, "leveldb://"):
		st, err = store.NewLevelDBStore(strings.TrimPrefix(url, "leveldb://"), opts.NoSync)
	case IsDatabaseURL(url):
		db, derr := SetupDatabase(url, opts.MaxConnections)
		if derr != nil {
			return nil, derr
		}
		if opts.DBTracing {
			if derr := db.Use(tracing.NewPlugin()); derr != nil {
				return nil, derr
			}
		}
		sqldb, derr := db.DB()
		if derr != nil {
			return nil, derr
		}
		sst, derr := store.NewSQLStore(db, opts.Table)
		if derr != nil {
			sqldb.Close()
			return nil, derr
		}
		st = &sqlStore{SQLStore: sst, db: sqldb}
	case url == "":
		return nil, fmt.Errorf("no store url given")
	default:
		path := strings.TrimPrefix(url, "pebble://")
		if strings.Contains(path, "://") {
			return nil, fmt.Errorf("unsupported store url scheme: %s", url)
		}
		st, err = store.NewPebbleStore(path, &store.PebbleOptions{NoSync: opts.NoSync, Logger: opts.Logger})
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize > 0 {
		cst, err := store.NewCachedStore(st, opts.CacheSize)
		if err != nil {
			st.Close()
			return nil, err
		}
		return cst, nil
	}
	return st, nil
}
