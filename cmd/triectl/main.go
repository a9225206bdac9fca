package main

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/bluesky-social/vds/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}

var storeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to a TOML config file; flags override its values",
		EnvVars: []string{"VDS_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "store",
		Usage:   "node store url: memory, pebble://dir, leveldb://dir, sqlite://file or postgres://...",
		EnvVars: []string{"VDS_STORE", "DATABASE_URL"},
	},
	&cli.UintFlag{
		Name:    "namespace",
		Usage:   "trie namespace within the store (0-255)",
		EnvVars: []string{"VDS_NAMESPACE"},
	},
	&cli.StringFlag{
		Name:    "scheme",
		Usage:   "commitment scheme: mpf or classic",
		EnvVars: []string{"VDS_SCHEME"},
	},
	&cli.StringFlag{
		Name:    "hash",
		Usage:   "hash function: blake2b-256, sha-256 or keccak-256",
		EnvVars: []string{"VDS_HASH"},
	},
	&cli.StringFlag{
		Name:    "key-mode",
		Usage:   "how keys map to trie paths: hashed or raw",
		EnvVars: []string{"VDS_KEY_MODE"},
	},
	&cli.StringFlag{
		Name:    "storage-mode",
		Usage:   "multi-version or single-version",
		EnvVars: []string{"VDS_STORAGE_MODE"},
	},
	&cli.IntFlag{
		Name:    "cache-size",
		Usage:   "number of store records to cache in memory",
		EnvVars: []string{"VDS_CACHE_SIZE"},
	},
	&cli.BoolFlag{
		Name:    "no-sync",
		Usage:   "skip fsync on commit (pebble and leveldb)",
		EnvVars: []string{"VDS_NO_SYNC"},
	},
	&cli.BoolFlag{
		Name:    "db-tracing",
		Usage:   "trace SQL queries with opentelemetry (sqlite and postgres stores)",
		EnvVars: []string{"VDS_DB_TRACING"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "log verbosity: debug, info, warn or error",
		EnvVars: []string{"VDS_LOG_LEVEL", "LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "log-format",
		Usage:   "log format: text or json",
		EnvVars: []string{"VDS_LOG_FMT"},
	},
}

func run(args []string) error {
	shutdown, err := cliutil.SetupTracing(context.Background(), "triectl")
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to shut down trace exporter: %v\n", err)
		}
	}()

	app := cli.App{
		Name:    "triectl",
		Usage:   "operate on versioned authenticated tries",
		Version: versioninfo.Short(),
		Flags:   storeFlags,
	}
	app.Commands = []*cli.Command{
		cmdPut,
		cmdGet,
		cmdDelete,
		cmdCommit,
		cmdProof,
		cmdVerify,
		cmdVersions,
		cmdRollback,
		cmdGC,
		cmdStats,
		cmdDump,
		cmdScan,
	}
	return app.Run(args)
}
