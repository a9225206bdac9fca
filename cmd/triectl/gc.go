package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/bluesky-social/vds/mpt/gc"

	"github.com/urfave/cli/v2"
)

var cmdGC = &cli.Command{
	Name:  "gc",
	Usage: "retire old versions and delete the nodes only they reference",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "strategy",
			Usage: "refcount or mark-sweep",
			Value: "refcount",
		},
		&cli.StringFlag{
			Name:  "keep",
			Usage: "retention policy: latest:N or versions:a,b,...",
			Value: "latest:1",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "report what would be deleted without writing",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "store operations per batch",
			Value: gc.DefaultBatchSize,
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "retained roots marked concurrently (mark-sweep)",
			Value: gc.DefaultWorkers,
		},
		&cli.BoolFlag{
			Name:  "progress",
			Usage: "log running totals after each batch",
		},
	},
	Action: runGC,
}

func runGC(cctx *cli.Context) error {
	strategy, err := gc.ParseStrategy(cctx.String("strategy"))
	if err != nil {
		return err
	}
	policy, err := gc.ParsePolicy(cctx.String("keep"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt)
	defer stop()

	s, err := openSession(cctx)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := gc.Options{
		DryRun:    cctx.Bool("dry-run"),
		BatchSize: cctx.Int("batch-size"),
		Workers:   cctx.Int("workers"),
	}
	if cctx.Bool("progress") {
		opts.Progress = func(r gc.Report) {
			s.log.Info("gc progress", "batches", r.Batches, "scanned", r.Scanned, "deleted", r.Deleted)
		}
	}

	rep, err := gc.NewManager(s.trie, s.log).RunSync(ctx, strategy, policy, opts)
	if err != nil {
		return err
	}
	prefix := ""
	if rep.DryRun {
		prefix = "dry run: "
	}
	fmt.Printf("%sstrategy=%s policy=%s retained=%v retired=%v\n", prefix, rep.Strategy, rep.Policy, rep.Retained, rep.Retired)
	fmt.Printf("%smarked=%d scanned=%d deleted=%d batches=%d duration=%s\n", prefix, rep.Marked, rep.Scanned, rep.Deleted, rep.Batches, rep.Duration)
	return nil
}
