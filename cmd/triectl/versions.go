package main

import (
	"fmt"
	"strconv"

	"github.com/bluesky-social/vds/mpt/commit"

	"github.com/urfave/cli/v2"
)

var cmdVersions = &cli.Command{
	Name:   "versions",
	Usage:  "list committed versions and their roots",
	Action: runVersions,
}

var cmdRollback = &cli.Command{
	Name:        "rollback",
	Usage:       "make an earlier version current again",
	ArgsUsage:   `<version>`,
	Description: "Commits the root of <version> as a new version one past the latest. Nothing is deleted.",
	Action:      runRollback,
}

func runVersions(cctx *cli.Context) error {
	ctx := cctx.Context
	s, err := openSession(cctx)
	if err != nil {
		return err
	}
	defer s.Close()

	versions, err := s.trie.Versions(ctx)
	if err != nil {
		return err
	}
	latest, _, err := s.trie.LatestVersion(ctx)
	if err != nil {
		return err
	}
	for _, v := range versions {
		root, err := s.trie.RootAt(ctx, v)
		if err != nil {
			return err
		}
		if len(root) == 0 {
			root = s.trie.Scheme().NullDigest()
		}
		mark := ""
		if v == latest {
			mark = " (latest)"
		}
		fmt.Printf("%d\t%x%s\n", v, root, mark)
	}
	return nil
}

func runRollback(cctx *cli.Context) error {
	ctx := cctx.Context
	if cctx.Args().Len() != 1 {
		return fmt.Errorf("expected a version")
	}
	version, err := strconv.ParseUint(cctx.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing version: %w", err)
	}
	s, err := openSession(cctx)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.trie.Rollback(ctx, version)
	if err != nil {
		return err
	}
	if commit.IsNull(s.trie.Scheme(), res.Root) {
		res.Root = s.trie.Scheme().NullDigest()
	}
	printCommit(res)
	return nil
}
