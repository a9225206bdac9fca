package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/bluesky-social/vds/mpt"

	"github.com/urfave/cli/v2"
)

var cmdStats = &cli.Command{
	Name:   "stats",
	Usage:  "summarize the shape of a committed version",
	Flags:  []cli.Flag{versionFlag},
	Action: runStats,
}

var cmdDump = &cli.Command{
	Name:  "dump",
	Usage: "print every node of a committed version",
	Flags: []cli.Flag{
		versionFlag,
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print nested JSON instead of a tree",
		},
	},
	Action: runDump,
}

var cmdScan = &cli.Command{
	Name:  "scan",
	Usage: "list entries of a committed version in path order",
	Flags: []cli.Flag{
		hexFlag,
		versionFlag,
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "only keys starting with this prefix (raw key mode only)",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "stop after this many entries; 0 lists all",
			Value: 100,
		},
	},
	Action: runScan,
}

func runStats(cctx *cli.Context) error {
	ctx := cctx.Context
	s, err := openSession(cctx)
	if err != nil {
		return err
	}
	defer s.Close()

	version, err := s.readVersion(ctx, cctx)
	if err != nil {
		return err
	}
	st, err := s.trie.Stats(ctx, version)
	if err != nil {
		return err
	}
	fmt.Printf("version:        %d\n", version)
	fmt.Printf("leaves:         %d\n", st.Leaves)
	fmt.Printf("branches:       %d\n", st.Branches)
	fmt.Printf("branch values:  %d\n", st.BranchValues)
	fmt.Printf("max depth:      %d\n", st.MaxDepth)
	fmt.Printf("prefix nibbles: %d\n", st.PrefixNibbles)
	fmt.Printf("encoded bytes:  %d\n", st.EncodedBytes)
	return nil
}

func runDump(cctx *cli.Context) error {
	ctx := cctx.Context
	s, err := openSession(cctx)
	if err != nil {
		return err
	}
	defer s.Close()

	version, err := s.readVersion(ctx, cctx)
	if err != nil {
		return err
	}
	if cctx.Bool("json") {
		b, err := s.trie.TreeJSON(ctx, version)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}
	return s.trie.DumpTree(ctx, version, os.Stdout)
}

func runScan(cctx *cli.Context) error {
	ctx := cctx.Context
	s, err := openSession(cctx)
	if err != nil {
		return err
	}
	defer s.Close()

	version, err := s.readVersion(ctx, cctx)
	if err != nil {
		return err
	}
	limit := cctx.Int("limit")

	var entries []mpt.Entry
	if cctx.IsSet("prefix") {
		prefix, err := decodeArg(cctx, cctx.String("prefix"))
		if err != nil {
			return err
		}
		entries, err = s.trie.ScanPrefix(ctx, version, prefix, limit)
		if err != nil {
			return err
		}
	} else {
		entries, err = s.trie.Entries(ctx, version, limit)
		if err != nil {
			return err
		}
	}

	for _, e := range entries {
		key := encodeOut(cctx, e.Key)
		if s.trie.KeyMode() == mpt.KeyHashed {
			// hashed tries store the key's digest, not the key
			key = hex.EncodeToString(e.Key)
		}
		fmt.Printf("%s\t%s\n", key, encodeOut(cctx, e.Value))
	}
	return nil
}
