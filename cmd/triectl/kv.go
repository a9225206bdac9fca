package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bluesky-social/vds/mpt"

	"github.com/urfave/cli/v2"
)

var hexFlag = &cli.BoolFlag{
	Name:  "hex",
	Usage: "keys and values are hex encoded",
}

var versionFlag = &cli.Uint64Flag{
	Name:  "version",
	Usage: "version to read or commit as (default: latest, or latest+1 for writes)",
}

var cmdPut = &cli.Command{
	Name:      "put",
	Usage:     "set a key and commit",
	ArgsUsage: `<key> <value>`,
	Flags:     []cli.Flag{hexFlag, versionFlag},
	Action:    runPut,
}

var cmdGet = &cli.Command{
	Name:      "get",
	Usage:     "read a key from a committed version",
	ArgsUsage: `<key>`,
	Flags:     []cli.Flag{hexFlag, versionFlag},
	Action:    runGet,
}

var cmdDelete = &cli.Command{
	Name:      "delete",
	Aliases:   []string{"del"},
	Usage:     "remove a key and commit",
	ArgsUsage: `<key>`,
	Flags:     []cli.Flag{hexFlag, versionFlag},
	Action:    runDelete,
}

var cmdCommit = &cli.Command{
	Name:      "commit",
	Usage:     "apply a batch of updates as one version",
	ArgsUsage: `[<file>]`,
	Description: "Reads one JSON object per line, {\"key\": ..., \"value\": ...}, from the file or stdin.\n" +
		"A missing or empty value removes the key.",
	Flags:  []cli.Flag{hexFlag, versionFlag},
	Action: runCommit,
}

func decodeArg(cctx *cli.Context, s string) ([]byte, error) {
	if !cctx.Bool("hex") {
		return []byte(s), nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding hex argument: %w", err)
	}
	return b, nil
}

func encodeOut(cctx *cli.Context, b []byte) string {
	if cctx.Bool("hex") {
		return hex.EncodeToString(b)
	}
	return string(b)
}

func printCommit(res *mpt.CommitResult) {
	fmt.Printf("version=%d root=%x written=%d reused=%d\n", res.Version, res.Root, res.NodesWritten, res.NodesReused)
}

func commitUpdates(cctx *cli.Context, updates []mpt.Update) error {
	ctx := cctx.Context
	s, err := openSession(cctx)
	if err != nil {
		return err
	}
	defer s.Close()

	version, err := s.nextVersion(ctx, cctx)
	if err != nil {
		return err
	}
	res, err := s.trie.Commit(ctx, version, updates)
	if err != nil {
		return err
	}
	printCommit(res)
	return nil
}

func runPut(cctx *cli.Context) error {
	if cctx.Args().Len() != 2 {
		return fmt.Errorf("expected a key and a value")
	}
	key, err := decodeArg(cctx, cctx.Args().Get(0))
	if err != nil {
		return err
	}
	val, err := decodeArg(cctx, cctx.Args().Get(1))
	if err != nil {
		return err
	}
	return commitUpdates(cctx, []mpt.Update{mpt.Set(key, val)})
}

func runDelete(cctx *cli.Context) error {
	if cctx.Args().Len() != 1 {
		return fmt.Errorf("expected a key")
	}
	key, err := decodeArg(cctx, cctx.Args().First())
	if err != nil {
		return err
	}
	return commitUpdates(cctx, []mpt.Update{mpt.Remove(key)})
}

func runGet(cctx *cli.Context) error {
	ctx := cctx.Context
	if cctx.Args().Len() != 1 {
		return fmt.Errorf("expected a key")
	}
	key, err := decodeArg(cctx, cctx.Args().First())
	if err != nil {
		return err
	}
	s, err := openSession(cctx)
	if err != nil {
		return err
	}
	defer s.Close()

	version, err := s.readVersion(ctx, cctx)
	if err != nil {
		return err
	}
	val, found, err := s.trie.GetAt(ctx, key, version)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("key not found at version %d", version)
	}
	fmt.Println(encodeOut(cctx, val))
	return nil
}

type updateLine struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// readUpdates parses JSON lines into updates. Blank lines are skipped.
func readUpdates(cctx *cli.Context, r io.Reader) ([]mpt.Update, error) {
	var out []mpt.Update
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ul updateLine
		if err := json.Unmarshal([]byte(text), &ul); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		key, err := decodeArg(cctx, ul.Key)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		val, err := decodeArg(cctx, ul.Value)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, mpt.Update{Key: key, Value: val})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func runCommit(cctx *cli.Context) error {
	var r io.Reader = os.Stdin
	if p := cctx.Args().First(); p != "" && p != "-" {
		fi, err := os.Open(p)
		if err != nil {
			return err
		}
		defer fi.Close()
		r = fi
	}
	updates, err := readUpdates(cctx, r)
	if err != nil {
		return err
	}
	return commitUpdates(cctx, updates)
}
