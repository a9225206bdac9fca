package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bluesky-social/vds/mpt/proof"

	"github.com/urfave/cli/v2"
)

var formatFlag = &cli.StringFlag{
	Name:  "format",
	Usage: "proof format: mpf, classic or json",
	Value: string(proof.FormatMPF),
}

var cmdProof = &cli.Command{
	Name:      "proof",
	Usage:     "prove a key's presence or absence in a committed version",
	ArgsUsage: `<key>`,
	Flags:     []cli.Flag{hexFlag, versionFlag, formatFlag},
	Action:    runProof,
}

var cmdVerify = &cli.Command{
	Name:      "verify",
	Usage:     "check a proof against a root, without opening a store",
	ArgsUsage: `<root> <key> [<value>]`,
	Description: "Reads the proof from --proof or stdin: hex for mpf and classic, the document itself for json.\n" +
		"Without --exclude a value is required and the proof must show the key holds it.",
	Flags: []cli.Flag{
		hexFlag,
		formatFlag,
		&cli.BoolFlag{
			Name:  "exclude",
			Usage: "check that the key is absent",
		},
		&cli.StringFlag{
			Name:  "proof",
			Usage: "file holding the proof (default: stdin)",
		},
	},
	Action: runVerify,
}

func runProof(cctx *cli.Context) error {
	ctx := cctx.Context
	if cctx.Args().Len() != 1 {
		return fmt.Errorf("expected a key")
	}
	format, err := proof.ParseFormat(cctx.String("format"))
	if err != nil {
		return err
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
	wire, ok, err := s.trie.ProofWire(ctx, key, version, format)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("version %d is empty; every key is trivially absent", version)
	}
	root, err := s.trie.RootAt(ctx, version)
	if err != nil {
		return err
	}
	s.log.Debug("proof generated", "version", version, "root", hex.EncodeToString(root), "format", format, "bytes", len(wire))

	if format == proof.FormatJSON {
		fmt.Println(string(wire))
		return nil
	}
	fmt.Println(hex.EncodeToString(wire))
	return nil
}

func readProof(cctx *cli.Context, format proof.Format) ([]byte, error) {
	var r io.Reader = os.Stdin
	if p := cctx.String("proof"); p != "" {
		fi, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer fi.Close()
		r = fi
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == proof.FormatJSON {
		return raw, nil
	}
	wire, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding hex proof: %w", err)
	}
	return wire, nil
}

func runVerify(cctx *cli.Context) error {
	args := cctx.Args()
	exclude := cctx.Bool("exclude")
	if exclude && args.Len() != 2 || !exclude && args.Len() != 3 {
		return fmt.Errorf("expected a root, a key and (unless --exclude) a value")
	}
	format, err := proof.ParseFormat(cctx.String("format"))
	if err != nil {
		return err
	}
	cfg, err := configFromCLI(cctx)
	if err != nil {
		return err
	}
	scheme, km, err := cfg.Commitment()
	if err != nil {
		return err
	}

	root, err := hex.DecodeString(strings.TrimPrefix(args.Get(0), "0x"))
	if err != nil {
		return fmt.Errorf("decoding root: %w", err)
	}
	key, err := decodeArg(cctx, args.Get(1))
	if err != nil {
		return err
	}
	var value []byte
	if !exclude {
		if value, err = decodeArg(cctx, args.Get(2)); err != nil {
			return err
		}
	}
	wire, err := readProof(cctx, format)
	if err != nil {
		return err
	}

	err = proof.CheckWire(format, scheme, km, root, key, value, !exclude, wire)
	switch {
	case err == nil:
		fmt.Println("ok")
		return nil
	case errors.Is(err, proof.ErrInvalidProof):
		return cli.Exit("proof does not hold", 1)
	default:
		return err
	}
}
