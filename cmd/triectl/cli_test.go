package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// runCapture runs the tool with args and returns what it printed to stdout.
func runCapture(t *testing.T, args ...string) (string, error) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	out := make(chan string)
	go func() {
		b, _ := io.ReadAll(r)
		out <- string(b)
	}()

	runErr := run(append([]string{"triectl"}, args...))
	w.Close()
	s := <-out
	r.Close()
	return strings.TrimSpace(s), runErr
}

// field pulls name=value out of a commit summary line.
func field(t *testing.T, line, name string) string {
	t.Helper()
	for _, f := range strings.Fields(line) {
		if v, ok := strings.CutPrefix(f, name+"="); ok {
			return v
		}
	}
	t.Fatalf("no %s in %q", name, line)
	return ""
}

func TestPutCommitProofVerify(t *testing.T) {
	assert := assert.New(t)

	// each run opens the store afresh, so it has to live on disk
	dir := t.TempDir()
	global := []string{"--store", "pebble://" + filepath.Join(dir, "nodes"), "--log-level", "error"}

	out, err := runCapture(t, append(global, "put", "apple", "red")...)
	require.NoError(t, err)
	assert.Equal("1", field(t, out, "version"))

	batch := filepath.Join(dir, "batch.jsonl")
	require.NoError(t, os.WriteFile(batch, []byte(
		`{"key": "banana", "value": "yellow"}`+"\n"+
			`{"key": "cherry", "value": "dark"}`+"\n",
	), 0o644))
	out, err = runCapture(t, append(global, "commit", batch)...)
	require.NoError(t, err)
	assert.Equal("2", field(t, out, "version"))
	root := field(t, out, "root")

	out, err = runCapture(t, append(global, "get", "apple")...)
	require.NoError(t, err)
	assert.Equal("red", out)

	wire, err := runCapture(t, append(global, "proof", "banana")...)
	require.NoError(t, err)
	require.NotEmpty(t, wire)
	proofPath := filepath.Join(dir, "banana.proof")
	require.NoError(t, os.WriteFile(proofPath, []byte(wire+"\n"), 0o644))

	out, err = runCapture(t, append(global, "verify", "--proof", proofPath, root, "banana", "yellow")...)
	require.NoError(t, err)
	assert.Equal("ok", out)

	// the same proof must not vouch for another value
	var code int
	origExiter := cli.OsExiter
	cli.OsExiter = func(c int) { code = c }
	defer func() { cli.OsExiter = origExiter }()

	_, err = runCapture(t, append(global, "verify", "--proof", proofPath, root, "banana", "green")...)
	require.Error(t, err)
	assert.Equal(1, code)

	out, err = runCapture(t, append(global, "proof", "durian")...)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(proofPath, []byte(out), 0o644))
	out, err = runCapture(t, append(global, "verify", "--exclude", "--proof", proofPath, root, "durian")...)
	require.NoError(t, err)
	assert.Equal("ok", out)
}
