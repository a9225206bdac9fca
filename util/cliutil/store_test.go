package cliutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bluesky-social/vds/mpt/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, url := range []string{
		"memory",
		"pebble://" + filepath.Join(dir, "pebble"),
		filepath.Join(dir, "bare"),
		"leveldb://" + filepath.Join(dir, "leveldb"),
		"sqlite://" + filepath.Join(dir, "db", "nodes.sqlite"),
	} {
		t.Run(url, func(t *testing.T) {
			assert := assert.New(t)
			st, err := OpenStore(url, StoreOptions{CacheSize: 16, NoSync: true, DBTracing: IsDatabaseURL(url)})
			require.NoError(t, err)
			defer st.Close()

			b := store.NewBatch()
			b.Put([]byte("k"), []byte("v"))
			require.NoError(t, st.Write(ctx, b))
			v, err := st.Get(ctx, []byte("k"))
			assert.NoError(err)
			assert.Equal([]byte("v"), v)
		})
	}

	_, err := OpenStore("", StoreOptions{})
	assert.Error(t, err)
	_, err = OpenStore("s3://bucket", StoreOptions{})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert := assert.New(t)

	for _, s := range []string{"", "debug", "INFO", "warn", "error"} {
		_, err := ParseLevel(s)
		assert.NoError(err, s)
	}
	_, err := ParseLevel("loud")
	assert.Error(err)
	assert.False(IsDatabaseURL("pebble://x"))
	assert.True(IsDatabaseURL("postgres://u@h/db"))
}
