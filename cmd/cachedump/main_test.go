package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-skill-eval/internal/cache"
)

func testTable() *cache.Table {
	t := cache.NewTable(
		cache.Field{Name: "site_id", Type: cache.FieldString},
		cache.Field{Name: "value_time", Type: cache.FieldTime},
		cache.Field{Name: "svi", Type: cache.FieldFloat},
		cache.Field{Name: "true_positive", Type: cache.FieldInt},
	)
	t.Append("01646500", time.Date(2021, 8, 26, 16, 0, 0, 0, time.UTC), 0.4, int64(3))
	t.Append("01638500", time.Date(2021, 8, 26, 17, 0, 0, 0, time.UTC), nil, int64(0))
	return t
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, testTable()))

	want := "site_id,value_time,svi,true_positive\n" +
		"01646500,2021-08-26T16:00:00Z,0.4,3\n" +
		"01638500,2021-08-26T17:00:00Z,,0\n"
	assert.Equal(t, want, buf.String())
}

func TestList(t *testing.T) {
	ctx := context.Background()
	b, err := cache.OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer b.Close()

	var buf bytes.Buffer
	require.NoError(t, list(ctx, b, &buf))
	assert.Equal(t, "cache is empty\n", buf.String())

	require.NoError(t, b.Save(ctx, cache.KeyPairs, testTable()))
	buf.Reset()
	require.NoError(t, list(ctx, b, &buf))
	assert.Contains(t, buf.String(), "pairs")
	assert.Contains(t, buf.String(), "2 rows")
}

func TestDropStage(t *testing.T) {
	ctx := context.Background()
	b, err := cache.OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer b.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, b.Save(ctx, cache.KeyPairs, testTable()))
	require.NoError(t, b.Save(ctx, cache.KeySim, testTable()))

	err = dropStage(ctx, b, "entries", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")

	require.NoError(t, dropStage(ctx, b, cache.KeySim, logger))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{cache.KeyPairs}, keys)
}
