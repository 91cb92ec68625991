package nwm

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-skill-eval/internal/domain"
)

const (
	testConfiguration = "analysis_assim_extend_no_da"
	testReference     = "20210826T16Z"
)

const extract = `nwm_feature_id,usgs_site_code,reference_time,value_time,value,measurement_unit
4512772,01646500,2021-08-26 16:00:00,2021-08-25 20:00:00,3.0,m3 s-1
4512772,01646500,2021-08-26 16:00:00,2021-08-25 21:00:00,,m3 s-1
166176984,,2021-08-26 16:00:00,2021-08-25 20:00:00,0.5,m3 s-1
`

func writeExtract(t *testing.T, dir, name, content string, compress bool) {
	t.Helper()
	path := filepath.Join(dir, testConfiguration, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var w io.Writer = f
	if compress {
		zw := gzip.NewWriter(f)
		defer func() { require.NoError(t, zw.Close()) }()
		w = zw
	}
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
}

func testReader(dir string) *Reader {
	return NewReader(dir, testConfiguration, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReader_FetchSimulation(t *testing.T) {
	dir := t.TempDir()
	writeExtract(t, dir, testReference+".csv", extract, false)

	rows, err := testReader(dir).FetchSimulation(context.Background(), testReference)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, domain.RawValue{
		SiteID:    "01646500",
		Timestamp: time.Date(2021, 8, 25, 20, 0, 0, 0, time.UTC),
		Value:     3.0,
	}, rows[0])
	assert.True(t, math.IsNaN(rows[1].Value), "empty value decodes as NaN")
	assert.Empty(t, rows[2].SiteID)
}

func TestReader_FetchSimulation_Gzip(t *testing.T) {
	dir := t.TempDir()
	writeExtract(t, dir, testReference+".csv.gz", extract, true)

	rows, err := testReader(dir).FetchSimulation(context.Background(), testReference)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReader_FetchSimulation_Missing(t *testing.T) {
	_, err := testReader(t.TempDir()).FetchSimulation(context.Background(), testReference)
	require.ErrorIs(t, err, domain.ErrReferenceTimeUnavailable)
}

func TestReader_FetchSimulation_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing column", "usgs_site_code,value\n01646500,1.0\n"},
		{"empty file", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeExtract(t, dir, testReference+".csv", tt.content, false)

			_, err := testReader(dir).FetchSimulation(context.Background(), testReference)
			require.Error(t, err)
			assert.NotErrorIs(t, err, domain.ErrReferenceTimeUnavailable)
		})
	}
}

func TestReader_FetchSimulation_SkipsUnparseableTimestamps(t *testing.T) {
	dir := t.TempDir()
	writeExtract(t, dir, testReference+".csv", `usgs_site_code,value_time,value
01646500,2021-08-25 20:00:00,3.0
01646500,not-a-date,4.0
01646500,2021-08-25 21:00:00,5.0
`, false)

	rows, err := testReader(dir).FetchSimulation(context.Background(), testReference)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, time.Date(2021, 8, 25, 20, 0, 0, 0, time.UTC), rows[0].Timestamp)
	assert.Equal(t, time.Date(2021, 8, 25, 21, 0, 0, 0, time.UTC), rows[1].Timestamp)
	assert.InDelta(t, 5.0, rows[1].Value, 1e-12)
}

func TestReader_FetchSimulation_InvalidReferenceTime(t *testing.T) {
	_, err := testReader(t.TempDir()).FetchSimulation(context.Background(), "2021-08-26")
	require.Error(t, err)
}
