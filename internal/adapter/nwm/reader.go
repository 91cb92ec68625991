// Package nwm reads National Water Model channel-routing extracts from a
// local directory.
//
// Each reference time is one CSV file at
// <dir>/<configuration>/<reference_time>.csv, optionally gzip compressed
// (.csv.gz), with at least the columns usgs_site_code, value_time and value
// (m³/s). Rows without a gauge code are kept; filtering happens during
// normalization.
package nwm

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/flood-skill-eval/internal/domain"
)

// Accepted value_time layouts.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

var requiredColumns = []string{"usgs_site_code", "value_time", "value"}

// Reader implements domain.SimulationSource over a directory of extracts.
type Reader struct {
	dir           string
	configuration string
	logger        *slog.Logger
}

// NewReader creates a Reader for one model configuration
// (e.g. analysis_assim_extend_no_da).
func NewReader(dir, configuration string, logger *slog.Logger) *Reader {
	return &Reader{dir: dir, configuration: configuration, logger: logger}
}

// FetchSimulation reads the extract for referenceTime. A missing extract
// returns an error wrapping domain.ErrReferenceTimeUnavailable.
func (r *Reader) FetchSimulation(ctx context.Context, referenceTime string) ([]domain.RawValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := time.Parse(domain.ReferenceTimeLayout, referenceTime); err != nil {
		return nil, fmt.Errorf("invalid reference time %q: %w", referenceTime, err)
	}

	rc, path, err := r.open(referenceTime)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rows, dropped, err := decode(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if dropped > 0 {
		r.logger.Debug("dropped nwm rows with unparseable value_time", "path", path, "dropped", dropped)
	}
	r.logger.Debug("nwm extract read", "path", path, "rows", len(rows))
	return rows, nil
}

func (r *Reader) open(referenceTime string) (io.ReadCloser, string, error) {
	base := filepath.Join(r.dir, r.configuration, referenceTime)

	path := base + ".csv"
	f, err := os.Open(path)
	if err == nil {
		return f, path, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, path, fmt.Errorf("open %s: %w", path, err)
	}

	path = base + ".csv.gz"
	f, err = os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, path, fmt.Errorf("%w: no extract for %s in %s", domain.ErrReferenceTimeUnavailable, referenceTime, filepath.Dir(base))
	}
	if err != nil {
		return nil, path, fmt.Errorf("open %s: %w", path, err)
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, path, fmt.Errorf("open gzip %s: %w", path, err)
	}
	return gzipFile{Reader: zr, file: f}, path, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

// decode reads extract rows. Rows whose value_time cannot be parsed are
// skipped and counted in dropped.
func decode(r io.Reader) (rows []domain.RawValue, dropped int, err error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	cols := make([]int, len(requiredColumns))
	for i, name := range requiredColumns {
		j, ok := idx[name]
		if !ok {
			return nil, 0, fmt.Errorf("missing column %q", name)
		}
		cols[i] = j
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, dropped, nil
		}
		if err != nil {
			return nil, dropped, fmt.Errorf("line %d: %w", line, err)
		}
		at, ok := parseTime(rec[cols[1]])
		if !ok {
			dropped++
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[2]]), 64)
		if err != nil {
			value = math.NaN()
		}
		rows = append(rows, domain.RawValue{
			SiteID:    strings.TrimSpace(rec[cols[0]]),
			Timestamp: at,
			Value:     value,
		})
	}
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
