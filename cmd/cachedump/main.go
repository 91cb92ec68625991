// Command cachedump inspects an evaluation cache. Without -key it lists the
// cached stages with their row counts; with -key it writes that stage's rows
// as CSV, to stdout or to -out.
//
// Usage:
//
//	go run ./cmd/cachedump
//	go run ./cmd/cachedump -key pairs -out pairs.csv
//	go run ./cmd/cachedump -drop sim
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-skill-eval/internal/cache"
	"github.com/couchcryptid/flood-skill-eval/internal/config"
	"github.com/couchcryptid/flood-skill-eval/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cachedump: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	key := flag.String("key", "", "stage key to export as CSV")
	out := flag.String("out", "", "output path for the CSV export (default stdout)")
	drop := flag.String("drop", "", "stage key to delete so that the next run recomputes it")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	backend, err := cache.Open(ctx, cache.Options{
		Backend:       cfg.CacheBackend,
		Path:          cfg.CachePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisPrefix:   cache.DefaultRedisPrefix,
		DatabaseURL:   cfg.CacheDatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer backend.Close()

	switch {
	case *drop != "":
		return dropStage(ctx, backend, *drop, logger)
	case *key == "":
		return list(ctx, backend, os.Stdout)
	}
	if err := checkStageKey(*key); err != nil {
		return err
	}

	t, ok, err := backend.Load(ctx, *key)
	if err != nil {
		return fmt.Errorf("load %s: %w", *key, err)
	}
	if !ok {
		return fmt.Errorf("no cache entry for %q", *key)
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}
	if err := writeCSV(w, t); err != nil {
		return fmt.Errorf("export %s: %w", *key, err)
	}
	if *out != "" {
		logger.Info("stage exported", "key", *key, "rows", t.Len(), "path", *out)
	}
	return nil
}

// checkStageKey rejects keys the evaluation never writes.
func checkStageKey(key string) error {
	if !slices.Contains(cache.StageKeys, key) {
		return fmt.Errorf("unknown stage %q (want one of %s)", key, strings.Join(cache.StageKeys, ", "))
	}
	return nil
}

// dropStage deletes one stage so the next evaluation recomputes it.
func dropStage(ctx context.Context, b cache.Backend, key string, logger *slog.Logger) error {
	if err := checkStageKey(key); err != nil {
		return err
	}
	if err := b.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	logger.Info("stage deleted", "key", key)
	return nil
}

// list prints every cached stage key with its row count.
func list(ctx context.Context, b cache.Backend, w io.Writer) error {
	keys, err := b.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(w, "cache is empty")
		return nil
	}
	for _, k := range keys {
		t, ok, err := b.Load(ctx, k)
		if err != nil {
			return fmt.Errorf("load %s: %w", k, err)
		}
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%-14s %8d rows  %d columns\n", k, t.Len(), len(t.Fields))
	}
	return nil
}

// writeCSV writes a header of field names followed by one line per row. Null
// cells are empty.
func writeCSV(w io.Writer, t *cache.Table) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		header[i] = f.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(t.Fields))
	for _, row := range t.Rows {
		for i, cell := range row {
			record[i] = formatCell(cell)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
