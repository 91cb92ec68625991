// Command validate checks the integrity of a populated evaluation cache. It
// verifies the paired records, recomputes every site's contingency table from
// the cached pairs and annual peaks on a single partition, and compares the
// result with the cached evaluation.
//
// Cache settings come from the same environment variables as cmd/evaluate.
//
// Usage:
//
//	go run ./cmd/validate [-quantile 0.333]
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/couchcryptid/flood-skill-eval/internal/cache"
	"github.com/couchcryptid/flood-skill-eval/internal/config"
	"github.com/couchcryptid/flood-skill-eval/internal/domain"
	"github.com/couchcryptid/flood-skill-eval/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxReported caps the errors printed per phase.
const maxReported = 20

func main() {
	quantile := flag.Float64("quantile", domain.DefaultThresholdQuantile, "flood threshold quantile used by the evaluation")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	if code := run(cfg, *quantile); code != 0 {
		os.Exit(code)
	}
}

func run(cfg *config.Config, quantile float64) int {
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
		fmt.Fprintf(os.Stderr, "FATAL: open cache: %v\n", err)
		return 1
	}
	defer backend.Close()

	fmt.Println("=== Flood Skill Cache Validation ===")
	fmt.Println()

	pairs, err := load(ctx, backend, cache.KeyPairs, pipeline.PairsFromTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	rawPeaks, err := load(ctx, backend, cache.KeyAnnualPeaks, pipeline.RawPeaksFromTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	tables, err := load(ctx, backend, cache.KeyEvaluation, pipeline.ContingencyFromTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validatePairs(pairs),
		validateScores(tables, pairs),
		validateRecomputation(ctx, tables, pairs, domain.CleanPeaks(rawPeaks), quantile),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d pairs, %d annual peaks, %d site tables\n", len(pairs), len(rawPeaks), len(tables))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxReported {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxReported)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func load[T any](ctx context.Context, b cache.Backend, key string, decode func(*cache.Table) ([]T, error)) ([]T, error) {
	t, ok, err := b.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("cache has no %q entry; run cmd/evaluate first", key)
	}
	rows, err := decode(t)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return rows, nil
}

// ── Phase 1: Paired records ──

func validatePairs(pairs []domain.PairedRecord) *phase {
	p := &phase{name: "Phase 1: Paired records"}

	type key struct {
		site string
		at   int64
	}
	seen := make(map[key]struct{}, len(pairs))
	for i, r := range pairs {
		if !domain.IsGaugeID(r.SiteID) {
			p.errorf("pair %d: site id %q is not a gauge id", i, r.SiteID)
		}
		if !r.Timestamp.Equal(r.Timestamp.Truncate(time.Hour)) {
			p.errorf("pair %d (%s): timestamp %s is not on the hour", i, r.SiteID, r.Timestamp.Format(time.RFC3339))
		}
		if math.IsNaN(r.Simulated) || r.Simulated < 0 || math.IsNaN(r.Observed) || r.Observed < 0 {
			p.errorf("pair %d (%s): invalid flow sim=%v obs=%v", i, r.SiteID, r.Simulated, r.Observed)
		}
		if r.FIPS != "" && len(r.FIPS) != 5 {
			p.errorf("pair %d (%s): malformed FIPS %q", i, r.SiteID, r.FIPS)
		}
		if r.VulnerabilityRank != nil && r.FIPS == "" {
			p.errorf("pair %d (%s): vulnerability rank without FIPS", i, r.SiteID)
		}
		k := key{site: r.SiteID, at: r.Timestamp.UnixNano()}
		if _, dup := seen[k]; dup {
			p.errorf("pair %d: duplicate (%s, %s)", i, r.SiteID, r.Timestamp.Format(time.RFC3339))
		}
		seen[k] = struct{}{}
	}
	return p
}

// ── Phase 2: Contingency scores ──

func validateScores(tables []domain.ContingencyTable, pairs []domain.PairedRecord) *phase {
	p := &phase{name: "Phase 2: Contingency scores"}

	pairCounts := make(map[string]int64)
	for _, r := range pairs {
		pairCounts[r.SiteID]++
	}

	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if _, dup := seen[t.SiteID]; dup {
			p.errorf("%s: more than one contingency table", t.SiteID)
		}
		seen[t.SiteID] = struct{}{}

		if t.TruePositive < 0 || t.FalsePositive < 0 || t.FalseNegative < 0 || t.TrueNegative < 0 {
			p.errorf("%s: negative count in %+v", t.SiteID, t)
		}
		n, ok := pairCounts[t.SiteID]
		if !ok {
			p.errorf("%s: scored but has no paired records", t.SiteID)
		} else if t.Total() != n {
			p.errorf("%s: counts sum to %d, site has %d pairs", t.SiteID, t.Total(), n)
		}
		if diff := cmp.Diff(t.WithScores(), t); diff != "" {
			p.errorf("%s: scores do not match counts (-want +got):\n%s", t.SiteID, diff)
		}
	}
	return p
}

// ── Phase 3: Recomputation ──
// The cached tables must equal a single-partition recomputation.

func validateRecomputation(ctx context.Context, tables []domain.ContingencyTable, pairs []domain.PairedRecord, peaks []domain.Peak, quantile float64) *phase {
	p := &phase{name: "Phase 3: Single-partition recomputation"}

	labeled := domain.Classify(pairs, domain.ComputeThresholds(peaks, quantile))
	want, err := domain.ComputeContingency(ctx, labeled, 1)
	if err != nil {
		p.errorf("recompute: %v", err)
		return p
	}
	if diff := cmp.Diff(want, tables); diff != "" {
		p.errorf("cached evaluation differs from recomputation (-want +got):\n%s", diff)
	}
	return p
}
