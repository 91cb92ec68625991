package cache

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/couchcryptid/flood-skill-eval/internal/observability"
)

// Stage keys. Each names one durable dataset of an evaluation.
const (
	KeySim         = "sim"
	KeySiteData    = "site_data"
	KeyAnnualPeaks = "annual_peaks"
	KeyObs         = "obs"
	KeySVI         = "svi"
	KeyPairs       = "pairs"
	KeyEvaluation  = "evaluation"
)

// StageKeys lists the stage keys in pipeline order.
var StageKeys = []string{KeySim, KeySiteData, KeyAnnualPeaks, KeyObs, KeySVI, KeyPairs, KeyEvaluation}

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func checkKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("cache: invalid key %q", key)
	}
	return nil
}

// ComputeFunc produces the table for a key on a cache miss.
type ComputeFunc func(ctx context.Context) (*Table, error)

// Store returns the persisted table for a key, computing and persisting it
// when absent.
type Store interface {
	GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*Table, error)
}

// Backend is durable keyed table storage. Load reports ok=false for an absent
// key. Save replaces the entry for key atomically.
type Backend interface {
	Load(ctx context.Context, key string) (*Table, bool, error)
	Save(ctx context.Context, key string, t *Table) error
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Memo implements Store on top of a Backend.
type Memo struct {
	backend Backend
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewMemo creates a Store that memoizes computed tables in backend.
func NewMemo(backend Backend, logger *slog.Logger, metrics *observability.Metrics) *Memo {
	return &Memo{backend: backend, logger: logger, metrics: metrics}
}

// GetOrCompute returns the stored table for key on a hit. On a miss it runs
// compute, persists the result and returns it. A failed compute writes
// nothing.
func (m *Memo) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*Table, error) {
	t, ok, err := m.backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if ok {
		m.metrics.CacheLookups.WithLabelValues(key, "hit").Inc()
		m.logger.Debug("cache hit", "key", key, "rows", t.Len())
		return t, nil
	}
	m.metrics.CacheLookups.WithLabelValues(key, "miss").Inc()
	m.logger.Info("cache miss, computing", "key", key)

	t, err = compute(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute %s: %w", key, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("compute %s: %w", key, err)
	}
	if err := m.backend.Save(ctx, key, t); err != nil {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	m.logger.Info("cache entry written", "key", key, "rows", t.Len())
	return t, nil
}
