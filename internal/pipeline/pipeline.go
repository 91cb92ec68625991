package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-skill-eval/internal/cache"
	"github.com/couchcryptid/flood-skill-eval/internal/domain"
	"github.com/couchcryptid/flood-skill-eval/internal/observability"
)

// Sources bundles the provider adapters used on cache misses.
type Sources struct {
	Simulation    domain.SimulationSource
	Sites         domain.SiteSource
	Peaks         domain.PeakSource
	Observations  domain.ObservationSource
	Vulnerability domain.VulnerabilitySource
}

// Options controls the evaluation window and computation parameters.
type Options struct {
	Start             time.Time
	End               time.Time
	ReferenceHour     int
	Partitions        int
	SiteChunkSize     int
	ThresholdQuantile float64
	SVIScale          string
	SVIYear           string
}

// Evaluator runs the cached evaluation pipeline: simulation and observation
// retrieval, pairing, threshold classification and contingency scoring.
type Evaluator struct {
	store   cache.Store
	sources Sources
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool
	latest  atomic.Pointer[domain.Evaluation]
}

// New creates an Evaluator. A nil clock uses the real clock.
func New(store cache.Store, sources Sources, opts Options, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Evaluator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Partitions <= 0 {
		opts.Partitions = domain.DefaultPartitions
	}
	if opts.ThresholdQuantile == 0 {
		opts.ThresholdQuantile = domain.DefaultThresholdQuantile
	}
	return &Evaluator{
		store:   store,
		sources: sources,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
	}
}

// CheckReadiness returns nil once an evaluation has completed, or an error
// describing why the service is not yet ready.
func (e *Evaluator) CheckReadiness(_ context.Context) error {
	if !e.ready.Load() {
		return errors.New("no evaluation has completed yet")
	}
	return nil
}

// Latest returns the most recent completed evaluation.
func (e *Evaluator) Latest() (*domain.Evaluation, bool) {
	ev := e.latest.Load()
	return ev, ev != nil
}

// Run executes every stage, reusing cached stage results, and returns the
// per-site and per-county results. A stage failure aborts the run; stages
// completed before it stay cached.
func (e *Evaluator) Run(ctx context.Context) (*domain.Evaluation, error) {
	start := e.clock.Now()
	e.logger.Info("evaluation started",
		"start", e.opts.Start.Format(time.DateOnly),
		"end", e.opts.End.Format(time.DateOnly),
		"partitions", e.opts.Partitions,
	)
	e.metrics.PipelineRunning.Set(1)
	defer e.metrics.PipelineRunning.Set(0)

	pairs, err := e.pairs(ctx)
	if err != nil {
		return nil, err
	}

	sites, err := e.siteData(ctx, domain.PairedSiteIDs(pairs))
	if err != nil {
		return nil, err
	}
	svi, err := e.vulnerability(ctx, domain.StateAbbreviations(sites))
	if err != nil {
		return nil, err
	}

	tables, err := e.evaluation(ctx, pairs)
	if err != nil {
		return nil, err
	}

	ev := &domain.Evaluation{
		Sites:       tables,
		Counties:    domain.AggregateByCounty(tables, pairs),
		Coverage:    domain.ComputeCoverage(pairs, svi),
		EvaluatedAt: e.clock.Now().UTC(),
	}
	e.latest.Store(ev)
	e.ready.Store(true)
	e.metrics.EvaluationSites.Set(float64(len(ev.Sites)))
	e.metrics.EvaluationCounties.Set(float64(len(ev.Counties)))

	e.logger.Info("evaluation complete",
		"sites", len(ev.Sites),
		"counties", len(ev.Counties),
		"gaged_counties", ev.Coverage.GagedCounties,
		"ungaged_counties", ev.Coverage.UngagedCounties,
		"duration", e.clock.Since(start),
	)
	return ev, nil
}
