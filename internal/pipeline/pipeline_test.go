package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-skill-eval/internal/cache"
	"github.com/couchcryptid/flood-skill-eval/internal/domain"
	"github.com/couchcryptid/flood-skill-eval/internal/observability"
	"github.com/couchcryptid/flood-skill-eval/internal/pipeline"
)

const (
	gagedSite   = "01646500"
	unknownSite = "01234567"
)

var (
	evalDay  = time.Date(2021, time.August, 26, 0, 0, 0, 0, time.UTC)
	runHour  = time.Date(2021, time.August, 26, 16, 0, 0, 0, time.UTC)
	evalTime = time.Date(2021, time.September, 7, 12, 0, 0, 0, time.UTC)
)

// --- fakes ---

type fakeSources struct {
	mu    sync.Mutex
	calls map[string]int

	simErr   map[string]error
	sitesErr error
}

func newFakeSources() *fakeSources {
	return &fakeSources{calls: make(map[string]int), simErr: make(map[string]error)}
}

func (f *fakeSources) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeSources) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeSources) FetchSimulation(_ context.Context, rt string) ([]domain.RawValue, error) {
	f.count("sim")
	if err := f.simErr[rt]; err != nil {
		return nil, err
	}
	if rt != "20210826T16Z" {
		return nil, domain.ErrReferenceTimeUnavailable
	}
	// Values in cubic meters per second.
	return []domain.RawValue{
		{SiteID: gagedSite, Timestamp: runHour, Value: 3.0},
		{SiteID: gagedSite, Timestamp: runHour.Add(time.Hour), Value: 1.0},
		{SiteID: gagedSite, Timestamp: runHour.Add(2 * time.Hour), Value: 2.83},
		{SiteID: unknownSite, Timestamp: runHour, Value: 1.0},
		{SiteID: "LAKE01", Timestamp: runHour, Value: 9.0},
	}, nil
}

func (f *fakeSources) FetchSites(_ context.Context, ids []string) ([]domain.RawSite, error) {
	f.count("sites")
	if f.sitesErr != nil {
		return nil, f.sitesErr
	}
	var out []domain.RawSite
	if slices.Contains(ids, gagedSite) {
		out = append(out, domain.RawSite{SiteID: gagedSite, StateCode: "24", CountyCode: "031"})
	}
	return out, nil
}

func (f *fakeSources) FetchPeaks(_ context.Context, ids []string) ([]domain.RawPeak, error) {
	f.count("peaks")
	if !slices.Contains(ids, gagedSite) {
		return nil, nil
	}
	return []domain.RawPeak{
		{SiteID: gagedSite, PeakDate: "2011-09-08", PeakValue: "50"},
		{SiteID: gagedSite, PeakDate: "2012-05-01", PeakValue: "80"},
		{SiteID: gagedSite, PeakDate: "2013-06-02", PeakValue: "100"},
		{SiteID: gagedSite, PeakDate: "2014-07-03", PeakValue: "120"},
		{SiteID: gagedSite, PeakDate: "2015-08-04", PeakValue: "150"},
		{SiteID: gagedSite, PeakDate: "1936-03-00", PeakValue: "9999"},
	}, nil
}

func (f *fakeSources) FetchObservations(_ context.Context, ids []string, _, _ time.Time) ([]domain.RawValue, error) {
	f.count("obs")
	var out []domain.RawValue
	if slices.Contains(ids, gagedSite) {
		out = append(out,
			domain.RawValue{SiteID: gagedSite, Timestamp: runHour, Value: 90},
			domain.RawValue{SiteID: gagedSite, Timestamp: runHour.Add(15 * time.Minute), Value: 95},
			domain.RawValue{SiteID: gagedSite, Timestamp: runHour.Add(time.Hour), Value: 10},
			domain.RawValue{SiteID: gagedSite, Timestamp: runHour.Add(2 * time.Hour), Value: 50},
		)
	}
	if slices.Contains(ids, unknownSite) {
		out = append(out, domain.RawValue{SiteID: unknownSite, Timestamp: runHour, Value: 5})
	}
	return out, nil
}

func (f *fakeSources) FetchVulnerability(_ context.Context, region, _, _ string) ([]domain.RawVulnerability, error) {
	f.count("svi")
	if region != "MD" {
		return nil, nil
	}
	return []domain.RawVulnerability{
		{FIPS: "24031", Rank: 0.4, Value: 0.4, Theme: "svi"},
		{FIPS: "24031", Rank: 0.2, Value: 3.1, Theme: "socioeconomic"},
		{FIPS: "24033", Rank: 0.9, Value: 0.9, Theme: "svi"},
		{FIPS: "24035", Rank: -999, Value: -999, Theme: "svi"},
	}, nil
}

func (f *fakeSources) sources() pipeline.Sources {
	return pipeline.Sources{
		Simulation:    f,
		Sites:         f,
		Peaks:         f,
		Observations:  f,
		Vulnerability: f,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() pipeline.Options {
	return pipeline.Options{
		Start:             evalDay,
		End:               evalDay.AddDate(0, 0, 1),
		ReferenceHour:     16,
		Partitions:        4,
		SiteChunkSize:     100,
		ThresholdQuantile: domain.DefaultThresholdQuantile,
		SVIScale:          "county",
		SVIYear:           "2018",
	}
}

func newEvaluator(t *testing.T, path string, src *fakeSources, metrics *observability.Metrics) *pipeline.Evaluator {
	t.Helper()
	backend, err := cache.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	store := cache.NewMemo(backend, discardLogger(), metrics)
	clock := clockwork.NewFakeClockAt(evalTime)
	return pipeline.New(store, src.sources(), testOptions(), discardLogger(), metrics, clock)
}

func ptr(v float64) *float64 { return &v }

// --- tests ---

func TestEvaluator_Run_ComputesScores(t *testing.T) {
	src := newFakeSources()
	metrics := observability.NewMetricsForTesting()
	e := newEvaluator(t, filepath.Join(t.TempDir(), "local_data.db"), src, metrics)

	ev, err := e.Run(context.Background())
	require.NoError(t, err)

	// Hour 16: sim 105.9 / obs 90 both exceed 86.64 -> TP.
	// Hour 17: sim 35.3 / obs 10 -> TN. Hour 18: sim 99.9 / obs 50 -> FP.
	wantSites := []domain.ContingencyTable{{
		SiteID:        gagedSite,
		TruePositive:  1,
		FalsePositive: 1,
		TrueNegative:  1,
		POD:           ptr(1.0),
		POFA:          ptr(0.5),
		TS:            ptr(0.5),
	}}
	if diff := cmp.Diff(wantSites, ev.Sites); diff != "" {
		t.Errorf("sites mismatch (-want +got):\n%s", diff)
	}

	wantCounties := []domain.CountyScore{{
		FIPS:              "24031",
		StateAbbreviation: "MD",
		Sites:             1,
		VulnerabilityRank: 0.4,
		POD:               ptr(1.0),
		POFA:              ptr(0.5),
		TS:                ptr(0.5),
	}}
	if diff := cmp.Diff(wantCounties, ev.Counties); diff != "" {
		t.Errorf("counties mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []float64{0.4}, ev.Coverage.GagedSiteRanks)
	assert.Equal(t, []float64{0.9}, ev.Coverage.UngagedCountyRanks)
	assert.Equal(t, 1, ev.Coverage.GagedCounties)
	assert.Equal(t, 1, ev.Coverage.UngagedCounties)
	assert.Equal(t, evalTime, ev.EvaluatedAt)

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.AdapterRequests.WithLabelValues("nwm", "success")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.AdapterRequests.WithLabelValues("nwm", "unavailable")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.EvaluationSites), 1e-9)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning), 1e-9)
}

func TestEvaluator_Run_RetriesMissingSitesOnce(t *testing.T) {
	src := newFakeSources()
	e := newEvaluator(t, filepath.Join(t.TempDir(), "local_data.db"), src, observability.NewMetricsForTesting())

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	// One batch plus one single-site request for the site without metadata.
	assert.Equal(t, 2, src.calls["sites"])
	assert.Equal(t, 2, src.calls["peaks"])
	assert.Equal(t, 1, src.calls["obs"])
	assert.Equal(t, 2, src.calls["sim"])
	assert.Equal(t, 1, src.calls["svi"], "only states present in site metadata are requested")
}

func TestEvaluator_Run_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local_data.db")

	first := newFakeSources()
	e1 := newEvaluator(t, path, first, observability.NewMetricsForTesting())
	want, err := e1.Run(context.Background())
	require.NoError(t, err)
	require.Positive(t, first.total())

	second := newFakeSources()
	metrics := observability.NewMetricsForTesting()
	e2 := newEvaluator(t, path, second, metrics)
	got, err := e2.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, second.total(), "a populated cache must not touch any source")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("evaluation mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues(cache.KeyPairs, "hit")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues(cache.KeyEvaluation, "hit")), 1e-9)
}

func TestEvaluator_Run_SkipsFailedReferenceTime(t *testing.T) {
	src := newFakeSources()
	src.simErr["20210826T16Z"] = errors.New("connection reset")
	metrics := observability.NewMetricsForTesting()
	e := newEvaluator(t, filepath.Join(t.TempDir(), "local_data.db"), src, metrics)

	ev, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, ev.Sites)
	assert.Empty(t, ev.Counties)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.AdapterRequests.WithLabelValues("nwm", "error")), 1e-9)
}

func TestEvaluator_Run_SiteFailureLeavesContextNull(t *testing.T) {
	src := newFakeSources()
	src.sitesErr = errors.New("503 service unavailable")
	e := newEvaluator(t, filepath.Join(t.TempDir(), "local_data.db"), src, observability.NewMetricsForTesting())

	ev, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, ev.Sites, 1, "pairs survive without county context")
	assert.Empty(t, ev.Counties)
	assert.Zero(t, src.calls["svi"])
}

func TestEvaluator_Run_CanceledContext(t *testing.T) {
	src := newFakeSources()
	path := filepath.Join(t.TempDir(), "local_data.db")
	e := newEvaluator(t, path, src, observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Error(t, e.CheckReadiness(context.Background()))

	backend, err := cache.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()
	keys, err := backend.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys, "a failed stage writes nothing")
}

func TestEvaluator_Readiness(t *testing.T) {
	src := newFakeSources()
	e := newEvaluator(t, filepath.Join(t.TempDir(), "local_data.db"), src, observability.NewMetricsForTesting())

	require.Error(t, e.CheckReadiness(context.Background()))
	_, ok := e.Latest()
	assert.False(t, ok)

	ev, err := e.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.CheckReadiness(context.Background()))
	latest, ok := e.Latest()
	require.True(t, ok)
	assert.Same(t, ev, latest)
}

func TestPairsTable_PreservesNulls(t *testing.T) {
	pairs := []domain.PairedRecord{
		{SiteID: gagedSite, Timestamp: runHour, Simulated: 1, Observed: 2, FIPS: "24031", StateAbbreviation: "MD", VulnerabilityRank: ptr(0.4)},
		{SiteID: unknownSite, Timestamp: runHour, Simulated: 3, Observed: 4},
	}

	got, err := pipeline.PairsFromTable(pipeline.PairsTable(pairs))
	require.NoError(t, err)
	if diff := cmp.Diff(pairs, got); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestContingencyFromTable_SchemaMismatch(t *testing.T) {
	tbl := cache.NewTable(cache.Field{Name: "site_id", Type: cache.FieldString})
	_, err := pipeline.ContingencyFromTable(tbl)
	assert.ErrorIs(t, err, cache.ErrSchemaMismatch)
}
