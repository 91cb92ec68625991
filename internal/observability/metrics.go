package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flood_eval"

// Metrics holds the Prometheus counters, histograms, and gauges for the evaluation pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge

	// Cache metrics.
	CacheLookups *prometheus.CounterVec // labels: key, result={hit,miss}

	// Stage metrics.
	StageDuration *prometheus.HistogramVec // labels: stage
	StageRecords  *prometheus.GaugeVec     // labels: stage

	// Source adapter metrics.
	AdapterRequests *prometheus.CounterVec // labels: source={nwm,nwis_site,nwis_peak,nwis_iv,svi}, outcome={success,error,unavailable}

	// Results.
	EvaluationSites    prometheus.Gauge
	EvaluationCounties prometheus.Gauge
	ResultsPublished   prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while an evaluation is running, 0 otherwise.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by stage key and result.",
		}, []string{"key", "result"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage, including cache hits.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		StageRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_records",
			Help:      "Rows produced by the most recent run of each stage.",
		}, []string{"stage"}),
		AdapterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_requests_total",
			Help:      "Source adapter requests by source and outcome.",
		}, []string{"source", "outcome"}),
		EvaluationSites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_sites",
			Help:      "Sites with a contingency table in the latest evaluation.",
		}),
		EvaluationCounties: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_counties",
			Help:      "Counties scored in the latest evaluation.",
		}),
		ResultsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_published_total",
			Help:      "Result messages written to the results topic.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRunning,
		m.CacheLookups,
		m.StageDuration,
		m.StageRecords,
		m.AdapterRequests,
		m.EvaluationSites,
		m.EvaluationCounties,
		m.ResultsPublished,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
