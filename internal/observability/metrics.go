package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "field_sync"

// Metrics holds the Prometheus counters, histograms, and gauges for the sync service.
type Metrics struct {
	// Endpoint discovery.
	ProbeAttempts    *prometheus.CounterVec // labels: outcome={success,failure}
	EndpointResolved prometheus.Gauge

	// Upstream API.
	UpstreamRequests *prometheus.CounterVec   // labels: operation, outcome={success,error}
	UpstreamDuration *prometheus.HistogramVec // labels: operation
	UpstreamRetries  *prometheus.CounterVec   // labels: category
	StatsCache       *prometheus.CounterVec   // labels: result={hit,miss}

	// Sync orchestration.
	CategorySyncs       *prometheus.CounterVec // labels: category, outcome={succeeded,failed}
	RecordsUpserted     *prometheus.CounterVec // labels: category
	PolygonsCreated     prometheus.Counter
	PolygonSyncDuration prometheus.Histogram
	SyncAllRuns         *prometheus.CounterVec // labels: outcome={completed,cancelled,failed}

	// Trigger pipeline.
	TriggersConsumed prometheus.Counter
	TriggerErrors    prometheus.Counter
	ResultsProduced  prometheus.Counter
	PipelineRunning  prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		ProbeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_probe_attempts_total",
			Help:      "Candidate endpoint probes by outcome.",
		}, []string{"outcome"}),
		EndpointResolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoint_resolved",
			Help:      "1 when an upstream endpoint has been resolved, 0 otherwise.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream API requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"operation"}),
		UpstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retried upstream calls by category.",
		}, []string{"category"}),
		StatsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_stats_cache_total",
			Help:      "Index statistics cache lookups by result.",
		}, []string{"result"}),
		CategorySyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_syncs_total",
			Help:      "Per-category sync outcomes.",
		}, []string{"category", "outcome"}),
		RecordsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_upserted_total",
			Help:      "Environmental records written by category.",
		}, []string{"category"}),
		PolygonsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polygons_created_total",
			Help:      "Polygons registered with the upstream API.",
		}),
		PolygonSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "polygon_sync_duration_seconds",
			Help:      "Duration of a complete polygon sync across all categories.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SyncAllRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_all_runs_total",
			Help:      "Sync-all runs by outcome.",
		}, []string{"outcome"}),
		TriggersConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_consumed_total",
			Help:      "Sync requests read from the trigger topic.",
		}),
		TriggerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_errors_total",
			Help:      "Trigger messages skipped because they could not be parsed.",
		}),
		ResultsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_produced_total",
			Help:      "Polygon results written to the result topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the trigger pipeline is active, 0 when shut down.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ProbeAttempts,
		m.EndpointResolved,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.UpstreamRetries,
		m.StatsCache,
		m.CategorySyncs,
		m.RecordsUpserted,
		m.PolygonsCreated,
		m.PolygonSyncDuration,
		m.SyncAllRuns,
		m.TriggersConsumed,
		m.TriggerErrors,
		m.ResultsProduced,
		m.PipelineRunning,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
