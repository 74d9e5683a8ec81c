package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "subrelay"

// Session lifecycle metrics
var (
	SessionsPreparedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_prepared_total",
			Help:      "Total number of upload sessions registered.",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently tracked by the registry.",
		},
	)

	CleanupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Total number of cleanup calls by result (cleaned, skipped, none).",
		},
		[]string{"result"},
	)

	ReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Resources reclaimed by background sweeps by kind (stale_session, lock, timer, file).",
		},
		[]string{"kind"},
	)
)

// Pipeline metrics
var (
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs by status.",
		},
		[]string{"status"},
	)

	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of pipeline runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Translation backend requests by batching path (combined, single).",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsPreparedTotal,
		ActiveSessions,
		CleanupsTotal,
		ReapedTotal,
		PipelineRunsTotal,
		PipelineDuration,
		BackendRequestsTotal,
	)
}
