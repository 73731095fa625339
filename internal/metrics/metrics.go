// Package metrics exposes the Prometheus instruments shared by the HTTP
// server and the job worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collector set. A single instance is shared between the
// serve and work commands so tests can use isolated registries.
type Metrics struct {
	HTTPDuration  *prometheus.HistogramVec
	JobsProcessed *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	ToolCalls     *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	PoisonDepth   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conduit",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "jobs_processed_total",
			Help:      "Jobs processed by kind and outcome.",
		}, []string{"kind", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conduit",
			Name:      "job_duration_seconds",
			Help:      "Job processing time by kind.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name.",
		}, []string{"tool"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conduit",
			Name:      "queue_depth",
			Help:      "Pending messages on the job queue.",
		}),
		PoisonDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conduit",
			Name:      "poison_queue_depth",
			Help:      "Messages on the poison queue.",
		}),
		registry: reg,
	}
	reg.MustRegister(
		m.HTTPDuration,
		m.JobsProcessed,
		m.JobDuration,
		m.ToolCalls,
		m.QueueDepth,
		m.PoisonDepth,
	)
	return m
}

// Registry returns the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
