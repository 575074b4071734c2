// Package metrics defines the Prometheus collectors the service exports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. It's built against an explicit registry
// so tests can use a fresh one instead of the process-wide default.
type Metrics struct {
	// UpstreamAttempts counts attempts by model and outcome label
	// (success, http_error, network_error, empty_body).
	UpstreamAttempts *prometheus.CounterVec

	UpstreamDuration *prometheus.HistogramVec

	// Routes counts finished Route calls by task and result kind.
	Routes *prometheus.CounterVec

	// CacheLookups counts result cache lookups by hit, miss or error.
	CacheLookups *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpstreamAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mitra_upstream_attempts_total",
				Help: "Upstream completion attempts by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		UpstreamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mitra_upstream_attempt_duration_seconds",
				Help:    "Latency of a single upstream attempt",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
			},
			[]string{"model"},
		),
		Routes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mitra_routes_total",
				Help: "Completed fallback runs by task and result kind",
			},
			[]string{"task", "result"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mitra_cache_lookups_total",
				Help: "Result cache lookups by result",
			},
			[]string{"result"},
		),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
