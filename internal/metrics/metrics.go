// Package metrics exposes a standalone Prometheus registry for the
// provider server, grounded on the teacher's AgentMetrics: a dedicated
// registry (this server is not a controller-runtime manager) plus the
// standard process/Go collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram/gauge the server exposes.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec

	UpdateDuration   *prometheus.HistogramVec
	UpdatesTotal     *prometheus.CounterVec
	UpdatesFailed    *prometheus.CounterVec
	LastUpdateTime   prometheus.Gauge
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	WebhookRequests  *prometheus.CounterVec
}

// New creates and registers every metric on a standalone registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ord_provider",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ord_provider",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		UpdateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ord_provider",
				Subsystem: "update",
				Name:      "duration_seconds",
				Help:      "Duration of content update runs in seconds.",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"source"},
		),
		UpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ord_provider",
				Subsystem: "update",
				Name:      "total",
				Help:      "Total number of completed update runs.",
			},
			[]string{"source"},
		),
		UpdatesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ord_provider",
				Subsystem: "update",
				Name:      "failed_total",
				Help:      "Total number of failed update runs.",
			},
			[]string{"source", "reason"},
		),
		LastUpdateTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ord_provider",
				Subsystem: "update",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix timestamp of the last successful update.",
			},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ord_provider",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of document cache hits.",
			},
			[]string{"kind"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ord_provider",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of document cache misses.",
			},
			[]string{"kind"},
		),
		WebhookRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ord_provider",
				Subsystem: "webhook",
				Name:      "requests_total",
				Help:      "Total number of webhook requests by outcome.",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestDuration,
		m.HTTPRequestsTotal,
		m.UpdateDuration,
		m.UpdatesTotal,
		m.UpdatesFailed,
		m.LastUpdateTime,
		m.CacheHits,
		m.CacheMisses,
		m.WebhookRequests,
	)
	return m
}

// Handler returns the HTTP handler serving this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
