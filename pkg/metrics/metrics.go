// Package metrics defines the Prometheus metric collectors used across the
// concordancer and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the concordancer.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	ConcOpsTotal         *prometheus.CounterVec
	ConcOpLatency        *prometheus.HistogramVec
	ConcResultSize       prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CalcTasksTotal       *prometheus.CounterVec
	CalcDuration         prometheus.Histogram
	LiveResultSets       prometheus.Gauge
	SyncRepairsTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ConcOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conc_operations_total",
				Help: "Total concordance operations by kind (query, sort, shuffle, filter, sample, switch) and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		ConcOpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conc_operation_latency_seconds",
				Help:    "Concordance operation latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"kind"},
		),
		ConcResultSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conc_result_size_lines",
				Help:    "Number of concordance lines per result set.",
				Buckets: []float64{0, 10, 100, 1000, 10000, 100000, 1000000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of concordance cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of concordance cache misses.",
			},
		),
		CalcTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calc_tasks_total",
				Help: "Total background calculation tasks by status (completed, failed, timeout).",
			},
			[]string{"status"},
		),
		CalcDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "calc_duration_seconds",
				Help:    "Background calculation task duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
		),
		LiveResultSets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "live_result_sets",
				Help: "Number of result sets currently registered in memory.",
			},
		),
		SyncRepairsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_repairs_total",
				Help: "Total view rebuilds performed by sync after destructive operations.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ConcOpsTotal,
		m.ConcOpLatency,
		m.ConcResultSize,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CalcTasksTotal,
		m.CalcDuration,
		m.LiveResultSets,
		m.SyncRepairsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
