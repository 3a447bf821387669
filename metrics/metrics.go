// Package metrics exposes the core's Prometheus surface: cluster-topology
// gauges, accessor cache/fallback counters, router-decision counters,
// proxy- and migration-duration histograms, and supervisor status gauges
// and restart counters. Grounded on cuemby-warren's
// pkg/metrics/metrics.go (package-level vector vars registered once in
// init, plus a lightweight Timer helper for histogram observations).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "xpod_nodes_total", Help: "Registered nodes by type and connectivity status"},
		[]string{"node_type", "connectivity"},
	)

	PodsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "xpod_pods_total", Help: "Total number of pods in the directory"},
	)

	RouterRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "xpod_router_requests_total", Help: "Requests handled by the router, by intercept and outcome"},
		[]string{"intercept", "outcome"},
	)

	RouterProxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "xpod_router_proxy_duration_seconds", Help: "Time spent proxying a request to a peer node", Buckets: prometheus.DefBuckets},
		[]string{"target_node"},
	)

	AccessorCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "xpod_accessor_cache_hits_total", Help: "GetData calls served from the local cache"},
	)
	AccessorCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "xpod_accessor_cache_misses_total", Help: "GetData calls that missed the local cache"},
	)
	AccessorFallbackHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "xpod_accessor_fallback_hits_total", Help: "GetData calls served from a region fallback bucket"},
		[]string{"region"},
	)
	AccessorCacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "xpod_accessor_cache_bytes", Help: "Current size of the local accessor cache in bytes"},
	)
	AccessorEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "xpod_accessor_evictions_total", Help: "Cache entries evicted under the hysteresis policy"},
	)

	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "xpod_migrations_total", Help: "Pod migrations by outcome"},
		[]string{"outcome"},
	)
	MigrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "xpod_migration_duration_seconds", Help: "End-to-end duration of a staged migration", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600}},
	)

	SupervisedServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "xpod_supervised_services_total", Help: "Supervised services by status"},
		[]string{"status"},
	)
	ServiceRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "xpod_service_restarts_total", Help: "Service restarts scheduled by the supervisor"},
		[]string{"service"},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal, PodsTotal,
		RouterRequestsTotal, RouterProxyDuration,
		AccessorCacheHits, AccessorCacheMisses, AccessorFallbackHits, AccessorCacheBytes, AccessorEvictionsTotal,
		MigrationsTotal, MigrationDuration,
		SupervisedServicesTotal, ServiceRestartsTotal,
	)
}

// Handler serves the text-format Prometheus exposition, mounted at /metrics
// by cmd/xpodnode.
func Handler() http.Handler { return promhttp.Handler() }

// Timer times an operation for a later histogram observation.
type Timer struct{ start time.Time }

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Histogram) { h.Observe(time.Since(t.start).Seconds()) }

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
