// Package monitoring exposes Prometheus metrics for similarity computation,
// cache behaviour, model builds and the HTTP surface.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phenotype-similarity-server/internal/cache"
)

const namespace = "phenosim"

// Metrics holds every collector the server reports. All methods are safe
// for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups    *prometheus.CounterVec
	computations    *prometheus.CounterVec
	computeDuration *prometheus.HistogramVec
	modelBuilds     *prometheus.CounterVec
	modelBuildTime  prometheus.Histogram
	modelTerms      prometheus.Gauge
	cacheEntries    *prometheus.GaugeVec
	cacheEvictions  *prometheus.GaugeVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsProcessed *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry together with
// the Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Similarity cache lookups by result",
		}, []string{"result"}),
		computations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "similarity",
			Name:      "computations_total",
			Help:      "Similarity computations by exposure",
		}, []string{"exposure"}),
		computeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "similarity",
			Name:      "compute_duration_seconds",
			Help:      "Time spent computing a patient pair similarity",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"exposure"}),
		modelBuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "builds_total",
			Help:      "Information content model builds by status",
		}, []string{"status"}),
		modelBuildTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "build_duration_seconds",
			Help:      "Duration of successful and failed model builds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		modelTerms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "ic_terms",
			Help:      "Terms carrying information content in the published model",
		}),
		cacheEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Cached similarity results by backend",
		}, []string{"backend"}),
		cacheEvictions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions",
			Help:      "Capacity evictions since start by backend",
		}, []string{"backend"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		eventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Invalidation events by type and outcome",
		}, []string{"type", "outcome"}),
	}
}

// Registry returns the registry backing the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordCacheLookup counts a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveComputation records one similarity computation
func (m *Metrics) ObserveComputation(exposure string, d time.Duration) {
	m.computations.WithLabelValues(exposure).Inc()
	m.computeDuration.WithLabelValues(exposure).Observe(d.Seconds())
}

// ObserveModelBuild records a model build attempt
func (m *Metrics) ObserveModelBuild(status string, d time.Duration, terms int) {
	m.modelBuilds.WithLabelValues(status).Inc()
	if d > 0 {
		m.modelBuildTime.Observe(d.Seconds())
	}
	if status != "failure" {
		m.modelTerms.Set(float64(terms))
	}
}

// UpdateCacheStats publishes a cache stats sample. Backends that cannot count
// their entries report a negative value, which is not exported.
func (m *Metrics) UpdateCacheStats(stats cache.Stats) {
	if stats.Entries >= 0 {
		m.cacheEntries.WithLabelValues(stats.Backend).Set(float64(stats.Entries))
	}
	m.cacheEvictions.WithLabelValues(stats.Backend).Set(float64(stats.Evictions))
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordEvent counts a processed invalidation event
func (m *Metrics) RecordEvent(eventType string, err error) {
	outcome := "applied"
	if err != nil {
		outcome = "failed"
	}
	m.eventsProcessed.WithLabelValues(eventType, outcome).Inc()
}
