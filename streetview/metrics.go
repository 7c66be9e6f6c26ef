package streetview

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the metadata crawler.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   prometheus.Counter
	RequestDuration prometheus.Histogram
	PointsTotal     *prometheus.CounterVec
	PanoramasTotal  prometheus.Counter
	RateLimitWaits  prometheus.Counter
	CacheHitsTotal  prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streetview_requests_total",
			Help: "Total metadata HTTP requests issued.",
		},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streetview_request_duration_seconds",
			Help:    "Metadata HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	points := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streetview_points_processed_total",
			Help: "Sample points processed by outcome.",
		},
		[]string{"outcome"},
	)
	panoramas := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streetview_panoramas_discovered_total",
			Help: "Distinct panoramas seen for the first time.",
		},
	)
	rateLimitWaits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streetview_rate_limit_waits_total",
			Help: "Backoff sleeps taken after rate-limit responses.",
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streetview_cache_hits_total",
			Help: "Metadata lookups served from the in-process cache.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streetview_errors_total",
			Help: "Total crawl errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, points, panoramas, rateLimitWaits, cacheHits, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		PointsTotal:     points,
		PanoramasTotal:  panoramas,
		RateLimitWaits:  rateLimitWaits,
		CacheHitsTotal:  cacheHits,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest() {
	if m == nil {
		return
	}
	m.RequestsTotal.Inc()
}

// ObserveDuration records a metadata request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPoint increments the processed-points counter for an outcome label.
func (m *Metrics) IncPoint(outcome string) {
	if m == nil {
		return
	}
	m.PointsTotal.WithLabelValues(outcome).Inc()
}

// IncPanorama increments the discovered-panoramas counter.
func (m *Metrics) IncPanorama() {
	if m == nil {
		return
	}
	m.PanoramasTotal.Inc()
}

// IncRateLimitWait increments the rate-limit backoff counter.
func (m *Metrics) IncRateLimitWait() {
	if m == nil {
		return
	}
	m.RateLimitWaits.Inc()
}

// IncCacheHit increments the cache hits counter.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
