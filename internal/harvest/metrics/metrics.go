package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/xyshyniaphy/SECCAMP/pkg/types"
)

// OutcomeCached is the fetch outcome label used when a request was served
// from the cache without touching the site. The remaining outcome labels are
// the request statuses themselves (success, failed, timeout).
const OutcomeCached = "cache_hit"

// PrometheusMetrics provides high-performance metrics collection using Prometheus
type PrometheusMetrics struct {
	// Fetch metrics
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	activeFetches prometheus.Gauge

	// Cache metrics
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec
	cacheHitRatio    *prometheus.GaugeVec
	cacheSizeBytes   prometheus.Gauge
	cacheEntries     prometheus.Gauge

	// Rate limit metrics
	rateLimitWait *prometheus.HistogramVec

	// Session metrics
	sessionsTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	// Fetch metrics
	pm.fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "fetches_total",
			Help:      "Total number of page fetches processed",
		},
		[]string{"site", "page_type", "outcome"},
	)

	pm.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "fetch_duration_seconds",
			Help:      "Time taken to fetch pages from origin sites",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}, // Browser renders sit in the tail
		},
		[]string{"site", "page_type"},
	)

	pm.activeFetches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "active_fetches",
			Help:      "Number of currently in-flight fetches",
		},
	)

	// Cache metrics
	pm.cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"site"},
	)

	pm.cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"site"},
	)

	pm.cacheHitRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cache_hit_ratio",
			Help:      "Cache hit ratio (0-1) for each site",
		},
		[]string{"site"},
	)

	pm.cacheSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cache_size_bytes",
			Help:      "Total size of cached content files in bytes",
		},
	)

	pm.cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "cache_entries",
			Help:      "Number of valid cache entries",
		},
	)

	// Rate limit metrics
	pm.rateLimitWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a rate limit slot",
			Buckets:   []float64{0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}, // Budget stalls can last a whole window
		},
		[]string{"site"},
	)

	// Session metrics
	pm.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "sessions_total",
			Help:      "Total number of harvest sessions by final status",
		},
		[]string{"site", "status"},
	)

	// Register all metrics
	registerer.MustRegister(
		pm.fetchesTotal,
		pm.fetchDuration,
		pm.activeFetches,
		pm.cacheHitsTotal,
		pm.cacheMissesTotal,
		pm.cacheHitRatio,
		pm.cacheSizeBytes,
		pm.cacheEntries,
		pm.rateLimitWait,
		pm.sessionsTotal,
	)

	// Create HTTP handler - registerer implements Gatherer interface
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		// Fallback to default gatherer if registerer doesn't implement Gatherer
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Prometheus metrics initialized")
	return pm
}

// RecordFetch records a completed fetch with timing. Cache hits pass
// OutcomeCached and a near-zero duration; origin fetches pass the request
// status as the outcome.
func (pm *PrometheusMetrics) RecordFetch(site string, pageType types.PageType, outcome string, duration time.Duration) {
	pm.fetchesTotal.WithLabelValues(site, string(pageType), outcome).Inc()
	pm.fetchDuration.WithLabelValues(site, string(pageType)).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit and updates hit ratio
func (pm *PrometheusMetrics) RecordCacheHit(site string) {
	pm.cacheHitsTotal.WithLabelValues(site).Inc()
	pm.updateCacheHitRatio(site)
}

// RecordCacheMiss records a cache miss and updates hit ratio
func (pm *PrometheusMetrics) RecordCacheMiss(site string) {
	pm.cacheMissesTotal.WithLabelValues(site).Inc()
	pm.updateCacheHitRatio(site)
}

// RecordRateLimitWait records time spent blocked on the admission gate
func (pm *PrometheusMetrics) RecordRateLimitWait(site string, wait time.Duration) {
	pm.rateLimitWait.WithLabelValues(site).Observe(wait.Seconds())
}

// RecordSession records a finished harvest session
func (pm *PrometheusMetrics) RecordSession(site string, status types.SessionStatus) {
	pm.sessionsTotal.WithLabelValues(site, string(status)).Inc()
}

// IncActiveFetches increments the in-flight fetch counter
func (pm *PrometheusMetrics) IncActiveFetches() {
	pm.activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch counter
func (pm *PrometheusMetrics) DecActiveFetches() {
	pm.activeFetches.Dec()
}

// UpdateCacheSize updates the total cache size metric
func (pm *PrometheusMetrics) UpdateCacheSize(sizeBytes float64) {
	pm.cacheSizeBytes.Set(sizeBytes)
}

// UpdateCacheEntries updates the valid entry count metric
func (pm *PrometheusMetrics) UpdateCacheEntries(count float64) {
	pm.cacheEntries.Set(count)
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}

// updateCacheHitRatio calculates and updates cache hit ratio
func (pm *PrometheusMetrics) updateCacheHitRatio(site string) {
	// Get current values
	hits := pm.getCounterValue(pm.cacheHitsTotal.WithLabelValues(site))
	misses := pm.getCounterValue(pm.cacheMissesTotal.WithLabelValues(site))

	total := hits + misses
	if total > 0 {
		ratio := hits / total
		pm.cacheHitRatio.WithLabelValues(site).Set(ratio)
	}
}

// getCounterValue extracts current value from a counter (helper function)
func (pm *PrometheusMetrics) getCounterValue(counter prometheus.Counter) float64 {
	// Use a metric DTO to read the current value
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		pm.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}
