// Package observability provides Prometheus metrics, health/readiness
// endpoints, structured logging, and OpenTelemetry tracing for the edge.
package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds both Prometheus collectors and atomic counters for
// fast-path access in the middleware hot path.
type Metrics struct {
	// Atomic counters for hot-path (no mutex, no allocation).
	passed       int64
	redirected   int64
	rewritten    int64
	cacheHits    int64
	cacheMisses  int64
	verifyErrors int64

	// Prometheus counters for scraping.
	promPassed       prometheus.Counter
	promRedirected   prometheus.Counter
	promRewritten    prometheus.Counter
	promCacheHits    prometheus.Counter
	promCacheMisses  prometheus.Counter
	promCacheEvicted prometheus.Counter
	promVerifyErrors prometheus.Counter

	// Prometheus histograms.
	PromRequestDuration *prometheus.HistogramVec
	PromVerifyDuration  prometheus.Histogram

	// Per-tenant counters. Tenants are bounded entities (unlike IPs), so
	// using a label is safe from cardinality explosions.
	promTenantRewrites *prometheus.CounterVec
	promTenantDenied   *prometheus.CounterVec
}

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		promPassed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "requests_passed_total",
			Help:      "Total number of requests passed through to the backend unchanged.",
		}),
		promRedirected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "requests_redirected_total",
			Help:      "Total number of requests answered with a redirect.",
		}),
		promRewritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "requests_rewritten_total",
			Help:      "Total number of requests rewritten into a tenant namespace.",
		}),
		promCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "token_cache_hits_total",
			Help:      "Total number of token cache hits.",
		}),
		promCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "token_cache_misses_total",
			Help:      "Total number of token cache misses.",
		}),
		promCacheEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "token_cache_evictions_total",
			Help:      "Total number of live entries evicted from the token cache.",
		}),
		promVerifyErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "verify_errors_total",
			Help:      "Total number of identity provider errors.",
		}),
		PromRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medicorex_edge",
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status_code"}),
		PromVerifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medicorex_edge",
			Name:      "verify_duration_seconds",
			Help:      "Identity provider verification round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		promTenantRewrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "tenant_rewrites_total",
			Help:      "Total requests rewritten per tenant.",
		}, []string{"tenant"}),
		promTenantDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medicorex_edge",
			Name:      "tenant_denied_total",
			Help:      "Total requests denied per tenant for missing access.",
		}, []string{"tenant"}),
	}

	return m
}

// IncPassed increments the passed-through requests counter.
func (m *Metrics) IncPassed() {
	atomic.AddInt64(&m.passed, 1)
	m.promPassed.Inc()
}

// IncRedirected increments the redirected requests counter.
func (m *Metrics) IncRedirected() {
	atomic.AddInt64(&m.redirected, 1)
	m.promRedirected.Inc()
}

// IncRewritten increments the rewritten requests counter.
func (m *Metrics) IncRewritten() {
	atomic.AddInt64(&m.rewritten, 1)
	m.promRewritten.Inc()
}

// IncCacheHits increments the token cache hit counter.
func (m *Metrics) IncCacheHits() {
	atomic.AddInt64(&m.cacheHits, 1)
	m.promCacheHits.Inc()
}

// IncCacheMisses increments the token cache miss counter.
func (m *Metrics) IncCacheMisses() {
	atomic.AddInt64(&m.cacheMisses, 1)
	m.promCacheMisses.Inc()
}

// IncCacheEvicted increments the token cache eviction counter.
func (m *Metrics) IncCacheEvicted() {
	m.promCacheEvicted.Inc()
}

// IncVerifyErrors increments the identity provider error counter.
func (m *Metrics) IncVerifyErrors() {
	atomic.AddInt64(&m.verifyErrors, 1)
	m.promVerifyErrors.Inc()
}

// ObserveVerifyDuration records one verification round-trip.
func (m *Metrics) ObserveVerifyDuration(d time.Duration) {
	m.PromVerifyDuration.Observe(d.Seconds())
}

// IncTenantRewrites increments the per-tenant rewrite counter.
func (m *Metrics) IncTenantRewrites(tenant string) {
	m.promTenantRewrites.WithLabelValues(tenant).Inc()
}

// IncTenantDenied increments the per-tenant denied counter.
func (m *Metrics) IncTenantDenied(tenant string) {
	m.promTenantDenied.WithLabelValues(tenant).Inc()
}

// MetricsSnapshot holds a point-in-time copy of all atomic counters.
type MetricsSnapshot struct {
	Passed       int64
	Redirected   int64
	Rewritten    int64
	CacheHits    int64
	CacheMisses  int64
	VerifyErrors int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Passed:       atomic.LoadInt64(&m.passed),
		Redirected:   atomic.LoadInt64(&m.redirected),
		Rewritten:    atomic.LoadInt64(&m.rewritten),
		CacheHits:    atomic.LoadInt64(&m.cacheHits),
		CacheMisses:  atomic.LoadInt64(&m.cacheMisses),
		VerifyErrors: atomic.LoadInt64(&m.verifyErrors),
	}
}
