// Package metrics provides Prometheus metrics export for the onboarding
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports onboarding metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Turn metrics
	turnLatency  *prometheus.HistogramVec
	turnRequests *prometheus.CounterVec

	// Session metrics
	sessionsActive    prometheus.Gauge
	sessionsFinalized prometheus.Counter
	sessionsExpired   prometheus.Counter

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// LLM metrics
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "turn_latency_seconds",
			Help:      "Conversation turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"source"},
	)

	e.turnRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "turn_requests_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"source", "status"},
	)

	e.sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "sessions_active",
			Help:      "Number of active onboarding sessions",
		},
	)

	e.sessionsFinalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "sessions_finalized_total",
			Help:      "Total number of sessions finalized into a profile",
		},
	)

	e.sessionsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "sessions_expired_total",
			Help:      "Total number of sessions expired by the sweeper",
		},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	e.llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"model", "status"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "skinsense",
			Subsystem: "onboarding",
			Name:      "llm_latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	registry.MustRegister(
		e.turnLatency,
		e.turnRequests,
		e.sessionsActive,
		e.sessionsFinalized,
		e.sessionsExpired,
		e.cacheHits,
		e.cacheMisses,
		e.llmRequests,
		e.llmTokens,
		e.llmLatency,
	)

	return e
}

// RecordTurn records one completed conversation turn. Source is "llm" or
// "cache"; status is "success" or "error".
func (e *PrometheusExporter) RecordTurn(source string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.turnRequests.WithLabelValues(source, status).Inc()
	e.turnLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(cacheType string) {
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(cacheType string) {
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordLLMRequest records an LLM request outcome and latency.
func (e *PrometheusExporter) RecordLLMRequest(model string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.llmRequests.WithLabelValues(model, status).Inc()
	e.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordLLMTokens records LLM token usage by type (prompt, completion, cached).
func (e *PrometheusExporter) RecordLLMTokens(model, tokenType string, count int) {
	e.llmTokens.WithLabelValues(model, tokenType).Add(float64(count))
}

// SessionStarted bumps the active-session gauge.
func (e *PrometheusExporter) SessionStarted() {
	e.sessionsActive.Inc()
}

// SessionClosed drops the active-session gauge.
func (e *PrometheusExporter) SessionClosed() {
	e.sessionsActive.Dec()
}

// SessionFinalized counts a session that produced a profile.
func (e *PrometheusExporter) SessionFinalized() {
	e.sessionsFinalized.Inc()
}

// SessionsExpired counts sessions transitioned by the sweeper.
func (e *PrometheusExporter) SessionsExpired(n int) {
	e.sessionsExpired.Add(float64(n))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
