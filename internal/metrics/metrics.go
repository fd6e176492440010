// Package metrics defines Prometheus metrics for the request-security
// pipeline. All metrics are registered on the default registry via promauto
// and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	// HTTPRequestsTotal tracks requests by method, route and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

// Pipeline metrics
var (
	// PipelineVerdictsTotal tracks pipeline outcomes by stage and verdict.
	PipelineVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_pipeline_verdicts_total",
			Help: "Total pipeline verdicts by stage and outcome",
		},
		[]string{"stage", "verdict"},
	)

	// RateLimitRejectionsTotal tracks rate-limit rejections by route class.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_rate_limit_rejections_total",
			Help: "Total requests rejected by the rate limiter",
		},
		[]string{"class"},
	)

	// BruteForceBlocksTotal tracks lockouts imposed by the brute-force guard.
	BruteForceBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_brute_force_blocks_total",
			Help: "Total IP lockouts imposed by the brute-force guard",
		},
	)

	// CSRFFailuresTotal tracks CSRF verification failures by reason.
	CSRFFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_csrf_failures_total",
			Help: "Total CSRF verification failures",
		},
		[]string{"reason"},
	)

	// SanitizerFindingsTotal tracks threat classifications by category.
	SanitizerFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_sanitizer_findings_total",
			Help: "Total threat rule matches by category",
		},
		[]string{"category"},
	)

	// SuspicionBlocksTotal tracks clients blocked on suspicion threshold.
	SuspicionBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_suspicion_blocks_total",
			Help: "Total requests blocked on suspicion threshold",
		},
	)

	// SuspicionTrackedClients gauges clients currently tracked by the monitor.
	SuspicionTrackedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "security_suspicion_tracked_clients",
			Help: "Number of clients currently tracked by the monitor",
		},
	)

	// SecurityEventsTotal tracks emitted audit events by kind.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Total security events emitted by kind",
		},
		[]string{"kind"},
	)
)

// Redis metrics
var (
	// RedisRateLimitErrorsTotal tracks distributed limiter failures that
	// degraded to the in-memory fallback.
	RedisRateLimitErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_redis_rate_limit_errors_total",
			Help: "Total distributed rate limiter errors that fell back to memory",
		},
	)
)
