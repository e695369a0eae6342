// Package metrics exposes the service's Prometheus collectors. Guard
// counters are registered at init so denial rates are observable even
// before the first request.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillsend_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quillsend_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quillsend_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	QuotaDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quillsend_quota_denials_total",
			Help: "Send attempts rejected because the daily email allowance was spent",
		},
	)

	RateLimitDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quillsend_rate_limit_denials_total",
			Help: "Requests rejected by the sliding-window rate limiter",
		},
	)

	AccountLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quillsend_account_lockouts_total",
			Help: "Accounts locked after repeated failed logins",
		},
	)

	RevokedTokenHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quillsend_revoked_token_hits_total",
			Help: "Authenticated requests presenting a revoked token",
		},
	)
)
