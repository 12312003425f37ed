// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "turnstile"

var (
	// HTTPRequestsTotal counts handled requests by method, route and status
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency by method and route
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// LoginAttemptsTotal counts login attempts by result
	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Login attempts by result (success, invalid, rate_limited, error)",
	}, []string{"result"})

	// TokensIssuedTotal counts issued token pairs by reason
	TokensIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Token pairs issued by reason (login, rotation)",
	}, []string{"reason"})

	// RotationsTotal counts refresh attempts by result
	RotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rotations_total",
		Help:      "Refresh token rotations by result (success, rejected, failed)",
	}, []string{"result"})

	// SessionsRevokedTotal counts revoked sessions by scope
	SessionsRevokedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_revoked_total",
		Help:      "Sessions revoked by scope (one, all)",
	}, []string{"scope"})

	// SessionsSweptTotal counts records deleted by the janitor
	SessionsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_swept_total",
		Help:      "Expired session records deleted by the janitor",
	})

	// RegistryCallDuration observes session registry latency by operation and outcome
	RegistryCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "registry_call_duration_seconds",
		Help:      "Session registry call duration in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
	}, []string{"op", "outcome"})

	// RegistryBreakerState tracks the registry circuit breaker (0=closed, 1=half-open, 2=open)
	RegistryBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_breaker_state",
		Help:      "Current state of the session registry circuit breaker (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})
)
