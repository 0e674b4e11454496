// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for quickauth.
// It exposes ceremony outcomes, trust decisions, security resets, rate
// limiter activity and HTTP request metrics.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all quickauth metrics
	Namespace = "quickauth"

	// Label names
	LabelCeremony   = "ceremony"
	LabelResult     = "result"
	LabelTier       = "tier"
	LabelReason     = "reason"
	LabelAction     = "action"
	LabelMethod     = "method"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	// Result values
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"

	// Ceremony names
	CeremonyPassword     = "password"
	CeremonyRemember     = "remember_token"
	CeremonyPIN          = "pin"
	CeremonyPINSetup     = "pin_setup"
	CeremonyRegistration = "webauthn_registration"
	CeremonyAssertion    = "webauthn_assertion"
)

var (
	// CeremoniesTotal counts authentication ceremonies by kind and result.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of authentication ceremonies by kind and result",
		},
		[]string{LabelCeremony, LabelResult},
	)

	// CeremonyDuration tracks ceremony latency in seconds. Buckets cover the
	// argon2id cost that dominates password and PIN checks.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of authentication ceremonies in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony},
	)

	// TrustDecisionsTotal counts granted tiers.
	TrustDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "trust_decisions_total",
			Help:      "Total number of trust decisions by granted tier",
		},
		[]string{LabelTier},
	)

	// SecurityResetsTotal counts full security resets by reason.
	SecurityResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "security_resets_total",
			Help:      "Total number of full security resets by reason",
		},
		[]string{LabelReason},
	)

	// RateLimitedTotal counts requests refused by the sliding-window limiter.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Total number of attempts refused by the rate limiter by action",
		},
		[]string{LabelAction},
	)

	// RateLimitStoreErrorsTotal counts limiter store failures that were
	// answered by failing open.
	RateLimitStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ratelimit",
			Name:      "store_errors_total",
			Help:      "Total number of rate limiter store failures by action",
		},
		[]string{LabelAction},
	)

	// BlocksTotal counts explicit subject blocks.
	BlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ratelimit",
			Name:      "blocks_total",
			Help:      "Total number of explicit blocks by reason",
		},
		[]string{LabelReason},
	)

	// HTTPRequestsTotal tracks HTTP requests by method, route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status code",
		},
		[]string{LabelMethod, LabelRoute, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelRoute},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// PendingChallenges is the number of unconsumed challenges held in
	// process memory. Only the memory challenge store reports it.
	PendingChallenges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pending_challenges",
			Help:      "Unconsumed challenges held in memory",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordCeremony records the outcome and duration of one ceremony.
//
// Example:
//
//	start := time.Now()
//	_, err := svc.LoginWithPIN(ctx, req)
//	metrics.RecordCeremony(metrics.CeremonyPIN, metrics.ResultOf(err), time.Since(start).Seconds())
func RecordCeremony(ceremony, result string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, result).Inc()
	CeremonyDuration.WithLabelValues(ceremony).Observe(duration)
}

// ResultOf maps an error to ResultSuccess or ResultFailure.
func ResultOf(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordDecision records a granted trust tier.
func RecordDecision(tier string) {
	if !enabled.Load() {
		return
	}
	TrustDecisionsTotal.WithLabelValues(tier).Inc()
}

// RecordReset records a full security reset.
func RecordReset(reason string) {
	if !enabled.Load() {
		return
	}
	SecurityResetsTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimited records an attempt refused by the limiter.
func RecordRateLimited(action string) {
	if !enabled.Load() {
		return
	}
	RateLimitedTotal.WithLabelValues(action).Inc()
}

// RecordRateLimitStoreError records a limiter store failure.
func RecordRateLimitStoreError(action string) {
	if !enabled.Load() {
		return
	}
	RateLimitStoreErrorsTotal.WithLabelValues(action).Inc()
}

// RecordBlock records an explicit block of a subject.
func RecordBlock(reason string) {
	if !enabled.Load() {
		return
	}
	BlocksTotal.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, route, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
