// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package metrics provides Prometheus metrics for SessionGuard.
// Metrics are exposed at the /metrics endpoint in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Risk scoring metrics
	RiskAssessments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_risk_assessments_total",
			Help: "Total risk assessments computed",
		},
		[]string{"category"},
	)

	RiskScoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sessionguard_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{10, 25, 50, 75, 90, 100},
		},
	)

	// Conflict detection metrics
	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_conflicts_detected_total",
			Help: "Total conflicts detected",
		},
		[]string{"kind"},
	)

	TakeoverVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_takeover_verdicts_total",
			Help: "Total takeover verdicts produced",
		},
		[]string{"band"}, // none, possible, likely
	)

	// Trust manager metrics
	TrustMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_trust_mutations_total",
			Help: "Total trust-state mutations applied",
		},
		[]string{"action", "outcome"},
	)

	TrustRetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionguard_trust_retries_exhausted_total",
			Help: "Mutations that spent their optimistic-concurrency retry budget",
		},
	)

	// Fingerprint metrics
	FingerprintMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_fingerprint_matches_total",
			Help: "Total fingerprint match invocations",
		},
		[]string{"result"}, // exact, near, new
	)

	// Geolocation metrics
	GeoLookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionguard_geo_lookup_errors_total",
			Help: "Geolocation lookups that degraded to unknown",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessionguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// HTTP metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionguard_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionguard_store_operation_duration_seconds",
			Help:    "Session store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	SessionsCleanedUp = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionguard_sessions_cleaned_up_total",
			Help: "Expired sessions removed by the cleanup loop",
		},
	)

	// WebSocket metrics
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionguard_websocket_connections_active",
			Help: "Active WebSocket event stream connections",
		},
	)
)
