// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package geo

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/gravelight/sessionguard/internal/logging"
	"github.com/gravelight/sessionguard/internal/metrics"
)

// BreakerConfig configures the circuit breaker around a resolver.
type BreakerConfig struct {
	// MinRequests is the minimum sample before the breaker may open.
	MinRequests uint32

	// FailureRatio opens the circuit at or above this failure rate.
	FailureRatio float64

	// Timeout is how long the circuit stays open before half-open.
	Timeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:  10,
		FailureRatio: 0.6,
		Timeout:      2 * time.Minute,
	}
}

// BreakerResolver wraps a resolver with a circuit breaker. When the
// provider misbehaves the circuit opens and every lookup degrades to an
// unknown location immediately, shedding load from the dead provider.
//
// The breaker uses real time for its recovery windows; this governs when
// to retry the provider, not data integrity.
type BreakerResolver struct {
	inner Resolver
	cb    *gobreaker.CircuitBreaker[Location]
}

// NewBreakerResolver wraps a resolver with a circuit breaker.
func NewBreakerResolver(inner Resolver, config BreakerConfig) *BreakerResolver {
	const cbName = "geo-resolver"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[Location](gobreaker.Settings{
		Name:    cbName,
		Timeout: config.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureRatio
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerResolver{inner: inner, cb: cb}
}

// Resolve looks up the IP through the breaker. An open circuit returns an
// unknown location without touching the provider.
func (r *BreakerResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	loc, err := r.cb.Execute(func() (Location, error) {
		return r.inner.Resolve(ctx, ip)
	})
	if err != nil {
		metrics.GeoLookupErrors.Inc()
		return UnknownLocation(), nil
	}
	return loc, nil
}

// stateToFloat maps breaker states onto the metric gauge values.
func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
