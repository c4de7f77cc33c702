// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package geo defines the geolocation resolver contract. The provider
// behind it is an external collaborator; this package only bounds its
// latency and failure blast radius. A resolver must degrade to an unknown
// location rather than error; a slow or dead geo provider must never
// block a risk assessment.
package geo

import (
	"context"
	"time"
)

// Location is a best-effort geographic placement of an IP address.
// Coordinates of (0, 0) mean unknown.
type Location struct {
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// Unknown is true when the provider could not place the IP (or the
	// lookup timed out / the circuit is open).
	Unknown bool `json:"unknown"`
}

// UnknownLocation is the degraded result used on any resolver failure.
func UnknownLocation() Location {
	return Location{Unknown: true}
}

// Resolver maps an IP address to a location.
type Resolver interface {
	// Resolve returns the location for an IP. Implementations must
	// return UnknownLocation rather than an error for lookup misses.
	Resolve(ctx context.Context, ip string) (Location, error)
}

// StaticResolver resolves from a fixed table. Used in development, tests,
// and as the fallback when no provider is configured.
type StaticResolver struct {
	table map[string]Location
}

// NewStaticResolver creates a resolver over a fixed IP table.
func NewStaticResolver(table map[string]Location) *StaticResolver {
	if table == nil {
		table = make(map[string]Location)
	}
	return &StaticResolver{table: table}
}

// Resolve returns the table entry for the IP, or unknown.
func (r *StaticResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	if loc, ok := r.table[ip]; ok {
		return loc, nil
	}
	return UnknownLocation(), nil
}

// TimeoutResolver bounds each resolve call. On timeout it returns an
// unknown location instead of an error.
type TimeoutResolver struct {
	inner   Resolver
	timeout time.Duration
}

// NewTimeoutResolver wraps a resolver with a per-call deadline.
func NewTimeoutResolver(inner Resolver, timeout time.Duration) *TimeoutResolver {
	return &TimeoutResolver{inner: inner, timeout: timeout}
}

// Resolve calls the inner resolver under a deadline.
func (r *TimeoutResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		loc Location
		err error
	}
	ch := make(chan result, 1)
	go func() {
		loc, err := r.inner.Resolve(ctx, ip)
		ch <- result{loc: loc, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return UnknownLocation(), res.err
		}
		return res.loc, nil
	case <-ctx.Done():
		return UnknownLocation(), nil
	}
}
