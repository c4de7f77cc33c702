// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package risk computes a risk assessment for a session-creation or
// session-continuation event. Scoring is a weighted sum over independent
// factors and is strictly deterministic: the same context and baseline
// always produce a bit-identical assessment. No wall clock is read inside
// the scoring path; the event time arrives on the context.
package risk

import (
	"context"
	"sort"
	"time"

	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/metrics"
)

// Category buckets a score for policy decisions. Exact boundaries are
// configuration, not contract.
type Category string

const (
	CategoryLow      Category = "low"
	CategoryMedium   Category = "medium"
	CategoryHigh     Category = "high"
	CategoryCritical Category = "critical"
)

// Factor names. The closed set of signals the engine understands.
const (
	FactorNewDevice     = "new_device"
	FactorNewLocation   = "new_location"
	FactorSuspiciousIP  = "suspicious_ip"
	FactorUnusualHour   = "unusual_hour"
	FactorRapidCreation = "rapid_creation"
)

// FactorContribution is one fired signal and its weight, for
// explainability. The assessment lists contributions in descending weight
// order so a reviewer can see at a glance why a session was flagged.
type FactorContribution struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Assessment is the output of one scoring invocation.
type Assessment struct {
	// Score in [0, 100]; higher is riskier.
	Score int `json:"score"`

	// Category per the configured boundaries.
	Category Category `json:"category"`

	// Factors lists fired signals in descending contribution order.
	// Explainability is a hard contract, not an optimization.
	Factors []FactorContribution `json:"factors"`
}

// Baseline is a snapshot of the user's historical activity pattern. The
// caller assembles it from the session repository before scoring so the
// engine itself stays pure. A zero Baseline (no history) makes the
// history-dependent factors non-triggering rather than erroring.
type Baseline struct {
	// HasHistory is false for new users with no activity pattern.
	HasHistory bool `json:"has_history"`

	// ActiveHours marks the UTC hours in which the user habitually has
	// activity. unusual_hour fires when the event hour is unmarked.
	ActiveHours [24]bool `json:"active_hours"`

	// RecentCreations is the number of sessions the user created inside
	// the configured rapid-creation window, read from the store so it
	// survives restarts and is shared across instances.
	RecentCreations int `json:"recent_creations"`
}

// Context carries the signals for one scoring invocation. IsNewDevice and
// IsNewLocation are supplied by the caller, typically from the fingerprint
// matcher and a geolocation lookup.
type Context struct {
	UserID     string `json:"user_id"`
	IP         string `json:"ip"`
	Country    string `json:"country,omitempty"`
	City       string `json:"city,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Browser    string `json:"browser,omitempty"`

	IsNewDevice   bool `json:"is_new_device"`
	IsNewLocation bool `json:"is_new_location"`

	// SuspiciousIP is an optional external signal (known-bad range,
	// hosting/VPN-flagged address).
	SuspiciousIP bool `json:"suspicious_ip"`

	// EventTime is when the event happened. The engine never reads the
	// wall clock itself.
	EventTime time.Time `json:"event_time"`

	Baseline Baseline `json:"baseline"`
}

// Config holds scoring weights and category boundaries. All values are
// operator policy; the defaults are illustrative and need tuning.
type Config struct {
	NewDeviceWeight     int `json:"new_device_weight"`
	NewLocationWeight   int `json:"new_location_weight"`
	SuspiciousIPWeight  int `json:"suspicious_ip_weight"`
	UnusualHourWeight   int `json:"unusual_hour_weight"`
	RapidCreationWeight int `json:"rapid_creation_weight"`

	// RapidCreationCount triggers the rapid_creation factor when the
	// baseline's recent-creation count reaches it.
	RapidCreationCount int `json:"rapid_creation_count"`

	// Category boundaries: score < MediumThreshold is low, and so on.
	MediumThreshold   int `json:"medium_threshold"`
	HighThreshold     int `json:"high_threshold"`
	CriticalThreshold int `json:"critical_threshold"`
}

// DefaultConfig returns illustrative default weights.
func DefaultConfig() Config {
	return Config{
		NewDeviceWeight:     30,
		NewLocationWeight:   30,
		SuspiciousIPWeight:  20,
		UnusualHourWeight:   10,
		RapidCreationWeight: 20,
		RapidCreationCount:  5,
		MediumThreshold:     25,
		HighThreshold:       50,
		CriticalThreshold:   75,
	}
}

// Engine scores session events against the configured policy.
type Engine struct {
	config Config
}

// NewEngine creates a scoring engine.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// Score computes the risk assessment for one event. Missing optional data
// never errors; missing required fields (user ID, IP) return
// errs.ErrInvalidInput.
func (e *Engine) Score(ctx context.Context, sctx Context) (*Assessment, error) {
	if sctx.UserID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}
	if sctx.IP == "" {
		return nil, errs.InvalidInputf("ip is required")
	}

	var fired []FactorContribution

	if sctx.IsNewDevice {
		fired = append(fired, FactorContribution{Name: FactorNewDevice, Weight: e.config.NewDeviceWeight})
	}
	if sctx.IsNewLocation {
		fired = append(fired, FactorContribution{Name: FactorNewLocation, Weight: e.config.NewLocationWeight})
	}
	if sctx.SuspiciousIP {
		fired = append(fired, FactorContribution{Name: FactorSuspiciousIP, Weight: e.config.SuspiciousIPWeight})
	}
	if e.unusualHour(sctx) {
		fired = append(fired, FactorContribution{Name: FactorUnusualHour, Weight: e.config.UnusualHourWeight})
	}
	if sctx.Baseline.RecentCreations >= e.config.RapidCreationCount {
		fired = append(fired, FactorContribution{Name: FactorRapidCreation, Weight: e.config.RapidCreationWeight})
	}

	// Descending contribution order; ties break by name so repeated
	// invocations order identically.
	sort.Slice(fired, func(i, j int) bool {
		if fired[i].Weight != fired[j].Weight {
			return fired[i].Weight > fired[j].Weight
		}
		return fired[i].Name < fired[j].Name
	})

	score := 0
	for _, f := range fired {
		score += f.Weight
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	assessment := &Assessment{
		Score:    score,
		Category: e.categorize(score),
		Factors:  fired,
	}

	metrics.RiskAssessments.WithLabelValues(string(assessment.Category)).Inc()
	metrics.RiskScoreDistribution.Observe(float64(score))

	return assessment, nil
}

// unusualHour fires when the user has history and the event hour falls
// outside the habitual pattern. Without history it never triggers.
func (e *Engine) unusualHour(sctx Context) bool {
	if !sctx.Baseline.HasHistory {
		return false
	}
	return !sctx.Baseline.ActiveHours[sctx.EventTime.UTC().Hour()]
}

// categorize maps a score onto the configured category boundaries.
func (e *Engine) categorize(score int) Category {
	switch {
	case score >= e.config.CriticalThreshold:
		return CategoryCritical
	case score >= e.config.HighThreshold:
		return CategoryHigh
	case score >= e.config.MediumThreshold:
		return CategoryMedium
	default:
		return CategoryLow
	}
}
