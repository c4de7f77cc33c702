// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package monitor is the pure read path over session state: per-user
// stats, cheap realtime anomaly checks, daily timelines, and the rolling
// event feed. It never mutates trust state; when an anomaly warrants an
// action, the caller decides and delegates to the trust manager.
package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/conflict"
	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/fingerprint"
	"github.com/gravelight/sessionguard/internal/logging"
	"github.com/gravelight/sessionguard/internal/session"
)

// Config holds monitor policy knobs.
type Config struct {
	// MaxConcurrentPerDevice mirrors the detector's per-device limit for
	// the cheap anomaly check.
	MaxConcurrentPerDevice int

	// FrozenActivityWindow is how recently a frozen session must have
	// been active to count as an anomaly.
	FrozenActivityWindow time.Duration
}

// DefaultConfig returns the default monitor policy.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerDevice: 3,
		FrozenActivityWindow:   15 * time.Minute,
	}
}

// Monitor serves the realtime read surface.
type Monitor struct {
	sessions     session.Repository
	auditlog     audit.Store
	conflicts    conflict.Store
	fingerprints fingerprint.Store
	buffer       *EventBuffer
	cfg          Config
}

// New creates a monitor.
func New(sessions session.Repository, auditlog audit.Store, conflicts conflict.Store, fingerprints fingerprint.Store, buffer *EventBuffer, cfg Config) *Monitor {
	return &Monitor{
		sessions:     sessions,
		auditlog:     auditlog,
		conflicts:    conflicts,
		fingerprints: fingerprints,
		buffer:       buffer,
		cfg:          cfg,
	}
}

// Buffer exposes the event feed for publishers and the websocket layer.
func (m *Monitor) Buffer() *EventBuffer {
	return m.buffer
}

// Stats summarizes a user's current session population.
type Stats struct {
	ActiveSessions     int        `json:"active_sessions"`
	SuspiciousSessions int        `json:"suspicious_sessions"`
	FrozenSessions     int        `json:"frozen_sessions"`
	ReAuthRequired     int        `json:"reauth_required"`
	DistinctIPs        int        `json:"distinct_ips"`
	DistinctDevices    int        `json:"distinct_devices"`
	DistinctCountries  int        `json:"distinct_countries"`
	OldestCreatedAt    *time.Time `json:"oldest_created_at,omitempty"`
	NewestActivityAt   *time.Time `json:"newest_activity_at,omitempty"`
}

// Stats computes per-user session statistics.
func (m *Monitor) Stats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}

	active, err := m.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	ips := make(map[string]struct{})
	devices := make(map[string]struct{})
	countries := make(map[string]struct{})

	for _, s := range active {
		stats.ActiveSessions++
		if s.IsSuspicious {
			stats.SuspiciousSessions++
		}
		if s.IsFrozen {
			stats.FrozenSessions++
		}
		if s.ReAuthRequired {
			stats.ReAuthRequired++
		}
		ips[s.IP] = struct{}{}
		if s.FingerprintID != "" {
			devices[s.FingerprintID] = struct{}{}
		}
		if s.Country != "" {
			countries[s.Country] = struct{}{}
		}
		if stats.OldestCreatedAt == nil || s.CreatedAt.Before(*stats.OldestCreatedAt) {
			t := s.CreatedAt
			stats.OldestCreatedAt = &t
		}
		if stats.NewestActivityAt == nil || s.LastActivityAt.After(*stats.NewestActivityAt) {
			t := s.LastActivityAt
			stats.NewestActivityAt = &t
		}
	}
	stats.DistinctIPs = len(ips)
	stats.DistinctDevices = len(devices)
	stats.DistinctCountries = len(countries)

	return stats, nil
}

// ConcurrentSessions returns the user's active sessions, newest activity
// first, with tokens sanitized for display.
type ConcurrentSession struct {
	Token          string    `json:"token"`
	IP             string    `json:"ip"`
	FingerprintID  string    `json:"fingerprint_id,omitempty"`
	DeviceType     string    `json:"device_type,omitempty"`
	Country        string    `json:"country,omitempty"`
	City           string    `json:"city,omitempty"`
	TrustLevel     int       `json:"trust_level"`
	IsSuspicious   bool      `json:"is_suspicious"`
	IsFrozen       bool      `json:"is_frozen"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (m *Monitor) ConcurrentSessions(ctx context.Context, userID string) ([]ConcurrentSession, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}

	active, err := m.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ConcurrentSession, 0, len(active))
	for _, s := range active {
		out = append(out, ConcurrentSession{
			Token:          logging.SanitizeToken(s.Token),
			IP:             s.IP,
			FingerprintID:  s.FingerprintID,
			DeviceType:     s.DeviceType,
			Country:        s.Country,
			City:           s.City,
			TrustLevel:     s.TrustLevel,
			IsSuspicious:   s.IsSuspicious,
			IsFrozen:       s.IsFrozen,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})

	return out, nil
}

// Anomaly is one finding from the cheap realtime checks.
type Anomaly struct {
	Kind         string `json:"kind"`
	SessionToken string `json:"session_token,omitempty"`
	Detail       string `json:"detail"`
}

// Anomalies runs a real-time-safe subset of the detector's checks: only
// per-session flags and a single per-device count, no pairwise scans and
// no store writes. Safe to poll frequently.
func (m *Monitor) Anomalies(ctx context.Context, userID string) ([]Anomaly, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}

	active, err := m.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	anomalies := make([]Anomaly, 0)
	perDevice := make(map[string]int)

	for _, s := range active {
		if s.IPLock != "" && s.IP != s.IPLock {
			anomalies = append(anomalies, Anomaly{
				Kind:         "ip_lock_mismatch",
				SessionToken: logging.SanitizeToken(s.Token),
				Detail:       "session active from an ip other than its bound ip",
			})
		}
		if s.IsFrozen && now.Sub(s.LastActivityAt) < m.cfg.FrozenActivityWindow {
			anomalies = append(anomalies, Anomaly{
				Kind:         "frozen_session_activity",
				SessionToken: logging.SanitizeToken(s.Token),
				Detail:       "frozen session shows recent activity",
			})
		}
		if s.FingerprintID != "" {
			perDevice[s.FingerprintID]++
		}
	}

	devices := make([]string, 0, len(perDevice))
	for fp := range perDevice {
		devices = append(devices, fp)
	}
	sort.Strings(devices)
	for _, fp := range devices {
		if perDevice[fp] > m.cfg.MaxConcurrentPerDevice {
			anomalies = append(anomalies, Anomaly{
				Kind:   "device_session_fanout",
				Detail: "one device fingerprint has more concurrent sessions than allowed",
			})
		}
	}

	for _, a := range anomalies {
		m.buffer.Publish(Event{
			Type:         EventAnomaly,
			UserID:       userID,
			SessionToken: a.SessionToken,
			Detail:       a.Kind,
		})
	}

	return anomalies, nil
}

// TimelineBucket is one day of activity. Dates use YYYY-MM-DD in UTC.
type TimelineBucket struct {
	Date         string `json:"date"`
	Sessions     int    `json:"sessions"`
	TrustActions int    `json:"trust_actions"`
}

// Timeline buckets session creations and trust actions by day over the
// requested window. The series is fully zero-filled: exactly days
// buckets, oldest first, no gaps.
func (m *Monitor) Timeline(ctx context.Context, userID string, days int) ([]TimelineBucket, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}
	if days <= 0 || days > 365 {
		return nil, errs.InvalidInputf("days must be between 1 and 365")
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	buckets := make([]TimelineBucket, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		buckets[i] = TimelineBucket{Date: date}
		index[date] = i
	}

	active, err := m.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, s := range active {
		date := s.CreatedAt.UTC().Format("2006-01-02")
		if i, ok := index[date]; ok {
			buckets[i].Sessions++
		}
	}

	records, err := m.auditlog.Query(ctx, audit.Filter{UserID: userID, Since: start})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		date := rec.CreatedAt.UTC().Format("2006-01-02")
		if i, ok := index[date]; ok {
			buckets[i].TrustActions++
		}
	}

	return buckets, nil
}

// Events returns the user's recent feed entries, newest first.
func (m *Monitor) Events(ctx context.Context, userID string, limit int) ([]Event, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}
	return m.buffer.Recent(userID, limit), nil
}

// UserSummary aggregates a user's security posture for dashboards. Raw
// fingerprint signatures never appear here.
type UserSummary struct {
	Stats               *Stats   `json:"stats"`
	UnresolvedConflicts int      `json:"unresolved_conflicts"`
	TrustedDevices      int      `json:"trusted_devices"`
	UnknownDevices      int      `json:"unknown_devices"`
	RecentAnomalies     int      `json:"recent_anomalies"`
	AnomalyKinds        []string `json:"anomaly_kinds,omitempty"`
}

// Summary builds the per-user dashboard aggregate.
func (m *Monitor) Summary(ctx context.Context, userID string) (*UserSummary, error) {
	stats, err := m.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	open, err := m.conflicts.ListByUser(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	devices, err := m.fingerprints.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	trusted, unknown := 0, 0
	for _, d := range devices {
		if d.Trusted {
			trusted++
		} else {
			unknown++
		}
	}

	anomalies, err := m.Anomalies(ctx, userID)
	if err != nil {
		return nil, err
	}
	kinds := make([]string, 0)
	seen := make(map[string]struct{})
	for _, a := range anomalies {
		if _, ok := seen[a.Kind]; !ok {
			seen[a.Kind] = struct{}{}
			kinds = append(kinds, a.Kind)
		}
	}
	sort.Strings(kinds)

	return &UserSummary{
		Stats:               stats,
		UnresolvedConflicts: len(open),
		TrustedDevices:      trusted,
		UnknownDevices:      unknown,
		RecentAnomalies:     len(anomalies),
		AnomalyKinds:        kinds,
	}, nil
}
