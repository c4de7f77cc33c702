// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package conflict detects inconsistencies between a user's concurrent
// sessions: travel-infeasible location pairs, one device fanned out over
// many IPs, and sessions violating an IP lock. The detector only proposes;
// every resolution goes through the trust manager so one component owns
// the consistency rules.
package conflict

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// CoordinateEpsilon is the threshold for considering coordinates as
// effectively zero. A coordinate pair within this epsilon of (0, 0) means
// geolocation data is unavailable; epsilon comparison avoids IEEE 754
// equality pitfalls.
const CoordinateEpsilon = 1e-7

// IsUnknownLocation returns true if the coordinates represent an unknown
// location (the (0, 0) sentinel).
func IsUnknownLocation(lat, lon float64) bool {
	return math.Abs(lat) < CoordinateEpsilon && math.Abs(lon) < CoordinateEpsilon
}

// Kind identifies the conflict type. A closed enumeration: new kinds are
// a reviewed, compile-checked addition.
type Kind string

const (
	// KindImpossibleTravel flags two sessions whose locations are farther
	// apart than the time between them plausibly allows.
	KindImpossibleTravel Kind = "impossible_travel"

	// KindDuplicateFingerprint flags one device fingerprint active from
	// more distinct IPs than policy allows, simultaneously.
	KindDuplicateFingerprint Kind = "duplicate_fingerprint"

	// KindIPLockViolation flags a session whose current IP differs from
	// its bound IP.
	KindIPLockViolation Kind = "ip_lock_violation"
)

// Severity indicates how strongly a conflict suggests compromise.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Resolution tracks what happened to a detected conflict.
type Resolution string

const (
	ResolutionUnresolved Resolution = "unresolved"
	ResolutionAuto       Resolution = "auto_resolved"
	ResolutionManual     Resolution = "manually_resolved"
)

// Record is one detected inconsistency between two or more sessions.
type Record struct {
	// ID is a unique identifier for this record.
	ID string `json:"id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Kind is the conflict type.
	Kind Kind `json:"kind"`

	// Severity of the conflict.
	Severity Severity `json:"severity"`

	// SessionTokens references the sessions involved.
	SessionTokens []string `json:"session_tokens"`

	// Metadata carries kind-specific details for review.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// DetectedAt is when the conflict was found.
	DetectedAt time.Time `json:"detected_at"`

	// Resolution state, written only through the trust manager.
	Resolution    Resolution `json:"resolution"`
	Strategy      string     `json:"strategy,omitempty"`
	KeptTokens    []string   `json:"kept_tokens,omitempty"`
	RevokedTokens []string   `json:"revoked_tokens,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// TravelMetadata details an impossible-travel conflict.
type TravelMetadata struct {
	FromCity         string  `json:"from_city"`
	FromCountry      string  `json:"from_country"`
	ToCity           string  `json:"to_city"`
	ToCountry        string  `json:"to_country"`
	DistanceKm       float64 `json:"distance_km"`
	GapMinutes       float64 `json:"gap_minutes"`
	RequiredSpeedKmH float64 `json:"required_speed_kmh"`
	MaxSpeedKmH      float64 `json:"max_speed_kmh"`
}

// DuplicateMetadata details a duplicate-fingerprint conflict.
type DuplicateMetadata struct {
	FingerprintID string   `json:"fingerprint_id"`
	IPAddresses   []string `json:"ip_addresses"`
	Limit         int      `json:"limit"`
}

// IPLockMetadata details an ip-lock-violation conflict.
type IPLockMetadata struct {
	BoundIP   string `json:"bound_ip"`
	CurrentIP string `json:"current_ip"`
}

// TakeoverBand buckets a takeover confidence for metrics and policy.
type TakeoverBand string

const (
	BandNone     TakeoverBand = "none"
	BandPossible TakeoverBand = "possible"
	BandLikely   TakeoverBand = "likely"
)

// TakeoverVerdict is the probabilistic output of takeover detection. The
// final action (freeze vs notify vs ignore) is policy, decided by the
// caller.
type TakeoverVerdict struct {
	// Confidence in [0, 100].
	Confidence int `json:"confidence"`

	// Band buckets the confidence.
	Band TakeoverBand `json:"band"`

	// Signals names the evidence that contributed, for explainability.
	Signals []string `json:"signals"`

	// Conflicts are the supporting records.
	Conflicts []*Record `json:"conflicts"`
}

// Store persists conflict records so resolutions stay reviewable.
type Store interface {
	// Save persists a record (insert or update by ID).
	Save(ctx context.Context, rec *Record) error

	// Get retrieves a record by ID, or errs.ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// ListByUser returns a user's records, newest first. If
	// unresolvedOnly is set, resolved records are skipped.
	ListByUser(ctx context.Context, userID string, unresolvedOnly bool) ([]*Record, error)

	// CountUnresolved returns the number of unresolved records across
	// all users, for the operator summary surface.
	CountUnresolved(ctx context.Context) (int, error)
}

// sortNewestFirst orders records by detection time descending, with the
// ID as a deterministic tie-break.
func sortNewestFirst(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].DetectedAt.Equal(records[j].DetectedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].DetectedAt.After(records[j].DetectedAt)
	})
}
