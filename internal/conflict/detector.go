// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package conflict

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/fingerprint"
	"github.com/gravelight/sessionguard/internal/logging"
	"github.com/gravelight/sessionguard/internal/metrics"
	"github.com/gravelight/sessionguard/internal/session"
)

// Config holds the detection thresholds.
type Config struct {
	// MaxSpeedKmH is the maximum plausible travel speed. Commercial
	// flight cruise speed is ~900 km/h.
	MaxSpeedKmH float64

	// MinDistanceKm is the minimum distance to consider for travel
	// analysis. Short hops are ignored to avoid geolocation jitter.
	MinDistanceKm float64

	// MinTimeDelta is the minimum gap between observations to analyze.
	// Below it, travel-speed math divides by near-zero and produces
	// noise; overlapping activity windows are flagged separately.
	MinTimeDelta time.Duration

	// MaxConcurrentPerDevice is the allowed number of distinct IPs one
	// fingerprint may be active from at once.
	MaxConcurrentPerDevice int

	// MaxSessionsCompared bounds pairwise analysis. When a user has
	// more active sessions, only the newest are compared.
	MaxSessionsCompared int

	// TakeoverWindow is how far back takeover detection looks for
	// corroborating audit activity.
	TakeoverWindow time.Duration
}

// DefaultConfig returns conservative detection thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSpeedKmH:            900,
		MinDistanceKm:          100,
		MinTimeDelta:           5 * time.Minute,
		MaxConcurrentPerDevice: 3,
		MaxSessionsCompared:    50,
		TakeoverWindow:         time.Hour,
	}
}

// Detector scans a user's active sessions for conflicts. It is read-only
// with respect to sessions: detection never mutates, so it can run
// concurrently with trust operations without coordination.
type Detector struct {
	sessions     session.Repository
	fingerprints fingerprint.Store
	auditlog     audit.Store
	cfg          Config
	log          *logging.SecurityLogger
}

// NewDetector creates a conflict detector.
func NewDetector(sessions session.Repository, fingerprints fingerprint.Store, auditlog audit.Store, cfg Config) *Detector {
	return &Detector{
		sessions:     sessions,
		fingerprints: fingerprints,
		auditlog:     auditlog,
		cfg:          cfg,
		log:          logging.NewSecurityLogger("conflict"),
	}
}

// DetectConflicts scans the user's active sessions and returns all
// conflicts found, or an empty slice if there are none. Sessions that
// expire or are revoked mid-scan are skipped, not an error.
func (d *Detector) DetectConflicts(ctx context.Context, userID string) ([]*Record, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}

	active, err := d.activeSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]*Record, 0)

	records = append(records, d.detectTravel(userID, active, now)...)
	records = append(records, d.detectDuplicates(userID, active, now)...)
	records = append(records, d.detectIPLockViolations(userID, active, now)...)

	if len(records) > 0 {
		for _, rec := range records {
			metrics.ConflictsDetected.WithLabelValues(string(rec.Kind)).Inc()
		}
		d.log.LogEvent(&logging.SecurityEvent{
			Event:   "conflicts_detected",
			UserID:  userID,
			Success: true,
			Reason:  string(records[0].Kind),
		})
	}

	return records, nil
}

// FindDuplicates groups active session tokens that share both a device
// fingerprint and an IP address. Groups of one are omitted.
func (d *Detector) FindDuplicates(ctx context.Context, userID string) ([][]string, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}

	active, err := d.activeSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	type dupKey struct {
		fingerprint string
		ip          string
	}

	byKey := make(map[dupKey][]string)
	for _, s := range active {
		if s.FingerprintID == "" {
			continue
		}
		k := dupKey{fingerprint: s.FingerprintID, ip: s.IP}
		byKey[k] = append(byKey[k], s.Token)
	}

	groups := make([][]string, 0)
	for _, tokens := range byKey {
		if len(tokens) > 1 {
			sort.Strings(tokens)
			groups = append(groups, tokens)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	return groups, nil
}

// Takeover confidence contributions. The scale is additive and saturates
// at 100; weights reflect how rarely each signal fires for legitimate
// multi-device users.
const (
	takeoverTravelWeight      = 40
	takeoverExtraConflict     = 10
	takeoverDuplicateWeight   = 15
	takeoverIPLockWeight      = 20
	takeoverNewDeviceWeight   = 25
	takeoverFailedAuditWeight = 20
	takeoverSensitiveWeight   = 15

	takeoverPossibleThreshold = 30
	takeoverLikelyThreshold   = 60
)

// DetectTakeover combines conflict detection with recent audit activity
// into an account-takeover confidence. The verdict is advisory: it never
// mutates sessions.
func (d *Detector) DetectTakeover(ctx context.Context, userID string) (*TakeoverVerdict, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}

	conflicts, err := d.DetectConflicts(ctx, userID)
	if err != nil {
		return nil, err
	}

	verdict := &TakeoverVerdict{
		Signals:   make([]string, 0),
		Conflicts: conflicts,
	}

	confidence := 0
	travelSeen := false
	for _, c := range conflicts {
		switch c.Kind {
		case KindImpossibleTravel:
			if !travelSeen {
				confidence += takeoverTravelWeight
				verdict.Signals = append(verdict.Signals, "impossible_travel")
				travelSeen = true
			} else {
				confidence += takeoverExtraConflict
			}
		case KindDuplicateFingerprint:
			confidence += takeoverDuplicateWeight
			verdict.Signals = append(verdict.Signals, "duplicate_fingerprint")
		case KindIPLockViolation:
			confidence += takeoverIPLockWeight
			verdict.Signals = append(verdict.Signals, "ip_lock_violation")
		}
	}

	since := time.Now().UTC().Add(-d.cfg.TakeoverWindow)

	newDeviceBurst, err := d.hasNewDeviceNewLocation(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if newDeviceBurst {
		confidence += takeoverNewDeviceWeight
		verdict.Signals = append(verdict.Signals, "new_device_new_location")
	}

	failed, err := d.auditlog.Query(ctx, audit.Filter{
		UserID:  userID,
		Outcome: audit.OutcomeFailure,
		Since:   since,
	})
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		confidence += takeoverFailedAuditWeight
		verdict.Signals = append(verdict.Signals, "recent_failed_actions")
	}

	sensitive, err := d.auditlog.CountSince(ctx, userID, []audit.Action{audit.ActionSensitive}, since)
	if err != nil {
		return nil, err
	}
	if sensitive > 0 && (len(conflicts) > 0 || newDeviceBurst) {
		confidence += takeoverSensitiveWeight
		verdict.Signals = append(verdict.Signals, "sensitive_actions_during_conflict")
	}

	if confidence > 100 {
		confidence = 100
	}
	verdict.Confidence = confidence

	switch {
	case confidence >= takeoverLikelyThreshold:
		verdict.Band = BandLikely
	case confidence >= takeoverPossibleThreshold:
		verdict.Band = BandPossible
	default:
		verdict.Band = BandNone
	}

	metrics.TakeoverVerdicts.WithLabelValues(string(verdict.Band)).Inc()

	return verdict, nil
}

// activeSessions lists the user's active sessions capped to the newest
// MaxSessionsCompared. A session vanishing between listing and use is
// tolerated by the callers.
func (d *Detector) activeSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	active, err := d.sessions.ListActive(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	if d.cfg.MaxSessionsCompared > 0 && len(active) > d.cfg.MaxSessionsCompared {
		active = active[:d.cfg.MaxSessionsCompared]
	}

	return active, nil
}

// hasNewDeviceNewLocation reports whether a session created within the
// takeover window runs on a fingerprint first seen within the window
// from a country no earlier session of the user was seen in. Sessions
// without a fingerprint or a resolved country contribute nothing.
func (d *Detector) hasNewDeviceNewLocation(ctx context.Context, userID string, since time.Time) (bool, error) {
	active, err := d.activeSessions(ctx, userID)
	if err != nil {
		return false, err
	}

	devices, err := d.fingerprints.ListByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	firstSeen := make(map[string]time.Time, len(devices))
	established := false
	for _, rec := range devices {
		firstSeen[rec.ID] = rec.FirstSeenAt
		if rec.FirstSeenAt.Before(since) {
			established = true
		}
	}
	if !established {
		// A user whose every device is new is a new user, not a burst.
		return false, nil
	}

	for _, s := range active {
		if s.CreatedAt.Before(since) || s.FingerprintID == "" || s.Country == "" {
			continue
		}
		seen, ok := firstSeen[s.FingerprintID]
		if !ok || seen.Before(since) {
			continue
		}

		knownCountry := false
		for _, other := range active {
			if other.Token == s.Token || !other.CreatedAt.Before(s.CreatedAt) {
				continue
			}
			if other.Country == s.Country {
				knownCountry = true
				break
			}
		}
		if !knownCountry {
			return true, nil
		}
	}

	return false, nil
}

// detectTravel compares every session pair with known coordinates and
// flags pairs whose distance and activity gap imply a travel speed above
// the plausible maximum. Overlapping activity windows at distant
// locations are the strongest form of the signal and are always flagged.
func (d *Detector) detectTravel(userID string, active []*session.Session, now time.Time) []*Record {
	records := make([]*Record, 0)

	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]

			if IsUnknownLocation(a.Latitude, a.Longitude) || IsUnknownLocation(b.Latitude, b.Longitude) {
				continue
			}

			distance := haversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
			if distance < d.cfg.MinDistanceKm {
				continue
			}

			gap := activityGap(a, b)
			overlapping := gap == 0
			if !overlapping && gap < d.cfg.MinTimeDelta {
				// Too close together for reliable speed math, but far
				// enough apart in space to be infeasible regardless.
				overlapping = true
			}

			var speed float64
			if overlapping {
				speed = math.Inf(1)
			} else {
				speed = distance / gap.Hours()
				if speed <= d.cfg.MaxSpeedKmH {
					continue
				}
			}

			meta, _ := json.Marshal(TravelMetadata{
				FromCity:         a.City,
				FromCountry:      a.Country,
				ToCity:           b.City,
				ToCountry:        b.Country,
				DistanceKm:       math.Round(distance*100) / 100,
				GapMinutes:       math.Round(gap.Minutes()*100) / 100,
				RequiredSpeedKmH: roundSpeed(speed),
				MaxSpeedKmH:      d.cfg.MaxSpeedKmH,
			})

			records = append(records, &Record{
				ID:            uuid.New().String(),
				UserID:        userID,
				Kind:          KindImpossibleTravel,
				Severity:      SeverityCritical,
				SessionTokens: []string{a.Token, b.Token},
				Metadata:      meta,
				DetectedAt:    now,
				Resolution:    ResolutionUnresolved,
			})
		}
	}

	return records
}

// detectDuplicates flags fingerprints active from more distinct IPs than
// the per-device limit allows.
func (d *Detector) detectDuplicates(userID string, active []*session.Session, now time.Time) []*Record {
	byFingerprint := make(map[string][]*session.Session)
	for _, s := range active {
		if s.FingerprintID == "" {
			continue
		}
		byFingerprint[s.FingerprintID] = append(byFingerprint[s.FingerprintID], s)
	}

	fingerprints := make([]string, 0, len(byFingerprint))
	for fp := range byFingerprint {
		fingerprints = append(fingerprints, fp)
	}
	sort.Strings(fingerprints)

	records := make([]*Record, 0)
	for _, fp := range fingerprints {
		group := byFingerprint[fp]

		ipSet := make(map[string]struct{})
		tokens := make([]string, 0, len(group))
		for _, s := range group {
			ipSet[s.IP] = struct{}{}
			tokens = append(tokens, s.Token)
		}
		if len(ipSet) <= d.cfg.MaxConcurrentPerDevice {
			continue
		}

		ips := make([]string, 0, len(ipSet))
		for ip := range ipSet {
			ips = append(ips, ip)
		}
		sort.Strings(ips)
		sort.Strings(tokens)

		meta, _ := json.Marshal(DuplicateMetadata{
			FingerprintID: fp,
			IPAddresses:   ips,
			Limit:         d.cfg.MaxConcurrentPerDevice,
		})

		records = append(records, &Record{
			ID:            uuid.New().String(),
			UserID:        userID,
			Kind:          KindDuplicateFingerprint,
			Severity:      SeverityWarning,
			SessionTokens: tokens,
			Metadata:      meta,
			DetectedAt:    now,
			Resolution:    ResolutionUnresolved,
		})
	}

	return records
}

// detectIPLockViolations flags sessions bound to an IP that are now
// active from a different one.
func (d *Detector) detectIPLockViolations(userID string, active []*session.Session, now time.Time) []*Record {
	records := make([]*Record, 0)
	for _, s := range active {
		if s.IPLock == "" || s.IP == s.IPLock {
			continue
		}

		meta, _ := json.Marshal(IPLockMetadata{
			BoundIP:   s.IPLock,
			CurrentIP: s.IP,
		})

		records = append(records, &Record{
			ID:            uuid.New().String(),
			UserID:        userID,
			Kind:          KindIPLockViolation,
			Severity:      SeverityCritical,
			SessionTokens: []string{s.Token},
			Metadata:      meta,
			DetectedAt:    now,
			Resolution:    ResolutionUnresolved,
		})
	}
	return records
}

// activityGap returns the time between two sessions' activity windows
// [CreatedAt, LastActivityAt], or zero when the windows overlap. An
// overlap means the user was active in both places at once.
func activityGap(a, b *session.Session) time.Duration {
	aStart, aEnd := window(a)
	bStart, bEnd := window(b)

	if aEnd.Before(bStart) {
		return bStart.Sub(aEnd)
	}
	if bEnd.Before(aStart) {
		return aStart.Sub(bEnd)
	}
	return 0
}

func window(s *session.Session) (time.Time, time.Time) {
	start, end := s.CreatedAt, s.LastActivityAt
	if end.Before(start) {
		end = start
	}
	return start, end
}

func roundSpeed(speed float64) float64 {
	if math.IsInf(speed, 1) {
		return -1 // sentinel for "overlapping activity, speed undefined"
	}
	return math.Round(speed*100) / 100
}

// haversineDistance calculates the great-circle distance between two
// points in kilometers.
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
