// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/logging"
)

// MatcherConfig holds matching thresholds. Both values are operator policy.
type MatcherConfig struct {
	// MinMatchConfidence is the confidence below which even an exact
	// signature match is treated as a new device.
	MinMatchConfidence int `json:"min_match_confidence"`

	// NearMatchPenalty is subtracted from confidence when only a
	// near-match is found.
	NearMatchPenalty int `json:"near_match_penalty"`
}

// DefaultMatcherConfig returns sensible defaults.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MinMatchConfidence: 40,
		NearMatchPenalty:   25,
	}
}

// Matcher resolves raw client signals to a stable device identity.
type Matcher struct {
	store  Store
	config MatcherConfig
	mu     sync.RWMutex

	seclog *logging.SecurityLogger
}

// NewMatcher creates a new fingerprint matcher.
func NewMatcher(store Store, config MatcherConfig) *Matcher {
	return &Matcher{
		store:  store,
		config: config,
		seclog: logging.NewSecurityLogger("fingerprint"),
	}
}

// Configure updates the matcher thresholds.
func (m *Matcher) Configure(config MatcherConfig) error {
	if config.MinMatchConfidence < 0 || config.MinMatchConfidence > 100 {
		return errs.InvalidInputf("min_match_confidence must be 0-100")
	}
	if config.NearMatchPenalty < 0 || config.NearMatchPenalty > 100 {
		return errs.InvalidInputf("near_match_penalty must be 0-100")
	}
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return nil
}

// Match resolves the signal bag to a fingerprint for the user. Matching
// never fails on degraded signals; only a missing user ID is an error.
//
// Lookup order: exact signature match, then near-match on the stable-key
// subset (browser update), then new device. Every match upserts the
// last-seen timestamp; records are never deleted as a side effect.
func (m *Matcher) Match(ctx context.Context, userID string, signals RawSignals) (*MatchResult, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}

	m.mu.RLock()
	config := m.config
	m.mu.RUnlock()

	signature := signals.Signature()
	confidence := signals.Confidence()
	now := time.Now()

	m.logCollision(ctx, userID, signature)

	// Exact match.
	rec, err := m.store.GetBySignature(ctx, userID, signature)
	if err == nil {
		if confidence >= config.MinMatchConfidence {
			if _, err := m.store.Upsert(ctx, &Record{
				UserID:     userID,
				Signature:  signature,
				StableKey:  signals.StableKey(),
				Confidence: confidence,
				LastSeenAt: now,
			}); err != nil {
				return nil, fmt.Errorf("upsert fingerprint: %w", err)
			}
			return &MatchResult{FingerprintID: rec.ID, Confidence: confidence, IsNewDevice: false}, nil
		}
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("fingerprint lookup: %w", err)
	}

	// Near match: same stable key, different composite signature.
	if near, ok, err := m.nearMatch(ctx, userID, signals, signature); err != nil {
		return nil, err
	} else if ok {
		nearConfidence := confidence - config.NearMatchPenalty
		if nearConfidence < 0 {
			nearConfidence = 0
		}
		if nearConfidence >= config.MinMatchConfidence {
			updated := *near
			updated.Signature = signature
			updated.StableKey = signals.StableKey()
			updated.Confidence = nearConfidence
			updated.LastSeenAt = now
			if err := m.store.Rekey(ctx, userID, near.Signature, &updated); err != nil {
				return nil, fmt.Errorf("rekey fingerprint: %w", err)
			}
			return &MatchResult{FingerprintID: near.ID, Confidence: nearConfidence, IsNewDevice: false}, nil
		}
	}

	// New device.
	created, err := m.store.Upsert(ctx, &Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Signature:   signature,
		StableKey:   signals.StableKey(),
		Confidence:  confidence,
		Trusted:     false,
		FirstSeenAt: now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("create fingerprint: %w", err)
	}

	return &MatchResult{FingerprintID: created.ID, Confidence: confidence, IsNewDevice: true}, nil
}

// nearMatch scans the user's records for one sharing the stable key but
// not the full signature.
func (m *Matcher) nearMatch(ctx context.Context, userID string, signals RawSignals, signature string) (*Record, bool, error) {
	stableKey := signals.StableKey()

	records, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("list fingerprints: %w", err)
	}
	for _, rec := range records {
		if rec.StableKey == stableKey && rec.Signature != signature {
			return rec, true, nil
		}
	}
	return nil, false, nil
}

// logCollision warns when the signature is already registered to a
// different user. Collisions are logged, never silently merged.
func (m *Matcher) logCollision(ctx context.Context, userID, signature string) {
	owner, err := m.store.SignatureOwner(ctx, signature)
	if err != nil || owner == "" || owner == userID {
		return
	}
	logging.Warn().
		Str("signature", logging.SanitizeToken(signature)).
		Str("user_id", userID).
		Str("owner", owner).
		Msg("fingerprint signature collision across users")
}
