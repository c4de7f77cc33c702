// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package trust

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/conflict"
	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/session"
)

// ResolutionResult summarizes one auto-resolution pass.
type ResolutionResult struct {
	Strategy Strategy            `json:"strategy"`
	Resolved []*conflict.Record  `json:"resolved"`
	Kept     map[string][]string `json:"kept"`    // conflict ID -> kept tokens
	Revoked  map[string][]string `json:"revoked"` // conflict ID -> revoked tokens
}

// AutoResolveConflicts detects the user's conflicts and resolves each one
// by revoking sessions per the strategy. Each revocation carries one
// audit record whose reason is the conflict ID. After resolving, the
// detector's predicate is re-run; any conflict left standing among
// still-active sessions is an error, not a warning.
func (m *Manager) AutoResolveConflicts(ctx context.Context, userID string, strategy Strategy, actor string) (*ResolutionResult, error) {
	if userID == "" {
		return nil, errs.InvalidInputf("user id is required")
	}
	if actor == "" {
		return nil, errs.InvalidInputf("actor is required")
	}
	switch strategy {
	case StrategyKeepNewest, StrategyKeepMostTrusted:
	default:
		return nil, errs.InvalidInputf("unknown resolution strategy %q", strategy)
	}

	detected, err := m.detector.DetectConflicts(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ResolutionResult{
		Strategy: strategy,
		Resolved: make([]*conflict.Record, 0, len(detected)),
		Kept:     make(map[string][]string),
		Revoked:  make(map[string][]string),
	}

	for _, rec := range detected {
		if err := m.conflicts.Save(ctx, rec); err != nil {
			return nil, err
		}

		kept, revoked, err := m.resolveOne(ctx, rec, strategy, actor)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		rec.Resolution = conflict.ResolutionAuto
		rec.Strategy = string(strategy)
		rec.KeptTokens = kept
		rec.RevokedTokens = revoked
		rec.ResolvedAt = &now
		if err := m.conflicts.Save(ctx, rec); err != nil {
			return nil, err
		}

		result.Resolved = append(result.Resolved, rec)
		result.Kept[rec.ID] = kept
		result.Revoked[rec.ID] = revoked
	}

	if len(detected) > 0 {
		if err := m.verifyConvergence(ctx, userID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// resolveOne revokes the losing sessions of a single conflict. Sessions
// that vanished or were already revoked, whether by an earlier conflict
// in the same pass or by a concurrent pass, are skipped.
func (m *Manager) resolveOne(ctx context.Context, rec *conflict.Record, strategy Strategy, actor string) (kept, revoked []string, err error) {
	sessions := make([]*session.Session, 0, len(rec.SessionTokens))
	for _, token := range rec.SessionTokens {
		s, err := m.sessions.Get(ctx, token)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		if s.Revoked || s.IsExpired() {
			continue
		}
		sessions = append(sessions, s)
	}

	if len(sessions) == 0 {
		return nil, nil, nil
	}

	var survivor *session.Session
	if rec.Kind == conflict.KindIPLockViolation {
		// A lock violation has no legitimate survivor among the
		// violating sessions; revoke them all.
		survivor = nil
	} else {
		survivor = pickSurvivor(sessions, strategy)
	}

	for _, s := range sessions {
		if survivor != nil && s.Token == survivor.Token {
			kept = append(kept, s.Token)
			continue
		}

		meta := metadataJSON(map[string]string{
			"conflict_id": rec.ID,
			"kind":        string(rec.Kind),
			"strategy":    string(strategy),
		})
		v := true
		reason := rec.ID
		_, err := m.mutate(ctx, s.Token, actor, reason, audit.ActionAutoResolve, meta,
			func(cur *session.Session) (session.Patch, error) {
				if cur.Revoked {
					return session.Patch{}, errAlreadyInState
				}
				return session.Patch{Revoked: &v, RevokedReason: &reason}, nil
			})
		if err != nil {
			return nil, nil, fmt.Errorf("auto-resolve conflict %s: %w", rec.ID, err)
		}
		revoked = append(revoked, s.Token)
	}

	return kept, revoked, nil
}

// pickSurvivor selects the session to keep. keep_newest prefers the
// latest activity; keep_most_trusted prefers the highest trust level with
// activity as the tie-break. The token is the final tie-break so the
// choice is deterministic.
func pickSurvivor(sessions []*session.Session, strategy Strategy) *session.Session {
	sorted := make([]*session.Session, len(sessions))
	copy(sorted, sessions)

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if strategy == StrategyKeepMostTrusted && a.TrustLevel != b.TrustLevel {
			return a.TrustLevel > b.TrustLevel
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.Token < b.Token
	})

	return sorted[0]
}

// verifyConvergence re-runs detection and fails if any conflict remains
// whose sessions are all still active.
func (m *Manager) verifyConvergence(ctx context.Context, userID string) error {
	remaining, err := m.detector.DetectConflicts(ctx, userID)
	if err != nil {
		return err
	}

	for _, rec := range remaining {
		allActive := true
		for _, token := range rec.SessionTokens {
			s, err := m.sessions.Get(ctx, token)
			if err != nil || s.Revoked || s.IsExpired() {
				allActive = false
				break
			}
		}
		if allActive {
			return fmt.Errorf("conflict %s (%s) persists after resolution for user %s", rec.ID, rec.Kind, userID)
		}
	}

	return nil
}
