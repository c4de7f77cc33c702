// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package trust is the sole mutator of trust-affecting session state.
// Every entry point applies its change through a versioned update retried
// on conflict, and appends exactly one audit record as part of the same
// unit. A mutation whose audit record cannot be written fails. No
// in-process lock is held across store calls; the store's version check
// is what serializes concurrent mutations on one session.
package trust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/conflict"
	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/logging"
	"github.com/gravelight/sessionguard/internal/metrics"
	"github.com/gravelight/sessionguard/internal/session"
)

// Strategy selects how auto-resolution picks the surviving session.
type Strategy string

const (
	// StrategyKeepNewest keeps the session with the latest activity.
	StrategyKeepNewest Strategy = "keep_newest"

	// StrategyKeepMostTrusted keeps the session with the highest trust
	// level, breaking ties by latest activity.
	StrategyKeepMostTrusted Strategy = "keep_most_trusted"
)

// Config holds the trust manager's retry policy.
type Config struct {
	// MaxRetries bounds version-conflict retries per mutation.
	MaxRetries int

	// RetryBackoff is the base delay between retries, doubled each
	// attempt.
	RetryBackoff time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		RetryBackoff: 25 * time.Millisecond,
	}
}

// Manager applies trust mutations to sessions.
type Manager struct {
	sessions  session.Repository
	auditlog  audit.Store
	conflicts conflict.Store
	detector  *conflict.Detector
	cfg       Config
	log       *logging.SecurityLogger
}

// NewManager creates a trust manager.
func NewManager(sessions session.Repository, auditlog audit.Store, conflicts conflict.Store, detector *conflict.Detector, cfg Config) *Manager {
	return &Manager{
		sessions:  sessions,
		auditlog:  auditlog,
		conflicts: conflicts,
		detector:  detector,
		cfg:       cfg,
		log:       logging.NewSecurityLogger("trust"),
	}
}

// LockToIP binds a session to exactly one IP address. Enforcement of the
// lock happens at the request boundary; this records and exposes it.
func (m *Manager) LockToIP(ctx context.Context, token, ip, actor, reason string) (*session.Session, error) {
	if ip == "" {
		return nil, errs.InvalidInputf("ip is required")
	}
	return m.mutate(ctx, token, actor, reason, audit.ActionLockToIP, metadataJSON(map[string]string{"bound_ip": ip}),
		func(s *session.Session) (session.Patch, error) {
			if s.IsFrozen {
				return session.Patch{}, errs.ErrSessionFrozen
			}
			return session.Patch{IPLock: &ip}, nil
		})
}

// RequireReAuth marks the session as needing a fresh authentication
// before sensitive actions. The session remains readable.
func (m *Manager) RequireReAuth(ctx context.Context, token, actor, reason string) (*session.Session, error) {
	return m.mutate(ctx, token, actor, reason, audit.ActionRequireReAuth, nil,
		func(s *session.Session) (session.Patch, error) {
			if s.IsFrozen {
				return session.Patch{}, errs.ErrSessionFrozen
			}
			v := true
			return session.Patch{ReAuthRequired: &v}, nil
		})
}

// Freeze fully suspends the session until an explicit Unfreeze. Freezing
// an already frozen session is a no-op.
func (m *Manager) Freeze(ctx context.Context, token, actor, reason string) (*session.Session, error) {
	return m.mutate(ctx, token, actor, reason, audit.ActionFreeze, nil,
		func(s *session.Session) (session.Patch, error) {
			if s.IsFrozen {
				return session.Patch{}, errAlreadyInState
			}
			v := true
			return session.Patch{IsFrozen: &v}, nil
		})
}

// Unfreeze lifts a freeze. It is the only privileged mutation permitted
// on a frozen session, and the actor must supply a reason for the audit
// trail. Unfreezing a session that is not frozen is a no-op.
func (m *Manager) Unfreeze(ctx context.Context, token, actor, reason string) (*session.Session, error) {
	return m.mutate(ctx, token, actor, reason, audit.ActionUnfreeze, nil,
		func(s *session.Session) (session.Patch, error) {
			if !s.IsFrozen {
				return session.Patch{}, errAlreadyInState
			}
			v := false
			return session.Patch{IsFrozen: &v}, nil
		})
}

// FlagSuspicious sets the sticky suspicion flag.
func (m *Manager) FlagSuspicious(ctx context.Context, token, actor, reason string) (*session.Session, error) {
	return m.mutate(ctx, token, actor, reason, audit.ActionFlagSuspicious, nil,
		func(s *session.Session) (session.Patch, error) {
			if s.IsFrozen {
				return session.Patch{}, errs.ErrSessionFrozen
			}
			v := true
			return session.Patch{IsSuspicious: &v}, nil
		})
}

// ClearSuspicion clears the suspicion flag. Suspicion is sticky: nothing
// clears it except this explicit call.
func (m *Manager) ClearSuspicion(ctx context.Context, token, actor, reason string) (*session.Session, error) {
	return m.mutate(ctx, token, actor, reason, audit.ActionClearSuspicion, nil,
		func(s *session.Session) (session.Patch, error) {
			if s.IsFrozen {
				return session.Patch{}, errs.ErrSessionFrozen
			}
			v := false
			return session.Patch{IsSuspicious: &v}, nil
		})
}

// PromoteTrust raises the session's trust level. Trust never decreases
// through this path; a level at or below the current one is a no-op.
func (m *Manager) PromoteTrust(ctx context.Context, token string, level int, actor, reason string) (*session.Session, error) {
	if level < 0 {
		return nil, errs.InvalidInputf("trust level must be non-negative")
	}
	return m.mutate(ctx, token, actor, reason, audit.ActionPromote, metadataJSON(map[string]int{"trust_level": level}),
		func(s *session.Session) (session.Patch, error) {
			if s.IsFrozen {
				return session.Patch{}, errs.ErrSessionFrozen
			}
			if level <= s.TrustLevel {
				return session.Patch{}, errAlreadyInState
			}
			return session.Patch{TrustLevel: &level}, nil
		})
}

// Revoke terminates a session. Revocation is permitted on frozen
// sessions; it only narrows capability further.
func (m *Manager) Revoke(ctx context.Context, token, actor, reason string) (*session.Session, error) {
	return m.mutate(ctx, token, actor, reason, audit.ActionRevoke, nil,
		func(s *session.Session) (session.Patch, error) {
			if s.Revoked {
				return session.Patch{}, errAlreadyInState
			}
			v := true
			return session.Patch{Revoked: &v, RevokedReason: &reason}, nil
		})
}

// RecordSensitiveAction appends an audit record for a sensitive action
// attempted on the session (password change, payout, email change). The
// session state is untouched; takeover detection weighs sensitive
// activity that coincides with open conflicts or a new-device burst.
func (m *Manager) RecordSensitiveAction(ctx context.Context, token, actor, name string) error {
	if token == "" {
		return errs.InvalidInputf("session token is required")
	}
	if name == "" {
		return errs.InvalidInputf("action name is required")
	}
	if actor == "" {
		actor = "system"
	}

	s, err := m.sessions.Get(ctx, token)
	if err != nil {
		return err
	}

	rec := &audit.Record{
		ID:           uuid.New().String(),
		SessionToken: token,
		UserID:       s.UserID,
		Action:       audit.ActionSensitive,
		Actor:        actor,
		Reason:       name,
		Outcome:      audit.OutcomeSuccess,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.auditlog.Append(ctx, rec); err != nil {
		return fmt.Errorf("sensitive action on session %s: %w", logging.SanitizeToken(token), errs.ErrAuditWriteFailed)
	}
	return nil
}

// errAlreadyInState is an internal signal from a mutation builder that
// the session is already in the requested state. The mutation succeeds
// without a write or an audit record.
var errAlreadyInState = errors.New("already in requested state")

// mutate runs one audited trust mutation through the optimistic
// concurrency loop. Mutations from this process and from outside it
// alike are rejected by the version check in UpdateWithAudit and retried
// from a fresh read, so no lock is held while the store call is in
// flight.
func (m *Manager) mutate(ctx context.Context, token, actor, reason string, action audit.Action, metadata json.RawMessage, build func(*session.Session) (session.Patch, error)) (*session.Session, error) {
	if token == "" {
		return nil, errs.InvalidInputf("session token is required")
	}
	if actor == "" {
		return nil, errs.InvalidInputf("actor is required")
	}
	if reason == "" {
		return nil, errs.InvalidInputf("reason is required")
	}

	updated, err := m.applyWithRetry(ctx, token, actor, reason, action, metadata, build)
	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
		m.recordFailure(ctx, token, actor, reason, action, err)
	}
	metrics.TrustMutations.WithLabelValues(string(action), string(outcome)).Inc()

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	m.log.LogEvent(&logging.SecurityEvent{
		Event:        string(action),
		SessionToken: token,
		Actor:        actor,
		Reason:       reason,
		Success:      err == nil,
		Error:        errMsg,
	})

	return updated, err
}

func (m *Manager) applyWithRetry(ctx context.Context, token, actor, reason string, action audit.Action, metadata json.RawMessage, build func(*session.Session) (session.Patch, error)) (*session.Session, error) {
	backoff := m.cfg.RetryBackoff

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		current, err := m.sessions.Get(ctx, token)
		if err != nil {
			return nil, err
		}

		patch, err := build(current)
		if errors.Is(err, errAlreadyInState) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}

		rec := &audit.Record{
			ID:           uuid.New().String(),
			SessionToken: token,
			UserID:       current.UserID,
			Action:       action,
			Actor:        actor,
			Reason:       reason,
			Outcome:      audit.OutcomeSuccess,
			Metadata:     metadata,
			CreatedAt:    time.Now().UTC(),
		}

		updated, err := m.sessions.UpdateWithAudit(ctx, token, patch, current.Version, rec)
		if errors.Is(err, errs.ErrConflictRetryable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	metrics.TrustRetriesExhausted.Inc()
	return nil, fmt.Errorf("%s on session %s: %w", action, logging.SanitizeToken(token), errs.ErrConflictExhausted)
}

// recordFailure appends a failure record so rejected mutations feed the
// takeover detector's recent-failed-actions signal. Best effort: a
// failure to record a failure is logged, not propagated.
func (m *Manager) recordFailure(ctx context.Context, token, actor, reason string, action audit.Action, cause error) {
	s, err := m.sessions.Get(ctx, token)
	if err != nil {
		return
	}

	rec := &audit.Record{
		ID:           uuid.New().String(),
		SessionToken: token,
		UserID:       s.UserID,
		Action:       action,
		Actor:        actor,
		Reason:       reason,
		Outcome:      audit.OutcomeFailure,
		Metadata:     metadataJSON(map[string]string{"error": cause.Error()}),
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.auditlog.Append(ctx, rec); err != nil {
		logging.Err(err).Str("action", string(action)).Msg("failed to record audit failure entry")
	}
}

func metadataJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
