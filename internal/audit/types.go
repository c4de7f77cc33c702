// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package audit provides the append-only trail of trust-state transitions.
// Every mutation the trust manager applies produces exactly one Record; a
// mutation whose record cannot be written must fail. The trail is what makes
// trust decisions reviewable after the fact.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Action categorizes a trust-state transition.
type Action string

const (
	ActionLockToIP       Action = "trust.lock_to_ip"
	ActionRequireReAuth  Action = "trust.require_reauth"
	ActionFreeze         Action = "trust.freeze"
	ActionUnfreeze       Action = "trust.unfreeze"
	ActionRevoke         Action = "trust.revoke"
	ActionPromote        Action = "trust.promote"
	ActionClearSuspicion Action = "trust.clear_suspicion"
	ActionFlagSuspicious Action = "trust.flag_suspicious"
	ActionAutoResolve    Action = "trust.auto_resolve"
	ActionSensitive      Action = "session.sensitive_action"
)

// Outcome indicates whether the transition succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record is one audited trust-state transition.
type Record struct {
	// ID is a unique identifier for this record.
	ID string `json:"id"`

	// SessionToken is the affected session. Stored in full for forensic
	// lookup; loggers must sanitize it before emitting.
	SessionToken string `json:"session_token"`

	// UserID is the session's owning user.
	UserID string `json:"user_id"`

	// Action is the transition kind.
	Action Action `json:"action"`

	// Actor is who requested the transition (operator name, or "system"
	// for policy-driven resolutions).
	Actor string `json:"actor"`

	// Reason is the mandatory human-readable justification.
	Reason string `json:"reason"`

	// Outcome records success or failure of the transition.
	Outcome Outcome `json:"outcome"`

	// Metadata carries action-specific details (bound IP, conflict ID,
	// resolution strategy).
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// CreatedAt is when the transition was applied.
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects records for queries. The zero value of each field
// means "any".
type Filter struct {
	UserID       string
	SessionToken string
	Actions      []Action
	Outcome      Outcome
	Since        time.Time
	Limit        int
}

// Store persists audit records. Append is the only write path; records are
// never updated or individually deleted, only aged out by retention.
type Store interface {
	// Append persists a new record.
	Append(ctx context.Context, rec *Record) error

	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*Record, error)

	// CountSince returns the number of matching records since the given
	// time. Used by the takeover detector for recent-bypass checks.
	CountSince(ctx context.Context, userID string, actions []Action, since time.Time) (int, error)

	// CleanupExpired removes records older than the retention cutoff.
	// Returns the count removed.
	CleanupExpired(ctx context.Context, cutoff time.Time) (int, error)
}
