// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package session defines the session model and the repository contract the
// rest of the engine reads and mutates through. The repository is the only
// shared mutable resource; all trust-affecting writes go through the trust
// manager, which uses the versioned Update path here.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gravelight/sessionguard/internal/audit"
)

// Session represents one authenticated session. The token is a capability:
// it is stored and compared in full but must never be logged in full.
type Session struct {
	// Token is the opaque session identifier.
	Token string `json:"token"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Network and device context.
	IP            string  `json:"ip"`
	FingerprintID string  `json:"fingerprint_id,omitempty"`
	DeviceType    string  `json:"device_type,omitempty"`
	Browser       string  `json:"browser,omitempty"`
	OS            string  `json:"os,omitempty"`
	Country       string  `json:"country,omitempty"`
	City          string  `json:"city,omitempty"`
	Latitude      float64 `json:"latitude,omitempty"`
	Longitude     float64 `json:"longitude,omitempty"`

	// Trust state. Only the trust manager writes these fields.
	TrustLevel     int    `json:"trust_level"`
	IsSuspicious   bool   `json:"is_suspicious"`
	IsFrozen       bool   `json:"is_frozen"`
	IPLock         string `json:"ip_lock,omitempty"`
	ReAuthRequired bool   `json:"reauth_required"`
	Revoked        bool   `json:"revoked"`
	RevokedReason  string `json:"revoked_reason,omitempty"`

	// Lifecycle timestamps.
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	// Version supports compare-and-swap updates. Incremented on every
	// successful Update.
	Version uint64 `json:"version"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsActive returns true if the session is usable: not expired, not revoked,
// not frozen.
func (s *Session) IsActive() bool {
	return !s.IsExpired() && !s.Revoked && !s.IsFrozen
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := *s
	return &cp
}

// NewToken generates a cryptographically secure session token.
func NewToken() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback keeps login working even if the entropy source fails.
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(bytes)
}

// Patch describes a partial session update. Nil fields are left unchanged.
// An explicit empty-string IPLock clears the lock.
type Patch struct {
	IP             *string
	FingerprintID  *string
	Country        *string
	City           *string
	Latitude       *float64
	Longitude      *float64
	TrustLevel     *int
	IsSuspicious   *bool
	IsFrozen       *bool
	IPLock         *string
	ReAuthRequired *bool
	Revoked        *bool
	RevokedReason  *string
	LastActivityAt *time.Time
	ExpiresAt      *time.Time
}

// Apply writes the patch onto a session. The version bump is the store's
// responsibility, not the patch's.
func (p *Patch) Apply(s *Session) {
	if p.IP != nil {
		s.IP = *p.IP
	}
	if p.FingerprintID != nil {
		s.FingerprintID = *p.FingerprintID
	}
	if p.Country != nil {
		s.Country = *p.Country
	}
	if p.City != nil {
		s.City = *p.City
	}
	if p.Latitude != nil {
		s.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		s.Longitude = *p.Longitude
	}
	if p.TrustLevel != nil {
		s.TrustLevel = *p.TrustLevel
	}
	if p.IsSuspicious != nil {
		s.IsSuspicious = *p.IsSuspicious
	}
	if p.IsFrozen != nil {
		s.IsFrozen = *p.IsFrozen
	}
	if p.IPLock != nil {
		s.IPLock = *p.IPLock
	}
	if p.ReAuthRequired != nil {
		s.ReAuthRequired = *p.ReAuthRequired
	}
	if p.Revoked != nil {
		s.Revoked = *p.Revoked
	}
	if p.RevokedReason != nil {
		s.RevokedReason = *p.RevokedReason
	}
	if p.LastActivityAt != nil {
		s.LastActivityAt = *p.LastActivityAt
	}
	if p.ExpiresAt != nil {
		s.ExpiresAt = *p.ExpiresAt
	}
}

// Repository is the session store contract. Updates are compare-and-swap on
// the session version; a mismatch returns errs.ErrConflictRetryable so the
// trust manager can retry with a fresh read.
type Repository interface {
	// Create stores a new session. The version starts at 1.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by token. Returns errs.ErrNotFound if the
	// session does not exist.
	Get(ctx context.Context, token string) (*Session, error)

	// ListActive returns a user's non-expired, non-revoked sessions,
	// newest activity first.
	ListActive(ctx context.Context, userID string) ([]*Session, error)

	// Update applies the patch if the stored version equals
	// expectedVersion, incrementing the version. Returns the updated
	// session, or errs.ErrConflictRetryable on a version mismatch.
	Update(ctx context.Context, token string, patch Patch, expectedVersion uint64) (*Session, error)

	// UpdateWithAudit applies the patch and appends the audit record as
	// one transactional unit. If the audit append fails, the update does
	// not happen.
	UpdateWithAudit(ctx context.Context, token string, patch Patch, expectedVersion uint64, rec *audit.Record) (*Session, error)

	// CountCreatedSince returns how many sessions the user created after
	// the given time, including expired and revoked ones. Backs the
	// rapid-creation risk factor; the counter lives in the store so it
	// survives restarts and is shared across instances.
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)

	// Touch updates the session's last-activity time without a version
	// check; activity tracking tolerates lost updates.
	Touch(ctx context.Context, token string, at time.Time) error

	// CleanupExpired removes expired sessions. Returns the count removed.
	CleanupExpired(ctx context.Context) (int, error)
}
