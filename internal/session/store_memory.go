// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/errs"
)

// MemoryStore is an in-memory Repository for development and tests.
// Production deployments use BadgerStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	auditlog audit.Store
}

// NewMemoryStore creates a new in-memory session store. The audit store is
// used by UpdateWithAudit; it may be nil if that path is never exercised.
func NewMemoryStore(auditlog audit.Store) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		auditlog: auditlog,
	}
}

// Create stores a new session.
func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	if sess.Token == "" {
		return errs.InvalidInputf("session token is empty")
	}
	if sess.UserID == "" {
		return errs.InvalidInputf("user id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.Token]; exists {
		return fmt.Errorf("session already exists")
	}

	stored := sess.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.sessions[sess.Token] = stored
	sess.Version = stored.Version
	return nil
}

// Get retrieves a session by token.
func (s *MemoryStore) Get(ctx context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, errs.NotFoundf("session %s", token[:min(8, len(token))])
	}
	return sess.Clone(), nil
}

// ListActive returns a user's active sessions, newest activity first.
func (s *MemoryStore) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.IsExpired() && !sess.Revoked {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// Update applies the patch under a version check.
func (s *MemoryStore) Update(ctx context.Context, token string, patch Patch, expectedVersion uint64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(token, patch, expectedVersion)
}

// UpdateWithAudit applies the patch and appends the audit record as one
// unit. On audit failure the session is restored to its prior state.
func (s *MemoryStore) UpdateWithAudit(ctx context.Context, token string, patch Patch, expectedVersion uint64, rec *audit.Record) (*Session, error) {
	if rec == nil {
		return nil, errs.InvalidInputf("audit record is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.sessions[token]
	if !ok {
		return nil, errs.NotFoundf("session %s", token[:min(8, len(token))])
	}
	prevCopy := prev.Clone()

	updated, err := s.updateLocked(token, patch, expectedVersion)
	if err != nil {
		return nil, err
	}

	if err := s.auditlog.Append(ctx, rec); err != nil {
		s.sessions[token] = prevCopy
		return nil, fmt.Errorf("%w: %v", errs.ErrAuditWriteFailed, err)
	}
	return updated, nil
}

// updateLocked performs the CAS update. Caller holds the write lock.
func (s *MemoryStore) updateLocked(token string, patch Patch, expectedVersion uint64) (*Session, error) {
	sess, ok := s.sessions[token]
	if !ok {
		return nil, errs.NotFoundf("session %s", token[:min(8, len(token))])
	}
	if sess.Version != expectedVersion {
		return nil, fmt.Errorf("%w: have %d, expected %d", errs.ErrConflictRetryable, sess.Version, expectedVersion)
	}

	updated := sess.Clone()
	patch.Apply(updated)
	updated.Version = sess.Version + 1
	s.sessions[token] = updated
	return updated.Clone(), nil
}

// CountCreatedSince counts sessions the user created after the given time.
func (s *MemoryStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// Touch updates the session's last-activity time.
func (s *MemoryStore) Touch(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return errs.NotFoundf("session %s", token[:min(8, len(token))])
	}
	sess.LastActivityAt = at
	return nil
}

// CleanupExpired removes expired sessions.
func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for token, sess := range s.sessions {
		if sess.IsExpired() {
			delete(s.sessions, token)
			count++
		}
	}
	return count, nil
}
