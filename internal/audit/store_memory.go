// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record

	// failNext forces the next Append to fail. Test hook for the
	// audit-or-fail invariant in the trust manager.
	failNext error
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailNextAppend makes the next Append return err. Test hook.
func (s *MemoryStore) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Append persists a new record.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	stored := *rec
	s.records = append(s.records, &stored)
	return nil
}

// Query returns records matching the filter, newest first.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if !matches(rec, filter) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountSince returns the number of matching records since the given time.
func (s *MemoryStore) CountSince(ctx context.Context, userID string, actions []Action, since time.Time) (int, error) {
	recs, err := s.Query(ctx, Filter{UserID: userID, Actions: actions, Since: since})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// CleanupExpired removes records older than the cutoff.
func (s *MemoryStore) CleanupExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed, nil
}

// matches reports whether a record satisfies the filter.
func matches(rec *Record, filter Filter) bool {
	if filter.UserID != "" && rec.UserID != filter.UserID {
		return false
	}
	if filter.SessionToken != "" && rec.SessionToken != filter.SessionToken {
		return false
	}
	if filter.Outcome != "" && rec.Outcome != filter.Outcome {
		return false
	}
	if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
		return false
	}
	if len(filter.Actions) > 0 {
		found := false
		for _, a := range filter.Actions {
			if rec.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
