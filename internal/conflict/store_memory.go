// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package conflict

import (
	"context"
	"sync"

	"github.com/gravelight/sessionguard/internal/errs"
)

// MemoryStore is an in-memory conflict store for tests and the memory
// storage backend.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory conflict store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save persists a record, replacing any existing record with the same ID.
func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errs.InvalidInputf("conflict record requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// Get retrieves a record by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, errs.NotFoundf("conflict %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

// ListByUser returns a user's records, newest first.
func (s *MemoryStore) ListByUser(_ context.Context, userID string, unresolvedOnly bool) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0)
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if unresolvedOnly && rec.Resolution != ResolutionUnresolved {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sortNewestFirst(out)
	return out, nil
}

// CountUnresolved returns the number of unresolved records.
func (s *MemoryStore) CountUnresolved(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.records {
		if rec.Resolution == ResolutionUnresolved {
			count++
		}
	}
	return count, nil
}
