// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package fingerprint

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gravelight/sessionguard/internal/errs"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // key: userID + ":" + signature
	owners  map[string]string  // signature -> first registering user
}

// NewMemoryStore creates a new in-memory fingerprint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		owners:  make(map[string]string),
	}
}

func recordKey(userID, signature string) string {
	return userID + ":" + signature
}

// GetBySignature returns the record for (userID, signature).
func (s *MemoryStore) GetBySignature(ctx context.Context, userID, signature string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey(userID, signature)]
	if !ok {
		return nil, errs.NotFoundf("fingerprint")
	}
	cp := *rec
	return &cp, nil
}

// ListByUser returns all of a user's device records.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Upsert writes the record keyed by (userID, signature). Existing records
// keep their identity and trust fields; only match-derived fields move.
func (s *MemoryStore) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.UserID, rec.Signature)
	if existing, ok := s.records[key]; ok {
		existing.Confidence = rec.Confidence
		existing.StableKey = rec.StableKey
		existing.LastSeenAt = rec.LastSeenAt
		cp := *existing
		return &cp, nil
	}

	stored := *rec
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.FirstSeenAt.IsZero() {
		stored.FirstSeenAt = stored.LastSeenAt
	}
	s.records[key] = &stored
	if _, claimed := s.owners[rec.Signature]; !claimed {
		s.owners[rec.Signature] = rec.UserID
	}
	cp := stored
	return &cp, nil
}

// Rekey moves a record to a new signature, preserving its ID.
func (s *MemoryStore) Rekey(ctx context.Context, userID, oldSignature string, updated *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldKey := recordKey(userID, oldSignature)
	if _, ok := s.records[oldKey]; !ok {
		return errs.NotFoundf("fingerprint")
	}
	delete(s.records, oldKey)

	stored := *updated
	s.records[recordKey(userID, updated.Signature)] = &stored
	if _, claimed := s.owners[updated.Signature]; !claimed {
		s.owners[updated.Signature] = userID
	}
	return nil
}

// SignatureOwner returns the first user that registered the signature.
func (s *MemoryStore) SignatureOwner(ctx context.Context, signature string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[signature]
	if !ok {
		return "", errs.NotFoundf("signature")
	}
	return owner, nil
}

// SetTrusted marks a device trusted or untrusted.
func (s *MemoryStore) SetTrusted(ctx context.Context, userID, fingerprintID string, trusted bool, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.UserID == userID && rec.ID == fingerprintID {
			rec.Trusted = trusted
			if label != "" {
				rec.Label = label
			}
			return nil
		}
	}
	return errs.NotFoundf("fingerprint %s", fingerprintID)
}
