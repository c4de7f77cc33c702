// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/errs"
)

func testSession(token, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		Token:          token,
		UserID:         userID,
		IP:             "203.0.113.10",
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore(audit.NewMemoryStore())
	ctx := context.Background()

	s := testSession("tok-1", "user-1")
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.Version != 1 {
		t.Errorf("expected version 1 after create, got %d", s.Version)
	}

	got, err := store.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", got.UserID)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Create(ctx, testSession("tok-1", "user-1")); err == nil {
		t.Error("expected error creating duplicate token")
	}
}

func TestMemoryStore_UpdateVersionCheck(t *testing.T) {
	store := NewMemoryStore(audit.NewMemoryStore())
	ctx := context.Background()

	s := testSession("tok-1", "user-1")
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	frozen := true
	updated, err := store.Update(ctx, "tok-1", Patch{IsFrozen: &frozen}, 1)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.IsFrozen {
		t.Error("patch not applied")
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}

	// Stale version must fail retryably without applying.
	unfrozen := false
	_, err = store.Update(ctx, "tok-1", Patch{IsFrozen: &unfrozen}, 1)
	if !errors.Is(err, errs.ErrConflictRetryable) {
		t.Fatalf("expected ErrConflictRetryable, got %v", err)
	}
	got, _ := store.Get(ctx, "tok-1")
	if !got.IsFrozen {
		t.Error("stale update must not modify the session")
	}
}

func TestMemoryStore_UpdateWithAudit(t *testing.T) {
	auditlog := audit.NewMemoryStore()
	store := NewMemoryStore(auditlog)
	ctx := context.Background()

	if err := store.Create(ctx, testSession("tok-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	frozen := true
	rec := &audit.Record{
		ID:           "rec-1",
		SessionToken: "tok-1",
		UserID:       "user-1",
		Action:       audit.ActionFreeze,
		Actor:        "operator",
		Reason:       "testing",
		Outcome:      audit.OutcomeSuccess,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := store.UpdateWithAudit(ctx, "tok-1", Patch{IsFrozen: &frozen}, 1, rec); err != nil {
		t.Fatalf("UpdateWithAudit failed: %v", err)
	}

	records, err := auditlog.Query(ctx, audit.Filter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(records))
	}
}

func TestMemoryStore_UpdateWithAuditRollsBackOnAuditFailure(t *testing.T) {
	auditlog := audit.NewMemoryStore()
	store := NewMemoryStore(auditlog)
	ctx := context.Background()

	if err := store.Create(ctx, testSession("tok-1", "user-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	auditlog.FailNextAppend(errors.New("disk full"))

	frozen := true
	rec := &audit.Record{
		ID:           "rec-1",
		SessionToken: "tok-1",
		UserID:       "user-1",
		Action:       audit.ActionFreeze,
		Actor:        "operator",
		Reason:       "testing",
		Outcome:      audit.OutcomeSuccess,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := store.UpdateWithAudit(ctx, "tok-1", Patch{IsFrozen: &frozen}, 1, rec)
	if !errors.Is(err, errs.ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}

	got, _ := store.Get(ctx, "tok-1")
	if got.IsFrozen {
		t.Error("session mutated despite audit failure")
	}
	if got.Version != 1 {
		t.Errorf("version must not advance on rollback, got %d", got.Version)
	}
}

func TestMemoryStore_ListActive(t *testing.T) {
	store := NewMemoryStore(audit.NewMemoryStore())
	ctx := context.Background()

	active := testSession("tok-active", "user-1")
	if err := store.Create(ctx, active); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	expired := testSession("tok-expired", "user-1")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	if err := store.Create(ctx, expired); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	revoked := testSession("tok-revoked", "user-1")
	revoked.Revoked = true
	if err := store.Create(ctx, revoked); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	other := testSession("tok-other", "user-2")
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	list, err := store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(list) != 1 || list[0].Token != "tok-active" {
		t.Errorf("expected only tok-active, got %d sessions", len(list))
	}
}

func TestMemoryStore_CountCreatedSince(t *testing.T) {
	store := NewMemoryStore(audit.NewMemoryStore())
	ctx := context.Background()

	now := time.Now().UTC()
	old := testSession("tok-old", "user-1")
	old.CreatedAt = now.Add(-2 * time.Hour)
	recent := testSession("tok-recent", "user-1")
	recent.CreatedAt = now.Add(-time.Minute)

	for _, s := range []*Session{old, recent} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	count, err := store.CountCreatedSince(ctx, "user-1", now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("CountCreatedSince failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 recent creation, got %d", count)
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore(audit.NewMemoryStore())
	ctx := context.Background()

	keep := testSession("tok-keep", "user-1")
	gone := testSession("tok-gone", "user-1")
	gone.ExpiresAt = time.Now().Add(-time.Minute)

	for _, s := range []*Session{keep, gone} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	removed, err := store.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, err := store.Get(ctx, "tok-gone"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expired session still present: %v", err)
	}
	if _, err := store.Get(ctx, "tok-keep"); err != nil {
		t.Errorf("live session removed: %v", err)
	}
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	if a == b {
		t.Error("tokens must be unique")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
