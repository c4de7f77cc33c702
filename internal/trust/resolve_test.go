// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/conflict"
	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/fingerprint"
	"github.com/gravelight/sessionguard/internal/session"
)

func travelPair(userID string) (*session.Session, *session.Session) {
	base := time.Now().UTC().Add(-3 * time.Hour)

	s1 := &session.Session{
		Token:          "s1",
		UserID:         userID,
		IP:             "203.0.113.10",
		City:           "New York",
		Country:        "US",
		Latitude:       40.7128,
		Longitude:      -74.0060,
		CreatedAt:      base,
		LastActivityAt: base,
		ExpiresAt:      base.Add(24 * time.Hour),
	}
	s2 := &session.Session{
		Token:          "s2",
		UserID:         userID,
		IP:             "198.51.100.7",
		City:           "Tokyo",
		Country:        "JP",
		Latitude:       35.6762,
		Longitude:      139.6503,
		CreatedAt:      base.Add(10 * time.Minute),
		LastActivityAt: base.Add(10 * time.Minute),
		ExpiresAt:      base.Add(24 * time.Hour),
	}
	return s1, s2
}

func TestAutoResolveKeepNewest(t *testing.T) {
	m, sessions, auditlog := newTestManager(t)
	ctx := context.Background()

	s1, s2 := travelPair("user-1")
	mustCreate(t, sessions, s1)
	mustCreate(t, sessions, s2)

	result, err := m.AutoResolveConflicts(ctx, "user-1", StrategyKeepNewest, "system")
	if err != nil {
		t.Fatalf("AutoResolveConflicts failed: %v", err)
	}
	if len(result.Resolved) != 1 {
		t.Fatalf("expected one resolved conflict, got %d", len(result.Resolved))
	}

	rec := result.Resolved[0]
	if rec.Resolution != conflict.ResolutionAuto {
		t.Errorf("resolution = %s, want auto_resolved", rec.Resolution)
	}

	// S2 has the later activity and survives.
	kept, err := sessions.Get(ctx, "s2")
	if err != nil {
		t.Fatalf("Get s2 failed: %v", err)
	}
	if kept.Revoked {
		t.Error("newest session must survive keep_newest")
	}
	revoked, err := sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get s1 failed: %v", err)
	}
	if !revoked.Revoked {
		t.Error("older session must be revoked")
	}
	if revoked.RevokedReason != rec.ID {
		t.Errorf("revoked reason = %q, want the conflict id %q", revoked.RevokedReason, rec.ID)
	}

	// Exactly one revocation record, carrying the conflict ID as reason.
	recs, err := auditlog.Query(ctx, audit.Filter{SessionToken: "s1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one audit record for the revocation, got %d", len(recs))
	}
	if recs[0].Action != audit.ActionAutoResolve {
		t.Errorf("action = %s, want %s", recs[0].Action, audit.ActionAutoResolve)
	}
	if recs[0].Reason != rec.ID {
		t.Errorf("audit reason = %q, want conflict id %q", recs[0].Reason, rec.ID)
	}
}

func TestAutoResolveKeepMostTrusted(t *testing.T) {
	m, sessions, _ := newTestManager(t)
	ctx := context.Background()

	s1, s2 := travelPair("user-1")
	s1.TrustLevel = 8 // older but heavily trusted
	s2.TrustLevel = 1
	mustCreate(t, sessions, s1)
	mustCreate(t, sessions, s2)

	if _, err := m.AutoResolveConflicts(ctx, "user-1", StrategyKeepMostTrusted, "system"); err != nil {
		t.Fatalf("AutoResolveConflicts failed: %v", err)
	}

	kept, _ := sessions.Get(ctx, "s1")
	if kept == nil || kept.Revoked {
		t.Error("most trusted session must survive keep_most_trusted")
	}
	revoked, _ := sessions.Get(ctx, "s2")
	if revoked == nil || !revoked.Revoked {
		t.Error("less trusted session must be revoked")
	}
}

func TestAutoResolveIPLockViolationRevokesAll(t *testing.T) {
	m, sessions, _ := newTestManager(t)
	ctx := context.Background()

	s := activeSession("tok-1", "user-1")
	s.IPLock = "203.0.113.99"
	s.IP = "198.51.100.7"
	mustCreate(t, sessions, s)

	result, err := m.AutoResolveConflicts(ctx, "user-1", StrategyKeepNewest, "system")
	if err != nil {
		t.Fatalf("AutoResolveConflicts failed: %v", err)
	}
	if len(result.Resolved) != 1 {
		t.Fatalf("expected one resolved conflict, got %d", len(result.Resolved))
	}

	rec := result.Resolved[0]
	if rec.Kind != conflict.KindIPLockViolation {
		t.Fatalf("kind = %s, want ip_lock_violation", rec.Kind)
	}
	if len(result.Kept[rec.ID]) != 0 {
		t.Errorf("a lock violation has no survivor, kept %v", result.Kept[rec.ID])
	}

	got, _ := sessions.Get(ctx, "tok-1")
	if got == nil || !got.Revoked {
		t.Error("violating session must be revoked")
	}
}

func TestAutoResolveNoConflicts(t *testing.T) {
	m, sessions, auditlog := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, sessions, activeSession("tok-1", "user-1"))

	result, err := m.AutoResolveConflicts(ctx, "user-1", StrategyKeepNewest, "system")
	if err != nil {
		t.Fatalf("AutoResolveConflicts failed: %v", err)
	}
	if len(result.Resolved) != 0 {
		t.Errorf("expected nothing to resolve, got %d", len(result.Resolved))
	}

	recs, err := auditlog.Query(ctx, audit.Filter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("no-op resolution must not append audit records, got %d", len(recs))
	}
}

func TestAutoResolveValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.AutoResolveConflicts(ctx, "", StrategyKeepNewest, "system"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("empty user id: expected ErrInvalidInput, got %v", err)
	}
	if _, err := m.AutoResolveConflicts(ctx, "user-1", Strategy("oldest_wins"), "system"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("unknown strategy: expected ErrInvalidInput, got %v", err)
	}
	if _, err := m.AutoResolveConflicts(ctx, "user-1", StrategyKeepNewest, ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("empty actor: expected ErrInvalidInput, got %v", err)
	}
}

func TestAutoResolveConvergence(t *testing.T) {
	m, sessions, _ := newTestManager(t)
	ctx := context.Background()

	s1, s2 := travelPair("user-1")
	mustCreate(t, sessions, s1)
	mustCreate(t, sessions, s2)

	if _, err := m.AutoResolveConflicts(ctx, "user-1", StrategyKeepNewest, "system"); err != nil {
		t.Fatalf("AutoResolveConflicts failed: %v", err)
	}

	// The resolved state must not re-trigger detection.
	detector := conflict.NewDetector(sessions, fingerprint.NewMemoryStore(), audit.NewMemoryStore(), conflict.DefaultConfig())
	remaining, err := detector.DetectConflicts(ctx, "user-1")
	if err != nil {
		t.Fatalf("DetectConflicts failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no remaining conflicts, got %d", len(remaining))
	}
}
