// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func seedRecords(t *testing.T, store *MemoryStore) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)

	recs := []*Record{
		{ID: "r1", UserID: "alice", SessionToken: "tok-a", Action: ActionFreeze, Actor: "admin", Reason: "hold", Outcome: OutcomeSuccess, CreatedAt: base},
		{ID: "r2", UserID: "alice", SessionToken: "tok-a", Action: ActionUnfreeze, Actor: "admin", Reason: "release", Outcome: OutcomeSuccess, CreatedAt: base.Add(10 * time.Minute)},
		{ID: "r3", UserID: "alice", SessionToken: "tok-b", Action: ActionRevoke, Actor: "system", Reason: "conflict", Outcome: OutcomeFailure, CreatedAt: base.Add(20 * time.Minute)},
		{ID: "r4", UserID: "bob", SessionToken: "tok-c", Action: ActionFreeze, Actor: "admin", Reason: "hold", Outcome: OutcomeSuccess, CreatedAt: base.Add(30 * time.Minute)},
	}
	for _, rec := range recs {
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	store := NewMemoryStore()
	seedRecords(t, store)
	ctx := context.Background()

	tests := []struct {
		name     string
		filter   Filter
		expected []string
	}{
		{"all", Filter{}, []string{"r4", "r3", "r2", "r1"}},
		{"by user", Filter{UserID: "alice"}, []string{"r3", "r2", "r1"}},
		{"by session", Filter{SessionToken: "tok-a"}, []string{"r2", "r1"}},
		{"by action", Filter{Actions: []Action{ActionFreeze}}, []string{"r4", "r1"}},
		{"by outcome", Filter{Outcome: OutcomeFailure}, []string{"r3"}},
		{"by since", Filter{Since: time.Now().UTC().Add(-45 * time.Minute)}, []string{"r4", "r3"}},
		{"with limit", Filter{UserID: "alice", Limit: 2}, []string{"r3", "r2"}},
		{"combined", Filter{UserID: "alice", Actions: []Action{ActionFreeze, ActionUnfreeze}}, []string{"r2", "r1"}},
		{"no match", Filter{UserID: "carol"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(recs) != len(tt.expected) {
				t.Fatalf("got %d records, want %d", len(recs), len(tt.expected))
			}
			for i, rec := range recs {
				if rec.ID != tt.expected[i] {
					t.Errorf("position %d: got %s, want %s", i, rec.ID, tt.expected[i])
				}
			}
		})
	}
}

func TestQueryReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	seedRecords(t, store)
	ctx := context.Background()

	recs, err := store.Query(ctx, Filter{SessionToken: "tok-b"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	recs[0].Reason = "tampered"

	again, err := store.Query(ctx, Filter{SessionToken: "tok-b"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if again[0].Reason != "conflict" {
		t.Error("mutating a query result must not affect the store")
	}
}

func TestCountSince(t *testing.T) {
	store := NewMemoryStore()
	seedRecords(t, store)
	ctx := context.Background()

	n, err := store.CountSince(ctx, "alice", []Action{ActionFreeze, ActionUnfreeze}, time.Now().UTC().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	n, err = store.CountSince(ctx, "alice", []Action{ActionFreeze}, time.Now().UTC())
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 0 {
		t.Errorf("future since must match nothing, got %d", n)
	}
}

func TestCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()
	for i, at := range []time.Time{old, old.Add(time.Minute), fresh} {
		if err := store.Append(ctx, &Record{
			ID:        fmt.Sprintf("rec-%d", i),
			UserID:    "alice",
			Action:    ActionFreeze,
			Actor:     "admin",
			Reason:    "hold",
			Outcome:   OutcomeSuccess,
			CreatedAt: at,
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	removed, err := store.CleanupExpired(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	remaining, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "rec-2" {
		t.Errorf("expected only the fresh record, got %v", remaining)
	}
}

func TestFailNextAppend(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cause := errors.New("backend down")
	store.FailNextAppend(cause)

	err := store.Append(ctx, &Record{ID: "r1", UserID: "alice", Action: ActionFreeze, Actor: "a", Reason: "r", Outcome: OutcomeSuccess, CreatedAt: time.Now().UTC()})
	if !errors.Is(err, cause) {
		t.Fatalf("expected injected error, got %v", err)
	}

	// Only the next append fails.
	if err := store.Append(ctx, &Record{ID: "r2", UserID: "alice", Action: ActionFreeze, Actor: "a", Reason: "r", Outcome: OutcomeSuccess, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}

	recs, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "r2" {
		t.Errorf("failed append must not persist, got %v", recs)
	}
}
