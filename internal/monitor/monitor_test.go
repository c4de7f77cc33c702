// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/conflict"
	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/fingerprint"
	"github.com/gravelight/sessionguard/internal/session"
)

func newTestMonitor(t *testing.T) (*Monitor, *session.MemoryStore, *audit.MemoryStore) {
	t.Helper()
	auditlog := audit.NewMemoryStore()
	sessions := session.NewMemoryStore(auditlog)
	buffer := NewEventBuffer(64, time.Hour)
	mon := New(sessions, auditlog, conflict.NewMemoryStore(), fingerprint.NewMemoryStore(), buffer, DefaultConfig())
	return mon, sessions, auditlog
}

func seedSession(t *testing.T, sessions *session.MemoryStore, mutate func(*session.Session)) *session.Session {
	t.Helper()
	now := time.Now().UTC()
	s := &session.Session{
		Token:          session.NewToken(),
		UserID:         "user-1",
		IP:             "203.0.113.10",
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(time.Hour),
	}
	if mutate != nil {
		mutate(s)
	}
	if err := sessions.Create(context.Background(), s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return s
}

func TestStats(t *testing.T) {
	mon, sessions, _ := newTestMonitor(t)
	ctx := context.Background()

	seedSession(t, sessions, func(s *session.Session) {
		s.IP = "203.0.113.1"
		s.FingerprintID = "fp-1"
		s.Country = "US"
		s.IsSuspicious = true
	})
	seedSession(t, sessions, func(s *session.Session) {
		s.IP = "203.0.113.2"
		s.FingerprintID = "fp-1"
		s.Country = "DE"
		s.IsFrozen = true
	})
	seedSession(t, sessions, func(s *session.Session) {
		s.IP = "203.0.113.1"
		s.ReAuthRequired = true
	})

	stats, err := mon.Stats(ctx, "user-1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.ActiveSessions != 3 {
		t.Errorf("active = %d, want 3", stats.ActiveSessions)
	}
	if stats.SuspiciousSessions != 1 || stats.FrozenSessions != 1 || stats.ReAuthRequired != 1 {
		t.Errorf("flag counts = %d/%d/%d, want 1/1/1",
			stats.SuspiciousSessions, stats.FrozenSessions, stats.ReAuthRequired)
	}
	if stats.DistinctIPs != 2 {
		t.Errorf("distinct IPs = %d, want 2", stats.DistinctIPs)
	}
	if stats.DistinctDevices != 1 {
		t.Errorf("distinct devices = %d, want 1", stats.DistinctDevices)
	}
	if stats.DistinctCountries != 2 {
		t.Errorf("distinct countries = %d, want 2", stats.DistinctCountries)
	}
	if stats.OldestCreatedAt == nil || stats.NewestActivityAt == nil {
		t.Error("time bounds must be set when sessions exist")
	}
}

func TestStatsEmptyUser(t *testing.T) {
	mon, _, _ := newTestMonitor(t)

	stats, err := mon.Stats(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.ActiveSessions != 0 || stats.OldestCreatedAt != nil {
		t.Errorf("expected empty stats, got %+v", stats)
	}

	if _, err := mon.Stats(context.Background(), ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentSessionsSanitizesTokens(t *testing.T) {
	mon, sessions, _ := newTestMonitor(t)

	raw := seedSession(t, sessions, nil)

	views, err := mon.ConcurrentSessions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ConcurrentSessions failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one view, got %d", len(views))
	}
	if views[0].Token == raw.Token {
		t.Error("view must not carry the raw token")
	}
	if len(views[0].Token) >= len(raw.Token) {
		t.Errorf("sanitized token %q is not shortened", views[0].Token)
	}
}

func TestAnomalies(t *testing.T) {
	mon, sessions, _ := newTestMonitor(t)
	ctx := context.Background()

	// IP lock mismatch.
	seedSession(t, sessions, func(s *session.Session) {
		s.IPLock = "203.0.113.99"
	})
	// Frozen with fresh activity.
	seedSession(t, sessions, func(s *session.Session) {
		s.IsFrozen = true
	})
	// Quiet session, nothing to report.
	seedSession(t, sessions, func(s *session.Session) {
		s.IP = "198.51.100.1"
	})

	anomalies, err := mon.Anomalies(ctx, "user-1")
	if err != nil {
		t.Fatalf("Anomalies failed: %v", err)
	}

	kinds := make(map[string]int)
	for _, a := range anomalies {
		kinds[a.Kind]++
	}
	if kinds["ip_lock_mismatch"] != 1 {
		t.Errorf("ip_lock_mismatch = %d, want 1", kinds["ip_lock_mismatch"])
	}
	if kinds["frozen_session_activity"] != 1 {
		t.Errorf("frozen_session_activity = %d, want 1", kinds["frozen_session_activity"])
	}

	// Anomalies land in the event feed.
	events := mon.Buffer().Recent("user-1", 0)
	if len(events) != len(anomalies) {
		t.Errorf("published %d events for %d anomalies", len(events), len(anomalies))
	}
}

func TestAnomaliesDeviceFanout(t *testing.T) {
	mon, sessions, _ := newTestMonitor(t)

	for i := 0; i < 4; i++ {
		seedSession(t, sessions, func(s *session.Session) {
			s.FingerprintID = "fp-1"
		})
	}

	anomalies, err := mon.Anomalies(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Anomalies failed: %v", err)
	}
	found := false
	for _, a := range anomalies {
		if a.Kind == "device_session_fanout" {
			found = true
		}
	}
	if !found {
		t.Error("expected device_session_fanout anomaly for 4 sessions on one device")
	}
}

func TestTimelineZeroFilled(t *testing.T) {
	mon, sessions, auditlog := newTestMonitor(t)
	ctx := context.Background()

	seedSession(t, sessions, nil)
	if err := auditlog.Append(ctx, &audit.Record{
		ID:        "rec-1",
		UserID:    "user-1",
		Action:    audit.ActionFreeze,
		Actor:     "admin",
		Reason:    "hold",
		Outcome:   audit.OutcomeSuccess,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	const days = 7
	buckets, err := mon.Timeline(ctx, "user-1", days)
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if len(buckets) != days {
		t.Fatalf("expected exactly %d buckets, got %d", days, len(buckets))
	}

	today := time.Now().UTC().Format("2006-01-02")
	last := buckets[len(buckets)-1]
	if last.Date != today {
		t.Errorf("last bucket date = %s, want %s", last.Date, today)
	}
	if last.Sessions != 1 || last.TrustActions != 1 {
		t.Errorf("today's bucket = %d sessions / %d actions, want 1/1", last.Sessions, last.TrustActions)
	}

	for i, b := range buckets[:len(buckets)-1] {
		if b.Sessions != 0 || b.TrustActions != 0 {
			t.Errorf("bucket %d (%s) not zero-filled: %+v", i, b.Date, b)
		}
	}

	// Dates are consecutive with no gaps.
	for i := 1; i < len(buckets); i++ {
		prev, _ := time.Parse("2006-01-02", buckets[i-1].Date)
		cur, _ := time.Parse("2006-01-02", buckets[i].Date)
		if cur.Sub(prev) != 24*time.Hour {
			t.Errorf("gap between %s and %s", buckets[i-1].Date, buckets[i].Date)
		}
	}
}

func TestTimelineValidation(t *testing.T) {
	mon, _, _ := newTestMonitor(t)
	ctx := context.Background()

	for _, days := range []int{0, -1, 366} {
		if _, err := mon.Timeline(ctx, "user-1", days); !errors.Is(err, errs.ErrInvalidInput) {
			t.Errorf("days=%d: expected ErrInvalidInput, got %v", days, err)
		}
	}
}

func TestSummary(t *testing.T) {
	auditlog := audit.NewMemoryStore()
	sessions := session.NewMemoryStore(auditlog)
	conflicts := conflict.NewMemoryStore()
	fingerprints := fingerprint.NewMemoryStore()
	mon := New(sessions, auditlog, conflicts, fingerprints, NewEventBuffer(64, time.Hour), DefaultConfig())
	ctx := context.Background()

	seedSession(t, sessions, func(s *session.Session) {
		s.FingerprintID = "fp-1"
	})

	if err := conflicts.Save(ctx, &conflict.Record{
		ID:         "c-1",
		UserID:     "user-1",
		Kind:       conflict.KindDuplicateFingerprint,
		Severity:   conflict.SeverityWarning,
		DetectedAt: time.Now().UTC(),
		Resolution: conflict.ResolutionUnresolved,
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	summary, err := mon.Summary(ctx, "user-1")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Stats.ActiveSessions != 1 {
		t.Errorf("active = %d, want 1", summary.Stats.ActiveSessions)
	}
	if summary.UnresolvedConflicts != 1 {
		t.Errorf("unresolved conflicts = %d, want 1", summary.UnresolvedConflicts)
	}
}

func TestEventBufferCapacity(t *testing.T) {
	buf := NewEventBuffer(3, 0)

	for i := 0; i < 5; i++ {
		buf.Publish(Event{Type: EventTrustMutation, UserID: "u", Detail: string(rune('a' + i))})
	}

	events := buf.Recent("u", 0)
	if len(events) != 3 {
		t.Fatalf("expected capacity-bounded 3 events, got %d", len(events))
	}
	// Newest first; the two oldest were evicted.
	if events[0].Detail != "e" || events[2].Detail != "c" {
		t.Errorf("unexpected retention order: %v, %v, %v", events[0].Detail, events[1].Detail, events[2].Detail)
	}
}

func TestEventBufferTTL(t *testing.T) {
	buf := NewEventBuffer(16, 50*time.Millisecond)

	buf.Publish(Event{Type: EventAnomaly, UserID: "u", At: time.Now().UTC().Add(-time.Second)})
	buf.Publish(Event{Type: EventAnomaly, UserID: "u"})

	events := buf.Recent("u", 0)
	if len(events) != 1 {
		t.Errorf("expected the stale event pruned, got %d events", len(events))
	}
}

func TestEventBufferSubscribe(t *testing.T) {
	buf := NewEventBuffer(16, time.Hour)

	ch, cancel := buf.Subscribe()
	defer cancel()

	buf.Publish(Event{Type: EventConflict, UserID: "u", Detail: "impossible_travel"})

	select {
	case evt := <-ch:
		if evt.Type != EventConflict {
			t.Errorf("type = %s, want %s", evt.Type, EventConflict)
		}
		if evt.ID == "" || evt.At.IsZero() {
			t.Error("publish must assign id and timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel must be closed after cancel")
	}
}

func TestEventBufferRecentFiltersUser(t *testing.T) {
	buf := NewEventBuffer(16, time.Hour)

	buf.Publish(Event{Type: EventAnomaly, UserID: "alice"})
	buf.Publish(Event{Type: EventAnomaly, UserID: "bob"})
	buf.Publish(Event{Type: EventAnomaly, UserID: "alice"})

	if got := len(buf.Recent("alice", 0)); got != 2 {
		t.Errorf("alice events = %d, want 2", got)
	}
	if got := len(buf.Recent("alice", 1)); got != 1 {
		t.Errorf("limit must cap results, got %d", got)
	}
	if got := len(buf.Recent("", 0)); got != 3 {
		t.Errorf("empty user must return all, got %d", got)
	}
}

func TestEventBufferPublishDuringCancel(t *testing.T) {
	buf := NewEventBuffer(64, time.Minute)

	// Publishers racing subscriber cancellation must never send on a
	// closed channel; a panic here crashes the publishing handler.
	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					buf.Publish(Event{Type: EventAnomaly, UserID: "alice"})
				}
			}
		}()
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ch, cancel := buf.Subscribe()
				select {
				case <-ch:
				default:
				}
				cancel()
			}
		}()
	}

	deadline := time.After(2 * time.Second)
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	// Publishers only stop once the cancellers are done.
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(done)
	}()

	select {
	case <-finished:
	case <-deadline:
		t.Fatal("publish/cancel race did not settle")
	}
}
