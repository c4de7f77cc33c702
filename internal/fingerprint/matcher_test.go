// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package fingerprint

import (
	"context"
	"errors"
	"testing"

	"github.com/gravelight/sessionguard/internal/errs"
)

func fullSignals() RawSignals {
	return RawSignals{
		CanvasHash:    "canvas-abc",
		AudioHash:     "audio-def",
		WebGLRenderer: "ANGLE (NVIDIA)",
		ScreenWidth:   2560,
		ScreenHeight:  1440,
		HardwareCores: 8,
		DeviceMemory:  16,
		FontListHash:  "fonts-ghi",
		Browser:       "Firefox 142",
		Platform:      "Linux x86_64",
		Timezone:      "Europe/Berlin",
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name     string
		signals  RawSignals
		expected int
	}{
		{"empty bag", RawSignals{}, 0},
		{"canvas only", RawSignals{CanvasHash: "x"}, 25},
		{"full bag saturates at 100", fullSignals(), 100},
		{"screen needs both dimensions", RawSignals{ScreenWidth: 1920}, 0},
		{"weak corroboration only", RawSignals{Browser: "Firefox", Timezone: "UTC"}, 10},
		{
			"high entropy trio",
			RawSignals{CanvasHash: "x", AudioHash: "y", WebGLRenderer: "z"},
			65,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.signals.Confidence(); got != tt.expected {
				t.Errorf("Confidence() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestSignatureStability(t *testing.T) {
	a, b := fullSignals(), fullSignals()
	if a.Signature() != b.Signature() {
		t.Error("identical signals must produce identical signatures")
	}

	b.CanvasHash = "different"
	if a.Signature() == b.Signature() {
		t.Error("changed canvas hash must change the signature")
	}
	if a.StableKey() != b.StableKey() {
		t.Error("canvas hash is volatile and must not affect the stable key")
	}

	c := fullSignals()
	c.Timezone = "America/New_York"
	if a.StableKey() == c.StableKey() {
		t.Error("timezone is part of the stable key")
	}
}

func TestMatchNewDeviceOnce(t *testing.T) {
	matcher := NewMatcher(NewMemoryStore(), DefaultMatcherConfig())
	ctx := context.Background()
	signals := fullSignals()

	first, err := matcher.Match(ctx, "user-1", signals)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !first.IsNewDevice {
		t.Error("first sighting must be a new device")
	}
	if first.FingerprintID == "" {
		t.Fatal("match must assign a fingerprint id")
	}

	// Same signals again: same identity, not new.
	second, err := matcher.Match(ctx, "user-1", signals)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if second.IsNewDevice {
		t.Error("repeat sighting must not be a new device")
	}
	if second.FingerprintID != first.FingerprintID {
		t.Errorf("fingerprint id changed across matches: %s vs %s", first.FingerprintID, second.FingerprintID)
	}
}

func TestMatchNearMatchKeepsIdentity(t *testing.T) {
	matcher := NewMatcher(NewMemoryStore(), DefaultMatcherConfig())
	ctx := context.Background()

	signals := fullSignals()
	first, err := matcher.Match(ctx, "user-1", signals)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	// A browser update changes the canvas hash but not the hardware.
	updated := signals
	updated.CanvasHash = "canvas-after-update"

	near, err := matcher.Match(ctx, "user-1", updated)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if near.IsNewDevice {
		t.Error("near match must keep the existing identity")
	}
	if near.FingerprintID != first.FingerprintID {
		t.Errorf("identity changed across near match: %s vs %s", first.FingerprintID, near.FingerprintID)
	}
	if near.Confidence >= first.Confidence {
		t.Errorf("near match confidence %d must be penalized below %d", near.Confidence, first.Confidence)
	}

	// The record is rekeyed: matching the new signature again is exact.
	again, err := matcher.Match(ctx, "user-1", updated)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if again.FingerprintID != first.FingerprintID || again.IsNewDevice {
		t.Error("rekeyed record must keep serving the identity")
	}
}

func TestMatchLowConfidenceIsNewDevice(t *testing.T) {
	matcher := NewMatcher(NewMemoryStore(), DefaultMatcherConfig())
	ctx := context.Background()

	// Timezone alone scores 5, below the default threshold of 40.
	weak := RawSignals{Timezone: "UTC"}

	first, err := matcher.Match(ctx, "user-1", weak)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !first.IsNewDevice {
		t.Error("first weak sighting is a new device")
	}

	// Even an exact signature repeat stays below the threshold and is
	// treated as new again.
	second, err := matcher.Match(ctx, "user-1", weak)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !second.IsNewDevice {
		t.Error("weak signals must never claim an existing identity")
	}
}

func TestMatchDegradedSignalsNeverFail(t *testing.T) {
	matcher := NewMatcher(NewMemoryStore(), DefaultMatcherConfig())

	result, err := matcher.Match(context.Background(), "user-1", RawSignals{})
	if err != nil {
		t.Fatalf("empty signal bag must not fail: %v", err)
	}
	if result.Confidence != 0 {
		t.Errorf("confidence = %d, want 0", result.Confidence)
	}

	if _, err := matcher.Match(context.Background(), "", RawSignals{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("missing user id: expected ErrInvalidInput, got %v", err)
	}
}

func TestMatchSignatureNeverCrossesUsers(t *testing.T) {
	matcher := NewMatcher(NewMemoryStore(), DefaultMatcherConfig())
	ctx := context.Background()
	signals := fullSignals()

	alice, err := matcher.Match(ctx, "alice", signals)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	bob, err := matcher.Match(ctx, "bob", signals)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if alice.FingerprintID == bob.FingerprintID {
		t.Error("identical signals for different users must yield distinct records")
	}
	if !bob.IsNewDevice {
		t.Error("bob's first sighting is a new device regardless of alice's record")
	}
}

func TestConfigure(t *testing.T) {
	matcher := NewMatcher(NewMemoryStore(), DefaultMatcherConfig())

	if err := matcher.Configure(MatcherConfig{MinMatchConfidence: 101, NearMatchPenalty: 10}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("out-of-range threshold: expected ErrInvalidInput, got %v", err)
	}
	if err := matcher.Configure(MatcherConfig{MinMatchConfidence: 50, NearMatchPenalty: 101}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("out-of-range penalty: expected ErrInvalidInput, got %v", err)
	}
	if err := matcher.Configure(MatcherConfig{MinMatchConfidence: 50, NearMatchPenalty: 10}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestSetTrusted(t *testing.T) {
	store := NewMemoryStore()
	matcher := NewMatcher(store, DefaultMatcherConfig())
	ctx := context.Background()

	result, err := matcher.Match(ctx, "user-1", fullSignals())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if err := store.SetTrusted(ctx, "user-1", result.FingerprintID, true, "work laptop"); err != nil {
		t.Fatalf("SetTrusted failed: %v", err)
	}

	records, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(records) != 1 || !records[0].Trusted || records[0].Label != "work laptop" {
		t.Errorf("trust flag not persisted: %+v", records[0])
	}

	// Trust survives a subsequent match upsert.
	if _, err := matcher.Match(ctx, "user-1", fullSignals()); err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	records, _ = store.ListByUser(ctx, "user-1")
	if !records[0].Trusted {
		t.Error("an exact rematch must not clear the trust flag")
	}
}
