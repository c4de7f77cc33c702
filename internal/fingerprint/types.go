// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package fingerprint derives a stable device identity from weak client
// signals. No single signal is trusted alone; confidence is additive per
// present high-entropy signal and saturates at 100. A degraded or empty
// signal bag still yields a low-confidence signature; fingerprinting must
// never block a login.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// RawSignals is the bag of optional client signals. Fields are typed and
// checked for presence explicitly; an absent signal contributes nothing.
type RawSignals struct {
	CanvasHash    string `json:"canvas_hash,omitempty"`
	AudioHash     string `json:"audio_hash,omitempty"`
	WebGLRenderer string `json:"webgl_renderer,omitempty"`
	ScreenWidth   int    `json:"screen_width,omitempty"`
	ScreenHeight  int    `json:"screen_height,omitempty"`
	HardwareCores int    `json:"hardware_cores,omitempty"`
	DeviceMemory  int    `json:"device_memory,omitempty"`
	FontListHash  string `json:"font_list_hash,omitempty"`
	Browser       string `json:"browser,omitempty"`
	Platform      string `json:"platform,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// Confidence contribution per present signal. Canvas, audio, and WebGL are
// high-entropy; the rest are weak corroboration. The sum saturates at 100.
const (
	weightCanvas   = 25
	weightAudio    = 20
	weightWebGL    = 20
	weightScreen   = 10
	weightHardware = 10
	weightFonts    = 10
	weightBrowser  = 5
	weightTimezone = 5

	maxConfidence = 100
)

// Confidence returns the additive confidence for the present signals.
func (r *RawSignals) Confidence() int {
	c := 0
	if r.CanvasHash != "" {
		c += weightCanvas
	}
	if r.AudioHash != "" {
		c += weightAudio
	}
	if r.WebGLRenderer != "" {
		c += weightWebGL
	}
	if r.ScreenWidth > 0 && r.ScreenHeight > 0 {
		c += weightScreen
	}
	if r.HardwareCores > 0 || r.DeviceMemory > 0 {
		c += weightHardware
	}
	if r.FontListHash != "" {
		c += weightFonts
	}
	if r.Browser != "" || r.Platform != "" {
		c += weightBrowser
	}
	if r.Timezone != "" {
		c += weightTimezone
	}
	if c > maxConfidence {
		c = maxConfidence
	}
	return c
}

// Signature summarizes all present signals into one stable hash.
func (r *RawSignals) Signature() string {
	parts := []string{
		r.CanvasHash,
		r.AudioHash,
		r.WebGLRenderer,
		fmt.Sprintf("%dx%d", r.ScreenWidth, r.ScreenHeight),
		fmt.Sprintf("%d/%d", r.HardwareCores, r.DeviceMemory),
		r.FontListHash,
		r.Browser,
		r.Platform,
		r.Timezone,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// StableKey hashes only the slow-changing signals (hardware, browser,
// platform, timezone, screen). Two signatures sharing a stable key but
// differing overall usually mean a browser update changed the canvas or
// audio hash; that is the near-match band.
func (r *RawSignals) StableKey() string {
	parts := []string{
		fmt.Sprintf("%dx%d", r.ScreenWidth, r.ScreenHeight),
		fmt.Sprintf("%d/%d", r.HardwareCores, r.DeviceMemory),
		r.Browser,
		r.Platform,
		r.Timezone,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Record is one (user, device-signature) pairing. The same signature for
// the same user always resolves to the same record; a signature never
// crosses users.
type Record struct {
	// ID is the stable fingerprint identifier referenced by sessions.
	ID string `json:"id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Signature is the composite signal hash. Never exposed raw over the
	// query surface.
	Signature string `json:"signature"`

	// StableKey is the slow-changing subset hash used for near-matching.
	StableKey string `json:"stable_key"`

	// Confidence in [0, 100] from the signals present at last match.
	Confidence int `json:"confidence"`

	// Trusted marks a device the user (or an operator) has confirmed.
	Trusted bool `json:"trusted"`

	// Label is a human-readable device name.
	Label string `json:"label,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// MatchResult is the outcome of one matching invocation.
type MatchResult struct {
	// FingerprintID identifies the matched or newly created record.
	FingerprintID string `json:"fingerprint_id"`

	// Confidence in [0, 100] for this match.
	Confidence int `json:"confidence"`

	// IsNewDevice is true when no existing record matched above the
	// minimum confidence threshold. Below-threshold signals never claim
	// an existing identity: a repeated weak signal set keeps reporting
	// IsNewDevice true even when it resolves to the same record.
	IsNewDevice bool `json:"is_new_device"`
}

// Store persists fingerprint records. Upsert must be idempotent on
// (userID, signature), not read-then-write, so two tabs signing in
// simultaneously cannot race a duplicate record into existence.
type Store interface {
	// GetBySignature returns the record for (userID, signature), or
	// errs.ErrNotFound.
	GetBySignature(ctx context.Context, userID, signature string) (*Record, error)

	// ListByUser returns all of a user's device records.
	ListByUser(ctx context.Context, userID string) ([]*Record, error)

	// Upsert writes the record keyed by (userID, signature). An existing
	// record keeps its ID, FirstSeenAt, Trusted, and Label.
	Upsert(ctx context.Context, rec *Record) (*Record, error)

	// Rekey moves a record from its old signature key to a new signature
	// (browser update absorbed by a near-match). The record ID is stable
	// across the move.
	Rekey(ctx context.Context, userID, oldSignature string, updated *Record) error

	// SignatureOwner returns the user that first registered the
	// signature, or errs.ErrNotFound. Used to log cross-user collisions.
	SignatureOwner(ctx context.Context, signature string) (string, error)

	// SetTrusted marks a device trusted or untrusted.
	SetTrusted(ctx context.Context, userID, fingerprintID string, trusted bool, label string) error
}
