// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package config provides layered configuration for SessionGuard using
// koanf: struct defaults, optional YAML file, environment overrides.
//
// Every policy number the engine consumes (risk weights, category
// boundaries, travel-speed thresholds, retry budgets) lives here so
// operators can tune sensitivity without a code change.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Storage     StorageConfig     `koanf:"storage"`
	Risk        RiskConfig        `koanf:"risk"`
	Travel      TravelConfig      `koanf:"travel"`
	Conflict    ConflictConfig    `koanf:"conflict"`
	Fingerprint FingerprintConfig `koanf:"fingerprint"`
	Session     SessionConfig     `koanf:"session"`
	Trust       TrustConfig       `koanf:"trust"`
	Geo         GeoConfig         `koanf:"geo"`
	Audit       AuditConfig       `koanf:"audit"`
	Notify      NotifyConfig      `koanf:"notify"`
	API         APIConfig         `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StorageConfig selects and configures the durable store backend.
type StorageConfig struct {
	// Backend is "badger" or "memory". Memory is for development and tests.
	Backend string `koanf:"backend"`

	// Path is the BadgerDB data directory.
	Path string `koanf:"path"`

	// GCInterval is how often to run Badger value-log garbage collection.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// RiskConfig holds risk scoring weights and category boundaries.
// Weights are points added when a factor triggers; the total is clamped
// to [0, 100].
type RiskConfig struct {
	NewDeviceWeight     int `koanf:"new_device_weight"`
	NewLocationWeight   int `koanf:"new_location_weight"`
	SuspiciousIPWeight  int `koanf:"suspicious_ip_weight"`
	UnusualHourWeight   int `koanf:"unusual_hour_weight"`
	RapidCreationWeight int `koanf:"rapid_creation_weight"`

	// RapidCreationCount is the session-creation count within
	// RapidCreationWindow that triggers the rapid_creation factor.
	RapidCreationCount  int           `koanf:"rapid_creation_count"`
	RapidCreationWindow time.Duration `koanf:"rapid_creation_window"`

	// Category boundaries: score < MediumThreshold is low,
	// < HighThreshold is medium, < CriticalThreshold is high,
	// otherwise critical.
	MediumThreshold   int `koanf:"medium_threshold"`
	HighThreshold     int `koanf:"high_threshold"`
	CriticalThreshold int `koanf:"critical_threshold"`
}

// TravelConfig holds impossible-travel detection thresholds.
type TravelConfig struct {
	// MaxSpeedKmH is the maximum plausible travel speed (default: 900 km/h).
	MaxSpeedKmH float64 `koanf:"max_speed_kmh"`

	// MinDistanceKm ignores transitions between nearby locations.
	MinDistanceKm float64 `koanf:"min_distance_km"`

	// MinTimeDelta ignores session pairs closer together than this.
	MinTimeDelta time.Duration `koanf:"min_time_delta"`
}

// ConflictConfig holds conflict and takeover detection policy beyond the
// travel thresholds.
type ConflictConfig struct {
	// TakeoverWindow is how far back takeover detection looks for
	// corroborating audit activity (failed mutations, sensitive
	// actions, new-device registrations).
	TakeoverWindow time.Duration `koanf:"takeover_window"`
}

// FingerprintConfig holds device fingerprint matching thresholds.
type FingerprintConfig struct {
	// MinMatchConfidence is the confidence below which a signature is
	// treated as a new device.
	MinMatchConfidence int `koanf:"min_match_confidence"`

	// NearMatchPenalty is subtracted from confidence when only a
	// near-match (same hardware/browser/timezone, different canvas)
	// is found.
	NearMatchPenalty int `koanf:"near_match_penalty"`
}

// SessionConfig holds session lifecycle and comparison policy.
type SessionConfig struct {
	// TTL is the default session lifetime.
	TTL time.Duration `koanf:"ttl"`

	// MaxConcurrentPerDevice is the number of simultaneous sessions a
	// single fingerprint may hold from distinct IPs before the
	// duplicate_fingerprint conflict fires.
	MaxConcurrentPerDevice int `koanf:"max_concurrent_per_device"`

	// MaxSessionsCompared caps pairwise conflict comparison per user so a
	// pile of stale sessions cannot cause unbounded latency.
	MaxSessionsCompared int `koanf:"max_sessions_compared"`

	// CleanupInterval is how often expired sessions are purged.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// TrustConfig holds trust manager mutation policy.
type TrustConfig struct {
	// MaxRetries bounds optimistic-concurrency retries per mutation.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the base delay between version-conflict retries.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// GeoConfig holds geolocation resolver settings.
type GeoConfig struct {
	// Timeout bounds each resolve call; on timeout the location degrades
	// to unknown rather than failing the assessment.
	Timeout time.Duration `koanf:"timeout"`

	// BreakerMinRequests is the minimum sample before the circuit breaker
	// may open.
	BreakerMinRequests uint32 `koanf:"breaker_min_requests"`

	// BreakerFailureRatio opens the circuit at or above this failure rate.
	BreakerFailureRatio float64 `koanf:"breaker_failure_ratio"`

	// BreakerTimeout is how long the circuit stays open before half-open.
	BreakerTimeout time.Duration `koanf:"breaker_timeout"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	// Retention is how long audit records are kept.
	Retention time.Duration `koanf:"retention"`

	// CleanupInterval is how often expired audit records are purged.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// NotifyConfig holds webhook notification settings.
type NotifyConfig struct {
	Enabled     bool              `koanf:"enabled"`
	WebhookURL  string            `koanf:"webhook_url"`
	Headers     map[string]string `koanf:"headers"`
	RateLimitMs int               `koanf:"rate_limit_ms"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	// RateLimitRPS is the steady-state request rate allowed per client IP.
	RateLimitRPS float64 `koanf:"rate_limit_rps"`

	// RateLimitBurst is the burst allowance per client IP.
	RateLimitBurst int `koanf:"rate_limit_burst"`

	// DefaultPageSize and MaxPageSize bound list endpoints.
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`

	// EventBufferSize is the monitor event ring buffer capacity.
	EventBufferSize int `koanf:"event_buffer_size"`

	// EventTTL is how long buffered events stay visible.
	EventTTL time.Duration `koanf:"event_ttl"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3861,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Storage: StorageConfig{
			Backend:    "badger",
			Path:       "/data/sessionguard",
			GCInterval: 10 * time.Minute,
		},
		Risk: RiskConfig{
			NewDeviceWeight:     30,
			NewLocationWeight:   30,
			SuspiciousIPWeight:  20,
			UnusualHourWeight:   10,
			RapidCreationWeight: 20,
			RapidCreationCount:  5,
			RapidCreationWindow: 10 * time.Minute,
			MediumThreshold:     25,
			HighThreshold:       50,
			CriticalThreshold:   75,
		},
		Travel: TravelConfig{
			MaxSpeedKmH:   900, // Commercial flight speed
			MinDistanceKm: 100,
			MinTimeDelta:  5 * time.Minute,
		},
		Conflict: ConflictConfig{
			TakeoverWindow: time.Hour,
		},
		Fingerprint: FingerprintConfig{
			MinMatchConfidence: 40,
			NearMatchPenalty:   25,
		},
		Session: SessionConfig{
			TTL:                    24 * time.Hour,
			MaxConcurrentPerDevice: 3,
			MaxSessionsCompared:    50,
			CleanupInterval:        5 * time.Minute,
		},
		Trust: TrustConfig{
			MaxRetries:   5,
			RetryBackoff: 25 * time.Millisecond,
		},
		Geo: GeoConfig{
			Timeout:             2 * time.Second,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
			BreakerTimeout:      2 * time.Minute,
		},
		Audit: AuditConfig{
			Retention:       90 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Notify: NotifyConfig{
			Enabled:     false,
			WebhookURL:  "",
			Headers:     map[string]string{},
			RateLimitMs: 500,
		},
		API: APIConfig{
			RateLimitRPS:    25,
			RateLimitBurst:  50,
			DefaultPageSize: 20,
			MaxPageSize:     100,
			EventBufferSize: 256,
			EventTTL:        15 * time.Minute,
		},
	}
}
