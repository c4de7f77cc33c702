// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package config

import "fmt"

// Validate checks configuration invariants after loading. It fails fast at
// startup rather than letting a nonsensical policy reach the engine.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}

	switch c.Storage.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("storage.backend must be badger or memory, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "badger" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the badger backend")
	}

	if err := c.validateRisk(); err != nil {
		return err
	}

	if c.Travel.MaxSpeedKmH <= 0 {
		return fmt.Errorf("travel.max_speed_kmh must be positive")
	}
	if c.Travel.MinDistanceKm < 0 {
		return fmt.Errorf("travel.min_distance_km cannot be negative")
	}

	if c.Conflict.TakeoverWindow <= 0 {
		return fmt.Errorf("conflict.takeover_window must be positive")
	}

	if c.Fingerprint.MinMatchConfidence < 0 || c.Fingerprint.MinMatchConfidence > 100 {
		return fmt.Errorf("fingerprint.min_match_confidence must be 0-100")
	}

	if c.Session.MaxConcurrentPerDevice < 1 {
		return fmt.Errorf("session.max_concurrent_per_device must be at least 1")
	}
	if c.Session.MaxSessionsCompared < 2 {
		return fmt.Errorf("session.max_sessions_compared must be at least 2")
	}

	if c.Trust.MaxRetries < 1 {
		return fmt.Errorf("trust.max_retries must be at least 1")
	}

	if c.Geo.Timeout <= 0 {
		return fmt.Errorf("geo.timeout must be positive")
	}
	if c.Geo.BreakerFailureRatio <= 0 || c.Geo.BreakerFailureRatio > 1 {
		return fmt.Errorf("geo.breaker_failure_ratio must be in (0, 1]")
	}

	return nil
}

// validateRisk checks weight and boundary sanity for the scoring engine.
func (c *Config) validateRisk() error {
	weights := map[string]int{
		"risk.new_device_weight":     c.Risk.NewDeviceWeight,
		"risk.new_location_weight":   c.Risk.NewLocationWeight,
		"risk.suspicious_ip_weight":  c.Risk.SuspiciousIPWeight,
		"risk.unusual_hour_weight":   c.Risk.UnusualHourWeight,
		"risk.rapid_creation_weight": c.Risk.RapidCreationWeight,
	}
	for name, w := range weights {
		if w < 0 || w > 100 {
			return fmt.Errorf("%s must be 0-100, got %d", name, w)
		}
	}

	if c.Risk.MediumThreshold >= c.Risk.HighThreshold ||
		c.Risk.HighThreshold >= c.Risk.CriticalThreshold {
		return fmt.Errorf("risk category thresholds must be strictly increasing: medium=%d high=%d critical=%d",
			c.Risk.MediumThreshold, c.Risk.HighThreshold, c.Risk.CriticalThreshold)
	}
	if c.Risk.CriticalThreshold > 100 {
		return fmt.Errorf("risk.critical_threshold cannot exceed 100")
	}

	if c.Risk.RapidCreationCount < 1 {
		return fmt.Errorf("risk.rapid_creation_count must be at least 1")
	}

	return nil
}
