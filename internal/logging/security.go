// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package logging

import "github.com/rs/zerolog"

// SecurityEvent represents a security-relevant event (trust mutation,
// conflict detection, takeover verdict) emitted alongside the audit trail.
type SecurityEvent struct {
	// Event is the type of event (e.g., "session_frozen", "conflict_detected").
	Event string
	// UserID is the owning user's identifier (if known).
	UserID string
	// SessionToken is the session token (sanitized before logging).
	SessionToken string
	// IPAddress is the client's IP address.
	IPAddress string
	// Actor is who triggered the event (operator name or "system").
	Actor string
	// Reason is the operator- or policy-supplied reason.
	Reason string
	// Success indicates whether the operation succeeded.
	Success bool
	// Error is the error message if the operation failed.
	Error string
}

// SecurityLogger emits structured security events. Session tokens are never
// logged in full; only a masked prefix/suffix appears in output.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger scoped to a component.
func NewSecurityLogger(component string) *SecurityLogger {
	return &SecurityLogger{
		logger: With().Str("component", component).Logger(),
	}
}

// NewSecurityLoggerWithLogger creates a security logger with a custom logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger, component string) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With().Str("component", component).Logger(),
	}
}

// LogEvent logs a security event with automatic token sanitization.
func (l *SecurityLogger) LogEvent(event *SecurityEvent) {
	e := l.logger.Info().Str("event", event.Event)

	if event.Success {
		e = e.Str("status", "success")
	} else {
		e = e.Str("status", "failed")
	}
	if event.UserID != "" {
		e = e.Str("user_id", event.UserID)
	}
	if event.SessionToken != "" {
		e = e.Str("session", SanitizeToken(event.SessionToken))
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.Actor != "" {
		e = e.Str("actor", event.Actor)
	}
	if event.Reason != "" {
		e = e.Str("reason", event.Reason)
	}
	if event.Error != "" {
		e = e.Str("error", event.Error)
	}

	e.Msg("security event")
}

// SanitizeToken masks a session token or fingerprint signature, showing only
// the first and last 4 characters. Tokens are capabilities and must never be
// logged in full.
// Example: "a1b2c3d4e5f6a7b8..." -> "a1b2...a7b8"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
