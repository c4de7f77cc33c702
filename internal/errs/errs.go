// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package errs defines the error taxonomy shared by every SessionGuard
// component. Callers classify failures with errors.Is against the sentinel
// kinds below rather than matching strings.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap with %w so errors.Is works across layers.
var (
	// ErrInvalidInput indicates a malformed or missing required field
	// (e.g., empty user ID). No partial state change has occurred.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates the session or device record does not exist.
	// Callers treat this as "nothing to act on", not a system failure.
	ErrNotFound = errors.New("not found")

	// ErrConflictRetryable indicates an optimistic-concurrency version
	// mismatch. The trust manager retries internally before surfacing
	// ErrConflictExhausted.
	ErrConflictRetryable = errors.New("version conflict")

	// ErrConflictExhausted indicates the bounded retry budget for a
	// conflicting mutation was spent without success.
	ErrConflictExhausted = errors.New("version conflict retries exhausted")

	// ErrStoreUnavailable indicates the underlying repository is
	// unreachable or timed out. Reads degrade to "assessment unavailable";
	// writes fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAuditWriteFailed indicates a trust mutation could not produce its
	// audit record. The whole operation fails; unaudited trust changes are
	// unacceptable.
	ErrAuditWriteFailed = errors.New("audit write failed")

	// ErrSessionFrozen indicates an operation was rejected because the
	// session is frozen. Only an explicit unfreeze lifts this.
	ErrSessionFrozen = errors.New("session frozen")
)

// InvalidInputf wraps ErrInvalidInput with a formatted detail message.
func InvalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidInput}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// IsRetryable reports whether the error is a transient version conflict
// that the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflictRetryable)
}

// IsFatal reports whether the error must be logged at high severity and
// surfaced to the caller without retry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrAuditWriteFailed)
}
