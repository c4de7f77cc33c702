// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/gravelight/sessionguard/internal/errs"
	"github.com/gravelight/sessionguard/internal/logging"
)

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response metadata for observability.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the machine-readable error shape.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New()

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondData sends a successful data response.
func respondData(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, &APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API Error")
	}

	respondJSON(w, status, &APIResponse{
		Status:   "error",
		Metadata: Metadata{Timestamp: time.Now().UTC()},
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondDomainError maps the engine's error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, errs.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, errs.ErrSessionFrozen):
		respondError(w, http.StatusConflict, "SESSION_FROZEN", "session is frozen; unfreeze it first", nil)
	case errors.Is(err, errs.ErrConflictExhausted):
		respondError(w, http.StatusConflict, "CONCURRENT_UPDATE", "concurrent updates exhausted retries; try again", err)
	case errors.Is(err, errs.ErrAuditWriteFailed):
		respondError(w, http.StatusInternalServerError, "AUDIT_WRITE_FAILED", "mutation rejected: audit trail unavailable", err)
	case errors.Is(err, errs.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "session store unavailable", err)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", err)
	}
}

// decodeAndValidate decodes a JSON request body into v and validates it.
func decodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.InvalidInputf("invalid request body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return errs.InvalidInputf("validation failed: %v", err)
	}
	return nil
}

// getIntParam reads an integer query parameter with a default.
func getIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
