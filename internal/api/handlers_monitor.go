// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// UserStats returns per-user session statistics.
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	stats, err := h.mon.Stats(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}

// UserSessions returns a user's active sessions.
func (h *Handler) UserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sessions, err := h.mon.ConcurrentSessions(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, sessions)
}

// UserAnomalies runs the cheap realtime anomaly checks.
func (h *Handler) UserAnomalies(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	anomalies, err := h.mon.Anomalies(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, anomalies)
}

// UserTimeline returns the zero-filled daily activity series.
func (h *Handler) UserTimeline(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	days := getIntParam(r, "days", 30)

	timeline, err := h.mon.Timeline(r.Context(), userID, days)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, timeline)
}

// UserEvents returns the user's recent feed entries.
func (h *Handler) UserEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := getIntParam(r, "limit", h.cfg.API.DefaultPageSize)
	if limit > h.cfg.API.MaxPageSize {
		limit = h.cfg.API.MaxPageSize
	}

	events, err := h.mon.Events(r.Context(), userID, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, events)
}

// UserSummary returns the per-user dashboard aggregate.
func (h *Handler) UserSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	summary, err := h.mon.Summary(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, summary)
}
