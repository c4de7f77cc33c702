// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gravelight/sessionguard/internal/logging"
	"github.com/gravelight/sessionguard/internal/monitor"
	"github.com/gravelight/sessionguard/internal/notify"
	"github.com/gravelight/sessionguard/internal/session"
	"github.com/gravelight/sessionguard/internal/trust"
)

// ActionRequest carries the actor and reason every trust mutation
// requires for its audit record.
type ActionRequest struct {
	Actor  string `json:"actor" validate:"required,max=128"`
	Reason string `json:"reason" validate:"required,max=512"`
}

// LockRequest binds a session to an IP.
type LockRequest struct {
	ActionRequest
	IP string `json:"ip" validate:"required,ip"`
}

// PromoteRequest raises a session's trust level.
type PromoteRequest struct {
	ActionRequest
	Level int `json:"level" validate:"min=0,max=10"`
}

// ResolveRequest selects an auto-resolution strategy.
type ResolveRequest struct {
	ActionRequest
	Strategy string `json:"strategy" validate:"required,oneof=keep_newest keep_most_trusted"`
}

type mutationFunc func(token string, req ActionRequest) (*session.Session, error)

// runMutation handles the shared decode/respond/publish shape of the
// simple per-session trust endpoints.
func (h *Handler) runMutation(w http.ResponseWriter, r *http.Request, action string, fn mutationFunc) {
	var req ActionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondDomainError(w, err)
		return
	}

	token := chi.URLParam(r, "token")
	s, err := fn(token, req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.publishMutation(action, s, req.Reason)

	view := s.Clone()
	view.Token = logging.SanitizeToken(view.Token)
	respondData(w, http.StatusOK, view)
}

func (h *Handler) publishMutation(action string, s *session.Session, reason string) {
	h.mon.Buffer().Publish(monitor.Event{
		Type:         monitor.EventTrustMutation,
		UserID:       s.UserID,
		SessionToken: logging.SanitizeToken(s.Token),
		Detail:       action,
	})
	h.dispatcher.Dispatch(&notify.Alert{
		Kind:         action,
		UserID:       s.UserID,
		SessionToken: logging.SanitizeToken(s.Token),
		Summary:      reason,
		Severity:     "info",
		Timestamp:    s.LastActivityAt,
	})
}

// FreezeSession suspends a session entirely.
func (h *Handler) FreezeSession(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, "freeze", func(token string, req ActionRequest) (*session.Session, error) {
		return h.manager.Freeze(r.Context(), token, req.Actor, req.Reason)
	})
}

// UnfreezeSession lifts a freeze.
func (h *Handler) UnfreezeSession(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, "unfreeze", func(token string, req ActionRequest) (*session.Session, error) {
		return h.manager.Unfreeze(r.Context(), token, req.Actor, req.Reason)
	})
}

// RequireReAuth marks the session as needing fresh authentication.
func (h *Handler) RequireReAuth(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, "require_reauth", func(token string, req ActionRequest) (*session.Session, error) {
		return h.manager.RequireReAuth(r.Context(), token, req.Actor, req.Reason)
	})
}

// FlagSuspicious sets the sticky suspicion flag.
func (h *Handler) FlagSuspicious(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, "flag_suspicious", func(token string, req ActionRequest) (*session.Session, error) {
		return h.manager.FlagSuspicious(r.Context(), token, req.Actor, req.Reason)
	})
}

// ClearSuspicion clears the suspicion flag.
func (h *Handler) ClearSuspicion(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, "clear_suspicion", func(token string, req ActionRequest) (*session.Session, error) {
		return h.manager.ClearSuspicion(r.Context(), token, req.Actor, req.Reason)
	})
}

// RevokeSession terminates a session.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	h.runMutation(w, r, "revoke", func(token string, req ActionRequest) (*session.Session, error) {
		return h.manager.Revoke(r.Context(), token, req.Actor, req.Reason)
	})
}

// LockSessionToIP binds a session to one IP.
func (h *Handler) LockSessionToIP(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondDomainError(w, err)
		return
	}

	token := chi.URLParam(r, "token")
	s, err := h.manager.LockToIP(r.Context(), token, req.IP, req.Actor, req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.publishMutation("lock_to_ip", s, req.Reason)

	view := s.Clone()
	view.Token = logging.SanitizeToken(view.Token)
	respondData(w, http.StatusOK, view)
}

// PromoteTrust raises a session's trust level.
func (h *Handler) PromoteTrust(w http.ResponseWriter, r *http.Request) {
	var req PromoteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondDomainError(w, err)
		return
	}

	token := chi.URLParam(r, "token")
	s, err := h.manager.PromoteTrust(r.Context(), token, req.Level, req.Actor, req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.publishMutation("promote_trust", s, req.Reason)

	view := s.Clone()
	view.Token = logging.SanitizeToken(view.Token)
	respondData(w, http.StatusOK, view)
}

// DetectConflicts runs conflict detection for a user.
func (h *Handler) DetectConflicts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	records, err := h.detector.DetectConflicts(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	for _, rec := range records {
		h.mon.Buffer().Publish(monitor.Event{
			Type:   monitor.EventConflict,
			UserID: userID,
			Detail: string(rec.Kind),
		})
	}

	respondData(w, http.StatusOK, records)
}

// DetectTakeover returns the takeover verdict for a user.
func (h *Handler) DetectTakeover(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	verdict, err := h.detector.DetectTakeover(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, verdict)
}

// ResolveConflicts auto-resolves a user's conflicts with the requested
// strategy.
func (h *Handler) ResolveConflicts(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondDomainError(w, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	result, err := h.manager.AutoResolveConflicts(r.Context(), userID, trust.Strategy(req.Strategy), req.Actor)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	for id := range result.Revoked {
		h.mon.Buffer().Publish(monitor.Event{
			Type:   monitor.EventTrustMutation,
			UserID: userID,
			Detail: "auto_resolve:" + id,
		})
	}

	respondData(w, http.StatusOK, result)
}
