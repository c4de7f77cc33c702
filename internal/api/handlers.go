// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package api exposes the engine over HTTP: session evaluation on login,
// operator trust actions, conflict review, and the realtime monitor
// surface including a websocket event stream.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gravelight/sessionguard/internal/conflict"
	"github.com/gravelight/sessionguard/internal/config"
	"github.com/gravelight/sessionguard/internal/fingerprint"
	"github.com/gravelight/sessionguard/internal/geo"
	"github.com/gravelight/sessionguard/internal/logging"
	"github.com/gravelight/sessionguard/internal/monitor"
	"github.com/gravelight/sessionguard/internal/notify"
	"github.com/gravelight/sessionguard/internal/risk"
	"github.com/gravelight/sessionguard/internal/session"
	"github.com/gravelight/sessionguard/internal/trust"
)

// Handler holds the engine components the HTTP surface composes.
type Handler struct {
	sessions     session.Repository
	fingerprints fingerprint.Store
	matcher      *fingerprint.Matcher
	riskEngine   *risk.Engine
	detector     *conflict.Detector
	manager      *trust.Manager
	mon          *monitor.Monitor
	resolver     geo.Resolver
	dispatcher   *notify.Dispatcher
	cfg          *config.Config
}

// NewHandler creates the API handler.
func NewHandler(
	sessions session.Repository,
	fingerprints fingerprint.Store,
	matcher *fingerprint.Matcher,
	riskEngine *risk.Engine,
	detector *conflict.Detector,
	manager *trust.Manager,
	mon *monitor.Monitor,
	resolver geo.Resolver,
	dispatcher *notify.Dispatcher,
	cfg *config.Config,
) *Handler {
	return &Handler{
		sessions:     sessions,
		fingerprints: fingerprints,
		matcher:      matcher,
		riskEngine:   riskEngine,
		detector:     detector,
		manager:      manager,
		mon:          mon,
		resolver:     resolver,
		dispatcher:   dispatcher,
		cfg:          cfg,
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady reports readiness by probing the session store.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	_, err := h.sessions.CountCreatedSince(r.Context(), "readiness-probe", time.Now().Add(-time.Minute))
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "session store not reachable", err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "ready"})
}

// EvaluateSessionRequest is the login-time evaluation input.
type EvaluateSessionRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	IP         string `json:"ip" validate:"required,ip"`
	DeviceType string `json:"device_type,omitempty"`
	Browser    string `json:"browser,omitempty"`
	OS         string `json:"os,omitempty"`

	// SuspiciousIP is an external reputation signal supplied by the
	// caller (known-bad range, hosting/VPN flag).
	SuspiciousIP bool `json:"suspicious_ip,omitempty"`

	Signals fingerprint.RawSignals `json:"signals"`
}

// EvaluateSessionResponse returns the created session token with the
// fingerprint match and risk assessment that produced it.
type EvaluateSessionResponse struct {
	Token       string                   `json:"token"`
	Fingerprint *fingerprint.MatchResult `json:"fingerprint"`
	Assessment  *risk.Assessment         `json:"assessment"`
	Location    geo.Location             `json:"location"`
	ExpiresAt   time.Time                `json:"expires_at"`
}

// EvaluateSession runs the full login pipeline: fingerprint match, geo
// resolution, baseline build, risk scoring, and session creation. A
// critical assessment marks the new session suspicious at birth; the
// final action on it remains operator policy.
func (h *Handler) EvaluateSession(w http.ResponseWriter, r *http.Request) {
	var req EvaluateSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondDomainError(w, err)
		return
	}
	ctx := r.Context()
	now := time.Now().UTC()

	match, err := h.matcher.Match(ctx, req.UserID, req.Signals)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	loc, err := h.resolver.Resolve(ctx, req.IP)
	if err != nil {
		// Resolver failures degrade to unknown; scoring continues.
		loc = geo.UnknownLocation()
	}

	baseline, err := risk.BuildBaseline(ctx, h.sessions, req.UserID, h.cfg.Risk.RapidCreationWindow, now)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	isNewLocation, err := h.isNewLocation(r, req.UserID, loc)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	assessment, err := h.riskEngine.Score(ctx, risk.Context{
		UserID:        req.UserID,
		IP:            req.IP,
		Country:       loc.Country,
		City:          loc.City,
		DeviceType:    req.DeviceType,
		Browser:       req.Browser,
		IsNewDevice:   match.IsNewDevice,
		IsNewLocation: isNewLocation,
		SuspiciousIP:  req.SuspiciousIP,
		EventTime:     now,
		Baseline:      baseline,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s := &session.Session{
		Token:          session.NewToken(),
		UserID:         req.UserID,
		IP:             req.IP,
		FingerprintID:  match.FingerprintID,
		DeviceType:     req.DeviceType,
		Browser:        req.Browser,
		OS:             req.OS,
		Country:        loc.Country,
		City:           loc.City,
		Latitude:       loc.Latitude,
		Longitude:      loc.Longitude,
		IsSuspicious:   assessment.Category == risk.CategoryCritical,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(h.cfg.Session.TTL),
	}
	if err := h.sessions.Create(ctx, s); err != nil {
		respondDomainError(w, err)
		return
	}

	h.mon.Buffer().Publish(monitor.Event{
		Type:         monitor.EventSessionCreated,
		UserID:       req.UserID,
		SessionToken: logging.SanitizeToken(s.Token),
		Detail:       string(assessment.Category),
	})
	h.mon.Buffer().Publish(monitor.Event{
		Type:         monitor.EventRiskAssessed,
		UserID:       req.UserID,
		SessionToken: logging.SanitizeToken(s.Token),
		Detail:       fmt.Sprintf("score=%d category=%s", assessment.Score, assessment.Category),
	})

	if assessment.Category == risk.CategoryCritical || assessment.Category == risk.CategoryHigh {
		h.dispatcher.Dispatch(&notify.Alert{
			Kind:         "high_risk_login",
			UserID:       req.UserID,
			SessionToken: logging.SanitizeToken(s.Token),
			Summary:      fmt.Sprintf("login scored %d (%s) from %s", assessment.Score, assessment.Category, loc.Country),
			Severity:     string(assessment.Category),
			Timestamp:    now,
		})
	}

	respondData(w, http.StatusCreated, &EvaluateSessionResponse{
		Token:       s.Token,
		Fingerprint: match,
		Assessment:  assessment,
		Location:    loc,
		ExpiresAt:   s.ExpiresAt,
	})
}

// isNewLocation reports whether the country is absent from the user's
// current active sessions. Unknown locations are never "new"; a missing
// history means there is nothing to contradict.
func (h *Handler) isNewLocation(r *http.Request, userID string, loc geo.Location) (bool, error) {
	if loc.Unknown || loc.Country == "" {
		return false, nil
	}
	active, err := h.sessions.ListActive(r.Context(), userID)
	if err != nil {
		return false, err
	}
	if len(active) == 0 {
		return false, nil
	}
	for _, s := range active {
		if s.Country == loc.Country {
			return false, nil
		}
	}
	return true, nil
}

// GetSession returns a session with its token sanitized for display.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	s, err := h.sessions.Get(r.Context(), token)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	view := s.Clone()
	view.Token = logging.SanitizeToken(view.Token)
	respondData(w, http.StatusOK, view)
}

// TouchRequest is the optional body for TouchSession. Marking the
// activity sensitive appends an audit record that takeover detection
// weighs against open conflicts.
type TouchRequest struct {
	Sensitive bool   `json:"sensitive,omitempty"`
	Action    string `json:"action,omitempty" validate:"max=64"`
	Actor     string `json:"actor,omitempty" validate:"max=64"`
}

// TouchSession records session activity. Sensitive actions (password
// change, payout) are reported here by the serving application so the
// audit trail carries them.
func (h *Handler) TouchSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req TouchRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			respondDomainError(w, err)
			return
		}
	}

	if err := h.sessions.Touch(r.Context(), token, time.Now().UTC()); err != nil {
		respondDomainError(w, err)
		return
	}

	if req.Sensitive {
		name := req.Action
		if name == "" {
			name = "unspecified"
		}
		if err := h.manager.RecordSensitiveAction(r.Context(), token, req.Actor, name); err != nil {
			respondDomainError(w, err)
			return
		}
	}

	respondData(w, http.StatusOK, map[string]string{"status": "touched"})
}

// TrustDeviceRequest marks a fingerprint trusted or untrusted.
type TrustDeviceRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Trusted bool   `json:"trusted"`
	Label   string `json:"label,omitempty" validate:"max=64"`
}

// TrustDevice sets the trusted flag on a device fingerprint record.
func (h *Handler) TrustDevice(w http.ResponseWriter, r *http.Request) {
	var req TrustDeviceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondDomainError(w, err)
		return
	}

	fingerprintID := chi.URLParam(r, "id")
	if err := h.fingerprints.SetTrusted(r.Context(), req.UserID, fingerprintID, req.Trusted, req.Label); err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ListDevices returns a user's known device fingerprints. Raw signatures
// are stripped from the view.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	devices, err := h.fingerprints.ListByUser(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	type deviceView struct {
		ID          string    `json:"id"`
		Confidence  int       `json:"confidence"`
		Trusted     bool      `json:"trusted"`
		Label       string    `json:"label,omitempty"`
		FirstSeenAt time.Time `json:"first_seen_at"`
		LastSeenAt  time.Time `json:"last_seen_at"`
	}
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceView{
			ID:          d.ID,
			Confidence:  d.Confidence,
			Trusted:     d.Trusted,
			Label:       d.Label,
			FirstSeenAt: d.FirstSeenAt,
			LastSeenAt:  d.LastSeenAt,
		})
	}
	respondData(w, http.StatusOK, out)
}
