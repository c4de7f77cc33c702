// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravelight/sessionguard/internal/config"
)

// NewRouter builds the full route tree.
func NewRouter(h *Handler, cfg config.APIConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		r.Use(PrometheusMetrics)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.EvaluateSession)
			r.Route("/{token}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/touch", h.TouchSession)
				r.Post("/freeze", h.FreezeSession)
				r.Post("/unfreeze", h.UnfreezeSession)
				r.Post("/lock-ip", h.LockSessionToIP)
				r.Post("/require-reauth", h.RequireReAuth)
				r.Post("/flag-suspicious", h.FlagSuspicious)
				r.Post("/clear-suspicion", h.ClearSuspicion)
				r.Post("/promote", h.PromoteTrust)
				r.Post("/revoke", h.RevokeSession)
			})
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/stats", h.UserStats)
			r.Get("/sessions", h.UserSessions)
			r.Get("/anomalies", h.UserAnomalies)
			r.Get("/timeline", h.UserTimeline)
			r.Get("/events", h.UserEvents)
			r.Get("/summary", h.UserSummary)
			r.Get("/devices", h.ListDevices)
			r.Get("/conflicts", h.DetectConflicts)
			r.Get("/takeover", h.DetectTakeover)
			r.Post("/conflicts/resolve", h.ResolveConflicts)
		})

		r.Post("/fingerprints/{id}/trust", h.TrustDevice)

		r.Get("/ws", h.EventStream)
	})

	return r
}
