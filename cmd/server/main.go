// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

// Package main is the entry point for the SessionGuard server.
//
// SessionGuard scores the risk of authenticated sessions, fingerprints
// devices across logins, detects multi-session conflicts and possible
// account takeover, and lets operators lock, freeze, or force
// re-authentication on a session in real time.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config file, and
//     environment variables (Koanf v2)
//  2. Storage: BadgerDB (or in-memory for development) backing the
//     session, fingerprint, audit, and conflict stores
//  3. Engine: fingerprint matcher, risk engine, conflict detector,
//     trust manager, realtime monitor
//  4. HTTP Server: REST API, websocket event stream, Prometheus metrics
//
// All components run under a suture v4 supervision tree; SIGINT and
// SIGTERM trigger a graceful shutdown.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables with the SESSIONGUARD_ prefix
//   - Config file (config.yaml, or SESSIONGUARD_CONFIG)
//   - Built-in defaults
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gravelight/sessionguard/internal/api"
	auditpkg "github.com/gravelight/sessionguard/internal/audit"
	"github.com/gravelight/sessionguard/internal/conflict"
	"github.com/gravelight/sessionguard/internal/config"
	"github.com/gravelight/sessionguard/internal/fingerprint"
	"github.com/gravelight/sessionguard/internal/geo"
	"github.com/gravelight/sessionguard/internal/logging"
	"github.com/gravelight/sessionguard/internal/monitor"
	"github.com/gravelight/sessionguard/internal/notify"
	"github.com/gravelight/sessionguard/internal/risk"
	"github.com/gravelight/sessionguard/internal/session"
	"github.com/gravelight/sessionguard/internal/supervisor"
	"github.com/gravelight/sessionguard/internal/trust"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("backend", cfg.Storage.Backend).
		Int("port", cfg.Server.Port).
		Msg("starting sessionguard")

	st, db, err := openStores(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open stores")
	}

	eng := buildEngine(cfg, st)

	handler := api.NewHandler(
		st.sessions,
		st.fingerprints,
		eng.matcher,
		eng.riskEngine,
		eng.detector,
		eng.manager,
		eng.mon,
		eng.resolver,
		eng.dispatcher,
		cfg,
	)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      api.NewRouter(handler, cfg.API),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(slog.New(slog.NewJSONHandler(os.Stderr, nil)), treeCfg)

	tree.Add(&supervisor.HTTPService{Server: server, ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.Add(&supervisor.CleanupService{
		Name:          "session-cleanup",
		Interval:      cfg.Session.CleanupInterval,
		Run:           st.sessions.CleanupExpired,
		CountSessions: true,
	})
	tree.Add(&supervisor.CleanupService{
		Name:     "audit-cleanup",
		Interval: cfg.Audit.CleanupInterval,
		Run: func(ctx context.Context) (int, error) {
			cutoff := time.Now().UTC().Add(-cfg.Audit.Retention)
			return st.auditlog.CleanupExpired(ctx, cutoff)
		},
	})
	if db != nil {
		tree.Add(&supervisor.BadgerGCService{DB: db, Interval: cfg.Storage.GCInterval})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("supervisor tree exited")
	}

	eng.dispatcher.Wait()
	if db != nil {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close badger")
		}
	}
	logging.Info().Msg("sessionguard stopped")
}

// stores bundles the storage backends behind their interfaces.
type stores struct {
	sessions     session.Repository
	fingerprints fingerprint.Store
	auditlog     auditpkg.Store
	conflicts    conflict.Store
}

// openStores opens the configured backend. The returned *badger.DB is
// nil for the memory backend.
func openStores(cfg *config.Config) (*stores, *badger.DB, error) {
	if cfg.Storage.Backend == "memory" {
		auditlog := auditpkg.NewMemoryStore()
		return &stores{
			sessions:     session.NewMemoryStore(auditlog),
			fingerprints: fingerprint.NewMemoryStore(),
			auditlog:     auditlog,
			conflicts:    conflict.NewMemoryStore(),
		}, nil, nil
	}

	opts := badger.DefaultOptions(cfg.Storage.Path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, err
	}

	auditlog := auditpkg.NewBadgerStore(db)
	return &stores{
		sessions:     session.NewBadgerStore(db, auditlog),
		fingerprints: fingerprint.NewBadgerStore(db),
		auditlog:     auditlog,
		conflicts:    conflict.NewBadgerStore(db),
	}, db, nil
}

// engine bundles the five core components plus their collaborators.
type engine struct {
	matcher    *fingerprint.Matcher
	riskEngine *risk.Engine
	detector   *conflict.Detector
	manager    *trust.Manager
	mon        *monitor.Monitor
	resolver   geo.Resolver
	dispatcher *notify.Dispatcher
}

func buildEngine(cfg *config.Config, st *stores) *engine {
	matcher := fingerprint.NewMatcher(st.fingerprints, fingerprint.MatcherConfig{
		MinMatchConfidence: cfg.Fingerprint.MinMatchConfidence,
		NearMatchPenalty:   cfg.Fingerprint.NearMatchPenalty,
	})

	riskEngine := risk.NewEngine(risk.Config{
		NewDeviceWeight:     cfg.Risk.NewDeviceWeight,
		NewLocationWeight:   cfg.Risk.NewLocationWeight,
		SuspiciousIPWeight:  cfg.Risk.SuspiciousIPWeight,
		UnusualHourWeight:   cfg.Risk.UnusualHourWeight,
		RapidCreationWeight: cfg.Risk.RapidCreationWeight,
		RapidCreationCount:  cfg.Risk.RapidCreationCount,
		MediumThreshold:     cfg.Risk.MediumThreshold,
		HighThreshold:       cfg.Risk.HighThreshold,
		CriticalThreshold:   cfg.Risk.CriticalThreshold,
	})

	detector := conflict.NewDetector(st.sessions, st.fingerprints, st.auditlog, conflict.Config{
		MaxSpeedKmH:            cfg.Travel.MaxSpeedKmH,
		MinDistanceKm:          cfg.Travel.MinDistanceKm,
		MinTimeDelta:           cfg.Travel.MinTimeDelta,
		MaxConcurrentPerDevice: cfg.Session.MaxConcurrentPerDevice,
		MaxSessionsCompared:    cfg.Session.MaxSessionsCompared,
		TakeoverWindow:         cfg.Conflict.TakeoverWindow,
	})

	manager := trust.NewManager(st.sessions, st.auditlog, st.conflicts, detector, trust.Config{
		MaxRetries:   cfg.Trust.MaxRetries,
		RetryBackoff: cfg.Trust.RetryBackoff,
	})

	buffer := monitor.NewEventBuffer(cfg.API.EventBufferSize, cfg.API.EventTTL)
	monCfg := monitor.DefaultConfig()
	monCfg.MaxConcurrentPerDevice = cfg.Session.MaxConcurrentPerDevice
	mon := monitor.New(st.sessions, st.auditlog, st.conflicts, st.fingerprints, buffer, monCfg)

	var resolver geo.Resolver = geo.NewStaticResolver(nil)
	resolver = geo.NewBreakerResolver(resolver, geo.BreakerConfig{
		MinRequests:  cfg.Geo.BreakerMinRequests,
		FailureRatio: cfg.Geo.BreakerFailureRatio,
		Timeout:      cfg.Geo.BreakerTimeout,
	})
	resolver = geo.NewTimeoutResolver(resolver, cfg.Geo.Timeout)

	dispatcher := notify.NewDispatcher(0, notify.NewWebhookNotifier(notify.WebhookConfig{
		WebhookURL:  cfg.Notify.WebhookURL,
		Headers:     cfg.Notify.Headers,
		Enabled:     cfg.Notify.Enabled,
		RateLimitMs: cfg.Notify.RateLimitMs,
	}))

	return &engine{
		matcher:    matcher,
		riskEngine: riskEngine,
		detector:   detector,
		manager:    manager,
		mon:        mon,
		resolver:   resolver,
		dispatcher: dispatcher,
	}
}
