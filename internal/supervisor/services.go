// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gravelight/sessionguard/internal/logging"
	"github.com/gravelight/sessionguard/internal/metrics"
)

// HTTPService runs an http.Server as a suture service.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		timeout := s.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Server.Shutdown(shutdownCtx); err != nil {
			logging.Err(err).Msg("http server shutdown")
		}
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }

// CleanupFunc removes expired rows and reports how many.
type CleanupFunc func(ctx context.Context) (int, error)

// CleanupService periodically runs a store cleanup. Errors are logged
// and the loop continues; the store being briefly unavailable is not a
// reason to crash the service.
type CleanupService struct {
	Name     string
	Interval time.Duration
	Run      CleanupFunc

	// CountSessions feeds removed rows into the session cleanup metric.
	CountSessions bool
}

// Serve implements suture.Service.
func (s *CleanupService) Serve(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := s.Run(ctx)
			if err != nil {
				logging.Err(err).Str("cleanup", s.Name).Msg("cleanup pass failed")
				continue
			}
			if removed > 0 {
				if s.CountSessions {
					metrics.SessionsCleanedUp.Add(float64(removed))
				}
				logging.Debug().Str("cleanup", s.Name).Int("removed", removed).Msg("cleanup pass")
			}
		}
	}
}

func (s *CleanupService) String() string { return s.Name }

// BadgerGCService runs Badger value-log garbage collection on a timer.
type BadgerGCService struct {
	DB       *badger.DB
	Interval time.Duration
}

// Serve implements suture.Service.
func (s *BadgerGCService) Serve(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is nothing
			// to collect; that is the common case, not a failure.
			err := s.DB.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Err(err).Msg("badger value-log gc")
			}
		}
	}
}

func (s *BadgerGCService) String() string { return "badger-gc" }
