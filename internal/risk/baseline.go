// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/gravelight/sessionguard/internal/session"
)

// SessionHistory is the slice of the session repository the baseline
// builder needs.
type SessionHistory interface {
	ListActive(ctx context.Context, userID string) ([]*session.Session, error)
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// BuildBaseline assembles a scoring baseline snapshot from the store. The
// snapshot is taken once per assessment so that scoring itself stays
// deterministic and store-free.
//
// Active hours are derived from the creation and last-activity hours of
// the user's current sessions. A user with no sessions gets a no-history
// baseline, which makes the history-dependent factors non-triggering.
func BuildBaseline(ctx context.Context, hist SessionHistory, userID string, rapidWindow time.Duration, now time.Time) (Baseline, error) {
	if userID == "" {
		return Baseline{}, fmt.Errorf("build baseline: user id is required")
	}

	sessions, err := hist.ListActive(ctx, userID)
	if err != nil {
		return Baseline{}, fmt.Errorf("build baseline: %w", err)
	}

	recent, err := hist.CountCreatedSince(ctx, userID, now.Add(-rapidWindow))
	if err != nil {
		return Baseline{}, fmt.Errorf("build baseline: %w", err)
	}

	b := Baseline{RecentCreations: recent}
	for _, s := range sessions {
		b.HasHistory = true
		b.ActiveHours[s.CreatedAt.UTC().Hour()] = true
		b.ActiveHours[s.LastActivityAt.UTC().Hour()] = true
	}
	return b, nil
}
