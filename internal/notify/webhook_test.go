// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert() *Alert {
	return &Alert{
		Kind:      "high_risk_login",
		UserID:    "user-1",
		Summary:   "login scored critical",
		Severity:  "critical",
		Timestamp: time.Now().UTC(),
	}
}

func TestWebhookNotifierSend(t *testing.T) {
	var received WebhookPayload
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		WebhookURL:  srv.URL,
		Headers:     map[string]string{"Authorization": "Bearer token123"},
		Enabled:     true,
		RateLimitMs: 1,
	})

	require.True(t, n.Enabled())
	require.NoError(t, n.Send(context.Background(), testAlert()))

	assert.Equal(t, "Bearer token123", gotAuth)
	assert.Equal(t, "security_alert", received.EventType)
	assert.Equal(t, "sessionguard", received.Source)
	require.NotNil(t, received.Alert)
	assert.Equal(t, "high_risk_login", received.Alert.Kind)
	assert.Equal(t, "user-1", received.Alert.UserID)
}

func TestWebhookNotifierDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: srv.URL, Enabled: false})
	assert.False(t, n.Enabled())
	require.NoError(t, n.Send(context.Background(), testAlert()))
	assert.Zero(t, calls.Load(), "disabled notifier must not call the endpoint")

	// No URL means disabled regardless of the flag.
	empty := NewWebhookNotifier(WebhookConfig{Enabled: true})
	assert.False(t, empty.Enabled())
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: srv.URL, Enabled: true, RateLimitMs: 1})
	err := n.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookNotifierRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: srv.URL, Enabled: true, RateLimitMs: 200})

	require.NoError(t, n.Send(context.Background(), testAlert()))

	// The second send inside the window waits; a canceled context aborts it.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.Send(ctx, testAlert())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookNotifierToggles(t *testing.T) {
	n := NewWebhookNotifier(WebhookConfig{WebhookURL: "http://example.invalid", Enabled: true})
	assert.True(t, n.Enabled())

	n.SetEnabled(false)
	assert.False(t, n.Enabled())

	n.SetEnabled(true)
	n.SetWebhookURL("")
	assert.False(t, n.Enabled())
}

// countingNotifier records deliveries for dispatcher tests.
type countingNotifier struct {
	enabled bool
	calls   atomic.Int32
}

func (n *countingNotifier) Name() string  { return "counting" }
func (n *countingNotifier) Enabled() bool { return n.enabled }
func (n *countingNotifier) Send(ctx context.Context, alert *Alert) error {
	n.calls.Add(1)
	return nil
}

func TestDispatcher(t *testing.T) {
	active := &countingNotifier{enabled: true}
	inactive := &countingNotifier{enabled: false}
	d := NewDispatcher(time.Second, active, inactive)

	d.Dispatch(testAlert())
	d.Dispatch(testAlert())
	d.Wait()

	assert.Equal(t, int32(2), active.calls.Load())
	assert.Zero(t, inactive.calls.Load(), "disabled notifiers are skipped")
}
