// SessionGuard - Session Security & Device Trust Engine
// Copyright 2026 Gravelight Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gravelight/sessionguard

package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes a realtime event.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventRiskAssessed   EventType = "risk_assessed"
	EventConflict       EventType = "conflict_detected"
	EventTrustMutation  EventType = "trust_mutation"
	EventAnomaly        EventType = "anomaly"
)

// Event is one entry in the rolling realtime feed. Session tokens are
// stored sanitized; the feed is a display surface, not a forensic one.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	UserID       string    `json:"user_id"`
	SessionToken string    `json:"session_token,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// EventBuffer is a bounded, TTL-expiring ring of recent events with
// fan-out to subscribers. Slow subscribers drop events rather than block
// the publisher.
type EventBuffer struct {
	mu          sync.RWMutex
	events      []Event
	capacity    int
	ttl         time.Duration
	subscribers map[int]chan Event
	nextSub     int
}

// NewEventBuffer creates a buffer holding at most capacity events, each
// kept for at most ttl.
func NewEventBuffer(capacity int, ttl time.Duration) *EventBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventBuffer{
		events:      make([]Event, 0, capacity),
		capacity:    capacity,
		ttl:         ttl,
		subscribers: make(map[int]chan Event),
	}
}

// Publish appends an event and fans it out. The event ID and timestamp
// are assigned here if unset. Fan-out happens under the buffer lock so a
// racing cancel cannot close a channel mid-send; each send is non-blocking,
// so the lock hold is bounded regardless of subscriber speed.
func (b *EventBuffer) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(time.Now().UTC())
	if len(b.events) == b.capacity {
		copy(b.events, b.events[1:])
		b.events = b.events[:b.capacity-1]
	}
	b.events = append(b.events, evt)

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Recent returns up to limit events for the user, newest first. A zero
// or negative limit returns all retained events for the user.
func (b *EventBuffer) Recent(userID string, limit int) []Event {
	b.mu.Lock()
	b.pruneLocked(time.Now().UTC())
	events := make([]Event, len(b.events))
	copy(events, b.events)
	b.mu.Unlock()

	out := make([]Event, 0)
	for i := len(events) - 1; i >= 0; i-- {
		if userID != "" && events[i].UserID != userID {
			continue
		}
		out = append(out, events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Subscribe registers a fan-out channel and returns it with a cancel
// function. The channel is buffered; events arriving while it is full
// are dropped for that subscriber.
func (b *EventBuffer) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = ch
	b.mu.Unlock()

	// Closing under the same lock Publish fans out under keeps a racing
	// publish from sending on the closed channel.
	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// pruneLocked drops events past their TTL. Caller holds the write lock.
func (b *EventBuffer) pruneLocked(now time.Time) {
	if b.ttl <= 0 {
		return
	}
	cutoff := now.Add(-b.ttl)
	firstLive := len(b.events)
	for i, evt := range b.events {
		if evt.At.After(cutoff) {
			firstLive = i
			break
		}
	}
	if firstLive > 0 {
		remaining := len(b.events) - firstLive
		copy(b.events, b.events[firstLive:])
		b.events = b.events[:remaining]
	}
}
