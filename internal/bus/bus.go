// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bus provides the publish/subscribe fanout that decouples page
// writers from the set of currently-subscribed viewers. Topics are page ids.
// Delivery is at-least-once to live subscribers; new subscribers receive no
// history and are expected to fetch canonical state once before consuming.
package bus

import (
	"context"

	"github.com/olegiv/opad-go/internal/model"
)

// Event is one message on a page's topic. Exactly one of Page, Typing or
// Presence is set, matching Kind.
type Event struct {
	Kind     string                `json:"kind"`
	PageID   string                `json:"page_id"`
	Page     *model.Page           `json:"page,omitempty"`
	Typing   *model.TypingSignal   `json:"typing,omitempty"`
	Presence *model.PresenceSignal `json:"presence,omitempty"`
}

// PageEvent builds a canonical-snapshot event.
func PageEvent(p model.Page) Event {
	return Event{Kind: model.EventPage, PageID: p.ID, Page: &p}
}

// TypingEvent builds an ephemeral typing event.
func TypingEvent(s model.TypingSignal) Event {
	return Event{Kind: model.EventTyping, PageID: s.PageID, Typing: &s}
}

// PresenceEvent builds an ephemeral presence event.
func PresenceEvent(s model.PresenceSignal) Event {
	return Event{Kind: model.EventPresence, PageID: s.PageID, Presence: &s}
}

// Error represents an error type for bus operations.
type Error string

func (e Error) Error() string { return string(e) }

// ErrBusClosed indicates the bus has been closed.
const ErrBusClosed Error = "bus closed"

// Bus is a topic-based publish/subscribe interface. Implementations must
// never block the publisher on slow subscribers and must not reorder events
// published for a single page.
type Bus interface {
	// Publish delivers the event to every current subscriber of its page.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers a new subscriber for one page's events.
	// The subscription only sees events published after this call.
	Subscribe(ctx context.Context, pageID string) (*Subscription, error)

	// Close tears down the bus and cancels all subscriptions.
	Close() error
}

// Subscription is one subscriber's handle on a page topic. Cancel must be
// called when the consumer goes away; it is tied to connection teardown in
// the HTTP layer.
type Subscription struct {
	ch     chan Event
	done   chan struct{}
	cancel func()
}

func newSubscription(buf int, cancel func()) *Subscription {
	return &Subscription{
		ch:     make(chan Event, buf),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// C returns the event channel. It is closed after the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription has been cancelled or evicted.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel detaches the subscription from the bus. Safe to call repeatedly.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}
