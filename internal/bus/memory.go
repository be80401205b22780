// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity for the
// in-memory bus.
const DefaultSubscriberBuffer = 64

// MemoryBus is an in-process Bus implementation. Publishing never blocks:
// a subscriber whose buffer is full is evicted instead, which forces its
// client to reconnect and re-fetch canonical state. Events for one page are
// delivered in publish order to every surviving subscriber.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	closed bool
	logger *slog.Logger
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		topics: make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Publish implements Bus. Events are fanned out under the bus lock so that
// per-page publish order is the order every subscriber observes.
func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	for sub := range b.topics[ev.PageID] {
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer: evict rather than block or reorder.
			b.logger.Warn("evicting slow subscriber", "page_id", ev.PageID)
			b.removeLocked(ev.PageID, sub)
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(_ context.Context, pageID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	var sub *Subscription
	sub = newSubscription(DefaultSubscriberBuffer, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(pageID, sub)
	})

	if b.topics[pageID] == nil {
		b.topics[pageID] = make(map[*Subscription]struct{})
	}
	b.topics[pageID][sub] = struct{}{}
	return sub, nil
}

// removeLocked detaches a subscription. Caller holds b.mu.
func (b *MemoryBus) removeLocked(pageID string, sub *Subscription) {
	subs, ok := b.topics[pageID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, pageID)
	}
	close(sub.done)
	close(sub.ch)
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for pageID, subs := range b.topics {
		for sub := range subs {
			delete(subs, sub)
			close(sub.done)
			close(sub.ch)
		}
		delete(b.topics, pageID)
	}
	return nil
}
