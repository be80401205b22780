// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/model"
)

// MemoryRegistry is the in-process Registry implementation. The clock is
// injectable so TTL decay is testable without real delays.
type MemoryRegistry struct {
	b      bus.Bus
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	// pageID -> sessionID -> entry
	online map[string]map[string]model.PresenceEntry
	// pageID -> blockID -> lock; at most one current lock per block
	typing map[string]map[string]model.TypingLock
}

// MemoryRegistryOption customizes a MemoryRegistry.
type MemoryRegistryOption func(*MemoryRegistry)

// WithClock replaces the registry's time source. Used by tests.
func WithClock(now func() time.Time) MemoryRegistryOption {
	return func(r *MemoryRegistry) { r.now = now }
}

// NewMemoryRegistry creates an in-memory registry publishing to the given bus.
func NewMemoryRegistry(b bus.Bus, logger *slog.Logger, opts ...MemoryRegistryOption) *MemoryRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &MemoryRegistry{
		b:      b,
		logger: logger,
		now:    time.Now,
		online: make(map[string]map[string]model.PresenceEntry),
		typing: make(map[string]map[string]model.TypingLock),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Heartbeat implements Registry.
func (r *MemoryRegistry) Heartbeat(ctx context.Context, pageID, sessionID, userName string) error {
	now := r.now()

	r.mu.Lock()
	if r.online[pageID] == nil {
		r.online[pageID] = make(map[string]model.PresenceEntry)
	}
	r.online[pageID][sessionID] = model.PresenceEntry{
		PageID:     pageID,
		SessionID:  sessionID,
		UserName:   userName,
		LastSeenAt: now,
	}
	r.mu.Unlock()

	return r.b.Publish(ctx, bus.PresenceEvent(model.PresenceSignal{
		PageID:    pageID,
		SessionID: sessionID,
		UserName:  userName,
		IsOnline:  true,
	}))
}

// Leave implements Registry.
func (r *MemoryRegistry) Leave(ctx context.Context, pageID, sessionID string) error {
	r.mu.Lock()
	var userName string
	if sessions, ok := r.online[pageID]; ok {
		if e, ok := sessions[sessionID]; ok {
			userName = e.UserName
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(r.online, pageID)
			}
		}
	}
	r.mu.Unlock()

	return r.b.Publish(ctx, bus.PresenceEvent(model.PresenceSignal{
		PageID:    pageID,
		SessionID: sessionID,
		UserName:  userName,
		IsOnline:  false,
	}))
}

// SetTyping implements Registry.
func (r *MemoryRegistry) SetTyping(ctx context.Context, sig model.TypingSignal) error {
	now := r.now()

	r.mu.Lock()
	if sig.IsTyping {
		if r.typing[sig.PageID] == nil {
			r.typing[sig.PageID] = make(map[string]model.TypingLock)
		}
		// Last writer claims the block; there is at most one current lock
		// per block and it is advisory only.
		r.typing[sig.PageID][sig.BlockID] = model.TypingLock{
			PageID:    sig.PageID,
			BlockID:   sig.BlockID,
			SessionID: sig.SessionID,
			UserName:  sig.UserName,
			ExpiresAt: now.Add(model.TypingTTL),
		}
	} else if locks, ok := r.typing[sig.PageID]; ok {
		// Only the holder's stop clears the lock.
		if l, ok := locks[sig.BlockID]; ok && l.SessionID == sig.SessionID {
			delete(locks, sig.BlockID)
			if len(locks) == 0 {
				delete(r.typing, sig.PageID)
			}
		}
	}
	r.mu.Unlock()

	return r.b.Publish(ctx, bus.TypingEvent(sig))
}

// Online implements Registry. Entries past the presence TTL are excluded
// even if Prune has not run yet.
func (r *MemoryRegistry) Online(_ context.Context, pageID string) ([]model.PresenceEntry, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.PresenceEntry
	for _, e := range r.online[pageID] {
		if e.Online(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Typing implements Registry. Expired locks are excluded.
func (r *MemoryRegistry) Typing(_ context.Context, pageID string) ([]model.TypingLock, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.TypingLock
	for _, l := range r.typing[pageID] {
		if !l.Expired(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockID < out[j].BlockID })
	return out, nil
}

// Prune implements Registry. Reaped presence entries are announced offline;
// expired typing locks are dropped silently because receiving clients run
// their own 3.5s decay.
func (r *MemoryRegistry) Prune(ctx context.Context) error {
	now := r.now()

	r.mu.Lock()
	var reaped []model.PresenceEntry
	for pageID, sessions := range r.online {
		for sessionID, e := range sessions {
			if !e.Online(now) {
				reaped = append(reaped, e)
				delete(sessions, sessionID)
			}
		}
		if len(sessions) == 0 {
			delete(r.online, pageID)
		}
	}
	for pageID, locks := range r.typing {
		for blockID, l := range locks {
			if l.Expired(now) {
				delete(locks, blockID)
			}
		}
		if len(locks) == 0 {
			delete(r.typing, pageID)
		}
	}
	r.mu.Unlock()

	for _, e := range reaped {
		err := r.b.Publish(ctx, bus.PresenceEvent(model.PresenceSignal{
			PageID:    e.PageID,
			SessionID: e.SessionID,
			UserName:  e.UserName,
			IsOnline:  false,
		}))
		if err != nil {
			r.logger.Warn("failed to announce reaped session offline",
				"page_id", e.PageID, "session_id", e.SessionID, "error", err)
		}
	}
	return nil
}
