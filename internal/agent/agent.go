// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent implements the per-editor sync state machine: it debounces
// local edits into coalesced conditional writes, absorbs conflicts and
// transient failures, and consumes the page's event stream with independent
// reconnect backoff. One Agent instance serves one editing session and owns
// all of its timers and maps, so concurrent sessions never share state.
package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/model"
)

// State is the agent's explicit sync state. The "may an incoming snapshot
// overwrite local state" rule depends only on this tag: snapshots apply
// while the agent is not Dirty, Syncing or Retrying.
type State string

// Agent states.
const (
	StateIdle     State = "idle"
	StateDirty    State = "dirty"
	StateSyncing  State = "syncing"
	StateRetrying State = "retrying"
	StateConflict State = "conflict"
	StateFailed   State = "failed"
)

// Pacing constants for the write and stream paths.
const (
	// DebounceInterval coalesces rapid local edits into one outgoing write.
	DebounceInterval = 320 * time.Millisecond

	// RetryBaseBackoff / RetryMaxBackoff pace write retries after
	// transient failures.
	RetryBaseBackoff = 350 * time.Millisecond
	RetryMaxBackoff  = 4 * time.Second

	// StreamBaseBackoff / StreamMaxBackoff pace stream reconnects.
	StreamBaseBackoff = 450 * time.Millisecond
	StreamMaxBackoff  = 8 * time.Second

	// tickInterval caps how long the run loop sleeps between maintenance
	// passes (heartbeats, peer pruning).
	tickInterval = 1 * time.Second
)

// Options configures an Agent.
type Options struct {
	// SessionID identifies this editing session. It is a client-generated
	// opaque token, not an authenticated identity.
	SessionID string

	// UserName is the display name attached to presence/typing signals.
	UserName string

	// Clock defaults to the system clock. Tests inject a fake.
	Clock Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// peerEntry tracks another session seen online, with a local decay deadline.
type peerEntry struct {
	entry     model.PresenceEntry
	expiresAt time.Time
}

// typingPeerEntry tracks a remote typing indicator with its local decay.
type typingPeerEntry struct {
	signal    model.TypingSignal
	expiresAt time.Time
}

// Agent is the client sync state machine.
type Agent struct {
	t         Transport
	clock     Clock
	logger    *slog.Logger
	sessionID string
	userName  string

	mu    sync.Mutex
	state State
	page  model.Page
	err   error

	pendingBlocks []model.Block
	blocksDirty   bool
	pendingMeta   *model.PageMeta
	debounceAt    time.Time
	resend        bool

	attempts int
	retryAt  time.Time

	lastHeartbeatAt time.Time
	typingMine      map[string]bool
	typingSentAt    map[string]time.Time

	peers       map[string]peerEntry
	typingPeers map[string]typingPeerEntry

	closed bool
	wake   chan struct{}
}

// New creates an agent for one editing session. Pass the page the session
// opened with, or a zero page for a not-yet-persisted editor: the first
// flush then performs Create before issuing the pending write.
func New(t Transport, page model.Page, opts Options) *Agent {
	if opts.Clock == nil {
		opts.Clock = NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Agent{
		t:            t,
		clock:        opts.Clock,
		logger:       opts.Logger,
		sessionID:    opts.SessionID,
		userName:     opts.UserName,
		state:        StateIdle,
		page:         page,
		typingMine:   make(map[string]bool),
		typingSentAt: make(map[string]time.Time),
		peers:        make(map[string]peerEntry),
		typingPeers:  make(map[string]typingPeerEntry),
		wake:         make(chan struct{}, 1),
	}
}

// State returns the current sync state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Page returns the last adopted canonical page.
func (a *Agent) Page() model.Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.page
}

// Err returns the last surfaced non-retryable error (validation or unknown
// page), or nil. Conflicts and transient failures are absorbed and never
// reported here.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// EditBlocks records a local block edit. It marks the agent dirty and
// (re)starts the debounce window; edits within the window coalesce into one
// outgoing write. If a write is already in flight the edit is kept and
// resent after the current write completes.
func (a *Agent) EditBlocks(blocks []model.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	a.pendingBlocks = append([]model.Block(nil), blocks...)
	a.blocksDirty = true

	switch a.state {
	case StateSyncing:
		a.resend = true
	case StateRetrying:
		// The retry picks up the newer coalesced payload on its schedule.
	default:
		a.state = StateDirty
		a.debounceAt = a.clock.Now().Add(DebounceInterval)
	}
	a.wakeup()
}

// EditMeta records a local metadata edit under the same debounce rules.
func (a *Agent) EditMeta(meta model.PageMeta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	m := meta
	a.pendingMeta = &m

	switch a.state {
	case StateSyncing:
		a.resend = true
	case StateRetrying:
	default:
		a.state = StateDirty
		a.debounceAt = a.clock.Now().Add(DebounceInterval)
	}
	a.wakeup()
}

// Typing sends a typing signal for one block. Starts are throttled to one
// per 1.2s per block while actively typing; stops always go out immediately.
// Best-effort: failures are logged, never retried.
func (a *Agent) Typing(ctx context.Context, blockID string, isTyping bool) {
	a.mu.Lock()
	if a.closed || a.page.ID == "" {
		a.mu.Unlock()
		return
	}
	now := a.clock.Now()
	if isTyping {
		if last, ok := a.typingSentAt[blockID]; ok && now.Sub(last) < model.TypingThrottle {
			a.typingMine[blockID] = true
			a.mu.Unlock()
			return
		}
		a.typingSentAt[blockID] = now
		a.typingMine[blockID] = true
	} else {
		delete(a.typingMine, blockID)
		delete(a.typingSentAt, blockID)
	}
	sig := model.TypingSignal{
		PageID:    a.page.ID,
		BlockID:   blockID,
		SessionID: a.sessionID,
		UserName:  a.userName,
		IsTyping:  isTyping,
	}
	a.mu.Unlock()

	if err := a.t.SetTyping(ctx, sig); err != nil {
		a.logger.Debug("typing signal dropped", "block_id", blockID, "error", err)
	}
}

// Tick is one cooperative scheduling step: it prunes decayed peer state,
// heartbeats presence when due, and fires the debounce or retry if its
// deadline has passed. The run loop calls it; tests call it directly after
// advancing a fake clock.
func (a *Agent) Tick(ctx context.Context) {
	now := a.clock.Now()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	a.pruneLocked(now)

	heartbeat := a.page.ID != "" && now.Sub(a.lastHeartbeatAt) >= model.PresenceHeartbeatInterval
	if heartbeat {
		a.lastHeartbeatAt = now
	}

	var flush bool
	switch a.state {
	case StateDirty:
		flush = !a.debounceAt.IsZero() && !now.Before(a.debounceAt)
	case StateRetrying:
		flush = !now.Before(a.retryAt)
	}
	a.mu.Unlock()

	if heartbeat {
		a.sendHeartbeat(ctx)
	}
	if flush {
		a.flush(ctx)
	}
}

// sendHeartbeat announces this session online. Best-effort.
func (a *Agent) sendHeartbeat(ctx context.Context) {
	a.mu.Lock()
	sig := model.PresenceSignal{
		PageID:    a.page.ID,
		SessionID: a.sessionID,
		UserName:  a.userName,
		IsOnline:  true,
	}
	a.mu.Unlock()

	if err := a.t.SetPresence(ctx, sig); err != nil {
		a.logger.Debug("presence heartbeat dropped", "page_id", sig.PageID, "error", err)
	}
}

// flush sends the coalesced pending payload as one conditional write
// sequence. Exactly one write is in flight at a time: the Syncing state
// gates further flushes until this one completes.
func (a *Agent) flush(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateDirty && a.state != StateRetrying {
		a.mu.Unlock()
		return
	}
	a.state = StateSyncing
	a.debounceAt = time.Time{}

	blocks := a.pendingBlocks
	blocksDirty := a.blocksDirty
	meta := a.pendingMeta
	page := a.page
	a.mu.Unlock()

	// A not-yet-persisted editor creates the page first, then issues the
	// pending write against the new id and revision.
	if page.ID == "" {
		created := model.Page{}
		if meta != nil {
			created.ApplyMeta(*meta)
		}
		got, err := a.t.CreatePage(ctx, created)
		if err != nil {
			a.completeFailure(err)
			return
		}
		a.mu.Lock()
		a.page = got
		if !a.resend {
			a.pendingMeta = nil
		}
		meta = nil
		page = got
		a.mu.Unlock()
	}

	if blocksDirty {
		got, conflict, err := a.t.UpdateBlocks(ctx, page.ID, blocks, page.Revision)
		if err != nil {
			a.completeFailure(err)
			return
		}
		if conflict {
			a.completeConflict(got)
			return
		}
		page = got
		a.mu.Lock()
		a.page = got
		// Edits that arrived while this write was in flight replaced the
		// pending payload; only the sent payload is settled.
		if !a.resend {
			a.blocksDirty = false
			a.pendingBlocks = nil
		}
		a.mu.Unlock()
	}

	if meta != nil {
		got, conflict, err := a.t.UpdateMeta(ctx, page.ID, *meta, page.Revision)
		if err != nil {
			a.completeFailure(err)
			return
		}
		if conflict {
			a.completeConflict(got)
			return
		}
		a.mu.Lock()
		a.page = got
		if !a.resend {
			a.pendingMeta = nil
		}
		a.mu.Unlock()
	}

	a.completeSuccess()
}

// completeSuccess adopts the committed state and either settles Idle or
// schedules the write that accumulated while this one was in flight.
func (a *Agent) completeSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.attempts = 0
	a.err = nil
	if a.resend || a.blocksDirty || a.pendingMeta != nil {
		a.resend = false
		a.state = StateDirty
		a.debounceAt = a.clock.Now()
		a.wakeup()
		return
	}
	a.state = StateIdle
}

// completeConflict adopts the server's canonical page wholesale. The sent
// payload is superseded by definition; edits that arrived while the write
// was in flight keep accumulating against the adopted revision.
func (a *Agent) completeConflict(current model.Page) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.page = current
	a.attempts = 0

	if a.resend {
		a.resend = false
		a.state = StateDirty
		a.debounceAt = a.clock.Now().Add(DebounceInterval)
		a.wakeup()
		return
	}

	a.pendingBlocks = nil
	a.blocksDirty = false
	a.pendingMeta = nil
	a.state = StateConflict
}

// completeFailure classifies a write error: validation and unknown-page are
// surfaced and never retried; everything else schedules a backoff retry of
// the same coalesced payload.
func (a *Agent) completeFailure(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case errors.Is(err, ErrNotFound):
		a.err = err
		a.state = StateFailed
	case errors.Is(err, ErrValidation):
		a.err = err
		a.pendingBlocks = nil
		a.blocksDirty = false
		a.pendingMeta = nil
		a.resend = false
		a.state = StateIdle
	default:
		a.retryAt = a.clock.Now().Add(retryBackoff(a.attempts))
		a.attempts++
		a.state = StateRetrying
		a.wakeup()
	}
}

// HandleEvent applies one incoming stream event. Canonical snapshots are
// applied only while the agent is not Dirty, Syncing or Retrying, so a stale
// remote snapshot never clobbers in-flight local edits. Snapshots at or
// below the known revision are dropped outright: at-least-once delivery can
// replay or reorder events, and the known canonical state only moves
// forward. A snapshot that already reflects this agent's own pending write
// short-circuits the retry loop.
func (a *Agent) HandleEvent(ev bus.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()

	switch {
	case ev.Page != nil:
		p := *ev.Page
		if a.page.Revision != "" && model.CompareRevisions(p.Revision, a.page.Revision) <= 0 {
			return
		}
		if a.state == StateRetrying && a.blocksDirty && blocksEquivalent(a.pendingBlocks, p.Blocks) {
			a.page = p
			a.pendingBlocks = nil
			a.blocksDirty = false
			a.attempts = 0
			if a.pendingMeta != nil || a.resend {
				a.resend = false
				a.state = StateDirty
				a.debounceAt = now
				a.wakeup()
			} else {
				a.state = StateIdle
			}
			return
		}
		if a.state == StateDirty || a.state == StateSyncing || a.state == StateRetrying {
			return
		}
		a.page = p

	case ev.Typing != nil:
		sig := *ev.Typing
		if sig.SessionID == a.sessionID {
			return
		}
		if sig.IsTyping {
			a.typingPeers[sig.BlockID] = typingPeerEntry{
				signal:    sig,
				expiresAt: now.Add(model.TypingTTL),
			}
		} else {
			delete(a.typingPeers, sig.BlockID)
		}

	case ev.Presence != nil:
		sig := *ev.Presence
		if sig.SessionID == a.sessionID {
			return
		}
		if sig.IsOnline {
			a.peers[sig.SessionID] = peerEntry{
				entry: model.PresenceEntry{
					PageID:     sig.PageID,
					SessionID:  sig.SessionID,
					UserName:   sig.UserName,
					LastSeenAt: now,
				},
				expiresAt: now.Add(model.PresenceTTL),
			}
		} else {
			delete(a.peers, sig.SessionID)
		}
	}
}

// OnlinePeers returns the other sessions currently considered online.
func (a *Agent) OnlinePeers() []model.PresenceEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pruneLocked(a.clock.Now())
	out := make([]model.PresenceEntry, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, p.entry)
	}
	return out
}

// TypingPeers returns the blocks other sessions are currently typing in.
func (a *Agent) TypingPeers() []model.TypingSignal {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pruneLocked(a.clock.Now())
	out := make([]model.TypingSignal, 0, len(a.typingPeers))
	for _, p := range a.typingPeers {
		out = append(out, p.signal)
	}
	return out
}

// pruneLocked drops decayed peer indicators. Caller holds a.mu.
func (a *Agent) pruneLocked(now time.Time) {
	for id, p := range a.peers {
		if !now.Before(p.expiresAt) {
			delete(a.peers, id)
		}
	}
	for id, p := range a.typingPeers {
		if !now.Before(p.expiresAt) {
			delete(a.typingPeers, id)
		}
	}
}

// Close tears the session down: it flushes a best-effort presence-offline
// and a typing stop for every block this session marked as typing, then
// stops all further scheduling. The stream goroutine ends with its context.
func (a *Agent) Close(ctx context.Context) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	pageID := a.page.ID
	blocks := make([]string, 0, len(a.typingMine))
	for id := range a.typingMine {
		blocks = append(blocks, id)
	}
	a.mu.Unlock()

	if pageID == "" {
		return
	}

	for _, blockID := range blocks {
		err := a.t.SetTyping(ctx, model.TypingSignal{
			PageID:    pageID,
			BlockID:   blockID,
			SessionID: a.sessionID,
			UserName:  a.userName,
			IsTyping:  false,
		})
		if err != nil {
			a.logger.Debug("teardown typing stop dropped", "block_id", blockID, "error", err)
		}
	}

	err := a.t.SetPresence(ctx, model.PresenceSignal{
		PageID:    pageID,
		SessionID: a.sessionID,
		UserName:  a.userName,
		IsOnline:  false,
	})
	if err != nil {
		a.logger.Debug("teardown presence offline dropped", "page_id", pageID, "error", err)
	}
}

// wakeup nudges the run loop without blocking.
func (a *Agent) wakeup() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run drives Tick until the context ends. All waiting goes through the
// injected clock.
func (a *Agent) Run(ctx context.Context) {
	for {
		wait := a.nextWait()
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		case <-a.clock.After(wait):
		}
		a.Tick(ctx)
	}
}

// nextWait computes how long the run loop may sleep before the nearest
// deadline (debounce fire, retry, or the maintenance cadence).
func (a *Agent) nextWait() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	wait := tickInterval
	if a.state == StateDirty && !a.debounceAt.IsZero() {
		if d := a.debounceAt.Sub(now); d < wait {
			wait = d
		}
	}
	if a.state == StateRetrying {
		if d := a.retryAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// retryBackoff doubles per consecutive failed write, capped.
func retryBackoff(attempts int) time.Duration {
	d := RetryBaseBackoff
	for i := 0; i < attempts && d < RetryMaxBackoff; i++ {
		d *= 2
	}
	if d > RetryMaxBackoff {
		d = RetryMaxBackoff
	}
	return d
}

// blocksEquivalent reports whether a committed block list already reflects
// the pending payload. Ids assigned server-side are ignored when the pending
// block has none yet.
func blocksEquivalent(pending, committed []model.Block) bool {
	if len(pending) != len(committed) {
		return false
	}
	for i := range pending {
		if pending[i].ID != "" && pending[i].ID != committed[i].ID {
			return false
		}
		if pending[i].Type != committed[i].Type {
			return false
		}
		if !bytes.Equal(pending[i].Data, committed[i].Data) {
			return false
		}
	}
	return true
}
