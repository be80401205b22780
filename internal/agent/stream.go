// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"time"

	"github.com/olegiv/opad-go/internal/bus"
)

// RunStream consumes the page's event stream until the context ends,
// reconnecting with its own backoff independent of the write path. After
// every successful connect it re-fetches the canonical page once, since the
// stream carries no history and events may have been missed while
// disconnected; the refetched snapshot goes through the same gating as a
// streamed one, so it never clobbers unsynced local edits.
func (a *Agent) RunStream(ctx context.Context) {
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		pageID := a.pageID()
		if pageID == "" {
			// Nothing to stream until the first flush creates the page.
			if !a.sleep(ctx, DebounceInterval) {
				return
			}
			continue
		}

		st, err := a.t.Stream(ctx, pageID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				a.failStream(err)
				return
			}
			a.logger.Debug("stream connect failed", "page_id", pageID, "error", err)
			if !a.sleep(ctx, streamBackoff(attempts)) {
				return
			}
			attempts++
			continue
		}
		attempts = 0

		if p, err := a.t.GetPage(ctx, pageID); err == nil {
			a.HandleEvent(bus.PageEvent(p))
		} else if errors.Is(err, ErrNotFound) {
			_ = st.Close()
			a.failStream(err)
			return
		}

		for {
			ev, err := st.Recv()
			if err != nil {
				_ = st.Close()
				a.logger.Debug("stream closed", "page_id", pageID, "error", err)
				break
			}
			a.HandleEvent(ev)
		}

		if !a.sleep(ctx, streamBackoff(attempts)) {
			return
		}
		attempts++
	}
}

// failStream marks the agent failed on an unrecoverable stream error.
func (a *Agent) failStream(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
	a.state = StateFailed
}

// pageID returns the current page id, empty until the page exists.
func (a *Agent) pageID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.page.ID
}

// sleep waits d on the injected clock; false means the context ended.
func (a *Agent) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-a.clock.After(d):
		return true
	}
}

// streamBackoff doubles per consecutive failed connect, capped.
func streamBackoff(attempts int) time.Duration {
	d := StreamBaseBackoff
	for i := 0; i < attempts && d < StreamMaxBackoff; i++ {
		d *= 2
	}
	if d > StreamMaxBackoff {
		d = StreamMaxBackoff
	}
	return d
}
