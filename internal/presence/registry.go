// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package presence tracks which sessions are viewing a page and which blocks
// they are typing in. All state here is ephemeral, TTL-bounded and
// last-write-wins; typing locks are advisory and never block a write.
package presence

import (
	"context"

	"github.com/olegiv/opad-go/internal/model"
)

// Registry is the ephemeral presence/typing store. Every mutation publishes
// the matching event to the bus so other viewers of the page see it live.
type Registry interface {
	// Heartbeat refreshes the session's last-seen time and announces it
	// online. Clients call this every 5s while mounted.
	Heartbeat(ctx context.Context, pageID, sessionID, userName string) error

	// Leave announces the session offline. Best-effort: an abrupt
	// disconnect skips it, and the TTL compensates everywhere else.
	Leave(ctx context.Context, pageID, sessionID string) error

	// SetTyping records or clears an advisory typing lock for one block
	// and publishes the typing event.
	SetTyping(ctx context.Context, sig model.TypingSignal) error

	// Online returns the sessions currently counted as online for a page.
	Online(ctx context.Context, pageID string) ([]model.PresenceEntry, error)

	// Typing returns the current (non-expired) typing locks for a page.
	Typing(ctx context.Context, pageID string) ([]model.TypingLock, error)

	// Prune drops expired entries. The janitor calls this periodically;
	// reaped presence entries are announced offline.
	Prune(ctx context.Context) error
}
