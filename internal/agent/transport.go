// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/model"
)

// Error represents an error type for transport outcomes.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrNotFound indicates an unknown page id. Fatal to the current
	// agent; never retried.
	ErrNotFound Error = "page not found"

	// ErrValidation indicates a malformed payload. Non-retryable;
	// surfaced to the author.
	ErrValidation Error = "validation failed"
)

// Transport is the network surface the agent drives. Conditional updates
// return conflict=true together with the current canonical page when the
// base revision was stale; any error other than ErrNotFound/ErrValidation
// is treated as transient and retried with backoff.
type Transport interface {
	CreatePage(ctx context.Context, p model.Page) (model.Page, error)
	GetPage(ctx context.Context, id string) (model.Page, error)
	UpdateBlocks(ctx context.Context, id string, blocks []model.Block, baseRevision string) (page model.Page, conflict bool, err error)
	UpdateMeta(ctx context.Context, id string, meta model.PageMeta, baseRevision string) (page model.Page, conflict bool, err error)
	SetTyping(ctx context.Context, sig model.TypingSignal) error
	SetPresence(ctx context.Context, sig model.PresenceSignal) error

	// Stream opens the page's one-way event stream. The agent reconnects
	// it with backoff independently of the write path.
	Stream(ctx context.Context, pageID string) (EventStream, error)
}

// EventStream is one live subscription to a page's events.
type EventStream interface {
	// Recv blocks until the next event or a stream error.
	Recv() (bus.Event, error)
	Close() error
}
