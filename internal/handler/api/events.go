// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/middleware"
	"github.com/olegiv/opad-go/internal/model"
)

// sseHeartbeatInterval paces keep-alive comments so idle streams survive
// proxies and dead peers are detected.
const sseHeartbeatInterval = 15 * time.Second

// Events handles GET /api/v1/pages/{id}/events: a one-way SSE stream of
// named events (page, typing, presence). The stream carries no history; a
// subscriber fetches canonical state once via GetPage and then only consumes
// events going forward. The subscription is cancelled on client disconnect.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "id")

	// Unknown pages get a clean 404 instead of an empty stream.
	if _, err := h.sync.GetPage(r.Context(), pageID); err != nil {
		h.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteAPIError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming unsupported", nil)
		return
	}

	sub, err := h.b.Subscribe(r.Context(), pageID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			// Evicted as a slow consumer or the bus shut down; the client
			// reconnects and re-fetches canonical state.
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE encodes one bus event as a named SSE event.
func writeSSE(w http.ResponseWriter, ev bus.Event) error {
	var payload any
	switch ev.Kind {
	case model.EventPage:
		payload = PageEnvelope{Page: *ev.Page}
	case model.EventTyping:
		payload = ev.Typing
	case model.EventPresence:
		payload = ev.Presence
	default:
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
