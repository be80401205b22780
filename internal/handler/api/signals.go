// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/opad-go/internal/middleware"
	"github.com/olegiv/opad-go/internal/model"
)

// TypingRequest represents a typing start/stop signal.
type TypingRequest struct {
	BlockID   string `json:"block_id"`
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
	IsTyping  bool   `json:"is_typing"`
}

// PresenceRequest represents a presence heartbeat or leave signal.
type PresenceRequest struct {
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
	IsOnline  bool   `json:"is_online"`
}

// ackResponse is the body of a fire-and-forget acknowledgement.
type ackResponse struct {
	Ack bool `json:"ack"`
}

// Typing handles POST /api/v1/pages/{id}/typing. Fire-and-forget: losing
// the signal at worst leaves a stale indicator that self-heals within its TTL.
func (h *Handler) Typing(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteAPIError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", nil)
		return
	}
	if req.SessionID == "" || req.BlockID == "" {
		middleware.WriteAPIError(w, http.StatusBadRequest, "validation_failed", "session_id and block_id are required", nil)
		return
	}

	sig := model.TypingSignal{
		PageID:    chi.URLParam(r, "id"),
		BlockID:   req.BlockID,
		SessionID: req.SessionID,
		UserName:  req.UserName,
		IsTyping:  req.IsTyping,
	}
	if err := h.registry.SetTyping(r.Context(), sig); err != nil {
		h.logger.Warn("typing signal dropped", "page_id", sig.PageID, "error", err)
	}

	WriteJSON(w, http.StatusAccepted, ackResponse{Ack: true})
}

// Presence handles POST /api/v1/pages/{id}/presence. An is_online signal is
// a heartbeat; is_online=false is a best-effort leave.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	var req PresenceRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteAPIError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", nil)
		return
	}
	if req.SessionID == "" {
		middleware.WriteAPIError(w, http.StatusBadRequest, "validation_failed", "session_id is required", nil)
		return
	}

	pageID := chi.URLParam(r, "id")
	var err error
	if req.IsOnline {
		err = h.registry.Heartbeat(r.Context(), pageID, req.SessionID, req.UserName)
	} else {
		err = h.registry.Leave(r.Context(), pageID, req.SessionID)
	}
	if err != nil {
		h.logger.Warn("presence signal dropped", "page_id", pageID, "error", err)
	}

	WriteJSON(w, http.StatusAccepted, ackResponse{Ack: true})
}

// PresenceSnapshot is the current ephemeral state of a page: who is online
// and which blocks carry a current typing lock.
type PresenceSnapshot struct {
	Online []model.PresenceEntry `json:"online"`
	Typing []model.TypingLock    `json:"typing"`
}

// ListPresence handles GET /api/v1/pages/{id}/presence. Clients use it to
// seed indicators after connecting; everything afterwards arrives as events.
func (h *Handler) ListPresence(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "id")

	online, err := h.registry.Online(r.Context(), pageID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	typing, err := h.registry.Typing(r.Context(), pageID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if online == nil {
		online = []model.PresenceEntry{}
	}
	if typing == nil {
		typing = []model.TypingLock{}
	}
	WriteJSON(w, http.StatusOK, PresenceSnapshot{Online: online, Typing: typing})
}
