// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api provides the REST and streaming handlers for the sync protocol.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/middleware"
	"github.com/olegiv/opad-go/internal/presence"
	"github.com/olegiv/opad-go/internal/service"
	"github.com/olegiv/opad-go/internal/store"
)

// Handler holds shared dependencies for all API handlers.
type Handler struct {
	sync     *service.SyncService
	registry presence.Registry
	b        bus.Bus
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(sync *service.SyncService, registry presence.Registry, b bus.Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sync:     sync,
		registry: registry,
		b:        b,
		logger:   logger,
	}
}

// Routes registers the sync API routes on the given router.
func (h *Handler) Routes(r chi.Router, ephemeralLimit func(http.Handler) http.Handler) {
	r.Post("/pages", h.CreatePage)
	r.Get("/pages/{id}", h.GetPage)
	r.Put("/pages/{id}/blocks", h.UpdateBlocks)
	r.Put("/pages/{id}/meta", h.UpdateMeta)
	r.Get("/pages/{id}/events", h.Events)
	r.Get("/pages/{id}/presence", h.ListPresence)

	r.Group(func(r chi.Router) {
		if ephemeralLimit != nil {
			r.Use(ephemeralLimit)
		}
		r.Post("/pages/{id}/typing", h.Typing)
		r.Post("/pages/{id}/presence", h.Presence)
	})
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON decodes a request body. Unknown fields pass through so older
// servers tolerate newer clients.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

// writeError maps service/store errors onto the API error taxonomy.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteAPIError(w, http.StatusNotFound, "not_found", "Page not found", nil)
	case errors.Is(err, service.ErrValidation):
		middleware.WriteAPIError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	default:
		h.logger.Error("internal error", "error", err)
		middleware.WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	}
}
