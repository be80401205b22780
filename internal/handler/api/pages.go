// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/opad-go/internal/middleware"
	"github.com/olegiv/opad-go/internal/model"
)

// PageEnvelope wraps a page in API responses. A 409 carries the same shape:
// the body is always the current canonical page, never an error envelope.
type PageEnvelope struct {
	Page model.Page `json:"page"`
}

// CreatePageRequest represents the request body for creating a page.
type CreatePageRequest struct {
	Title     string        `json:"title"`
	Cover     string        `json:"cover,omitempty"`
	Published bool          `json:"published"`
	DarkMode  bool          `json:"dark_mode"`
	Cinematic bool          `json:"cinematic"`
	Mood      string        `json:"mood,omitempty"`
	BgColor   string        `json:"bg_color,omitempty"`
	Blocks    []model.Block `json:"blocks,omitempty"`
}

// UpdateBlocksRequest represents a conditional block write.
type UpdateBlocksRequest struct {
	Blocks       []model.Block `json:"blocks"`
	BaseRevision string        `json:"base_revision"`
}

// UpdateMetaRequest represents a conditional metadata write.
type UpdateMetaRequest struct {
	Title        string `json:"title"`
	Cover        string `json:"cover,omitempty"`
	Published    bool   `json:"published"`
	DarkMode     bool   `json:"dark_mode"`
	Cinematic    bool   `json:"cinematic"`
	Mood         string `json:"mood,omitempty"`
	BgColor      string `json:"bg_color,omitempty"`
	BaseRevision string `json:"base_revision"`
}

// CreatePage handles POST /api/v1/pages. Creation always succeeds; the
// response carries the assigned id and first revision.
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteAPIError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", nil)
		return
	}

	page, err := h.sync.CreatePage(r.Context(), model.Page{
		Title:     req.Title,
		Cover:     req.Cover,
		Published: req.Published,
		DarkMode:  req.DarkMode,
		Cinematic: req.Cinematic,
		Mood:      req.Mood,
		BgColor:   req.BgColor,
		Blocks:    req.Blocks,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, PageEnvelope{Page: page})
}

// GetPage handles GET /api/v1/pages/{id}. Subscribers fetch canonical state
// here once per stream (re)connect.
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.sync.GetPage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, PageEnvelope{Page: page})
}

// UpdateBlocks handles PUT /api/v1/pages/{id}/blocks.
// Responds 200 with the committed page, or 409 with the current canonical
// page when the base revision is stale.
func (h *Handler) UpdateBlocks(w http.ResponseWriter, r *http.Request) {
	var req UpdateBlocksRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteAPIError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", nil)
		return
	}

	res, err := h.sync.UpdateBlocks(r.Context(), chi.URLParam(r, "id"), req.Blocks, req.BaseRevision)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Conflict {
		status = http.StatusConflict
	}
	WriteJSON(w, status, PageEnvelope{Page: res.Page})
}

// UpdateMeta handles PUT /api/v1/pages/{id}/meta under the same CAS contract
// as UpdateBlocks.
func (h *Handler) UpdateMeta(w http.ResponseWriter, r *http.Request) {
	var req UpdateMetaRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteAPIError(w, http.StatusBadRequest, "invalid_json", "Invalid request body", nil)
		return
	}

	meta := model.PageMeta{
		Title:     req.Title,
		Cover:     req.Cover,
		Published: req.Published,
		DarkMode:  req.DarkMode,
		Cinematic: req.Cinematic,
		Mood:      req.Mood,
		BgColor:   req.BgColor,
	}

	res, err := h.sync.UpdateMeta(r.Context(), chi.URLParam(r, "id"), meta, req.BaseRevision)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Conflict {
		status = http.StatusConflict
	}
	WriteJSON(w, status, PageEnvelope{Page: res.Page})
}
