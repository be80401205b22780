// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package service provides the sync coordination layer: it applies
// compare-and-swap page writes against the store and fans successful results
// out to every subscribed viewer through the bus.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/model"
	"github.com/olegiv/opad-go/internal/store"
)

// SyncService coordinates page writes and canonical-state fanout.
//
// A successful write publishes the updated page before the call returns, and
// each page's commit-plus-publish section runs under a per-page lock, so for
// one page the order of publications matches commit order. On conflict
// nothing is published (nothing changed) and the caller receives the current
// canonical page for deterministic reconciliation.
type SyncService struct {
	pages  *store.PageStore
	b      bus.Bus
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSyncService creates a sync coordinator.
func NewSyncService(pages *store.PageStore, b bus.Bus, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		pages:  pages,
		b:      b,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockPage serializes the commit-plus-publish section for one page. Without
// it two writers could commit r1 then r2 but publish r2 before r1, and
// subscribers would observe canonical state moving backwards.
func (s *SyncService) lockPage(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// WriteResult is the outcome of a conditional write. When Conflict is true,
// Page holds the current canonical page (not the caller's rejected state).
type WriteResult struct {
	Page     model.Page
	Conflict bool
}

// CreatePage persists a new page and announces its first canonical state.
func (s *SyncService) CreatePage(ctx context.Context, p model.Page) (model.Page, error) {
	if err := model.ValidateBlocks(p.Blocks); err != nil {
		return model.Page{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	// Assign the id here so the first publish already runs under the
	// page's lock.
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	unlock := s.lockPage(p.ID)
	defer unlock()

	created, err := s.pages.CreatePage(ctx, p)
	if err != nil {
		return model.Page{}, err
	}

	s.publishPage(ctx, created)
	return created, nil
}

// GetPage returns the current canonical page.
func (s *SyncService) GetPage(ctx context.Context, id string) (model.Page, error) {
	return s.pages.GetPage(ctx, id)
}

// UpdateBlocks applies a conditional block write and publishes the result.
func (s *SyncService) UpdateBlocks(ctx context.Context, id string, blocks []model.Block, baseRevision string) (WriteResult, error) {
	if baseRevision == "" {
		return WriteResult{}, fmt.Errorf("%w: base_revision is required", ErrValidation)
	}
	if err := model.ValidateBlocks(blocks); err != nil {
		return WriteResult{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	unlock := s.lockPage(id)
	defer unlock()

	page, err := s.pages.UpdateBlocks(ctx, id, blocks, baseRevision)
	return s.finishWrite(ctx, page, err)
}

// UpdateMeta applies a conditional metadata write and publishes the result.
func (s *SyncService) UpdateMeta(ctx context.Context, id string, meta model.PageMeta, baseRevision string) (WriteResult, error) {
	if baseRevision == "" {
		return WriteResult{}, fmt.Errorf("%w: base_revision is required", ErrValidation)
	}

	unlock := s.lockPage(id)
	defer unlock()

	page, err := s.pages.UpdateMeta(ctx, id, meta, baseRevision)
	return s.finishWrite(ctx, page, err)
}

// finishWrite translates store outcomes into WriteResults and publishes
// committed state. Conflicts are a normal outcome here, not an error.
func (s *SyncService) finishWrite(ctx context.Context, page model.Page, err error) (WriteResult, error) {
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return WriteResult{Page: page, Conflict: true}, nil
		}
		return WriteResult{}, err
	}

	s.publishPage(ctx, page)
	return WriteResult{Page: page}, nil
}

// publishPage announces committed canonical state. Delivery must be
// at-least-once, so a failed publish gets one immediate retry; duplicate
// delivery of an already-known revision is a no-op on the receiving end.
func (s *SyncService) publishPage(ctx context.Context, p model.Page) {
	ev := bus.PageEvent(p)
	if err := s.b.Publish(ctx, ev); err != nil {
		s.logger.Warn("page publish failed, retrying once",
			"page_id", p.ID, "revision", p.Revision, "error", err)
		if err := s.b.Publish(ctx, ev); err != nil {
			s.logger.Error("page publish failed",
				"page_id", p.ID, "revision", p.Revision, "error", err)
		}
	}
}

// ErrValidation indicates a malformed write payload. Non-retryable; surfaced
// to the author rather than absorbed by sync machinery.
var ErrValidation = errors.New("validation failed")
