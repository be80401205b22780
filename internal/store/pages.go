// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/opad-go/internal/model"
)

// Error represents an error type for store operations.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrNotFound indicates the page id is unknown.
	ErrNotFound Error = "page not found"

	// ErrConflict indicates a compare-and-swap write lost the race: the
	// caller's base revision no longer matches the stored revision.
	ErrConflict Error = "revision conflict"
)

// PageStore persists pages and applies compare-and-swap writes.
//
// Every write is conditional on the caller's base revision. The conditional
// UPDATE runs as a single statement, and SQLite's single-writer serialization
// guarantees exactly one writer per contended revision value succeeds; the
// loser matches zero rows and receives ErrConflict together with the current
// canonical page.
type PageStore struct {
	db *sql.DB
}

// NewPageStore creates a page store on top of an open database.
func NewPageStore(db *sql.DB) *PageStore {
	return &PageStore{db: db}
}

const pageColumns = `id, title, cover, published, dark_mode, cinematic, mood, bg_color, blocks, revision, created_at, updated_at`

// CreatePage persists a new page, assigning its id and first revision.
// Blocks without a client-generated id get one here; positions are rewritten
// densely from array order. Create always succeeds (no CAS condition).
func (s *PageStore) CreatePage(ctx context.Context, p model.Page) (model.Page, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Blocks = prepareBlocks(p.Blocks)
	p.Revision = model.NewRevision()

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	blocksJSON, err := json.Marshal(p.Blocks)
	if err != nil {
		return model.Page{}, fmt.Errorf("marshaling blocks: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pages (`+pageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Cover, boolToInt(p.Published), boolToInt(p.DarkMode),
		boolToInt(p.Cinematic), p.Mood, p.BgColor, string(blocksJSON), p.Revision,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return model.Page{}, fmt.Errorf("inserting page: %w", err)
	}
	return p, nil
}

// GetPage returns the page with the given id, or ErrNotFound.
func (s *PageStore) GetPage(ctx context.Context, id string) (model.Page, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	return scanPage(row)
}

// UpdateBlocks replaces the page's block list if baseRevision still matches
// the stored revision. On conflict it returns the current canonical page
// together with ErrConflict so the caller can reconcile deterministically.
func (s *PageStore) UpdateBlocks(ctx context.Context, id string, blocks []model.Block, baseRevision string) (model.Page, error) {
	blocks = prepareBlocks(blocks)
	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return model.Page{}, fmt.Errorf("marshaling blocks: %w", err)
	}

	rev := model.NewRevision()
	now := time.Now().UTC()

	// RETURNING hands back the exact row this statement wrote. A separate
	// read after commit could observe a later writer's row and mislabel it
	// as this write's outcome.
	row := s.db.QueryRowContext(ctx,
		`UPDATE pages SET blocks = ?, revision = ?, updated_at = ? WHERE id = ? AND revision = ?
		 RETURNING `+pageColumns,
		string(blocksJSON), rev, now, id, baseRevision,
	)
	return s.resolveWrite(ctx, id, row)
}

// UpdateMeta replaces the page's metadata fields under the same CAS contract
// as UpdateBlocks. Meta and block writes share one revision domain: whichever
// commits first invalidates the other's base.
func (s *PageStore) UpdateMeta(ctx context.Context, id string, meta model.PageMeta, baseRevision string) (model.Page, error) {
	rev := model.NewRevision()
	now := time.Now().UTC()

	row := s.db.QueryRowContext(ctx,
		`UPDATE pages SET title = ?, cover = ?, published = ?, dark_mode = ?, cinematic = ?, mood = ?, bg_color = ?, revision = ?, updated_at = ?
		 WHERE id = ? AND revision = ?
		 RETURNING `+pageColumns,
		meta.Title, meta.Cover, boolToInt(meta.Published), boolToInt(meta.DarkMode),
		boolToInt(meta.Cinematic), meta.Mood, meta.BgColor, rev, now, id, baseRevision,
	)
	return s.resolveWrite(ctx, id, row)
}

// resolveWrite resolves the outcome of a conditional UPDATE ... RETURNING:
// the committed row on success, ErrNotFound for an unknown id, or the current
// canonical page with ErrConflict when the base revision was stale.
func (s *PageStore) resolveWrite(ctx context.Context, id string, row *sql.Row) (model.Page, error) {
	p, err := scanPage(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Page{}, err
	}

	current, err := s.GetPage(ctx, id)
	if err != nil {
		return model.Page{}, err
	}
	return current, ErrConflict
}

// prepareBlocks assigns ids to blocks that lack one and normalizes positions.
func prepareBlocks(blocks []model.Block) []model.Block {
	if blocks == nil {
		blocks = []model.Block{}
	}
	for i := range blocks {
		if blocks[i].ID == "" {
			blocks[i].ID = uuid.NewString()
		}
	}
	return model.NormalizePositions(blocks)
}

// scanner abstracts *sql.Row and *sql.Rows for scanPage.
type scanner interface {
	Scan(dest ...any) error
}

// scanPage reads one page row.
func scanPage(row scanner) (model.Page, error) {
	var (
		p          model.Page
		published  int
		darkMode   int
		cinematic  int
		blocksJSON string
	)
	err := row.Scan(&p.ID, &p.Title, &p.Cover, &published, &darkMode, &cinematic,
		&p.Mood, &p.BgColor, &blocksJSON, &p.Revision, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Page{}, ErrNotFound
		}
		return model.Page{}, fmt.Errorf("scanning page: %w", err)
	}

	p.Published = published != 0
	p.DarkMode = darkMode != 0
	p.Cinematic = cinematic != 0

	if err := json.Unmarshal([]byte(blocksJSON), &p.Blocks); err != nil {
		return model.Page{}, fmt.Errorf("unmarshaling blocks: %w", err)
	}
	if p.Blocks == nil {
		p.Blocks = []model.Block{}
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
