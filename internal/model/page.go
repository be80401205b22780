// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Block types form a closed set. The sync layer never interprets block
// payloads; rendering per type is the content renderer's concern.
const (
	BlockTypeText    = "text"
	BlockTypeHeading = "heading"
	BlockTypeList    = "list"
	BlockTypeImage   = "image"
	BlockTypeDivider = "divider"
	BlockTypeQuote   = "quote"
	BlockTypeCode    = "code"
	BlockTypeEmbed   = "embed"
)

// blockTypes is the set of accepted block type values.
var blockTypes = map[string]struct{}{
	BlockTypeText:    {},
	BlockTypeHeading: {},
	BlockTypeList:    {},
	BlockTypeImage:   {},
	BlockTypeDivider: {},
	BlockTypeQuote:   {},
	BlockTypeCode:    {},
	BlockTypeEmbed:   {},
}

// ValidBlockType reports whether t is one of the accepted block types.
func ValidBlockType(t string) bool {
	_, ok := blockTypes[t]
	return ok
}

// Block is an ordered, typed content unit within a Page.
// Data is an opaque payload scoped to Type and is not interpreted here.
type Block struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Position int             `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Page is the shared document unit being collaboratively edited.
// Revision is an opaque compare-and-swap token: it changes on every accepted
// write, and two writes racing against the same prior revision can never
// both be accepted.
type Page struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Cover     string    `json:"cover,omitempty"`
	Published bool      `json:"published"`
	DarkMode  bool      `json:"dark_mode"`
	Cinematic bool      `json:"cinematic"`
	Mood      string    `json:"mood,omitempty"`
	BgColor   string    `json:"bg_color,omitempty"`
	Blocks    []Block   `json:"blocks"`
	Revision  string    `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageMeta carries the metadata fields of a page write. The field set is
// disjoint from the block list but shares the same revision domain: a meta
// write and a blocks write race against the same revision token.
type PageMeta struct {
	Title     string `json:"title"`
	Cover     string `json:"cover,omitempty"`
	Published bool   `json:"published"`
	DarkMode  bool   `json:"dark_mode"`
	Cinematic bool   `json:"cinematic"`
	Mood      string `json:"mood,omitempty"`
	BgColor   string `json:"bg_color,omitempty"`
}

// ApplyMeta copies the meta fields onto the page.
func (p *Page) ApplyMeta(m PageMeta) {
	p.Title = m.Title
	p.Cover = m.Cover
	p.Published = m.Published
	p.DarkMode = m.DarkMode
	p.Cinematic = m.Cinematic
	p.Mood = m.Mood
	p.BgColor = m.BgColor
}

// NormalizePositions rewrites block positions densely 0..n-1 following array
// order. Client-sent position values are advisory only.
func NormalizePositions(blocks []Block) []Block {
	for i := range blocks {
		blocks[i].Position = i
	}
	return blocks
}

// ValidateBlocks checks the one part of a block write the sync layer does
// care about: every block must carry a known type. Payloads stay opaque.
func ValidateBlocks(blocks []Block) error {
	for i, b := range blocks {
		if !ValidBlockType(b.Type) {
			return fmt.Errorf("block %d: unknown type %q", i, b.Type)
		}
	}
	return nil
}

var (
	revMu   sync.Mutex
	lastRev int64
)

// NewRevision returns a fresh opaque revision token. Tokens are derived from
// the current time in nanoseconds with a monotonic guard, so within one
// process a later token always compares greater than an earlier one.
func NewRevision() string {
	revMu.Lock()
	defer revMu.Unlock()
	now := time.Now().UnixNano()
	if now <= lastRev {
		now = lastRev + 1
	}
	lastRev = now
	return strconv.FormatInt(now, 10)
}

// CompareRevisions orders two revision tokens. Tokens are decimal integer
// strings without leading zeros, so a longer token is always greater and
// equal-length tokens compare bytewise. The empty token orders below any
// real one.
func CompareRevisions(a, b string) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
