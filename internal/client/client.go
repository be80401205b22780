// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package client implements the HTTP transport behind the sync agent. It
// speaks the REST surface for pages and ephemeral signals and the SSE
// endpoint for the event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/olegiv/opad-go/internal/agent"
	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/model"
)

const defaultTimeout = 10 * time.Second

// Client is an HTTP implementation of agent.Transport.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// Options configures a Client.
type Options struct {
	// HTTPClient overrides the default request client. The stream endpoint
	// always uses an untimed client, since SSE responses never complete.
	HTTPClient *http.Client
}

// New creates a client for the API at baseURL, e.g. "http://host:8080/api/v1".
func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		stream:  &http.Client{},
	}
}

var _ agent.Transport = (*Client)(nil)

// pageEnvelope mirrors the API's page response shape.
type pageEnvelope struct {
	Page model.Page `json:"page"`
}

// createPageRequest mirrors POST /pages.
type createPageRequest struct {
	Title     string        `json:"title"`
	Cover     string        `json:"cover,omitempty"`
	Published bool          `json:"published"`
	DarkMode  bool          `json:"dark_mode"`
	Cinematic bool          `json:"cinematic"`
	Mood      string        `json:"mood,omitempty"`
	BgColor   string        `json:"bg_color,omitempty"`
	Blocks    []model.Block `json:"blocks,omitempty"`
}

// updateBlocksRequest mirrors PUT /pages/{id}/blocks.
type updateBlocksRequest struct {
	Blocks       []model.Block `json:"blocks"`
	BaseRevision string        `json:"base_revision"`
}

// updateMetaRequest mirrors PUT /pages/{id}/meta.
type updateMetaRequest struct {
	Title        string `json:"title"`
	Cover        string `json:"cover,omitempty"`
	Published    bool   `json:"published"`
	DarkMode     bool   `json:"dark_mode"`
	Cinematic    bool   `json:"cinematic"`
	Mood         string `json:"mood,omitempty"`
	BgColor      string `json:"bg_color,omitempty"`
	BaseRevision string `json:"base_revision"`
}

// typingRequest mirrors POST /pages/{id}/typing.
type typingRequest struct {
	BlockID   string `json:"block_id"`
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
	IsTyping  bool   `json:"is_typing"`
}

// presenceRequest mirrors POST /pages/{id}/presence.
type presenceRequest struct {
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
	IsOnline  bool   `json:"is_online"`
}

// CreatePage creates a new page and returns it with its assigned id and
// first revision.
func (c *Client) CreatePage(ctx context.Context, p model.Page) (model.Page, error) {
	req := createPageRequest{
		Title:     p.Title,
		Cover:     p.Cover,
		Published: p.Published,
		DarkMode:  p.DarkMode,
		Cinematic: p.Cinematic,
		Mood:      p.Mood,
		BgColor:   p.BgColor,
		Blocks:    p.Blocks,
	}
	page, _, err := c.doPage(ctx, http.MethodPost, "/pages", req, http.StatusCreated)
	return page, err
}

// GetPage fetches the canonical page.
func (c *Client) GetPage(ctx context.Context, id string) (model.Page, error) {
	page, _, err := c.doPage(ctx, http.MethodGet, "/pages/"+id, nil, http.StatusOK)
	return page, err
}

// UpdateBlocks issues a conditional block write. A stale base revision comes
// back as conflict=true with the current canonical page.
func (c *Client) UpdateBlocks(ctx context.Context, id string, blocks []model.Block, baseRevision string) (model.Page, bool, error) {
	req := updateBlocksRequest{Blocks: blocks, BaseRevision: baseRevision}
	return c.doPage(ctx, http.MethodPut, "/pages/"+id+"/blocks", req, http.StatusOK)
}

// UpdateMeta issues a conditional metadata write under the same contract as
// UpdateBlocks.
func (c *Client) UpdateMeta(ctx context.Context, id string, meta model.PageMeta, baseRevision string) (model.Page, bool, error) {
	req := updateMetaRequest{
		Title:        meta.Title,
		Cover:        meta.Cover,
		Published:    meta.Published,
		DarkMode:     meta.DarkMode,
		Cinematic:    meta.Cinematic,
		Mood:         meta.Mood,
		BgColor:      meta.BgColor,
		BaseRevision: baseRevision,
	}
	return c.doPage(ctx, http.MethodPut, "/pages/"+id+"/meta", req, http.StatusOK)
}

// SetTyping sends a fire-and-forget typing signal.
func (c *Client) SetTyping(ctx context.Context, sig model.TypingSignal) error {
	req := typingRequest{
		BlockID:   sig.BlockID,
		SessionID: sig.SessionID,
		UserName:  sig.UserName,
		IsTyping:  sig.IsTyping,
	}
	return c.doAck(ctx, "/pages/"+sig.PageID+"/typing", req)
}

// SetPresence sends a presence heartbeat or leave signal.
func (c *Client) SetPresence(ctx context.Context, sig model.PresenceSignal) error {
	req := presenceRequest{
		SessionID: sig.SessionID,
		UserName:  sig.UserName,
		IsOnline:  sig.IsOnline,
	}
	return c.doAck(ctx, "/pages/"+sig.PageID+"/presence", req)
}

// doPage runs one page-returning request and maps the API's status taxonomy
// onto the transport contract.
func (c *Client) doPage(ctx context.Context, method, path string, body any, wantStatus int) (model.Page, bool, error) {
	resp, err := c.do(ctx, c.http, method, path, body)
	if err != nil {
		return model.Page{}, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case wantStatus, http.StatusConflict:
		var env pageEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return model.Page{}, false, fmt.Errorf("decode response: %w", err)
		}
		return env.Page, resp.StatusCode == http.StatusConflict, nil
	case http.StatusNotFound:
		return model.Page{}, false, agent.ErrNotFound
	case http.StatusBadRequest:
		return model.Page{}, false, agent.ErrValidation
	default:
		return model.Page{}, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// doAck runs one fire-and-forget signal request.
func (c *Client) doAck(ctx context.Context, path string, body any) error {
	resp, err := c.do(ctx, c.http, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusBadRequest:
		return agent.ErrValidation
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return hc.Do(req)
}

// Stream opens the page's SSE event stream.
func (c *Client) Stream(ctx context.Context, pageID string) (agent.EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pages/"+pageID+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, agent.ErrNotFound
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return newSSEStream(pageID, resp.Body), nil
}

var _ agent.EventStream = (*sseStream)(nil)

func (s *sseStream) Recv() (bus.Event, error) { return s.next() }
func (s *sseStream) Close() error             { return s.body.Close() }
