// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

// Event kinds delivered on a page's event stream.
const (
	EventPage     = "page"
	EventTyping   = "typing"
	EventPresence = "presence"
)

// TypingSignal is the wire shape of a typing start/stop event.
type TypingSignal struct {
	PageID    string `json:"page_id"`
	BlockID   string `json:"block_id"`
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
	IsTyping  bool   `json:"is_typing"`
}

// PresenceSignal is the wire shape of a presence online/offline event.
type PresenceSignal struct {
	PageID    string `json:"page_id"`
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
	IsOnline  bool   `json:"is_online"`
}
