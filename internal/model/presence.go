// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// TTL and pacing constants for the ephemeral presence/typing layer.
// Losing an ephemeral event never corrupts document state; a stale indicator
// self-heals within its TTL.
const (
	// PresenceTTL bounds how long a session counts as online without a
	// fresh heartbeat.
	PresenceTTL = 15 * time.Second

	// PresenceHeartbeatInterval is how often a mounted client heartbeats.
	PresenceHeartbeatInterval = 5 * time.Second

	// TypingTTL bounds how long a typing lock stays current without a
	// refresh.
	TypingTTL = 3500 * time.Millisecond

	// TypingThrottle is the minimum spacing between typing-start signals
	// for one block. Stop signals are never throttled.
	TypingThrottle = 1200 * time.Millisecond
)

// PresenceEntry records one session viewing a page. A session is an opaque
// client-generated id, not an authenticated identity.
type PresenceEntry struct {
	PageID     string    `json:"page_id"`
	SessionID  string    `json:"session_id"`
	UserName   string    `json:"user_name"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Online reports whether the entry counts as online at the given time.
// The expiry instant itself counts as offline, same as TypingLock.Expired
// and the Redis registry's score ranges.
func (e PresenceEntry) Online(now time.Time) bool {
	return now.Sub(e.LastSeenAt) < PresenceTTL
}

// TypingLock is an advisory, TTL-bound claim that a session is actively
// editing a specific block. It never blocks a write.
type TypingLock struct {
	PageID    string    `json:"page_id"`
	BlockID   string    `json:"block_id"`
	SessionID string    `json:"session_id"`
	UserName  string    `json:"user_name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lock has lapsed at the given time.
func (l TypingLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
