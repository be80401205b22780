// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import "time"

// Clock abstracts time for the agent so tests can simulate elapsed time
// without real delays. Every debounce, backoff and TTL decision goes
// through it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// realClock is the production clock.
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewRealClock returns a Clock backed by the system time.
func NewRealClock() Clock { return realClock{} }
