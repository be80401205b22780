// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/model"
)

// sseStream parses named SSE events off one response body. Keep-alive
// comment lines are skipped; an unknown event name is ignored rather than
// treated as a protocol error so the stream format can grow.
type sseStream struct {
	pageID string
	body   io.ReadCloser
	sc     *bufio.Scanner
}

func newSSEStream(pageID string, body io.ReadCloser) *sseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &sseStream{pageID: pageID, body: body, sc: sc}
}

// next reads frames until one decodes to a known event.
func (s *sseStream) next() (bus.Event, error) {
	for {
		name, data, err := s.frame()
		if err != nil {
			return bus.Event{}, err
		}
		ev, ok, err := s.decode(name, data)
		if err != nil {
			return bus.Event{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

// frame reads one event/data pair terminated by a blank line.
func (s *sseStream) frame() (name string, data string, err error) {
	for s.sc.Scan() {
		line := s.sc.Text()
		switch {
		case line == "":
			if name != "" || data != "" {
				return name, data, nil
			}
		case strings.HasPrefix(line, ":"):
			// Keep-alive comment.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := s.sc.Err(); err != nil {
		return "", "", err
	}
	return "", "", io.EOF
}

func (s *sseStream) decode(name, data string) (bus.Event, bool, error) {
	switch name {
	case model.EventPage:
		var env pageEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode page event: %w", err)
		}
		return bus.PageEvent(env.Page), true, nil
	case model.EventTyping:
		var sig model.TypingSignal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode typing event: %w", err)
		}
		return bus.TypingEvent(sig), true, nil
	case model.EventPresence:
		var sig model.PresenceSignal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode presence event: %w", err)
		}
		return bus.PresenceEvent(sig), true, nil
	default:
		return bus.Event{}, false, nil
	}
}
