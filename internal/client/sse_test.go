package client

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/olegiv/opad-go/internal/model"
)

func TestSSEStreamParsesNamedEvents(t *testing.T) {
	raw := strings.Join([]string{
		": keep-alive",
		"",
		"event: page",
		`data: {"page":{"id":"p1","title":"Doc","published":false,"dark_mode":false,"cinematic":false,"blocks":[],"revision":"42","created_at":"2026-03-01T12:00:00Z","updated_at":"2026-03-01T12:00:00Z"}}`,
		"",
		"event: typing",
		`data: {"page_id":"p1","block_id":"b1","session_id":"s1","user_name":"Ada","is_typing":true}`,
		"",
		"event: presence",
		`data: {"page_id":"p1","session_id":"s1","user_name":"Ada","is_online":true}`,
		"",
	}, "\n") + "\n"

	s := newSSEStream("p1", io.NopCloser(strings.NewReader(raw)))

	ev, err := s.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Kind != model.EventPage || ev.Page == nil || ev.Page.Revision != "42" {
		t.Fatalf("event 1 = %+v, want page snapshot rev 42", ev)
	}

	ev, err = s.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Kind != model.EventTyping || ev.Typing == nil || !ev.Typing.IsTyping {
		t.Fatalf("event 2 = %+v, want typing start", ev)
	}

	ev, err = s.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Kind != model.EventPresence || ev.Presence == nil || !ev.Presence.IsOnline {
		t.Fatalf("event 3 = %+v, want presence online", ev)
	}

	if _, err := s.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want EOF at end of stream", err)
	}
}

func TestSSEStreamSkipsUnknownEvents(t *testing.T) {
	raw := strings.Join([]string{
		"event: shiny-new-thing",
		`data: {"whatever":true}`,
		"",
		"event: presence",
		`data: {"page_id":"p1","session_id":"s1","is_online":false}`,
		"",
	}, "\n") + "\n"

	s := newSSEStream("p1", io.NopCloser(strings.NewReader(raw)))

	ev, err := s.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Kind != model.EventPresence {
		t.Fatalf("event = %+v, want unknown event skipped", ev)
	}
}

func TestSSEStreamKeepAliveOnlyEndsWithEOF(t *testing.T) {
	raw := ": keep-alive\n\n: keep-alive\n\n"

	s := newSSEStream("p1", io.NopCloser(strings.NewReader(raw)))
	if _, err := s.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want EOF", err)
	}
}
