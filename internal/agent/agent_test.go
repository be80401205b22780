package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced time source. After fires immediately so
// run loops driven by it never sleep for real.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// fakeTransport is an in-memory Transport with scriptable failures.
type fakeTransport struct {
	mu sync.Mutex

	page    model.Page
	nextRev int

	createCalls int
	updateCalls int
	getCalls    int

	failNext     int   // fail this many writes transiently
	failErr      error // error for scripted failures
	conflictNext bool  // next update loses the CAS race

	typings   []model.TypingSignal
	presences []model.PresenceSignal

	// onUpdate fires once at the start of the next update, letting tests
	// act while a write is in flight.
	onUpdate func()

	streamCh  chan bus.Event
	streamErr error
}

func newFakeTransport(page model.Page) *fakeTransport {
	return &fakeTransport{
		page:    page,
		nextRev: 100,
		failErr: errors.New("connection reset"),
	}
}

func (f *fakeTransport) bumpRevLocked() string {
	f.nextRev++
	return fmt.Sprintf("%d", f.nextRev)
}

func (f *fakeTransport) CreatePage(_ context.Context, p model.Page) (model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.failNext > 0 {
		f.failNext--
		return model.Page{}, f.failErr
	}

	p.ID = "page-1"
	p.Revision = f.bumpRevLocked()
	if p.Blocks == nil {
		p.Blocks = []model.Block{}
	}
	f.page = p
	return p, nil
}

func (f *fakeTransport) GetPage(_ context.Context, id string) (model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++
	if id != f.page.ID {
		return model.Page{}, ErrNotFound
	}
	return f.page, nil
}

func (f *fakeTransport) UpdateBlocks(_ context.Context, id string, blocks []model.Block, baseRevision string) (model.Page, bool, error) {
	f.mu.Lock()
	if hook := f.onUpdate; hook != nil {
		f.onUpdate = nil
		f.mu.Unlock()
		hook()
		f.mu.Lock()
	}
	defer f.mu.Unlock()

	f.updateCalls++
	if f.failNext > 0 {
		f.failNext--
		return model.Page{}, false, f.failErr
	}
	if id != f.page.ID {
		return model.Page{}, false, ErrNotFound
	}
	if f.conflictNext || baseRevision != f.page.Revision {
		f.conflictNext = false
		return f.page, true, nil
	}

	for i := range blocks {
		if blocks[i].ID == "" {
			blocks[i].ID = fmt.Sprintf("blk-%d", i)
		}
		blocks[i].Position = i
	}
	f.page.Blocks = blocks
	f.page.Revision = f.bumpRevLocked()
	return f.page, false, nil
}

func (f *fakeTransport) UpdateMeta(_ context.Context, id string, meta model.PageMeta, baseRevision string) (model.Page, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updateCalls++
	if f.failNext > 0 {
		f.failNext--
		return model.Page{}, false, f.failErr
	}
	if id != f.page.ID {
		return model.Page{}, false, ErrNotFound
	}
	if f.conflictNext || baseRevision != f.page.Revision {
		f.conflictNext = false
		return f.page, true, nil
	}

	f.page.ApplyMeta(meta)
	f.page.Revision = f.bumpRevLocked()
	return f.page, false, nil
}

func (f *fakeTransport) SetTyping(_ context.Context, sig model.TypingSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typings = append(f.typings, sig)
	return nil
}

func (f *fakeTransport) SetPresence(_ context.Context, sig model.PresenceSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences = append(f.presences, sig)
	return nil
}

type fakeStream struct {
	ctx context.Context
	ch  chan bus.Event
}

func (s *fakeStream) Recv() (bus.Event, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return bus.Event{}, io.EOF
		}
		return ev, nil
	case <-s.ctx.Done():
		return bus.Event{}, s.ctx.Err()
	}
}

func (s *fakeStream) Close() error { return nil }

func (f *fakeTransport) Stream(ctx context.Context, _ string) (EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.streamCh == nil {
		f.streamCh = make(chan bus.Event, 16)
	}
	return &fakeStream{ctx: ctx, ch: f.streamCh}, nil
}

func (f *fakeTransport) counts() (creates, updates, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.updateCalls, f.getCalls
}

func textBlock(text string) model.Block {
	return model.Block{Type: model.BlockTypeText, Data: json.RawMessage(`{"text":"` + text + `"}`)}
}

func newTestAgent(t *testing.T, page model.Page) (*Agent, *fakeTransport, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	tr := newFakeTransport(page)
	a := New(tr, page, Options{
		SessionID: "sess-self",
		UserName:  "Ada",
		Clock:     clk,
		Logger:    testLogger(),
	})
	return a, tr, clk
}

func existingPage() model.Page {
	return model.Page{ID: "page-1", Title: "Doc", Revision: "100", Blocks: []model.Block{}}
}

func TestDebounceCoalescesEdits(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	a.EditBlocks([]model.Block{textBlock("a")})
	if got := a.State(); got != StateDirty {
		t.Fatalf("state = %q, want %q", got, StateDirty)
	}

	// A second edit inside the window restarts the debounce; nothing fires yet.
	clk.Advance(DebounceInterval / 2)
	a.EditBlocks([]model.Block{textBlock("ab")})
	a.Tick(ctx)
	if _, updates, _ := tr.counts(); updates != 0 {
		t.Fatalf("updates = %d, want 0 before debounce fires", updates)
	}

	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	if _, updates, _ := tr.counts(); updates != 1 {
		t.Fatalf("updates = %d, want exactly one coalesced write", updates)
	}
	if got := a.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q after sync", got, StateIdle)
	}

	var data map[string]string
	if err := json.Unmarshal(a.Page().Blocks[0].Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data["text"] != "ab" {
		t.Errorf("committed %q, want the latest coalesced payload", data["text"])
	}
}

func TestCreateBeforeFirstUpdate(t *testing.T) {
	a, tr, clk := newTestAgent(t, model.Page{})
	ctx := context.Background()

	a.EditMeta(model.PageMeta{Title: "Fresh"})
	a.EditBlocks([]model.Block{textBlock("hello")})
	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	creates, updates, _ := tr.counts()
	if creates != 1 {
		t.Fatalf("creates = %d, want 1", creates)
	}
	if updates != 1 {
		t.Fatalf("updates = %d, want the pending write issued after create", updates)
	}

	page := a.Page()
	if page.ID != "page-1" {
		t.Errorf("page.ID = %q, want assigned id", page.ID)
	}
	if page.Title != "Fresh" {
		t.Errorf("Title = %q, want create to carry pending meta", page.Title)
	}
	if len(page.Blocks) != 1 {
		t.Errorf("len(Blocks) = %d, want pending blocks committed", len(page.Blocks))
	}
}

func TestConflictAdoptsCanonicalWholesale(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	// Another writer commits first.
	tr.page.Blocks = []model.Block{textBlock("theirs")}
	tr.page.Revision = "200"

	a.EditBlocks([]model.Block{textBlock("mine")})
	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	if got := a.State(); got != StateConflict {
		t.Fatalf("state = %q, want %q", got, StateConflict)
	}
	page := a.Page()
	if page.Revision != "200" {
		t.Errorf("revision = %q, want adopted canonical %q", page.Revision, "200")
	}

	// New edits after the conflict base against the adopted revision.
	a.EditBlocks([]model.Block{textBlock("mine-v2")})
	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	if got := a.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q after re-issued write", got, StateIdle)
	}
	var data map[string]string
	if err := json.Unmarshal(a.Page().Blocks[0].Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data["text"] != "mine-v2" {
		t.Errorf("committed %q, want re-issued edit on top of canonical", data["text"])
	}
}

func TestTransientFailureRetriesWithBackoff(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	tr.failNext = 2

	a.EditBlocks([]model.Block{textBlock("persist")})
	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	if got := a.State(); got != StateRetrying {
		t.Fatalf("state = %q, want %q", got, StateRetrying)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("transient failures must not surface: %v", err)
	}

	// Before the backoff elapses nothing fires.
	a.Tick(ctx)
	if _, updates, _ := tr.counts(); updates != 1 {
		t.Fatalf("updates = %d, retry fired before backoff elapsed", updates)
	}

	// First retry after the base backoff also fails.
	clk.Advance(RetryBaseBackoff)
	a.Tick(ctx)
	if _, updates, _ := tr.counts(); updates != 2 {
		t.Fatalf("updates = %d, want 2 after first retry", updates)
	}
	if got := a.State(); got != StateRetrying {
		t.Fatalf("state = %q, want %q", got, StateRetrying)
	}

	// Second retry waits twice as long, then succeeds.
	clk.Advance(RetryBaseBackoff)
	a.Tick(ctx)
	if _, updates, _ := tr.counts(); updates != 2 {
		t.Fatalf("updates = %d, retry fired before doubled backoff elapsed", updates)
	}
	clk.Advance(RetryBaseBackoff)
	a.Tick(ctx)

	if got := a.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q after successful retry", got, StateIdle)
	}
	if _, updates, _ := tr.counts(); updates != 3 {
		t.Fatalf("updates = %d, want 3 total attempts", updates)
	}
}

func TestPageEventShortCircuitsRetry(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	tr.failNext = 1
	pending := []model.Block{textBlock("made-it")}

	a.EditBlocks(pending)
	clk.Advance(DebounceInterval)
	a.Tick(ctx)
	if got := a.State(); got != StateRetrying {
		t.Fatalf("state = %q, want %q", got, StateRetrying)
	}

	// The write actually committed server-side; its snapshot arrives on the
	// stream before the retry fires.
	committed := existingPage()
	committed.Revision = "150"
	committed.Blocks = []model.Block{textBlock("made-it")}
	committed.Blocks[0].ID = "blk-0"
	a.HandleEvent(bus.PageEvent(committed))

	if got := a.State(); got != StateIdle {
		t.Fatalf("state = %q, want retry short-circuited to %q", got, StateIdle)
	}

	// The retry never re-fires.
	clk.Advance(RetryMaxBackoff)
	a.Tick(ctx)
	if _, updates, _ := tr.counts(); updates != 1 {
		t.Fatalf("updates = %d, want no duplicate write after short-circuit", updates)
	}
}

func TestSnapshotGatedWhileDirty(t *testing.T) {
	a, _, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	a.EditBlocks([]model.Block{textBlock("local")})

	remote := existingPage()
	remote.Revision = "300"
	remote.Title = "Remote"
	a.HandleEvent(bus.PageEvent(remote))

	// A remote snapshot never clobbers unsynced local edits.
	if got := a.Page().Revision; got != "100" {
		t.Fatalf("revision = %q, snapshot applied while dirty", got)
	}

	// The local edit still goes out against its own base and commits.
	clk.Advance(DebounceInterval)
	a.Tick(ctx)
	if got := a.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}

	// Once settled, snapshots apply again.
	remote.Revision = "400"
	a.HandleEvent(bus.PageEvent(remote))
	if got := a.Page().Revision; got != "400" {
		t.Errorf("revision = %q, want snapshot applied when settled", got)
	}
}

func TestSnapshotSameRevisionIsNoop(t *testing.T) {
	a, _, _ := newTestAgent(t, existingPage())

	dup := existingPage()
	dup.Title = "Imposter"
	a.HandleEvent(bus.PageEvent(dup))

	if got := a.Page().Title; got != "Doc" {
		t.Errorf("Title = %q, re-delivered revision must be a no-op", got)
	}
}

func TestSnapshotOlderRevisionIsDropped(t *testing.T) {
	a, _, _ := newTestAgent(t, existingPage())

	newer := existingPage()
	newer.Revision = "300"
	newer.Title = "Newer"
	a.HandleEvent(bus.PageEvent(newer))
	if got := a.Page().Revision; got != "300" {
		t.Fatalf("revision = %q, want newer snapshot applied", got)
	}

	// At-least-once delivery can reorder publishes across writers; a late
	// snapshot of an older commit must never regress canonical state.
	older := existingPage()
	older.Revision = "200"
	older.Title = "Stale"
	a.HandleEvent(bus.PageEvent(older))

	if got := a.Page().Revision; got != "300" {
		t.Errorf("revision = %q, agent regressed to an older snapshot", got)
	}
	if got := a.Page().Title; got != "Newer" {
		t.Errorf("Title = %q, want %q", got, "Newer")
	}
}

func TestEditDuringFlightResendsAfterCompletion(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	// An edit lands while the first write is in flight: it must be kept and
	// resent after the current write completes, not lost.
	tr.onUpdate = func() {
		a.EditBlocks([]model.Block{textBlock("v2")})
	}

	a.EditBlocks([]model.Block{textBlock("v1")})
	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	if got := a.State(); got != StateDirty {
		t.Fatalf("state = %q, want %q pending resend", got, StateDirty)
	}

	a.Tick(ctx) // resend fires immediately

	if _, updates, _ := tr.counts(); updates != 2 {
		t.Fatalf("updates = %d, want 2", updates)
	}
	if got := a.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}
	var data map[string]string
	if err := json.Unmarshal(a.Page().Blocks[0].Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data["text"] != "v2" {
		t.Errorf("committed %q, want in-flight edit resent", data["text"])
	}
}

func TestUnknownPageIsFatal(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	// The page vanished server-side.
	tr.mu.Lock()
	tr.page.ID = "replaced"
	tr.mu.Unlock()

	a.EditBlocks([]model.Block{textBlock("orphan")})
	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	if got := a.State(); got != StateFailed {
		t.Fatalf("state = %q, want %q", got, StateFailed)
	}
	if !errors.Is(a.Err(), ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", a.Err())
	}

	// Never retried.
	clk.Advance(RetryMaxBackoff)
	a.Tick(ctx)
	if _, updates, _ := tr.counts(); updates != 1 {
		t.Fatalf("updates = %d, fatal failures must not retry", updates)
	}
}

func TestValidationFailureSurfacesAndDropsPayload(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	tr.failNext = 1
	tr.failErr = ErrValidation

	a.EditBlocks([]model.Block{textBlock("bad")})
	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	if !errors.Is(a.Err(), ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation surfaced", a.Err())
	}
	if got := a.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q with payload dropped", got, StateIdle)
	}

	clk.Advance(RetryMaxBackoff)
	a.Tick(ctx)
	if _, updates, _ := tr.counts(); updates != 1 {
		t.Fatalf("updates = %d, malformed payload must not be retried", updates)
	}
}

func TestTypingThrottle(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	a.Typing(ctx, "b1", true)
	a.Typing(ctx, "b1", true) // inside the throttle window
	clk.Advance(model.TypingThrottle / 2)
	a.Typing(ctx, "b1", true) // still inside

	tr.mu.Lock()
	sent := len(tr.typings)
	tr.mu.Unlock()
	if sent != 1 {
		t.Fatalf("typing sends = %d, want starts throttled to 1", sent)
	}

	clk.Advance(model.TypingThrottle)
	a.Typing(ctx, "b1", true)

	// Stops always go out immediately, even right after a start.
	a.Typing(ctx, "b1", false)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.typings) != 3 {
		t.Fatalf("typing sends = %d, want 3 (two starts, one stop)", len(tr.typings))
	}
	last := tr.typings[2]
	if last.IsTyping || last.BlockID != "b1" {
		t.Errorf("last signal = %+v, want unthrottled stop", last)
	}
}

func TestHeartbeatCadence(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	a.Tick(ctx)
	a.Tick(ctx) // same instant, no extra heartbeat

	tr.mu.Lock()
	sent := len(tr.presences)
	tr.mu.Unlock()
	if sent != 1 {
		t.Fatalf("heartbeats = %d, want 1", sent)
	}

	clk.Advance(model.PresenceHeartbeatInterval)
	a.Tick(ctx)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.presences) != 2 {
		t.Fatalf("heartbeats = %d, want 2 after interval", len(tr.presences))
	}
	if !tr.presences[1].IsOnline || tr.presences[1].SessionID != "sess-self" {
		t.Errorf("heartbeat = %+v, want own session online", tr.presences[1])
	}
}

func TestPeerIndicatorsDecayLocally(t *testing.T) {
	a, _, clk := newTestAgent(t, existingPage())

	a.HandleEvent(bus.PresenceEvent(model.PresenceSignal{
		PageID: "page-1", SessionID: "sess-peer", UserName: "Lin", IsOnline: true,
	}))
	a.HandleEvent(bus.TypingEvent(model.TypingSignal{
		PageID: "page-1", BlockID: "b1", SessionID: "sess-peer", UserName: "Lin", IsTyping: true,
	}))

	// Own-session events are ignored.
	a.HandleEvent(bus.PresenceEvent(model.PresenceSignal{
		PageID: "page-1", SessionID: "sess-self", IsOnline: true,
	}))

	if got := len(a.OnlinePeers()); got != 1 {
		t.Fatalf("online peers = %d, want 1", got)
	}
	if got := len(a.TypingPeers()); got != 1 {
		t.Fatalf("typing peers = %d, want 1", got)
	}

	// Typing decays first (3.5s), presence later (15s).
	clk.Advance(model.TypingTTL + time.Millisecond)
	if got := len(a.TypingPeers()); got != 0 {
		t.Errorf("typing peers = %d, want decayed", got)
	}
	if got := len(a.OnlinePeers()); got != 1 {
		t.Errorf("online peers = %d, presence must outlive typing", got)
	}

	clk.Advance(model.PresenceTTL)
	if got := len(a.OnlinePeers()); got != 0 {
		t.Errorf("online peers = %d, want decayed", got)
	}
}

func TestTypingStopEventClearsPeer(t *testing.T) {
	a, _, _ := newTestAgent(t, existingPage())

	start := model.TypingSignal{PageID: "page-1", BlockID: "b1", SessionID: "sess-peer", IsTyping: true}
	a.HandleEvent(bus.TypingEvent(start))

	stop := start
	stop.IsTyping = false
	a.HandleEvent(bus.TypingEvent(stop))

	if got := len(a.TypingPeers()); got != 0 {
		t.Errorf("typing peers = %d, want cleared by stop event", got)
	}
}

func TestCloseFlushesTeardownSignals(t *testing.T) {
	a, tr, _ := newTestAgent(t, existingPage())
	ctx := context.Background()

	a.Typing(ctx, "b1", true)
	a.Close(ctx)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	var sawStop bool
	for _, sig := range tr.typings {
		if sig.BlockID == "b1" && !sig.IsTyping {
			sawStop = true
		}
	}
	if !sawStop {
		t.Error("Close must send typing stop for blocks this session was typing in")
	}

	var sawOffline bool
	for _, sig := range tr.presences {
		if !sig.IsOnline && sig.SessionID == "sess-self" {
			sawOffline = true
		}
	}
	if !sawOffline {
		t.Error("Close must send presence offline")
	}
}

func TestClosedAgentIgnoresEdits(t *testing.T) {
	a, tr, clk := newTestAgent(t, existingPage())
	ctx := context.Background()

	a.Close(ctx)
	a.EditBlocks([]model.Block{textBlock("too late")})
	clk.Advance(DebounceInterval)
	a.Tick(ctx)

	if _, updates, _ := tr.counts(); updates != 0 {
		t.Errorf("updates = %d, closed agent must not write", updates)
	}
}

func TestRunStreamRefetchesPerConnect(t *testing.T) {
	a, tr, _ := newTestAgent(t, existingPage())

	tr.mu.Lock()
	tr.streamCh = make(chan bus.Event, 16)
	ch := tr.streamCh
	tr.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.RunStream(ctx)
		close(done)
	}()

	// Wait for the post-connect canonical refetch.
	deadline := time.After(2 * time.Second)
	for {
		if _, _, gets := tr.counts(); gets >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for canonical refetch")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A streamed snapshot is applied while the agent is settled.
	remote := existingPage()
	remote.Revision = "500"
	remote.Title = "Streamed"
	ch <- bus.PageEvent(remote)

	deadline = time.After(2 * time.Second)
	for a.Page().Revision != "500" {
		select {
		case <-deadline:
			t.Fatalf("revision = %q, want streamed snapshot applied", a.Page().Revision)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunStream did not stop with its context")
	}
}

func TestStreamBackoffDoublesAndCaps(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, StreamBaseBackoff},
		{1, 2 * StreamBaseBackoff},
		{2, 4 * StreamBaseBackoff},
		{10, StreamMaxBackoff},
	}
	for _, tt := range tests {
		if got := streamBackoff(tt.attempts); got != tt.want {
			t.Errorf("streamBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, RetryBaseBackoff},
		{1, 2 * RetryBaseBackoff},
		{2, 4 * RetryBaseBackoff},
		{10, RetryMaxBackoff},
	}
	for _, tt := range tests {
		if got := retryBackoff(tt.attempts); got != tt.want {
			t.Errorf("retryBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
