package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/session"
)

func TestOutboxCoalescesTrailingDocumentUpdates(t *testing.T) {
	t.Parallel()
	o := NewOutbox(10)

	o.Push(domain.Event{Type: domain.EventResponse, Seq: 1})
	o.Push(domain.Event{Type: domain.EventDocumentUpdate, Seq: 2, Updates: map[string]any{
		"coreIdea":    map[string]any{"problemStatement": "a", "targetAudience": "cooks"},
		"decisionLog": []any{map[string]any{"decision": "first"}},
	}})
	o.Push(domain.Event{Type: domain.EventDocumentUpdate, Seq: 3, Turn: "promoter@3", Updates: map[string]any{
		"coreIdea":    map[string]any{"problemStatement": "b"},
		"decisionLog": []any{map[string]any{"decision": "second"}},
	}})
	o.Push(domain.Event{Type: domain.EventResponse, Seq: 4})
	o.Push(domain.Event{Type: domain.EventDocumentUpdate, Seq: 5, Updates: map[string]any{"scenarios": []any{}}})

	if o.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", o.Len())
	}

	ctx := context.Background()
	var got []domain.Event
	for range 4 {
		ev, ok := o.Next(ctx)
		if !ok {
			t.Fatal("Next() returned closed")
		}
		got = append(got, ev)
	}

	if got[0].Seq != 1 || got[2].Seq != 4 || got[3].Seq != 5 {
		t.Fatalf("order = %+v", got)
	}
	merged := got[1]
	if merged.Seq != 3 || merged.Turn != "promoter@3" {
		t.Fatalf("coalesced seq/turn = %d/%q, want 3/promoter@3", merged.Seq, merged.Turn)
	}
	core, _ := merged.Updates["coreIdea"].(map[string]any)
	if core["problemStatement"] != "b" || core["targetAudience"] != "cooks" {
		t.Fatalf("coalesced coreIdea = %v, want fields from both updates", core)
	}
	if log, _ := merged.Updates["decisionLog"].([]any); len(log) != 2 {
		t.Fatalf("coalesced decisionLog = %v, want both entries", merged.Updates["decisionLog"])
	}
}

func TestOutboxRejectsWhenFull(t *testing.T) {
	t.Parallel()
	o := NewOutbox(2)

	if !o.Push(domain.Event{Type: domain.EventResponse}) || !o.Push(domain.Event{Type: domain.EventResponse}) {
		t.Fatal("Push() rejected below limit")
	}
	if o.Push(domain.Event{Type: domain.EventResponse}) {
		t.Fatal("Push() accepted over limit")
	}
}

func TestOutboxCloseWakesReader(t *testing.T) {
	t.Parallel()
	o := NewOutbox(2)

	done := make(chan bool, 1)
	go func() {
		_, ok := o.Next(context.Background())
		done <- ok
	}()
	o.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Next() after Close reported an event")
		}
	case <-time.After(time.Second):
		t.Fatal("reader not woken by Close")
	}
	if o.Push(domain.Event{Type: domain.EventResponse}) {
		t.Fatal("Push() after Close succeeded")
	}
}

type recordingSink struct {
	mu      sync.Mutex
	events  []domain.Event
	reasons []string
	full    bool
}

func (s *recordingSink) Push(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) Drop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func (s *recordingSink) seqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Seq
	}
	return out
}

func TestHubAssignsSequencePerSession(t *testing.T) {
	t.Parallel()
	h := NewHub(10, nil)
	sink := &recordingSink{}
	h.Attach("s1", sink, -1)

	h.Publish("s1", domain.Event{Type: domain.EventResponse})
	h.Publish("s2", domain.Event{Type: domain.EventResponse})
	h.Publish("s1", domain.Event{Type: domain.EventDocumentUpdate})

	if got := sink.seqs(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("seqs = %v, want [1 2]", got)
	}
	if h.Seq("s2") != 1 {
		t.Fatalf("Seq(s2) = %d, want 1", h.Seq("s2"))
	}
}

func TestHubReplaysBacklogAfterSeq(t *testing.T) {
	t.Parallel()
	h := NewHub(3, nil)
	for range 5 {
		h.Publish("s1", domain.Event{Type: domain.EventResponse})
	}

	sink := &recordingSink{}
	h.Attach("s1", sink, 3)
	if got := sink.seqs(); len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("replayed = %v, want [4 5]", got)
	}

	all := &recordingSink{}
	h.Attach("s1", all, 0)
	if got := all.seqs(); len(got) != 3 || got[0] != 3 {
		t.Fatalf("replayed = %v, want the last 3", got)
	}
}

func TestHubReplacesConnection(t *testing.T) {
	t.Parallel()
	h := NewHub(10, nil)
	first, second := &recordingSink{}, &recordingSink{}

	h.Attach("s1", first, -1)
	h.Attach("s1", second, -1)

	if len(first.reasons) != 1 || first.reasons[0] != "session replaced" {
		t.Fatalf("first reasons = %v", first.reasons)
	}
	if h.Detach("s1", first) {
		t.Fatal("stale Detach should report false")
	}
	if !h.Detach("s1", second) {
		t.Fatal("Detach of current sink should report true")
	}
}

func TestHubDropsSlowConnection(t *testing.T) {
	t.Parallel()
	h := NewHub(10, nil)
	sink := &recordingSink{full: true}
	h.Attach("s1", sink, -1)

	h.Publish("s1", domain.Event{Type: domain.EventResponse})
	if len(sink.reasons) != 1 || sink.reasons[0] != "outbox full" {
		t.Fatalf("reasons = %v", sink.reasons)
	}
}

func TestHubForget(t *testing.T) {
	t.Parallel()
	h := NewHub(10, nil)
	sink := &recordingSink{}
	h.Attach("s1", sink, -1)
	h.Publish("s1", domain.Event{Type: domain.EventResponse})

	h.Forget("s1")
	if h.Seq("s1") != 0 {
		t.Fatal("Forget kept sequence state")
	}
	if len(sink.reasons) != 1 || sink.reasons[0] != "session ended" {
		t.Fatalf("reasons = %v", sink.reasons)
	}
}

// fakeSessions answers turns by publishing through the hub the way the
// session manager does.
type fakeSessions struct {
	hub *Hub

	mu       sync.Mutex
	known    map[string]bool
	busy     bool
	endLater []string
	touched  int

	// turn and delay model the manager's one-turn-at-a-time rule.
	turn  sync.Mutex
	delay time.Duration
}

func (f *fakeSessions) Attach(id string) (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return session.Snapshot{}, session.ErrSessionNotFound
	}
	return session.Snapshot{SessionID: id}, nil
}

func (f *fakeSessions) Turn(_ context.Context, id, content string) (domain.AgentResponse, error) {
	f.mu.Lock()
	busy := f.busy
	f.mu.Unlock()
	if busy || !f.turn.TryLock() {
		return domain.AgentResponse{}, session.ErrBusy
	}
	defer f.turn.Unlock()
	time.Sleep(f.delay)
	resp := domain.AgentResponse{AgentType: domain.AgentPromoter, Content: "echo: " + content}
	f.hub.Publish(id, domain.Event{Type: domain.EventResponse, Data: &resp})
	f.hub.Publish(id, domain.Event{Type: domain.EventDocumentUpdate, Updates: map[string]any{"coreIdea": map[string]any{"problemStatement": content}}})
	return resp, nil
}

func (f *fakeSessions) EndLater(id string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endLater = append(f.endLater, id)
}

func (f *fakeSessions) Touch(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
}

func (f *fakeSessions) touches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touched
}

func (f *fakeSessions) endLaterCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.endLater...)
}

func newWSServer(t *testing.T, sessions *fakeSessions, hub *Hub) *httptest.Server {
	t.Helper()
	handler := NewWebSocketHandler(sessions, hub, Options{
		PingInterval:   time.Hour,
		WriteTimeout:   time.Second,
		ReconnectGrace: time.Minute,
		IsDev:          true,
	}, nil)
	r := chi.NewRouter()
	r.Get("/conversation/{sessionId}/ws", handler.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = ws.CloseNow() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return ev
}

func writeEvent(t *testing.T, ws *websocket.Conn, ev domain.Event) {
	t.Helper()
	data, _ := json.Marshal(ev)
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func TestWebSocketMessageRoundTrip(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	sessions := &fakeSessions{hub: hub, known: map[string]bool{"s1": true}}
	srv := newWSServer(t, sessions, hub)
	ws := dial(t, srv, "/conversation/s1/ws")

	writeEvent(t, ws, domain.Event{Type: domain.EventPing})
	if ev := readEvent(t, ws); ev.Type != domain.EventPong {
		t.Fatalf("got %s, want pong", ev.Type)
	}

	writeEvent(t, ws, domain.Event{Type: domain.EventMessage, Content: "hello"})
	resp := readEvent(t, ws)
	if resp.Type != domain.EventResponse || resp.Data == nil || resp.Data.Content != "echo: hello" || resp.Seq != 1 {
		t.Fatalf("response frame = %+v", resp)
	}
	// The update may coalesce with nothing; it must follow the response.
	upd := readEvent(t, ws)
	if upd.Type != domain.EventDocumentUpdate || upd.Seq != 2 {
		t.Fatalf("update frame = %+v", upd)
	}
}

func TestWebSocketBusyBecomesErrorFrame(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	sessions := &fakeSessions{hub: hub, known: map[string]bool{"s1": true}, busy: true}
	srv := newWSServer(t, sessions, hub)
	ws := dial(t, srv, "/conversation/s1/ws")

	writeEvent(t, ws, domain.Event{Type: domain.EventMessage, Content: "hello"})
	ev := readEvent(t, ws)
	if ev.Type != domain.EventError || ev.Message != "busy" {
		t.Fatalf("frame = %+v, want busy error", ev)
	}
}

func TestWebSocketRejectsLaterMessageWhileTurnRuns(t *testing.T) {
	t.Parallel()
	for i := range 20 {
		hub := NewHub(10, nil)
		sessions := &fakeSessions{hub: hub, known: map[string]bool{"s1": true}, delay: 50 * time.Millisecond}
		srv := newWSServer(t, sessions, hub)
		ws := dial(t, srv, "/conversation/s1/ws")

		writeEvent(t, ws, domain.Event{Type: domain.EventMessage, Content: "first"})
		writeEvent(t, ws, domain.Event{Type: domain.EventMessage, Content: "second"})

		var busy, answered []string
		for range 3 {
			ev := readEvent(t, ws)
			switch ev.Type {
			case domain.EventError:
				busy = append(busy, ev.Message)
			case domain.EventResponse:
				answered = append(answered, ev.Data.Content)
			}
		}
		if len(answered) != 1 || answered[0] != "echo: first" {
			t.Fatalf("run %d: answered = %v, want only the first message", i, answered)
		}
		if len(busy) != 1 || busy[0] != "busy" {
			t.Fatalf("run %d: errors = %v, want one busy", i, busy)
		}
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}
}

func TestWebSocketFramesCountAsActivity(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	sessions := &fakeSessions{hub: hub, known: map[string]bool{"s1": true}}
	srv := newWSServer(t, sessions, hub)
	ws := dial(t, srv, "/conversation/s1/ws")

	writeEvent(t, ws, domain.Event{Type: domain.EventPing})
	readEvent(t, ws)
	writeEvent(t, ws, domain.Event{Type: domain.EventPong})
	writeEvent(t, ws, domain.Event{Type: domain.EventPing})
	readEvent(t, ws)

	if got := sessions.touches(); got != 3 {
		t.Fatalf("touches = %d, want 3", got)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	sessions := &fakeSessions{hub: hub, known: map[string]bool{}}
	srv := newWSServer(t, sessions, hub)
	ws := dial(t, srv, "/conversation/missing/ws")

	ev := readEvent(t, ws)
	if ev.Type != domain.EventError || ev.Message != "session not found" {
		t.Fatalf("frame = %+v", ev)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := ws.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("close err = %v, want policy violation", err)
	}
}

func TestWebSocketReconnectReplaysMissedEvents(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	sessions := &fakeSessions{hub: hub, known: map[string]bool{"s1": true}}
	srv := newWSServer(t, sessions, hub)

	// Events published while no client was connected.
	hub.Publish("s1", domain.Event{Type: domain.EventResponse, Data: &domain.AgentResponse{Content: "one"}})
	hub.Publish("s1", domain.Event{Type: domain.EventResponse, Data: &domain.AgentResponse{Content: "two"}})

	ws := dial(t, srv, "/conversation/s1/ws?last_seq=1")
	ev := readEvent(t, ws)
	if ev.Seq != 2 || ev.Data == nil || ev.Data.Content != "two" {
		t.Fatalf("replayed = %+v, want seq 2", ev)
	}
}

func TestWebSocketDisconnectSchedulesEnd(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	sessions := &fakeSessions{hub: hub, known: map[string]bool{"s1": true}}
	srv := newWSServer(t, sessions, hub)

	ws := dial(t, srv, "/conversation/s1/ws")
	writeEvent(t, ws, domain.Event{Type: domain.EventPing})
	readEvent(t, ws)
	_ = ws.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := sessions.endLaterCalls(); len(calls) == 1 && calls[0] == "s1" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("EndLater calls = %v", sessions.endLaterCalls())
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrBusy, "busy"},
		{session.ErrSessionNotFound, "session not found"},
		{session.ErrSessionEnded, "session not found"},
		{errors.New("boom"), "internal error"},
	}
	for _, tt := range tests {
		if got := errorMessage(tt.err); got != tt.want {
			t.Errorf("errorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
