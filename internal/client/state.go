// Package client is the conversation client: local message state, a
// WebSocket connection that reconnects on its own, and the synchronous HTTP
// fallback used while it is down.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/clario/internal/domain"
)

// Message is one rendered chat message. Messages are never changed after
// they are created.
type Message struct {
	ID          string
	Role        domain.Role
	Content     string
	AgentType   domain.AgentType
	Suggestions []string
	IsError     bool
	Timestamp   time.Time
}

// State is the client's view of a conversation. It is safe for concurrent
// use; Changed fires after every mutation.
type State struct {
	mu       sync.Mutex
	messages []Message
	pending  bool
	errMsg   string
	preview  domain.Document
	lastSeq  uint64
	seen     map[string]struct{}
	merged   map[string]struct{} // turns whose document updates are in preview
	changed  chan struct{}
	now      func() time.Time
}

// NewState returns an empty conversation state.
func NewState() *State {
	return &State{
		preview: domain.Document{},
		seen:    make(map[string]struct{}),
		merged:  make(map[string]struct{}),
		changed: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Changed is signalled, coalesced, whenever the state changes.
func (s *State) Changed() <-chan struct{} {
	return s.changed
}

func (s *State) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// AddUserMessage appends an optimistic user message and marks a reply as
// pending.
func (s *State) AddUserMessage(content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	s.messages = append(s.messages, m)
	s.pending = true
	s.errMsg = ""
	s.notify()
	return m
}

// Apply folds a server event into the state. It reports whether the event
// changed anything; replayed events and frames that carry no state are
// ignored.
func (s *State) Apply(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Seq != 0 {
		if ev.Seq <= s.lastSeq {
			return false
		}
		s.lastSeq = ev.Seq
	}

	switch ev.Type {
	case domain.EventResponse:
		if ev.Data == nil {
			return false
		}
		s.pending = false
		s.appendResponseLocked(*ev.Data)
	case domain.EventDocumentUpdate:
		if ev.Turn != "" {
			if _, ok := s.merged[ev.Turn]; ok {
				return false
			}
			s.merged[ev.Turn] = struct{}{}
		}
		s.preview.Apply(ev.Updates, s.now())
	case domain.EventError:
		s.pending = false
		s.messages = append(s.messages, Message{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			Content:   ev.Message,
			AgentType: domain.AgentSystem,
			IsError:   true,
			Timestamp: s.now().UTC(),
		})
	default:
		return false
	}
	s.notify()
	return true
}

// ApplyResponse folds a response received over HTTP. Its document updates
// are merged once: the same turn's document_update replayed later is
// skipped.
func (s *State) ApplyResponse(resp domain.AgentResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	s.appendResponseLocked(resp)
	key := resp.Key()
	if _, ok := s.merged[key]; !ok && len(resp.DocumentUpdates) > 0 {
		s.merged[key] = struct{}{}
		s.preview.Apply(resp.DocumentUpdates, s.now())
	}
	s.notify()
}

// appendResponseLocked skips responses already shown, e.g. one received
// over the HTTP fallback and then replayed on reconnect.
func (s *State) appendResponseLocked(resp domain.AgentResponse) {
	key := resp.Key()
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	ts := resp.Timestamp
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	s.messages = append(s.messages, Message{
		ID:          uuid.NewString(),
		Role:        domain.RoleAssistant,
		Content:     resp.Content,
		AgentType:   resp.AgentType,
		Suggestions: append([]string(nil), resp.Suggestions...),
		IsError:     resp.IsError,
		Timestamp:   ts,
	})
}

// Fail records a transport failure the user has to see. The pending flag is
// cleared since no reply is coming.
func (s *State) Fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	s.errMsg = msg
	s.messages = append(s.messages, Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   msg,
		AgentType: domain.AgentSystem,
		IsError:   true,
		Timestamp: s.now().UTC(),
	})
	s.notify()
}

// Reset replaces the state with a session's history, as loaded on resume.
func (s *State) Reset(history []domain.HistoryEntry, doc domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
	s.seen = make(map[string]struct{})
	s.merged = make(map[string]struct{})
	for _, h := range history {
		s.messages = append(s.messages, Message{
			ID:        uuid.NewString(),
			Role:      h.Role,
			Content:   h.Content,
			AgentType: h.AgentType,
			IsError:   h.IsError,
			Timestamp: h.Timestamp,
		})
		if h.Role == domain.RoleAssistant {
			// doc already reflects every recorded turn.
			key := domain.AgentResponse{AgentType: h.AgentType, Timestamp: h.Timestamp}.Key()
			s.seen[key] = struct{}{}
			s.merged[key] = struct{}{}
		}
	}
	s.preview = doc.Clone()
	s.pending = false
	s.errMsg = ""
	s.notify()
}

// Messages returns the messages in arrival order.
func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Pending reports whether a reply is outstanding.
func (s *State) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Err returns the last transport failure, or "".
func (s *State) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// LastSeq is the newest event sequence applied.
func (s *State) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Preview returns a copy of the document with every update seen so far.
func (s *State) Preview() domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview.Clone()
}
