// Package realtime carries conversation events to connected clients over
// WebSocket and keeps a short per-session backlog for reconnects.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/ashureev/clario/internal/domain"
)

// Sink receives events for one attached connection.
type Sink interface {
	Push(ev domain.Event) bool
	// Drop is called when the sink is replaced or can no longer keep up.
	Drop(reason string)
}

type channel struct {
	seq     uint64
	backlog []domain.Event
	sink    Sink
}

// Hub numbers state events per session, remembers the most recent ones and
// forwards them to the session's connection, if any. One connection per
// session: attaching a new one replaces the old.
type Hub struct {
	mu          sync.Mutex
	channels    map[string]*channel
	backlogSize int
	logger      *slog.Logger
}

// NewHub returns a Hub keeping backlogSize events per session.
func NewHub(backlogSize int, logger *slog.Logger) *Hub {
	if backlogSize <= 0 {
		backlogSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		channels:    make(map[string]*channel),
		backlogSize: backlogSize,
		logger:      logger,
	}
}

func (h *Hub) channelLocked(sessionID string) *channel {
	ch, ok := h.channels[sessionID]
	if !ok {
		ch = &channel{}
		h.channels[sessionID] = ch
	}
	return ch
}

// Publish implements domain.Publisher.
func (h *Hub) Publish(sessionID string, ev domain.Event) {
	h.mu.Lock()
	ch := h.channelLocked(sessionID)
	ch.seq++
	ev.Seq = ch.seq
	ch.backlog = append(ch.backlog, ev)
	if over := len(ch.backlog) - h.backlogSize; over > 0 {
		ch.backlog = append([]domain.Event(nil), ch.backlog[over:]...)
	}
	sink := ch.sink
	delivered := sink == nil || sink.Push(ev)
	h.mu.Unlock()

	if !delivered {
		h.logger.Warn("connection fell behind, dropping it", "session_id", sessionID, "seq", ev.Seq)
		sink.Drop("outbox full")
	}
}

// Attach makes sink the session's connection and replays backlog events
// newer than afterSeq. A negative afterSeq replays nothing.
func (h *Hub) Attach(sessionID string, sink Sink, afterSeq int64) {
	h.mu.Lock()
	ch := h.channelLocked(sessionID)
	old := ch.sink
	ch.sink = sink
	replayed := 0
	if afterSeq >= 0 {
		for _, ev := range ch.backlog {
			if ev.Seq > uint64(afterSeq) {
				sink.Push(ev)
				replayed++
			}
		}
	}
	h.mu.Unlock()

	if old != nil && old != sink {
		old.Drop("session replaced")
	}
	h.logger.Info("connection attached", "session_id", sessionID, "replayed", replayed)
}

// Detach removes sink if it is still the session's connection and reports
// whether it was.
func (h *Hub) Detach(sessionID string, sink Sink) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[sessionID]
	if !ok || ch.sink != sink {
		return false
	}
	ch.sink = nil
	return true
}

// Forget drops all state for a session and disconnects its connection.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	ch, ok := h.channels[sessionID]
	delete(h.channels, sessionID)
	h.mu.Unlock()

	if ok && ch.sink != nil {
		ch.sink.Drop("session ended")
	}
}

// Seq returns the last sequence number assigned for a session.
func (h *Hub) Seq(sessionID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[sessionID]; ok {
		return ch.seq
	}
	return 0
}

var _ domain.Publisher = (*Hub)(nil)
