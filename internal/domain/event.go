package domain

import "strconv"

// EventType names a server-to-client frame.
type EventType string

// Frame types exchanged over the real-time channel.
const (
	EventResponse       EventType = "response"
	EventDocumentUpdate EventType = "document_update"
	EventError          EventType = "error"
	EventPing           EventType = "ping"
	EventPong           EventType = "pong"
	EventMessage        EventType = "message"
)

// Event is one frame on the real-time channel. Seq is assigned per session
// by the hub when the event is published. Turn is the Key of the response a
// response or document_update event belongs to.
type Event struct {
	Type    EventType      `json:"type"`
	Seq     uint64         `json:"seq,omitempty"`
	Turn    string         `json:"turn,omitempty"`
	Data    *AgentResponse `json:"data,omitempty"`
	Updates map[string]any `json:"updates,omitempty"`
	Message string         `json:"message,omitempty"`
	Content string         `json:"content,omitempty"`
}

// Key identifies a response across transports: the same turn delivered
// over HTTP and replayed over the real-time channel has the same key.
func (r AgentResponse) Key() string {
	return string(r.AgentType) + "@" + strconv.FormatInt(r.Timestamp.UnixNano(), 10)
}

// Publisher delivers events to whoever is attached to a session.
type Publisher interface {
	Publish(sessionID string, ev Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, Event) {}
