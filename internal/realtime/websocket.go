package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/identity"
	"github.com/ashureev/clario/internal/session"
)

// Sessions is the part of the session manager the channel drives.
type Sessions interface {
	Attach(sessionID string) (session.Snapshot, error)
	Turn(ctx context.Context, sessionID, content string) (domain.AgentResponse, error)
	EndLater(sessionID string, grace time.Duration)
	Touch(sessionID string)
}

// Options tunes the WebSocket handler.
type Options struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReconnectGrace time.Duration
	OutboxSize     int
	AllowedOrigin  string
	IsDev          bool
}

// WebSocketHandler serves GET /conversation/{sessionId}/ws.
type WebSocketHandler struct {
	sessions Sessions
	hub      *Hub
	opts     Options
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sessions Sessions, hub *Hub, opts Options, logger *slog.Logger) *WebSocketHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{sessions: sessions, hub: hub, opts: opts, logger: logger}
}

// conn is one accepted WebSocket plus its outbox.
type conn struct {
	ws           *websocket.Conn
	out          *Outbox
	writeTimeout time.Duration
	dropOnce     sync.Once
	dropped      chan string

	// turning is set from the moment a message is accepted until its turn
	// returns, so busy is decided in arrival order.
	turning atomic.Bool
}

func newConn(ws *websocket.Conn, outboxSize int, writeTimeout time.Duration) *conn {
	return &conn{
		ws:           ws,
		out:          NewOutbox(outboxSize),
		writeTimeout: writeTimeout,
		dropped:      make(chan string, 1),
	}
}

// Push implements Sink.
func (c *conn) Push(ev domain.Event) bool { return c.out.Push(ev) }

// Drop implements Sink.
func (c *conn) Drop(reason string) {
	c.dropOnce.Do(func() {
		c.dropped <- reason
		c.out.Close()
	})
}

// writeLoop is the only writer on the socket.
func (c *conn) writeLoop(ctx context.Context) error {
	for {
		ev, ok := c.out.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := c.writeJSON(ctx, ev); err != nil {
			return err
		}
	}
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	clientID := identity.ClientIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "client_id", clientID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}

	c := newConn(ws, h.opts.OutboxSize, h.opts.WriteTimeout)

	if _, err := h.sessions.Attach(sessionID); err != nil {
		_ = c.writeJSON(r.Context(), domain.Event{Type: domain.EventError, Message: errorMessage(err)})
		_ = ws.Close(websocket.StatusPolicyViolation, "session not found")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.hub.Attach(sessionID, c, lastSeq(r))

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		defer cancel()
		if err := c.writeLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Debug("WebSocket write loop ended", "error", err, "session_id", sessionID)
		}
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, c, sessionID)
	}()

	go func() {
		defer wg.Done()
		h.keepalive(ctx, c)
	}()

	closeReason := "connection closed"
	select {
	case <-ctx.Done():
	case closeReason = <-c.dropped:
		cancel()
	}
	wg.Wait()
	c.Drop(closeReason)

	if h.hub.Detach(sessionID, c) {
		// Nobody took over the session; give the client a chance to come back.
		h.sessions.EndLater(sessionID, h.opts.ReconnectGrace)
	}
	if err := ws.Close(websocket.StatusNormalClosure, closeReason); err != nil {
		h.logger.Debug("Failed to close websocket", "error", err, "session_id", sessionID)
	}
	h.logger.Info("WebSocket connection ended", "session_id", sessionID, "reason", closeReason)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, c *conn, sessionID string) {
	for {
		_, message, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg domain.Event
		if err := json.Unmarshal(message, &msg); err != nil {
			c.Push(domain.Event{Type: domain.EventError, Message: "invalid message"})
			continue
		}
		h.sessions.Touch(sessionID)

		switch msg.Type {
		case domain.EventMessage:
			if msg.Content == "" {
				c.Push(domain.Event{Type: domain.EventError, Message: "content is required"})
				continue
			}
			if !c.turning.CompareAndSwap(false, true) {
				c.Push(domain.Event{Type: domain.EventError, Message: "busy"})
				continue
			}
			// The turn outlives this connection; its result reaches the
			// client through the hub, possibly after a reconnect.
			go func(content string) {
				defer c.turning.Store(false)
				h.runTurn(context.WithoutCancel(ctx), c, sessionID, content)
			}(msg.Content)
		case domain.EventPing:
			c.Push(domain.Event{Type: domain.EventPong})
		case domain.EventPong:
		default:
			h.logger.Debug("Ignoring unknown WebSocket message", "type", msg.Type, "session_id", sessionID)
		}
	}
}

func (h *WebSocketHandler) runTurn(ctx context.Context, c *conn, sessionID, content string) {
	if _, err := h.sessions.Turn(ctx, sessionID, content); err != nil {
		h.logger.Info("WebSocket turn rejected", "session_id", sessionID, "error", err)
		c.Push(domain.Event{Type: domain.EventError, Message: errorMessage(err)})
	}
}

func (h *WebSocketHandler) keepalive(ctx context.Context, c *conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Push(domain.Event{Type: domain.EventPing})
		case <-ctx.Done():
			return
		}
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "busy"
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionEnded):
		return "session not found"
	default:
		return "internal error"
	}
}

// lastSeq reads ?last_seq; -1 when absent or malformed.
func lastSeq(r *http.Request) int64 {
	v := r.URL.Query().Get("last_seq")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
