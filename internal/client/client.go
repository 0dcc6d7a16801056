package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/identity"
)

var (
	// ErrNoSession is returned before Start has succeeded.
	ErrNoSession = errors.New("no active session")
	// ErrReconnectExhausted is returned by Run once the connection could
	// not be re-established.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrSessionGone is returned by Run when the server no longer knows
	// the session.
	ErrSessionGone = errors.New("session not found")
)

// ConnectionLostMessage is shown once reconnects are exhausted.
const ConnectionLostMessage = "Connection lost. Messages will be sent over HTTP."

// Config configures a Client.
type Config struct {
	BaseURL              string
	ClientID             string
	HTTPClient           *http.Client
	MaxReconnectAttempts int
	Logger               *slog.Logger
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client drives one conversation against a server.
type Client struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	state  *State
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	projectID string
	ws        *websocket.Conn
	connState ConnState
	onState   func(ConnState)
}

// New creates a client. A client id is generated when none is configured.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.BaseURL)
	}
	if cfg.ClientID == "" {
		id, err := identity.NewClientID()
		if err != nil {
			return nil, err
		}
		cfg.ClientID = id
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		base:   base,
		http:   cfg.HTTPClient,
		state:  NewState(),
		logger: cfg.Logger,
	}, nil
}

// State returns the conversation state.
func (c *Client) State() *State { return c.state }

// ClientID returns the identity sent with every request.
func (c *Client) ClientID() string { return c.cfg.ClientID }

// SessionID returns the active session id, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ProjectID returns the project of the active session.
func (c *Client) ProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

// ConnState returns the current connection state.
func (c *Client) ConnState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// OnStateChange registers fn to be called on every connection transition.
func (c *Client) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Client) setConnState(to ConnState) {
	c.mu.Lock()
	from := c.connState
	if from == to || !transition(from, to) {
		c.mu.Unlock()
		return
	}
	c.connState = to
	fn := c.onState
	c.mu.Unlock()

	c.logger.Debug("connection state changed", "from", from, "to", to)
	if fn != nil {
		fn(to)
	}
}

// StartResult is the answer to Start.
type StartResult struct {
	SessionID        string          `json:"sessionId"`
	ProjectID        string          `json:"projectId"`
	DocumentAnalysis domain.Analysis `json:"documentAnalysis"`
	domain.AgentResponse
}

// Start opens a conversation. The opening message is added to the state.
func (c *Client) Start(ctx context.Context, projectID, initialMessage string) (StartResult, error) {
	var res StartResult
	body := map[string]string{"projectId": projectID}
	if initialMessage != "" {
		body["initialMessage"] = initialMessage
		c.state.AddUserMessage(initialMessage)
	}
	if err := c.do(ctx, http.MethodPost, "/conversation/start", body, &res); err != nil {
		if initialMessage != "" {
			c.state.Fail(failureText(err))
		}
		return res, err
	}

	c.mu.Lock()
	c.sessionID = res.SessionID
	c.projectID = res.ProjectID
	c.mu.Unlock()

	c.state.ApplyResponse(res.AgentResponse)
	return res, nil
}

// History is a session as the server holds it.
type History struct {
	SessionID           string                `json:"sessionId"`
	ProjectID           string                `json:"projectId"`
	ConversationHistory []domain.HistoryEntry `json:"conversationHistory"`
	ProjectSpec         domain.Document       `json:"projectSpec"`
	CreatedAt           time.Time             `json:"createdAt"`
	Opening             domain.AgentResponse  `json:"opening"`
	DocumentAnalysis    domain.Analysis       `json:"documentAnalysis"`
}

// History fetches the session history.
func (c *Client) History(ctx context.Context) (History, error) {
	var h History
	id := c.SessionID()
	if id == "" {
		return h, ErrNoSession
	}
	err := c.do(ctx, http.MethodGet, "/conversation/"+url.PathEscape(id)+"/history", nil, &h)
	return h, err
}

// Resync replaces the local state with the server's history.
func (c *Client) Resync(ctx context.Context) error {
	h, err := c.History(ctx)
	if err != nil {
		return err
	}
	c.state.Reset(h.ConversationHistory, h.ProjectSpec)
	return nil
}

// End ends the session on the server and closes the connection.
func (c *Client) End(ctx context.Context) error {
	id := c.SessionID()
	if id == "" {
		return ErrNoSession
	}
	err := c.do(ctx, http.MethodDelete, "/conversation/"+url.PathEscape(id), nil, nil)

	c.mu.Lock()
	ws := c.ws
	c.sessionID = ""
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "conversation ended")
	}
	return err
}

// Send sends a user message. It goes over the WebSocket when connected and
// falls back to the synchronous HTTP endpoint otherwise. Failures end up in
// the state as error messages as well as being returned.
func (c *Client) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	id := c.SessionID()
	if id == "" {
		return ErrNoSession
	}
	c.state.AddUserMessage(content)

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		err := writeEvent(ctx, ws, domain.Event{Type: domain.EventMessage, Content: content})
		if err == nil {
			return nil
		}
		c.logger.Warn("WebSocket send failed, using HTTP", "error", err, "session_id", id)
	}

	var resp domain.AgentResponse
	err := c.do(ctx, http.MethodPost, "/conversation/"+url.PathEscape(id)+"/message",
		map[string]string{"content": content}, &resp)
	if err != nil {
		c.state.Fail(failureText(err))
		return err
	}
	c.state.ApplyResponse(resp)
	return nil
}

func failureText(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusConflict:
			return "Still working on your previous message."
		case http.StatusNotFound:
			return "This conversation has ended."
		case http.StatusTooManyRequests:
			return "Too many messages, slow down a little."
		}
	}
	return "Could not reach the server, please retry."
}

// Run keeps a WebSocket open for the active session until ctx is done, the
// session disappears or reconnects are exhausted.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		if c.SessionID() == "" {
			c.setConnState(Disconnected)
			return ErrNoSession
		}
		c.setConnState(Connecting)
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setConnState(Disconnected)
				return ctx.Err()
			}
			failures++
			c.logger.Warn("WebSocket connect failed", "error", err, "attempt", failures)
			if failures >= c.cfg.MaxReconnectAttempts {
				c.setConnState(Failed)
				c.state.Fail(ConnectionLostMessage)
				return fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
			}
			c.setConnState(Disconnected)
			if !sleep(ctx, Backoff(failures-1)) {
				return ctx.Err()
			}
			continue
		}

		failures = 0
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.setConnState(Connected)

		err = c.readLoop(ctx, ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.CloseNow()
		c.setConnState(Disconnected)

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case websocket.CloseStatus(err) == websocket.StatusPolicyViolation:
			return ErrSessionGone
		case c.SessionID() == "":
			return nil
		}
		c.logger.Info("WebSocket disconnected, reconnecting", "error", err)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := c.wsURL(c.SessionID(), c.state.LastSeq())
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(dctx, u, &websocket.DialOptions{
		HTTPClient: c.http,
		HTTPHeader: http.Header{identity.ClientHeaderName: []string{c.cfg.ClientID}},
	})
	return ws, err
}

func (c *Client) wsURL(sessionID string, lastSeq uint64) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/conversation/" + url.PathEscape(sessionID) + "/ws"
	u.RawQuery = url.Values{"last_seq": []string{strconv.FormatUint(lastSeq, 10)}}.Encode()
	return u.String()
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Debug("Ignoring malformed frame", "error", err)
			continue
		}
		switch ev.Type {
		case domain.EventPing:
			if err := writeEvent(ctx, ws, domain.Event{Type: domain.EventPong}); err != nil {
				return err
			}
		case domain.EventPong:
		default:
			c.state.Apply(ev)
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.ClientHeaderName, c.cfg.ClientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
