package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/clario/internal/agent"
	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/identity"
	"github.com/ashureev/clario/internal/session"
	"github.com/ashureev/clario/internal/store"
)

// Conversations is the session manager as seen by the HTTP layer.
type Conversations interface {
	Start(ctx context.Context, req session.StartRequest) (session.StartResult, error)
	Turn(ctx context.Context, sessionID, content string) (domain.AgentResponse, error)
	Get(sessionID string) (session.Snapshot, error)
	End(sessionID string) error
	ListFor(clientID string) []session.Snapshot
}

// AgentLister lists the available agents.
type AgentLister interface {
	Agents() []agent.Info
}

// DocumentReader loads project documents.
type DocumentReader interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
}

// ConversationHandler serves the /conversation routes.
type ConversationHandler struct {
	sessions    Conversations
	agents      AgentLister
	docs        DocumentReader
	limiter     *RateLimiter
	maxBodySize int64
	ws          http.Handler
}

// NewConversationHandler creates the conversation handler. limiter and ws
// may be nil.
func NewConversationHandler(sessions Conversations, agents AgentLister, docs DocumentReader, limiter *RateLimiter, maxBodySize int64, ws http.Handler) *ConversationHandler {
	return &ConversationHandler{
		sessions:    sessions,
		agents:      agents,
		docs:        docs,
		limiter:     limiter,
		maxBodySize: maxBodySize,
		ws:          ws,
	}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conversation", func(r chi.Router) {
		r.Get("/agents", h.Agents)
		r.Get("/sessions", h.Sessions)
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/start", h.Start)
			r.Post("/{sessionId}/message", h.Message)
		})
		r.Get("/{sessionId}/history", h.History)
		r.Delete("/{sessionId}", h.End)
		if h.ws != nil {
			r.Get("/{sessionId}/ws", h.ws.ServeHTTP)
		}
	})
}

type startRequest struct {
	ProjectID      string `json:"projectId"`
	InitialMessage string `json:"initialMessage"`
}

type messageRequest struct {
	Content string `json:"content"`
}

// turnResponse is an AgentResponse plus the session it belongs to.
type turnResponse struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId,omitempty"`
	domain.AgentResponse
	DocumentAnalysis *domain.Analysis `json:"documentAnalysis,omitempty"`
}

type historyResponse struct {
	SessionID           string                     `json:"sessionId"`
	ProjectID           string                     `json:"projectId"`
	ConversationHistory []domain.HistoryEntry      `json:"conversationHistory"`
	ProjectSpec         domain.Document            `json:"projectSpec"`
	CreatedAt           time.Time                  `json:"createdAt"`
	Opening             domain.AgentResponse       `json:"opening"`
	CurrentContext      domain.ConversationContext `json:"currentContext"`
	DocumentAnalysis    domain.Analysis            `json:"documentAnalysis"`
}

// Start opens a conversation on a project.
func (h *ConversationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, h.maxBodySize, &req) {
		return
	}
	clientID := identity.ClientIDFromContext(r.Context())

	res, err := h.sessions.Start(r.Context(), session.StartRequest{
		ClientID:       clientID,
		ProjectID:      strings.TrimSpace(req.ProjectID),
		InitialMessage: strings.TrimSpace(req.InitialMessage),
	})
	if err != nil {
		slog.Error("Failed to start conversation", "error", err, "client_id", clientID, "project_id", req.ProjectID)
		Error(w, http.StatusInternalServerError, "failed to start conversation")
		return
	}

	analysis := res.Session.DocumentAnalysis
	JSON(w, http.StatusOK, turnResponse{
		SessionID:        res.Session.SessionID,
		ProjectID:        res.Session.ProjectID,
		AgentResponse:    res.Response,
		DocumentAnalysis: &analysis,
	})
}

// Message runs one turn. This is the synchronous fallback for the
// WebSocket channel.
func (h *ConversationHandler) Message(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	var req messageRequest
	if !decodeBody(w, r, h.maxBodySize, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	resp, err := h.sessions.Turn(r.Context(), sessionID, content)
	if err != nil {
		writeSessionError(w, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, turnResponse{SessionID: sessionID, AgentResponse: resp})
}

// History returns the session state together with the current document.
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	snap, err := h.sessions.Get(sessionID)
	if err != nil {
		writeSessionError(w, sessionID, err)
		return
	}

	spec := domain.Document{}
	if p, err := h.docs.GetProject(r.Context(), snap.ProjectID); err == nil {
		if doc, err := domain.ParseDocument(p.Raw); err == nil {
			spec = doc
		}
	} else if !errors.Is(err, store.ErrProjectNotFound) {
		slog.Warn("Failed to load project for history", "error", err, "project_id", snap.ProjectID)
	}

	JSON(w, http.StatusOK, historyResponse{
		SessionID:           snap.SessionID,
		ProjectID:           snap.ProjectID,
		ConversationHistory: snap.ConversationHistory,
		ProjectSpec:         spec,
		CreatedAt:           snap.CreatedAt,
		Opening:             snap.Opening,
		CurrentContext:      snap.CurrentContext,
		DocumentAnalysis:    snap.DocumentAnalysis,
	})
}

// End ends a session.
func (h *ConversationHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if err := h.sessions.End(sessionID); err != nil {
		writeSessionError(w, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"message":   "conversation ended",
		"sessionId": sessionID,
	})
}

// Agents lists the available agents.
func (h *ConversationHandler) Agents(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"agents": h.agents.Agents()})
}

// Sessions lists the caller's active sessions.
func (h *ConversationHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	type item struct {
		SessionID string    `json:"sessionId"`
		ProjectID string    `json:"projectId"`
		CreatedAt time.Time `json:"createdAt"`
		Turns     int       `json:"turns"`
	}
	items := []item{}
	for _, s := range h.sessions.ListFor(clientID) {
		items = append(items, item{
			SessionID: s.SessionID,
			ProjectID: s.ProjectID,
			CreatedAt: s.CreatedAt,
			Turns:     len(s.ConversationHistory) / 2,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func writeSessionError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionEnded):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrBusy):
		Error(w, http.StatusConflict, "busy")
	default:
		slog.Error("Conversation request failed", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
