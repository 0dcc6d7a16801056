package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/session"
)

// Conversations is the session manager as the MCP tools use it.
type Conversations interface {
	Start(ctx context.Context, req session.StartRequest) (session.StartResult, error)
	Turn(ctx context.Context, sessionID, content string) (domain.AgentResponse, error)
	Get(sessionID string) (session.Snapshot, error)
	End(sessionID string) error
}

// StartTool handles conversation_start.
type StartTool struct {
	sessions Conversations
	clientID string
}

// NewStartTool creates a StartTool. Sessions are owned by clientID.
func NewStartTool(sessions Conversations, clientID string) *StartTool {
	return &StartTool{sessions: sessions, clientID: clientID}
}

// Definition returns the MCP tool definition for conversation_start.
func (t *StartTool) Definition() mcp.Tool {
	return mcp.NewTool("conversation_start",
		mcp.WithDescription(
			"Start (or resume) a requirements conversation on a project. "+
				"Returns the session id, the opening message and what the document still lacks.",
		),
		mcp.WithString("project_id",
			mcp.Description("Project to work on. A new project is created when omitted or unknown."),
		),
		mcp.WithString("message",
			mcp.Description("Optional first user message"),
		),
	)
}

// Handle processes the conversation_start tool call.
func (t *StartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.sessions.Start(ctx, session.StartRequest{
		ClientID:       t.clientID,
		ProjectID:      strings.TrimSpace(req.GetString("project_id", "")),
		InitialMessage: strings.TrimSpace(req.GetString("message", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start conversation: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"sessionId":        res.Session.SessionID,
		"projectId":        res.Session.ProjectID,
		"response":         res.Response,
		"documentAnalysis": res.Session.DocumentAnalysis,
	})
}

// MessageTool handles conversation_message.
type MessageTool struct {
	sessions Conversations
}

// NewMessageTool creates a MessageTool.
func NewMessageTool(sessions Conversations) *MessageTool {
	return &MessageTool{sessions: sessions}
}

// Definition returns the MCP tool definition for conversation_message.
func (t *MessageTool) Definition() mcp.Tool {
	return mcp.NewTool("conversation_message",
		mcp.WithDescription("Send one user message and get the agent's reply."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session returned by conversation_start"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("What the user says"),
		),
	)
}

// Handle processes the conversation_message tool call.
func (t *MessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}
	content := strings.TrimSpace(req.GetString("content", ""))
	if content == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}

	resp, err := t.sessions.Turn(ctx, id, content)
	if err != nil {
		return sessionError(id, err), nil
	}
	return jsonResult(resp)
}

// HistoryTool handles conversation_history.
type HistoryTool struct {
	sessions Conversations
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(sessions Conversations) *HistoryTool {
	return &HistoryTool{sessions: sessions}
}

// Definition returns the MCP tool definition for conversation_history.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("conversation_history",
		mcp.WithDescription("Return the conversation so far with the current focus and document analysis."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session returned by conversation_start"),
		),
	)
}

// Handle processes the conversation_history tool call.
func (t *HistoryTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}
	snap, err := t.sessions.Get(id)
	if err != nil {
		return sessionError(id, err), nil
	}
	return jsonResult(snap)
}

// EndTool handles conversation_end.
type EndTool struct {
	sessions Conversations
}

// NewEndTool creates an EndTool.
func NewEndTool(sessions Conversations) *EndTool {
	return &EndTool{sessions: sessions}
}

// Definition returns the MCP tool definition for conversation_end.
func (t *EndTool) Definition() mcp.Tool {
	return mcp.NewTool("conversation_end",
		mcp.WithDescription("End a conversation. The project document is kept."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to end"),
		),
	)
}

// Handle processes the conversation_end tool call.
func (t *EndTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}
	if err := t.sessions.End(id); err != nil {
		return sessionError(id, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation %q ended", id)), nil
}

func sessionError(id string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, session.ErrBusy):
		return mcp.NewToolResultError("busy: the previous message is still being processed")
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionEnded):
		return mcp.NewToolResultError(fmt.Sprintf("session %q not found", id))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("conversation failed: %v", err))
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
