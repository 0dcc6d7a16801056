// Package mcpserver exposes conversations as MCP tools so an editor agent
// can drive requirement gathering without the web client.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

const instructions = `Clario helps turn a vague product idea into a structured project document.
Call conversation_start first, then relay the user's words with conversation_message.
Document updates proposed by the agents are applied automatically.`

// New creates the MCP server with every conversation tool registered.
func New(sessions Conversations, clientID string) *server.MCPServer {
	s := server.NewMCPServer(
		"clario",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	startTool := NewStartTool(sessions, clientID)
	s.AddTool(startTool.Definition(), startTool.Handle)

	messageTool := NewMessageTool(sessions)
	s.AddTool(messageTool.Definition(), messageTool.Handle)

	historyTool := NewHistoryTool(sessions)
	s.AddTool(historyTool.Definition(), historyTool.Handle)

	endTool := NewEndTool(sessions)
	s.AddTool(endTool.Definition(), endTool.Handle)

	return s
}
