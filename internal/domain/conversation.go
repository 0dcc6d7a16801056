package domain

import "time"

// AgentType names a conversational agent variant.
type AgentType string

// Agent variants.
const (
	AgentPromoter     AgentType = "promoter"
	AgentScopePlanner AgentType = "scope_planner"
	AgentReviewer     AgentType = "reviewer"
	AgentRecorder     AgentType = "recorder"
	AgentSystem       AgentType = "system"
)

// ActionType is what the user is trying to do in a turn.
type ActionType string

// Action types.
const (
	ActionExplore ActionType = "explore"
	ActionClarify ActionType = "clarify"
	ActionReview  ActionType = "review"
	ActionRecord  ActionType = "record"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionExplore, ActionClarify, ActionReview, ActionRecord:
		return true
	}
	return false
}

// Focus is the document area a turn is about.
type Focus string

// Focus areas.
const (
	FocusCoreIdea  Focus = "core_idea"
	FocusScope     Focus = "scope"
	FocusScenarios Focus = "scenarios"
	FocusGeneral   Focus = "general"
)

// Valid reports whether f is a known focus area.
func (f Focus) Valid() bool {
	switch f {
	case FocusCoreIdea, FocusScope, FocusScenarios, FocusGeneral:
		return true
	}
	return false
}

// Role is the author of a history entry.
type Role string

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UserIntent is the classifier's reading of one user input.
type UserIntent struct {
	ActionType ActionType     `json:"actionType"`
	FocusArea  Focus          `json:"focusArea"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// HistoryEntry is one message in a session's conversation history.
type HistoryEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AgentType AgentType `json:"agentType,omitempty"`
	IsError   bool      `json:"isError,omitempty"`
}

// AgentContext is everything an agent sees for one turn. ProjectSpec is a
// private clone; agents never write to the live document.
type AgentContext struct {
	ProjectSpec         Document
	ConversationHistory []HistoryEntry
	CurrentFocus        Focus
	UserInput           string
	SessionID           string
	Intent              UserIntent
	// Analysis seeds opening messages; nil on ordinary turns.
	Analysis *Analysis
}

// AgentResponse is an agent's reply plus proposed document changes.
type AgentResponse struct {
	AgentType       AgentType      `json:"agentType"`
	Content         string         `json:"content"`
	Suggestions     []string       `json:"suggestions"`
	DocumentUpdates map[string]any `json:"documentUpdates"`
	NextAction      string         `json:"nextAction,omitempty"`
	Confidence      float64        `json:"confidence"`
	IsError         bool           `json:"isError,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// ConversationContext is the derived focus plus still-open questions.
type ConversationContext struct {
	Focus         Focus    `json:"focus"`
	OpenQuestions []string `json:"openQuestions"`
}
