// Package orchestrator runs one conversation turn end to end: classify the
// input, pick an agent, invoke it, validate what it proposes and record the
// turn.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/clario/internal/agent"
	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/intent"
)

// ErrorReply is the content of the synthetic response sent when an agent
// could not produce one.
const ErrorReply = "I hit an error, please retry."

// DegradedOpening is sent when the stored document could not be analyzed.
const DegradedOpening = "I couldn't fully analyze your document, let's start from scratch. What problem are you trying to solve?"

// droppedKeyPenalty scales confidence when a proposal had keys removed.
const droppedKeyPenalty = 0.5

// Transcript is the session-side view the orchestrator works against.
// AppendTurn is the only way conversation history grows.
type Transcript interface {
	SessionID() string
	ProjectID() string
	History() []domain.HistoryEntry
	Focus() domain.Focus
	AppendTurn(user, assistant domain.HistoryEntry, focus domain.Focus) error
}

// Classifier is the intent classifier seen by the orchestrator.
type Classifier interface {
	Classify(ctx context.Context, in intent.Input) domain.UserIntent
}

// Config tunes routing.
type Config struct {
	// IntentThreshold is the confidence below which the previous turn's
	// focus is kept.
	IntentThreshold float64
}

// Orchestrator is safe for concurrent use across sessions.
type Orchestrator struct {
	classifier Classifier
	agents     *agent.Registry
	cfg        Config
	convLog    ConversationLogger
	logger     *slog.Logger
	now        func() time.Time
}

// New wires an Orchestrator. convLog may be nil.
func New(classifier Classifier, agents *agent.Registry, cfg Config, convLog ConversationLogger, logger *slog.Logger) *Orchestrator {
	if convLog == nil {
		convLog = NopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		classifier: classifier,
		agents:     agents,
		cfg:        cfg,
		convLog:    convLog,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessUserInput handles one user turn. The response is always usable;
// the error is non-nil only when the turn could not be recorded, e.g. the
// session ended while the agent was working, and the caller must discard
// the response.
func (o *Orchestrator) ProcessUserInput(ctx context.Context, t Transcript, spec domain.Document, userInput string) (domain.AgentResponse, error) {
	started := o.now().UTC()
	history := t.History()
	prior := t.Focus()

	in := o.classifier.Classify(ctx, intent.Input{UserInput: userInput, History: history, Spec: spec})
	in.FocusArea = StickyFocus(in, prior, o.cfg.IntentThreshold)

	actx := domain.AgentContext{
		ProjectSpec:         spec.Clone(),
		ConversationHistory: history,
		CurrentFocus:        in.FocusArea,
		UserInput:           userInput,
		SessionID:           t.SessionID(),
		Intent:              in,
	}
	selected := o.selectAgent(in, actx)

	resp, err := selected.Process(ctx, actx)
	if err != nil {
		o.logger.Warn("agent failed",
			"session_id", t.SessionID(), "agent", selected.Type(), "error", err)
		resp = o.errorResponse(selected.Type())
	}
	resp = o.validate(t.SessionID(), resp)

	userEntry := domain.HistoryEntry{Role: domain.RoleUser, Content: userInput, Timestamp: started}
	assistantEntry := domain.HistoryEntry{
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		Timestamp: resp.Timestamp,
		AgentType: resp.AgentType,
		IsError:   resp.IsError,
	}
	if err := t.AppendTurn(userEntry, assistantEntry, in.FocusArea); err != nil {
		return resp, err
	}

	o.logTurn(t, in, userInput, resp)
	return resp, nil
}

// Open builds the opening message for a freshly started session from the
// document analysis. It never touches history.
func (o *Orchestrator) Open(ctx context.Context, t Transcript, spec domain.Document, analysis domain.Analysis) domain.AgentResponse {
	focus := domain.FocusGeneral
	if analysis.Missing("core_idea") || analysis.Missing("problem_statement") {
		focus = domain.FocusCoreIdea
	}
	promoter := o.agents.MustGet(domain.AgentPromoter)

	resp, err := promoter.Process(ctx, domain.AgentContext{
		ProjectSpec:  spec.Clone(),
		CurrentFocus: focus,
		SessionID:    t.SessionID(),
		Analysis:     &analysis,
	})
	if err != nil {
		o.logger.Warn("opening message fell back to template", "session_id", t.SessionID(), "error", err)
		content, suggestions := agent.OpeningFallback(analysis)
		resp = domain.AgentResponse{
			AgentType:   domain.AgentPromoter,
			Content:     content,
			Suggestions: suggestions,
			Confidence:  0,
			IsError:     true,
			Timestamp:   o.now().UTC(),
		}
	}
	// Nothing the user said yet, so nothing to write.
	resp.DocumentUpdates = map[string]any{}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}

	o.convLog.Log(ConversationLogEvent{
		SessionID: t.SessionID(),
		ProjectID: t.ProjectID(),
		EventType: "session_opened",
		Direction: "outbound",
		AgentType: string(resp.AgentType),
		Content:   resp.Content,
		IsError:   resp.IsError,
	})
	return resp
}

// Degraded is the opening used when the document could not be analyzed.
func (o *Orchestrator) Degraded() domain.AgentResponse {
	return domain.AgentResponse{
		AgentType:       domain.AgentPromoter,
		Content:         DegradedOpening,
		Suggestions:     []string{"Describe the problem you want to solve"},
		DocumentUpdates: map[string]any{},
		NextAction:      "define_core_problem",
		Confidence:      0,
		IsError:         true,
		Timestamp:       o.now().UTC(),
	}
}

// Agents lists the registered agents.
func (o *Orchestrator) Agents() []agent.Info {
	return o.agents.Infos()
}

// StickyFocus keeps the previous focus when the classifier is unsure.
func StickyFocus(in domain.UserIntent, prior domain.Focus, threshold float64) domain.Focus {
	if in.Confidence >= threshold && in.FocusArea.Valid() {
		return in.FocusArea
	}
	if prior.Valid() {
		return prior
	}
	return domain.FocusGeneral
}

// Chain returns candidate agents in priority order: record, review, scope,
// then the promoter as the catch-all.
func Chain(in domain.UserIntent) []domain.AgentType {
	chain := make([]domain.AgentType, 0, 4)
	switch in.ActionType {
	case domain.ActionRecord:
		chain = append(chain, domain.AgentRecorder)
	case domain.ActionReview:
		chain = append(chain, domain.AgentReviewer)
	}
	if in.FocusArea == domain.FocusScope {
		chain = append(chain, domain.AgentScopePlanner)
	}
	return append(chain, domain.AgentPromoter)
}

func (o *Orchestrator) selectAgent(in domain.UserIntent, actx domain.AgentContext) agent.Agent {
	for _, typ := range Chain(in) {
		a, err := o.agents.Get(typ)
		if err != nil {
			continue
		}
		if a.ShouldHandle(actx) {
			return a
		}
	}
	return o.agents.MustGet(domain.AgentPromoter)
}

func (o *Orchestrator) errorResponse(t domain.AgentType) domain.AgentResponse {
	return domain.AgentResponse{
		AgentType:       t,
		Content:         ErrorReply,
		Suggestions:     []string{},
		DocumentUpdates: map[string]any{},
		Confidence:      0,
		IsError:         true,
		Timestamp:       o.now().UTC(),
	}
}

// validate drops patch keys outside the document schema. Content is never
// changed; confidence is reduced when anything was dropped.
func (o *Orchestrator) validate(sessionID string, resp domain.AgentResponse) domain.AgentResponse {
	kept, dropped := domain.ValidatePatch(resp.DocumentUpdates)
	if len(dropped) > 0 {
		o.logger.Warn("dropped invalid document updates",
			"session_id", sessionID, "agent", resp.AgentType, "keys", strings.Join(dropped, ","))
		resp.Confidence *= droppedKeyPenalty
	}
	resp.DocumentUpdates = kept
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = o.now().UTC()
	}
	return resp
}

func (o *Orchestrator) logTurn(t Transcript, in domain.UserIntent, userInput string, resp domain.AgentResponse) {
	base := ConversationLogEvent{
		SessionID: t.SessionID(),
		ProjectID: t.ProjectID(),
		Focus:     string(in.FocusArea),
		Action:    string(in.ActionType),
	}
	user := base
	user.EventType = "turn_user_message"
	user.Direction = "inbound"
	user.Content = userInput
	o.convLog.Log(user)

	reply := base
	reply.EventType = "turn_agent_response"
	reply.Direction = "outbound"
	reply.AgentType = string(resp.AgentType)
	reply.Content = resp.Content
	reply.Confidence = resp.Confidence
	reply.IsError = resp.IsError
	reply.UpdatedKeys = sortedKeys(resp.DocumentUpdates)
	o.convLog.Log(reply)
}
