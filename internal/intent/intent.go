// Package intent reads what a user is trying to do in one turn.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

// Mode selects how intents are derived.
type Mode string

// Classification modes.
const (
	ModeLLM   Mode = "llm"
	ModeRules Mode = "rules"
)

// ruleConfidence is what the keyword table reports for its guesses.
const ruleConfidence = 0.6

// Input is what the classifier sees for one turn.
type Input struct {
	UserInput string
	History   []domain.HistoryEntry
	Spec      domain.Document
}

// Classifier maps user input to a domain.UserIntent.
type Classifier struct {
	client llm.Client
	mode   Mode
	logger *slog.Logger
}

// New returns a Classifier. A nil client forces rule mode.
func New(client llm.Client, mode Mode, logger *slog.Logger) *Classifier {
	if client == nil {
		mode = ModeRules
	}
	if mode != ModeRules {
		mode = ModeLLM
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{client: client, mode: mode, logger: logger}
}

// Fallback is the intent reported when classification fails.
func Fallback() domain.UserIntent {
	return domain.UserIntent{
		ActionType: domain.ActionExplore,
		FocusArea:  domain.FocusGeneral,
		Confidence: 0,
		Parameters: map[string]any{"fallback": true},
	}
}

// Classify never fails; problems yield Fallback.
func (c *Classifier) Classify(ctx context.Context, in Input) domain.UserIntent {
	if c.mode == ModeRules {
		return Rules(in)
	}

	text, err := c.client.Complete(ctx, llm.Request{
		Tag:    "intent",
		System: systemPrompt,
		Prompt: userPrompt(in),
	})
	if err != nil {
		c.logger.Warn("intent classification failed", "error", err)
		return Fallback()
	}
	got, err := parse(text)
	if err != nil {
		c.logger.Warn("intent reply unusable", "error", err)
		return Fallback()
	}
	return got
}

const systemPrompt = `You classify one message from a user who is refining a product idea.
Reply with JSON only:
{"action_type": "explore|clarify|review|record", "focus_area": "core_idea|scope|scenarios|general", "confidence": 0.0-1.0, "parameters": {}}
explore: the idea is still vague. clarify: the user is answering or refining details.
review: the user asks to check the document. record: the user states a decision to keep.`

func userPrompt(in Input) string {
	var sb strings.Builder
	if p := in.Spec.String(domain.SectionCoreIdea, "problemStatement"); p != "" {
		fmt.Fprintf(&sb, "Known problem statement: %s\n", p)
	} else {
		sb.WriteString("The document has no problem statement yet.\n")
	}
	if n := len(in.History); n > 0 {
		last := in.History[n-1]
		fmt.Fprintf(&sb, "Previous %s message: %s\n", last.Role, last.Content)
	}
	fmt.Fprintf(&sb, "Message: %s\n", in.UserInput)
	return sb.String()
}

type wireIntent struct {
	ActionType string         `json:"action_type"`
	FocusArea  string         `json:"focus_area"`
	Confidence *float64       `json:"confidence"`
	Parameters map[string]any `json:"parameters"`
}

func parse(text string) (domain.UserIntent, error) {
	raw := llm.ExtractJSON(text)
	if raw == "" {
		return domain.UserIntent{}, fmt.Errorf("no JSON object in reply")
	}
	var w wireIntent
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return domain.UserIntent{}, fmt.Errorf("decode intent: %w", err)
	}
	action := domain.ActionType(strings.ToLower(strings.TrimSpace(w.ActionType)))
	focus := domain.Focus(strings.ToLower(strings.TrimSpace(w.FocusArea)))
	if !action.Valid() {
		return domain.UserIntent{}, fmt.Errorf("unknown action_type %q", w.ActionType)
	}
	if !focus.Valid() {
		return domain.UserIntent{}, fmt.Errorf("unknown focus_area %q", w.FocusArea)
	}
	conf := 0.0
	if w.Confidence != nil {
		conf = min(max(*w.Confidence, 0), 1)
	}
	if w.Parameters == nil {
		w.Parameters = map[string]any{}
	}
	return domain.UserIntent{ActionType: action, FocusArea: focus, Confidence: conf, Parameters: w.Parameters}, nil
}
