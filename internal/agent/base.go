package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

const (
	historyWindow   = 3
	historyMaxRunes = 200
)

// base carries what every agent shares: its persona, the client and the
// reply parser.
type base struct {
	kind        domain.AgentType
	client      llm.Client
	persona     Persona
	replyFormat string
	confidence  float64
	now         func() time.Time
}

func newBase(kind domain.AgentType, client llm.Client, catalog *Catalog, confidence float64) base {
	return base{
		kind:        kind,
		client:      client,
		persona:     catalog.persona(kind),
		replyFormat: catalog.ReplyFormat,
		confidence:  confidence,
		now:         time.Now,
	}
}

func (b *base) Type() domain.AgentType { return b.kind }

func (b *base) SystemPrompt() string {
	return strings.TrimSpace(b.persona.System) + "\n\n" + strings.TrimSpace(b.replyFormat)
}

// run makes the single LLM call for a turn and parses the reply.
func (b *base) run(ctx context.Context, actx domain.AgentContext, summary map[string]any, strategy string) (domain.AgentResponse, error) {
	text, err := b.client.Complete(ctx, llm.Request{
		Tag:    "agent:" + string(b.kind),
		System: b.SystemPrompt(),
		Prompt: buildPrompt(actx, summary, b.persona.Strategy(strategy)),
	})
	if err != nil {
		return domain.AgentResponse{}, fmt.Errorf("%s: %w", b.kind, err)
	}
	resp := parseReply(text, b.confidence)
	resp.AgentType = b.kind
	resp.Timestamp = b.now().UTC()
	return resp, nil
}

// buildPrompt renders the turn context: document state summary, the last
// few history entries, focus, guidance and the user's input. Opening turns
// carry the analysis instead of user input.
func buildPrompt(actx domain.AgentContext, summary map[string]any, guidance string) string {
	var sb strings.Builder

	if len(summary) > 0 {
		data, err := json.Marshal(summary)
		if err == nil {
			sb.WriteString("Current project state:\n")
			sb.Write(data)
			sb.WriteString("\n\n")
		}
	}

	if n := len(actx.ConversationHistory); n > 0 {
		recent := actx.ConversationHistory[max(0, n-historyWindow):]
		sb.WriteString("Recent conversation:\n")
		for _, h := range recent {
			fmt.Fprintf(&sb, "%s: %s\n", h.Role, truncate(h.Content, historyMaxRunes))
		}
		sb.WriteString("\n")
	}

	if actx.CurrentFocus != "" {
		fmt.Fprintf(&sb, "Current focus: %s\n\n", actx.CurrentFocus)
	}
	if guidance != "" {
		fmt.Fprintf(&sb, "Guidance: %s\n\n", guidance)
	}

	if actx.Analysis != nil {
		sb.WriteString("The user has just opened this project. Greet them briefly, summarize where the document stands and ask the single most useful next question.\n")
		if len(actx.Analysis.CompletedSections) > 0 {
			fmt.Fprintf(&sb, "Completed: %s\n", strings.Join(actx.Analysis.CompletedSections, ", "))
		}
		if len(actx.Analysis.MissingInfo) > 0 {
			fmt.Fprintf(&sb, "Missing: %s\n", strings.Join(actx.Analysis.MissingInfo, ", "))
		}
		if len(actx.Analysis.ConsistencyIssues) > 0 {
			fmt.Fprintf(&sb, "Issues: %s\n", strings.Join(actx.Analysis.ConsistencyIssues, "; "))
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, "User input: %s\n", actx.UserInput)
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// nextPriorities orders what the document still needs, earliest first.
func nextPriorities(doc domain.Document) []string {
	var out []string
	if doc.String(domain.SectionCoreIdea, "problemStatement") == "" {
		out = append(out, "define_core_problem")
	}
	if doc.String(domain.SectionCoreIdea, "targetAudience") == "" {
		out = append(out, "identify_users")
	}
	if doc.String(domain.SectionCoreIdea, "coreValue") == "" {
		out = append(out, "define_value")
	}
	scope, _ := doc.Object(domain.SectionScope)
	if in, _ := scope["inScope"].([]any); len(in) == 0 {
		out = append(out, "define_features")
	}
	if s, _ := doc.Array(domain.SectionScenarios); len(s) == 0 {
		out = append(out, "explore_scenarios")
	}
	if len(out) == 0 {
		out = append(out, "refine")
	}
	return out
}
