package agent

import (
	"context"
	"strings"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

// Promoter drives early discovery. It handles every context and is the
// fallback when no other agent applies.
type Promoter struct {
	base
}

// NewPromoter returns the discovery agent.
func NewPromoter(client llm.Client, catalog *Catalog) *Promoter {
	return &Promoter{base: newBase(domain.AgentPromoter, client, catalog, 0.8)}
}

// ShouldHandle implements Agent.
func (p *Promoter) ShouldHandle(domain.AgentContext) bool { return true }

// Process implements Agent.
func (p *Promoter) Process(ctx context.Context, actx domain.AgentContext) (domain.AgentResponse, error) {
	priorities := nextPriorities(actx.ProjectSpec)
	summary := map[string]any{
		"missing_info":    promoterMissing(actx.ProjectSpec),
		"next_priorities": priorities,
	}
	if core, _ := actx.ProjectSpec.Object(domain.SectionCoreIdea); len(core) > 0 {
		summary["core_idea"] = core
	}
	return p.run(ctx, actx, summary, priorities[0])
}

func promoterMissing(doc domain.Document) []string {
	var missing []string
	for field, label := range map[string]string{
		"problemStatement": "problem_statement",
		"targetAudience":   "target_audience",
		"coreValue":        "value_proposition",
	} {
		if doc.String(domain.SectionCoreIdea, field) == "" {
			missing = append(missing, label)
		}
	}
	scope, _ := doc.Object(domain.SectionScope)
	if in, _ := scope["inScope"].([]any); len(in) == 0 {
		missing = append(missing, "core_features")
	}
	if s, _ := doc.Array(domain.SectionScenarios); len(s) == 0 {
		missing = append(missing, "user_scenarios")
	}
	return sortedCopy(missing)
}

// OpeningFallback builds a deterministic opening message from an analysis,
// used when the model cannot produce one.
func OpeningFallback(a domain.Analysis) (content string, suggestions []string) {
	var sb strings.Builder
	switch {
	case a.Missing("core_idea") || a.Missing("problem_statement"):
		sb.WriteString("Let's start with the core of your idea. What problem are you trying to solve, and who has it?")
		suggestions = []string{"Describe the problem you want to solve", "Tell me who the users are"}
	case len(a.MissingInfo) > 0:
		sb.WriteString("Welcome back. The document is taking shape; still open: ")
		sb.WriteString(strings.ReplaceAll(strings.Join(a.MissingInfo, ", "), "_", " "))
		sb.WriteString(".")
		suggestions = append([]string{}, a.SuggestedActions...)
	default:
		sb.WriteString("Welcome back. Every section has content; want to review it for gaps or record a decision?")
		suggestions = []string{"Review the document", "Record a decision"}
	}
	if len(a.ConsistencyIssues) > 0 {
		sb.WriteString(" I also noticed: ")
		sb.WriteString(a.ConsistencyIssues[0])
	}
	return sb.String(), suggestions
}
