package agent

import (
	"context"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

// ScopePlanner proposes in/out-of-scope boundaries and MVP candidates.
type ScopePlanner struct {
	base
}

// NewScopePlanner returns the scoping agent.
func NewScopePlanner(client llm.Client, catalog *Catalog) *ScopePlanner {
	return &ScopePlanner{base: newBase(domain.AgentScopePlanner, client, catalog, 0.75)}
}

// ShouldHandle needs a problem statement to scope against.
func (s *ScopePlanner) ShouldHandle(actx domain.AgentContext) bool {
	return actx.ProjectSpec.String(domain.SectionCoreIdea, "problemStatement") != ""
}

// Process implements Agent.
func (s *ScopePlanner) Process(ctx context.Context, actx domain.AgentContext) (domain.AgentResponse, error) {
	doc := actx.ProjectSpec
	core, _ := doc.Object(domain.SectionCoreIdea)
	scope, _ := doc.Object(domain.SectionScope)
	prio, _ := doc.Object(domain.SectionPrioritization)

	summary := map[string]any{"core_idea": core}
	if scope != nil {
		summary["scope"] = scope
	}
	if prio != nil {
		summary["prioritization"] = prio
	}

	strategy := "refine"
	in, _ := scope["inScope"].([]any)
	out, _ := scope["outOfScope"].([]any)
	mvp, _ := prio["MVP"].([]any)
	switch {
	case len(in) == 0:
		strategy = "define_features"
	case len(out) == 0:
		strategy = "bound_scope"
	case len(mvp) == 0:
		strategy = "prioritize"
	}
	return s.run(ctx, actx, summary, strategy)
}
