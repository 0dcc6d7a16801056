package agent

import (
	"context"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

// Reviewer looks across sections for gaps and contradictions.
type Reviewer struct {
	base
}

// NewReviewer returns the review agent.
func NewReviewer(client llm.Client, catalog *Catalog) *Reviewer {
	return &Reviewer{base: newBase(domain.AgentReviewer, client, catalog, 0.7)}
}

// ShouldHandle declines an empty document.
func (r *Reviewer) ShouldHandle(actx domain.AgentContext) bool {
	return actx.ProjectSpec.HasContent()
}

// Process implements Agent.
func (r *Reviewer) Process(ctx context.Context, actx domain.AgentContext) (domain.AgentResponse, error) {
	summary := map[string]any{"document": map[string]any(actx.ProjectSpec)}
	return r.run(ctx, actx, summary, "review")
}
