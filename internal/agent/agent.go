// Package agent implements the conversational agents that answer a turn.
//
// Each agent has a persona from the prompt catalog, decides whether it can
// handle a context and turns one LLM reply into a domain.AgentResponse. The
// set of agents is fixed at construction; the orchestrator picks one per
// turn.
package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

// Agent answers one conversation turn.
type Agent interface {
	Type() domain.AgentType
	SystemPrompt() string
	// ShouldHandle lets an agent opt out, e.g. a reviewer with nothing to
	// review.
	ShouldHandle(actx domain.AgentContext) bool
	// Process returns an error only when the LLM call itself failed. Reply
	// parse problems degrade to a plain-text response.
	Process(ctx context.Context, actx domain.AgentContext) (domain.AgentResponse, error)
}

// Info describes an agent for listings.
type Info struct {
	Type          domain.AgentType `json:"type"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	PromptPreview string           `json:"promptPreview"`
}

// Registry is the static agent table.
type Registry struct {
	agents  map[domain.AgentType]Agent
	catalog *Catalog
}

// NewRegistry builds all four agents over one client.
func NewRegistry(client llm.Client, catalog *Catalog) *Registry {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := &Registry{agents: make(map[domain.AgentType]Agent, 4), catalog: catalog}
	for _, a := range []Agent{
		NewPromoter(client, catalog),
		NewScopePlanner(client, catalog),
		NewReviewer(client, catalog),
		NewRecorder(client, catalog),
	} {
		r.agents[a.Type()] = a
	}
	return r
}

// Get returns the agent for t.
func (r *Registry) Get(t domain.AgentType) (Agent, error) {
	a, ok := r.agents[t]
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q", t)
	}
	return a, nil
}

// MustGet is Get for types known to be registered.
func (r *Registry) MustGet(t domain.AgentType) Agent {
	a, err := r.Get(t)
	if err != nil {
		panic(err)
	}
	return a
}

// Infos lists the registered agents sorted by type.
func (r *Registry) Infos() []Info {
	out := make([]Info, 0, len(r.agents))
	for t, a := range r.agents {
		p := r.catalog.persona(t)
		out = append(out, Info{
			Type:          t,
			Name:          p.Name,
			Description:   p.Description,
			PromptPreview: preview(a.SystemPrompt(), 200),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
