package agent

import (
	"context"
	"sort"
	"strings"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

// Recorder turns stated decisions into decisionLog entries.
type Recorder struct {
	base
}

// NewRecorder returns the decision-recording agent.
func NewRecorder(client llm.Client, catalog *Catalog) *Recorder {
	return &Recorder{base: newBase(domain.AgentRecorder, client, catalog, 0.85)}
}

// ShouldHandle needs something the user said to record.
func (r *Recorder) ShouldHandle(actx domain.AgentContext) bool {
	return strings.TrimSpace(actx.UserInput) != ""
}

// Process implements Agent.
func (r *Recorder) Process(ctx context.Context, actx domain.AgentContext) (domain.AgentResponse, error) {
	log, _ := actx.ProjectSpec.Array(domain.SectionDecisionLog)
	recent := log
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	summary := map[string]any{
		"decision_count":   len(log),
		"recent_decisions": recent,
	}

	resp, err := r.run(ctx, actx, summary, "record")
	if err != nil {
		return resp, err
	}
	r.stampDecisions(resp.DocumentUpdates)
	return resp, nil
}

// stampDecisions fills date and status on new decision entries.
func (r *Recorder) stampDecisions(updates map[string]any) {
	entries, ok := updates[domain.SectionDecisionLog].([]any)
	if !ok {
		return
	}
	today := r.now().UTC().Format("2006-01-02")
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if d, _ := m["date"].(string); d == "" {
			m["date"] = today
		}
		if s, _ := m["status"].(string); s == "" {
			m["status"] = "accepted"
		}
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
