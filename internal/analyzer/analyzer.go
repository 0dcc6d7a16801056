// Package analyzer inspects a project document and reports what is done,
// what is missing and what contradicts itself.
//
// The structural part is deterministic and runs without a model. The
// consistency part asks the LLM for cross-section contradictions and is
// skipped, never fatal, when the model is unavailable.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

const consistencyPrompt = `You review product requirement documents for contradictions.
Compare the sections of the JSON document below: core idea, scope, end-to-end flow, scenarios and prioritization.
List every place where two sections disagree, or where a scenario needs something that scope excludes.
Reply with a JSON array of short strings, one per issue. Reply [] when everything is consistent.`

// Analyzer produces domain.Analysis reports.
type Analyzer struct {
	llm             llm.Client
	skipConsistency bool
	logger          *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithoutConsistencyCheck disables the LLM consistency pass.
func WithoutConsistencyCheck() Option {
	return func(a *Analyzer) { a.skipConsistency = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New returns an Analyzer. client may be nil, which disables the
// consistency pass.
func New(client llm.Client, opts ...Option) *Analyzer {
	a := &Analyzer{llm: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	if client == nil {
		a.skipConsistency = true
	}
	return a
}

// Analyze runs the structural checks and, when the document has content,
// the LLM consistency check. A failed check reports no issues at all and
// leaves ConsistencyChecked false; shape errors in the document are
// returned.
func (a *Analyzer) Analyze(ctx context.Context, doc domain.Document) (domain.Analysis, error) {
	report, err := Structural(doc)
	if err != nil {
		return domain.Analysis{}, err
	}
	if a.skipConsistency || !doc.HasContent() {
		return report, nil
	}

	issues, err := a.consistency(ctx, doc)
	if err != nil {
		a.logger.Warn("consistency check skipped", "error", err)
		report.ConsistencyIssues = []string{}
		return report, nil
	}
	report.ConsistencyIssues = append(report.ConsistencyIssues, issues...)
	report.ConsistencyChecked = true
	return report, nil
}

func (a *Analyzer) consistency(ctx context.Context, doc domain.Document) ([]string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	text, err := a.llm.Complete(ctx, llm.Request{
		Tag:    "analysis",
		System: consistencyPrompt,
		Prompt: string(body),
	})
	if err != nil {
		return nil, err
	}
	return parseIssues(text)
}

// parseIssues accepts a bare array or an object with an "issues" array.
func parseIssues(text string) ([]string, error) {
	raw := llm.ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON in consistency reply")
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return cleanIssues(list), nil
	}
	var wrapped struct {
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
		return nil, fmt.Errorf("decode consistency reply: %w", err)
	}
	return cleanIssues(wrapped.Issues), nil
}

func cleanIssues(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
