package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/clario/internal/domain"
)

// Missing-info and section keys reported by Structural.
const (
	KeyCoreIdea           = "core_idea"
	KeyProblemStatement   = "problem_statement"
	KeyTargetAudience     = "target_audience"
	KeyCoreValue          = "core_value"
	KeyScope              = "scope"
	KeyInScope            = "in_scope"
	KeyOutOfScope         = "out_of_scope"
	KeyEndToEndFlow       = "end_to_end_flow"
	KeyScenarios          = "scenarios"
	KeyAcceptanceCriteria = "acceptance_criteria"
	KeyPrioritization     = "prioritization"
	KeyNonFunctional      = "non_functional_notes"
)

// dimension is one weighted axis of completeness.
type dimension struct {
	key     string
	weight  int
	suggest string
}

var dimensions = []dimension{
	{KeyProblemStatement, 10, "Describe the core problem the product solves"},
	{KeyTargetAudience, 8, "Identify who the target users are"},
	{KeyCoreValue, 7, "State the core value the product delivers"},
	{KeyInScope, 9, "List the features that are in scope"},
	{KeyOutOfScope, 6, "Name what is explicitly out of scope"},
	{KeyScenarios, 8, "Walk through the main user scenarios"},
	{KeyAcceptanceCriteria, 6, "Add acceptance criteria to each scenario"},
	{KeyEndToEndFlow, 5, "Sketch the end-to-end flow"},
	{KeyPrioritization, 4, "Decide what belongs in the MVP"},
	{KeyNonFunctional, 3, "Capture non-functional expectations"},
}

// sectionShapes lists the sections whose kind must be checked before the
// document can be analyzed.
var sectionShapes = []string{
	domain.SectionCoreIdea,
	domain.SectionScope,
	domain.SectionEndToEndFlow,
	domain.SectionPrioritization,
	domain.SectionScenarios,
	domain.SectionNonFunctionalNotes,
	domain.SectionDecisionLog,
}

// Structural runs the deterministic checks. It fails only when a known
// section has the wrong JSON kind.
func Structural(doc domain.Document) (domain.Analysis, error) {
	for _, key := range sectionShapes {
		v, ok := doc[key]
		if !ok || v == nil {
			continue
		}
		kind, known := domain.KindOf(v)
		if want := domain.Sections[key].Kind; !known || kind != want {
			return domain.Analysis{}, fmt.Errorf("section %s: want %s", key, want)
		}
	}

	covered := coverage(doc)

	report := domain.Analysis{
		CompletedSections: completedSections(covered),
		MissingInfo:       missingInfo(doc, covered),
		ConsistencyIssues: ruleIssues(doc),
		SuggestedActions:  []string{},
	}

	total, sum := 0, 0
	for _, d := range dimensions {
		total += d.weight
		if covered[d.key] {
			sum += d.weight
		} else if len(report.SuggestedActions) < 3 {
			report.SuggestedActions = append(report.SuggestedActions, d.suggest)
		}
	}
	report.CompletenessScore = sum * 100 / total
	return report, nil
}

func coverage(doc domain.Document) map[string]bool {
	covered := map[string]bool{
		KeyProblemStatement: doc.String(domain.SectionCoreIdea, "problemStatement") != "",
		KeyTargetAudience:   doc.String(domain.SectionCoreIdea, "targetAudience") != "",
		KeyCoreValue:        doc.String(domain.SectionCoreIdea, "coreValue") != "",
	}

	scope, _ := doc.Object(domain.SectionScope)
	covered[KeyInScope] = len(stringList(scope["inScope"])) > 0
	covered[KeyOutOfScope] = len(stringList(scope["outOfScope"])) > 0

	flow, _ := doc.Object(domain.SectionEndToEndFlow)
	steps, _ := flow["steps"].([]any)
	covered[KeyEndToEndFlow] = len(steps) > 0 || doc.String(domain.SectionEndToEndFlow, "description") != ""

	scenarios, _ := doc.Array(domain.SectionScenarios)
	covered[KeyScenarios] = len(scenarios) > 0
	withCriteria := 0
	for _, s := range scenarios {
		m, _ := s.(map[string]any)
		if len(stringList(m["acceptanceCriteria"])) > 0 {
			withCriteria++
		}
	}
	covered[KeyAcceptanceCriteria] = len(scenarios) > 0 && withCriteria == len(scenarios)

	prio, _ := doc.Object(domain.SectionPrioritization)
	covered[KeyPrioritization] = len(stringList(prio["MVP"])) > 0

	notes, _ := doc.Array(domain.SectionNonFunctionalNotes)
	covered[KeyNonFunctional] = len(notes) > 0
	return covered
}

func completedSections(c map[string]bool) []string {
	out := []string{}
	if c[KeyProblemStatement] && c[KeyTargetAudience] && c[KeyCoreValue] {
		out = append(out, KeyCoreIdea)
	}
	if c[KeyInScope] && c[KeyOutOfScope] {
		out = append(out, KeyScope)
	}
	if c[KeyScenarios] && c[KeyAcceptanceCriteria] {
		out = append(out, KeyScenarios)
	}
	for _, key := range []string{KeyEndToEndFlow, KeyPrioritization, KeyNonFunctional} {
		if c[key] {
			out = append(out, key)
		}
	}
	return out
}

// missingInfo reports a whole section when it is absent and individual
// fields once the section has been started.
func missingInfo(doc domain.Document, c map[string]bool) []string {
	out := []string{}
	if core, _ := doc.Object(domain.SectionCoreIdea); core == nil {
		out = append(out, KeyCoreIdea)
	} else {
		for _, key := range []string{KeyProblemStatement, KeyTargetAudience, KeyCoreValue} {
			if !c[key] {
				out = append(out, key)
			}
		}
	}
	if scope, _ := doc.Object(domain.SectionScope); scope == nil {
		out = append(out, KeyScope)
	} else {
		for _, key := range []string{KeyInScope, KeyOutOfScope} {
			if !c[key] {
				out = append(out, key)
			}
		}
	}
	switch {
	case !c[KeyScenarios]:
		out = append(out, KeyScenarios)
	case !c[KeyAcceptanceCriteria]:
		out = append(out, KeyAcceptanceCriteria)
	}
	for _, key := range []string{KeyEndToEndFlow, KeyPrioritization} {
		if !c[key] {
			out = append(out, key)
		}
	}
	return out
}

// ruleIssues finds contradictions that need no model: items both in and
// out of scope, and scenario dependencies that are missing or mutual.
func ruleIssues(doc domain.Document) []string {
	issues := []string{}

	scope, _ := doc.Object(domain.SectionScope)
	in := make(map[string]bool)
	for _, item := range stringList(scope["inScope"]) {
		in[strings.ToLower(item)] = true
	}
	var overlap []string
	for _, item := range stringList(scope["outOfScope"]) {
		if in[strings.ToLower(item)] {
			overlap = append(overlap, item)
		}
	}
	if len(overlap) > 0 {
		sort.Strings(overlap)
		issues = append(issues, fmt.Sprintf("scope overlap: %s is both in and out of scope", strings.Join(overlap, ", ")))
	}

	scenarios, _ := doc.Array(domain.SectionScenarios)
	deps := make(map[string][]string, len(scenarios))
	var order []string
	for _, s := range scenarios {
		m, _ := s.(map[string]any)
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		order = append(order, id)
		deps[id] = stringList(m["dependencies"])
	}
	for _, id := range order {
		for _, dep := range deps[id] {
			depDeps, exists := deps[dep]
			if !exists {
				issues = append(issues, fmt.Sprintf("scenario %s depends on unknown scenario %s", id, dep))
				continue
			}
			if id < dep && contains(depDeps, id) {
				issues = append(issues, fmt.Sprintf("scenarios %s and %s depend on each other", id, dep))
			}
		}
	}
	return issues
}

func stringList(v any) []string {
	arr, _ := v.([]any)
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
