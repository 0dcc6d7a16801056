package intent

import (
	"strings"

	"github.com/ashureev/clario/internal/domain"
)

var (
	recordWords   = []string{"record", "decide", "decided", "decision", "let's go with", "we'll go with", "/record"}
	reviewWords   = []string{"review", "check the document", "consistency", "contradict", "look over", "/review"}
	scopeWords    = []string{"feature", "scope", "requirement", "mvp", "in scope", "out of scope", "功能", "需求", "范围"}
	scenarioWords = []string{"scenario", "usage", "flow", "journey", "use case", "场景", "使用", "流程"}
	coreWords     = []string{"user", "audience", "target", "problem", "value", "用户", "目标", "问题"}
)

// Rules is the deterministic keyword classifier. Record and review requests
// are recognized first; focus comes from vocabulary; the action defaults to
// explore until the document has a problem statement.
func Rules(in Input) domain.UserIntent {
	text := strings.ToLower(in.UserInput)

	focus := domain.FocusGeneral
	switch {
	case containsAny(text, scopeWords):
		focus = domain.FocusScope
	case containsAny(text, scenarioWords):
		focus = domain.FocusScenarios
	case containsAny(text, coreWords):
		focus = domain.FocusCoreIdea
	}

	action := domain.ActionClarify
	switch {
	case containsAny(text, recordWords):
		action = domain.ActionRecord
	case containsAny(text, reviewWords):
		action = domain.ActionReview
	case in.Spec.String(domain.SectionCoreIdea, "problemStatement") == "":
		action = domain.ActionExplore
	}

	return domain.UserIntent{
		ActionType: action,
		FocusArea:  focus,
		Confidence: ruleConfidence,
		Parameters: map[string]any{"rules": true},
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
