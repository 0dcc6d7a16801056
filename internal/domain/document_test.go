package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestValidatePatchDropsUnknownAndMistypedKeys(t *testing.T) {
	patch := map[string]any{
		"coreIdea":     map[string]any{"problemStatement": "recipes are scattered"},
		"bogusSection": map[string]any{"x": 1},
		"scenarios":    "not an array",
		"meta":         map[string]any{"owner": "someone"},
	}

	kept, dropped := ValidatePatch(patch)

	if _, ok := kept["coreIdea"]; !ok {
		t.Fatal("coreIdea should be kept")
	}
	if len(kept) != 1 {
		t.Fatalf("kept = %v, want only coreIdea", kept)
	}
	want := []string{"bogusSection", "meta", "scenarios"}
	if !reflect.DeepEqual(dropped, want) {
		t.Fatalf("dropped = %v, want %v", dropped, want)
	}
	if _, ok := patch["bogusSection"]; !ok {
		t.Fatal("input patch must not be modified")
	}
}

func TestDocumentApplyMergePolicies(t *testing.T) {
	doc := Document{
		"coreIdea":    map[string]any{"problemStatement": "old", "targetAudience": "cooks"},
		"decisionLog": []any{map[string]any{"decision": "first"}},
		"scenarios":   []any{map[string]any{"id": "scn-1"}},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	doc.Apply(map[string]any{
		"coreIdea":    map[string]any{"problemStatement": "new"},
		"decisionLog": []any{map[string]any{"decision": "second"}},
		"scenarios":   []any{map[string]any{"id": "scn-2"}},
	}, now)

	if got := doc.String("coreIdea", "problemStatement"); got != "new" {
		t.Fatalf("problemStatement = %q, want new", got)
	}
	if got := doc.String("coreIdea", "targetAudience"); got != "cooks" {
		t.Fatalf("targetAudience = %q, want cooks (field merge)", got)
	}
	log, _ := doc.Array("decisionLog")
	if len(log) != 2 {
		t.Fatalf("decisionLog len = %d, want 2 (append)", len(log))
	}
	scenarios, _ := doc.Array("scenarios")
	if len(scenarios) != 1 || scenarios[0].(map[string]any)["id"] != "scn-2" {
		t.Fatalf("scenarios = %v, want replaced", scenarios)
	}
	if doc[SectionLastUpdated] != "2026-01-02T03:04:05Z" {
		t.Fatalf("lastUpdated = %v", doc[SectionLastUpdated])
	}
}

func TestCloneIsIndependent(t *testing.T) {
	doc := Document{"scope": map[string]any{"inScope": []any{"a"}}}
	clone := doc.Clone()

	clone["scope"].(map[string]any)["inScope"] = []any{"b"}

	orig := doc["scope"].(map[string]any)["inScope"].([]any)
	if orig[0] != "a" {
		t.Fatalf("original mutated through clone: %v", orig)
	}
}

func TestParseDocument(t *testing.T) {
	t.Parallel()

	doc, err := ParseDocument(nil)
	if err != nil || len(doc) != 0 {
		t.Fatalf("ParseDocument(nil) = %v, %v", doc, err)
	}
	if _, err := ParseDocument([]byte(`[1,2]`)); err == nil {
		t.Fatal("expected error for non-object document")
	}
	doc, err = ParseDocument([]byte(`{"coreIdea":null}`))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if obj, ok := doc.Object("coreIdea"); !ok || obj != nil {
		t.Fatalf("Object(coreIdea) = %v, %v; want nil, true", obj, ok)
	}
	if doc.HasContent() {
		t.Fatal("null coreIdea is not content")
	}
}

func TestInteractionSessionModelsIsAnObject(t *testing.T) {
	patch := map[string]any{
		"interactionSessionModels": map[string]any{
			"title": "Session models",
			"models": []any{map[string]any{
				"id":               "M1",
				"name":             "Single cook",
				"coreConcept":      "one user, one recipe box",
				"multiDocHandling": "none",
				"persistence":      map[string]any{"scope": "local"},
			}},
		},
	}

	kept, dropped := ValidatePatch(patch)
	if len(dropped) != 0 {
		t.Fatalf("dropped = %v, want none", dropped)
	}

	doc := Document{"interactionSessionModels": map[string]any{"title": "Draft"}}
	doc.Apply(kept, time.Now())
	if got := doc.String("interactionSessionModels", "title"); got != "Session models" {
		t.Fatalf("title = %q", got)
	}
	ism, _ := doc.Object("interactionSessionModels")
	if models, _ := ism["models"].([]any); len(models) != 1 {
		t.Fatalf("models = %v", ism["models"])
	}

	if _, dropped := ValidatePatch(map[string]any{"interactionSessionModels": []any{}}); len(dropped) != 1 {
		t.Fatal("array-shaped interactionSessionModels should be dropped")
	}
}

func TestMergePatchesFollowsSectionPolicies(t *testing.T) {
	first := map[string]any{
		"coreIdea":    map[string]any{"problemStatement": "a", "targetAudience": "cooks"},
		"decisionLog": []any{map[string]any{"decision": "first"}},
		"scenarios":   []any{map[string]any{"id": "scn-1"}},
	}
	second := map[string]any{
		"coreIdea":    map[string]any{"problemStatement": "b"},
		"decisionLog": []any{map[string]any{"decision": "second"}},
		"scenarios":   []any{map[string]any{"id": "scn-2"}},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	stepwise := Document{"decisionLog": []any{map[string]any{"decision": "zero"}}}
	stepwise.Apply(first, now)
	stepwise.Apply(second, now)

	combined := Document{"decisionLog": []any{map[string]any{"decision": "zero"}}}
	combined.Apply(MergePatches(first, second), now)

	if !reflect.DeepEqual(stepwise, combined) {
		t.Fatalf("combined = %v, want %v", combined, stepwise)
	}
	if log, _ := first["decisionLog"].([]any); len(log) != 1 {
		t.Fatal("first patch must not be modified")
	}
}
