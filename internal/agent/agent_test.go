package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm/llmtest"
)

func TestDefaultCatalogHasEveryAgent(t *testing.T) {
	c := DefaultCatalog()
	for _, typ := range []domain.AgentType{domain.AgentPromoter, domain.AgentScopePlanner, domain.AgentReviewer, domain.AgentRecorder} {
		if c.persona(typ).System == "" {
			t.Errorf("no system prompt for %s", typ)
		}
	}
	if got := c.persona(domain.AgentPromoter).Strategy("no_such_key"); got == "" {
		t.Error("unknown strategy should fall back to refine")
	}
}

func TestLoadCatalogRejectsMissingAgent(t *testing.T) {
	_, err := LoadCatalog([]byte("reply_format: x\nagents:\n  promoter:\n    system: hi\n"))
	if err == nil {
		t.Fatal("expected error for catalog without every agent")
	}
}

func TestParseReplyCanonical(t *testing.T) {
	text := "Here you go:\n```json\n" + `{
  "content": "Who is this for?",
  "suggestions": ["Home cooks", " "],
  "document_updates": {"coreIdea": {"problemStatement": "recipes are scattered"}},
  "next_action": "identify_users"
}` + "\n```"

	resp := parseReply(text, 0.8)

	if resp.Content != "Who is this for?" {
		t.Fatalf("Content = %q", resp.Content)
	}
	if len(resp.Suggestions) != 1 {
		t.Fatalf("Suggestions = %v, want blank entries dropped", resp.Suggestions)
	}
	core, _ := resp.DocumentUpdates["coreIdea"].(map[string]any)
	if core["problemStatement"] != "recipes are scattered" {
		t.Fatalf("DocumentUpdates = %v", resp.DocumentUpdates)
	}
	if resp.Confidence != 0.8 || resp.NextAction != "identify_users" {
		t.Fatalf("Confidence = %v NextAction = %q", resp.Confidence, resp.NextAction)
	}
}

func TestParseReplyLegacySectionUpdates(t *testing.T) {
	text := `{"content":"Noted.","document_updates":[
		{"section":"coreIdea.problemStatement","content":"lost recipes"},
		{"section":"coreIdea.targetAudience","content":"home cooks"}
	]}`

	resp := parseReply(text, 0.8)

	core, _ := resp.DocumentUpdates["coreIdea"].(map[string]any)
	if core["problemStatement"] != "lost recipes" || core["targetAudience"] != "home cooks" {
		t.Fatalf("DocumentUpdates = %v", resp.DocumentUpdates)
	}
}

func TestParseReplyPlainTextFallback(t *testing.T) {
	resp := parseReply("I think you should talk to users first.", 0.8)

	if resp.Content != "I think you should talk to users first." {
		t.Fatalf("Content = %q", resp.Content)
	}
	if resp.Confidence != plainTextConfidence {
		t.Fatalf("Confidence = %v, want %v", resp.Confidence, plainTextConfidence)
	}
	if resp.DocumentUpdates == nil || len(resp.DocumentUpdates) != 0 {
		t.Fatalf("DocumentUpdates = %v, want empty map", resp.DocumentUpdates)
	}
}

func TestBuildPromptTruncatesHistory(t *testing.T) {
	long := strings.Repeat("x", 500)
	actx := domain.AgentContext{
		ConversationHistory: []domain.HistoryEntry{
			{Role: domain.RoleUser, Content: "first"},
			{Role: domain.RoleAssistant, Content: "second"},
			{Role: domain.RoleUser, Content: "third"},
			{Role: domain.RoleAssistant, Content: long},
		},
		CurrentFocus: domain.FocusScope,
		UserInput:    "what next?",
	}

	prompt := buildPrompt(actx, map[string]any{"k": "v"}, "ask")

	if strings.Contains(prompt, "first") {
		t.Error("only the last three history entries should be included")
	}
	if strings.Contains(prompt, long) {
		t.Error("long history entries should be truncated")
	}
	for _, want := range []string{"third", "Current focus: scope", "User input: what next?", `{"k":"v"}`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestShouldHandle(t *testing.T) {
	reg := NewRegistry(llmtest.New(), nil)
	empty := domain.AgentContext{ProjectSpec: domain.Document{}}
	withCore := domain.AgentContext{
		ProjectSpec: domain.Document{"coreIdea": map[string]any{"problemStatement": "p"}},
		UserInput:   "we decided to skip payments",
	}

	tests := []struct {
		agent domain.AgentType
		actx  domain.AgentContext
		want  bool
	}{
		{domain.AgentPromoter, empty, true},
		{domain.AgentScopePlanner, empty, false},
		{domain.AgentScopePlanner, withCore, true},
		{domain.AgentReviewer, empty, false},
		{domain.AgentReviewer, withCore, true},
		{domain.AgentRecorder, empty, false},
		{domain.AgentRecorder, withCore, true},
	}
	for _, tt := range tests {
		if got := reg.MustGet(tt.agent).ShouldHandle(tt.actx); got != tt.want {
			t.Errorf("%s.ShouldHandle() = %v, want %v", tt.agent, got, tt.want)
		}
	}
}

func TestRecorderStampsDecisions(t *testing.T) {
	fake := llmtest.New().Reply("agent:recorder",
		`{"content":"Recorded.","document_updates":{"decisionLog":[{"decision":"No payments in v1","reason":"scope"}]}}`)
	rec := NewRecorder(fake, DefaultCatalog())
	rec.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }

	resp, err := rec.Process(context.Background(), domain.AgentContext{
		ProjectSpec: domain.Document{},
		UserInput:   "record that we skip payments in v1",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	entries := resp.DocumentUpdates["decisionLog"].([]any)
	entry := entries[0].(map[string]any)
	if entry["date"] != "2026-03-04" || entry["status"] != "accepted" {
		t.Fatalf("entry = %v, want stamped date and status", entry)
	}
	if resp.AgentType != domain.AgentRecorder {
		t.Fatalf("AgentType = %q", resp.AgentType)
	}
}

func TestProcessReturnsLLMError(t *testing.T) {
	fake := llmtest.New().Fail("agent:", errors.New("down"))
	p := NewPromoter(fake, DefaultCatalog())

	if _, err := p.Process(context.Background(), domain.AgentContext{ProjectSpec: domain.Document{}}); err == nil {
		t.Fatal("expected LLM failure to surface as error")
	}
}

func TestOpeningFallback(t *testing.T) {
	content, suggestions := OpeningFallback(domain.Analysis{MissingInfo: []string{"core_idea"}})
	if !strings.Contains(content, "problem") || len(suggestions) == 0 {
		t.Fatalf("OpeningFallback() = %q, %v", content, suggestions)
	}
}

func TestRegistryInfos(t *testing.T) {
	infos := NewRegistry(llmtest.New(), nil).Infos()
	if len(infos) != 4 {
		t.Fatalf("Infos() len = %d, want 4", len(infos))
	}
	for _, info := range infos {
		if info.Name == "" || info.PromptPreview == "" {
			t.Errorf("incomplete info: %+v", info)
		}
	}
}
