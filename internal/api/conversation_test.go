package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/clario/internal/agent"
	"github.com/ashureev/clario/internal/analyzer"
	"github.com/ashureev/clario/internal/identity"
	"github.com/ashureev/clario/internal/intent"
	"github.com/ashureev/clario/internal/llm"
	"github.com/ashureev/clario/internal/llm/llmtest"
	"github.com/ashureev/clario/internal/orchestrator"
	"github.com/ashureev/clario/internal/session"
	"github.com/ashureev/clario/internal/store"
)

const testClientID = "client_0123456789abcdef0123456789abcdef"

type testServer struct {
	srv  *httptest.Server
	db   *store.SQLiteStore
	mgr  *session.Manager
	fake *llmtest.Fake
}

func newTestServer(t *testing.T, client llm.Client, limiter *RateLimiter) *testServer {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "clario.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	orch := orchestrator.New(
		intent.New(client, intent.ModeLLM, nil),
		agent.NewRegistry(client, nil),
		orchestrator.Config{IntentThreshold: 0.5},
		nil, nil,
	)
	mgr := session.NewManager(
		session.NewMemoryStore(10, nil),
		db,
		analyzer.New(client, analyzer.WithoutConsistencyCheck()),
		orch, nil,
		session.Config{TurnTimeout: 5 * time.Second, SessionTTL: time.Hour},
		nil,
	)
	t.Cleanup(mgr.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewConversationHandler(mgr, orch, db, limiter, 0, nil).RegisterRoutes(r)
	NewProjectHandler(db, 0).RegisterRoutes(r)
	NewHealthHandler(db, true, func() int { return len(mgr.Active()) }).RegisterHealth(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	fake, _ := client.(*llmtest.Fake)
	return &testServer{srv: srv, db: db, mgr: mgr, fake: fake}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.ClientHeaderName, testClientID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (ts *testServer) start(t *testing.T, projectID string) string {
	t.Helper()
	code, body := ts.do(t, http.MethodPost, "/conversation/start", map[string]any{"projectId": projectID})
	if code != http.StatusOK {
		t.Fatalf("start status = %d, body = %v", code, body)
	}
	id, _ := body["sessionId"].(string)
	if id == "" {
		t.Fatalf("start returned no sessionId: %v", body)
	}
	return id
}

func stringsOf(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
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

func TestRecipeAppConversation(t *testing.T) {
	fake := llmtest.New().
		Reply("intent", `{"action_type":"explore","focus_area":"core_idea","confidence":0.9}`).
		Reply("agent:", `{"content":"Let's start with the problem. What is your idea?","suggestions":["Describe the idea"]}`).
		Reply("agent:", "Great idea! Here is what I captured:\n```json\n"+
			`{"content":"Who will share recipes, home cooks or professionals?","suggestions":["Home cooks","Professional chefs"],`+
			`"document_updates":{"coreIdea":{"problemStatement":"People struggle to find and share recipes they trust"}}}`+"\n```")
	ts := newTestServer(t, fake, nil)

	code, _ := ts.do(t, http.MethodPut, "/api/projects/p1", map[string]any{"coreIdea": nil})
	if code != http.StatusOK {
		t.Fatalf("put project status = %d", code)
	}

	code, start := ts.do(t, http.MethodPost, "/conversation/start", map[string]any{"projectId": "p1"})
	if code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	analysis, _ := start["documentAnalysis"].(map[string]any)
	if !contains(stringsOf(analysis["missingInfo"]), "core_idea") {
		t.Fatalf("missingInfo = %v, want core_idea", analysis["missingInfo"])
	}
	sessionID, _ := start["sessionId"].(string)

	code, msg := ts.do(t, http.MethodPost, "/conversation/"+sessionID+"/message",
		map[string]any{"content": "I want to build a recipe-sharing app"})
	if code != http.StatusOK {
		t.Fatalf("message status = %d, body = %v", code, msg)
	}
	if msg["agentType"] != "promoter" {
		t.Fatalf("agentType = %v, want promoter", msg["agentType"])
	}
	if len(stringsOf(msg["suggestions"])) == 0 {
		t.Fatal("suggestions should not be empty")
	}
	updates, _ := msg["documentUpdates"].(map[string]any)
	core, _ := updates["coreIdea"].(map[string]any)
	if ps, _ := core["problemStatement"].(string); ps == "" {
		t.Fatalf("documentUpdates = %v, want coreIdea.problemStatement", updates)
	}

	code, hist := ts.do(t, http.MethodGet, "/conversation/"+sessionID+"/history", nil)
	if code != http.StatusOK {
		t.Fatalf("history status = %d", code)
	}
	entries, _ := hist["conversationHistory"].([]any)
	if len(entries) != 2 {
		t.Fatalf("history len = %d, want 2", len(entries))
	}
	spec, _ := hist["projectSpec"].(map[string]any)
	if _, ok := spec["coreIdea"].(map[string]any); !ok {
		t.Fatalf("projectSpec not updated: %v", spec)
	}
}

func TestResumeIsIdempotent(t *testing.T) {
	fake := llmtest.New().Reply("agent:", `{"content":"Welcome back.","suggestions":[]}`)
	ts := newTestServer(t, fake, nil)

	ts.do(t, http.MethodPut, "/api/projects/p1", map[string]any{
		"coreIdea": map[string]any{"problemStatement": "recipes get lost", "targetAudience": "home cooks"},
		"scope":    map[string]any{"inScope": []string{"share"}},
	})

	var missing, completed [2][]string
	for i := range 2 {
		code, body := ts.do(t, http.MethodPost, "/conversation/start", map[string]any{"projectId": "p1"})
		if code != http.StatusOK {
			t.Fatalf("start %d status = %d", i, code)
		}
		analysis, _ := body["documentAnalysis"].(map[string]any)
		missing[i] = stringsOf(analysis["missingInfo"])
		completed[i] = stringsOf(analysis["completedSections"])
	}
	if len(missing[0]) == 0 {
		t.Fatal("expected missing info for a partial document")
	}
	if !equalSets(missing[0], missing[1]) || !equalSets(completed[0], completed[1]) {
		t.Fatalf("analysis changed between starts: %v/%v vs %v/%v", missing[0], completed[0], missing[1], completed[1])
	}
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, s := range a {
		if !contains(b, s) {
			return false
		}
	}
	return true
}

func TestDegradedModelStillAnswers(t *testing.T) {
	ts := newTestServer(t, llmtest.Failing(), nil)

	code, start := ts.do(t, http.MethodPost, "/conversation/start", map[string]any{"projectId": "p1"})
	if code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if start["confidence"].(float64) != 0 || start["isError"] != true {
		t.Fatalf("start = %v, want error-flagged opening", start)
	}

	sessionID, _ := start["sessionId"].(string)
	code, msg := ts.do(t, http.MethodPost, "/conversation/"+sessionID+"/message", map[string]any{"content": "hello"})
	if code != http.StatusOK {
		t.Fatalf("message status = %d", code)
	}
	if msg["confidence"].(float64) != 0 || msg["isError"] != true || msg["content"] != orchestrator.ErrorReply {
		t.Fatalf("message = %v, want error response", msg)
	}
}

func TestMessageErrors(t *testing.T) {
	ts := newTestServer(t, llmtest.New().Reply("", `{"content":"ok"}`), nil)
	sessionID := ts.start(t, "p1")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown session", "/conversation/missing/message", map[string]any{"content": "hi"}, http.StatusNotFound},
		{"empty content", "/conversation/" + sessionID + "/message", map[string]any{"content": "  "}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, tt.path, tt.body)
			if code != tt.status {
				t.Fatalf("status = %d, want %d (%v)", code, tt.status, body)
			}
		})
	}
}

func TestConcurrentMessageIsBusy(t *testing.T) {
	fake := llmtest.New().Reply("", `{"content":"ok"}`)
	ts := newTestServer(t, fake, nil)
	sessionID := ts.start(t, "p1")

	before := len(fake.Calls())
	block := make(chan struct{})
	fake.Block = block

	done := make(chan int, 1)
	go func() {
		code, _ := ts.do(t, http.MethodPost, "/conversation/"+sessionID+"/message", map[string]any{"content": "first"})
		done <- code
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(fake.Calls()) == before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	code, body := ts.do(t, http.MethodPost, "/conversation/"+sessionID+"/message", map[string]any{"content": "second"})
	if code != http.StatusConflict || body["error"] != "busy" {
		t.Fatalf("second message = %d %v, want 409 busy", code, body)
	}

	close(block)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first message status = %d", code)
	}
}

func TestEndConversation(t *testing.T) {
	ts := newTestServer(t, llmtest.New().Reply("", `{"content":"ok"}`), nil)
	sessionID := ts.start(t, "p1")

	code, body := ts.do(t, http.MethodDelete, "/conversation/"+sessionID, nil)
	if code != http.StatusOK || body["sessionId"] != sessionID {
		t.Fatalf("delete = %d %v", code, body)
	}
	code, _ = ts.do(t, http.MethodGet, "/conversation/"+sessionID+"/history", nil)
	if code != http.StatusNotFound {
		t.Fatalf("history after end status = %d, want 404", code)
	}
}

func TestStartRateLimited(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	defer limiter.Close()
	ts := newTestServer(t, llmtest.New().Reply("", `{"content":"ok"}`), limiter)

	ts.start(t, "p1")
	code, _ := ts.do(t, http.MethodPost, "/conversation/start", map[string]any{"projectId": "p1"})
	if code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}
}

func TestAgentsAndSessions(t *testing.T) {
	ts := newTestServer(t, llmtest.New().Reply("", `{"content":"ok"}`), nil)
	sessionID := ts.start(t, "p1")

	code, body := ts.do(t, http.MethodGet, "/conversation/agents", nil)
	if code != http.StatusOK {
		t.Fatalf("agents status = %d", code)
	}
	if agents, _ := body["agents"].([]any); len(agents) != 4 {
		t.Fatalf("agents = %v, want 4", body["agents"])
	}

	code, body = ts.do(t, http.MethodGet, "/conversation/sessions", nil)
	if code != http.StatusOK {
		t.Fatalf("sessions status = %d", code)
	}
	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 1 || sessions[0].(map[string]any)["sessionId"] != sessionID {
		t.Fatalf("sessions = %v", sessions)
	}
}

func TestProjectNotFound(t *testing.T) {
	ts := newTestServer(t, llmtest.New(), nil)

	code, _ := ts.do(t, http.MethodGet, "/api/projects/nope", nil)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, llmtest.New(), nil)

	code, body := ts.do(t, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health = %d %v", code, body)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["database"] != "ok" || checks["llm"] != "configured" {
		t.Fatalf("checks = %v", checks)
	}
}
