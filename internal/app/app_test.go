package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/clario/internal/config"
	"github.com/ashureev/clario/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:   "0",
		DBPath: filepath.Join(dir, "clario.db"),
		LLM:    config.LLMConfig{Timeout: time.Second},
		Conversation: config.ConversationConfig{
			IntentMode:      "llm",
			IntentThreshold: 0.5,
			SessionTTL:      time.Hour,
			MaxSessions:     2,
			TurnTimeout:     5 * time.Second,
		},
		Realtime: config.RealtimeConfig{BacklogSize: 8, OutboxSize: 8},
		ConversationLog: config.ConversationLogConfig{
			Enabled:    true,
			Dir:        filepath.Join(dir, "logs"),
			GlobalPath: filepath.Join(dir, "logs", "all.ndjson"),
			QueueSize:  16,
		},
	}
}

func TestNewWithoutLLMDegrades(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.LLMEnabled {
		t.Fatal("LLM should be disabled without an api key")
	}

	res, err := a.Sessions.Start(context.Background(), session.StartRequest{ClientID: "c1", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !res.Response.IsError || res.Response.Confidence != 0 {
		t.Fatalf("opening = %+v, want error-flagged fallback", res.Response)
	}

	resp, err := a.Sessions.Turn(context.Background(), res.Session.SessionID, "I want a recipe app")
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if !resp.IsError || resp.Content == "" {
		t.Fatalf("turn = %+v", resp)
	}
	if a.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions() = %d, want 1", a.ActiveSessions())
	}
}

func TestEvictionForgetsHubChannel(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	var ids []string
	for _, p := range []string{"p1", "p2", "p3"} {
		res, err := a.Sessions.Start(ctx, session.StartRequest{ClientID: "c1", ProjectID: p})
		if err != nil {
			t.Fatalf("Start(%s) error = %v", p, err)
		}
		ids = append(ids, res.Session.SessionID)
	}

	if _, err := a.Sessions.Get(ids[0]); err == nil {
		t.Fatal("oldest session should have been evicted")
	}
	if a.ActiveSessions() != 2 {
		t.Fatalf("ActiveSessions() = %d, want 2", a.ActiveSessions())
	}
}

func TestNewFailsOnBadDBPath(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.DBPath = filepath.Join(blocker, "clario.db")
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for an unusable database path")
	}
}
