// Package app assembles the conversation stack from configuration. The HTTP
// server and the MCP command share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/clario/internal/agent"
	"github.com/ashureev/clario/internal/analyzer"
	"github.com/ashureev/clario/internal/config"
	"github.com/ashureev/clario/internal/intent"
	"github.com/ashureev/clario/internal/llm"
	"github.com/ashureev/clario/internal/orchestrator"
	"github.com/ashureev/clario/internal/realtime"
	"github.com/ashureev/clario/internal/session"
	"github.com/ashureev/clario/internal/store"
)

// App holds the long-lived components.
type App struct {
	Config       *config.Config
	Store        *store.SQLiteStore
	LLM          llm.Client
	LLMEnabled   bool
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Manager
	Hub          *realtime.Hub

	logger  *slog.Logger
	closers []func() error
}

// New opens the store, builds the LLM client and wires sessions to the hub.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.Store = repo
	a.closers = append(a.closers, repo.Close)

	if err := repo.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}

	a.LLM, a.LLMEnabled, err = newLLM(ctx, cfg.LLM, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var convLog orchestrator.ConversationLogger = orchestrator.NopConversationLogger{}
	if cfg.ConversationLog.Enabled || cfg.ConversationLog.GlobalEnabled {
		fl, err := orchestrator.NewConversationLogger(orchestrator.ConversationLogConfig{
			Enabled:       cfg.ConversationLog.Enabled,
			Dir:           cfg.ConversationLog.Dir,
			GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
			GlobalPath:    cfg.ConversationLog.GlobalPath,
			QueueSize:     cfg.ConversationLog.QueueSize,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize conversation logger: %w", err)
		}
		convLog = fl
		a.closers = append(a.closers, fl.Close)
	}

	mode := intent.Mode(cfg.Conversation.IntentMode)
	if !a.LLMEnabled {
		mode = intent.ModeRules
	}
	a.Orchestrator = orchestrator.New(
		intent.New(a.LLM, mode, logger),
		agent.NewRegistry(a.LLM, nil),
		orchestrator.Config{IntentThreshold: cfg.Conversation.IntentThreshold},
		convLog,
		logger,
	)

	opts := []analyzer.Option{analyzer.WithLogger(logger)}
	if cfg.Conversation.SkipConsistencyScan || !a.LLMEnabled {
		opts = append(opts, analyzer.WithoutConsistencyCheck())
	}

	a.Hub = realtime.NewHub(cfg.Realtime.BacklogSize, logger)

	var mgr *session.Manager
	sessions := session.NewMemoryStore(cfg.Conversation.MaxSessions, func(s *session.Session) {
		mgr.Evict(s)
	})
	mgr = session.NewManager(
		sessions,
		repo,
		analyzer.New(a.LLM, opts...),
		a.Orchestrator,
		a.Hub,
		session.Config{TurnTimeout: cfg.Conversation.TurnTimeout, SessionTTL: cfg.Conversation.SessionTTL},
		logger,
	)
	mgr.OnEnd(a.Hub.Forget)
	a.Sessions = mgr

	logger.Info("Conversation stack ready",
		"llm_enabled", a.LLMEnabled, "intent_mode", mode, "max_sessions", cfg.Conversation.MaxSessions)
	return a, nil
}

func newLLM(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (llm.Client, bool, error) {
	if !cfg.Enabled() {
		logger.Info("LLM disabled (LLM_API_KEY or LLM_MODEL not set), agents will answer with errors")
		return llm.Disabled{}, false, nil
	}
	oa, err := llm.NewOpenAI(ctx, llm.OpenAIConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, false, fmt.Errorf("initialize llm client: %w", err)
	}
	return llm.NewRetrying(oa, llm.RetryConfig{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
	}, logger), true, nil
}

// ActiveSessions reports the number of live sessions.
func (a *App) ActiveSessions() int {
	return len(a.Sessions.Active())
}

// Close stops sessions and releases resources in reverse order.
func (a *App) Close() {
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
