// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	GRPCHealthPort     string
	MaxRequestBodySize int64
	LLM                LLMConfig
	Conversation       ConversationConfig
	Realtime           RealtimeConfig
	RateLimit          RateLimitConfig
	ConversationLog    ConversationLogConfig
}

// LLMConfig points the LLM client at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Enabled reports whether enough is configured to reach a model.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// ConversationConfig tunes sessions and turn routing.
type ConversationConfig struct {
	IntentMode          string // "llm" or "rules"
	IntentThreshold     float64
	SessionTTL          time.Duration
	MaxSessions         int
	TurnTimeout         time.Duration
	SkipConsistencyScan bool
}

// RealtimeConfig tunes the WebSocket channel.
type RealtimeConfig struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReconnectGrace time.Duration
	BacklogSize    int
	OutboxSize     int
}

// RateLimitConfig limits conversation messages per client.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/clario.db"),
		GRPCHealthPort:     getEnv("GRPC_HEALTH_PORT", ""),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		LLM: LLMConfig{
			BaseURL:        getEnv("LLM_BASE_URL", "https://open.bigmodel.cn/api/paas/v4/"),
			APIKey:         getEnv("LLM_API_KEY", ""),
			Model:          getEnv("LLM_MODEL", "glm-4"),
			Temperature:    float32(getEnvFloat("LLM_TEMPERATURE", 0.7)),
			MaxTokens:      getEnvInt("LLM_MAX_TOKENS", 2000),
			Timeout:        getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			MaxRetries:     getEnvInt("LLM_MAX_RETRIES", 2),
			RetryBaseDelay: getEnvDuration("LLM_RETRY_BASE_DELAY", 500*time.Millisecond),
		},
		Conversation: ConversationConfig{
			IntentMode:          strings.ToLower(getEnv("INTENT_MODE", "llm")),
			IntentThreshold:     getEnvFloat("INTENT_CONFIDENCE_THRESHOLD", 0.5),
			SessionTTL:          getEnvDuration("SESSION_TTL", 60*time.Minute),
			MaxSessions:         getEnvInt("MAX_SESSIONS", 1000),
			TurnTimeout:         getEnvDuration("TURN_TIMEOUT", 90*time.Second),
			SkipConsistencyScan: getEnvBool("SKIP_CONSISTENCY_SCAN", false),
		},
		Realtime: RealtimeConfig{
			PingInterval:   getEnvDuration("WS_PING_INTERVAL", 25*time.Second),
			WriteTimeout:   getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			ReconnectGrace: getEnvDuration("WS_RECONNECT_GRACE", 30*time.Second),
			BacklogSize:    getEnvInt("WS_BACKLOG_SIZE", 64),
			OutboxSize:     getEnvInt("WS_OUTBOX_SIZE", 128),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	switch c.Conversation.IntentMode {
	case "llm", "rules":
	default:
		return fmt.Errorf("INTENT_MODE must be llm or rules, got %q", c.Conversation.IntentMode)
	}
	if c.Conversation.IntentThreshold < 0 || c.Conversation.IntentThreshold > 1 {
		return fmt.Errorf("INTENT_CONFIDENCE_THRESHOLD must be within [0,1]")
	}
	if c.Conversation.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be > 0")
	}
	if c.Realtime.BacklogSize <= 0 || c.Realtime.OutboxSize <= 0 {
		return fmt.Errorf("WS_BACKLOG_SIZE and WS_OUTBOX_SIZE must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
