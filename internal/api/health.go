package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db         Pinger
	llmEnabled bool
	sessions   func() int
}

// NewHealthHandler creates a new health handler. activeSessions may be nil.
func NewHealthHandler(db Pinger, llmEnabled bool, activeSessions func() int) *HealthHandler {
	return &HealthHandler{db: db, llmEnabled: llmEnabled, sessions: activeSessions}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// Without a model the service still answers, with error responses.
	if h.llmEnabled {
		checks["llm"] = "configured"
	} else {
		checks["llm"] = "disabled"
	}
	if h.sessions != nil {
		status["activeSessions"] = h.sessions()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
