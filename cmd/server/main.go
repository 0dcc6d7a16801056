// Clario - conversational requirements server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/clario/internal/api"
	"github.com/ashureev/clario/internal/app"
	"github.com/ashureev/clario/internal/config"
	"github.com/ashureev/clario/internal/health"
	"github.com/ashureev/clario/internal/identity"
	"github.com/ashureev/clario/internal/middleware"
	"github.com/ashureev/clario/internal/realtime"
	"github.com/ashureev/clario/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	stack, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation stack", "error", err)
		os.Exit(1)
	}
	defer stack.Close()
	slog.Info("Database connected", "path", cfg.DBPath)

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()

	wsHandler := realtime.NewWebSocketHandler(stack.Sessions, stack.Hub, realtime.Options{
		PingInterval:   cfg.Realtime.PingInterval,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		ReconnectGrace: cfg.Realtime.ReconnectGrace,
		OutboxSize:     cfg.Realtime.OutboxSize,
		AllowedOrigin:  cfg.FrontendURL,
		IsDev:          cfg.IsDevelopment(),
	}, logger)
	conversationHandler := api.NewConversationHandler(
		stack.Sessions, stack.Orchestrator, stack.Store, limiter, cfg.MaxRequestBodySize, wsHandler)
	projectHandler := api.NewProjectHandler(stack.Store, cfg.MaxRequestBodySize)
	healthHandler := api.NewHealthHandler(stack.Store, stack.LLMEnabled, stack.ActiveSessions)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	conversationHandler.RegisterRoutes(r)
	projectHandler.RegisterRoutes(r)

	// Create server.
	// WriteTimeout stays 0: WebSocket connections are long lived and turns
	// can take as long as TURN_TIMEOUT.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start session TTL worker.
	session.StartSweeper(ctx, stack.Sessions)
	slog.Info("Session sweeper started", "session_ttl", cfg.Conversation.SessionTTL)

	// gRPC health (optional).
	var healthSrv *health.Server
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err, "port", cfg.GRPCHealthPort)
			os.Exit(1)
		}
		healthSrv = health.New(stack.Store, 15*time.Second, logger)
		go healthSrv.Run(ctx)
		go func() {
			slog.Info("gRPC health listening", "addr", lis.Addr().String())
			if err := healthSrv.Serve(lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	if healthSrv != nil {
		healthSrv.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
