package session

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = time.Minute

// StartSweeper runs a background goroutine that periodically ends sessions
// idle longer than the manager's TTL.
func StartSweeper(ctx context.Context, m *Manager) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", sweepInterval, "ttl", m.cfg.SessionTTL)

		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					slog.Info("session sweeper ended idle sessions", "count", n)
				}
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
