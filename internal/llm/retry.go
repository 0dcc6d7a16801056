package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds every call made through Retrying.
type RetryConfig struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Retrying applies a per-attempt timeout and exponential backoff on
// retryable failures.
type Retrying struct {
	next   Client
	cfg    RetryConfig
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewRetrying wraps next.
func NewRetrying(next Client, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Complete implements Client.
func (r *Retrying) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(r.cfg.BaseDelay, r.cfg.MaxDelay, attempt-1)
			r.logger.Warn("retrying llm call",
				"tag", req.Tag, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return "", Classify(req.Tag, err)
			}
		}

		text, err := r.attempt(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = Classify(req.Tag, err)

		var le *Error
		if !errors.As(lastErr, &le) || !le.Retryable() || ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

func (r *Retrying) attempt(ctx context.Context, req Request) (string, error) {
	if r.cfg.Timeout <= 0 {
		return r.next.Complete(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	text, err := r.next.Complete(callCtx, req)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", &Error{Kind: KindTimeout, Tag: req.Tag, Err: err}
	}
	return text, err
}

// Backoff is base*2^attempt capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
