// Package llm is the narrow boundary between the conversation core and a
// language model. Everything above it depends only on Client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Request is one completion call.
type Request struct {
	// Tag names the caller for logs and test doubles, e.g. "intent" or
	// "agent:promoter".
	Tag         string
	System      string
	Prompt      string
	Temperature *float32
	MaxTokens   int
}

// Client turns a prompt into text. Implementations must be safe for
// concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Kind classifies LLM failures.
type Kind string

// Failure kinds.
const (
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindRateLimited Kind = "rate_limited"
	KindBadResponse Kind = "bad_response"
	KindCanceled    Kind = "canceled"
	KindDisabled    Kind = "disabled"
)

// Error is a classified LLM failure.
type Error struct {
	Kind Kind
	Tag  string
	Err  error
}

func (e *Error) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("llm %s (%s): %v", e.Kind, e.Tag, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether trying again might help.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindUnavailable, KindRateLimited:
		return true
	}
	return false
}

// ErrDisabled is returned by Disabled.
var ErrDisabled = errors.New("no language model configured")

// Disabled is the Client used when no model is configured. Every call fails,
// so callers exercise their degraded paths.
type Disabled struct{}

// Complete implements Client.
func (Disabled) Complete(_ context.Context, req Request) (string, error) {
	return "", &Error{Kind: KindDisabled, Tag: req.Tag, Err: ErrDisabled}
}

// Classify wraps err into an *Error. Errors that are already classified are
// returned unchanged.
func Classify(tag string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	kind := KindUnavailable
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
			kind = KindRateLimited
		case strings.Contains(msg, "timeout"):
			kind = KindTimeout
		case strings.Contains(msg, "status code: 4"), strings.Contains(msg, "invalid"):
			kind = KindBadResponse
		}
	}
	return &Error{Kind: kind, Tag: tag, Err: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == kind
}
