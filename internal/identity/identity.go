// Package identity provides anonymous per-device client identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	ClientCookieName   = "clario_client_id"
	// ClientHeaderName lets non-browser clients (the CLI, MCP bridge) pin
	// their identity without cookies.
	ClientHeaderName   = "X-Clario-Client-ID"
	clientCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const clientIDKey contextKey = iota

var clientIDPattern = regexp.MustCompile(`^client_[a-f0-9]{32}$`)

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientID returns ctx carrying id. Used by transports that do not go
// through Middleware.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// NewClientID returns a random client identifier.
func NewClientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return "client_" + hex.EncodeToString(buf), nil
}

// IsValidClientID reports whether id has the shape NewClientID produces.
func IsValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func setClientCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(clientCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if id := strings.TrimSpace(r.Header.Get(ClientHeaderName)); IsValidClientID(id) {
		return id, nil
	}
	if c, err := r.Cookie(ClientCookieName); err == nil && IsValidClientID(c.Value) {
		setClientCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := NewClientID()
	if err != nil {
		return "", err
	}
	setClientCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous client identity into the request context.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := getOrCreateClientID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish client identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
