// Package middleware provides HTTP middleware for the Clario API.
package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/ashureev/clario/internal/identity"
)

var allowHeaders = strings.Join([]string{"Content-Type", identity.ClientHeaderName}, ", ")

// AllowedOrigins derives the CORS allow list from the configured frontend.
// Development and unset frontends allow any origin.
func AllowedOrigins(frontendURL string, isDev bool) []string {
	frontendURL = strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	if isDev || frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(allowedOrigins, origin)

			if origin != "" && (wildcard || explicit) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				w.Header().Add("Vary", "Origin")
				// Credentials only for listed origins; echoing a wildcard
				// match with credentials would allow CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
