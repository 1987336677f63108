package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenCookie is the cookie the token is read from when no Authorization
// header is present.
const TokenCookie = "token"

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of this type, so no other package can
// read or shadow the claims stored under it.
type contextKey string

const claimsKey contextKey = "sessionClaims"

// RequireAuth enforces a valid session token on protected routes.
//
// The token is read from "Authorization: Bearer <jwt>" first and from the
// "token" cookie second. A missing or invalid token answers 401 and stops
// the chain; a valid one stores its claims in the request context.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				unauthorized(w, "authentication token is required")
				return
			}

			claims, err := tokens.Validate(raw)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireAuth.
// Returns (nil, false) on routes that are not protected.
func ClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*SessionClaims)
	return c, ok && c != nil
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
