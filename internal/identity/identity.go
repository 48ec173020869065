// Package identity provides token-based caller identity for the relay server.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

const (
	// TokenQueryParam carries the credential on websocket upgrades.
	TokenQueryParam = "token"
	// UserHeaderName lets a trusted caller pick its user ID.
	UserHeaderName = "X-User-ID"
)

type contextKey int

const (
	userIDKey contextKey = iota
	tokenKey
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// TokenFromContext extracts the authenticated token from the request context.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying the given identity.
func WithUser(ctx context.Context, userID, token string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromRequest reads the credential from the Authorization header or,
// for browser websocket upgrades, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return h
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
}

// DeriveUserID maps a token to a stable opaque user ID.
func DeriveUserID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "user_" + hex.EncodeToString(sum[:8])
}

// Authenticator validates tokens against an allow-list. An empty list
// accepts any non-empty token.
type Authenticator struct {
	tokens []string
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens []string) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Valid reports whether token may call the relay.
func (a *Authenticator) Valid(token string) bool {
	if token == "" {
		return false
	}
	if len(a.tokens) == 0 {
		return true
	}
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid token and injects the caller's identity.
func Middleware(auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if !auth.Valid(token) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code": http.StatusUnauthorized,
					"msg":  "not login",
				})
				return
			}

			userID := strings.TrimSpace(r.Header.Get(UserHeaderName))
			if userID == "" {
				userID = DeriveUserID(token)
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, token)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
