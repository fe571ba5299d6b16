package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/session"
)

type contextKey string

const (
	userContextKey  contextKey = "user"
	tokenContextKey contextKey = "token"
)

// TokenHeader carries the caller's session token. The token is an
// opaque server-minted credential, not the caller's own user id.
const TokenHeader = "X-Session-Token"

// AuthMiddleware resolves session tokens for authenticated endpoints.
type AuthMiddleware struct {
	sessions session.Store
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(sessions session.Store) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// RequireSession rejects requests without a resolvable session token
// and stashes the caller's user id and token in the request context.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(TokenHeader)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing session token")
			return
		}

		userID, err := m.sessions.Resolve(r.Context(), token)
		if err != nil {
			jsonError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		if userID == "" {
			jsonError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, userID)
		ctx = context.WithValue(ctx, tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// UserFromContext retrieves the authenticated user id, or "".
func UserFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userContextKey).(string)
	return userID
}

// TokenFromContext retrieves the caller's session token, or "".
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}
