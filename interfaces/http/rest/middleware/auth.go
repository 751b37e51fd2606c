package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "userID"

// AnonymousUser is the user id given to requests when authentication is off
const AnonymousUser = "anonymous"

// Verifier resolves a bearer token to a user id.
// *supabase.TokenVerifier satisfies it.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Authenticate rejects requests without a valid token when required is set.
// Otherwise a valid token still identifies the user and a missing one is
// treated as AnonymousUser.
func Authenticate(verifier Verifier, required bool, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)

			if token == "" || verifier == nil {
				if required {
					respondUnauthorized(w, "Missing authentication token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), AnonymousUser)))
				return
			}

			userID, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Warn("Invalid token",
					zap.Error(err),
					zap.String("path", r.URL.Path),
				)
				respondUnauthorized(w, "Invalid token")
				return
			}

			logger.Debug("Request authenticated",
				zap.String("userID", userID),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID stores the authenticated user on ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user, or "" outside Authenticate
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// extractToken reads the Authorization header, then the auth_token cookie,
// then the token query parameter, which browsers need for websocket upgrades.
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return authHeader
	}

	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}

	return r.URL.Query().Get("token")
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"type":    "UNAUTHORIZED",
		"message": message,
		"code":    http.StatusUnauthorized,
	})
}
