package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/xielinshan811-lab/svg-animate/internal/auth"
	"github.com/xielinshan811-lab/svg-animate/internal/http/respond"
)

type contextKey string

const userIDKey contextKey = "userID"

// BearerToken extracts the token from an Authorization header, returning an
// empty string when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// Auth rejects requests without a valid bearer token and stores the resolved
// user ID in the request context.
func Auth(tokens *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				respond.Error(w, http.StatusUnauthorized, "authorization required")
				return
			}
			userID, err := tokens.Verify(token)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated user ID stored by Auth.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
