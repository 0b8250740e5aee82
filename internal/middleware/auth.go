package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ayush/station-chat/backend/internal/auth"
)

type ctxKey struct{}

// RequireAuth is middleware that pulls the session token from the session
// cookie (or an "Authorization: Bearer" header) and injects it into the
// request context. Requests without a token are rejected here; whether the
// token is valid is decided by the gate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"kind":"unauthorized","message":"not authenticated"}}`))
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest returns the session token carried by r, or "".
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Token returns the token RequireAuth stored in ctx.
func Token(ctx context.Context) string {
	tok, _ := ctx.Value(ctxKey{}).(string)
	return tok
}
