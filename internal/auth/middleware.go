package auth

import (
	"net/http"
	"strings"

	"github.com/peteollama/jamie-gateway/internal/httputil"
)

// Middleware authenticates requests via a static Bearer token compared
// against the configured VAPI secret. secret is read per request so a
// config reload takes effect without restart.
func Middleware(secret func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <token>")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader || token == "" {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <token>")
				return
			}

			if !Equal(token, secret()) {
				httputil.WriteAuthError(w, reqID, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
