package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// StaffToken guards staff routes with a static bearer token. Browsers cannot
// set headers on WebSocket upgrades, so a "token" query parameter is accepted
// too. An empty token disables the check.
func StaffToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Let CORS preflight through; it carries no credentials.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented == "" {
				presented = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("Rejected staff API request", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
