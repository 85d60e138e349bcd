package admin

import (
	"net/http"
	"strings"

	"github.com/logtide/logtide/cfg"
)

// AuthMiddleware validates token authentication for admin endpoints
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no token is configured, skip authentication
		if !cfg.IsAdminAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := cfg.GetAdminAuthToken()

		// Check X-Logtide-Token header
		providedToken := r.Header.Get("X-Logtide-Token")
		if providedToken == "" {
			// Check Authorization: Bearer header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
				return
			}
			// Parse "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			providedToken = parts[1]
		}

		if providedToken != token {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// Authenticated - proceed to next handler
		next.ServeHTTP(w, r)
	})
}
