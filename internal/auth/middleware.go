package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/haasonsaas/jarvis/internal/observability"
)

// Middleware rejects requests without a valid token when s is enabled. The
// token is read from the Authorization header, or from the token query
// parameter for browsers that cannot set headers on a WebSocket upgrade.
func Middleware(s *JWTService, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		if !s.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				unauthorized(w, "missing credentials")
				return
			}
			p, err := s.Validate(token)
			if err != nil {
				logger.Warn(r.Context(), "jwt validation failed", "error", err, "path", r.URL.Path)
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// TokenFromRequest extracts a bearer token from the header or query string.
func TokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="jarvis"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
