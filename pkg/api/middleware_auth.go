package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Probes stay reachable without credentials.
var authBypassPaths = map[string]struct{}{
	"/healthz":    {},
	"/readyz":     {},
	"/api/health": {},
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if !s.authEnabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authRequired(r) {
			next.ServeHTTP(w, r)
			return
		}

		if s.authorizeRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		if s.basicUser != "" && s.passwordHash != "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="web-science", charset="UTF-8"`)
		}
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

func authRequired(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return false
	}
	_, bypass := authBypassPaths[r.URL.Path]
	return !bypass
}

func (s *Server) authorizeRequest(r *http.Request) bool {
	// Try API key authentication
	if s.apiKey != "" {
		if token := extractAPIKey(r, s.authHeader); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) == 1 {
				return true
			}
		}
	}

	// Try Basic Auth against the bcrypt hash
	if s.basicUser != "" && s.passwordHash != "" {
		if user, pass, ok := r.BasicAuth(); ok {
			if subtle.ConstantTimeCompare([]byte(user), []byte(s.basicUser)) != 1 {
				return false
			}
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(pass)); err == nil {
				return true
			}
		}
	}

	return false
}

func extractAPIKey(r *http.Request, header string) string {
	if header == "" {
		header = "Authorization"
	}

	value := strings.TrimSpace(r.Header.Get(header))
	if value == "" && !strings.EqualFold(header, "Authorization") {
		value = strings.TrimSpace(r.Header.Get("Authorization"))
	}
	if value == "" {
		return ""
	}

	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return ""
}
