package api

import (
	"net"
	"net/http"
)

// rateLimitMiddleware enforces per-IP limits on the HTTP API.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			// Skip limiter for CORS preflight
			next.ServeHTTP(w, r)
			return
		}

		if s.rateLimiter.Allow(clientIPFromRequest(r)) {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	})
}

// clientIPFromRequest keys the limiter on the transport peer address.
// Proxy headers are client-controlled and deliberately not trusted.
func clientIPFromRequest(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
