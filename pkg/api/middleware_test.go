package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
)

func get(t *testing.T, s *Server, path string, prepare func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:52010"
	if prepare != nil {
		prepare(req)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewareAPIKey(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.API = &config.APIConfig{
			Auth: config.AuthConfig{
				Enabled: true,
				APIKey:  "secret-key",
				Header:  "X-API-Key",
			},
		}
	})

	rec := get(t, s, "/api/shorteners", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, s, "/api/shorteners", func(r *http.Request) {
		r.Header.Set("X-API-Key", "secret-key")
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Bearer form in the fallback Authorization header also works.
	rec = get(t, s, "/api/shorteners", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret-key")
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, s, "/api/shorteners", func(r *http.Request) {
		r.Header.Set("X-API-Key", "wrong-key")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareBasic(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	s := newTestServer(t, func(cfg *Config) {
		cfg.API = &config.APIConfig{
			Auth: config.AuthConfig{
				Enabled:      true,
				Username:     "admin",
				PasswordHash: string(hash),
			},
		}
	})

	rec := get(t, s, "/api/shorteners", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	rec = get(t, s, "/api/shorteners", func(r *http.Request) {
		r.SetBasicAuth("admin", "hunter2")
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, s, "/api/shorteners", func(r *http.Request) {
		r.SetBasicAuth("admin", "wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, s, "/api/shorteners", func(r *http.Request) {
		r.SetBasicAuth("intruder", "hunter2")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareBypassesProbes(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.API = &config.APIConfig{
			Auth: config.AuthConfig{Enabled: true, APIKey: "secret-key"},
		}
	})

	for _, path := range []string{"/healthz", "/readyz", "/api/health"} {
		rec := get(t, s, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"bare token", "Authorization", "secret", "secret"},
		{"bearer token", "Authorization", "Bearer secret", "secret"},
		{"custom header", "X-API-Key", "secret", "secret"},
		{"malformed", "Authorization", "Basic one two", ""},
		{"empty", "Authorization", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.value != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, extractAPIKey(req, tt.header))
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.API = &config.APIConfig{
			RateLimit: config.RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 0.001,
				Burst:             2,
			},
		}
	})
	defer s.rateLimiter.Stop()

	rec := get(t, s, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = get(t, s, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, s, "/api/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "198.51.100.9:40000"
	other := httptest.NewRecorder()
	s.handler.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestClientIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIPFromRequest(req))

	req.RemoteAddr = "192.0.2.1"
	assert.Equal(t, "192.0.2.1", clientIPFromRequest(req))

	// Proxy headers are ignored on purpose.
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	assert.Equal(t, "192.0.2.1", clientIPFromRequest(req))
}
