package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/linkresolver"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
	"github.com/mozilla-rally/web-science-sub001/pkg/policy"
	"github.com/mozilla-rally/web-science-sub001/pkg/shorteners"
)

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	logger := logging.NewDefault()

	mgr, err := shorteners.NewManager(&config.ShortenersConfig{}, logger, nil, nil)
	require.NoError(t, err)

	resolver := linkresolver.NewEngine(&config.ResolutionConfig{
		Timeout:       5 * time.Second,
		RedirectLimit: 20,
		RequestMode:   config.RequestModeNever,
	}, logger, nil, mgr, nil)

	cfg := &Config{
		DefaultMode: config.RequestModeNever,
		Resolver:    resolver,
		Shorteners:  mgr,
		Logger:      logger,
		Version:     "test",
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleResolveImmediate(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/resolve", ResolveRequest{
		URL: "https://example.com/page?fbclid=IwAR0abc&q=1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://example.com/page?q=1", resp.FinalURL)
	assert.Equal(t, "immediate", resp.Outcome)
	assert.Equal(t, config.RequestModeNever, resp.RequestMode)
	assert.False(t, resp.Cached)
}

func TestHandleResolveValidation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/resolve", ResolveRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/resolve", ResolveRequest{
		URL:         "https://example.com/",
		RequestMode: "sometimes",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader([]byte("{not json")))
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResolvePolicyOverride(t *testing.T) {
	policies, err := policy.NewEngine([]config.PolicyRule{
		{Name: "never resolve internal", When: `Host == "intranet.example"`, RequestMode: config.RequestModeNever},
	})
	require.NoError(t, err)

	s := newTestServer(t, func(cfg *Config) {
		cfg.Policies = policies
		cfg.DefaultMode = config.RequestModeKnownShorteners
	})

	rec := doJSON(t, s, http.MethodPost, "/api/resolve", ResolveRequest{
		URL: "https://intranet.example/wiki",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, config.RequestModeNever, resp.RequestMode)
	assert.Equal(t, "immediate", resp.Outcome)
}

func TestHandleMatchPatterns(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/match", MatchRequest{
		URL:      "https://news.example.com/story",
		Patterns: []string{"*://*.example.com/*", "https://other.example/*"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Matched)
	require.Len(t, resp.Patterns, 2)
	assert.True(t, resp.Patterns[0].Matched)
	assert.False(t, resp.Patterns[1].Matched)
}

func TestHandleMatchInvalidPattern(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/match", MatchRequest{
		URL:      "https://example.com/",
		Patterns: []string{"example.com/*"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMatchShortenerSet(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/match", MatchRequest{URL: "https://bit.ly/abc"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Matched)

	rec = doJSON(t, s, http.MethodPost, "/api/match", MatchRequest{URL: "https://example.com/abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Matched)
}

func TestHandleShorteners(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/shorteners", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ShortenersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, len(resp.Domains), resp.Count)
	assert.Contains(t, resp.Domains, "bit.ly")
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)

	rec = doJSON(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
}

func TestStatsWithoutStorage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/resolutions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/top-hosts", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleResolveRewriterOverride(t *testing.T) {
	policies, err := policy.NewEngine([]config.PolicyRule{
		{
			Name: "keep tracking params for research hosts",
			When: `Host == "study.example"`,
			Rewriters: &config.RewritersConfig{
				DisableDecorationStrip: true,
			},
		},
	})
	require.NoError(t, err)

	s := newTestServer(t, func(cfg *Config) {
		cfg.Policies = policies
	})

	var resp ResolveResponse
	rec := doJSON(t, s, http.MethodPost, "/api/resolve", ResolveRequest{
		URL: "https://study.example/page?fbclid=IwAR0abc&q=1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://study.example/page?fbclid=IwAR0abc&q=1", resp.FinalURL)

	// Hosts outside the rule still get the default stripping.
	rec = doJSON(t, s, http.MethodPost, "/api/resolve", ResolveRequest{
		URL: "https://other.example/page?fbclid=IwAR0abc&q=1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://other.example/page?q=1", resp.FinalURL)
}
