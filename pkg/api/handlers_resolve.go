package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/linkresolver"
	"github.com/mozilla-rally/web-science-sub001/pkg/matching"
	"github.com/mozilla-rally/web-science-sub001/pkg/policy"
	"github.com/mozilla-rally/web-science-sub001/pkg/storage"
)

// handleResolve handles POST /api/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Resolver not available")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if _, err := url.Parse(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, "url is not parseable")
		return
	}

	modeStr, rule, err := s.requestMode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := linkresolver.ModeFromString(modeStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := s.resolver.DefaultOptions()
	opts.Request = mode

	// A rule with rewriter overrides produces results the mode-keyed cache
	// cannot represent, so those resolutions bypass it.
	useCache := s.cache != nil
	if rule != nil && rule.Rewriters != nil {
		opts.UnwrapCache = !rule.Rewriters.DisableCacheUnwrap
		opts.UnwrapShim = !rule.Rewriters.DisableShimUnwrap
		opts.StripDecoration = !rule.Rewriters.DisableDecorationStrip
		useCache = false
	}

	start := time.Now()

	if useCache {
		if finalURL, ok := s.cache.Get(req.URL, modeStr); ok {
			s.metrics.AddCacheHit(r.Context())
			s.logResolution(&storage.ResolutionLog{
				SourceURL:   req.URL,
				SourceHost:  hostOf(req.URL),
				FinalURL:    finalURL,
				Outcome:     "resolved",
				RequestMode: modeStr,
				DurationMs:  float64(time.Since(start).Microseconds()) / 1000,
				Cached:      true,
			})
			s.writeJSON(w, http.StatusOK, ResolveResponse{
				SourceURL:   req.URL,
				FinalURL:    finalURL,
				Outcome:     "resolved",
				RequestMode: modeStr,
				Cached:      true,
				DurationMs:  float64(time.Since(start).Microseconds()) / 1000,
			})
			return
		}
		s.metrics.AddCacheMiss(r.Context())
	}

	res, err := s.resolver.ResolveDetailed(r.Context(), req.URL, opts)
	duration := time.Since(start)

	if err != nil {
		reason := linkresolver.FailureReason(err)
		s.logResolution(&storage.ResolutionLog{
			SourceURL:     req.URL,
			SourceHost:    hostOf(req.URL),
			Outcome:       "failed",
			FailureReason: reason,
			RequestMode:   modeStr,
			DurationMs:    float64(duration.Microseconds()) / 1000,
		})
		s.writeError(w, statusForResolveError(err), "Resolution failed: "+reason)
		return
	}

	outcome := "resolved"
	if res.Immediate {
		outcome = "immediate"
	} else if useCache {
		s.cache.Set(req.URL, modeStr, res.FinalURL)
	}

	s.logResolution(&storage.ResolutionLog{
		SourceURL:     req.URL,
		SourceHost:    hostOf(req.URL),
		FinalURL:      res.FinalURL,
		Outcome:       outcome,
		RequestMode:   modeStr,
		RedirectCount: res.Redirects,
		DurationMs:    float64(duration.Microseconds()) / 1000,
	})

	s.writeJSON(w, http.StatusOK, ResolveResponse{
		SourceURL:     req.URL,
		FinalURL:      res.FinalURL,
		Outcome:       outcome,
		RequestMode:   modeStr,
		RedirectCount: res.Redirects,
		DurationMs:    float64(duration.Microseconds()) / 1000,
	})
}

// requestMode picks the mode for one resolution: an explicit body override
// wins, then the highest-priority matching policy rule, then the configured
// default. The matched rule is returned either way so its other overrides
// still apply.
func (s *Server) requestMode(req *ResolveRequest) (string, *policy.Rule, error) {
	var rule *policy.Rule
	if s.policies != nil {
		if matched, r := s.policies.Evaluate(policy.NewContext(req.URL)); matched {
			rule = r
		}
	}

	if req.RequestMode != "" {
		switch req.RequestMode {
		case config.RequestModeAlways, config.RequestModeKnownShorteners, config.RequestModeNever:
			return req.RequestMode, rule, nil
		default:
			return "", nil, errors.New("invalid request_mode")
		}
	}

	if rule != nil && rule.RequestMode != "" {
		return rule.RequestMode, rule, nil
	}

	if s.defaultMode != "" {
		return s.defaultMode, rule, nil
	}
	return config.RequestModeKnownShorteners, rule, nil
}

func statusForResolveError(err error) int {
	switch {
	case errors.Is(err, linkresolver.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, linkresolver.ErrRedirectLimit), errors.Is(err, linkresolver.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// logResolution records one resolution in storage; drops are already counted
// by the storage metrics hook.
func (s *Server) logResolution(entry *storage.ResolutionLog) {
	if s.storage == nil {
		return
	}
	if err := s.storage.LogResolution(context.Background(), entry); err != nil && !errors.Is(err, storage.ErrBufferFull) {
		s.logger.Debug("Failed to log resolution", "error", err)
	}
}

// handleMatch handles POST /api/match
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	// With no patterns, check against the known-shortener set.
	if len(req.Patterns) == 0 {
		if s.shorteners == nil {
			s.writeError(w, http.StatusServiceUnavailable, "Shortener list not available")
			return
		}
		s.writeJSON(w, http.StatusOK, MatchResponse{
			URL:     req.URL,
			Matched: s.shorteners.Set().Matches(req.URL),
		})
		return
	}

	results := make([]PatternMatch, 0, len(req.Patterns))
	var any bool
	for _, pattern := range req.Patterns {
		set, err := matching.BuildSet([]string{pattern})
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid pattern "+pattern+": "+err.Error())
			return
		}
		matched := set.Matches(req.URL)
		any = any || matched
		results = append(results, PatternMatch{Pattern: pattern, Matched: matched})
	}

	s.writeJSON(w, http.StatusOK, MatchResponse{
		URL:      req.URL,
		Matched:  any,
		Patterns: results,
	})
}

// handleShorteners handles GET /api/shorteners
func (s *Server) handleShorteners(w http.ResponseWriter, r *http.Request) {
	if s.shorteners == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Shortener list not available")
		return
	}

	domains := s.shorteners.Domains()
	s.writeJSON(w, http.StatusOK, ShortenersResponse{
		Domains: domains,
		Count:   len(domains),
	})
}

// handleShortenersReload handles POST /api/shorteners/reload
func (s *Server) handleShortenersReload(w http.ResponseWriter, r *http.Request) {
	if s.shorteners == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Shortener list not available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	if err := s.shorteners.Update(ctx); err != nil {
		s.logger.Error("Failed to reload shortener lists", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to reload shortener lists")
		return
	}

	s.writeJSON(w, http.StatusOK, ShortenersReloadResponse{
		Status:  "ok",
		Domains: len(s.shorteners.Domains()),
		Message: "Shortener lists reloaded successfully",
	})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
