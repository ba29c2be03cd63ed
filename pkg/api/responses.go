package api

import (
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/storage"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status string `json:"status"` // "alive"
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status string            `json:"status"` // "ready" or "not_ready"
	Checks map[string]string `json:"checks"` // Component health status
}

// ResolveRequest is the body of POST /api/resolve
type ResolveRequest struct {
	URL string `json:"url"`

	// RequestMode overrides the configured mode for this resolution.
	RequestMode string `json:"request_mode,omitempty"`
}

// ResolveResponse represents one resolved link
type ResolveResponse struct {
	SourceURL     string  `json:"source_url"`
	FinalURL      string  `json:"final_url"`
	Outcome       string  `json:"outcome"` // resolved or immediate
	RequestMode   string  `json:"request_mode"`
	RedirectCount int     `json:"redirect_count"`
	Cached        bool    `json:"cached"`
	DurationMs    float64 `json:"duration_ms"`
}

// MatchRequest is the body of POST /api/match. With no patterns the URL is
// checked against the known-shortener set.
type MatchRequest struct {
	URL      string   `json:"url"`
	Patterns []string `json:"patterns,omitempty"`
}

// PatternMatch reports one pattern's verdict
type PatternMatch struct {
	Pattern string `json:"pattern"`
	Matched bool   `json:"matched"`
}

// MatchResponse represents the match verdict for a URL
type MatchResponse struct {
	URL      string         `json:"url"`
	Matched  bool           `json:"matched"`
	Patterns []PatternMatch `json:"patterns,omitempty"`
}

// ShortenersResponse lists the known shortener domains
type ShortenersResponse struct {
	Domains []string `json:"domains"`
	Count   int      `json:"count"`
}

// ShortenersReloadResponse represents a shortener list reload result
type ShortenersReloadResponse struct {
	Status  string `json:"status"`
	Domains int    `json:"domains"`
	Message string `json:"message,omitempty"`
}

// ResolutionResponse represents a single resolution log entry
type ResolutionResponse struct {
	ID            int64   `json:"id"`
	Timestamp     string  `json:"timestamp"` // ISO 8601 format
	SourceURL     string  `json:"source_url"`
	SourceHost    string  `json:"source_host"`
	FinalURL      string  `json:"final_url,omitempty"`
	Outcome       string  `json:"outcome"`
	FailureReason string  `json:"failure_reason,omitempty"`
	RequestMode   string  `json:"request_mode"`
	RedirectCount int     `json:"redirect_count"`
	DurationMs    float64 `json:"duration_ms"`
	Cached        bool    `json:"cached"`
}

// ResolutionsResponse represents paginated resolution log results
type ResolutionsResponse struct {
	Resolutions []ResolutionResponse `json:"resolutions"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// CacheStatsResponse represents resolved-link cache statistics
type CacheStatsResponse struct {
	Entries   int     `json:"entries"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// StatsResponse represents aggregated resolution statistics
type StatsResponse struct {
	TotalResolutions int64               `json:"total_resolutions"`
	Resolved         int64               `json:"resolved"`
	Immediate        int64               `json:"immediate"`
	Failed           int64               `json:"failed"`
	FailureRate      float64             `json:"failure_rate"` // Percentage
	UniqueHosts      int64               `json:"unique_hosts"`
	AvgDurationMs    float64             `json:"avg_duration_ms"`
	AvgRedirects     float64             `json:"avg_redirects"`
	Pending          int                 `json:"pending"`
	Cache            *CacheStatsResponse `json:"cache,omitempty"`
	Period           string              `json:"period"`
	Timestamp        string              `json:"timestamp"` // ISO 8601 format
}

// HostStatsResponse represents statistics for a single source host
type HostStatsResponse struct {
	Host         string `json:"host"`
	Count        int64  `json:"count"`
	Failed       int64  `json:"failed"`
	LastResolved string `json:"last_resolved,omitempty"`
}

// TopHostsResponse represents the most-resolved source hosts
type TopHostsResponse struct {
	Hosts []HostStatsResponse `json:"hosts"`
	Limit int                 `json:"limit"`
}

// SystemResponse represents process and host metrics
type SystemResponse struct {
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsed      uint64  `json:"mem_used"`
	MemTotal     uint64  `json:"mem_total"`
	MemPercent   float64 `json:"mem_percent"`
	TemperatureC float64 `json:"temperature_c,omitempty"`
	Goroutines   int     `json:"goroutines"`
	Uptime       string  `json:"uptime"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// convertResolutionLog converts storage.ResolutionLog to ResolutionResponse
func convertResolutionLog(r *storage.ResolutionLog) ResolutionResponse {
	return ResolutionResponse{
		ID:            r.ID,
		Timestamp:     r.Timestamp.Format(time.RFC3339),
		SourceURL:     r.SourceURL,
		SourceHost:    r.SourceHost,
		FinalURL:      r.FinalURL,
		Outcome:       r.Outcome,
		FailureReason: r.FailureReason,
		RequestMode:   r.RequestMode,
		RedirectCount: r.RedirectCount,
		DurationMs:    r.DurationMs,
		Cached:        r.Cached,
	}
}

// convertHostStats converts storage.HostStats to HostStatsResponse
func convertHostStats(h *storage.HostStats) HostStatsResponse {
	resp := HostStatsResponse{
		Host:   h.Host,
		Count:  h.Count,
		Failed: h.Failed,
	}
	if !h.LastResolved.IsZero() {
		resp.LastResolved = h.LastResolved.Format(time.RFC3339)
	}
	return resp
}
