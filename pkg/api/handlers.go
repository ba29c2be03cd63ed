package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/storage"
)

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := HealthResponse{
		Status:  "ok",
		Uptime:  s.getUptime(),
		Version: s.version,
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleHealthz handles GET /healthz (Kubernetes liveness probe)
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// handleReadyz handles GET /readyz (Kubernetes readiness probe)
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if s.resolver != nil {
		checks["resolver"] = "ok"
	} else {
		checks["resolver"] = "unavailable"
		ready = false
	}

	if s.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.storage.Ping(ctx); err != nil {
			checks["storage"] = "unavailable: " + err.Error()
			ready = false
		} else {
			checks["storage"] = "ok"
		}
	}

	if s.shorteners != nil {
		checks["shorteners"] = "ok"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, ReadinessResponse{Status: status, Checks: checks})
}

// handleResolutions handles GET /api/resolutions
func (s *Server) handleResolutions(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	limit := parseIntParam(r, "limit", 100, 1, 1000)
	offset := parseIntParam(r, "offset", 0, 0, 1<<30)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var err error
	var entries []*storage.ResolutionLog

	if host := r.URL.Query().Get("host"); host != "" {
		entries, err = s.storage.GetBySourceHost(ctx, host, limit)
	} else {
		entries, err = s.storage.GetRecent(ctx, limit, offset)
	}
	if err != nil {
		s.logger.Error("Failed to get resolutions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve resolutions")
		return
	}

	responses := make([]ResolutionResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, convertResolutionLog(entry))
	}

	s.writeJSON(w, http.StatusOK, ResolutionsResponse{
		Resolutions: responses,
		Total:       len(responses),
		Limit:       limit,
		Offset:      offset,
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	since := parseDuration(r.URL.Query().Get("since"), 24*time.Hour)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := s.storage.GetStatistics(ctx, time.Now().Add(-since))
	if err != nil {
		s.logger.Error("Failed to get statistics", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}

	response := StatsResponse{
		TotalResolutions: stats.TotalResolutions,
		Resolved:         stats.Resolved,
		Immediate:        stats.Immediate,
		Failed:           stats.Failed,
		FailureRate:      stats.FailureRate,
		UniqueHosts:      stats.UniqueHosts,
		AvgDurationMs:    stats.AvgDurationMs,
		AvgRedirects:     stats.AvgRedirects,
		Period:           since.String(),
		Timestamp:        time.Now().Format(time.RFC3339),
	}

	if s.resolver != nil {
		response.Pending = s.resolver.PendingCount()
	}

	if s.cache != nil {
		cs := s.cache.Stats()
		response.Cache = &CacheStatsResponse{
			Entries:   cs.Entries,
			Hits:      cs.Hits,
			Misses:    cs.Misses,
			Evictions: cs.Evictions,
			HitRate:   cs.HitRate,
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleTopHosts handles GET /api/top-hosts
func (s *Server) handleTopHosts(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	limit := parseIntParam(r, "limit", 10, 1, 100)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	hosts, err := s.storage.GetTopHosts(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to get top hosts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve top hosts")
		return
	}

	responses := make([]HostStatsResponse, 0, len(hosts))
	for _, h := range hosts {
		responses = append(responses, convertHostStats(h))
	}

	s.writeJSON(w, http.StatusOK, TopHostsResponse{
		Hosts: responses,
		Limit: limit,
	})
}

// handleSystem handles GET /api/system
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	metrics := collectSystemMetrics(r.Context())

	response := SystemResponse{
		CPUPercent: metrics.CPUPercent,
		MemUsed:    metrics.MemUsed,
		MemTotal:   metrics.MemTotal,
		MemPercent: metrics.MemPercent,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     s.getUptime(),
	}
	if metrics.TemperatureAvailable() {
		response.TemperatureC = metrics.TemperatureC
	}

	s.writeJSON(w, http.StatusOK, response)
}

// parseIntParam reads a bounded integer query parameter with a default.
func parseIntParam(r *http.Request, name string, def, min, max int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < min || n > max {
		return def
	}
	return n
}

// getUptime returns the server uptime as a string
func (s *Server) getUptime() string {
	uptime := time.Since(s.startTime)

	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
