// Package api exposes the HTTP surface of the service: link resolution,
// pattern matching, shortener-list management, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/cache"
	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/linkresolver"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
	"github.com/mozilla-rally/web-science-sub001/pkg/policy"
	"github.com/mozilla-rally/web-science-sub001/pkg/ratelimit"
	"github.com/mozilla-rally/web-science-sub001/pkg/shorteners"
	"github.com/mozilla-rally/web-science-sub001/pkg/storage"
	"github.com/mozilla-rally/web-science-sub001/pkg/telemetry"
)

// Server represents the API server
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	logger     *logging.Logger

	// Dependencies
	resolver    *linkresolver.Engine
	shorteners  *shorteners.Manager
	policies    *policy.Engine
	cache       cache.Interface
	storage     storage.Storage
	metrics     *telemetry.Metrics
	rateLimiter *ratelimit.Manager

	// Auth settings, fixed at construction
	authEnabled  bool
	apiKey       string
	authHeader   string
	basicUser    string
	passwordHash string

	defaultMode string

	// Metadata
	version   string
	startTime time.Time
}

// Config holds API server configuration
type Config struct {
	API         *config.APIConfig
	DefaultMode string
	Resolver    *linkresolver.Engine
	Shorteners  *shorteners.Manager
	Policies    *policy.Engine
	Cache       cache.Interface
	Storage     storage.Storage
	Metrics     *telemetry.Metrics
	Logger      *logging.Logger
	Version     string
}

// New creates a new API server
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefault()
	}

	s := &Server{
		resolver:    cfg.Resolver,
		shorteners:  cfg.Shorteners,
		policies:    cfg.Policies,
		cache:       cfg.Cache,
		storage:     cfg.Storage,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		defaultMode: cfg.DefaultMode,
		version:     cfg.Version,
		startTime:   time.Now(),
	}

	if cfg.API != nil {
		s.rateLimiter = ratelimit.NewManager(&cfg.API.RateLimit, cfg.Logger)
		s.authEnabled = cfg.API.Auth.Enabled
		s.apiKey = cfg.API.Auth.APIKey
		s.authHeader = cfg.API.Auth.Header
		s.basicUser = cfg.API.Auth.Username
		s.passwordHash = cfg.API.Auth.PasswordHash
	}

	// Setup routes
	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz) // Kubernetes liveness probe
	mux.HandleFunc("/readyz", s.handleReadyz)   // Kubernetes readiness probe

	// Resolution
	mux.HandleFunc("POST /api/resolve", s.handleResolve)

	// Pattern matching
	mux.HandleFunc("POST /api/match", s.handleMatch)

	// Shortener list management
	mux.HandleFunc("GET /api/shorteners", s.handleShorteners)
	mux.HandleFunc("POST /api/shorteners/reload", s.handleShortenersReload)

	// Resolution log and statistics
	mux.HandleFunc("GET /api/resolutions", s.handleResolutions)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/top-hosts", s.handleTopHosts)

	// System metrics
	mux.HandleFunc("GET /api/system", s.handleSystem)

	// Apply middleware
	handler := s.rateLimitMiddleware(mux)
	handler = s.authMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.corsMiddleware(handler)

	s.handler = handler

	addr := ":8080"
	if cfg.API != nil && cfg.API.ListenAddress != "" {
		addr = cfg.API.ListenAddress
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the API server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// parseDuration parses a duration string with default value
func parseDuration(s string, defaultDuration time.Duration) time.Duration {
	if s == "" {
		return defaultDuration
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultDuration
	}

	return d
}
