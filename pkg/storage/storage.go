package storage

import (
	"context"
	"time"
)

// Storage defines the interface for resolution log backends.
// Implementations must be thread-safe and support concurrent access.
type Storage interface {
	// Resolution logging
	LogResolution(ctx context.Context, entry *ResolutionLog) error
	GetRecent(ctx context.Context, limit, offset int) ([]*ResolutionLog, error)
	GetBySourceHost(ctx context.Context, host string, limit int) ([]*ResolutionLog, error)

	// Statistics
	GetStatistics(ctx context.Context, since time.Time) (*Statistics, error)
	GetTopHosts(ctx context.Context, limit int) ([]*HostStats, error)

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) error
	Close() error
	Ping(ctx context.Context) error
}

// ResolutionLog is a single resolved-link log entry
type ResolutionLog struct {
	Timestamp     time.Time `json:"timestamp"`
	SourceURL     string    `json:"source_url"`
	SourceHost    string    `json:"source_host"`
	FinalURL      string    `json:"final_url,omitempty"`
	Outcome       string    `json:"outcome"` // resolved, immediate, failed
	FailureReason string    `json:"failure_reason,omitempty"`
	RequestMode   string    `json:"request_mode"`
	ID            int64     `json:"id"`
	RedirectCount int       `json:"redirect_count"`
	DurationMs    float64   `json:"duration_ms"`
	Cached        bool      `json:"cached"`
}

// Statistics represents aggregated resolution statistics
type Statistics struct {
	Since            time.Time `json:"since"`
	Until            time.Time `json:"until"`
	TotalResolutions int64     `json:"total_resolutions"`
	Resolved         int64     `json:"resolved"`
	Immediate        int64     `json:"immediate"`
	Failed           int64     `json:"failed"`
	Cached           int64     `json:"cached"`
	UniqueHosts      int64     `json:"unique_hosts"`
	AvgDurationMs    float64   `json:"avg_duration_ms"`
	AvgRedirects     float64   `json:"avg_redirects"`
	FailureRate      float64   `json:"failure_rate"`
	CacheHitRate     float64   `json:"cache_hit_rate"`
}

// HostStats represents aggregated statistics for one source host
type HostStats struct {
	LastResolved time.Time `json:"last_resolved"`
	Host         string    `json:"host"`
	Count        int64     `json:"count"`
	Failed       int64     `json:"failed"`
}
