// Package storage contains the persistence layer; this file provides the
// SQLite implementation used for resolution logs and analytics.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
)

// MetricsRecorder defines the interface for recording storage metrics.
// This interface breaks the import cycle between storage and telemetry.
type MetricsRecorder interface {
	AddDroppedLog(ctx context.Context, count int64)
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	cfg        *config.StorageConfig
	metrics    MetricsRecorder
	buffer     chan *ResolutionLog
	stmtInsert *sql.Stmt
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// NewSQLiteStorage creates a new SQLite storage backend
func NewSQLiteStorage(cfg *config.StorageConfig, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if !cfg.Enabled {
		return nil, ErrNotEnabled
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if migrationErr := runMigrations(db); migrationErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", migrationErr)
	}

	stmtInsert, err := db.Prepare(`
		INSERT INTO resolutions
		(timestamp, source_url, source_host, final_url, outcome, failure_reason, request_mode, redirect_count, duration_ms, cached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s := &SQLiteStorage{
		db:         db,
		cfg:        cfg,
		metrics:    metrics,
		buffer:     make(chan *ResolutionLog, cfg.BufferSize),
		stmtInsert: stmtInsert,
	}

	s.wg.Add(1)
	go s.flushWorker()

	return s, nil
}

// LogResolution records one resolution (async, buffered). When the buffer is
// full the entry is dropped rather than blocking the resolution path.
func (s *SQLiteStorage) LogResolution(ctx context.Context, entry *ResolutionLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	select {
	case s.buffer <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if s.metrics != nil {
			s.metrics.AddDroppedLog(ctx, 1)
		}
		return ErrBufferFull
	}
}

// flushWorker drains the buffer in batches so logging never blocks the
// resolution path. Batches flush when full or when the flush interval
// elapses; remaining entries are flushed when the buffer closes.
func (s *SQLiteStorage) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*ResolutionLog, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := s.flushBatch(batch); err != nil {
			slog.Default().Error("Failed to flush resolution batch",
				"error", err,
				"batch_size", len(batch),
			)
		}

		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.buffer:
			if !ok {
				flush()
				return
			}

			batch = append(batch, entry)

			if len(batch) >= s.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch writes a batch of entries in a single transaction.
func (s *SQLiteStorage) flushBatch(entries []*ResolutionLog) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.stmtInsert)

	for _, entry := range entries {
		_, err := stmt.Exec(
			entry.Timestamp,
			entry.SourceURL,
			entry.SourceHost,
			entry.FinalURL,
			entry.Outcome,
			entry.FailureReason,
			entry.RequestMode,
			entry.RedirectCount,
			entry.DurationMs,
			entry.Cached,
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	// Update host stats asynchronously
	go s.updateHostStats(entries)

	return nil
}

// updateHostStats maintains per-host counters for analytics. Errors are
// logged but don't propagate; the counters are non-critical.
func (s *SQLiteStorage) updateHostStats(entries []*ResolutionLog) {
	for _, entry := range entries {
		if entry.SourceHost == "" {
			continue
		}

		failed := 0
		if entry.Outcome == "failed" {
			failed = 1
		}

		_, err := s.db.Exec(`
			INSERT INTO host_stats (host, count, failed, last_resolved)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(host) DO UPDATE SET
				count = count + 1,
				failed = failed + excluded.failed,
				last_resolved = excluded.last_resolved
		`, entry.SourceHost, failed, entry.Timestamp)

		if err != nil {
			slog.Default().Error("Failed to update host statistics",
				"error", err,
				"host", entry.SourceHost,
			)
		}
	}
}

// GetRecent returns the most recent resolutions with pagination support
func (s *SQLiteStorage) GetRecent(ctx context.Context, limit, offset int) ([]*ResolutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, source_url, source_host, final_url, outcome,
		       failure_reason, request_mode, redirect_count, duration_ms, cached
		FROM resolutions
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanResolutions(rows)
}

// GetBySourceHost returns the most recent resolutions for one source host
func (s *SQLiteStorage) GetBySourceHost(ctx context.Context, host string, limit int) ([]*ResolutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, source_url, source_host, final_url, outcome,
		       failure_reason, request_mode, redirect_count, duration_ms, cached
		FROM resolutions
		WHERE source_host = ?
		ORDER BY id DESC
		LIMIT ?
	`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanResolutions(rows)
}

func scanResolutions(rows *sql.Rows) ([]*ResolutionLog, error) {
	var result []*ResolutionLog
	for rows.Next() {
		var (
			entry         ResolutionLog
			timestamp     string
			finalURL      sql.NullString
			failureReason sql.NullString
		)
		err := rows.Scan(
			&entry.ID,
			&timestamp,
			&entry.SourceURL,
			&entry.SourceHost,
			&finalURL,
			&entry.Outcome,
			&failureReason,
			&entry.RequestMode,
			&entry.RedirectCount,
			&entry.DurationMs,
			&entry.Cached,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		entry.Timestamp = parseSQLiteTime(timestamp)
		entry.FinalURL = finalURL.String
		entry.FailureReason = failureReason.String
		result = append(result, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return result, nil
}

// GetStatistics returns aggregated resolution statistics since a timestamp
func (s *SQLiteStorage) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Statistics{Since: since, Until: time.Now()}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'resolved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'immediate' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT source_host),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(AVG(redirect_count), 0)
		FROM resolutions
		WHERE timestamp >= ?
	`, since).Scan(
		&stats.TotalResolutions,
		&stats.Resolved,
		&stats.Immediate,
		&stats.Failed,
		&stats.Cached,
		&stats.UniqueHosts,
		&stats.AvgDurationMs,
		&stats.AvgRedirects,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	if stats.TotalResolutions > 0 {
		stats.FailureRate = float64(stats.Failed) / float64(stats.TotalResolutions) * 100
		stats.CacheHitRate = float64(stats.Cached) / float64(stats.TotalResolutions) * 100
	}

	return stats, nil
}

// GetTopHosts returns the source hosts with the most resolutions
func (s *SQLiteStorage) GetTopHosts(ctx context.Context, limit int) ([]*HostStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT host, count, failed, COALESCE(last_resolved, '')
		FROM host_stats
		ORDER BY count DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*HostStats
	for rows.Next() {
		var (
			hs           HostStats
			lastResolved string
		)
		if err := rows.Scan(&hs.Host, &hs.Count, &hs.Failed, &lastResolved); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		hs.LastResolved = parseSQLiteTime(lastResolved)
		result = append(result, &hs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return result, nil
}

// Cleanup removes entries older than the given timestamp
func (s *SQLiteStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM resolutions WHERE timestamp < ?", olderThan)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	if removed, raErr := result.RowsAffected(); raErr == nil && removed > 0 {
		slog.Default().Info("Cleaned up old resolution logs", "removed", removed, "older_than", olderThan)
	}

	return nil
}

// Ping verifies the database connection
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.db.PingContext(ctx)
}

// Close flushes buffered entries and closes the database
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.buffer)
	s.wg.Wait()

	if s.stmtInsert != nil {
		_ = s.stmtInsert.Close()
	}

	return s.db.Close()
}
