// Package logging provides the structured logger shared across the toolkit.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
)

// Logger wraps slog.Logger configured from LoggingConfig
type Logger struct {
	*slog.Logger
	cfg *config.LoggingConfig
}

// New creates a logger from configuration. The "file" output opens the
// configured path in append mode; the file stays open for the process
// lifetime.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	return &Logger{
		Logger: slog.New(newHandler(cfg, out)),
		cfg:    cfg,
	}, nil
}

// NewDefault creates a logger with sensible defaults (info level, text format, stdout)
func NewDefault() *Logger {
	cfg := &config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"}
	return &Logger{
		Logger: slog.New(newHandler(cfg, os.Stdout)),
		cfg:    cfg,
	}
}

func openOutput(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "stderr":
		return os.Stderr, nil
	case "file":
		return os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	default:
		return os.Stdout, nil
	}
}

func newHandler(cfg *config.LoggingConfig, out io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Logger: l.Logger.With(key, value), cfg: l.cfg}
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...), cfg: l.cfg}
}

// SetGlobal installs the logger as the process-wide slog default
func SetGlobal(logger *Logger) {
	slog.SetDefault(logger.Logger)
}
