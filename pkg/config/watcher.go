package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the bursts of write events editors produce
// when saving a file.
const debounceDelay = 100 * time.Millisecond

// Watcher watches the configuration file and reloads it on change.
// Reloads feed the OnChange callback; callers decide which sections
// (policy rules, shortener extras) take effect without a restart.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger

	mu  sync.RWMutex
	cfg *Config
}

// NewWatcher loads the file once and starts tracking it. The initial
// load must succeed; a config that never parsed is not worth watching.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	return &Watcher{path: path, fsw: fsw, cfg: cfg, logger: logger}, nil
}

// Config returns the current configuration (thread-safe)
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnChange registers a callback invoked after every successful reload.
// Register before Start; the callback runs on the watcher goroutine.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.onChange = fn
}

// Start blocks processing file events until ctx is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting config file watcher", "path", w.path)

	debounce := time.NewTimer(0)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Config watcher stopped")
			return w.fsw.Close()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounce.Reset(debounceDelay)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-debounce.C:
			w.applyReload()
		}
	}
}

// applyReload re-reads the file and publishes the new config. A file
// that fails to load leaves the previous config in place.
func (w *Watcher) applyReload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Failed to reload config", "error", err)
		return
	}

	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()

	w.logger.Info("Config reloaded successfully")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
