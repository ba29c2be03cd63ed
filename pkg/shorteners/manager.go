package shorteners

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
	"github.com/mozilla-rally/web-science-sub001/pkg/matching"
	"github.com/mozilla-rally/web-science-sub001/pkg/telemetry"
)

// Manager owns the current known-shortener pattern set. The set is swapped
// atomically; readers always see either the old or the new set, never a
// partial one.
type Manager struct {
	cfg        *config.ShortenersConfig
	downloader *Downloader
	logger     *logging.Logger
	metrics    *telemetry.Metrics

	current atomic.Pointer[matching.Set]
	domains atomic.Value // []string, the merged domain list behind current

	updateTicker *time.Ticker
	stopChan     chan struct{}
	wg           sync.WaitGroup
	started      atomic.Bool
}

// NewManager creates a shortener set manager. The initial set is built from
// the builtins and config extras only; remote lists are merged in on Update.
func NewManager(cfg *config.ShortenersConfig, logger *logging.Logger, metrics *telemetry.Metrics, httpClient *http.Client) (*Manager, error) {
	m := &Manager{
		cfg:        cfg,
		downloader: NewDownloader(logger, httpClient),
		logger:     logger,
		metrics:    metrics,
		stopChan:   make(chan struct{}),
	}

	if err := m.rebuild(nil); err != nil {
		return nil, fmt.Errorf("building initial shortener set: %w", err)
	}
	return m, nil
}

// Set returns the current shortener pattern set.
func (m *Manager) Set() *matching.Set {
	return m.current.Load()
}

// Domains returns the merged domain list behind the current set.
func (m *Manager) Domains() []string {
	domains, _ := m.domains.Load().([]string)
	return domains
}

// Start performs an initial remote update and begins the auto-update loop
// when configured.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		m.logger.Warn("Shortener manager already started")
		return nil
	}

	m.stopChan = make(chan struct{})

	m.logger.Info("Starting shortener manager",
		"builtins", !m.cfg.DisableBuiltins,
		"extra_domains", len(m.cfg.ExtraDomains),
		"list_urls", len(m.cfg.ListURLs),
		"auto_update", m.cfg.AutoUpdate,
		"interval", m.cfg.UpdateInterval)

	if len(m.cfg.ListURLs) > 0 {
		if err := m.Update(ctx); err != nil {
			// The built-in set stays in effect; retry on the next tick.
			m.logger.Error("Initial shortener list update failed", "error", err)
		}
	}

	if m.cfg.AutoUpdate && m.cfg.UpdateInterval > 0 && len(m.cfg.ListURLs) > 0 {
		m.updateTicker = time.NewTicker(m.cfg.UpdateInterval)
		m.wg.Add(1)
		go m.updateLoop(ctx)
	}

	return nil
}

// Stop gracefully stops the manager
func (m *Manager) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	close(m.stopChan)
	if m.updateTicker != nil {
		m.updateTicker.Stop()
	}
	m.wg.Wait()
}

// Update fetches the configured remote lists and swaps in a new set.
func (m *Manager) Update(ctx context.Context) error {
	fetched := m.downloader.DownloadAll(ctx, m.cfg.ListURLs)
	return m.rebuild(fetched)
}

func (m *Manager) rebuild(fetched []string) error {
	var builtins []string
	if !m.cfg.DisableBuiltins {
		builtins = DefaultDomains()
	}
	merged := mergeDomains(builtins, m.cfg.ExtraDomains, fetched)

	set, err := BuildSet(merged)
	if err != nil {
		return fmt.Errorf("compiling shortener set: %w", err)
	}

	m.current.Store(set)
	m.domains.Store(merged)
	if m.metrics != nil {
		m.metrics.SetShortenerSetSize(int64(len(merged)))
	}

	m.logger.Info("Shortener set updated", "domains", len(merged))
	return nil
}

func (m *Manager) updateLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-m.updateTicker.C:
			if err := m.Update(ctx); err != nil {
				m.logger.Error("Scheduled shortener update failed", "error", err)
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
