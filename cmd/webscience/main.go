package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/api"
	"github.com/mozilla-rally/web-science-sub001/pkg/cache"
	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/linkresolver"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
	"github.com/mozilla-rally/web-science-sub001/pkg/policy"
	"github.com/mozilla-rally/web-science-sub001/pkg/shorteners"
	"github.com/mozilla-rally/web-science-sub001/pkg/storage"
	"github.com/mozilla-rally/web-science-sub001/pkg/telemetry"
)

var (
	configPath = flag.String("config", "config.yml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	if args := flag.Args(); len(args) > 0 && args[0] == "export" {
		if err := runExport(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Parse configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Web Science link resolver starting",
		"version", version,
		"build_time", buildTime,
	)

	// Initialize telemetry
	ctx := context.Background()
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	// Resolution log storage
	var store storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.NewSQLiteStorage(&cfg.Storage, metrics)
		if err != nil {
			logger.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		logger.Info("Resolution log enabled", "path", cfg.Storage.DatabasePath)
	}

	// Resolved-link cache
	var linkCache cache.Interface
	if cfg.Cache.Enabled {
		c, err := cache.New(&cfg.Cache, logger)
		if err != nil {
			logger.Error("Failed to initialize cache", "error", err)
			os.Exit(1)
		}
		linkCache = c
	}

	// Per-URL policy rules
	policies, err := policy.NewEngine(cfg.Policy.Rules)
	if err != nil {
		logger.Error("Failed to compile policy rules", "error", err)
		os.Exit(1)
	}
	if policies.Count() > 0 {
		logger.Info("Policy rules compiled", "rules", policies.Count())
	}

	// Known-shortener pattern set
	shortenerMgr, err := shorteners.NewManager(&cfg.Shorteners, logger, metrics, nil)
	if err != nil {
		logger.Error("Failed to build shortener set", "error", err)
		os.Exit(1)
	}
	if err := shortenerMgr.Start(ctx); err != nil {
		logger.Error("Failed to start shortener manager", "error", err)
		os.Exit(1)
	}

	// Link resolution engine over the HTTP network
	network := linkresolver.NewHTTPNetwork(logger, nil)
	engine := linkresolver.NewEngine(&cfg.Resolution, logger, metrics, shortenerMgr, network)
	network.Bind(engine)

	// HTTP API
	server := api.New(&api.Config{
		API:         &cfg.API,
		DefaultMode: cfg.Resolution.RequestMode,
		Resolver:    engine,
		Shorteners:  shortenerMgr,
		Policies:    policies,
		Cache:       linkCache,
		Storage:     store,
		Metrics:     metrics,
		Logger:      logger,
		Version:     version,
	})

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(serverCtx); err != nil {
			errChan <- err
		}
	}()

	if store != nil && cfg.Storage.RetentionDays > 0 {
		go cleanupLoop(serverCtx, store, cfg.Storage.RetentionDays, logger)
	}

	// Reload policy rules on config file changes; other sections need a
	// restart.
	watcher, err := config.NewWatcher(*configPath, logger.Logger)
	if err != nil {
		logger.Warn("Config watcher disabled", "error", err)
	} else {
		watcher.OnChange(func(next *config.Config) {
			if err := policies.ReplaceRules(next.Policy.Rules); err != nil {
				logger.Error("Rejected reloaded policy rules", "error", err)
				return
			}
			logger.Info("Policy rules reloaded", "rules", policies.Count())
		})
		go func() {
			if err := watcher.Start(serverCtx); err != nil {
				logger.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	logger.Info("Web Science link resolver is running",
		"address", cfg.API.ListenAddress,
		"request_mode", cfg.Resolution.RequestMode,
		"shorteners", len(shortenerMgr.Domains()),
	)

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		serverCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during server shutdown", "error", err)
		}

		shortenerMgr.Stop()

		if linkCache != nil {
			linkCache.Close()
		}
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Error("Error closing storage", "error", err)
			}
		}

		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during telemetry shutdown", "error", err)
		}

		logger.Info("Web Science link resolver stopped")

	case err := <-errChan:
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// cleanupLoop prunes resolution log entries past the retention window once a
// day, with an initial pass shortly after startup.
func cleanupLoop(ctx context.Context, store storage.Storage, retentionDays int, logger *logging.Logger) {
	retention := time.Duration(retentionDays) * 24 * time.Hour

	run := func() {
		cleanupCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := store.Cleanup(cleanupCtx, time.Now().Add(-retention)); err != nil {
			logger.Error("Resolution log cleanup failed", "error", err)
		}
	}

	select {
	case <-time.After(time.Minute):
		run()
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return
		}
	}
}
