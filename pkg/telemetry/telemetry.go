// Package telemetry wires up the OpenTelemetry metrics pipeline with the
// Prometheus exporter used across the toolkit.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	// Link resolution metrics
	ResolutionsTotal    metric.Int64Counter
	ResolutionFailures  metric.Int64Counter
	ResolutionDuration  metric.Float64Histogram
	RedirectsFollowed   metric.Int64Counter
	ResolutionsImmediate metric.Int64Counter

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Set sizes
	ShortenerSetSize metric.Int64UpDownCounter

	// Storage metrics
	StorageLogsDropped metric.Int64Counter

	// UpDownCounters carry deltas; remember the last absolute value.
	mu               sync.Mutex
	shortenerSetLast int64
}

// New creates a new telemetry instance. When disabled, all providers are
// no-ops and no server is started.
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:           cfg,
			meterProvider: noop.NewMeterProvider(),
			logger:        logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}

	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the Prometheus server if one was started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.prometheusServer != nil {
		return t.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("web-science")

	resolutionsTotal, err := meter.Int64Counter(
		"link_resolution.resolutions.total",
		metric.WithDescription("Total number of link resolutions requested"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolutions counter: %w", err)
	}

	resolutionFailures, err := meter.Int64Counter(
		"link_resolution.resolutions.failures",
		metric.WithDescription("Failed link resolutions by failure reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}

	resolutionDuration, err := meter.Float64Histogram(
		"link_resolution.duration",
		metric.WithDescription("Link resolution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	redirectsFollowed, err := meter.Int64Counter(
		"link_resolution.redirects.followed",
		metric.WithDescription("Redirect hops followed across all resolutions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redirects counter: %w", err)
	}

	resolutionsImmediate, err := meter.Int64Counter(
		"link_resolution.resolutions.immediate",
		metric.WithDescription("Resolutions satisfied by rewriters alone, no network request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create immediate counter: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"link_resolution.cache.hits",
		metric.WithDescription("Resolved-link cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"link_resolution.cache.misses",
		metric.WithDescription("Resolved-link cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	shortenerSetSize, err := meter.Int64UpDownCounter(
		"shorteners.set.size",
		metric.WithDescription("Number of domains in the known-shortener set"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shortener set gauge: %w", err)
	}

	storageLogsDropped, err := meter.Int64Counter(
		"storage.logs.dropped",
		metric.WithDescription("Resolution log entries dropped because the write buffer was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped logs counter: %w", err)
	}

	return &Metrics{
		ResolutionsTotal:     resolutionsTotal,
		ResolutionFailures:   resolutionFailures,
		ResolutionDuration:   resolutionDuration,
		RedirectsFollowed:    redirectsFollowed,
		ResolutionsImmediate: resolutionsImmediate,
		CacheHits:            cacheHits,
		CacheMisses:          cacheMisses,
		ShortenerSetSize:     shortenerSetSize,
		StorageLogsDropped:   storageLogsDropped,
	}, nil
}

// RecordResolution records one completed resolution.
func (m *Metrics) RecordResolution(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ResolutionsTotal.Add(ctx, 1, attrs)
	m.ResolutionDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordFailure records one failed resolution by reason.
func (m *Metrics) RecordFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ResolutionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// AddRedirect counts one followed redirect hop.
func (m *Metrics) AddRedirect(ctx context.Context) {
	if m == nil {
		return
	}
	m.RedirectsFollowed.Add(ctx, 1)
}

// AddImmediate counts one resolution answered without network activity.
func (m *Metrics) AddImmediate(ctx context.Context) {
	if m == nil {
		return
	}
	m.ResolutionsImmediate.Add(ctx, 1)
}

// SetShortenerSetSize records the absolute size of the shortener set.
func (m *Metrics) SetShortenerSetSize(size int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delta := size - m.shortenerSetLast
	m.shortenerSetLast = size
	m.mu.Unlock()
	m.ShortenerSetSize.Add(context.Background(), delta)
}

// AddCacheHit counts one resolved-link cache hit.
func (m *Metrics) AddCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1)
}

// AddCacheMiss counts one resolved-link cache miss.
func (m *Metrics) AddCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// AddDroppedLog counts resolution log entries dropped on a full buffer.
func (m *Metrics) AddDroppedLog(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.StorageLogsDropped.Add(ctx, count)
}
