package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
)

func TestNew(t *testing.T) {
	logger := logging.NewDefault()

	tests := []struct {
		cfg     *config.TelemetryConfig
		name    string
		wantErr bool
	}{
		{
			name: "disabled telemetry",
			cfg: &config.TelemetryConfig{
				Enabled: false,
			},
			wantErr: false,
		},
		{
			name: "enabled without prometheus",
			cfg: &config.TelemetryConfig{
				Enabled:           true,
				ServiceName:       "test-service",
				ServiceVersion:    "1.0.0",
				PrometheusEnabled: false,
			},
			wantErr: false,
		},
		{
			name: "prometheus enabled",
			cfg: &config.TelemetryConfig{
				Enabled:           true,
				ServiceName:       "test-service",
				ServiceVersion:    "1.0.0",
				PrometheusEnabled: true,
				PrometheusPort:    19091, // Use high port to avoid conflicts
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tel, err := New(ctx, tt.cfg, logger)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tel == nil {
				t.Fatal("New() returned nil")
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				t.Errorf("Shutdown() failed: %v", err)
			}
		})
	}
}

func TestInitMetrics(t *testing.T) {
	logger := logging.NewDefault()
	tel, err := New(context.Background(), &config.TelemetryConfig{Enabled: false}, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	metrics, err := tel.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() failed: %v", err)
	}
	if metrics == nil {
		t.Fatal("InitMetrics() returned nil")
	}

	// All recorders must work against the noop provider.
	ctx := context.Background()
	metrics.RecordResolution(ctx, "resolved", 120*time.Millisecond)
	metrics.RecordFailure(ctx, "timeout")
	metrics.AddRedirect(ctx)
	metrics.AddImmediate(ctx)
	metrics.AddCacheHit(ctx)
	metrics.AddCacheMiss(ctx)
	metrics.SetShortenerSetSize(250)
	metrics.AddDroppedLog(ctx, 3)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// Every recorder is a no-op on a nil receiver; components never need to
	// branch on metrics being wired.
	m.RecordResolution(ctx, "resolved", time.Second)
	m.RecordFailure(ctx, "transport")
	m.AddRedirect(ctx)
	m.AddImmediate(ctx)
	m.AddCacheHit(ctx)
	m.AddCacheMiss(ctx)
	m.SetShortenerSetSize(10)
	m.AddDroppedLog(ctx, 1)
}

func TestSetShortenerSetSizeTracksDeltas(t *testing.T) {
	logger := logging.NewDefault()
	tel, err := New(context.Background(), &config.TelemetryConfig{Enabled: false}, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	metrics, err := tel.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() failed: %v", err)
	}

	metrics.SetShortenerSetSize(100)
	if metrics.shortenerSetLast != 100 {
		t.Errorf("shortenerSetLast = %d, want 100", metrics.shortenerSetLast)
	}

	metrics.SetShortenerSetSize(80)
	if metrics.shortenerSetLast != 80 {
		t.Errorf("shortenerSetLast = %d, want 80", metrics.shortenerSetLast)
	}
}
