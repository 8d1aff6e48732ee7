package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/speculare-cloud/speculare-client/internal/agent"
)

type staticStats struct {
	stats agent.Stats
}

func (s *staticStats) Stats() agent.Stats { return s.stats }

func collect(t *testing.T, reader sdkmetric.Reader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func int64Value(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	switch d := data.(type) {
	case metricdata.Sum[int64]:
		if len(d.DataPoints) != 1 {
			t.Fatalf("expected 1 data point, got %d", len(d.DataPoints))
		}
		return d.DataPoints[0].Value
	case metricdata.Gauge[int64]:
		if len(d.DataPoints) != 1 {
			t.Fatalf("expected 1 data point, got %d", len(d.DataPoints))
		}
		return d.DataPoints[0].Value
	default:
		t.Fatalf("unexpected aggregation %T", data)
		return 0
	}
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	if cfg.Enabled {
		t.Error("expected metrics to be disabled by default")
	}
	if cfg.ExporterType != ExporterNone {
		t.Errorf("expected ExporterNone, got %v", cfg.ExporterType)
	}
}

func TestNewMetrics_Disabled(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(ctx, DefaultMetricsConfig(), &staticStats{})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.Enabled() {
		t.Error("expected metrics to be disabled")
	}
	// Disabled metrics accept recordings without instruments.
	m.RecordSyncLatency(ctx, "accepted", 12)
}

func TestNewMetrics_StdoutExporter(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.Enabled() {
		t.Error("expected metrics to be enabled")
	}
	m.RecordSyncLatency(ctx, "accepted", 45.5)
}

func TestMetrics_ObservesStats(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	cfg := DefaultMetricsConfig()
	cfg.Reader = reader

	src := &staticStats{stats: agent.Stats{
		Ticks:           42,
		SyncAttempts:    9,
		SyncAccepted:    7,
		SyncFailed:      2,
		Reregistrations: 1,
		Drained:         8,
		Overruns:        3,
		FieldFailures:   4,
		CacheDepth:      5,
	}}

	m, err := NewMetrics(ctx, cfg, src)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	m.RecordSyncLatency(ctx, "accepted", 20)

	got := collect(t, reader)
	want := map[string]int64{
		"speculare.ticks":                  42,
		"speculare.sync.attempts":          9,
		"speculare.sync.accepted":          7,
		"speculare.sync.failed":            2,
		"speculare.reregistrations":        1,
		"speculare.cache.drained":          8,
		"speculare.tick.overruns":          3,
		"speculare.harvest.field_failures": 4,
		"speculare.cache.depth":            5,
	}
	for name, v := range want {
		data, ok := got[name]
		if !ok {
			t.Errorf("metric %s not exported", name)
			continue
		}
		if n := int64Value(t, data); n != v {
			t.Errorf("%s = %d, want %d", name, n, v)
		}
	}

	hist, ok := got["speculare.sync.latency"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("unexpected latency histogram: %#v", got["speculare.sync.latency"])
	}

	// Later collections observe fresh values.
	src.stats.Ticks = 43
	if n := int64Value(t, collect(t, reader)["speculare.ticks"]); n != 43 {
		t.Errorf("speculare.ticks = %d after update, want 43", n)
	}
}

func TestMetricsShutdownTwice(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultMetricsConfig()
	cfg.Reader = sdkmetric.NewManualReader()

	m, err := NewMetrics(ctx, cfg, &staticStats{})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown failed: %v", err)
	}
	// The callback registration is released on the first shutdown.
	if m.statsReg != nil {
		t.Error("expected stats registration to be cleared")
	}
}

func TestGlobalMetrics(t *testing.T) {
	defer SetGlobalMetrics(nil)

	if GetGlobalMetrics() == nil {
		t.Fatal("expected no-op metrics when unset")
	}

	m := NoopMetrics()
	SetGlobalMetrics(m)
	if GetGlobalMetrics() != m {
		t.Error("expected global metrics to be the one set")
	}
}
