package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/speculare-cloud/speculare-client/internal/agent"
	"github.com/speculare-cloud/speculare-client/internal/config"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string

	// Reader overrides the exporter-backed periodic reader. Used by tests.
	Reader sdkmetric.Reader
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  defaultServiceName,
		ExporterType: ExporterNone,
	}
}

// MetricsConfigFrom builds the metrics configuration from the agent's otel block.
func MetricsConfigFrom(c config.OTelConfig, version, hostUUID, hostname string) *MetricsConfig {
	tc := ConfigFrom(c, version, hostUUID, hostname)
	return &MetricsConfig{
		Enabled:        tc.Enabled,
		ServiceName:    tc.ServiceName,
		ServiceVersion: tc.ServiceVersion,
		ExporterType:   tc.ExporterType,
		OTLPEndpoint:   tc.OTLPEndpoint,
		OTLPInsecure:   tc.OTLPInsecure,
		Attributes:     tc.Attributes,
	}
}

// Metrics exports the agent's own counters. Counters and gauges are observed
// from a StatsProvider on every collection; only the sync latency histogram
// is recorded directly.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.RWMutex

	statsReg    metric.Registration
	syncLatency metric.Float64Histogram
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance observing stats. stats may be nil,
// in which case only directly recorded instruments are exported.
func NewMetrics(ctx context.Context, cfg *MetricsConfig, stats agent.StatsProvider) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	reader := cfg.Reader
	if reader == nil {
		if !cfg.Enabled || cfg.ExporterType == ExporterNone {
			m.meterProvider = sdkmetric.NewMeterProvider()
			m.meter = m.meterProvider.Meter(cfg.ServiceName)
			m.shutdown = func(context.Context) error { return nil }
			return m, nil
		}

		exporter, err := m.createExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter)
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(stats); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

type observedCounter struct {
	name  string
	desc  string
	value func(agent.Stats) int64
}

var observedCounters = []observedCounter{
	{"speculare.ticks", "Number of harvest ticks", func(s agent.Stats) int64 { return s.Ticks }},
	{"speculare.sync.attempts", "Number of delivery attempts", func(s agent.Stats) int64 { return s.SyncAttempts }},
	{"speculare.sync.accepted", "Number of batches accepted by the server", func(s agent.Stats) int64 { return s.SyncAccepted }},
	{"speculare.sync.failed", "Number of delivery attempts that were not accepted", func(s agent.Stats) int64 { return s.SyncFailed }},
	{"speculare.reregistrations", "Number of host re-registrations", func(s agent.Stats) int64 { return s.Reregistrations }},
	{"speculare.cache.drained", "Number of snapshots dropped by the drain safeguard", func(s agent.Stats) int64 { return s.Drained }},
	{"speculare.tick.overruns", "Number of ticks that took longer than the harvest interval", func(s agent.Stats) int64 { return s.Overruns }},
	{"speculare.harvest.field_failures", "Number of failed metric reads", func(s agent.Stats) int64 { return s.FieldFailures }},
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments(stats agent.StatsProvider) error {
	var err error

	m.syncLatency, err = m.meter.Float64Histogram(
		"speculare.sync.latency",
		metric.WithDescription("Latency of delivery attempts"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync latency histogram: %w", err)
	}

	if stats == nil {
		return nil
	}

	counters := make([]metric.Int64ObservableCounter, len(observedCounters))
	instruments := make([]metric.Observable, 0, len(observedCounters)+1)
	for i, oc := range observedCounters {
		counters[i], err = m.meter.Int64ObservableCounter(oc.name, metric.WithDescription(oc.desc))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", oc.name, err)
		}
		instruments = append(instruments, counters[i])
	}

	depth, err := m.meter.Int64ObservableGauge(
		"speculare.cache.depth",
		metric.WithDescription("Number of snapshots waiting to be delivered"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache depth gauge: %w", err)
	}
	instruments = append(instruments, depth)

	m.statsReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			s := stats.Stats()
			for i, oc := range observedCounters {
				o.ObserveInt64(counters[i], oc.value(s))
			}
			o.ObserveInt64(depth, int64(s.CacheDepth))
			return nil
		},
		instruments...,
	)
	if err != nil {
		return fmt.Errorf("failed to register stats callback: %w", err)
	}

	return nil
}

// RecordSyncLatency records the latency of one delivery attempt.
func (m *Metrics) RecordSyncLatency(ctx context.Context, status string, latencyMs float64) {
	if m.syncLatency == nil {
		return
	}

	m.syncLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statsReg != nil {
		if err := m.statsReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister stats callback: %w", err)
		}
		m.statsReg = nil
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
