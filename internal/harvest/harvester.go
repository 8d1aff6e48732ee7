package harvest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/speculare-cloud/speculare-client/internal/agent"
	"github.com/speculare-cloud/speculare-client/internal/events"
	"github.com/speculare-cloud/speculare-client/internal/plugin"
)

// DefaultWarnInterval bounds how often a repeatedly failing field is logged.
const DefaultWarnInterval = 5 * time.Minute

// Harvester keeps one long-lived snapshot that is refreshed in place on every
// harvest and handed out as deep copies.
type Harvester struct {
	source  MetricSource
	plugins []plugin.Plugin
	events  *events.EventLogger
	clock   clock.PassiveClock

	warnInterval time.Duration
	warnings     map[string]*rate.Sometimes

	data     agent.Snapshot
	failures atomic.Int64
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithPlugins sets the plugins run on every harvest, in order.
func WithPlugins(plugins ...plugin.Plugin) Option {
	return func(h *Harvester) {
		h.plugins = plugins
	}
}

// WithEventLogger sets the logger used for field failures.
func WithEventLogger(el *events.EventLogger) Option {
	return func(h *Harvester) {
		if el != nil {
			h.events = el
		}
	}
}

// WithClock sets the clock used to stamp snapshots.
func WithClock(c clock.PassiveClock) Option {
	return func(h *Harvester) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithWarnInterval sets the minimum interval between warnings for the same field.
func WithWarnInterval(d time.Duration) Option {
	return func(h *Harvester) {
		h.warnInterval = d
	}
}

// NewHarvester reads the host identity once and returns a harvester for it.
// When the platform reports no host id, the UUID is derived from the hostname.
func NewHarvester(ctx context.Context, source MetricSource, opts ...Option) (*Harvester, error) {
	h := &Harvester{
		source:       source,
		events:       events.GetGlobalEventLogger(),
		clock:        clock.RealClock{},
		warnInterval: DefaultWarnInterval,
	}
	for _, opt := range opts {
		opt(h)
	}

	info, err := source.ReadHostInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host identity: %w", err)
	}
	if info.UUID == "" {
		info.UUID = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(info.Hostname)).String()
	}
	h.data.UUID = info.UUID
	h.data.Hostname = info.Hostname
	h.data.OS = info.OS

	// Fixed key set, so concurrent reads never write the map.
	h.warnings = make(map[string]*rate.Sometimes)
	for _, field := range []string{
		FieldUptime, FieldCPUFreq, FieldCPUStat, FieldLoadAvg, FieldMemory,
		FieldDisks, FieldIOStats, FieldSensors, FieldNetwork, FieldUsers,
	} {
		h.warnings[field] = h.newSometimes()
	}
	for _, p := range h.plugins {
		h.warnings[pluginField(p.Name())] = h.newSometimes()
	}
	return h, nil
}

func (h *Harvester) newSometimes() *rate.Sometimes {
	return &rate.Sometimes{First: 1, Interval: h.warnInterval}
}

func pluginField(name string) string {
	return "plugin:" + name
}

// Host returns the identity read at construction.
func (h *Harvester) Host() agent.HostInfo {
	return agent.HostInfo{UUID: h.data.UUID, Hostname: h.data.Hostname, OS: h.data.OS}
}

// SetEventLogger replaces the logger used for field failures. The host
// identity is only known after construction, so callers that tag logs with it
// set the logger here. It must not be called concurrently with Harvest.
func (h *Harvester) SetEventLogger(el *events.EventLogger) {
	if el != nil {
		h.events = el
	}
}

// Failures returns the number of field and plugin reads that failed so far.
func (h *Harvester) Failures() int64 {
	return h.failures.Load()
}

// Harvest refreshes every field, refreshing the load average only when
// refreshLoadAvg is set, and returns a deep copy of the result. Individual
// read failures leave their field nil and are never returned.
//
// Harvest must not be called concurrently.
func (h *Harvester) Harvest(ctx context.Context, refreshLoadAvg bool) agent.Snapshot {
	var g errgroup.Group

	read := func(field string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				h.fieldFailed(field, err)
			}
			return nil
		})
	}

	d := &h.data
	read(FieldUptime, func(ctx context.Context) error { return readInto(ctx, &d.Uptime, h.source.ReadUptime) })
	read(FieldCPUFreq, func(ctx context.Context) error { return readInto(ctx, &d.CPUFreq, h.source.ReadCPUFreq) })
	read(FieldCPUStat, func(ctx context.Context) error { return readInto(ctx, &d.CPUStat, h.source.ReadCPUStat) })
	read(FieldMemory, func(ctx context.Context) error { return readInto(ctx, &d.Memory, h.source.ReadMemory) })
	read(FieldNetwork, func(ctx context.Context) error { return readInto(ctx, &d.Network, h.source.ReadNetwork) })
	read(FieldDisks, func(ctx context.Context) error { return readSlice(ctx, &d.Disks, h.source.ReadDisks) })
	read(FieldIOStats, func(ctx context.Context) error { return readSlice(ctx, &d.IOStats, h.source.ReadIOStats) })
	read(FieldSensors, func(ctx context.Context) error { return readSlice(ctx, &d.Sensors, h.source.ReadSensors) })
	read(FieldUsers, func(ctx context.Context) error { return readSlice(ctx, &d.Users, h.source.ReadUsers) })
	if refreshLoadAvg {
		read(FieldLoadAvg, func(ctx context.Context) error { return readInto(ctx, &d.LoadAvg, h.source.ReadLoadAvg) })
	}

	results := make([]*agent.PluginResult, len(h.plugins))
	for i, p := range h.plugins {
		read(pluginField(p.Name()), func(ctx context.Context) error {
			val, err := p.Collect(ctx)
			if err != nil {
				return err
			}
			results[i] = &agent.PluginResult{Key: p.Name(), Val: val}
			return nil
		})
	}

	_ = g.Wait()

	d.Plugins = make([]agent.PluginResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			d.Plugins = append(d.Plugins, *r)
		}
	}
	d.CreatedAt = h.clock.Now().UTC()

	return d.Clone()
}

func (h *Harvester) fieldFailed(field string, err error) {
	h.failures.Add(1)
	if s, ok := h.warnings[field]; ok {
		s.Do(func() { h.events.LogFieldFailed(field, err) })
		return
	}
	h.events.LogFieldFailed(field, err)
}

// readInto stores the read value in *dst, or nil on failure.
func readInto[T any](ctx context.Context, dst **T, fn func(context.Context) (T, error)) error {
	v, err := fn(ctx)
	if err != nil {
		*dst = nil
		return err
	}
	*dst = &v
	return nil
}

func readSlice[T any](ctx context.Context, dst *[]T, fn func(context.Context) ([]T, error)) error {
	v, err := fn(ctx)
	if err != nil {
		*dst = nil
		return err
	}
	*dst = v
	return nil
}
