// Package scheduler runs the harvest/sync loop: it samples the host every
// harvest interval, buffers snapshots in the cache, flushes the cache on sync
// boundaries and trims it when deliveries keep failing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/speculare-cloud/speculare-client/internal/agent"
	"github.com/speculare-cloud/speculare-client/internal/cache"
	"github.com/speculare-cloud/speculare-client/internal/config"
	"github.com/speculare-cloud/speculare-client/internal/events"
	"github.com/speculare-cloud/speculare-client/internal/otel"
	"github.com/speculare-cloud/speculare-client/internal/transport"
)

// Harvester produces one snapshot per tick.
type Harvester interface {
	Harvest(ctx context.Context, refreshLoadAvg bool) agent.Snapshot
}

// Sender delivers a batch of snapshots.
type Sender interface {
	Send(ctx context.Context, batch []agent.Snapshot) (transport.StatusClass, error)
}

// Registrar registers the host again after the server answered PreconditionFailed.
type Registrar interface {
	Register(ctx context.Context) error
}

// Settings are the scheduling parameters, in seconds and ticks.
type Settings struct {
	HarvestInterval int64
	SyncingInterval int64
	LoadavgInterval int64
	CacheSize       int64
	SendTimeout     time.Duration
}

// SettingsFrom extracts the scheduling parameters from the agent configuration.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		HarvestInterval: cfg.HarvestInterval,
		SyncingInterval: cfg.SyncingInterval,
		LoadavgInterval: cfg.LoadavgInterval,
		CacheSize:       cfg.CacheSize,
		SendTimeout:     cfg.SendTimeout,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRegistrar enables one-shot re-registration on PreconditionFailed.
func WithRegistrar(r Registrar) Option {
	return func(s *Scheduler) {
		s.registrar = r
	}
}

// WithClock sets the clock used to measure ticks and sleep between them.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithEventLogger sets the event logger.
func WithEventLogger(el *events.EventLogger) Option {
	return func(s *Scheduler) {
		if el != nil {
			s.events = el
		}
	}
}

// WithTracer sets the tracer used for sync spans.
func WithTracer(t *otel.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMetrics sets the metrics instance used to record sync latency.
func WithMetrics(m *otel.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Scheduler owns the tick counter and drives one harvester, one cache and one sender.
// Tick and Run must be called from a single goroutine; Stats may be called from any.
type Scheduler struct {
	harvester Harvester
	cache     *cache.Cache
	sender    Sender
	registrar Registrar

	clock   clock.Clock
	events  *events.EventLogger
	tracer  *otel.Tracer
	metrics *otel.Metrics

	harvestInterval  time.Duration
	sendTimeout      time.Duration
	syncThreshold    int64
	loadavgThreshold int64
	cacheSize        int64

	tick            atomic.Int64
	syncAttempts    atomic.Int64
	syncAccepted    atomic.Int64
	syncFailed      atomic.Int64
	reregistrations atomic.Int64
	drained         atomic.Int64
	overruns        atomic.Int64

	lastMu     sync.Mutex
	lastStatus transport.StatusClass
	lastAt     time.Time
}

// New derives the thresholds from settings once; they are not re-evaluated.
func New(settings Settings, h Harvester, c *cache.Cache, sender Sender, opts ...Option) (*Scheduler, error) {
	if settings.HarvestInterval <= 0 || settings.SyncingInterval <= 0 || settings.LoadavgInterval <= 0 {
		return nil, fmt.Errorf("intervals must be positive: harvest=%d syncing=%d loadavg=%d",
			settings.HarvestInterval, settings.SyncingInterval, settings.LoadavgInterval)
	}
	if h == nil || c == nil || sender == nil {
		return nil, errors.New("harvester, cache and sender are required")
	}
	if settings.SendTimeout <= 0 {
		settings.SendTimeout = config.DefaultSendTimeout
	}

	s := &Scheduler{
		harvester:        h,
		cache:            c,
		sender:           sender,
		clock:            clock.RealClock{},
		events:           events.GetGlobalEventLogger(),
		tracer:           otel.GetGlobalTracer(),
		metrics:          otel.GetGlobalMetrics(),
		harvestInterval:  time.Duration(settings.HarvestInterval) * time.Second,
		sendTimeout:      settings.SendTimeout,
		syncThreshold:    settings.HarvestInterval * settings.SyncingInterval,
		loadavgThreshold: settings.HarvestInterval * settings.LoadavgInterval,
		cacheSize:        max(settings.HarvestInterval*settings.SyncingInterval, settings.CacheSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tick.Store(-1)
	return s, nil
}

// SyncThreshold returns the number of ticks between flush attempts.
func (s *Scheduler) SyncThreshold() int64 { return s.syncThreshold }

// LoadavgThreshold returns the number of ticks between load average refreshes.
func (s *Scheduler) LoadavgThreshold() int64 { return s.loadavgThreshold }

// CacheSize returns the effective cache size used by the drain safeguard.
func (s *Scheduler) CacheSize() int64 { return s.cacheSize }

// Run ticks until ctx is cancelled or a fatal error occurs. Cancellation
// returns nil; a *transport.BuildError is returned as is.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		elapsed, err := s.Tick(ctx)
		if err != nil {
			return err
		}

		wait := s.harvestInterval - elapsed
		if wait <= 0 {
			s.overruns.Add(1)
			s.events.LogTickOverrun(s.tick.Load(), elapsed, s.harvestInterval)
			continue
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}

// Tick runs one iteration: harvest, append, flush when due, drain when
// needed. It returns the time spent. Only a *transport.BuildError is returned;
// every delivery failure is retained and retried on a later sync boundary.
func (s *Scheduler) Tick(ctx context.Context) (time.Duration, error) {
	start := s.clock.Now()
	tick := s.tick.Add(1)

	snapshot := s.harvester.Harvest(ctx, tick%s.loadavgThreshold == 0)
	s.cache.Append(snapshot)

	if tick%s.syncThreshold == 0 {
		if err := s.sync(ctx, tick); err != nil {
			return s.clock.Since(start), err
		}
	}

	s.drain()

	return s.clock.Since(start), nil
}

func (s *Scheduler) sync(ctx context.Context, tick int64) error {
	batch := s.cache.Items()

	class, err := s.send(ctx, tick, batch, false)
	if isFatal(err) {
		return err
	}

	if class == transport.PreconditionFailed && s.registrar != nil {
		regCtx, span := s.tracer.StartSpan(ctx, "speculare.reregister")
		regCtx, cancel := context.WithTimeout(regCtx, s.sendTimeout)
		regErr := s.registrar.Register(regCtx)
		cancel()
		otel.RecordReregister(span, regErr)
		span.End()
		s.reregistrations.Add(1)
		s.events.LogReregister(regErr)
		if isFatal(regErr) {
			return regErr
		}

		// The resend outcome is final, even if it is PreconditionFailed again.
		class, err = s.send(ctx, tick, batch, true)
		if isFatal(err) {
			return err
		}
	}

	if class == transport.Accepted {
		s.cache.Clear()
	}
	return nil
}

func (s *Scheduler) send(ctx context.Context, tick int64, batch []agent.Snapshot, resend bool) (transport.StatusClass, error) {
	ctx, span := s.tracer.StartSyncSpan(ctx, otel.SyncSpanOptions{
		Tick:      tick,
		BatchSize: len(batch),
		Resend:    resend,
	})
	defer span.End()

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	start := s.clock.Now()
	class, err := s.sender.Send(sendCtx, batch)
	duration := s.clock.Since(start)

	s.syncAttempts.Add(1)
	if class == transport.Accepted {
		s.syncAccepted.Add(1)
	} else {
		s.syncFailed.Add(1)
	}
	s.lastMu.Lock()
	s.lastStatus = class
	s.lastAt = s.clock.Now()
	s.lastMu.Unlock()

	otel.RecordSyncResult(span, string(class), err, string(transport.MapError(err)))
	s.metrics.RecordSyncLatency(ctx, string(class), float64(duration.Microseconds())/1000)
	s.events.LogSyncResult(tick, len(batch), string(class), duration, err)

	return class, err
}

// drain removes the oldest cacheSize/2 snapshots once the cache holds at
// least twice cacheSize. At least one snapshot is removed so a cache size of
// one still stays bounded.
func (s *Scheduler) drain() {
	remaining := s.cache.Len()
	if int64(remaining) < 2*s.cacheSize {
		return
	}
	drained := s.cache.DrainOldest(int(max(s.cacheSize/2, 1)))
	s.drained.Add(int64(drained))
	s.events.LogCacheDrained(drained, s.cache.Len(), s.cacheSize)
}

func isFatal(err error) bool {
	var buildErr *transport.BuildError
	return errors.As(err, &buildErr)
}

// Stats returns a snapshot of the scheduler counters and the cache depth.
func (s *Scheduler) Stats() agent.Stats {
	cs := s.cache.Stats()

	s.lastMu.Lock()
	lastStatus, lastAt := s.lastStatus, s.lastAt
	s.lastMu.Unlock()

	st := agent.Stats{
		Ticks:           s.tick.Load() + 1,
		SyncAttempts:    s.syncAttempts.Load(),
		SyncAccepted:    s.syncAccepted.Load(),
		SyncFailed:      s.syncFailed.Load(),
		Reregistrations: s.reregistrations.Load(),
		Drained:         s.drained.Load(),
		Overruns:        s.overruns.Load(),
		CacheDepth:      cs.Depth,
		CacheSize:       s.cacheSize,
		LastSyncStatus:  string(lastStatus),
		LastSyncAt:      lastAt,
	}
	if f, ok := s.harvester.(interface{ Failures() int64 }); ok {
		st.FieldFailures = f.Failures()
	}
	return st
}
