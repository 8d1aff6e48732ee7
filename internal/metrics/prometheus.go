// Package metrics exposes the agent's own counters in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/speculare-cloud/speculare-client/internal/agent"
)

const namespace = "speculare"

// Collector is a prometheus.Collector reading the agent stats on every scrape.
// It holds no state of its own, so scrapes never race with the scheduler.
type Collector struct {
	stats agent.StatsProvider

	ticks           *prometheus.Desc
	syncTotal       *prometheus.Desc
	reregistrations *prometheus.Desc
	drained         *prometheus.Desc
	overruns        *prometheus.Desc
	fieldFailures   *prometheus.Desc
	cacheDepth      *prometheus.Desc
	cacheSize       *prometheus.Desc
	lastSync        *prometheus.Desc
	lastSyncStatus  *prometheus.Desc

	// Time function for testing
	nowFunc func() time.Time
}

// NewCollector creates a Collector over stats. hostUUID is attached as a constant label.
func NewCollector(stats agent.StatsProvider, hostUUID string) *Collector {
	labels := prometheus.Labels{"host_uuid": hostUUID}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}
	return &Collector{
		stats:           stats,
		ticks:           desc("ticks_total", "Number of harvest ticks."),
		syncTotal:       desc("sync_total", "Number of delivery attempts by result.", "result"),
		reregistrations: desc("reregistrations_total", "Number of host re-registrations after a 412."),
		drained:         desc("cache_drained_total", "Number of snapshots dropped by the drain safeguard."),
		overruns:        desc("tick_overruns_total", "Number of ticks that took longer than the harvest interval."),
		fieldFailures:   desc("harvest_field_failures_total", "Number of failed metric reads."),
		cacheDepth:      desc("cache_depth", "Number of snapshots waiting to be delivered."),
		cacheSize:       desc("cache_size", "Effective cache size used by the drain safeguard."),
		lastSync:        desc("last_sync_timestamp_seconds", "Unix time of the latest delivery attempt."),
		lastSyncStatus:  desc("last_sync_status", "Status class of the latest delivery attempt.", "status"),
		nowFunc:         time.Now,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticks
	ch <- c.syncTotal
	ch <- c.reregistrations
	ch <- c.drained
	ch <- c.overruns
	ch <- c.fieldFailures
	ch <- c.cacheDepth
	ch <- c.cacheSize
	ch <- c.lastSync
	ch <- c.lastSyncStatus
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Stats()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.ticks, s.Ticks)
	counter(c.syncTotal, s.SyncAccepted, "accepted")
	counter(c.syncTotal, s.SyncFailed, "failed")
	counter(c.reregistrations, s.Reregistrations)
	counter(c.drained, s.Drained)
	counter(c.overruns, s.Overruns)
	counter(c.fieldFailures, s.FieldFailures)
	gauge(c.cacheDepth, float64(s.CacheDepth))
	gauge(c.cacheSize, float64(s.CacheSize))

	if s.LastSyncStatus != "" {
		gauge(c.lastSync, float64(s.LastSyncAt.Unix()))
		gauge(c.lastSyncStatus, 1, s.LastSyncStatus)
	}
}

// SecondsSinceLastSync returns the age of the latest delivery attempt, or -1 before the first one.
func (c *Collector) SecondsSinceLastSync() float64 {
	s := c.stats.Stats()
	if s.LastSyncStatus == "" {
		return -1
	}
	return c.nowFunc().Sub(s.LastSyncAt).Seconds()
}

// NewRegistry returns a registry holding the collector plus the Go runtime
// and process collectors.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
