package agent

import "time"

// Stats is a point-in-time view of the agent's own counters, read by the
// metrics exporters.
type Stats struct {
	Ticks           int64
	SyncAttempts    int64
	SyncAccepted    int64
	SyncFailed      int64
	Reregistrations int64
	Drained         int64
	Overruns        int64
	FieldFailures   int64

	CacheDepth int
	CacheSize  int64

	// LastSyncStatus is the status class of the latest flush, empty before the first one.
	LastSyncStatus string
	LastSyncAt     time.Time
}

// StatsProvider exposes agent stats to exporters.
type StatsProvider interface {
	Stats() Stats
}

// StatsFunc adapts a function to StatsProvider.
type StatsFunc func() Stats

// Stats calls f.
func (f StatsFunc) Stats() Stats { return f() }
