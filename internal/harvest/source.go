// Package harvest reads host metrics and assembles them into snapshots.
package harvest

import (
	"context"

	"github.com/speculare-cloud/speculare-client/internal/agent"
)

// MetricSource reads individual host metrics. Each read is independent:
// a failing read only affects its own snapshot field.
type MetricSource interface {
	ReadHostInfo(ctx context.Context) (agent.HostInfo, error)
	ReadUptime(ctx context.Context) (int64, error)
	ReadCPUFreq(ctx context.Context) (int64, error)
	ReadCPUStat(ctx context.Context) (agent.CPUStat, error)
	ReadLoadAvg(ctx context.Context) (agent.LoadAvg, error)
	ReadMemory(ctx context.Context) (agent.Memory, error)
	ReadDisks(ctx context.Context) ([]agent.Disk, error)
	ReadIOStats(ctx context.Context) ([]agent.IOStat, error)
	ReadSensors(ctx context.Context) ([]agent.Sensor, error)
	ReadNetwork(ctx context.Context) (agent.Network, error)
	ReadUsers(ctx context.Context) ([]agent.User, error)
}

// Snapshot field names used in logs and failure reports.
const (
	FieldUptime  = "uptime"
	FieldCPUFreq = "cpu_freq"
	FieldCPUStat = "cpu_stat"
	FieldLoadAvg = "load_avg"
	FieldMemory  = "memory"
	FieldDisks   = "disks"
	FieldIOStats = "iostats"
	FieldSensors = "sensors"
	FieldNetwork = "network"
	FieldUsers   = "users"
)
