// Package agent defines the snapshot types shipped by the metrics agent.
// A Snapshot is one sampled set of host metrics; resource fields are pointers or
// slices so that a failed source leaves its field nil without invalidating the rest.
package agent

import "time"

// Snapshot is one point-in-time collection of host metrics.
type Snapshot struct {
	// UUID identifies the host. It is derived once at startup.
	UUID string `json:"uuid"`

	// Hostname is the host name reported by the OS.
	Hostname string `json:"hostname"`

	// OS is a human readable OS version string (e.g. "ubuntu 22.04").
	OS string `json:"os"`

	// Uptime is the host uptime in seconds.
	Uptime *int64 `json:"uptime,omitempty"`

	// CPUFreq is the frequency of the first CPU in MHz.
	CPUFreq *int64 `json:"cpu_freq,omitempty"`

	// CPUStat holds the aggregate CPU time counters.
	CPUStat *CPUStat `json:"cpu_stat,omitempty"`

	// LoadAvg is refreshed less often than the other fields and may be
	// carried over from an earlier tick.
	LoadAvg *LoadAvg `json:"load_avg,omitempty"`

	Memory *Memory `json:"memory,omitempty"`

	// Disks holds usage for physical partitions.
	Disks []Disk `json:"disks,omitempty"`

	// IOStats holds cumulative read/write counters per block device.
	IOStats []IOStat `json:"iostats,omitempty"`

	Sensors []Sensor `json:"sensors,omitempty"`

	// Network is the identity of the default network interface.
	Network *Network `json:"network,omitempty"`

	// Users lists the logged-in users.
	Users []User `json:"users,omitempty"`

	// Plugins holds the raw output of enabled collection plugins.
	Plugins []PluginResult `json:"plugins,omitempty"`

	// CreatedAt is the time the snapshot was harvested (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// CPUStat contains aggregate CPU time counters in seconds.
type CPUStat struct {
	User    float64 `json:"user"`
	Nice    float64 `json:"nice"`
	System  float64 `json:"system"`
	Idle    float64 `json:"idle"`
	IOWait  float64 `json:"iowait"`
	IRQ     float64 `json:"irq"`
	SoftIRQ float64 `json:"softirq"`
	Steal   float64 `json:"steal"`
}

// LoadAvg contains the 1, 5 and 15 minute load averages.
type LoadAvg struct {
	One     float64 `json:"one"`
	Five    float64 `json:"five"`
	Fifteen float64 `json:"fifteen"`
}

// Memory contains virtual memory and swap totals in bytes.
type Memory struct {
	TotalVirt uint64 `json:"total_virt"`
	AvailVirt uint64 `json:"avail_virt"`
	TotalSwap uint64 `json:"total_swap"`
	AvailSwap uint64 `json:"avail_swap"`
}

// Disk contains usage information for one partition.
type Disk struct {
	Name       string `json:"name"`
	MountPoint string `json:"mount_point"`
	Fstype     string `json:"fstype,omitempty"`
	TotalSpace uint64 `json:"total_space"`
	AvailSpace uint64 `json:"avail_space"`
}

// IOStat contains cumulative I/O counters for one block device.
type IOStat struct {
	DeviceName string `json:"device_name"`
	BytesRead  uint64 `json:"bytes_read"`
	BytesWrtn  uint64 `json:"bytes_wrtn"`
}

// Sensor is a single temperature reading in degrees Celsius.
type Sensor struct {
	Label string  `json:"label"`
	Temp  float64 `json:"temp"`
}

// Network identifies the default network interface.
type Network struct {
	Interface  string `json:"interface"`
	MACAddress string `json:"mac_address"`
}

// User is a logged-in user session.
type User struct {
	Name     string `json:"name"`
	Terminal string `json:"terminal,omitempty"`
	Host     string `json:"host,omitempty"`
	Started  int64  `json:"started,omitempty"`
}

// PluginResult is the output of one collection plugin.
type PluginResult struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// HostInfo holds the static identity fields read once at startup.
type HostInfo struct {
	UUID     string
	Hostname string
	OS       string
}

// Clone returns a deep copy of the snapshot. The harvester keeps one
// accumulator and appends clones to the cache, so cached snapshots never
// share backing arrays or pointers with the accumulator.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Uptime = clonePtr(s.Uptime)
	c.CPUFreq = clonePtr(s.CPUFreq)
	c.CPUStat = clonePtr(s.CPUStat)
	c.LoadAvg = clonePtr(s.LoadAvg)
	c.Memory = clonePtr(s.Memory)
	c.Network = clonePtr(s.Network)
	c.Disks = cloneSlice(s.Disks)
	c.IOStats = cloneSlice(s.IOStats)
	c.Sensors = cloneSlice(s.Sensors)
	c.Users = cloneSlice(s.Users)
	c.Plugins = cloneSlice(s.Plugins)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
