package harvest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/speculare-cloud/speculare-client/internal/agent"
)

// ErrNoInterface is returned when no interface qualifies as the default one.
var ErrNoInterface = errors.New("no active non-loopback interface with a hardware address")

// SystemSource reads metrics from the running host through gopsutil.
type SystemSource struct{}

// NewSystemSource creates a gopsutil-backed metric source.
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

func (s *SystemSource) ReadHostInfo(ctx context.Context) (agent.HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return agent.HostInfo{}, fmt.Errorf("reading host info: %w", err)
	}
	hostID := info.HostID
	if hostID == "" {
		// HostIDWithContext tries more sources than InfoWithContext on some platforms.
		hostID, _ = host.HostIDWithContext(ctx)
	}
	return agent.HostInfo{
		UUID:     strings.TrimSpace(hostID),
		Hostname: info.Hostname,
		OS:       osVersion(info),
	}, nil
}

func osVersion(info *host.InfoStat) string {
	switch {
	case info.Platform != "" && info.PlatformVersion != "":
		return info.Platform + " " + info.PlatformVersion
	case info.Platform != "":
		return info.Platform
	default:
		return info.OS
	}
}

func (s *SystemSource) ReadUptime(ctx context.Context) (int64, error) {
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return int64(up), nil
}

func (s *SystemSource) ReadCPUFreq(ctx context.Context) (int64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, errors.New("no cpu reported")
	}
	return int64(infos[0].Mhz), nil
}

func (s *SystemSource) ReadCPUStat(ctx context.Context) (agent.CPUStat, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return agent.CPUStat{}, err
	}
	if len(times) == 0 {
		return agent.CPUStat{}, errors.New("no cpu times reported")
	}
	t := times[0]
	return agent.CPUStat{
		User:    t.User,
		Nice:    t.Nice,
		System:  t.System,
		Idle:    t.Idle,
		IOWait:  t.Iowait,
		IRQ:     t.Irq,
		SoftIRQ: t.Softirq,
		Steal:   t.Steal,
	}, nil
}

func (s *SystemSource) ReadLoadAvg(ctx context.Context) (agent.LoadAvg, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return agent.LoadAvg{}, err
	}
	return agent.LoadAvg{One: avg.Load1, Five: avg.Load5, Fifteen: avg.Load15}, nil
}

func (s *SystemSource) ReadMemory(ctx context.Context) (agent.Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return agent.Memory{}, err
	}
	m := agent.Memory{TotalVirt: vm.Total, AvailVirt: vm.Available}
	// Hosts without swap still report their virtual memory.
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil && swap != nil {
		m.TotalSwap = swap.Total
		m.AvailSwap = swap.Free
	}
	return m, nil
}

// ReadDisks reports usage for physical partitions. Partitions whose usage
// cannot be read (e.g. unmounted media) are skipped.
func (s *SystemSource) ReadDisks(ctx context.Context) ([]agent.Disk, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	disks := make([]agent.Disk, 0, len(parts))
	for _, p := range parts {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		disks = append(disks, agent.Disk{
			Name:       p.Device,
			MountPoint: p.Mountpoint,
			Fstype:     p.Fstype,
			TotalSpace: usage.Total,
			AvailSpace: usage.Free,
		})
	}
	return disks, nil
}

func (s *SystemSource) ReadIOStats(ctx context.Context) ([]agent.IOStat, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, err
	}
	stats := make([]agent.IOStat, 0, len(counters))
	for name, c := range counters {
		stats = append(stats, agent.IOStat{
			DeviceName: name,
			BytesRead:  c.ReadBytes,
			BytesWrtn:  c.WriteBytes,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].DeviceName < stats[j].DeviceName })
	return stats, nil
}

// ReadSensors reports temperature sensors. Some platforms return partial
// readings together with a warning error; partial readings are kept.
func (s *SystemSource) ReadSensors(ctx context.Context) ([]agent.Sensor, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return nil, err
	}
	sensors := make([]agent.Sensor, 0, len(temps))
	for _, t := range temps {
		sensors = append(sensors, agent.Sensor{Label: t.SensorKey, Temp: t.Temperature})
	}
	return sensors, nil
}

func (s *SystemSource) ReadNetwork(ctx context.Context) (agent.Network, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return agent.Network{}, err
	}
	iface, ok := defaultInterface(ifaces)
	if !ok {
		return agent.Network{}, ErrNoInterface
	}
	return agent.Network{Interface: iface.Name, MACAddress: iface.HardwareAddr}, nil
}

// defaultInterface picks the first interface that is up, not a loopback and
// has a hardware address.
func defaultInterface(ifaces []psnet.InterfaceStat) (psnet.InterfaceStat, bool) {
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" {
			continue
		}
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		return iface, true
	}
	return psnet.InterfaceStat{}, false
}

func (s *SystemSource) ReadUsers(ctx context.Context) ([]agent.User, error) {
	stats, err := host.UsersWithContext(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]agent.User, 0, len(stats))
	for _, u := range stats {
		users = append(users, agent.User{
			Name:     u.User,
			Terminal: u.Terminal,
			Host:     u.Host,
			Started:  int64(u.Started),
		})
	}
	return users, nil
}
