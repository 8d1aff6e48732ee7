package harvest

import (
	"testing"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
)

func TestDefaultInterface(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []psnet.InterfaceStat
		want   string
		found  bool
	}{
		{
			name: "skips loopback and down interfaces",
			ifaces: []psnet.InterfaceStat{
				{Name: "lo", Flags: []string{"up", "loopback"}, HardwareAddr: "00:00:00:00:00:00"},
				{Name: "eth0", Flags: []string{"broadcast"}, HardwareAddr: "aa:bb:cc:dd:ee:01"},
				{Name: "eth1", Flags: []string{"up", "broadcast"}, HardwareAddr: "aa:bb:cc:dd:ee:02"},
			},
			want:  "eth1",
			found: true,
		},
		{
			name: "skips interfaces without hardware address",
			ifaces: []psnet.InterfaceStat{
				{Name: "tun0", Flags: []string{"up", "pointtopoint"}},
				{Name: "wlan0", Flags: []string{"up"}, HardwareAddr: "aa:bb:cc:dd:ee:03"},
			},
			want:  "wlan0",
			found: true,
		},
		{
			name:   "none qualify",
			ifaces: []psnet.InterfaceStat{{Name: "lo", Flags: []string{"up", "loopback"}}},
			found:  false,
		},
		{
			name:  "empty",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := defaultInterface(tt.ifaces)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestOSVersion(t *testing.T) {
	assert.Equal(t, "ubuntu 22.04", osVersion(&host.InfoStat{OS: "linux", Platform: "ubuntu", PlatformVersion: "22.04"}))
	assert.Equal(t, "arch", osVersion(&host.InfoStat{OS: "linux", Platform: "arch"}))
	assert.Equal(t, "freebsd", osVersion(&host.InfoStat{OS: "freebsd"}))
}
