package plugin

import (
	"context"
	"encoding/json"

	"github.com/shirou/gopsutil/v3/host"
)

func init() {
	MustRegister(&ActiveUsersPlugin{})
	MustRegister(&OSReleasePlugin{})
}

const (
	NameActiveUsers = "active_users"
	NameOSRelease   = "os_release"
)

// ActiveUsersPlugin reports the logged-in users as a JSON array.
type ActiveUsersPlugin struct {
	// users is replaced in tests.
	users func(ctx context.Context) ([]host.UserStat, error)
}

func (p *ActiveUsersPlugin) Name() string {
	return NameActiveUsers
}

func (p *ActiveUsersPlugin) Collect(ctx context.Context) (string, error) {
	read := p.users
	if read == nil {
		read = host.UsersWithContext
	}
	users, err := read(ctx)
	if err != nil {
		return "", NewCollectError(NameActiveUsers, "reading users", err)
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.User)
	}
	return marshal(NameActiveUsers, names)
}

type osRelease struct {
	Platform        string `json:"platform"`
	PlatformFamily  string `json:"platform_family"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	KernelArch      string `json:"kernel_arch"`
}

// OSReleasePlugin reports platform and kernel versions as a JSON object.
type OSReleasePlugin struct{}

func (p *OSReleasePlugin) Name() string {
	return NameOSRelease
}

func (p *OSReleasePlugin) Collect(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", NewCollectError(NameOSRelease, "reading host info", err)
	}
	return marshal(NameOSRelease, osRelease{
		Platform:        info.Platform,
		PlatformFamily:  info.PlatformFamily,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		KernelArch:      info.KernelArch,
	})
}

func marshal(name string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", NewCollectError(name, "encoding result", err)
	}
	return string(b), nil
}
