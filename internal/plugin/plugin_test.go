package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/host"
)

func constPlugin(name, val string) *Func {
	return NewFunc(name, func(ctx context.Context) (string, error) {
		return val, nil
	})
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	err := r.Register(constPlugin("uptime_days", "3"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	p := constPlugin("uptime_days", "3")
	_ = r.Register(p)

	err := r.Register(p)
	if err == nil {
		t.Fatal("expected error for duplicate registration")
	}

	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Errorf("expected RegistrationError, got %T", err)
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil plugin")
	}
	if err := r.Register(constPlugin("", "x")); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(constPlugin("uptime_days", "3"))

	got, found := r.Get("uptime_days")
	if !found {
		t.Fatal("expected to find plugin")
	}
	if got.Name() != "uptime_days" {
		t.Errorf("expected name uptime_days, got %s", got.Name())
	}

	if _, found := r.Get("nonexistent"); found {
		t.Error("expected not to find plugin")
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()

	_ = r.Register(constPlugin("zfs_pools", ""))
	_ = r.Register(constPlugin("docker", ""))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
	if names[0] != "docker" || names[1] != "zfs_pools" {
		t.Errorf("expected sorted names [docker zfs_pools], got %v", names)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(constPlugin("docker", ""))

	if !r.Unregister("docker") {
		t.Error("expected plugin to be removed")
	}
	if r.Count() != 0 {
		t.Errorf("expected count 0, got %d", r.Count())
	}
	if r.Unregister("docker") {
		t.Error("expected false for already removed plugin")
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(constPlugin("docker", ""))

	defer func() {
		if recover() == nil {
			t.Error("expected panic for duplicate registration")
		}
	}()

	r.MustRegister(constPlugin("docker", ""))
}

func TestRegistry_Select(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(constPlugin("a", "1"))
	_ = r.Register(constPlugin("b", "2"))
	_ = r.Register(constPlugin("c", "3"))

	got, err := r.Select([]string{"c", "a", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Name() != "c" || got[1].Name() != "a" {
		t.Errorf("unexpected selection order: %v", got)
	}

	got, err = r.Select(nil)
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty selection, got %v, %v", got, err)
	}

	_, err = r.Select([]string{"a", "missing"})
	var regErr *RegistrationError
	if !errors.As(err, &regErr) || regErr.Plugin != "missing" {
		t.Errorf("expected RegistrationError for missing, got %v", err)
	}
}

func TestFunc_CollectWithoutFunction(t *testing.T) {
	p := NewFunc("empty", nil)

	_, err := p.Collect(context.Background())
	var collectErr *CollectError
	if !errors.As(err, &collectErr) {
		t.Fatalf("expected CollectError, got %v", err)
	}
}

func TestCollectError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewCollectError("docker", "reading socket", cause)

	if !errors.Is(err, cause) {
		t.Error("expected error to wrap cause")
	}
	if err.Error() != "plugin docker: reading socket: permission denied" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestDefaultRegistry_HasBuiltins(t *testing.T) {
	for _, name := range []string{NameActiveUsers, NameOSRelease} {
		if _, ok := Get(name); !ok {
			t.Errorf("expected built-in plugin %s to be registered", name)
		}
	}
}

func TestActiveUsersPlugin_Collect(t *testing.T) {
	p := &ActiveUsersPlugin{
		users: func(ctx context.Context) ([]host.UserStat, error) {
			return []host.UserStat{{User: "alice"}, {User: "bob"}}, nil
		},
	}

	val, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	if err := json.Unmarshal([]byte(val), &names); err != nil {
		t.Fatalf("result is not a JSON array: %v", err)
	}
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Errorf("unexpected users: %v", names)
	}
}

func TestActiveUsersPlugin_CollectEmpty(t *testing.T) {
	p := &ActiveUsersPlugin{
		users: func(ctx context.Context) ([]host.UserStat, error) {
			return nil, nil
		},
	}

	val, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "[]" {
		t.Errorf("expected empty JSON array, got %q", val)
	}
}

func TestActiveUsersPlugin_CollectError(t *testing.T) {
	p := &ActiveUsersPlugin{
		users: func(ctx context.Context) ([]host.UserStat, error) {
			return nil, errors.New("utmp unreadable")
		},
	}

	_, err := p.Collect(context.Background())
	var collectErr *CollectError
	if !errors.As(err, &collectErr) || collectErr.Plugin != NameActiveUsers {
		t.Errorf("expected CollectError for %s, got %v", NameActiveUsers, err)
	}
}
