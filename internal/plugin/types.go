// Package plugin provides the collection plugin capability and its registry.
// A plugin adds one keyed string value to every harvested snapshot.
package plugin

import (
	"context"
	"fmt"
)

// Plugin defines the interface for extra collectors run on every harvest.
type Plugin interface {
	// Name returns the plugin name, used as the key of its result (e.g., "active_users").
	Name() string

	// Collect gathers the plugin value. The returned string is shipped as-is.
	Collect(ctx context.Context) (string, error)
}

// Func is a helper type that allows creating plugins from functions.
type Func struct {
	name    string
	collect func(ctx context.Context) (string, error)
}

// NewFunc creates a new function-based plugin.
func NewFunc(name string, collect func(ctx context.Context) (string, error)) *Func {
	return &Func{
		name:    name,
		collect: collect,
	}
}

// Name returns the plugin name.
func (f *Func) Name() string {
	return f.name
}

// Collect runs the plugin function.
func (f *Func) Collect(ctx context.Context) (string, error) {
	if f.collect == nil {
		return "", NewCollectError(f.name, "collect function not defined", nil)
	}
	return f.collect(ctx)
}

// CollectError represents an error from a plugin.
type CollectError struct {
	Plugin  string
	Message string
	Err     error
}

func (e *CollectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Message, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s", e.Plugin, e.Message)
}

func (e *CollectError) Unwrap() error {
	return e.Err
}

// NewCollectError creates a new plugin error.
func NewCollectError(plugin, message string, err error) *CollectError {
	return &CollectError{
		Plugin:  plugin,
		Message: message,
		Err:     err,
	}
}

// RegistrationError represents an error during plugin registration or lookup.
type RegistrationError struct {
	Plugin  string
	Message string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration failed for plugin %q: %s", e.Plugin, e.Message)
}

// NewRegistrationError creates a new registration error.
func NewRegistrationError(plugin, message string) *RegistrationError {
	return &RegistrationError{
		Plugin:  plugin,
		Message: message,
	}
}
