package engine

import (
	"context"
)

// EnvContext is the loaded, environment-specific configuration passed to every handler.
// It is loaded once before a run and treated as read-only afterwards.
type EnvContext interface {
	// Env returns the environment the context was loaded for.
	Env() Environment

	// Get returns the value of a loaded variable.
	Get(key string) (string, bool)

	// Vars returns a copy of every loaded variable.
	Vars() map[string]string

	// ProjectRoot returns the root directory of the infrastructure project.
	ProjectRoot() string
}

// EventPublisher receives execution events. Publish is called synchronously
// from the executor, so implementations should return quickly.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error
}

// Plugin contributes operations to a registry.
// Host programs call Register explicitly; nothing registers itself on import.
type Plugin interface {
	// Register adds the plugin's operations to r.
	Register(r *Registry) error
}

// PluginFunc adapts a plain function to the Plugin interface.
type PluginFunc func(r *Registry) error

// Register calls f(r).
func (f PluginFunc) Register(r *Registry) error {
	return f(r)
}

// ApplyPlugins registers every plugin in order and stops at the first error.
func ApplyPlugins(r *Registry, plugins ...Plugin) error {
	for _, p := range plugins {
		if p == nil {
			continue
		}
		if err := p.Register(r); err != nil {
			return err
		}
	}
	return nil
}
