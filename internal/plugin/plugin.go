package plugin

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/handler"
	"ocm.software/open-component-model/server/internal/setup"
)

// Plugin is implemented by every extension of the server.
type Plugin interface {
	Name() string
	Handlers() []handler.Descriptor
	SetupActions() []setup.Action
}

// Definition is a Plugin assembled from plain values.
type Definition struct {
	PluginName string
	Handler    []handler.Descriptor
	Actions    []setup.Action
}

var _ Plugin = Definition{}

func (d Definition) Name() string                   { return d.PluginName }
func (d Definition) Handlers() []handler.Descriptor { return d.Handler }
func (d Definition) SetupActions() []setup.Action   { return d.Actions }

// Factory creates a fresh plugin instance for one bootstrap.
type Factory func() Plugin

// Catalog maps package identifiers named in plugin manifests to the
// compiled-in factories implementing them.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: map[string]Factory{}}
}

// Register adds a factory under pkg.
func (c *Catalog) Register(pkg string, f Factory) error {
	if pkg == "" || f == nil {
		return errdefs.Configuration("plugin package and factory are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factories[pkg]; ok {
		return errdefs.Configuration("plugin package %q is already registered", pkg)
	}
	c.factories[pkg] = f
	return nil
}

// Lookup returns the factory for pkg.
func (c *Catalog) Lookup(pkg string) (Factory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[pkg]
	if !ok {
		return nil, fmt.Errorf("%w: unknown plugin package %q", errdefs.ErrPluginLoad, pkg)
	}
	return f, nil
}

// Packages returns all registered package identifiers in ascending order.
func (c *Catalog) Packages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.factories))
}

// Descriptor is a loaded plugin.
type Descriptor struct {
	Name         string
	Package      string
	Version      string
	Dir          string
	Handlers     []handler.Descriptor
	SetupActions []setup.Action
}
