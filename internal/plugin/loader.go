// Package plugin discovers, validates and loads server plugins.
//
// A plugin is a Go value implementing Plugin. Plugins are compiled into the
// server binary and published in a Catalog under a package identifier. A
// plugin directory enables one of them for a server home: it holds a
// plugin.yaml naming the package to load, the plugin version and optionally a
// semver constraint on the server version.
//
//	plugins/
//	  health/
//	    plugin.yaml   # name: health, package: ocm.software/plugins/health, version: 1.0.0
//
// The Loader turns each directory into a Descriptor, registers the plugin's
// handlers through the same handler.Registrar the core plugin uses and
// collects its setup actions for the bootstrap. Loading is sequential and in
// the order directories are given, so a plugin never observes registrations
// of a plugin loaded after it.
//
// Any failure while loading (an unreadable or invalid manifest, an unknown
// package, a name mismatch between manifest and plugin or a registration
// conflict) is reported as errdefs.ErrPluginLoad or errdefs.ErrConfiguration
// and is meant to abort the bootstrap.
//
// Plugins whose manifest name matches one of the disabled glob patterns are
// skipped.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/handler"
	"ocm.software/open-component-model/server/internal/setup"
)

type LoaderOptions struct {
	ServerVersion *semver.Version
	Disabled      []string
}

type LoaderOption func(*LoaderOptions)

// WithServerVersion enables checking manifest server constraints against v.
func WithServerVersion(v *semver.Version) LoaderOption {
	return func(o *LoaderOptions) {
		o.ServerVersion = v
	}
}

// WithDisabled skips plugins whose name matches one of the glob patterns.
func WithDisabled(patterns ...string) LoaderOption {
	return func(o *LoaderOptions) {
		o.Disabled = append(o.Disabled, patterns...)
	}
}

type Loader struct {
	context   *capability.Context
	catalog   *Catalog
	registrar *handler.Registrar
	validator *manifestValidator

	serverVersion *semver.Version
	disabled      []glob.Glob

	loaded  []*Descriptor
	actions []setup.Action
}

func NewLoader(c *capability.Context, catalog *Catalog, registrar *handler.Registrar, opts ...LoaderOption) (*Loader, error) {
	options := &LoaderOptions{}
	for _, opt := range opts {
		opt(options)
	}
	validator, err := newManifestValidator()
	if err != nil {
		return nil, err
	}
	l := &Loader{
		context:       c,
		catalog:       catalog,
		registrar:     registrar,
		validator:     validator,
		serverVersion: options.ServerVersion,
	}
	for _, pattern := range options.Disabled {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errdefs.Configuration("invalid disabled plugin pattern %q: %v", pattern, err)
		}
		l.disabled = append(l.disabled, g)
	}
	return l, nil
}

// Discover returns the sub-directories of dir holding a plugin manifest,
// sorted by name. A missing dir yields no plugins.
func (l *Loader) Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: could not read plugin directory %q: %w", errdefs.ErrPluginLoad, dir, err)
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(candidate, ManifestFile)); err == nil {
			dirs = append(dirs, candidate)
		}
	}
	return dirs, nil
}

// Load loads the plugins in dirs in the given order.
func (l *Loader) Load(ctx context.Context, dirs ...string) error {
	for _, dir := range dirs {
		if _, err := l.LoadDir(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir loads the plugin described by dir/plugin.yaml. It returns nil
// without error if the plugin is disabled.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Descriptor, error) {
	m, err := ReadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrPluginLoad, err)
	}
	if err := l.validator.validate(m, l.serverVersion); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest in %q: %w", errdefs.ErrPluginLoad, dir, err)
	}
	if l.isDisabled(m.Name) {
		l.context.Logger.InfoContext(ctx, "skipping disabled plugin", slog.String("plugin", m.Name), slog.String("dir", dir))
		return nil, nil
	}

	factory, err := l.catalog.Lookup(m.Package)
	if err != nil {
		return nil, fmt.Errorf("could not load plugin %q from %q: %w", m.Name, dir, err)
	}
	p := factory()
	if p == nil {
		return nil, fmt.Errorf("%w: package %q produced no plugin", errdefs.ErrPluginLoad, m.Package)
	}
	if p.Name() != m.Name {
		return nil, fmt.Errorf("%w: manifest in %q names %q but package %q provides %q", errdefs.ErrPluginLoad, dir, m.Name, m.Package, p.Name())
	}
	return l.LoadPlugin(ctx, p, m.Package, m.Version, dir)
}

// LoadPlugin registers an in-process plugin.
func (l *Loader) LoadPlugin(ctx context.Context, p Plugin, pkg, version, dir string) (*Descriptor, error) {
	if p.Name() == "" {
		return nil, fmt.Errorf("%w: plugin from package %q has no name", errdefs.ErrPluginLoad, pkg)
	}
	d := &Descriptor{
		Name:         p.Name(),
		Package:      pkg,
		Version:      version,
		Dir:          dir,
		Handlers:     p.Handlers(),
		SetupActions: p.SetupActions(),
	}
	if slices.ContainsFunc(l.loaded, func(o *Descriptor) bool { return o.Name == d.Name }) {
		return nil, fmt.Errorf("%w: plugin %q is already loaded", errdefs.ErrPluginLoad, d.Name)
	}

	if err := l.registrar.RegisterHandlers(handler.Registration{
		Name:     d.Name,
		Package:  d.Package,
		Handlers: d.Handlers,
		Context:  l.context,
	}); err != nil {
		return nil, err
	}

	l.loaded = append(l.loaded, d)
	l.actions = append(l.actions, d.SetupActions...)
	l.context.AddPlugin(capability.PluginInfo{Name: d.Name, Package: d.Package, Version: d.Version, Dir: d.Dir})
	l.context.Logger.DebugContext(ctx, "plugin loaded",
		slog.String("plugin", d.Name),
		slog.String("package", d.Package),
		slog.Int("handlers", len(d.Handlers)),
		slog.Int("actions", len(d.SetupActions)),
	)
	return d, nil
}

func (l *Loader) isDisabled(name string) bool {
	return slices.ContainsFunc(l.disabled, func(g glob.Glob) bool { return g.Match(name) })
}

// Loaded returns the loaded plugins in load order.
func (l *Loader) Loaded() []*Descriptor {
	return slices.Clone(l.loaded)
}

// SetupActions returns the setup actions of all loaded plugins in load order.
func (l *Loader) SetupActions() []setup.Action {
	return slices.Clone(l.actions)
}
