// Package bootstrap assembles a ready to serve application from the core
// plugin, the plugins found for a server home and the persisted settings.
//
// The sequence of one bootstrap is fixed:
//
//  1. build the capability context for the server home
//  2. install request logging and body parsing
//  3. register the core handlers
//  4. load plugins from the conventional directory, then from PluginPaths
//  5. flush deferred handler registrations
//  6. install the error pipeline and the error record endpoint
//  7. load and merge the server settings
//  8. run all setup actions
//  9. write the handler manifest
//
// Any failure aborts the bootstrap and no application is returned.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/core"
	"ocm.software/open-component-model/server/internal/diagnostics"
	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/handler"
	"ocm.software/open-component-model/server/internal/plugin"
	"ocm.software/open-component-model/server/internal/router"
	"ocm.software/open-component-model/server/internal/settings"
	"ocm.software/open-component-model/server/internal/setup"
	"ocm.software/open-component-model/server/internal/version"
)

// DisabledPluginsKey is the local settings key listing glob patterns of plugins not to load.
const DisabledPluginsKey = "plugins.disabled"

// App is a bootstrapped server. It serves the state of the latest successful
// bootstrap and can be reloaded in place.
type App struct {
	reload sync.Mutex
	state  atomic.Pointer[state]
}

type state struct {
	mux      *router.Mux
	context  *capability.Context
	manifest handler.Manifest
	plugins  []*plugin.Descriptor
}

// Run bootstraps a new application, or reloads opts.App if set.
func Run(ctx context.Context, opts Options) (*App, error) {
	if opts.App != nil {
		if err := opts.App.Reload(ctx, opts); err != nil {
			return nil, err
		}
		return opts.App, nil
	}
	st, err := build(ctx, opts)
	if err != nil {
		return nil, err
	}
	app := &App{}
	app.state.Store(st)
	return app, nil
}

// Reload runs a full bootstrap with opts into a fresh context. On success the
// new state replaces the current one atomically and the previous context is
// closed. On failure the current state keeps serving.
func (a *App) Reload(ctx context.Context, opts Options) error {
	a.reload.Lock()
	defer a.reload.Unlock()

	st, err := build(ctx, opts)
	if err != nil {
		return fmt.Errorf("could not reload: %w", err)
	}
	old := a.state.Swap(st)
	opts.logger().InfoContext(ctx, "server reloaded", slog.Int("handlers", len(st.manifest)))
	if old != nil {
		if err := old.context.Close(); err != nil {
			opts.logger().WarnContext(ctx, "could not close previous context", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.state.Load().mux.ServeHTTP(w, r)
}

// Context returns the capability context of the current state.
func (a *App) Context() *capability.Context {
	return a.state.Load().context
}

// Manifest returns the handler manifest of the current state.
func (a *App) Manifest() handler.Manifest {
	return a.state.Load().manifest
}

// Plugins returns the plugins loaded into the current state, core first.
func (a *App) Plugins() []*plugin.Descriptor {
	return a.state.Load().plugins
}

// Routes lists the routes of the current state.
func (a *App) Routes() []string {
	return a.state.Load().mux.Routes()
}

// Close closes the current context.
func (a *App) Close() error {
	return a.state.Load().context.Close()
}

func build(ctx context.Context, opts Options) (_ *state, err error) {
	if opts.ServerHome == "" {
		return nil, errdefs.Configuration("server home is required")
	}
	if err := os.MkdirAll(opts.ServerHome, 0o755); err != nil {
		return nil, fmt.Errorf("could not create server home: %w", err)
	}
	logger := opts.logger().With(slog.String("home", opts.ServerHome))
	serverVersion := opts.Version
	if serverVersion == nil {
		serverVersion = version.Semver()
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = plugin.NewCatalog()
	}

	c, err := capability.New(capability.Options{
		Paths: capability.Paths{
			ServerHome:  opts.ServerHome,
			PluginsPath: opts.PluginsPath,
			APISpecPath: opts.APISpecPath,
		},
		Logger:        logger,
		CacheSize:     opts.CacheSize,
		CacheTTL:      opts.CacheTTL,
		ErrorCapacity: opts.ErrorCapacity,
		RetainErrors:  opts.RetainErrors,
		HTTPClient:    opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create capability context: %w", err)
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	mux := router.NewMux()
	mux.Use(router.RequestLogger(logger)...)
	mux.Use(router.BodyParsing(opts.MaxBodySize)...)

	registrar := handler.NewRegistrar(mux)
	loader, err := plugin.NewLoader(c, catalog, registrar,
		plugin.WithServerVersion(serverVersion),
		plugin.WithDisabled(c.LocalSettings.Strings(DisabledPluginsKey)...),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create plugin loader: %w", err)
	}

	if _, err := loader.LoadPlugin(ctx, core.New(), core.Package, serverVersion.String(), ""); err != nil {
		return nil, fmt.Errorf("could not register core handlers: %w", err)
	}

	if !opts.SkipCorePlugins {
		dirs, err := loader.Discover(c.Paths.Plugins())
		if err != nil {
			return nil, fmt.Errorf("could not discover plugins: %w", err)
		}
		if err := loader.Load(ctx, dirs...); err != nil {
			return nil, fmt.Errorf("could not load plugins: %w", err)
		}
	}
	if err := loader.Load(ctx, opts.PluginPaths...); err != nil {
		return nil, fmt.Errorf("could not load plugins: %w", err)
	}

	flushed, err := registrar.FlushPending()
	if err != nil {
		return nil, fmt.Errorf("could not flush pending handlers: %w", err)
	}
	logger.DebugContext(ctx, "pending handlers flushed", slog.Int("count", flushed))

	mux.UseError(diagnostics.Capture(c.Errors), diagnostics.Present())
	if err := mux.Handle(http.MethodGet, diagnostics.ErrorsPattern, diagnostics.Handler(c.Errors)); err != nil {
		return nil, fmt.Errorf("could not mount error records: %w", err)
	}

	serverSettings, err := loadServerSettings(ctx, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("could not load server settings: %w", err)
	}
	c.SetServerSettings(serverSettings)

	var schedulerOpts []setup.Option
	if opts.SetupConcurrency > 0 {
		schedulerOpts = append(schedulerOpts, setup.WithConcurrency(opts.SetupConcurrency))
	}
	scheduler := setup.NewScheduler(c, schedulerOpts...)
	for _, action := range loader.SetupActions() {
		if err := scheduler.Enqueue(action); err != nil {
			return nil, fmt.Errorf("could not enqueue setup action: %w", err)
		}
	}
	scheduler.Complete()
	if err := scheduler.Await(ctx); err != nil {
		return nil, fmt.Errorf("could not run setup actions: %w", err)
	}

	manifest := registrar.Manifest()
	if !opts.NoAPIUpdate {
		if err := manifest.WriteFile(c.Paths.APISpec()); err != nil {
			return nil, err
		}
		logger.DebugContext(ctx, "handler manifest written", slog.String("path", c.Paths.APISpec()))
	}

	logger.InfoContext(ctx, "bootstrap complete",
		slog.Int("plugins", len(loader.Loaded())),
		slog.Int("handlers", len(manifest)),
		slog.Int("actions", len(scheduler.Names())),
	)
	return &state{mux: mux, context: c, manifest: manifest, plugins: loader.Loaded()}, nil
}

func loadServerSettings(ctx context.Context, logger *slog.Logger, opts Options) (*settings.ServerSettings, error) {
	s, created, err := settings.LoadServer(opts.ServerHome)
	if err != nil {
		return nil, err
	}
	if created {
		logger.InfoContext(ctx, "created server settings", slog.String("file", settings.ServerSettingsFile))
	}
	if opts.UseDefaultSettings && s.MergeRegistries(opts.DefaultRegistries) {
		if err := s.Save(opts.ServerHome); err != nil {
			return nil, err
		}
	}
	if opts.NoRegistries {
		return &settings.ServerSettings{Registries: []settings.Registry{}, Extra: s.Extra}, nil
	}
	return s, nil
}
