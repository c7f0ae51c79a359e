package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"ocm.software/open-component-model/server/internal/bootstrap"
	"ocm.software/open-component-model/server/internal/settings"
)

const (
	FlagAddr               = "addr"
	FlagHome               = "home"
	FlagPluginsPath        = "plugins-path"
	FlagPluginPath         = "plugin-path"
	FlagAPISpec            = "api-spec"
	FlagSkipCorePlugins    = "skip-core-plugins"
	FlagNoAPIUpdate        = "no-api-update"
	FlagNoRegistries       = "no-registries"
	FlagUseDefaultSettings = "use-default-settings"
	FlagDefaultRegistry    = "default-registry"
	FlagRetainErrors       = "retain-errors"
	FlagShutdownTimeout    = "shutdown-timeout"
)

// Config is the server configuration. Environment variables provide the
// defaults, command line flags override them.
type Config struct {
	Addr               string        `env:"OCM_SERVER_ADDR" envDefault:":8080"`
	Home               string        `env:"OCM_SERVER_HOME"`
	PluginsPath        string        `env:"OCM_SERVER_PLUGINS_PATH"`
	PluginPaths        []string      `env:"OCM_SERVER_PLUGIN_PATHS" envSeparator:","`
	APISpecPath        string        `env:"OCM_SERVER_API_SPEC"`
	SkipCorePlugins    bool          `env:"OCM_SERVER_SKIP_CORE_PLUGINS"`
	NoAPIUpdate        bool          `env:"OCM_SERVER_NO_API_UPDATE"`
	NoRegistries       bool          `env:"OCM_SERVER_NO_REGISTRIES"`
	UseDefaultSettings bool          `env:"OCM_SERVER_USE_DEFAULT_SETTINGS"`
	DefaultRegistries  []string      `env:"OCM_SERVER_DEFAULT_REGISTRIES" envSeparator:","`
	RetainErrors       bool          `env:"OCM_SERVER_RETAIN_ERRORS"`
	ShutdownTimeout    time.Duration `env:"OCM_SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseEnv reads the configuration from the environment.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("could not parse environment: %w", err)
	}
	return cfg, nil
}

// RegisterFlags binds the bootstrap flags to cfg.
func (cfg *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&cfg.Home, FlagHome, cfg.Home, "server home directory holding settings and plugins")
	fs.StringVar(&cfg.PluginsPath, FlagPluginsPath, cfg.PluginsPath, "conventional plugin directory (default {home}/plugins)")
	fs.StringSliceVar(&cfg.PluginPaths, FlagPluginPath, cfg.PluginPaths, "additional plugin directory, loaded after the conventional ones")
	fs.StringVar(&cfg.APISpecPath, FlagAPISpec, cfg.APISpecPath, "handler manifest location (default {home}/core-api.json)")
	fs.BoolVar(&cfg.SkipCorePlugins, FlagSkipCorePlugins, cfg.SkipCorePlugins, "do not load plugins from the conventional directory")
	fs.BoolVar(&cfg.NoAPIUpdate, FlagNoAPIUpdate, cfg.NoAPIUpdate, "do not write the handler manifest")
	fs.BoolVar(&cfg.NoRegistries, FlagNoRegistries, cfg.NoRegistries, "ignore configured registries")
	fs.BoolVar(&cfg.UseDefaultSettings, FlagUseDefaultSettings, cfg.UseDefaultSettings, "merge default registries into the server settings")
	fs.StringArrayVar(&cfg.DefaultRegistries, FlagDefaultRegistry, cfg.DefaultRegistries, "default registry as name=url")
	fs.BoolVar(&cfg.RetainErrors, FlagRetainErrors, cfg.RetainErrors, "keep every captured error in addition to the most recent ones")
}

// Options converts the configuration into bootstrap options.
func (cfg *Config) Options() (bootstrap.Options, error) {
	registries, err := parseRegistries(cfg.DefaultRegistries)
	if err != nil {
		return bootstrap.Options{}, err
	}
	return bootstrap.Options{
		APISpecPath:        cfg.APISpecPath,
		DefaultRegistries:  registries,
		NoAPIUpdate:        cfg.NoAPIUpdate,
		NoRegistries:       cfg.NoRegistries,
		PluginPaths:        cfg.PluginPaths,
		PluginsPath:        cfg.PluginsPath,
		ServerHome:         cfg.Home,
		SkipCorePlugins:    cfg.SkipCorePlugins,
		UseDefaultSettings: cfg.UseDefaultSettings,
		RetainErrors:       cfg.RetainErrors,
	}, nil
}

func parseRegistries(specs []string) ([]settings.Registry, error) {
	registries := make([]settings.Registry, 0, len(specs))
	for _, spec := range specs {
		name, url, ok := strings.Cut(spec, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid default registry %q, expected name=url", spec)
		}
		registries = append(registries, settings.Registry{Name: name, URL: url})
	}
	return registries, nil
}
