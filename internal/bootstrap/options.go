package bootstrap

import (
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-retryablehttp"

	"ocm.software/open-component-model/server/internal/plugin"
	"ocm.software/open-component-model/server/internal/settings"
)

// Options configure one bootstrap.
type Options struct {
	// APISpecPath overrides {ServerHome}/core-api.json.
	APISpecPath string
	// App is an existing application to reload instead of creating a new one.
	App *App
	// DefaultRegistries are merged into the server settings with UseDefaultSettings.
	DefaultRegistries []settings.Registry
	// NoAPIUpdate skips writing the handler manifest.
	NoAPIUpdate bool
	// NoRegistries ignores configured registries for this run.
	NoRegistries bool
	// PluginPaths are plugin directories loaded after the conventional ones.
	PluginPaths []string
	// PluginsPath overrides {ServerHome}/plugins.
	PluginsPath string
	Reporter    *slog.Logger
	// ServerHome is required.
	ServerHome string
	// SkipCorePlugins skips the conventional plugin directory.
	SkipCorePlugins    bool
	UseDefaultSettings bool

	// Catalog resolves package identifiers of plugin manifests.
	Catalog *plugin.Catalog
	// Version is checked against plugin server constraints.
	Version *semver.Version

	RetainErrors     bool
	ErrorCapacity    int
	CacheSize        int
	CacheTTL         time.Duration
	MaxBodySize      int64
	SetupConcurrency int
	HTTPClient       *retryablehttp.Client
}

func (o Options) logger() *slog.Logger {
	if o.Reporter != nil {
		return o.Reporter
	}
	return slog.Default()
}
