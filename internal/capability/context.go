// Package capability provides the Context shared by the bootstrap, plugins and
// request handlers.
//
// A Context is created once per bootstrap and passed explicitly to everything
// that needs it. A reload builds a new Context; the old one is closed after the
// new one serves traffic, which runs the hooks registered with OnClose.
package capability

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"ocm.software/open-component-model/server/internal/catalog"
	"ocm.software/open-component-model/server/internal/commands"
	"ocm.software/open-component-model/server/internal/diagnostics"
	"ocm.software/open-component-model/server/internal/settings"
)

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 10 * time.Minute
	DefaultPluginDir = "plugins"
	DefaultAPISpec   = "core-api.json"
)

// Paths are the filesystem locations of one bootstrap.
type Paths struct {
	ServerHome  string
	PluginsPath string
	APISpecPath string
}

// Plugins returns the conventional plugin directory.
func (p Paths) Plugins() string {
	if p.PluginsPath != "" {
		return p.PluginsPath
	}
	return filepath.Join(p.ServerHome, DefaultPluginDir)
}

// APISpec returns the handler manifest location.
func (p Paths) APISpec() string {
	if p.APISpecPath != "" {
		return p.APISpecPath
	}
	return filepath.Join(p.ServerHome, DefaultAPISpec)
}

func (p Paths) LocalSettings() string {
	return filepath.Join(p.ServerHome, settings.LocalSettingsFile)
}

func (p Paths) ServerSettings() string {
	return filepath.Join(p.ServerHome, settings.ServerSettingsFile)
}

// PluginInfo records where a loaded plugin came from.
type PluginInfo struct {
	Name    string `json:"name"`
	Package string `json:"package"`
	Version string `json:"version,omitempty"`
	Dir     string `json:"dir,omitempty"`
}

type Options struct {
	Paths         Paths
	Logger        *slog.Logger
	CacheSize     int
	CacheTTL      time.Duration
	ErrorCapacity int
	RetainErrors  bool
	HTTPClient    *retryablehttp.Client
}

// Context is the aggregate of services available to plugins and handlers.
// Cache holds results computed while serving requests and its entries
// expire; state that must live as long as the Context goes through Store.
type Context struct {
	Paths         Paths
	Logger        *slog.Logger
	Cache         *expirable.LRU[string, any]
	Model         *catalog.Catalog
	Commands      *commands.Registry
	Errors        *diagnostics.Log
	LocalSettings settings.Document
	HTTPClient    *retryablehttp.Client

	mu             sync.RWMutex
	serverSettings *settings.ServerSettings
	state          map[string]any
	plugins        []PluginInfo
	closers        []func() error
	closeOnce      sync.Once
	closeErr       error
}

// New builds a Context and reads the local settings of the server home.
func New(opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	client := opts.HTTPClient
	if client == nil {
		client = retryablehttp.NewClient()
		client.RetryMax = 3
		client.Logger = logger.With(slog.String("component", "http"))
	}

	local, err := settings.LoadLocal(opts.Paths.ServerHome)
	if err != nil {
		return nil, fmt.Errorf("could not load local settings: %w", err)
	}

	return &Context{
		Paths:         opts.Paths,
		Logger:        logger,
		Cache:         expirable.NewLRU[string, any](size, nil, ttl),
		Model:         catalog.New(),
		Commands:      commands.NewRegistry(),
		Errors:        diagnostics.NewLog(diagnostics.WithCapacity(opts.ErrorCapacity), diagnostics.WithRetention(opts.RetainErrors)),
		LocalSettings: local,
		HTTPClient:    client,
	}, nil
}

// ServerSettings returns the server settings once they were loaded.
func (c *Context) ServerSettings() *settings.ServerSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverSettings
}

func (c *Context) SetServerSettings(s *settings.ServerSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverSettings = s
}

// Store keeps v under key for the lifetime of the Context. Unlike Cache,
// stored values never expire.
func (c *Context) Store(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		c.state = map[string]any{}
	}
	c.state[key] = v
}

// Load returns the value stored under key.
func (c *Context) Load(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

// AddPlugin appends to the list of loaded plugins.
func (c *Context) AddPlugin(info PluginInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins = append(c.plugins, info)
}

// Plugins returns the loaded plugins in load order.
func (c *Context) Plugins() []PluginInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.plugins)
}

// OnClose registers fn to run when the Context is closed. Hooks run in reverse
// registration order.
func (c *Context) OnClose(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

// Close runs the close hooks and purges the cache. Only the first call has an effect.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		closers := slices.Clone(c.closers)
		c.mu.Unlock()

		var errs []error
		for _, fn := range slices.Backward(closers) {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		c.Cache.Purge()
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
