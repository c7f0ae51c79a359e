package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/settings"
	"ocm.software/open-component-model/server/internal/setup"
)

const (
	ActionResolveRegistries = "registries:resolve"
	ActionIndexRegistries   = "registries:index"

	// IndexFile is fetched relative to a registry URL.
	IndexFile = "index.json"

	stateKeyRegistries  = "core/registries"
	stateKeyIndexPrefix = "core/registry-index/"
	cacheKeyIndexPrefix = "core/fetched-index/"
)

// IndexEntry is a component advertised by a registry.
type IndexEntry struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// Index is the content of a registry's index.json.
type Index struct {
	Components []IndexEntry `json:"components"`
}

// Lookup returns the entry with the given name.
func (i *Index) Lookup(name string) (IndexEntry, bool) {
	for _, e := range i.Components {
		if e.Name == name {
			return e, true
		}
	}
	return IndexEntry{}, false
}

// SetupIndex returns the index fetched for registry during setup.
func SetupIndex(c *capability.Context, registry string) (*Index, bool) {
	v, ok := c.Load(stateKeyIndexPrefix + registry)
	if !ok {
		return nil, false
	}
	idx, ok := v.(*Index)
	return idx, ok
}

// LookupIndex returns the setup index of registry. Registries that could not
// be indexed during setup are fetched again, and the outcome, failures
// included, is cached until it expires.
func LookupIndex(ctx context.Context, c *capability.Context, registry settings.Registry) (*Index, bool) {
	if idx, ok := SetupIndex(c, registry.Name); ok {
		return idx, true
	}
	key := cacheKeyIndexPrefix + registry.Name
	if v, ok := c.Cache.Get(key); ok {
		idx, ok := v.(*Index)
		return idx, ok && idx != nil
	}
	idx, err := fetchIndex(ctx, c.HTTPClient, registry)
	if err != nil {
		c.Logger.DebugContext(ctx, "registry index unavailable", slog.String("registry", registry.Name), slog.String("error", err.Error()))
		c.Cache.Add(key, (*Index)(nil))
		return nil, false
	}
	c.Cache.Add(key, idx)
	return idx, true
}

// Registries returns the registries resolved during setup.
func Registries(c *capability.Context) []settings.Registry {
	if v, ok := c.Load(stateKeyRegistries); ok {
		if regs, ok := v.([]settings.Registry); ok {
			return regs
		}
	}
	if s := c.ServerSettings(); s != nil {
		return s.Registries
	}
	return nil
}

func setupActions() []setup.Action {
	return []setup.Action{
		{Name: ActionResolveRegistries, Run: resolveRegistries},
		{Name: ActionIndexRegistries, DependsOn: []string{ActionResolveRegistries}, Run: indexRegistries},
	}
}

func resolveRegistries(ctx context.Context, c *capability.Context) error {
	s := c.ServerSettings()
	if s == nil {
		c.Store(stateKeyRegistries, []settings.Registry{})
		return nil
	}
	resolved := make([]settings.Registry, 0, len(s.Registries))
	for _, r := range s.Registries {
		if r.Name == "" {
			return errdefs.Configuration("registry without name")
		}
		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errdefs.Configuration("registry %q has invalid url %q", r.Name, r.URL)
		}
		resolved = append(resolved, r)
	}
	c.Store(stateKeyRegistries, resolved)
	c.Logger.DebugContext(ctx, "registries resolved", slog.Int("count", len(resolved)))
	return nil
}

func indexRegistries(ctx context.Context, c *capability.Context) error {
	for _, r := range Registries(c) {
		idx, err := fetchIndex(ctx, c.HTTPClient, r)
		if err != nil {
			c.Logger.WarnContext(ctx, "could not index registry", slog.String("registry", r.Name), slog.String("error", err.Error()))
			continue
		}
		c.Store(stateKeyIndexPrefix+r.Name, idx)
		c.Logger.DebugContext(ctx, "registry indexed", slog.String("registry", r.Name), slog.Int("components", len(idx.Components)))
	}
	return nil
}

func fetchIndex(ctx context.Context, client *retryablehttp.Client, r settings.Registry) (*Index, error) {
	target, err := url.JoinPath(strings.TrimSuffix(r.URL, "/"), IndexFile)
	if err != nil {
		return nil, fmt.Errorf("could not build index url: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create index request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not fetch index: unexpected status %s", resp.Status)
	}
	idx := &Index{}
	if err := json.NewDecoder(resp.Body).Decode(idx); err != nil {
		return nil, fmt.Errorf("could not decode index: %w", err)
	}
	return idx, nil
}
