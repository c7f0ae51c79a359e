// Package handler registers request handlers contributed by plugins.
//
// Every plugin, the built-in core included, goes through RegisterHandlers.
// A registration adds the handler's path to the command registry, records it
// in the handler manifest and mounts it on the router. Handlers marked as
// Deferred are held back until FlushPending, which the bootstrap calls once
// all plugins are loaded.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/commands"
	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/router"
)

var ErrAlreadyFlushed = errors.New("pending handlers were already flushed")

// Descriptor declares a single handler.
type Descriptor struct {
	Name        string
	Method      string
	Path        string
	Description string
	Parameters  *commands.Parameters
	Factory     func(c *capability.Context) router.HandlerFunc
	// Deferred handlers are mounted by FlushPending.
	Deferred bool
}

// Registration is the set of handlers one plugin contributes.
type Registration struct {
	Name     string
	Package  string
	Handlers []Descriptor
	Context  *capability.Context
}

// ManifestEntry describes a registered handler in the manifest.
type ManifestEntry struct {
	Plugin      string               `json:"plugin"`
	Package     string               `json:"package"`
	Method      string               `json:"method"`
	Path        string               `json:"path"`
	Description string               `json:"description,omitempty"`
	Parameters  *commands.Parameters `json:"parameters"`
}

// Manifest maps handler names to their entries.
type Manifest map[string]ManifestEntry

// Names returns the handler names in ascending order.
func (m Manifest) Names() []string {
	return slices.Sorted(maps.Keys(m))
}

// WriteFile stores the manifest as indented JSON.
func (m Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode handler manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("could not write handler manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteFile.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read handler manifest: %w", err)
	}
	m := Manifest{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("could not decode handler manifest: %w", err)
	}
	return m, nil
}

type pending struct {
	descriptor Descriptor
	context    *capability.Context
}

// Registrar mounts handlers on a router.
type Registrar struct {
	router router.Router

	mu       sync.Mutex
	manifest Manifest
	pending  []pending
	flushed  bool
}

func NewRegistrar(r router.Router) *Registrar {
	return &Registrar{router: r, manifest: Manifest{}}
}

var methods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// RegisterHandlers registers all handlers of reg. It stops at the first
// invalid or conflicting handler.
func (r *Registrar) RegisterHandlers(reg Registration) error {
	if reg.Context == nil {
		return errdefs.Configuration("plugin %q registered handlers without capability context", reg.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range reg.Handlers {
		if err := r.register(reg, h); err != nil {
			return fmt.Errorf("could not register handler %q of plugin %q: %w", h.Name, reg.Name, err)
		}
	}
	return nil
}

func (r *Registrar) register(reg Registration, h Descriptor) error {
	h.Method = strings.ToUpper(h.Method)
	switch {
	case h.Name == "":
		return errdefs.Configuration("handler without name")
	case !slices.Contains(methods, h.Method):
		return errdefs.Configuration("unsupported method %q", h.Method)
	case !strings.HasPrefix(h.Path, "/"):
		return errdefs.Configuration("path %q must start with /", h.Path)
	case h.Factory == nil:
		return errdefs.Configuration("handler has no factory")
	}
	if err := router.ValidatePattern(h.Path); err != nil {
		return err
	}
	if existing, ok := r.manifest[h.Name]; ok {
		return errdefs.Configuration("handler name already registered by plugin %q", existing.Plugin)
	}
	if h.Parameters == nil {
		h.Parameters = commands.NewParameters()
	}
	if err := reg.Context.Commands.AddCommandPath(commands.SplitPath(h.Path), h.Parameters); err != nil {
		return err
	}

	r.manifest[h.Name] = ManifestEntry{
		Plugin:      reg.Name,
		Package:     reg.Package,
		Method:      h.Method,
		Path:        h.Path,
		Description: h.Description,
		Parameters:  h.Parameters,
	}

	if h.Deferred && !r.flushed {
		r.pending = append(r.pending, pending{descriptor: h, context: reg.Context})
		return nil
	}
	return r.mount(h, reg.Context)
}

func (r *Registrar) mount(h Descriptor, c *capability.Context) error {
	return r.router.Handle(h.Method, h.Path, h.Factory(c))
}

// FlushPending mounts deferred handlers in the order they were registered.
// It may only be called once.
func (r *Registrar) FlushPending() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed {
		return 0, ErrAlreadyFlushed
	}
	r.flushed = true
	for _, p := range r.pending {
		if err := r.mount(p.descriptor, p.context); err != nil {
			return 0, fmt.Errorf("could not mount deferred handler %q: %w", p.descriptor.Name, err)
		}
	}
	n := len(r.pending)
	r.pending = nil
	return n, nil
}

// Manifest returns a copy of the handler manifest.
func (r *Registrar) Manifest() Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.manifest)
}
