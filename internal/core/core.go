// Package core is the built-in plugin every server carries.
package core

import (
	"errors"
	"net/http"
	"strings"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/catalog"
	"ocm.software/open-component-model/server/internal/commands"
	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/handler"
	"ocm.software/open-component-model/server/internal/plugin"
	"ocm.software/open-component-model/server/internal/router"
	"ocm.software/open-component-model/server/internal/settings"
	"ocm.software/open-component-model/server/internal/setup"
)

const (
	Name    = "core"
	Package = "ocm.software/open-component-model/server/core"
)

var nameParameter = commands.NewParameters(commands.Parameter{
	Name: "name", Type: "string", Description: "name of the component", Required: true,
})

type corePlugin struct{}

// New returns the core plugin.
func New() plugin.Plugin {
	return corePlugin{}
}

func (corePlugin) Name() string { return Name }

func (corePlugin) Handlers() []handler.Descriptor {
	return []handler.Descriptor{
		{
			Name: "add", Method: http.MethodPost, Path: "/add",
			Description: "add a component from a configured registry",
			Parameters: commands.NewParameters(
				commands.Parameter{Name: "name", Type: "string", Required: true},
				commands.Parameter{Name: "registry", Type: "string", Required: true},
				commands.Parameter{Name: "version", Type: "string"},
				commands.Parameter{Name: "description", Type: "string"},
			),
			Factory: addHandler,
		},
		{
			Name: "list", Method: http.MethodGet, Path: "/list",
			Description: "list added components",
			Parameters: commands.NewParameters(commands.Parameter{
				Name: "registry", Type: "string", Description: "only list components of this registry",
			}),
			Factory: listHandler,
		},
		{
			Name: "details", Method: http.MethodGet, Path: "/details",
			Description: "show an added component",
			Parameters:  nameParameter,
			Factory:     detailsHandler,
		},
		{
			Name: "remove", Method: http.MethodDelete, Path: "/remove",
			Description: "remove an added component",
			Parameters:  nameParameter,
			Factory:     removeHandler,
		},
		{
			Name: "registries", Method: http.MethodGet, Path: "/registries",
			Description: "list configured registries",
			Factory:     registriesHandler,
		},
	}
}

func (corePlugin) SetupActions() []setup.Action {
	return setupActions()
}

type addRequest struct {
	Name        string `json:"name"`
	Registry    string `json:"registry"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

func addHandler(c *capability.Context) router.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req addRequest
		if err := router.DecodeJSON(r, &req); err != nil {
			return err
		}
		if strings.TrimSpace(req.Name) == "" || req.Registry == "" {
			return errdefs.NewStatusError(http.StatusBadRequest, errors.New("name and registry are required"))
		}
		registry, ok := findRegistry(c, req.Registry)
		if !ok {
			return errdefs.NewStatusError(http.StatusBadRequest, errors.New("unknown registry "+req.Registry))
		}

		entry := catalog.Entry{Name: req.Name, Registry: req.Registry, Version: req.Version, Description: req.Description}
		if idx, ok := LookupIndex(r.Context(), c, registry); ok {
			if known, ok := idx.Lookup(req.Name); ok {
				if entry.Version == "" {
					entry.Version = known.Version
				}
				if entry.Description == "" {
					entry.Description = known.Description
				}
			}
		}
		if err := c.Model.Add(entry); err != nil {
			return modelError(err)
		}
		added, err := c.Model.Get(entry.Name)
		if err != nil {
			return modelError(err)
		}
		return router.WriteJSON(w, http.StatusCreated, added)
	}
}

func listHandler(c *capability.Context) router.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		registry := r.URL.Query().Get("registry")
		entries := make([]catalog.Entry, 0)
		for _, e := range c.Model.List() {
			if registry == "" || e.Registry == registry {
				entries = append(entries, e)
			}
		}
		return router.WriteJSON(w, http.StatusOK, entries)
	}
}

func detailsHandler(c *capability.Context) router.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		name, err := requiredQuery(r, "name")
		if err != nil {
			return err
		}
		e, err := c.Model.Get(name)
		if err != nil {
			return modelError(err)
		}
		return router.WriteJSON(w, http.StatusOK, e)
	}
}

func removeHandler(c *capability.Context) router.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		name, err := requiredQuery(r, "name")
		if err != nil {
			return err
		}
		if err := c.Model.Remove(name); err != nil {
			return modelError(err)
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
}

type registryStatus struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Indexed     bool   `json:"indexed"`
	Components  int    `json:"components"`
}

func registriesHandler(c *capability.Context) router.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		regs := Registries(c)
		out := make([]registryStatus, 0, len(regs))
		for _, reg := range regs {
			status := registryStatus{Name: reg.Name, URL: reg.URL, Description: reg.Description}
			if idx, ok := SetupIndex(c, reg.Name); ok {
				status.Indexed = true
				status.Components = len(idx.Components)
			}
			out = append(out, status)
		}
		return router.WriteJSON(w, http.StatusOK, out)
	}
}

func findRegistry(c *capability.Context, name string) (settings.Registry, bool) {
	for _, r := range Registries(c) {
		if r.Name == name {
			return r, true
		}
	}
	return settings.Registry{}, false
}

func requiredQuery(r *http.Request, key string) (string, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return "", errdefs.NewStatusError(http.StatusBadRequest, errors.New("missing query parameter "+key))
	}
	return v, nil
}

func modelError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return errdefs.NewStatusError(http.StatusNotFound, err)
	case errors.Is(err, catalog.ErrExists):
		return errdefs.NewStatusError(http.StatusConflict, err)
	default:
		return err
	}
}
