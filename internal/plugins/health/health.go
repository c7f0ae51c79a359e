// Package health is a plugin reporting server readiness and loaded plugins.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/core"
	"ocm.software/open-component-model/server/internal/handler"
	"ocm.software/open-component-model/server/internal/plugin"
	"ocm.software/open-component-model/server/internal/router"
	"ocm.software/open-component-model/server/internal/setup"
)

const (
	Name    = "health"
	Package = "ocm.software/open-component-model/server/plugins/health"

	ActionReady = "health:ready"
)

type healthPlugin struct {
	readySince atomic.Pointer[time.Time]
}

func New() plugin.Plugin {
	return &healthPlugin{}
}

func (p *healthPlugin) Name() string { return Name }

func (p *healthPlugin) Handlers() []handler.Descriptor {
	return []handler.Descriptor{{
		Name:        "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Description: "report readiness of the server",
		Factory:     p.handler,
		Deferred:    true,
	}}
}

func (p *healthPlugin) SetupActions() []setup.Action {
	return []setup.Action{{
		Name:      ActionReady,
		DependsOn: []string{core.ActionIndexRegistries},
		Run: func(ctx context.Context, c *capability.Context) error {
			now := time.Now().UTC()
			p.readySince.Store(&now)
			return nil
		},
	}}
}

type status struct {
	Ready      bool                    `json:"ready"`
	ReadySince *time.Time              `json:"readySince,omitempty"`
	Plugins    []capability.PluginInfo `json:"plugins"`
	Errors     int                     `json:"errors"`
}

func (p *healthPlugin) handler(c *capability.Context) router.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		since := p.readySince.Load()
		code := http.StatusOK
		if since == nil {
			code = http.StatusServiceUnavailable
		}
		return router.WriteJSON(w, code, status{
			Ready:      since != nil,
			ReadySince: since,
			Plugins:    c.Plugins(),
			Errors:     c.Errors.Len(),
		})
	}
}
