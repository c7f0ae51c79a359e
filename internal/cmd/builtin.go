package cmd

import (
	"fmt"

	"ocm.software/open-component-model/server/internal/plugin"
	"ocm.software/open-component-model/server/internal/plugins/health"
)

// Builtin returns the catalog of plugins compiled into the server.
func Builtin() (*plugin.Catalog, error) {
	catalog := plugin.NewCatalog()
	if err := catalog.Register(health.Package, health.New); err != nil {
		return nil, fmt.Errorf("could not register health plugin: %w", err)
	}
	return catalog, nil
}
