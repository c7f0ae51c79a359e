package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/server/internal/log"
)

// New creates the ocm-server root command.
func New() *cobra.Command {
	root := &cobra.Command{
		Use:   "ocm-server [sub-command]",
		Short: "Pluggable Open Component Model server",
		Long: `The OCM server bootstraps a HTTP service from a server home directory.
  Plugins found in the home contribute handlers and setup actions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := log.GetBaseLogger(cmd)
			if err != nil {
				return fmt.Errorf("could not retrieve logger: %w", err)
			}
			slog.SetDefault(logger)
			return nil
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	log.RegisterLoggingFlags(root)
	root.AddCommand(newServeCmd(), newRoutesCmd(), newVersionCmd())
	return root
}

// prepare resolves the configuration of a bootstrapping command.
func prepare(cfg *Config) error {
	if cfg.Home == "" {
		return fmt.Errorf("--%s or OCM_SERVER_HOME is required", FlagHome)
	}
	return nil
}
