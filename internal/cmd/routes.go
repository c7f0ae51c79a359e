package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ocm.software/open-component-model/server/internal/bootstrap"
	"ocm.software/open-component-model/server/internal/commands"
	"ocm.software/open-component-model/server/internal/handler"
)

const (
	FlagOutput  = "output"
	OutputTable = "table"
	OutputJSON  = "json"
)

func newRoutesCmd() *cobra.Command {
	cfg, envErr := ParseEnv()
	var output string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Bootstrap the server home and list the registered handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if err := prepare(&cfg); err != nil {
				return err
			}
			opts, err := cfg.Options()
			if err != nil {
				return err
			}
			catalog, err := Builtin()
			if err != nil {
				return err
			}
			opts.Catalog = catalog
			opts.Reporter = slog.Default()
			opts.NoAPIUpdate = true

			app, err := bootstrap.Run(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("could not bootstrap server: %w", err)
			}
			defer func() { _ = app.Close() }()

			switch output {
			case OutputJSON:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(app.Manifest())
			case OutputTable:
				renderManifest(cmd.OutOrStdout(), app.Manifest())
				return nil
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}
	cfg.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVarP(&output, FlagOutput, "o", OutputTable, "output format (table, json)")
	return cmd
}

func renderManifest(w io.Writer, m handler.Manifest) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Plugin", "Name", "Method", "Path", "Parameters"})
	for _, name := range m.Names() {
		entry := m[name]
		t.AppendRow(table.Row{entry.Plugin, name, entry.Method, entry.Path, formatParameters(entry.Parameters)})
	}
	t.SortBy([]table.SortBy{{Number: 1, Mode: table.Asc}, {Number: 2, Mode: table.Asc}})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}

func formatParameters(p *commands.Parameters) string {
	var parts []string
	for _, param := range p.All() {
		if param.Required {
			parts = append(parts, param.Name+"*")
		} else {
			parts = append(parts, param.Name)
		}
	}
	return strings.Join(parts, ", ")
}
