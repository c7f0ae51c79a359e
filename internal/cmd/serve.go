package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/server/internal/bootstrap"
)

func newServeCmd() *cobra.Command {
	cfg, envErr := ParseEnv()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap the server home and serve HTTP",
		Long: `Bootstrap the server home and serve HTTP.

Sending SIGHUP reloads the server: plugins and settings are read again and
the new state replaces the running one once its bootstrap succeeded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if err := prepare(&cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), &cfg)
		},
	}
	cfg.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&cfg.Addr, FlagAddr, cfg.Addr, "address to listen on")
	cmd.Flags().DurationVar(&cfg.ShutdownTimeout, FlagShutdownTimeout, cfg.ShutdownTimeout, "time to wait for requests to finish on shutdown")
	return cmd
}

func serve(ctx context.Context, cfg *Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	app, err := bootstrap.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("could not bootstrap server: %w", err)
	}
	defer func() { _ = app.Close() }()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := app.Reload(ctx, opts); err != nil {
					slog.ErrorContext(ctx, "reload failed, keeping previous state", slog.String("error", err.Error()))
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "serving", slog.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not shut down server: %w", err)
	}
	return nil
}
