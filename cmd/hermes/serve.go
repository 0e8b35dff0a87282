package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hermesindex/hermes"
	"github.com/hermesindex/hermes/infrastructure/api"
)

// shutdownTimeout bounds how long in-flight requests may run after a signal.
const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP search API server",
		Long: `Start the HTTP search API server.

Configuration is loaded from the YAML file given by --config (or the
CONFIG_PATH environment variable). Environment variables override the
file values:

  HERMES_HOST          Server host to bind to (default: 0.0.0.0)
  HERMES_PORT          Server port to listen on (default: 8080)
  HERMES_LOG_LEVEL     Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  HERMES_LOG_FORMAT    Log format: pretty, json (default: pretty)
  HERMES_GPU_ENDPOINT  GPU embedding service endpoint
  HERMES_POSTGRES_DSN  Catalog database URL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (overrides config)")

	return cmd
}

func runServe(configPath, host string, port int) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := hermes.New(ctx, cfg, hermes.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	// Keep the sync status snapshot fresh while the server runs.
	go client.Status.Run(ctx)

	srv := api.NewServer(cfg.Server.Addr(), client.Handlers(), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
