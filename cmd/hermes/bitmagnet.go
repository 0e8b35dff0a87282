package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hermesindex/hermes/infrastructure/postgres"
	"github.com/hermesindex/hermes/internal/database"
)

func bitmagnetSetupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bitmagnet-setup",
		Short: "Create the integration schema and tables in the bitmagnet database",
		Long: `Create the integration schema and tables in the bitmagnet database.

The schema holds the sync state, TMDB, and TPDB tables that hermes
maintains alongside the bitmagnet catalog. Running the command again is
safe; existing objects are left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBitmagnetSetup(*configPath)
		},
	}
}

func runBitmagnetSetup(configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	if !cfg.Bitmagnet.Enabled {
		return errors.New("bitmagnet integration is not enabled in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := postgres.NewSetup(db, cfg.Bitmagnet.Schema).Run(ctx); err != nil {
		return err
	}
	logger.Info("integration schema ready", "schema", cfg.Bitmagnet.Schema)
	return nil
}
