package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hermesindex/hermes"
)

// enrichFlags are the knobs shared by enrich-tmdb and enrich-tpdb.
type enrichFlags struct {
	limit     int
	force     bool
	loop      bool
	loopSleep time.Duration
}

func (f *enrichFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.limit, "limit", 50, "Maximum rows to enrich per batch")
	cmd.Flags().BoolVar(&f.force, "force", false, "Re-fetch rows that already have a record")
	cmd.Flags().BoolVar(&f.loop, "loop", false, "Keep polling for new work")
	cmd.Flags().DurationVar(&f.loopSleep, "loop-sleep", 10*time.Second, "Pause between empty passes with --loop")
}

func enrichTMDBCmd(configPath *string) *cobra.Command {
	var flags enrichFlags

	cmd := &cobra.Command{
		Use:   "enrich-tmdb",
		Short: "Backfill TMDB metadata for catalog rows",
		Long: `Backfill TMDB metadata for catalog rows.

Rows that reference a TMDB id but have no stored TMDB record are fetched
in batches. With --loop the command keeps polling for new work.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(*configPath, "tmdb", flags)
		},
	}

	flags.register(cmd)
	return cmd
}

func enrichTPDBCmd(configPath *string) *cobra.Command {
	var flags enrichFlags

	cmd := &cobra.Command{
		Use:   "enrich-tpdb",
		Short: "Backfill TPDB metadata for catalog rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(*configPath, "tpdb", flags)
		},
	}

	flags.register(cmd)
	return cmd
}

func runEnrich(configPath, kind string, flags enrichFlags) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := hermes.New(ctx, cfg, hermes.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var run func(ctx context.Context, limit int, force, loop bool) error
	switch kind {
	case "tmdb":
		if client.TMDB == nil {
			return errors.New("tmdb enrichment is not enabled (requires tmdb.enabled and bitmagnet.enabled)")
		}
		run = client.TMDB.Run
	case "tpdb":
		if client.TPDB == nil {
			return errors.New("tpdb enrichment is not enabled (requires tpdb.enabled and bitmagnet.enabled)")
		}
		run = client.TPDB.Run
	default:
		return errors.New("unknown enrichment kind: " + kind)
	}

	for {
		if err := run(ctx, flags.limit, flags.force, flags.loop); err != nil {
			return err
		}
		if !flags.loop {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(flags.loopSleep):
		}
	}
}
