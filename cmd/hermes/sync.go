package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hermesindex/hermes"
)

func syncCmd(configPath *string) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync pending catalog rows into the vector index",
		Long: `Sync pending catalog rows into the vector index.

Rows whose text hash or embedding model version differs from the recorded
sync state are re-embedded through the GPU service and upserted into the
vector store. Without --source every configured source is synced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(*configPath, source)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Sync only the named source")

	return cmd
}

func runSync(configPath, source string) error {
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

	return client.Sync.Run(ctx, source)
}
