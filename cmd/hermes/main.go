// Package main is the entry point for the hermes CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hermesindex/hermes/internal/config"
	"github.com/hermesindex/hermes/internal/log"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "hermes",
		Short: "Hermes hybrid search server",
		Long:  `Hermes indexes media catalog tables into a vector store and serves hybrid semantic plus keyword search over them.`,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(),
		"Path to the YAML configuration file (env: CONFIG_PATH)")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(syncCmd(&configPath))
	cmd.AddCommand(enrichTMDBCmd(&configPath))
	cmd.AddCommand(enrichTPDBCmd(&configPath))
	cmd.AddCommand(bitmagnetSetupCmd(&configPath))
	cmd.AddCommand(versionCmd())

	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// setup loads configuration and installs the configured logger.
func setup(configPath string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger := log.Configure(log.Format(cfg.Server.LogFormat), cfg.Server.LogLevel)
	return cfg, logger, nil
}
