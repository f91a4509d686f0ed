// Command server runs the evalledger API and its maintenance tasks.
//
//	server serve            start the HTTP API
//	server migrate          apply the Postgres schema
//	server token --user ID  mint a development bearer token
//
// Configuration comes from defaults, the YAML file named by EVALLEDGER_CONFIG
// and environment variables, in that order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"evalledger/internal/platform/config"
	"evalledger/internal/platform/logger"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "evalledger",
		Short:        "Record and query LLM evaluation experiments",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildTokenCmd(),
	)
	return root
}

// loadConfig loads configuration and the logger every command shares.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	return cfg, log, nil
}
