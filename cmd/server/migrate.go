package main

import (
	"errors"

	"github.com/spf13/cobra"

	"evalledger/internal/platform/postgres"
)

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Apply the embedded Postgres schema to DATABASE_URL.

Every statement is idempotent, so running migrate against an up-to-date
database is a no-op.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}

			ctx := cmd.Context()
			db, err := postgres.Open(ctx, postgres.FromConfig(cfg.Database))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			log.InfoContext(ctx, "schema applied")
			return nil
		},
	}
}
