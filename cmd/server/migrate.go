package main

import (
	"context"
	"fmt"

	"github.com/lalith-99/chorus/internal/config"
	"github.com/lalith-99/chorus/internal/db"
	"github.com/lalith-99/chorus/internal/observ"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			database, err := db.New(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer database.Close()

			return database.Migrate(ctx)
		},
	}
}
