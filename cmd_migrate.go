package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-sync/pkg/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage engine database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.NewConnection(cmd.Context(), &database.Config{URL: cfg.Database.ConnectionString()})
			if err != nil {
				return err
			}
			defer db.Close()

			sqlDB := db.OpenSQL()
			defer sqlDB.Close()
			return database.RunMigrations(sqlDB, logger)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive, got %d", steps)
			}
			cfg, logger, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.NewConnection(cmd.Context(), &database.Config{URL: cfg.Database.ConnectionString()})
			if err != nil {
				return err
			}
			defer db.Close()

			sqlDB := db.OpenSQL()
			defer sqlDB.Close()
			return database.MigrateDown(sqlDB, steps, logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}
