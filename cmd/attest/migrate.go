package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attest/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL, 2)
		if err != nil {
			return err
		}
		defer db.Close()
		return store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL, 2)
		if err != nil {
			return err
		}
		defer db.Close()
		pending, err := store.PendingMigrations(cmd.Context(), db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(pending) == 0 {
			fmt.Fprintln(out, "database is up to date")
			return nil
		}
		for _, name := range pending {
			fmt.Fprintf(out, "pending  %s\n", name)
		}
		return nil
	},
}

var rollbackSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rollbackSteps <= 0 {
			return fmt.Errorf("--steps must be positive")
		}
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL, 2)
		if err != nil {
			return err
		}
		defer db.Close()
		return store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, rollbackSteps)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd, migrateDownCmd)
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to revert")
}
