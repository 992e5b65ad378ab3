package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/database"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long: `Inspect and maintain the scan database.

Pending migrations are applied automatically whenever websentry opens the
database; these commands report on and undo them.`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		status, err := database.NewMigrationRunner(store.DB(), log).GetMigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}

		fmt.Printf("Driver:          %s\n", cfg.Database.Driver)
		fmt.Printf("Current version: %v\n", status["current_version"])
		fmt.Printf("Latest version:  %v\n", status["latest_version"])
		fmt.Printf("Pending:         %v\n", status["pending_count"])
		if upToDate, _ := status["is_up_to_date"].(bool); upToDate {
			color.Green("Schema is up to date\n")
		} else {
			color.Yellow("Schema has pending migrations\n")
		}
		return nil
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback <version>",
	Short: "Roll back a specific migration",
	Long: `Roll back one migration version.

Warning: this drops the tables the migration created, including their data.
The migration is re-applied the next time websentry opens the database.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", args[0], err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		if err := database.NewMigrationRunner(store.DB(), log).RollbackMigration(ctx, version); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		color.Green("Migration %d rolled back\n", version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
