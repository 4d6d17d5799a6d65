package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lessongate/lessongate/internal/database"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}

		ctx, cancel := context.WithTimeout(ctxOrBackground(cmd.Context()), 30*time.Second)
		defer cancel()

		db, err := database.Connect(ctx, databaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(databaseURL); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "database migrations applied")
		return nil
	},
}
