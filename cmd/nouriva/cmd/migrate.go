package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-access"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var migrateTimeout time.Duration

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cobraCmd *cobra.Command, args []string) error {
		return withDB(cobraCmd.Context(), func(ctx context.Context, db *bun.DB) error {
			group, err := access.Migrate(ctx, db)
			if err != nil {
				return err
			}
			if group == nil || group.IsZero() {
				fmt.Println("database is up to date")
				return nil
			}
			fmt.Printf("migrated to %s\n", group)
			return nil
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the last migration group",
	RunE: func(cobraCmd *cobra.Command, args []string) error {
		return withDB(cobraCmd.Context(), func(ctx context.Context, db *bun.DB) error {
			group, err := access.Rollback(ctx, db)
			if err != nil {
				return err
			}
			if group == nil || group.IsZero() {
				fmt.Println("no groups to roll back")
				return nil
			}
			fmt.Printf("rolled back %s\n", group)
			return nil
		})
	},
}

func init() {
	migrateCmd.PersistentFlags().DurationVar(&migrateTimeout, "timeout", 30*time.Second, "database operation timeout")
	migrateCmd.AddCommand(rollbackCmd)
}

func withDB(parent context.Context, fn func(ctx context.Context, db *bun.DB) error) error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}

	timeout := migrateTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	db, err := access.OpenDB(ctx, opts.Database, logger.GetLogger("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db)
}
