package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-access"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var seedMigrate bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replace the recipe catalog with the bundled fixtures",
	RunE: func(cobraCmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}

		return withDB(cobraCmd.Context(), func(ctx context.Context, db *bun.DB) error {
			if seedMigrate {
				if _, err := access.Migrate(ctx, db); err != nil {
					return err
				}
			}

			client, err := access.NewPersistenceClient(db, opts.Database)
			if err != nil {
				return err
			}
			client.SetLogger(logger.GetLogger("persistence"))

			if err := access.SeedRecipes(ctx, client); err != nil {
				return err
			}

			if report := client.Report(); report != nil && !report.IsZero() {
				fmt.Printf("report: %s\n", report.String())
			}

			count, err := db.NewSelect().Model((*access.Recipe)(nil)).Count(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("seeded %d recipes\n", count)
			return nil
		})
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedMigrate, "migrate", true, "apply pending migrations first")
	seedCmd.Flags().DurationVar(&migrateTimeout, "timeout", 30*time.Second, "database operation timeout")
}
