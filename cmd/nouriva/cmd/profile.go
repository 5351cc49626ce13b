package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-access"
	"github.com/goliatone/go-access/social"
	"github.com/goliatone/go-errors"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var (
	profileRole         string
	profileSubscription string
	profileName         string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and edit user profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <email|id>",
	Short: "Create or update a profile's role and subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cobraCmd *cobra.Command, args []string) error {
		return withDB(cobraCmd.Context(), func(ctx context.Context, db *bun.DB) error {
			if _, err := access.Migrate(ctx, db); err != nil {
				return err
			}

			repos := access.NewRepositoryManager(db)
			repo := repos.Profiles()
			profile := &access.Profile{ID: args[0]}
			if strings.Contains(args[0], "@") {
				profile.ID = social.IdentityFor(args[0]).ID
				profile.Email = strings.ToLower(strings.TrimSpace(args[0]))
			}

			if existing, err := repo.GetProfileByID(ctx, profile.ID); err == nil && existing != nil {
				existing.Email = firstNonEmpty(profile.Email, existing.Email)
				profile = existing
			} else if err != nil && !errors.IsNotFound(err) {
				return err
			}

			if profileRole != "" {
				profile.Role = profileRole
			}
			if profileSubscription != "" {
				profile.SubscriptionStatus = profileSubscription
			}
			if profileName != "" {
				profile.FullName = profileName
			}

			if err := profile.Validate(); err != nil {
				return err
			}

			var saved *access.Profile
			err := repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				var err error
				saved, err = repo.SaveProfileTx(ctx, tx, profile)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s role=%s subscription=%s\n", saved.ID, saved.Role, saved.SubscriptionStatus)
			return nil
		})
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles, optionally filtered by role",
	RunE: func(cobraCmd *cobra.Command, args []string) error {
		return withDB(cobraCmd.Context(), func(ctx context.Context, db *bun.DB) error {
			records, err := access.NewRepositoryManager(db).Profiles().ListProfiles(ctx, profileRole)
			if err != nil {
				return err
			}
			for _, p := range records {
				fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Email, p.Role, p.SubscriptionStatus)
			}
			return nil
		})
	},
}

func init() {
	profileSetCmd.Flags().StringVar(&profileRole, "role", "", "standard or admin")
	profileSetCmd.Flags().StringVar(&profileSubscription, "subscription", "", "free or premium")
	profileSetCmd.Flags().StringVar(&profileName, "name", "", "full name")
	profileListCmd.Flags().StringVar(&profileRole, "role", "", "filter by role")

	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileListCmd)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
