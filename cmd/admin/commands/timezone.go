package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/taggov/engine/internal/database"
)

// NewTimezoneCmd creates the organization timezone command.
func NewTimezoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timezone",
		Short: "Manage organization time zones for analytics day bucketing",
	}
	cmd.AddCommand(newTimezoneGetCmd())
	cmd.AddCommand(newTimezoneSetCmd())
	return cmd
}

func newTimezoneGetCmd() *cobra.Command {
	var orgStr string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show an organization's configured time zone",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := uuid.Parse(orgStr)
			if err != nil {
				return fmt.Errorf("--org must be a valid organization id")
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			repo := database.NewOrgSettingsRepository(db)
			tz, err := repo.GetTimezone(context.Background(), orgID)
			if err != nil {
				return fmt.Errorf("get timezone: %w", err)
			}

			fmt.Printf("Organization %s time zone: %s\n", orgID, tz)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgStr, "org", "", "Organization ID (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newTimezoneSetCmd() *cobra.Command {
	var orgStr string
	var tz string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set an organization's time zone (IANA name, e.g. America/New_York)",
		Long:  "Changes day bucketing for events aggregated after the change; run 'rebuild analytics' to rebucket history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := uuid.Parse(orgStr)
			if err != nil {
				return fmt.Errorf("--org must be a valid organization id")
			}
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("unknown time zone %q", tz)
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			repo := database.NewOrgSettingsRepository(db)
			if err := repo.SetTimezone(context.Background(), orgID, tz); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}

			fmt.Printf("Organization %s time zone set to %s\n", orgID, tz)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgStr, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone name (required)")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("tz")
	return cmd
}
