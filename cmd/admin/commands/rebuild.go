package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/taggov/engine/internal/analytics"
	"github.com/taggov/engine/internal/audit"
	"github.com/taggov/engine/internal/compliance"
	"github.com/taggov/engine/internal/database"
	"go.uber.org/zap"
)

// NewRebuildCmd creates the derived-state rebuild command.
func NewRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild derived state from the audit log",
	}
	cmd.AddCommand(newRebuildAnalyticsCmd())
	cmd.AddCommand(newRebuildComplianceCmd())
	return cmd
}

func newRebuildAnalyticsCmd() *cobra.Command {
	var orgStr string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Recompute an organization's usage metrics by replaying the log",
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

			logger := zap.NewNop()
			log := audit.NewLog(database.NewAuditEventRepository(db), db, nil, logger)
			aggregator := analytics.NewAggregator(
				database.NewUsageMetricRepository(db),
				database.NewTaggingRepository(db),
				database.NewOrgSettingsRepository(db),
				nil,
				logger,
			)

			if err := aggregator.Rebuild(context.Background(), orgID, log); err != nil {
				return err
			}

			fmt.Printf("Rebuilt usage metrics for organization %s\n", orgID)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgStr, "org", "", "Organization ID (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newRebuildComplianceCmd() *cobra.Command {
	var orgStr string

	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Recompute an organization's violations under the current rule set",
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

			logger := zap.NewNop()
			log := audit.NewLog(database.NewAuditEventRepository(db), db, nil, logger)
			engine := compliance.NewEngine(
				database.NewComplianceRuleRepository(db),
				database.NewComplianceViolationRepository(db),
				logger,
			)

			if err := engine.Rebuild(context.Background(), orgID, log); err != nil {
				return err
			}

			fmt.Printf("Rebuilt compliance violations for organization %s\n", orgID)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgStr, "org", "", "Organization ID (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
