package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/taggov/engine/internal/audit"
	"github.com/taggov/engine/internal/database"
	"go.uber.org/zap"
)

// NewPurgeCmd creates the audit retention purge command.
func NewPurgeCmd() *cobra.Command {
	var orgStr string
	var beforeStr string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Purge audit events older than a cutoff",
		Long:  "Delete an organization's audit events older than the cutoff. The purge itself is recorded as a system audit event.",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := uuid.Parse(orgStr)
			if err != nil {
				return fmt.Errorf("--org must be a valid organization id")
			}
			cutoff, err := time.Parse(time.RFC3339, beforeStr)
			if err != nil {
				return fmt.Errorf("--before must be an RFC 3339 timestamp (e.g. 2026-01-01T00:00:00Z)")
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			log := audit.NewLog(database.NewAuditEventRepository(db), db, nil, zap.NewNop())
			purged, err := log.PurgeBefore(context.Background(), orgID, cutoff)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}

			fmt.Printf("Purged %d audit events before %s for organization %s\n", purged, cutoff.Format(time.RFC3339), orgID)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgStr, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&beforeStr, "before", "", "RFC 3339 cutoff; events strictly older are deleted (required)")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}
