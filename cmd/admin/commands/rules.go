package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML layout for bulk rule import.
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name      string `yaml:"name"`
	Field     string `yaml:"field"`
	Condition string `yaml:"condition"`
	Value     string `yaml:"value"`
	Severity  string `yaml:"severity"`
	Enabled   *bool  `yaml:"enabled"`
}

// NewRulesCmd creates the compliance rule management command.
func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage compliance rules",
	}
	cmd.AddCommand(newRulesImportCmd())
	cmd.AddCommand(newRulesListCmd())
	return cmd
}

func newRulesImportCmd() *cobra.Command {
	var orgStr string
	var filePath string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import compliance rules from a YAML file",
		Long:  "Append rules from a YAML file to the organization's rule set, in file order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := uuid.Parse(orgStr)
			if err != nil {
				return fmt.Errorf("--org must be a valid organization id")
			}

			data, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read rules file: %w", err)
			}
			var file ruleFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse rules file: %w", err)
			}
			if len(file.Rules) == 0 {
				return fmt.Errorf("rules file contains no rules")
			}

			rules := make([]*models.ComplianceRule, 0, len(file.Rules))
			for i, entry := range file.Rules {
				rule, err := entry.toModel(orgID)
				if err != nil {
					return fmt.Errorf("rule %d (%q): %w", i+1, entry.Name, err)
				}
				rules = append(rules, rule)
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			repo := database.NewComplianceRuleRepository(db)
			ctx := context.Background()
			for _, rule := range rules {
				if err := repo.Create(ctx, rule); err != nil {
					return fmt.Errorf("create rule %q: %w", rule.Name, err)
				}
			}

			fmt.Printf("Imported %d rules for organization %s\n", len(rules), orgID)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgStr, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&filePath, "file", "", "Path to a YAML rules file (required)")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRulesListCmd() *cobra.Command {
	var orgStr string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an organization's rules in evaluation order",
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

			repo := database.NewComplianceRuleRepository(db)
			rules, err := repo.ListByOrg(context.Background(), orgID, false)
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}
			if len(rules) == 0 {
				fmt.Println("No rules configured.")
				return nil
			}

			for _, rule := range rules {
				state := "enabled"
				if !rule.Enabled {
					state = "disabled"
				}
				fmt.Printf("%3d. [%s] %s: %s %s %q (%s)\n",
					rule.Position, state, rule.Name, rule.Field, rule.Condition, rule.Value, rule.Severity)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&orgStr, "org", "", "Organization ID (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func (e ruleEntry) toModel(orgID uuid.UUID) (*models.ComplianceRule, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	field := models.RuleField(e.Field)
	if !field.Valid() {
		return nil, fmt.Errorf("unknown field %q", e.Field)
	}
	condition := models.RuleCondition(e.Condition)
	if !condition.Valid() {
		return nil, fmt.Errorf("unknown condition %q", e.Condition)
	}
	severity := models.RuleSeverity(e.Severity)
	if !severity.Valid() {
		return nil, fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.Value == "" {
		return nil, fmt.Errorf("value is required")
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}

	now := time.Now().UTC()
	return &models.ComplianceRule{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           e.Name,
		Field:          field,
		Condition:      condition,
		Value:          e.Value,
		Severity:       severity,
		Enabled:        enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
