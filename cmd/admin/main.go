package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/taggov/engine/cmd/admin/commands"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "taggov-admin",
		Short: "Administration tool for the tag governance engine",
		Long:  "CLI tool for audit retention, derived-state rebuilds, and compliance rule management",
	}

	rootCmd.AddCommand(commands.NewPurgeCmd())
	rootCmd.AddCommand(commands.NewRebuildCmd())
	rootCmd.AddCommand(commands.NewRulesCmd())
	rootCmd.AddCommand(commands.NewTimezoneCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
