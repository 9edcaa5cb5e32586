package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cloudpilot",
		Short: "CloudPilot - natural-language cloud provisioning",
		Long: `CloudPilot turns plain-language infrastructure requests into cloud
operations and sees them through to a verified outcome.

Features:
  - Intent parsing with a local fallback parser
  - Prerequisite questions for missing inputs
  - Rego policy gate per environment
  - Staged execution: handlers, generated procedures, generic operations
  - Outcome validation with endpoint probes
  - Rule-based remediation with approvals`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newImproveCommand())
	rootCmd.AddCommand(newRemediationCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newCatalogCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSimulatorCommand())
	rootCmd.AddCommand(newUserCommand())

	return rootCmd
}
