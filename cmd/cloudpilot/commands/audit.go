package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudpilot/pkg/stores"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit and deployment logs",
	}

	var filter stores.AuditFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Example: `  # Everything that happened to one request
  cloudpilot audit list --request-id req-1a2b3c

  # Remediation approvals
  cloudpilot audit list --action remediation.approved`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.ListAuditEntries(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			tw := newTable(cmd.OutOrStdout(), "TIME", "ACTION", "ACTOR", "REQUEST", "TARGET", "OUTCOME")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.Action, e.Actor, e.RequestID, e.TargetID, e.Outcome)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&filter.Action, "action", "", "filter by action")
	list.Flags().StringVar(&filter.Actor, "actor", "", "filter by actor")
	list.Flags().StringVar(&filter.RequestID, "request-id", "", "filter by request id")
	list.Flags().IntVar(&filter.Limit, "limit", 50, "maximum entries")
	list.Flags().IntVar(&filter.Offset, "offset", 0, "entries to skip")
	cmd.AddCommand(list)

	var limit, offset int
	deployments := &cobra.Command{
		Use:   "deployments",
		Short: "List recorded deployments, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListDeployments(ctx, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), records)
			}
			tw := newTable(cmd.OutOrStdout(), "TIME", "REQUEST", "ENV", "ACTION", "RESOURCE", "PATH")
			for _, d := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s/%s\t%s\n",
					d.CreatedAt.Format(time.RFC3339), d.RequestID, d.Environment,
					d.Action, d.ResourceType, d.ResourceName, d.ExecutionPath)
			}
			return tw.Flush()
		},
	}
	deployments.Flags().IntVar(&limit, "limit", 50, "maximum records")
	deployments.Flags().IntVar(&offset, "offset", 0, "records to skip")
	cmd.AddCommand(deployments)

	return cmd
}
