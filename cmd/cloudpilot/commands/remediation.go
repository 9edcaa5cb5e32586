package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/service"
	"github.com/openfroyo/cloudpilot/pkg/stores"
)

func newRemediationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remediation",
		Aliases: []string{"rem"},
		Short:   "Review and decide remediation runs",
		Long: `Remediation runs are fix-it plans offered for approval after a failed
request. Approving a run executes its steps and retries the original request
from the stalled phase. A run can be decided once and expires after its TTL.`,
	}

	cmd.AddCommand(newRemediationListCommand())
	cmd.AddCommand(newRemediationShowCommand())
	cmd.AddCommand(newRemediationDecideCommand("approve", true))
	cmd.AddCommand(newRemediationDecideCommand("deny", false))
	cmd.AddCommand(newRemediationExpireCommand())

	return cmd
}

func newRemediationListCommand() *cobra.Command {
	var (
		status    string
		requestID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remediation runs",
		Example: `  # Runs waiting for a decision
  cloudpilot remediation list --status pending_approval`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.svc.ListRuns(ctx, stores.RunFilter{
				Status:    engine.RemediationStatus(status),
				RequestID: requestID,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				redacted := make([]*engine.RemediationRun, 0, len(runs))
				for _, run := range runs {
					redacted = append(redacted, service.RedactRun(run))
				}
				return printJSON(cmd.OutOrStdout(), redacted)
			}

			tw := newTable(cmd.OutOrStdout(), "RUN", "REQUEST", "RULE", "STATUS", "ATTEMPTS", "EXPIRES")
			for _, run := range runs {
				rule := ""
				if run.Plan != nil {
					rule = run.Plan.RuleID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					run.RunID, run.RequestID, rule, run.Status,
					run.Attempts, run.MaxAttempts, run.ExpiresAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&requestID, "request-id", "", "filter by request id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum runs to list")

	return cmd
}

func newRemediationShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a remediation run and its plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.svc.GetRun(ctx, cliActor(), args[0])
			if err != nil {
				return err
			}
			run = service.RedactRun(run)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), run)
			}
			printRun(cmd.OutOrStdout(), run, time.Now())
			return nil
		},
	}
}

func printRun(w io.Writer, run *engine.RemediationRun, now time.Time) {
	fmt.Fprintf(w, "Run:       %s\n", run.RunID)
	fmt.Fprintf(w, "Request:   %s\n", run.RequestID)
	fmt.Fprintf(w, "Owner:     %s\n", run.OwnerID)
	fmt.Fprintf(w, "Status:    %s\n", run.Status)
	fmt.Fprintf(w, "Attempts:  %d/%d\n", run.Attempts, run.MaxAttempts)
	expires := run.ExpiresAt.Format(time.RFC3339)
	if run.IsExpired(now) {
		expires += " (expired)"
	}
	fmt.Fprintf(w, "Expires:   %s\n", expires)
	if run.LastError != "" {
		fmt.Fprintf(w, "Error:     %s\n", run.LastError)
	}

	plan := run.Plan
	if plan == nil {
		return
	}
	fmt.Fprintf(w, "\nRule:      %s (%s %s)\n", plan.RuleID, plan.Action, plan.ResourceType)
	fmt.Fprintf(w, "Reason:    %s\n", plan.Reason)
	fmt.Fprintf(w, "Scope:     %s\n", plan.ApprovalScope)
	fmt.Fprintf(w, "Safe:      %t\n", plan.Safety.IsSafe())
	if len(plan.ExecutionActions) > 0 {
		fmt.Fprintln(w, "Steps:")
		for _, a := range plan.ExecutionActions {
			fmt.Fprintf(w, "  - %s\n", a.Type)
		}
	}
	if len(plan.HumanActions) > 0 {
		fmt.Fprintln(w, "Manual actions:")
		for _, a := range plan.HumanActions {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}
}

func newRemediationDecideCommand(verb string, approved bool) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   verb + " <run-id>",
		Short: fmt.Sprintf("%s a pending remediation run", map[bool]string{true: "Approve", false: "Deny"}[approved]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Decide(ctx, cliActor(), service.Decision{
				RunID:    args[0],
				Approved: approved,
				Note:     note,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"run":    service.RedactRun(res.Run),
					"result": res.Result,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s is now %s.\n", res.Run.RunID, res.Run.Status)
			if r := res.Result; r != nil {
				if r.Message != "" {
					fmt.Fprintln(out, r.Message)
				}
				if r.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", r.Error)
				}
				if r.ExecutionResult != nil && r.ExecutionResult.Success {
					fmt.Fprintf(out, "Request retried successfully via %s.\n", r.ExecutionResult.ExecutionPath)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "note recorded in the audit log")

	return cmd
}

func newRemediationExpireCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Mark pending runs past their TTL as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.ExpireRuns(ctx, cliActor())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"expired": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d run(s).\n", n)
			return nil
		},
	}
}
