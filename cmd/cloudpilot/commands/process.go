package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/service"
)

func newProcessCommand() *cobra.Command {
	var (
		environment string
		region      string
		requestID   string
		vars        []string
		varsFile    string
		creds       engine.Credentials
	)

	cmd := &cobra.Command{
		Use:   "process <request>",
		Short: "Process a natural-language provisioning request",
		Long: `Run one request through the workflow: intent parsing, prerequisite
questions, policy gate, execution, outcome validation and remediation.

When the workflow asks questions, answer them by running the same request
again with --var <variable>=<answer>. Credentials default to the standard
AWS_* environment variables.`,
		Example: `  # Create a bucket in dev
  cloudpilot process "create an s3 bucket named app-logs" --env dev

  # Answer the questions from a previous run
  cloudpilot process "create an rds database" --env dev --var db_name=orders --var instance_class=db.t3.micro

  # Print the full workflow as JSON
  cloudpilot process "list my lambda functions" --env dev --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file []byte
			if varsFile != "" {
				data, err := os.ReadFile(varsFile)
				if err != nil {
					return fmt.Errorf("failed to read variables file: %w", err)
				}
				file = data
			}
			inputs, err := mergeVars(file, vars)
			if err != nil {
				return err
			}

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

			payload := &engine.RequestPayload{
				RequestID:      requestID,
				Environment:    environment,
				CloudProvider:  "aws",
				Text:           args[0],
				RegionHint:     region,
				InputVariables: inputs,
			}
			if c := credentialsFromEnv(creds); c.AccessKey != "" || c.SecretKey != "" {
				payload.Credentials = &c
			}

			log.Debug().
				Str("environment", environment).
				Str("region", region).
				Int("variables", len(inputs)).
				Msg("Processing request")

			wf, err := a.svc.Process(ctx, cliActor(), payload)
			if err != nil {
				return err
			}
			if jsonOutput {
				wf.RemediationRun = service.RedactRun(wf.RemediationRun)
				return printJSON(cmd.OutOrStdout(), wf)
			}
			printWorkflow(cmd.OutOrStdout(), wf)
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "target environment (dev, staging, prod)")
	cmd.Flags().StringVarP(&region, "region", "r", "", "region hint")
	cmd.Flags().StringVar(&requestID, "request-id", "", "request id (generated when empty)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "input variable as key=value (repeatable)")
	cmd.Flags().StringVar(&varsFile, "vars-file", "", "YAML or JSON file of input variables")
	cmd.Flags().StringVar(&creds.AccessKey, "access-key", "", "access key id (default $AWS_ACCESS_KEY_ID)")
	cmd.Flags().StringVar(&creds.SecretKey, "secret-key", "", "secret access key (default $AWS_SECRET_ACCESS_KEY)")
	cmd.Flags().StringVar(&creds.SessionToken, "session-token", "", "session token (default $AWS_SESSION_TOKEN)")
	cmd.MarkFlagRequired("env")

	return cmd
}

func credentialsFromEnv(c engine.Credentials) engine.Credentials {
	if c.AccessKey == "" {
		c.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if c.SecretKey == "" {
		c.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if c.SessionToken == "" {
		c.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	}
	if c.Region == "" {
		c.Region = os.Getenv("AWS_REGION")
	}
	return c
}

func printWorkflow(w io.Writer, wf *engine.WorkflowContext) {
	fmt.Fprintf(w, "Request:  %s\n", wf.RequestID)
	fmt.Fprintf(w, "State:    %s\n", wf.CurrentState)
	if wf.Intent != nil {
		target := wf.Intent.ResourceType
		if wf.Intent.ResourceName != "" {
			target += "/" + wf.Intent.ResourceName
		}
		fmt.Fprintf(w, "Intent:   %s %s\n", wf.Intent.Action, target)
	}
	if wf.Policy != nil {
		for _, v := range wf.Policy.Violations {
			fmt.Fprintf(w, "Policy:   [%s] %s\n", v.Severity, v.Message)
		}
		for _, v := range wf.Policy.Warnings {
			fmt.Fprintf(w, "Warning:  %s\n", v.Message)
		}
	}

	res := wf.ExecutionResult
	if res == nil {
		if wf.Error != "" {
			fmt.Fprintf(w, "Error:    %s\n", wf.Error)
		}
		return
	}

	switch {
	case res.RequiresInput:
		fmt.Fprintln(w, "\nMore input is needed:")
		if res.QuestionPrompt != "" {
			fmt.Fprintf(w, "  %s\n", res.QuestionPrompt)
		}
		for _, q := range res.Questions {
			line := fmt.Sprintf("  --var %s=...  %s", q.Variable, q.Prompt)
			if len(q.Options) > 0 {
				line += fmt.Sprintf(" [%s]", strings.Join(q.Options, ", "))
			}
			fmt.Fprintln(w, line)
		}
	case res.Pending:
		fmt.Fprintf(w, "Result:   pending, retry in %ds\n", res.RetryAfterSeconds)
	case res.Success:
		fmt.Fprintf(w, "Result:   success via %s\n", res.ExecutionPath)
	default:
		fmt.Fprintf(w, "Result:   failed via %s\n", res.ExecutionPath)
	}
	if res.Message != "" {
		fmt.Fprintf(w, "Message:  %s\n", res.Message)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", res.Error)
	}
	if res.FinalOutcome != "" {
		fmt.Fprintf(w, "Outcome:  %s\n", res.FinalOutcome)
	}
	if res.AutoHealed {
		fmt.Fprintln(w, "Auto-healed after a failed attempt.")
	}
	if run := wf.RemediationRun; run != nil {
		fmt.Fprintf(w, "\nRemediation run %s awaits approval (expires %s).\n", run.RunID, run.ExpiresAt.Format("2006-01-02 15:04 MST"))
		if run.Plan != nil && run.Plan.Reason != "" {
			fmt.Fprintf(w, "  %s\n", run.Plan.Reason)
		}
		fmt.Fprintf(w, "  cloudpilot remediation approve %s\n", run.RunID)
	}
}

func newImproveCommand() *cobra.Command {
	var (
		environment string
		region      string
	)

	cmd := &cobra.Command{
		Use:   "improve <request>",
		Short: "Rewrite a request into a clearer prompt",
		Long: `Preview how a request would be understood: a rewritten prompt, the
parsed intent and the phases the workflow would run. Nothing is executed.`,
		Example: `  cloudpilot improve "bucket for logs" --env dev`,
		Args:    cobra.ExactArgs(1),
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

			improvement, err := a.svc.ImprovePrompt(ctx, args[0], environment, region)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), improvement)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Improved: %s\n", improvement.ImprovedPrompt)
			if improvement.Summary != "" {
				fmt.Fprintf(out, "Summary:  %s\n", improvement.Summary)
			}
			if improvement.IsComplex {
				fmt.Fprintln(out, "This request spans several resources.")
			}
			if len(improvement.PhasePlan) > 0 {
				fmt.Fprintln(out, "\nPhases:")
				for _, p := range improvement.PhasePlan {
					fmt.Fprintf(out, "  - %s\n", p.Title)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "target environment")
	cmd.Flags().StringVarP(&region, "region", "r", "", "region hint")

	return cmd
}
