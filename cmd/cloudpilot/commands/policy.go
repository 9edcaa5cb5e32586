package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudpilot/pkg/config"
	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/policy"
)

// errPolicyDenied makes `policy check` exit non-zero on a blocked request.
var errPolicyDenied = errors.New("request denied by policy")

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test the policy gate",
		Long: `The policy gate evaluates every request against the built-in Rego
policies and any custom policies listed under policy.paths in the config.
Blocking violations stop the request; warnings are reported only.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())

	return cmd
}

func loadPolicyEngine(ctx context.Context, cfg *config.Config) (*policy.Engine, error) {
	pe, err := policy.NewEngine(log.Logger, cfg.PolicyOptions())
	if err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pe, err := loadPolicyEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			policies := pe.ListPolicies()
			if jsonOutput {
				type summary struct {
					Name        string          `json:"name"`
					Description string          `json:"description"`
					Severity    policy.Severity `json:"severity"`
					Enabled     bool            `json:"enabled"`
				}
				out := make([]summary, 0, len(policies))
				for _, p := range policies {
					out = append(out, summary{p.Name, p.Description, p.Severity, p.Enabled})
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			tw := newTable(cmd.OutOrStdout(), "NAME", "SEVERITY", "ENABLED", "DESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return tw.Flush()
		},
	}
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		input  engine.PolicyInput
		action string
		tags   []string
		params []string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a request against the policies",
		Example: `  # Would a VPC in prod pass?
  cloudpilot policy check --env prod --action create --resource-type vpc --tag owner=platform`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Action = engine.Action(strings.ToLower(action))
			tagVars, err := parseVars(tags)
			if err != nil {
				return err
			}
			if len(tagVars) > 0 {
				input.Tags = make(map[string]string, len(tagVars))
				for k, v := range tagVars {
					input.Tags[k] = engine.StringValue(v)
				}
			}
			if input.Parameters, err = parseVars(params); err != nil {
				return err
			}
			if input.Requester == "" {
				input.Requester = cliActor().Name
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pe, err := loadPolicyEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			res, err := pe.EvaluateRequest(cmd.Context(), input)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				verdict := "allowed"
				if !res.Allowed {
					verdict = "denied"
				}
				fmt.Fprintf(out, "Verdict: %s (%d policies evaluated)\n", verdict, len(res.EvaluatedPolicies))
				for _, v := range res.Violations {
					fmt.Fprintf(out, "  violation [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
				}
				for _, v := range res.Warnings {
					fmt.Fprintf(out, "  warning %s: %s\n", v.Policy, v.Message)
				}
			}
			if !res.Allowed {
				return errPolicyDenied
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input.Environment, "env", "e", "", "target environment")
	cmd.Flags().StringVar(&action, "action", "create", "action (create, update, delete, list, describe, deploy)")
	cmd.Flags().StringVar(&input.ResourceType, "resource-type", "", "resource type, e.g. s3 or rds")
	cmd.Flags().StringVar(&input.ResourceName, "name", "", "resource name")
	cmd.Flags().StringVarP(&input.Region, "region", "r", "", "region")
	cmd.Flags().StringVar(&input.Requester, "requester", "", "requester (default $USER)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter as key=value (repeatable)")
	cmd.MarkFlagRequired("env")
	cmd.MarkFlagRequired("resource-type")

	return cmd
}
