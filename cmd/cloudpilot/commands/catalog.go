package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/schema"
)

func newCatalogCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse the operation schema catalog",
		Long: `The catalog holds the input schemas of cloud operations, written in CUE.
It drives prerequisite questions and payload validation for generic
operations. Extra .cue files under catalog.dir are unified with the
built-in catalog.`,
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "extra catalog directory (default catalog.dir from config)")

	load := func() (*schema.Catalog, error) {
		if dir == "" {
			cfg, err := loadConfig()
			if err != nil {
				return nil, err
			}
			dir = cfg.Catalog.Dir
		}
		catalog, err := schema.NewCatalog(log.Logger)
		if err != nil {
			return nil, err
		}
		if dir != "" {
			if err := catalog.LoadDir(dir); err != nil {
				return nil, err
			}
		}
		return catalog, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [service]",
		Short: "List services, or the operations of one service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			var names []string
			if len(args) == 1 {
				names = catalog.Operations(args[0])
				if len(names) == 0 {
					return fmt.Errorf("unknown service %q", args[0])
				}
			} else {
				names = catalog.Services()
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "show <service> <operation>",
		Short:   "Show an operation's input fields",
		Example: `  cloudpilot catalog show rds CreateDBInstance`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			op, err := catalog.OperationSchema(args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), op)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s.%s\n\nRequired:\n", op.Service, op.Operation)
			printFields(out, op.Required, "  ")
			if len(op.Optional) > 0 {
				fmt.Fprintln(out, "\nOptional:")
				printFields(out, op.Optional, "  ")
			}
			return nil
		},
	})

	var action string
	resolve := &cobra.Command{
		Use:     "resolve <resource-type>",
		Short:   "Show which operation serves a resource type and action",
		Example: `  cloudpilot catalog resolve rds --action create`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := load()
			if err != nil {
				return err
			}
			service := catalog.ServiceFor(args[0])
			op := catalog.ResolveOperation(service, args[0], engine.Action(strings.ToLower(action)))
			if op == "" {
				return fmt.Errorf("no %s operation known for %s", action, args[0])
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"service": service, "operation": op})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s\n", service, op)
			return nil
		},
	}
	resolve.Flags().StringVar(&action, "action", "create", "action")
	cmd.AddCommand(resolve)

	return cmd
}

func printFields(w io.Writer, fields []engine.FieldSpec, indent string) {
	for _, f := range fields {
		line := fmt.Sprintf("%s%s (%s)", indent, f.Name, f.Type)
		if len(f.Enum) > 0 {
			line += " one of " + strings.Join(f.Enum, ", ")
		}
		if f.Doc != "" {
			line += ": " + f.Doc
		}
		fmt.Fprintln(w, line)
		printFields(w, f.Children, indent+"  ")
	}
}
