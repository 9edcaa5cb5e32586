package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudpilot/pkg/auth"
)

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API users",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		Long: `Read one line from stdin and print a bcrypt hash for auth.users[].password_hash.`,
		Example: `  echo -n 's3cret' | cloudpilot user hash-password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password on stdin")
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("password is empty")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured users and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				type user struct {
					Username    string   `json:"username"`
					Permissions []string `json:"permissions"`
				}
				out := make([]user, 0, len(cfg.Auth.Users))
				for _, u := range cfg.Auth.Users {
					out = append(out, user{u.Username, u.Permissions})
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			tw := newTable(cmd.OutOrStdout(), "USERNAME", "PERMISSIONS")
			for _, u := range cfg.Auth.Users {
				fmt.Fprintf(tw, "%s\t%s\n", u.Username, strings.Join(u.Permissions, ","))
			}
			return tw.Flush()
		},
	})

	return cmd
}
