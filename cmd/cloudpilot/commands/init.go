package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cloudpilot/pkg/auth"
	"github.com/openfroyo/cloudpilot/pkg/config"
)

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// initConfig builds the starter configuration written by `init`.
func initConfig(dataDir, admin, passwordHash, secret string) *config.Config {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dataDir, "cloudpilot.db")
	cfg.Auth.JWTSecret = secret
	cfg.Auth.Users = []config.UserConfig{{
		Username:     admin,
		PasswordHash: passwordHash,
		Permissions:  []string{auth.PermissionAll},
	}}
	return cfg
}

func newInitCommand() *cobra.Command {
	var (
		dataDir  string
		admin    string
		password string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a CloudPilot workspace",
		Long: `Create a data directory with a migrated SQLite database and write a starter
config with a fresh JWT secret and one admin user. When --password is not
given a random one is generated and printed once.`,
		Example: `  # Initialize in the current directory
  cloudpilot init

  # Custom locations
  cloudpilot init --dir /var/lib/cloudpilot --config /etc/cloudpilot/cloudpilot.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = "./cloudpilot.yaml"
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			log.Info().Str("dir", dataDir).Str("config", path).Msg("Initializing workspace")
			out := cmd.OutOrStdout()

			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
			}
			fmt.Fprintf(out, "✓ Created directory: %s\n", dataDir)

			generated := password == ""
			if generated {
				p, err := randomHex(12)
				if err != nil {
					return fmt.Errorf("failed to generate password: %w", err)
				}
				password = p
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			secret, err := randomHex(32)
			if err != nil {
				return fmt.Errorf("failed to generate jwt secret: %w", err)
			}

			cfg := initConfig(dataDir, admin, hash, secret)
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			_ = store.Close()
			fmt.Fprintf(out, "✓ Initialized SQLite database: %s\n", cfg.Database.Path)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			content := append([]byte("# CloudPilot configuration\n"), data...)
			if err := os.WriteFile(path, content, 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(out, "✓ Created config file: %s\n", path)

			if generated {
				fmt.Fprintf(out, "\nAdmin user %q, password: %s\n", admin, password)
				fmt.Fprintln(out, "The password is not stored; keep it now.")
			}
			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  cloudpilot process \"create an s3 bucket named logs\" --env dev --config %s\n", path)
			fmt.Fprintf(out, "  cloudpilot serve --config %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "dir", "./data", "data directory")
	cmd.Flags().StringVar(&admin, "admin", "admin", "admin username")
	cmd.Flags().StringVar(&password, "password", "", "admin password (generated when empty)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
