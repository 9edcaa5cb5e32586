package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Create the database if needed and apply every pending migration for the
configured driver (sqlite or postgres). Other commands migrate on start, so
this is mostly useful in deployment pipelines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info().Str("driver", cfg.Database.Driver).Msg("Running migrations")

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("database health check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Database migrated (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
