package commands

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudpilot/pkg/api"
	"github.com/openfroyo/cloudpilot/pkg/auth"
	"github.com/openfroyo/cloudpilot/pkg/config"
	"github.com/openfroyo/cloudpilot/pkg/service"
)

func newServeCommand() *cobra.Command {
	var (
		addr           string
		expireInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API with JWT authentication. Users and their permissions
come from auth.users in the config; create password hashes with
'cloudpilot user hash-password'.

Pending remediation runs past their TTL are expired in the background.`,
		Example: `  cloudpilot serve --config cloudpilot.yaml --addr :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			jwt, users, err := buildAuth(cfg.Auth)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.watch(ctx); err != nil {
				return err
			}

			server, err := api.New(api.Options{
				Service:         a.svc,
				JWT:             jwt,
				Users:           users,
				Events:          a.tel.Events,
				Metrics:         a.tel.Metrics.Handler(),
				AllowedOrigins:  cfg.Server.AllowedOrigins,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				Logger:          a.logger,
			})
			if err != nil {
				return err
			}

			go expireLoop(ctx, a.svc, expireInterval, a.logger)

			a.logger.Info().
				Strs("users", users.Usernames()).
				Str("backend", cfg.Backend.Mode).
				Str("database", cfg.Database.Driver).
				Msg("Starting CloudPilot API")
			return server.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr from config)")
	cmd.Flags().DurationVar(&expireInterval, "expire-interval", time.Minute, "how often to expire stale remediation runs")

	return cmd
}

func buildAuth(cfg config.AuthConfig) (*auth.JWTManager, *auth.UserStore, error) {
	if len(cfg.Users) == 0 {
		return nil, nil, errors.New("auth.users is empty; the API needs at least one user")
	}
	jwt, err := auth.NewJWTManager(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL)
	if err != nil {
		return nil, nil, err
	}
	users := make([]auth.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, auth.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Permissions:  u.Permissions,
		})
	}
	store, err := auth.NewUserStore(users)
	if err != nil {
		return nil, nil, err
	}
	return jwt, store, nil
}

func expireLoop(ctx context.Context, svc *service.Service, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	actor := service.Actor{Name: "system"}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ExpireRuns(ctx, actor); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Failed to expire remediation runs")
			}
		}
	}
}
