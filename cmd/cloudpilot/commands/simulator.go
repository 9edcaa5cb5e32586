package commands

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cloudpilot/pkg/backend"
	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// simulatorSeed is the --seed file: resources present at start and failures to inject.
type simulatorSeed struct {
	Resources []struct {
		ID         string                 `yaml:"id"`
		Type       string                 `yaml:"type"`
		Name       string                 `yaml:"name"`
		Region     string                 `yaml:"region"`
		Status     string                 `yaml:"status"`
		Attributes map[string]interface{} `yaml:"attributes"`
	} `yaml:"resources"`
	Failures []struct {
		Action       string `yaml:"action"`
		ResourceType string `yaml:"resource_type"`
		Message      string `yaml:"message"`
		Times        int    `yaml:"times"`
		ClearedBy    string `yaml:"cleared_by"`
	} `yaml:"failures"`
}

func loadSeed(sim *backend.Simulator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed simulatorSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	now := time.Now().UTC()
	for _, r := range seed.Resources {
		sim.Seed(backend.Resource{
			ID:         r.ID,
			Type:       r.Type,
			Name:       r.Name,
			Region:     r.Region,
			Status:     r.Status,
			Attributes: r.Attributes,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	for _, f := range seed.Failures {
		sim.InjectFailure(backend.Failure{
			Action:       engine.Action(f.Action),
			ResourceType: f.ResourceType,
			Message:      f.Message,
			Times:        f.Times,
			ClearedBy:    f.ClearedBy,
		})
	}
	return nil
}

// requireToken checks a static bearer token when one is configured.
func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func newSimulatorRouter(sim *backend.Simulator, token string, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	group := router.Group("")
	group.Use(requireToken(token))
	backend.NewServer(sim, logger).Mount(group)
	return router
}

func newSimulatorCommand() *cobra.Command {
	var (
		addr        string
		token       string
		region      string
		seedPath    string
		settleAfter int
		requireCred bool
	)

	cmd := &cobra.Command{
		Use:   "simulator",
		Short: "Serve the in-memory cloud simulator over HTTP",
		Long: `Serve the simulated provisioning backend so that another CloudPilot
instance can use it with backend.mode: remote. A seed file can pre-create
resources and inject failures for exercising remediation.`,
		Example: `  cloudpilot simulator --addr :9090 --token dev-token --seed seed.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.Logger.With().Str("component", "simulator").Logger()
			sim := backend.NewSimulator(backend.SimulatorOptions{
				Region:             region,
				SettleAfter:        settleAfter,
				RequireCredentials: requireCred,
				Logger:             logger,
			})
			if seedPath != "" {
				if err := loadSeed(sim, seedPath); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newSimulatorRouter(sim, token, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", addr).Strs("handlers", sim.Handlers()).Msg("Simulator listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	cmd.Flags().StringVar(&token, "token", os.Getenv("CLOUDPILOT_SIMULATOR_TOKEN"), "bearer token clients must send")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "default region")
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML seed file")
	cmd.Flags().IntVar(&settleAfter, "settle-after", 1, "describes a new resource stays transitional")
	cmd.Flags().BoolVar(&requireCred, "require-credentials", true, "reject calls without credentials")

	return cmd
}
