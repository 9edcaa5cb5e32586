package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/backend"
	"github.com/openfroyo/cloudpilot/pkg/codegen"
	"github.com/openfroyo/cloudpilot/pkg/config"
	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/nlu"
	"github.com/openfroyo/cloudpilot/pkg/outcome"
	"github.com/openfroyo/cloudpilot/pkg/policy"
	"github.com/openfroyo/cloudpilot/pkg/prereq"
	"github.com/openfroyo/cloudpilot/pkg/references"
	"github.com/openfroyo/cloudpilot/pkg/remediation"
	"github.com/openfroyo/cloudpilot/pkg/remote"
	"github.com/openfroyo/cloudpilot/pkg/sandbox"
	"github.com/openfroyo/cloudpilot/pkg/schema"
	"github.com/openfroyo/cloudpilot/pkg/service"
	"github.com/openfroyo/cloudpilot/pkg/stores"
	"github.com/openfroyo/cloudpilot/pkg/telemetry"
)

// app holds every component built from one configuration.
type app struct {
	cfg          *config.Config
	tel          *telemetry.Telemetry
	logger       zerolog.Logger
	store        stores.Store
	backend      engine.Backend
	catalog      *schema.Catalog
	policy       *policy.Engine
	remediation  *remediation.Engine
	orchestrator *engine.Orchestrator
	svc          *service.Service
}

// loadConfig reads the config file named by --config, or the defaults plus
// the environment when none is given.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (stores.Store, error) {
	var (
		store stores.Store
		err   error
	)
	switch cfg.Driver {
	case "postgres":
		store, err = stores.NewPostgresStore(stores.PostgresConfig{
			URL:      cfg.URL,
			MaxConns: int32(cfg.MaxConns),
		})
	default:
		store, err = stores.NewSQLiteStore(stores.Config{
			Path:         cfg.Path,
			MaxOpenConns: cfg.MaxConns,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func newRemoteClient(name string, rc config.RemoteConfig, metrics *telemetry.Metrics, logger zerolog.Logger) *remote.Client {
	return remote.New(remote.Options{
		Name:             name,
		BaseURL:          rc.URL,
		Token:            rc.Token,
		Timeout:          rc.Timeout,
		FailureThreshold: rc.FailureThreshold,
		OpenTimeout:      rc.OpenTimeout,
		Logger:           logger,
		OnStateChange:    metrics.SetBreakerState,
	})
}

// newApp wires the orchestrator and its collaborators.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	a := &app{cfg: cfg, tel: tel, logger: logger}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger
	metrics := a.tel.Metrics

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	a.store = store

	switch cfg.Backend.Mode {
	case "remote":
		rb := backend.NewRemote(newRemoteClient("backend", cfg.Backend.Remote, metrics, logger), logger)
		if err := rb.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to fetch backend handlers, dispatch will use generic operations")
		}
		a.backend = rb
	default:
		a.backend = backend.NewSimulator(backend.SimulatorOptions{
			Region:             cfg.Workflow.DefaultRegion,
			SettleAfter:        cfg.Backend.SettleAfter,
			RequireCredentials: cfg.Workflow.RequireCredentials,
			Logger:             logger,
		})
	}

	catalog, err := schema.NewCatalog(logger)
	if err != nil {
		return err
	}
	if cfg.Catalog.Dir != "" {
		if err := catalog.LoadDir(cfg.Catalog.Dir); err != nil {
			return err
		}
	}
	a.catalog = catalog

	refs, err := references.New(logger)
	if err != nil {
		return err
	}
	if cfg.References.CorpusPath != "" {
		if err := refs.LoadFile(cfg.References.CorpusPath); err != nil {
			return err
		}
	}

	pol, err := policy.NewEngine(logger, cfg.PolicyOptions())
	if err != nil {
		return err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := pol.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return err
		}
	}
	a.policy = pol

	rem, err := remediation.New(remediation.Options{
		RulesPath:   cfg.Remediation.RulesPath,
		Enabled:     cfg.Remediation.Enabled,
		PreviewOnly: cfg.Remediation.PreviewOnly,
		MaxAttempts: cfg.Remediation.MaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	a.remediation = rem

	var rules *outcome.Rules
	if cfg.Outcome.RulesPath != "" {
		rules, err = outcome.LoadRules(cfg.Outcome.RulesPath)
		if err != nil {
			return err
		}
	}
	validator := outcome.NewValidator(outcome.Options{
		Backend:       a.backend,
		ProbeTimeout:  cfg.Outcome.ProbeTimeout,
		ProbeAttempts: cfg.Outcome.ProbeAttempts,
		ProbeInterval: cfg.Outcome.ProbeInterval,
		MaxEndpoints:  cfg.Outcome.MaxEndpoints,
		Rules:         rules,
		DefaultRegion: cfg.Workflow.DefaultRegion,
		Logger:        logger,
	})

	var upstream engine.IntentParser
	if cfg.NLU.Enabled() {
		upstream = nlu.NewClient(newRemoteClient("nlu", cfg.NLU, metrics, logger))
	}

	opts := engine.Options{
		Parser:  nlu.NewParser(upstream, logger),
		Backend: a.backend,
		Schemas: catalog,
		Runner: sandbox.NewRunner(sandbox.Options{
			Backend:   a.backend,
			Timeout:   cfg.Sandbox.Timeout,
			MaxSteps:  cfg.Sandbox.MaxSteps,
			MaxOutput: cfg.Sandbox.MaxOutput,
			Logger:    logger,
		}),
		Remediation: rem,
		Validator:   a.tel.Observer.InstrumentValidator(validator),
		Resolver: prereq.NewResolver(prereq.Options{
			Backend:     a.backend,
			Schemas:     catalog,
			ChoiceLimit: cfg.Workflow.PrereqChoiceLimit,
			Logger:      logger,
		}),
		Policy:     a.tel.Observer.InstrumentPolicy(pol),
		References: refs,
		Runs:       store,
		Observer:   a.tel.Observer,
		Logger:     logger,
		Settings:   cfg.EngineSettings(),
	}
	if cfg.Codegen.Enabled() {
		opts.Codegen = codegen.NewClient(newRemoteClient("codegen", cfg.Codegen, metrics, logger), logger)
	}

	a.orchestrator = engine.New(opts)
	a.svc = service.New(a.orchestrator, store, a.tel.Observer, logger)
	return nil
}

// watch starts the policy and remediation rule watchers when configured.
func (a *app) watch(ctx context.Context) error {
	if a.cfg.Policy.Watch {
		if err := a.policy.Watch(ctx); err != nil {
			return fmt.Errorf("failed to watch policies: %w", err)
		}
	}
	if a.cfg.Remediation.Watch {
		if err := a.remediation.Watch(ctx); err != nil {
			return fmt.Errorf("failed to watch remediation rules: %w", err)
		}
	}
	return nil
}

// Close releases the store and flushes telemetry.
func (a *app) Close() {
	var errs []error
	if a.policy != nil && a.cfg.Policy.Watch {
		if err := a.policy.StopWatching(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// cliActor is the identity recorded for commands run from the terminal.
func cliActor() service.Actor {
	name := os.Getenv("USER")
	if name == "" {
		name = "cli"
	}
	return service.Actor{Name: name, IPAddress: "local", Privileged: true}
}
