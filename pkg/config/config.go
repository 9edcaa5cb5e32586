package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/policy"
	"github.com/openfroyo/cloudpilot/pkg/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLOUDPILOT_"

// Config is the cloudpilot process configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	NLU         RemoteConfig      `yaml:"nlu"`
	Codegen     RemoteConfig      `yaml:"codegen"`
	Backend     BackendConfig     `yaml:"backend"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Remediation RemediationConfig `yaml:"remediation"`
	Outcome     OutcomeConfig     `yaml:"outcome"`
	Policy      PolicyConfig      `yaml:"policy"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	References  ReferencesConfig  `yaml:"references"`
	Workflow    WorkflowConfig    `yaml:"workflow"`

	Telemetry telemetry.Config `yaml:"telemetry" validate:"-"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// AllowedOrigins lists websocket origins. Empty accepts same-origin requests only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig selects the remediation run and audit store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"required,oneof=sqlite postgres"`
	Path     string `yaml:"path" validate:"required_if=Driver sqlite"`
	URL      string `yaml:"url" validate:"required_if=Driver postgres"`
	MaxConns int    `yaml:"max_conns" validate:"gte=0"`
}

// AuthConfig configures API sessions.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gt=0"`
	Issuer    string        `yaml:"issuer" validate:"required"`
	Users     []UserConfig  `yaml:"users" validate:"dive"`
}

// UserConfig is an operator allowed to log in to the API.
type UserConfig struct {
	Username     string   `yaml:"username" validate:"required"`
	PasswordHash string   `yaml:"password_hash" validate:"required"`
	Permissions  []string `yaml:"permissions" validate:"dive,required"`
}

// RemoteConfig configures an HTTP collaborator. An empty URL disables it.
type RemoteConfig struct {
	URL              string        `yaml:"url" validate:"omitempty,url"`
	Token            string        `yaml:"token"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"gte=0"`
}

// Enabled reports whether the collaborator has an endpoint.
func (r RemoteConfig) Enabled() bool {
	return r.URL != ""
}

// BackendConfig selects the provisioning backend.
type BackendConfig struct {
	// Mode is "simulator" for the in-memory backend or "remote" for a served one.
	Mode   string       `yaml:"mode" validate:"required,oneof=simulator remote"`
	Remote RemoteConfig `yaml:"remote"`

	// SettleAfter is the number of describes a simulated resource stays transitional.
	SettleAfter int `yaml:"settle_after" validate:"gte=0"`
}

// SandboxConfig bounds generated procedure execution.
type SandboxConfig struct {
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxSteps  uint64        `yaml:"max_steps"`
	MaxOutput int           `yaml:"max_output" validate:"gte=0"`
}

// RemediationConfig holds the remediation switches.
type RemediationConfig struct {
	Enabled         bool          `yaml:"enabled"`
	AutoExecuteSafe bool          `yaml:"auto_execute_safe"`
	AllServices     bool          `yaml:"all_services"`
	PreviewOnly     bool          `yaml:"preview_only"`
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1"`
	RunTTL          time.Duration `yaml:"run_ttl" validate:"gt=0"`
	RulesPath       string        `yaml:"rules_path"`
	RequestBudget   int           `yaml:"request_budget" validate:"gte=0"`
	Watch           bool          `yaml:"watch"`
}

// OutcomeConfig configures post-execution validation.
type OutcomeConfig struct {
	RulesPath     string        `yaml:"rules_path"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" validate:"gt=0"`
	ProbeAttempts int           `yaml:"probe_attempts" validate:"gte=1"`
	ProbeInterval time.Duration `yaml:"probe_interval" validate:"gte=0"`
	MaxEndpoints  int           `yaml:"max_endpoints" validate:"gte=0"`
}

// PolicyConfig configures the Rego policy gate.
type PolicyConfig struct {
	// Paths are custom .rego files or directories loaded next to the built-in policies.
	Paths                 []string `yaml:"paths"`
	ProtectedEnvironments []string `yaml:"protected_environments"`
	ReviewResourceTypes   []string `yaml:"review_resource_types"`
	RequiredTags          []string `yaml:"required_tags"`
	Watch                 bool     `yaml:"watch"`
}

// CatalogConfig adds operation definitions to the embedded catalog.
type CatalogConfig struct {
	Dir string `yaml:"dir"`
}

// ReferencesConfig adds documents to the embedded reference corpus.
type ReferencesConfig struct {
	CorpusPath string `yaml:"corpus_path"`
}

// WorkflowConfig holds request-level switches.
type WorkflowConfig struct {
	RequireCredentials bool   `yaml:"require_credentials"`
	DefaultRegion      string `yaml:"default_region" validate:"required"`
	PrereqChoiceLimit  int    `yaml:"prereq_choice_limit" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	settings := engine.DefaultSettings()
	policyOpts := policy.DefaultOptions()

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Path:     "cloudpilot.db",
			MaxConns: 10,
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
			Issuer:   "cloudpilot",
		},
		NLU: RemoteConfig{
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Codegen: RemoteConfig{
			Timeout:          2 * time.Minute,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Backend: BackendConfig{
			Mode: "simulator",
			Remote: RemoteConfig{
				Timeout:          time.Minute,
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
			},
		},
		Sandbox: SandboxConfig{
			Timeout:   2 * time.Minute,
			MaxSteps:  10_000_000,
			MaxOutput: 64 * 1024,
		},
		Remediation: RemediationConfig{
			Enabled:         settings.RemediationEnabled,
			AutoExecuteSafe: settings.AutoExecuteSafe,
			AllServices:     settings.AllServices,
			MaxAttempts:     settings.RemediationMaxAttempts,
			RunTTL:          settings.RemediationRunTTL,
			RequestBudget:   settings.RequestBudget,
		},
		Outcome: OutcomeConfig{
			ProbeTimeout:  4 * time.Second,
			ProbeAttempts: 3,
			ProbeInterval: 2 * time.Second,
			MaxEndpoints:  3,
		},
		Policy: PolicyConfig{
			ProtectedEnvironments: policyOpts.ProtectedEnvironments,
			ReviewResourceTypes:   policyOpts.ReviewResourceTypes,
			RequiredTags:          policyOpts.RequiredTags,
		},
		Workflow: WorkflowConfig{
			RequireCredentials: settings.RequireCredentials,
			DefaultRegion:      settings.DefaultRegion,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CLOUDPILOT_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_ADDR":       &c.Server.Addr,
		"DATABASE_DRIVER":   &c.Database.Driver,
		"DATABASE_PATH":     &c.Database.Path,
		"DATABASE_URL":      &c.Database.URL,
		"AUTH_JWT_SECRET":   &c.Auth.JWTSecret,
		"NLU_URL":           &c.NLU.URL,
		"NLU_TOKEN":         &c.NLU.Token,
		"CODEGEN_URL":       &c.Codegen.URL,
		"CODEGEN_TOKEN":     &c.Codegen.Token,
		"BACKEND_MODE":      &c.Backend.Mode,
		"BACKEND_URL":       &c.Backend.Remote.URL,
		"BACKEND_TOKEN":     &c.Backend.Remote.Token,
		"REMEDIATION_RULES": &c.Remediation.RulesPath,
		"OUTCOME_RULES":     &c.Outcome.RulesPath,
		"DEFAULT_REGION":    &c.Workflow.DefaultRegion,
		"LOG_LEVEL":         &c.Telemetry.Logging.Level,
		"LOG_FORMAT":        &c.Telemetry.Logging.Format,
		"TRACING_ENDPOINT":  &c.Telemetry.Tracing.Endpoint,
		"TELEMETRY_ENV":     &c.Telemetry.Environment,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"REMEDIATION_ENABLED":           &c.Remediation.Enabled,
		"REMEDIATION_AUTO_EXECUTE_SAFE": &c.Remediation.AutoExecuteSafe,
		"REMEDIATION_ALL_SERVICES":      &c.Remediation.AllServices,
		"REMEDIATION_PREVIEW_ONLY":      &c.Remediation.PreviewOnly,
		"REQUIRE_CREDENTIALS":           &c.Workflow.RequireCredentials,
		"TRACING_ENABLED":               &c.Telemetry.Tracing.Enabled,
		"METRICS_ENABLED":               &c.Telemetry.Metrics.Enabled,
	}
	for key, dst := range bools {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	ints := map[string]*int{
		"REMEDIATION_MAX_ATTEMPTS":   &c.Remediation.MaxAttempts,
		"REMEDIATION_REQUEST_BUDGET": &c.Remediation.RequestBudget,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"REMEDIATION_RUN_TTL":   &c.Remediation.RunTTL,
		"OUTCOME_PROBE_TIMEOUT": &c.Outcome.ProbeTimeout,
		"SANDBOX_TIMEOUT":       &c.Sandbox.Timeout,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "POLICY_PATHS"); ok {
		c.Policy.Paths = splitList(v)
	}
	return nil
}

// Validate checks struct constraints and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Backend.Mode == "remote" && !c.Backend.Remote.Enabled() {
		return fmt.Errorf("invalid configuration: backend.remote.url is required in remote mode")
	}
	if len(c.Auth.Users) > 0 && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("invalid configuration: auth.jwt_secret must be at least 32 bytes when users are configured")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: telemetry: %w", err)
	}
	return nil
}

// EngineSettings maps the workflow switches onto orchestrator settings.
func (c *Config) EngineSettings() engine.Settings {
	return engine.Settings{
		RemediationEnabled:     c.Remediation.Enabled,
		AutoExecuteSafe:        c.Remediation.AutoExecuteSafe,
		AllServices:            c.Remediation.AllServices,
		RequestBudget:          c.Remediation.RequestBudget,
		RemediationMaxAttempts: c.Remediation.MaxAttempts,
		RemediationRunTTL:      c.Remediation.RunTTL,
		RequireCredentials:     c.Workflow.RequireCredentials,
		DefaultRegion:          c.Workflow.DefaultRegion,
	}
}

// PolicyOptions maps the policy section onto the Rego gate's options.
func (c *Config) PolicyOptions() policy.Options {
	return policy.Options{
		ProtectedEnvironments: c.Policy.ProtectedEnvironments,
		ReviewResourceTypes:   c.Policy.ReviewResourceTypes,
		RequiredTags:          c.Policy.RequiredTags,
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
