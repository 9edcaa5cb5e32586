package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	if cfg.Remediation.MaxAttempts != 2 {
		t.Errorf("Expected max_attempts 2, got %d", cfg.Remediation.MaxAttempts)
	}
	if cfg.Remediation.RunTTL != 24*time.Hour {
		t.Errorf("Expected run_ttl 24h, got %v", cfg.Remediation.RunTTL)
	}
	if cfg.Remediation.RequestBudget != 1 {
		t.Errorf("Expected request_budget 1, got %d", cfg.Remediation.RequestBudget)
	}
	if cfg.Outcome.ProbeTimeout != 4*time.Second {
		t.Errorf("Expected probe_timeout 4s, got %v", cfg.Outcome.ProbeTimeout)
	}
	if cfg.Backend.Mode != "simulator" {
		t.Errorf("Expected simulator backend, got %s", cfg.Backend.Mode)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cloudpilot.yaml")
	content := `
server:
  addr: ":9090"
database:
  driver: postgres
  url: postgres://cloudpilot@localhost/cloudpilot
remediation:
  enabled: true
  auto_execute_safe: false
  max_attempts: 4
  run_ttl: 2h
outcome:
  probe_timeout: 6s
policy:
  protected_environments: [prod, staging]
  required_tags: [owner, cost-center]
nlu:
  url: http://nlu.internal:8000
  timeout: 10s
telemetry:
  logging:
    level: debug
    format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Remediation.AutoExecuteSafe {
		t.Error("Expected auto_execute_safe to be false")
	}
	if cfg.Remediation.MaxAttempts != 4 {
		t.Errorf("Expected max_attempts 4, got %d", cfg.Remediation.MaxAttempts)
	}
	if cfg.Remediation.RunTTL != 2*time.Hour {
		t.Errorf("Expected run_ttl 2h, got %v", cfg.Remediation.RunTTL)
	}
	if cfg.Outcome.ProbeTimeout != 6*time.Second {
		t.Errorf("Expected probe_timeout 6s, got %v", cfg.Outcome.ProbeTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Outcome.ProbeAttempts != 3 {
		t.Errorf("Expected default probe_attempts 3, got %d", cfg.Outcome.ProbeAttempts)
	}
	if !cfg.NLU.Enabled() || cfg.NLU.Timeout != 10*time.Second {
		t.Errorf("Expected NLU endpoint with 10s timeout, got %+v", cfg.NLU)
	}
	if cfg.Codegen.Enabled() {
		t.Error("Expected codegen to stay disabled")
	}
	if cfg.Telemetry.Logging.Format != "json" {
		t.Errorf("Expected json log format, got %s", cfg.Telemetry.Logging.Format)
	}

	opts := cfg.PolicyOptions()
	if len(opts.ProtectedEnvironments) != 2 || opts.ProtectedEnvironments[1] != "staging" {
		t.Errorf("Expected protected environments [prod staging], got %v", opts.ProtectedEnvironments)
	}
	if len(opts.RequiredTags) != 2 {
		t.Errorf("Expected 2 required tags, got %v", opts.RequiredTags)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envLookup(map[string]string{
		"CLOUDPILOT_DATABASE_PATH":                 "/var/lib/cloudpilot/runs.db",
		"CLOUDPILOT_BACKEND_MODE":                  "remote",
		"CLOUDPILOT_BACKEND_URL":                   "http://backend:7000",
		"CLOUDPILOT_REMEDIATION_AUTO_EXECUTE_SAFE": "false",
		"CLOUDPILOT_REMEDIATION_MAX_ATTEMPTS":      "5",
		"CLOUDPILOT_REMEDIATION_RUN_TTL":           "30m",
		"CLOUDPILOT_POLICY_PATHS":                  "/etc/policies, /opt/extra.rego,",
		"UNRELATED":                                "ignored",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/cloudpilot/runs.db" {
		t.Errorf("Expected database path override, got %s", cfg.Database.Path)
	}
	if cfg.Backend.Mode != "remote" || cfg.Backend.Remote.URL != "http://backend:7000" {
		t.Errorf("Expected remote backend override, got %+v", cfg.Backend)
	}
	if cfg.Remediation.AutoExecuteSafe {
		t.Error("Expected auto_execute_safe override to false")
	}
	if cfg.Remediation.MaxAttempts != 5 {
		t.Errorf("Expected max_attempts 5, got %d", cfg.Remediation.MaxAttempts)
	}
	if cfg.Remediation.RunTTL != 30*time.Minute {
		t.Errorf("Expected run_ttl 30m, got %v", cfg.Remediation.RunTTL)
	}
	if len(cfg.Policy.Paths) != 2 || cfg.Policy.Paths[1] != "/opt/extra.rego" {
		t.Errorf("Expected two policy paths, got %v", cfg.Policy.Paths)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected overridden config to be valid, got: %v", err)
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bool", "CLOUDPILOT_REMEDIATION_ENABLED", "maybe"},
		{"int", "CLOUDPILOT_REMEDIATION_REQUEST_BUDGET", "one"},
		{"duration", "CLOUDPILOT_OUTCOME_PROBE_TIMEOUT", "4 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default().ApplyEnv(envLookup(map[string]string{tt.key: tt.val}))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected error to name %s, got: %v", tt.key, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "Driver",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "URL",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "Path",
		},
		{
			name:    "remote backend without url",
			mutate:  func(c *Config) { c.Backend.Mode = "remote" },
			wantErr: "backend.remote.url",
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Remediation.MaxAttempts = 0 },
			wantErr: "MaxAttempts",
		},
		{
			name:    "negative request budget",
			mutate:  func(c *Config) { c.Remediation.RequestBudget = -1 },
			wantErr: "RequestBudget",
		},
		{
			name:    "malformed nlu url",
			mutate:  func(c *Config) { c.NLU.URL = "not a url" },
			wantErr: "URL",
		},
		{
			name: "users without secret",
			mutate: func(c *Config) {
				c.Auth.Users = []UserConfig{{Username: "ops", PasswordHash: "$2a$10$x", Permissions: []string{"provision:read"}}}
			},
			wantErr: "jwt_secret",
		},
		{
			name: "user without password",
			mutate: func(c *Config) {
				c.Auth.JWTSecret = strings.Repeat("s", 32)
				c.Auth.Users = []UserConfig{{Username: "ops"}}
			},
			wantErr: "PasswordHash",
		},
		{
			name:    "telemetry level",
			mutate:  func(c *Config) { c.Telemetry.Logging.Level = "loud" },
			wantErr: "telemetry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestEngineSettings(t *testing.T) {
	cfg := Default()
	cfg.Remediation.AllServices = true
	cfg.Remediation.RequestBudget = 3
	cfg.Workflow.DefaultRegion = "eu-west-1"
	cfg.Workflow.RequireCredentials = false

	s := cfg.EngineSettings()
	if !s.AllServices {
		t.Error("Expected AllServices")
	}
	if s.RequestBudget != 3 {
		t.Errorf("Expected budget 3, got %d", s.RequestBudget)
	}
	if s.DefaultRegion != "eu-west-1" {
		t.Errorf("Expected region eu-west-1, got %s", s.DefaultRegion)
	}
	if s.RequireCredentials {
		t.Error("Expected RequireCredentials false")
	}
	if s.RemediationMaxAttempts != cfg.Remediation.MaxAttempts || s.RemediationRunTTL != cfg.Remediation.RunTTL {
		t.Errorf("Expected remediation limits to carry over, got %+v", s)
	}
}
