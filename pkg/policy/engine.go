package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// Options configures the environment rules handed to every policy.
type Options struct {
	ProtectedEnvironments []string
	ReviewResourceTypes   []string
	RequiredTags          []string
}

// DefaultOptions protects "prod", reviews VPC, RDS and EKS creates there and
// expects an owner tag.
func DefaultOptions() Options {
	return Options{
		ProtectedEnvironments: []string{"prod"},
		ReviewResourceTypes:   []string{"vpc", "rds", "eks"},
		RequiredTags:          []string{"owner"},
	}
}

// Engine is the Rego policy gate. It implements engine.PolicyEngine.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	paths    []string
	opts     Options
	logger   zerolog.Logger
	loader   *Loader
}

var _ engine.PolicyEngine = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts Options) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		opts:     opts,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	e.loader = NewLoader(logger)

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateRequest evaluates every enabled policy against a request. Any
// evaluation error fails the whole evaluation.
func (e *Engine) EvaluateRequest(ctx context.Context, in engine.PolicyInput) (*engine.PolicyResult, error) {
	startTime := time.Now()
	input := e.buildInput(in, startTime)

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &engine.PolicyResult{Allowed: true}
	for _, cp := range e.sortedPolicies() {
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		deny, warn, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", cp.policy.Name, err)
		}
		for _, v := range deny {
			if Severity(v.Severity).Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
		result.Warnings = append(result.Warnings, warn...)
	}
	result.EvaluatedAt = time.Now()

	e.logger.Debug().
		Str("environment", in.Environment).
		Str("action", string(in.Action)).
		Str("resource_type", in.ResourceType).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", time.Since(startTime)).
		Msg("Request policy evaluation completed")

	return result, nil
}

func (e *Engine) buildInput(in engine.PolicyInput, now time.Time) *RequestInput {
	return &RequestInput{
		Request: RequestDocument{
			Environment:  strings.ToLower(strings.TrimSpace(in.Environment)),
			Requester:    in.Requester,
			Action:       string(in.Action),
			ResourceType: strings.ToLower(in.ResourceType),
			ResourceName: in.ResourceName,
			Region:       in.Region,
			Parameters:   in.Parameters,
			Tags:         in.Tags,
		},
		Context: &PolicyContext{
			Timestamp:             now,
			ProtectedEnvironments: nonNil(e.opts.ProtectedEnvironments),
			ReviewResourceTypes:   nonNil(e.opts.ReviewResourceTypes),
			RequiredTags:          nonNil(e.opts.RequiredTags),
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// sortedPolicies must be called with the lock held.
func (e *Engine) sortedPolicies() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// LoadPolicies loads custom policy files and directories. The paths are
// remembered for ReloadPolicies and Watch.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	e.paths = append(e.paths, paths...)

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// LoadBundle compiles every policy of a bundle file.
func (e *Engine) LoadBundle(ctx context.Context, path string) (*PolicyBundle, error) {
	bundle, err := e.loader.LoadBundle(ctx, path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range bundle.Policies {
		p := bundle.Policies[i]
		if err := e.compileAndStorePolicy(ctx, &p); err != nil {
			return nil, fmt.Errorf("bundle %s: failed to compile policy %s: %w", bundle.Name, p.Name, err)
		}
	}
	return bundle, nil
}

// Watch reloads the custom policies when their files change.
func (e *Engine) Watch(ctx context.Context) error {
	e.mu.RLock()
	paths := append([]string(nil), e.paths...)
	e.mu.RUnlock()
	if len(paths) == 0 {
		return nil
	}
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.replaceCustom(ctx, policies)
	})
}

// StopWatching stops a running Watch.
func (e *Engine) StopWatching() error {
	return e.loader.StopWatching()
}

// replaceCustom swaps the custom policies for a freshly loaded set. Nothing
// changes when any of them fails to compile.
func (e *Engine) replaceCustom(ctx context.Context, policies []Policy) error {
	fresh := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		fresh[cp.policy.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range e.policies {
		if cp.policy.Source != BuiltinSource {
			delete(e.policies, name)
		}
	}
	for name, cp := range fresh {
		e.policies[name] = cp
	}
	return nil
}

// evaluatePolicy returns the deny and warn results of a single policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *RequestInput) ([]engine.PolicyViolation, []engine.PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var deny, warn []engine.PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		doc, ok := result.Expressions[0].Value.(map[string]interface{})
		if !ok {
			continue
		}
		for _, d := range asList(doc["deny"]) {
			deny = append(deny, createViolation(cp.policy, cp.policy.Severity, d, input))
		}
		for _, w := range asList(doc["warn"]) {
			warn = append(warn, createViolation(cp.policy, SeverityWarning, w, input))
		}
	}
	sortViolations(deny)
	sortViolations(warn)
	return deny, warn, nil
}

func asList(v interface{}) []interface{} {
	list, _ := v.([]interface{})
	return list
}

func sortViolations(vs []engine.PolicyViolation) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Message < vs[j].Message })
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	lines := strings.Split(rego, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "cloudpilot.policies"
}

// createViolation creates a PolicyViolation from a deny or warn element.
func createViolation(policy *Policy, severity Severity, result interface{}, input *RequestInput) engine.PolicyViolation {
	if severity == "" {
		severity = SeverityError
	}
	violation := engine.PolicyViolation{
		Policy:   policy.Name,
		Severity: string(severity),
		Resource: input.Request.ResourceName,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = sev
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query("data."+extractPackageName(policy.Rego)),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// compileAndStorePolicy must be called with the write lock held.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	cp, err := compile(ctx, policy)
	if err != nil {
		return err
	}
	e.policies[policy.Name] = cp

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sorted := e.sortedPolicies()
	policies := make([]Policy, 0, len(sorted))
	for _, cp := range sorted {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies recompiles the built-in policies and reloads every custom
// path passed to LoadPolicies.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.loader.ClearCache()

	e.mu.Lock()
	paths := e.paths
	e.paths = nil
	e.policies = make(map[string]*compiledPolicy)
	err := e.loadBuiltinPolicies(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		return nil
	}
	return e.LoadPolicies(ctx, paths)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
