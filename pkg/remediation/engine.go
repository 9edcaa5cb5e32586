package remediation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

const defaultApprovalMessage = "I can apply automatic remediation and retry."

// Options configures an Engine.
type Options struct {
	// RulesPath is a YAML or JSON rules file. Empty selects the built-in rules.
	RulesPath string

	Enabled bool

	// PreviewOnly builds plans but refuses to execute them.
	PreviewOnly bool

	// MaxAttempts is the default retry ceiling written into plans.
	MaxAttempts int

	Logger zerolog.Logger
}

// Engine matches failures against remediation rules and runs the resulting
// plans through the provisioning backend.
type Engine struct {
	opts   Options
	logger zerolog.Logger

	mu    sync.RWMutex
	rules *RuleSet
}

var _ engine.RemediationEngine = (*Engine)(nil)

// New loads the rules and returns a ready engine.
func New(opts Options) (*Engine, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	e := &Engine{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "remediation").Logger(),
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the rules file. On error the current rules stay active.
func (e *Engine) Reload() error {
	set, err := loadRuleSet(e.opts.RulesPath, e.opts.MaxAttempts)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = set
	e.mu.Unlock()

	e.logger.Info().
		Str("source", set.source).
		Int("rules", len(set.rules)).
		Msg("Remediation rules loaded")
	return nil
}

// Rules returns the active rules in match order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules.rules))
	for _, r := range e.rules.rules {
		out = append(out, r.Rule)
	}
	return out
}

// BuildPlan returns a plan from the first rule matching the failure, or nil.
func (e *Engine) BuildPlan(ctx context.Context, intent *engine.Intent, result *engine.ExecutionResult, pctx engine.PlanContext) (*engine.RemediationPlan, error) {
	if !e.opts.Enabled || intent == nil || result == nil || result.Success {
		return nil, nil
	}
	errs := result.CollectErrors()
	if len(errs) == 0 {
		return nil, nil
	}
	errorText := strings.ToLower(strings.Join(errs, " | "))
	action := strings.ToLower(strings.TrimSpace(string(intent.Action)))
	resourceType := strings.ToLower(strings.TrimSpace(intent.ResourceType))
	if action == "" || resourceType == "" {
		return nil, nil
	}

	e.mu.RLock()
	set := e.rules
	e.mu.RUnlock()

	rule, err := e.selectRule(set, intent, pctx, resourceType, action, errorText)
	if err != nil || rule == nil {
		return nil, err
	}

	values := contextValues(intent, result, pctx)
	plan := &engine.RemediationPlan{
		RunID:               engine.NewRunID(),
		RuleID:              rule.ID,
		ResourceType:        resourceType,
		Action:              engine.Action(action),
		HumanActions:        append([]string(nil), rule.HumanActions...),
		ApprovalScope:       set.defaults.approvalScope,
		RetryStrategy:       rule.RetryStrategy.apply(set.defaults.retry),
		Safety:              rule.Safety.apply(set.defaults.safety),
		ExecutionActions:    []engine.PlanAction{},
		ErrorExcerpt:        errs[0],
		RequiredPermissions: []string{},
	}

	tmpl := strings.TrimSpace(rule.ApprovalMessageTemplate)
	if tmpl == "" {
		tmpl = defaultApprovalMessage
	}
	plan.Reason = fmt.Sprint(renderString(tmpl, values))

	for _, p := range rule.RequiredPermissions {
		if p = strings.TrimSpace(p); p != "" {
			plan.RequiredPermissions = append(plan.RequiredPermissions, p)
		}
	}
	for _, a := range rule.Actions {
		params, _ := render(a.Params, values).(map[string]interface{})
		plan.ExecutionActions = append(plan.ExecutionActions, engine.PlanAction{Type: a.Type, Params: params})
	}

	e.logger.Info().
		Str("request_id", pctx.RequestID).
		Str("rule_id", plan.RuleID).
		Str("run_id", plan.RunID).
		Bool("destructive", plan.Safety.Destructive).
		Bool("requires_admin", plan.Safety.RequiresAdmin).
		Msg("Remediation plan built")
	return plan, nil
}

func (e *Engine) selectRule(set *RuleSet, intent *engine.Intent, pctx engine.PlanContext, resourceType, action, errorText string) (*compiledRule, error) {
	var vars map[string]interface{}
	for _, r := range set.rules {
		if !r.matches(resourceType, action, errorText) {
			continue
		}
		if r.condition == nil {
			return r, nil
		}
		if vars == nil {
			vars = map[string]interface{}{
				"intent":        intentFacts(intent),
				"error":         errorText,
				"environment":   strings.ToLower(strings.TrimSpace(pctx.Environment)),
				"resource_type": resourceType,
				"action":        action,
			}
		}
		ok, err := r.condition.eval(vars)
		if err != nil {
			e.logger.Warn().Err(err).Str("rule_id", r.ID).Msg("Remediation rule condition failed")
			continue
		}
		if ok {
			return r, nil
		}
	}
	return nil, nil
}

func intentFacts(intent *engine.Intent) map[string]interface{} {
	params := intent.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	return map[string]interface{}{
		"action":        string(intent.Action),
		"resource_type": intent.ResourceType,
		"resource_name": intent.ResourceName,
		"region":        intent.Region,
		"parameters":    params,
	}
}

// ExecutePlan runs each step in order and stops at the first failure.
func (e *Engine) ExecutePlan(ctx context.Context, plan *engine.RemediationPlan, backend engine.Backend, environment string) *engine.RemediationOutcome {
	switch {
	case !e.opts.Enabled:
		return &engine.RemediationOutcome{Error: "Auto-remediation is disabled."}
	case plan == nil:
		return &engine.RemediationOutcome{Error: "Invalid remediation plan."}
	case len(plan.ExecutionActions) == 0:
		return &engine.RemediationOutcome{
			RequiresManual: true,
			Error:          "No executable auto-remediation actions are defined for this issue.",
		}
	case e.opts.PreviewOnly:
		return &engine.RemediationOutcome{
			PreviewOnly: true,
			Error:       "Auto-remediation preview mode is enabled. Execution is blocked.",
		}
	case backend == nil:
		return &engine.RemediationOutcome{Error: "No provisioning backend is configured for remediation."}
	}

	logger := e.logger.With().Str("run_id", plan.RunID).Str("rule_id", plan.RuleID).Logger()
	outcome := &engine.RemediationOutcome{}

	for _, action := range plan.ExecutionActions {
		stepType := strings.TrimSpace(action.Type)
		if stepType == "" {
			continue
		}
		action.Type = stepType

		if !KnownStep(stepType) {
			return fail(outcome, stepType, fmt.Sprintf("Unsupported remediation action '%s'.", stepType), nil)
		}
		step, missing := prepareStep(action, environment)
		if missing != "" {
			return fail(outcome, stepType, fmt.Sprintf("Remediation step '%s' is missing parameter '%s'.", stepType, missing), nil)
		}

		started := time.Now()
		result, err := backend.RunRemediationStep(ctx, step)
		if err != nil {
			logger.Warn().Err(err).Str("step", stepType).Msg("Remediation step failed")
			return fail(outcome, stepType, err.Error(), result)
		}
		if ok, present := result["success"].(bool); present && !ok {
			msg := engine.StringValue(result["error"])
			if msg == "" {
				msg = fmt.Sprintf("Remediation step '%s' failed.", stepType)
			}
			logger.Warn().Str("step", stepType).Str("error", msg).Msg("Remediation step failed")
			return fail(outcome, stepType, msg, result)
		}

		logger.Info().
			Str("step", stepType).
			Dur("duration", time.Since(started)).
			Msg("Remediation step completed")
		outcome.Steps = append(outcome.Steps, engine.StepOutcome{Type: stepType, Success: true, Result: result})
	}

	outcome.Success = true
	return outcome
}

func fail(outcome *engine.RemediationOutcome, stepType, msg string, result map[string]interface{}) *engine.RemediationOutcome {
	outcome.Success = false
	outcome.Error = msg
	outcome.Steps = append(outcome.Steps, engine.StepOutcome{Type: stepType, Error: msg, Result: result})
	return outcome
}

// Watch reloads the rules whenever the rules file changes, until ctx ends.
// It is a no-op for the built-in rules.
func (e *Engine) Watch(ctx context.Context) error {
	path := strings.TrimSpace(e.opts.RulesPath)
	if path == "" {
		return nil
	}
	path = expandHome(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors replace files, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	go e.processEvents(ctx, watcher, filepath.Clean(path))

	e.logger.Info().Str("path", path).Msg("Watching remediation rules")
	return nil
}

func (e *Engine) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	var reloadTimer *time.Timer
	reloadDelay := 250 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := e.Reload(); err != nil {
					e.logger.Error().Err(err).Msg("Failed to reload remediation rules")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.Error().Err(err).Msg("Remediation rules watcher error")
		}
	}
}
