package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfroyo/cloudpilot/pkg/engine"

// Stage names.
const (
	StageGenerated  = "generated"
	StageRepair     = "repair"
	StageGeneric    = "model_driven"
	StageFixed      = "fixed_handler"
	StageReconcile  = "reconcile"
	StageAutoHealed = "auto_heal_retry"
)

// reconcileIdentifiers lists, per resource type, where the deterministic name of
// an idempotent create lives. "@name" is the intent's resource name.
var reconcileIdentifiers = map[string][]string{
	"rds":      {"db_instance_id", "DBInstanceIdentifier", "@name"},
	"lambda":   {"@name", "function_name"},
	"s3":       {"bucket_name", "@name"},
	"dynamodb": {"table_name", "@name"},
}

// stage is one strategy of the execution pipeline.
// run returns nil when the stage does not apply to the request.
type stage struct {
	name string
	run  func(ctx context.Context, r *pipelineRun) *ExecutionResult
}

// pipelineRun is the mutable state of one pass through the pipeline.
type pipelineRun struct {
	requestID   string
	text        string
	environment string
	intent      *Intent
	tags        map[string]string
	references  []Reference
	static      bool
	observer    Observer

	code     string
	lastCode *ExecutionResult
	attempts []*ExecutionResult
}

func (r *pipelineRun) codegenContext() CodegenContext {
	intent := r.intent.Clone()
	if v, ok := intent.Parameters["user_data"]; ok {
		intent.Parameters["user_data_present"] = !IsEmptyValue(v)
		intent.Parameters["user_data_note"] = "Cloud-init user_data script provided separately at runtime."
		delete(intent.Parameters, "user_data")
	}
	return CodegenContext{
		Intent:      intent,
		Environment: r.environment,
		Tags:        r.tags,
		References:  r.references,
	}
}

// pipeline is the ordered fallback chain that realizes an intent.
type pipeline struct {
	backend   Backend
	schemas   SchemaIntrospector
	codegen   Codegen
	runner    ScriptRunner
	validator OutcomeValidator
	observer  Observer
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func newPipeline(opts Options, observer Observer, logger zerolog.Logger) *pipeline {
	return &pipeline{
		backend:   opts.Backend,
		schemas:   opts.Schemas,
		codegen:   opts.Codegen,
		runner:    opts.Runner,
		validator: opts.Validator,
		observer:  observer,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		tracer:    otel.Tracer(tracerName),
	}
}

// stages returns the strategies in order. Static mode keeps only the fixed
// handler and reconciliation.
func (p *pipeline) stages(static bool) []stage {
	if static {
		return []stage{
			{name: StageFixed, run: p.runFixedHandler},
			{name: StageReconcile, run: p.reconcile},
		}
	}
	return []stage{
		{name: StageGenerated, run: p.runGenerated},
		{name: StageRepair, run: p.runRepair},
		{name: StageGeneric, run: p.executeModelDriven},
		{name: StageFixed, run: p.runFixedHandler},
		{name: StageReconcile, run: p.reconcile},
	}
}

// execute runs the chain and stops at the first stage that returns success,
// requires-input or pending. At most one stage supplies the accepted result.
func (p *pipeline) execute(ctx context.Context, run *pipelineRun) *ExecutionResult {
	if run.static {
		run.attempts = append(run.attempts, Failure("Dynamic execution skipped by requested static mode."))
	}

	for _, st := range p.stages(run.static) {
		res := p.runStage(ctx, run, st)
		if res == nil {
			continue
		}
		if res.Accepted() {
			p.logger.Info().
				Str("request_id", run.requestID).
				Str("stage", st.name).
				Str("execution_path", string(res.ExecutionPath)).
				Bool("success", res.Success).
				Bool("requires_input", res.RequiresInput).
				Msg("Pipeline stage accepted")
			return p.accept(ctx, run, res)
		}
		p.logger.Debug().
			Str("request_id", run.requestID).
			Str("stage", st.name).
			Str("error", res.Error).
			Msg("Pipeline stage failed")
		run.attempts = append(run.attempts, res)
	}

	return p.failure(run)
}

func (p *pipeline) runStage(ctx context.Context, run *pipelineRun, st stage) *ExecutionResult {
	ctx, span := p.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage", st.name),
		attribute.String("request_id", run.requestID),
	))
	defer span.End()

	start := time.Now()
	res := st.run(ctx, run)
	if res == nil {
		span.SetAttributes(attribute.Bool("applicable", false))
		return nil
	}
	span.SetAttributes(attribute.Bool("success", res.Success))
	obs := run.observer
	if obs == nil {
		obs = p.observer
	}
	obs.StageFinished(run.requestID, st.name, res.Success, time.Since(start))
	return res
}

// accept stamps the intent onto an accepted result and validates successes.
func (p *pipeline) accept(ctx context.Context, run *pipelineRun, res *ExecutionResult) *ExecutionResult {
	stamp(run.intent, res)
	if len(run.attempts) > 0 && len(res.Attempts) == 0 {
		res.Attempts = run.attempts
	}
	return p.validate(ctx, run.intent, res)
}

func stamp(intent *Intent, res *ExecutionResult) {
	if res.Action == "" {
		res.Action = intent.Action
	}
	if res.ResourceType == "" {
		res.ResourceType = intent.ResourceType
	}
	if res.ResourceName == "" {
		res.ResourceName = intent.ResourceName
	}
	if res.Region == "" {
		res.Region = intent.Region
	}
}

// validate runs the outcome validator over a success. It never changes Success.
func (p *pipeline) validate(ctx context.Context, intent *Intent, res *ExecutionResult) *ExecutionResult {
	if res == nil || !res.Success || p.validator == nil {
		return res
	}
	v := p.validator.Validate(ctx, intent, res)
	if v == nil || !v.Performed {
		return res
	}
	res.OutcomeValidation = v
	switch {
	case v.Summary.Failed == 0 && v.Summary.Pending == 0:
		res.FinalOutcome = "Outcome validation passed."
	case v.Summary.Failed == 0:
		res.FinalOutcome = fmt.Sprintf("Provisioning completed. Validation is still in progress (%d pending checks).", v.Summary.Pending)
	default:
		res.FinalOutcome = fmt.Sprintf("Provisioning completed with %d validation check(s) failing.", v.Summary.Failed)
	}
	return res
}

// failure merges every failed attempt into one hard failure. The most recent
// error wins.
func (p *pipeline) failure(run *pipelineRun) *ExecutionResult {
	msg := ""
	for i := len(run.attempts) - 1; i >= 0; i-- {
		if e := strings.TrimSpace(run.attempts[i].Error); e != "" {
			msg = e
			break
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("No execution strategy is available for %s %s.", run.intent.Action, run.intent.ResourceType)
	}
	return &ExecutionResult{
		Success:      false,
		Action:       run.intent.Action,
		ResourceType: run.intent.ResourceType,
		ResourceName: run.intent.ResourceName,
		Region:       run.intent.Region,
		Error:        msg,
		Attempts:     run.attempts,
	}
}

func (p *pipeline) runScript(ctx context.Context, code string) *ExecutionResult {
	outcome := p.runner.Run(ctx, code)
	if outcome == nil {
		return Failure("generated procedure produced no outcome")
	}
	if outcome.Err != nil {
		res := Failure(outcome.Err.Error())
		res.Output = outcome.Output
		return res
	}
	if outcome.Result == nil {
		res := Failure("generated procedure did not emit a result object")
		res.Output = outcome.Output
		return res
	}
	if !ToBool(outcome.Result["success"], true) {
		msg := StringValue(outcome.Result["error"])
		if msg == "" {
			msg = "generated procedure reported failure"
		}
		res := Failure(msg)
		res.Payload = outcome.Result
		res.Output = outcome.Output
		return res
	}
	return &ExecutionResult{Success: true, Payload: outcome.Result, Output: outcome.Output}
}

func (p *pipeline) runGenerated(ctx context.Context, run *pipelineRun) *ExecutionResult {
	if p.codegen == nil || p.runner == nil {
		return nil
	}
	code, err := p.codegen.Generate(ctx, run.text, run.codegenContext())
	if err != nil {
		return Failure(fmt.Sprintf("Failed to generate automation code: %v", err))
	}
	if strings.TrimSpace(code) == "" {
		return Failure("Failed to generate automation code")
	}
	run.code = code
	res := p.runScript(ctx, code)
	run.lastCode = res
	if res.Success {
		res.ExecutionPath = PathDynamic
	}
	return res
}

func (p *pipeline) runRepair(ctx context.Context, run *pipelineRun) *ExecutionResult {
	if run.code == "" || run.lastCode == nil || p.codegen == nil {
		return nil
	}
	repaired, err := p.codegen.Repair(ctx, run.text, run.codegenContext(), run.code, run.lastCode.Error, run.lastCode.Output)
	if err != nil || strings.TrimSpace(repaired) == "" {
		return nil
	}
	run.code = repaired
	res := p.runScript(ctx, repaired)
	if res.Success {
		res.ExecutionPath = PathDynamicRepair
		res.PreviousError = run.lastCode.Error
	}
	run.lastCode = res
	return res
}

func (p *pipeline) runFixedHandler(ctx context.Context, run *pipelineRun) *ExecutionResult {
	if p.backend == nil || !p.backend.HasHandler(run.intent.Action, run.intent.ResourceType) {
		return nil
	}
	res, err := p.backend.Execute(ctx, ExecuteRequest{
		Action:       run.intent.Action,
		ResourceType: run.intent.ResourceType,
		ResourceName: run.intent.ResourceName,
		Region:       run.intent.Region,
		Parameters:   run.intent.Parameters,
		Tags:         run.tags,
	})
	if err != nil {
		return Failure(err.Error())
	}
	if res == nil {
		return Failure("fixed handler returned no result")
	}
	if res.Success && res.ExecutionPath == "" {
		res.ExecutionPath = PathStaticFallback
	}
	return res
}

// reconcile treats a failed idempotent create as a success when the target
// already exists under its deterministic name.
func (p *pipeline) reconcile(ctx context.Context, run *pipelineRun) *ExecutionResult {
	intent := run.intent
	if p.backend == nil || intent.Action != ActionCreate || len(run.attempts) == 0 {
		return nil
	}
	keys, ok := reconcileIdentifiers[strings.ToLower(intent.ResourceType)]
	if !ok {
		return nil
	}
	identifier := ""
	for _, key := range keys {
		if key == "@name" {
			identifier = intent.ResourceName
		} else {
			identifier = intent.StringParam(key)
		}
		if identifier != "" {
			break
		}
	}
	if identifier == "" {
		return nil
	}

	described, err := p.backend.Describe(ctx, intent.ResourceType, identifier)
	if err != nil || described == nil {
		return nil
	}
	previous := p.failure(run)
	return &ExecutionResult{
		Success:               true,
		Action:                ActionCreate,
		ResourceType:          intent.ResourceType,
		ResourceName:          identifier,
		Region:                intent.Region,
		Payload:               described,
		Message:               fmt.Sprintf("%s %s already exists; treating the create as complete.", intent.ResourceType, identifier),
		ExecutionPath:         PathReconciled,
		RecoveredAfterFailure: true,
		PreviousFailure:       previous,
	}
}

// retry re-runs the intent once through the most direct available strategy.
func (p *pipeline) retry(ctx context.Context, run *pipelineRun) *ExecutionResult {
	if res := p.runStage(ctx, run, stage{name: StageAutoHealed, run: p.runFixedHandler}); res != nil {
		if res.Success && (res.ExecutionPath == "" || res.ExecutionPath == PathStaticFallback) {
			res.ExecutionPath = PathStaticAutoHealed
		}
		return res
	}
	return p.runStage(ctx, run, stage{name: StageAutoHealed, run: p.executeModelDriven})
}
