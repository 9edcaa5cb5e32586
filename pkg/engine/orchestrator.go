package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Settings are the workflow switches.
type Settings struct {
	// RemediationEnabled turns on the remediation loop.
	RemediationEnabled bool

	// AutoExecuteSafe applies safe plans without asking.
	AutoExecuteSafe bool

	// AllServices offers approval questions for every resource type, not only ec2 and rds.
	AllServices bool

	// RequestBudget caps auto-heal executions per ProcessRequest call.
	RequestBudget int

	// RemediationMaxAttempts caps approvals per remediation run.
	RemediationMaxAttempts int

	// RemediationRunTTL is how long a run can wait for a decision.
	RemediationRunTTL time.Duration

	// RequireCredentials fails execution when the request carries no credentials.
	RequireCredentials bool

	DefaultRegion string
}

// DefaultSettings returns the default workflow settings.
func DefaultSettings() Settings {
	return Settings{
		RemediationEnabled:     true,
		AutoExecuteSafe:        true,
		RequestBudget:          1,
		RemediationMaxAttempts: 2,
		RemediationRunTTL:      24 * time.Hour,
		RequireCredentials:     true,
		DefaultRegion:          "us-east-1",
	}
}

// Options wires the orchestrator to its collaborators. Parser and Backend are
// required; every other collaborator is optional.
type Options struct {
	Parser      IntentParser
	Backend     Backend
	Schemas     SchemaIntrospector
	Codegen     Codegen
	Runner      ScriptRunner
	Remediation RemediationEngine
	Validator   OutcomeValidator
	Resolver    PrerequisiteResolver
	Policy      PolicyEngine
	References  ReferenceRetriever
	Runs        RunRecorder
	Observer    Observer
	Logger      zerolog.Logger
	Settings    Settings
}

// Orchestrator drives one request through the workflow state machine.
type Orchestrator struct {
	parser      IntentParser
	backend     Backend
	resolver    PrerequisiteResolver
	remediation RemediationEngine
	policy      PolicyEngine
	references  ReferenceRetriever
	runs        RunRecorder
	observer    Observer
	settings    Settings
	pipeline    *pipeline
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	settings := opts.Settings
	if settings.RequestBudget <= 0 {
		settings.RequestBudget = 1
	}
	if settings.RemediationMaxAttempts <= 0 {
		settings.RemediationMaxAttempts = 2
	}
	if settings.RemediationRunTTL <= 0 {
		settings.RemediationRunTTL = 24 * time.Hour
	}
	if settings.DefaultRegion == "" {
		settings.DefaultRegion = "us-east-1"
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := opts.Logger.With().Str("component", "orchestrator").Logger()

	return &Orchestrator{
		parser:      opts.Parser,
		backend:     opts.Backend,
		resolver:    opts.Resolver,
		remediation: opts.Remediation,
		policy:      opts.Policy,
		references:  opts.References,
		runs:        opts.Runs,
		observer:    observer,
		settings:    settings,
		pipeline:    newPipeline(opts, observer, opts.Logger),
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Settings returns the effective settings.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// NewRequestID returns a fresh request id.
func NewRequestID() string {
	return "req-" + shortID()
}

// NewRunID returns a fresh remediation run id.
func NewRunID() string {
	return "rem-" + shortID()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (o *Orchestrator) observerFor(ctx context.Context) Observer {
	extra := observersFromContext(ctx)
	if len(extra) == 0 {
		return o.observer
	}
	return append(multiObserver{o.observer}, extra...)
}

// ProcessRequest runs a request through intake, intent resolution, context
// build, reference retrieval, policy check and execution.
//
// The returned error is non-nil only for malformed payloads. Every other
// outcome is reported on the returned WorkflowContext, whose ExecutionResult
// always carries the five phases.
func (o *Orchestrator) ProcessRequest(ctx context.Context, payload *RequestPayload) (*WorkflowContext, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	if strings.TrimSpace(payload.RequestID) == "" {
		payload.RequestID = NewRequestID()
	}
	creds := CredentialsFromVariables(payload.Credentials, payload.InputVariables)
	ctx = WithCredentials(ctx, creds)

	ctx, span := o.tracer.Start(ctx, "workflow.process", trace.WithAttributes(
		attribute.String("request_id", payload.RequestID),
		attribute.String("environment", payload.Environment),
	))
	defer span.End()

	obs := o.observerFor(ctx)
	wf := o.newWorkflow(payload, obs)
	logger := o.logger.With().Str("request_id", wf.RequestID).Logger()

	if payload.ResumeRequested() {
		logger.Info().Msg("Resuming stalled phase")
		o.resume(ctx, wf, payload, creds, obs)
	} else {
		logger.Info().Str("environment", wf.Environment).Msg("Processing request")
		o.process(ctx, wf, payload, creds, obs)
	}

	o.attachResumeContext(wf)
	o.recordRemediationRun(ctx, wf)
	wf.ExecutionResult.Phases = wf.Phases.Snapshot()

	span.SetAttributes(attribute.String("state", string(wf.CurrentState)))
	if wf.CurrentState == StateFailed {
		span.SetStatus(codes.Error, wf.Error)
	}
	obs.RequestFinished(wf.RequestID, string(wf.CurrentState), time.Since(start))
	logger.Info().
		Str("state", string(wf.CurrentState)).
		Bool("success", wf.ExecutionResult.Success).
		Bool("requires_input", wf.ExecutionResult.RequiresInput).
		Str("execution_path", string(wf.ExecutionResult.ExecutionPath)).
		Dur("duration", time.Since(start)).
		Msg("Request finished")
	return wf, nil
}

func (o *Orchestrator) newWorkflow(payload *RequestPayload, obs Observer) *WorkflowContext {
	wf := &WorkflowContext{
		RequestID:     payload.RequestID,
		RequesterID:   payload.RequesterID,
		Environment:   payload.Environment,
		CloudProvider: payload.CloudProvider,
		Text:          payload.Text,
		CurrentState:  StateIntake,
		Phases:        NewPhaseTracker(),
		Snapshot: RequestSnapshot{
			RequestID:      payload.RequestID,
			RequesterID:    payload.RequesterID,
			Environment:    payload.Environment,
			CloudProvider:  payload.CloudProvider,
			Text:           payload.Text,
			RegionHint:     payload.RegionHint,
			Credentials:    payload.Credentials,
			InputVariables: CloneMap(payload.InputVariables),
		},
	}
	if wf.CloudProvider == "" {
		wf.CloudProvider = "aws"
	}
	requestID := wf.RequestID
	wf.Phases.OnChange(func(p Phase) {
		obs.PhaseChanged(requestID, string(p.ID), string(p.Status), p.Detail)
	})
	return wf
}

func (o *Orchestrator) process(ctx context.Context, wf *WorkflowContext, payload *RequestPayload, creds *Credentials, obs Observer) {
	tracker := wf.Phases

	wf.enter(StateIntake, "intake", "")
	tracker.Set(PhaseDesignPlan, PhaseInProgress, "Analyzing request and planning architecture.")

	wf.enter(StateIntentResolution, "intent_resolution", "")
	intent, err := o.parser.Parse(ctx, wf.Text, payload.RegionHint)
	if err != nil || intent == nil {
		if err == nil {
			err = fmt.Errorf("parser returned no intent")
		}
		o.fail(wf, fmt.Sprintf("Failed to understand the request: %v", err))
		return
	}
	intent = intent.Clone()
	if intent.Parameters == nil {
		intent.Parameters = make(map[string]interface{})
	}
	ApplyInputVariables(intent, payload.InputVariables)
	ApplyResourceSelection(intent)
	o.defaultRegion(intent, payload, creds)
	if MentionsCustomNetworking(wf.Text) {
		intent.SetParam("use_custom_networking", true)
	}
	wf.Intent = intent
	wf.History[len(wf.History)-1].Detail = fmt.Sprintf("action=%s resource_type=%s", intent.Action, intent.ResourceType)

	if o.resolver != nil {
		resolution, err := o.resolver.Resolve(ctx, ResolveRequest{
			Intent:      intent,
			Text:        wf.Text,
			Environment: wf.Environment,
			Answers:     payload.InputVariables,
			Credentials: creds,
		})
		if err != nil {
			o.logger.Warn().Err(err).Str("request_id", wf.RequestID).Msg("Prerequisite resolution failed")
		} else if resolution != nil {
			if resolution.Intent != nil {
				intent = resolution.Intent
				wf.Intent = intent
			}
			if len(resolution.Questions) > 0 {
				tracker.Set(PhaseDesignPlan, PhaseCompleted, "Design and prerequisite planning completed.")
				tracker.Set(PhaseNetworkingSecurity, PhaseNeedsInput, "Waiting for required provisioning inputs.")
				tracker.SkipRemaining(PhaseNetworkingSecurity, "Waiting for user-selected prerequisites.")
				prompt := resolution.Prompt
				if prompt == "" {
					prompt = "I need a few required inputs before provisioning."
				}
				res := RequiresInputResult(prompt, DedupeQuestions(resolution.Questions))
				res.Continuation = resolution.Continuation
				res.Action = intent.Action
				res.ResourceType = intent.ResourceType
				wf.ExecutionResult = res
				wf.enter(StateCompleted, "prerequisites", "waiting for input")
				return
			}
		}
	}

	wf.enter(StateContextBuild, "context_build", "")
	wf.RequiredTags = requiredTags(wf, intent)

	wf.enter(StateReferenceRetrieval, "reference_retrieval", "")
	wf.References = o.retrieveReferences(ctx, wf, intent)

	wf.enter(StatePolicyCheck, "policy_check", "")
	if msg := o.checkPolicy(ctx, wf, intent); msg != "" {
		tracker.Set(PhaseDesignPlan, PhaseFailed, msg)
		tracker.SkipRemaining(PhaseDesignPlan, "Blocked by policy.")
		wf.Error = msg
		wf.ExecutionResult = Failure(msg)
		wf.enter(StateFailed, "policy_check", msg)
		return
	}
	tracker.Set(PhaseDesignPlan, PhaseCompleted, "Design and plan phase completed.")

	if o.settings.RequireCredentials && !creds.Complete() {
		res := Failure("AWS credentials not provided. Please provide Access Key and Secret Key.")
		tracker.Set(PhaseNetworkingSecurity, PhaseFailed, "Missing AWS credentials.")
		tracker.SkipRemaining(PhaseNetworkingSecurity, "Waiting for required credentials.")
		wf.ExecutionResult = o.attachClarification(wf, intent, res)
		o.settle(wf)
		return
	}

	wf.enter(StateExecution, "execution", "")
	tracker.Set(PhaseNetworkingSecurity, PhaseInProgress, "Applying networking and security controls.")
	tracker.Set(PhaseComputeData, PhasePending, "Waiting for networking/security completion.")
	tracker.Set(PhaseDeployApp, PhasePending, "Waiting for compute/data provisioning.")
	tracker.Set(PhaseValidateHealth, PhasePending, "Waiting for deployment.")

	run := o.newRun(wf, intent, obs)
	res := o.execute(ctx, run)
	wf.GeneratedCode = run.code
	res = o.remediate(ctx, wf, run, res, obs)
	o.applyResult(wf, PhaseNetworkingSecurity, res)

	res = o.attachClarification(wf, intent, res)
	res = o.attachSuccessFollowup(wf, intent, res)
	wf.ExecutionResult = res
	o.settle(wf)
}

// settle moves the workflow to its terminal state from the final result.
func (o *Orchestrator) settle(wf *WorkflowContext) {
	res := wf.ExecutionResult
	if res.IsHardFailure() {
		wf.Error = res.Error
		wf.enter(StateFailed, "finalize", res.Error)
		return
	}
	wf.enter(StateCompleted, "finalize", "")
}

// fail records an unexpected error against the active phase.
func (o *Orchestrator) fail(wf *WorkflowContext, msg string) {
	active, ok := wf.Phases.FirstWithStatus(PhaseInProgress)
	if !ok {
		active = PhaseOrder[0]
	}
	wf.Phases.Set(active, PhaseFailed, msg)
	wf.Phases.SkipRemaining(active, "Skipped after failure.")
	wf.Error = msg
	wf.ExecutionResult = Failure(msg)
	wf.enter(StateFailed, "error", msg)
	o.logger.Error().Str("request_id", wf.RequestID).Str("error", msg).Msg("Workflow failed")
}

func (o *Orchestrator) defaultRegion(intent *Intent, payload *RequestPayload, creds *Credentials) {
	if intent.Region != "" {
		return
	}
	switch {
	case payload.RegionHint != "":
		intent.Region = payload.RegionHint
	case creds != nil && creds.Region != "":
		intent.Region = creds.Region
	default:
		intent.Region = o.settings.DefaultRegion
	}
}

func requiredTags(wf *WorkflowContext, intent *Intent) map[string]string {
	tags := map[string]string{
		"Environment": wf.Environment,
		"ManagedBy":   "AI-Platform",
		"CreatedBy":   wf.RequesterID,
		"RequestId":   wf.RequestID,
	}
	if intent.ResourceName != "" {
		tags["Name"] = intent.ResourceName
	}
	return tags
}

// retrieveReferences never fails the request; retrieval errors yield no references.
func (o *Orchestrator) retrieveReferences(ctx context.Context, wf *WorkflowContext, intent *Intent) []Reference {
	if o.references == nil {
		return nil
	}
	query := fmt.Sprintf("%s %s %s", wf.CloudProvider, intent.ResourceType, wf.Text)
	refs, err := o.references.Retrieve(ctx, query, 3)
	if err != nil {
		o.logger.Debug().Err(err).Str("request_id", wf.RequestID).Msg("Reference retrieval failed")
		return nil
	}
	return refs
}

// checkPolicy returns the violation message, or "" when the request may proceed.
// An evaluation error blocks the request.
func (o *Orchestrator) checkPolicy(ctx context.Context, wf *WorkflowContext, intent *Intent) string {
	if o.policy == nil {
		return ""
	}
	result, err := o.policy.EvaluateRequest(ctx, PolicyInput{
		Environment:  wf.Environment,
		Requester:    wf.RequesterID,
		Action:       intent.Action,
		ResourceType: intent.ResourceType,
		ResourceName: intent.ResourceName,
		Region:       intent.Region,
		Parameters:   intent.Parameters,
		Tags:         wf.RequiredTags,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("request_id", wf.RequestID).Msg("Policy evaluation failed")
		return fmt.Sprintf("Policy evaluation failed: %v", err)
	}
	wf.Policy = result
	if result.Allowed {
		return ""
	}
	return "Policy violations: " + strings.Join(result.Messages(), "; ")
}

func (o *Orchestrator) newRun(wf *WorkflowContext, intent *Intent, obs Observer) *pipelineRun {
	return &pipelineRun{
		requestID:   wf.RequestID,
		text:        wf.Text,
		environment: wf.Environment,
		intent:      intent,
		tags:        wf.RequiredTags,
		references:  wf.References,
		observer:    obs,
	}
}

// execute prepares parameters and runs the pipeline.
func (o *Orchestrator) execute(ctx context.Context, run *pipelineRun) *ExecutionResult {
	intent := run.intent
	intent.Parameters = SanitizeParameters(intent.Parameters)
	if o.resolver != nil {
		if filled := o.resolver.AutoFill(ctx, ResolveRequest{
			Intent:      intent,
			Text:        run.text,
			Environment: run.environment,
			Tags:        run.tags,
			Credentials: CredentialsFromContext(ctx),
		}); filled != nil {
			intent.Parameters = filled.Parameters
		}
		intent.Parameters = SanitizeParameters(intent.Parameters)
	}
	run.static = strings.EqualFold(intent.StringParam("execution_mode"), "static")
	return o.pipeline.execute(ctx, run)
}
