package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Remediation observer outcomes.
const (
	RemediationOutcomeAutoHealed        = "auto_healed"
	RemediationOutcomeAutoHealFailed    = "auto_heal_failed"
	RemediationOutcomeApprovalRequested = "approval_requested"
	RemediationOutcomeDenied            = "denied"
	RemediationOutcomeExecuted          = "executed"
	RemediationOutcomeFailed            = "failed"
	RemediationOutcomeExpired           = "expired"
)

const approvalVariable = "remediation_approval"

// remediate wraps a hard failure in the remediation loop. Safe plans are
// applied and the action retried, up to the per-request budget. Any other
// plan becomes a single approval question.
func (o *Orchestrator) remediate(ctx context.Context, wf *WorkflowContext, run *pipelineRun, res *ExecutionResult, obs Observer) *ExecutionResult {
	if !o.settings.RemediationEnabled || o.remediation == nil {
		return res
	}
	heals := 0
	for res.IsHardFailure() {
		plan, err := o.remediation.BuildPlan(ctx, run.intent, res, PlanContext{
			Environment: wf.Environment,
			RequestID:   wf.RequestID,
			Text:        wf.Text,
		})
		if err != nil {
			o.logger.Warn().Err(err).Str("request_id", wf.RequestID).Msg("Failed to build remediation plan")
			return res
		}
		if plan == nil {
			return res
		}
		if plan.RunID == "" {
			plan.RunID = NewRunID()
		}
		if !o.canAutoHeal(plan) || heals >= o.settings.RequestBudget {
			return o.requestApproval(wf, run.intent, res, plan, obs)
		}
		heals++
		healed, ok := o.autoHeal(ctx, wf, run, res, plan, obs)
		res = healed
		if !ok {
			return res
		}
	}
	return res
}

func (o *Orchestrator) canAutoHeal(plan *RemediationPlan) bool {
	return o.settings.AutoExecuteSafe && plan.Safety.IsSafe() && len(plan.ExecutionActions) > 0
}

// autoHeal executes a safe plan and retries the original action once. It
// returns false when the plan itself failed and the loop must stop.
func (o *Orchestrator) autoHeal(ctx context.Context, wf *WorkflowContext, run *pipelineRun, failure *ExecutionResult, plan *RemediationPlan, obs Observer) (*ExecutionResult, bool) {
	ctx, span := o.tracer.Start(ctx, "remediation.execute", trace.WithAttributes(
		attribute.String("request_id", wf.RequestID),
		attribute.String("rule_id", plan.RuleID),
		attribute.String("run_id", plan.RunID),
	))
	defer span.End()

	logger := o.logger.With().
		Str("request_id", wf.RequestID).
		Str("rule_id", plan.RuleID).
		Str("run_id", plan.RunID).
		Logger()

	outcome := o.remediation.ExecutePlan(ctx, plan, o.backend, wf.Environment)
	if outcome == nil || !outcome.Success {
		span.SetStatus(codes.Error, "remediation plan failed")
		obs.RemediationEvent(wf.RequestID, plan.RunID, RemediationOutcomeAutoHealFailed)
		logger.Warn().Msg("Auto-heal plan failed")
		failure.AutoHealResult = outcome
		return failure, false
	}
	obs.RemediationEvent(wf.RequestID, plan.RunID, RemediationOutcomeAutoHealed)
	logger.Info().Msg("Auto-heal plan applied, retrying action")

	retried := o.pipeline.retry(ctx, run)
	if retried == nil {
		retried = Failure(fmt.Sprintf("No strategy is available to retry %s %s after remediation.", run.intent.Action, run.intent.ResourceType))
	}
	stamp(run.intent, retried)
	retried.AutoHealed = true
	retried.AutoHealPlan = &AutoHealReference{RuleID: plan.RuleID, RunID: plan.RunID}
	retried.AutoHealResult = outcome
	retried.PreviousFailure = failure
	if retried.Success {
		retried = o.pipeline.validate(ctx, run.intent, retried)
	}
	return retried, true
}

// requestApproval turns a failure into a single approve/deny question. The run
// is persisted once the resume context is known.
func (o *Orchestrator) requestApproval(wf *WorkflowContext, intent *Intent, res *ExecutionResult, plan *RemediationPlan, obs Observer) *ExecutionResult {
	rt := strings.ToLower(intent.ResourceType)
	if !o.settings.AllServices && rt != "ec2" && rt != "rds" {
		return res
	}
	prompt := plan.Reason
	if prompt == "" {
		prompt = "I found a prerequisite issue I can auto-fix."
	}
	scope := plan.ApprovalScope
	if scope == "" {
		scope = "request_run"
		plan.ApprovalScope = scope
	}
	res.RequiresInput = true
	res.QuestionPrompt = prompt
	res.Questions = []Question{{
		Variable:            approvalVariable,
		Prompt:              "Approve automatic remediation and continue? (approve/deny)",
		Type:                QuestionString,
		Options:             []string{"approve", "deny"},
		Hint:                "approve applies safe auto-fix then retries failed stage",
		RequiredPermissions: plan.RequiredPermissions,
	}}
	res.Continuation = &Continuation{
		Kind:                ContinuationAutoRemediation,
		RunID:               plan.RunID,
		ApprovalScope:       scope,
		RequiredPermissions: plan.RequiredPermissions,
	}
	res.Remediation = plan
	obs.RemediationEvent(wf.RequestID, plan.RunID, RemediationOutcomeApprovalRequested)
	return res
}

// recordRemediationRun persists the run behind an approval question.
func (o *Orchestrator) recordRemediationRun(ctx context.Context, wf *WorkflowContext) {
	res := wf.ExecutionResult
	if res == nil || res.Remediation == nil || res.Continuation == nil || res.Continuation.Kind != ContinuationAutoRemediation {
		return
	}
	now := o.now()
	plan := res.Remediation
	lastError := res.Error
	if errs := res.CollectErrors(); lastError == "" && len(errs) > 0 {
		lastError = errs[0]
	}
	run := &RemediationRun{
		RunID:               plan.RunID,
		RequestID:           wf.RequestID,
		OwnerID:             wf.RequesterID,
		Plan:                plan,
		RequestSnapshot:     wf.Snapshot,
		ResumeContext:       res.ResumeContext,
		RequiredPermissions: plan.RequiredPermissions,
		Status:              RemediationPendingApproval,
		MaxAttempts:         o.settings.RemediationMaxAttempts,
		ApprovalScope:       plan.ApprovalScope,
		LastError:           lastError,
		ExpiresAt:           now.Add(o.settings.RemediationRunTTL),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	wf.RemediationRun = run
	if o.runs == nil {
		return
	}
	if err := o.runs.CreateRemediationRun(ctx, run); err != nil {
		o.logger.Error().Err(err).Str("request_id", wf.RequestID).Str("run_id", run.RunID).Msg("Failed to persist remediation run")
	}
}

// ExecuteRemediationWithResume decides a remediation run. A denial pauses the
// run. An approval executes the plan with the snapshot's credentials and then
// resumes the original request at its stalled phase.
//
// The run is updated in place; the caller persists it. Expired, consumed and
// exhausted runs return a terminal EngineError.
func (o *Orchestrator) ExecuteRemediationWithResume(ctx context.Context, run *RemediationRun, approved bool) (*RemediationResumeResult, error) {
	if run == nil || run.Plan == nil {
		return nil, NewValidationError("Invalid remediation context.", nil).WithCode(ErrCodeMalformedRequest)
	}
	now := o.now()
	obs := o.observerFor(ctx)
	logger := o.logger.With().Str("run_id", run.RunID).Str("request_id", run.RequestID).Logger()

	if run.Status.IsTerminal() {
		return nil, NewExecutionFailure(fmt.Sprintf("remediation run is already %s", run.Status), nil).
			WithCode(ErrCodeRunConsumed).WithResource(run.RunID)
	}
	if run.IsExpired(now) {
		run.Status = RemediationExpired
		run.UpdatedAt = now
		obs.RemediationEvent(run.RequestID, run.RunID, RemediationOutcomeExpired)
		return &RemediationResumeResult{Status: run.Status, Error: "Remediation run expired."},
			NewExecutionFailure("remediation run expired", nil).WithCode(ErrCodeRunExpired).WithResource(run.RunID)
	}
	if !approved {
		run.Status = RemediationDenied
		run.UpdatedAt = now
		obs.RemediationEvent(run.RequestID, run.RunID, RemediationOutcomeDenied)
		logger.Info().Msg("Remediation denied")
		return &RemediationResumeResult{
			Status:  run.Status,
			Message: "Remediation approval denied. Execution paused until manual fix is applied.",
		}, nil
	}
	if run.MaxAttempts > 0 && run.Attempts >= run.MaxAttempts {
		run.Status = RemediationFailed
		run.UpdatedAt = now
		return &RemediationResumeResult{Status: run.Status, Error: "Remediation attempts exhausted."},
			NewExecutionFailure("remediation attempts exhausted", nil).
				WithCode(ErrCodeAttemptsExhausted).
				WithResource(run.RunID).
				WithDetail("attempts", run.Attempts)
	}

	snapshot := run.RequestSnapshot
	creds := CredentialsFromVariables(snapshot.Credentials, snapshot.InputVariables)
	if !creds.Complete() {
		return &RemediationResumeResult{Status: run.Status, Error: "AWS credentials missing for remediation execution."}, nil
	}
	ctx = WithCredentials(ctx, creds)
	environment := snapshot.Environment
	if environment == "" {
		environment = "dev"
	}

	run.Attempts++
	run.Status = RemediationInProgress
	run.UpdatedAt = now

	ctx, span := o.tracer.Start(ctx, "remediation.execute", trace.WithAttributes(
		attribute.String("run_id", run.RunID),
		attribute.String("rule_id", run.Plan.RuleID),
		attribute.Int("attempt", run.Attempts),
	))
	outcome := o.remediation.ExecutePlan(ctx, run.Plan, o.backend, environment)
	span.End()

	if outcome == nil || !outcome.Success {
		msg := "Remediation execution failed."
		if outcome != nil && outcome.Error != "" {
			msg = outcome.Error
		}
		run.LastError = msg
		run.Status = RemediationPendingApproval
		if run.MaxAttempts > 0 && run.Attempts >= run.MaxAttempts {
			run.Status = RemediationFailed
		}
		run.UpdatedAt = o.now()
		obs.RemediationEvent(run.RequestID, run.RunID, RemediationOutcomeFailed)
		logger.Warn().Str("error", msg).Int("attempts", run.Attempts).Msg("Remediation execution failed")
		return &RemediationResumeResult{Status: run.Status, Error: msg, RemediationResult: outcome}, nil
	}

	run.Status = RemediationCompleted
	run.UpdatedAt = o.now()
	obs.RemediationEvent(run.RequestID, run.RunID, RemediationOutcomeExecuted)
	logger.Info().Msg("Remediation applied")

	if run.ResumeContext == nil {
		return &RemediationResumeResult{
			Success:           true,
			Status:            run.Status,
			Message:           "Remediation applied. No resume context available; please retry the request.",
			RemediationResult: outcome,
		}, nil
	}

	payload := resumePayload(run, creds, environment)
	wf, err := o.ProcessRequest(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to resume request %s: %w", payload.RequestID, err)
	}
	return &RemediationResumeResult{
		Success:           wf.ExecutionResult.Success,
		Status:            run.Status,
		WorkflowState:     wf.CurrentState,
		Intent:            wf.Intent,
		ExecutionResult:   wf.ExecutionResult,
		Error:             wf.Error,
		RemediationResult: outcome,
	}, nil
}

func resumePayload(run *RemediationRun, creds *Credentials, environment string) *RequestPayload {
	snapshot := run.RequestSnapshot
	payload := &RequestPayload{
		RequestID:     snapshot.RequestID,
		RequesterID:   snapshot.RequesterID,
		Environment:   environment,
		CloudProvider: snapshot.CloudProvider,
		Text:          snapshot.Text,
		RegionHint:    snapshot.RegionHint,
		Credentials:   creds,
		InputVariables: map[string]interface{}{
			"resume_skipped_only": true,
			"resume_context":      run.ResumeContext,
		},
	}
	if payload.RequestID == "" {
		payload.RequestID = NewRequestID()
	}
	if payload.RequesterID == "" {
		payload.RequesterID = "user"
	}
	if payload.CloudProvider == "" {
		payload.CloudProvider = "aws"
	}
	if payload.Text == "" {
		payload.Text = "resume"
	}
	return payload
}
