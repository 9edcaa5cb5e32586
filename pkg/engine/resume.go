package engine

import (
	"context"
	"fmt"
	"strings"
)

// resume re-enters only the first stalled phase of a prior request. Nothing
// before that phase is replayed.
func (o *Orchestrator) resume(ctx context.Context, wf *WorkflowContext, payload *RequestPayload, creds *Credentials, obs Observer) {
	rc := payload.ResumeContext()
	wf.enter(StateExecution, "resume", "")

	intent := rc.Intent.Clone()
	if intent == nil {
		intent = &Intent{Action: ActionCreate}
	}
	if intent.Parameters == nil {
		intent.Parameters = make(map[string]interface{})
	}
	ApplyInputVariables(intent, payload.InputVariables)
	if intent.Region == "" {
		o.defaultRegion(intent, payload, creds)
	}
	wf.Intent = intent

	if len(rc.Phases) > 0 {
		wf.Phases = RestorePhaseTracker(rc.Phases)
		requestID := wf.RequestID
		wf.Phases.OnChange(func(p Phase) {
			obs.PhaseChanged(requestID, string(p.ID), string(p.Status), p.Detail)
		})
	}

	target, ok := wf.Phases.FirstStalled()
	if !ok {
		wf.ExecutionResult = &ExecutionResult{Success: true, Message: "No skipped/failed stages found to resume."}
		wf.enter(StateCompleted, "resume", "nothing to resume")
		return
	}
	wf.History[len(wf.History)-1].Detail = string(target)
	o.logger.Info().Str("request_id", wf.RequestID).Str("phase", string(target)).Msg("Resume target selected")

	var res *ExecutionResult
	switch target {
	case PhaseNetworkingSecurity, PhaseComputeData:
		res = o.resumeExecution(ctx, wf, target, creds, obs)
	case PhaseDeployApp:
		res = o.resumeDeploy(ctx, wf, rc, creds)
	case PhaseValidateHealth:
		res = o.resumeValidation(ctx, wf, rc)
	}
	if res == nil {
		res = o.resumeQuestions(wf, target, rc)
	}
	if res.ResumedFrom == "" {
		res.ResumedFrom = target
	}
	wf.ExecutionResult = res
	o.settle(wf)
}

// resumeExecution re-runs the execution pipeline for a stalled provisioning phase.
// The policy gate is re-evaluated because a prerequisite round may have
// stopped the request before it ran.
func (o *Orchestrator) resumeExecution(ctx context.Context, wf *WorkflowContext, target PhaseID, creds *Credentials, obs Observer) *ExecutionResult {
	tracker := wf.Phases
	intent := wf.Intent
	wf.RequiredTags = requiredTags(wf, intent)

	if msg := o.checkPolicy(ctx, wf, intent); msg != "" {
		tracker.Set(target, PhaseFailed, msg)
		tracker.SkipRemaining(target, "Blocked by policy.")
		return Failure(msg)
	}
	if o.settings.RequireCredentials && !creds.Complete() {
		res := Failure("AWS credentials not provided. Please provide Access Key and Secret Key.")
		tracker.Set(target, PhaseFailed, "Missing AWS credentials.")
		tracker.SkipRemaining(target, "Waiting for required credentials.")
		return o.attachClarification(wf, intent, res)
	}

	tracker.Set(target, PhaseInProgress, fmt.Sprintf("Resuming stage '%s'.", target))
	run := o.newRun(wf, intent, obs)
	res := o.execute(ctx, run)
	wf.GeneratedCode = run.code
	res = o.remediate(ctx, wf, run, res, obs)
	o.applyResult(wf, target, res)
	res = o.attachClarification(wf, intent, res)
	return o.attachSuccessFollowup(wf, intent, res)
}

// resumeDeploy runs the deploy handler of the resource family against the
// resource the prior request created.
func (o *Orchestrator) resumeDeploy(ctx context.Context, wf *WorkflowContext, rc *ResumeContext, creds *Credentials) *ExecutionResult {
	tracker := wf.Phases
	intent := wf.Intent
	rt := strings.ToLower(intent.ResourceType)

	if o.backend == nil || !o.backend.HasHandler(ActionDeploy, rt) {
		res := RequiresInputResult(
			"Deploy-stage resume is not automated for this resource type. Provide custom instructions to continue.",
			[]Question{{Variable: "custom_instruction", Prompt: "What deployment action should I run for this resource?", Type: QuestionString}},
		)
		tracker.Set(PhaseDeployApp, PhaseNeedsInput, "Waiting for deploy instructions.")
		return res
	}

	identifier := ResultIdentifier(intent, rc.ExecutionResult)
	if identifier == "" {
		variable := "resource_id"
		if keys := IdentifierKeys(rt); len(keys) > 0 {
			variable = keys[0]
		}
		res := RequiresInputResult(
			fmt.Sprintf("I need the %s identifier to resume deploy stage.", rt),
			[]Question{{Variable: variable, Prompt: fmt.Sprintf("Provide the %s identifier.", rt), Type: QuestionString}},
		)
		tracker.Set(PhaseDeployApp, PhaseNeedsInput, "Waiting for target instance ID.")
		return res
	}

	targets := StringList(intent.Param("app_targets"))
	if len(targets) == 0 {
		targets = StringList(intent.Param("install_targets"))
	}
	if len(targets) == 0 {
		res := RequiresInputResult("Resuming deploy stage. Please provide app deployment details.", appDeploymentQuestions(false))
		tracker.Set(PhaseDeployApp, PhaseNeedsInput, "Waiting for deployment details.")
		return res
	}

	if o.settings.RequireCredentials && !creds.Complete() {
		res := RequiresInputResult("AWS credentials are required to resume deploy stage.", []Question{
			{Variable: "aws_access_key", Prompt: "Provide AWS Access Key ID.", Type: QuestionString},
			{Variable: "aws_secret_key", Prompt: "Provide AWS Secret Access Key.", Type: QuestionPassword},
		})
		tracker.Set(PhaseDeployApp, PhaseNeedsInput, "Missing AWS credentials for resume.")
		return res
	}

	tracker.Set(PhaseDeployApp, PhaseInProgress, "Resuming deployment on existing instance.")
	waitSeconds := IntValue(intent.Param("wait_seconds"), 300)
	if waitSeconds <= 0 {
		waitSeconds = 300
	}
	params := map[string]interface{}{
		"app_targets":     targets,
		"public_access":   ToBool(intent.Param("public_access"), true),
		"custom_commands": intent.Param("custom_commands"),
		"wait_seconds":    waitSeconds,
	}
	for _, key := range IdentifierKeys(rt) {
		params[key] = identifier
	}
	if port := intent.Param("app_port"); !IsEmptyValue(port) {
		params["app_port"] = port
	}

	res, err := o.backend.Execute(ctx, ExecuteRequest{
		Action:       ActionDeploy,
		ResourceType: rt,
		ResourceName: identifier,
		Region:       intent.Region,
		Parameters:   params,
		Tags:         requiredTags(wf, intent),
	})
	if err != nil {
		res = Failure(err.Error())
	}
	if res == nil {
		res = Failure("Deployment resume failed.")
	}
	stamp(intent, res)

	switch {
	case res.Success:
		if res.ExecutionPath == "" {
			res.ExecutionPath = PathDeployResume
		}
		tracker.Set(PhaseDeployApp, PhaseCompleted, "Deployment resumed and completed successfully.")
		tracker.Set(PhaseValidateHealth, PhaseCompleted, "Validation completed after resume.")
	case res.RequiresInput:
		tracker.Set(PhaseDeployApp, PhaseNeedsInput, "More deployment inputs required.")
	default:
		msg := res.Error
		if msg == "" {
			msg = "Deployment resume failed."
		}
		tracker.Set(PhaseDeployApp, PhaseFailed, msg)
		tracker.SkipRemaining(PhaseDeployApp, "Skipped after deploy stage failure.")
	}
	return res
}

// resumeValidation re-checks a prior success. It returns nil when there is no
// success to re-check.
func (o *Orchestrator) resumeValidation(ctx context.Context, wf *WorkflowContext, rc *ResumeContext) *ExecutionResult {
	prior := rc.ExecutionResult
	if prior == nil || !prior.Success {
		return nil
	}
	res := prior.WithoutResume()
	res.RequiresInput = false
	res.Questions = nil
	res.QuestionPrompt = ""
	res.Continuation = nil
	res.OutcomeValidation = nil
	res.FinalOutcome = ""
	stamp(wf.Intent, res)
	res = o.pipeline.validate(ctx, wf.Intent, res)
	res.ExecutionPath = PathValidationResume
	applyHealth(wf.Phases, wf.Intent, res)
	return res
}

// resumeQuestions asks what is needed to continue a phase that cannot be
// re-run automatically.
func (o *Orchestrator) resumeQuestions(wf *WorkflowContext, target PhaseID, rc *ResumeContext) *ExecutionResult {
	var questions []Question
	if prior := rc.ExecutionResult; prior != nil && o.resolver != nil {
		if errs := prior.CollectErrors(); len(errs) > 0 {
			questions = o.resolver.QuestionsFromErrors(wf.Intent, wf.Text, errs[:1])
		}
	}
	if len(questions) == 0 {
		questions = []Question{{
			Variable: "resume_confirmation",
			Prompt:   fmt.Sprintf("Resuming stage '%s' requires additional details. Describe what to fix and continue.", target),
			Type:     QuestionString,
		}}
	}
	res := RequiresInputResult(fmt.Sprintf("Resume requested for stage '%s'. Provide required details to continue.", target), questions)
	res.ResumedFrom = target
	wf.Phases.Set(target, PhaseNeedsInput, "Waiting for details to resume skipped stage.")
	return res
}
