package engine

import (
	"fmt"
	"strings"
)

var endpointKeys = []string{"website_url", "invoke_url", "endpoint", "api_url", "app_url", "public_url", "ingress_url"}

// applyResult moves the phases from the execution outcome. from is the phase
// that ran the execution; later phases follow it.
func (o *Orchestrator) applyResult(wf *WorkflowContext, from PhaseID, res *ExecutionResult) {
	tracker := wf.Phases
	switch {
	case res.Success:
		finalizeSuccess(tracker, wf.Intent, res)

	case res.Pending:
		tracker.Set(PhaseNetworkingSecurity, PhaseCompleted, "Networking and security provisioning completed.")
		detail := "Resource is still provisioning."
		if res.RetryAfterSeconds > 0 {
			detail = fmt.Sprintf("Resource is still provisioning. Retry in %d seconds.", res.RetryAfterSeconds)
		}
		tracker.Set(PhaseComputeData, PhaseInProgress, detail)

	case res.RequiresInput && res.Remediation != nil:
		failPhases(tracker, from, res.Error)
		target, ok := tracker.FirstWithStatus(PhaseFailed, PhaseInProgress)
		if !ok {
			target = PhaseDeployApp
		}
		tracker.Set(target, PhaseNeedsInput, "Waiting for remediation approval.")

	case res.RequiresInput:
		detail := res.QuestionPrompt
		if detail == "" {
			detail = "Waiting for required inputs."
		}
		tracker.Set(from, PhaseNeedsInput, detail)
		tracker.SkipRemaining(from, "Waiting for missing values before execution.")

	default:
		failPhases(tracker, from, res.Error)
	}
}

func failPhases(tracker *PhaseTracker, from PhaseID, msg string) {
	if strings.TrimSpace(msg) == "" {
		msg = "Execution failed."
	}
	tracker.Set(from, PhaseFailed, msg)
	tracker.SkipRemaining(from, "Skipped after failure.")
}

func finalizeSuccess(tracker *PhaseTracker, intent *Intent, res *ExecutionResult) {
	tracker.Set(PhaseNetworkingSecurity, PhaseCompleted, "Networking and security provisioning completed.")
	tracker.Set(PhaseComputeData, PhaseCompleted, "Compute/data resources created successfully.")

	deployed, detail := deployDecision(intent, res)
	if v := res.OutcomeValidation; v != nil && v.PhaseHints.DeployCompleted != nil {
		deployed = *v.PhaseHints.DeployCompleted
		if v.PhaseHints.DeployDetail != "" {
			detail = v.PhaseHints.DeployDetail
		}
	}
	if deployed {
		tracker.Set(PhaseDeployApp, PhaseCompleted, detail)
	} else {
		tracker.Set(PhaseDeployApp, PhaseSkipped, detail)
	}

	applyHealth(tracker, intent, res)
}

// deployDecision reports whether the result already deployed an application.
func deployDecision(intent *Intent, res *ExecutionResult) (bool, string) {
	rt := strings.ToLower(res.ResourceType)
	if rt == "" {
		rt = strings.ToLower(intent.ResourceType)
	}
	action := res.Action
	if action == "" {
		action = intent.Action
	}
	installRequested := intent.HasParam("install_targets") || intent.HasParam("user_data")

	switch {
	case rt == "ec2":
		mode := strings.ToLower(res.PayloadString("installation_mode"))
		if installRequested || (mode != "" && mode != "none") {
			return true, "Application bootstrap script submitted."
		}
	case rt == "s3" && !IsEmptyValue(res.Payload["website_configuration"]) && res.PayloadString("website_url") != "":
		return true, "Static website endpoint configured and content deployed."
	case rt == "s3" && (intent.HasParam("website_configuration") || ToBool(intent.Param("website_enabled"), false) ||
		!IsEmptyValue(res.Payload["website_configuration"])):
		return true, "Static website configuration applied."
	}
	if rt != "ec2" {
		for _, key := range endpointKeys {
			if res.PayloadString(key) != "" {
				return true, "Application endpoint is available."
			}
		}
		if action == ActionUpdate {
			for _, key := range []string{"install_targets", "app_targets", "custom_commands", "sql", "sql_statements"} {
				if intent.HasParam(key) {
					return true, "Application/data updates applied."
				}
			}
		}
	}
	return false, "No application deployment requested."
}

func applyHealth(tracker *PhaseTracker, intent *Intent, res *ExecutionResult) {
	if v := res.OutcomeValidation; v != nil && v.Performed {
		s := v.Summary
		hint := v.PhaseHints.HealthDetail
		pick := func(def string) string {
			if hint != "" {
				return hint
			}
			return def
		}
		switch {
		case s.Failed > 0:
			total := s.Total
			if total == 0 {
				total = s.Failed
			}
			tracker.Set(PhaseValidateHealth, PhaseCompleted,
				pick(fmt.Sprintf("Validation completed with warnings (%d/%d checks failed).", s.Failed, total)))
		case s.Pending > 0:
			tracker.Set(PhaseValidateHealth, PhaseInProgress,
				pick(fmt.Sprintf("Validation is still in progress (%d checks pending).", s.Pending)))
		default:
			tracker.Set(PhaseValidateHealth, PhaseCompleted,
				pick(fmt.Sprintf("Validation completed (%d checks passed).", s.Total)))
		}
		return
	}

	rt := strings.ToLower(res.ResourceType)
	if rt == "" {
		rt = strings.ToLower(intent.ResourceType)
	}
	if rt != "" && rt != "ec2" {
		tracker.Set(PhaseValidateHealth, PhaseCompleted, "Validation completed.")
		return
	}
	readiness := strings.ToLower(res.PayloadString("readiness"))
	switch {
	case strings.HasPrefix(readiness, "instance_status_ok"):
		tracker.Set(PhaseValidateHealth, PhaseCompleted, "Instance status checks passed.")
	case readiness == "" || ContainsAny(readiness, "pending", "launch_submitted", "initializing", "starting"):
		tracker.Set(PhaseValidateHealth, PhaseInProgress, "Health validation is still in progress.")
	default:
		tracker.Set(PhaseValidateHealth, PhaseCompleted, "Validation completed.")
	}
}

// attachResumeContext captures what a later request needs to re-enter the
// first failed, skipped or waiting phase.
func (o *Orchestrator) attachResumeContext(wf *WorkflowContext) {
	res := wf.ExecutionResult
	if res == nil {
		res = Failure("No execution result available.")
		wf.ExecutionResult = res
	}
	next, ok := wf.Phases.FirstWithStatus(PhaseFailed, PhaseSkipped, PhaseNeedsInput)
	if !ok {
		res.ResumeContext = nil
		res.ResumeAvailable = false
		return
	}
	res.ResumeContext = &ResumeContext{
		Intent:             wf.Intent.Clone(),
		Phases:             wf.Phases.Snapshot(),
		ExecutionResult:    res.WithoutResume(),
		NextPhase:          next,
		RemediationContext: res.Remediation,
	}
	res.ResumeAvailable = true
}

// attachClarification turns a hard failure into questions when the error text
// names something the caller can supply.
func (o *Orchestrator) attachClarification(wf *WorkflowContext, intent *Intent, res *ExecutionResult) *ExecutionResult {
	if res.Success || res.RequiresInput || res.Pending || o.resolver == nil {
		return res
	}
	questions := o.resolver.QuestionsFromErrors(intent, wf.Text, res.CollectErrors())
	if len(questions) == 0 {
		return res
	}
	res.RequiresInput = true
	res.Questions = questions
	res.QuestionPrompt = "I need a few values before I can continue."
	return res
}

var appTargetOptions = []string{"tomcat", "nginx", "docker", "node", "python", "java", "git"}

func appDeploymentQuestions(withCommands bool) []Question {
	qs := []Question{
		{
			Variable: "app_targets",
			Prompt:   "What applications/tools should I install on this server? (you can provide multiple comma-separated values)",
			Type:     QuestionString,
			Hint:     "Example: tomcat,nginx,docker",
			Options:  append([]string(nil), appTargetOptions...),
		},
		{
			Variable: "app_port",
			Prompt:   "Which application port should I open?",
			Type:     QuestionNumber,
			Hint:     "Example: 8080",
		},
		{
			Variable: "public_access",
			Prompt:   "Should this app port be public? (true/false)",
			Type:     QuestionBoolean,
			Hint:     "true for internet-facing, false for private-only",
			Options:  []string{"true", "false"},
		},
	}
	if withCommands {
		qs = append(qs, Question{
			Variable: "custom_commands",
			Prompt:   "Any extra shell commands to run after installation? (optional)",
			Type:     QuestionString,
			Hint:     "Example: echo hello > /tmp/app.txt",
		})
	}
	return qs
}

// attachSuccessFollowup asks for application details after a bare compute
// create so the deploy phase can continue.
func (o *Orchestrator) attachSuccessFollowup(wf *WorkflowContext, intent *Intent, res *ExecutionResult) *ExecutionResult {
	if !res.Success || res.RequiresInput {
		return res
	}
	if intent.Action != ActionCreate || strings.ToLower(intent.ResourceType) != "ec2" {
		return res
	}
	if intent.HasParam("install_targets") || intent.HasParam("user_data") {
		return res
	}

	instanceID := res.PayloadString("instance_id")
	region := res.Region
	if region == "" {
		region = intent.Region
	}
	readiness := strings.ToLower(res.PayloadString("readiness"))
	ready := strings.Contains(readiness, "instance_status_ok")
	waitHint := "Wait ~5 minutes for EC2 checks to pass. I will continue once you provide app details."
	wait := 300
	if ready {
		waitHint = "Instance is ready. Provide app details to continue deployment."
		wait = 0
	}

	res.RequiresInput = true
	res.QuestionPrompt = fmt.Sprintf("EC2 instance %s is created. Deployment phase needs app details. %s", instanceID, waitHint)
	res.Questions = appDeploymentQuestions(true)
	res.Continuation = &Continuation{
		Kind:                   ContinuationAutoDeploy,
		InstanceID:             instanceID,
		Region:                 region,
		RecommendedWaitSeconds: wait,
	}
	wf.Phases.Set(PhaseDeployApp, PhaseNeedsInput, "Waiting for application deployment details from user.")
	return res
}
