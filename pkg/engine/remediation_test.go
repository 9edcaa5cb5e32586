package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func safePlan() *RemediationPlan {
	return &RemediationPlan{
		RuleID:       "ec2_missing_key_pair",
		ResourceType: "ec2",
		Action:       ActionCreate,
		Reason:       "The key pair does not exist.",
		ExecutionActions: []PlanAction{
			{Type: "drop_parameter", Params: map[string]interface{}{"name": "key_name"}},
		},
		Safety: Safety{},
	}
}

func unsafePlan() *RemediationPlan {
	return &RemediationPlan{
		RuleID:              "rds_missing_subnet_group",
		ResourceType:        "rds",
		Action:              ActionCreate,
		Reason:              "The database needs a DB subnet group.",
		RequiredPermissions: []string{"rds:CreateDBSubnetGroup"},
		ExecutionActions: []PlanAction{
			{Type: "create_db_subnet_group", Params: map[string]interface{}{"name": "default-db"}},
		},
		Safety: Safety{RequiresAdmin: true},
	}
}

func TestRemediation_AutoHealsSafePlan(t *testing.T) {
	backend := newFakeBackend("create:ec2")
	backend.results = []*ExecutionResult{
		Failure("InvalidKeyPair.NotFound: The key pair 'deploy' does not exist"),
		{Success: true, Payload: map[string]interface{}{"instance_id": "i-0heal"}},
	}
	remediation := &fakeRemediation{plan: safePlan(), outcome: &RemediationOutcome{Success: true}}
	obs := &recordingObserver{}

	o := newTestOrchestrator(Options{
		Parser: &fakeParser{intent: &Intent{
			Action:       ActionCreate,
			ResourceType: "ec2",
			Parameters:   map[string]interface{}{"install_targets": "nginx", "key_name": "deploy"},
		}},
		Backend:     backend,
		Remediation: remediation,
		Observer:    obs,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create a web server with nginx"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res := wf.ExecutionResult
	if !res.Success || !res.AutoHealed {
		t.Fatalf("Expected auto-healed success, got success=%v auto_healed=%v error=%q", res.Success, res.AutoHealed, res.Error)
	}
	if res.ExecutionPath != PathStaticAutoHealed {
		t.Errorf("Expected %s, got %s", PathStaticAutoHealed, res.ExecutionPath)
	}
	if len(backend.executeCalls) != 2 {
		t.Errorf("Expected the action to be retried once, got %d executions", len(backend.executeCalls))
	}
	if remediation.executes != 1 || len(backend.steps) != 1 {
		t.Errorf("Expected one plan execution with one step, got %d/%d", remediation.executes, len(backend.steps))
	}
	if res.PreviousFailure == nil || res.PreviousFailure.Success {
		t.Error("Expected the original failure to be kept as previous failure")
	}
	if res.AutoHealPlan == nil || res.AutoHealPlan.RuleID != "ec2_missing_key_pair" || res.AutoHealPlan.RunID == "" {
		t.Errorf("Unexpected auto-heal reference: %+v", res.AutoHealPlan)
	}
	if wf.CurrentState != StateCompleted {
		t.Errorf("Expected completed state, got %s", wf.CurrentState)
	}
	if len(obs.remediation) != 1 || obs.remediation[0] != RemediationOutcomeAutoHealed {
		t.Errorf("Expected one auto_healed event, got %v", obs.remediation)
	}
}

func TestRemediation_BudgetLimitsAutoHeal(t *testing.T) {
	backend := newFakeBackend("create:ec2")
	backend.results = []*ExecutionResult{Failure("InvalidKeyPair.NotFound")}
	remediation := &fakeRemediation{plan: safePlan(), outcome: &RemediationOutcome{Success: true}}

	o := newTestOrchestrator(Options{
		Parser: &fakeParser{intent: &Intent{
			Action:       ActionCreate,
			ResourceType: "ec2",
			Parameters:   map[string]interface{}{"install_targets": "nginx"},
		}},
		Backend:     backend,
		Remediation: remediation,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create a web server"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if remediation.executes != 1 {
		t.Errorf("Expected exactly one auto-heal within the budget, got %d", remediation.executes)
	}
	res := wf.ExecutionResult
	if !res.RequiresInput || res.Continuation == nil || res.Continuation.Kind != ContinuationAutoRemediation {
		t.Errorf("Expected an approval question once the budget is spent, got %+v", res.Continuation)
	}
}

func TestRemediation_FailedPlanStopsLoop(t *testing.T) {
	backend := newFakeBackend("create:ec2")
	backend.results = []*ExecutionResult{Failure("InvalidKeyPair.NotFound")}
	remediation := &fakeRemediation{
		plan:    safePlan(),
		outcome: &RemediationOutcome{Success: false, Error: "step failed"},
	}

	o := newTestOrchestrator(Options{
		Parser: &fakeParser{intent: &Intent{
			Action:       ActionCreate,
			ResourceType: "ec2",
			Parameters:   map[string]interface{}{"install_targets": "nginx"},
		}},
		Backend:     backend,
		Remediation: remediation,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create a web server"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(backend.executeCalls) != 1 {
		t.Errorf("Expected no retry after a failed plan, got %d executions", len(backend.executeCalls))
	}
	if wf.CurrentState != StateFailed {
		t.Errorf("Expected failed state, got %s", wf.CurrentState)
	}
	if wf.ExecutionResult.AutoHealResult == nil || wf.ExecutionResult.AutoHealResult.Error != "step failed" {
		t.Errorf("Expected the failed plan outcome on the result, got %+v", wf.ExecutionResult.AutoHealResult)
	}
}

func TestRemediation_UnsafePlanRequestsApproval(t *testing.T) {
	backend := newFakeBackend("create:rds")
	backend.results = []*ExecutionResult{Failure("DBSubnetGroupNotFoundFault: DB subnet group 'default' does not exist")}
	remediation := &fakeRemediation{plan: unsafePlan()}
	runs := &fakeRuns{}

	o := newTestOrchestrator(Options{
		Parser:      &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "rds", ResourceName: "db1"}},
		Backend:     backend,
		Remediation: remediation,
		Runs:        runs,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create a postgres database db1"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res := wf.ExecutionResult
	if res.Success || !res.RequiresInput {
		t.Fatalf("Expected requires-input, got success=%v requires_input=%v", res.Success, res.RequiresInput)
	}
	if len(res.Questions) != 1 || res.Questions[0].Variable != "remediation_approval" {
		t.Fatalf("Expected a single approval question, got %+v", res.Questions)
	}
	if res.Continuation == nil || res.Continuation.Kind != ContinuationAutoRemediation || res.Continuation.RunID == "" {
		t.Fatalf("Unexpected continuation: %+v", res.Continuation)
	}
	if res.Continuation.ApprovalScope != "request_run" {
		t.Errorf("Expected default approval scope request_run, got %q", res.Continuation.ApprovalScope)
	}
	if remediation.executes != 0 {
		t.Error("Expected an unsafe plan never to be executed without approval")
	}
	if wf.CurrentState != StateCompleted {
		t.Errorf("Expected completed state for an approval question, got %s", wf.CurrentState)
	}
	if got := phaseStatuses(res.Phases)[PhaseNetworkingSecurity]; got != PhaseNeedsInput {
		t.Errorf("Expected networking_security needs_input, got %s", got)
	}

	if len(runs.runs) != 1 {
		t.Fatalf("Expected one persisted run, got %d", len(runs.runs))
	}
	run := runs.runs[0]
	if run.RunID != res.Continuation.RunID || run.Status != RemediationPendingApproval {
		t.Errorf("Unexpected run: id=%s status=%s", run.RunID, run.Status)
	}
	if run.OwnerID != "alice" || run.MaxAttempts != 2 {
		t.Errorf("Expected owner alice with 2 attempts, got %s/%d", run.OwnerID, run.MaxAttempts)
	}
	if run.ResumeContext == nil || run.ResumeContext.NextPhase != PhaseNetworkingSecurity {
		t.Errorf("Expected resume context at networking_security, got %+v", run.ResumeContext)
	}
	if !run.ExpiresAt.After(run.CreatedAt) {
		t.Error("Expected the run to expire after it was created")
	}
	if run.RequestSnapshot.Credentials == nil || run.RequestSnapshot.Credentials.AccessKey != "AKIATEST" {
		t.Error("Expected the request snapshot to keep the credentials")
	}
}

func TestRemediation_ApprovalLimitedToComputeAndDatabase(t *testing.T) {
	tests := []struct {
		name         string
		allServices  bool
		wantQuestion bool
	}{
		{"s3 without all services", false, false},
		{"s3 with all services", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend("create:s3")
			backend.results = []*ExecutionResult{Failure("AccessDenied: s3:PutBucketPolicy")}
			plan := unsafePlan()
			plan.ResourceType = "s3"

			settings := DefaultSettings()
			settings.AllServices = tt.allServices
			o := newTestOrchestrator(Options{
				Parser:      &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3", ResourceName: "b1"}},
				Backend:     backend,
				Remediation: &fakeRemediation{plan: plan},
				Settings:    settings,
			})

			wf, err := o.ProcessRequest(context.Background(), testPayload("create bucket b1"))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			res := wf.ExecutionResult
			if res.RequiresInput != tt.wantQuestion {
				t.Errorf("Expected requires_input=%v, got %v", tt.wantQuestion, res.RequiresInput)
			}
			if !tt.wantQuestion && wf.CurrentState != StateFailed {
				t.Errorf("Expected hard failure, got %s", wf.CurrentState)
			}
		})
	}
}

func TestRemediation_DisabledLeavesFailure(t *testing.T) {
	backend := newFakeBackend("create:rds")
	backend.results = []*ExecutionResult{Failure("DBSubnetGroupNotFoundFault")}
	remediation := &fakeRemediation{plan: unsafePlan()}

	settings := DefaultSettings()
	settings.RemediationEnabled = false
	o := newTestOrchestrator(Options{
		Parser:      &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "rds"}},
		Backend:     backend,
		Remediation: remediation,
		Settings:    settings,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create database"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if remediation.builds != 0 {
		t.Error("Expected no plan to be built when remediation is disabled")
	}
	if wf.CurrentState != StateFailed {
		t.Errorf("Expected failed state, got %s", wf.CurrentState)
	}
}

// pendingRun drives an rds create into an approval question and returns the run.
func pendingRun(t *testing.T, backend *fakeBackend, remediation *fakeRemediation) (*Orchestrator, *RemediationRun) {
	t.Helper()
	runs := &fakeRuns{}
	o := newTestOrchestrator(Options{
		Parser:      &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "rds", ResourceName: "db1"}},
		Backend:     backend,
		Remediation: remediation,
		Runs:        runs,
	})
	if _, err := o.ProcessRequest(context.Background(), testPayload("create a postgres database db1")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(runs.runs) != 1 {
		t.Fatalf("Expected one pending run, got %d", len(runs.runs))
	}
	return o, runs.runs[0]
}

func TestExecuteRemediationWithResume_ApprovedResumes(t *testing.T) {
	backend := newFakeBackend("create:rds")
	backend.results = []*ExecutionResult{
		Failure("DBSubnetGroupNotFoundFault: DB subnet group 'default' does not exist"),
		{Success: true, Payload: map[string]interface{}{"db_instance_id": "db1"}},
	}
	remediation := &fakeRemediation{plan: unsafePlan(), outcome: &RemediationOutcome{Success: true}}
	o, run := pendingRun(t, backend, remediation)

	out, err := o.ExecuteRemediationWithResume(context.Background(), run, true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatalf("Expected resumed success, got error %q", out.Error)
	}
	if run.Status != RemediationCompleted || run.Attempts != 1 {
		t.Errorf("Expected completed run with 1 attempt, got %s/%d", run.Status, run.Attempts)
	}
	if len(backend.steps) != 1 || backend.steps[0].Type != "create_db_subnet_group" {
		t.Errorf("Expected the plan step to run, got %+v", backend.steps)
	}
	if backend.steps[0].Environment != "dev" {
		t.Errorf("Expected the snapshot environment, got %q", backend.steps[0].Environment)
	}
	if out.WorkflowState != StateCompleted {
		t.Errorf("Expected completed workflow, got %s", out.WorkflowState)
	}
	if out.ExecutionResult.ResumedFrom != PhaseNetworkingSecurity {
		t.Errorf("Expected resume from networking_security, got %s", out.ExecutionResult.ResumedFrom)
	}
	got := phaseStatuses(out.ExecutionResult.Phases)
	if got[PhaseDesignPlan] != PhaseCompleted || got[PhaseComputeData] != PhaseCompleted {
		t.Errorf("Unexpected phases after resume: %v", got)
	}
}

func TestExecuteRemediationWithResume_Denied(t *testing.T) {
	backend := newFakeBackend("create:rds")
	backend.results = []*ExecutionResult{Failure("DBSubnetGroupNotFoundFault")}
	remediation := &fakeRemediation{plan: unsafePlan(), outcome: &RemediationOutcome{Success: true}}
	o, run := pendingRun(t, backend, remediation)

	out, err := o.ExecuteRemediationWithResume(context.Background(), run, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Success || run.Status != RemediationDenied {
		t.Errorf("Expected denied run, got success=%v status=%s", out.Success, run.Status)
	}
	if remediation.executes != 0 {
		t.Error("Expected no plan execution on denial")
	}

	_, err = o.ExecuteRemediationWithResume(context.Background(), run, true)
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeRunConsumed {
		t.Errorf("Expected a consumed-run error after denial, got %v", err)
	}
}

func TestExecuteRemediationWithResume_TerminalRuns(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(run *RemediationRun)
		wantCode string
	}{
		{
			name:     "expired",
			mutate:   func(run *RemediationRun) { run.ExpiresAt = time.Now().Add(-time.Minute) },
			wantCode: ErrCodeRunExpired,
		},
		{
			name:     "exhausted",
			mutate:   func(run *RemediationRun) { run.Attempts = run.MaxAttempts },
			wantCode: ErrCodeAttemptsExhausted,
		},
		{
			name:     "consumed",
			mutate:   func(run *RemediationRun) { run.Status = RemediationCompleted },
			wantCode: ErrCodeRunConsumed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend("create:rds")
			backend.results = []*ExecutionResult{Failure("DBSubnetGroupNotFoundFault")}
			remediation := &fakeRemediation{plan: unsafePlan(), outcome: &RemediationOutcome{Success: true}}
			o, run := pendingRun(t, backend, remediation)
			tt.mutate(run)

			_, err := o.ExecuteRemediationWithResume(context.Background(), run, true)
			var ee *EngineError
			if !errors.As(err, &ee) {
				t.Fatalf("Expected EngineError, got %v", err)
			}
			if ee.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, ee.Code)
			}
			if IsRemediable(err) {
				t.Error("Expected terminal run errors not to be remediable")
			}
			if remediation.executes != 0 {
				t.Error("Expected no plan execution for a terminal run")
			}
		})
	}
}

func TestExecuteRemediationWithResume_FailedPlanKeepsRunOpen(t *testing.T) {
	backend := newFakeBackend("create:rds")
	backend.results = []*ExecutionResult{Failure("DBSubnetGroupNotFoundFault")}
	remediation := &fakeRemediation{plan: unsafePlan(), outcome: &RemediationOutcome{Success: false, Error: "subnet quota reached"}}
	o, run := pendingRun(t, backend, remediation)

	out, err := o.ExecuteRemediationWithResume(context.Background(), run, true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Success || out.Error != "subnet quota reached" {
		t.Errorf("Expected plan failure, got success=%v error=%q", out.Success, out.Error)
	}
	if run.Status != RemediationPendingApproval || run.LastError != "subnet quota reached" {
		t.Errorf("Expected the run to stay open after the first failure, got %s/%q", run.Status, run.LastError)
	}

	out, err = o.ExecuteRemediationWithResume(context.Background(), run, true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if run.Status != RemediationFailed || run.Attempts != 2 {
		t.Errorf("Expected failed run after the last attempt, got %s/%d", run.Status, run.Attempts)
	}
	if out.Success {
		t.Error("Expected the second attempt to fail as well")
	}
}

func TestExecuteRemediationWithResume_InvalidRun(t *testing.T) {
	o := newTestOrchestrator(Options{Parser: &fakeParser{}, Backend: newFakeBackend()})
	if _, err := o.ExecuteRemediationWithResume(context.Background(), &RemediationRun{RunID: "rem-x"}, true); !IsValidation(err) {
		t.Errorf("Expected validation error for a run without a plan, got %v", err)
	}
}
