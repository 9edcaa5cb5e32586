package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestProcessRequest_RejectsMalformedPayload(t *testing.T) {
	o := newTestOrchestrator(Options{Parser: &fakeParser{}, Backend: newFakeBackend()})

	tests := []struct {
		name    string
		payload *RequestPayload
	}{
		{"nil payload", nil},
		{"missing environment", &RequestPayload{Text: "create bucket"}},
		{"empty text", &RequestPayload{Environment: "dev", Text: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.ProcessRequest(context.Background(), tt.payload)
			if !IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestProcessRequest_GeneratesRequestID(t *testing.T) {
	backend := newFakeBackend("create:s3")
	backend.results = []*ExecutionResult{{Success: true}}
	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3", ResourceName: "b1"}},
		Backend: backend,
	})

	payload := testPayload("create bucket b1")
	payload.RequestID = ""
	wf, err := o.ProcessRequest(context.Background(), payload)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.HasPrefix(wf.RequestID, "req-") || len(wf.RequestID) != 16 {
		t.Errorf("Expected generated req- id, got %q", wf.RequestID)
	}
}

func TestProcessRequest_ReconciledLambdaCreate(t *testing.T) {
	backend := newFakeBackend("create:lambda")
	backend.results = []*ExecutionResult{Failure("ResourceConflictException: Function already exist: fn-a")}
	backend.described["lambda/fn-a"] = map[string]interface{}{"function_name": "fn-a", "state": "Active"}
	obs := &recordingObserver{}

	o := newTestOrchestrator(Options{
		Parser:   &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "lambda", ResourceName: "fn-a"}},
		Backend:  backend,
		Observer: obs,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create lambda fn-a"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res := wf.ExecutionResult
	if !res.Success || res.ExecutionPath != PathReconciled {
		t.Fatalf("Expected reconciled success, got success=%v path=%s error=%q", res.Success, res.ExecutionPath, res.Error)
	}
	if wf.CurrentState != StateCompleted {
		t.Errorf("Expected completed state, got %s", wf.CurrentState)
	}

	got := phaseStatuses(res.Phases)
	want := map[PhaseID]PhaseStatus{
		PhaseDesignPlan:         PhaseCompleted,
		PhaseNetworkingSecurity: PhaseCompleted,
		PhaseComputeData:        PhaseCompleted,
		PhaseDeployApp:          PhaseSkipped,
		PhaseValidateHealth:     PhaseCompleted,
	}
	for id, status := range want {
		if got[id] != status {
			t.Errorf("Expected %s to be %s, got %s", id, status, got[id])
		}
	}
	if regressions := obs.regressions(); len(regressions) > 0 {
		t.Errorf("Expected no completed phase to regress, got %v", regressions)
	}
}

func TestProcessRequest_PolicyBlocksProductionDelete(t *testing.T) {
	backend := newFakeBackend("delete:rds")
	backend.results = []*ExecutionResult{{Success: true}}
	policy := &fakePolicy{result: &PolicyResult{
		Allowed: false,
		Violations: []PolicyViolation{{
			Policy:   "environment_restrictions",
			Message:  "Delete operations are not allowed in production",
			Severity: "error",
		}},
	}}

	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{intent: &Intent{Action: ActionDelete, ResourceType: "rds", ResourceName: "db1"}},
		Backend: backend,
		Policy:  policy,
	})

	payload := testPayload("delete database db1")
	payload.Environment = "prod"
	wf, err := o.ProcessRequest(context.Background(), payload)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if wf.CurrentState != StateFailed {
		t.Errorf("Expected failed state, got %s", wf.CurrentState)
	}
	if len(backend.executeCalls) != 0 {
		t.Errorf("Expected no backend execution, got %d calls", len(backend.executeCalls))
	}
	if !strings.Contains(wf.Error, "Delete operations are not allowed in production") {
		t.Errorf("Expected violation in error, got %q", wf.Error)
	}
	got := phaseStatuses(wf.ExecutionResult.Phases)
	if got[PhaseDesignPlan] != PhaseFailed {
		t.Errorf("Expected design_plan failed, got %s", got[PhaseDesignPlan])
	}
	for _, id := range PhaseOrder[1:] {
		if got[id] != PhaseSkipped {
			t.Errorf("Expected %s skipped, got %s", id, got[id])
		}
	}
	if len(policy.inputs) != 1 || policy.inputs[0].Environment != "prod" {
		t.Errorf("Expected policy to see the prod environment, got %+v", policy.inputs)
	}
}

func TestProcessRequest_PolicyEvaluationErrorBlocks(t *testing.T) {
	backend := newFakeBackend("create:s3")
	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3"}},
		Backend: backend,
		Policy:  &fakePolicy{err: errors.New("rego compile error")},
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create bucket"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if wf.CurrentState != StateFailed || !strings.HasPrefix(wf.Error, "Policy evaluation failed") {
		t.Errorf("Expected policy evaluation failure, got state=%s error=%q", wf.CurrentState, wf.Error)
	}
}

func TestProcessRequest_PrerequisiteQuestionsAreDeduplicated(t *testing.T) {
	backend := newFakeBackend("create:ec2")
	resolver := &fakeResolver{questions: []Question{
		{Variable: "instance_type", Prompt: "Which instance type?"},
		{Variable: "os_flavor", Prompt: "Which OS?"},
		{Variable: "instance_type", Prompt: "Instance type again?"},
	}}

	o := newTestOrchestrator(Options{
		Parser:   &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "ec2"}},
		Backend:  backend,
		Resolver: resolver,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create a server"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res := wf.ExecutionResult
	if !res.RequiresInput || res.Success {
		t.Fatalf("Expected requires-input, got success=%v requires_input=%v", res.Success, res.RequiresInput)
	}
	if len(res.Questions) != 2 {
		t.Fatalf("Expected 2 unique questions, got %d", len(res.Questions))
	}
	if len(backend.executeCalls) != 0 {
		t.Error("Expected no execution while prerequisites are missing")
	}
	if wf.CurrentState != StateCompleted {
		t.Errorf("Expected completed state for requires-input, got %s", wf.CurrentState)
	}

	got := phaseStatuses(res.Phases)
	if got[PhaseDesignPlan] != PhaseCompleted || got[PhaseNetworkingSecurity] != PhaseNeedsInput {
		t.Errorf("Unexpected phases: %v", got)
	}
	for _, id := range []PhaseID{PhaseComputeData, PhaseDeployApp, PhaseValidateHealth} {
		if got[id] != PhaseSkipped {
			t.Errorf("Expected %s skipped, got %s", id, got[id])
		}
	}
	if !res.ResumeAvailable || res.ResumeContext == nil || res.ResumeContext.NextPhase != PhaseNetworkingSecurity {
		t.Errorf("Expected resume context pointing at networking_security, got %+v", res.ResumeContext)
	}
}

func TestProcessRequest_MissingCredentials(t *testing.T) {
	backend := newFakeBackend("create:s3")
	resolver := &fakeResolver{errorQuestions: []Question{
		{Variable: "aws_access_key", Prompt: "Provide AWS Access Key ID."},
	}}
	o := newTestOrchestrator(Options{
		Parser:   &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3"}},
		Backend:  backend,
		Resolver: resolver,
	})

	payload := testPayload("create bucket")
	payload.Credentials = nil
	wf, err := o.ProcessRequest(context.Background(), payload)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res := wf.ExecutionResult
	if !res.RequiresInput || len(res.Questions) != 1 {
		t.Fatalf("Expected credential questions, got %+v", res)
	}
	if len(backend.executeCalls) != 0 {
		t.Error("Expected no execution without credentials")
	}
	if got := phaseStatuses(res.Phases)[PhaseNetworkingSecurity]; got != PhaseFailed {
		t.Errorf("Expected networking_security failed, got %s", got)
	}
}

func TestProcessRequest_CredentialsFromInputVariables(t *testing.T) {
	backend := newFakeBackend("create:s3")
	backend.results = []*ExecutionResult{{Success: true}}
	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3", ResourceName: "b1"}},
		Backend: backend,
	})

	payload := testPayload("create bucket b1")
	payload.Credentials = nil
	payload.InputVariables = map[string]interface{}{
		"aws_access_key": "AKIAVAR",
		"aws_secret_key": "s3cr3t",
		"versioning":     "true",
	}
	wf, err := o.ProcessRequest(context.Background(), payload)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !wf.ExecutionResult.Success {
		t.Fatalf("Expected success, got %q", wf.ExecutionResult.Error)
	}
	params := backend.executeCalls[0].Parameters
	if _, ok := params["aws_access_key"]; ok {
		t.Error("Expected credential variables never to reach parameters")
	}
	if params["versioning"] != true {
		t.Errorf("Expected versioning answer to be sanitized into a bool, got %#v", params["versioning"])
	}
}

func TestProcessRequest_PendingValidationKeepsSuccess(t *testing.T) {
	backend := newFakeBackend("create:s3")
	backend.results = []*ExecutionResult{{Success: true, Payload: map[string]interface{}{
		"bucket_name":           "site",
		"website_configuration": map[string]interface{}{"index": "index.html"},
		"website_url":           "http://site.s3-website-us-east-1.amazonaws.com",
	}}}
	validator := &fakeValidator{validation: &OutcomeValidation{
		Performed: true,
		Checks: []ValidationCheck{
			{Name: "website_http_probe", Kind: "http", Status: CheckPending, Detail: "HTTP 503"},
		},
		Summary: ValidationSummary{Total: 1, Pending: 1},
	}}

	o := newTestOrchestrator(Options{
		Parser:    &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3", ResourceName: "site"}},
		Backend:   backend,
		Validator: validator,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create a static website"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res := wf.ExecutionResult
	if !res.Success {
		t.Fatal("Expected success to survive a pending probe")
	}
	got := phaseStatuses(res.Phases)
	if got[PhaseValidateHealth] != PhaseInProgress {
		t.Errorf("Expected validate_health in progress, got %s", got[PhaseValidateHealth])
	}
	if got[PhaseDeployApp] != PhaseCompleted {
		t.Errorf("Expected deploy_app completed for a website, got %s", got[PhaseDeployApp])
	}
	if wf.CurrentState != StateCompleted {
		t.Errorf("Expected completed state, got %s", wf.CurrentState)
	}
}

func TestProcessRequest_HardFailureMarksPhases(t *testing.T) {
	backend := newFakeBackend("create:sqs")
	backend.results = []*ExecutionResult{Failure("QueueDeletedRecently")}
	obs := &recordingObserver{}

	o := newTestOrchestrator(Options{
		Parser:   &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "sqs", ResourceName: "q1"}},
		Backend:  backend,
		Observer: obs,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create queue q1"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if wf.CurrentState != StateFailed {
		t.Errorf("Expected failed state, got %s", wf.CurrentState)
	}
	got := phaseStatuses(wf.ExecutionResult.Phases)
	if got[PhaseNetworkingSecurity] != PhaseFailed {
		t.Errorf("Expected networking_security failed, got %s", got[PhaseNetworkingSecurity])
	}
	for _, id := range []PhaseID{PhaseComputeData, PhaseDeployApp, PhaseValidateHealth} {
		if got[id] != PhaseSkipped {
			t.Errorf("Expected %s skipped, got %s", id, got[id])
		}
	}
	if len(obs.finished) != 1 || obs.finished[0] != string(StateFailed) {
		t.Errorf("Expected one failed RequestFinished, got %v", obs.finished)
	}
}

func TestProcessRequest_ParserErrorFailsDesignPhase(t *testing.T) {
	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{err: errors.New("nlu unavailable")},
		Backend: newFakeBackend(),
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create something"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if wf.CurrentState != StateFailed {
		t.Errorf("Expected failed state, got %s", wf.CurrentState)
	}
	got := phaseStatuses(wf.ExecutionResult.Phases)
	if got[PhaseDesignPlan] != PhaseFailed {
		t.Errorf("Expected design_plan failed, got %s", got[PhaseDesignPlan])
	}
}

func TestProcessRequest_BareEC2AsksForDeployment(t *testing.T) {
	backend := newFakeBackend("create:ec2")
	backend.results = []*ExecutionResult{{Success: true, Payload: map[string]interface{}{
		"instance_id": "i-0abc",
		"readiness":   "launch_submitted",
	}}}
	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "ec2"}},
		Backend: backend,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create an ec2 instance"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res := wf.ExecutionResult
	if !res.Success || !res.RequiresInput {
		t.Fatalf("Expected success with follow-up questions, got success=%v requires_input=%v", res.Success, res.RequiresInput)
	}
	if res.Continuation == nil || res.Continuation.Kind != ContinuationAutoDeploy || res.Continuation.InstanceID != "i-0abc" {
		t.Errorf("Unexpected continuation: %+v", res.Continuation)
	}
	if res.Continuation.RecommendedWaitSeconds != 300 {
		t.Errorf("Expected 300s wait for an instance still launching, got %d", res.Continuation.RecommendedWaitSeconds)
	}
	got := phaseStatuses(res.Phases)
	if got[PhaseDeployApp] != PhaseNeedsInput {
		t.Errorf("Expected deploy_app needs_input, got %s", got[PhaseDeployApp])
	}
	if got[PhaseValidateHealth] != PhaseInProgress {
		t.Errorf("Expected validate_health in progress, got %s", got[PhaseValidateHealth])
	}
}

func TestProcessRequest_StaticModeFromInputVariables(t *testing.T) {
	backend := newFakeBackend("create:s3")
	backend.results = []*ExecutionResult{{Success: true}}
	codegen := &fakeCodegen{code: "v1"}
	runner := &fakeRunner{outcomes: []*ScriptOutcome{{Result: map[string]interface{}{"success": true}}}}

	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3", ResourceName: "b1"}},
		Backend: backend,
		Codegen: codegen,
		Runner:  runner,
	})

	payload := testPayload("create bucket b1")
	payload.InputVariables = map[string]interface{}{"execution_mode": "static"}
	wf, err := o.ProcessRequest(context.Background(), payload)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if codegen.generates != 0 {
		t.Error("Expected static mode to skip code generation")
	}
	if wf.ExecutionResult.ExecutionPath != PathStaticFallback {
		t.Errorf("Expected static fallback, got %s", wf.ExecutionResult.ExecutionPath)
	}
}

func TestProcessRequest_HistoryFollowsStateMachine(t *testing.T) {
	backend := newFakeBackend("create:s3")
	backend.results = []*ExecutionResult{{Success: true}}
	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3", ResourceName: "b1"}},
		Backend: backend,
	})

	wf, err := o.ProcessRequest(context.Background(), testPayload("create bucket b1"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []WorkflowState{
		StateIntake, StateIntentResolution, StateContextBuild, StateReferenceRetrieval,
		StatePolicyCheck, StateExecution, StateCompleted,
	}
	if len(wf.History) != len(want) {
		t.Fatalf("Expected %d history entries, got %d", len(want), len(wf.History))
	}
	for i, state := range want {
		if wf.History[i].State != state {
			t.Errorf("History[%d]: expected %s, got %s", i, state, wf.History[i].State)
		}
	}
	if wf.RequiredTags["ManagedBy"] != "AI-Platform" || wf.RequiredTags["Name"] != "b1" {
		t.Errorf("Unexpected required tags: %v", wf.RequiredTags)
	}
}

func TestProcessRequest_RequestScopedObserver(t *testing.T) {
	backend := newFakeBackend("create:s3")
	backend.results = []*ExecutionResult{{Success: true}}
	o := newTestOrchestrator(Options{
		Parser:  &fakeParser{intent: &Intent{Action: ActionCreate, ResourceType: "s3", ResourceName: "b1"}},
		Backend: backend,
	})

	obs := &recordingObserver{}
	ctx := WithObserver(context.Background(), obs)
	if _, err := o.ProcessRequest(ctx, testPayload("create bucket b1")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(obs.phases) == 0 || len(obs.stages) == 0 {
		t.Errorf("Expected the request observer to see phases and stages, got %d/%d", len(obs.phases), len(obs.stages))
	}
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	if !strings.HasPrefix(id, "rem-") || len(id) != 16 {
		t.Errorf("Expected rem- + 12 hex, got %q", id)
	}
	if id == NewRunID() {
		t.Error("Expected unique run ids")
	}
}
