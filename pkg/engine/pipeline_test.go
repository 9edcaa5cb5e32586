package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestPipeline(opts Options) *pipeline {
	return newPipeline(opts, nopObserver{}, zerolog.Nop())
}

func newTestRun(intent *Intent) *pipelineRun {
	if intent.Parameters == nil {
		intent.Parameters = make(map[string]interface{})
	}
	return &pipelineRun{
		requestID:   "req-test",
		text:        "create something",
		environment: "dev",
		intent:      intent,
		tags:        map[string]string{"Environment": "dev"},
		observer:    nopObserver{},
	}
}

func TestPipeline_GeneratedSuccess(t *testing.T) {
	backend := newFakeBackend("create:s3")
	backend.results = []*ExecutionResult{{Success: true}}
	codegen := &fakeCodegen{code: "emit({'success': True})"}
	runner := &fakeRunner{outcomes: []*ScriptOutcome{{Result: map[string]interface{}{"success": true, "bucket_name": "b1"}}}}

	p := newTestPipeline(Options{Backend: backend, Codegen: codegen, Runner: runner})
	res := p.execute(context.Background(), newTestRun(&Intent{Action: ActionCreate, ResourceType: "s3", ResourceName: "b1"}))

	if !res.Success {
		t.Fatalf("Expected success, got error %q", res.Error)
	}
	if res.ExecutionPath != PathDynamic {
		t.Errorf("Expected path %s, got %s", PathDynamic, res.ExecutionPath)
	}
	if len(backend.executeCalls) != 0 {
		t.Errorf("Expected fixed handler not to run, got %d calls", len(backend.executeCalls))
	}
	if res.ResourceType != "s3" || res.Action != ActionCreate {
		t.Errorf("Expected result to be stamped with intent, got %s %s", res.Action, res.ResourceType)
	}
}

func TestPipeline_RepairRecoversGeneratedFailure(t *testing.T) {
	codegen := &fakeCodegen{code: "v1", repaired: "v2"}
	runner := &fakeRunner{outcomes: []*ScriptOutcome{
		{Err: errors.New("NameError: bucket undefined"), Output: "trace"},
		{Result: map[string]interface{}{"success": true}},
	}}

	p := newTestPipeline(Options{Codegen: codegen, Runner: runner})
	res := p.execute(context.Background(), newTestRun(&Intent{Action: ActionCreate, ResourceType: "s3"}))

	if !res.Success {
		t.Fatalf("Expected success after repair, got %q", res.Error)
	}
	if res.ExecutionPath != PathDynamicRepair {
		t.Errorf("Expected path %s, got %s", PathDynamicRepair, res.ExecutionPath)
	}
	if res.PreviousError != "NameError: bucket undefined" {
		t.Errorf("Expected previous error to be recorded, got %q", res.PreviousError)
	}
	if codegen.lastError != "NameError: bucket undefined" {
		t.Errorf("Expected repair to receive the failure text, got %q", codegen.lastError)
	}
	if len(res.Attempts) != 1 {
		t.Errorf("Expected 1 failed attempt recorded, got %d", len(res.Attempts))
	}
}

func TestPipeline_FallsThroughToFixedHandler(t *testing.T) {
	backend := newFakeBackend("create:s3")
	backend.results = []*ExecutionResult{{Success: true, Payload: map[string]interface{}{"bucket_name": "b1"}}}
	codegen := &fakeCodegen{code: "v1", repaired: "v2"}
	runner := &fakeRunner{outcomes: []*ScriptOutcome{{Err: errors.New("boom")}}}

	p := newTestPipeline(Options{Backend: backend, Codegen: codegen, Runner: runner})
	res := p.execute(context.Background(), newTestRun(&Intent{Action: ActionCreate, ResourceType: "s3"}))

	if !res.Success {
		t.Fatalf("Expected success, got %q", res.Error)
	}
	if res.ExecutionPath != PathStaticFallback {
		t.Errorf("Expected path %s, got %s", PathStaticFallback, res.ExecutionPath)
	}
	if len(res.Attempts) != 2 {
		t.Errorf("Expected generated and repair attempts, got %d", len(res.Attempts))
	}
}

func TestPipeline_StaticModeSkipsDynamicStages(t *testing.T) {
	backend := newFakeBackend("create:ec2")
	backend.results = []*ExecutionResult{{Success: true, Payload: map[string]interface{}{"instance_id": "i-1"}}}
	codegen := &fakeCodegen{code: "v1"}
	runner := &fakeRunner{outcomes: []*ScriptOutcome{{Result: map[string]interface{}{"success": true}}}}

	p := newTestPipeline(Options{Backend: backend, Codegen: codegen, Runner: runner})
	run := newTestRun(&Intent{Action: ActionCreate, ResourceType: "ec2"})
	run.static = true
	res := p.execute(context.Background(), run)

	if codegen.generates != 0 {
		t.Errorf("Expected codegen not to be called in static mode, got %d calls", codegen.generates)
	}
	if !res.Success || res.ExecutionPath != PathStaticFallback {
		t.Fatalf("Expected static fallback success, got success=%v path=%s", res.Success, res.ExecutionPath)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Error != "Dynamic execution skipped by requested static mode." {
		t.Errorf("Expected static-mode attempt marker, got %+v", res.Attempts)
	}
}

func TestPipeline_ModelDrivenAsksForMissingFields(t *testing.T) {
	schemas := &fakeSchemas{operations: map[string]*OperationSchema{
		"create:ec2": {
			Service:   "ec2",
			Operation: "RunInstances",
			Required: []FieldSpec{
				{Name: "MinCount", Type: FieldInteger},
				{Name: "KeyName", Type: FieldString},
				{Name: "SubnetId", Type: FieldString},
			},
		},
	}}
	backend := newFakeBackend()

	p := newTestPipeline(Options{Backend: backend, Schemas: schemas})
	res := p.execute(context.Background(), newTestRun(&Intent{Action: ActionCreate, ResourceType: "ec2"}))

	if !res.RequiresInput {
		t.Fatalf("Expected requires-input, got success=%v error=%q", res.Success, res.Error)
	}
	if len(res.Questions) != 1 || res.Questions[0].Variable != "key_name" {
		t.Errorf("Expected a single key_name question, got %+v", res.Questions)
	}
	if res.Continuation == nil || res.Continuation.Operation != "RunInstances" {
		t.Errorf("Expected continuation for RunInstances, got %+v", res.Continuation)
	}
	if len(backend.invokeCalls) != 0 {
		t.Errorf("Expected no invocation while fields are missing")
	}
}

func TestPipeline_ModelDrivenInvokesCoercedPayload(t *testing.T) {
	schemas := &fakeSchemas{operations: map[string]*OperationSchema{
		"create:s3": {
			Service:   "s3",
			Operation: "CreateBucket",
			Required:  []FieldSpec{{Name: "Bucket", Type: FieldString}},
			Optional:  []FieldSpec{{Name: "ObjectLockEnabledForBucket", Type: FieldBoolean}},
		},
	}}
	backend := newFakeBackend()
	backend.invoked = map[string]interface{}{"Location": "/b1"}

	p := newTestPipeline(Options{Backend: backend, Schemas: schemas})
	intent := &Intent{
		Action:       ActionCreate,
		ResourceType: "s3",
		ResourceName: "b1",
		Parameters:   map[string]interface{}{"object_lock_enabled_for_bucket": "yes"},
	}
	res := p.execute(context.Background(), newTestRun(intent))

	if !res.Success || res.ExecutionPath != PathModelDriven {
		t.Fatalf("Expected model-driven success, got success=%v path=%s error=%q", res.Success, res.ExecutionPath, res.Error)
	}
	if len(backend.invokeCalls) != 1 {
		t.Fatalf("Expected 1 invocation, got %d", len(backend.invokeCalls))
	}
	payload := backend.invokeCalls[0].Payload
	if payload["Bucket"] != "b1" {
		t.Errorf("Expected Bucket from resource name, got %v", payload["Bucket"])
	}
	if payload["ObjectLockEnabledForBucket"] != true {
		t.Errorf("Expected coerced boolean, got %#v", payload["ObjectLockEnabledForBucket"])
	}
	if res.PayloadString("operation") != "CreateBucket" {
		t.Errorf("Expected operation in payload, got %q", res.PayloadString("operation"))
	}
}

func TestPipeline_ReconcilesIdempotentCreate(t *testing.T) {
	backend := newFakeBackend("create:lambda")
	backend.results = []*ExecutionResult{Failure("ResourceConflictException: Function already exist: fn-a")}
	backend.described["lambda/fn-a"] = map[string]interface{}{"function_name": "fn-a", "state": "Active"}

	p := newTestPipeline(Options{Backend: backend})
	res := p.execute(context.Background(), newTestRun(&Intent{Action: ActionCreate, ResourceType: "lambda", ResourceName: "fn-a"}))

	if !res.Success {
		t.Fatalf("Expected reconciled success, got %q", res.Error)
	}
	if res.ExecutionPath != PathReconciled || !res.RecoveredAfterFailure {
		t.Errorf("Expected reconciled marker, got path=%s recovered=%v", res.ExecutionPath, res.RecoveredAfterFailure)
	}
	if res.PreviousFailure == nil || res.PreviousFailure.Error == "" {
		t.Error("Expected previous failure to be kept")
	}
	if res.ResourceName != "fn-a" {
		t.Errorf("Expected resource name fn-a, got %q", res.ResourceName)
	}
}

func TestPipeline_ReconcileSkipsNonCreate(t *testing.T) {
	backend := newFakeBackend("delete:lambda")
	backend.results = []*ExecutionResult{Failure("AccessDenied")}
	backend.described["lambda/fn-a"] = map[string]interface{}{"function_name": "fn-a"}

	p := newTestPipeline(Options{Backend: backend})
	res := p.execute(context.Background(), newTestRun(&Intent{Action: ActionDelete, ResourceType: "lambda", ResourceName: "fn-a"}))

	if res.Success {
		t.Fatal("Expected delete failure not to be reconciled")
	}
	if res.Error != "AccessDenied" {
		t.Errorf("Expected last error to win, got %q", res.Error)
	}
}

func TestPipeline_NoStrategyAvailable(t *testing.T) {
	p := newTestPipeline(Options{Backend: newFakeBackend()})
	res := p.execute(context.Background(), newTestRun(&Intent{Action: ActionCreate, ResourceType: "sns"}))

	if res.Success || res.RequiresInput {
		t.Fatal("Expected hard failure")
	}
	if res.Error != "No execution strategy is available for create sns." {
		t.Errorf("Unexpected error: %q", res.Error)
	}
}

func TestPipeline_ValidationAnnotatesSuccess(t *testing.T) {
	tests := []struct {
		name    string
		summary ValidationSummary
		want    string
	}{
		{"all passed", ValidationSummary{Total: 2, Passed: 2}, "Outcome validation passed."},
		{"pending", ValidationSummary{Total: 2, Passed: 1, Pending: 1}, "Provisioning completed. Validation is still in progress (1 pending checks)."},
		{"failed", ValidationSummary{Total: 2, Passed: 1, Failed: 1}, "Provisioning completed with 1 validation check(s) failing."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend("create:s3")
			backend.results = []*ExecutionResult{{Success: true}}
			validator := &fakeValidator{validation: &OutcomeValidation{Performed: true, Summary: tt.summary}}

			p := newTestPipeline(Options{Backend: backend, Validator: validator})
			res := p.execute(context.Background(), newTestRun(&Intent{Action: ActionCreate, ResourceType: "s3"}))

			if !res.Success {
				t.Fatal("Expected validation never to flip success")
			}
			if res.FinalOutcome != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, res.FinalOutcome)
			}
		})
	}
}

func TestPipelineRun_CodegenContextHidesUserData(t *testing.T) {
	run := newTestRun(&Intent{
		Action:       ActionCreate,
		ResourceType: "ec2",
		Parameters:   map[string]interface{}{"user_data": "#!/bin/bash\necho hi"},
	})

	cctx := run.codegenContext()
	if _, ok := cctx.Intent.Parameters["user_data"]; ok {
		t.Error("Expected user_data to be removed from the codegen context")
	}
	if cctx.Intent.Parameters["user_data_present"] != true {
		t.Error("Expected user_data_present flag")
	}
	if _, ok := run.intent.Parameters["user_data"]; !ok {
		t.Error("Expected the run's own intent to keep user_data")
	}
}
