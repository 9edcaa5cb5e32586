package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Test doubles shared by the engine tests.

type fakeParser struct {
	intent *Intent
	err    error
	calls  int
}

func (f *fakeParser) Parse(ctx context.Context, text, regionHint string) (*Intent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.intent.Clone(), nil
}

type fakeBackend struct {
	mu        sync.Mutex
	handlers  map[string]bool
	results   []*ExecutionResult
	described map[string]map[string]interface{}
	invoked   map[string]interface{}

	executeCalls []ExecuteRequest
	invokeCalls  []OperationCall
	steps        []RemediationStep
}

func newFakeBackend(handlers ...string) *fakeBackend {
	b := &fakeBackend{
		handlers:  make(map[string]bool),
		described: make(map[string]map[string]interface{}),
	}
	for _, h := range handlers {
		b.handlers[h] = true
	}
	return b
}

func (f *fakeBackend) Execute(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executeCalls = append(f.executeCalls, req)
	if len(f.results) == 0 {
		return nil, fmt.Errorf("no scripted result for %s %s", req.Action, req.ResourceType)
	}
	idx := len(f.executeCalls) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx].Clone(), nil
}

func (f *fakeBackend) HasHandler(action Action, resourceType string) bool {
	return f.handlers[string(action)+":"+resourceType]
}

func (f *fakeBackend) Describe(ctx context.Context, resourceType, identifier string) (map[string]interface{}, error) {
	if d, ok := f.described[resourceType+"/"+identifier]; ok {
		return CloneMap(d), nil
	}
	return nil, NewExecutionFailure("resource not found", nil).WithCode(ErrCodeNotFound)
}

func (f *fakeBackend) List(ctx context.Context, resourceType string, limit int) ([]map[string]interface{}, error) {
	return nil, nil
}

func (f *fakeBackend) ListChoices(ctx context.Context, resourceType string, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeBackend) DiscoverInventory(ctx context.Context, resourceTypes []string, perTypeLimit int) (map[string]InventorySummary, error) {
	return map[string]InventorySummary{}, nil
}

func (f *fakeBackend) Invoke(ctx context.Context, call OperationCall) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokeCalls = append(f.invokeCalls, call)
	if f.invoked == nil {
		return nil, fmt.Errorf("invoke not scripted")
	}
	return CloneMap(f.invoked), nil
}

func (f *fakeBackend) AutoFill(ctx context.Context, req AutoFillRequest) (map[string]interface{}, error) {
	return req.Parameters, nil
}

func (f *fakeBackend) RunRemediationStep(ctx context.Context, step RemediationStep) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, step)
	return map[string]interface{}{"applied": step.Type}, nil
}

type fakeCodegen struct {
	code      string
	repaired  string
	err       error
	generates int
	repairs   int
	lastError string
}

func (f *fakeCodegen) Generate(ctx context.Context, prompt string, cctx CodegenContext) (string, error) {
	f.generates++
	return f.code, f.err
}

func (f *fakeCodegen) Repair(ctx context.Context, prompt string, cctx CodegenContext, failedCode, errText, output string) (string, error) {
	f.repairs++
	f.lastError = errText
	return f.repaired, nil
}

type fakeRunner struct {
	outcomes []*ScriptOutcome
	calls    int
}

func (f *fakeRunner) Run(ctx context.Context, code string) *ScriptOutcome {
	idx := f.calls
	f.calls++
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	return f.outcomes[idx]
}

type fakeSchemas struct {
	operations map[string]*OperationSchema
	validate   error
}

func (f *fakeSchemas) ResolveOperation(service, resourceType string, action Action) string {
	key := string(action) + ":" + resourceType
	if s, ok := f.operations[key]; ok {
		return s.Operation
	}
	return ""
}

func (f *fakeSchemas) OperationSchema(service, operation string) (*OperationSchema, error) {
	for _, s := range f.operations {
		if s.Operation == operation {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown operation %s", operation)
}

func (f *fakeSchemas) ServiceFor(resourceType string) string {
	return resourceType
}

func (f *fakeSchemas) ValidatePayload(schema *OperationSchema, payload map[string]interface{}) error {
	return f.validate
}

type fakeRemediation struct {
	plan     *RemediationPlan
	outcome  *RemediationOutcome
	builds   int
	executes int
}

func (f *fakeRemediation) BuildPlan(ctx context.Context, intent *Intent, result *ExecutionResult, pctx PlanContext) (*RemediationPlan, error) {
	f.builds++
	if f.plan == nil {
		return nil, nil
	}
	p := *f.plan
	return &p, nil
}

func (f *fakeRemediation) ExecutePlan(ctx context.Context, plan *RemediationPlan, backend Backend, environment string) *RemediationOutcome {
	f.executes++
	for _, a := range plan.ExecutionActions {
		_, _ = backend.RunRemediationStep(ctx, RemediationStep{Type: a.Type, Params: a.Params, Environment: environment})
	}
	return f.outcome
}

type fakeValidator struct {
	validation *OutcomeValidation
}

func (f *fakeValidator) Validate(ctx context.Context, intent *Intent, result *ExecutionResult) *OutcomeValidation {
	if f.validation == nil {
		return nil
	}
	v := *f.validation
	return &v
}

type fakePolicy struct {
	result *PolicyResult
	err    error
	inputs []PolicyInput
}

func (f *fakePolicy) EvaluateRequest(ctx context.Context, input PolicyInput) (*PolicyResult, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeResolver struct {
	questions      []Question
	errorQuestions []Question
}

func (f *fakeResolver) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	return &Resolution{Intent: req.Intent, Questions: f.questions}, nil
}

func (f *fakeResolver) AutoFill(ctx context.Context, req ResolveRequest) *Intent {
	return req.Intent
}

func (f *fakeResolver) MissingFields(ctx context.Context, intent *Intent, text string) []Question {
	return nil
}

func (f *fakeResolver) QuestionsFromErrors(intent *Intent, text string, errs []string) []Question {
	if len(errs) == 0 {
		return nil
	}
	return f.errorQuestions
}

type fakeRuns struct {
	runs []*RemediationRun
}

func (f *fakeRuns) CreateRemediationRun(ctx context.Context, run *RemediationRun) error {
	f.runs = append(f.runs, run)
	return nil
}

type phaseEvent struct {
	phase  string
	status string
}

type recordingObserver struct {
	mu          sync.Mutex
	phases      []phaseEvent
	stages      []string
	remediation []string
	finished    []string
}

func (r *recordingObserver) PhaseChanged(requestID, phase, status, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phaseEvent{phase: phase, status: status})
}

func (r *recordingObserver) StageFinished(requestID, stage string, success bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingObserver) RequestFinished(requestID, state string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, state)
}

func (r *recordingObserver) RemediationEvent(requestID, runID, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remediation = append(r.remediation, outcome)
}

// regressions returns every phase that moved from completed back to pending or in_progress.
func (r *recordingObserver) regressions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := make(map[string]string)
	var out []string
	for _, e := range r.phases {
		if last[e.phase] == string(PhaseCompleted) &&
			(e.status == string(PhasePending) || e.status == string(PhaseInProgress)) {
			out = append(out, e.phase)
		}
		last[e.phase] = e.status
	}
	return out
}

func testCredentials() *Credentials {
	return &Credentials{AccessKey: "AKIATEST", SecretKey: "secret", Region: "us-east-1"}
}

func testSettings() Settings {
	s := DefaultSettings()
	return s
}

func testPayload(text string) *RequestPayload {
	return &RequestPayload{
		RequestID:     "req-test",
		RequesterID:   "alice",
		Environment:   "dev",
		CloudProvider: "aws",
		Text:          text,
		Credentials:   testCredentials(),
	}
}

func newTestOrchestrator(opts Options) *Orchestrator {
	if opts.Settings == (Settings{}) {
		opts.Settings = testSettings()
	}
	opts.Logger = zerolog.Nop()
	return New(opts)
}

func phaseStatuses(phases []Phase) map[PhaseID]PhaseStatus {
	out := make(map[PhaseID]PhaseStatus, len(phases))
	for _, p := range phases {
		out[p.ID] = p.Status
	}
	return out
}
