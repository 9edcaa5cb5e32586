package engine

import (
	"context"
	"time"
)

// IntentParser extracts a normalized Intent from natural-language text.
type IntentParser interface {
	// Parse returns the intent for the text. regionHint may be empty.
	Parse(ctx context.Context, text, regionHint string) (*Intent, error)
}

// Backend is the resource provisioning backend.
// Credentials are read from the context with CredentialsFromContext.
type Backend interface {
	// Execute runs the fixed handler registered for (action, resourceType).
	Execute(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error)

	// HasHandler reports whether a fixed handler exists for the pair.
	HasHandler(action Action, resourceType string) bool

	// Describe returns the live description of a resource by identifier.
	Describe(ctx context.Context, resourceType, identifier string) (map[string]interface{}, error)

	// List returns live descriptions of resources of a type.
	List(ctx context.Context, resourceType string, limit int) ([]map[string]interface{}, error)

	// ListChoices returns selectable identifiers, optionally annotated as "id | label".
	ListChoices(ctx context.Context, resourceType string, limit int) ([]string, error)

	// DiscoverInventory returns per-type counts and sample identifiers.
	DiscoverInventory(ctx context.Context, resourceTypes []string, perTypeLimit int) (map[string]InventorySummary, error)

	// Invoke calls a raw operation with a fully-built payload.
	Invoke(ctx context.Context, call OperationCall) (map[string]interface{}, error)

	// AutoFill infers safe parameter values (default network, service-linked role, recent image).
	AutoFill(ctx context.Context, req AutoFillRequest) (map[string]interface{}, error)

	// RunRemediationStep executes one remediation step.
	RunRemediationStep(ctx context.Context, step RemediationStep) (map[string]interface{}, error)
}

// SchemaIntrospector reports operation input requirements from provider metadata.
type SchemaIntrospector interface {
	// ResolveOperation returns the operation name for the triple, or "" when none is known.
	ResolveOperation(service, resourceType string, action Action) string

	// OperationSchema returns the schema of a resolved operation.
	OperationSchema(service, operation string) (*OperationSchema, error)

	// ServiceFor maps a resource type onto its service name.
	ServiceFor(resourceType string) string

	// ValidatePayload checks a built payload against the operation schema.
	ValidatePayload(schema *OperationSchema, payload map[string]interface{}) error
}

// Codegen generates and repairs imperative procedures.
// Both methods return "" when the service has nothing to offer.
type Codegen interface {
	Generate(ctx context.Context, prompt string, cctx CodegenContext) (string, error)
	Repair(ctx context.Context, prompt string, cctx CodegenContext, failedCode, errText, output string) (string, error)
}

// ScriptOutcome is the outcome of running a generated procedure.
type ScriptOutcome struct {
	// Result is the last structured object the procedure emitted, or nil.
	Result map[string]interface{}
	Output string
	Err    error
}

// ScriptRunner runs a generated procedure inside a restricted execution boundary.
type ScriptRunner interface {
	Run(ctx context.Context, code string) *ScriptOutcome
}

// PlanContext is the context handed to the remediation engine.
type PlanContext struct {
	Environment string
	RequestID   string
	Text        string
}

// RemediationEngine builds and executes fix-it plans.
type RemediationEngine interface {
	// BuildPlan returns nil when no rule matches the failure.
	BuildPlan(ctx context.Context, intent *Intent, result *ExecutionResult, pctx PlanContext) (*RemediationPlan, error)

	// ExecutePlan runs every step of the plan against the backend.
	ExecutePlan(ctx context.Context, plan *RemediationPlan, backend Backend, environment string) *RemediationOutcome
}

// OutcomeValidator independently re-checks a reported success.
type OutcomeValidator interface {
	Validate(ctx context.Context, intent *Intent, result *ExecutionResult) *OutcomeValidation
}

// ResolveRequest is the input to the prerequisite resolver.
type ResolveRequest struct {
	Intent      *Intent
	Text        string
	Environment string
	Tags        map[string]string
	Answers     map[string]interface{}
	Credentials *Credentials
}

// Resolution is the output of the prerequisite resolver.
type Resolution struct {
	// Intent is the intent with auto-filled and answered parameters applied.
	Intent *Intent

	// Questions is empty when execution may proceed.
	Questions []Question
	Prompt    string

	Continuation *Continuation
}

// PrerequisiteResolver auto-fills safe defaults and asks for anything still missing.
type PrerequisiteResolver interface {
	// Resolve runs existing-resource selection, alignment and legacy checks and returns questions if any.
	Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error)

	// AutoFill applies backend-inferred defaults to the intent parameters.
	AutoFill(ctx context.Context, req ResolveRequest) *Intent

	// MissingFields returns questions for required operation fields that are still absent.
	MissingFields(ctx context.Context, intent *Intent, text string) []Question

	// QuestionsFromErrors derives clarification questions from failure text.
	QuestionsFromErrors(intent *Intent, text string, errs []string) []Question
}

// PolicyEngine evaluates environment rules before execution.
type PolicyEngine interface {
	EvaluateRequest(ctx context.Context, input PolicyInput) (*PolicyResult, error)
}

// ReferenceRetriever returns reference snippets for a query.
type ReferenceRetriever interface {
	Retrieve(ctx context.Context, query string, n int) ([]Reference, error)
}

// RunRecorder persists remediation runs offered for approval.
type RunRecorder interface {
	CreateRemediationRun(ctx context.Context, run *RemediationRun) error
}

// Observer receives workflow progress notifications.
// Implementations must not block.
type Observer interface {
	PhaseChanged(requestID, phase, status, detail string)
	StageFinished(requestID, stage string, success bool, duration time.Duration)
	RequestFinished(requestID, state string, duration time.Duration)
	RemediationEvent(requestID, runID, outcome string)
}

type nopObserver struct{}

func (nopObserver) PhaseChanged(string, string, string, string)       {}
func (nopObserver) StageFinished(string, string, bool, time.Duration) {}
func (nopObserver) RequestFinished(string, string, time.Duration)     {}
func (nopObserver) RemediationEvent(string, string, string)           {}

type observersKey struct{}

// WithObserver attaches an extra request-scoped observer to the context.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	existing, _ := ctx.Value(observersKey{}).([]Observer)
	list := append(append([]Observer(nil), existing...), obs)
	return context.WithValue(ctx, observersKey{}, list)
}

func observersFromContext(ctx context.Context) []Observer {
	list, _ := ctx.Value(observersKey{}).([]Observer)
	return list
}

type multiObserver []Observer

func (m multiObserver) PhaseChanged(requestID, phase, status, detail string) {
	for _, o := range m {
		o.PhaseChanged(requestID, phase, status, detail)
	}
}

func (m multiObserver) StageFinished(requestID, stage string, success bool, d time.Duration) {
	for _, o := range m {
		o.StageFinished(requestID, stage, success, d)
	}
}

func (m multiObserver) RequestFinished(requestID, state string, d time.Duration) {
	for _, o := range m {
		o.RequestFinished(requestID, state, d)
	}
}

func (m multiObserver) RemediationEvent(requestID, runID, outcome string) {
	for _, o := range m {
		o.RemediationEvent(requestID, runID, outcome)
	}
}
