package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Intent is the normalized action, resource and parameters extracted from a request.
type Intent struct {
	// Action is one of create, update, delete, list, describe.
	Action Action `json:"action"`

	// ResourceType is the resource family key (e.g. "s3", "lambda", "rds").
	ResourceType string `json:"resource_type"`

	// ResourceName is the target name or identifier, if known.
	ResourceName string `json:"resource_name,omitempty"`

	// Region is the cloud region.
	Region string `json:"region,omitempty"`

	// Parameters holds mixed scalar, list and nested-map values.
	Parameters map[string]interface{} `json:"parameters"`

	// Confidence is the parser's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Source records which parser produced the intent.
	Source string `json:"source,omitempty"`
}

// Clone returns a deep copy of the intent.
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	out := *i
	out.Parameters = CloneMap(i.Parameters)
	return &out
}

// Param returns a parameter value, or nil.
func (i *Intent) Param(key string) interface{} {
	if i == nil || i.Parameters == nil {
		return nil
	}
	return i.Parameters[key]
}

// StringParam returns a trimmed string form of a parameter, or "".
func (i *Intent) StringParam(key string) string {
	return StringValue(i.Param(key))
}

// SetParam sets a parameter, allocating the map if needed.
func (i *Intent) SetParam(key string, value interface{}) {
	if i.Parameters == nil {
		i.Parameters = make(map[string]interface{})
	}
	i.Parameters[key] = value
}

// HasParam returns true if the parameter is present and not empty.
func (i *Intent) HasParam(key string) bool {
	return !IsEmptyValue(i.Param(key))
}

// Validate checks the intent shape.
func (i *Intent) Validate() error {
	if i == nil {
		return fmt.Errorf("intent is nil")
	}
	if err := i.Action.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(i.ResourceType) == "" {
		return fmt.Errorf("intent resource type is required")
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("intent confidence out of range: %v", i.Confidence)
	}
	return nil
}

// RequestPayload is the inbound request to ProcessRequest.
type RequestPayload struct {
	RequestID      string                 `json:"request_id"`
	RequesterID    string                 `json:"requester_id"`
	Environment    string                 `json:"environment"`
	CloudProvider  string                 `json:"cloud_provider"`
	Text           string                 `json:"natural_language_request"`
	RegionHint     string                 `json:"region,omitempty"`
	Credentials    *Credentials           `json:"credentials,omitempty"`
	InputVariables map[string]interface{} `json:"input_variables,omitempty"`
}

// ResumeRequested reports whether the payload asks to resume only the stalled phase.
func (p *RequestPayload) ResumeRequested() bool {
	return ToBool(p.InputVariables["resume_skipped_only"], false) && p.ResumeContext() != nil
}

// ResumeContext decodes the caller-supplied resume context, if any.
func (p *RequestPayload) ResumeContext() *ResumeContext {
	raw, ok := p.InputVariables["resume_context"]
	if !ok || raw == nil {
		return nil
	}
	if rc, ok := raw.(*ResumeContext); ok {
		return rc
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var rc ResumeContext
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil
	}
	return &rc
}

// Validate checks required payload fields.
func (p *RequestPayload) Validate() error {
	if p == nil {
		return NewValidationError("request payload is required", nil).WithCode(ErrCodeMalformedRequest)
	}
	if strings.TrimSpace(p.Environment) == "" {
		return NewValidationError("environment is required", nil).WithCode(ErrCodeMalformedRequest)
	}
	if strings.TrimSpace(p.Text) == "" && !p.ResumeRequested() {
		return NewValidationError("natural_language_request is required", nil).WithCode(ErrCodeMalformedRequest)
	}
	return nil
}

// HistoryEntry is one step in the ordered history log.
type HistoryEntry struct {
	Step      string        `json:"step"`
	State     WorkflowState `json:"state"`
	Detail    string        `json:"detail,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// WorkflowContext is created once per inbound request and returned to the caller.
type WorkflowContext struct {
	RequestID       string             `json:"request_id"`
	RequesterID     string             `json:"requester_id"`
	Environment     string             `json:"environment"`
	CloudProvider   string             `json:"cloud_provider"`
	Text            string             `json:"natural_language_request"`
	CurrentState    WorkflowState      `json:"current_state"`
	History         []HistoryEntry     `json:"history"`
	Phases          *PhaseTracker      `json:"phases"`
	Intent          *Intent            `json:"intent,omitempty"`
	ExecutionResult *ExecutionResult   `json:"execution_result,omitempty"`
	Error           string             `json:"error,omitempty"`
	RequiredTags    map[string]string  `json:"required_tags,omitempty"`
	References      []Reference        `json:"references,omitempty"`
	Policy          *PolicyResult      `json:"policy,omitempty"`
	GeneratedCode   string             `json:"generated_code,omitempty"`
	Snapshot        RequestSnapshot    `json:"-"`
	RemediationRun  *RemediationRun    `json:"remediation_run,omitempty"`
}

func (w *WorkflowContext) enter(state WorkflowState, step, detail string) {
	w.CurrentState = state
	w.History = append(w.History, HistoryEntry{
		Step:      step,
		State:     state,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// Phase is one user-facing progress bucket.
type Phase struct {
	ID        PhaseID     `json:"id"`
	Title     string      `json:"title"`
	Status    PhaseStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// QuestionType is the input type of a follow-up question.
type QuestionType string

const (
	QuestionString   QuestionType = "string"
	QuestionNumber   QuestionType = "number"
	QuestionBoolean  QuestionType = "boolean"
	QuestionPassword QuestionType = "password"
)

// Question is a typed follow-up question for the caller.
type Question struct {
	// Variable is the conversational key the answer is stored under.
	Variable string `json:"variable"`

	// Prompt is the question text.
	Prompt string `json:"question"`

	Type    QuestionType `json:"type"`
	Options []string     `json:"options,omitempty"`
	Hint    string       `json:"hint,omitempty"`

	// RequiredPermissions lists permissions the caller must grant, for permission questions.
	RequiredPermissions []string `json:"required_permissions,omitempty"`
}

// Continuation describes how a caller can resume after answering questions.
type Continuation struct {
	Kind                   string   `json:"kind"`
	RunID                  string   `json:"run_id,omitempty"`
	ApprovalScope          string   `json:"approval_scope,omitempty"`
	RequiredPermissions    []string `json:"required_permissions,omitempty"`
	Operation              string   `json:"operation,omitempty"`
	InstanceID             string   `json:"instance_id,omitempty"`
	Region                 string   `json:"region,omitempty"`
	RecommendedWaitSeconds int      `json:"recommended_wait_seconds,omitempty"`
}

// Continuation kinds.
const (
	ContinuationAutoRemediation = "auto_remediation"
	ContinuationAutoDeploy      = "auto_deploy"
	ContinuationMissingFields   = "model_driven_inputs"
)

// ResumeContext is captured at failure time so a later request can re-enter the stalled phase.
type ResumeContext struct {
	Intent             *Intent          `json:"intent,omitempty"`
	Phases             []Phase          `json:"phases,omitempty"`
	ExecutionResult    *ExecutionResult `json:"execution_result,omitempty"`
	NextPhase          PhaseID          `json:"next_phase,omitempty"`
	RemediationContext *RemediationPlan `json:"remediation_context,omitempty"`
}

// RequestSnapshot is the frozen request stored with a remediation run.
type RequestSnapshot struct {
	RequestID      string                 `json:"request_id"`
	RequesterID    string                 `json:"requester_id"`
	Environment    string                 `json:"environment"`
	CloudProvider  string                 `json:"cloud_provider"`
	Text           string                 `json:"natural_language_request"`
	RegionHint     string                 `json:"region,omitempty"`
	Credentials    *Credentials           `json:"credentials,omitempty"`
	InputVariables map[string]interface{} `json:"input_variables,omitempty"`
}

// Safety classifies a remediation plan.
type Safety struct {
	Destructive   bool `json:"destructive" yaml:"destructive"`
	RequiresAdmin bool `json:"requires_admin" yaml:"requires_admin"`
}

// IsSafe returns true if the plan may be auto-applied.
func (s Safety) IsSafe() bool {
	return !s.Destructive && !s.RequiresAdmin
}

// RetryStrategy describes how a remediated action is retried.
type RetryStrategy struct {
	Mode           string `json:"mode" yaml:"mode"`
	MaxAttempts    int    `json:"max_attempts" yaml:"max_attempts"`
	BackoffSeconds []int  `json:"backoff_seconds" yaml:"backoff_seconds"`
}

// PlanAction is one executable remediation step.
type PlanAction struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// RemediationPlan is a fix-it plan built by the remediation engine.
type RemediationPlan struct {
	RunID               string        `json:"run_id"`
	RuleID              string        `json:"rule_id"`
	ResourceType        string        `json:"resource_type"`
	Action              Action        `json:"action"`
	Reason              string        `json:"reason"`
	HumanActions        []string      `json:"actions,omitempty"`
	RequiredPermissions []string      `json:"required_permissions,omitempty"`
	ApprovalScope       string        `json:"approval_scope"`
	ExecutionActions    []PlanAction  `json:"execution_actions"`
	RetryStrategy       RetryStrategy `json:"retry_strategy"`
	Safety              Safety        `json:"safety"`
	ErrorExcerpt        string        `json:"error_excerpt,omitempty"`
}

// StepOutcome is the result of one remediation step.
type StepOutcome struct {
	Type    string                 `json:"type"`
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Result  map[string]interface{} `json:"result,omitempty"`
}

// RemediationOutcome is the result of executing a remediation plan.
type RemediationOutcome struct {
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	RequiresManual bool          `json:"requires_manual,omitempty"`
	PreviewOnly    bool          `json:"preview_only,omitempty"`
	Steps          []StepOutcome `json:"steps,omitempty"`
}

// RemediationRun is a persisted, approvable remediation plan tied to a failed request.
type RemediationRun struct {
	RunID               string            `json:"run_id"`
	RequestID           string            `json:"request_id"`
	OwnerID             string            `json:"owner_id"`
	Plan                *RemediationPlan  `json:"plan"`
	RequestSnapshot     RequestSnapshot   `json:"request_snapshot"`
	ResumeContext       *ResumeContext    `json:"resume_context,omitempty"`
	RequiredPermissions []string          `json:"required_permissions,omitempty"`
	Status              RemediationStatus `json:"status"`
	Attempts            int               `json:"attempts"`
	MaxAttempts         int               `json:"max_attempts"`
	ApprovalScope       string            `json:"approval_scope"`
	LastError           string            `json:"last_error,omitempty"`
	ExpiresAt           time.Time         `json:"expires_at"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// IsExpired reports whether the run's TTL has elapsed.
func (r *RemediationRun) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// RemediationResumeResult is returned by ExecuteRemediationWithResume.
type RemediationResumeResult struct {
	Success           bool                `json:"success"`
	Status            RemediationStatus   `json:"status"`
	Message           string              `json:"message,omitempty"`
	Error             string              `json:"error,omitempty"`
	WorkflowState     WorkflowState       `json:"workflow_state,omitempty"`
	Intent            *Intent             `json:"intent,omitempty"`
	ExecutionResult   *ExecutionResult    `json:"execution_result,omitempty"`
	RemediationResult *RemediationOutcome `json:"remediation_result,omitempty"`
}

// PromptImprovement is returned by ImprovePrompt.
type PromptImprovement struct {
	OriginalPrompt string  `json:"original_prompt"`
	ImprovedPrompt string  `json:"improved_prompt"`
	Summary        string  `json:"summary"`
	PhasePlan      []Phase `json:"phase_plan"`
	IntentPreview  *Intent `json:"intent_preview"`
	IsComplex      bool    `json:"is_complex"`
}

// FieldType is the shape of an operation input field.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldInteger   FieldType = "integer"
	FieldLong      FieldType = "long"
	FieldDouble    FieldType = "double"
	FieldFloat     FieldType = "float"
	FieldBoolean   FieldType = "boolean"
	FieldList      FieldType = "list"
	FieldStructure FieldType = "structure"
	FieldMap       FieldType = "map"
	FieldTimestamp FieldType = "timestamp"
)

// IsNumeric returns true for integer and floating point fields.
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldInteger, FieldLong, FieldDouble, FieldFloat:
		return true
	}
	return false
}

// FieldSpec describes one operation input field.
type FieldSpec struct {
	Name     string      `json:"name"`
	Type     FieldType   `json:"type"`
	Enum     []string    `json:"enum,omitempty"`
	Children []FieldSpec `json:"children,omitempty"`
	Doc      string      `json:"doc,omitempty"`
}

// OperationSchema describes an operation's input fields.
type OperationSchema struct {
	Service   string      `json:"service"`
	Operation string      `json:"operation"`
	Required  []FieldSpec `json:"required"`
	Optional  []FieldSpec `json:"optional,omitempty"`
}

// OperationCall is a raw operation invocation against the backend.
type OperationCall struct {
	Service   string                 `json:"service"`
	Operation string                 `json:"operation"`
	Payload   map[string]interface{} `json:"payload"`
}

// ExecuteRequest is a fixed-handler execution request.
type ExecuteRequest struct {
	Action       Action                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceName string                 `json:"resource_name,omitempty"`
	Region       string                 `json:"region,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Tags         map[string]string      `json:"tags,omitempty"`
}

// AutoFillRequest asks the backend to infer safe parameter defaults.
type AutoFillRequest struct {
	Action       Action                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceName string                 `json:"resource_name,omitempty"`
	Parameters   map[string]interface{} `json:"parameters"`
	Tags         map[string]string      `json:"tags,omitempty"`
	Environment  string                 `json:"environment"`
}

// InventorySummary is the per-type inventory returned by discovery.
type InventorySummary struct {
	Count     int      `json:"count"`
	SampleIDs []string `json:"sample_ids"`
}

// RemediationStep is one step dispatched to the backend by the remediation engine.
type RemediationStep struct {
	Type        string                 `json:"type"`
	Params      map[string]interface{} `json:"params"`
	Environment string                 `json:"environment"`
}

// PolicyInput is the input to the policy gate.
type PolicyInput struct {
	Environment  string                 `json:"environment"`
	Requester    string                 `json:"requester"`
	Action       Action                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceName string                 `json:"resource_name,omitempty"`
	Region       string                 `json:"region,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Tags         map[string]string      `json:"tags,omitempty"`
}

// PolicyViolation is one violation reported by the policy gate.
type PolicyViolation struct {
	Policy   string `json:"policy"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Resource string `json:"resource,omitempty"`
}

// PolicyResult is the result of policy evaluation.
type PolicyResult struct {
	Allowed           bool              `json:"allowed"`
	Violations        []PolicyViolation `json:"violations,omitempty"`
	Warnings          []PolicyViolation `json:"warnings,omitempty"`
	EvaluatedPolicies []string          `json:"evaluated_policies,omitempty"`
	EvaluatedAt       time.Time         `json:"evaluated_at"`
}

// Messages returns the blocking violation messages.
func (r *PolicyResult) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}

// Reference is a retrieved reference snippet.
type Reference struct {
	Title   string  `json:"title"`
	Source  string  `json:"source,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// CodegenContext is the context handed to the codegen service.
type CodegenContext struct {
	Intent      *Intent           `json:"intent"`
	Environment string            `json:"environment"`
	Tags        map[string]string `json:"tags,omitempty"`
	References  []Reference       `json:"retrieved_docs,omitempty"`
}
