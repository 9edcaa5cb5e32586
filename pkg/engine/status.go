package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WorkflowState is the internal state of the workflow state machine.
type WorkflowState string

const (
	StateIntake             WorkflowState = "intake"
	StateIntentResolution   WorkflowState = "intent_resolution"
	StateContextBuild       WorkflowState = "context_build"
	StateReferenceRetrieval WorkflowState = "reference_retrieval"
	StatePolicyCheck        WorkflowState = "policy_check"
	StateExecution          WorkflowState = "execution"
	StateCompleted          WorkflowState = "completed"
	StateFailed             WorkflowState = "failed"
)

// IsTerminal returns true if the state is final.
func (s WorkflowState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// PhaseID identifies one of the five user-facing phases.
type PhaseID string

const (
	PhaseDesignPlan         PhaseID = "design_plan"
	PhaseNetworkingSecurity PhaseID = "networking_security"
	PhaseComputeData        PhaseID = "compute_data"
	PhaseDeployApp          PhaseID = "deploy_app"
	PhaseValidateHealth     PhaseID = "validate_health"
)

// PhaseOrder is the fixed order of the phase tracker.
var PhaseOrder = []PhaseID{
	PhaseDesignPlan,
	PhaseNetworkingSecurity,
	PhaseComputeData,
	PhaseDeployApp,
	PhaseValidateHealth,
}

var phaseTitles = map[PhaseID]string{
	PhaseDesignPlan:         "Design + plan",
	PhaseNetworkingSecurity: "Provision networking/security",
	PhaseComputeData:        "Provision compute/data",
	PhaseDeployApp:          "Deploy app",
	PhaseValidateHealth:     "Validate health checks",
}

// Title returns the display title of the phase.
func (p PhaseID) Title() string {
	return phaseTitles[p]
}

// Validate checks if the phase id is known.
func (p PhaseID) Validate() error {
	if _, ok := phaseTitles[p]; !ok {
		return fmt.Errorf("invalid phase id: %s", p)
	}
	return nil
}

// PhaseStatus is the status of a phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseNeedsInput PhaseStatus = "needs_input"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
)

// Validate checks if the phase status is valid.
func (s PhaseStatus) Validate() error {
	switch s {
	case PhasePending, PhaseInProgress, PhaseNeedsInput, PhaseCompleted, PhaseFailed, PhaseSkipped:
		return nil
	default:
		return fmt.Errorf("invalid phase status: %s", s)
	}
}

// IsStalled returns true if a resume may re-enter a phase in this status.
func (s PhaseStatus) IsStalled() bool {
	switch s {
	case PhaseFailed, PhaseSkipped, PhaseNeedsInput, PhasePending, PhaseInProgress:
		return true
	}
	return false
}

// IsNotStarted returns true for statuses that may still be skipped.
func (s PhaseStatus) IsNotStarted() bool {
	return s == PhasePending || s == PhaseInProgress
}

// UnmarshalJSON implements json.Unmarshaler with validation.
func (s *PhaseStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := PhaseStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// Action is the intent action.
type Action string

const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionList     Action = "list"
	ActionDescribe Action = "describe"

	// ActionDeploy addresses the deploy handler of a resource family. It is
	// never produced by intent parsing.
	ActionDeploy Action = "deploy"
)

// Validate checks if the action is one of the five known values.
func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionList, ActionDescribe:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// IsReadOnly returns true for list and describe.
func (a Action) IsReadOnly() bool {
	return a == ActionList || a == ActionDescribe
}

// IsMutating returns true for create, update and delete.
func (a Action) IsMutating() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// ParseAction normalizes free text into an Action. Unknown values are returned as-is.
func ParseAction(s string) Action {
	return Action(strings.ToLower(strings.TrimSpace(s)))
}

// ExecutionPath tags which pipeline stage produced a result.
type ExecutionPath string

const (
	PathDynamic          ExecutionPath = "dynamic"
	PathDynamicRepair    ExecutionPath = "dynamic_repair"
	PathModelDriven      ExecutionPath = "model_driven_fallback"
	PathStaticFallback   ExecutionPath = "static_fallback"
	PathReconciled       ExecutionPath = "reconciled_post_failure"
	PathStaticAutoHealed ExecutionPath = "static_auto_healed"
	PathDeployResume     ExecutionPath = "deploy_resume"
	PathValidationResume ExecutionPath = "validation_resume"
)

// RemediationStatus is the status of a persisted remediation run.
type RemediationStatus string

const (
	RemediationPendingApproval RemediationStatus = "pending_approval"
	RemediationInProgress      RemediationStatus = "in_progress"
	RemediationCompleted       RemediationStatus = "completed"
	RemediationFailed          RemediationStatus = "failed"
	RemediationDenied          RemediationStatus = "denied"
	RemediationExpired         RemediationStatus = "expired"
)

// IsTerminal returns true if the run can no longer be decided.
func (s RemediationStatus) IsTerminal() bool {
	return s == RemediationCompleted || s == RemediationFailed ||
		s == RemediationDenied || s == RemediationExpired
}

// Validate checks if the remediation status is valid.
func (s RemediationStatus) Validate() error {
	switch s {
	case RemediationPendingApproval, RemediationInProgress, RemediationCompleted,
		RemediationFailed, RemediationDenied, RemediationExpired:
		return nil
	default:
		return fmt.Errorf("invalid remediation status: %s", s)
	}
}

// LifecycleClass is the coarse classification of a remote resource status.
type LifecycleClass string

const (
	LifecycleReady   LifecycleClass = "ready"
	LifecyclePending LifecycleClass = "pending"
	LifecycleFailed  LifecycleClass = "failed"
)

var (
	lifecycleFailTokens = []string{
		"failed", "error", "deleted", "deleting", "terminate", "terminated",
		"incompatible", "rollback", "cancelled", "canceled",
	}
	lifecyclePendingTokens = []string{
		"creating", "pending", "initializing", "starting", "provisioning",
		"inprogress", "in_progress", "updating", "modifying", "configuring",
	}
)

// ClassifyLifecycle maps a free-form provider status onto ready, pending or failed.
// Empty and unrecognized values count as ready.
func ClassifyLifecycle(value interface{}) LifecycleClass {
	if value == nil {
		return LifecycleReady
	}
	status := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
	if status == "" {
		return LifecycleReady
	}
	for _, token := range lifecycleFailTokens {
		if strings.Contains(status, token) {
			return LifecycleFailed
		}
	}
	for _, token := range lifecyclePendingTokens {
		if strings.Contains(status, token) {
			return LifecyclePending
		}
	}
	return LifecycleReady
}
