package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ExecutionResult is the tagged result of the execution pipeline.
type ExecutionResult struct {
	Success      bool                   `json:"success"`
	Action       Action                 `json:"action,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceName string                 `json:"resource_name,omitempty"`
	Region       string                 `json:"region,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Output       string                 `json:"output,omitempty"`
	Message      string                 `json:"message,omitempty"`

	// ExecutionPath is the marker of the stage that supplied the result.
	ExecutionPath ExecutionPath `json:"execution_path,omitempty"`

	// Pending is set when the remote resource is not ready yet.
	Pending           bool `json:"pending,omitempty"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`

	RequiresInput  bool          `json:"requires_input,omitempty"`
	QuestionPrompt string        `json:"question_prompt,omitempty"`
	Questions      []Question    `json:"questions,omitempty"`
	Continuation   *Continuation `json:"continuation,omitempty"`

	// Remediation is the plan offered for approval.
	Remediation *RemediationPlan `json:"remediation,omitempty"`

	OutcomeValidation *OutcomeValidation `json:"outcome_validation,omitempty"`
	FinalOutcome      string             `json:"final_outcome,omitempty"`

	// PreviousError is the generated-code error a repair recovered from.
	PreviousError string `json:"previous_error,omitempty"`

	RecoveredAfterFailure bool                `json:"recovered_after_failure,omitempty"`
	PreviousFailure       *ExecutionResult    `json:"previous_failure,omitempty"`
	AutoHealed            bool                `json:"auto_healed,omitempty"`
	AutoHealPlan          *AutoHealReference  `json:"auto_heal_plan,omitempty"`
	AutoHealResult        *RemediationOutcome `json:"auto_heal_result,omitempty"`

	// Attempts records the failed results of earlier stages, in order.
	Attempts []*ExecutionResult `json:"attempts,omitempty"`

	ResumeContext   *ResumeContext `json:"resume_context,omitempty"`
	ResumeAvailable bool           `json:"resume_available,omitempty"`
	ResumedFrom     PhaseID        `json:"resumed_from,omitempty"`

	Phases []Phase `json:"phases,omitempty"`
}

// AutoHealReference identifies the plan applied by an auto-heal.
type AutoHealReference struct {
	RuleID string `json:"rule_id"`
	RunID  string `json:"run_id"`
}

// ValidationStatus is the status of one outcome check.
type ValidationStatus string

const (
	CheckPass    ValidationStatus = "pass"
	CheckFail    ValidationStatus = "fail"
	CheckPending ValidationStatus = "pending"
	CheckSkipped ValidationStatus = "skipped"
)

// ValidationCheck is one independent post-hoc check.
type ValidationCheck struct {
	Name   string           `json:"name"`
	Kind   string           `json:"kind"`
	Status ValidationStatus `json:"status"`
	Detail string           `json:"detail,omitempty"`
	Target string           `json:"target,omitempty"`
}

// ValidationSummary counts checks by status.
type ValidationSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Skipped int `json:"skipped"`
}

// PhaseHints are resource-specific hints merged into the phase tracker.
type PhaseHints struct {
	// DeployCompleted overrides the deploy_app decision when non-nil.
	DeployCompleted *bool  `json:"deploy_completed,omitempty"`
	DeployDetail    string `json:"deploy_detail,omitempty"`
	HealthDetail    string `json:"health_detail,omitempty"`
}

// OutcomeValidation is the annotation emitted by the outcome validator.
type OutcomeValidation struct {
	Performed    bool              `json:"performed"`
	ResourceType string            `json:"resource_type,omitempty"`
	Identifier   string            `json:"identifier,omitempty"`
	Checks       []ValidationCheck `json:"checks"`
	Summary      ValidationSummary `json:"summary"`
	PhaseHints   PhaseHints        `json:"phase_hints"`
}

// AddCheck appends a check and updates the summary.
func (v *OutcomeValidation) AddCheck(check ValidationCheck) {
	v.Checks = append(v.Checks, check)
	v.Summary.Total++
	switch check.Status {
	case CheckPass:
		v.Summary.Passed++
	case CheckFail:
		v.Summary.Failed++
	case CheckPending:
		v.Summary.Pending++
	default:
		v.Summary.Skipped++
	}
}

// Failure builds a hard-failure result.
func Failure(message string) *ExecutionResult {
	return &ExecutionResult{Success: false, Error: message}
}

// RequiresInputResult builds a requires-input result.
func RequiresInputResult(prompt string, questions []Question) *ExecutionResult {
	return &ExecutionResult{
		Success:        false,
		RequiresInput:  true,
		QuestionPrompt: prompt,
		Questions:      questions,
	}
}

// IsHardFailure reports whether the result is neither success nor requires-input.
func (r *ExecutionResult) IsHardFailure() bool {
	return r != nil && !r.Success && !r.RequiresInput && !r.Pending
}

// Accepted reports whether the pipeline should stop at this result.
func (r *ExecutionResult) Accepted() bool {
	return r != nil && (r.Success || r.RequiresInput || r.Pending)
}

// HasQuestions returns true if there is at least one question.
func (r *ExecutionResult) HasQuestions() bool {
	return r != nil && len(r.Questions) > 0
}

// PayloadString returns a string field from the payload.
func (r *ExecutionResult) PayloadString(key string) string {
	if r == nil || r.Payload == nil {
		return ""
	}
	return StringValue(r.Payload[key])
}

// Clone returns a deep copy of the result through its JSON form.
func (r *ExecutionResult) Clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		cp := *r
		return &cp
	}
	var out ExecutionResult
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *r
		return &cp
	}
	return &out
}

// WithoutResume returns a copy with resume and phase keys removed.
func (r *ExecutionResult) WithoutResume() *ExecutionResult {
	out := r.Clone()
	if out == nil {
		return nil
	}
	out.ResumeContext = nil
	out.ResumeAvailable = false
	out.Phases = nil
	return out
}

// CollectErrors gathers every error message reachable from the result: the top-level error,
// nested "error" keys in the payload, earlier attempts and the previous failure.
func (r *ExecutionResult) CollectErrors() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		if _, ok := seen[msg]; ok {
			return
		}
		seen[msg] = struct{}{}
		out = append(out, msg)
	}
	var walk func(res *ExecutionResult, depth int)
	walk = func(res *ExecutionResult, depth int) {
		if res == nil || depth > 4 {
			return
		}
		add(res.Error)
		collectPayloadErrors(res.Payload, add, 0)
		for _, attempt := range res.Attempts {
			walk(attempt, depth+1)
		}
		walk(res.PreviousFailure, depth+1)
	}
	walk(r, 0)
	return out
}

// ErrorText joins every collected error into one lowercase-searchable block.
func (r *ExecutionResult) ErrorText() string {
	return strings.Join(r.CollectErrors(), "\n")
}

func collectPayloadErrors(value interface{}, add func(string), depth int) {
	if depth > 4 {
		return
	}
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			item := v[key]
			if key == "error" || key == "errors" {
				switch e := item.(type) {
				case string:
					add(e)
				case []interface{}:
					for _, x := range e {
						add(fmt.Sprint(x))
					}
				}
				continue
			}
			collectPayloadErrors(item, add, depth+1)
		}
	case []interface{}:
		for _, item := range v {
			collectPayloadErrors(item, add, depth+1)
		}
	}
}
