package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error by how the workflow is allowed to react to it.
type ErrorKind string

const (
	// ErrorKindValidation marks a malformed request. It is returned immediately and never retried.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindPolicyViolation marks an action blocked by an environment rule. Terminal, no auto-retry.
	ErrorKindPolicyViolation ErrorKind = "policy_violation"

	// ErrorKindPrerequisiteMissing marks missing caller input. It is modeled as requires-input,
	// resolved by new input rather than by a retry loop.
	ErrorKindPrerequisiteMissing ErrorKind = "prerequisite_missing"

	// ErrorKindExecutionFailure marks a hard failure of the execution pipeline.
	// It is the only kind eligible for the remediation loop.
	ErrorKindExecutionFailure ErrorKind = "execution_failure"

	// ErrorKindRemediationUnsafe marks a fix that exists but is destructive or needs elevated approval.
	ErrorKindRemediationUnsafe ErrorKind = "remediation_unsafe"

	// ErrorKindPending marks a remote resource that is not ready yet.
	ErrorKindPending ErrorKind = "pending"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource type or name involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newError(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return newError(ErrorKindValidation, message, err)
}

// NewPolicyViolationError creates a new policy violation error.
func NewPolicyViolationError(message string, err error) *EngineError {
	return newError(ErrorKindPolicyViolation, message, err)
}

// NewPrerequisiteMissingError creates a new prerequisite-missing error.
func NewPrerequisiteMissingError(message string, err error) *EngineError {
	return newError(ErrorKindPrerequisiteMissing, message, err)
}

// NewExecutionFailure creates a new execution failure.
func NewExecutionFailure(message string, err error) *EngineError {
	return newError(ErrorKindExecutionFailure, message, err)
}

// NewRemediationUnsafeError creates a new remediation-unsafe error.
func NewRemediationUnsafeError(message string, err error) *EngineError {
	return newError(ErrorKindRemediationUnsafe, message, err)
}

// NewPendingError creates a new pending error.
func NewPendingError(message string, err error) *EngineError {
	return newError(ErrorKindPending, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func kindOf(err error) ErrorKind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool { return kindOf(err) == ErrorKindValidation }

// IsPolicyViolation returns true if the error is a policy violation.
func IsPolicyViolation(err error) bool { return kindOf(err) == ErrorKindPolicyViolation }

// IsPrerequisiteMissing returns true if the error is a prerequisite-missing error.
func IsPrerequisiteMissing(err error) bool { return kindOf(err) == ErrorKindPrerequisiteMissing }

// IsExecutionFailure returns true if the error is an execution failure.
func IsExecutionFailure(err error) bool { return kindOf(err) == ErrorKindExecutionFailure }

// IsRemediationUnsafe returns true if the error is a remediation-unsafe error.
func IsRemediationUnsafe(err error) bool { return kindOf(err) == ErrorKindRemediationUnsafe }

// IsPending returns true if the error is a pending error.
func IsPending(err error) bool { return kindOf(err) == ErrorKindPending }

// IsRemediable returns true if the error may enter the remediation loop.
// Only execution failures qualify, and an exhausted or expired remediation run is terminal.
func IsRemediable(err error) bool {
	if !IsExecutionFailure(err) {
		return false
	}
	var e *EngineError
	if errors.As(err, &e) && (e.Code == ErrCodeAttemptsExhausted || e.Code == ErrCodeRunExpired || e.Code == ErrCodeRunConsumed) {
		return false
	}
	return true
}

// Common error codes.
const (
	ErrCodeMalformedRequest   = "MALFORMED_REQUEST"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeMissingCredentials = "MISSING_CREDENTIALS"
	ErrCodeAttemptsExhausted  = "ATTEMPTS_EXHAUSTED"
	ErrCodeRunExpired         = "RUN_EXPIRED"
	ErrCodeRunConsumed        = "RUN_CONSUMED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeSandboxRejected    = "SANDBOX_REJECTED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrUnsupported is returned by a Backend that has no handler or probe for a resource type.
var ErrUnsupported = errors.New("not supported by backend")

// IsNotFound returns true if the error carries the not-found code.
func IsNotFound(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == ErrCodeNotFound
}
