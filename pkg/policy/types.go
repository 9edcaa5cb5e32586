package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but never blocks a request.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the request.
	SeverityError Severity = "error"

	// SeverityCritical blocks the request.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity blocks the request.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
//
// A policy package may define a "deny" set and a "warn" set. Each element is
// either a message string or an object with "message" and optionally
// "severity" and "resource".
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for deny results.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is the file the policy was loaded from, or "builtin".
	Source string `json:"source,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// RequestInput is the Rego input document. The request fields mirror
// engine.PolicyInput.
type RequestInput struct {
	Request RequestDocument `json:"request"`
	Context *PolicyContext  `json:"context"`
}

// RequestDocument describes the request being evaluated.
type RequestDocument struct {
	Environment  string                 `json:"environment"`
	Requester    string                 `json:"requester"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceName string                 `json:"resource_name"`
	Region       string                 `json:"region"`
	Parameters   map[string]interface{} `json:"parameters"`
	Tags         map[string]string      `json:"tags"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// ProtectedEnvironments are the environments with production restrictions.
	ProtectedEnvironments []string `json:"protected_environments"`

	// ReviewResourceTypes may not be created in a protected environment
	// without review.
	ReviewResourceTypes []string `json:"review_resource_types"`

	// RequiredTags must be present on requests in protected environments.
	RequiredTags []string `json:"required_tags"`
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name" yaml:"name"`

	// Version is the bundle version.
	Version string `json:"version" yaml:"version"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies" yaml:"policies"`
}
