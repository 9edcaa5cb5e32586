// Package engine provides the core types and the orchestrator of the cloudpilot
// provisioning workflow.
//
// # Overview
//
// cloudpilot turns a natural-language infrastructure request into provisioning
// actions against a cloud backend. A request moves through an internal state
// machine:
//
//  1. Intake - accept and validate the RequestPayload
//  2. Intent resolution - parse text into an Intent (IntentParser)
//  3. Context build - required tags, answered variables, existing-resource selection
//  4. Reference retrieval - best-practice snippets (ReferenceRetriever)
//  5. Policy check - environment rules (PolicyEngine)
//  6. Execution - the strategy pipeline and the remediation loop
//
// and ends in completed or failed. Progress is reported to the caller through
// five user-facing phases (design_plan, networking_security, compute_data,
// deploy_app, validate_health) held by a PhaseTracker.
//
// # Execution Pipeline
//
// Execution tries strategies in a fixed order and stops at the first accepted
// result (success, requires-input or pending):
//
//   - generated: run a generated procedure in the restricted runner (Codegen, ScriptRunner)
//   - repair: regenerate once with the failure text
//   - model_driven: build the payload from the operation schema (SchemaIntrospector)
//   - fixed_handler: the backend's hand-written handler for (action, resource type)
//   - reconcile: a create that reported failure but whose resource now exists
//
// Every accepted success is re-checked by the OutcomeValidator. Setting
// parameters.execution_mode to "static" skips the first three strategies.
//
// # Remediation
//
// A hard failure is offered to the RemediationEngine. Safe plans are applied
// automatically within a per-request budget and the failed stage is retried
// once. Other plans become a RemediationRun awaiting approval, later executed
// with ExecuteRemediationWithResume.
//
// # Resume
//
// A result with a failed, skipped or waiting phase carries a ResumeContext.
// Sending it back with resume_skipped_only re-enters only the first stalled
// phase.
//
// # Error Handling
//
// Errors are classified by ErrorKind:
//
//   - validation: malformed request, returned immediately
//   - policy_violation: blocked by environment rules
//   - prerequisite_missing: modeled as a requires-input result
//   - execution_failure: the only kind eligible for remediation
//   - remediation_unsafe: a fix exists but needs approval
//   - pending: the remote resource is not ready yet
//
// Every outcome other than a malformed payload is reported on the returned
// WorkflowContext rather than as a Go error.
//
// # Collaborators
//
// The orchestrator depends only on the interfaces in interfaces.go. Concrete
// implementations live in sibling packages: nlu, backend, schema, codegen,
// sandbox, remediation, outcome, prereq, policy and stores.
package engine
