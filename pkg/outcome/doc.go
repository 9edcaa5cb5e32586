// Package outcome re-checks a reported provisioning success.
//
// The Validator resolves the affected resource's identifier and, depending on
// the resource type and action, describes it through the provisioning
// backend and classifies its lifecycle status, lists the type to confirm the
// resource exists (or is gone after a delete), and probes any HTTP endpoints
// the result exposes.
//
// Validation annotates; it never turns a success into a failure. Pending
// checks (a resource still creating, an endpoint answering 503) let the
// workflow leave the health phase in progress. Resource-specific adapters
// also emit phase hints, such as whether the deploy phase is already done.
//
// Operators can extend the built-in tables with a rules file in YAML or JSON:
//
//	aliases:
//	  database: rds
//	identifier_keys:
//	  opensearch: [domain_name]
//	endpoint_templates:
//	  opensearch: "https://{domain_endpoint}"
//	status_hints:
//	  opensearch:
//	    status_keys: [processing_state]
//	    pending_values: [processing]
//	phase_hints:
//	  amplify:
//	    deploy_completed_actions: [create, update]
//	    deploy_detail: Amplify app deployed.
package outcome
