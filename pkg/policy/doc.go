// Package policy is the Open Policy Agent gate evaluated before any
// provisioning work starts.
//
// # Architecture
//
//  1. Engine - compiles Rego policies and evaluates them per request
//  2. Loader - loads custom policies from .rego, JSON and YAML files and bundles
//  3. Built-in policies - environment restrictions, naming, tags, exposure
//
// Every policy receives the same input document:
//
//	{
//	  "request": {"environment", "requester", "action", "resource_type",
//	              "resource_name", "region", "parameters", "tags"},
//	  "context": {"timestamp", "protected_environments",
//	              "review_resource_types", "required_tags"}
//	}
//
// A policy package contributes a "deny" set, a "warn" set, or both. Elements
// are message strings or objects with "message" and optionally "severity" and
// "resource". Deny results with severity error or critical block the request;
// everything else is reported as a warning.
//
// # Usage
//
//	pe, err := policy.NewEngine(logger, policy.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if err := pe.LoadPolicies(ctx, []string{"/etc/cloudpilot/policies"}); err != nil {
//	    return err
//	}
//	result, err := pe.EvaluateRequest(ctx, engine.PolicyInput{
//	    Environment:  "prod",
//	    Action:       engine.ActionDelete,
//	    ResourceType: "rds",
//	})
//	if !result.Allowed {
//	    fmt.Println(strings.Join(result.Messages(), "; "))
//	}
//
// # Built-in Policies
//
// environment-restrictions: deletes, and creates of review_resource_types
// (vpc, rds, eks by default), are blocked in protected environments.
//
// resource-naming: bucket names must satisfy the provider's naming rules; no
// resource name may contain whitespace or exceed 255 characters.
//
// required-tags (warning): creates and updates in protected environments
// should carry every required tag.
//
// public-exposure (warning): public access in a protected environment.
//
// # Hot Reload
//
// Engine.Watch uses fsnotify to reload the custom policy paths when a file
// changes. A reload that fails to compile keeps the current policy set.
package policy
