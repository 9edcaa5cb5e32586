package policy

import (
	"time"
)

// BuiltinSource marks policies compiled into the binary.
const BuiltinSource = "builtin"

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		environmentRestrictionsPolicy(),
		resourceNamingPolicy(),
		requiredTagsPolicy(),
		publicExposurePolicy(),
	}
}

func builtin(p Policy) Policy {
	now := time.Now()
	p.Enabled = true
	p.Source = BuiltinSource
	p.CreatedAt = now
	p.UpdatedAt = now
	return p
}

// environmentRestrictionsPolicy blocks destructive and high-impact actions in
// protected environments.
func environmentRestrictionsPolicy() Policy {
	return builtin(Policy{
		Name:        "environment-restrictions",
		Description: "Blocks deletes, and creates of reviewed resource types, in protected environments",
		Severity:    SeverityError,
		Tags:        []string{"environment", "production"},
		Rego: `package cloudpilot.policies.environment

import rego.v1

protected if input.request.environment in input.context.protected_environments

deny contains msg if {
	protected
	input.request.action == "delete"
	msg := "Delete operations in production require manual approval"
}

deny contains msg if {
	protected
	input.request.action == "create"
	input.request.resource_type in input.context.review_resource_types
	msg := sprintf("Creating %s in production requires additional review", [input.request.resource_type])
}`,
	})
}

// resourceNamingPolicy enforces provider naming constraints that would
// otherwise fail late at the provider.
func resourceNamingPolicy() Policy {
	return builtin(Policy{
		Name:        "resource-naming",
		Description: "Rejects resource names the provider would refuse",
		Severity:    SeverityError,
		Tags:        []string{"naming", "conventions"},
		Rego: `package cloudpilot.policies.naming

import rego.v1

name := input.request.resource_name

deny contains violation if {
	input.request.resource_type == "s3"
	name != ""
	not regex.match("^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$", name)
	violation := {
		"message": sprintf("Bucket name '%s' must be 3-63 lowercase letters, numbers, dots or hyphens", [name]),
		"resource": name,
	}
}

deny contains violation if {
	name != ""
	regex.match("\\s", name)
	violation := {
		"message": sprintf("Resource name '%s' must not contain whitespace", [name]),
		"resource": name,
	}
}

deny contains violation if {
	count(name) > 255
	violation := {
		"message": "Resource name must not exceed 255 characters",
		"resource": name,
	}
}`,
	})
}

// requiredTagsPolicy warns when mutating requests in protected environments
// lack ownership tags.
func requiredTagsPolicy() Policy {
	return builtin(Policy{
		Name:        "required-tags",
		Description: "Warns when required tags are missing in protected environments",
		Severity:    SeverityWarning,
		Tags:        []string{"tags", "metadata"},
		Rego: `package cloudpilot.policies.tags

import rego.v1

warn contains msg if {
	input.request.environment in input.context.protected_environments
	input.request.action in {"create", "update"}
	some tag in input.context.required_tags
	not input.request.tags[tag]
	msg := sprintf("Tag '%s' is required in %s", [tag, input.request.environment])
}`,
	})
}

// publicExposurePolicy warns about public access in protected environments.
func publicExposurePolicy() Policy {
	return builtin(Policy{
		Name:        "public-exposure",
		Description: "Warns when public access is requested in protected environments",
		Severity:    SeverityWarning,
		Tags:        []string{"security", "network"},
		Rego: `package cloudpilot.policies.exposure

import rego.v1

warn contains msg if {
	input.request.environment in input.context.protected_environments
	input.request.parameters.public_access == true
	msg := sprintf("Public access requested for %s in %s", [input.request.resource_type, input.request.environment])
}`,
	})
}
