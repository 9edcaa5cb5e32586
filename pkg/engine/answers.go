package engine

import (
	"regexp"
	"strings"
)

// reservedVariables are input variables consumed by the workflow itself.
var reservedVariables = map[string]bool{
	"resume_skipped_only": true,
	"resume_context":      true,
}

var customNetworkingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bcustom\s+(subnet|subnets|vpc|security group|security-group|network|firewall)\b`),
	regexp.MustCompile(`\bspecific\s+(subnet|vpc|security group|security-group)\b`),
	regexp.MustCompile(`\bmy\s+(subnet|subnets|vpc|security group|security-group|firewall)\b`),
	regexp.MustCompile(`\buse\s+(subnet-|sg-|vpc-)`),
	regexp.MustCompile(`\bprovide\s+(subnet|vpc|security group|firewall)\b`),
	regexp.MustCompile(`\bopen\s+port\b.*\bmanually\b`),
	regexp.MustCompile(`\bmanual\s+(network|networking|firewall|security group|security-group)\b`),
}

// MentionsCustomNetworking reports whether the request text explicitly asks for
// caller-chosen networking.
func MentionsCustomNetworking(text string) bool {
	lowered := strings.ToLower(text)
	if strings.TrimSpace(lowered) == "" {
		return false
	}
	for _, re := range customNetworkingPatterns {
		if re.MatchString(lowered) {
			return true
		}
	}
	return false
}

// ApplyInputVariables merges caller answers into the intent. Region and name
// keys set the intent fields, credential keys are skipped and everything else
// becomes a parameter.
func ApplyInputVariables(intent *Intent, vars map[string]interface{}) {
	for key, value := range vars {
		switch {
		case key == "region" || key == "aws_region":
			if s := StringValue(value); s != "" {
				intent.Region = s
			}
		case key == "resource_name" || key == "name":
			if s := StringValue(value); s != "" {
				intent.ResourceName = s
			}
		case IsCredentialVariable(key), reservedVariables[key]:
			continue
		default:
			intent.SetParam(key, value)
		}
	}
}

// ApplyResourceSelection rewrites the intent from resource-selection answers:
// service switches, use_new_default, a selected existing identifier and the
// operation chosen for it.
func ApplyResourceSelection(intent *Intent) {
	if intent.Parameters == nil {
		intent.Parameters = make(map[string]interface{})
	}
	params := intent.Parameters
	requested := intent.Action
	current := strings.ToLower(strings.TrimSpace(intent.ResourceType))

	if choice := strings.ToLower(intent.StringParam("service_alignment_decision")); strings.HasPrefix(choice, "switch_") {
		target := strings.TrimSpace(strings.TrimPrefix(choice, "switch_"))
		if target != "" && target != current {
			intent.ResourceType = target
			if strings.ToLower(intent.StringParam("resource_strategy")) == "existing" {
				intent.Action = ActionUpdate
				params["existing_operation"] = "custom"
				params["custom_operation"] = "custom"
				delete(params, "existing_resource_id")
				delete(params, "target_resource_id")
				intent.ResourceName = ""
			}
			current = target
		}
	}

	if choice := strings.ToLower(intent.StringParam("switch_resource_type")); strings.HasPrefix(choice, "switch_") {
		target := strings.TrimSpace(strings.TrimPrefix(choice, "switch_"))
		if target != "" && target != current {
			intent.ResourceType = target
			for _, k := range []string{"existing_resource_id", "target_resource_id", "existing_operation", "custom_instruction"} {
				delete(params, k)
			}
			intent.ResourceName = ""
		}
	}

	if strings.ToLower(intent.StringParam("existing_resource_id")) == "use_new_default" {
		params["resource_strategy"] = "new"
		for _, k := range []string{"existing_resource_id", "target_resource_id", "existing_operation", "custom_instruction"} {
			delete(params, k)
		}
		if requested != "" {
			intent.Action = requested
		}
		intent.ResourceName = ""
	}

	strategy := strings.ToLower(intent.StringParam("resource_strategy"))
	selected := intent.StringParam("existing_resource_id")
	if selected == "" {
		selected = intent.StringParam("resource_name")
	}
	if i := strings.Index(selected, "|"); i >= 0 {
		selected = strings.TrimSpace(selected[:i])
	}
	if selected != "" {
		intent.ResourceName = selected
		params["target_resource_id"] = selected
	}

	if strategy != "existing" {
		return
	}
	operation := strings.ToLower(intent.StringParam("existing_operation"))
	if requested == ActionCreate && (operation == "create" || operation == "update") {
		operation = "custom"
		params["existing_operation"] = "custom"
		params["custom_operation"] = "custom"
	}
	switch operation {
	case "update", "delete", "describe", "list", "create":
		intent.Action = Action(operation)
	case "custom", "create_child":
		intent.Action = ActionUpdate
		params["custom_operation"] = operation
		if strings.ToLower(intent.ResourceType) == "rds" && (intent.HasParam("sql") || intent.HasParam("sql_statements")) {
			params["run_sql_via_ssm"] = true
		}
	}
}
