package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const planFooter = "Ask follow-up questions for missing values before each phase, then execute phase-by-phase."

// ImprovePrompt rewrites free text into a phase-by-phase execution prompt. It
// parses the intent for a preview but never executes anything.
func (o *Orchestrator) ImprovePrompt(ctx context.Context, text, environment, region string) (*PromptImprovement, error) {
	trimmed := strings.TrimSpace(text)
	if environment == "" {
		environment = "dev"
	}
	if trimmed == "" {
		return &PromptImprovement{
			OriginalPrompt: text,
			Summary:        "Please type what you want to build.",
			PhasePlan:      NewPhaseTracker().Snapshot(),
		}, nil
	}

	intent, err := o.parser.Parse(ctx, trimmed, region)
	if err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if region == "" {
		region = intent.Region
	}
	if region == "" {
		region = o.settings.DefaultRegion
	}

	return &PromptImprovement{
		OriginalPrompt: trimmed,
		ImprovedPrompt: ComposeImprovedPrompt(trimmed, intent, environment, region),
		Summary:        "I rewrote your request into a clearer execution prompt. Review and confirm before running.",
		PhasePlan:      NewPhaseTracker().Snapshot(),
		IntentPreview:  intent,
		IsComplex:      IsComplexRequest(trimmed),
	}, nil
}

// ComposeImprovedPrompt picks the architecture template that matches the
// request and fills it in.
func ComposeImprovedPrompt(original string, intent *Intent, environment, region string) string {
	if intent == nil {
		intent = &Intent{}
	}
	if region == "" {
		region = intent.Region
	}
	if region == "" {
		region = "us-east-1"
	}

	targets := StringList(intent.Param("service_targets"))
	for i := range targets {
		targets[i] = strings.ToLower(targets[i])
	}
	if len(targets) == 0 {
		targets = InferServices(original)
	}

	rt := strings.ToLower(strings.TrimSpace(intent.ResourceType))
	if (rt == "" || rt == "unknown") && len(targets) > 0 {
		rt = targets[0]
	}
	resource := "AWS resource"
	if rt != "" {
		resource = strings.ToUpper(rt)
	}
	action := "CREATE"
	if intent.Action != "" {
		action = strings.ToUpper(string(intent.Action))
	}

	lowered := strings.ToLower(original)
	style := strings.ToLower(intent.StringParam("architecture_style"))
	targetLine := ""
	if len(targets) > 0 {
		upper := make([]string, len(targets))
		for i, t := range targets {
			upper[i] = strings.ToUpper(t)
		}
		targetLine = "Target services: " + strings.Join(upper, ", ") + ".\n"
	}
	has := func(svc ...string) bool {
		for _, t := range targets {
			for _, s := range svc {
				if t == s {
					return true
				}
			}
		}
		return false
	}
	plan := func(goal string, steps ...string) string {
		var b strings.Builder
		b.WriteString(goal)
		b.WriteString("\n")
		b.WriteString(targetLine)
		b.WriteString("Execution Plan:\n")
		for i, s := range steps {
			fmt.Fprintf(&b, "%d) %s\n", i+1, s)
		}
		b.WriteString(planFooter)
		return b.String()
	}

	switch {
	case strings.Contains(condense(lowered), "serverless") || IsServerlessPhrase(lowered) ||
		style == "serverless" || style == "serverless_web":
		return plan(fmt.Sprintf("Goal: Build a serverless web application in %s for %s.", region, environment),
			"Design + plan (confirm API type, frontend hosting, auth, and data store)",
			"Provision networking/security (IAM roles, least-privilege policies, optional WAF)",
			"Provision compute/data (Lambda + API Gateway + optional DynamoDB/S3)",
			"Deploy app/workloads",
			"Validate health checks and endpoint tests")

	case isKubernetesWebsite(lowered, intent):
		return plan(fmt.Sprintf("Goal: Deploy a sample public website on Kubernetes (EKS) in %s for %s.", region, environment),
			"Design + plan (cluster mode, node sizing, domain/TLS optional)",
			"Provision networking/security (VPC/subnets/SG/IAM + EKS prerequisites)",
			"Provision compute/data (EKS cluster + node groups)",
			"Deploy app/workloads (namespace, deployment, service, ingress/load balancer)",
			"Validate health checks (kubectl status, endpoint checks) and return final public URL")

	case style == "container_fargate" || strings.Contains(lowered, "fargate") || has("ecs"):
		return plan(fmt.Sprintf("Goal: Build and deploy a containerized application on ECS Fargate in %s for %s.", region, environment),
			"Design + plan (service type, CPU/memory, image source, scaling)",
			"Provision networking/security (VPC/subnets/SG/ALB/IAM task roles)",
			"Provision compute/data (ECS cluster, task definition, service)",
			"Deploy app/workloads (container image and rollout)",
			"Validate health checks (target group, service events, endpoint tests)")

	case style == "data_pipeline" || has("glue"):
		return plan(fmt.Sprintf("Goal: Build a data pipeline in %s for %s.", region, environment),
			"Design + plan (source, transform, schedule, target)",
			"Provision networking/security (IAM roles, data access policies, encryption)",
			"Provision compute/data (Glue jobs/crawlers/catalog, optional Athena/S3)",
			"Deploy app/workloads (job scripts/workflows/triggers)",
			"Validate health checks (job runs, logs, sample query checks)")

	case style == "security_hardening" || has("security_group", "waf", "iam"):
		return plan(fmt.Sprintf("Goal: Apply security controls in %s for %s.", region, environment),
			"Design + plan (scope, policies, inbound/outbound rules, protection level)",
			"Provision networking/security (SG/WAF/IAM changes with approvals)",
			"Provision compute/data (apply required attachments/associations)",
			"Deploy app/workloads (if workload updates are required)",
			"Validate health checks (policy/rule verification and connectivity tests)")

	case IsComplexRequest(original) || len(targets) > 1:
		goal := strings.TrimSpace(original)
		if goal == "" {
			goal = action + " " + resource
		}
		return plan(fmt.Sprintf("Goal: %s\nEnvironment: %s\nRegion: %s", goal, environment, region),
			"Design + plan",
			"Provision networking/security",
			"Provision compute/data",
			"Deploy app/workloads",
			"Validate health checks")
	}

	namePart := ""
	if intent.ResourceName != "" {
		namePart = " named " + intent.ResourceName
	}
	paramLine := ""
	if chunks := scalarParams(intent.Parameters); len(chunks) > 0 {
		paramLine = " Parameters: " + strings.Join(chunks, ", ") + "."
	}
	return fmt.Sprintf("%s %s%s in %s for %s environment.%s Ask follow-up questions for missing values before execution.",
		action, resource, namePart, region, environment, paramLine)
}

func isKubernetesWebsite(lowered string, intent *Intent) bool {
	kube := ContainsAny(lowered, "kubernetes", "k8s", "eks", "kubernates", "kubernets", "kubernete") ||
		strings.EqualFold(strings.TrimSpace(intent.ResourceType), "eks")
	website := ContainsAny(lowered, "website", "web app", "webapp", "frontend", "sample site") ||
		!IsEmptyValue(intent.Param("website_accessibility"))
	public := ContainsAny(lowered, "public", "url", "internet", "accessible")
	return kube && website && public
}

func condense(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func scalarParams(params map[string]interface{}) []string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		switch v.(type) {
		case string, bool, int, int64, float64:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return out
}
