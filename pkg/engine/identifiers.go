package engine

import "strings"

// identifierKeys lists the payload keys that carry a resource's identifier,
// in preference order.
var identifierKeys = map[string][]string{
	"ec2":             {"instance_id"},
	"eks":             {"cluster_name", "resource_name"},
	"rds":             {"db_instance_id"},
	"lambda":          {"function_name"},
	"s3":              {"bucket_name"},
	"vpc":             {"vpc_id"},
	"subnet":          {"subnet_id"},
	"security_group":  {"group_id", "security_group_id"},
	"elb":             {"load_balancer_name", "name"},
	"ecs":             {"cluster_name", "service_name"},
	"emr":             {"cluster_id", "cluster_name"},
	"redshift":        {"cluster_id"},
	"elasticache":     {"cluster_id"},
	"dynamodb":        {"table_name"},
	"sagemaker":       {"notebook_name", "name"},
	"codebuild":       {"project_name"},
	"codepipeline":    {"pipeline_name"},
	"glue":            {"crawler_name", "database_name"},
	"apigateway":      {"api_id", "api_name"},
	"cloudfront":      {"distribution_id"},
	"wellarchitected": {"workload_id", "workload_name"},
}

// IdentifierKeys returns the identifier keys of a resource type.
func IdentifierKeys(resourceType string) []string {
	return identifierKeys[strings.ToLower(strings.TrimSpace(resourceType))]
}

// ResultIdentifier resolves the identifier of the resource a result refers to.
// It falls back to the intent's name and the selected existing resource.
func ResultIdentifier(intent *Intent, res *ExecutionResult) string {
	rt := ""
	if intent != nil {
		rt = intent.ResourceType
	}
	if res != nil && res.ResourceType != "" {
		rt = res.ResourceType
	}
	for _, key := range IdentifierKeys(rt) {
		if v := res.PayloadString(key); v != "" {
			return v
		}
		if v := intent.StringParam(key); v != "" {
			return v
		}
	}
	if intent != nil && strings.TrimSpace(intent.ResourceName) != "" {
		return strings.TrimSpace(intent.ResourceName)
	}
	for _, key := range []string{"existing_resource_id", "target_resource_id"} {
		if v := intent.StringParam(key); v != "" {
			return v
		}
	}
	return ""
}
