package outcome

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules are operator-supplied overrides for the built-in validation tables.
// They are read from YAML or JSON; both decode through yaml.v3.
type Rules struct {
	Aliases           map[string]string         `yaml:"aliases" json:"aliases"`
	IdentifierKeys    map[string]StringList     `yaml:"identifier_keys" json:"identifier_keys"`
	EndpointKeys      map[string]StringList     `yaml:"endpoint_keys" json:"endpoint_keys"`
	EndpointTemplates map[string]StringList     `yaml:"endpoint_templates" json:"endpoint_templates"`
	PhaseHints        map[string]PhaseHintRule  `yaml:"phase_hints" json:"phase_hints"`
	StatusHints       map[string]StatusHintRule `yaml:"status_hints" json:"status_hints"`

	// Services groups the same settings per service.
	Services map[string]ServiceRule `yaml:"services" json:"services"`

	// Source is the file the rules were read from.
	Source string `yaml:"-" json:"-"`
}

// ServiceRule is the per-service form of Rules.
type ServiceRule struct {
	Alias             string          `yaml:"alias" json:"alias"`
	Aliases           StringList      `yaml:"aliases" json:"aliases"`
	IdentifierKeys    StringList      `yaml:"identifier_keys" json:"identifier_keys"`
	EndpointKeys      StringList      `yaml:"endpoint_keys" json:"endpoint_keys"`
	EndpointTemplates StringList      `yaml:"endpoint_templates" json:"endpoint_templates"`
	PhaseHints        *PhaseHintRule  `yaml:"phase_hints" json:"phase_hints"`
	StatusHints       *StatusHintRule `yaml:"status_hints" json:"status_hints"`
}

// PhaseHintRule forces phase hints for a resource type.
type PhaseHintRule struct {
	// DeployCompletedActions lists the actions ("*" for all) that mark deploy_app completed.
	DeployCompletedActions StringList `yaml:"deploy_completed_actions" json:"deploy_completed_actions"`
	DeployCompleted        *bool      `yaml:"deploy_completed" json:"deploy_completed"`
	DeployDetail           string     `yaml:"deploy_detail" json:"deploy_detail"`
	HealthDetail           string     `yaml:"health_detail" json:"health_detail"`

	// Actions overrides the hints per action; "*" matches any action.
	Actions map[string]ActionHint `yaml:"actions" json:"actions"`
}

// ActionHint is a per-action phase hint override.
type ActionHint struct {
	DeployCompleted *bool  `yaml:"deploy_completed" json:"deploy_completed"`
	DeployDetail    string `yaml:"deploy_detail" json:"deploy_detail"`
	HealthDetail    string `yaml:"health_detail" json:"health_detail"`
}

// StatusHintRule extends the status vocabulary of a resource type.
type StatusHintRule struct {
	StatusKeys    StringList `yaml:"status_keys" json:"status_keys"`
	PendingValues StringList `yaml:"pending_values" json:"pending_values"`
	ReadyValues   StringList `yaml:"ready_values" json:"ready_values"`
	FailedValues  StringList `yaml:"failed_values" json:"failed_values"`
}

// StringList accepts either a sequence or a comma-separated scalar.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = splitList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = splitList(strings.Join(items, ","))
		return nil
	}
	return fmt.Errorf("line %d: expected a list or a comma-separated string", node.Line)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadRules reads rules from a .json, .yaml or .yml file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse outcome rules %s: %w", path, err)
	}
	rules.Source = path
	return rules, nil
}

// ParseRules decodes YAML or JSON rules.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return &rules, nil
}

// tables are the merged lookup tables used by the validator.
type tables struct {
	aliases           map[string]string
	identifierKeys    map[string][]string
	endpointKeys      map[string][]string
	endpointTemplates map[string][]string
	phaseHints        map[string]PhaseHintRule
	statusHints       map[string]StatusHintRule
	source            string
}

func defaultTables() *tables {
	t := &tables{
		aliases: map[string]string{
			"spark":           "emr",
			"database":        "rds",
			"natgateway":      "nat_gateway",
			"internetgateway": "internet_gateway",
			"securitygroup":   "security_group",
			"cloudwatchlogs":  "log_group",
			"logs":            "log_group",
		},
		identifierKeys:    make(map[string][]string, len(defaultIdentifierKeys)),
		endpointKeys:      map[string][]string{},
		endpointTemplates: map[string][]string{},
		phaseHints:        map[string]PhaseHintRule{},
		statusHints:       map[string]StatusHintRule{},
	}
	for k, v := range defaultIdentifierKeys {
		t.identifierKeys[k] = v
	}
	return t
}

func (t *tables) normalize(resourceType string) string {
	rt := strings.ToLower(strings.TrimSpace(resourceType))
	if alias, ok := t.aliases[rt]; ok {
		return alias
	}
	return rt
}

// apply merges operator rules over the tables.
func (t *tables) apply(r *Rules) {
	if r == nil {
		return
	}
	t.source = r.Source
	for alias, target := range r.Aliases {
		a, tg := strings.ToLower(strings.TrimSpace(alias)), strings.ToLower(strings.TrimSpace(target))
		if a != "" && tg != "" {
			t.aliases[a] = tg
		}
	}
	for rt, keys := range r.IdentifierKeys {
		t.setList(t.identifierKeys, rt, keys)
	}
	for rt, keys := range r.EndpointKeys {
		t.setList(t.endpointKeys, rt, keys)
	}
	for rt, templates := range r.EndpointTemplates {
		t.setList(t.endpointTemplates, rt, templates)
	}
	for rt, rule := range r.PhaseHints {
		if key := t.normalize(rt); key != "" {
			t.phaseHints[key] = rule
		}
	}
	for rt, rule := range r.StatusHints {
		if key := t.normalize(rt); key != "" {
			t.statusHints[key] = rule
		}
	}

	for name, svc := range r.Services {
		rt := t.normalize(name)
		if rt == "" {
			continue
		}
		if a := strings.ToLower(strings.TrimSpace(svc.Alias)); a != "" {
			t.aliases[a] = rt
		}
		for _, a := range svc.Aliases {
			t.aliases[strings.ToLower(a)] = rt
		}
		t.setList(t.identifierKeys, rt, svc.IdentifierKeys)
		t.setList(t.endpointKeys, rt, svc.EndpointKeys)
		t.setList(t.endpointTemplates, rt, svc.EndpointTemplates)
		if svc.PhaseHints != nil {
			t.phaseHints[rt] = *svc.PhaseHints
		}
		if svc.StatusHints != nil {
			t.statusHints[rt] = *svc.StatusHints
		}
	}
}

func (t *tables) setList(m map[string][]string, resourceType string, values StringList) {
	key := t.normalize(resourceType)
	if key == "" || len(values) == 0 {
		return
	}
	m[key] = append([]string(nil), values...)
}

var defaultIdentifierKeys = map[string][]string{
	"s3":               {"bucket_name"},
	"ec2":              {"instance_id", "name"},
	"rds":              {"db_instance_id"},
	"lambda":           {"function_name"},
	"vpc":              {"vpc_id"},
	"dynamodb":         {"table_name"},
	"sns":              {"topic_name", "arn"},
	"sqs":              {"queue_name", "queue_url"},
	"iam":              {"role_name", "user_name", "policy_name", "name"},
	"security_group":   {"group_id", "group_name"},
	"ebs":              {"volume_id"},
	"cloudwatch":       {"alarm_name"},
	"ecs":              {"cluster_name"},
	"secretsmanager":   {"name", "arn"},
	"kms":              {"key_id", "arn", "alias"},
	"ecr":              {"repository_name"},
	"efs":              {"file_system_id"},
	"acm":              {"certificate_arn"},
	"ssm":              {"parameter_name"},
	"route53":          {"hosted_zone_id", "domain"},
	"apigateway":       {"api_id", "api_name"},
	"cloudfront":       {"distribution_id", "domain_name"},
	"stepfunctions":    {"state_machine_arn", "name"},
	"elasticache":      {"cluster_id"},
	"kinesis":          {"stream_name"},
	"eks":              {"cluster_name"},
	"elb":              {"load_balancer_name", "name", "arn"},
	"waf":              {"id", "name", "arn"},
	"redshift":         {"cluster_id"},
	"emr":              {"cluster_id", "cluster_name"},
	"sagemaker":        {"notebook_name", "name"},
	"glue":             {"crawler_name", "database_name", "name"},
	"athena":           {"workgroup_name"},
	"codepipeline":     {"pipeline_name"},
	"codebuild":        {"project_name"},
	"wellarchitected":  {"workload_id", "workload_name"},
	"subnet":           {"subnet_id"},
	"nat_gateway":      {"nat_gateway_id"},
	"internet_gateway": {"internet_gateway_id"},
	"eip":              {"allocation_id", "public_ip"},
	"log_group":        {"log_group_name"},
}
