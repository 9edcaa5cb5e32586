package engine

import (
	"fmt"
	"strings"
)

// fieldVariables maps provider field names onto conversational variables.
var fieldVariables = map[string]string{
	"ImageId":              "ami_id",
	"InstanceType":         "instance_type",
	"KeyName":              "key_name",
	"SubnetId":             "subnet_id",
	"SubnetIds":            "subnet_ids",
	"SecurityGroupIds":     "security_group_ids",
	"VpcId":                "vpc_id",
	"CidrBlock":            "cidr_block",
	"RoleArn":              "role_arn",
	"roleArn":              "role_arn",
	"Role":                 "role_arn",
	"ExecutionRoleArn":     "role_arn",
	"ServiceRole":          "role_arn",
	"serviceRole":          "role_arn",
	"IamInstanceProfile":   "iam_instance_profile",
	"UserData":             "user_data",
	"DBInstanceClass":      "instance_type",
	"DBName":               "db_name",
	"DBInstanceIdentifier": "db_instance_id",
	"AllocatedStorage":     "storage_size",
	"Engine":               "engine",
	"EngineVersion":        "engine_version",
	"MasterUsername":       "master_username",
	"MasterUserPassword":   "master_password",
	"PubliclyAccessible":   "public_access",
	"ClusterIdentifier":    "cluster_id",
	"ClusterName":          "cluster_name",
	"FunctionName":         "function_name",
	"Runtime":              "runtime",
	"MemorySize":           "memory",
	"Timeout":              "timeout",
	"ReleaseLabel":         "release_label",
	"MasterInstanceType":   "master_instance_type",
	"SlaveInstanceType":    "worker_instance_type",
	"InstanceCount":        "instance_count",
	"Version":              "kubernetes_version",
	"Name":                 "name",
}

// ExcludedFields are never asked for nor filled from parameters.
var ExcludedFields = map[string]bool{
	"DryRun":             true,
	"ClientToken":        true,
	"ClientRequestToken": true,
	"IdempotencyToken":   true,
	"TagSpecifications":  true,
	"Tags":               true,
}

// FieldDefaults are filled silently when absent.
var FieldDefaults = map[string]interface{}{
	"MinCount": 1,
	"MaxCount": 1,
}

// NameFields are satisfied by the intent's resource name.
var NameFields = map[string]bool{
	"Bucket":               true,
	"QueueName":            true,
	"TopicName":            true,
	"TableName":            true,
	"FunctionName":         true,
	"RoleName":             true,
	"DBInstanceIdentifier": true,
	"ClusterIdentifier":    true,
	"ClusterName":          true,
	"Name":                 true,
}

// HighValueOptional are optional fields worth filling or asking about when the operation has them.
var HighValueOptional = []string{"InstanceType", "ImageId", "AllocatedStorage", "Engine", "DBInstanceClass", "PubliclyAccessible"}

// NetworkOptional are optional network fields; they are only considered with custom networking.
var NetworkOptional = []string{"VpcId", "SubnetId", "SubnetIds"}

var networkFieldNames = map[string]bool{
	"VpcId":               true,
	"SubnetId":            true,
	"SubnetIds":           true,
	"SecurityGroupIds":    true,
	"VpcSecurityGroupIds": true,
	"CidrBlock":           true,
	"IpPermissions":       true,
	"resourcesVpcConfig":  true,
	"ResourcesVpcConfig":  true,
}

// NetworkParamKeys are parameter keys that imply the caller chose custom networking.
var NetworkParamKeys = []string{
	"vpc_id", "subnet_id", "subnet_ids", "security_group_id", "security_group_ids",
	"vpc_security_group_ids", "cidr_block", "ip_permissions", "resources_vpc_config",
}

var curatedOptions = map[string][]string{
	"instance_type":      {"t3.micro", "t3.small", "t3.medium", "m5.large", "c6i.large"},
	"os_flavor":          {"amazon-linux-2", "amazon-linux-2023", "ubuntu-22.04", "ubuntu-20.04", "windows-2022"},
	"engine":             {"postgres", "mysql", "mariadb", "aurora-postgresql"},
	"kubernetes_version": {"1.29", "1.30", "1.31"},
}

var friendlyLabels = map[string]string{
	"ami_id":        "AMI ID",
	"os_flavor":     "Operating system",
	"instance_type": "Instance type",
	"storage_size":  "Storage size (GB)",
	"public_access": "Public access",
}

// FieldVariable returns the conversational variable for a provider field name.
func FieldVariable(field string) string {
	if v, ok := fieldVariables[field]; ok {
		return v
	}
	return SnakeCase(field)
}

// IsNetworkField reports whether a provider field configures networking.
func IsNetworkField(field string) bool {
	field = strings.TrimSpace(field)
	if field == "" {
		return false
	}
	if networkFieldNames[field] {
		return true
	}
	return ContainsAny(strings.ToLower(field), "subnet", "vpc", "securitygroup", "ippermission", "cidr", "network")
}

// IsRoleField reports whether a provider field takes an IAM role.
func IsRoleField(field string) bool {
	switch NormalizeKey(field) {
	case "role", "rolearn", "executionrolearn", "servicerole":
		return true
	}
	return false
}

// CuratedOptions returns the curated choices for a variable, if any.
func CuratedOptions(variable string) []string {
	return curatedOptions[variable]
}

// QuestionForField builds a typed question for a missing field.
// parent is the enclosing structure field for nested expansion, or "".
func QuestionForField(field FieldSpec, variable, parent string) Question {
	qtype, hint := questionTypeAndHint(field)
	label := friendlyLabels[variable]
	if label == "" {
		label = field.Name
	}

	var prompt string
	switch {
	case parent != "":
		prompt = fmt.Sprintf("Please provide %s for %s.", label, parent)
	case qtype == QuestionBoolean:
		prompt = fmt.Sprintf("Should I enable %s?", strings.ToLower(label))
	case qtype == QuestionNumber:
		prompt = fmt.Sprintf("What value should I use for %s?", label)
	default:
		prompt = fmt.Sprintf("Please provide %s.", label)
	}

	q := Question{Variable: variable, Prompt: prompt, Type: qtype, Hint: hint}
	if len(field.Enum) > 0 && len(field.Enum) <= 12 {
		q.Options = append([]string(nil), field.Enum...)
	} else if opts := curatedOptions[variable]; len(opts) > 0 {
		q.Options = append([]string(nil), opts...)
	}
	return q
}

func questionTypeAndHint(field FieldSpec) (QuestionType, string) {
	switch {
	case field.Type.IsNumeric():
		return QuestionNumber, ""
	case field.Type == FieldBoolean:
		return QuestionBoolean, "true or false"
	case field.Type == FieldList:
		member := "string"
		if len(field.Children) == 1 && field.Children[0].Type != "" {
			member = string(field.Children[0].Type)
		}
		return QuestionString, fmt.Sprintf("Comma-separated values (%s list)", member)
	case field.Type == FieldStructure:
		return QuestionString, "Provide JSON object"
	case strings.HasSuffix(strings.ToLower(field.Name), "password"):
		return QuestionPassword, ""
	}
	return QuestionString, ""
}

// DedupeQuestions keeps the first occurrence of each variable.
func DedupeQuestions(questions []Question) []Question {
	seen := make(map[string]struct{}, len(questions))
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		if q.Variable == "" {
			continue
		}
		if _, ok := seen[q.Variable]; ok {
			continue
		}
		seen[q.Variable] = struct{}{}
		out = append(out, q)
	}
	return out
}
