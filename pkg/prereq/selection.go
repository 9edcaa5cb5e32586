package prereq

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// UseNewDefault is the selection option that creates a new resource instead.
const UseNewDefault = "use_new_default"

var identifierPrefixes = []struct {
	prefix       string
	resourceType string
}{
	{"i-", "ec2"},
	{"lt-", "ec2"},
	{"vpc-", "vpc"},
	{"subnet-", "vpc"},
	{"sg-", "security_group"},
	{"db-", "rds"},
	{"vol-", "ebs"},
	{"fs-", "efs"},
}

var identifierHints = map[string]string{
	"ec2":            "Example EC2 instance ID: i-0123456789abcdef0",
	"vpc":            "Example VPC ID: vpc-0123456789abcdef0",
	"security_group": "Example security group ID: sg-0123456789abcdef0",
	"rds":            "Example RDS identifier: mydb-instance",
	"ebs":            "Example EBS volume ID: vol-0123456789abcdef0",
	"efs":            "Example EFS file system ID: fs-01234567",
}

// InferResourceFromIdentifier returns the resource family an identifier's
// prefix belongs to, or "".
func InferResourceFromIdentifier(value string) string {
	token := strings.ToLower(strings.TrimSpace(value))
	if token == "" {
		return ""
	}
	for _, p := range identifierPrefixes {
		if strings.HasPrefix(token, p.prefix) {
			return p.resourceType
		}
	}
	return ""
}

// MismatchReason returns a correction message when the identifier clearly
// belongs to a different resource family, or "".
func MismatchReason(resourceType, identifier string) string {
	inferred := InferResourceFromIdentifier(identifier)
	expected := strings.ToLower(strings.TrimSpace(resourceType))
	if inferred == "" || expected == "" || inferred == expected {
		return ""
	}
	return fmt.Sprintf("The value '%s' looks like %s, not %s. Please provide an existing %s identifier/name.",
		identifier, strings.ToUpper(inferred), strings.ToUpper(expected), strings.ToUpper(expected))
}

func identifierHint(resourceType string) string {
	if h, ok := identifierHints[resourceType]; ok {
		return h
	}
	return fmt.Sprintf("Provide a valid %s identifier/name.", resourceType)
}

// questionSet appends questions for variables the intent does not already carry.
type questionSet struct {
	params    map[string]interface{}
	questions []engine.Question
}

func (s *questionSet) add(q engine.Question) bool {
	if !engine.IsEmptyValue(s.params[q.Variable]) {
		return false
	}
	if q.Type == "" {
		q.Type = engine.QuestionString
	}
	s.questions = append(s.questions, q)
	return true
}

// selectionQuestions decides whether the request acts on an existing resource
// and, if so, asks for the resource and the operation one question at a time.
// It records the strategy on the intent.
func (r *Resolver) selectionQuestions(ctx context.Context, intent *engine.Intent, creds *engine.Credentials) []engine.Question {
	action := intent.Action
	resource := strings.ToLower(strings.TrimSpace(intent.ResourceType))
	if !action.IsMutating() || resource == "" {
		return nil
	}
	params := intent.Parameters
	set := &questionSet{params: params}

	strategy := strings.ToLower(intent.StringParam("resource_strategy"))
	if action == engine.ActionCreate && strategy != "new" && strategy != "existing" {
		strategy = "new"
		params["resource_strategy"] = strategy
	}
	if (action == engine.ActionUpdate || action == engine.ActionDelete) && strategy != "existing" {
		strategy = "existing"
		params["resource_strategy"] = strategy
	}
	if strategy != "existing" {
		return nil
	}

	if !intent.HasParam("existing_resource_id") {
		if name := strings.TrimSpace(intent.ResourceName); name != "" && MismatchReason(resource, name) == "" {
			params["existing_resource_id"] = name
		}
	}

	if !creds.Complete() {
		set.add(engine.Question{Variable: "aws_access_key", Prompt: "Provide AWS Access Key to list existing resources.", Hint: "Starts with AKIA..."})
		set.add(engine.Question{Variable: "aws_secret_key", Prompt: "Provide AWS Secret Access Key.", Type: engine.QuestionPassword})
		set.add(engine.Question{Variable: "aws_region", Prompt: "Which region should I inspect for existing resources?", Hint: "Example: us-east-1"})
		return set.questions
	}

	if !intent.HasParam("existing_resource_id") {
		options := r.existingChoices(engine.WithCredentials(ctx, creds), resource)
		if len(options) > 0 {
			if len(options) > r.choiceLimit {
				options = options[:r.choiceLimit]
			}
			q := engine.Question{
				Variable: "existing_resource_id",
				Prompt:   fmt.Sprintf("Select existing %s to use.", resource),
				Options:  options,
			}
			if action == engine.ActionCreate {
				q.Options = append([]string{UseNewDefault}, options...)
				q.Hint = "Choose use_new_default to proceed with new resource creation."
			}
			set.add(q)
		} else {
			set.add(engine.Question{
				Variable: "existing_resource_id",
				Prompt:   fmt.Sprintf("No existing %s resources were found. Enter resource ID/name manually or type use_new_default.", resource),
				Hint:     identifierHint(resource),
			})
		}
		return set.questions
	}

	if reason := MismatchReason(resource, intent.StringParam("existing_resource_id")); reason != "" {
		// The mismatching answer is replaced by the caller's next one.
		set.questions = append(set.questions, engine.Question{
			Variable: "existing_resource_id",
			Prompt:   reason,
			Type:     engine.QuestionString,
			Hint:     identifierHint(resource),
		})
		return set.questions
	}

	if !intent.HasParam("existing_operation") {
		if action != engine.ActionCreate {
			params["existing_operation"] = string(action)
		} else {
			set.add(engine.Question{
				Variable: "existing_operation",
				Prompt:   fmt.Sprintf("What should I do with the selected %s?", resource),
				Options:  []string{"custom", "describe", "update"},
			})
			return set.questions
		}
	}

	op := strings.ToLower(intent.StringParam("existing_operation"))
	if action == engine.ActionCreate {
		switch op {
		case "create", "update", "custom", "create_child":
			if set.add(engine.Question{
				Variable: "custom_instruction",
				Prompt:   fmt.Sprintf("Describe what you want to create using this existing %s.", resource),
				Hint:     "Example: create ALB, private app tier, and private RDS for a 3-tier app",
			}) {
				return set.questions
			}
		}
	}
	if op == "custom" && set.add(engine.Question{
		Variable: "custom_instruction",
		Prompt:   fmt.Sprintf("Enter custom instruction for this %s.", resource),
		Hint:     "Example: add 2 tables users and orders, then seed sample rows",
	}) {
		return set.questions
	}

	if resource == "rds" && op == "custom" {
		if q, ok := nextSQLQuestion(intent); ok {
			set.add(q)
		}
	}
	return set.questions
}

// nextSQLQuestion walks the inputs needed to run SQL on an existing database
// and returns the first one still missing.
func nextSQLQuestion(intent *engine.Intent) (engine.Question, bool) {
	hasSecret := intent.HasParam("secret_arn")
	switch {
	case !intent.HasParam("sql_statements") && !intent.HasParam("sql"):
		return engine.Question{
			Variable: "sql_statements",
			Prompt:   "Provide SQL statements to run on the selected RDS instance.",
			Hint:     "Example: CREATE TABLE users (...); INSERT INTO users ...;",
		}, true
	case !intent.HasParam("db_name"):
		return engine.Question{Variable: "db_name", Prompt: "Which database name should I connect to?", Hint: "Example: appdb"}, true
	case !hasSecret && !intent.HasParam("db_username"):
		return engine.Question{Variable: "db_username", Prompt: "Provide DB username (or provide secret_arn)."}, true
	case !hasSecret && !intent.HasParam("db_password"):
		return engine.Question{Variable: "db_password", Prompt: "Provide DB password (or provide secret_arn).", Type: engine.QuestionPassword}, true
	case !intent.HasParam("bastion_instance_id"):
		return engine.Question{
			Variable: "bastion_instance_id",
			Prompt:   "Provide bastion/worker EC2 instance ID (SSM-managed), or type auto to auto-discover.",
			Hint:     "Example: i-0123456789abcdef0",
		}, true
	case !intent.HasParam("ensure_network_path"):
		return engine.Question{
			Variable: "ensure_network_path",
			Prompt:   "Should I auto-open security group path from bastion to RDS?",
			Type:     engine.QuestionBoolean,
			Options:  []string{"true", "false"},
		}, true
	}
	return engine.Question{}, false
}

// existingChoices lists selectable resources, falling back to inventory samples.
func (r *Resolver) existingChoices(ctx context.Context, resource string) []string {
	if r.backend == nil {
		return nil
	}
	options, err := r.backend.ListChoices(ctx, resource, r.choiceLimit)
	if err != nil {
		r.logger.Warn().Err(err).Str("resource_type", resource).Msg("Listing existing resources failed")
	}
	if len(options) > 0 {
		return options
	}

	inventory, err := r.backend.DiscoverInventory(ctx, []string{resource}, r.choiceLimit)
	if err != nil {
		r.logger.Warn().Err(err).Str("resource_type", resource).Msg("Inventory discovery failed")
		return nil
	}
	var out []string
	for _, id := range inventory[resource].SampleIDs {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
