package prereq

import (
	"context"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

var lambdaManagedFields = map[string]bool{
	"Role":        true,
	"Code":        true,
	"Handler":     true,
	"Publish":     true,
	"PackageType": true,
}

var resourceNameVariables = map[string]bool{
	"name":       true,
	"bucket":     true,
	"table_name": true,
	"queue_name": true,
}

var roleManagingPrefixes = []string{"create", "run", "put", "update", "modify", "start"}

// MissingFields returns questions for the resolved operation's required and
// high-value optional fields that the intent does not carry yet.
func (r *Resolver) MissingFields(ctx context.Context, intent *engine.Intent, text string) []engine.Question {
	if r.schemas == nil || intent == nil || intent.ResourceType == "" {
		return nil
	}
	if !intent.Action.IsMutating() {
		return nil
	}

	rt := strings.ToLower(strings.TrimSpace(intent.ResourceType))
	service := r.schemas.ServiceFor(rt)
	operation := r.schemas.ResolveOperation(service, rt, intent.Action)
	if operation == "" {
		return nil
	}
	schema, err := r.schemas.OperationSchema(service, operation)
	if err != nil {
		r.logger.Debug().Err(err).Str("service", service).Str("operation", operation).Msg("No operation schema")
		return nil
	}

	params := intent.Parameters
	customNetworking := engine.WantsCustomNetworking(params) || engine.MentionsCustomNetworking(text)
	isRunInstances := service == "ec2" && operation == "RunInstances"

	selected := append([]engine.FieldSpec(nil), schema.Required...)
	candidates := append([]string(nil), engine.HighValueOptional...)
	if !isRunInstances {
		candidates = append(candidates, engine.NetworkOptional...)
	}
	for _, name := range candidates {
		if field, ok := findField(schema.Optional, name); ok && !hasField(selected, name) {
			selected = append(selected, field)
		}
	}

	var questions []engine.Question
	for _, field := range selected {
		name := field.Name
		switch {
		case engine.ExcludedFields[name]:
			continue
		case engine.FieldDefaults[name] != nil:
			continue
		case autoManagedRole(operation, name, params):
			continue
		case service == "lambda" && operation == "CreateFunction" && lambdaManagedFields[name]:
			continue
		case engine.IsNetworkField(name) && !customNetworking:
			continue
		}

		variable := engine.FieldVariable(name)
		if valuePresent(intent, variable, name) {
			continue
		}
		if engine.NameFields[name] && intent.ResourceName != "" {
			continue
		}

		if field.Type == engine.FieldStructure {
			if service == "eks" && operation == "CreateCluster" && strings.EqualFold(name, "resourcesVpcConfig") {
				continue
			}
			if nested := nestedQuestions(field, params, customNetworking); len(nested) > 0 {
				questions = append(questions, nested...)
				continue
			}
		}
		questions = append(questions, engine.QuestionForField(field, variable, ""))
	}

	if isRunInstances {
		questions = appendExtras(questions, params, ec2Extras())
	}
	if service == "lambda" && operation == "CreateFunction" {
		questions = appendExtras(questions, params, lambdaExtras())
	}
	return engine.DedupeQuestions(questions)
}

// nestedQuestions expands the children of a required structure into one question each.
func nestedQuestions(parent engine.FieldSpec, params map[string]interface{}, customNetworking bool) []engine.Question {
	if engine.IsNetworkField(parent.Name) && !customNetworking {
		return nil
	}
	var out []engine.Question
	for _, child := range parent.Children {
		if engine.IsNetworkField(child.Name) && !customNetworking {
			continue
		}
		variable := engine.FieldVariable(child.Name)
		if !engine.IsEmptyValue(params[variable]) || !engine.IsEmptyValue(params[child.Name]) {
			continue
		}
		out = append(out, engine.QuestionForField(child, variable, parent.Name))
	}
	return out
}

// autoManagedRole reports whether a role field is created by the backend
// instead of asked for. Setting auto_manage_roles to false turns this off.
func autoManagedRole(operation, field string, params map[string]interface{}) bool {
	if !engine.ToBool(params["auto_manage_roles"], true) {
		return false
	}
	if !engine.IsRoleField(field) {
		return false
	}
	op := strings.ToLower(operation)
	for _, prefix := range roleManagingPrefixes {
		if strings.HasPrefix(op, prefix) {
			return true
		}
	}
	return false
}

func valuePresent(intent *engine.Intent, variable, field string) bool {
	if intent.HasParam(variable) || intent.HasParam(field) {
		return true
	}
	return resourceNameVariables[variable] && intent.ResourceName != ""
}

func findField(fields []engine.FieldSpec, name string) (engine.FieldSpec, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return engine.FieldSpec{}, false
}

func hasField(fields []engine.FieldSpec, name string) bool {
	_, ok := findField(fields, name)
	return ok
}

func ec2Extras() []engine.Question {
	return []engine.Question{
		{Variable: "os_flavor", Prompt: "Choose operating system.", Type: engine.QuestionString, Options: engine.CuratedOptions("os_flavor")},
		{Variable: "storage_size", Prompt: "Choose root disk size (GB).", Type: engine.QuestionNumber, Hint: "Example: 20"},
		{Variable: "public_access", Prompt: "Should this instance be publicly accessible?", Type: engine.QuestionBoolean, Options: []string{"true", "false"}},
	}
}

func lambdaExtras() []engine.Question {
	return []engine.Question{
		{Variable: "runtime", Prompt: "Choose Lambda runtime.", Type: engine.QuestionString, Options: []string{"python3.12", "nodejs20.x", "java21", "dotnet8", "go1.x"}},
		{Variable: "memory", Prompt: "Choose Lambda memory (MB).", Type: engine.QuestionNumber, Hint: "Example: 256"},
		{Variable: "timeout", Prompt: "Choose Lambda timeout (seconds).", Type: engine.QuestionNumber, Hint: "Example: 30"},
	}
}

// appendExtras adds per-family questions whose variables are neither asked nor answered.
func appendExtras(questions []engine.Question, params map[string]interface{}, extras []engine.Question) []engine.Question {
	asked := make(map[string]bool, len(questions))
	for _, q := range questions {
		asked[q.Variable] = true
	}
	for _, q := range extras {
		if asked[q.Variable] || !engine.IsEmptyValue(params[q.Variable]) {
			continue
		}
		questions = append(questions, q)
	}
	return questions
}
