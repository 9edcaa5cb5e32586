package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoerceValue converts a loosely-typed parameter value onto the field's type.
//
// Integers and floats are parsed from strings, booleans from truthy/falsy tokens,
// lists from comma separated strings or JSON arrays, and structures and maps
// from JSON objects.
func CoerceValue(field FieldSpec, value interface{}) (interface{}, error) {
	switch field.Type {
	case FieldInteger, FieldLong:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("field %s expects an integer, got %v", field.Name, v)
			}
			return int64(v), nil
		}
		s := StringValue(value)
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || f != math.Trunc(f) {
				return nil, fmt.Errorf("field %s expects an integer, got %q", field.Name, s)
			}
			n = int64(f)
		}
		return n, nil

	case FieldDouble, FieldFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		s := StringValue(value)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s expects a number, got %q", field.Name, s)
		}
		return f, nil

	case FieldBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		b, ok := ParseBoolToken(StringValue(value))
		if !ok {
			return nil, fmt.Errorf("field %s expects true or false, got %q", field.Name, StringValue(value))
		}
		return b, nil

	case FieldList:
		var items []interface{}
		switch v := value.(type) {
		case []interface{}:
			items = append([]interface{}(nil), v...)
		case string:
			trimmed := strings.TrimSpace(v)
			if strings.HasPrefix(trimmed, "[") {
				if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
					return nil, fmt.Errorf("field %s expects a JSON array: %w", field.Name, err)
				}
				break
			}
			for _, s := range StringList(trimmed) {
				items = append(items, s)
			}
		default:
			for _, s := range StringList(value) {
				items = append(items, s)
			}
		}
		if len(field.Children) == 1 {
			member := field.Children[0]
			for i, item := range items {
				coerced, err := CoerceValue(member, item)
				if err != nil {
					return nil, err
				}
				items[i] = coerced
			}
		}
		return items, nil

	case FieldStructure, FieldMap:
		switch v := value.(type) {
		case map[string]interface{}:
			return v, nil
		case string:
			var obj map[string]interface{}
			if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &obj); err != nil {
				return nil, fmt.Errorf("field %s expects a JSON object: %w", field.Name, err)
			}
			return obj, nil
		}
		return nil, fmt.Errorf("field %s expects an object", field.Name)

	default:
		switch v := value.(type) {
		case string:
			return v, nil
		case []interface{}, map[string]interface{}:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(data), nil
		}
		return StringValue(value), nil
	}
}

// lookupField finds a parameter value for a provider field: the conversational
// variable, the raw field name, its snake_case form, or the resource name.
func lookupField(intent *Intent, field FieldSpec) (interface{}, bool) {
	candidates := []string{FieldVariable(field.Name), field.Name, SnakeCase(field.Name)}
	for _, key := range candidates {
		if v := intent.Param(key); !IsEmptyValue(v) {
			return v, true
		}
	}
	if NameFields[field.Name] && intent.ResourceName != "" {
		return intent.ResourceName, true
	}
	if def, ok := FieldDefaults[field.Name]; ok {
		return def, true
	}
	return nil, false
}

// executeModelDriven invokes the resolved operation directly from its input schema,
// with no generated code.
func (p *pipeline) executeModelDriven(ctx context.Context, run *pipelineRun) *ExecutionResult {
	if p.schemas == nil {
		return nil
	}
	intent := run.intent
	service := p.schemas.ServiceFor(intent.ResourceType)
	operation := p.schemas.ResolveOperation(service, intent.ResourceType, intent.Action)
	if operation == "" {
		return Failure(fmt.Sprintf("no operation model found for %s %s", intent.Action, intent.ResourceType))
	}
	schema, err := p.schemas.OperationSchema(service, operation)
	if err != nil {
		return Failure(fmt.Sprintf("failed to load operation model %s.%s: %v", service, operation, err))
	}

	customNetworking := WantsCustomNetworking(intent.Parameters)
	payload := make(map[string]interface{})
	var questions []Question

	for _, field := range schema.Required {
		if ExcludedFields[field.Name] {
			continue
		}
		value, ok := lookupField(intent, field)
		if !ok {
			if IsRoleField(field.Name) {
				continue
			}
			if IsNetworkField(field.Name) && !customNetworking {
				continue
			}
			questions = append(questions, QuestionForField(field, FieldVariable(field.Name), ""))
			continue
		}
		coerced, err := CoerceValue(field, value)
		if err != nil {
			return Failure(err.Error())
		}
		payload[field.Name] = coerced
	}

	for _, field := range schema.Optional {
		if ExcludedFields[field.Name] {
			if field.Name == "Tags" && len(run.tags) > 0 {
				payload[field.Name] = tagsForField(field, run.tags)
			}
			continue
		}
		value, ok := lookupField(intent, field)
		if !ok {
			continue
		}
		coerced, err := CoerceValue(field, value)
		if err != nil {
			continue
		}
		payload[field.Name] = coerced
	}

	if len(questions) > 0 {
		res := RequiresInputResult(fmt.Sprintf("I need a few values before running %s.", operation), DedupeQuestions(questions))
		res.Continuation = &Continuation{Kind: ContinuationMissingFields, Operation: operation}
		res.ExecutionPath = PathModelDriven
		return res
	}

	if err := p.schemas.ValidatePayload(schema, payload); err != nil {
		return Failure(fmt.Sprintf("payload for %s failed validation: %v", operation, err))
	}

	out, err := p.backend.Invoke(ctx, OperationCall{Service: service, Operation: operation, Payload: payload})
	if err != nil {
		return Failure(fmt.Sprintf("%s failed: %v", operation, err))
	}
	if out == nil {
		out = make(map[string]interface{})
	}
	out["operation"] = operation
	return &ExecutionResult{
		Success:       true,
		Payload:       out,
		Message:       fmt.Sprintf("Executed %s.%s.", service, operation),
		ExecutionPath: PathModelDriven,
	}
}

func tagsForField(field FieldSpec, tags map[string]string) interface{} {
	if field.Type == FieldMap {
		out := make(map[string]interface{}, len(tags))
		for k, v := range tags {
			out[k] = v
		}
		return out
	}
	out := make([]interface{}, 0, len(tags))
	for k, v := range tags {
		out = append(out, map[string]interface{}{"Key": k, "Value": v})
	}
	return out
}

// WantsCustomNetworking reports whether the parameters opt into custom networking.
func WantsCustomNetworking(params map[string]interface{}) bool {
	for _, flag := range []string{"use_custom_networking", "custom_networking", "custom_network", "network_custom"} {
		switch v := params[flag].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "y", "custom", "manual":
				return true
			}
		}
	}
	switch strings.ToLower(StringValue(params["network_profile"])) {
	case "custom", "manual", "advanced":
		return true
	}
	for _, key := range NetworkParamKeys {
		value := params[key]
		if IsEmptyValue(value) {
			continue
		}
		if s, ok := value.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "default", "auto", "automatic", "none", "null":
				continue
			}
		}
		return true
	}
	return false
}
