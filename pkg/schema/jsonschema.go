package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// JSONSchema derives a JSON Schema document from an operation schema.
// Role and network fields are left out of "required": the backend fills
// them when the caller did not.
func JSONSchema(schema *engine.OperationSchema) map[string]interface{} {
	props := make(map[string]interface{})
	var required []string
	for _, f := range schema.Required {
		props[f.Name] = fieldJSONSchema(f)
		if engine.ExcludedFields[f.Name] || engine.IsRoleField(f.Name) || engine.IsNetworkField(f.Name) {
			continue
		}
		required = append(required, f.Name)
	}
	for _, f := range schema.Optional {
		if _, ok := props[f.Name]; !ok {
			props[f.Name] = fieldJSONSchema(f)
		}
	}

	doc := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func fieldJSONSchema(f engine.FieldSpec) map[string]interface{} {
	switch f.Type {
	case engine.FieldInteger, engine.FieldLong:
		return map[string]interface{}{"type": "integer"}
	case engine.FieldDouble, engine.FieldFloat:
		return map[string]interface{}{"type": "number"}
	case engine.FieldBoolean:
		return map[string]interface{}{"type": "boolean"}
	case engine.FieldList:
		out := map[string]interface{}{"type": "array"}
		if len(f.Children) == 1 {
			out["items"] = fieldJSONSchema(f.Children[0])
		}
		return out
	case engine.FieldStructure:
		out := map[string]interface{}{"type": "object"}
		if len(f.Children) > 0 {
			props := make(map[string]interface{}, len(f.Children))
			names := make([]string, 0, len(f.Children))
			for _, c := range f.Children {
				props[c.Name] = fieldJSONSchema(c)
				names = append(names, c.Name)
			}
			out["properties"] = props
			out["required"] = names
		}
		return out
	case engine.FieldMap:
		return map[string]interface{}{"type": "object"}
	}

	out := map[string]interface{}{"type": "string"}
	if len(f.Enum) > 0 {
		out["enum"] = append([]string(nil), f.Enum...)
	}
	return out
}

// ValidatePayload checks a built payload against the operation's JSON Schema.
func (c *Catalog) ValidatePayload(schema *engine.OperationSchema, payload map[string]interface{}) error {
	return ValidatePayload(schema, payload)
}

// ValidatePayload checks a payload against the JSON Schema derived from schema.
func ValidatePayload(schema *engine.OperationSchema, payload map[string]interface{}) error {
	if schema == nil {
		return fmt.Errorf("payload validation: no schema")
	}
	schemaBytes, err := json.Marshal(JSONSchema(schema))
	if err != nil {
		return fmt.Errorf("payload validation: failed to serialize schema: %w", err)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload validation: failed to serialize payload: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaBytes), gojsonschema.NewBytesLoader(payloadBytes))
	if err != nil {
		return fmt.Errorf("payload validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s.%s payload is invalid: %s", schema.Service, schema.Operation, strings.Join(msgs, "; "))
}
