package remediation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// contextValues are the substitution values for rule templates.
func contextValues(intent *engine.Intent, result *engine.ExecutionResult, pctx engine.PlanContext) map[string]interface{} {
	env := strings.TrimSpace(pctx.Environment)
	if env == "" {
		env = "dev"
	}
	name := strings.TrimSpace(intent.ResourceName)
	values := map[string]interface{}{
		"environment":         env,
		"request_id":          pctx.RequestID,
		"region":              intent.Region,
		"resource_type":       intent.ResourceType,
		"action":              string(intent.Action),
		"resource_name":       name,
		"instance_id":         firstValue(result.PayloadString("instance_id"), intent.StringParam("instance_id"), name),
		"bastion_instance_id": firstValue(result.PayloadString("bastion_instance_id"), intent.StringParam("bastion_instance_id")),
		"db_instance_id":      firstValue(result.PayloadString("db_instance_id"), intent.StringParam("db_instance_id"), name),
	}
	for k, v := range intent.Parameters {
		if _, ok := values[k]; !ok {
			values[k] = v
		}
	}
	return values
}

func firstValue(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// render substitutes {name} placeholders through strings, maps and lists.
// A string that is exactly one placeholder takes the raw value. A string
// with an unknown or empty placeholder is left unchanged.
func render(tmpl interface{}, values map[string]interface{}) interface{} {
	switch t := tmpl.(type) {
	case string:
		return renderString(t, values)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[k] = render(v, values)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, v := range t {
			out[i] = render(v, values)
		}
		return out
	default:
		return tmpl
	}
}

func renderString(s string, values map[string]interface{}) interface{} {
	if m := placeholderPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if v, ok := values[m[1]]; ok && !engine.IsEmptyValue(v) {
			return v
		}
		return s
	}

	missing := false
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := values[key]
		if !ok || engine.IsEmptyValue(v) {
			missing = true
			return match
		}
		return fmt.Sprint(v)
	})
	if missing {
		return s
	}
	return out
}
