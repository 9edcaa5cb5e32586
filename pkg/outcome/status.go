package outcome

import (
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

var (
	notFoundHints = []string{"not found", "does not exist", "resource not found", "invalid", "no such", "notfound"}

	failedHints  = []string{"failed", "error", "rollback", "incompatible", "inactive", "terminated", "deleted"}
	pendingHints = []string{"creating", "pending", "initializing", "starting", "provisioning", "inprogress", "modifying", "updating", "rebooting", "backing-up"}

	transientHints = []string{"timed out", "timeout", "deadline exceeded", "name or service not known", "no such host", "temporary failure", "connection reset", "connection refused"}

	defaultStatusKeys = []string{"status", "state", "lifecycle_state", "cluster_status", "instance_status"}

	defaultEndpointKeys = []string{"website_url", "invoke_url", "endpoint", "url", "api_url", "app_url"}
)

// extractStatus returns the first non-empty lifecycle status in a description.
func (t *tables) extractStatus(resourceType string, described map[string]interface{}) string {
	keys := append([]string(nil), defaultStatusKeys...)
	for _, k := range t.statusHints[resourceType].StatusKeys {
		if !contains(keys, k) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		if s, ok := described[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// classifyStatus maps a lifecycle status onto a check status. Operator ready
// values win; unknown vocabulary is treated as ready.
func (t *tables) classifyStatus(resourceType, status string) engine.ValidationStatus {
	text := strings.ToLower(strings.NewReplacer(" ", "", "_", "").Replace(status))
	hint := t.statusHints[resourceType]

	if matchesAny(text, nil, hint.ReadyValues) {
		return engine.CheckPass
	}
	if matchesAny(text, failedHints, hint.FailedValues) {
		return engine.CheckFail
	}
	if matchesAny(text, pendingHints, hint.PendingValues) {
		return engine.CheckPending
	}
	return engine.CheckPass
}

func matchesAny(text string, builtin []string, custom []string) bool {
	for _, tok := range builtin {
		if strings.Contains(text, tok) {
			return true
		}
	}
	for _, tok := range custom {
		tok = strings.ToLower(strings.NewReplacer(" ", "", "_", "").Replace(tok))
		if tok != "" && strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if engine.IsNotFound(err) {
		return true
	}
	return engine.ContainsAny(strings.ToLower(err.Error()), notFoundHints...)
}

func looksTransient(text string) bool {
	return engine.ContainsAny(strings.ToLower(text), transientHints...)
}

// containsIdentifier reports whether any string in the payload equals the
// identifier or ends with "/<identifier>".
func containsIdentifier(node interface{}, identifier string) bool {
	want := strings.ToLower(strings.TrimSpace(identifier))
	if want == "" {
		return false
	}
	found := false
	walkStrings(node, func(s string) {
		low := strings.ToLower(s)
		if low == want || strings.HasSuffix(low, "/"+want) {
			found = true
		}
	})
	return found
}

func walkStrings(node interface{}, fn func(string)) {
	switch v := node.(type) {
	case map[string]interface{}:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case []map[string]interface{}:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case []interface{}:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case []string:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			fn(s)
		}
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
