package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

// parseVars turns key=value pairs into input variables. Values are decoded
// as YAML scalars or flow collections, so "3" is an int and "[a, b]" a list.
func parseVars(pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", pair)
		}
		vars[key] = parseValue(raw)
	}
	return vars, nil
}

func parseValue(raw string) interface{} {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	var v interface{}
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	// Only scalars and flow collections; "a: b" stays a string.
	if _, isMap := v.(map[string]interface{}); isMap && !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return raw
	}
	return v
}

// mergeVars reads a YAML or JSON variables file and overlays the flag pairs.
func mergeVars(file []byte, pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{})
	if len(file) > 0 {
		if err := yaml.Unmarshal(file, &vars); err != nil {
			return nil, fmt.Errorf("failed to parse variables file: %w", err)
		}
	}
	flagVars, err := parseVars(pairs)
	if err != nil {
		return nil, err
	}
	for k, v := range flagVars {
		vars[k] = v
	}
	return vars, nil
}
