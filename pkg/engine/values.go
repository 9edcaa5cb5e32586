package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var (
	truthyTokens = map[string]bool{"true": true, "1": true, "yes": true, "y": true, "on": true}
	falsyTokens  = map[string]bool{"false": true, "0": true, "no": true, "n": true, "off": true}
)

// ToBool interprets common truthy/falsy tokens. Unknown values return def.
func ToBool(value interface{}, def bool) bool {
	switch v := value.(type) {
	case nil:
		return def
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	token := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
	if truthyTokens[token] {
		return true
	}
	if falsyTokens[token] {
		return false
	}
	return def
}

// ParseBoolToken returns the boolean for a truthy/falsy token and whether it was recognized.
func ParseBoolToken(s string) (bool, bool) {
	token := strings.ToLower(strings.TrimSpace(s))
	if truthyTokens[token] {
		return true, true
	}
	if falsyTokens[token] {
		return false, true
	}
	return false, false
}

// StringValue returns a trimmed string form of a scalar value, or "" for nil.
func StringValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// IsEmptyValue reports whether a parameter value counts as absent.
func IsEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

// CloneMap deep-copies a parameter map.
func CloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return make(map[string]interface{})
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return CloneMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}

// StringList converts a list-like value (slice, JSON array or comma separated string) into strings.
func StringList(value interface{}) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		return compactStrings(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, StringValue(item))
		}
		return compactStrings(out)
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "[") {
			var arr []interface{}
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				return StringList(arr)
			}
		}
		return compactStrings(strings.Split(s, ","))
	default:
		return compactStrings([]string{StringValue(v)})
	}
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeKey lowercases a key and strips separators so that aliases can be matched.
func NormalizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SnakeCase converts CamelCase field names into snake_case variables.
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') || (prev >= 'A' && prev <= 'Z' && nextLower) {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		if r == '-' || r == ' ' {
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ContainsAny reports whether text contains any of the tokens.
func ContainsAny(text string, tokens ...string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// IntValue parses an integer from a number or numeric string. Unparseable values return def.
func IntValue(value interface{}, def int) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	s := StringValue(value)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return def
}
