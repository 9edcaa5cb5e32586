package remediation

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

//go:embed rules/default.yaml
var builtinRules embed.FS

// RuleFile is the on-disk shape of a remediation rules file. Both YAML and
// JSON are accepted.
type RuleFile struct {
	Defaults *DefaultsOverride `yaml:"defaults"`
	Rules    []Rule            `yaml:"rules" validate:"dive"`
}

// DefaultsOverride replaces individual plan defaults.
type DefaultsOverride struct {
	ApprovalScope string          `yaml:"approval_scope"`
	RetryStrategy *RetryOverride  `yaml:"retry_strategy"`
	Safety        *SafetyOverride `yaml:"safety"`
}

// Rule maps a failure signature to a fix-it plan.
type Rule struct {
	ID           string     `yaml:"id" validate:"required"`
	ResourceType string     `yaml:"resource_type"`
	Action       string     `yaml:"action"`
	ErrorMatch   ErrorMatch `yaml:"error_match"`

	// When is an optional CEL condition over intent, error, environment,
	// resource_type and action.
	When string `yaml:"when"`

	Actions                 []RuleAction    `yaml:"actions" validate:"dive"`
	ApprovalMessageTemplate string          `yaml:"approval_message_template"`
	HumanActions            []string        `yaml:"human_actions"`
	RequiredPermissions     []string        `yaml:"required_permissions"`
	RetryStrategy           *RetryOverride  `yaml:"retry_strategy"`
	Safety                  *SafetyOverride `yaml:"safety"`
}

// ErrorMatch selects failures by substring or regular expression. A rule
// without any matcher never matches.
type ErrorMatch struct {
	ContainsAny []string `yaml:"contains_any"`
	RegexAny    []string `yaml:"regex_any"`
}

// RuleAction is a templated execution step.
type RuleAction struct {
	Type   string                 `yaml:"type" validate:"required"`
	Params map[string]interface{} `yaml:"params"`
}

// RetryOverride overrides the default retry strategy field by field.
type RetryOverride struct {
	Mode           *string `yaml:"mode"`
	MaxAttempts    *int    `yaml:"max_attempts"`
	BackoffSeconds []int   `yaml:"backoff_seconds"`
}

// SafetyOverride overrides the default safety classification field by field.
type SafetyOverride struct {
	Destructive   *bool `yaml:"destructive"`
	RequiresAdmin *bool `yaml:"requires_admin"`
}

func (o *RetryOverride) apply(rs engine.RetryStrategy) engine.RetryStrategy {
	if o == nil {
		return rs
	}
	if o.Mode != nil {
		rs.Mode = *o.Mode
	}
	if o.MaxAttempts != nil {
		rs.MaxAttempts = *o.MaxAttempts
	}
	if o.BackoffSeconds != nil {
		rs.BackoffSeconds = append([]int(nil), o.BackoffSeconds...)
	}
	return rs
}

func (o *SafetyOverride) apply(s engine.Safety) engine.Safety {
	if o == nil {
		return s
	}
	if o.Destructive != nil {
		s.Destructive = *o.Destructive
	}
	if o.RequiresAdmin != nil {
		s.RequiresAdmin = *o.RequiresAdmin
	}
	return s
}

// defaults are the plan fields a rule does not set itself.
type defaults struct {
	approvalScope string
	retry         engine.RetryStrategy
	safety        engine.Safety
}

func baseDefaults(maxAttempts int) defaults {
	return defaults{
		approvalScope: "request_run",
		retry: engine.RetryStrategy{
			Mode:           "wait_then_retry",
			MaxAttempts:    maxAttempts,
			BackoffSeconds: []int{15, 30, 60},
		},
	}
}

// compiledRule is a Rule with its matchers prepared.
type compiledRule struct {
	Rule
	resourceType string
	action       string
	contains     []string
	patterns     []*regexp.Regexp
	condition    *condition
}

// RuleSet is an immutable, ready-to-match set of rules.
type RuleSet struct {
	defaults defaults
	rules    []*compiledRule
	source   string
}

var validate = validator.New()

// ParseRules decodes and compiles a rules document.
func ParseRules(data []byte, maxAttempts int) (*RuleSet, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode remediation rules: %w", err)
	}
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid remediation rules: %w", err)
	}

	set := &RuleSet{defaults: baseDefaults(maxAttempts)}
	if d := file.Defaults; d != nil {
		if s := strings.TrimSpace(d.ApprovalScope); s != "" {
			set.defaults.approvalScope = s
		}
		set.defaults.retry = d.RetryStrategy.apply(set.defaults.retry)
		set.defaults.safety = d.Safety.apply(set.defaults.safety)
	}

	seen := make(map[string]bool, len(file.Rules))
	for _, r := range file.Rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate remediation rule id %q", r.ID)
		}
		seen[r.ID] = true

		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		set.rules = append(set.rules, cr)
	}
	return set, nil
}

func compileRule(r Rule) (*compiledRule, error) {
	cr := &compiledRule{
		Rule:         r,
		resourceType: wildcard(r.ResourceType),
		action:       wildcard(r.Action),
	}
	for _, token := range r.ErrorMatch.ContainsAny {
		if t := strings.ToLower(strings.TrimSpace(token)); t != "" {
			cr.contains = append(cr.contains, t)
		}
	}
	for _, pattern := range r.ErrorMatch.RegexAny {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex_any pattern %q: %w", pattern, err)
		}
		cr.patterns = append(cr.patterns, re)
	}
	if strings.TrimSpace(r.When) != "" {
		cond, err := compileCondition(r.When)
		if err != nil {
			return nil, err
		}
		cr.condition = cond
	}
	return cr, nil
}

func wildcard(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "*"
	}
	return s
}

// matches applies the resource, action and error matchers.
func (r *compiledRule) matches(resourceType, action, errorText string) bool {
	if r.resourceType != "*" && r.resourceType != resourceType {
		return false
	}
	if r.action != "*" && r.action != action {
		return false
	}
	if len(r.contains) == 0 && len(r.patterns) == 0 {
		return false
	}
	if len(r.contains) > 0 {
		found := false
		for _, token := range r.contains {
			if strings.Contains(errorText, token) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.patterns) > 0 {
		found := false
		for _, re := range r.patterns {
			if re.MatchString(errorText) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// loadRuleSet reads the rules file at path, or the built-in rules when path
// is empty. A missing file yields an empty rule set.
func loadRuleSet(path string, maxAttempts int) (*RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		data, err := builtinRules.ReadFile("rules/default.yaml")
		if err != nil {
			return nil, err
		}
		set, err := ParseRules(data, maxAttempts)
		if err != nil {
			return nil, err
		}
		set.source = "builtin"
		return set, nil
	}

	path = expandHome(path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &RuleSet{defaults: baseDefaults(maxAttempts), source: path}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read remediation rules: %w", err)
	}
	set, err := ParseRules(data, maxAttempts)
	if err != nil {
		return nil, err
	}
	set.source = path
	return set, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
