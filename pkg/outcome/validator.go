package outcome

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

const tracerName = "github.com/openfroyo/cloudpilot/pkg/outcome"

// Defaults for Options.
const (
	DefaultProbeTimeout  = 4 * time.Second
	DefaultProbeAttempts = 3
	DefaultProbeInterval = 2 * time.Second
	DefaultMaxEndpoints  = 4
	DefaultListLimit     = 50
)

// Options configures a Validator.
type Options struct {
	Backend engine.Backend

	// HTTPClient performs liveness probes. Its own Timeout is not used;
	// each attempt is bounded by ProbeTimeout.
	HTTPClient *http.Client

	ProbeTimeout  time.Duration
	ProbeAttempts int
	ProbeInterval time.Duration
	MaxEndpoints  int

	// Rules override the built-in tables. May be nil.
	Rules *Rules

	// DefaultRegion is used to build endpoints when neither the result nor the intent has a region.
	DefaultRegion string

	Logger zerolog.Logger
}

// Validator independently re-checks a reported success by describing the
// resource and probing its endpoints. It never changes Success.
type Validator struct {
	backend       engine.Backend
	client        *http.Client
	probeTimeout  time.Duration
	probeAttempts int
	probeInterval time.Duration
	maxEndpoints  int
	defaultRegion string
	tables        *tables
	adapters      map[string]adapter
	logger        zerolog.Logger
	tracer        trace.Tracer
}

var _ engine.OutcomeValidator = (*Validator)(nil)

// check is the mutable state of one validation.
type check struct {
	intent       *engine.Intent
	result       *engine.ExecutionResult
	action       engine.Action
	resourceType string
	validation   *engine.OutcomeValidation
}

func (c *check) add(name, kind string, status engine.ValidationStatus, target, detail string) {
	c.validation.AddCheck(engine.ValidationCheck{Name: name, Kind: kind, Status: status, Target: target, Detail: detail})
}

func (c *check) creating() bool {
	return c.action == engine.ActionCreate || c.action == engine.ActionUpdate
}

func (c *check) setDeploy(done bool, detail string) {
	c.validation.PhaseHints.DeployCompleted = &done
	if detail != "" {
		c.validation.PhaseHints.DeployDetail = detail
	}
}

// setPayloadDefault adds a derived value to the result payload unless present.
func (c *check) setPayloadDefault(key, value string) {
	if c.result.Payload == nil {
		c.result.Payload = map[string]interface{}{}
	}
	if engine.IsEmptyValue(c.result.Payload[key]) {
		c.result.Payload[key] = value
	}
}

type adapter func(ctx context.Context, v *Validator, c *check)

// NewValidator creates an outcome validator.
func NewValidator(opts Options) *Validator {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.ProbeAttempts <= 0 {
		opts.ProbeAttempts = DefaultProbeAttempts
	}
	if opts.ProbeInterval < 0 {
		opts.ProbeInterval = 0
	}
	if opts.MaxEndpoints <= 0 {
		opts.MaxEndpoints = DefaultMaxEndpoints
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "us-east-1"
	}

	t := defaultTables()
	t.apply(opts.Rules)

	v := &Validator{
		backend:       opts.Backend,
		client:        opts.HTTPClient,
		probeTimeout:  opts.ProbeTimeout,
		probeAttempts: opts.ProbeAttempts,
		probeInterval: opts.ProbeInterval,
		maxEndpoints:  opts.MaxEndpoints,
		defaultRegion: opts.DefaultRegion,
		tables:        t,
		logger:        opts.Logger.With().Str("component", "outcome").Logger(),
		tracer:        otel.Tracer(tracerName),
	}
	v.adapters = map[string]adapter{
		"s3":              validateS3,
		"ec2":             validateEC2,
		"eks":             validateEKS,
		"apigateway":      validateAPIGateway,
		"elb":             validateELB,
		"cloudfront":      validateCloudFront,
		"wellarchitected": validateWellArchitected,
	}
	return v
}

// Validate implements engine.OutcomeValidator. It returns a validation with
// Performed=false when no check applied.
func (v *Validator) Validate(ctx context.Context, intent *engine.Intent, result *engine.ExecutionResult) *engine.OutcomeValidation {
	if intent == nil {
		intent = &engine.Intent{}
	}
	if result == nil {
		return &engine.OutcomeValidation{Performed: false}
	}

	action := result.Action
	if action == "" {
		action = intent.Action
	}
	rt := result.ResourceType
	if rt == "" {
		rt = intent.ResourceType
	}
	rt = v.tables.normalize(rt)

	ctx, span := v.tracer.Start(ctx, "outcome.validate",
		trace.WithAttributes(
			attribute.String("resource_type", rt),
			attribute.String("action", string(action)),
		))
	defer span.End()

	c := &check{
		intent:       intent,
		result:       result,
		action:       action,
		resourceType: rt,
		validation:   &engine.OutcomeValidation{ResourceType: rt, Checks: []engine.ValidationCheck{}},
	}
	c.validation.Identifier = v.identifier(c)

	if a, ok := v.adapters[rt]; ok {
		a(ctx, v, c)
	} else {
		validateGeneric(ctx, v, c)
	}

	v.applyPhaseHintRules(c)
	v.probeEndpoints(ctx, c, v.endpointCandidates(c))

	c.validation.Performed = len(c.validation.Checks) > 0
	s := c.validation.Summary
	span.SetAttributes(
		attribute.Int("checks.passed", s.Passed),
		attribute.Int("checks.failed", s.Failed),
		attribute.Int("checks.pending", s.Pending),
	)
	v.logger.Debug().
		Str("resource_type", rt).
		Str("action", string(action)).
		Str("identifier", c.validation.Identifier).
		Int("checks", s.Total).
		Int("failed", s.Failed).
		Int("pending", s.Pending).
		Msg("Outcome validated")
	return c.validation
}

// identifier resolves the affected resource's identifier from the result,
// then the intent parameters, then the resource name.
func (v *Validator) identifier(c *check) string {
	keys := v.tables.identifierKeys[c.resourceType]
	for _, k := range keys {
		if s := c.result.PayloadString(k); s != "" {
			return s
		}
	}
	for _, k := range keys {
		if s := strings.TrimSpace(c.intent.StringParam(k)); s != "" {
			return s
		}
	}
	return engine.ResultIdentifier(c.intent, c.result)
}

func (v *Validator) region(c *check) string {
	if c.result.Region != "" {
		return c.result.Region
	}
	if s := c.result.PayloadString("region"); s != "" {
		return s
	}
	if c.intent.Region != "" {
		return c.intent.Region
	}
	return v.defaultRegion
}

// describe returns engine.ErrUnsupported when there is nothing to describe with.
func (v *Validator) describe(ctx context.Context, resourceType, identifier string) (map[string]interface{}, error) {
	if v.backend == nil || identifier == "" {
		return nil, engine.ErrUnsupported
	}
	return v.backend.Describe(ctx, resourceType, identifier)
}

func (v *Validator) list(ctx context.Context, resourceType string) ([]map[string]interface{}, error) {
	if v.backend == nil {
		return nil, engine.ErrUnsupported
	}
	return v.backend.List(ctx, resourceType, DefaultListLimit)
}

func (v *Validator) addDescribeCheck(c *check, identifier string, described map[string]interface{}) {
	status := v.tables.extractStatus(c.resourceType, described)
	if status == "" {
		c.add("resource_describe", "describe", engine.CheckPass, identifier, "")
		return
	}
	c.add("resource_describe", "describe", v.tables.classifyStatus(c.resourceType, status), identifier, "status="+status)
}

func (v *Validator) applyPhaseHintRules(c *check) {
	rule, ok := v.tables.phaseHints[c.resourceType]
	if !ok {
		return
	}
	hints := &c.validation.PhaseHints
	action := strings.ToLower(string(c.action))

	if len(rule.DeployCompletedActions) > 0 {
		matched := false
		for _, a := range rule.DeployCompletedActions {
			a = strings.ToLower(a)
			if a == action || a == "*" {
				matched = true
				break
			}
		}
		if matched {
			done := true
			if rule.DeployCompleted != nil {
				done = *rule.DeployCompleted
			}
			hints.DeployCompleted = &done
			if rule.DeployDetail != "" {
				hints.DeployDetail = rule.DeployDetail
			}
		}
	}

	selected, ok := rule.Actions[action]
	if !ok {
		selected, ok = rule.Actions["*"]
	}
	if ok {
		if selected.DeployCompleted != nil {
			done := *selected.DeployCompleted
			hints.DeployCompleted = &done
		}
		if selected.DeployDetail != "" {
			hints.DeployDetail = selected.DeployDetail
		}
		if selected.HealthDetail != "" {
			hints.HealthDetail = selected.HealthDetail
		}
	}

	if rule.HealthDetail != "" && hints.HealthDetail == "" {
		hints.HealthDetail = rule.HealthDetail
	}
}

// endpointCandidates collects http(s) endpoints from the result, the intent
// parameters and operator templates, deduplicated in order.
func (v *Validator) endpointCandidates(c *check) []string {
	keys := append([]string(nil), defaultEndpointKeys...)
	for _, k := range v.tables.endpointKeys[c.resourceType] {
		if !contains(keys, k) {
			keys = append(keys, k)
		}
	}

	var candidates []string
	for _, source := range []map[string]interface{}{c.result.Payload, c.intent.Parameters} {
		for _, k := range keys {
			if s, ok := source[k].(string); ok && isHTTPURL(s) {
				candidates = append(candidates, s)
			}
		}
	}

	if c.resourceType == "s3" && websiteRequested(c) {
		bucket := c.result.PayloadString("bucket_name")
		if bucket == "" {
			bucket = c.intent.ResourceName
		}
		if bucket != "" {
			url := fmt.Sprintf("http://%s.s3-website-%s.amazonaws.com", bucket, v.region(c))
			c.setPayloadDefault("website_url", url)
			candidates = append(candidates, url)
		}
	}

	if templates := v.tables.endpointTemplates[c.resourceType]; len(templates) > 0 {
		data := v.templateData(c)
		for _, tmpl := range templates {
			if rendered := renderTemplate(tmpl, data); isHTTPURL(rendered) {
				candidates = append(candidates, rendered)
			}
		}
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, u := range candidates {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

func (v *Validator) templateData(c *check) map[string]string {
	data := make(map[string]string)
	put := func(m map[string]interface{}) {
		for k, val := range m {
			switch val.(type) {
			case string, bool, int, int64, float64:
				if s := engine.StringValue(val); s != "" {
					data[k] = s
				}
			}
		}
	}
	put(c.intent.Parameters)
	put(c.result.Payload)
	data["resource_type"] = c.resourceType
	data["region"] = v.region(c)
	data["action"] = string(c.action)
	if _, ok := data["resource_name"]; !ok {
		data["resource_name"] = c.intent.ResourceName
	}
	return data
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// renderTemplate substitutes {key} placeholders; unknown keys render empty.
func renderTemplate(tmpl string, data map[string]string) string {
	return strings.TrimSpace(placeholder.ReplaceAllStringFunc(strings.TrimSpace(tmpl), func(m string) string {
		return data[m[1:len(m)-1]]
	}))
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func websiteRequested(c *check) bool {
	return !engine.IsEmptyValue(c.result.Payload["website_configuration"]) ||
		!engine.IsEmptyValue(c.intent.Param("website_configuration")) ||
		engine.ToBool(c.intent.Param("website_enabled"), false)
}
