package nlu

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

const (
	SourceRemote = "nlu"
	SourceLocal  = "local"

	// DefaultRegion is used when neither the text nor the caller names a region.
	DefaultRegion = "us-east-1"
)

// Parser normalizes the output of an upstream intent parser. An action
// outside the five known values or an unknown resource family is replaced by
// a local reparse of the text. Without an upstream, or when it fails, the
// local parse is used as is.
type Parser struct {
	upstream engine.IntentParser
	logger   zerolog.Logger
}

var _ engine.IntentParser = (*Parser)(nil)

// NewParser wraps upstream, which may be nil.
func NewParser(upstream engine.IntentParser, logger zerolog.Logger) *Parser {
	return &Parser{
		upstream: upstream,
		logger:   logger.With().Str("component", "nlu").Logger(),
	}
}

// Parse implements engine.IntentParser.
func (p *Parser) Parse(ctx context.Context, text, regionHint string) (*engine.Intent, error) {
	if p.upstream == nil {
		return Normalize(ParseLocal(text, regionHint), text, regionHint), nil
	}

	intent, err := p.upstream.Parse(ctx, text, regionHint)
	if err != nil || intent == nil {
		p.logger.Warn().Err(err).Msg("Intent service unavailable, parsing locally")
		return Normalize(ParseLocal(text, regionHint), text, regionHint), nil
	}

	normalized := Normalize(intent, text, regionHint)
	if normalized.Action != intent.Action || normalized.ResourceType != strings.ToLower(strings.TrimSpace(intent.ResourceType)) {
		p.logger.Info().
			Str("action", string(intent.Action)).
			Str("resource_type", intent.ResourceType).
			Str("normalized_action", string(normalized.Action)).
			Str("normalized_resource_type", normalized.ResourceType).
			Msg("Intent corrected by local reparse")
	}
	return normalized, nil
}

// Normalize applies the deterministic post-processing to a parsed intent and
// returns a new intent. Unknown actions and resource families are taken from
// the local parse; a region named in the text wins over the parsed one;
// heuristic parameters fill keys the intent leaves empty.
func Normalize(in *engine.Intent, text, regionHint string) *engine.Intent {
	if in == nil {
		in = ParseLocal(text, regionHint)
	}
	lowered := strings.ToLower(strings.TrimSpace(text))
	out := in.Clone()
	out.Action = engine.ParseAction(string(out.Action))
	out.ResourceType = strings.ToLower(strings.TrimSpace(out.ResourceType))

	var local *engine.Intent
	reparse := func() *engine.Intent {
		if local == nil {
			local = ParseLocal(text, regionHint)
		}
		return local
	}

	if out.Action.Validate() != nil {
		out.Action = reparse().Action
	}

	targets := engine.InferServices(lowered)
	if !engine.KnownResourceType(out.ResourceType) {
		if len(targets) > 0 {
			out.ResourceType = targets[0]
		} else {
			out.ResourceType = reparse().ResourceType
		}
	}
	if engine.IsServerlessPhrase(lowered) && (out.ResourceType == "ec2" || out.ResourceType == "unknown") {
		out.ResourceType = "lambda"
		if engine.ContainsAny(lowered, "api gateway", "http api", "rest api") {
			out.ResourceType = "apigateway"
		}
	}
	if len(targets) > 0 && isArchitectureRequest(lowered) && engine.KnownResourceType(targets[0]) {
		out.ResourceType = targets[0]
	}
	if isThreeTier(lowered) && (out.ResourceType == "ec2" || out.ResourceType == "unknown") {
		out.ResourceType = "vpc"
	}

	if m := regionPattern.FindStringSubmatch(lowered); m != nil {
		out.Region = m[1]
	}
	if strings.TrimSpace(out.Region) == "" {
		out.Region = firstNonEmpty(regionHint, DefaultRegion)
	}

	if engine.IsPlaceholder(out.ResourceName) {
		out.ResourceName = extractName(text, lowered)
	}
	out.ResourceName = sanitizeName(out.ResourceName, out.ResourceType)

	params := out.Parameters
	if params == nil {
		params = make(map[string]interface{})
	}
	for key, value := range extractParameters(lowered) {
		existing, ok := params[key]
		if !ok || isPlaceholderValue(existing) {
			params[key] = value
		}
	}
	params = engine.SanitizeParameters(params)
	if len(targets) > 0 {
		params["service_targets"] = toInterfaces(targets)
	}
	setDefault := func(key string, value interface{}) {
		if _, ok := params[key]; !ok {
			params[key] = value
		}
	}
	if style := architectureStyle(lowered, targets); style != "" {
		setDefault("architecture_style", style)
	}
	if engine.IsServerlessPhrase(lowered) {
		setDefault("use_api_gateway", true)
		if engine.ContainsAny(lowered, "web app", "webapp", "website") {
			setDefault("delivery_tier", "web")
		}
	}
	if isThreeTier(lowered) {
		setDefault("requires_vpc", true)
		setDefault("requires_alb", engine.ContainsAny(lowered, "alb", "load balancer"))
		setDefault("requires_private_app_tier", engine.ContainsAny(lowered, "private app tier", "private tier"))
		setDefault("requires_database_tier", engine.ContainsAny(lowered, "rds", "database", "db tier"))
		setDefault("requires_health_checks", strings.Contains(lowered, "health check"))
	}
	if _, ok := params["security_group_id"]; !ok {
		if groups := engine.StringList(params["vpc_security_group_ids"]); len(groups) > 0 {
			params["security_group_id"] = groups[0]
		}
	}
	out.Parameters = params

	if out.Source == "" {
		out.Source = SourceRemote
	}
	if out.Confidence <= 0 {
		out.Confidence = LocalConfidence
	}
	return out
}

func isPlaceholderValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return engine.IsPlaceholder(t)
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
