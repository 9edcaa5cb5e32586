package nlu

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// LocalConfidence is the confidence assigned to locally parsed intents.
const LocalConfidence = 0.75

// actionKeywords is checked in order; the first action with a matching keyword wins.
var actionKeywords = []struct {
	action   engine.Action
	keywords []string
}{
	{engine.ActionCreate, []string{"create", "make", "build", "provision", "deploy", "launch", "setup", "set up", "add", "spin up", "start", "new"}},
	{engine.ActionDelete, []string{"delete", "remove", "destroy", "terminate", "kill", "drop", "tear down", "shut down", "decommission"}},
	{engine.ActionUpdate, []string{"update", "modify", "change", "edit", "alter", "resize", "scale", "upgrade", "downgrade", "reconfigure"}},
	{engine.ActionList, []string{"list", "show all", "display all", "get all", "find all", "enumerate"}},
	{engine.ActionDescribe, []string{"describe", "show", "get", "details", "info", "status", "check"}},
}

var actionPatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, a := range actionKeywords {
		for _, kw := range a.keywords {
			out[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		}
	}
	return out
}()

var (
	regionPattern = regexp.MustCompile(`\b(us-east-[12]|us-west-[12]|eu-west-[123]|eu-central-1|eu-north-1|` +
		`ap-south-[12]|ap-southeast-[123]|ap-northeast-[123]|sa-east-1|ca-central-1|me-south-1|af-south-1)\b`)

	namedPattern  = regexp.MustCompile(`(?:named|called|name)\s+["']?([a-z0-9][\w.-]*)["']?`)
	quotedPattern = regexp.MustCompile(`["']([a-zA-Z0-9][\w.-]+)["']`)
	nounPattern   = regexp.MustCompile(`(?:bucket|instance|table|queue|topic|function|cluster|role|policy|group|domain|stream|secret|key|volume|certificate)\s+([a-z][a-z0-9_-]+)`)

	instanceTypePattern = regexp.MustCompile(`\b(t[234]g?\.\w+|m[4567]g?\.\w+|c[5678]g?\.\w+|r[5678]g?\.\w+|p[345]\.\w+|g[45]\w*\.\w+)`)
	storagePattern      = regexp.MustCompile(`(\d+)\s*(?:gb|gib|tb|tib)\b`)
	cidrPattern         = regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}/\d{1,2})`)
	portPattern         = regexp.MustCompile(`\bport\s+(\d+)`)
	keyPairPattern      = regexp.MustCompile(`key\s*(?:pair|name)\s+(\S+)`)
	amiPattern          = regexp.MustCompile(`\b(ami-[a-f0-9]+)\b`)
	indexDocPattern     = regexp.MustCompile(`index(?:[_\s-]?document)?\s*(?:=|:|is)?\s*([a-z0-9._/-]+\.html?)`)
	errorDocPattern     = regexp.MustCompile(`error(?:[_\s-]?document)?\s*(?:=|:|is)?\s*([a-z0-9._/-]+\.html?)`)
	nodeCountPattern    = regexp.MustCompile(`(?:desired|nodes?|node count)\s*[:=]?\s*(\d+)`)
	threeTierPattern    = regexp.MustCompile(`\b(3|three|multi)\s*-?\s*tier\b`)
)

var nameStopWords = map[string]bool{
	"in": true, "on": true, "at": true, "for": true, "with": true, "from": true, "to": true, "the": true,
	"and": true, "or": true, "named": true, "called": true, "using": true, "that": true, "this": true,
	"which": true, "type": true, "size": true, "create": true, "delete": true, "update": true, "list": true,
	"describe": true,
}

var reservedNames = map[string]bool{
	"aws": true, "resource": true, "service": true, "cluster": true, "mode": true, "server": true,
	"instance": true, "database": true, "bucket": true, "function": true, "default": true, "new": true,
}

var reservedNamesByType = map[string][]string{
	"eks":        {"eks", "kubernetes", "k8s", "kubernates", "kubernets", "kubernete"},
	"ecs":        {"ecs", "fargate", "container"},
	"lambda":     {"lambda", "serverless"},
	"apigateway": {"api", "apigateway", "api-gateway"},
	"s3":         {"s3", "bucket"},
	"vpc":        {"vpc", "network", "subnet"},
}

var engines = []string{"mysql", "postgresql", "postgres", "mariadb", "oracle", "sqlserver", "aurora"}

var runtimes = []string{
	"python3.9", "python3.10", "python3.11", "python3.12",
	"nodejs16.x", "nodejs18.x", "nodejs20.x",
	"java11", "java17", "java21",
	"go1.x", "ruby3.2", "dotnet6", "dotnet8",
}

// ParseLocal extracts an intent from text with keyword and pattern rules.
// It never fails; an unrecognized resource family is reported as "unknown".
func ParseLocal(text, regionHint string) *engine.Intent {
	lowered := strings.ToLower(strings.TrimSpace(text))

	intent := &engine.Intent{
		Action:       detectAction(lowered),
		ResourceType: "unknown",
		ResourceName: "",
		Region:       detectRegion(lowered, regionHint),
		Parameters:   extractParameters(lowered),
		Confidence:   LocalConfidence,
		Source:       SourceLocal,
	}

	targets := engine.InferServices(lowered)
	switch {
	case len(targets) > 0:
		intent.ResourceType = targets[0]
		intent.Parameters["service_targets"] = toInterfaces(targets)
	case engine.IsServerlessPhrase(lowered):
		intent.ResourceType = "lambda"
	default:
		if rt := engine.InferService(lowered); rt != "" {
			intent.ResourceType = rt
		}
	}
	if style := architectureStyle(lowered, targets); style != "" {
		if _, ok := intent.Parameters["architecture_style"]; !ok {
			intent.Parameters["architecture_style"] = style
		}
	}
	intent.ResourceName = sanitizeName(extractName(text, lowered), intent.ResourceType)
	return intent
}

func detectAction(lowered string) engine.Action {
	for _, a := range actionKeywords {
		for _, kw := range a.keywords {
			if actionPatterns[kw].MatchString(lowered) {
				return a.action
			}
		}
	}
	return engine.ActionCreate
}

func detectRegion(lowered, hint string) string {
	if m := regionPattern.FindStringSubmatch(lowered); m != nil {
		return m[1]
	}
	if hint = strings.TrimSpace(hint); hint != "" {
		return hint
	}
	return DefaultRegion
}

func extractName(text, lowered string) string {
	if m := namedPattern.FindStringSubmatch(lowered); m != nil {
		return m[1]
	}
	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := nounPattern.FindStringSubmatch(lowered); m != nil {
		name := m[1]
		if !nameStopWords[name] && len(name) > 1 {
			return name
		}
	}
	return ""
}

// sanitizeName drops names that merely repeat a generic word or the service name.
func sanitizeName(name, resourceType string) string {
	name = strings.TrimSpace(name)
	if name == "" || engine.IsPlaceholder(name) {
		return ""
	}
	lowered := strings.ToLower(name)
	if reservedNames[lowered] {
		return ""
	}
	for _, reserved := range reservedNamesByType[strings.ToLower(resourceType)] {
		if lowered == reserved {
			return ""
		}
	}
	return name
}

func isThreeTier(lowered string) bool {
	condensed := condense(lowered)
	if strings.Contains(condensed, "3tier") || strings.Contains(condensed, "threetier") || strings.Contains(condensed, "multitier") {
		return true
	}
	return threeTierPattern.MatchString(lowered)
}

func isArchitectureRequest(lowered string) bool {
	return engine.ContainsAny(lowered,
		"architecture", "build app", "web app", "web application", "website", "pipeline", "platform",
		"serverless", "fargate", "kubernetes", "3 tier", "three tier", "security setup", "firewall")
}

func architectureStyle(lowered string, targets []string) string {
	switch {
	case engine.IsServerlessPhrase(lowered):
		if engine.ContainsAny(lowered, "website", "web app", "frontend", "url", "public") {
			return "serverless_web"
		}
		return "serverless"
	case engine.ContainsAny(lowered, "fargate", "ecs"):
		return "container_fargate"
	case engine.ContainsAny(lowered, "kubernetes", "k8s", "eks"):
		return "kubernetes"
	case isThreeTier(lowered):
		return "three_tier"
	case engine.ContainsAny(lowered, "glue", "etl", "crawler"):
		return "data_pipeline"
	case engine.ContainsAny(lowered, "firewall", "waf", "security group"):
		return "security_hardening"
	}
	hasLambda, hasAPI := false, false
	for _, t := range targets {
		hasLambda = hasLambda || t == "lambda"
		hasAPI = hasAPI || t == "apigateway"
	}
	if hasLambda && hasAPI {
		return "serverless"
	}
	return ""
}

// extractParameters pulls configuration values out of the lowered text.
func extractParameters(lowered string) map[string]interface{} {
	params := make(map[string]interface{})
	setDefault := func(key string, value interface{}) {
		if _, ok := params[key]; !ok {
			params[key] = value
		}
	}

	if engine.IsServerlessPhrase(lowered) {
		params["architecture_style"] = "serverless"
		setDefault("use_api_gateway", true)
	}
	if strings.Contains(lowered, "fargate") {
		params["architecture_style"] = "container_fargate"
		setDefault("launch_type", "FARGATE")
		if engine.ContainsAny(lowered, "website", "web app", "webapp", "api", "service") {
			setDefault("requires_load_balancer", true)
		}
	}
	if engine.ContainsAny(lowered, "api gateway", "apigateway", "http api", "rest api") {
		setDefault("use_api_gateway", true)
	}

	if m := instanceTypePattern.FindStringSubmatch(lowered); m != nil {
		params["instance_type"] = m[1]
	}

	switch {
	case engine.ContainsAny(lowered, "amazon linux 2023", "al2023", "amazonlinux2023"):
		params["os_flavor"] = "amazon-linux-2023"
	case engine.ContainsAny(lowered, "amazon linux 2", "amzn2", "amazonlinux2"):
		params["os_flavor"] = "amazon-linux-2"
	case engine.ContainsAny(lowered, "ubuntu 22", "ubuntu22", "jammy"):
		params["os_flavor"] = "ubuntu-22.04"
	case engine.ContainsAny(lowered, "ubuntu 20", "ubuntu20", "focal"):
		params["os_flavor"] = "ubuntu-20.04"
	case engine.ContainsAny(lowered, "windows 2022", "windows server 2022"):
		params["os_flavor"] = "windows-2022"
	}

	if m := storagePattern.FindStringSubmatch(lowered); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			params["storage_size"] = n
		}
	}
	if strings.Contains(lowered, "encrypt") {
		params["encryption"] = true
	}
	if strings.Contains(lowered, "versioning") || strings.Contains(lowered, "versioned") {
		params["versioning"] = true
	}

	if engine.ContainsAny(lowered, "website configuration", "website_configuration", "static website", "host website", "website hosting") {
		params["website_configuration"] = true
	}
	if m := indexDocPattern.FindStringSubmatch(lowered); m != nil {
		params["index_document"] = m[1]
		setDefault("website_configuration", true)
	}
	if m := errorDocPattern.FindStringSubmatch(lowered); m != nil {
		params["error_document"] = m[1]
		setDefault("website_configuration", true)
	}

	if strings.Contains(lowered, "public") {
		params["public_access"] = true
	}
	if strings.Contains(lowered, "private") {
		params["public_access"] = false
	}

	if engine.ContainsAny(lowered, "kubernetes", "k8s", "eks", "kubernates", "kubernets", "kubernete") {
		setDefault("orchestrator", "kubernetes")
		if engine.ContainsAny(lowered, "website", "web app", "webapp", "frontend", "sample site") {
			setDefault("deploy_sample_website", true)
		}
		if engine.ContainsAny(lowered, "public", "internet", "url", "accessible") {
			setDefault("expose_public_url", true)
		}
		if engine.ContainsAny(lowered, "private worker", "no public worker") {
			setDefault("private_workers", true)
		}
		if m := nodeCountPattern.FindStringSubmatch(lowered); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				setDefault("node_count", n)
			}
		}
	}

	for _, e := range engines {
		if strings.Contains(lowered, e) {
			if e == "postgres" {
				e = "postgresql"
			}
			params["engine"] = e
			break
		}
	}

	flat := strings.NewReplacer(".", "", "_", "").Replace(lowered)
	for _, rt := range runtimes {
		if strings.Contains(flat, strings.NewReplacer(".", "", "_", "").Replace(rt)) {
			params["runtime"] = rt
			break
		}
	}

	if m := cidrPattern.FindStringSubmatch(lowered); m != nil {
		params["cidr_block"] = m[1]
	}
	if m := portPattern.FindStringSubmatch(lowered); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			params["port"] = n
		}
	}
	if m := keyPairPattern.FindStringSubmatch(lowered); m != nil {
		params["key_name"] = strings.Trim(m[1], ` ,.;'"`)
	}
	if m := amiPattern.FindStringSubmatch(lowered); m != nil {
		params["ami_id"] = m[1]
	}

	if engine.ContainsAny(lowered, "tomcat", "tomact") {
		params["install_targets"] = []interface{}{"tomcat"}
		setDefault("port", 8080)
	}
	return params
}

func condense(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
