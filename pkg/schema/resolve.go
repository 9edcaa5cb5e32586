package schema

import (
	"sort"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// actionVerbs lists, strongest first, the operation prefixes that serve an action.
var actionVerbs = map[engine.Action][]string{
	engine.ActionCreate:   {"Create", "Run", "Put", "Start"},
	engine.ActionUpdate:   {"Update", "Modify", "Put", "Associate", "Attach", "Enable"},
	engine.ActionDelete:   {"Delete", "Remove", "Terminate", "Stop", "Disable", "Detach", "Schedule"},
	engine.ActionList:     {"List", "Describe", "Get"},
	engine.ActionDescribe: {"Describe", "Get", "List"},
}

// ResolveOperation returns the operation serving the action on the resource
// family. A catalog override wins; otherwise every operation of the service
// is scored by verb prefix and resource tokens. It returns "" when nothing
// matches.
func (c *Catalog) ResolveOperation(service, resourceType string, action engine.Action) string {
	rt := strings.ToLower(strings.TrimSpace(resourceType))
	if service == "" {
		service = c.ServiceFor(rt)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	ops, ok := c.ops[service]
	if !ok {
		return ""
	}
	if name, ok := c.doc.Overrides[service+"/"+rt+"/"+string(action)]; ok {
		if _, exists := ops[name]; exists {
			return name
		}
	}

	verbs, ok := actionVerbs[action]
	if !ok {
		return ""
	}
	tokens, ok := c.doc.Tokens[rt]
	if !ok {
		tokens = []string{strings.ReplaceAll(rt, "-", ""), strings.ReplaceAll(rt, "_", "")}
	}

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestScore := "", -1
	for _, name := range names {
		if score := scoreOperation(name, verbs, tokens); score > bestScore {
			best, bestScore = name, score
		}
	}
	return best
}

// scoreOperation ranks an operation name: 100 for the first verb prefix,
// 10 less for each later one, plus 8 per matching token, minus 4 for tag or
// policy operations. Names without a verb prefix score -1.
func scoreOperation(name string, verbs, tokens []string) int {
	score := -1
	for i, prefix := range verbs {
		if strings.HasPrefix(name, prefix) {
			score = 100 - i*10
			break
		}
	}
	if score < 0 {
		return -1
	}

	lower := strings.ToLower(name)
	for _, tok := range tokens {
		t := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(tok))
		if t != "" && strings.Contains(lower, t) {
			score += 8
		}
	}
	if strings.Contains(lower, "tag") || strings.Contains(lower, "policy") {
		score -= 4
	}
	return score
}
