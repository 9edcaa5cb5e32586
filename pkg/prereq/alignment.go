package prereq

import (
	"fmt"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// alignmentQuestions asks whether to switch services when the request text
// scores clearly for a family other than the intent's resource type.
func alignmentQuestions(intent *engine.Intent, text string) []engine.Question {
	current := strings.ToLower(strings.TrimSpace(intent.ResourceType))
	if current == "" {
		return nil
	}

	analysis := text
	if strings.EqualFold(intent.StringParam("existing_operation"), "custom") {
		if instr := intent.StringParam("custom_instruction"); instr != "" {
			analysis = instr
		}
	}
	if strings.TrimSpace(analysis) == "" {
		return nil
	}

	inferred := engine.InferServices(analysis)
	if len(inferred) == 0 || inferred[0] == current {
		return nil
	}
	for _, svc := range inferred[:min(2, len(inferred))] {
		if svc == current {
			return nil
		}
	}

	continueChoice := "continue_" + current
	var switches []string
	for _, svc := range inferred[:min(3, len(inferred))] {
		switches = append(switches, "switch_"+svc)
	}

	decision := strings.ToLower(intent.StringParam("service_alignment_decision"))
	if decision == continueChoice {
		return nil
	}
	for _, s := range switches {
		if decision == s {
			return nil
		}
	}

	best := inferred[0]
	return []engine.Question{{
		Variable: "service_alignment_decision",
		Prompt: fmt.Sprintf("This instruction looks like a %s task (%s). Do you want to continue with %s or switch to the best-matched service?",
			strings.ToUpper(best), engine.AlignmentReason(analysis, best), strings.ToUpper(current)),
		Type:    engine.QuestionString,
		Options: append([]string{continueChoice}, switches...),
		Hint:    "Switch to auto-route and continue with correct service prerequisites.",
	}}
}
