package remediation

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

var conditionEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("error", cel.StringType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("resource_type", cel.StringType),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		panic(fmt.Sprintf("remediation: failed to create CEL environment: %v", err))
	}
	conditionEnv = env
}

// condition is a compiled `when:` expression.
type condition struct {
	expr    string
	program cel.Program
}

func compileCondition(expr string) (*condition, error) {
	ast, issues := conditionEnv.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error parsing condition: %w", issues.Err())
	}
	checked, issues := conditionEnv.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error type-checking condition: %w", issues.Err())
	}
	if out := checked.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("condition %q must evaluate to a boolean", expr)
	}
	program, err := conditionEnv.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("error compiling condition: %w", err)
	}
	return &condition{expr: expr, program: program}, nil
}

// eval runs the condition against the failure facts.
func (c *condition) eval(vars map[string]interface{}) (bool, error) {
	result, _, err := c.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("error evaluating condition: %w", err)
	}
	if result.Type() != types.BoolType {
		return false, fmt.Errorf("condition did not evaluate to a boolean")
	}
	return result.Value().(bool), nil
}
