// Package cel adapts the CEL expression language to the logic.Evaluator
// contract, for deployments that outgrow the built-in operator set. The CEL
// source is carried in the expression map under the "expr" key so rules stay
// storable as plain documents.
package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"achievekit/core"
	"achievekit/logic"
)

// ExprKey is where the CEL source lives inside a core.LogicExpr.
const ExprKey = "expr"

// Evaluator compiles and runs CEL expressions with payload keys exposed as
// top-level dyn variables.
type Evaluator struct{}

func New() *Evaluator { return &Evaluator{} }

// Expr wraps a CEL source string into a storable logic expression.
func Expr(source string) core.LogicExpr {
	return core.LogicExpr{ExprKey: source}
}

// Apply evaluates the CEL expression against the payload and enforces a
// boolean result.
func (e *Evaluator) Apply(expr core.LogicExpr, payload map[string]any) (bool, error) {
	source, ok := expr[ExprKey].(string)
	if !ok || source == "" {
		return false, core.Validation("cel expression must carry a non-empty %q string", ExprKey)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	declarations := make([]*exprpb.Decl, 0, len(payload))
	for key := range payload {
		declarations = append(declarations, decls.NewVar(key, decls.Dyn))
	}

	env, err := cel.NewEnv(cel.Declarations(declarations...))
	if err != nil {
		return false, core.Internal(err, "failed to create CEL env")
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return false, core.Validation("failed to compile expression: %v", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return false, core.Internal(err, "failed to create CEL program")
	}

	result, _, err := program.Eval(payload)
	if err != nil {
		return false, core.Internal(err, "failed to evaluate expression")
	}

	boolean, ok := result.Value().(bool)
	if !ok {
		return false, core.Validation(fmt.Sprintf("expression must return a boolean, got %T", result.Value()))
	}
	return boolean, nil
}

var _ logic.Evaluator = (*Evaluator)(nil)
