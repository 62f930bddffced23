// Package logic evaluates data-encoded boolean expressions over flat event
// payloads. The engine treats expressions as opaque; any Evaluator can be
// substituted (see the cel subpackage for a richer one).
package logic

import (
	"fmt"
	"reflect"
	"strings"

	"achievekit/core"
)

// Evaluator turns an expression and a payload into a boolean.
// Implementations must be pure, side-effect free, and return an error rather
// than panic on malformed expressions.
type Evaluator interface {
	Apply(expr core.LogicExpr, payload map[string]any) (bool, error)
}

// Default is a minimal recursive evaluator over a closed operator set:
// boolean combinators (and/or/not), comparisons, membership, and variable
// lookup. Expressions are operator maps, e.g.
//
//	{">=": [{"var": "score"}, 80]}
//	{"and": [{"==": [{"var": "passed"}, true]}, {"<": [{"var": "hints"}, 3]}]}
type Default struct{}

// NewDefault returns the built-in evaluator.
func NewDefault() *Default { return &Default{} }

// Apply evaluates expr against payload and coerces the result to a boolean.
func (d *Default) Apply(expr core.LogicExpr, payload map[string]any) (bool, error) {
	if len(expr) == 0 {
		return false, core.Validation("logic expression must not be empty")
	}
	v, err := d.eval(map[string]any(expr), payload)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (d *Default) eval(node any, payload map[string]any) (any, error) {
	expr, ok := node.(map[string]any)
	if !ok {
		// Literals evaluate to themselves.
		return node, nil
	}
	if len(expr) != 1 {
		return nil, core.Validation("logic node must hold exactly one operator, got %d", len(expr))
	}
	var op string
	var arg any
	for k, v := range expr {
		op, arg = k, v
	}
	switch op {
	case "var":
		return d.lookup(arg, payload)
	case "and":
		return d.combine(arg, payload, true)
	case "or":
		return d.combine(arg, payload, false)
	case "not", "!":
		v, err := d.eval(arg, payload)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case "==", "!=", ">", ">=", "<", "<=":
		return d.compare(op, arg, payload)
	case "in":
		return d.membership(arg, payload)
	default:
		return nil, core.Validation("unknown logic operator %q", op)
	}
}

func (d *Default) lookup(arg any, payload map[string]any) (any, error) {
	name, ok := arg.(string)
	if !ok {
		return nil, core.Validation("var operand must be a field name")
	}
	// Missing fields resolve to nil: payloads may be a subset of the schema.
	return payload[name], nil
}

func (d *Default) combine(arg any, payload map[string]any, all bool) (any, error) {
	operands, ok := arg.([]any)
	if !ok {
		return nil, core.Validation("boolean combinator needs a list of operands")
	}
	for _, operand := range operands {
		v, err := d.eval(operand, payload)
		if err != nil {
			return nil, err
		}
		if truthy(v) != all {
			return !all, nil
		}
	}
	return all, nil
}

func (d *Default) compare(op string, arg any, payload map[string]any) (any, error) {
	left, right, err := d.binaryOperands(op, arg, payload)
	if err != nil {
		return nil, err
	}
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}
	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}
	// Ordered comparison against a missing or mixed-type operand is false,
	// not an error: a subset payload must not blow up rule evaluation.
	return false, nil
}

func (d *Default) binaryOperands(op string, arg any, payload map[string]any) (any, any, error) {
	operands, ok := arg.([]any)
	if !ok || len(operands) != 2 {
		return nil, nil, core.Validation("%s needs exactly two operands", op)
	}
	left, err := d.eval(operands[0], payload)
	if err != nil {
		return nil, nil, err
	}
	right, err := d.eval(operands[1], payload)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (d *Default) membership(arg any, payload map[string]any) (any, error) {
	left, right, err := d.binaryOperands("in", arg, payload)
	if err != nil {
		return nil, err
	}
	switch container := right.(type) {
	case []any:
		for _, item := range container {
			if looseEqual(left, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		needle, ok := left.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(container, needle), nil
	}
	return false, nil
}

// looseEqual compares with numeric coercion so int(3) == float64(3).
func looseEqual(a, b any) bool {
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := asNumber(v); ok {
		return f != 0
	}
	return true
}

var _ Evaluator = (*Default)(nil)

// Describe renders a short operator summary for diagnostics.
func Describe(expr core.LogicExpr) string {
	for op := range expr {
		return fmt.Sprintf("logic(%s)", op)
	}
	return "logic(empty)"
}
