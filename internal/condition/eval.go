package condition

import (
	"fmt"

	"github.com/archcore/arch/internal/errs"
	"github.com/archcore/arch/internal/runctx"
)

// Evaluate parses and evaluates expr against rc, returning the boolean
// result. A syntax error or an unresolvable identifier both fail closed with
// a ConditionError, never as vacuously true; the scheduler fails the owning
// task with reason condition_eval_error.
func Evaluate(taskID, expr string, rc *runctx.Context) (bool, error) {
	ast, err := Parse(expr)
	if err != nil {
		return false, &errs.ConditionError{TaskID: taskID, Expression: expr, Err: err}
	}
	v, err := eval(ast, rc)
	if err != nil {
		return false, &errs.ConditionError{TaskID: taskID, Expression: expr, Err: err}
	}
	b, ok := v.(bool)
	if !ok {
		return false, &errs.ConditionError{TaskID: taskID, Expression: expr, Err: fmt.Errorf("expression does not evaluate to a boolean, got %T", v)}
	}
	return b, nil
}

func eval(e Expr, rc *runctx.Context) (any, error) {
	switch n := e.(type) {
	case Literal:
		return n.Value, nil
	case Ident:
		v, ok := rc.Lookup(n.Name)
		if !ok {
			return nil, fmt.Errorf("unresolvable identifier %q", n.Name)
		}
		return v, nil
	case Not:
		v, err := eval(n.Operand, rc)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("'not' operand is not boolean, got %T", v)
		}
		return !b, nil
	case And:
		l, err := evalBool(n.Left, rc)
		if err != nil {
			return nil, err
		}
		if !l {
			return false, nil
		}
		return evalBool(n.Right, rc)
	case Or:
		l, err := evalBool(n.Left, rc)
		if err != nil {
			return nil, err
		}
		if l {
			return true, nil
		}
		return evalBool(n.Right, rc)
	case Compare:
		return evalCompare(n, rc)
	default:
		return nil, fmt.Errorf("unhandled AST node %T", e)
	}
}

func evalBool(e Expr, rc *runctx.Context) (bool, error) {
	v, err := eval(e, rc)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected boolean operand, got %T", v)
	}
	return b, nil
}

func evalCompare(c Compare, rc *runctx.Context) (any, error) {
	left, err := eval(c.Left, rc)
	if err != nil {
		return nil, err
	}
	right, err := eval(c.Right, rc)
	if err != nil {
		return nil, err
	}

	if lf, rf, ok := asNumericPair(left, right); ok {
		switch c.Op {
		case OpEq:
			return lf == rf, nil
		case OpNe:
			return lf != rf, nil
		case OpLt:
			return lf < rf, nil
		case OpLe:
			return lf <= rf, nil
		case OpGt:
			return lf > rf, nil
		case OpGe:
			return lf >= rf, nil
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch c.Op {
		case OpEq:
			return ls == rs, nil
		case OpNe:
			return ls != rs, nil
		default:
			return nil, fmt.Errorf("operator %q is not defined for strings", c.Op)
		}
	}

	lb, lbok := left.(bool)
	rb, rbok := right.(bool)
	if lbok && rbok {
		switch c.Op {
		case OpEq:
			return lb == rb, nil
		case OpNe:
			return lb != rb, nil
		default:
			return nil, fmt.Errorf("operator %q is not defined for booleans", c.Op)
		}
	}

	return nil, fmt.Errorf("incomparable operand types %T and %T", left, right)
}

// asNumericPair coerces both operands to float64 when possible: either
// already a float64 (from a Literal or a stored score), or a float32, int or
// int64 placed in the context by a caller.
func asNumericPair(a, b any) (float64, float64, bool) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return af, bf, aok && bok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
