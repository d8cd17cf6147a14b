package expr

import (
	"errors"
	"fmt"
	"math"
)

// ErrorCode categorizes formula errors.
type ErrorCode string

const (
	// SyntaxError indicates a malformed formula.
	SyntaxError ErrorCode = "SYNTAX_ERROR"

	// UnknownSymbol indicates an identifier with no binding.
	UnknownSymbol ErrorCode = "UNKNOWN_SYMBOL"

	// DivisionByZero indicates a zero divisor at evaluation time.
	DivisionByZero ErrorCode = "DIVISION_BY_ZERO"

	// NonFiniteResult indicates the formula produced NaN or ±Inf.
	NonFiniteResult ErrorCode = "NON_FINITE_RESULT"
)

// Error is a formula error with a code for programmatic handling and a
// byte offset into the formula where known.
type Error struct {
	Code    ErrorCode
	Pos     int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (offset %d)", e.Code, e.Message, e.Pos)
}

// IsUnknownSymbol reports whether err is an unknown-symbol formula error.
// Uses errors.As to handle wrapped errors.
func IsUnknownSymbol(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Code == UnknownSymbol
}

// functions are the supported unary math functions.
var functions = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"abs":   math.Abs,
	"exp":   math.Exp,
	"ln":    math.Log,
	"log":   math.Log10,
	"floor": math.Floor,
	"ceil":  math.Ceil,
}

// Eval computes the formula over the given bindings. Every identifier
// in the formula must be bound; the result must be finite.
func (e *Expr) Eval(bindings map[string]float64) (float64, error) {
	v, err := evalNode(e.root, bindings)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &Error{Code: NonFiniteResult, Message: fmt.Sprintf("formula %q produced %v", e.src, v)}
	}
	return v, nil
}

// Evaluate parses and evaluates a formula in one step. Prefer Parse +
// Eval when the formula is evaluated repeatedly.
func Evaluate(formula string, bindings map[string]float64) (float64, error) {
	e, err := Parse(formula)
	if err != nil {
		return 0, err
	}
	return e.Eval(bindings)
}

func evalNode(n *node, bindings map[string]float64) (float64, error) {
	switch n.kind {
	case nodeNumber:
		return n.num, nil

	case nodeIdent:
		v, ok := bindings[n.name]
		if !ok {
			return 0, &Error{Code: UnknownSymbol, Message: fmt.Sprintf("no binding for %q", n.name)}
		}
		return v, nil

	case nodePrefix:
		v, err := evalNode(n.right, bindings)
		if err != nil {
			return 0, err
		}
		return -v, nil

	case nodeInfix:
		left, err := evalNode(n.left, bindings)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(n.right, bindings)
		if err != nil {
			return 0, err
		}
		switch n.op {
		case tokenPlus:
			return left + right, nil
		case tokenMinus:
			return left - right, nil
		case tokenAsterisk:
			return left * right, nil
		case tokenSlash:
			if right == 0 {
				return 0, &Error{Code: DivisionByZero, Message: "division by zero"}
			}
			return left / right, nil
		case tokenCaret:
			return math.Pow(left, right), nil
		}
		return 0, &Error{Code: SyntaxError, Message: fmt.Sprintf("bad operator %q", n.op)}

	case nodeCall:
		arg, err := evalNode(n.arg, bindings)
		if err != nil {
			return 0, err
		}
		fn := functions[n.name] // existence checked at parse time
		return fn(arg), nil
	}
	return 0, &Error{Code: SyntaxError, Message: "bad node"}
}
