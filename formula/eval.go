package formula

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALLOW-LISTED FUNCTIONS
// =============================================================================

// builtin evaluates an allow-listed function over already evaluated arguments.
type builtin struct {
	minArgs int
	maxArgs int // -1 = variadic
	fn      func(args []decimal.Decimal) (decimal.Decimal, error)
}

// AllowedFunctions is the complete set of callable names.
var AllowedFunctions = []string{"abs", "min", "max", "round", "sum", "avg", "sqrt", "log", "exp"}

var builtins = map[string]builtin{
	"abs": {1, 1, func(a []decimal.Decimal) (decimal.Decimal, error) {
		return a[0].Abs(), nil
	}},
	"min": {1, -1, func(a []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Min(a[0], a[1:]...), nil
	}},
	"max": {1, -1, func(a []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Max(a[0], a[1:]...), nil
	}},
	"sum": {1, -1, func(a []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Sum(a[0], a[1:]...), nil
	}},
	"avg": {1, -1, func(a []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Avg(a[0], a[1:]...), nil
	}},
	"round": {1, 2, func(a []decimal.Decimal) (decimal.Decimal, error) {
		places := int32(0)
		if len(a) == 2 {
			if !a[1].Equal(a[1].Truncate(0)) || a[1].IsNegative() || a[1].GreaterThan(decimal.NewFromInt(12)) {
				return decimal.Zero, evalErrorf("round precision must be an integer between 0 and 12")
			}
			places = int32(a[1].IntPart())
		}
		// Half-to-even.
		return a[0].RoundBank(places), nil
	}},
	"sqrt": {1, 1, func(a []decimal.Decimal) (decimal.Decimal, error) {
		if a[0].IsNegative() {
			return decimal.Zero, evalErrorf("sqrt of negative number")
		}
		return fromFloat(math.Sqrt(a[0].InexactFloat64()))
	}},
	"log": {1, 2, func(a []decimal.Decimal) (decimal.Decimal, error) {
		if !a[0].IsPositive() {
			return decimal.Zero, evalErrorf("log of non-positive number")
		}
		v := math.Log(a[0].InexactFloat64())
		if len(a) == 2 {
			base := a[1].InexactFloat64()
			if base <= 0 || base == 1 {
				return decimal.Zero, evalErrorf("invalid logarithm base")
			}
			v /= math.Log(base)
		}
		return fromFloat(v)
	}},
	"exp": {1, 1, func(a []decimal.Decimal) (decimal.Decimal, error) {
		return fromFloat(math.Exp(a[0].InexactFloat64()))
	}},
}

// IsAllowedFunction reports whether name may be called from a formula.
func IsAllowedFunction(name string) bool {
	_, ok := builtins[name]
	return ok
}

func fromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, evalErrorf("result is not a finite number")
	}
	return decimal.NewFromFloat(f), nil
}

// =============================================================================
// EVALUATION
// =============================================================================

// maxIntegerExponent bounds exact integer powers so a formula cannot ask
// for an arbitrarily large decimal.
const maxIntegerExponent = 64

// maxScale is the number of decimal places kept for intermediate values.
const maxScale = 30

// maxMagnitude is the largest absolute value any node may produce. Together
// with maxScale it keeps every intermediate below roughly 60 digits.
var maxMagnitude = decimal.New(1, maxScale)

// Eval computes n with vars as the only reachable namespace.
func Eval(n Node, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, err := evalNode(n, vars)
	if err != nil {
		return decimal.Zero, err
	}
	return bounded(v)
}

// bounded rejects values above maxMagnitude and rounds away digits beyond
// maxScale.
func bounded(d decimal.Decimal) (decimal.Decimal, error) {
	if d.Abs().GreaterThan(maxMagnitude) {
		return decimal.Zero, evalErrorf("result exceeds maximum magnitude")
	}
	if d.Exponent() < -maxScale {
		d = d.Round(maxScale)
	}
	return d, nil
}

func evalNode(n Node, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	switch x := n.(type) {
	case Number:
		return x.Value, nil

	case Variable:
		v, ok := vars[x.Name]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUndefinedVariable, x.Name)
		}
		return v, nil

	case Unary:
		v, err := Eval(x.Operand, vars)
		if err != nil {
			return decimal.Zero, err
		}
		if x.Op == '-' {
			return v.Neg(), nil
		}
		return v, nil

	case Binary:
		l, err := Eval(x.Left, vars)
		if err != nil {
			return decimal.Zero, err
		}
		r, err := Eval(x.Right, vars)
		if err != nil {
			return decimal.Zero, err
		}
		return binary(x.Op, l, r)

	case Call:
		b, ok := builtins[x.Func]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrFunctionNotAllowed, x.Func)
		}
		if len(x.Args) < b.minArgs || (b.maxArgs >= 0 && len(x.Args) > b.maxArgs) {
			return decimal.Zero, evalErrorf("%s called with %d arguments", x.Func, len(x.Args))
		}
		args := make([]decimal.Decimal, len(x.Args))
		for i, a := range x.Args {
			v, err := Eval(a, vars)
			if err != nil {
				return decimal.Zero, err
			}
			args[i] = v
		}
		return b.fn(args)

	default:
		return decimal.Zero, evalErrorf("unsupported node %T", n)
	}
}

func binary(op byte, l, r decimal.Decimal) (decimal.Decimal, error) {
	switch op {
	case '+':
		return l.Add(r), nil
	case '-':
		return l.Sub(r), nil
	case '*':
		return l.Mul(r), nil
	case '/':
		if r.IsZero() {
			return decimal.Zero, evalErrorf("division by zero")
		}
		return l.Div(r), nil
	case '%':
		if r.IsZero() {
			return decimal.Zero, evalErrorf("modulo by zero")
		}
		return l.Mod(r), nil
	case '^':
		return pow(l, r)
	default:
		return decimal.Zero, evalErrorf("unsupported operator %q", op)
	}
}

func pow(base, exp decimal.Decimal) (decimal.Decimal, error) {
	if exp.Equal(exp.Truncate(0)) && exp.Abs().LessThanOrEqual(decimal.NewFromInt(maxIntegerExponent)) {
		n := exp.Abs().IntPart()
		result := decimal.NewFromInt(1)
		var err error
		for i := int64(0); i < n; i++ {
			if result, err = bounded(result.Mul(base)); err != nil {
				return decimal.Zero, err
			}
		}
		if exp.IsNegative() {
			if base.IsZero() {
				return decimal.Zero, evalErrorf("zero raised to a negative power")
			}
			if result.IsZero() {
				return decimal.Zero, evalErrorf("result exceeds maximum magnitude")
			}
			return decimal.NewFromInt(1).Div(result), nil
		}
		return result, nil
	}
	if base.IsNegative() {
		return decimal.Zero, evalErrorf("negative base with fractional exponent")
	}
	return fromFloat(math.Pow(base.InexactFloat64(), exp.InexactFloat64()))
}

func evalErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEvaluation, fmt.Sprintf(format, args...))
}

// normalizeName lower-cases for denylist comparison.
func normalizeName(s string) string { return strings.ToLower(s) }
