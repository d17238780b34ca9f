package formula_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/formula"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func vars(kv ...string) map[string]decimal.Decimal {
	m := map[string]decimal.Decimal{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = d(kv[i+1])
	}
	return m
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate_RejectsImportPayload(t *testing.T) {
	// GIVEN: A classic injection payload
	// WHEN: Validating it
	// THEN: It is invalid with at least one error

	res := formula.Validate("__import__('os').system('rm -rf /')")

	assert.False(t, res.IsValid)
	assert.NotEmpty(t, res.Errors)
}

func TestValidate_AcceptsKnownFields(t *testing.T) {
	res := formula.Validate("base_premium * 1.1 + risk_score")

	require.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"base_premium", "risk_score"}, res.Variables)
	require.NotNil(t, res.DryRunResult)
	assert.True(t, res.DryRunResult.Equal(d("1100.4")), "got %s", res.DryRunResult)
}

func TestValidate_Empty(t *testing.T) {
	res := formula.Validate("   ")
	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 1)
}

func TestValidate_DeniedKeywords(t *testing.T) {
	cases := []string{
		"eval(1)",
		"open(1) + 2",
		"globals",
		"GETATTR(base_premium, 1)",
		"lambda + 1",
		"a__b + 1",
		"vars * 2",
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			res := formula.Validate(expr)
			assert.False(t, res.IsValid)
			assert.NotEmpty(t, res.Errors)
		})
	}
}

func TestValidate_KeywordInsideIdentifierIsNotDenied(t *testing.T) {
	// "file" and "dir" appear inside these names but are not the names themselves.
	sb := formula.NewSandbox().WithFields(vars("profile_factor", "1.2", "direct_cost", "100"))

	res := sb.Validate("profile_factor * direct_cost")

	assert.True(t, res.IsValid, "errors: %v", res.Errors)
}

func TestValidate_FunctionAllowList(t *testing.T) {
	res := formula.Validate("max(base_premium * 0.05, 25) + round(risk_score * 10, 1)")
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.ElementsMatch(t, []string{"max", "round"}, res.Functions)

	res = formula.Validate("system(1)")
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "function not allowed")
}

func TestValidate_UnknownVariableWarnsOnly(t *testing.T) {
	res := formula.Validate("mystery_factor * base_premium")

	assert.True(t, res.IsValid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "mystery_factor")
}

func TestValidate_NegativeResultWarns(t *testing.T) {
	res := formula.Validate("0 - base_premium")

	assert.True(t, res.IsValid)
	assert.Contains(t, res.Warnings, "formula produced a negative result with sample values")
}

func TestValidate_DryRunFailureRejects(t *testing.T) {
	res := formula.Validate("base_premium / (age - 35)")

	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "dry run failed")
}

func TestValidate_NestedPowersAreBounded(t *testing.T) {
	// GIVEN: Short formulas whose exact values would need millions of digits
	for _, expr := range []string{
		"(((9^64)^64)^64)^64",
		"((((9^64)^64)^64)^64)^64",
		"9^64 * 9^64",
	} {
		t.Run(expr, func(t *testing.T) {
			// WHEN: Validating
			start := time.Now()
			res := formula.Validate(expr)

			// THEN: Rejected by the dry run without running away
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.False(t, res.IsValid)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors[0], "exceeds maximum magnitude")
		})
	}
}

func TestValidate_NestedTinyPowersTerminate(t *testing.T) {
	start := time.Now()
	res := formula.Validate("(((0.3^64)^64)^64)^64 + 1")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
}

func TestValidate_SyntaxErrors(t *testing.T) {
	for _, expr := range []string{"1 +", "(1 + 2", "base_premium.real", "[1,2]", "a = 1", "'x'", "1..2"} {
		t.Run(expr, func(t *testing.T) {
			res := formula.Validate(expr)
			assert.False(t, res.IsValid)
		})
	}
}

func TestValidate_ReportsComplexityAndDepth(t *testing.T) {
	res := formula.Validate("(1 + 2) * 3")

	require.True(t, res.IsValid)
	assert.Equal(t, 5, res.Complexity)
	assert.Equal(t, 3, res.Depth)
}

func TestValidate_TooDeep(t *testing.T) {
	expr := ""
	for i := 0; i < 40; i++ {
		expr += "("
	}
	expr += "1"
	for i := 0; i < 40; i++ {
		expr += ")"
	}
	res := formula.Validate(expr)
	assert.False(t, res.IsValid)
}

// =============================================================================
// EVALUATION TESTS
// =============================================================================

func TestEvaluate_Arithmetic(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"-2 ^ 2", "-4"},
		{"2 ** 3 ** 2", "512"},
		{"2 ^ -1", "0.5"},
		{"2 ^ 64", "18446744073709551616"},
		{"0.5 ^ -10", "1024"},
		{"10 % 3", "1"},
		{"+5 - -5", "10"},
		{".5 * 4", "2"},
		{"abs(-3)", "3"},
		{"min(4, 2, 9)", "2"},
		{"max(4, 2, 9)", "9"},
		{"sum(1, 2, 3)", "6"},
		{"avg(2, 4)", "3"},
		{"round(2.5)", "2"},
		{"round(3.14159, 2)", "3.14"},
		{"sqrt(16)", "4"},
		{"exp(0)", "1"},
		{"log(1)", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := formula.Evaluate(tc.expr, nil)
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tc.want)), "want %s got %s", tc.want, got)
		})
	}
}

func TestEvaluate_LogWithBase(t *testing.T) {
	got, err := formula.Evaluate("log(8, 2)", nil)

	require.NoError(t, err)
	assert.InDelta(t, 3.0, got.InexactFloat64(), 1e-9)
}

func TestEvaluate_UsesVariables(t *testing.T) {
	got, err := formula.Evaluate("base_premium * (1 + loading / 100)", vars("base_premium", "1000", "loading", "15"))

	require.NoError(t, err)
	assert.True(t, got.Equal(d("1150")), "got %s", got)
}

func TestEvaluate_Failures(t *testing.T) {
	cases := []struct {
		expr string
		vars map[string]decimal.Decimal
		want error
	}{
		{"1 / 0", nil, formula.ErrEvaluation},
		{"5 % 0", nil, formula.ErrEvaluation},
		{"sqrt(-1)", nil, formula.ErrEvaluation},
		{"log(0)", nil, formula.ErrEvaluation},
		{"exp(100000)", nil, formula.ErrEvaluation},
		{"exp(100)", nil, formula.ErrEvaluation},
		{"10 ^ 31", nil, formula.ErrEvaluation},
		{"0 ^ -1", nil, formula.ErrEvaluation},
		{"(-8) ^ 0.5", nil, formula.ErrEvaluation},
		{"abs(1, 2)", nil, formula.ErrEvaluation},
		{"missing + 1", nil, formula.ErrUndefinedVariable},
		{"os(1)", nil, formula.ErrFunctionNotAllowed},
		{"exec(1)", nil, formula.ErrUnsafeExpression},
		{"1 +", nil, formula.ErrSyntax},
		{"", nil, formula.ErrEmptyExpression},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			_, err := formula.Evaluate(tc.expr, tc.vars)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	v := vars("base_premium", "1234.56", "risk_score", "0.37")
	a, errA := formula.Evaluate("base_premium * risk_score + sqrt(base_premium)", v)
	b, errB := formula.Evaluate("base_premium * risk_score + sqrt(base_premium)", v)

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.True(t, a.Equal(b))
}
