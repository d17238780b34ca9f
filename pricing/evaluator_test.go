package pricing_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/pricing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ageLoading() *pricing.Rule {
	return &pricing.Rule{
		ID:              "r-age",
		Name:            "Senior loading",
		InsuranceType:   "MEDICAL",
		RuleType:        pricing.RuleAgeBased,
		AppliesTo:       "age",
		Operator:        pricing.OpGreaterEqual,
		Value:           pricing.ScalarOperand(60),
		AdjustmentType:  pricing.AdjustPercentage,
		AdjustmentValue: d("25"),
		EffectiveFrom:   t0,
		IsActive:        true,
		State:           pricing.StateActive,
	}
}

// =============================================================================
// EVALUATION TESTS
// =============================================================================

func TestEvaluate_ConditionMetReportsRawValue(t *testing.T) {
	// GIVEN: A 25% loading for ages >= 60
	// WHEN: Evaluating a 64 year old
	// THEN: The raw value 25 is reported, not an applied premium

	res := pricing.NewEvaluator().Evaluate(ageLoading(), pricing.Record{"age": 64})

	assert.True(t, res.ConditionMet)
	assert.True(t, res.ImpactApplied)
	require.NotNil(t, res.ResultValue)
	assert.True(t, res.ResultValue.Equal(d("25")))
	assert.Equal(t, pricing.AdjustPercentage, res.AdjustmentType)
	assert.Empty(t, res.Details.Error)
}

func TestEvaluate_ConditionNotMet(t *testing.T) {
	res := pricing.NewEvaluator().Evaluate(ageLoading(), pricing.Record{"age": 30})

	assert.False(t, res.ConditionMet)
	assert.False(t, res.ImpactApplied)
	assert.Nil(t, res.ResultValue)
	assert.False(t, res.Failed())
}

func TestEvaluate_InactiveRule(t *testing.T) {
	r := ageLoading()
	r.IsActive = false

	res := pricing.NewEvaluator().Evaluate(r, pricing.Record{"age": 64})

	assert.False(t, res.ConditionMet)
	assert.False(t, res.ImpactApplied)
	assert.Equal(t, "Rule is inactive", res.Details.Error)
}

func TestEvaluate_FieldNotFound(t *testing.T) {
	res := pricing.NewEvaluator().Evaluate(ageLoading(), pricing.Record{"gender": "F"})

	assert.False(t, res.ConditionMet)
	assert.Equal(t, "field not found", res.Details.Error)
}

func TestEvaluate_Operators(t *testing.T) {
	cases := []struct {
		name    string
		op      pricing.Operator
		operand pricing.Operand
		value   any
		want    bool
	}{
		{"equal number", pricing.OpEqual, pricing.ScalarOperand(3), 3.0, true},
		{"equal numeric string", pricing.OpEqual, pricing.ScalarOperand("3"), 3, true},
		{"equal string case-insensitive", pricing.OpEqual, pricing.ScalarOperand("Riyadh"), "riyadh", true},
		{"not equal", pricing.OpNotEqual, pricing.ScalarOperand("smoker"), "non_smoker", true},
		{"greater", pricing.OpGreater, pricing.ScalarOperand(10), 10, false},
		{"greater equal", pricing.OpGreaterEqual, pricing.ScalarOperand(10), 10, true},
		{"less", pricing.OpLess, pricing.ScalarOperand("0.5"), json.Number("0.25"), true},
		{"less equal", pricing.OpLessEqual, pricing.ScalarOperand(1), 2, false},
		{"in", pricing.OpIn, pricing.ListOperand("JED", "RUH"), "RUH", true},
		{"in numbers", pricing.OpIn, pricing.ListOperand(1, 2, 3), "2", true},
		{"not in", pricing.OpNotIn, pricing.ListOperand("JED", "RUH"), "DMM", true},
		{"not in excluded", pricing.OpNotIn, pricing.ListOperand("JED", "RUH"), "JED", false},
		{"between inclusive low", pricing.OpBetween, pricing.ListOperand(18, 30), 18, true},
		{"between inclusive high", pricing.OpBetween, pricing.ListOperand(18, 30), 30, true},
		{"between outside", pricing.OpBetween, pricing.ListOperand(18, 30), 31, false},
		{"equal bool", pricing.OpEqual, pricing.ScalarOperand(true), true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := ageLoading()
			r.AppliesTo = "x"
			r.Operator = tc.op
			r.Value = tc.operand

			res := pricing.NewEvaluator().Evaluate(r, pricing.Record{"x": tc.value})

			assert.Empty(t, res.Details.Error)
			assert.Equal(t, tc.want, res.ConditionMet)
		})
	}
}

func TestEvaluate_NonNumericComparisonIsInBandError(t *testing.T) {
	r := ageLoading()

	res := pricing.NewEvaluator().Evaluate(r, pricing.Record{"age": "old"})

	assert.False(t, res.ConditionMet)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Details.Error, "not numeric")
}

func TestEvaluate_FormulaUsesRecordAndRuleVariables(t *testing.T) {
	r := ageLoading()
	r.AdjustmentType = pricing.AdjustFormula
	r.FormulaExpression = "base_premium * loading_rate * (age - 60)"
	r.FormulaVariables = map[string]decimal.Decimal{"loading_rate": d("0.01")}

	res := pricing.NewEvaluator().Evaluate(r, pricing.Record{"age": 65, "base_premium": "1000", "region": "RUH"})

	require.True(t, res.ImpactApplied, "error: %s", res.Details.Error)
	assert.True(t, res.ResultValue.Equal(d("50")), "got %s", res.ResultValue)
	assert.Equal(t, r.FormulaExpression, res.Details.Formula)
}

func TestEvaluate_FormulaRuntimeFailureIsContained(t *testing.T) {
	r := ageLoading()
	r.FormulaExpression = "base_premium / (age - 64)"

	res := pricing.NewEvaluator().Evaluate(r, pricing.Record{"age": 64, "base_premium": 1000})

	assert.False(t, res.ConditionMet)
	assert.False(t, res.ImpactApplied)
	assert.Contains(t, res.Details.Error, "division by zero")
}

func TestEvaluate_UnsafeFormulaIsRejectedNotRun(t *testing.T) {
	r := ageLoading()
	r.FormulaExpression = "__import__('os')"

	res := pricing.NewEvaluator().Evaluate(r, pricing.Record{"age": 70})

	assert.False(t, res.ImpactApplied)
	assert.True(t, res.Failed())
}

func TestEvaluate_ClockSkipsRulesOutsideWindow(t *testing.T) {
	r := ageLoading()
	end := t0.AddDate(0, 6, 0)
	r.EffectiveTo = &end
	ev := pricing.NewEvaluator()
	ev.Clock = func() time.Time { return end.AddDate(0, 0, 1) }

	res := ev.Evaluate(r, pricing.Record{"age": 70})

	assert.False(t, res.ImpactApplied)
	assert.Contains(t, res.Details.Error, "not effective")
}

func TestEvaluate_NilRule(t *testing.T) {
	res := pricing.NewEvaluator().Evaluate(nil, pricing.Record{})
	assert.Equal(t, "rule not found", res.Details.Error)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate_OperatorValueRoundTrip(t *testing.T) {
	// GIVEN: An IN rule with a scalar value
	// WHEN: Validating
	// THEN: It fails; with a list value it passes

	r := ageLoading()
	r.Operator = pricing.OpIn
	r.Value = pricing.ScalarOperand(60)

	err := r.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))

	r.Value = pricing.ListOperand(60, 61, 62)
	assert.NoError(t, r.Validate())
}

func TestValidate_ScalarOperatorRejectsList(t *testing.T) {
	r := ageLoading()
	r.Value = pricing.ListOperand(1, 2)

	assert.Error(t, r.Validate())
}

func TestValidate_Between(t *testing.T) {
	r := ageLoading()
	r.Operator = pricing.OpBetween

	r.Value = pricing.ListOperand(18, 30)
	assert.NoError(t, r.Validate())

	r.Value = pricing.ListOperand(18, 30, 40)
	assert.Error(t, r.Validate())

	r.Value = pricing.ListOperand(30, 18)
	assert.Error(t, r.Validate())

	r.Value = pricing.ListOperand("a", "b")
	assert.Error(t, r.Validate())
}

func TestValidate_AdjustmentRanges(t *testing.T) {
	cases := []struct {
		typ   pricing.AdjustmentType
		value string
		ok    bool
	}{
		{pricing.AdjustPercentage, "0", true},
		{pricing.AdjustPercentage, "100", true},
		{pricing.AdjustPercentage, "100.01", false},
		{pricing.AdjustPercentage, "-1", false},
		{pricing.AdjustMultiplier, "0.9", true},
		{pricing.AdjustMultiplier, "0", false},
		{pricing.AdjustFixed, "-50", true},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ)+" "+tc.value, func(t *testing.T) {
			r := ageLoading()
			r.AdjustmentType = tc.typ
			r.AdjustmentValue = d(tc.value)
			if tc.ok {
				assert.NoError(t, r.Validate())
			} else {
				assert.Error(t, r.Validate())
			}
		})
	}
}

func TestValidate_FormulaRules(t *testing.T) {
	r := ageLoading()
	r.AdjustmentType = pricing.AdjustFormula
	assert.Error(t, r.Validate(), "missing formula_expression")

	r.FormulaExpression = "base_premium * my_rate"
	r.FormulaVariables = map[string]decimal.Decimal{"my_rate": d("0.1")}
	assert.NoError(t, r.Validate())

	r.FormulaExpression = "exec('x')"
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "formula_expression")
}

func TestValidate_EffectiveWindowAndBounds(t *testing.T) {
	r := ageLoading()
	to := t0
	r.EffectiveTo = &to
	assert.Error(t, r.Validate(), "effective_to equal to effective_from")

	r = ageLoading()
	r.MinPremium = core.Dec("500")
	r.MaxPremium = core.Dec("100")
	r.CurrencyCode = "SAR"
	assert.Error(t, r.Validate())

	r.MaxPremium = core.Dec("1000")
	assert.NoError(t, r.Validate())

	r.CurrencyCode = "sar"
	assert.Error(t, r.Validate())
}

func TestValidate_UnknownOperator(t *testing.T) {
	r := ageLoading()
	r.Operator = "LIKE"

	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "comparison_operator")
}

func TestParseOperator(t *testing.T) {
	op, err := pricing.ParseOperator(" not   in ")
	require.NoError(t, err)
	assert.Equal(t, pricing.OpNotIn, op)

	op, err = pricing.ParseOperator("==")
	require.NoError(t, err)
	assert.Equal(t, pricing.OpEqual, op)

	_, err = pricing.ParseOperator("~=")
	assert.Error(t, err)
}

func TestOperandJSON(t *testing.T) {
	var r pricing.Rule
	require.NoError(t, json.Unmarshal([]byte(`{"value": [18, 30]}`), &r))
	assert.True(t, r.Value.IsList)
	assert.Len(t, r.Value.List, 2)

	require.NoError(t, json.Unmarshal([]byte(`{"value": "RUH"}`), &r))
	assert.False(t, r.Value.IsList)
	assert.Equal(t, "RUH", r.Value.Scalar)

	out, err := json.Marshal(pricing.ListOperand("a", 1))
	require.NoError(t, err)
	assert.JSONEq(t, `["a", 1]`, string(out))
}
