package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/formula"
)

// =============================================================================
// RULE VALIDATION - runs at write time, never corrects silently
// =============================================================================

// Prepare fills creation defaults: a new id, an effective_from of now when
// unset, and the active state. Operator spelling is normalized
// ("not in" → NOT IN).
func (r *Rule) Prepare(now time.Time, newID func() string) {
	if r.ID == "" && newID != nil {
		r.ID = newID()
	}
	if r.EffectiveFrom.IsZero() {
		r.EffectiveFrom = now
	}
	if r.State == "" {
		r.State = StateActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if op, err := ParseOperator(string(r.Operator)); err == nil {
		r.Operator = op
	}
	r.Name = strings.TrimSpace(r.Name)
	r.AppliesTo = strings.TrimSpace(r.AppliesTo)
}

// Validate checks the rule with the default formula sandbox.
func (r *Rule) Validate() error {
	return r.ValidateWith(formula.NewSandbox())
}

// ValidateWith checks struct constraints, the operator/operand pairing, the
// adjustment value range and, for formulas, the full sandbox pipeline.
// FormulaVariables are added to the sandbox's known fields.
func (r *Rule) ValidateWith(sb *formula.Sandbox) error {
	if sb == nil {
		sb = formula.NewSandbox()
	}
	verr := &core.ValidationError{Entity: "pricing_rule"}
	core.CheckStruct(verr, r)

	validateCondition(verr, r.Operator, r.Value)
	validateAdjustment(verr, r, sb)

	if r.EffectiveFrom.IsZero() {
		verr.Add("effective_from", "is required")
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(r.EffectiveFrom) {
		verr.Add("effective_to", "must be after effective_from")
	}
	if r.Priority < 0 {
		verr.Add("priority", "must be >= 0")
	}
	for _, b := range []struct {
		field string
		value *decimal.Decimal
	}{
		{"base_premium", r.BasePremium},
		{"min_premium", r.MinPremium},
		{"max_premium", r.MaxPremium},
	} {
		if b.value != nil && b.value.IsNegative() {
			verr.Add(b.field, "must be >= 0")
		}
	}
	if r.MinPremium != nil && r.MaxPremium != nil && r.MaxPremium.LessThan(*r.MinPremium) {
		verr.Add("max_premium", "must be >= min_premium")
	}
	if (r.BasePremium != nil || r.MinPremium != nil || r.MaxPremium != nil) && r.CurrencyCode == "" {
		verr.Add("currency_code", "is required when premium bounds are set")
	}
	return verr.OrNil()
}

// validateCondition enforces the operand shape each operator needs.
func validateCondition(verr *core.ValidationError, op Operator, v Operand) {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		if v.IsList {
			verr.Add("value", "operator %s requires a single value, got a list", op)
			return
		}
		if v.Scalar == nil {
			verr.Add("value", "is required")
			return
		}
		if !isScalarValue(v.Scalar) {
			verr.Add("value", "must be a string, number or boolean")
			return
		}
		if op != OpEqual && op != OpNotEqual {
			if _, ok := core.ToDecimal(v.Scalar); !ok {
				verr.Add("value", "operator %s requires a numeric value", op)
			}
		}

	case OpIn, OpNotIn:
		if !v.IsList {
			verr.Add("value", "operator %s requires a list of values", op)
			return
		}
		if len(v.List) == 0 {
			verr.Add("value", "operator %s requires at least one value", op)
		}
		for _, item := range v.List {
			if !isScalarValue(item) {
				verr.Add("value", "list items must be strings, numbers or booleans")
				return
			}
		}

	case OpBetween:
		if !v.IsList || len(v.List) != 2 {
			verr.Add("value", "operator BETWEEN requires exactly two values [low, high]")
			return
		}
		low, okLow := core.ToDecimal(v.List[0])
		high, okHigh := core.ToDecimal(v.List[1])
		if !okLow || !okHigh {
			verr.Add("value", "BETWEEN bounds must be numeric")
			return
		}
		if high.LessThan(low) {
			verr.Add("value", "BETWEEN low bound must not exceed high bound")
		}

	default:
		verr.Add("comparison_operator", "must be one of =, !=, >, >=, <, <=, IN, NOT IN, BETWEEN")
	}
}

func isScalarValue(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	_, ok := core.ToDecimal(v)
	return ok
}

func validateAdjustment(verr *core.ValidationError, r *Rule, sb *formula.Sandbox) {
	switch r.AdjustmentType {
	case AdjustPercentage:
		if r.AdjustmentValue.IsNegative() || r.AdjustmentValue.GreaterThan(core.Hundred) {
			verr.Add("adjustment_value", "percentage must be between 0 and 100")
		}
	case AdjustMultiplier:
		if !r.AdjustmentValue.IsPositive() {
			verr.Add("adjustment_value", "multiplier must be greater than 0")
		}
	case AdjustFormula:
		if !r.UsesFormula() {
			verr.Add("formula_expression", "is required for FORMULA adjustments")
		}
	}

	if !r.UsesFormula() {
		if len(r.FormulaVariables) > 0 {
			verr.Add("formula_variables", "require a formula_expression")
		}
		return
	}
	res := sb.WithFields(r.FormulaVariables).Validate(r.FormulaExpression)
	for _, msg := range res.Errors {
		verr.Add("formula_expression", "%s", msg)
	}
}
