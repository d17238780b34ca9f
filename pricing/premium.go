package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
)

// =============================================================================
// PREMIUM APPLICATION
// =============================================================================
//
// The evaluator only reports raw adjustment values. Applying them to a
// premium happens here, in rule order:
//
//   PERCENTAGE    p × (1 + v/100)
//   FIXED_AMOUNT  p + v
//   MULTIPLIER    p × v
//   FORMULA       p + v
//
// After each step the running premium is clamped to that rule's min/max
// premium; the final premium is clamped to the profile bounds and never
// drops below zero.

// PremiumStep records one applied adjustment.
type PremiumStep struct {
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	AdjustmentType AdjustmentType  `json:"adjustment_type"`
	Value          decimal.Decimal `json:"value"`
	Before         decimal.Decimal `json:"before"`
	After          decimal.Decimal `json:"after"`
	Clamped        string          `json:"clamped,omitempty"`
}

// PremiumBreakdown is the step-by-step derivation of a final premium.
type PremiumBreakdown struct {
	BasePremium     decimal.Decimal `json:"base_premium"`
	FinalPremium    decimal.Decimal `json:"final_premium"`
	TotalAdjustment decimal.Decimal `json:"total_adjustment"`
	CurrencyCode    string          `json:"currency_code,omitempty"`
	Steps           []PremiumStep   `json:"steps"`
	Clamped         string          `json:"clamped,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// Bounds is an optional [Min, Max] premium range.
type Bounds struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

func (b Bounds) clamp(p decimal.Decimal) (decimal.Decimal, string) {
	if b.Min != nil && p.LessThan(*b.Min) {
		return *b.Min, "min"
	}
	if b.Max != nil && p.GreaterThan(*b.Max) {
		return *b.Max, "max"
	}
	return p, ""
}

// ApplyAdjustments applies every applied result to base. rules[i] must be
// the rule that produced results[i].
func ApplyAdjustments(base decimal.Decimal, rules []*Rule, results []EvaluationResult, profile Bounds) PremiumBreakdown {
	out := PremiumBreakdown{BasePremium: base, Steps: []PremiumStep{}}
	p := base
	for i, res := range results {
		if !res.ImpactApplied || res.ResultValue == nil || i >= len(rules) || rules[i] == nil {
			continue
		}
		rule := rules[i]
		v := *res.ResultValue
		step := PremiumStep{
			RuleID:         rule.ID,
			RuleName:       rule.Name,
			AdjustmentType: rule.AdjustmentType,
			Value:          v,
			Before:         p,
		}

		switch rule.AdjustmentType {
		case AdjustPercentage:
			p = p.Mul(decimal.NewFromInt(1).Add(v.Div(core.Hundred)))
		case AdjustMultiplier:
			p = p.Mul(v)
		case AdjustFixed, AdjustFormula:
			p = p.Add(v)
		default:
			out.Warnings = append(out.Warnings, "rule "+rule.Name+" has unknown adjustment type "+string(rule.AdjustmentType))
			continue
		}

		p, step.Clamped = Bounds{Min: rule.MinPremium, Max: rule.MaxPremium}.clamp(p)
		step.After = p
		out.Steps = append(out.Steps, step)
	}

	p, out.Clamped = profile.clamp(p)
	if p.IsNegative() {
		p = decimal.Zero
		out.Clamped = "zero"
	}
	out.FinalPremium = p.Round(2)
	out.TotalAdjustment = out.FinalPremium.Sub(base)
	return out
}
