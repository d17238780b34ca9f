package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/formula"
)

// =============================================================================
// EVALUATION RESULT
// =============================================================================

// Record is the flat set of customer/coverage facts being priced.
type Record map[string]any

// EvaluationDetails explains an EvaluationResult. Error is set whenever the
// rule could not be evaluated.
type EvaluationDetails struct {
	Error      string   `json:"error,omitempty"`
	Field      string   `json:"field,omitempty"`
	FieldValue any      `json:"field_value,omitempty"`
	Operator   Operator `json:"operator,omitempty"`
	Expected   *Operand `json:"expected,omitempty"`
	Formula    string   `json:"formula,omitempty"`
}

// EvaluationResult is the transient outcome of one rule against one record.
type EvaluationResult struct {
	RuleID         string            `json:"rule_id"`
	RuleName       string            `json:"rule_name,omitempty"`
	ConditionMet   bool              `json:"condition_met"`
	ImpactApplied  bool              `json:"impact_applied"`
	ResultValue    *decimal.Decimal  `json:"result_value"`
	AdjustmentType AdjustmentType    `json:"adjustment_type,omitempty"`
	Details        EvaluationDetails `json:"details"`
}

// Failed reports whether the rule errored rather than simply not matching.
func (r EvaluationResult) Failed() bool {
	return r.Details.Error != ""
}

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluator runs single rules. It holds no mutable state and is safe for
// concurrent use.
type Evaluator struct {
	Sandbox *formula.Sandbox

	// Clock, when set, makes rules outside their effective window evaluate
	// as not applicable.
	Clock func() time.Time
}

// NewEvaluator returns an evaluator with the default sandbox and no clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{Sandbox: formula.NewSandbox()}
}

// Evaluate checks rule's condition against record and, when it holds,
// reports the rule's raw impact. It never returns an error and never
// panics: failures are reported in Details.Error with ConditionMet false.
func (e *Evaluator) Evaluate(rule *Rule, record Record) (res EvaluationResult) {
	if rule == nil {
		return EvaluationResult{Details: EvaluationDetails{Error: msgRuleNotFound}}
	}
	res = EvaluationResult{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		AdjustmentType: rule.AdjustmentType,
		Details: EvaluationDetails{
			Field:    rule.AppliesTo,
			Operator: rule.Operator,
			Formula:  strings.TrimSpace(rule.FormulaExpression),
		},
	}
	defer func() {
		if r := recover(); r != nil {
			res.ConditionMet = false
			res.ImpactApplied = false
			res.ResultValue = nil
			res.Details.Error = fmt.Sprintf("evaluation panicked: %v", r)
		}
	}()

	// Step 1: inactive rules never apply
	if !rule.IsActive || rule.IsArchived() {
		res.Details.Error = msgInactive
		return res
	}
	if e.Clock != nil {
		if now := e.Clock(); !rule.IsEffective(now) {
			res.Details.Error = "Rule is not effective on " + now.Format(time.RFC3339)
			return res
		}
	}

	// Step 2: extract the field
	value, ok := record[rule.AppliesTo]
	if !ok || value == nil {
		res.Details.Error = msgFieldNotFound
		return res
	}
	res.Details.FieldValue = value
	expected := rule.Value
	res.Details.Expected = &expected

	// Step 3-4: condition
	met, err := matchCondition(rule.Operator, value, rule.Value)
	if err != nil {
		res.Details.Error = err.Error()
		return res
	}
	if !met {
		return res
	}

	// Step 5: impact
	impact, err := e.impact(rule, record)
	if err != nil {
		res.Details.Error = err.Error()
		return res
	}
	res.ConditionMet = true
	res.ImpactApplied = true
	res.ResultValue = &impact
	return res
}

func (e *Evaluator) impact(rule *Rule, record Record) (decimal.Decimal, error) {
	if !rule.UsesFormula() {
		if rule.AdjustmentType == AdjustFormula {
			return decimal.Zero, fmt.Errorf("FORMULA adjustment has no formula_expression")
		}
		return rule.AdjustmentValue, nil
	}
	return e.sandbox().Evaluate(rule.FormulaExpression, FormulaVariables(record, rule.FormulaVariables))
}

func (e *Evaluator) sandbox() *formula.Sandbox {
	if e.Sandbox == nil {
		return formula.NewSandbox()
	}
	return e.Sandbox
}

// FormulaVariables builds the formula namespace: every numeric (or numeric
// string, or boolean) record value, overlaid with the rule's own variables.
func FormulaVariables(record Record, ruleVars map[string]decimal.Decimal) map[string]decimal.Decimal {
	vars := make(map[string]decimal.Decimal, len(record)+len(ruleVars))
	for k, v := range record {
		if d, ok := core.ToDecimal(v); ok {
			vars[k] = d
		}
	}
	for k, v := range ruleVars {
		vars[k] = v
	}
	return vars
}

// =============================================================================
// CONDITIONS - exhaustive over the closed operator set
// =============================================================================

func matchCondition(op Operator, actual any, operand Operand) (bool, error) {
	switch op {
	case OpEqual, OpNotEqual:
		if operand.IsList {
			return false, &conditionError{op, "operand must be a single value"}
		}
		eq := valuesEqual(actual, operand.Scalar)
		return eq == (op == OpEqual), nil

	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		if operand.IsList {
			return false, &conditionError{op, "operand must be a single value"}
		}
		cmp, err := compareNumeric(op, actual, operand.Scalar)
		if err != nil {
			return false, err
		}
		switch op {
		case OpGreater:
			return cmp > 0, nil
		case OpGreaterEqual:
			return cmp >= 0, nil
		case OpLess:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}

	case OpIn, OpNotIn:
		if !operand.IsList {
			return false, &conditionError{op, "operand must be a list"}
		}
		found := false
		for _, item := range operand.List {
			if valuesEqual(actual, item) {
				found = true
				break
			}
		}
		return found == (op == OpIn), nil

	case OpBetween:
		if !operand.IsList || len(operand.List) != 2 {
			return false, &conditionError{op, "operand must be exactly two values"}
		}
		lo, err := compareNumeric(op, actual, operand.List[0])
		if err != nil {
			return false, err
		}
		hi, err := compareNumeric(op, actual, operand.List[1])
		if err != nil {
			return false, err
		}
		return lo >= 0 && hi <= 0, nil

	default:
		return false, &conditionError{op, "unsupported operator"}
	}
}

// valuesEqual compares numerically when both sides are numeric and
// otherwise as case-insensitive trimmed strings.
func valuesEqual(a, b any) bool {
	da, okA := core.ToDecimal(a)
	db, okB := core.ToDecimal(b)
	if okA && okB {
		return da.Equal(db)
	}
	return strings.EqualFold(strings.TrimSpace(core.ToString(a)), strings.TrimSpace(core.ToString(b)))
}

func compareNumeric(op Operator, actual, expected any) (int, error) {
	a, ok := core.ToDecimal(actual)
	if !ok {
		return 0, &conditionError{op, fmt.Sprintf("field value %v is not numeric", actual)}
	}
	b, ok := core.ToDecimal(expected)
	if !ok {
		return 0, &conditionError{op, fmt.Sprintf("operand %v is not numeric", expected)}
	}
	return a.Cmp(b), nil
}
