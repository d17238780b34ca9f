/*
Package pricing evaluates conditional premium adjustments and aggregates them
into a premium.

PURPOSE:
  A Rule is a condition (field, operator, operand) plus an adjustment
  (percentage, fixed amount, multiplier or formula). Rules are validated at
  write time, evaluated one at a time against a flat input record, and
  applied in order through a Profile.

KEY CONCEPTS:
  - Rule:             condition + adjustment + effective window
  - Operator:         closed set {=, !=, >, >=, <, <=, IN, NOT IN, BETWEEN}
  - Operand:          scalar, list or pair, depending on the operator
  - EvaluationResult: transient per-rule outcome; errors are in-band
  - Profile:          named bundle of ordered rule links
  - Aggregator:       ordered evaluation + consistency analysis

ERROR POLICY:
  Validate returns a core.ValidationError to the caller. Evaluation never
  returns an error: one malformed rule must not abort a rule set, so
  failures land in EvaluationResult.Details.Error.

SEE ALSO:
  - validate.go:   Operator/operand and adjustment checks
  - evaluator.go:  Rule Evaluation Engine
  - aggregate.go:  Rule set and profile evaluation
  - profile.go:    Ordering and consistency analysis
  - premium.go:    Applying adjustments to a base premium
*/
package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// Operator is the comparison applied by a rule's condition.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpIn           Operator = "IN"
	OpNotIn        Operator = "NOT IN"
	OpBetween      Operator = "BETWEEN"
)

// Operators lists every supported operator.
var Operators = []Operator{OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpIn, OpNotIn, OpBetween}

// ParseOperator normalizes case and spacing ("not  in" → NOT IN, "==" → =).
func ParseOperator(s string) (Operator, error) {
	norm := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if norm == "==" {
		norm = "="
	}
	if norm == "<>" {
		norm = "!="
	}
	for _, op := range Operators {
		if Operator(norm) == op {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown comparison operator %q", s)
}

// IsScalar reports whether the operator compares against a single value.
func (o Operator) IsScalar() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return true
	}
	return false
}

// AdjustmentType declares how AdjustmentValue is applied to a premium.
type AdjustmentType string

const (
	AdjustPercentage AdjustmentType = "PERCENTAGE"
	AdjustFixed      AdjustmentType = "FIXED_AMOUNT"
	AdjustMultiplier AdjustmentType = "MULTIPLIER"
	AdjustFormula    AdjustmentType = "FORMULA"
)

// RuleType is a category tag used for reporting and filtering only.
type RuleType string

const (
	RuleAgeBased      RuleType = "AGE_BASED"
	RuleRiskBased     RuleType = "RISK_BASED"
	RuleLocationBased RuleType = "LOCATION_BASED"
	RuleCoverageBased RuleType = "COVERAGE_BASED"
	RuleHistoryBased  RuleType = "HISTORY_BASED"
	RuleDiscount      RuleType = "DISCOUNT"
	RuleLoading       RuleType = "LOADING"
	RuleCustom        RuleType = "CUSTOM"
)

// State replaces the archived_at soft-delete column with an explicit state.
type State string

const (
	StateActive   State = "active"
	StateArchived State = "archived"
)

// =============================================================================
// OPERAND - scalar, list, or pair
// =============================================================================

// Operand is the comparison value of a condition. A JSON array decodes to a
// list; anything else is a scalar. Pairs (BETWEEN) are two-element lists.
type Operand struct {
	Scalar any
	List   []any
	IsList bool
}

// ScalarOperand wraps a single comparison value.
func ScalarOperand(v any) Operand { return Operand{Scalar: v} }

// ListOperand wraps a list of comparison values.
func ListOperand(vs ...any) Operand { return Operand{List: vs, IsList: true} }

// IsZero reports whether no value was supplied.
func (o Operand) IsZero() bool {
	return !o.IsList && o.Scalar == nil
}

func (o Operand) String() string {
	if o.IsList {
		parts := make([]string, len(o.List))
		for i, v := range o.List {
			parts[i] = fmt.Sprint(v)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(o.Scalar)
}

func (o Operand) MarshalJSON() ([]byte, error) {
	if o.IsList {
		if o.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(o.List)
	}
	return json.Marshal(o.Scalar)
}

func (o *Operand) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []any
		if err := dec.Decode(&list); err != nil {
			return err
		}
		if list == nil {
			list = []any{}
		}
		*o = Operand{List: list, IsList: true}
		return nil
	}
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*o = Operand{Scalar: v}
	return nil
}

// =============================================================================
// RULE
// =============================================================================

// Rule is one conditional premium adjustment.
type Rule struct {
	ID            string   `json:"id"`
	Name          string   `json:"name" validate:"required,max=200"`
	Description   string   `json:"description,omitempty"`
	InsuranceType string   `json:"insurance_type" validate:"required,max=50"`
	RuleType      RuleType `json:"rule_type" validate:"required,oneof=AGE_BASED RISK_BASED LOCATION_BASED COVERAGE_BASED HISTORY_BASED DISCOUNT LOADING CUSTOM"`

	// Condition
	AppliesTo string   `json:"applies_to" validate:"required,max=100"`
	Operator  Operator `json:"comparison_operator" validate:"required"`
	Value     Operand  `json:"value"`

	// Adjustment
	AdjustmentType    AdjustmentType             `json:"adjustment_type" validate:"required,oneof=PERCENTAGE FIXED_AMOUNT MULTIPLIER FORMULA"`
	AdjustmentValue   decimal.Decimal            `json:"adjustment_value"`
	FormulaExpression string                     `json:"formula_expression,omitempty"`
	FormulaVariables  map[string]decimal.Decimal `json:"formula_variables,omitempty"`

	// Boundaries
	BasePremium  *decimal.Decimal `json:"base_premium,omitempty"`
	MinPremium   *decimal.Decimal `json:"min_premium,omitempty"`
	MaxPremium   *decimal.Decimal `json:"max_premium,omitempty"`
	CurrencyCode string           `json:"currency_code,omitempty" validate:"omitempty,len=3,uppercase,alpha"`

	// Temporal
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Priority      int        `json:"priority"`
	Version       int        `json:"version"`
	IsActive      bool       `json:"is_active"`
	State         State      `json:"state"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsesFormula reports whether the impact comes from the formula sandbox.
func (r *Rule) UsesFormula() bool {
	return strings.TrimSpace(r.FormulaExpression) != ""
}

// IsArchived reports whether the rule has been soft-deleted.
func (r *Rule) IsArchived() bool {
	return r.State == StateArchived
}

// IsEffective is true when the rule is active, not archived, and now falls
// in [EffectiveFrom, EffectiveTo).
func (r *Rule) IsEffective(now time.Time) bool {
	if !r.IsActive || r.IsArchived() {
		return false
	}
	if now.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || now.Before(*r.EffectiveTo)
}

// IsExpired is true once now is past EffectiveTo.
func (r *Rule) IsExpired(now time.Time) bool {
	return r.EffectiveTo != nil && now.After(*r.EffectiveTo)
}

// Archive soft-deletes the rule and reports the change for the history
// row. Archiving twice is a no-op with no changed fields.
func (r *Rule) Archive(at time.Time, reason string) RuleChange {
	change := RuleChange{
		RuleID:        r.ID,
		ChangedFields: []string{},
		OldVersion:    r.Version,
		NewVersion:    r.Version,
		Reason:        reason,
		Before:        r.Clone(),
		ChangedAt:     at,
	}
	if r.IsArchived() {
		change.After = change.Before
		return change
	}
	r.State = StateArchived
	r.IsActive = false
	r.ArchivedAt = &at
	r.UpdatedAt = at
	r.Version++

	change.ChangedFields = []string{"state", "is_active", "archived_at"}
	change.NewVersion = r.Version
	change.After = r.Clone()
	return change
}

// Clone returns a deep copy so callers can diff before and after an update.
func (r *Rule) Clone() *Rule {
	c := *r
	if r.Value.IsList {
		c.Value.List = append([]any(nil), r.Value.List...)
	}
	if r.FormulaVariables != nil {
		c.FormulaVariables = make(map[string]decimal.Decimal, len(r.FormulaVariables))
		for k, v := range r.FormulaVariables {
			c.FormulaVariables[k] = v
		}
	}
	return &c
}
