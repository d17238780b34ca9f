package pricing

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/formula"
)

// =============================================================================
// CHANGE TRACKING - the persistence layer writes the history row
// =============================================================================

// RuleUpdate is an admin edit. Nil fields are left untouched; optional
// fields named in Clear are unset.
type RuleUpdate struct {
	Name              *string                    `json:"name,omitempty"`
	Description       *string                    `json:"description,omitempty"`
	RuleType          *RuleType                  `json:"rule_type,omitempty"`
	AppliesTo         *string                    `json:"applies_to,omitempty"`
	Operator          *Operator                  `json:"comparison_operator,omitempty"`
	Value             *Operand                   `json:"value,omitempty"`
	AdjustmentType    *AdjustmentType            `json:"adjustment_type,omitempty"`
	AdjustmentValue   *decimal.Decimal           `json:"adjustment_value,omitempty"`
	FormulaExpression *string                    `json:"formula_expression,omitempty"`
	FormulaVariables  map[string]decimal.Decimal `json:"formula_variables,omitempty"`
	BasePremium       *decimal.Decimal           `json:"base_premium,omitempty"`
	MinPremium        *decimal.Decimal           `json:"min_premium,omitempty"`
	MaxPremium        *decimal.Decimal           `json:"max_premium,omitempty"`
	CurrencyCode      *string                    `json:"currency_code,omitempty"`
	EffectiveFrom     *time.Time                 `json:"effective_from,omitempty"`
	EffectiveTo       *time.Time                 `json:"effective_to,omitempty"`
	Priority          *int                       `json:"priority,omitempty"`
	IsActive          *bool                      `json:"is_active,omitempty"`
	Clear             []string                   `json:"clear,omitempty"`
}

// clearableRuleFields are the optional rule fields an update may unset.
var clearableRuleFields = map[string]bool{
	"base_premium": true,
	"min_premium":  true,
	"max_premium":  true,
	"effective_to": true,
}

func (u RuleUpdate) sets(field string) bool {
	switch field {
	case "base_premium":
		return u.BasePremium != nil
	case "min_premium":
		return u.MinPremium != nil
	case "max_premium":
		return u.MaxPremium != nil
	case "effective_to":
		return u.EffectiveTo != nil
	}
	return false
}

// RuleChange is what the history collaborator needs to build its snapshot.
type RuleChange struct {
	RuleID        string    `json:"rule_id"`
	ChangedFields []string  `json:"changed_fields"`
	OldVersion    int       `json:"old_version"`
	NewVersion    int       `json:"new_version"`
	Reason        string    `json:"reason,omitempty"`
	Before        *Rule     `json:"before"`
	After         *Rule     `json:"after"`
	ChangedAt     time.Time `json:"changed_at"`
}

// ApplyUpdate applies u in place after validating the result with sb.
// Archived rules cannot be edited. When nothing changes the rule and its
// version are untouched and ChangedFields is empty.
func (r *Rule) ApplyUpdate(u RuleUpdate, reason string, now time.Time, sb *formula.Sandbox) (RuleChange, error) {
	if r.IsArchived() {
		return RuleChange{}, ErrRuleArchived
	}
	if err := core.CheckClearFields("pricing_rule", u.Clear, clearableRuleFields, u.sets); err != nil {
		return RuleChange{}, err
	}
	before := r.Clone()
	next := r.Clone()
	var changed []string
	mark := func(field string) { changed = append(changed, field) }

	if u.Name != nil && *u.Name != next.Name {
		next.Name = *u.Name
		mark("name")
	}
	if u.Description != nil && *u.Description != next.Description {
		next.Description = *u.Description
		mark("description")
	}
	if u.RuleType != nil && *u.RuleType != next.RuleType {
		next.RuleType = *u.RuleType
		mark("rule_type")
	}
	if u.AppliesTo != nil && *u.AppliesTo != next.AppliesTo {
		next.AppliesTo = *u.AppliesTo
		mark("applies_to")
	}
	if u.Operator != nil {
		op := *u.Operator
		if parsed, err := ParseOperator(string(op)); err == nil {
			op = parsed
		}
		if op != next.Operator {
			next.Operator = op
			mark("comparison_operator")
		}
	}
	if u.Value != nil && !sameOperand(*u.Value, next.Value) {
		next.Value = *u.Value
		mark("value")
	}
	if u.AdjustmentType != nil && *u.AdjustmentType != next.AdjustmentType {
		next.AdjustmentType = *u.AdjustmentType
		mark("adjustment_type")
	}
	if u.AdjustmentValue != nil && !u.AdjustmentValue.Equal(next.AdjustmentValue) {
		next.AdjustmentValue = *u.AdjustmentValue
		mark("adjustment_value")
	}
	if u.FormulaExpression != nil && *u.FormulaExpression != next.FormulaExpression {
		next.FormulaExpression = *u.FormulaExpression
		mark("formula_expression")
	}
	if u.FormulaVariables != nil && !sameVariables(u.FormulaVariables, next.FormulaVariables) {
		next.FormulaVariables = u.FormulaVariables
		mark("formula_variables")
	}
	updateDecimal(&next.BasePremium, u.BasePremium, "base_premium", mark)
	updateDecimal(&next.MinPremium, u.MinPremium, "min_premium", mark)
	updateDecimal(&next.MaxPremium, u.MaxPremium, "max_premium", mark)
	clearDecimal(&next.BasePremium, slices.Contains(u.Clear, "base_premium"), "base_premium", mark)
	clearDecimal(&next.MinPremium, slices.Contains(u.Clear, "min_premium"), "min_premium", mark)
	clearDecimal(&next.MaxPremium, slices.Contains(u.Clear, "max_premium"), "max_premium", mark)
	if u.CurrencyCode != nil && *u.CurrencyCode != next.CurrencyCode {
		next.CurrencyCode = *u.CurrencyCode
		mark("currency_code")
	}
	if u.EffectiveFrom != nil && !u.EffectiveFrom.Equal(next.EffectiveFrom) {
		next.EffectiveFrom = *u.EffectiveFrom
		mark("effective_from")
	}
	if u.EffectiveTo != nil && (next.EffectiveTo == nil || !u.EffectiveTo.Equal(*next.EffectiveTo)) {
		to := *u.EffectiveTo
		next.EffectiveTo = &to
		mark("effective_to")
	}
	if slices.Contains(u.Clear, "effective_to") && next.EffectiveTo != nil {
		next.EffectiveTo = nil
		mark("effective_to")
	}
	if u.Priority != nil && *u.Priority != next.Priority {
		next.Priority = *u.Priority
		mark("priority")
	}
	if u.IsActive != nil && *u.IsActive != next.IsActive {
		next.IsActive = *u.IsActive
		mark("is_active")
	}

	change := RuleChange{
		RuleID:        r.ID,
		ChangedFields: changed,
		OldVersion:    r.Version,
		NewVersion:    r.Version,
		Reason:        reason,
		ChangedAt:     now,
	}
	if len(changed) == 0 {
		change.ChangedFields = []string{}
		change.Before, change.After = before, before
		return change, nil
	}

	if err := next.ValidateWith(sb); err != nil {
		return RuleChange{}, err
	}
	next.Version++
	next.UpdatedAt = now
	*r = *next

	change.NewVersion = r.Version
	change.Before = before
	change.After = r.Clone()
	return change, nil
}

func updateDecimal(dst **decimal.Decimal, src *decimal.Decimal, field string, mark func(string)) {
	if src == nil {
		return
	}
	if *dst != nil && (*dst).Equal(*src) {
		return
	}
	v := *src
	*dst = &v
	mark(field)
}

func clearDecimal(dst **decimal.Decimal, clear bool, field string, mark func(string)) {
	if clear && *dst != nil {
		*dst = nil
		mark(field)
	}
}

func sameOperand(a, b Operand) bool {
	return a.IsList == b.IsList && a.String() == b.String()
}

func sameVariables(a, b map[string]decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}
