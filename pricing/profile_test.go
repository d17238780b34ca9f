package pricing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/formula"
	"github.com/nasri82/cardinsa-pricing/pricing"
)

func link(rule *pricing.Rule, idx int) pricing.ProfileRuleLink {
	return pricing.ProfileRuleLink{ProfileID: "p", RuleID: rule.ID, OrderIndex: idx, IsActive: true, Rule: rule}
}

// =============================================================================
// CONSISTENCY TESTS
// =============================================================================

func TestConsistency_CleanProfile(t *testing.T) {
	links := []pricing.ProfileRuleLink{
		link(fixedRule("a", "age", "1"), 0),
		link(fixedRule("b", "bmi", "1"), 1),
	}

	rep := pricing.ValidateProfileRuleConsistency(links)

	assert.True(t, rep.IsConsistent)
	assert.Empty(t, rep.Issues)
	assert.Empty(t, rep.Warnings)
	assert.Equal(t, 2, rep.ActiveLinks)
}

func TestConsistency_DuplicateOrderIndexBlocks(t *testing.T) {
	links := []pricing.ProfileRuleLink{
		link(fixedRule("a", "age", "1"), 0),
		link(fixedRule("b", "bmi", "1"), 0),
	}

	rep := pricing.ValidateProfileRuleConsistency(links)

	assert.False(t, rep.IsConsistent)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, pricing.IssueDuplicateOrder, rep.Issues[0].Kind)
	assert.ElementsMatch(t, []string{"a", "b"}, rep.Issues[0].RuleIDs)
}

func TestConsistency_GapsWarnOnly(t *testing.T) {
	links := []pricing.ProfileRuleLink{
		link(fixedRule("a", "age", "1"), 1),
		link(fixedRule("b", "bmi", "1"), 4),
	}

	rep := pricing.ValidateProfileRuleConsistency(links)

	assert.True(t, rep.IsConsistent)
	require.Len(t, rep.Warnings, 2)
	assert.Equal(t, pricing.IssueOrderGap, rep.Warnings[0].Kind)
	assert.Contains(t, rep.Warnings[0].Message, "starts at 1")
	assert.Contains(t, rep.Warnings[1].Message, "from 1 to 4")
}

func TestConsistency_SameFieldDifferentOperatorsWarns(t *testing.T) {
	a := fixedRule("a", "age", "1")
	b := fixedRule("b", "age", "1")
	b.Operator = pricing.OpLess
	c := fixedRule("c", "age", "1") // same operator as a

	rep := pricing.ValidateProfileRuleConsistency([]pricing.ProfileRuleLink{link(a, 0), link(b, 1), link(c, 2)})

	assert.True(t, rep.IsConsistent)
	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, pricing.IssueOperatorConflict, rep.Warnings[0].Kind)
	assert.Equal(t, "age", rep.Warnings[0].Field)
	assert.Len(t, rep.Warnings[0].RuleIDs, 3)
}

func TestConsistency_IgnoresSuspendedLinks(t *testing.T) {
	suspended := link(fixedRule("b", "bmi", "1"), 0)
	suspended.IsActive = false

	rep := pricing.ValidateProfileRuleConsistency([]pricing.ProfileRuleLink{link(fixedRule("a", "age", "1"), 0), suspended})

	assert.True(t, rep.IsConsistent)
	assert.Equal(t, 1, rep.ActiveLinks)
}

// =============================================================================
// ORDERING TESTS
// =============================================================================

func TestOptimizeRuleOrder_Policy(t *testing.T) {
	mult := fixedRule("mult", "age", "1")
	mult.AdjustmentType = pricing.AdjustMultiplier
	pct := fixedRule("pct", "age", "1")
	pct.AdjustmentType = pricing.AdjustPercentage
	fixed1 := fixedRule("fixed1", "age", "1")
	fixed2 := fixedRule("fixed2", "age", "1")
	form := fixedRule("form", "age", "1")
	form.AdjustmentType = pricing.AdjustFormula
	form.FormulaExpression = "age * 2"

	in := []pricing.ProfileRuleLink{link(mult, 0), link(pct, 1), link(fixed2, 5), link(form, 3), link(fixed1, 2)}
	out := pricing.OptimizeRuleOrder(in)

	var ids []string
	for i, l := range out {
		ids = append(ids, l.RuleID)
		assert.Equal(t, i, l.OrderIndex)
	}
	assert.Equal(t, []string{"form", "fixed1", "fixed2", "pct", "mult"}, ids)
	assert.Equal(t, 0, in[0].OrderIndex, "input is not modified")
}

func TestNormalizeOrder(t *testing.T) {
	in := []pricing.ProfileRuleLink{
		link(fixedRule("c", "x", "1"), 9),
		link(fixedRule("a", "x", "1"), 2),
		link(fixedRule("b", "x", "1"), 2),
	}

	out := pricing.NormalizeOrder(in)

	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].RuleID)
	assert.Equal(t, "b", out[1].RuleID)
	assert.Equal(t, "c", out[2].RuleID)
	assert.Equal(t, 2, out[2].OrderIndex)
	assert.True(t, pricing.ValidateProfileRuleConsistency(out).IsConsistent)
}

// =============================================================================
// PROFILE VALIDATION
// =============================================================================

func TestProfileValidate(t *testing.T) {
	p := &pricing.Profile{Name: " Family ", InsuranceType: "MEDICAL", BasePremium: d("900"), CurrencyCode: "SAR"}
	require.NoError(t, p.Validate(nil))
	assert.Equal(t, "Family", p.Name)

	p.RiskFormula = "base_premium * open(1)"
	err := p.Validate(formula.NewSandbox())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))

	p.RiskFormula = ""
	p.MinPremium = core.Dec("1000")
	p.MaxPremium = core.Dec("10")
	assert.Error(t, p.Validate(nil))
}

// =============================================================================
// CHANGE TRACKING TESTS
// =============================================================================

func TestApplyUpdate_ReportsChangedFields(t *testing.T) {
	// GIVEN: A rule at version 0
	// WHEN: Changing the adjustment value and re-sending the same name
	// THEN: Only adjustment_value is reported and the version increments

	r := ageLoading()
	name := r.Name
	now := t0.Add(time.Hour)

	change, err := r.ApplyUpdate(pricing.RuleUpdate{Name: &name, AdjustmentValue: core.Dec("30")}, "annual review", now, formula.NewSandbox())
	require.NoError(t, err)

	assert.Equal(t, []string{"adjustment_value"}, change.ChangedFields)
	assert.Equal(t, 0, change.OldVersion)
	assert.Equal(t, 1, change.NewVersion)
	assert.Equal(t, "annual review", change.Reason)
	assert.True(t, change.Before.AdjustmentValue.Equal(d("25")))
	assert.True(t, change.After.AdjustmentValue.Equal(d("30")))
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, now, r.UpdatedAt)
}

func TestApplyUpdate_InvalidLeavesRuleUntouched(t *testing.T) {
	r := ageLoading()
	in := pricing.OpIn

	_, err := r.ApplyUpdate(pricing.RuleUpdate{Operator: &in}, "", t0, formula.NewSandbox())
	require.Error(t, err)
	assert.Equal(t, pricing.OpGreaterEqual, r.Operator)
	assert.Equal(t, 0, r.Version)
}

func TestApplyUpdate_NoChange(t *testing.T) {
	r := ageLoading()

	change, err := r.ApplyUpdate(pricing.RuleUpdate{AdjustmentValue: core.Dec("25.0")}, "", t0, formula.NewSandbox())
	require.NoError(t, err)
	assert.Empty(t, change.ChangedFields)
	assert.Equal(t, 0, r.Version)
}

func TestApplyUpdate_ClearOptionalFields(t *testing.T) {
	// GIVEN: A rule with an end date and a minimum premium
	r := ageLoading()
	end := t0.AddDate(1, 0, 0)
	r.EffectiveTo = &end
	r.MinPremium = core.Dec("100")
	r.CurrencyCode = "SAR"

	// WHEN: Clearing both
	change, err := r.ApplyUpdate(pricing.RuleUpdate{Clear: []string{"effective_to", "min_premium"}}, "open-ended", t0, formula.NewSandbox())

	// THEN: The rule is open-ended again and the change is recorded
	require.NoError(t, err)
	assert.Equal(t, []string{"min_premium", "effective_to"}, change.ChangedFields)
	assert.Nil(t, r.EffectiveTo)
	assert.Nil(t, r.MinPremium)
	assert.NotNil(t, change.Before.EffectiveTo)
	assert.Equal(t, 1, r.Version)
	assert.False(t, r.IsExpired(end.AddDate(10, 0, 0)))

	// AND: Clearing what is already unset changes nothing
	change, err = r.ApplyUpdate(pricing.RuleUpdate{Clear: []string{"effective_to"}}, "", t0, formula.NewSandbox())
	require.NoError(t, err)
	assert.Empty(t, change.ChangedFields)
	assert.Equal(t, 1, r.Version)
}

func TestApplyUpdate_RejectsBadClear(t *testing.T) {
	end := t0.AddDate(1, 0, 0)
	cases := []struct {
		name  string
		u     pricing.RuleUpdate
		field string
	}{
		{"not clearable", pricing.RuleUpdate{Clear: []string{"name"}}, "clear"},
		{"set and cleared", pricing.RuleUpdate{EffectiveTo: &end, Clear: []string{"effective_to"}}, "effective_to"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := ageLoading()

			_, err := r.ApplyUpdate(tc.u, "", t0, formula.NewSandbox())

			require.True(t, errors.Is(err, core.ErrValidation), "got %v", err)
			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Problems[0].Field)
			assert.Nil(t, r.EffectiveTo)
			assert.Equal(t, 0, r.Version)
		})
	}
}

func TestValidate_PremiumProblemsInFieldOrder(t *testing.T) {
	r := ageLoading()
	r.CurrencyCode = "SAR"
	r.BasePremium = core.Dec("-1")
	r.MinPremium = core.Dec("-2")
	r.MaxPremium = core.Dec("-3")

	for i := 0; i < 20; i++ {
		err := r.Validate()
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr))

		var fields []string
		for _, p := range verr.Problems {
			if p.Message == "must be >= 0" {
				fields = append(fields, p.Field)
			}
		}
		require.Equal(t, []string{"base_premium", "min_premium", "max_premium"}, fields)
	}
}

func TestArchive(t *testing.T) {
	r := ageLoading()
	at := t0.AddDate(0, 1, 0)

	change := r.Archive(at, "superseded")

	assert.True(t, r.IsArchived())
	assert.Equal(t, []string{"state", "is_active", "archived_at"}, change.ChangedFields)
	assert.Empty(t, r.Archive(at, "again").ChangedFields)
	assert.False(t, r.IsEffective(at))
	assert.Equal(t, 1, r.Version)

	_, err := r.ApplyUpdate(pricing.RuleUpdate{}, "", at, nil)
	assert.True(t, errors.Is(err, pricing.ErrRuleArchived))
}

func TestIsEffectiveAndExpired(t *testing.T) {
	r := ageLoading()
	end := t0.AddDate(1, 0, 0)
	r.EffectiveTo = &end

	assert.False(t, r.IsEffective(t0.Add(-time.Second)))
	assert.True(t, r.IsEffective(t0))
	assert.False(t, r.IsEffective(end))
	assert.False(t, r.IsExpired(end))
	assert.True(t, r.IsExpired(end.Add(time.Second)))
}
