// Package storetest holds the behavioural tests every store.Repository
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/coverage"
	"github.com/nasri82/cardinsa-pricing/pricing"
	"github.com/nasri82/cardinsa-pricing/store"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Rule builds a valid FIXED_AMOUNT rule on field "age".
func Rule(id, name string) *pricing.Rule {
	return &pricing.Rule{
		ID:              id,
		Name:            name,
		InsuranceType:   "MEDICAL",
		RuleType:        pricing.RuleAgeBased,
		AppliesTo:       "age",
		Operator:        pricing.OpGreaterEqual,
		Value:           pricing.ScalarOperand(60),
		AdjustmentType:  pricing.AdjustFixed,
		AdjustmentValue: core.MustParseDecimal("100"),
		EffectiveFrom:   t0,
		IsActive:        true,
		State:           pricing.StateActive,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}

// Profile builds a valid active profile.
func Profile(id string) *pricing.Profile {
	return &pricing.Profile{
		ID:            id,
		Name:          "Profile " + id,
		InsuranceType: "MEDICAL",
		BasePremium:   core.MustParseDecimal("1000"),
		CurrencyCode:  "SAR",
		IsActive:      true,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

// Coverage builds a valid outpatient benefit.
func Coverage(code string) *coverage.Benefit {
	return &coverage.Benefit{
		Code:               code,
		Name:               "Outpatient",
		Copay:              core.Dec("20"),
		Deductible:         core.Dec("100"),
		CoinsurancePercent: core.Dec("20"),
		Status:             coverage.StatusActive,
		IsActive:           true,
		IsAvailable:        true,
	}
}

// Run exercises repo through the full Repository contract. newRepo must
// return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Run("coverages", func(t *testing.T) { testCoverages(t, newRepo(t)) })
	t.Run("rules", func(t *testing.T) { testRules(t, newRepo(t)) })
	t.Run("rule history", func(t *testing.T) { testHistory(t, newRepo(t)) })
	t.Run("profiles and links", func(t *testing.T) { testProfiles(t, newRepo(t)) })
	t.Run("reset", func(t *testing.T) { testReset(t, newRepo(t)) })
}

func testCoverages(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateCoverage(ctx, Coverage("OPD")))
	err := repo.CreateCoverage(ctx, Coverage("OPD"))
	assert.True(t, core.IsConflict(err), "duplicate code must conflict, got %v", err)

	got, err := repo.GetCoverage(ctx, "opd")
	require.NoError(t, err)
	assert.Equal(t, "Outpatient", got.Name)
	assert.True(t, got.Copay.Equal(core.MustParseDecimal("20")))

	got.Name = "Outpatient Care"
	got.Version++
	require.NoError(t, repo.SaveCoverage(ctx, got))

	list, err := repo.ListCoverages(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Outpatient Care", list[0].Name)
	assert.Equal(t, 1, list[0].Version)

	_, err = repo.GetCoverage(ctx, "MISSING")
	assert.True(t, errors.Is(err, core.ErrCoverageNotFound))
	assert.True(t, core.IsNotFound(repo.SaveCoverage(ctx, Coverage("MISSING"))))
}

func testRules(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	r := Rule("r1", "Senior loading")
	r.Value = pricing.ListOperand(60, 70)
	r.Operator = pricing.OpBetween
	r.MinPremium = core.Dec("50")
	r.CurrencyCode = "SAR"
	require.NoError(t, repo.CreateRule(ctx, r))

	err := repo.CreateRule(ctx, Rule("r2", "senior LOADING"))
	assert.True(t, core.IsConflict(err), "name is unique per insurance type, got %v", err)

	other := Rule("r3", "Senior loading")
	other.InsuranceType = "MOTOR"
	require.NoError(t, repo.CreateRule(ctx, other))

	got, err := repo.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, pricing.OpBetween, got.Operator)
	require.True(t, got.Value.IsList)
	require.Len(t, got.Value.List, 2)
	low, ok := core.ToDecimal(got.Value.List[0])
	require.True(t, ok)
	assert.True(t, low.Equal(core.MustParseDecimal("60")))
	assert.True(t, got.MinPremium.Equal(core.MustParseDecimal("50")))
	assert.True(t, got.EffectiveFrom.Equal(t0))

	_, err = repo.GetRule(ctx, "nope")
	assert.True(t, errors.Is(err, core.ErrRuleNotFound))

	medical, err := repo.ListRules(ctx, store.RuleFilter{InsuranceType: "MEDICAL"})
	require.NoError(t, err)
	require.Len(t, medical, 1)
	assert.Equal(t, "r1", medical[0].ID)

	change := got.Archive(t0.AddDate(0, 1, 0), "retired")
	require.NoError(t, repo.UpdateRule(ctx, got, change))

	visible, err := repo.ListRules(ctx, store.RuleFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "r3", visible[0].ID)

	all, err := repo.ListRules(ctx, store.RuleFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	archived, err := repo.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, archived.IsArchived())
	assert.Equal(t, 1, archived.Version)
}

func testHistory(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	r := Rule("r1", "Senior loading")
	require.NoError(t, repo.CreateRule(ctx, r))

	change, err := r.ApplyUpdate(pricing.RuleUpdate{AdjustmentValue: core.Dec("150")}, "repricing", t0.Add(time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateRule(ctx, r, change))

	change = r.Archive(t0.Add(2*time.Hour), "withdrawn")
	require.NoError(t, repo.UpdateRule(ctx, r, change))

	history, err := repo.RuleHistory(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, []string{"adjustment_value"}, history[0].ChangedFields)
	assert.Equal(t, 0, history[0].OldVersion)
	assert.Equal(t, 1, history[0].NewVersion)
	assert.Equal(t, "repricing", history[0].Reason)
	require.NotNil(t, history[0].Before)
	require.NotNil(t, history[0].After)
	assert.True(t, history[0].Before.AdjustmentValue.Equal(core.MustParseDecimal("100")))
	assert.True(t, history[0].After.AdjustmentValue.Equal(core.MustParseDecimal("150")))

	assert.Equal(t, 2, history[1].NewVersion)
	assert.Less(t, history[0].ID, history[1].ID)

	_, err = repo.RuleHistory(ctx, "nope")
	assert.True(t, core.IsNotFound(err))

	err = repo.UpdateRule(ctx, Rule("ghost", "Ghost"), pricing.RuleChange{RuleID: "ghost"})
	assert.True(t, errors.Is(err, core.ErrRuleNotFound))
}

func testProfiles(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateProfile(ctx, Profile("p1")))
	assert.True(t, core.IsConflict(repo.CreateProfile(ctx, Profile("p1"))))
	require.NoError(t, repo.CreateRule(ctx, Rule("a", "A")))
	require.NoError(t, repo.CreateRule(ctx, Rule("b", "B")))

	require.NoError(t, repo.LinkRule(ctx, pricing.ProfileRuleLink{ProfileID: "p1", RuleID: "b", OrderIndex: 1, IsActive: true}))
	require.NoError(t, repo.LinkRule(ctx, pricing.ProfileRuleLink{ProfileID: "p1", RuleID: "a", OrderIndex: 0, IsActive: true}))

	err := repo.LinkRule(ctx, pricing.ProfileRuleLink{ProfileID: "p1", RuleID: "zzz"})
	assert.True(t, errors.Is(err, core.ErrRuleNotFound))
	err = repo.LinkRule(ctx, pricing.ProfileRuleLink{ProfileID: "nope", RuleID: "a"})
	assert.True(t, errors.Is(err, core.ErrProfileNotFound))

	links, err := repo.ProfileLinks(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	for _, l := range links {
		require.NotNil(t, l.Rule, "link %s must carry its rule", l.RuleID)
		assert.Equal(t, l.RuleID, l.Rule.ID)
	}
	ordered := pricing.OrderedRules(links)
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].ID)

	// relinking moves instead of duplicating
	require.NoError(t, repo.LinkRule(ctx, pricing.ProfileRuleLink{ProfileID: "p1", RuleID: "b", OrderIndex: 5, IsActive: false}))
	links, err = repo.ProfileLinks(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, links, 2)

	require.NoError(t, repo.ReplaceLinks(ctx, "p1", []pricing.ProfileRuleLink{{RuleID: "b", OrderIndex: 0, IsActive: true}}))
	links, err = repo.ProfileLinks(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "p1", links[0].ProfileID)
	assert.Equal(t, "b", links[0].RuleID)

	p, err := repo.GetProfile(ctx, "p1")
	require.NoError(t, err)
	p.IsActive = false
	require.NoError(t, repo.SaveProfile(ctx, p))

	profiles, err := repo.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.False(t, profiles[0].IsActive)
	assert.True(t, profiles[0].BasePremium.Equal(core.MustParseDecimal("1000")))

	_, err = repo.GetProfile(ctx, "nope")
	assert.True(t, errors.Is(err, core.ErrProfileNotFound))
	_, err = repo.ProfileLinks(ctx, "nope")
	assert.True(t, core.IsNotFound(err))
}

func testReset(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateCoverage(ctx, Coverage("OPD")))
	require.NoError(t, repo.CreateRule(ctx, Rule("a", "A")))
	require.NoError(t, repo.CreateProfile(ctx, Profile("p1")))
	require.NoError(t, repo.LinkRule(ctx, pricing.ProfileRuleLink{ProfileID: "p1", RuleID: "a", IsActive: true}))

	require.NoError(t, repo.Reset(ctx))

	covs, err := repo.ListCoverages(ctx)
	require.NoError(t, err)
	assert.Empty(t, covs)
	rules, err := repo.ListRules(ctx, store.RuleFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, rules)
	_, err = repo.GetProfile(ctx, "p1")
	assert.True(t, core.IsNotFound(err))
}
