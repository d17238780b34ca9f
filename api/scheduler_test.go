package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/pricing"
	"github.com/nasri82/cardinsa-pricing/store"
	"github.com/nasri82/cardinsa-pricing/store/memory"
)

func sweeperRule(id, name string, effectiveTo *time.Time) *pricing.Rule {
	return &pricing.Rule{
		ID:              id,
		Name:            name,
		InsuranceType:   "MEDICAL",
		RuleType:        pricing.RuleAgeBased,
		AppliesTo:       "age",
		Operator:        pricing.OpGreater,
		Value:           pricing.ScalarOperand(60),
		AdjustmentType:  pricing.AdjustFixed,
		AdjustmentValue: decimal.NewFromInt(10),
		EffectiveFrom:   testNow.AddDate(-1, 0, 0),
		EffectiveTo:     effectiveTo,
		Version:         1,
		IsActive:        true,
		State:           pricing.StateActive,
	}
}

func TestExpirySweeper_ArchivesOnlyExpiredRules(t *testing.T) {
	// GIVEN: One expired rule, one still effective, one open-ended
	ctx := context.Background()
	repo := memory.New()
	past := testNow.AddDate(0, -1, 0)
	future := testNow.AddDate(0, 1, 0)
	require.NoError(t, repo.CreateRule(ctx, sweeperRule("r-old", "Old", &past)))
	require.NoError(t, repo.CreateRule(ctx, sweeperRule("r-live", "Live", &future)))
	require.NoError(t, repo.CreateRule(ctx, sweeperRule("r-open", "Open", nil)))

	s := NewExpirySweeper(repo)
	s.Now = func() time.Time { return testNow }

	// WHEN: Sweeping
	n, err := s.RunOnce(ctx)

	// THEN: Only the expired rule is archived, with a history row
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := repo.GetRule(ctx, "r-old")
	require.NoError(t, err)
	assert.True(t, old.IsArchived())
	assert.Equal(t, 2, old.Version)

	history, err := repo.RuleHistory(ctx, "r-old")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ExpiredReason, history[0].Reason)

	live, err := repo.ListRules(ctx, store.RuleFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 2)

	// AND: A second sweep finds nothing
	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExpirySweeper_StartStop(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	past := testNow.AddDate(0, 0, -1)
	require.NoError(t, repo.CreateRule(ctx, sweeperRule("r-old", "Old", &past)))

	s := NewExpirySweeper(repo)
	s.Now = func() time.Time { return testNow }
	s.CheckInterval = time.Hour

	// Start sweeps immediately; Stop waits for it
	s.Start()
	require.Eventually(t, func() bool {
		r, err := repo.GetRule(ctx, "r-old")
		return err == nil && r.IsArchived()
	}, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()

	disabled := NewExpirySweeper(repo)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
