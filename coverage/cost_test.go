package coverage_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/coverage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "%s: want %s got %s", field, want, got)
}

func outpatient() *coverage.Benefit {
	return &coverage.Benefit{
		Code:           "OUTPATIENT",
		Name:           "Outpatient consultation",
		Status:         coverage.StatusActive,
		IsActive:       true,
		IsAvailable:    true,
		Deductible:     core.Dec("500"),
		LimitAmount:    core.Dec("10000"),
		LimitType:      coverage.LimitPerYear,
		OutOfPocketMax: core.Dec("2000"),
		InNetwork:      coverage.NetworkTier{Copay: core.Dec("20")},
	}
}

func assertConserved(t *testing.T, b coverage.CostBreakdown) {
	t.Helper()
	sum := b.DeductibleApplied.Add(b.CopayCoinsurance).Add(b.InsurancePays)
	assert.True(t, sum.Equal(b.ServiceCost), "split %s != service cost %s", sum, b.ServiceCost)
	assert.True(t, b.TotalMemberPays.Equal(b.DeductibleApplied.Add(b.CopayCoinsurance)))
}

// =============================================================================
// MEMBER COST TESTS
// =============================================================================

func TestCalculateMemberCost_DeductibleThenCopay(t *testing.T) {
	// GIVEN: deductible 500, in-network copay 20, limit 10000, OOP max 2000
	// WHEN: A 1000 in-network service with nothing met yet
	// THEN: 500 deductible + 20 copay, insurer pays 480

	res, err := coverage.CalculateMemberCost(outpatient(), coverage.CostRequest{
		ServiceCost: d("1000"),
		InNetwork:   true,
	})
	require.NoError(t, err)

	assertDec(t, "500", res.DeductibleApplied, "deductible")
	assertDec(t, "20", res.CopayCoinsurance, "copay")
	assertDec(t, "520", res.TotalMemberPays, "member")
	assertDec(t, "480", res.InsurancePays, "insurance")
	assert.True(t, res.CoverageApplies)
	assert.True(t, res.InNetwork)
	assertConserved(t, res)
}

func TestCalculateMemberCost_OutOfNetworkFallsBackToGeneric(t *testing.T) {
	b := outpatient()
	b.CoinsurancePercent = core.Dec("30")

	res, err := coverage.CalculateMemberCost(b, coverage.CostRequest{
		ServiceCost:   d("1000"),
		DeductibleMet: d("500"),
	})
	require.NoError(t, err)

	assertDec(t, "0", res.DeductibleApplied, "deductible")
	assertDec(t, "300", res.CopayCoinsurance, "coinsurance")
	assertDec(t, "700", res.InsurancePays, "insurance")
	assertConserved(t, res)
}

func TestCalculateMemberCost_DeductibleWaived(t *testing.T) {
	b := outpatient()
	b.DeductibleWaived = true

	res, err := coverage.CalculateMemberCost(b, coverage.CostRequest{ServiceCost: d("100"), InNetwork: true})
	require.NoError(t, err)

	assertDec(t, "0", res.DeductibleApplied, "deductible")
	assertDec(t, "20", res.CopayCoinsurance, "copay")
	assertDec(t, "80", res.InsurancePays, "insurance")
}

func TestCalculateMemberCost_CostBelowDeductible(t *testing.T) {
	res, err := coverage.CalculateMemberCost(outpatient(), coverage.CostRequest{
		ServiceCost:   d("300"),
		InNetwork:     true,
		DeductibleMet: d("100"),
	})
	require.NoError(t, err)

	assertDec(t, "300", res.DeductibleApplied, "deductible")
	assertDec(t, "0", res.CopayCoinsurance, "copay")
	assertDec(t, "0", res.InsurancePays, "insurance")
	assert.False(t, res.CoverageApplies)
}

func TestCalculateMemberCost_LimitExcessShiftsToMember(t *testing.T) {
	// GIVEN: A per-incident limit of 1000 below the after-copay amount
	b := outpatient()
	b.PerIncidentLimit = core.Dec("1000")
	b.OutOfPocketMax = nil

	res, err := coverage.CalculateMemberCost(b, coverage.CostRequest{ServiceCost: d("3000"), InNetwork: true})
	require.NoError(t, err)

	// after = 2500, copay 20, insurer 2480 clamped to 1000
	assertDec(t, "1000", res.InsurancePays, "insurance")
	assertDec(t, "1500", res.CopayCoinsurance, "member share")
	assertDec(t, "1480", res.LimitExcess, "excess")
	assertDec(t, "2000", res.TotalMemberPays, "member")
	assertConserved(t, res)
}

func TestCalculateMemberCost_OutOfPocketCap(t *testing.T) {
	// GIVEN: 1900 of a 2000 OOP max already met
	// WHEN: A service whose member cost would be 520
	// THEN: Member pays only 100, the insurer absorbs the rest

	res, err := coverage.CalculateMemberCost(outpatient(), coverage.CostRequest{
		ServiceCost:    d("1000"),
		InNetwork:      true,
		OutOfPocketMet: d("1900"),
	})
	require.NoError(t, err)

	assertDec(t, "100", res.TotalMemberPays, "member")
	assertDec(t, "900", res.InsurancePays, "insurance")
	assertDec(t, "420", res.OutOfPocketRelief, "relief")
	assertDec(t, "0", res.CopayCoinsurance, "copay")
	assertDec(t, "100", res.DeductibleApplied, "deductible")
	assertConserved(t, res)
}

func TestCalculateMemberCost_OutOfPocketExhausted(t *testing.T) {
	res, err := coverage.CalculateMemberCost(outpatient(), coverage.CostRequest{
		ServiceCost:    d("1000"),
		InNetwork:      true,
		OutOfPocketMet: d("2500"),
	})
	require.NoError(t, err)

	assertDec(t, "0", res.TotalMemberPays, "member")
	assertDec(t, "1000", res.InsurancePays, "insurance")
	assert.True(t, res.CoverageApplies)
}

func TestCalculateMemberCost_CoinsuranceRoundsToCents(t *testing.T) {
	b := &coverage.Benefit{Code: "LAB", CoinsurancePercent: core.Dec("15")}

	res, err := coverage.CalculateMemberCost(b, coverage.CostRequest{ServiceCost: d("33.33")})
	require.NoError(t, err)

	assertDec(t, "5", res.CopayCoinsurance, "share")
	assertDec(t, "28.33", res.InsurancePays, "insurance")
	assertConserved(t, res)
}

func TestCalculateMemberCost_ZeroCost(t *testing.T) {
	res, err := coverage.CalculateMemberCost(outpatient(), coverage.CostRequest{InNetwork: true})
	require.NoError(t, err)

	assert.True(t, res.TotalMemberPays.IsZero())
	assert.True(t, res.InsurancePays.IsZero())
	assert.False(t, res.CoverageApplies)
}

func TestCalculateMemberCost_RejectsNegativeInputs(t *testing.T) {
	_, err := coverage.CalculateMemberCost(outpatient(), coverage.CostRequest{
		ServiceCost:   d("-1"),
		DeductibleMet: d("-5"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))

	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 2)
}

func TestCalculateMemberCost_PropertiesHoldAcrossGrid(t *testing.T) {
	b := outpatient()
	b.CoinsurancePercent = core.Dec("20")
	b.PerIncidentLimit = core.Dec("4000")
	costs := []string{"0", "1", "19.99", "250", "999.99", "5000", "25000"}
	mets := []string{"0", "450", "1999", "2000", "3000"}

	for _, inNet := range []bool{true, false} {
		for _, c := range costs {
			for _, m := range mets {
				req := coverage.CostRequest{
					ServiceCost:    d(c),
					InNetwork:      inNet,
					DeductibleMet:  d(m),
					OutOfPocketMet: d(m),
				}
				res, err := coverage.CalculateMemberCost(b, req)
				require.NoError(t, err)
				assertConserved(t, res)

				remaining := decimal.Max(decimal.Zero, d("2000").Sub(d(m)))
				assert.True(t, res.TotalMemberPays.LessThanOrEqual(remaining),
					"cost=%s met=%s member=%s", c, m, res.TotalMemberPays)
				assert.False(t, res.DeductibleApplied.IsNegative())
				assert.False(t, res.CopayCoinsurance.IsNegative())

				again, err := coverage.CalculateMemberCost(b, req)
				require.NoError(t, err)
				assert.Equal(t, res, again)
			}
		}
	}
}
