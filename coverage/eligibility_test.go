package coverage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nasri82/cardinsa-pricing/coverage"
)

// =============================================================================
// DERIVED QUERY TESTS
// =============================================================================

func TestIsEffectiveOn(t *testing.T) {
	b := outpatient()
	b.EffectiveDate = timePtr(date(2025, 1, 1))
	b.ExpiryDate = timePtr(date(2025, 12, 31))

	assert.False(t, b.IsEffectiveOn(date(2024, 12, 31)))
	assert.True(t, b.IsEffectiveOn(date(2025, 1, 1)))
	assert.True(t, b.IsEffectiveOn(date(2025, 12, 31)))
	assert.False(t, b.IsEffectiveOn(date(2026, 1, 1)))

	b.IsAvailable = false
	assert.False(t, b.IsEffectiveOn(date(2025, 6, 1)), "closed availability gate")

	b.IsAvailable = true
	b.IsActive = false
	assert.False(t, b.IsEffectiveOn(date(2025, 6, 1)), "closed active gate")
}

func TestRequiresAuthorization(t *testing.T) {
	b := outpatient()
	assert.False(t, b.RequiresAuthorization())

	b.ReferralRequired = true
	assert.True(t, b.RequiresAuthorization())

	b.ReferralRequired = false
	b.PreCertificationRequired = true
	assert.True(t, b.RequiresAuthorization())
}

func TestCheckAgeEligibility(t *testing.T) {
	b := outpatient()
	assert.True(t, b.CheckAgeEligibility(120), "no restriction")

	b.AgeRestrictions = &coverage.AgeRestriction{MinAge: intp(18), MaxAge: intp(65)}
	assert.False(t, b.CheckAgeEligibility(17))
	assert.True(t, b.CheckAgeEligibility(18))
	assert.True(t, b.CheckAgeEligibility(65))
	assert.False(t, b.CheckAgeEligibility(66))

	b.AgeRestrictions = &coverage.AgeRestriction{MinAge: intp(60)}
	assert.True(t, b.CheckAgeEligibility(99))
}

func TestCheckGenderEligibility(t *testing.T) {
	b := outpatient()
	assert.True(t, b.CheckGenderEligibility("anything"))

	b.GenderRestrictions = []string{"female"}
	assert.True(t, b.CheckGenderEligibility("FEMALE"))
	assert.True(t, b.CheckGenderEligibility(" Female "))
	assert.False(t, b.CheckGenderEligibility("male"))
}

func TestCheckUtilizationLimit(t *testing.T) {
	b := outpatient()
	assert.True(t, b.CheckUtilizationLimit(1000, coverage.PeriodYear), "no limits configured")

	b.Utilization = coverage.Utilization{
		FrequencyLimit:  intp(2),
		FrequencyPeriod: coverage.PeriodMonth,
		MaxVisits:       intp(12),
		MaxVisitsPeriod: coverage.PeriodYear,
	}

	assert.True(t, b.CheckUtilizationLimit(1, coverage.PeriodMonth))
	assert.False(t, b.CheckUtilizationLimit(2, coverage.PeriodMonth))
	assert.True(t, b.CheckUtilizationLimit(5, coverage.PeriodYear), "monthly cap does not apply to a yearly count")
	assert.False(t, b.CheckUtilizationLimit(12, coverage.PeriodYear))
	assert.False(t, b.CheckUtilizationLimit(2, ""), "unscoped count checks every limit")
}

func TestCheckEligibility_CollectsReasons(t *testing.T) {
	b := outpatient()
	b.WaitingPeriodDays = 30
	b.AgeRestrictions = &coverage.AgeRestriction{MaxAge: intp(60)}
	b.AuthorizationRequired = true
	enrolled := date(2025, 3, 1)

	res := b.CheckEligibility(coverage.EligibilityRequest{
		Date:           date(2025, 3, 15),
		Age:            intp(70),
		EnrollmentDate: &enrolled,
	})

	assert.False(t, res.Eligible)
	assert.Len(t, res.Reasons, 2)
	assert.True(t, res.RequiresAuthorization)

	res = b.CheckEligibility(coverage.EligibilityRequest{
		Date:           date(2025, 4, 1),
		Age:            intp(40),
		EnrollmentDate: &enrolled,
	})
	assert.True(t, res.Eligible, "reasons: %v", res.Reasons)
}

func TestCheckEligibility_EmergencyOverride(t *testing.T) {
	b := outpatient()
	b.WaitingPeriodDays = 90
	b.AuthorizationRequired = true
	b.EmergencyOverride = true
	enrolled := date(2025, 3, 1)

	res := b.CheckEligibility(coverage.EligibilityRequest{
		Date:           date(2025, 3, 2),
		EnrollmentDate: &enrolled,
		Emergency:      true,
	})

	assert.True(t, res.Eligible)
	assert.False(t, res.RequiresAuthorization)
}

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestUtilizationWindow(t *testing.T) {
	at := time.Date(2025, 5, 14, 15, 30, 0, 0, time.UTC) // Wednesday

	cases := []struct {
		period     coverage.Period
		start, end time.Time
	}{
		{coverage.PeriodDay, date(2025, 5, 14), date(2025, 5, 15)},
		{coverage.PeriodWeek, date(2025, 5, 12), date(2025, 5, 19)},
		{coverage.PeriodMonth, date(2025, 5, 1), date(2025, 6, 1)},
		{coverage.PeriodQuarter, date(2025, 4, 1), date(2025, 7, 1)},
		{coverage.PeriodYear, date(2025, 1, 1), date(2026, 1, 1)},
	}
	for _, tc := range cases {
		t.Run(string(tc.period), func(t *testing.T) {
			w := coverage.UtilizationWindow(tc.period, at, time.Time{})
			assert.True(t, w.Start.Equal(tc.start), "start %s", w.Start)
			assert.True(t, w.End.Equal(tc.end), "end %s", w.End)
			assert.True(t, w.Contains(at))
		})
	}
}

func TestUtilizationWindow_PolicyTermAndLifetime(t *testing.T) {
	at := date(2025, 2, 10)

	w := coverage.UtilizationWindow(coverage.PeriodPolicyTerm, at, date(2021, 7, 1))
	assert.True(t, w.Start.Equal(date(2024, 7, 1)))
	assert.True(t, w.End.Equal(date(2025, 7, 1)))

	w = coverage.UtilizationWindow(coverage.PeriodLifetime, at, time.Time{})
	assert.True(t, w.Contains(date(1900, 1, 1)))
	assert.True(t, w.Contains(date(2999, 1, 1)))
}

func TestParsePeriod(t *testing.T) {
	p, err := coverage.ParsePeriod("monthly")
	assert.NoError(t, err)
	assert.Equal(t, coverage.PeriodMonth, p)

	p, err = coverage.ParsePeriod("per_policy_term")
	assert.NoError(t, err)
	assert.Equal(t, coverage.PeriodPolicyTerm, p)

	_, err = coverage.ParsePeriod("fortnightly")
	assert.Error(t, err)
}
