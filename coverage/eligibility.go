package coverage

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DERIVED QUERIES - read-only, never mutate the benefit
// =============================================================================

// IsEffectiveOn reports whether the benefit can be used on date. Both gates
// must be open and date must fall inside [EffectiveDate, ExpiryDate].
func (b *Benefit) IsEffectiveOn(date time.Time) bool {
	if !b.IsActive || !b.IsAvailable {
		return false
	}
	if b.EffectiveDate != nil && date.Before(*b.EffectiveDate) {
		return false
	}
	if b.ExpiryDate != nil && date.After(*b.ExpiryDate) {
		return false
	}
	return true
}

// RequiresAuthorization is true when any access-control approval is needed.
func (b *Benefit) RequiresAuthorization() bool {
	return b.AuthorizationRequired || b.ReferralRequired || b.PreCertificationRequired
}

// CheckAgeEligibility reports whether age is inside the inclusive restriction.
func (b *Benefit) CheckAgeEligibility(age int) bool {
	ar := b.AgeRestrictions
	if ar == nil {
		return true
	}
	if ar.MinAge != nil && age < *ar.MinAge {
		return false
	}
	if ar.MaxAge != nil && age > *ar.MaxAge {
		return false
	}
	return true
}

// CheckGenderEligibility compares case-insensitively against the allowed list.
func (b *Benefit) CheckGenderEligibility(gender string) bool {
	if len(b.GenderRestrictions) == 0 {
		return true
	}
	gender = strings.TrimSpace(gender)
	for _, g := range b.GenderRestrictions {
		if strings.EqualFold(strings.TrimSpace(g), gender) {
			return true
		}
	}
	return false
}

// CheckUtilizationLimit returns false when usage has reached a configured
// limit. Limits are scoped by period: a limit only applies when its own
// period matches the period the usage was counted over. An empty period on
// either side matches everything.
func (b *Benefit) CheckUtilizationLimit(usage int, period Period) bool {
	u := b.Utilization
	if u.FrequencyLimit != nil && periodMatches(u.FrequencyPeriod, period) && usage >= *u.FrequencyLimit {
		return false
	}
	if u.MaxVisits != nil && periodMatches(u.MaxVisitsPeriod, period) && usage >= *u.MaxVisits {
		return false
	}
	return true
}

func periodMatches(limit, query Period) bool {
	return limit == "" || query == "" || limit == query
}

// =============================================================================
// COMBINED ELIGIBILITY
// =============================================================================

// EligibilityRequest gathers the member facts for a combined check.
// Nil/empty fields skip the corresponding check.
type EligibilityRequest struct {
	Date           time.Time
	Age            *int
	Gender         string
	EnrollmentDate *time.Time
	Usage          *int
	Period         Period
	Emergency      bool
}

// EligibilityResult lists every reason the member is not eligible.
type EligibilityResult struct {
	Eligible              bool     `json:"eligible"`
	Reasons               []string `json:"reasons,omitempty"`
	RequiresAuthorization bool     `json:"requires_authorization"`
}

// CheckEligibility runs every derived query and collects the failures.
// An emergency with EmergencyOverride set waives the waiting period and
// the authorization requirement.
func (b *Benefit) CheckEligibility(req EligibilityRequest) EligibilityResult {
	date := req.Date
	if date.IsZero() {
		date = time.Now()
	}
	override := req.Emergency && b.EmergencyOverride

	var reasons []string
	if !b.IsEffectiveOn(date) {
		reasons = append(reasons, "coverage is not effective on "+date.Format("2006-01-02"))
	}
	if req.Age != nil && !b.CheckAgeEligibility(*req.Age) {
		reasons = append(reasons, fmt.Sprintf("age %d is outside the allowed range", *req.Age))
	}
	if req.Gender != "" && !b.CheckGenderEligibility(req.Gender) {
		reasons = append(reasons, fmt.Sprintf("gender %q is not eligible", req.Gender))
	}
	if req.EnrollmentDate != nil && b.WaitingPeriodDays > 0 && !override {
		eligibleFrom := req.EnrollmentDate.AddDate(0, 0, b.WaitingPeriodDays)
		if date.Before(eligibleFrom) {
			reasons = append(reasons, "waiting period ends "+eligibleFrom.Format("2006-01-02"))
		}
	}
	if req.Usage != nil && !b.CheckUtilizationLimit(*req.Usage, req.Period) {
		reasons = append(reasons, "utilization limit reached")
	}

	return EligibilityResult{
		Eligible:              len(reasons) == 0,
		Reasons:               reasons,
		RequiresAuthorization: b.RequiresAuthorization() && !override,
	}
}
