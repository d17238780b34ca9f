/*
Package coverage models purchasable insurance benefits and the member cost
split for a single service.

PURPOSE:
  A Benefit is static descriptive data for one coverage item: its limits,
  cost-sharing parameters (copay, deductible, coinsurance, out-of-pocket max),
  network tiers, utilization caps, access-control flags and eligibility
  restrictions. The package adds a small set of read-only derivations on top
  of that data and the Member Cost Calculator.

KEY CONCEPTS:
  - Benefit: the coverage record, owned by the catalog/admin domain
  - NetworkTier: in-network or out-of-network overrides of cost sharing
  - Status: lifecycle stage (draft → active → deprecated/archived)
  - IsActive / IsAvailable: independent gates, distinct from Status
  - CostBreakdown: transient result of CalculateMemberCost

LIFECYCLE:
  Benefits are never hard-deleted. Retire moves them to archived or
  deprecated. Every ApplyUpdate increments Version and reports the changed
  fields so the persistence layer can write its audit row.

SEE ALSO:
  - eligibility.go: Derived queries (effective date, age, gender, utilization)
  - cost.go: Member Cost Calculator
  - period.go: Utilization period windows
*/
package coverage

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// Status is the lifecycle stage of a benefit.
type Status string

const (
	StatusActive          Status = "active"
	StatusInactive        Status = "inactive"
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusDeprecated      Status = "deprecated"
	StatusArchived        Status = "archived"
)

// LimitType scopes LimitAmount.
type LimitType string

const (
	LimitPerVisit     LimitType = "per_visit"
	LimitPerDay       LimitType = "per_day"
	LimitPerMonth     LimitType = "per_month"
	LimitPerYear      LimitType = "per_year"
	LimitLifetime     LimitType = "lifetime"
	LimitPerCondition LimitType = "per_condition"
	LimitPerEpisode   LimitType = "per_episode"
)

// PaymentMethod describes how claims against the benefit are settled.
type PaymentMethod string

const (
	PaymentCashless      PaymentMethod = "cashless"
	PaymentReimbursement PaymentMethod = "reimbursement"
	PaymentDirectBilling PaymentMethod = "direct_billing"
	PaymentMixed         PaymentMethod = "mixed"
)

// =============================================================================
// BENEFIT
// =============================================================================

// NetworkTier overrides the generic cost-sharing parameters for in-network
// or out-of-network services. Nil fields fall back to the generic value.
type NetworkTier struct {
	Copay              *decimal.Decimal `json:"copay,omitempty"`
	CopayPercentage    *decimal.Decimal `json:"copay_percentage,omitempty"`
	CoinsurancePercent *decimal.Decimal `json:"coinsurance_percentage,omitempty"`
	Deductible         *decimal.Decimal `json:"deductible,omitempty"`
	OutOfPocketMax     *decimal.Decimal `json:"out_of_pocket_max,omitempty"`
}

// Utilization caps how often a benefit can be used.
type Utilization struct {
	FrequencyLimit  *int   `json:"frequency_limit,omitempty"`
	FrequencyPeriod Period `json:"frequency_period,omitempty" validate:"omitempty,oneof=per_day per_week per_month per_quarter per_year per_policy_term lifetime"`
	MaxVisits       *int   `json:"max_visits,omitempty"`
	MaxVisitsPeriod Period `json:"max_visits_period,omitempty" validate:"omitempty,oneof=per_day per_week per_month per_quarter per_year per_policy_term lifetime"`
}

// AgeRestriction bounds eligible ages, inclusive. Nil bounds are open.
type AgeRestriction struct {
	MinAge *int `json:"min_age,omitempty"`
	MaxAge *int `json:"max_age,omitempty"`
}

// Benefit is one purchasable insurance benefit.
type Benefit struct {
	Code         string `json:"code" validate:"required,max=50"`
	ExternalCode string `json:"external_code,omitempty" validate:"max=100"`
	ParentCode   string `json:"parent_code,omitempty"`
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	CurrencyCode string `json:"currency_code,omitempty" validate:"omitempty,len=3,uppercase,alpha"`

	// Financial parameters
	LimitAmount        *decimal.Decimal `json:"limit_amount,omitempty"`
	LimitType          LimitType        `json:"limit_type,omitempty" validate:"omitempty,oneof=per_visit per_day per_month per_year lifetime per_condition per_episode"`
	Copay              *decimal.Decimal `json:"copay,omitempty"`
	CopayPercentage    *decimal.Decimal `json:"copay_percentage,omitempty"`
	Deductible         *decimal.Decimal `json:"deductible,omitempty"`
	DeductibleWaived   bool             `json:"deductible_waived"`
	CoinsurancePercent *decimal.Decimal `json:"coinsurance_percentage,omitempty"`
	OutOfPocketMax     *decimal.Decimal `json:"out_of_pocket_max,omitempty"`
	LifetimeMax        *decimal.Decimal `json:"lifetime_max,omitempty"`
	PerIncidentLimit   *decimal.Decimal `json:"per_incident_limit,omitempty"`
	PaymentMethod      PaymentMethod    `json:"payment_method,omitempty" validate:"omitempty,oneof=cashless reimbursement direct_billing mixed"`

	InNetwork    NetworkTier `json:"in_network"`
	OutOfNetwork NetworkTier `json:"out_of_network"`

	Utilization Utilization `json:"utilization"`

	// Access control
	AuthorizationRequired    bool `json:"authorization_required"`
	ReferralRequired         bool `json:"referral_required"`
	PreCertificationRequired bool `json:"pre_certification_required"`
	EmergencyOverride        bool `json:"emergency_override"`

	// Temporal
	EffectiveDate     *time.Time `json:"effective_date,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	WaitingPeriodDays int        `json:"waiting_period_days" validate:"gte=0"`

	// Eligibility
	AgeRestrictions    *AgeRestriction `json:"age_restrictions,omitempty"`
	GenderRestrictions []string        `json:"gender_restrictions,omitempty"`

	Status      Status `json:"status" validate:"required,oneof=active inactive draft pending_approval deprecated archived"`
	IsActive    bool   `json:"is_active"`
	IsAvailable bool   `json:"is_available"`
	Version     int    `json:"version"`

	// Extra carries display-only metadata. The calculator never reads it.
	Extra map[string]string `json:"extra,omitempty"`
}

// NormalizeCode trims and upper-cases a coverage code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks enumerations, ranges and cross-field constraints.
// The only correction it makes is code normalization.
func (b *Benefit) Validate() error {
	b.Code = NormalizeCode(b.Code)
	verr := &core.ValidationError{Entity: "coverage"}
	core.CheckStruct(verr, b)

	if strings.IndexFunc(b.Code, unicode.IsSpace) >= 0 {
		verr.Add("code", "must not contain whitespace")
	}
	if b.ParentCode != "" && NormalizeCode(b.ParentCode) == b.Code {
		verr.Add("parent_code", "coverage cannot be its own parent")
	}

	checkNonNegative(verr, "limit_amount", b.LimitAmount)
	checkNonNegative(verr, "copay", b.Copay)
	checkNonNegative(verr, "deductible", b.Deductible)
	checkNonNegative(verr, "out_of_pocket_max", b.OutOfPocketMax)
	checkNonNegative(verr, "lifetime_max", b.LifetimeMax)
	checkNonNegative(verr, "per_incident_limit", b.PerIncidentLimit)
	checkPercent(verr, "copay_percentage", b.CopayPercentage)
	checkPercent(verr, "coinsurance_percentage", b.CoinsurancePercent)
	for _, nt := range []struct {
		prefix string
		tier   NetworkTier
	}{{"in_network", b.InNetwork}, {"out_of_network", b.OutOfNetwork}} {
		prefix, tier := nt.prefix, nt.tier
		checkNonNegative(verr, prefix+".copay", tier.Copay)
		checkNonNegative(verr, prefix+".deductible", tier.Deductible)
		checkNonNegative(verr, prefix+".out_of_pocket_max", tier.OutOfPocketMax)
		checkPercent(verr, prefix+".copay_percentage", tier.CopayPercentage)
		checkPercent(verr, prefix+".coinsurance_percentage", tier.CoinsurancePercent)
	}

	if b.LimitAmount != nil && b.LimitType == "" {
		verr.Add("limit_type", "is required when limit_amount is set")
	}
	if b.Utilization.FrequencyLimit != nil {
		if *b.Utilization.FrequencyLimit < 0 {
			verr.Add("utilization.frequency_limit", "must be >= 0")
		}
		if b.Utilization.FrequencyPeriod == "" {
			verr.Add("utilization.frequency_period", "is required when frequency_limit is set")
		}
	}
	if b.Utilization.MaxVisits != nil && *b.Utilization.MaxVisits < 0 {
		verr.Add("utilization.max_visits", "must be >= 0")
	}
	if b.EffectiveDate != nil && b.ExpiryDate != nil && b.ExpiryDate.Before(*b.EffectiveDate) {
		verr.Add("expiry_date", "must not be before effective_date")
	}
	if ar := b.AgeRestrictions; ar != nil {
		if ar.MinAge != nil && *ar.MinAge < 0 {
			verr.Add("age_restrictions.min_age", "must be >= 0")
		}
		if ar.MinAge != nil && ar.MaxAge != nil && *ar.MaxAge < *ar.MinAge {
			verr.Add("age_restrictions.max_age", "must be >= min_age")
		}
	}
	return verr.OrNil()
}

func checkNonNegative(verr *core.ValidationError, field string, d *decimal.Decimal) {
	if d != nil && d.IsNegative() {
		verr.Add(field, "must be >= 0")
	}
}

func checkPercent(verr *core.ValidationError, field string, d *decimal.Decimal) {
	if d != nil && (d.IsNegative() || d.GreaterThan(core.Hundred)) {
		verr.Add(field, "must be between 0 and 100")
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Rename is the only way to change a benefit's code.
func (b *Benefit) Rename(newCode string) error {
	code := NormalizeCode(newCode)
	if code == "" {
		return core.NewValidationError("coverage", "code", "is required")
	}
	if strings.IndexFunc(code, unicode.IsSpace) >= 0 {
		return core.NewValidationError("coverage", "code", "must not contain whitespace")
	}
	if code != b.Code {
		b.Code = code
		b.Version++
	}
	return nil
}

// Retire moves the benefit to archived or deprecated and closes both gates.
func (b *Benefit) Retire(to Status) error {
	if to != StatusArchived && to != StatusDeprecated {
		return core.NewValidationError("coverage", "status", "retirement must target archived or deprecated, got %q", to)
	}
	if b.Status != to {
		b.Status = to
		b.IsActive = false
		b.IsAvailable = false
		b.Version++
	}
	return nil
}

// BenefitUpdate carries an admin edit. Nil fields are left untouched and
// optional fields named in Clear are unset. The code is absent (see Rename).
type BenefitUpdate struct {
	Name               *string          `json:"name,omitempty"`
	Description        *string          `json:"description,omitempty"`
	Status             *Status          `json:"status,omitempty"`
	IsActive           *bool            `json:"is_active,omitempty"`
	IsAvailable        *bool            `json:"is_available,omitempty"`
	LimitAmount        *decimal.Decimal `json:"limit_amount,omitempty"`
	LimitType          *LimitType       `json:"limit_type,omitempty"`
	Copay              *decimal.Decimal `json:"copay,omitempty"`
	Deductible         *decimal.Decimal `json:"deductible,omitempty"`
	DeductibleWaived   *bool            `json:"deductible_waived,omitempty"`
	CoinsurancePercent *decimal.Decimal `json:"coinsurance_percentage,omitempty"`
	OutOfPocketMax     *decimal.Decimal `json:"out_of_pocket_max,omitempty"`
	PerIncidentLimit   *decimal.Decimal `json:"per_incident_limit,omitempty"`
	ExpiryDate         *time.Time       `json:"expiry_date,omitempty"`
	Clear              []string         `json:"clear,omitempty"`
}

// clearableBenefitFields are the optional benefit fields an update may unset.
var clearableBenefitFields = map[string]bool{
	"limit_amount":           true,
	"copay":                  true,
	"deductible":             true,
	"coinsurance_percentage": true,
	"out_of_pocket_max":      true,
	"per_incident_limit":     true,
	"expiry_date":            true,
}

func (u BenefitUpdate) sets(field string) bool {
	switch field {
	case "limit_amount":
		return u.LimitAmount != nil
	case "copay":
		return u.Copay != nil
	case "deductible":
		return u.Deductible != nil
	case "coinsurance_percentage":
		return u.CoinsurancePercent != nil
	case "out_of_pocket_max":
		return u.OutOfPocketMax != nil
	case "per_incident_limit":
		return u.PerIncidentLimit != nil
	case "expiry_date":
		return u.ExpiryDate != nil
	}
	return false
}

// ApplyUpdate applies u, validates the result and increments Version when
// anything changed. On validation failure the benefit is left unchanged.
func (b *Benefit) ApplyUpdate(u BenefitUpdate) ([]string, error) {
	if err := core.CheckClearFields("coverage", u.Clear, clearableBenefitFields, u.sets); err != nil {
		return nil, err
	}
	next := *b
	var changed []string

	setString(&changed, "name", &next.Name, u.Name)
	setString(&changed, "description", &next.Description, u.Description)
	if u.Status != nil && *u.Status != next.Status {
		next.Status = *u.Status
		changed = append(changed, "status")
	}
	setBool(&changed, "is_active", &next.IsActive, u.IsActive)
	setBool(&changed, "is_available", &next.IsAvailable, u.IsAvailable)
	setBool(&changed, "deductible_waived", &next.DeductibleWaived, u.DeductibleWaived)
	if u.LimitType != nil && *u.LimitType != next.LimitType {
		next.LimitType = *u.LimitType
		changed = append(changed, "limit_type")
	}
	setDecimal(&changed, "limit_amount", &next.LimitAmount, u.LimitAmount)
	setDecimal(&changed, "copay", &next.Copay, u.Copay)
	setDecimal(&changed, "deductible", &next.Deductible, u.Deductible)
	setDecimal(&changed, "coinsurance_percentage", &next.CoinsurancePercent, u.CoinsurancePercent)
	setDecimal(&changed, "out_of_pocket_max", &next.OutOfPocketMax, u.OutOfPocketMax)
	setDecimal(&changed, "per_incident_limit", &next.PerIncidentLimit, u.PerIncidentLimit)
	if u.ExpiryDate != nil && (next.ExpiryDate == nil || !next.ExpiryDate.Equal(*u.ExpiryDate)) {
		t := *u.ExpiryDate
		next.ExpiryDate = &t
		changed = append(changed, "expiry_date")
	}
	for _, field := range u.Clear {
		if next.clearField(field) {
			changed = append(changed, field)
		}
	}

	if len(changed) == 0 {
		return nil, nil
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Version++
	*b = next
	return changed, nil
}

// clearField unsets one clearable field and reports whether it was set.
func (b *Benefit) clearField(field string) bool {
	if field == "expiry_date" {
		was := b.ExpiryDate != nil
		b.ExpiryDate = nil
		return was
	}
	var dst **decimal.Decimal
	switch field {
	case "limit_amount":
		dst = &b.LimitAmount
	case "copay":
		dst = &b.Copay
	case "deductible":
		dst = &b.Deductible
	case "coinsurance_percentage":
		dst = &b.CoinsurancePercent
	case "out_of_pocket_max":
		dst = &b.OutOfPocketMax
	case "per_incident_limit":
		dst = &b.PerIncidentLimit
	default:
		return false
	}
	was := *dst != nil
	*dst = nil
	return was
}

func setString(changed *[]string, field string, dst *string, src *string) {
	if src != nil && *src != *dst {
		*dst = *src
		*changed = append(*changed, field)
	}
}

func setBool(changed *[]string, field string, dst *bool, src *bool) {
	if src != nil && *src != *dst {
		*dst = *src
		*changed = append(*changed, field)
	}
}

func setDecimal(changed *[]string, field string, dst **decimal.Decimal, src *decimal.Decimal) {
	if src == nil {
		return
	}
	if *dst != nil && (*dst).Equal(*src) {
		return
	}
	v := *src
	*dst = &v
	*changed = append(*changed, field)
}
