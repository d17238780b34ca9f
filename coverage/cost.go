package coverage

import (
	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
)

// =============================================================================
// MEMBER COST CALCULATOR
// =============================================================================
//
// The split is computed in a fixed order; each step feeds the next:
//
//   1. select network-specific cost sharing, falling back to generic values
//   2. deductible portion = min(cost, max(0, deductible - deductible_met))
//   3. after deductible
//   4. member share = min(copay, after) if copay > 0, else after * coinsurance%
//   5. insurance pays = after - member share
//   6. clamp insurance pays to limit_amount, excess moves to member share
//   7. clamp insurance pays to per_incident_limit, same rule
//   8. total member cost = deductible portion + member share
//   9. cap total member cost at the remaining out-of-pocket maximum, excess
//      moves to insurance pays
//
// Steps 1-8 conserve cost exactly. Step 9 is a transfer, so
// deductible + member share + insurance pays == service cost still holds.

// CostRequest is one service priced against a benefit. The year-to-date
// accumulators are owned by the caller; the calculator holds no state.
type CostRequest struct {
	ServiceCost    decimal.Decimal `json:"service_cost"`
	InNetwork      bool            `json:"is_in_network"`
	DeductibleMet  decimal.Decimal `json:"deductible_met"`
	OutOfPocketMet decimal.Decimal `json:"out_of_pocket_met"`
}

// CostBreakdown is the member/insurer split for one service.
type CostBreakdown struct {
	ServiceCost       decimal.Decimal `json:"service_cost"`
	DeductibleApplied decimal.Decimal `json:"deductible_applied"`
	CopayCoinsurance  decimal.Decimal `json:"copay_coinsurance"`
	TotalMemberPays   decimal.Decimal `json:"total_member_pays"`
	InsurancePays     decimal.Decimal `json:"insurance_pays"`
	InNetwork         bool            `json:"is_in_network"`
	CoverageApplies   bool            `json:"coverage_applies"`

	// LimitExcess is what steps 6-7 moved from the insurer to the member.
	LimitExcess decimal.Decimal `json:"limit_excess"`
	// OutOfPocketRelief is what step 9 moved from the member to the insurer.
	OutOfPocketRelief decimal.Decimal `json:"out_of_pocket_relief"`
}

// costSharing is the network-resolved parameter set.
type costSharing struct {
	copay       decimal.Decimal
	coinsurance decimal.Decimal
	deductible  decimal.Decimal
	oopMax      *decimal.Decimal
}

// resolveCostSharing resolves the parameters used for the given network.
func (b *Benefit) resolveCostSharing(inNetwork bool) costSharing {
	tier := b.OutOfNetwork
	if inNetwork {
		tier = b.InNetwork
	}
	cs := costSharing{
		copay:       core.OrZero(pick(tier.Copay, b.Copay)),
		coinsurance: core.OrZero(pick(tier.CoinsurancePercent, b.CoinsurancePercent)),
		deductible:  core.OrZero(pick(tier.Deductible, b.Deductible)),
		oopMax:      pick(tier.OutOfPocketMax, b.OutOfPocketMax),
	}
	if b.DeductibleWaived {
		cs.deductible = decimal.Zero
	}
	return cs
}

func pick(specific, generic *decimal.Decimal) *decimal.Decimal {
	if specific != nil {
		return specific
	}
	return generic
}

// CalculateMemberCost splits req.ServiceCost between member and insurer.
// It is a pure function of its arguments.
func CalculateMemberCost(b *Benefit, req CostRequest) (CostBreakdown, error) {
	verr := &core.ValidationError{Entity: "member_cost"}
	if b == nil {
		verr.Add("coverage", "is required")
	}
	if req.ServiceCost.IsNegative() {
		verr.Add("service_cost", "must be >= 0")
	}
	if req.DeductibleMet.IsNegative() {
		verr.Add("deductible_met", "must be >= 0")
	}
	if req.OutOfPocketMet.IsNegative() {
		verr.Add("out_of_pocket_met", "must be >= 0")
	}
	if err := verr.OrNil(); err != nil {
		return CostBreakdown{}, err
	}

	cost := req.ServiceCost
	cs := b.resolveCostSharing(req.InNetwork)

	// Step 2-3: deductible
	remainingDeductible := decimal.Max(decimal.Zero, cs.deductible.Sub(req.DeductibleMet))
	deductible := decimal.Min(cost, remainingDeductible)
	after := cost.Sub(deductible)

	// Step 4-5: copay takes precedence over coinsurance
	var share decimal.Decimal
	if cs.copay.IsPositive() {
		share = decimal.Min(cs.copay, after)
	} else {
		share = after.Mul(cs.coinsurance).Div(core.Hundred).Round(2)
		share = decimal.Min(share, after)
	}
	insurance := after.Sub(share)

	// Step 6-7: insurer limits, excess shifts to the member
	limitExcess := decimal.Zero
	for _, limit := range []*decimal.Decimal{b.LimitAmount, b.PerIncidentLimit} {
		if limit == nil || !insurance.GreaterThan(*limit) {
			continue
		}
		excess := insurance.Sub(*limit)
		insurance = *limit
		share = share.Add(excess)
		limitExcess = limitExcess.Add(excess)
	}

	// Step 8
	total := deductible.Add(share)

	// Step 9: out-of-pocket maximum, excess shifts to the insurer
	relief := decimal.Zero
	if cs.oopMax != nil {
		remainingOOP := decimal.Max(decimal.Zero, cs.oopMax.Sub(req.OutOfPocketMet))
		if total.GreaterThan(remainingOOP) {
			relief = total.Sub(remainingOOP)
			total = remainingOOP
			insurance = insurance.Add(relief)

			fromShare := decimal.Min(relief, share)
			share = share.Sub(fromShare)
			deductible = deductible.Sub(relief.Sub(fromShare))
		}
	}

	return CostBreakdown{
		ServiceCost:       cost,
		DeductibleApplied: deductible,
		CopayCoinsurance:  share,
		TotalMemberPays:   total,
		InsurancePays:     insurance,
		InNetwork:         req.InNetwork,
		CoverageApplies:   insurance.IsPositive() || total.LessThan(cost),
		LimitExcess:       limitExcess,
		OutOfPocketRelief: relief,
	}, nil
}
