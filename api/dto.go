/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures that are specific to the HTTP surface. Engine
  types (coverage.Benefit, pricing.Rule, pricing.Profile, results and
  breakdowns) already carry json tags and are returned as-is; the types
  here cover request envelopes and composite responses.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *Response: Composite response wrappers
  - *DTO:      Flattened views

SEE ALSO:
  - handlers.go: Uses these types
  - profiles.go: Profile endpoints
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/coverage"
	"github.com/nasri82/cardinsa-pricing/pricing"
	"github.com/nasri82/cardinsa-pricing/store"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Problems []core.FieldError `json:"problems,omitempty"`
}

// =============================================================================
// COVERAGES
// =============================================================================

// MemberCostRequest prices one service. is_in_network defaults to true.
type MemberCostRequest struct {
	ServiceCost    decimal.Decimal `json:"service_cost"`
	InNetwork      *bool           `json:"is_in_network,omitempty"`
	DeductibleMet  decimal.Decimal `json:"deductible_met"`
	OutOfPocketMet decimal.Decimal `json:"out_of_pocket_met"`
}

func (r MemberCostRequest) toCostRequest() coverage.CostRequest {
	return coverage.CostRequest{
		ServiceCost:    r.ServiceCost,
		InNetwork:      r.InNetwork == nil || *r.InNetwork,
		DeductibleMet:  r.DeductibleMet,
		OutOfPocketMet: r.OutOfPocketMet,
	}
}

// RetireCoverageRequest moves a coverage to archived or deprecated.
type RetireCoverageRequest struct {
	Status coverage.Status `json:"status"`
}

// CoverageChangeResponse reports an applied coverage edit.
type CoverageChangeResponse struct {
	Coverage      *coverage.Benefit `json:"coverage"`
	ChangedFields []string          `json:"changed_fields"`
}

// =============================================================================
// RULES
// =============================================================================

// UpdateRuleRequest is a partial rule edit plus an audit reason.
type UpdateRuleRequest struct {
	pricing.RuleUpdate
	Reason string `json:"reason,omitempty"`
}

// RuleChangeResponse reports an applied rule edit.
type RuleChangeResponse struct {
	Rule          *pricing.Rule `json:"rule"`
	ChangedFields []string      `json:"changed_fields"`
	OldVersion    int           `json:"old_version"`
	NewVersion    int           `json:"new_version"`
}

// EvaluateRequest carries the input record for a single rule or profile.
type EvaluateRequest struct {
	Record pricing.Record `json:"record"`
}

// EvaluateRuleSetRequest evaluates rule ids in the given order.
type EvaluateRuleSetRequest struct {
	RuleIDs []string       `json:"rule_ids"`
	Record  pricing.Record `json:"record"`
}

// RuleHistoryResponse lists a rule's audit trail.
type RuleHistoryResponse struct {
	RuleID  string               `json:"rule_id"`
	History []store.HistoryEntry `json:"history"`
}

// =============================================================================
// PROFILES
// =============================================================================

// AttachRuleRequest links a rule to a profile. A missing order_index appends
// the rule after the current last link.
type AttachRuleRequest struct {
	RuleID     string `json:"rule_id"`
	OrderIndex *int   `json:"order_index,omitempty"`
	IsActive   *bool  `json:"is_active,omitempty"`
}

// LinkDTO is a flattened profile rule link.
type LinkDTO struct {
	RuleID         string                 `json:"rule_id"`
	RuleName       string                 `json:"rule_name,omitempty"`
	OrderIndex     int                    `json:"order_index"`
	IsActive       bool                   `json:"is_active"`
	AdjustmentType pricing.AdjustmentType `json:"adjustment_type,omitempty"`
}

func toLinkDTOs(links []pricing.ProfileRuleLink) []LinkDTO {
	out := make([]LinkDTO, len(links))
	for i, l := range links {
		out[i] = LinkDTO{RuleID: l.RuleID, OrderIndex: l.OrderIndex, IsActive: l.IsActive}
		if l.Rule != nil {
			out[i].RuleName = l.Rule.Name
			out[i].AdjustmentType = l.Rule.AdjustmentType
		}
	}
	return out
}

// ProfileResponse is a profile with its links in evaluation order.
type ProfileResponse struct {
	*pricing.Profile
	Rules []LinkDTO `json:"rules"`
}

// LinksResponse is a profile's links after an edit, with the resulting
// consistency report.
type LinksResponse struct {
	ProfileID   string                    `json:"profile_id"`
	Rules       []LinkDTO                 `json:"rules"`
	Consistency pricing.ConsistencyReport `json:"consistency"`
}

// OptimizeResponse is the proposed (or applied) link order.
type OptimizeResponse struct {
	ProfileID string    `json:"profile_id"`
	Mode      string    `json:"mode"`
	Applied   bool      `json:"applied"`
	Rules     []LinkDTO `json:"rules"`
}

// =============================================================================
// FORMULAS
// =============================================================================

// FormulaRequest validates or evaluates an expression. Variables are
// treated as known fields during validation.
type FormulaRequest struct {
	Expression string                     `json:"expression"`
	Variables  map[string]decimal.Decimal `json:"variables,omitempty"`
}

// FormulaResult is the outcome of an evaluation.
type FormulaResult struct {
	Expression string           `json:"expression"`
	Result     *decimal.Decimal `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// LoadScenarioRequest selects an embedded catalog.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse summarizes what was installed.
type LoadScenarioResponse struct {
	Status    string    `json:"status"`
	Scenario  string    `json:"scenario"`
	Coverages int       `json:"coverages"`
	Rules     int       `json:"rules"`
	Profiles  int       `json:"profiles"`
	LoadedAt  time.Time `json:"loaded_at"`
}
