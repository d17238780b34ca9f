package pricing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/formula"
)

// =============================================================================
// PROFILE
// =============================================================================

// Profile is a named bundle of ordered pricing rules for one product line.
type Profile struct {
	ID            string           `json:"id"`
	Name          string           `json:"name" validate:"required,max=200"`
	Description   string           `json:"description,omitempty"`
	InsuranceType string           `json:"insurance_type" validate:"required,max=50"`
	BasePremium   decimal.Decimal  `json:"base_premium"`
	MinPremium    *decimal.Decimal `json:"min_premium,omitempty"`
	MaxPremium    *decimal.Decimal `json:"max_premium,omitempty"`
	CurrencyCode  string           `json:"currency_code" validate:"required,len=3,uppercase,alpha"`
	RiskFormula   string           `json:"risk_formula,omitempty"`
	IsActive      bool             `json:"is_active"`
	Version       int              `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Validate checks the profile, running RiskFormula through sb.
func (p *Profile) Validate(sb *formula.Sandbox) error {
	p.Name = strings.TrimSpace(p.Name)
	verr := &core.ValidationError{Entity: "pricing_profile"}
	core.CheckStruct(verr, p)

	if p.BasePremium.IsNegative() {
		verr.Add("base_premium", "must be >= 0")
	}
	if p.MinPremium != nil && p.MinPremium.IsNegative() {
		verr.Add("min_premium", "must be >= 0")
	}
	if p.MinPremium != nil && p.MaxPremium != nil && p.MaxPremium.LessThan(*p.MinPremium) {
		verr.Add("max_premium", "must be >= min_premium")
	}
	if strings.TrimSpace(p.RiskFormula) != "" {
		if sb == nil {
			sb = formula.NewSandbox()
		}
		for _, msg := range sb.Validate(p.RiskFormula).Errors {
			verr.Add("risk_formula", "%s", msg)
		}
	}
	return verr.OrNil()
}

// ProfileRuleLink attaches a rule to a profile at an explicit position.
// The link's own IsActive suspends the rule within this profile only.
type ProfileRuleLink struct {
	ProfileID  string `json:"profile_id"`
	RuleID     string `json:"rule_id"`
	OrderIndex int    `json:"order_index"`
	IsActive   bool   `json:"is_active"`
	Rule       *Rule  `json:"rule,omitempty"`
}

// runnable reports whether the link takes part in evaluation.
func (l ProfileRuleLink) runnable() bool {
	return l.IsActive && l.Rule != nil && l.Rule.IsActive && !l.Rule.IsArchived()
}

// OrderedRules returns the rules of the active links whose rule is active,
// in ascending OrderIndex. Equal indices keep their input order.
func OrderedRules(links []ProfileRuleLink) []*Rule {
	active := make([]ProfileRuleLink, 0, len(links))
	for _, l := range links {
		if l.runnable() {
			active = append(active, l)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].OrderIndex < active[j].OrderIndex
	})
	rules := make([]*Rule, len(active))
	for i, l := range active {
		rules[i] = l.Rule
	}
	return rules
}

// =============================================================================
// CONSISTENCY ANALYSIS - reports, never corrects
// =============================================================================

// IssueKind classifies a consistency finding.
type IssueKind string

const (
	IssueDuplicateOrder   IssueKind = "duplicate_order_index"
	IssueNegativeOrder    IssueKind = "negative_order_index"
	IssueOrderGap         IssueKind = "order_gap"
	IssueOperatorConflict IssueKind = "operator_conflict"
	IssueMissingRule      IssueKind = "missing_rule"
)

// ConsistencyIssue is one finding.
type ConsistencyIssue struct {
	Kind       IssueKind `json:"kind"`
	Message    string    `json:"message"`
	OrderIndex *int      `json:"order_index,omitempty"`
	Field      string    `json:"field,omitempty"`
	RuleIDs    []string  `json:"rule_ids,omitempty"`
}

// ConsistencyReport separates blocking issues from warnings.
type ConsistencyReport struct {
	IsConsistent bool               `json:"is_consistent"`
	Issues       []ConsistencyIssue `json:"issues"`
	Warnings     []ConsistencyIssue `json:"warnings"`
	ActiveLinks  int                `json:"active_links"`
}

// ValidateProfileRuleConsistency analyses a profile's active links:
// duplicate order indices block; gaps in the sequence and rules sharing a
// condition field with different operators are warnings.
func ValidateProfileRuleConsistency(links []ProfileRuleLink) ConsistencyReport {
	report := ConsistencyReport{Issues: []ConsistencyIssue{}, Warnings: []ConsistencyIssue{}}

	byIndex := map[int][]string{}
	var indices []int
	for _, l := range links {
		if !l.IsActive {
			continue
		}
		report.ActiveLinks++
		if l.Rule == nil {
			report.Warnings = append(report.Warnings, ConsistencyIssue{
				Kind:    IssueMissingRule,
				Message: fmt.Sprintf("link references rule %s which could not be loaded", l.RuleID),
				RuleIDs: []string{l.RuleID},
			})
		}
		if l.OrderIndex < 0 {
			idx := l.OrderIndex
			report.Issues = append(report.Issues, ConsistencyIssue{
				Kind:       IssueNegativeOrder,
				Message:    fmt.Sprintf("order_index %d is negative", idx),
				OrderIndex: &idx,
				RuleIDs:    []string{l.RuleID},
			})
		}
		if _, seen := byIndex[l.OrderIndex]; !seen {
			indices = append(indices, l.OrderIndex)
		}
		byIndex[l.OrderIndex] = append(byIndex[l.OrderIndex], l.RuleID)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		if ids := byIndex[idx]; len(ids) > 1 {
			i := idx
			report.Issues = append(report.Issues, ConsistencyIssue{
				Kind:       IssueDuplicateOrder,
				Message:    fmt.Sprintf("order_index %d is used by %d rules", idx, len(ids)),
				OrderIndex: &i,
				RuleIDs:    ids,
			})
		}
	}

	expected := 0
	for _, idx := range indices {
		if idx < 0 {
			continue
		}
		if idx != expected {
			i := idx
			msg := fmt.Sprintf("order sequence jumps from %d to %d", expected-1, idx)
			if expected == 0 {
				msg = fmt.Sprintf("order sequence starts at %d instead of 0", idx)
			}
			report.Warnings = append(report.Warnings, ConsistencyIssue{
				Kind:       IssueOrderGap,
				Message:    msg,
				OrderIndex: &i,
			})
		}
		expected = idx + 1
	}

	report.Warnings = append(report.Warnings, operatorConflicts(links)...)
	report.IsConsistent = len(report.Issues) == 0
	return report
}

func operatorConflicts(links []ProfileRuleLink) []ConsistencyIssue {
	type group struct {
		ops     map[Operator]bool
		ruleIDs []string
	}
	groups := map[string]*group{}
	var fields []string
	for _, l := range links {
		if !l.runnable() {
			continue
		}
		field := l.Rule.AppliesTo
		g, ok := groups[field]
		if !ok {
			g = &group{ops: map[Operator]bool{}}
			groups[field] = g
			fields = append(fields, field)
		}
		g.ops[l.Rule.Operator] = true
		g.ruleIDs = append(g.ruleIDs, l.RuleID)
	}
	sort.Strings(fields)

	var out []ConsistencyIssue
	for _, field := range fields {
		g := groups[field]
		if len(g.ops) < 2 {
			continue
		}
		ops := make([]string, 0, len(g.ops))
		for op := range g.ops {
			ops = append(ops, string(op))
		}
		sort.Strings(ops)
		out = append(out, ConsistencyIssue{
			Kind:    IssueOperatorConflict,
			Message: fmt.Sprintf("%d rules on %q use different operators (%s)", len(g.ruleIDs), field, strings.Join(ops, ", ")),
			Field:   field,
			RuleIDs: g.ruleIDs,
		})
	}
	return out
}

// =============================================================================
// ORDERING
// =============================================================================

// adjustmentRank is the fixed execution policy used by OptimizeRuleOrder:
// formula rules first, then fixed amounts, percentages, multipliers.
// It is a deterministic tie-break policy, not a computed optimum.
func adjustmentRank(r *Rule) int {
	if r == nil {
		return 4
	}
	if r.UsesFormula() || r.AdjustmentType == AdjustFormula {
		return 0
	}
	switch r.AdjustmentType {
	case AdjustFixed:
		return 1
	case AdjustPercentage:
		return 2
	case AdjustMultiplier:
		return 3
	}
	return 4
}

// OptimizeRuleOrder returns a copy of links re-ordered by adjustment rank,
// keeping the current order within a rank, with OrderIndex rewritten to
// 0..n-1.
func OptimizeRuleOrder(links []ProfileRuleLink) []ProfileRuleLink {
	out := append([]ProfileRuleLink(nil), links...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := adjustmentRank(out[i].Rule), adjustmentRank(out[j].Rule)
		if ri != rj {
			return ri < rj
		}
		return out[i].OrderIndex < out[j].OrderIndex
	})
	for i := range out {
		out[i].OrderIndex = i
	}
	return out
}

// NormalizeOrder closes gaps and breaks duplicate indices, preserving the
// current relative order.
func NormalizeOrder(links []ProfileRuleLink) []ProfileRuleLink {
	out := append([]ProfileRuleLink(nil), links...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderIndex < out[j].OrderIndex
	})
	for i := range out {
		out[i].OrderIndex = i
	}
	return out
}
