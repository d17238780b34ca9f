package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nasri82/cardinsa-pricing/core"
)

// =============================================================================
// SOURCES - implemented by store/memory and store/sqlite
// =============================================================================

// RuleSource loads rules by id. A missing rule must return an error that
// satisfies core.IsNotFound.
type RuleSource interface {
	GetRule(ctx context.Context, id string) (*Rule, error)
}

// ProfileSource loads profiles and their rule links, with Rule populated.
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	ProfileLinks(ctx context.Context, profileID string) ([]ProfileRuleLink, error)
}

// =============================================================================
// AGGREGATE RESULT
// =============================================================================

// AggregateResult summarizes a sequential rule-set evaluation. Rules that
// did not apply still appear in IndividualResults.
type AggregateResult struct {
	ProfileID         string             `json:"profile_id,omitempty"`
	TotalImpact       decimal.Decimal    `json:"total_impact"`
	RulesApplied      int                `json:"rules_applied"`
	RulesEvaluated    int                `json:"rules_evaluated"`
	RulesFailed       int                `json:"rules_failed"`
	AverageImpact     decimal.Decimal    `json:"average_impact"`
	IndividualResults []EvaluationResult `json:"individual_results"`
}

// Quote is a profile evaluation plus the premium derived from it.
type Quote struct {
	Profile    *Profile         `json:"profile"`
	Evaluation AggregateResult  `json:"evaluation"`
	Premium    PremiumBreakdown `json:"premium"`
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator evaluates ordered rule sets. Evaluation is sequential; rules
// share no mutable state.
type Aggregator struct {
	Rules     RuleSource
	Profiles  ProfileSource
	Evaluator *Evaluator
}

// NewAggregator wires an aggregator with a default evaluator.
func NewAggregator(rules RuleSource, profiles ProfileSource) *Aggregator {
	return &Aggregator{Rules: rules, Profiles: profiles, Evaluator: NewEvaluator()}
}

func (a *Aggregator) evaluator() *Evaluator {
	if a.Evaluator == nil {
		return NewEvaluator()
	}
	return a.Evaluator
}

// EvaluateRuleSet evaluates ids in the order given. A missing rule becomes an
// error result; only source failures other than not-found abort the call.
func (a *Aggregator) EvaluateRuleSet(ctx context.Context, ids []string, record Record) (AggregateResult, error) {
	rules := make([]*Rule, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return AggregateResult{}, err
		}
		rule, err := a.Rules.GetRule(ctx, id)
		if err != nil && !core.IsNotFound(err) {
			return AggregateResult{}, fmt.Errorf("loading rule %s: %w", id, err)
		}
		rules[i] = rule
	}

	results := a.run(rules, record)
	for i, id := range ids {
		if rules[i] == nil {
			results[i].RuleID = id
		}
	}
	return Summarize(results), nil
}

// EvaluateProfile resolves the profile's active links in ascending
// order_index and evaluates them.
func (a *Aggregator) EvaluateProfile(ctx context.Context, profileID string, record Record) (AggregateResult, error) {
	_, rules, err := a.loadProfile(ctx, profileID)
	if err != nil {
		return AggregateResult{}, err
	}
	agg := Summarize(a.run(rules, record))
	agg.ProfileID = profileID
	return agg, nil
}

// PriceProfile evaluates the profile and applies the results to its base
// premium. When the profile has a risk formula its result replaces the base
// premium; a failing risk formula falls back to the stored base premium
// with a warning.
func (a *Aggregator) PriceProfile(ctx context.Context, profileID string, record Record) (Quote, error) {
	profile, rules, err := a.loadProfile(ctx, profileID)
	if err != nil {
		return Quote{}, err
	}
	if !profile.IsActive {
		return Quote{}, fmt.Errorf("%w: %s", ErrProfileInactive, profileID)
	}

	results := a.run(rules, record)
	agg := Summarize(results)
	agg.ProfileID = profileID

	base := profile.BasePremium
	var warnings []string
	if profile.RiskFormula != "" {
		vars := FormulaVariables(record, map[string]decimal.Decimal{"base_premium": profile.BasePremium})
		v, err := a.evaluator().sandbox().Evaluate(profile.RiskFormula, vars)
		if err != nil {
			warnings = append(warnings, "risk formula failed, using stored base premium: "+err.Error())
		} else {
			base = v
		}
	}

	premium := ApplyAdjustments(base, rules, results, Bounds{Min: profile.MinPremium, Max: profile.MaxPremium})
	premium.CurrencyCode = profile.CurrencyCode
	premium.Warnings = append(warnings, premium.Warnings...)
	return Quote{Profile: profile, Evaluation: agg, Premium: premium}, nil
}

func (a *Aggregator) loadProfile(ctx context.Context, profileID string) (*Profile, []*Rule, error) {
	profile, err := a.Profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, nil, err
	}
	links, err := a.Profiles.ProfileLinks(ctx, profileID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading rules of profile %s: %w", profileID, err)
	}
	return profile, OrderedRules(links), nil
}

func (a *Aggregator) run(rules []*Rule, record Record) []EvaluationResult {
	ev := a.evaluator()
	results := make([]EvaluationResult, len(rules))
	for i, r := range rules {
		results[i] = ev.Evaluate(r, record)
	}
	return results
}

// Summarize totals the applied impacts of results.
func Summarize(results []EvaluationResult) AggregateResult {
	agg := AggregateResult{
		TotalImpact:       decimal.Zero,
		AverageImpact:     decimal.Zero,
		RulesEvaluated:    len(results),
		IndividualResults: results,
	}
	if agg.IndividualResults == nil {
		agg.IndividualResults = []EvaluationResult{}
	}
	for _, r := range results {
		if r.Failed() {
			agg.RulesFailed++
		}
		if r.ImpactApplied && r.ResultValue != nil {
			agg.TotalImpact = agg.TotalImpact.Add(*r.ResultValue)
			agg.RulesApplied++
		}
	}
	if agg.RulesApplied > 0 {
		agg.AverageImpact = agg.TotalImpact.Div(decimal.NewFromInt(int64(agg.RulesApplied)))
	}
	return agg
}
