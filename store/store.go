/*
Package store defines the persistence interface between the pricing engine
and its databases.

PURPOSE:
  The engine packages (coverage, pricing) never touch storage. They receive
  already-loaded records and return transient results. This package names
  the contract the HTTP layer and the aggregator use to load and save those
  records, so SQLite and in-memory implementations are interchangeable.

CONTRACT:
  - Get* methods return an error satisfying core.IsNotFound for missing rows
  - Create* methods return core.ErrConflict on uniqueness violations
    (coverage code, rule name per insurance type, profile rule link)
  - UpdateRule writes the rule and its history row atomically
  - Nothing is hard-deleted: rules are archived, coverages retired

IMPLEMENTATIONS:
  - store/sqlite:  SQLite with WAL
  - store/memory:  maps behind a RWMutex, for tests and demos

SEE ALSO:
  - pricing/aggregate.go: RuleSource and ProfileSource
  - pricing/changes.go:   RuleChange, the input of a history row
*/
package store

import (
	"context"
	"time"

	"github.com/nasri82/cardinsa-pricing/coverage"
	"github.com/nasri82/cardinsa-pricing/pricing"
)

// RuleFilter narrows ListRules. Zero values match everything.
type RuleFilter struct {
	InsuranceType   string
	RuleType        pricing.RuleType
	IncludeArchived bool
}

// Matches reports whether r passes the filter.
func (f RuleFilter) Matches(r *pricing.Rule) bool {
	if f.InsuranceType != "" && r.InsuranceType != f.InsuranceType {
		return false
	}
	if f.RuleType != "" && r.RuleType != f.RuleType {
		return false
	}
	return f.IncludeArchived || !r.IsArchived()
}

// HistoryEntry is one audit row for a rule update.
type HistoryEntry struct {
	ID            int64         `json:"id"`
	RuleID        string        `json:"rule_id"`
	OldVersion    int           `json:"old_version"`
	NewVersion    int           `json:"new_version"`
	ChangedFields []string      `json:"changed_fields"`
	Reason        string        `json:"reason,omitempty"`
	Before        *pricing.Rule `json:"before"`
	After         *pricing.Rule `json:"after"`
	ChangedAt     time.Time     `json:"changed_at"`
}

// Repository is everything the API needs from persistence.
type Repository interface {
	pricing.RuleSource
	pricing.ProfileSource

	// Coverages
	CreateCoverage(ctx context.Context, b *coverage.Benefit) error
	GetCoverage(ctx context.Context, code string) (*coverage.Benefit, error)
	ListCoverages(ctx context.Context) ([]*coverage.Benefit, error)
	SaveCoverage(ctx context.Context, b *coverage.Benefit) error

	// Rules
	CreateRule(ctx context.Context, r *pricing.Rule) error
	ListRules(ctx context.Context, f RuleFilter) ([]*pricing.Rule, error)
	UpdateRule(ctx context.Context, r *pricing.Rule, change pricing.RuleChange) error
	RuleHistory(ctx context.Context, ruleID string) ([]HistoryEntry, error)

	// Profiles
	CreateProfile(ctx context.Context, p *pricing.Profile) error
	SaveProfile(ctx context.Context, p *pricing.Profile) error
	ListProfiles(ctx context.Context) ([]*pricing.Profile, error)
	LinkRule(ctx context.Context, link pricing.ProfileRuleLink) error
	ReplaceLinks(ctx context.Context, profileID string, links []pricing.ProfileRuleLink) error

	Reset(ctx context.Context) error
	Close() error
}

// HistoryFromChange builds the audit row for a change.
func HistoryFromChange(c pricing.RuleChange) HistoryEntry {
	return HistoryEntry{
		RuleID:        c.RuleID,
		OldVersion:    c.OldVersion,
		NewVersion:    c.NewVersion,
		ChangedFields: c.ChangedFields,
		Reason:        c.Reason,
		Before:        c.Before,
		After:         c.After,
		ChangedAt:     c.ChangedAt,
	}
}
