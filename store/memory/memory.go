// Package memory provides an in-memory store.Repository for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/coverage"
	"github.com/nasri82/cardinsa-pricing/pricing"
	"github.com/nasri82/cardinsa-pricing/store"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	coverages map[string]*coverage.Benefit
	rules     map[string]*pricing.Rule
	history   map[string][]store.HistoryEntry
	profiles  map[string]*pricing.Profile
	links     map[string][]pricing.ProfileRuleLink
	historyID int64
}

var _ store.Repository = (*Memory)(nil)

func New() *Memory {
	m := &Memory{}
	m.init()
	return m
}

func (m *Memory) init() {
	m.coverages = make(map[string]*coverage.Benefit)
	m.rules = make(map[string]*pricing.Rule)
	m.history = make(map[string][]store.HistoryEntry)
	m.profiles = make(map[string]*pricing.Profile)
	m.links = make(map[string][]pricing.ProfileRuleLink)
	m.historyID = 0
}

// =============================================================================
// COVERAGES
// =============================================================================

func (m *Memory) CreateCoverage(_ context.Context, b *coverage.Benefit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coverages[b.Code]; ok {
		return fmt.Errorf("%w: coverage %s already exists", core.ErrConflict, b.Code)
	}
	m.coverages[b.Code] = cloneBenefit(b)
	return nil
}

func (m *Memory) GetCoverage(_ context.Context, code string) (*coverage.Benefit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.coverages[coverage.NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrCoverageNotFound, code)
	}
	return cloneBenefit(b), nil
}

func (m *Memory) ListCoverages(_ context.Context) ([]*coverage.Benefit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*coverage.Benefit, 0, len(m.coverages))
	for _, b := range m.coverages {
		out = append(out, cloneBenefit(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) SaveCoverage(_ context.Context, b *coverage.Benefit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coverages[b.Code]; !ok {
		return fmt.Errorf("%w: %s", core.ErrCoverageNotFound, b.Code)
	}
	m.coverages[b.Code] = cloneBenefit(b)
	return nil
}

func cloneBenefit(b *coverage.Benefit) *coverage.Benefit {
	c := *b
	c.GenderRestrictions = append([]string(nil), b.GenderRestrictions...)
	if b.Extra != nil {
		c.Extra = make(map[string]string, len(b.Extra))
		for k, v := range b.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) CreateRule(_ context.Context, r *pricing.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[r.ID]; ok {
		return fmt.Errorf("%w: rule %s already exists", core.ErrConflict, r.ID)
	}
	if err := m.checkRuleNameLocked(r); err != nil {
		return err
	}
	m.rules[r.ID] = r.Clone()
	return nil
}

// checkRuleNameLocked enforces name uniqueness per insurance type.
func (m *Memory) checkRuleNameLocked(r *pricing.Rule) error {
	for _, other := range m.rules {
		if other.ID != r.ID && other.InsuranceType == r.InsuranceType && strings.EqualFold(other.Name, r.Name) {
			return fmt.Errorf("%w: rule %q already exists for %s", core.ErrConflict, r.Name, r.InsuranceType)
		}
	}
	return nil
}

func (m *Memory) GetRule(_ context.Context, id string) (*pricing.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRuleNotFound, id)
	}
	return r.Clone(), nil
}

func (m *Memory) ListRules(_ context.Context, f store.RuleFilter) ([]*pricing.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*pricing.Rule
	for _, r := range m.rules {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpdateRule stores r and appends the history row in one critical section.
func (m *Memory) UpdateRule(_ context.Context, r *pricing.Rule, change pricing.RuleChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[r.ID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrRuleNotFound, r.ID)
	}
	if err := m.checkRuleNameLocked(r); err != nil {
		return err
	}
	m.rules[r.ID] = r.Clone()

	m.historyID++
	entry := store.HistoryFromChange(change)
	entry.ID = m.historyID
	m.history[r.ID] = append(m.history[r.ID], entry)
	return nil
}

func (m *Memory) RuleHistory(_ context.Context, ruleID string) ([]store.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.rules[ruleID]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRuleNotFound, ruleID)
	}
	out := make([]store.HistoryEntry, len(m.history[ruleID]))
	copy(out, m.history[ruleID])
	return out, nil
}

// =============================================================================
// PROFILES
// =============================================================================

func (m *Memory) CreateProfile(_ context.Context, p *pricing.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.ID]; ok {
		return fmt.Errorf("%w: profile %s already exists", core.ErrConflict, p.ID)
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *Memory) SaveProfile(_ context.Context, p *pricing.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.ID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrProfileNotFound, p.ID)
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *Memory) GetProfile(_ context.Context, id string) (*pricing.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrProfileNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListProfiles(_ context.Context) ([]*pricing.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*pricing.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LinkRule attaches or re-positions a rule within a profile.
func (m *Memory) LinkRule(_ context.Context, link pricing.ProfileRuleLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[link.ProfileID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrProfileNotFound, link.ProfileID)
	}
	if _, ok := m.rules[link.RuleID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrRuleNotFound, link.RuleID)
	}
	link.Rule = nil
	links := m.links[link.ProfileID]
	for i, l := range links {
		if l.RuleID == link.RuleID {
			links[i] = link
			return nil
		}
	}
	m.links[link.ProfileID] = append(links, link)
	return nil
}

func (m *Memory) ReplaceLinks(_ context.Context, profileID string, links []pricing.ProfileRuleLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[profileID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrProfileNotFound, profileID)
	}
	stored := make([]pricing.ProfileRuleLink, len(links))
	for i, l := range links {
		l.ProfileID = profileID
		l.Rule = nil
		stored[i] = l
	}
	m.links[profileID] = stored
	return nil
}

// ProfileLinks returns the links in storage order with Rule populated.
func (m *Memory) ProfileLinks(_ context.Context, profileID string) ([]pricing.ProfileRuleLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.profiles[profileID]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrProfileNotFound, profileID)
	}
	out := make([]pricing.ProfileRuleLink, len(m.links[profileID]))
	for i, l := range m.links[profileID] {
		if r, ok := m.rules[l.RuleID]; ok {
			l.Rule = r.Clone()
		}
		out[i] = l
	}
	return out, nil
}

// =============================================================================
// ADMIN
// =============================================================================

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return nil
}

func (m *Memory) Close() error { return nil }
