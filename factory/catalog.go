/*
Package factory converts catalog documents into validated engine records.

PURPOSE:
  A catalog is one JSON or YAML document holding coverages, pricing rules
  and profiles with their ordered rule links. Actuaries can define a
  product without code changes; the factory validates everything up front
  and hands back records ready to store.

CATALOG SCHEMA (YAML):
  id: medical-standard
  name: Standard Medical
  coverages:
    - code: OPD
      name: Outpatient Consultation
      deductible: 100
      coinsurance_percentage: 20
      status: active
  rules:
    - id: senior-loading
      name: Senior age loading
      insurance_type: MEDICAL
      rule_type: AGE_BASED
      applies_to: age
      comparison_operator: ">="
      value: 60
      adjustment_type: PERCENTAGE
      adjustment_value: 25
  profiles:
    - id: medical-individual
      name: Individual Medical
      insurance_type: MEDICAL
      base_premium: 1200
      currency_code: SAR
      is_active: true
      rules:
        - rule: senior-loading        # rule id or name
          order_index: 0

KEY FEATURES:
  - YAML is bridged through JSON, so every engine type decodes with the
    same json tags the API uses
  - Missing rule and profile ids are generated
  - Every problem in the document is reported at once, with a path
  - Profiles with blocking consistency issues are rejected

USAGE:
  f := factory.NewCatalogFactory()
  cat, err := f.Parse(data)
  bundle, err := f.Build(cat)
  err = factory.Install(ctx, repo, bundle)

SEE ALSO:
  - factory/scenarios.go: Embedded demo catalogs
  - pricing/validate.go:  Rule validation
  - coverage/benefit.go:  Coverage validation
*/
package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/coverage"
	"github.com/nasri82/cardinsa-pricing/formula"
	"github.com/nasri82/cardinsa-pricing/pricing"
	"github.com/nasri82/cardinsa-pricing/store"
)

// =============================================================================
// CATALOG SCHEMA TYPES
// =============================================================================

// Catalog is the document representation of a product.
type Catalog struct {
	ID          string             `json:"id" validate:"required,max=100"`
	Name        string             `json:"name" validate:"required,max=200"`
	Description string             `json:"description,omitempty"`
	Category    string             `json:"category,omitempty"`
	Coverages   []coverage.Benefit `json:"coverages,omitempty"`
	Rules       []RuleJSON         `json:"rules,omitempty"`
	Profiles    []ProfileJSON      `json:"profiles,omitempty"`
}

// RuleJSON is a rule whose is_active defaults to true when omitted.
type RuleJSON struct {
	pricing.Rule
	IsActive *bool `json:"is_active,omitempty"`
}

// ProfileJSON is a profile plus its ordered rule references. is_active
// defaults to true when omitted.
type ProfileJSON struct {
	pricing.Profile
	IsActive *bool      `json:"is_active,omitempty"`
	Rules    []LinkJSON `json:"rules,omitempty"`
}

// LinkJSON references a catalog rule by id or name. A missing order_index
// defaults to the link's position in the list.
type LinkJSON struct {
	Rule       string `json:"rule"`
	OrderIndex *int   `json:"order_index,omitempty"`
	Inactive   bool   `json:"inactive,omitempty"`
}

// Bundle holds the validated records of one catalog.
type Bundle struct {
	CatalogID string
	Coverages []*coverage.Benefit
	Rules     []*pricing.Rule
	Profiles  []*pricing.Profile
	Links     map[string][]pricing.ProfileRuleLink
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory parses and validates catalogs.
type CatalogFactory struct {
	Sandbox *formula.Sandbox
	Now     func() time.Time
	NewID   func() string
}

// NewCatalogFactory creates a factory with the default sandbox, wall clock
// and UUID ids.
func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{
		Sandbox: formula.NewSandbox(),
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
}

// Parse decodes a JSON or YAML document. JSON is recognised by a leading
// '{'; anything else is treated as YAML.
func (f *CatalogFactory) Parse(data []byte) (*Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return f.ParseJSON(trimmed)
	}
	return f.ParseYAML(trimmed)
}

// ParseJSON decodes a JSON catalog.
func (f *CatalogFactory) ParseJSON(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return &c, nil
}

// ParseYAML decodes a YAML catalog by converting it to JSON first.
func (f *CatalogFactory) ParseYAML(data []byte) (*Catalog, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: document is empty")
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert catalog YAML: %w", err)
	}
	return f.ParseJSON(asJSON)
}

// Build validates every record in the catalog and returns them ready to
// store. All problems are collected into one core.ValidationError whose
// field names carry the document path, e.g. "rules[2].adjustment_value".
func (f *CatalogFactory) Build(c *Catalog) (*Bundle, error) {
	now := f.now()
	sb := f.Sandbox
	if sb == nil {
		sb = formula.NewSandbox()
	}
	verr := &core.ValidationError{Entity: "catalog"}
	core.CheckStruct(verr, c)

	b := &Bundle{CatalogID: c.ID, Links: make(map[string][]pricing.ProfileRuleLink)}

	// Coverages
	codes := make(map[string]bool)
	for i := range c.Coverages {
		cov := c.Coverages[i]
		path := fmt.Sprintf("coverages[%d]", i)
		if err := cov.Validate(); err != nil {
			mergeProblems(verr, path, err)
			continue
		}
		if codes[cov.Code] {
			verr.Add(path+".code", "duplicate coverage code %s", cov.Code)
			continue
		}
		codes[cov.Code] = true
		b.Coverages = append(b.Coverages, &cov)
	}

	// Rules
	byID := make(map[string]*pricing.Rule)
	byName := make(map[string]*pricing.Rule)
	for i := range c.Rules {
		rj := c.Rules[i]
		r := rj.Rule.Clone()
		r.IsActive = rj.IsActive == nil || *rj.IsActive
		path := fmt.Sprintf("rules[%d]", i)
		r.Prepare(now, f.newID)
		if err := r.ValidateWith(sb); err != nil {
			mergeProblems(verr, path, err)
			continue
		}
		key := ruleKey(r.InsuranceType, r.Name)
		if _, dup := byName[key]; dup {
			verr.Add(path+".name", "duplicate rule name %q for %s", r.Name, r.InsuranceType)
			continue
		}
		if _, dup := byID[r.ID]; dup {
			verr.Add(path+".id", "duplicate rule id %s", r.ID)
			continue
		}
		byID[r.ID] = r
		byName[key] = r
		b.Rules = append(b.Rules, r)
	}

	// Profiles and their links
	for i := range c.Profiles {
		pj := c.Profiles[i]
		p := pj.Profile
		p.IsActive = pj.IsActive == nil || *pj.IsActive
		path := fmt.Sprintf("profiles[%d]", i)
		if p.ID == "" {
			p.ID = f.newID()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		if err := p.Validate(sb); err != nil {
			mergeProblems(verr, path, err)
			continue
		}

		links := make([]pricing.ProfileRuleLink, 0, len(pj.Rules))
		resolved := true
		for j, lj := range pj.Rules {
			r := resolveRule(lj.Rule, p.InsuranceType, byID, byName)
			if r == nil {
				verr.Add(fmt.Sprintf("%s.rules[%d].rule", path, j), "unknown rule %q", lj.Rule)
				resolved = false
				continue
			}
			idx := j
			if lj.OrderIndex != nil {
				idx = *lj.OrderIndex
			}
			links = append(links, pricing.ProfileRuleLink{
				ProfileID:  p.ID,
				RuleID:     r.ID,
				OrderIndex: idx,
				IsActive:   !lj.Inactive,
				Rule:       r,
			})
		}
		if resolved {
			rep := pricing.ValidateProfileRuleConsistency(links)
			for _, issue := range rep.Issues {
				verr.Add(path+".rules", "%s", issue.Message)
			}
		}

		b.Profiles = append(b.Profiles, &p)
		b.Links[p.ID] = links
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *CatalogFactory) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

func (f *CatalogFactory) newID() string {
	if f.NewID == nil {
		return uuid.NewString()
	}
	return f.NewID()
}

func ruleKey(insuranceType, name string) string {
	return insuranceType + "\x00" + strings.ToLower(name)
}

// resolveRule looks a reference up by id first, then by name within the
// profile's insurance type.
func resolveRule(ref, insuranceType string, byID, byName map[string]*pricing.Rule) *pricing.Rule {
	ref = strings.TrimSpace(ref)
	if r, ok := byID[ref]; ok {
		return r
	}
	return byName[ruleKey(insuranceType, ref)]
}

// mergeProblems copies a nested validation error under a path prefix.
func mergeProblems(dst *core.ValidationError, prefix string, err error) {
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		dst.Add(prefix, "%v", err)
		return
	}
	for _, p := range verr.Problems {
		dst.Add(prefix+"."+p.Field, "%s", p.Message)
	}
}

// =============================================================================
// INSTALL
// =============================================================================

// Install writes a bundle to repo: coverages, then rules, then profiles and
// their links. It stops at the first store error.
func Install(ctx context.Context, repo store.Repository, b *Bundle) error {
	for _, cov := range b.Coverages {
		if err := repo.CreateCoverage(ctx, cov); err != nil {
			return fmt.Errorf("coverage %s: %w", cov.Code, err)
		}
	}
	for _, r := range b.Rules {
		if err := repo.CreateRule(ctx, r); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	for _, p := range b.Profiles {
		if err := repo.CreateProfile(ctx, p); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
		if err := repo.ReplaceLinks(ctx, p.ID, b.Links[p.ID]); err != nil {
			return fmt.Errorf("profile %s links: %w", p.Name, err)
		}
	}
	return nil
}
