package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/pricing"
)

// =============================================================================
// PROFILE HANDLERS
//
//   GET    /api/profiles                    List profiles
//   POST   /api/profiles                    Create profile (inactive)
//   GET    /api/profiles/{id}               Profile with links in order
//   POST   /api/profiles/{id}/rules         Attach rule at order_index
//   POST   /api/profiles/{id}/evaluate      Evaluate active links
//   POST   /api/profiles/{id}/price         Evaluate and apply to base premium
//   GET    /api/profiles/{id}/consistency   Blocking issues and warnings
//   POST   /api/profiles/{id}/optimize      Proposed order (?mode=type|normalize, ?apply=true saves it)
//   POST   /api/profiles/{id}/activate      Refuses on blocking issues
//   POST   /api/profiles/{id}/deactivate
// =============================================================================

// ListProfiles returns all profiles ordered by name.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.Repo.ListProfiles(r.Context())
	if err != nil {
		writeError(w, r, "Failed to list profiles", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateProfile stores a new profile. Profiles start inactive and are
// activated once their rule links are consistent.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var p pricing.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	now := h.now()
	if p.ID == "" {
		p.ID = h.newID()
	}
	p.IsActive = false
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := p.Validate(h.Sandbox); err != nil {
		writeError(w, r, "Invalid profile", err)
		return
	}
	if err := h.Repo.CreateProfile(r.Context(), &p); err != nil {
		writeError(w, r, "Failed to create profile", err)
		return
	}

	log.WithFields(log.Fields{"profile_id": p.ID, "insurance_type": p.InsuranceType}).Info("pricing profile created")
	writeJSON(w, http.StatusCreated, ProfileResponse{Profile: &p, Rules: []LinkDTO{}})
}

// GetProfile returns the profile and its links sorted by order_index.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.Repo.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to get profile", err)
		return
	}
	links, err := h.Repo.ProfileLinks(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to load profile rules", err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: p, Rules: toLinkDTOs(sortedLinks(links))})
}

// AttachRule links a rule to the profile, or moves an existing link.
// Blocking issues the new link introduces are reported, not rejected; they
// block activation.
func (h *Handler) AttachRule(w http.ResponseWriter, r *http.Request) {
	var req AttachRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}
	req.RuleID = strings.TrimSpace(req.RuleID)
	if req.RuleID == "" {
		writeError(w, r, "Invalid request body", core.NewValidationError("profile_rule", "rule_id", "is required"))
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	p, err := h.Repo.GetProfile(ctx, id)
	if err != nil {
		writeError(w, r, "Failed to get profile", err)
		return
	}
	rule, err := h.Repo.GetRule(ctx, req.RuleID)
	if err != nil {
		writeError(w, r, "Failed to get rule", err)
		return
	}
	if rule.IsArchived() {
		writeError(w, r, "Cannot attach rule", fmt.Errorf("%w: %s", pricing.ErrRuleArchived, rule.ID))
		return
	}
	if !strings.EqualFold(rule.InsuranceType, p.InsuranceType) {
		writeError(w, r, "Cannot attach rule", core.NewValidationError("profile_rule", "rule_id",
			"rule %s is for %s, profile is for %s", rule.ID, rule.InsuranceType, p.InsuranceType))
		return
	}

	links, err := h.Repo.ProfileLinks(ctx, id)
	if err != nil {
		writeError(w, r, "Failed to load profile rules", err)
		return
	}
	link := pricing.ProfileRuleLink{
		ProfileID:  id,
		RuleID:     rule.ID,
		OrderIndex: nextOrderIndex(links, rule.ID),
		IsActive:   req.IsActive == nil || *req.IsActive,
	}
	if req.OrderIndex != nil {
		if *req.OrderIndex < 0 {
			writeError(w, r, "Invalid request body", core.NewValidationError("profile_rule", "order_index", "must be >= 0"))
			return
		}
		link.OrderIndex = *req.OrderIndex
	}
	if err := h.Repo.LinkRule(ctx, link); err != nil {
		writeError(w, r, "Failed to attach rule", err)
		return
	}

	links, err = h.Repo.ProfileLinks(ctx, id)
	if err != nil {
		writeError(w, r, "Failed to load profile rules", err)
		return
	}
	report := pricing.ValidateProfileRuleConsistency(links)
	log.WithFields(log.Fields{
		"profile_id":  id,
		"rule_id":     rule.ID,
		"order_index": link.OrderIndex,
		"consistent":  report.IsConsistent,
	}).Info("rule attached to profile")

	writeJSON(w, http.StatusCreated, LinksResponse{
		ProfileID:   id,
		Rules:       toLinkDTOs(sortedLinks(links)),
		Consistency: report,
	})
}

// EvaluateProfile evaluates the profile's active links in order.
func (h *Handler) EvaluateProfile(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	res, err := h.Aggregator.EvaluateProfile(r.Context(), chi.URLParam(r, "id"), recordOrEmpty(req.Record))
	if err != nil {
		writeError(w, r, "Failed to evaluate profile", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PriceProfile produces a quote. Inactive profiles are refused with 409.
func (h *Handler) PriceProfile(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	quote, err := h.Aggregator.PriceProfile(r.Context(), chi.URLParam(r, "id"), recordOrEmpty(req.Record))
	if err != nil {
		writeError(w, r, "Failed to price profile", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ProfileConsistency reports blocking issues and warnings for the links.
func (h *Handler) ProfileConsistency(w http.ResponseWriter, r *http.Request) {
	links, err := h.profileLinks(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Failed to load profile rules", err)
		return
	}
	writeJSON(w, http.StatusOK, pricing.ValidateProfileRuleConsistency(links))
}

// Reorder modes accepted by OptimizeProfile.
const (
	orderByType    = "type"
	orderNormalize = "normalize"
)

// OptimizeProfile proposes a new link order. ?mode=type (the default)
// orders by adjustment type; ?mode=normalize keeps the current order and
// closes gaps and duplicate indices. With ?apply=true the proposal replaces
// the stored links.
func (h *Handler) OptimizeProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mode := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mode")))
	if mode == "" {
		mode = orderByType
	}
	if mode != orderByType && mode != orderNormalize {
		writeError(w, r, "Invalid mode",
			fmt.Errorf("%w: mode must be %q or %q", core.ErrValidation, orderByType, orderNormalize))
		return
	}

	links, err := h.profileLinks(r, id)
	if err != nil {
		writeError(w, r, "Failed to load profile rules", err)
		return
	}

	var reordered []pricing.ProfileRuleLink
	if mode == orderNormalize {
		reordered = pricing.NormalizeOrder(sortedLinks(links))
	} else {
		reordered = pricing.OptimizeRuleOrder(sortedLinks(links))
	}

	apply, _ := strconv.ParseBool(r.URL.Query().Get("apply"))
	if apply {
		if err := h.Repo.ReplaceLinks(r.Context(), id, reordered); err != nil {
			writeError(w, r, "Failed to save rule order", err)
			return
		}
		log.WithFields(log.Fields{"profile_id": id, "mode": mode}).Info("profile rule order rewritten")
	}
	writeJSON(w, http.StatusOK, OptimizeResponse{ProfileID: id, Mode: mode, Applied: apply, Rules: toLinkDTOs(reordered)})
}

// ActivateProfile makes the profile priceable. It refuses while the links
// have blocking consistency issues.
func (h *Handler) ActivateProfile(w http.ResponseWriter, r *http.Request) {
	h.setProfileActive(w, r, true)
}

// DeactivateProfile takes the profile out of pricing.
func (h *Handler) DeactivateProfile(w http.ResponseWriter, r *http.Request) {
	h.setProfileActive(w, r, false)
}

func (h *Handler) setProfileActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	p, err := h.Repo.GetProfile(ctx, id)
	if err != nil {
		writeError(w, r, "Failed to get profile", err)
		return
	}
	links, err := h.Repo.ProfileLinks(ctx, id)
	if err != nil {
		writeError(w, r, "Failed to load profile rules", err)
		return
	}

	if active {
		report := pricing.ValidateProfileRuleConsistency(links)
		if !report.IsConsistent {
			msgs := make([]string, len(report.Issues))
			for i, issue := range report.Issues {
				msgs[i] = issue.Message
			}
			writeError(w, r, "Cannot activate profile",
				fmt.Errorf("%w: %s", core.ErrBlockingIssues, strings.Join(msgs, "; ")))
			return
		}
	}

	if p.IsActive != active {
		p.IsActive = active
		p.Version++
		p.UpdatedAt = h.now()
		if err := h.Repo.SaveProfile(ctx, p); err != nil {
			writeError(w, r, "Failed to save profile", err)
			return
		}
		log.WithFields(log.Fields{"profile_id": id, "active": active}).Info("profile activation changed")
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: p, Rules: toLinkDTOs(sortedLinks(links))})
}

// profileLinks loads links, turning an unknown profile into not-found
// rather than an empty list.
func (h *Handler) profileLinks(r *http.Request, id string) ([]pricing.ProfileRuleLink, error) {
	if _, err := h.Repo.GetProfile(r.Context(), id); err != nil {
		return nil, err
	}
	return h.Repo.ProfileLinks(r.Context(), id)
}

// nextOrderIndex keeps an existing link's position and otherwise appends
// after the highest index.
func nextOrderIndex(links []pricing.ProfileRuleLink, ruleID string) int {
	next := 0
	for _, l := range links {
		if l.RuleID == ruleID {
			return l.OrderIndex
		}
		if l.OrderIndex >= next {
			next = l.OrderIndex + 1
		}
	}
	return next
}

func sortedLinks(links []pricing.ProfileRuleLink) []pricing.ProfileRuleLink {
	out := append([]pricing.ProfileRuleLink(nil), links...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}
