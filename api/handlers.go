/*
handlers.go - HTTP API handlers for the pricing engine

PURPOSE:
  Exposes coverage benefits, pricing rules, profiles and the formula sandbox
  via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the coverage and pricing packages.

ENDPOINTS:
  Coverages:
    GET    /api/coverages                      List coverages
    POST   /api/coverages                      Create coverage
    GET    /api/coverages/{code}               Get coverage
    PUT    /api/coverages/{code}               Partial update, returns changed fields
    DELETE /api/coverages/{code}               Archive or deprecate (?status=)
    POST   /api/coverages/{code}/retire        Same, status in the body
    POST   /api/coverages/{code}/member-cost   Member/insurer split for one service
    GET    /api/coverages/{code}/eligibility   ?age=&gender=&date=&usage=&period=

  Rules:
    GET    /api/rules                          ?insurance_type=&rule_type=&include_archived=
    POST   /api/rules                          Create rule
    POST   /api/rules/evaluate                 Evaluate an ordered rule-id set
    GET    /api/rules/{id}                     Get rule
    PUT    /api/rules/{id}                     Partial update, writes history
    DELETE /api/rules/{id}                     Archive (?reason=), writes history
    POST   /api/rules/{id}/evaluate            Evaluate one rule against a record
    GET    /api/rules/{id}/history             Audit trail

  Profiles: see profiles.go
  Scenarios: see scenarios.go

  Formulas:
    POST   /api/formulas/validate              Full sandbox validation
    POST   /api/formulas/evaluate              Evaluate with given variables

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Repo: store.Repository (SQLite in production, memory in tests)
  - Aggregator: rule-set evaluation and premium pricing over Repo
  - Catalogs: YAML/JSON catalog factory for scenarios and imports
  - Sandbox: formula sandbox shared by validation and evaluation

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (rule/coverage/profile Validate)
  3. Call domain logic (evaluator, aggregator, cost calculator)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, blocking consistency issues, malformed JSON
  - 404: Coverage, rule, profile or scenario not found
  - 409: Conflict (duplicate name/code, archived rule, inactive profile)
  - 500: Internal errors

  Per-rule evaluation failures are NOT HTTP errors: they come back with
  200 inside the result's details.error.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - profiles.go: Profile endpoints
  - scenarios.go: Demo catalog loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/coverage"
	"github.com/nasri82/cardinsa-pricing/factory"
	"github.com/nasri82/cardinsa-pricing/formula"
	"github.com/nasri82/cardinsa-pricing/pricing"
	"github.com/nasri82/cardinsa-pricing/store"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Repo       store.Repository
	Aggregator *pricing.Aggregator
	Catalogs   *factory.CatalogFactory
	Sandbox    *formula.Sandbox

	Now   func() time.Time
	NewID func() string

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler over repo. Evaluations skip rules
// outside their effective window as of h.Now.
func NewHandler(repo store.Repository) *Handler {
	h := &Handler{
		Repo:    repo,
		Sandbox: formula.NewSandbox(),
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
	h.Aggregator = &pricing.Aggregator{
		Rules:     repo,
		Profiles:  repo,
		Evaluator: &pricing.Evaluator{Sandbox: h.Sandbox, Clock: h.now},
	}
	h.Catalogs = factory.NewCatalogFactory()
	h.Catalogs.Sandbox = h.Sandbox
	h.Catalogs.Now = h.now
	h.Catalogs.NewID = h.newID
	return h
}

func (h *Handler) now() time.Time {
	return h.Now().UTC()
}

func (h *Handler) newID() string {
	return h.NewID()
}

// =============================================================================
// COVERAGE HANDLERS
// =============================================================================

// ListCoverages returns all coverages ordered by code.
func (h *Handler) ListCoverages(w http.ResponseWriter, r *http.Request) {
	list, err := h.Repo.ListCoverages(r.Context())
	if err != nil {
		writeError(w, r, "Failed to list coverages", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateCoverage validates and stores a new coverage benefit.
func (h *Handler) CreateCoverage(w http.ResponseWriter, r *http.Request) {
	var b coverage.Benefit
	if err := decodeJSON(w, r, &b); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}
	if b.Version == 0 {
		b.Version = 1
	}
	if err := b.Validate(); err != nil {
		writeError(w, r, "Invalid coverage", err)
		return
	}
	if err := h.Repo.CreateCoverage(r.Context(), &b); err != nil {
		writeError(w, r, "Failed to create coverage", err)
		return
	}

	log.WithFields(log.Fields{"code": b.Code, "status": b.Status}).Info("coverage created")
	writeJSON(w, http.StatusCreated, b)
}

// GetCoverage returns a single coverage.
func (h *Handler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	b, err := h.Repo.GetCoverage(r.Context(), coverageCode(r))
	if err != nil {
		writeError(w, r, "Failed to get coverage", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// UpdateCoverage applies a partial edit. The code cannot be changed here.
func (h *Handler) UpdateCoverage(w http.ResponseWriter, r *http.Request) {
	var u coverage.BenefitUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	b, err := h.Repo.GetCoverage(r.Context(), coverageCode(r))
	if err != nil {
		writeError(w, r, "Failed to get coverage", err)
		return
	}
	changed, err := b.ApplyUpdate(u)
	if err != nil {
		writeError(w, r, "Invalid coverage update", err)
		return
	}
	if len(changed) > 0 {
		if err := h.Repo.SaveCoverage(r.Context(), b); err != nil {
			writeError(w, r, "Failed to save coverage", err)
			return
		}
	}
	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, http.StatusOK, CoverageChangeResponse{Coverage: b, ChangedFields: changed})
}

// RetireCoverage archives (default) or deprecates a coverage. The target
// status comes from ?status= or the JSON body.
func (h *Handler) RetireCoverage(w http.ResponseWriter, r *http.Request) {
	req := RetireCoverageRequest{Status: coverage.StatusArchived}
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		req.Status = coverage.Status(strings.ToLower(s))
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, "Invalid request body", err)
			return
		}
	}

	b, err := h.Repo.GetCoverage(r.Context(), coverageCode(r))
	if err != nil {
		writeError(w, r, "Failed to get coverage", err)
		return
	}
	before := b.Version
	if err := b.Retire(req.Status); err != nil {
		writeError(w, r, "Invalid retirement", err)
		return
	}
	if b.Version != before {
		if err := h.Repo.SaveCoverage(r.Context(), b); err != nil {
			writeError(w, r, "Failed to save coverage", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, b)
}

// MemberCost splits one service cost between member and insurer.
func (h *Handler) MemberCost(w http.ResponseWriter, r *http.Request) {
	var req MemberCostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	b, err := h.Repo.GetCoverage(r.Context(), coverageCode(r))
	if err != nil {
		writeError(w, r, "Failed to get coverage", err)
		return
	}
	breakdown, err := coverage.CalculateMemberCost(b, req.toCostRequest())
	if err != nil {
		writeError(w, r, "Failed to calculate member cost", err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// CheckEligibility runs the coverage's derived queries for one member.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	req, err := h.eligibilityRequest(r)
	if err != nil {
		writeError(w, r, "Invalid query parameters", err)
		return
	}

	b, err := h.Repo.GetCoverage(r.Context(), coverageCode(r))
	if err != nil {
		writeError(w, r, "Failed to get coverage", err)
		return
	}
	writeJSON(w, http.StatusOK, b.CheckEligibility(req))
}

func (h *Handler) eligibilityRequest(r *http.Request) (coverage.EligibilityRequest, error) {
	q := r.URL.Query()
	verr := &core.ValidationError{Entity: "eligibility_query"}
	req := coverage.EligibilityRequest{Date: h.now(), Gender: q.Get("gender")}

	if s := q.Get("date"); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			verr.Add("date", "use YYYY-MM-DD")
		}
		req.Date = d
	}
	if s := q.Get("enrollment_date"); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			verr.Add("enrollment_date", "use YYYY-MM-DD")
		}
		req.EnrollmentDate = &d
	}
	if s := q.Get("age"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			verr.Add("age", "must be a non-negative integer")
		}
		req.Age = &n
	}
	if s := q.Get("usage"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			verr.Add("usage", "must be a non-negative integer")
		}
		req.Usage = &n
	}
	if s := q.Get("period"); s != "" {
		p, err := coverage.ParsePeriod(s)
		if err != nil {
			verr.Add("period", "%v", err)
		}
		req.Period = p
	}
	if s := q.Get("emergency"); s != "" {
		req.Emergency, _ = strconv.ParseBool(s)
	}
	return req, verr.OrNil()
}

func coverageCode(r *http.Request) string {
	return coverage.NormalizeCode(chi.URLParam(r, "code"))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns rules matching the query filter, archived ones only
// when include_archived=true.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.RuleFilter{
		InsuranceType: strings.TrimSpace(q.Get("insurance_type")),
		RuleType:      pricing.RuleType(strings.ToUpper(strings.TrimSpace(q.Get("rule_type")))),
	}
	f.IncludeArchived, _ = strconv.ParseBool(q.Get("include_archived"))

	rules, err := h.Repo.ListRules(r.Context(), f)
	if err != nil {
		writeError(w, r, "Failed to list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// CreateRule validates and stores a new rule. is_active defaults to true.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req factory.RuleJSON
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	rule := req.Rule.Clone()
	rule.IsActive = req.IsActive == nil || *req.IsActive
	rule.State = pricing.StateActive
	rule.ArchivedAt = nil
	rule.Version = 1
	rule.Prepare(h.now(), h.newID)
	if err := rule.ValidateWith(h.Sandbox); err != nil {
		writeError(w, r, "Invalid rule", err)
		return
	}
	if err := h.Repo.CreateRule(r.Context(), rule); err != nil {
		writeError(w, r, "Failed to create rule", err)
		return
	}

	log.WithFields(log.Fields{
		"rule_id":        rule.ID,
		"insurance_type": rule.InsuranceType,
		"adjustment":     rule.AdjustmentType,
	}).Info("pricing rule created")
	writeJSON(w, http.StatusCreated, rule)
}

// GetRule returns a single rule, archived or not.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule applies a partial edit and records it in the rule history.
// An edit that changes nothing returns 200 with no changed fields.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	rule, err := h.Repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Failed to get rule", err)
		return
	}
	change, err := rule.ApplyUpdate(req.RuleUpdate, req.Reason, h.now(), h.Sandbox)
	if err != nil {
		writeError(w, r, "Failed to update rule", err)
		return
	}
	if len(change.ChangedFields) > 0 {
		if err := h.Repo.UpdateRule(r.Context(), rule, change); err != nil {
			writeError(w, r, "Failed to save rule", err)
			return
		}
		log.WithFields(log.Fields{
			"rule_id": rule.ID,
			"fields":  change.ChangedFields,
			"version": change.NewVersion,
		}).Info("pricing rule updated")
	}
	writeJSON(w, http.StatusOK, toRuleChangeResponse(rule, change))
}

// ArchiveRule soft-deletes a rule. Archiving an archived rule is a no-op.
func (h *Handler) ArchiveRule(w http.ResponseWriter, r *http.Request) {
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = "archived"
	}

	rule, err := h.Repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Failed to get rule", err)
		return
	}
	change := rule.Archive(h.now(), reason)
	if len(change.ChangedFields) > 0 {
		if err := h.Repo.UpdateRule(r.Context(), rule, change); err != nil {
			writeError(w, r, "Failed to archive rule", err)
			return
		}
		log.WithFields(log.Fields{"rule_id": rule.ID, "reason": reason}).Info("pricing rule archived")
	}
	writeJSON(w, http.StatusOK, toRuleChangeResponse(rule, change))
}

// EvaluateRule evaluates one rule against the posted record.
func (h *Handler) EvaluateRule(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	rule, err := h.Repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Aggregator.Evaluator.Evaluate(rule, recordOrEmpty(req.Record)))
}

// EvaluateRuleSet evaluates rule ids in the order given. Unknown ids come
// back as failed results, not as 404.
func (h *Handler) EvaluateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRuleSetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}
	if len(req.RuleIDs) == 0 {
		writeError(w, r, "Invalid request body", core.NewValidationError("rule_set", "rule_ids", "must list at least one rule"))
		return
	}

	res, err := h.Aggregator.EvaluateRuleSet(r.Context(), req.RuleIDs, recordOrEmpty(req.Record))
	if err != nil {
		writeError(w, r, "Failed to evaluate rules", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RuleHistory returns the rule's audit rows, oldest first.
func (h *Handler) RuleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Repo.GetRule(r.Context(), id); err != nil {
		writeError(w, r, "Failed to get rule", err)
		return
	}
	history, err := h.Repo.RuleHistory(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to load rule history", err)
		return
	}
	if history == nil {
		history = []store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, RuleHistoryResponse{RuleID: id, History: history})
}

func toRuleChangeResponse(rule *pricing.Rule, change pricing.RuleChange) RuleChangeResponse {
	changed := change.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	return RuleChangeResponse{
		Rule:          rule,
		ChangedFields: changed,
		OldVersion:    change.OldVersion,
		NewVersion:    change.NewVersion,
	}
}

func recordOrEmpty(rec pricing.Record) pricing.Record {
	if rec == nil {
		return pricing.Record{}
	}
	return rec
}

// =============================================================================
// FORMULA HANDLERS
// =============================================================================

// ValidateFormula runs the sandbox validation pipeline. Posted variables
// count as known fields. Always 200: the verdict is in is_valid.
func (h *Handler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req FormulaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Sandbox.WithFields(req.Variables).Validate(req.Expression))
}

// EvaluateFormula runs the expression with the posted variables as its
// only namespace. Evaluation failures are reported in-band.
func (h *Handler) EvaluateFormula(w http.ResponseWriter, r *http.Request) {
	var req FormulaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	res := FormulaResult{Expression: req.Expression}
	v, err := h.Sandbox.Evaluate(req.Expression, req.Variables)
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Result = &v
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// ADMIN
// =============================================================================

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.Reset(r.Context()); err != nil {
		writeError(w, r, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")

	log.Warn("database reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a single JSON document. Untyped values (record facts,
// operands) keep their exact decimal text.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case core.IsClientError(err):
		return http.StatusBadRequest
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsConflict(err),
		errors.Is(err, pricing.ErrRuleArchived),
		errors.Is(err, pricing.ErrProfileInactive):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status and writes an ErrorResponse. Validation
// problems are listed field by field.
func writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			resp.Problems = verr.Problems
		}
	}

	entry := log.WithFields(log.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.GetReqID(r.Context()),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}

	writeJSON(w, status, resp)
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

func (h *Handler) scenario() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentScenario
}
