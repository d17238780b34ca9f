/*
scenarios.go - Demo catalog loaders for testing and demonstrations

PURPOSE:
  Populates the database with realistic coverages, pricing rules and
  profiles. Scenarios are the YAML catalogs embedded in factory/catalogs;
  arbitrary catalogs can also be imported as a request body.

AVAILABLE SCENARIOS:
  medical-standard:  Outpatient/maternity/dental coverages, age, smoker,
                     region and BMI rules on an individual medical profile
  motor-basic:       Young driver, claims history and vehicle value rules on
                     a third-party motor profile with a risk formula

HOW SCENARIOS WORK:
 1. Parse the embedded catalog
 2. Build it (validation, id generation, link resolution, consistency)
 3. Reset database (clear all data)
 4. Install coverages, rules, profiles and links

  A catalog that fails to build never touches the database.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "medical-standard"}

  POST /api/catalogs/import     (JSON or YAML body, no reset)

ADDING NEW SCENARIOS:
  Drop a YAML file into factory/catalogs/. Its file name is the scenario id.

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - factory/catalog.go: Catalog format and Build
  - factory/scenarios.go: Embedded catalog lookup
*/
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/factory"
	"github.com/nasri82/cardinsa-pricing/store"
)

// ListScenarios returns the embedded catalogs.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Catalogs.Scenarios()
	if err != nil {
		writeError(w, r, "Failed to list scenarios", err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	id := h.scenario()
	if id == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	infos, err := h.Catalogs.Scenarios()
	if err != nil {
		writeError(w, r, "Failed to list scenarios", err)
		return
	}
	for _, s := range infos {
		if s.ID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, factory.ScenarioInfo{ID: id, Name: id, Description: "Currently loaded scenario"})
}

// LoadScenario replaces all data with an embedded catalog.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "Invalid request body", err)
		return
	}

	c, err := h.Catalogs.Scenario(req.ScenarioID)
	if err != nil {
		writeError(w, r, "Unknown scenario", err)
		return
	}
	b, err := h.Catalogs.Build(c)
	if err != nil {
		writeError(w, r, fmt.Sprintf("Failed to build scenario %s", c.ID), err)
		return
	}

	ctx := r.Context()
	if err := h.Repo.Reset(ctx); err != nil {
		writeError(w, r, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")
	if err := factory.Install(ctx, h.Repo, b); err != nil {
		writeError(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.setCurrentScenario(c.ID)

	log.WithFields(log.Fields{
		"scenario":  c.ID,
		"coverages": len(b.Coverages),
		"rules":     len(b.Rules),
		"profiles":  len(b.Profiles),
	}).Info("scenario loaded")
	writeJSON(w, http.StatusOK, loadResponse("loaded", c.ID, b, h.now()))
}

// ImportCatalog installs a posted JSON or YAML catalog on top of the
// existing data. Conflicting codes, names or ids fail with 409.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, "Invalid request body", fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}
	c, err := h.Catalogs.Parse(data)
	if err != nil {
		writeError(w, r, "Invalid catalog", fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}
	b, err := h.Catalogs.Build(c)
	if err != nil {
		writeError(w, r, "Invalid catalog", err)
		return
	}
	if err := factory.Install(r.Context(), h.Repo, b); err != nil {
		writeError(w, r, "Failed to import catalog", err)
		return
	}

	log.WithField("catalog", c.ID).Info("catalog imported")
	writeJSON(w, http.StatusCreated, loadResponse("imported", c.ID, b, h.now()))
}

// SeedDemo installs every embedded catalog when the database holds no
// rules and no profiles. It reports whether anything was installed.
func (h *Handler) SeedDemo(ctx context.Context) (bool, error) {
	rules, err := h.Repo.ListRules(ctx, store.RuleFilter{IncludeArchived: true})
	if err != nil {
		return false, err
	}
	profiles, err := h.Repo.ListProfiles(ctx)
	if err != nil {
		return false, err
	}
	if len(rules) > 0 || len(profiles) > 0 {
		return false, nil
	}

	infos, err := h.Catalogs.Scenarios()
	if err != nil {
		return false, err
	}
	var loaded []string
	for _, info := range infos {
		c, err := h.Catalogs.Scenario(info.ID)
		if err != nil {
			return false, err
		}
		b, err := h.Catalogs.Build(c)
		if err != nil {
			return false, fmt.Errorf("scenario %s: %w", info.ID, err)
		}
		if err := factory.Install(ctx, h.Repo, b); err != nil {
			return false, fmt.Errorf("scenario %s: %w", info.ID, err)
		}
		loaded = append(loaded, info.ID)
	}

	log.WithField("scenarios", strings.Join(loaded, ",")).Info("demo catalogs seeded")
	return len(loaded) > 0, nil
}

func loadResponse(status, id string, b *factory.Bundle, at time.Time) LoadScenarioResponse {
	return LoadScenarioResponse{
		Status:    status,
		Scenario:  id,
		Coverages: len(b.Coverages),
		Rules:     len(b.Rules),
		Profiles:  len(b.Profiles),
		LoadedAt:  at,
	}
}
