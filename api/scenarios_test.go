/*
scenarios_test.go - Tests for demo catalog loading and import

Tests for:
- Listing and loading embedded scenarios
- Pricing against a loaded scenario end to end
- Catalog import and its conflicts
- Demo seeding on an empty database
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/factory"
	"github.com/nasri82/cardinsa-pricing/pricing"
)

func TestScenarios_ListAndLoad(t *testing.T) {
	_, srv := newTestServer(t)

	rec := call(t, srv, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	infos := decodeBody[[]factory.ScenarioInfo](t, rec)
	ids := make([]string, len(infos))
	for i, s := range infos {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"medical-standard", "motor-basic"}, ids)

	rec = call(t, srv, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(trimNewline(rec.Body.Bytes())))

	// WHEN: Loading the medical catalog
	rec = call(t, srv, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "medical-standard"}`)

	// THEN: Its coverages, rules and profile are installed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loaded := decodeBody[LoadScenarioResponse](t, rec)
	assert.Equal(t, 3, loaded.Coverages)
	assert.Equal(t, 5, loaded.Rules)
	assert.Equal(t, 1, loaded.Profiles)

	rec = call(t, srv, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "medical-standard", decodeBody[factory.ScenarioInfo](t, rec).ID)

	// AND: The profile prices end to end
	q := price(t, srv, "medical-individual", map[string]any{
		"age": 62, "smoker": true, "region": "Riyadh", "bmi": 32,
	})
	require.Equal(t, http.StatusOK, q.Status)
	assert.True(t, q.Quote.Premium.FinalPremium.Equal(dec("2187.90")), "got %s", q.Quote.Premium.FinalPremium)

	// WHEN: Loading another scenario
	rec = call(t, srv, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "motor-basic"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: The previous data is gone
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/profiles/medical-individual", nil).Code)
	rec = call(t, srv, http.MethodGet, "/api/rules?insurance_type=MEDICAL", nil)
	assert.Empty(t, decodeBody[[]pricing.Rule](t, rec))
}

func TestScenarios_UnknownScenario(t *testing.T) {
	_, srv := newTestServer(t)

	for _, id := range []string{"nope", "../secrets", ""} {
		rec := call(t, srv, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": id})
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
	}
}

func TestScenarios_ResetClearsEverything(t *testing.T) {
	_, srv := newTestServer(t)
	require.Equal(t, http.StatusOK,
		call(t, srv, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "medical-standard"}`).Code)

	rec := call(t, srv, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, srv, http.MethodGet, "/api/coverages", nil)
	assert.Empty(t, decodeBody[[]any](t, rec))
	rec = call(t, srv, http.MethodGet, "/api/profiles", nil)
	assert.Empty(t, decodeBody[[]any](t, rec))
	rec = call(t, srv, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", string(trimNewline(rec.Body.Bytes())))
}

func TestImportCatalog(t *testing.T) {
	// GIVEN: A YAML catalog referencing its rule by name
	_, srv := newTestServer(t)
	doc := `
id: travel
name: Travel
rules:
  - name: Long trip loading
    insurance_type: TRAVEL
    rule_type: RISK_BASED
    applies_to: trip_days
    comparison_operator: ">"
    value: 30
    adjustment_type: FIXED_AMOUNT
    adjustment_value: 40
profiles:
  - id: travel-single
    name: Single trip
    insurance_type: TRAVEL
    base_premium: 120
    currency_code: SAR
    rules:
      - rule: long trip loading
`
	// WHEN: Importing it
	rec := call(t, srv, http.MethodPost, "/api/catalogs/import", doc)

	// THEN: The profile is installed active and prices
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	q := price(t, srv, "travel-single", map[string]any{"trip_days": 45})
	require.Equal(t, http.StatusOK, q.Status)
	assert.True(t, q.Quote.Premium.FinalPremium.Equal(dec("160")))

	// AND: Importing it again conflicts
	rec = call(t, srv, http.MethodPost, "/api/catalogs/import", doc)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, srv, http.MethodPost, "/api/catalogs/import", "name: [broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeedDemo(t *testing.T) {
	h, srv := newTestServer(t)
	ctx := context.Background()

	seeded, err := h.SeedDemo(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	rec := call(t, srv, http.MethodGet, "/api/profiles", nil)
	assert.Len(t, decodeBody[[]pricing.Profile](t, rec), 2)

	// A populated database is left alone
	seeded, err = h.SeedDemo(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
