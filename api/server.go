/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing (also in error logs)
  4. Timeout:    Per-request deadline propagated through the context
  5. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/coverages/*      Coverage benefits, member cost, eligibility
  /api/rules/*          Pricing rules, evaluation, history
  /api/profiles/*       Profiles, links, pricing, consistency
  /api/formulas/*       Formula sandbox
  /api/scenarios/*      Demo catalogs
  /api/catalogs/import  Catalog import
  /api/reset            Database reset (dev only)
  /                     API index page

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tune the middleware stack. Zero values use defaults.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Coverage routes
		r.Route("/coverages", func(r chi.Router) {
			r.Get("/", h.ListCoverages)
			r.Post("/", h.CreateCoverage)
			r.Get("/{code}", h.GetCoverage)
			r.Put("/{code}", h.UpdateCoverage)
			r.Delete("/{code}", h.RetireCoverage)
			r.Post("/{code}/retire", h.RetireCoverage)
			r.Post("/{code}/member-cost", h.MemberCost)
			r.Get("/{code}/eligibility", h.CheckEligibility)
		})

		// Rule routes
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/evaluate", h.EvaluateRuleSet)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.ArchiveRule)
			r.Post("/{id}/evaluate", h.EvaluateRule)
			r.Get("/{id}/history", h.RuleHistory)
		})

		// Profile routes
		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", h.ListProfiles)
			r.Post("/", h.CreateProfile)
			r.Get("/{id}", h.GetProfile)
			r.Post("/{id}/rules", h.AttachRule)
			r.Post("/{id}/evaluate", h.EvaluateProfile)
			r.Post("/{id}/price", h.PriceProfile)
			r.Get("/{id}/consistency", h.ProfileConsistency)
			r.Post("/{id}/optimize", h.OptimizeProfile)
			r.Post("/{id}/activate", h.ActivateProfile)
			r.Post("/{id}/deactivate", h.DeactivateProfile)
		})

		// Formula routes
		r.Route("/formulas", func(r chi.Router) {
			r.Post("/validate", h.ValidateFormula)
			r.Post("/evaluate", h.EvaluateFormula)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		r.Post("/catalogs/import", h.ImportCatalog)
		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Cardinsa Pricing Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Cardinsa Pricing Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/coverages">/api/coverages</a> - List coverages</li>
<li><a href="/api/rules">/api/rules</a> - List pricing rules</li>
<li><a href="/api/profiles">/api/profiles</a> - List pricing profiles</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo catalogs</li>
</ul>
</body>
</html>`))
	})

	return r
}
