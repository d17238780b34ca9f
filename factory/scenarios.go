package factory

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/nasri82/cardinsa-pricing/core"
)

// =============================================================================
// EMBEDDED DEMO CATALOGS
// =============================================================================

//go:embed catalogs/*.yaml
var catalogFS embed.FS

// ScenarioInfo describes one embedded catalog.
type ScenarioInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Coverages   int    `json:"coverages"`
	Rules       int    `json:"rules"`
	Profiles    int    `json:"profiles"`
}

// Scenarios lists the embedded catalogs, sorted by id.
func (f *CatalogFactory) Scenarios() ([]ScenarioInfo, error) {
	names, err := fs.Glob(catalogFS, "catalogs/*.yaml")
	if err != nil {
		return nil, err
	}
	out := make([]ScenarioInfo, 0, len(names))
	for _, name := range names {
		c, err := f.readCatalog(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ScenarioInfo{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Category:    c.Category,
			Coverages:   len(c.Coverages),
			Rules:       len(c.Rules),
			Profiles:    len(c.Profiles),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Scenario returns the embedded catalog with the given id.
func (f *CatalogFactory) Scenario(id string) (*Catalog, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return nil, fmt.Errorf("%w: scenario %q", core.ErrNotFound, id)
	}
	c, err := f.readCatalog(path.Join("catalogs", id+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: scenario %q", core.ErrNotFound, id)
	}
	return c, err
}

func (f *CatalogFactory) readCatalog(name string) (*Catalog, error) {
	data, err := catalogFS.ReadFile(name)
	if err != nil {
		return nil, err
	}
	c, err := f.ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}
