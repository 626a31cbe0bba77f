// Package criteria holds the weighted gate-review criteria catalog.
// The catalog is fixed at configuration time: it is loaded once at startup
// and a catalog whose weights do not sum to 100 is a fatal error.
package criteria

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stagegate/sgpm/internal/models"
)

// Catalog is an ordered, immutable list of evaluation criteria.
type Catalog struct {
	criteria []models.Criterion
	byID     map[string]models.Criterion
}

// Default returns the built-in criteria catalog.
func Default() *Catalog {
	c, err := New([]models.Criterion{
		{ID: "strategic_alignment", Name: "Strategic Alignment", Weight: 22, Guidelines: map[int]string{
			1: "No link to research strategy or cluster priorities",
			3: "Partially supports one strategic priority",
			5: "Directly advances a core strategic priority",
		}},
		{ID: "technical_feasibility", Name: "Technical Feasibility", Weight: 22, Guidelines: map[int]string{
			1: "Approach unproven, key capabilities missing",
			3: "Approach plausible, significant technical unknowns remain",
			5: "Approach demonstrated, team has delivered similar work",
		}},
		{ID: "financial_viability", Name: "Financial Viability", Weight: 22, Guidelines: map[int]string{
			1: "Costs unbounded or funding unidentified",
			3: "Budget drafted, funding partially secured",
			5: "Full budget with committed funding sources",
		}},
		{ID: "resource_readiness", Name: "Resource Readiness", Weight: 10, Guidelines: map[int]string{
			1: "Key staff and equipment unavailable",
			3: "Most resources identified, some gaps",
			5: "Staff, equipment, and facilities committed",
		}},
		{ID: "risk_compliance", Name: "Risk & Compliance", Weight: 5, Guidelines: map[int]string{
			1: "Unmitigated risks or unresolved compliance issues",
			3: "Risks identified with partial mitigation",
			5: "Risk register complete, approvals in place",
		}},
		{ID: "stakeholder_support", Name: "Stakeholder Support", Weight: 5, Guidelines: map[int]string{
			1: "No stakeholder engagement",
			3: "Key stakeholders informed, support uneven",
			5: "Sponsors and partners actively committed",
		}},
		{ID: "business_development", Name: "Business Development", Weight: 14, Guidelines: map[int]string{
			1: "No route to application or market",
			3: "Potential applications identified",
			5: "Clear exploitation path with interested partners",
		}},
	})
	if err != nil {
		// The built-in catalog is validated by tests; this cannot happen.
		panic(err)
	}
	return c
}

// New builds a catalog from the given criteria, validating the configuration.
func New(criteria []models.Criterion) (*Catalog, error) {
	c := &Catalog{
		criteria: criteria,
		byID:     make(map[string]models.Criterion, len(criteria)),
	}
	for _, cr := range criteria {
		c.byID[cr.ID] = cr
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads a YAML criteria catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read criteria file: %w", err)
	}

	var file struct {
		Criteria []models.Criterion `yaml:"criteria"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse criteria file %s: %w", path, err)
	}

	c, err := New(file.Criteria)
	if err != nil {
		return nil, fmt.Errorf("criteria file %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the catalog configuration. A violation is fatal at
// startup, never recoverable per request.
func (c *Catalog) Validate() error {
	if len(c.criteria) == 0 {
		return fmt.Errorf("criteria catalog is empty")
	}

	seen := make(map[string]bool, len(c.criteria))
	sum := 0
	for _, cr := range c.criteria {
		if cr.ID == "" {
			return fmt.Errorf("criterion %q has no id", cr.Name)
		}
		if seen[cr.ID] {
			return fmt.Errorf("duplicate criterion id: %s", cr.ID)
		}
		seen[cr.ID] = true
		if cr.Weight < 1 || cr.Weight > 100 {
			return fmt.Errorf("criterion %s: weight %d out of range [1,100]", cr.ID, cr.Weight)
		}
		sum += cr.Weight
	}
	if sum != 100 {
		return fmt.Errorf("criteria weights sum to %d, must be exactly 100", sum)
	}
	return nil
}

// List returns the criteria in declaration order.
func (c *Catalog) List() []models.Criterion {
	out := make([]models.Criterion, len(c.criteria))
	copy(out, c.criteria)
	return out
}

// Get returns the criterion with the given id.
func (c *Catalog) Get(id string) (models.Criterion, bool) {
	cr, ok := c.byID[id]
	return cr, ok
}

// Len returns the number of criteria.
func (c *Catalog) Len() int { return len(c.criteria) }
