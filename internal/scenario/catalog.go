// Package scenario maps analysis requests onto a fixed catalog of canned
// diagnostic outcomes. Selection is deterministic: the same identifier always
// yields the same template and confidences.
package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"rca-orchestrator/backend/pkg/models"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Template is a single catalog entry describing one diagnostic outcome.
type Template struct {
	Symptoms         []string                   `yaml:"symptoms"`
	RootCause        string                     `yaml:"root_cause"`
	AffectedEntities []string                   `yaml:"affected_entities"`
	Actions          []models.RecommendedAction `yaml:"actions"`
}

// Catalog is an immutable, ordered list of templates.
type Catalog struct {
	templates []Template
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// DefaultCatalog returns the catalog embedded in the binary. It is parsed once.
func DefaultCatalog() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = ParseCatalog(defaultCatalogYAML)
	})
	return defaultCatalog, defaultErr
}

// LoadCatalog reads a catalog from r.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// LoadCatalogFile reads a catalog from path, falling back to the embedded
// catalog when path is empty.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// ParseCatalog decodes and validates YAML catalog data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Scenarios []Template `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(doc.Scenarios) == 0 {
		return nil, errors.New("catalog contains no scenarios")
	}
	for i, t := range doc.Scenarios {
		if t.RootCause == "" || len(t.Symptoms) == 0 || len(t.AffectedEntities) == 0 || len(t.Actions) == 0 {
			return nil, fmt.Errorf("catalog scenario %d is incomplete", i)
		}
	}
	return &Catalog{templates: doc.Scenarios}, nil
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.templates)
}

// Template returns a copy of the template at index i.
func (c *Catalog) Template(i int) Template {
	t := c.templates[i]
	return Template{
		Symptoms:         append([]string(nil), t.Symptoms...),
		RootCause:        t.RootCause,
		AffectedEntities: append([]string(nil), t.AffectedEntities...),
		Actions:          append([]models.RecommendedAction(nil), t.Actions...),
	}
}
