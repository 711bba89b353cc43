// Package knowledge loads the optional domain knowledge files that stages may
// consult: semantic mappings, inference rules and cross-domain bridges.
package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Status values reported by Base.Status.
const (
	StatusOperational   = "operational"
	StatusUnavailable   = "unavailable"
	StatusNotConfigured = "not_configured"
)

// Relative locations of the knowledge files under the base directory.
const (
	MappingsFile = "mappings/semantic_mappings.json"
	RulesFile    = "rules/swrl_rules.json"
	BridgesFile  = "mappings/cross_domain_bridges.json"
)

// Rule is one inference rule. Body and head are kept verbatim.
type Rule struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Head        json.RawMessage `json:"head,omitempty"`
}

// Base holds whatever knowledge files were found. It is read-only after Load.
type Base struct {
	dir      string
	mappings map[string]json.RawMessage
	rules    []Rule
	bridges  map[string]json.RawMessage
}

// Load reads the knowledge files under dir. Missing files are tolerated;
// malformed ones are an error. An empty dir yields an empty, unconfigured Base.
func Load(dir string) (*Base, error) {
	b := &Base{dir: dir}
	if dir == "" {
		return b, nil
	}

	if err := readJSON(filepath.Join(dir, MappingsFile), &b.mappings); err != nil {
		return nil, err
	}

	var rules struct {
		Rules []Rule `json:"rules"`
	}
	if err := readJSON(filepath.Join(dir, RulesFile), &rules); err != nil {
		return nil, err
	}
	b.rules = rules.Rules

	if err := readJSON(filepath.Join(dir, BridgesFile), &b.bridges); err != nil {
		return nil, err
	}
	return b, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Status reports operational when semantic mappings are loaded.
func (b *Base) Status() string {
	switch {
	case b == nil || b.dir == "":
		return StatusNotConfigured
	case len(b.mappings) > 0:
		return StatusOperational
	default:
		return StatusUnavailable
	}
}

// Mapping returns the raw semantic mapping for a key.
func (b *Base) Mapping(key string) (json.RawMessage, bool) {
	if b == nil {
		return nil, false
	}
	m, ok := b.mappings[key]
	return m, ok
}

// Rules returns the loaded inference rules.
func (b *Base) Rules() []Rule {
	if b == nil {
		return nil
	}
	out := make([]Rule, len(b.rules))
	copy(out, b.rules)
	return out
}

// Summary counts loaded entries per file, for health output.
func (b *Base) Summary() map[string]int {
	if b == nil {
		return map[string]int{}
	}
	return map[string]int{
		"mappings": len(b.mappings),
		"rules":    len(b.rules),
		"bridges":  len(b.bridges),
	}
}
