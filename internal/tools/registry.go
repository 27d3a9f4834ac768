// Package tools exposes the fixed catalog of named calculation tools and
// executes tool-call plans against the member data catalog. The tool surface
// is closed: every tool is declared in the embedded catalog, keyed
// "<country>-<tool_id>", and unknown names are a planning-time error.
package tools

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogFS embed.FS

// ErrUnknownTool is returned when a plan references a tool key not present
// in the catalog.
var ErrUnknownTool = fmt.Errorf("unknown tool")

// Tool IDs. Each jurisdiction in the catalog declares the same closed set.
const (
	ToolBalance       = "balance"
	ToolTax           = "tax"
	ToolProjection    = "projection"
	ToolPreservation  = "preservation"
	ToolContributions = "contributions"
)

// Definition describes one catalog entry.
type Definition struct {
	Key       string   `yaml:"-" json:"key"`
	Country   string   `yaml:"-" json:"country"`
	ToolID    string   `yaml:"-" json:"tool_id"`
	Name      string   `yaml:"name" json:"name"`
	Authority string   `yaml:"authority" json:"authority"`
	Citations []string `yaml:"citations" json:"citations"`
}

type catalogFile struct {
	Countries map[string]struct {
		Tools map[string]*Definition `yaml:"tools"`
	} `yaml:"countries"`
}

// Registry is the closed tool catalog.
type Registry struct {
	defs map[string]*Definition
}

// LoadRegistry parses the embedded tool catalog.
func LoadRegistry() (*Registry, error) {
	raw, err := catalogFS.ReadFile("catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading tool catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing tool catalog: %w", err)
	}

	defs := make(map[string]*Definition)
	for country, cc := range file.Countries {
		for toolID, def := range cc.Tools {
			def.Country = country
			def.ToolID = toolID
			def.Key = Key(country, toolID)
			if def.Name == "" || def.Authority == "" {
				return nil, fmt.Errorf("tool %s missing name or authority", def.Key)
			}
			defs[def.Key] = def
		}
	}
	return &Registry{defs: defs}, nil
}

// Key builds the catalog key for a jurisdiction and tool id.
func Key(country, toolID string) string {
	return strings.ToUpper(country) + "-" + toolID
}

// Lookup resolves a tool key, or ErrUnknownTool.
func (r *Registry) Lookup(key string) (*Definition, error) {
	def, ok := r.defs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, key)
	}
	return def, nil
}

// Keys returns all catalog keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.defs))
	for k := range r.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
