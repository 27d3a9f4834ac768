// Package country is the read-only jurisdiction registry: currency and
// terminology conventions, regulatory grounding text, and the citation
// catalog each jurisdiction's answers draw from. The registry is embedded at
// build time; lookups never touch the network.
package country

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed countries.yaml
var registryFS embed.FS

// Citation identifies a regulatory source an answer may cite.
type Citation struct {
	ID          string `yaml:"id" json:"id"`
	Authority   string `yaml:"authority" json:"authority"`
	Regulation  string `yaml:"regulation" json:"regulation"`
	Description string `yaml:"description" json:"description"`
	URL         string `yaml:"url" json:"url"`
}

// Config holds one jurisdiction's conventions and grounding material.
type Config struct {
	Code             string     `yaml:"-" json:"code"`
	Name             string     `yaml:"name" json:"name"`
	Currency         string     `yaml:"currency" json:"currency"`
	CurrencySymbol   string     `yaml:"currency_symbol" json:"currency_symbol"`
	AccountTerm      string     `yaml:"account_term" json:"account_term"`
	Regulator        string     `yaml:"regulator" json:"regulator"`
	PreservationTerm string     `yaml:"preservation_term" json:"preservation_term"`
	Grounding        string     `yaml:"grounding" json:"grounding"`
	Citations        []Citation `yaml:"citations" json:"citations"`
}

// FormatCurrency renders an amount with the jurisdiction's symbol and
// thousands grouping, e.g. "A$485,000".
func (c *Config) FormatCurrency(amount float64) string {
	whole := int64(amount)
	neg := whole < 0
	if neg {
		whole = -whole
	}
	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := c.CurrencySymbol + b.String()
	if neg {
		out = "-" + out
	}
	return out
}

// CitationByID returns the citation with the given id, if present.
func (c *Config) CitationByID(id string) (Citation, bool) {
	for _, cit := range c.Citations {
		if cit.ID == id {
			return cit, true
		}
	}
	return Citation{}, false
}

// Registry resolves jurisdiction codes to their configuration.
type Registry struct {
	configs map[string]*Config
}

type registryFile struct {
	Countries map[string]*Config `yaml:"countries"`
}

// Load parses the embedded jurisdiction registry.
func Load() (*Registry, error) {
	raw, err := registryFS.ReadFile("countries.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading country registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing country registry: %w", err)
	}
	for code, cfg := range file.Countries {
		cfg.Code = code
		if cfg.Currency == "" || cfg.Grounding == "" {
			return nil, fmt.Errorf("country %s missing currency or grounding", code)
		}
	}
	return &Registry{configs: file.Countries}, nil
}

// Lookup returns the configuration for a jurisdiction code.
func (r *Registry) Lookup(code string) (*Config, error) {
	cfg, ok := r.configs[strings.ToUpper(code)]
	if !ok {
		return nil, fmt.Errorf("unsupported jurisdiction %q (supported: %s)",
			code, strings.Join(r.Codes(), ", "))
	}
	return cfg, nil
}

// Supported reports whether the code names a known jurisdiction.
func (r *Registry) Supported(code string) bool {
	_, ok := r.configs[strings.ToUpper(code)]
	return ok
}

// Codes returns the supported jurisdiction codes, sorted.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.configs))
	for code := range r.configs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
