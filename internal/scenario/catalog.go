package scenario

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the read-only sampling universe of one generation run.
type Catalog struct {
	scenarios []Scenario
}

// NewCatalog validates every row; an empty table is a configuration error.
func NewCatalog(list []Scenario) (*Catalog, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: scenario table is empty", ErrConfiguration)
	}
	out := make([]Scenario, len(list))
	for i, s := range list {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("scenario #%d: %w", i+1, err)
		}
		out[i] = s
	}
	return &Catalog{scenarios: out}, nil
}

// Default returns a catalog over ArticleTable.
func Default() *Catalog {
	c, err := NewCatalog(ArticleTable)
	if err != nil {
		panic(err)
	}
	return c
}

// Sample draws uniformly with replacement.
func (c *Catalog) Sample(rng *rand.Rand) (Scenario, error) {
	if c == nil || len(c.scenarios) == 0 {
		return Scenario{}, fmt.Errorf("%w: scenario table is empty", ErrConfiguration)
	}
	return c.scenarios[rng.IntN(len(c.scenarios))], nil
}

// Scenarios returns a copy of the table in configured order.
func (c *Catalog) Scenarios() []Scenario {
	if c == nil {
		return nil
	}
	out := make([]Scenario, len(c.scenarios))
	copy(out, c.scenarios)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.scenarios)
}

// FileConfig maps a scenario catalog YAML file.
type FileConfig struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadFile reads a YAML catalog, rejecting unknown fields.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario catalog failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parse scenario catalog failed: %v", ErrConfiguration, err)
	}
	return NewCatalog(cfg.Scenarios)
}
