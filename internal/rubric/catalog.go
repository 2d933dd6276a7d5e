package rubric

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rubrics.yaml
var rubricsYAML []byte

// ScoreMin and ScoreMax bound every rubric's scoring scale.
const (
	ScoreMin = 0.0
	ScoreMax = 10.0
)

// Rubric is the instruction text and scale used to evaluate one question.
type Rubric struct {
	Key    Key
	Prompt string
}

// Catalog is the immutable rubric lookup table, loaded once at process start
// and safely shared across concurrent evaluation tasks without locking.
type Catalog struct {
	rubrics map[Key]Rubric
	version int
}

type catalogDoc struct {
	Version int `yaml:"version"`
	Rubrics []struct {
		Key    string `yaml:"key"`
		Prompt string `yaml:"prompt"`
	} `yaml:"rubrics"`
}

// Load parses the embedded rubric document and validates it against the
// canonical key set. Any missing key or empty prompt fails startup rather
// than silently falling through to "no rubric" at evaluation time.
func Load() (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(rubricsYAML, &doc); err != nil {
		return nil, fmt.Errorf("op=rubric.load: %w", err)
	}
	rubrics := make(map[Key]Rubric, len(doc.Rubrics))
	for _, r := range doc.Rubrics {
		k := Key(r.Key)
		prompt := strings.TrimSpace(r.Prompt)
		if prompt == "" {
			return nil, fmt.Errorf("op=rubric.load: empty prompt for key %q", r.Key)
		}
		if _, dup := rubrics[k]; dup {
			return nil, fmt.Errorf("op=rubric.load: duplicate key %q", r.Key)
		}
		rubrics[k] = Rubric{Key: k, Prompt: prompt}
	}
	for _, k := range canonicalKeys {
		if _, ok := rubrics[k]; !ok {
			return nil, fmt.Errorf("op=rubric.load: missing rubric for canonical key %q", k)
		}
	}
	return &Catalog{rubrics: rubrics, version: doc.Version}, nil
}

// Get returns the rubric for a key.
func (c *Catalog) Get(k Key) (Rubric, bool) {
	r, ok := c.rubrics[k]
	return r, ok
}

// Has reports whether the key exists in the catalog.
func (c *Catalog) Has(k Key) bool {
	_, ok := c.rubrics[k]
	return ok
}

// Version returns the catalog document version.
func (c *Catalog) Version() int { return c.version }

// Len returns the number of rubrics in the catalog.
func (c *Catalog) Len() int { return len(c.rubrics) }
