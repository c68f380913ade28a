package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is a set of templates keyed by id, loaded from YAML:
//
//	templates:
//	  plan_profile: |
//	    ...
type Catalog struct {
	Templates map[string]string `yaml:"templates"`
}

// LoadCatalog parses a YAML catalogue.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	if len(c.Templates) == 0 {
		return nil, fmt.Errorf("prompt catalog has no templates")
	}
	for id, text := range c.Templates {
		if text == "" {
			return nil, fmt.Errorf("prompt catalog template %s is empty", id)
		}
	}
	return &c, nil
}

// DefaultCatalog returns the catalogue compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// IDs returns the template ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Templates))
	for id := range c.Templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Seed writes the catalogue into the store. Existing templates are kept
// unless overwrite is set. It returns the ids that were written.
func Seed(ctx context.Context, s *Store, c *Catalog, overwrite bool) ([]string, error) {
	var written []string
	for _, id := range c.IDs() {
		if !overwrite {
			exists, err := s.Exists(ctx, id)
			if err != nil {
				return written, err
			}
			if exists {
				continue
			}
		}
		if err := s.Put(ctx, id, c.Templates[id]); err != nil {
			return written, err
		}
		written = append(written, id)
	}
	return written, nil
}
