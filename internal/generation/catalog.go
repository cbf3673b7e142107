package generation

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Activity struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type ExclusiveGroup struct {
	Name       string   `yaml:"name"`
	Activities []string `yaml:"activities"`
}

// Catalog is the closed vocabulary for routine plans.
type Catalog struct {
	Activities      []Activity       `yaml:"activities"`
	ExclusiveGroups []ExclusiveGroup `yaml:"exclusive_groups"`

	byID    map[string]Activity
	groupOf map[string][]string
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Activities) == 0 {
		return nil, fmt.Errorf("parse catalog: no activities")
	}

	c.byID = make(map[string]Activity, len(c.Activities))
	for _, a := range c.Activities {
		if _, dup := c.byID[a.ID]; dup {
			return nil, fmt.Errorf("parse catalog: duplicate activity %q", a.ID)
		}
		c.byID[a.ID] = a
	}
	c.groupOf = make(map[string][]string)
	for _, g := range c.ExclusiveGroups {
		for _, id := range g.Activities {
			if _, ok := c.byID[id]; !ok {
				return nil, fmt.Errorf("parse catalog: group %q names unknown activity %q", g.Name, id)
			}
			c.groupOf[id] = append(c.groupOf[id], g.Name)
		}
	}
	return &c, nil
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Groups returns the exclusive groups id belongs to.
func (c *Catalog) Groups(id string) []string {
	return c.groupOf[id]
}

// IDs returns every activity id, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
