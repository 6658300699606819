package common

import (
	"fmt"
	"os"
	"sort"

	"github.com/pannadata/consolidator/consolidator/filters"
	"gopkg.in/yaml.v3"
)

// Catalog lists the groups and sub-groups known upstream:
//
//	groups:
//	  EPL:
//	    2024-2025: "9n12waklv005j8r32sfjj2eqc"
type Catalog struct {
	Groups map[string]map[string]string `yaml:"groups"`
}

// LoadCatalog reads the yaml catalog at path
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return &c, nil
}

// Targets returns the catalog targets ordered by group, most recent
// sub-group first. With recent > 0 only the recent lexically greatest
// sub-groups of each group are returned.
func (c *Catalog) Targets(recent int) []filters.Target {
	groups := make([]string, 0, len(c.Groups))
	for g := range c.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var out []filters.Target
	for _, g := range groups {
		subGroups := make([]string, 0, len(c.Groups[g]))
		for s := range c.Groups[g] {
			subGroups = append(subGroups, s)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(subGroups)))
		if recent > 0 && len(subGroups) > recent {
			subGroups = subGroups[:recent]
		}
		for _, s := range subGroups {
			out = append(out, filters.Target{Group: g, SubGroup: s, UpstreamID: c.Groups[g][s]})
		}
	}
	return out
}
