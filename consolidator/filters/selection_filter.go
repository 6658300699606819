package filters

import (
	"fmt"
	"strings"
)

// SelectionFilter keeps targets whose group and sub-group were selected.
// An empty selection accepts everything.
type SelectionFilter struct {
	groups    map[string]bool
	subGroups map[string]bool
}

func NewSelectionFilter(groups, subGroups []string) *SelectionFilter {
	return &SelectionFilter{
		groups:    toSet(groups),
		subGroups: toSet(subGroups),
	}
}

func (sf *SelectionFilter) Name() string {
	return fmt.Sprintf("selection_filter_%d_%d", len(sf.groups), len(sf.subGroups))
}

func (sf *SelectionFilter) Filter(target Target) bool {
	if len(sf.groups) > 0 && !sf.groups[target.Group] {
		return false
	}
	if len(sf.subGroups) > 0 && !sf.subGroups[target.SubGroup] {
		return false
	}
	return true
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = true
		}
	}
	return out
}
