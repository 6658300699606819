package filters

import (
	"log"
)

// Target is one (group, sub_group) a run may process.
type Target struct {
	Group    string
	SubGroup string
	// UpstreamID is the identifier the acquisition side knows the
	// sub-group by, empty when unknown.
	UpstreamID string
}

// Filter defines the interface for plan filters
type Filter interface {
	// Filter returns true if the target should be kept, false if it should be filtered out
	Filter(target Target) bool
	// Name returns the filter name for logging purposes
	Name() string
}

// Apply keeps the targets every filter accepts, in order.
func Apply(targets []Target, filters ...Filter) []Target {
	out := make([]Target, 0, len(targets))
	dropped := make(map[string]int)
	for _, t := range targets {
		keep := true
		for _, f := range filters {
			if !f.Filter(t) {
				dropped[f.Name()]++
				keep = false
				break
			}
		}
		if keep {
			out = append(out, t)
		}
	}
	for name, n := range dropped {
		log.Printf("action: plan_filter | filter: %s | result: success | dropped: %d", name, n)
	}
	return out
}
