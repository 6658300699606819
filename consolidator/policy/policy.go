// Package policy maps table types to the fields that identify a record and
// to the rule that picks a survivor among records sharing an identity.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pannadata/consolidator/dataset"
)

// Granularity selects how a table is consolidated.
type Granularity int

const (
	// PerSubGroup keeps one consolidated file per (group, sub_group).
	PerSubGroup Granularity = iota
	// PerGroup keeps one consolidated file per group, for tables too large
	// to hold one file per table type.
	PerGroup
)

func (g Granularity) String() string {
	if g == PerGroup {
		return "group"
	}
	return "sub_group"
}

// ParseGranularity accepts "group" and "sub_group"
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sub_group", "subgroup":
		return PerSubGroup, nil
	case "group":
		return PerGroup, nil
	default:
		return PerSubGroup, fmt.Errorf("unknown granularity %q", s)
	}
}

// TieBreak picks the survivor among records sharing an identity key.
type TieBreak int

const (
	// KeepLast keeps the record observed last in concatenation order.
	KeepLast TieBreak = iota
	// KeepFirst keeps the record observed first.
	KeepFirst
)

func (t TieBreak) String() string {
	if t == KeepFirst {
		return "first"
	}
	return "last"
}

// ParseTieBreak accepts "last" and "first"
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return KeepLast, nil
	case "first":
		return KeepFirst, nil
	default:
		return KeepLast, fmt.Errorf("unknown tie-break %q", s)
	}
}

// Policy is the identity rule of one table type.
type Policy struct {
	Table       string
	Key         []string
	TieBreak    TieBreak
	Granularity Granularity
}

// Fields names the columns the default policies are built from.
type Fields struct {
	Entity      string
	Participant string
	Event       string
	Category    string
	Minute      string
}

// DefaultFields are the column names produced by the acquisition side.
var DefaultFields = Fields{
	Entity:      "match_id",
	Participant: "player_id",
	Event:       "event_id",
	Category:    "event_type",
	Minute:      "minute",
}

// Registry resolves table types to policies. Unknown tables are identified
// by the entity field alone.
type Registry struct {
	entityField string
	policies    map[string]Policy
}

// NewRegistry creates an empty registry whose fallback key is entityField
func NewRegistry(entityField string) *Registry {
	return &Registry{
		entityField: entityField,
		policies:    make(map[string]Policy),
	}
}

// DefaultRegistry returns the policies of the known table types.
func DefaultRegistry(f Fields) *Registry {
	r := NewRegistry(f.Entity)
	r.Register(Policy{Table: "player_stats", Key: []string{f.Entity, f.Participant}})
	r.Register(Policy{Table: "shots", Key: []string{f.Entity, f.Participant}})
	r.Register(Policy{Table: "lineups", Key: []string{f.Entity, f.Participant}})
	r.Register(Policy{Table: "shot_events", Key: []string{f.Entity, f.Event}})
	r.Register(Policy{Table: "match_events", Key: []string{f.Entity, f.Event}, Granularity: PerGroup})
	r.Register(Policy{Table: "events", Key: []string{f.Entity, f.Category, f.Minute, f.Participant}})
	r.Register(Policy{Table: "match_info", Key: []string{f.Entity}})
	return r
}

// Register adds or replaces the policy of p.Table
func (r *Registry) Register(p Policy) {
	key := make([]string, len(p.Key))
	copy(key, p.Key)
	p.Key = key
	r.policies[p.Table] = p
}

func (r *Registry) EntityField() string {
	return r.entityField
}

// Lookup returns the policy of table.
func (r *Registry) Lookup(table string) Policy {
	if p, ok := r.policies[table]; ok {
		return p
	}
	return Policy{Table: table, Key: []string{r.entityField}}
}

// Tables lists the registered table types in name order
func (r *Registry) Tables() []string {
	out := make([]string, 0, len(r.policies))
	for t := range r.policies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// KeyFor returns the identity key to apply to a batch with schema. When the
// schema lacks some key fields the key narrows to the fields it does carry,
// in policy order. Only when it carries none of them does the key fall back
// to the entity field, and to no key at all when even that is missing.
// degraded reports any narrowing.
func (r *Registry) KeyFor(p Policy, schema *dataset.Schema) (key []string, degraded bool) {
	present := make([]string, 0, len(p.Key))
	for _, f := range p.Key {
		if schema.Has(f) {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		return present, len(present) < len(p.Key)
	}
	if schema.Has(r.entityField) {
		return []string{r.entityField}, true
	}
	return nil, true
}
