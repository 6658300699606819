// Package manifest tracks which categories of data each entity already has,
// so a run can decide what to skip before opening any bulk file.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/pannadata/consolidator/dataset"
	"github.com/pannadata/consolidator/storage"
)

// Column names of the manifest file.
const (
	ColumnEntity      = "entity_id"
	ColumnGroup       = "group"
	ColumnSubGroup    = "sub_group"
	ColumnUnavailable = "unavailable"
	ColumnEntityDate  = "entity_date"
	ColumnUpdatedAt   = "updated_at"
	flagPrefix        = "has_"
	manifestTable     = "manifest"
)

// Key identifies one manifest entry.
type Key struct {
	EntityID string
	Group    string
	SubGroup string
}

// Entry holds the completeness flags of one entity.
type Entry struct {
	EntityID string
	Group    string
	SubGroup string
	// Flags maps a category (table type) to whether data for it exists.
	Flags map[string]bool
	// Unavailable means the primary category was confirmed absent upstream
	// on an entity old enough for that to be final.
	Unavailable bool
	// EntityDate is when the entity took place, zero when unknown.
	EntityDate time.Time
	UpdatedAt  time.Time
}

func (e Entry) Key() Key {
	return Key{EntityID: e.EntityID, Group: e.Group, SubGroup: e.SubGroup}
}

// Has reports whether the entry carries data for category
func (e Entry) Has(category string) bool {
	return e.Flags[category]
}

// Set is a set of entity ids.
type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Add(id string) {
	s[id] = struct{}{}
}

// SkipOptions relax the skip set.
type SkipOptions struct {
	// Force ignores the manifest entirely.
	Force bool
	// RetryUnavailable re-fetches entities marked unavailable.
	RetryUnavailable bool
}

// Manifest is the in-memory form of the manifest file.
type Manifest struct {
	primary string
	entries map[Key]Entry
}

// New creates an empty manifest gated on the primary category
func New(primary string) *Manifest {
	return &Manifest{primary: primary, entries: make(map[Key]Entry)}
}

// Load reads the manifest at path. A missing file yields an empty manifest;
// an unreadable one is logged and also yields an empty manifest, which
// costs a full re-fetch but never data.
func Load(path, primary string) *Manifest {
	m := New(primary)
	batch, err := storage.ReadBatchFile(path, dataset.Coordinate{Table: manifestTable})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("action: manifest_load | result: skipped | path: %s | msg: no manifest found", path)
			return m
		}
		log.Printf("action: manifest_load | result: fail | path: %s | error: %v | msg: treating as empty", path, err)
		return m
	}

	entries, err := decodeEntries(batch)
	if err != nil {
		log.Printf("action: manifest_load | result: fail | path: %s | error: %v | msg: treating as empty", path, err)
		return m
	}
	for _, e := range entries {
		m.entries[e.Key()] = e
	}

	log.Printf("action: manifest_load | result: success | path: %s | entries: %d | complete: %d | unavailable: %d",
		path, len(m.entries), m.count(func(e Entry) bool { return e.Has(primary) }),
		m.count(func(e Entry) bool { return e.Unavailable }))
	return m
}

func (m *Manifest) Primary() string {
	return m.primary
}

func (m *Manifest) Len() int {
	return len(m.entries)
}

// Get returns the entry stored under k
func (m *Manifest) Get(k Key) (Entry, bool) {
	e, ok := m.entries[k]
	return e, ok
}

// Entries returns every entry ordered by group, sub-group and entity id.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.SubGroup != b.SubGroup {
			return a.SubGroup < b.SubGroup
		}
		return a.EntityID < b.EntityID
	})
	return out
}

// Query returns the entities of coord's group and sub-group that already
// have the primary category.
func (m *Manifest) Query(coord dataset.Coordinate) Set {
	return m.QueryCategory(coord, m.primary)
}

// QueryCategory returns the entities of coord's group and sub-group that
// have category.
func (m *Manifest) QueryCategory(coord dataset.Coordinate, category string) Set {
	return m.filter(coord, func(e Entry) bool { return e.Has(category) })
}

// Unavailable returns the entities of coord's group and sub-group whose
// primary category was confirmed absent.
func (m *Manifest) Unavailable(coord dataset.Coordinate) Set {
	return m.filter(coord, func(e Entry) bool { return e.Unavailable && !e.Has(m.primary) })
}

// SkipSet returns the entities a run must not fetch for coord.
func (m *Manifest) SkipSet(coord dataset.Coordinate, opts SkipOptions) Set {
	if opts.Force {
		return Set{}
	}
	skip := m.Query(coord)
	if !opts.RetryUnavailable {
		for id := range m.Unavailable(coord) {
			skip.Add(id)
		}
	}
	return skip
}

// Upsert merges entries by key; the last write for a key wins.
func (m *Manifest) Upsert(entries ...Entry) {
	for _, e := range entries {
		m.entries[e.Key()] = e
	}
}

// Save atomically writes the manifest to path.
func (m *Manifest) Save(path string) error {
	if err := storage.WriteBatchFile(path, m.encode()); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	log.Printf("action: manifest_save | result: success | path: %s | entries: %d", path, len(m.entries))
	return nil
}

func (m *Manifest) filter(coord dataset.Coordinate, keep func(Entry) bool) Set {
	out := Set{}
	for k, e := range m.entries {
		if k.Group != coord.Group {
			continue
		}
		if coord.SubGroup != "" && k.SubGroup != coord.SubGroup {
			continue
		}
		if keep(e) {
			out.Add(k.EntityID)
		}
	}
	return out
}

func (m *Manifest) count(keep func(Entry) bool) int {
	n := 0
	for _, e := range m.entries {
		if keep(e) {
			n++
		}
	}
	return n
}

func (m *Manifest) categories() []string {
	seen := map[string]bool{m.primary: true}
	out := []string{m.primary}
	for _, e := range m.entries {
		for c := range e.Flags {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out[1:])
	return out
}

func (m *Manifest) encode() *dataset.Batch {
	b := dataset.NewBatchWithSchema(dataset.Coordinate{Table: manifestTable}, dataset.NewSchema(
		dataset.Field{Name: ColumnEntity, Kind: dataset.KindString},
		dataset.Field{Name: ColumnGroup, Kind: dataset.KindString},
		dataset.Field{Name: ColumnSubGroup, Kind: dataset.KindString},
	))
	categories := m.categories()
	for _, c := range categories {
		b.Schema().Add(flagPrefix+c, dataset.KindBool)
	}
	b.Schema().Add(ColumnUnavailable, dataset.KindBool)
	b.Schema().Add(ColumnEntityDate, dataset.KindString)
	b.Schema().Add(ColumnUpdatedAt, dataset.KindString)

	for _, e := range m.Entries() {
		row := map[string]any{
			ColumnEntity:      e.EntityID,
			ColumnGroup:       e.Group,
			ColumnSubGroup:    e.SubGroup,
			ColumnUnavailable: e.Unavailable,
			ColumnEntityDate:  formatTime(e.EntityDate),
			ColumnUpdatedAt:   formatTime(e.UpdatedAt),
		}
		for _, c := range categories {
			row[flagPrefix+c] = e.Flags[c]
		}
		b.Append(row)
	}
	return b
}

func decodeEntries(b *dataset.Batch) ([]Entry, error) {
	for _, required := range []string{ColumnEntity, ColumnGroup, ColumnSubGroup} {
		if !b.Schema().Has(required) {
			return nil, fmt.Errorf("manifest is missing column %q", required)
		}
	}

	var flagColumns []string
	for _, name := range b.Schema().Names() {
		if strings.HasPrefix(name, flagPrefix) {
			flagColumns = append(flagColumns, name)
		}
	}

	out := make([]Entry, 0, b.Len())
	for i := 0; i < b.Len(); i++ {
		id, _ := b.Value(i, ColumnEntity).(string)
		if id == "" {
			continue
		}
		group, _ := b.Value(i, ColumnGroup).(string)
		subGroup, _ := b.Value(i, ColumnSubGroup).(string)
		e := Entry{
			EntityID: id,
			Group:    group,
			SubGroup: subGroup,
			Flags:    make(map[string]bool, len(flagColumns)),
		}
		for _, col := range flagColumns {
			v, _ := b.Value(i, col).(bool)
			e.Flags[strings.TrimPrefix(col, flagPrefix)] = v
		}
		e.Unavailable, _ = b.Value(i, ColumnUnavailable).(bool)
		e.EntityDate = parseTime(b.Value(i, ColumnEntityDate))
		e.UpdatedAt = parseTime(b.Value(i, ColumnUpdatedAt))
		out = append(out, e)
	}
	return out, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
