package acquire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pannadata/consolidator/dataset"
)

const metaSuffix = ".meta.json"

// RawCache replays fetches from a directory of cached responses:
//
//	<root>/<group>/<sub_group>/<entity>.meta.json        {"date": "<RFC3339>"}
//	<root>/<group>/<sub_group>/<entity>_<category>.json  [{...}, ...]
//
// A missing category file is reported as unavailable, an undecodable one as
// transient.
type RawCache struct {
	root       string
	categories []string
}

// NewRawCache creates a fetcher over root for the given categories
func NewRawCache(root string, categories []string) *RawCache {
	return &RawCache{root: root, categories: categories}
}

type entityMeta struct {
	Date string `json:"date"`
}

// ListEntities returns the entities of group/subGroup sorted by date, then id.
func (c *RawCache) ListEntities(ctx context.Context, group, subGroup string) ([]Entity, error) {
	dir := filepath.Join(c.root, group, subGroup)
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list raw cache %s: %w", dir, err)
	}

	entities := make(map[string]Entity)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := f.Name()
		if f.IsDir() {
			continue
		}
		if id, ok := strings.CutSuffix(name, metaSuffix); ok {
			e := Entity{ID: id}
			if raw, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
				var meta entityMeta
				if json.Unmarshal(raw, &meta) == nil && meta.Date != "" {
					if t, err := time.Parse(time.RFC3339, meta.Date); err == nil {
						e.Date = t
					}
				}
			}
			entities[id] = e
			continue
		}
		if id := c.entityOf(name); id != "" {
			if _, seen := entities[id]; !seen {
				entities[id] = Entity{ID: id}
			}
		}
	}

	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// entityOf returns the entity id of a category file name. The longest
// matching category wins, so "m1_match_events.json" belongs to m1 even when
// "events" is also a category.
func (c *RawCache) entityOf(name string) string {
	best, bestLen := "", 0
	for _, category := range c.categories {
		id, ok := strings.CutSuffix(name, "_"+category+".json")
		if ok && id != "" && len(category) > bestLen {
			best, bestLen = id, len(category)
		}
	}
	return best
}

// FetchCategory decodes the cached response of entityID for category.
func (c *RawCache) FetchCategory(ctx context.Context, group, subGroup, entityID, category string) (*dataset.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	path := filepath.Join(c.root, group, subGroup, entityID+"_"+category+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransient, path, err)
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrTransient, path, err)
	}

	b := dataset.NewBatch(dataset.Coordinate{Table: category, Group: group, SubGroup: subGroup})
	for _, row := range rows {
		b.Append(row)
	}
	return b, nil
}

func decodeRows(raw []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = flattenJSON(v)
		}
	}
	return rows, nil
}

// flattenJSON maps decoded JSON onto batch scalars. Numbers become int64
// when integral; nested objects and arrays are kept as their JSON text.
func flattenJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any, []any:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	default:
		return x
	}
}
