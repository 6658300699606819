package policy

import (
	"testing"

	"github.com/pannadata/consolidator/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryKeys(t *testing.T) {
	r := DefaultRegistry(DefaultFields)

	tests := []struct {
		table string
		key   []string
	}{
		{"player_stats", []string{"match_id", "player_id"}},
		{"shot_events", []string{"match_id", "event_id"}},
		{"match_events", []string{"match_id", "event_id"}},
		{"events", []string{"match_id", "event_type", "minute", "player_id"}},
		{"match_info", []string{"match_id"}},
		{"unknown_table", []string{"match_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			assert.Equal(t, tt.key, r.Lookup(tt.table).Key)
		})
	}
	assert.Equal(t, PerGroup, r.Lookup("match_events").Granularity)
	assert.Equal(t, PerSubGroup, r.Lookup("player_stats").Granularity)
}

func TestRegisterOverridesPolicy(t *testing.T) {
	r := DefaultRegistry(DefaultFields)
	r.Register(Policy{Table: "lineups", Key: []string{"match_id", "team_id", "player_id"}, TieBreak: KeepFirst})

	p := r.Lookup("lineups")
	assert.Equal(t, []string{"match_id", "team_id", "player_id"}, p.Key)
	assert.Equal(t, KeepFirst, p.TieBreak)
	assert.Contains(t, r.Tables(), "lineups")
}

func TestKeyForDegradesToEntity(t *testing.T) {
	r := DefaultRegistry(DefaultFields)
	p := r.Lookup("events")

	full := dataset.NewSchema(
		dataset.Field{Name: "match_id", Kind: dataset.KindString},
		dataset.Field{Name: "event_type", Kind: dataset.KindString},
		dataset.Field{Name: "minute", Kind: dataset.KindInt},
		dataset.Field{Name: "player_id", Kind: dataset.KindString},
	)
	key, degraded := r.KeyFor(p, full)
	assert.Equal(t, p.Key, key)
	assert.False(t, degraded)

	partial := dataset.NewSchema(dataset.Field{Name: "match_id", Kind: dataset.KindString})
	key, degraded = r.KeyFor(p, partial)
	assert.Equal(t, []string{"match_id"}, key)
	assert.True(t, degraded)

	noParticipant := dataset.NewSchema(
		dataset.Field{Name: "match_id", Kind: dataset.KindString},
		dataset.Field{Name: "event_type", Kind: dataset.KindString},
		dataset.Field{Name: "minute", Kind: dataset.KindInt},
	)
	key, degraded = r.KeyFor(p, noParticipant)
	assert.Equal(t, []string{"match_id", "event_type", "minute"}, key, "missing fields narrow the key")
	assert.True(t, degraded)

	entityOnly := NewRegistry("match_id")
	key, degraded = entityOnly.KeyFor(Policy{Table: "t", Key: []string{"event_id"}}, partial)
	assert.Equal(t, []string{"match_id"}, key, "no key field falls back to the entity")
	assert.True(t, degraded)

	none := dataset.NewSchema(dataset.Field{Name: "x", Kind: dataset.KindString})
	key, degraded = r.KeyFor(p, none)
	assert.Empty(t, key)
	assert.True(t, degraded)
}

func TestDedupKeepsLastOccurrence(t *testing.T) {
	b := dataset.NewBatch(dataset.Coordinate{Table: "player_stats"})
	b.Append(map[string]any{"match_id": "m1", "player_id": "p1", "goals": 0})
	b.Append(map[string]any{"match_id": "m1", "player_id": "p2", "goals": 1})
	b.Append(map[string]any{"match_id": "m1", "player_id": "p1", "goals": 2})

	out, removed := Dedup(b, []string{"match_id", "player_id"}, KeepLast)

	require.Equal(t, 2, out.Len())
	assert.Equal(t, 1, removed)
	assert.Equal(t, []any{"p2", "p1"}, out.Column("player_id"))
	assert.Equal(t, []any{int64(1), int64(2)}, out.Column("goals"))
}

func TestDedupKeepFirst(t *testing.T) {
	b := dataset.NewBatch(dataset.Coordinate{Table: "player_stats"})
	b.Append(map[string]any{"match_id": "m1", "goals": 0})
	b.Append(map[string]any{"match_id": "m1", "goals": 2})

	out, removed := Dedup(b, []string{"match_id"}, KeepFirst)

	assert.Equal(t, 1, removed)
	assert.Equal(t, []any{int64(0)}, out.Column("goals"))
}

func TestDedupTreatsNullAsValue(t *testing.T) {
	b := dataset.NewBatch(dataset.Coordinate{Table: "events"})
	b.Append(map[string]any{"match_id": "m1", "player_id": nil})
	b.Append(map[string]any{"match_id": "m1", "player_id": ""})
	b.Append(map[string]any{"match_id": "m1", "player_id": nil})

	out, removed := Dedup(b, []string{"match_id", "player_id"}, KeepLast)
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, 1, removed)
}

func TestDedupWithoutKeyKeepsEverything(t *testing.T) {
	b := dataset.NewBatch(dataset.Coordinate{Table: "x"})
	b.Append(map[string]any{"a": 1})
	b.Append(map[string]any{"a": 1})

	out, removed := Dedup(b, nil, KeepLast)
	assert.Equal(t, 2, out.Len())
	assert.Zero(t, removed)
}

func TestParseGranularityAndTieBreak(t *testing.T) {
	g, err := ParseGranularity("group")
	require.NoError(t, err)
	assert.Equal(t, PerGroup, g)
	_, err = ParseGranularity("league")
	assert.Error(t, err)

	tb, err := ParseTieBreak("FIRST")
	require.NoError(t, err)
	assert.Equal(t, KeepFirst, tb)
	_, err = ParseTieBreak("newest")
	assert.Error(t, err)
}
