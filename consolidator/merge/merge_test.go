package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pannadata/consolidator/consolidator/policy"
	"github.com/pannadata/consolidator/dataset"
	"github.com/pannadata/consolidator/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var statsCoord = dataset.Coordinate{Table: "player_stats", Group: "EPL", SubGroup: "2024-2025"}

func statsBatch(from, to int, goals int64) *dataset.Batch {
	b := dataset.NewBatch(statsCoord)
	for i := from; i < to; i++ {
		b.Append(map[string]any{
			"match_id":  fmt.Sprintf("m%d", i/10),
			"player_id": fmt.Sprintf("p%d", i%10),
			"goals":     goals,
		})
	}
	return b
}

func newEngine() *Engine {
	return NewEngine(policy.DefaultRegistry(policy.DefaultFields), DefaultMinRetainRatio)
}

func TestMergeAddsNewAndUpdatesExisting(t *testing.T) {
	existing := statsBatch(0, 100, 0)
	partition := statsBatch(100, 105, 1)
	// three pairs already consolidated, with updated values
	partition.Append(map[string]any{"match_id": "m0", "player_id": "p0", "goals": int64(7)})
	partition.Append(map[string]any{"match_id": "m3", "player_id": "p4", "goals": int64(7)})
	partition.Append(map[string]any{"match_id": "m9", "player_id": "p9", "goals": int64(7)})

	res, err := newEngine().Merge(statsCoord, existing, []*dataset.Batch{partition})
	require.NoError(t, err)

	assert.Equal(t, 105, res.Rows)
	assert.Equal(t, 5, res.Added())
	assert.Equal(t, 3, res.DuplicatesRemoved)
	assert.Equal(t, 108, res.ExistingRows+res.PartitionRows)

	updated := map[string]bool{"m0/p0": true, "m3/p4": true, "m9/p9": true}
	for i := 0; i < res.Batch.Len(); i++ {
		id := fmt.Sprintf("%s/%s", res.Batch.Value(i, "match_id"), res.Batch.Value(i, "player_id"))
		if updated[id] {
			assert.Equal(t, int64(7), res.Batch.Value(i, "goals"), id)
		}
	}
}

func TestMergeIdentityKeysAreUnique(t *testing.T) {
	existing := statsBatch(0, 40, 0)
	res, err := newEngine().Merge(statsCoord, existing, []*dataset.Batch{statsBatch(20, 60, 1), statsBatch(30, 50, 2)})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < res.Batch.Len(); i++ {
		id := policy.IdentityOf(res.Batch, i, res.Key)
		assert.False(t, seen[id], "duplicate identity %q", id)
		seen[id] = true
	}
	assert.Equal(t, 60, res.Rows)
}

func TestMergeIsIdempotent(t *testing.T) {
	e := newEngine()
	partitions := []*dataset.Batch{statsBatch(0, 30, 1), statsBatch(10, 20, 2)}

	once, err := e.Merge(statsCoord, statsBatch(0, 50, 0), partitions)
	require.NoError(t, err)
	twice, err := e.Merge(statsCoord, once.Batch, partitions)
	require.NoError(t, err)

	assert.Equal(t, once.Batch.Records(), twice.Batch.Records())
	assert.Zero(t, twice.Added())
}

func TestMergeUnionsSchema(t *testing.T) {
	left := dataset.NewBatch(statsCoord)
	left.Append(map[string]any{"match_id": "m1", "player_id": "p1", "a": "x"})
	right := dataset.NewBatch(statsCoord)
	right.Append(map[string]any{"match_id": "m1", "player_id": "p2", "c": int64(3)})

	res, err := newEngine().Merge(statsCoord, left, []*dataset.Batch{right})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"match_id", "player_id", "a", "c"}, res.Batch.Schema().Names())
	assert.Nil(t, res.Batch.Value(0, "c"))
	assert.Nil(t, res.Batch.Value(1, "a"))
}

func TestMergeEmptyPartitionKeepsExisting(t *testing.T) {
	existing := statsBatch(0, 100, 0)
	res, err := newEngine().Merge(statsCoord, existing, []*dataset.Batch{dataset.NewBatch(statsCoord)})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Rows)
	assert.Zero(t, res.Added())
}

func TestMergeDegradesKeyWhenFieldMissing(t *testing.T) {
	b := dataset.NewBatch(statsCoord)
	b.Append(map[string]any{"match_id": "m1", "goals": int64(1)})
	b.Append(map[string]any{"match_id": "m1", "goals": int64(2)})

	res, err := newEngine().Merge(statsCoord, nil, []*dataset.Batch{b})
	require.NoError(t, err)
	assert.True(t, res.DegradedKey)
	assert.Equal(t, []string{"match_id"}, res.Key)
	assert.Equal(t, []any{int64(2)}, res.Batch.Column("goals"))
}

func TestMergeKeepsDistinctEventsWithoutParticipant(t *testing.T) {
	coord := dataset.Coordinate{Table: "events", Group: "EPL", SubGroup: "2024-2025"}
	b := dataset.NewBatch(coord)
	b.Append(map[string]any{"match_id": "m1", "event_type": "goal", "minute": int64(12)})
	b.Append(map[string]any{"match_id": "m1", "event_type": "card", "minute": int64(40)})
	b.Append(map[string]any{"match_id": "m1", "event_type": "goal", "minute": int64(77)})

	res, err := newEngine().Merge(coord, nil, []*dataset.Batch{b})
	require.NoError(t, err)
	assert.True(t, res.DegradedKey)
	assert.Equal(t, []string{"match_id", "event_type", "minute"}, res.Key)
	assert.Equal(t, 3, res.Rows)
	assert.Zero(t, res.DuplicatesRemoved)
}

func coarseEngine() *Engine {
	// A policy that collapses the 100 existing rows (10 matches) to 10.
	r := policy.DefaultRegistry(policy.DefaultFields)
	r.Register(policy.Policy{Table: "player_stats", Key: []string{"match_id"}})
	return NewEngine(r, DefaultMinRetainRatio)
}

func TestMergeRejectsDataLoss(t *testing.T) {
	res, err := coarseEngine().Merge(statsCoord, statsBatch(0, 100, 0), nil)
	require.ErrorIs(t, err, ErrDataLoss)
	assert.Equal(t, 100, res.ExistingRows)
	assert.Equal(t, 10, res.Rows)
}

func TestMergeIntoLeavesStoreUntouchedOnDataLoss(t *testing.T) {
	store, err := storage.NewConsolidatedStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Replace(statsCoord, statsBatch(0, 100, 0)))

	before, err := os.ReadFile(store.Path(statsCoord))
	require.NoError(t, err)

	_, err = coarseEngine().MergeInto(store, statsCoord, []*dataset.Batch{statsBatch(0, 5, 1)})
	require.ErrorIs(t, err, ErrDataLoss)

	after, err := os.ReadFile(store.Path(statsCoord))
	require.NoError(t, err)
	assert.Equal(t, before, after, "consolidated file must be byte-identical")
}

func TestMergeIntoPersists(t *testing.T) {
	store, err := storage.NewConsolidatedStore(t.TempDir())
	require.NoError(t, err)
	e := newEngine()

	res, err := e.MergeInto(store, statsCoord, []*dataset.Batch{statsBatch(0, 20, 0)})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Added())

	res, err = e.MergeInto(store, statsCoord, []*dataset.Batch{statsBatch(10, 30, 1)})
	require.NoError(t, err)
	assert.Equal(t, 20, res.ExistingRows)
	assert.Equal(t, 30, res.Rows)

	got, err := store.Load(statsCoord)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Len())
}

func TestMergeIntoNothingToMerge(t *testing.T) {
	store, err := storage.NewConsolidatedStore(t.TempDir())
	require.NoError(t, err)

	_, err = newEngine().MergeInto(store, statsCoord, nil)
	assert.ErrorIs(t, err, ErrNothingToMerge)
}

func TestMergeIntoRefusesUnreadableExisting(t *testing.T) {
	store, err := storage.NewConsolidatedStore(t.TempDir())
	require.NoError(t, err)
	path := store.Path(statsCoord)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err = newEngine().MergeInto(store, statsCoord, []*dataset.Batch{statsBatch(0, 5, 1)})
	require.ErrorIs(t, err, ErrExistingUnreadable)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(raw))
}

func TestNewEngineClampsRatio(t *testing.T) {
	e := NewEngine(policy.DefaultRegistry(policy.DefaultFields), 0)
	assert.Equal(t, DefaultMinRetainRatio, e.minRetainRatio)
	e = NewEngine(policy.DefaultRegistry(policy.DefaultFields), 0.8)
	assert.Equal(t, 0.8, e.minRetainRatio)
}
