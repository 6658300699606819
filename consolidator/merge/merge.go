// Package merge combines a consolidated batch with newly read partitions
// under the identity policy of its table type.
package merge

import (
	"errors"
	"fmt"
	"log"

	"github.com/pannadata/consolidator/consolidator/policy"
	"github.com/pannadata/consolidator/dataset"
	"github.com/pannadata/consolidator/storage"
)

// DefaultMinRetainRatio is the share of existing records a merge must keep.
const DefaultMinRetainRatio = 0.5

var (
	// ErrDataLoss is returned when the merged result is smaller than the
	// retain ratio of the existing consolidated batch.
	ErrDataLoss = errors.New("merge would drop consolidated records")
	// ErrExistingUnreadable is returned when a consolidated batch exists but
	// cannot be decoded. Overwriting it would lose its records.
	ErrExistingUnreadable = errors.New("existing consolidated batch is unreadable")
	// ErrNothingToMerge is returned when there is neither an existing batch
	// nor any partition.
	ErrNothingToMerge = errors.New("nothing to merge")
)

// Store is the durable home of consolidated batches.
type Store interface {
	Load(coord dataset.Coordinate) (*dataset.Batch, error)
	Replace(coord dataset.Coordinate, b *dataset.Batch) error
}

// Result describes one merge.
type Result struct {
	Batch *dataset.Batch
	Key   []string
	// DegradedKey is set when the batch lacked a policy key field and a
	// coarser key was applied.
	DegradedKey bool

	ExistingRows      int
	PartitionRows     int
	Rows              int
	DuplicatesRemoved int
}

// Added is the net number of records the merge adds to the existing batch.
func (r Result) Added() int {
	return r.Rows - r.ExistingRows
}

// Engine merges batches and guards consolidated state against shrinking.
type Engine struct {
	registry       *policy.Registry
	minRetainRatio float64
}

// NewEngine creates an engine. A ratio outside (0, 1] falls back to
// DefaultMinRetainRatio.
func NewEngine(registry *policy.Registry, minRetainRatio float64) *Engine {
	if minRetainRatio <= 0 || minRetainRatio > 1 {
		minRetainRatio = DefaultMinRetainRatio
	}
	return &Engine{registry: registry, minRetainRatio: minRetainRatio}
}

// Merge concatenates existing (older) followed by partitions (newer, in read
// order), deduplicates under the table policy and applies the data-loss
// guard. On ErrDataLoss the returned Result still describes the rejected
// merge.
func (e *Engine) Merge(coord dataset.Coordinate, existing *dataset.Batch, partitions []*dataset.Batch) (Result, error) {
	inputs := make([]*dataset.Batch, 0, len(partitions)+1)
	result := Result{ExistingRows: existing.Len()}
	if existing != nil {
		inputs = append(inputs, existing)
	}
	for _, p := range partitions {
		if p == nil {
			continue
		}
		result.PartitionRows += p.Len()
		inputs = append(inputs, p)
	}

	combined := dataset.Concat(coord, inputs...)

	p := e.registry.Lookup(coord.Table)
	key, degraded := e.registry.KeyFor(p, combined.Schema())
	if degraded {
		log.Printf("action: merge_key | result: degraded | coordinate: %s | policy_key: %v | applied_key: %v",
			coord, p.Key, key)
	}

	deduped, removed := policy.Dedup(combined, key, p.TieBreak)
	result.Batch = deduped
	result.Key = key
	result.DegradedKey = degraded
	result.Rows = deduped.Len()
	result.DuplicatesRemoved = removed

	if result.ExistingRows > 0 && float64(result.Rows) < e.minRetainRatio*float64(result.ExistingRows) {
		return result, fmt.Errorf("%w: %s would shrink from %d to %d records (retain ratio %.2f)",
			ErrDataLoss, coord, result.ExistingRows, result.Rows, e.minRetainRatio)
	}
	return result, nil
}

// MergeInto loads the consolidated batch of coord, merges partitions into
// it and atomically replaces it. The stored batch is untouched on any error.
func (e *Engine) MergeInto(store Store, coord dataset.Coordinate, partitions []*dataset.Batch) (Result, error) {
	existing, err := store.Load(coord)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrExistingUnreadable, coord, err)
		}
		existing = nil
	}

	if existing == nil && len(partitions) == 0 {
		return Result{}, ErrNothingToMerge
	}

	result, err := e.Merge(coord, existing, partitions)
	if err != nil {
		return result, err
	}

	if err := store.Replace(coord, result.Batch); err != nil {
		return result, fmt.Errorf("replace consolidated %s: %w", coord, err)
	}
	return result, nil
}
