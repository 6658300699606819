package common

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers processes units one at a time, bounding peak memory to a
// single unit.
const DefaultWorkers = 1

// ProcessAndMerge runs processFunc over items with at most numWorkers in
// flight and hands every result to mergeFunc in item order once all items
// are done. Items are not started after ctx is cancelled; their results are
// left as the zero value and reported as skipped.
func ProcessAndMerge[I any, T any](
	ctx context.Context,
	items []I,
	numWorkers int,
	processFunc func(context.Context, I) T,
	mergeFunc func(results []T, started []bool),
) error {
	if len(items) == 0 {
		return ctx.Err()
	}
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}

	results := make([]T, len(items))
	started := make([]bool, len(items))

	g := new(errgroup.Group)
	g.SetLimit(numWorkers)
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		i, item := i, item
		started[i] = true
		g.Go(func() error {
			results[i] = processFunc(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	mergeFunc(results, started)
	return ctx.Err()
}
