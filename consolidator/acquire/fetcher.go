// Package acquire defines the acquisition collaborator and turns its
// output into append-only partition files and manifest entries.
package acquire

import (
	"context"
	"errors"
	"time"

	"github.com/pannadata/consolidator/dataset"
)

var (
	// ErrUnavailable means the category does not exist upstream for the
	// entity.
	ErrUnavailable = errors.New("category unavailable upstream")
	// ErrTransient means the fetch failed and may succeed on a later run.
	ErrTransient = errors.New("transient acquisition failure")
)

// Entity is one addressable unit of a group and sub-group.
type Entity struct {
	ID string
	// Date is when the entity took place, zero when unknown.
	Date time.Time
}

// Fetcher is the acquisition collaborator. FetchCategory returns a batch,
// or an error wrapping ErrUnavailable or ErrTransient. Any other error is
// treated as transient.
type Fetcher interface {
	ListEntities(ctx context.Context, group, subGroup string) ([]Entity, error)
	FetchCategory(ctx context.Context, group, subGroup, entityID, category string) (*dataset.Batch, error)
}

// Outcome classifies one fetch.
type Outcome int

const (
	OutcomePresent Outcome = iota
	OutcomeEmpty
	OutcomeUnavailable
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresent:
		return "present"
	case OutcomeEmpty:
		return "empty"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "transient"
	}
}

// Classify maps a fetch result to its outcome.
func Classify(b *dataset.Batch, err error) Outcome {
	switch {
	case err == nil && b.Len() > 0:
		return OutcomePresent
	case err == nil:
		return OutcomeEmpty
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeTransient
	}
}
