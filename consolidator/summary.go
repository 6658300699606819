package consolidator

import (
	"time"

	"github.com/pannadata/consolidator/consolidator/acquire"
)

// Summary aggregates the outcome of a run.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Acquisitions      []acquire.Report `json:"acquisitions,omitempty"`
	AcquisitionErrors int              `json:"acquisition_errors"`
	ManifestEntries   int              `json:"manifest_entries"`

	Units             []UnitResult `json:"units"`
	Written           int          `json:"written"`
	Skipped           int          `json:"skipped"`
	Rejected          int          `json:"rejected"`
	Cancelled         int          `json:"cancelled"`
	RowsAdded         int          `json:"rows_added"`
	DuplicatesRemoved int          `json:"duplicates_removed"`
	ReadFailures      int          `json:"read_failures"`
}

// Failed reports whether any unit was rejected.
func (s Summary) Failed() bool {
	return s.Rejected > 0
}

func (s *Summary) add(r UnitResult) {
	s.Units = append(s.Units, r)
	switch r.State {
	case StateWritten:
		s.Written++
	case StateSkipped:
		s.Skipped++
	case StateRejected:
		s.Rejected++
	}
	s.RowsAdded += r.RowsAdded
	s.DuplicatesRemoved += r.DuplicatesRemoved
	s.ReadFailures += r.ReadFailures
}
