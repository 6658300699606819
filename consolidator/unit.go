package consolidator

import (
	"time"

	"github.com/pannadata/consolidator/consolidator/policy"
	"github.com/pannadata/consolidator/dataset"
)

// State is the lifecycle position of a consolidation unit:
//
//	PENDING -> READING -> MERGING -> {WRITTEN | SKIPPED | REJECTED}
//
// A unit may also go straight from PENDING or READING to SKIPPED.
type State int

const (
	StatePending State = iota
	StateReading
	StateMerging
	StateWritten
	StateSkipped
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReading:
		return "READING"
	case StateMerging:
		return "MERGING"
	case StateWritten:
		return "WRITTEN"
	case StateSkipped:
		return "SKIPPED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateWritten || s == StateSkipped || s == StateRejected
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Skip and rejection reasons
const (
	ReasonUpToDate       = "up_to_date"
	ReasonNothingToMerge = "nothing_to_merge"
	ReasonCancelled      = "cancelled"
	ReasonDataLoss       = "data_loss"
	ReasonUnreadable     = "existing_unreadable"
	ReasonWriteFailed    = "write_failed"
	ReasonReadFailed     = "read_failed"
)

// Unit is one (table, coordinate) consolidated in isolation. Tables
// consolidated per group carry a coordinate without sub-group.
type Unit struct {
	Coordinate dataset.Coordinate
	Policy     policy.Policy
}

// UnitResult is the final report of one unit.
type UnitResult struct {
	Table      string `json:"table"`
	Coordinate string `json:"coordinate"`
	State      State  `json:"state"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`

	Files             int      `json:"files"`
	ReadFailures      int      `json:"read_failures"`
	Key               []string `json:"key,omitempty"`
	DegradedKey       bool     `json:"degraded_key,omitempty"`
	ExistingRows      int      `json:"existing_rows"`
	PartitionRows     int      `json:"partition_rows"`
	Rows              int      `json:"rows"`
	RowsAdded         int      `json:"rows_added"`
	DuplicatesRemoved int      `json:"duplicates_removed"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// transition moves the result to next, logging at debug level.
func (r *UnitResult) transition(next State, debug bool) {
	if debug && !next.Terminal() {
		logUnit(r, "unit_transition", next.String())
	}
	r.State = next
}
