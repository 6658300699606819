package manifest

import (
	"sync"
	"time"
)

// DefaultFreshness is how long after an entity takes place a missing
// primary category is still expected to appear upstream.
const DefaultFreshness = 7 * 24 * time.Hour

// Freshness decides whether an absence may be recorded as unavailable.
type Freshness struct {
	Threshold time.Duration
	Now       func() time.Time
}

// NewFreshness creates a rule with threshold, DefaultFreshness when zero
func NewFreshness(threshold time.Duration) Freshness {
	if threshold <= 0 {
		threshold = DefaultFreshness
	}
	return Freshness{Threshold: threshold, Now: time.Now}
}

// Eligible reports whether an entity dated entityDate is old enough to be
// marked unavailable. Entities without a date are never eligible.
func (f Freshness) Eligible(entityDate time.Time) bool {
	if entityDate.IsZero() {
		return false
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return now().Sub(entityDate) >= f.Threshold
}

// Accumulator collects the entries produced during a run. It is merged into
// the durable manifest once, after every unit has finished.
type Accumulator struct {
	mu      sync.Mutex
	entries []Entry
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add records entries in arrival order
func (a *Accumulator) Add(entries ...Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entries...)
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Entries returns a copy of the collected entries
func (a *Accumulator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Flush upserts the collected entries into m.
func (a *Accumulator) Flush(m *Manifest) int {
	entries := a.Entries()
	m.Upsert(entries...)
	return len(entries)
}
