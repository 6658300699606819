package filters

import (
	"regexp"
	"strconv"
	"time"
)

var yearPattern = regexp.MustCompile(`20\d\d`)

// seasonStartMonth is when two-year sub-groups (2024-2025) begin.
const seasonStartMonth = time.August

// FutureFilter drops sub-groups that have not started yet, judged from the
// years in their name: "2024-2025" starts in August 2024, "2025 Morocco"
// starts in 2025. Names without a year are kept.
type FutureFilter struct {
	now func() time.Time
}

func NewFutureFilter(now func() time.Time) *FutureFilter {
	if now == nil {
		now = time.Now
	}
	return &FutureFilter{now: now}
}

func (ff *FutureFilter) Name() string {
	return "future_filter"
}

func (ff *FutureFilter) Filter(target Target) bool {
	return !IsFuture(target.SubGroup, ff.now())
}

// IsFuture reports whether subGroup starts after now.
func IsFuture(subGroup string, now time.Time) bool {
	years := yearPattern.FindAllString(subGroup, -1)
	if len(years) == 0 {
		return false
	}

	start, err := strconv.Atoi(years[0])
	if err != nil {
		return false
	}

	if len(years) >= 2 {
		if start > now.Year() {
			return true
		}
		return start == now.Year() && now.Month() < seasonStartMonth
	}
	return start > now.Year()
}
