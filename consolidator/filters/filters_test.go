package filters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsFuture(t *testing.T) {
	march2025 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sept2025 := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		subGroup string
		now      time.Time
		want     bool
	}{
		{"2024-2025", march2025, false},
		{"2025-2026", march2025, true},
		{"2025-2026", sept2025, false},
		{"2026-2027", sept2025, true},
		{"2025 Morocco", march2025, false},
		{"2029", march2025, true},
		{"2024/2025", march2025, false},
		{"current", march2025, false},
	}
	for _, tt := range tests {
		t.Run(tt.subGroup, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFuture(tt.subGroup, tt.now))
		})
	}
}

func TestApply(t *testing.T) {
	targets := []Target{
		{Group: "EPL", SubGroup: "2024-2025"},
		{Group: "EPL", SubGroup: "2029-2030"},
		{Group: "La_Liga", SubGroup: "2024-2025"},
		{Group: "Serie_A", SubGroup: "2023-2024"},
	}
	now := func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	got := Apply(targets,
		NewSelectionFilter([]string{"EPL", "La_Liga"}, nil),
		NewFutureFilter(now),
	)
	assert.Equal(t, []Target{
		{Group: "EPL", SubGroup: "2024-2025"},
		{Group: "La_Liga", SubGroup: "2024-2025"},
	}, got)

	got = Apply(targets, NewSelectionFilter(nil, []string{"2023-2024"}))
	assert.Equal(t, []Target{{Group: "Serie_A", SubGroup: "2023-2024"}}, got)

	assert.Len(t, Apply(targets, NewSelectionFilter(nil, nil)), 4)
}
