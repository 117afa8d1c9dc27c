package timeparse

import (
	"testing"
	"time"
)

var ref = time.Date(2025, 6, 15, 20, 30, 0, 0, time.Local) // Sunday evening

func TestParseFrom(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2025-06-01T18:00:00Z", time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)},
		{"2025-06-01 18:00", time.Date(2025, 6, 1, 18, 0, 0, 0, time.Local)},
		{"2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)},
		{"18:00", time.Date(2025, 6, 15, 18, 0, 0, 0, time.Local)},
		{"now", ref},
		{"today", time.Date(2025, 6, 15, 0, 0, 0, 0, time.Local)},
		{"today 07:30", time.Date(2025, 6, 15, 7, 30, 0, 0, time.Local)},
		{"yesterday", time.Date(2025, 6, 14, 0, 0, 0, 0, time.Local)},
		{"yesterday 18:00", time.Date(2025, 6, 14, 18, 0, 0, 0, time.Local)},
		{"Yesterday 18:00", time.Date(2025, 6, 14, 18, 0, 0, 0, time.Local)},
		{"-90m", ref.Add(-90 * time.Minute)},
		{"-2h", ref.Add(-2 * time.Hour)},
		{"-1d", ref.AddDate(0, 0, -1)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFrom(tt.input, ref)
			if err != nil {
				t.Fatalf("ParseFrom(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseFrom(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFromErrors(t *testing.T) {
	for _, input := range []string{"", "whenever", "-5x", "now 18:00", "today 25:99", "+2h"} {
		if _, err := ParseFrom(input, ref); err == nil {
			t.Errorf("ParseFrom(%q) should fail", input)
		}
	}
}
