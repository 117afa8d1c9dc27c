package models

import (
	"testing"
	"time"
)

func temp(v int) *int { return &v }

func TestBucketForBoundaries(t *testing.T) {
	cases := []struct {
		roomTemp *int
		want     Bucket
	}{
		{nil, BucketUnheated},
		{temp(72), BucketWarm},
		{temp(89), BucketWarm},
		{temp(90), BucketHot90},
		{temp(99), BucketHot90},
		{temp(100), BucketHot100},
		{temp(104), BucketHot100},
		{temp(105), BucketHot105},
		{temp(118), BucketHot105},
	}
	for _, tc := range cases {
		if got := BucketFor(tc.roomTemp); got != tc.want {
			if tc.roomTemp == nil {
				t.Errorf("BucketFor(nil) = %s, want %s", got, tc.want)
			} else {
				t.Errorf("BucketFor(%d) = %s, want %s", *tc.roomTemp, got, tc.want)
			}
		}
	}
}

func TestParseSourceOutOfRange(t *testing.T) {
	if got := ParseSource(2); got != SourceVendor {
		t.Errorf("ParseSource(2) = %s, want vendor", got)
	}
	for _, rank := range []int{-1, 5, 99} {
		if got := ParseSource(rank); got != SourceUnknown {
			t.Errorf("ParseSource(%d) = %s, want unknown", rank, got)
		}
	}
}

func TestDurationOverrideWins(t *testing.T) {
	start := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	override := 3600

	s := Session{StartTime: start, EndTime: &end}
	if got := s.Duration(); got != 45*time.Minute {
		t.Errorf("computed duration = %v, want 45m", got)
	}

	s.DurationOverride = &override
	if got := s.Duration(); got != time.Hour {
		t.Errorf("override duration = %v, want 1h", got)
	}

	bare := Session{StartTime: start}
	if got := bare.Duration(); got != 0 {
		t.Errorf("open-ended duration = %v, want 0", got)
	}
}
