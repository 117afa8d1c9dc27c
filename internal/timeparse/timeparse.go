// Package timeparse parses the time expressions the CLI accepts for workout
// start and end flags. Workouts are recorded after the fact, so relative
// forms resolve backward from the reference time.
package timeparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse resolves an input string against the current local time.
//
// Supported forms:
//   - RFC3339: "2025-06-01T18:00:00Z"
//   - Local timestamp: "2025-06-01 18:00"
//   - Time of day: "18:00" (today), "7:30am yesterday" is not supported;
//     combine with a keyword instead: "yesterday 18:00"
//   - Keywords: "now", "today", "yesterday" (optionally followed by HH:MM)
//   - Relative offsets back from now: "-90m", "-2h", "-1d"
func Parse(input string) (time.Time, error) {
	return ParseFrom(input, time.Now())
}

// ParseFrom resolves an input string against a fixed reference time, for
// deterministic tests.
func ParseFrom(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("empty time input")
	}

	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}
	input = strings.ToLower(input)
	if t, err := time.ParseInLocation("2006-01-02 15:04", input, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", input, now.Location()); err == nil {
		return t, nil
	}

	// Bare time of day resolves to today.
	if t, err := clockOn(now, input); err == nil {
		return t, nil
	}

	// Keyword, optionally followed by a time of day.
	word, rest, _ := strings.Cut(input, " ")
	var day time.Time
	switch word {
	case "now":
		if rest != "" {
			return time.Time{}, fmt.Errorf("unexpected %q after now", rest)
		}
		return now, nil
	case "today":
		day = now
	case "yesterday":
		day = now.AddDate(0, 0, -1)
	default:
		if d, err := offsetBack(now, input); err == nil {
			return d, nil
		}
		return time.Time{}, fmt.Errorf("unrecognized time %q", input)
	}

	if rest == "" {
		return startOfDay(day), nil
	}
	return clockOn(day, rest)
}

// offsetBack handles "-Nm", "-Nh", "-Nd": that long before the reference.
func offsetBack(now time.Time, input string) (time.Time, error) {
	if !strings.HasPrefix(input, "-") || len(input) < 3 {
		return time.Time{}, fmt.Errorf("not an offset")
	}
	unit := input[len(input)-1]
	n, err := strconv.Atoi(input[1 : len(input)-1])
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("invalid offset %q", input)
	}
	switch unit {
	case 'm':
		return now.Add(-time.Duration(n) * time.Minute), nil
	case 'h':
		return now.Add(-time.Duration(n) * time.Hour), nil
	case 'd':
		return now.AddDate(0, 0, -n), nil
	}
	return time.Time{}, fmt.Errorf("unknown offset unit %q in %q (use m, h, or d)", string(unit), input)
}

// clockOn places an HH:MM time of day onto the given date.
func clockOn(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q", clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
