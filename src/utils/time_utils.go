package utils

import (
	"time"
)

// ResetTime resets the time component based on the granularity specified.
// Pass "second" to drop sub-second precision.
// Pass "minute" to reset seconds to zero.
// Pass "hour" to reset minutes and seconds to zero.
func ResetTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "second":
		return t.Truncate(time.Second)
	case "minute":
		return t.Truncate(time.Minute)
	case "hour":
		return t.Truncate(time.Hour)
	default:
		return t
	}
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// SplitWindows cuts [start, end) into consecutive windows no longer than size.
// An empty or inverted range yields nil.
func SplitWindows(start, end time.Time, size time.Duration) []Window {
	if !start.Before(end) || size <= 0 {
		return nil
	}
	var out []Window
	for cur := start; cur.Before(end); {
		next := cur.Add(size)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cur, End: next})
		cur = next
	}
	return out
}

// UnionStrings merges lists keeping first-seen order and dropping blanks.
func UnionStrings(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
