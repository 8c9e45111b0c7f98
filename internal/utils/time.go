package utils

import "time"

// Timestamps are stored as fixed-width UTC strings so that lexicographic
// comparison in SQL matches chronological order (the monotonic last-message
// guard relies on this).
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) time.Time {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Fall back for rows written by other tooling.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
