package utils

import (
	"testing"
	"time"
)

func TestFormatTimeFixedWidth(t *testing.T) {
	a := FormatTime(time.Date(2026, 3, 1, 10, 0, 0, 500000000, time.UTC))
	b := FormatTime(time.Date(2026, 3, 1, 10, 0, 0, 500010000, time.UTC))
	if len(a) != len(b) {
		t.Fatalf("timestamps differ in width: %q vs %q", a, b)
	}
	if !(a < b) {
		t.Errorf("lexicographic order broken: %q should sort before %q", a, b)
	}
}

func TestParseTimeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	got := ParseTime(FormatTime(now))
	if !got.Equal(now) {
		t.Errorf("round trip = %v, want %v", got, now)
	}
}

func TestParseTimeBad(t *testing.T) {
	if !ParseTime("garbage").IsZero() {
		t.Error("ParseTime(garbage) should be zero time")
	}
}
