package core

import (
	"testing"
	"time"
)

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 6, 15, 12, 30, 45, 123000000, time.UTC)
	got := FormatTime(ts)
	want := "2024-06-15T12:30:45.123Z"
	if got != want {
		t.Errorf("FormatTime() = %q, want %q", got, want)
	}
}

func TestFormatTime_NonUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 6, 15, 12, 0, 0, 0, loc)
	got := FormatTime(ts)
	// Should be converted to UTC: 17:00
	want := "2024-06-15T17:00:00.000Z"
	if got != want {
		t.Errorf("FormatTime(non-UTC) = %q, want %q", got, want)
	}
}

func TestNowFormatted(t *testing.T) {
	result := NowFormatted()
	if result == "" {
		t.Fatal("NowFormatted() returned empty string")
	}
	_, err := time.Parse(TimeFormat, result)
	if err != nil {
		t.Errorf("NowFormatted() = %q, not parseable: %v", result, err)
	}
}
