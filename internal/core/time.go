package core

import "time"

// TimeFormat is the timestamp layout used in run logs and API payloads.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime formats a time in UTC using TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time formatted with TimeFormat.
func NowFormatted() string {
	return FormatTime(time.Now())
}
