// utils/dates.go
package utils

import "time"

func BeginningOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return BeginningOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// NormalizeTimestamp is applied to every timestamp used as an occurrence key
// so that values compare equal after a database round trip.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
