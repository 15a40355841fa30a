// Package timeutil provides calendar-day helpers used by the deadline checks.
// Every function takes the location explicitly; nothing here reads the system clock.
package timeutil

import (
	"time"
)

// DateLayout is the date format used in configuration and logs.
const DateLayout = "2006-01-02"

// DaysBetween returns the signed number of calendar days from `from` to `to`
// as seen in loc. Positive when `to` is later.
//
// Both dates are projected onto UTC midnights before subtracting so that
// DST shifts in loc never turn a 23h or 25h day into a rounding error.
func DaysBetween(from, to time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	f := from.In(loc)
	t := to.In(loc)
	fu := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	tu := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(tu.Sub(fu).Hours() / 24)
}

// FormatDate formats t as YYYY-MM-DD in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD string as midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, value, loc)
}
