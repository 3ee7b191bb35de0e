// Package timeutil provides Japan Standard Time helpers for the ranking hub.
// Streaks are counted in JST civil days and weekly buckets start every
// Monday at 07:00 JST, matching the AtCoder contest calendar.
package timeutil

import (
	"fmt"
	"time"
)

// JST is Japan Standard Time (UTC+9, no DST).
var JST = time.FixedZone("Asia/Tokyo", 9*60*60)

// Week bucket boundary.
const (
	WeekStartWeekday = time.Monday
	WeekStartHour    = 7
	Week             = 7 * 24 * time.Hour
)

// Clock abstracts wall-clock time so that jobs and processors can be tested
// with a fixed instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns the real UTC clock.
func SystemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// Now returns the current time in JST.
func Now() time.Time {
	return time.Now().In(JST)
}

// ToJST converts a time to JST.
func ToJST(t time.Time) time.Time {
	return t.In(JST)
}

// WeekStart returns the start of the week bucket containing t: the most
// recent Monday 07:00 JST at or before t. The result is in UTC.
func WeekStart(t time.Time) time.Time {
	j := ToJST(t)
	offset := (int(j.Weekday()) - int(WeekStartWeekday) + 7) % 7
	monday := time.Date(j.Year(), j.Month(), j.Day()-offset, WeekStartHour, 0, 0, 0, JST)
	if j.Before(monday) {
		monday = monday.AddDate(0, 0, -7)
	}
	return monday.UTC()
}

// Date is a civil calendar day in JST. The zero value means "no date".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the JST civil date of t.
func DateOf(t time.Time) Date {
	j := ToJST(t)
	return Date{Year: j.Year(), Month: j.Month(), Day: j.Day()}
}

// NewDate builds a normalized civil date.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 12, 0, 0, 0, JST))
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// AddDays returns d shifted by n civil days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Time returns 00:00 JST of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, JST)
}

// Equal reports whether two dates are the same civil day.
func (d Date) Equal(o Date) bool {
	return d == o
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseDate parses YYYY-MM-DD. An empty string yields the zero date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	t, err := time.ParseInLocation(FormatDate, s, JST)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return NewDate(t.Date()), nil
}

// Common layouts.
const (
	FormatDate            = "2006-01-02"
	FormatDateTime        = "2006-01-02 15:04"
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
)

// FormatJST formats t in JST with the given layout.
func FormatJST(t time.Time, layout string) string {
	return ToJST(t).Format(layout)
}
