package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule. Non-positive
// intervals fall back to one minute.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// SettingsInterval re-reads the interval on every computation, so a poll
// interval changed at runtime takes effect from the next tick.
type SettingsInterval struct {
	Interval func() time.Duration
	Fallback time.Duration
}

// Next implements Schedule.
func (s *SettingsInterval) Next(t time.Time) time.Time {
	d := s.Fallback
	if s.Interval != nil {
		if v := s.Interval(); v > 0 {
			d = v
		}
	}
	if d <= 0 {
		d = time.Minute
	}
	return t.Add(d)
}

// String implements Schedule.
func (s *SettingsInterval) String() string {
	return fmt.Sprintf("@settings (fallback %s)", s.Fallback)
}
