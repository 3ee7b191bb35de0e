package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CronExpression represents a parsed cron expression.
// Supports standard 5-field format: minute hour day-of-month month day-of-week
// Examples:
//   - "*/5 * * * *"  - every 5 minutes
//   - "0 7 * * 1"    - every Monday at 07:00 (the weekly rollover)
//   - "0 4 * * *"    - every day at 04:00
type CronExpression struct {
	raw      string
	minutes  []int // 0-59
	hours    []int // 0-23
	days     []int // 1-31
	months   []int // 1-12
	weekdays []int // 0-6 (0 = Sunday)

	// ограничены ли поля дня: при обоих действует OR, как в cron(8)
	dayRestricted     bool
	weekdayRestricted bool
}

// ParseCronExpression parses a cron expression string.
// Format: minute hour day-of-month month day-of-week
// Supports: *, */n, n, n-m, n-m/s, n,m,o
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	ce := &CronExpression{
		raw:               expr,
		dayRestricted:     fields[2] != "*",
		weekdayRestricted: fields[4] != "*",
	}
	var err error

	if ce.minutes, err = parseField(fields[0], 0, 59); err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	if ce.hours, err = parseField(fields[1], 0, 23); err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	if ce.days, err = parseField(fields[2], 1, 31); err != nil {
		return nil, fmt.Errorf("invalid day field: %w", err)
	}
	if ce.months, err = parseField(fields[3], 1, 12); err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	// 7 тоже воскресенье
	if ce.weekdays, err = parseField(fields[4], 0, 7); err != nil {
		return nil, fmt.Errorf("invalid weekday field: %w", err)
	}
	for i, d := range ce.weekdays {
		if d == 7 {
			ce.weekdays[i] = 0
		}
	}

	return ce, nil
}

// MustParseCronExpression parses a cron expression or panics.
// Use only for compile-time constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return ce
}

// parseField parses one comma-separated cron field.
func parseField(field string, min, max int) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		values, err := parsePart(strings.TrimSpace(part), min, max)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			seen[v] = true
		}
	}

	result := make([]int, 0, len(seen))
	for v := range seen {
		result = append(result, v)
	}
	sort.Ints(result)
	return result, nil
}

func parsePart(part string, min, max int) ([]int, error) {
	if part == "" {
		return nil, fmt.Errorf("empty value")
	}

	step := 1
	if rangePart, stepPart, ok := strings.Cut(part, "/"); ok {
		s, err := strconv.Atoi(stepPart)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid step value: %s", stepPart)
		}
		step = s
		part = rangePart
	}

	var start, end int
	switch {
	case part == "*":
		start, end = min, max
	case strings.Contains(part, "-"):
		lo, hi, _ := strings.Cut(part, "-")
		var err error
		if start, err = strconv.Atoi(lo); err != nil {
			return nil, fmt.Errorf("invalid range start: %s", lo)
		}
		if end, err = strconv.Atoi(hi); err != nil {
			return nil, fmt.Errorf("invalid range end: %s", hi)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", part)
		}
		start, end = v, v
		if step > 1 {
			end = max
		}
	}

	if start < min || end > max || start > end {
		return nil, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
	}

	var result []int
	for i := start; i <= end; i += step {
		result = append(result, i)
	}
	return result, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next calculates the next time the cron expression matches strictly after
// the given time, in the location of after.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)

	// пять лет покрывают 29 февраля в любой комбинации
	limit := t.AddDate(5, 0, 0)
	for t.Before(limit) {
		if !contains(ce.months, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !ce.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !contains(ce.hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !contains(ce.minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

func (ce *CronExpression) dayMatches(t time.Time) bool {
	dom := contains(ce.days, t.Day())
	dow := contains(ce.weekdays, int(t.Weekday()))
	if ce.dayRestricted && ce.weekdayRestricted {
		return dom || dow
	}
	return dom && dow
}

func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule evaluates a cron expression in a fixed location, so
// "0 7 * * 1" means Monday 07:00 in that zone whatever the host timezone is.
type CronSchedule struct {
	expr *CronExpression
	loc  *time.Location
}

// NewCronSchedule parses expr for the given location.
func NewCronSchedule(expr string, loc *time.Location) (*CronSchedule, error) {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronSchedule{expr: ce, loc: loc}, nil
}

// Next implements Schedule.
func (s *CronSchedule) Next(t time.Time) time.Time {
	return s.expr.Next(t.In(s.loc))
}

// String implements Schedule.
func (s *CronSchedule) String() string {
	return fmt.Sprintf("cron %q (%s)", s.expr.String(), s.loc.String())
}
