// Package streak models a user's daily solving streak as an explicit state
// machine over JST civil dates.
package streak

import (
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// RoleThreshold is the streak length that makes a user eligible for the
// streak role.
const RoleThreshold = 7

// State is the persisted streak of one user.
type State struct {
	Current   int
	LastACDay timeutil.Date // zero when the user never had a qualifying AC
}

// Transition names which rule fired.
type Transition int

const (
	// SameDay: another AC on the day already counted.
	SameDay Transition = iota
	// NextDay: the day after the last counted day.
	NextDay
	// Reset: first AC ever, or a gap of one or more days.
	Reset
)

func (t Transition) String() string {
	switch t {
	case SameDay:
		return "same_day"
	case NextDay:
		return "next_day"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Classify decides which transition applies for an AC on day d.
func Classify(s State, d timeutil.Date) Transition {
	switch {
	case s.LastACDay.IsZero():
		return Reset
	case s.LastACDay == d:
		return SameDay
	case s.LastACDay.AddDays(1) == d:
		return NextDay
	default:
		return Reset
	}
}

// Apply returns the state after an admitted AC on day d.
func Apply(s State, d timeutil.Date) (State, Transition) {
	t := Classify(s, d)
	next := State{LastACDay: d}
	switch t {
	case SameDay:
		next.Current = s.Current
	case NextDay:
		next.Current = s.Current + 1
	default:
		next.Current = 1
	}
	return next, t
}

// CrossedThreshold reports whether moving from prev to next crossed the
// role threshold in either direction.
func CrossedThreshold(prev, next int) bool {
	return (prev >= RoleThreshold) != (next >= RoleThreshold)
}

// Effective is the streak as seen on day today: a streak whose last day is
// neither today nor yesterday has lapsed and reads as zero.
func (s State) Effective(today timeutil.Date) int {
	if s.LastACDay.IsZero() {
		return 0
	}
	if s.LastACDay == today || s.LastACDay.AddDays(1) == today {
		return s.Current
	}
	return 0
}
