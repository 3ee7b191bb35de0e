// Package health tracks the last outcome of every background component so
// the health endpoint and the health job can report it.
package health

import (
	"sort"
	"sync"
	"time"
)

// Components reported by the engine.
const (
	ComponentPoll        = "poll"
	ComponentProblemSync = "problem_sync"
	ComponentRatingSync  = "rating_sync"
	ComponentRollover    = "rollover"
)

const maxRecentErrors = 20

// Run is the last outcome of one component.
type Run struct {
	Component   string    `json:"component"`
	LastRunAt   time.Time `json:"last_run_at"`
	LastOKAt    time.Time `json:"last_ok_at,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	Consecutive int       `json:"consecutive_failures"`
}

// ErrorEntry is one remembered failure.
type ErrorEntry struct {
	Component string    `json:"component"`
	At        time.Time `json:"at"`
	Message   string    `json:"message"`
}

// Tracker is safe for concurrent use. The zero value is not usable; use New.
type Tracker struct {
	mu        sync.RWMutex
	startedAt time.Time
	runs      map[string]*Run
	errors    []ErrorEntry
}

// New creates a tracker that started at startedAt.
func New(startedAt time.Time) *Tracker {
	return &Tracker{startedAt: startedAt, runs: make(map[string]*Run)}
}

// Record stores the outcome of a component run. A nil tracker ignores it.
func (t *Tracker) Record(component string, at time.Time, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.runs[component]
	if !ok {
		r = &Run{Component: component}
		t.runs[component] = r
	}
	r.LastRunAt = at
	if err == nil {
		r.LastOKAt = at
		r.LastError = ""
		r.Consecutive = 0
		return
	}
	r.LastError = err.Error()
	r.Consecutive++

	t.errors = append(t.errors, ErrorEntry{Component: component, At: at, Message: err.Error()})
	if len(t.errors) > maxRecentErrors {
		t.errors = t.errors[len(t.errors)-maxRecentErrors:]
	}
}

// Snapshot is a point-in-time copy of the tracker.
type Snapshot struct {
	StartedAt    time.Time    `json:"started_at"`
	Runs         []Run        `json:"runs"`
	RecentErrors []ErrorEntry `json:"recent_errors"`
}

// Snapshot copies the current state. Runs are sorted by component.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		StartedAt:    t.startedAt,
		Runs:         make([]Run, 0, len(t.runs)),
		RecentErrors: append([]ErrorEntry(nil), t.errors...),
	}
	for _, r := range t.runs {
		s.Runs = append(s.Runs, *r)
	}
	sort.Slice(s.Runs, func(i, j int) bool { return s.Runs[i].Component < s.Runs[j].Component })
	return s
}

// Last returns the last run of a component.
func (t *Tracker) Last(component string) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[component]
	if !ok {
		return Run{}, false
	}
	return *r, true
}
