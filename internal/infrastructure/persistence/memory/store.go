// Package memory is a process-local Store used for tests and for running
// the engine without a database. Transactions are serialized by a single
// mutex and rolled back through an undo journal.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
)

type markKey struct {
	user    shared.UserID
	problem shared.ProblemID
}

type goalKey struct {
	user shared.UserID
	week string
}

type weeklyRow struct {
	score     int
	updatedAt time.Time
}

// Store implements every repository contract in memory.
type Store struct {
	mu sync.Mutex

	users       map[shared.UserID]*user.User
	problems    map[shared.ProblemID]problem.Problem
	checkpoints map[shared.UserID]submission.Checkpoint
	marks       map[markKey]time.Time
	streaks     map[shared.UserID]streak.State
	records     []submission.Record
	recordIDs   map[int64]struct{}
	weekly      map[string]map[shared.UserID]weeklyRow
	reports     map[string]*leaderboard.WeeklyReport
	goals       map[goalKey]*goal.Goal
	settings    *settings.Settings

	// failNext makes the next transaction fail after fn succeeds. Tests only.
	failNext error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[shared.UserID]*user.User),
		problems:    make(map[shared.ProblemID]problem.Problem),
		checkpoints: make(map[shared.UserID]submission.Checkpoint),
		marks:       make(map[markKey]time.Time),
		streaks:     make(map[shared.UserID]streak.State),
		recordIDs:   make(map[int64]struct{}),
		weekly:      make(map[string]map[shared.UserID]weeklyRow),
		reports:     make(map[string]*leaderboard.WeeklyReport),
		goals:       make(map[goalKey]*goal.Goal),
	}
}

// FailNextCommit makes the next WithinTx roll back with err.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

func cloneUser(u *user.User) *user.User {
	c := *u
	if u.Rating != nil {
		r := *u.Rating
		c.Rating = &r
	}
	return &c
}

func (s *Store) GetUser(_ context.Context, id shared.UserID) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// SaveUser stores everything but the rating, which only SaveRating writes.
func (s *Store) SaveUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneUser(u)
	if prev, ok := s.users[u.ID]; ok && prev.Handle == u.Handle {
		c.Rating, c.RatingUpdatedAt = prev.Rating, prev.RatingUpdatedAt
	}
	s.users[u.ID] = c
	return nil
}

func (s *Store) ListActiveUsers(context.Context) ([]*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*user.User, 0, len(s.users))
	for _, u := range s.users {
		if u.Active {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountActiveUsers(ctx context.Context) (int, error) {
	users, err := s.ListActiveUsers(ctx)
	return len(users), err
}

func (s *Store) SaveRating(_ context.Context, id shared.UserID, rating int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return shared.ErrUserNotFound
	}
	u.Rating = &rating
	u.RatingUpdatedAt = at
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBLEMS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) UpsertProblems(_ context.Context, ps []problem.Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		if p.RawDifficulty != nil {
			d := *p.RawDifficulty
			p.RawDifficulty = &d
		}
		s.problems[p.ID] = p
	}
	return nil
}

func (s *Store) GetProblem(_ context.Context, id shared.ProblemID) (*problem.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.problems[id]
	if !ok {
		return nil, shared.WrapError("problem", "Find", shared.ErrNotFound, "problem not found", nil)
	}
	return &p, nil
}

func (s *Store) CountProblems(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.problems), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION STATE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetCheckpoint(_ context.Context, id shared.UserID) (submission.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[id], nil
}

func (s *Store) ResetCheckpoint(_ context.Context, id shared.UserID, cp submission.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[id] = cp
	return nil
}

func (s *Store) GetStreak(_ context.Context, id shared.UserID) (streak.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaks[id], nil
}

func (s *Store) ListRecords(_ context.Context, id shared.UserID, limit int) ([]submission.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]submission.Record, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].UserID != id {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// WithinTx runs fn with the store locked. Every write goes through the
// journal; an error from fn or from the injected commit failure replays
// the journal backwards.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx submission.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	err := fn(ctx, tx)
	if err == nil && s.failNext != nil {
		err, s.failNext = s.failNext, nil
	}
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) Checkpoint(_ context.Context, id shared.UserID) (submission.Checkpoint, error) {
	return t.s.checkpoints[id], nil
}

func (t *memTx) SaveCheckpoint(_ context.Context, id shared.UserID, cp submission.Checkpoint) error {
	prev, had := t.s.checkpoints[id]
	t.undo = append(t.undo, func() {
		if had {
			t.s.checkpoints[id] = prev
		} else {
			delete(t.s.checkpoints, id)
		}
	})
	t.s.checkpoints[id] = cp
	return nil
}

func (t *memTx) LastACMark(_ context.Context, id shared.UserID, p shared.ProblemID) (*submission.LastACMark, error) {
	at, ok := t.s.marks[markKey{id, p}]
	if !ok {
		return nil, nil
	}
	return &submission.LastACMark{UserID: id, ProblemID: p, At: at}, nil
}

func (t *memTx) SaveLastACMark(_ context.Context, m submission.LastACMark) error {
	k := markKey{m.UserID, m.ProblemID}
	prev, had := t.s.marks[k]
	t.undo = append(t.undo, func() {
		if had {
			t.s.marks[k] = prev
		} else {
			delete(t.s.marks, k)
		}
	})
	t.s.marks[k] = m.At
	return nil
}

func (t *memTx) Streak(_ context.Context, id shared.UserID) (streak.State, error) {
	return t.s.streaks[id], nil
}

func (t *memTx) SaveStreak(_ context.Context, id shared.UserID, st streak.State) error {
	prev, had := t.s.streaks[id]
	t.undo = append(t.undo, func() {
		if had {
			t.s.streaks[id] = prev
		} else {
			delete(t.s.streaks, id)
		}
	})
	t.s.streaks[id] = st
	return nil
}

func (t *memTx) InsertRecord(_ context.Context, r submission.Record) (bool, error) {
	if _, dup := t.s.recordIDs[r.SubmissionID]; dup {
		return false, nil
	}
	n := len(t.s.records)
	t.undo = append(t.undo, func() {
		t.s.records = t.s.records[:n]
		delete(t.s.recordIDs, r.SubmissionID)
	})
	t.s.records = append(t.s.records, r)
	t.s.recordIDs[r.SubmissionID] = struct{}{}
	return true, nil
}

func (t *memTx) ReportExists(_ context.Context, week string) (bool, error) {
	_, ok := t.s.reports[week]
	return ok, nil
}

func (t *memTx) AddWeeklyScore(_ context.Context, week string, id shared.UserID, delta int, at time.Time) (int, error) {
	rows, ok := t.s.weekly[week]
	if !ok {
		rows = make(map[shared.UserID]weeklyRow)
		t.s.weekly[week] = rows
	}
	prev, had := rows[id]
	t.undo = append(t.undo, func() {
		if had {
			rows[id] = prev
		} else {
			delete(rows, id)
		}
	})
	row := weeklyRow{score: prev.score + delta, updatedAt: at}
	if had && delta == 0 {
		row.updatedAt = prev.updatedAt
	}
	rows[id] = row
	return row.score, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) weeklyEntriesLocked(week leaderboard.Week) []leaderboard.Entry {
	rows := s.weekly[week.ID()]
	out := make([]leaderboard.Entry, 0, len(rows))
	for id, row := range rows {
		u, ok := s.users[id]
		if !ok || !u.Active {
			continue
		}
		out = append(out, leaderboard.Entry{
			UserID:         id,
			Handle:         u.Handle,
			Score:          row.score,
			ScoreUpdatedAt: row.updatedAt,
		})
	}
	return out
}

func (s *Store) WeeklyEntries(_ context.Context, week leaderboard.Week) ([]leaderboard.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weeklyEntriesLocked(week), nil
}

func (s *Store) WeeklyScore(_ context.Context, week leaderboard.Week, id shared.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weekly[week.ID()][id].score, nil
}

func cloneReport(r *leaderboard.WeeklyReport) *leaderboard.WeeklyReport {
	c := *r
	c.Entries = slices.Clone(r.Entries)
	c.Winners = slices.Clone(r.Winners)
	return &c
}

func (s *Store) saveReportLocked(r *leaderboard.WeeklyReport) bool {
	if _, ok := s.reports[r.Week.ID()]; ok {
		return false
	}
	s.reports[r.Week.ID()] = cloneReport(r)
	return true
}

func (s *Store) SaveReport(_ context.Context, r *leaderboard.WeeklyReport) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveReportLocked(r), nil
}

func (s *Store) GetReport(_ context.Context, week leaderboard.Week) (*leaderboard.WeeklyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[week.ID()]
	if !ok {
		return nil, shared.ErrReportNotFound
	}
	return cloneReport(r), nil
}

func (s *Store) ListReports(_ context.Context, limit int) ([]*leaderboard.WeeklyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*leaderboard.WeeklyReport, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, cloneReport(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week.Start().After(out[j].Week.Start()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SnapshotWeek reads the entries and writes the report under one lock, so
// no scoring unit can land between the two.
func (s *Store) SnapshotWeek(_ context.Context, week leaderboard.Week, fn func([]leaderboard.Entry) (*leaderboard.WeeklyReport, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[week.ID()]; ok {
		return false, nil
	}
	r, err := fn(s.weeklyEntriesLocked(week))
	if err != nil {
		return false, err
	}
	return s.saveReportLocked(r), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GOALS & SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

func cloneGoal(g *goal.Goal) *goal.Goal {
	c := *g
	c.Notified = slices.Clone(g.Notified)
	return &c
}

func (s *Store) SaveGoal(_ context.Context, g *goal.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneGoal(g)
	if prev, ok := s.goals[goalKey{g.UserID, g.Week}]; ok && prev.Target == g.Target {
		c.Notified = slices.Clone(prev.Notified)
	} else {
		c.Notified = nil
	}
	s.goals[goalKey{g.UserID, g.Week}] = c
	return nil
}

func (s *Store) GetGoal(_ context.Context, id shared.UserID, week string) (*goal.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[goalKey{id, week}]
	if !ok {
		return nil, shared.ErrGoalNotFound
	}
	return cloneGoal(g), nil
}

func (s *Store) DeleteGoal(_ context.Context, id shared.UserID, week string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.goals, goalKey{id, week})
	return nil
}

func (s *Store) MarkGoal(_ context.Context, g *goal.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.goals[goalKey{g.UserID, g.Week}]
	if !ok {
		return shared.ErrGoalNotFound
	}
	prev.Notified = slices.Clone(g.Notified)
	prev.UpdatedAt = g.UpdatedAt
	return nil
}

func (s *Store) GetSettings(context.Context) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return settings.Default(), nil
	}
	return *s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, st settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &st
	return nil
}
