// Package storetest is a conformance suite for command.Store
// implementations. Each store package runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// Tuesday 2024-03-05 10:00 JST, week 2024-03-04.
var now = time.Date(2024, time.March, 5, 1, 0, 0, 0, time.UTC)

// Run executes every case against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) command.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s command.Store)
	}{
		{"Users", testUsers},
		{"Problems", testProblems},
		{"UnitCommitsAndRollsBack", testUnit},
		{"DuplicateRecord", testDuplicateRecord},
		{"WeeklyEntriesSkipInactive", testWeeklyEntries},
		{"ZeroDeltaKeepsTieBreak", testZeroDelta},
		{"SnapshotOnce", testSnapshot},
		{"Goals", testGoals},
		{"Settings", testSettings},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func addUser(t *testing.T, s command.Store, id, handle string) *user.User {
	t.Helper()
	u, err := user.New(shared.UserID(id), shared.Handle(handle), now)
	require.NoError(t, err)
	require.NoError(t, s.SaveUser(context.Background(), u))
	return u
}

func week(t *testing.T) leaderboard.Week {
	t.Helper()
	w, err := leaderboard.ParseWeek("2024-03-04")
	require.NoError(t, err)
	return w
}

func testUsers(t *testing.T, s command.Store) {
	ctx := context.Background()
	u := addUser(t, s, "u1", "tourist")
	addUser(t, s, "u2", "jiangly")

	require.NoError(t, s.SaveRating(ctx, "u1", 3800, now))
	assert.True(t, shared.IsNotFound(s.SaveRating(ctx, "ghost", 1, now)))

	// повторное сохранение с тем же хендлом не трогает рейтинг
	u.Active = false
	u.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, s.SaveUser(ctx, u))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 3800, *got.Rating)

	active, err := s.ListActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, shared.UserID("u2"), active[0].ID)

	n, err := s.CountActiveUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetUser(ctx, "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func testProblems(t *testing.T, s command.Store) {
	ctx := context.Background()
	d := 1203.4
	require.NoError(t, s.UpsertProblems(ctx, []problem.Problem{
		{ID: "abc300_a", ContestID: "abc300", Title: "A", UpdatedAt: now},
		{ID: "abc300_f", ContestID: "abc300", Title: "F", RawDifficulty: &d, UpdatedAt: now},
	}))
	require.NoError(t, s.UpsertProblems(ctx, []problem.Problem{
		{ID: "abc300_a", ContestID: "abc300", Title: "A - Renamed", UpdatedAt: now},
	}))

	p, err := s.GetProblem(ctx, "abc300_a")
	require.NoError(t, err)
	assert.Equal(t, "A - Renamed", p.Title)
	assert.Nil(t, p.RawDifficulty)

	p, err = s.GetProblem(ctx, "abc300_f")
	require.NoError(t, err)
	require.NotNil(t, p.RawDifficulty)
	assert.InDelta(t, 1203.4, *p.RawDifficulty, 1e-9)

	n, err := s.CountProblems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetProblem(ctx, "zzz_a")
	assert.True(t, shared.IsNotFound(err))
}

func testUnit(t *testing.T, s command.Store) {
	ctx := context.Background()
	addUser(t, s, "u1", "tourist")
	w := week(t)
	day := timeutil.DateOf(now)

	err := s.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
		require.NoError(t, tx.SaveCheckpoint(ctx, "u1", submission.Checkpoint{Epoch: 100, SubmissionID: 7}))
		require.NoError(t, tx.SaveLastACMark(ctx, submission.LastACMark{UserID: "u1", ProblemID: "abc300_a", At: now}))
		require.NoError(t, tx.SaveStreak(ctx, "u1", streak.State{Current: 1, LastACDay: day}))
		total, err := tx.AddWeeklyScore(ctx, w.ID(), "u1", 264, now)
		require.NoError(t, err)
		assert.Equal(t, 264, total)
		total, err = tx.AddWeeklyScore(ctx, w.ID(), "u1", 150, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 414, total)
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
		require.NoError(t, tx.SaveCheckpoint(ctx, "u1", submission.Checkpoint{Epoch: 200, SubmissionID: 9}))
		require.NoError(t, tx.SaveStreak(ctx, "u1", streak.State{Current: 2, LastACDay: day.AddDays(1)}))
		_, err := tx.AddWeeklyScore(ctx, w.ID(), "u1", 999, now.Add(time.Hour))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	cp, err := s.GetCheckpoint(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, submission.Checkpoint{Epoch: 100, SubmissionID: 7}, cp)

	st, err := s.GetStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Current)
	assert.Equal(t, day, st.LastACDay)

	score, err := s.WeeklyScore(ctx, w, "u1")
	require.NoError(t, err)
	assert.Equal(t, 414, score)

	err = s.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
		mark, err := tx.LastACMark(ctx, "u1", "abc300_a")
		require.NoError(t, err)
		require.NotNil(t, mark)
		assert.True(t, now.Equal(mark.At))

		mark, err = tx.LastACMark(ctx, "u1", "abc300_b")
		require.NoError(t, err)
		assert.Nil(t, mark)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.ResetCheckpoint(ctx, "u1", submission.Checkpoint{Epoch: 5}))
	cp, err = s.GetCheckpoint(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.Epoch)
}

func testDuplicateRecord(t *testing.T, s command.Store) {
	ctx := context.Background()
	addUser(t, s, "u1", "tourist")
	rec := submission.Record{
		ID:           "0b6d5f1e-8a43-4c39-9a0e-2f1c7f5a1d01",
		UserID:       "u1",
		ProblemID:    "abc300_a",
		SubmissionID: 41000001,
		SubmittedAt:  now.Add(-time.Minute),
		Week:         "2024-03-04",
		BaseScore:    251,
		Multiplier:   1.05,
		FinalScore:   264,
		Streak:       1,
		ProcessedAt:  now,
	}

	for i, want := range []bool{true, false} {
		r := rec
		if i == 1 {
			r.ID = "0b6d5f1e-8a43-4c39-9a0e-2f1c7f5a1d02"
		}
		err := s.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
			inserted, err := tx.InsertRecord(ctx, r)
			require.NoError(t, err)
			assert.Equal(t, want, inserted)
			return nil
		})
		require.NoError(t, err)
	}

	records, err := s.ListRecords(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, 264, records[0].FinalScore)
	assert.InDelta(t, 1.05, records[0].Multiplier, 1e-9)
}

func testWeeklyEntries(t *testing.T, s command.Store) {
	ctx := context.Background()
	addUser(t, s, "u1", "tourist")
	gone := addUser(t, s, "u2", "jiangly")
	w := week(t)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
		if _, err := tx.AddWeeklyScore(ctx, w.ID(), "u1", 300, now); err != nil {
			return err
		}
		_, err := tx.AddWeeklyScore(ctx, w.ID(), "u2", 500, now)
		return err
	}))

	gone.Active = false
	require.NoError(t, s.SaveUser(ctx, gone))

	entries, err := s.WeeklyEntries(ctx, w)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, shared.UserID("u1"), entries[0].UserID)
	assert.Equal(t, shared.Handle("tourist"), entries[0].Handle)
	assert.True(t, now.Equal(entries[0].ScoreUpdatedAt))

	// неактивный пользователь сохраняет очки недели
	score, err := s.WeeklyScore(ctx, w, "u2")
	require.NoError(t, err)
	assert.Equal(t, 500, score)
}

func testZeroDelta(t *testing.T, s command.Store) {
	ctx := context.Background()
	addUser(t, s, "x", "tourist")
	addUser(t, s, "y", "jiangly")
	w := week(t)

	add := func(id string, delta int, at time.Time) {
		t.Helper()
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
			_, err := tx.AddWeeklyScore(ctx, w.ID(), shared.UserID(id), delta, at)
			return err
		}))
	}
	add("x", 264, now)
	add("y", 264, now.Add(time.Minute))
	add("x", 0, now.Add(2*time.Minute))

	entries, err := s.WeeklyEntries(ctx, w)
	require.NoError(t, err)
	r, err := leaderboard.Build(w, entries)
	require.NoError(t, err)

	top := r.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, shared.UserID("x"), top[0].UserID)
	assert.Equal(t, 264, top[0].Score)
	assert.True(t, now.Equal(top[0].ScoreUpdatedAt))

	// нулевая дельта на новой строке всё же ставит отметку
	addUser(t, s, "z", "ecnerwala")
	add("z", 0, now.Add(3*time.Minute))
	score, err := s.WeeklyScore(ctx, w, "z")
	require.NoError(t, err)
	assert.Equal(t, 0, score)
}

func testSnapshot(t *testing.T, s command.Store) {
	ctx := context.Background()
	addUser(t, s, "u1", "tourist")
	addUser(t, s, "u2", "jiangly")
	w := week(t)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
		if _, err := tx.AddWeeklyScore(ctx, w.ID(), "u1", 300, now); err != nil {
			return err
		}
		_, err := tx.AddWeeklyScore(ctx, w.ID(), "u2", 300, now.Add(-time.Hour))
		return err
	}))

	build := func(entries []leaderboard.Entry) (*leaderboard.WeeklyReport, error) {
		r, err := leaderboard.Build(w, entries)
		if err != nil {
			return nil, err
		}
		return leaderboard.NewWeeklyReport(r, now), nil
	}

	inserted, err := s.SnapshotWeek(ctx, w, build)
	require.NoError(t, err)
	assert.True(t, inserted)

	calls := 0
	inserted, err = s.SnapshotWeek(ctx, w, func(e []leaderboard.Entry) (*leaderboard.WeeklyReport, error) {
		calls++
		return build(e)
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Zero(t, calls)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
		closed, err := tx.ReportExists(ctx, w.ID())
		require.NoError(t, err)
		assert.True(t, closed)
		return nil
	}))

	report, err := s.GetReport(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, w.ID(), report.Week.ID())
	assert.Equal(t, 2, report.Participants)
	assert.Equal(t, 600, report.TotalScore)
	assert.Equal(t, []shared.UserID{"u2"}, report.Winners)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, shared.Rank(1), report.Entries[0].Rank)
	assert.Equal(t, shared.Rank(2), report.Entries[1].Rank)

	prev := w.Prev()
	_, err = s.SaveReport(ctx, &leaderboard.WeeklyReport{Week: prev, CreatedAt: now.Add(-timeutil.Week)})
	require.NoError(t, err)

	reports, err := s.ListReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, w.ID(), reports[0].Week.ID())
	assert.Equal(t, prev.ID(), reports[1].Week.ID())

	reports, err = s.ListReports(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	_, err = s.GetReport(ctx, w.Prev().Prev())
	assert.ErrorIs(t, err, shared.ErrReportNotFound)
}

func testGoals(t *testing.T, s command.Store) {
	ctx := context.Background()
	addUser(t, s, "u1", "tourist")

	g, err := goal.New("u1", "2024-03-04", 1000, now)
	require.NoError(t, err)
	require.NoError(t, s.SaveGoal(ctx, g))

	g.Notified = []int{25, 50}
	require.NoError(t, s.MarkGoal(ctx, g))

	got, err := s.GetGoal(ctx, "u1", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50}, got.Notified)

	// та же цель сохраняет отметки, новая цель их сбрасывает
	require.NoError(t, s.SaveGoal(ctx, g))
	got, err = s.GetGoal(ctx, "u1", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50}, got.Notified)

	g.Target = 2000
	require.NoError(t, s.SaveGoal(ctx, g))
	got, err = s.GetGoal(ctx, "u1", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 2000, got.Target)
	assert.Empty(t, got.Notified)

	require.NoError(t, s.DeleteGoal(ctx, "u1", "2024-03-04"))
	_, err = s.GetGoal(ctx, "u1", "2024-03-04")
	assert.ErrorIs(t, err, shared.ErrGoalNotFound)
	assert.ErrorIs(t, s.MarkGoal(ctx, g), shared.ErrGoalNotFound)
}

func testSettings(t *testing.T, s command.Store) {
	ctx := context.Background()

	st, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), st)

	st.NotifyChannelID = "notify"
	st.StreakRoleID = "streak"
	st.PollInterval = 5 * time.Minute
	st.AIEnabled = true
	st.AIProbability = 0.5
	st.UpdatedAt = now
	require.NoError(t, s.SaveSettings(ctx, st))

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "notify", got.NotifyChannelID)
	assert.Equal(t, "streak", got.StreakRoleID)
	assert.Equal(t, 5*time.Minute, got.PollInterval)
	assert.True(t, got.AIEnabled)
	assert.InDelta(t, 0.5, got.AIProbability, 1e-9)
	assert.True(t, now.Equal(got.UpdatedAt))

	require.NoError(t, s.Ping(ctx))
}
