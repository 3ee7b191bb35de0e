package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

func TestProcess_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	week := leaderboard.WeekOf(day1)

	// First AC: difficulty 1203 at rating 1200, streak 0 -> 1.
	res := f.process(t, "u1", ac(1, "abc300_p", day1))
	require.Len(t, res.Scored, 1)
	s := res.Scored[0]
	assert.Equal(t, 251, s.Result.BaseScore)
	assert.Equal(t, 1.05, s.Result.Multiplier)
	assert.Equal(t, 264, s.Result.FinalScore)
	assert.Equal(t, 1, s.Result.Streak)
	assert.Equal(t, streak.Reset, s.Transition)
	assert.Equal(t, "2024-03-04", s.Week)

	// Second problem the same JST day keeps the streak; unknown difficulty
	// scores the flat base.
	res = f.process(t, "u1", ac(2, "abc300_q", day1.Add(2*time.Hour)))
	require.Len(t, res.Scored, 1)
	assert.Equal(t, 1, res.Scored[0].Result.Streak)
	assert.Equal(t, streak.SameDay, res.Scored[0].Transition)
	assert.Equal(t, 150, res.Scored[0].Result.BaseScore)
	assert.Equal(t, 158, res.Scored[0].Result.FinalScore)

	// Repeating P three days later is inside the window.
	f.clock.Set(day1.Add(3 * 24 * time.Hour))
	res = f.process(t, "u1", ac(3, "abc300_p", day1.Add(3*24*time.Hour)))
	assert.Empty(t, res.Scored)
	assert.Equal(t, 1, res.Duplicates)

	score, err := f.store.WeeklyScore(f.ctx, week, "u1")
	require.NoError(t, err)
	assert.Equal(t, 264+158, score)

	cp, err := f.store.GetCheckpoint(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, submission.Checkpoint{Epoch: day1.Add(3 * 24 * time.Hour).Unix(), SubmissionID: 3}, cp,
		"a rejected duplicate still moves the checkpoint")

	st, err := f.store.GetStreak(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Current)
	assert.Equal(t, timeutil.DateOf(day1), st.LastACDay)

	records, err := f.store.ListRecords(f.ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].SubmissionID, "newest first")
}

func TestProcess_ExactlySevenDaysIsAdmitted(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)

	f.process(t, "u1", ac(1, "abc300_p", day1))

	later := day1.Add(submission.DuplicateWindow)
	f.clock.Set(later)
	res := f.process(t, "u1", ac(2, "abc300_p", later))
	require.Len(t, res.Scored, 1)
	assert.Equal(t, streak.Reset, res.Scored[0].Transition)
	assert.Equal(t, "2024-03-11", res.Scored[0].Week)
}

func TestProcess_ConsecutiveDaysGrowStreak(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)

	res := f.process(t, "u1",
		ac(3, "abc300_q", day1.Add(48*time.Hour)),
		ac(1, "abc300_p", day1),
		ac(2, "abc301_a", day1.Add(24*time.Hour)),
	)
	require.Len(t, res.Scored, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{
		res.Scored[0].Result.Streak,
		res.Scored[1].Result.Streak,
		res.Scored[2].Result.Streak,
	}, "candidates are applied in (epoch, id) order")
	assert.InDelta(t, 1.15, res.Scored[2].Result.Multiplier, 1e-9)
}

func TestProcess_ReplayLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	batch := []submission.Candidate{ac(1, "abc300_p", day1), ac(2, "abc300_q", day1.Add(time.Hour))}

	f.process(t, "u1", batch...)
	week := leaderboard.WeekOf(day1)
	before, _ := f.store.WeeklyScore(f.ctx, week, "u1")
	f.pub.reset()

	res := f.process(t, "u1", batch...)
	assert.Empty(t, res.Scored)
	assert.Equal(t, 2, res.Behind)

	// Even with the checkpoint rewound nothing is scored twice.
	require.NoError(t, f.store.ResetCheckpoint(f.ctx, "u1", submission.Checkpoint{}))
	res = f.process(t, "u1", batch...)
	assert.Empty(t, res.Scored)
	assert.Equal(t, 2, res.Duplicates+res.Replays)

	after, _ := f.store.WeeklyScore(f.ctx, week, "u1")
	assert.Equal(t, before, after)
	assert.Empty(t, f.pub.ofType(shared.EventSubmissionScored))
}

func TestProcess_NonACAdvancesCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)

	res := f.process(t, "u1",
		verdict(5, "abc300_p", "WA", day1),
		verdict(6, "abc300_p", "TLE", day1.Add(time.Minute)),
	)
	assert.Empty(t, res.Scored)
	assert.Equal(t, 2, res.NotAC)
	assert.Equal(t, submission.Checkpoint{Epoch: day1.Add(time.Minute).Unix(), SubmissionID: 6}, res.Checkpoint)
}

func TestProcess_MalformedCandidatesSkipped(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)

	res := f.process(t, "u1",
		submission.Candidate{ID: 0, ProblemID: "abc300_p", Result: "AC", Epoch: day1.Unix()},
		ac(2, "abc300_p", day1),
	)
	assert.Equal(t, 1, res.Invalid)
	assert.Len(t, res.Scored, 1)
}

func TestProcess_CommitFailureRollsBackUnit(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	boom := errors.New("disk full")
	f.store.FailNextCommit(boom)

	_, err := f.proc.Handle(f.ctx, ProcessSubmissionsCommand{
		UserID:     "u1",
		Candidates: []submission.Candidate{ac(1, "abc300_p", day1)},
	})
	require.ErrorIs(t, err, boom)

	cp, _ := f.store.GetCheckpoint(f.ctx, "u1")
	assert.True(t, cp.IsZero())
	st, _ := f.store.GetStreak(f.ctx, "u1")
	assert.Equal(t, 0, st.Current)
	score, _ := f.store.WeeklyScore(f.ctx, leaderboard.WeekOf(day1), "u1")
	assert.Equal(t, 0, score)
	records, _ := f.store.ListRecords(f.ctx, "u1", 0)
	assert.Empty(t, records)
	assert.Empty(t, f.pub.ofType(shared.EventSubmissionScored))

	// The next cycle retries the same submission.
	res := f.process(t, "u1", ac(1, "abc300_p", day1))
	assert.Len(t, res.Scored, 1)
}

func TestProcess_InactiveUserIgnored(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	u, _ := f.store.GetUser(f.ctx, "u1")
	require.NoError(t, u.Deactivate(day1))
	require.NoError(t, f.store.SaveUser(f.ctx, u))

	res := f.process(t, "u1", ac(1, "abc300_p", day1))
	assert.Empty(t, res.Scored)
	cp, _ := f.store.GetCheckpoint(f.ctx, "u1")
	assert.True(t, cp.IsZero())
}

func TestProcess_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Handle(f.ctx, ProcessSubmissionsCommand{UserID: "ghost"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProcess_DefaultRatingWhenUnknown(t *testing.T) {
	f := newFixture(t)
	u, err := user.New("u1", "alice", day1)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveUser(f.ctx, u))

	res := f.process(t, "u1", ac(1, "abc300_p", day1))
	require.Len(t, res.Scored, 1)
	assert.Equal(t, 0, res.Scored[0].Result.Rating)
}

func TestProcess_ClosedWeekRedirectsToCurrent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	f.addUser(t, "u2", "bob", 1200)
	closed := leaderboard.WeekOf(day1)

	f.process(t, "u2", ac(1, "abc300_p", day1))

	// The week closes while u1's submission is still unseen.
	f.clock.Set(closed.End().Add(time.Hour))
	rollover := NewWeeklyRolloverHandler(f.store, f.gate, nil, f.pub, nil, f.clock, nil)
	_, err := rollover.Handle(f.ctx, WeeklyRolloverCommand{})
	require.NoError(t, err)
	reportBefore, _ := f.store.GetReport(f.ctx, closed)

	res := f.process(t, "u1", ac(2, "abc300_q", closed.End().Add(-time.Hour)))
	require.Len(t, res.Scored, 1)
	assert.Equal(t, closed.Next().ID(), res.Scored[0].Week)

	late, _ := f.store.WeeklyScore(f.ctx, closed, "u1")
	assert.Equal(t, 0, late)
	current, _ := f.store.WeeklyScore(f.ctx, closed.Next(), "u1")
	assert.Equal(t, res.Scored[0].Result.FinalScore, current)

	reportAfter, _ := f.store.GetReport(f.ctx, closed)
	assert.Equal(t, reportBefore, reportAfter)
}

func TestProcess_StreakThresholdEvent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	require.NoError(t, f.store.WithinTx(f.ctx, func(ctx context.Context, tx submission.Tx) error {
		return tx.SaveStreak(ctx, "u1", streak.State{Current: 6, LastACDay: timeutil.DateOf(day1).AddDays(-1)})
	}))

	res := f.process(t, "u1", ac(1, "abc300_p", day1))
	require.Len(t, res.Scored, 1)
	assert.Equal(t, 7, res.Scored[0].Result.Streak)

	crossed := f.pub.ofType(shared.EventStreakThresholdCrossed)
	require.Len(t, crossed, 1)
	e := crossed[0].(shared.StreakThresholdCrossedEvent)
	assert.True(t, e.Above)
	assert.Equal(t, 7, e.Streak)
}

func TestProcess_GoalMilestones(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	week := leaderboard.WeekOf(day1).ID()
	g, err := goal.New("u1", week, 500, day1)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveGoal(f.ctx, g))

	f.process(t, "u1", ac(1, "abc300_p", day1)) // 264 = 52.8%
	f.process(t, "u1", ac(2, "abc300_q", day1.Add(time.Hour))) // 422 = 84.4%

	events := f.pub.ofType(shared.EventGoalMilestoneReached)
	require.Len(t, events, 2)
	assert.Equal(t, 50, events[0].(shared.GoalMilestoneReachedEvent).Milestone)
	assert.Equal(t, 75, events[1].(shared.GoalMilestoneReachedEvent).Milestone)

	stored, err := f.store.GetGoal(f.ctx, "u1", week)
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50, 75}, stored.Notified)
}

func TestProcess_ScoredEventAndAIText(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	s := settings.Default()
	s.AIEnabled = true
	s.AIProbability = 0.5
	require.NoError(t, f.store.SaveSettings(f.ctx, s))
	f.proc.SetRoll(func() float64 { return 0.1 })

	f.process(t, "u1", ac(1, "abc300_p", day1))

	scored := f.pub.ofType(shared.EventSubmissionScored)
	require.Len(t, scored, 1)
	e := scored[0].(shared.SubmissionScoredEvent)
	assert.True(t, e.UseAIText)
	assert.Equal(t, "P", e.ProblemTitle)
	assert.Equal(t, 264, e.FinalScore)
	assert.Equal(t, 264, e.WeeklyScore)
	assert.Equal(t, "cyan", e.DifficultyColor)
	assert.Equal(t, "cyan", e.RatingColor)
	assert.Equal(t, "mid", e.Tier)
	require.NotNil(t, e.DisplayDifficulty)
	assert.Equal(t, 1203, *e.DisplayDifficulty)
}

func TestProcess_RankEvents(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	f.addUser(t, "u2", "bob", 1200)

	f.process(t, "u1", ac(1, "abc300_q", day1))
	require.Len(t, f.pub.ofType(shared.EventTopRankChanged), 1)
	f.pub.reset()

	// u2 overtakes u1.
	f.clock.Set(day1.Add(2 * time.Hour))
	f.process(t, "u2", ac(2, "abc300_p", day1.Add(time.Hour)))

	moves := f.pub.ofType(shared.EventRankChanged)
	require.Len(t, moves, 2)
	top := f.pub.ofType(shared.EventTopRankChanged)
	require.Len(t, top, 1)
	assert.Equal(t, []shared.UserID{"u2"}, top[0].(shared.TopRankChangedEvent).Current)
}

func TestProcess_TiesShareRank(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	f.addUser(t, "u2", "bob", 1200)
	f.addUser(t, "u3", "carol", 1200)

	// Same score at the same processing instant.
	f.process(t, "u1", ac(1, "abc300_p", day1))
	f.process(t, "u2", ac(2, "abc300_p", day1))
	f.process(t, "u3", ac(3, "abc300_q", day1))

	week := leaderboard.WeekOf(day1)
	entries, err := f.store.WeeklyEntries(f.ctx, week)
	require.NoError(t, err)
	r, err := leaderboard.Build(week, entries)
	require.NoError(t, err)

	assert.Equal(t, shared.Rank(1), r.RankOf("u1"))
	assert.Equal(t, shared.Rank(1), r.RankOf("u2"))
	assert.Equal(t, shared.Rank(3), r.RankOf("u3"))
	assert.ElementsMatch(t, []shared.UserID{"u1", "u2"}, r.TopUsers())
}

func TestProcess_EarlierAchieverRanksFirst(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	f.addUser(t, "u2", "bob", 1200)

	f.clock.Set(day1.Add(2 * time.Hour))
	f.process(t, "u2", ac(2, "abc300_p", day1))
	f.clock.Set(day1.Add(3 * time.Hour))
	f.process(t, "u1", ac(1, "abc300_p", day1))

	week := leaderboard.WeekOf(day1)
	entries, _ := f.store.WeeklyEntries(f.ctx, week)
	r, err := leaderboard.Build(week, entries)
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(1), r.RankOf("u2"))
	assert.Equal(t, shared.Rank(2), r.RankOf("u1"))
}

// watchedLocker fails the test run if two holders ever share a key.
type watchedLocker struct {
	inner   Locker
	mu      sync.Mutex
	held    map[string]bool
	overlap atomic.Int32
	taken   atomic.Int32
}

func (w *watchedLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := w.inner.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	if w.held[key] {
		w.overlap.Add(1)
	}
	w.held[key] = true
	w.mu.Unlock()
	w.taken.Add(1)

	return func() {
		w.mu.Lock()
		w.held[key] = false
		w.mu.Unlock()
		unlock()
	}, nil
}

func TestProcess_ConcurrentPollsOfOneUser(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", 1200)
	locker := &watchedLocker{inner: f.lock, held: make(map[string]bool)}
	proc := NewProcessSubmissionsHandler(f.store, locker, f.gate, f.pub, nil, f.clock, logger.Nop(),
		ProcessSubmissionsConfig{DefaultRating: 0})
	proc.SetRoll(func() float64 { return 0.99 })

	// Каждая пачка - префикс одной ленты, поэтому итог не зависит от порядка.
	feed := []submission.Candidate{
		ac(1, "abc300_p", day1),
		ac(2, "abc300_q", day1.Add(time.Hour)),
		ac(3, "abc300_p", day1.Add(2*time.Hour)),
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		batch := feed[:1+i%len(feed)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := proc.Handle(f.ctx, ProcessSubmissionsCommand{UserID: "u1", Candidates: batch})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Zero(t, locker.overlap.Load())
	assert.Equal(t, int32(workers), locker.taken.Load())

	records, err := f.store.ListRecords(f.ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.ElementsMatch(t, []int64{1, 2}, []int64{records[0].SubmissionID, records[1].SubmissionID})

	score, err := f.store.WeeklyScore(f.ctx, leaderboard.WeekOf(day1), "u1")
	require.NoError(t, err)
	assert.Equal(t, 264+158, score)

	st, err := f.store.GetStreak(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Current)

	cp, err := f.store.GetCheckpoint(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, feed[2].Key(), cp)
	assert.Len(t, f.pub.ofType(shared.EventSubmissionScored), 2)
}

func TestProcess_ZeroPointSolveKeepsTieBreak(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "x", "alice", 1200)
	f.addUser(t, "y", "bob", 1200)
	raw := -2000.0
	require.NoError(t, f.store.UpsertProblems(f.ctx, []problem.Problem{
		{ID: "abc001_a", ContestID: "abc001", Title: "A", RawDifficulty: &raw},
	}))

	f.clock.Set(day1.Add(time.Minute))
	f.process(t, "x", ac(1, "abc300_p", day1))
	f.clock.Set(day1.Add(2 * time.Minute))
	f.process(t, "y", ac(2, "abc300_p", day1))

	require.NoError(t, f.store.SaveRating(f.ctx, "x", 4000, day1))
	f.clock.Set(day1.Add(3 * time.Minute))
	res := f.process(t, "x", ac(3, "abc001_a", day1.Add(time.Minute)))
	require.Len(t, res.Scored, 1)
	assert.Equal(t, 0, res.Scored[0].Result.FinalScore)

	entries, err := f.store.WeeklyEntries(f.ctx, leaderboard.WeekOf(day1))
	require.NoError(t, err)
	r, err := leaderboard.Build(leaderboard.WeekOf(day1), entries)
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(1), r.RankOf("x"))
	assert.Equal(t, shared.Rank(2), r.RankOf("y"))
	assert.True(t, day1.Add(time.Minute).Equal(r.Get("x").ScoreUpdatedAt))
}
