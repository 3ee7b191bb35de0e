package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/memory"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// Tuesday 2024-03-05 10:00 JST, week 2024-03-04.
var now = time.Date(2024, time.March, 5, 1, 0, 0, 0, time.UTC)

type fakeCache struct {
	mu       sync.Mutex
	weeks    map[string][]leaderboard.Entry
	rebuilds int
	failGet  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{weeks: make(map[string][]leaderboard.Entry)}
}

func (c *fakeCache) UpdateEntry(_ context.Context, week leaderboard.Week, e leaderboard.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.weeks[week.ID()]
	if !ok {
		return nil
	}
	for i := range entries {
		if entries[i].UserID == e.UserID {
			entries[i] = e
			return nil
		}
	}
	c.weeks[week.ID()] = append(entries, e)
	return nil
}

func (c *fakeCache) GetEntries(_ context.Context, week leaderboard.Week) ([]leaderboard.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet != nil {
		return nil, c.failGet
	}
	entries, ok := c.weeks[week.ID()]
	if !ok {
		return nil, shared.ErrRankingNotCached
	}
	return append([]leaderboard.Entry(nil), entries...), nil
}

func (c *fakeCache) Rebuild(_ context.Context, r *leaderboard.Ranking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuilds++
	c.weeks[r.Week().ID()] = r.Entries()
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, week leaderboard.Week) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.weeks, week.ID())
	return nil
}

type env struct {
	ctx   context.Context
	store *memory.Store
	cache *fakeCache
	week  leaderboard.Week
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		ctx:   context.Background(),
		store: memory.New(),
		cache: newFakeCache(),
		week:  leaderboard.WeekOf(now),
	}
}

func (e *env) addUser(t *testing.T, id, handle string) {
	t.Helper()
	u, err := user.New(shared.UserID(id), shared.Handle(handle), now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, e.store.SaveUser(e.ctx, u))
}

func (e *env) score(t *testing.T, week leaderboard.Week, id string, delta int, at time.Time) {
	t.Helper()
	err := e.store.WithinTx(e.ctx, func(ctx context.Context, tx submission.Tx) error {
		_, err := tx.AddWeeklyScore(ctx, week.ID(), shared.UserID(id), delta, at)
		return err
	})
	require.NoError(t, err)
}

func (e *env) ranking(clock time.Time) *GetRankingHandler {
	return NewGetRankingHandler(e.store, e.cache, timeutil.FixedClock(clock), logger.Nop())
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

func TestGetRanking_StoreThenCache(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "u1", "alice")
	e.addUser(t, "u2", "bob")
	e.score(t, e.week, "u1", 264, now.Add(-time.Hour))
	e.score(t, e.week, "u2", 300, now.Add(-2*time.Hour))

	h := e.ranking(now)

	first, err := h.Handle(e.ctx, GetRankingQuery{})
	require.NoError(t, err)
	assert.Equal(t, "store", first.Source)
	assert.Equal(t, 1, e.cache.rebuilds)
	assert.Equal(t, "2024-03-04", first.Week)
	assert.False(t, first.Closed)
	require.Len(t, first.Entries, 2)
	assert.Equal(t, "u2", first.Entries[0].UserID)
	assert.Equal(t, 1, first.Entries[0].Rank)
	assert.Equal(t, "alice", first.Entries[1].Handle)
	assert.Equal(t, []string{"u2"}, first.TopUsers)
	assert.Equal(t, 564, first.TotalScore)

	second, err := h.Handle(e.ctx, GetRankingQuery{})
	require.NoError(t, err)
	assert.Equal(t, "cache", second.Source)
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, 1, e.cache.rebuilds)
}

func TestGetRanking_CacheFailureFallsBack(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "u1", "alice")
	e.score(t, e.week, "u1", 150, now.Add(-time.Hour))
	e.cache.failGet = errors.New("connection refused")

	res, err := e.ranking(now).Handle(e.ctx, GetRankingQuery{})
	require.NoError(t, err)
	assert.Equal(t, "store", res.Source)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, 150, res.Entries[0].Score)
}

func TestGetRanking_WithoutCache(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "u1", "alice")
	e.score(t, e.week, "u1", 150, now.Add(-time.Hour))

	h := NewGetRankingHandler(e.store, nil, timeutil.FixedClock(now), nil)
	res, err := h.Handle(e.ctx, GetRankingQuery{})
	require.NoError(t, err)
	assert.Equal(t, "store", res.Source)
	assert.Equal(t, 1, res.TotalCount)
}

func TestGetRanking_Pagination(t *testing.T) {
	e := newEnv(t)
	for i, id := range []string{"u1", "u2", "u3"} {
		e.addUser(t, id, "h"+id)
		e.score(t, e.week, id, 100*(3-i), now.Add(-time.Hour))
	}

	h := e.ranking(now)

	page, err := h.Handle(e.ctx, GetRankingQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 3, page.TotalCount)

	last, err := h.Handle(e.ctx, GetRankingQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, last.Entries, 1)
	assert.Equal(t, "u3", last.Entries[0].UserID)
	assert.Equal(t, 3, last.Entries[0].Rank)
	assert.False(t, last.HasMore)

	empty, err := h.Handle(e.ctx, GetRankingQuery{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)

	_, err = h.Handle(e.ctx, GetRankingQuery{Limit: -1})
	assert.True(t, shared.IsValidation(err))
}

func TestGetRanking_ClosedWeekServedFromReport(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "u1", "alice")
	e.addUser(t, "u2", "bob")
	e.score(t, e.week, "u1", 300, now.Add(-time.Hour))
	e.score(t, e.week, "u2", 300, now.Add(-2*time.Hour))

	entries, err := e.store.WeeklyEntries(e.ctx, e.week)
	require.NoError(t, err)
	r, err := leaderboard.Build(e.week, entries)
	require.NoError(t, err)
	_, err = e.store.SaveReport(e.ctx, leaderboard.NewWeeklyReport(r, e.week.End()))
	require.NoError(t, err)

	// очки после закрытия не меняют отчёт
	e.score(t, e.week, "u1", 1000, e.week.End().Add(time.Minute))

	res, err := e.ranking(e.week.End().Add(time.Hour)).Handle(e.ctx, GetRankingQuery{Week: e.week.ID()})
	require.NoError(t, err)
	assert.Equal(t, "report", res.Source)
	assert.True(t, res.Closed)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "u2", res.Entries[0].UserID)
	assert.Equal(t, 300, res.Entries[1].Score)
	assert.Equal(t, []string{"u2"}, res.TopUsers)
}

func TestGetRanking_InvalidWeek(t *testing.T) {
	e := newEnv(t)
	_, err := e.ranking(now).Handle(e.ctx, GetRankingQuery{Week: "2024-03-05"})
	assert.ErrorIs(t, err, shared.ErrInvalidWeek)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORTS
// ══════════════════════════════════════════════════════════════════════════════

func TestReports(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "u1", "alice")
	prev := e.week.Prev()
	e.score(t, prev, "u1", 420, prev.Start().Add(time.Hour))

	for _, w := range []leaderboard.Week{prev.Prev(), prev} {
		entries, err := e.store.WeeklyEntries(e.ctx, w)
		require.NoError(t, err)
		r, err := leaderboard.Build(w, entries)
		require.NoError(t, err)
		_, err = e.store.SaveReport(e.ctx, leaderboard.NewWeeklyReport(r, w.End()))
		require.NoError(t, err)
	}

	h := NewReportsHandler(e.store)

	got, err := h.Get(e.ctx, prev.ID())
	require.NoError(t, err)
	assert.Equal(t, 420, got.WinningScore)
	assert.Equal(t, []string{"u1"}, got.Winners)
	require.Len(t, got.Entries, 1)

	list, err := h.List(e.ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, prev.ID(), list[0].Week)
	assert.Empty(t, list[0].Entries)
	assert.Empty(t, list[1].Winners)

	_, err = h.Get(e.ctx, e.week.ID())
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Get(e.ctx, "not-a-week")
	assert.ErrorIs(t, err, shared.ErrInvalidWeek)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER STATUS
// ══════════════════════════════════════════════════════════════════════════════

func TestUserStatus(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "u1", "alice")
	e.addUser(t, "u2", "bob")
	require.NoError(t, e.store.SaveRating(e.ctx, "u1", 1250, now))

	yesterday := timeutil.DateOf(now).AddDays(-1)
	err := e.store.WithinTx(e.ctx, func(ctx context.Context, tx submission.Tx) error {
		if err := tx.SaveStreak(ctx, "u1", streak.State{Current: 3, LastACDay: yesterday}); err != nil {
			return err
		}
		_, err := tx.InsertRecord(ctx, submission.Record{
			ID: "r1", SubmissionID: 77, UserID: "u1", ProblemID: "abc300_p",
			SubmittedAt: now.Add(-24 * time.Hour), Week: e.week.ID(),
			BaseScore: 251, Multiplier: 1.15, FinalScore: 289, Streak: 3,
		})
		return err
	})
	require.NoError(t, err)
	e.score(t, e.week, "u1", 289, now.Add(-24*time.Hour))
	e.score(t, e.week, "u2", 400, now.Add(-time.Hour))

	g, err := goal.New("u1", e.week.ID(), 578, now)
	require.NoError(t, err)
	require.NoError(t, e.store.SaveGoal(e.ctx, g))

	h := NewUserStatusHandler(e.store, e.ranking(now), timeutil.FixedClock(now))
	st, err := h.Handle(e.ctx, "u1", 0)
	require.NoError(t, err)

	assert.Equal(t, "alice", st.Handle)
	assert.Equal(t, "cyan", st.RatingColor)
	assert.Equal(t, 3, st.Streak)
	assert.InDelta(t, 1.20, st.Multiplier, 1e-9)
	assert.Equal(t, 289, st.WeeklyScore)
	assert.Equal(t, 2, st.Rank)
	require.NotNil(t, st.Goal)
	assert.InDelta(t, 50.0, st.Goal.Percent, 1e-9)
	assert.False(t, st.Goal.Completed)
	require.Len(t, st.Recent, 1)
	assert.Equal(t, int64(77), st.Recent[0].SubmissionID)
}

func TestUserStatus_BrokenStreakReadsZero(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "u1", "alice")
	err := e.store.WithinTx(e.ctx, func(ctx context.Context, tx submission.Tx) error {
		return tx.SaveStreak(ctx, "u1", streak.State{Current: 9, LastACDay: timeutil.DateOf(now).AddDays(-3)})
	})
	require.NoError(t, err)

	st, err := NewUserStatusHandler(e.store, nil, timeutil.FixedClock(now)).Handle(e.ctx, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Streak)
	assert.InDelta(t, 1.05, st.Multiplier, 1e-9)
	assert.Nil(t, st.Goal)
	assert.Empty(t, st.Recent)
}

func TestUserStatus_UnknownUser(t *testing.T) {
	e := newEnv(t)
	_, err := NewUserStatusHandler(e.store, nil, timeutil.FixedClock(now)).Handle(e.ctx, "ghost", 5)
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "u1", "alice")

	tracker := health.New(now.Add(-90 * time.Minute))
	tracker.Record(health.ComponentProblemSync, now.Add(-time.Hour), nil)
	h := NewHealthHandler(e.store, tracker, timeutil.FixedClock(now))

	st := h.Handle(e.ctx)
	assert.True(t, st.Healthy)
	assert.True(t, st.DatabaseOK)
	assert.Equal(t, "1h30m0s", st.Uptime)
	assert.Equal(t, "2024-03-04", st.CurrentWeek)
	assert.Equal(t, 1, st.ActiveUsers)
	assert.Nil(t, st.LastPoll)
	require.NotNil(t, st.LastSync)

	for i := 0; i < 3; i++ {
		tracker.Record(health.ComponentPoll, now, errors.New("feed down"))
	}
	st = h.Handle(e.ctx)
	assert.False(t, st.Healthy)
	require.NotNil(t, st.LastPoll)
	assert.Equal(t, 3, st.LastPoll.Consecutive)
	assert.Len(t, st.RecentErrors, 3)
}
