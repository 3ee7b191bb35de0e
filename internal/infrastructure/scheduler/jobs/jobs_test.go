package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/messaging"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

var now = time.Date(2024, time.March, 6, 12, 0, 0, 0, timeutil.JST)

func testDeps() Deps {
	return Deps{Tracker: health.New(now), Clock: timeutil.FixedClock(now)}
}

// ── fakes ────────────────────────────────────────────────────────────────────

type pollerFunc func(context.Context, command.PollSubmissionsCommand) (*command.PollSubmissionsResult, error)

func (f pollerFunc) Handle(ctx context.Context, cmd command.PollSubmissionsCommand) (*command.PollSubmissionsResult, error) {
	return f(ctx, cmd)
}

type closerFunc func(context.Context, command.WeeklyRolloverCommand) (*command.WeeklyRolloverResult, error)

func (f closerFunc) Handle(ctx context.Context, cmd command.WeeklyRolloverCommand) (*command.WeeklyRolloverResult, error) {
	return f(ctx, cmd)
}

type syncerFunc func(context.Context) (*command.SyncProblemsResult, error)

func (f syncerFunc) Handle(ctx context.Context) (*command.SyncProblemsResult, error) { return f(ctx) }

type refresherFunc func(context.Context, command.RefreshRatingsCommand) (*command.RefreshRatingsResult, error)

func (f refresherFunc) Handle(ctx context.Context, cmd command.RefreshRatingsCommand) (*command.RefreshRatingsResult, error) {
	return f(ctx, cmd)
}

type reporterFunc func(context.Context) *query.HealthStatusDTO

func (f reporterFunc) Handle(ctx context.Context) *query.HealthStatusDTO { return f(ctx) }

type entriesFunc func(context.Context, leaderboard.Week) ([]leaderboard.Entry, error)

func (f entriesFunc) WeeklyEntries(ctx context.Context, w leaderboard.Week) ([]leaderboard.Entry, error) {
	return f(ctx, w)
}

type mapCache struct {
	mu    sync.Mutex
	weeks map[string][]leaderboard.Entry
}

func newMapCache() *mapCache { return &mapCache{weeks: make(map[string][]leaderboard.Entry)} }

func (c *mapCache) UpdateEntry(_ context.Context, w leaderboard.Week, e leaderboard.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weeks[w.ID()] = append(c.weeks[w.ID()], e)
	return nil
}

func (c *mapCache) GetEntries(_ context.Context, w leaderboard.Week) ([]leaderboard.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.weeks[w.ID()]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return e, nil
}

func (c *mapCache) Rebuild(_ context.Context, r *leaderboard.Ranking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weeks[r.Week().ID()] = r.Entries()
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, w leaderboard.Week) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.weeks, w.ID())
	return nil
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestPollJob(t *testing.T) {
	boom := errors.New("upstream down")

	tests := []struct {
		name     string
		result   *command.PollSubmissionsResult
		err      error
		wantFail bool
	}{
		{"all ok", &command.PollSubmissionsResult{Users: make([]command.UserPollResult, 2)}, nil, false},
		{"partial failure", &command.PollSubmissionsResult{Users: make([]command.UserPollResult, 2), Failed: 1}, boom, false},
		{"all failed", &command.PollSubmissionsResult{Users: make([]command.UserPollResult, 2), Failed: 2}, boom, true},
		{"listing failed", &command.PollSubmissionsResult{}, boom, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			var gotCorrelation string
			job := NewPollJob(pollerFunc(func(_ context.Context, cmd command.PollSubmissionsCommand) (*command.PollSubmissionsResult, error) {
				gotCorrelation = cmd.CorrelationID
				return tt.result, tt.err
			}), deps)

			err := job.Run(context.Background())
			assert.NotEmpty(t, gotCorrelation)

			run, ok := deps.Tracker.Last(health.ComponentPoll)
			require.True(t, ok)
			if tt.wantFail {
				assert.ErrorIs(t, err, boom)
				assert.Equal(t, 1, run.Consecutive)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, now, run.LastOKAt)
			}
			require.NotNil(t, job.LastStats())
			assert.Equal(t, NamePoll, job.Name())
		})
	}
}

func TestRolloverJob_ClosesPreviousWeek(t *testing.T) {
	deps := testDeps()
	week := leaderboard.WeekOf(now).Prev()

	var got command.WeeklyRolloverCommand
	job := NewRolloverJob(closerFunc(func(_ context.Context, cmd command.WeeklyRolloverCommand) (*command.WeeklyRolloverResult, error) {
		got = cmd
		return &command.WeeklyRolloverResult{Report: &leaderboard.WeeklyReport{Week: week}, Created: true}, nil
	}), deps)

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, got.Week.IsZero())

	run, ok := deps.Tracker.Last(health.ComponentRollover)
	require.True(t, ok)
	assert.Empty(t, run.LastError)
}

func TestRolloverJob_RecordsFailure(t *testing.T) {
	deps := testDeps()
	job := NewRolloverJob(closerFunc(func(context.Context, command.WeeklyRolloverCommand) (*command.WeeklyRolloverResult, error) {
		return nil, shared.ErrLockTimeout
	}), deps)

	assert.ErrorIs(t, job.Run(context.Background()), shared.ErrLockTimeout)
	run, _ := deps.Tracker.Last(health.ComponentRollover)
	assert.Equal(t, 1, run.Consecutive)
}

func TestSyncProblemsJob(t *testing.T) {
	deps := testDeps()
	job := NewSyncProblemsJob(syncerFunc(func(context.Context) (*command.SyncProblemsResult, error) {
		return &command.SyncProblemsResult{Problems: 10}, nil
	}), deps)

	require.NoError(t, job.Run(context.Background()))
	_, ok := deps.Tracker.Last(health.ComponentProblemSync)
	assert.True(t, ok)
	assert.Equal(t, &command.SyncProblemsResult{Problems: 10}, job.LastStats().Detail)
}

func TestRefreshRatingsJob(t *testing.T) {
	deps := testDeps()
	var got command.RefreshRatingsCommand
	job := NewRefreshRatingsJob(refresherFunc(func(_ context.Context, cmd command.RefreshRatingsCommand) (*command.RefreshRatingsResult, error) {
		got = cmd
		return &command.RefreshRatingsResult{Updated: 3, Failed: 1}, nil
	}), deps)

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, got.UserID)
	_, ok := deps.Tracker.Last(health.ComponentRatingSync)
	assert.True(t, ok)
}

func TestRebuildRankingJob(t *testing.T) {
	week := leaderboard.WeekOf(now)
	entries := []leaderboard.Entry{
		{UserID: "u1", Handle: "tourist", Score: 500, ScoreUpdatedAt: now.Add(-time.Hour)},
		{UserID: "u2", Handle: "chokudai", Score: 300, ScoreUpdatedAt: now.Add(-2 * time.Hour)},
	}
	var asked leaderboard.Week
	store := entriesFunc(func(_ context.Context, w leaderboard.Week) ([]leaderboard.Entry, error) {
		asked = w
		return entries, nil
	})
	cache := newMapCache()

	job := NewRebuildRankingJob(store, cache, testDeps())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, week.ID(), asked.ID())

	stats := job.LastStats().Detail.(*RebuildStats)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Drift)
	assert.True(t, stats.TopChanged)

	cached, err := cache.GetEntries(context.Background(), week)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, shared.UserID("u1"), cached[0].UserID)

	// второй прогон: кеш уже совпадает
	require.NoError(t, job.Run(context.Background()))
	stats = job.LastStats().Detail.(*RebuildStats)
	assert.Zero(t, stats.Drift)
	assert.False(t, stats.TopChanged)
}

func TestRebuildRankingJob_StoreError(t *testing.T) {
	boom := errors.New("db down")
	job := NewRebuildRankingJob(entriesFunc(func(context.Context, leaderboard.Week) ([]leaderboard.Entry, error) {
		return nil, boom
	}), newMapCache(), testDeps())

	assert.ErrorIs(t, job.Run(context.Background()), boom)
}

func TestHealthCheckJob(t *testing.T) {
	status := &query.HealthStatusDTO{Healthy: true, DatabaseOK: true, CurrentWeek: "2024-03-04"}
	job := NewHealthCheckJob(reporterFunc(func(context.Context) *query.HealthStatusDTO { return status }), testDeps())

	assert.NoError(t, job.Run(context.Background()))

	status.Healthy = false
	assert.NoError(t, job.Run(context.Background()))

	status.DatabaseOK = false
	status.DatabaseErr = "connection refused"
	assert.ErrorIs(t, job.Run(context.Background()), ErrUnhealthy)
	assert.Nil(t, job.LastStats().Detail.(*HealthCheckDetail).Bus)
}

func TestHealthCheckJob_BusCounters(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{EnableMetrics: true, Logger: logger.Nop()})
	defer bus.Close()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.Publish(shared.NewUserDeactivatedEvent("u1", time.Now())))

	status := &query.HealthStatusDTO{Healthy: true, DatabaseOK: true}
	job := NewHealthCheckJob(reporterFunc(func(context.Context) *query.HealthStatusDTO { return status }), testDeps()).
		WithBus(bus)
	require.NoError(t, job.Run(context.Background()))

	detail := job.LastStats().Detail.(*HealthCheckDetail)
	assert.Same(t, status, detail.Status)
	require.NotNil(t, detail.Bus)
	assert.Equal(t, int64(1), detail.Bus.TotalPublished)
	assert.Equal(t, int64(1), detail.Bus.HandlerFailures)
}
