package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/notification"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/memory"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// Tuesday 2024-03-05 10:00 JST, week 2024-03-04.
var now = time.Date(2024, time.March, 5, 1, 0, 0, 0, time.UTC)

type cacheCall struct {
	op    string
	week  string
	entry leaderboard.Entry
}

type spyCache struct {
	mu    sync.Mutex
	calls []cacheCall
	err   error
}

func (c *spyCache) record(call cacheCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.err
}

func (c *spyCache) UpdateEntry(_ context.Context, w leaderboard.Week, e leaderboard.Entry) error {
	return c.record(cacheCall{op: "update", week: w.ID(), entry: e})
}

func (c *spyCache) GetEntries(context.Context, leaderboard.Week) ([]leaderboard.Entry, error) {
	return nil, shared.ErrRankingNotCached
}

func (c *spyCache) Rebuild(_ context.Context, r *leaderboard.Ranking) error {
	return c.record(cacheCall{op: "rebuild", week: r.Week().ID()})
}

func (c *spyCache) Invalidate(_ context.Context, w leaderboard.Week) error {
	return c.record(cacheCall{op: "invalidate", week: w.ID()})
}

func scoredEvent() shared.SubmissionScoredEvent {
	d := 1203
	return shared.SubmissionScoredEvent{
		BaseEvent:         shared.NewBaseEvent(shared.EventSubmissionScored, "u1", now),
		Handle:            "tourist",
		ProblemID:         "abc300_p",
		ProblemTitle:      "P - Paths",
		ContestID:         "abc300",
		SubmissionID:      41000001,
		SubmittedAt:       now.Add(-time.Minute),
		Week:              "2024-03-04",
		DisplayDifficulty: &d,
		Rating:            1200,
		BaseScore:         251,
		Multiplier:        1.05,
		FinalScore:        264,
		Streak:            1,
		DifficultyColor:   "cyan",
		RatingColor:       "cyan",
		Tier:              "mid",
		WeeklyScore:       414,
		UseAIText:         true,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// RANKING CACHE
// ═══════════════════════════════════════════════════════════════════════════

func TestRankingCacheHandler_Scored(t *testing.T) {
	cache := &spyCache{}
	h := NewRankingCacheHandler(cache, timeutil.FixedClock(now), nil)

	require.NoError(t, h.OnSubmissionScored(scoredEvent()))
	require.Len(t, cache.calls, 1)
	call := cache.calls[0]
	assert.Equal(t, "update", call.op)
	assert.Equal(t, "2024-03-04", call.week)
	assert.Equal(t, shared.UserID("u1"), call.entry.UserID)
	assert.Equal(t, shared.Handle("tourist"), call.entry.Handle)
	assert.Equal(t, 414, call.entry.Score)
	assert.True(t, now.Equal(call.entry.ScoreUpdatedAt))

	cache.err = errors.New("redis down")
	assert.Error(t, h.OnSubmissionScored(scoredEvent()))
}

func TestRankingCacheHandler_Invalidation(t *testing.T) {
	cache := &spyCache{}
	h := NewRankingCacheHandler(cache, timeutil.FixedClock(now), nil)

	require.NoError(t, h.OnWeeklyReportCreated(shared.NewWeeklyReportCreatedEvent("2024-02-26", 2, 500, false, now)))
	require.NoError(t, h.OnWeeklyReportCreated(shared.NewWeeklyReportCreatedEvent("garbage", 2, 500, false, now)))
	require.NoError(t, h.OnMembershipChanged(shared.NewUserDeactivatedEvent("u1", now)))

	require.Len(t, cache.calls, 2)
	assert.Equal(t, cacheCall{op: "invalidate", week: "2024-02-26"}, cache.calls[0])
	assert.Equal(t, cacheCall{op: "invalidate", week: "2024-03-04"}, cache.calls[1])
}

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFY
// ═══════════════════════════════════════════════════════════════════════════

type spySender struct {
	sent []*notification.Notification
}

func (s *spySender) Send(_ context.Context, n *notification.Notification) error {
	s.sent = append(s.sent, n)
	return nil
}

func notifyFixture(t *testing.T, configure bool) (*NotifyHandler, *spySender) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for id, handle := range map[string]string{"u1": "tourist", "u2": "jiangly"} {
		u, err := user.New(shared.UserID(id), shared.Handle(handle), now)
		require.NoError(t, err)
		require.NoError(t, store.SaveUser(ctx, u))
	}
	if configure {
		st := settings.Default()
		st.NotifyChannelID = "notify-ch"
		st.RankChannelID = "rank-ch"
		st.StreakRoleID = "streak-role"
		st.WeeklyRoleID = "weekly-role"
		require.NoError(t, store.SaveSettings(ctx, st))
	}
	sender := &spySender{}
	return NewNotifyHandler(store, sender, nil), sender
}

func TestNotifyHandler_Accepted(t *testing.T) {
	h, sender := notifyFixture(t, true)

	require.NoError(t, h.Handle(scoredEvent()))
	require.Len(t, sender.sent, 1)
	n := sender.sent[0]
	assert.Equal(t, notification.TypeAccepted, n.Type)
	assert.Equal(t, "notify-ch", n.ChannelID)
	assert.Equal(t, shared.UserID("u1"), n.UserID)
	assert.Equal(t, notification.PriorityNormal, n.Priority)
	assert.True(t, n.UseAIText)
	assert.Contains(t, n.Text, "tourist +264")
	assert.Contains(t, n.Text, "P - Paths 🩵 1203")
	assert.Contains(t, n.Text, "https://atcoder.jp/contests/abc300/submissions/41000001")
}

func TestNotifyHandler_SkipsUnconfiguredChannel(t *testing.T) {
	h, sender := notifyFixture(t, false)
	require.NoError(t, h.Handle(scoredEvent()))
	assert.Empty(t, sender.sent)
}

func TestNotifyHandler_StreakAndGoal(t *testing.T) {
	h, sender := notifyFixture(t, true)

	require.NoError(t, h.Handle(shared.NewStreakThresholdCrossedEvent("u1", 7, 7, now)))
	require.NoError(t, h.Handle(shared.NewGoalMilestoneReachedEvent("u1", "2024-03-04", 50, 264, 528, now)))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "🔥 tourist keeps a 7-day streak", sender.sent[0].Text)
	assert.Equal(t, "streak-role", sender.sent[0].Data["role_id"])
	assert.Contains(t, sender.sent[1].Text, "reached 50% of the weekly goal (264/528)")

	err := h.Handle(shared.NewStreakThresholdCrossedEvent("ghost", 7, 7, now))
	assert.True(t, shared.IsNotFound(err))
}

func TestNotifyHandler_RankChannel(t *testing.T) {
	h, sender := notifyFixture(t, true)

	require.NoError(t, h.Handle(shared.NewTopRankChangedEvent("2024-03-04", []shared.UserID{"u1"}, []shared.UserID{"u2", "u9"}, now)))
	require.NoError(t, h.Handle(shared.NewWeeklyWinnerDecidedEvent("2024-02-26", []shared.UserID{"u2"}, 900, now)))
	require.NoError(t, h.Handle(shared.NewWeeklyReportCreatedEvent("2024-02-26", 3, 1500, false, now)))
	require.NoError(t, h.Handle(shared.NewRatingsRefreshedEvent(3, 0, now)))

	require.Len(t, sender.sent, 3)
	for _, n := range sender.sent {
		assert.Equal(t, "rank-ch", n.ChannelID)
	}
	assert.Equal(t, "👑 new weekly leader: jiangly, u9", sender.sent[0].Text)
	assert.Equal(t, "🏆 week 2024-02-26 winner: jiangly with 900 pts", sender.sent[1].Text)
	assert.Equal(t, "weekly-role", sender.sent[1].Data["role_id"])
	assert.Equal(t, "📈 week 2024-02-26 closed: 3 participants, 1500 pts in total", sender.sent[2].Text)
}

func TestSubscriptions(t *testing.T) {
	cache := NewRankingCacheHandler(&spyCache{}, nil, nil)
	h, _ := notifyFixture(t, true)

	assert.Len(t, Subscriptions(cache, h), 10)
	assert.Len(t, Subscriptions(nil, h), 6)
	assert.Empty(t, Subscriptions(nil, nil))
}
