// Package eventhandler содержит обработчики доменных событий.
// Обработчики - реактивная часть системы: они обновляют кеш рейтинга
// и превращают факты движка в сообщения для каналов.
package eventhandler

import (
	"context"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/notification"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// RANKING CACHE HANDLER
// Держит кеш текущего рейтинга в актуальном состоянии.
// Источник истины - хранилище; кеш можно потерять в любой момент.
// ═══════════════════════════════════════════════════════════════════════════

// RankingCacheHandler обновляет кеш рейтинга по событиям.
type RankingCacheHandler struct {
	cache  leaderboard.Cache
	clock  timeutil.Clock
	logger *logger.Logger
}

// NewRankingCacheHandler создаёт обработчик.
func NewRankingCacheHandler(cache leaderboard.Cache, clock timeutil.Clock, log *logger.Logger) *RankingCacheHandler {
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RankingCacheHandler{
		cache:  cache,
		clock:  clock,
		logger: log.With(logger.Component("ranking_cache_handler")),
	}
}

// OnSubmissionScored записывает новую сумму недели пользователя.
func (h *RankingCacheHandler) OnSubmissionScored(event shared.Event) error {
	p := event.Payload()
	week, err := leaderboard.ParseWeek(notification.String(p, "week"))
	if err != nil {
		h.logger.Warn("scored event without a valid week", logger.String("week", notification.String(p, "week")))
		return nil
	}

	entry := leaderboard.Entry{
		UserID:         shared.UserID(event.AggregateID()),
		Handle:         shared.Handle(notification.String(p, "handle")),
		Score:          notification.Int(p, "weekly_score"),
		ScoreUpdatedAt: event.OccurredAt(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.cache.UpdateEntry(ctx, week, entry)
}

// OnWeeklyReportCreated сбрасывает закрытую неделю: её отдаёт отчёт.
func (h *RankingCacheHandler) OnWeeklyReportCreated(event shared.Event) error {
	week, err := leaderboard.ParseWeek(event.AggregateID())
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.cache.Invalidate(ctx, week)
}

// OnMembershipChanged сбрасывает текущую неделю: состав участников изменился.
func (h *RankingCacheHandler) OnMembershipChanged(event shared.Event) error {
	week := leaderboard.WeekOf(h.clock.Now())
	h.logger.Debug("membership changed, invalidating ranking",
		logger.String("event_type", string(event.EventType())),
		logger.UserID(event.AggregateID()),
		logger.WeekID(week.ID()),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.cache.Invalidate(ctx, week)
}
