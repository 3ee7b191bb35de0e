package query

import (
	"context"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH STATUS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// HealthReader - минимальный доступ к хранилищу для статуса.
type HealthReader interface {
	Ping(ctx context.Context) error
	CountActiveUsers(ctx context.Context) (int, error)
	CountProblems(ctx context.Context) (int, error)
}

// HealthStatusDTO - состояние движка.
type HealthStatusDTO struct {
	Healthy      bool                `json:"healthy"`
	Uptime       string              `json:"uptime"`
	StartedAt    time.Time           `json:"started_at"`
	CurrentWeek  string              `json:"current_week"`
	DatabaseOK   bool                `json:"database_ok"`
	DatabaseErr  string              `json:"database_error,omitempty"`
	ActiveUsers  int                 `json:"active_users"`
	Problems     int                 `json:"problems"`
	LastPoll     *health.Run         `json:"last_poll,omitempty"`
	LastSync     *health.Run         `json:"last_problem_sync,omitempty"`
	LastRatings  *health.Run         `json:"last_rating_sync,omitempty"`
	LastRollover *health.Run         `json:"last_rollover,omitempty"`
	RecentErrors []health.ErrorEntry `json:"recent_errors"`
	CheckedAt    time.Time           `json:"checked_at"`
}

// HealthHandler собирает статус.
type HealthHandler struct {
	store   HealthReader
	tracker *health.Tracker
	clock   timeutil.Clock
}

// NewHealthHandler создаёт обработчик.
func NewHealthHandler(store HealthReader, tracker *health.Tracker, clock timeutil.Clock) *HealthHandler {
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	return &HealthHandler{store: store, tracker: tracker, clock: clock}
}

// Handle возвращает статус. Ошибки хранилища не прерывают запрос,
// а попадают в отчёт.
func (h *HealthHandler) Handle(ctx context.Context) *HealthStatusDTO {
	now := h.clock.Now()
	snap := h.tracker.Snapshot()

	dto := &HealthStatusDTO{
		Uptime:       now.Sub(snap.StartedAt).Truncate(time.Second).String(),
		StartedAt:    snap.StartedAt,
		CurrentWeek:  leaderboard.WeekOf(now).ID(),
		RecentErrors: snap.RecentErrors,
		CheckedAt:    now,
	}

	if err := h.store.Ping(ctx); err != nil {
		dto.DatabaseErr = err.Error()
	} else {
		dto.DatabaseOK = true
		if n, err := h.store.CountActiveUsers(ctx); err == nil {
			dto.ActiveUsers = n
		}
		if n, err := h.store.CountProblems(ctx); err == nil {
			dto.Problems = n
		}
	}

	dto.LastPoll = h.last(health.ComponentPoll)
	dto.LastSync = h.last(health.ComponentProblemSync)
	dto.LastRatings = h.last(health.ComponentRatingSync)
	dto.LastRollover = h.last(health.ComponentRollover)

	dto.Healthy = dto.DatabaseOK
	if dto.LastPoll != nil && dto.LastPoll.Consecutive >= 3 {
		dto.Healthy = false
	}
	return dto
}

func (h *HealthHandler) last(component string) *health.Run {
	r, ok := h.tracker.Last(component)
	if !ok {
		return nil
	}
	return &r
}
