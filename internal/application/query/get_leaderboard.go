// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET RANKING QUERY
// Недельный рейтинг. Текущая неделя читается из кеша (если он включён),
// закрытая неделя - из неизменяемого отчёта.
// ══════════════════════════════════════════════════════════════════════════════

// GetRankingQuery содержит параметры запроса рейтинга.
type GetRankingQuery struct {
	// Week - идентификатор недели ("2024-03-04"); пусто = текущая неделя.
	Week string

	// Limit - количество записей (по умолчанию 20, максимум 100).
	Limit int

	// Offset - смещение для пагинации.
	Offset int
}

// Validate проверяет корректность параметров запроса.
func (q *GetRankingQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	return nil
}

// RankingEntryDTO - строка рейтинга.
type RankingEntryDTO struct {
	Rank           int       `json:"rank"`
	UserID         string    `json:"user_id"`
	Handle         string    `json:"handle"`
	Score          int       `json:"score"`
	ScoreUpdatedAt time.Time `json:"score_updated_at"`
}

// GetRankingResult содержит результат запроса рейтинга.
type GetRankingResult struct {
	Week       string            `json:"week"`
	WeekStart  time.Time         `json:"week_start"`
	WeekEnd    time.Time         `json:"week_end"`
	Closed     bool              `json:"closed"`
	Entries    []RankingEntryDTO `json:"entries"`
	TopUsers   []string          `json:"top_users"`
	TotalCount int               `json:"total_count"`
	TotalScore int               `json:"total_score"`
	HasMore    bool              `json:"has_more"`

	// Source - откуда прочитаны строки: "cache", "store" или "report".
	Source      string    `json:"source"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GetRankingHandler обрабатывает запросы рейтинга.
type GetRankingHandler struct {
	repo  leaderboard.Repository
	cache leaderboard.Cache
	clock timeutil.Clock
	log   *logger.Logger
}

// NewGetRankingHandler создаёт обработчик. cache может быть nil.
func NewGetRankingHandler(repo leaderboard.Repository, cache leaderboard.Cache, clock timeutil.Clock, log *logger.Logger) *GetRankingHandler {
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetRankingHandler{repo: repo, cache: cache, clock: clock, log: log.With(logger.Component("ranking_query"))}
}

// Handle выполняет запрос.
func (h *GetRankingHandler) Handle(ctx context.Context, q GetRankingQuery) (*GetRankingResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetRanking", shared.ErrInvalidInput, err.Error(), err)
	}

	now := h.clock.Now()
	week := leaderboard.WeekOf(now)
	if q.Week != "" {
		w, err := leaderboard.ParseWeek(q.Week)
		if err != nil {
			return nil, err
		}
		week = w
	}

	// Закрытая неделя отдаётся из отчёта
	if !now.Before(week.End()) {
		report, err := h.repo.GetReport(ctx, week)
		switch {
		case err == nil:
			r, err := leaderboard.Build(week, report.Entries)
			if err != nil {
				return nil, err
			}
			return h.buildResult(r, q, true, "report", now), nil
		case !errors.Is(err, shared.ErrNotFound):
			return nil, fmt.Errorf("failed to get report: %w", err)
		}
	}

	ranking, source, err := h.load(ctx, week)
	if err != nil {
		return nil, err
	}
	return h.buildResult(ranking, q, false, source, now), nil
}

// Ranking возвращает полный рейтинг недели без пагинации.
func (h *GetRankingHandler) Ranking(ctx context.Context, week leaderboard.Week) (*leaderboard.Ranking, error) {
	r, _, err := h.load(ctx, week)
	return r, err
}

// load читает строки из кеша, при промахе - из хранилища с прогревом кеша.
func (h *GetRankingHandler) load(ctx context.Context, week leaderboard.Week) (*leaderboard.Ranking, string, error) {
	if h.cache != nil {
		entries, err := h.cache.GetEntries(ctx, week)
		if err == nil {
			r, err := leaderboard.Build(week, entries)
			if err == nil {
				return r, "cache", nil
			}
		}
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			h.log.Warn("ranking cache read failed", logger.WeekID(week.ID()), logger.Err(err))
		}
	}

	entries, err := h.repo.WeeklyEntries(ctx, week)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get weekly entries: %w", err)
	}
	r, err := leaderboard.Build(week, entries)
	if err != nil {
		return nil, "", err
	}

	if h.cache != nil {
		if err := h.cache.Rebuild(ctx, r); err != nil {
			h.log.Warn("ranking cache rebuild failed", logger.WeekID(week.ID()), logger.Err(err))
		}
	}
	return r, "store", nil
}

// buildResult формирует итоговый результат.
func (h *GetRankingHandler) buildResult(r *leaderboard.Ranking, q GetRankingQuery, closed bool, source string, now time.Time) *GetRankingResult {
	all := r.Entries()
	page := paginate(all, q.Offset, q.Limit)

	dtos := make([]RankingEntryDTO, len(page))
	for i, e := range page {
		dtos[i] = toEntryDTO(e)
	}

	top := r.TopUsers()
	topIDs := make([]string, len(top))
	for i, id := range top {
		topIDs[i] = id.String()
	}

	return &GetRankingResult{
		Week:        r.Week().ID(),
		WeekStart:   r.Week().Start(),
		WeekEnd:     r.Week().End(),
		Closed:      closed,
		Entries:     dtos,
		TopUsers:    topIDs,
		TotalCount:  len(all),
		TotalScore:  r.TotalScore(),
		HasMore:     q.Offset+len(page) < len(all),
		Source:      source,
		GeneratedAt: now,
	}
}

func toEntryDTO(e leaderboard.Entry) RankingEntryDTO {
	return RankingEntryDTO{
		Rank:           e.Rank.Int(),
		UserID:         e.UserID.String(),
		Handle:         e.Handle.String(),
		Score:          e.Score,
		ScoreUpdatedAt: e.ScoreUpdatedAt,
	}
}

// paginate применяет пагинацию к записям.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
