package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/scoring"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER STATUS QUERY
// Профиль участника: стрик, очки недели, место, цель и последние начисления.
// ══════════════════════════════════════════════════════════════════════════════

// UserStatusReader - всё, что нужно для профиля.
type UserStatusReader interface {
	user.Repository
	submission.Repository
	leaderboard.Repository
	goal.Repository
}

// GoalDTO - цель недели с прогрессом.
type GoalDTO struct {
	Target    int     `json:"target"`
	Current   int     `json:"current"`
	Percent   float64 `json:"percent"`
	Notified  []int   `json:"notified_milestones"`
	Completed bool    `json:"completed"`
}

// RecordDTO - одно начисление.
type RecordDTO struct {
	SubmissionID int64     `json:"submission_id"`
	ProblemID    string    `json:"problem_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Week         string    `json:"week"`
	BaseScore    int       `json:"base_score"`
	Multiplier   float64   `json:"multiplier"`
	FinalScore   int       `json:"final_score"`
	Streak       int       `json:"streak"`
}

// UserStatusDTO - профиль участника.
type UserStatusDTO struct {
	UserID      string      `json:"user_id"`
	Handle      string      `json:"handle"`
	Active      bool        `json:"active"`
	Rating      *int        `json:"rating,omitempty"`
	RatingColor string      `json:"rating_color,omitempty"`
	Streak      int         `json:"streak"`
	LastACDay   string      `json:"last_ac_day,omitempty"`
	// Multiplier applies to the next AC if it lands today.
	Multiplier  float64     `json:"next_multiplier"`
	Week        string      `json:"week"`
	WeeklyScore int         `json:"weekly_score"`
	Rank        int         `json:"rank"`
	Goal        *GoalDTO    `json:"goal,omitempty"`
	Recent      []RecordDTO `json:"recent"`
}

// UserStatusHandler обрабатывает запрос профиля.
type UserStatusHandler struct {
	store   UserStatusReader
	ranking *GetRankingHandler
	clock   timeutil.Clock
}

// NewUserStatusHandler создаёт обработчик.
func NewUserStatusHandler(store UserStatusReader, ranking *GetRankingHandler, clock timeutil.Clock) *UserStatusHandler {
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	return &UserStatusHandler{store: store, ranking: ranking, clock: clock}
}

// Handle выполняет запрос. recent - сколько последних начислений вернуть.
func (h *UserStatusHandler) Handle(ctx context.Context, userID string, recent int) (*UserStatusDTO, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	if recent <= 0 || recent > 50 {
		recent = 10
	}

	u, err := h.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	week := leaderboard.WeekOf(now)

	st, err := h.store.GetStreak(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	// Стрик, не продлённый вчера или сегодня, уже сгорел
	today := timeutil.DateOf(now)
	current := st.Effective(today)
	next, _ := streak.Apply(st, today)

	score, err := h.store.WeeklyScore(ctx, week, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get weekly score: %w", err)
	}

	dto := &UserStatusDTO{
		UserID:      u.ID.String(),
		Handle:      u.Handle.String(),
		Active:      u.Active,
		Rating:      u.Rating,
		Streak:      current,
		LastACDay:   st.LastACDay.String(),
		Multiplier:  scoring.StreakMultiplier(next.Current),
		Week:        week.ID(),
		WeeklyScore: score,
	}
	if u.Rating != nil {
		dto.RatingColor = string(scoring.ColorOf(*u.Rating))
	}

	if h.ranking != nil && u.Active {
		r, err := h.ranking.Ranking(ctx, week)
		if err != nil {
			return nil, err
		}
		dto.Rank = r.RankOf(id).Int()
	}

	g, err := h.store.GetGoal(ctx, id, week.ID())
	switch {
	case err == nil:
		dto.Goal = &GoalDTO{
			Target:    g.Target,
			Current:   score,
			Percent:   g.Percent(score),
			Notified:  g.Notified,
			Completed: score >= g.Target,
		}
	case !errors.Is(err, shared.ErrNotFound):
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}

	records, err := h.store.ListRecords(ctx, id, recent)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	dto.Recent = make([]RecordDTO, len(records))
	for i, r := range records {
		dto.Recent[i] = RecordDTO{
			SubmissionID: r.SubmissionID,
			ProblemID:    r.ProblemID.String(),
			SubmittedAt:  r.SubmittedAt,
			Week:         r.Week,
			BaseScore:    r.BaseScore,
			Multiplier:   r.Multiplier,
			FinalScore:   r.FinalScore,
			Streak:       r.Streak,
		}
	}
	return dto, nil
}
