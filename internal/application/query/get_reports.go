package query

import (
	"context"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY REPORTS
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyReportDTO - отчёт закрытой недели.
type WeeklyReportDTO struct {
	Week         string            `json:"week"`
	WeekStart    time.Time         `json:"week_start"`
	CreatedAt    time.Time         `json:"created_at"`
	Participants int               `json:"participants"`
	TotalScore   int               `json:"total_score"`
	WinningScore int               `json:"winning_score"`
	Winners      []string          `json:"winners"`
	Entries      []RankingEntryDTO `json:"entries,omitempty"`
}

// ReportsHandler отдаёт недельные отчёты.
type ReportsHandler struct {
	repo leaderboard.Repository
}

// NewReportsHandler создаёт обработчик.
func NewReportsHandler(repo leaderboard.Repository) *ReportsHandler {
	return &ReportsHandler{repo: repo}
}

// Get возвращает отчёт недели. Неизвестная неделя - ErrInvalidWeek,
// незакрытая - ErrReportNotFound.
func (h *ReportsHandler) Get(ctx context.Context, weekID string) (*WeeklyReportDTO, error) {
	week, err := leaderboard.ParseWeek(weekID)
	if err != nil {
		return nil, err
	}
	r, err := h.repo.GetReport(ctx, week)
	if err != nil {
		return nil, err
	}
	dto := toReportDTO(r, true)
	return &dto, nil
}

// List возвращает последние отчёты без строк, новые первыми.
func (h *ReportsHandler) List(ctx context.Context, limit int) ([]WeeklyReportDTO, error) {
	if limit <= 0 || limit > 52 {
		limit = 10
	}
	reports, err := h.repo.ListReports(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]WeeklyReportDTO, len(reports))
	for i, r := range reports {
		out[i] = toReportDTO(r, false)
	}
	return out, nil
}

func toReportDTO(r *leaderboard.WeeklyReport, withEntries bool) WeeklyReportDTO {
	dto := WeeklyReportDTO{
		Week:         r.Week.ID(),
		WeekStart:    r.Week.Start(),
		CreatedAt:    r.CreatedAt,
		Participants: r.Participants,
		TotalScore:   r.TotalScore,
		WinningScore: r.WinningScore(),
		Winners:      make([]string, len(r.Winners)),
	}
	for i, id := range r.Winners {
		dto.Winners[i] = id.String()
	}
	if withEntries {
		dto.Entries = make([]RankingEntryDTO, len(r.Entries))
		for i, e := range r.Entries {
			dto.Entries[i] = toEntryDTO(e)
		}
	}
	return dto
}
