package leaderboard

import (
	"slices"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY REPORT
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyReport - неизменяемый снимок рейтинга закрытой недели.
// Создаётся ровно один раз на неделю.
type WeeklyReport struct {
	Week         Week
	CreatedAt    time.Time
	Entries      []Entry
	Participants int
	TotalScore   int
	Winners      []shared.UserID
}

// NewWeeklyReport делает снимок рейтинга.
func NewWeeklyReport(r *Ranking, at time.Time) *WeeklyReport {
	return &WeeklyReport{
		Week:         r.Week(),
		CreatedAt:    at,
		Entries:      r.Entries(),
		Participants: r.Count(),
		TotalScore:   r.TotalScore(),
		Winners:      r.TopUsers(),
	}
}

// WinningScore - очки победителя (0, если участников не было).
func (w *WeeklyReport) WinningScore() int {
	if len(w.Entries) == 0 {
		return 0
	}
	return w.Entries[0].Score
}

// ══════════════════════════════════════════════════════════════════════════════
// DIFF
// ══════════════════════════════════════════════════════════════════════════════

// RankMove - изменение места одного пользователя.
type RankMove struct {
	UserID  shared.UserID
	OldRank shared.Rank // 0 - раньше не было в рейтинге
	NewRank shared.Rank
	Score   int
}

// Diff - разница между двумя состояниями рейтинга одной недели.
type Diff struct {
	Moves       []RankMove
	TopChanged  bool
	PreviousTop []shared.UserID
	CurrentTop  []shared.UserID
}

// HasChanges - изменилось ли что-нибудь.
func (d Diff) HasChanges() bool {
	return len(d.Moves) > 0 || d.TopChanged
}

// CalculateDiff сравнивает два рейтинга. old может быть nil.
func CalculateDiff(old, current *Ranking) Diff {
	d := Diff{CurrentTop: current.TopUsers()}
	if old != nil {
		d.PreviousTop = old.TopUsers()
	}

	for _, e := range current.entries {
		var prev shared.Rank
		if old != nil {
			prev = old.RankOf(e.UserID)
		}
		if prev != e.Rank {
			d.Moves = append(d.Moves, RankMove{
				UserID:  e.UserID,
				OldRank: prev,
				NewRank: e.Rank,
				Score:   e.Score,
			})
		}
	}

	d.TopChanged = !sameUsers(d.PreviousTop, d.CurrentTop)
	return d
}

func sameUsers(a, b []shared.UserID) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
