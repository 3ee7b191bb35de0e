// Package leaderboard содержит доменную модель недельного рейтинга.
// Рейтинг строится по сумме финальных очков за неделю; при равенстве очков
// выше стоит тот, кто набрал эту сумму раньше.
package leaderboard

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEK
// ══════════════════════════════════════════════════════════════════════════════

// Week - недельная корзина. Начинается в понедельник 07:00 JST.
type Week struct {
	start time.Time
}

// WeekOf возвращает неделю, в которую попадает момент t.
func WeekOf(t time.Time) Week {
	return Week{start: timeutil.WeekStart(t)}
}

// ParseWeek разбирает идентификатор недели вида "2024-03-04".
func ParseWeek(id string) (Week, error) {
	d, err := timeutil.ParseDate(id)
	if err != nil || d.IsZero() {
		return Week{}, shared.ErrInvalidWeek
	}
	start := time.Date(d.Year, d.Month, d.Day, timeutil.WeekStartHour, 0, 0, 0, timeutil.JST)
	if start.Weekday() != timeutil.WeekStartWeekday {
		return Week{}, shared.ErrInvalidWeek
	}
	return Week{start: start.UTC()}, nil
}

// ID - стабильный идентификатор недели: дата понедельника по JST.
func (w Week) ID() string {
	return timeutil.FormatJST(w.start, timeutil.FormatDate)
}

// Start - начало недели (UTC).
func (w Week) Start() time.Time { return w.start }

// End - начало следующей недели (не включительно).
func (w Week) End() time.Time { return w.start.Add(timeutil.Week) }

// Next возвращает следующую неделю.
func (w Week) Next() Week { return Week{start: w.End()} }

// Prev возвращает предыдущую неделю.
func (w Week) Prev() Week { return Week{start: w.start.Add(-timeutil.Week)} }

// Contains проверяет, что t попадает в неделю.
func (w Week) Contains(t time.Time) bool {
	return !t.Before(w.start) && t.Before(w.End())
}

// IsZero - неделя не задана.
func (w Week) IsZero() bool { return w.start.IsZero() }

func (w Week) String() string { return w.ID() }

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry - одна строка рейтинга.
type Entry struct {
	Rank           shared.Rank
	UserID         shared.UserID
	Handle         shared.Handle
	Score          int
	ScoreUpdatedAt time.Time
}

// ranksBefore задаёт порядок: очки по убыванию, затем время достижения
// очков по возрастанию. UserID участвует только для стабильного вывода
// полностью равных строк.
func ranksBefore(a, b *Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.ScoreUpdatedAt.Equal(b.ScoreUpdatedAt) {
		return a.ScoreUpdatedAt.Before(b.ScoreUpdatedAt)
	}
	return a.UserID < b.UserID
}

// tied - строки делят место только при равных очках и равном времени.
func tied(a, b *Entry) bool {
	return a.Score == b.Score && a.ScoreUpdatedAt.Equal(b.ScoreUpdatedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilEntry      = errors.New("leaderboard: nil entry")
	ErrDuplicateUser = errors.New("leaderboard: duplicate user in ranking")
)

// Ranking - отсортированный рейтинг одной недели.
type Ranking struct {
	week    Week
	entries []*Entry
	byID    map[shared.UserID]*Entry
}

// NewRanking создаёт пустой рейтинг для недели.
func NewRanking(week Week) *Ranking {
	return &Ranking{
		week:    week,
		entries: make([]*Entry, 0),
		byID:    make(map[shared.UserID]*Entry),
	}
}

// Build собирает и сортирует рейтинг из набора строк.
func Build(week Week, entries []Entry) (*Ranking, error) {
	r := NewRanking(week)
	for i := range entries {
		e := entries[i]
		if err := r.Add(&e); err != nil {
			return nil, err
		}
	}
	r.Sort()
	return r, nil
}

// Add добавляет строку (без сортировки).
func (r *Ranking) Add(entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	if _, exists := r.byID[entry.UserID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, entry.UserID)
	}
	r.entries = append(r.entries, entry)
	r.byID[entry.UserID] = entry
	return nil
}

// Sort сортирует строки и проставляет места. Равные строки получают одно
// место, следующее место пропускается (1, 1, 3).
func (r *Ranking) Sort() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		return ranksBefore(r.entries[i], r.entries[j])
	})
	for i, e := range r.entries {
		if i > 0 && tied(e, r.entries[i-1]) {
			e.Rank = r.entries[i-1].Rank
			continue
		}
		e.Rank = shared.Rank(i + 1)
	}
}

// Week возвращает неделю рейтинга.
func (r *Ranking) Week() Week { return r.week }

// Get возвращает строку пользователя или nil.
func (r *Ranking) Get(userID shared.UserID) *Entry { return r.byID[userID] }

// RankOf возвращает место пользователя (0 - нет в рейтинге).
func (r *Ranking) RankOf(userID shared.UserID) shared.Rank {
	if e := r.byID[userID]; e != nil {
		return e.Rank
	}
	return 0
}

// TopUsers возвращает всех пользователей на первом месте.
func (r *Ranking) TopUsers() []shared.UserID {
	out := make([]shared.UserID, 0, 1)
	for _, e := range r.entries {
		if e.Rank != 1 {
			break
		}
		out = append(out, e.UserID)
	}
	return out
}

// Top возвращает первые n строк.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = *r.entries[i]
	}
	return out
}

// Entries возвращает копию всех строк в порядке рейтинга.
func (r *Ranking) Entries() []Entry { return r.Top(0) }

// Count - число участников.
func (r *Ranking) Count() int { return len(r.entries) }

// TotalScore - сумма очков всех участников.
func (r *Ranking) TotalScore() int {
	total := 0
	for _, e := range r.entries {
		total += e.Score
	}
	return total
}
