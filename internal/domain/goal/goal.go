// Package goal содержит недельные цели пользователей и их вехи.
package goal

import (
	"context"
	"slices"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// Milestones - вехи в процентах от цели, по возрастанию.
var Milestones = []int{25, 50, 75, 100}

// Goal - целевое количество очков пользователя на неделю.
type Goal struct {
	UserID    shared.UserID
	Week      string
	Target    int
	Notified  []int // уже отправленные вехи
	UpdatedAt time.Time
}

// New создаёт цель. Цель должна быть положительной.
func New(userID shared.UserID, week string, target int, at time.Time) (*Goal, error) {
	if target <= 0 {
		return nil, shared.ErrInvalidGoalTarget
	}
	return &Goal{UserID: userID, Week: week, Target: target, UpdatedAt: at}, nil
}

// Percent - процент выполнения (может превышать 100).
func (g *Goal) Percent(score int) float64 {
	if g.Target <= 0 {
		return 0
	}
	return float64(score) / float64(g.Target) * 100
}

// IsNotified проверяет, была ли веха уже отправлена.
func (g *Goal) IsNotified(milestone int) bool {
	return slices.Contains(g.Notified, milestone)
}

// Reached возвращает наивысшую достигнутую и ещё не отправленную веху.
// ok=false, если отправлять нечего.
func (g *Goal) Reached(score int) (milestone int, ok bool) {
	pct := g.Percent(score)
	for i := len(Milestones) - 1; i >= 0; i-- {
		m := Milestones[i]
		if pct < float64(m) {
			continue
		}
		if g.IsNotified(m) {
			return 0, false
		}
		return m, true
	}
	return 0, false
}

// Mark отмечает веху и все вехи ниже неё как отправленные.
func (g *Goal) Mark(milestone int, at time.Time) {
	for _, m := range Milestones {
		if m <= milestone && !g.IsNotified(m) {
			g.Notified = append(g.Notified, m)
		}
	}
	slices.Sort(g.Notified)
	g.UpdatedAt = at
}

// Repository - хранилище целей.
type Repository interface {
	// SaveGoal создаёт или заменяет цель; отметки вех сбрасываются при смене цели.
	SaveGoal(ctx context.Context, g *Goal) error

	// GetGoal возвращает ErrGoalNotFound, если цели нет.
	GetGoal(ctx context.Context, userID shared.UserID, week string) (*Goal, error)

	DeleteGoal(ctx context.Context, userID shared.UserID, week string) error

	// MarkGoal сохраняет отметки вех.
	MarkGoal(ctx context.Context, g *Goal) error
}
