// Package notification содержит модель сообщений, которые подписчики
// движка отправляют в каналы: начисления, вехи целей, стрики, недельные итоги.
// Движок сам ничего не отправляет, он только публикует события.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type определяет тип уведомления.
type Type string

const (
	// TypeAccepted - зачтённый AC.
	// "🎉 tourist +264 (abc300_p, 🩵 1203) streak 1"
	TypeAccepted Type = "accepted"

	// TypeStreakRole - стрик пересёк порог роли.
	// "🔥 tourist keeps a 7-day streak"
	TypeStreakRole Type = "streak_role"

	// TypeGoalMilestone - достигнута веха недельной цели.
	// "📊 tourist reached 50% of the weekly goal (264/528)"
	TypeGoalMilestone Type = "goal_milestone"

	// TypeTopChanged - сменился лидер недели.
	TypeTopChanged Type = "top_changed"

	// TypeWeeklyReport - итоги закрытой недели.
	TypeWeeklyReport Type = "weekly_report"

	// TypeWinner - победители недели.
	TypeWinner Type = "winner"
)

// Emoji возвращает эмодзи для типа.
func (t Type) Emoji() string {
	switch t {
	case TypeAccepted:
		return "🎉"
	case TypeStreakRole:
		return "🔥"
	case TypeGoalMilestone:
		return "📊"
	case TypeTopChanged:
		return "👑"
	case TypeWeeklyReport:
		return "📈"
	case TypeWinner:
		return "🏆"
	default:
		return "📬"
	}
}

func (t Type) String() string { return string(t) }

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY
// ══════════════════════════════════════════════════════════════════════════════

// Priority определяет приоритет уведомления.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

// PriorityOf - приоритет AC по уровню оформления (tier).
func PriorityOf(tier string) Priority {
	switch tier {
	case "top", "high":
		return PriorityHigh
	case "mid":
		return PriorityNormal
	default:
		return PriorityLow
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Notification - одно сообщение в канал.
type Notification struct {
	ID        string
	Type      Type
	ChannelID string
	// UserID - упомянутый пользователь; пусто для общих сообщений.
	UserID   shared.UserID
	Priority Priority
	Text     string
	// UseAIText - отправитель может заменить Text на сгенерированный.
	UseAIText bool
	// Data - поля события для отправителей, которые форматируют сами.
	Data      map[string]interface{}
	CreatedAt time.Time
}

var (
	ErrNoChannel = errors.New("notification: channel is not configured")
	ErrEmptyText = errors.New("notification: text is empty")
)

// Validate проверяет, что уведомление можно отправить.
func (n *Notification) Validate() error {
	if n.ChannelID == "" {
		return ErrNoChannel
	}
	if n.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// Sender доставляет уведомления. Реализации: журнал, webhook.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}
