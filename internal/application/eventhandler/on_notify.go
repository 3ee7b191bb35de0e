package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/notification"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFY HANDLER
// Превращает события движка в сообщения для каналов из настроек.
// AC, вехи целей и стрики идут в канал уведомлений, лидер и итоги недели -
// в канал рейтинга. Если канал не настроен, сообщение пропускается.
// ═══════════════════════════════════════════════════════════════════════════

// NotifyStore - чтение настроек и пользователей.
type NotifyStore interface {
	settings.Repository
	GetUser(ctx context.Context, id shared.UserID) (*user.User, error)
}

// NotifyHandler формирует и отправляет уведомления.
type NotifyHandler struct {
	store  NotifyStore
	sender notification.Sender
	logger *logger.Logger
}

// NewNotifyHandler создаёт обработчик.
func NewNotifyHandler(store NotifyStore, sender notification.Sender, log *logger.Logger) *NotifyHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &NotifyHandler{
		store:  store,
		sender: sender,
		logger: log.With(logger.Component("notify_handler")),
	}
}

// Handle реализует shared.EventHandler.
func (h *NotifyHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := h.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}

	n, err := h.build(ctx, st, event)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}
	if err := n.Validate(); err != nil {
		h.logger.Debug("notification skipped",
			logger.String("type", n.Type.String()),
			logger.Err(err),
		)
		return nil
	}
	if err := h.sender.Send(ctx, n); err != nil {
		return fmt.Errorf("send %s notification: %w", n.Type, err)
	}
	return nil
}

func (h *NotifyHandler) build(ctx context.Context, st settings.Settings, event shared.Event) (*notification.Notification, error) {
	p := event.Payload()
	n := &notification.Notification{
		ID:        uuid.NewString(),
		Priority:  notification.PriorityNormal,
		Data:      p,
		CreatedAt: event.OccurredAt(),
	}

	switch event.EventType() {
	case shared.EventSubmissionScored:
		n.Type = notification.TypeAccepted
		n.ChannelID = st.NotifyChannelID
		n.UserID = shared.UserID(event.AggregateID())
		n.Priority = notification.PriorityOf(notification.String(p, "tier"))
		n.Text = notification.FormatAccepted(p)
		n.UseAIText = notification.Bool(p, "use_ai_text")

	case shared.EventStreakThresholdCrossed:
		handle, err := h.handle(ctx, event.AggregateID())
		if err != nil {
			return nil, err
		}
		n.Type = notification.TypeStreakRole
		n.ChannelID = st.NotifyChannelID
		n.UserID = shared.UserID(event.AggregateID())
		n.Text = notification.FormatStreakRole(handle, p)
		n.Data = withRole(p, st.StreakRoleID)

	case shared.EventGoalMilestoneReached:
		handle, err := h.handle(ctx, event.AggregateID())
		if err != nil {
			return nil, err
		}
		n.Type = notification.TypeGoalMilestone
		n.ChannelID = st.NotifyChannelID
		n.UserID = shared.UserID(event.AggregateID())
		n.Text = notification.FormatGoalMilestone(handle, p)

	case shared.EventTopRankChanged:
		current := notification.Strings(p, "current")
		if len(current) == 0 {
			return nil, nil
		}
		n.Type = notification.TypeTopChanged
		n.ChannelID = st.RankChannelID
		n.Priority = notification.PriorityHigh
		n.Text = notification.FormatTopChanged(h.handles(ctx, current))

	case shared.EventWeeklyReportCreated:
		n.Type = notification.TypeWeeklyReport
		n.ChannelID = st.RankChannelID
		n.Text = notification.FormatWeeklyReport(p)
		n.UseAIText = notification.Bool(p, "use_ai_text")

	case shared.EventWeeklyWinnerDecided:
		n.Type = notification.TypeWinner
		n.ChannelID = st.RankChannelID
		n.Priority = notification.PriorityHigh
		n.Text = notification.FormatWinners(notification.String(p, "week"),
			h.handles(ctx, notification.Strings(p, "winners")), notification.Int(p, "score"))
		n.Data = withRole(p, st.WeeklyRoleID)

	default:
		return nil, nil
	}
	return n, nil
}

func (h *NotifyHandler) handle(ctx context.Context, userID string) (string, error) {
	u, err := h.store.GetUser(ctx, shared.UserID(userID))
	if err != nil {
		return "", fmt.Errorf("get user %s: %w", userID, err)
	}
	return u.Handle.String(), nil
}

// handles подставляет хендлы; неизвестные id остаются как есть.
func (h *NotifyHandler) handles(ctx context.Context, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id
		if name, err := h.handle(ctx, id); err == nil {
			out[i] = name
		}
	}
	return out
}

func withRole(p map[string]interface{}, roleID string) map[string]interface{} {
	if roleID == "" {
		return p
	}
	out := make(map[string]interface{}, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out["role_id"] = roleID
	return out
}
