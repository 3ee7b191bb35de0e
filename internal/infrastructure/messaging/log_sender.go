package messaging

import (
	"context"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/notification"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// LogSender пишет уведомления в журнал. Используется, пока к движку не
// подключён настоящий канал доставки.
type LogSender struct {
	logger *logger.Logger
}

// NewLogSender создаёт отправителя.
func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSender{logger: log.With(logger.Component("notifications"))}
}

// Send implements notification.Sender.
func (s *LogSender) Send(_ context.Context, n *notification.Notification) error {
	s.logger.Info(n.Text,
		logger.String("notification_id", n.ID),
		logger.String("type", n.Type.String()),
		logger.String("channel_id", n.ChannelID),
		logger.UserID(n.UserID.String()),
		logger.String("priority", n.Priority.String()),
		logger.Bool("use_ai_text", n.UseAIText),
	)
	return nil
}
