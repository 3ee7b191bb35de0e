package leaderboard

import (
	"context"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// Repository - хранилище недельных очков и отчётов.
type Repository interface {
	// WeeklyEntries возвращает строки недели только для активных пользователей,
	// без мест (места проставляет Ranking).
	WeeklyEntries(ctx context.Context, week Week) ([]Entry, error)

	// WeeklyScore возвращает очки пользователя за неделю (0, если нет строки).
	WeeklyScore(ctx context.Context, week Week, userID shared.UserID) (int, error)

	// SaveReport сохраняет отчёт, если его ещё нет. inserted=false означает,
	// что отчёт за эту неделю уже существовал и не был изменён.
	SaveReport(ctx context.Context, report *WeeklyReport) (inserted bool, err error)

	// GetReport возвращает отчёт недели или ErrReportNotFound.
	GetReport(ctx context.Context, week Week) (*WeeklyReport, error)

	// ListReports возвращает последние отчёты, новые первыми.
	ListReports(ctx context.Context, limit int) ([]*WeeklyReport, error)
}

// Snapshotter выполняет снимок недели эксклюзивно относительно начислений
// в эту неделю.
type Snapshotter interface {
	SnapshotWeek(ctx context.Context, week Week, fn func(entries []Entry) (*WeeklyReport, error)) (inserted bool, err error)
}

// Cache - быстрый кеш текущего рейтинга (Redis).
type Cache interface {
	// UpdateEntry обновляет строку пользователя для недели.
	UpdateEntry(ctx context.Context, week Week, entry Entry) error

	// GetEntries возвращает все закешированные строки недели.
	GetEntries(ctx context.Context, week Week) ([]Entry, error)

	// Rebuild полностью заменяет содержимое недели.
	Rebuild(ctx context.Context, ranking *Ranking) error

	// Invalidate удаляет неделю из кеша.
	Invalidate(ctx context.Context, week Week) error
}
