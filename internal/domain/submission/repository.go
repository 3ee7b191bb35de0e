package submission

import (
	"context"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
)

// Tx is the set of writes that make up one scoring unit. Every method runs
// inside the same storage transaction; nothing is visible to other readers
// until the unit commits.
type Tx interface {
	// Checkpoint returns the user's ingestion checkpoint (zero if none).
	Checkpoint(ctx context.Context, userID shared.UserID) (Checkpoint, error)
	SaveCheckpoint(ctx context.Context, userID shared.UserID, cp Checkpoint) error

	// LastACMark returns nil when the pair was never scored.
	LastACMark(ctx context.Context, userID shared.UserID, problemID shared.ProblemID) (*LastACMark, error)
	SaveLastACMark(ctx context.Context, mark LastACMark) error

	Streak(ctx context.Context, userID shared.UserID) (streak.State, error)
	SaveStreak(ctx context.Context, userID shared.UserID, s streak.State) error

	// InsertRecord appends the audit row. inserted is false when a record
	// with the same external submission id already exists.
	InsertRecord(ctx context.Context, r Record) (inserted bool, err error)

	// ReportExists reports whether the week is already closed.
	ReportExists(ctx context.Context, week string) (bool, error)

	// AddWeeklyScore adds delta to the (week, user) row, creating it when
	// missing, and returns the new total. score_updated_at moves only when
	// the score changes, so a zero delta keeps the tie-break position.
	AddWeeklyScore(ctx context.Context, week string, userID shared.UserID, delta int, at time.Time) (int, error)
}

// UnitOfWork runs fn in a single transaction. A non-nil error from fn rolls
// back every write made through tx.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository holds the read side of ingestion state.
type Repository interface {
	// GetCheckpoint reads the checkpoint outside of a unit, for fetch windows.
	GetCheckpoint(ctx context.Context, userID shared.UserID) (Checkpoint, error)

	// ResetCheckpoint overwrites the checkpoint unconditionally. Used on
	// registration and handle changes only.
	ResetCheckpoint(ctx context.Context, userID shared.UserID, cp Checkpoint) error

	// GetStreak returns the stored streak (zero state if none).
	GetStreak(ctx context.Context, userID shared.UserID) (streak.State, error)

	// ListRecords returns the user's most recent audit rows, newest first.
	ListRecords(ctx context.Context, userID shared.UserID, limit int) ([]Record, error)
}
