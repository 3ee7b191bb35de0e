package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// weekGateLockID is the advisory lock that orders scoring units against
// the weekly snapshot across every process sharing the database.
const weekGateLockID int64 = 0x41_43_57_45_45_4B

// ══════════════════════════════════════════════════════════════════════════════
// READS OUTSIDE A UNIT
// ══════════════════════════════════════════════════════════════════════════════

func getCheckpoint(ctx context.Context, q Querier, id shared.UserID) (submission.Checkpoint, error) {
	var cp submission.Checkpoint
	err := q.QueryRow(ctx, `
		SELECT last_epoch, last_submission_id FROM checkpoints WHERE user_id = $1
	`, string(id)).Scan(&cp.Epoch, &cp.SubmissionID)
	if IsNoRows(err) {
		return submission.Checkpoint{}, nil
	}
	if err != nil {
		return submission.Checkpoint{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

func saveCheckpoint(ctx context.Context, q Querier, id shared.UserID, cp submission.Checkpoint) error {
	_, err := q.Exec(ctx, `
		INSERT INTO checkpoints (user_id, last_epoch, last_submission_id) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			last_epoch = EXCLUDED.last_epoch,
			last_submission_id = EXCLUDED.last_submission_id
	`, string(id), cp.Epoch, cp.SubmissionID)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func getStreak(ctx context.Context, q Querier, id shared.UserID) (streak.State, error) {
	var st streak.State
	var day string
	err := q.QueryRow(ctx, `SELECT current, last_ac_day FROM streaks WHERE user_id = $1`, string(id)).Scan(&st.Current, &day)
	if IsNoRows(err) {
		return streak.State{}, nil
	}
	if err != nil {
		return streak.State{}, fmt.Errorf("failed to get streak: %w", err)
	}
	if st.LastACDay, err = timeutil.ParseDate(day); err != nil {
		return streak.State{}, err
	}
	return st, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id shared.UserID) (submission.Checkpoint, error) {
	return getCheckpoint(ctx, s.conn, id)
}

func (s *Store) ResetCheckpoint(ctx context.Context, id shared.UserID, cp submission.Checkpoint) error {
	return saveCheckpoint(ctx, s.conn, id, cp)
}

func (s *Store) GetStreak(ctx context.Context, id shared.UserID) (streak.State, error) {
	return getStreak(ctx, s.conn, id)
}

// ListRecords returns the newest audit rows first.
func (s *Store) ListRecords(ctx context.Context, id shared.UserID, limit int) ([]submission.Record, error) {
	query := `
		SELECT id::text, user_id, problem_id, submission_id, submitted_at, week,
		       base_score, multiplier, final_score, streak, processed_at
		FROM submission_records
		WHERE user_id = $1
		ORDER BY processed_at DESC, submission_id DESC`
	args := []interface{}{string(id)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]submission.Record, 0)
	for rows.Next() {
		var r submission.Record
		var userID, problemID string
		if err := rows.Scan(&r.ID, &userID, &problemID, &r.SubmissionID, &r.SubmittedAt, &r.Week,
			&r.BaseScore, &r.Multiplier, &r.FinalScore, &r.Streak, &r.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.UserID = shared.UserID(userID)
		r.ProblemID = shared.ProblemID(problemID)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// WithinTx runs one scoring unit. The week gate is held shared until
// commit, so a snapshot never observes half of a unit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx submission.Tx) error) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared($1)`, weekGateLockID); err != nil {
			return fmt.Errorf("failed to take week gate: %w", err)
		}
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Checkpoint(ctx context.Context, id shared.UserID) (submission.Checkpoint, error) {
	return getCheckpoint(ctx, t.tx, id)
}

func (t *pgTx) SaveCheckpoint(ctx context.Context, id shared.UserID, cp submission.Checkpoint) error {
	return saveCheckpoint(ctx, t.tx, id, cp)
}

func (t *pgTx) LastACMark(ctx context.Context, id shared.UserID, p shared.ProblemID) (*submission.LastACMark, error) {
	var at time.Time
	err := t.tx.QueryRow(ctx, `
		SELECT at FROM last_ac WHERE user_id = $1 AND problem_id = $2
	`, string(id), string(p)).Scan(&at)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last AC: %w", err)
	}
	return &submission.LastACMark{UserID: id, ProblemID: p, At: at}, nil
}

func (t *pgTx) SaveLastACMark(ctx context.Context, m submission.LastACMark) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO last_ac (user_id, problem_id, at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, problem_id) DO UPDATE SET at = EXCLUDED.at
	`, string(m.UserID), string(m.ProblemID), m.At)
	if err != nil {
		return fmt.Errorf("failed to save last AC: %w", err)
	}
	return nil
}

func (t *pgTx) Streak(ctx context.Context, id shared.UserID) (streak.State, error) {
	return getStreak(ctx, t.tx, id)
}

func (t *pgTx) SaveStreak(ctx context.Context, id shared.UserID, st streak.State) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO streaks (user_id, current, last_ac_day) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET current = EXCLUDED.current, last_ac_day = EXCLUDED.last_ac_day
	`, string(id), st.Current, st.LastACDay.String())
	if err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}
	return nil
}

func (t *pgTx) InsertRecord(ctx context.Context, r submission.Record) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO submission_records
			(id, submission_id, user_id, problem_id, submitted_at, week,
			 base_score, multiplier, final_score, streak, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (submission_id) DO NOTHING
	`, r.ID, r.SubmissionID, string(r.UserID), string(r.ProblemID), r.SubmittedAt, r.Week,
		r.BaseScore, r.Multiplier, r.FinalScore, r.Streak, r.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ReportExists(ctx context.Context, week string) (bool, error) {
	return reportExists(ctx, t.tx, week)
}

func (t *pgTx) AddWeeklyScore(ctx context.Context, week string, id shared.UserID, delta int, at time.Time) (int, error) {
	var total int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO weekly_scores (week, user_id, score, score_updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (week, user_id) DO UPDATE SET
			score = weekly_scores.score + EXCLUDED.score,
			score_updated_at = CASE WHEN EXCLUDED.score <> 0
				THEN EXCLUDED.score_updated_at
				ELSE weekly_scores.score_updated_at END
		RETURNING score
	`, week, string(id), delta, at).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to add weekly score: %w", err)
	}
	return total, nil
}
