package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// reportEntry is one row of the entries JSONB column.
type reportEntry struct {
	Rank           int       `json:"rank"`
	UserID         string    `json:"user_id"`
	Handle         string    `json:"handle"`
	Score          int       `json:"score"`
	ScoreUpdatedAt time.Time `json:"score_updated_at"`
}

func weeklyEntries(ctx context.Context, q Querier, week leaderboard.Week) ([]leaderboard.Entry, error) {
	rows, err := q.Query(ctx, `
		SELECT w.user_id, u.handle, w.score, w.score_updated_at
		FROM weekly_scores w
		JOIN users u ON u.id = w.user_id
		WHERE w.week = $1 AND u.active
	`, week.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to query weekly entries: %w", err)
	}
	defer rows.Close()

	entries := make([]leaderboard.Entry, 0)
	for rows.Next() {
		var e leaderboard.Entry
		var id, handle string
		if err := rows.Scan(&id, &handle, &e.Score, &e.ScoreUpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan weekly entry: %w", err)
		}
		e.UserID = shared.UserID(id)
		e.Handle = shared.Handle(handle)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func reportExists(ctx context.Context, q Querier, week string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM weekly_reports WHERE week = $1)`, week).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check report: %w", err)
	}
	return exists, nil
}

func saveReport(ctx context.Context, q Querier, r *leaderboard.WeeklyReport) (bool, error) {
	rows := make([]reportEntry, len(r.Entries))
	for i, e := range r.Entries {
		rows[i] = reportEntry{
			Rank:           int(e.Rank),
			UserID:         e.UserID.String(),
			Handle:         e.Handle.String(),
			Score:          e.Score,
			ScoreUpdatedAt: e.ScoreUpdatedAt.UTC(),
		}
	}
	entries, err := json.Marshal(rows)
	if err != nil {
		return false, fmt.Errorf("failed to encode report entries: %w", err)
	}
	winners := make([]string, len(r.Winners))
	for i, w := range r.Winners {
		winners[i] = w.String()
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO weekly_reports (week, created_at, participants, total_score, winners, entries)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (week) DO NOTHING
	`, r.Week.ID(), r.CreatedAt, r.Participants, r.TotalScore, winners, entries)
	if err != nil {
		return false, fmt.Errorf("failed to save report: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanReport(row pgx.Row) (*leaderboard.WeeklyReport, error) {
	var (
		r       leaderboard.WeeklyReport
		weekID  string
		winners []string
		raw     []byte
	)
	if err := row.Scan(&weekID, &r.CreatedAt, &r.Participants, &r.TotalScore, &winners, &raw); err != nil {
		return nil, err
	}

	week, err := leaderboard.ParseWeek(weekID)
	if err != nil {
		return nil, err
	}
	r.Week = week

	var rows []reportEntry
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode report entries: %w", err)
	}
	r.Entries = make([]leaderboard.Entry, len(rows))
	for i, e := range rows {
		r.Entries[i] = leaderboard.Entry{
			Rank:           shared.Rank(e.Rank),
			UserID:         shared.UserID(e.UserID),
			Handle:         shared.Handle(e.Handle),
			Score:          e.Score,
			ScoreUpdatedAt: e.ScoreUpdatedAt,
		}
	}
	r.Winners = make([]shared.UserID, len(winners))
	for i, w := range winners {
		r.Winners[i] = shared.UserID(w)
	}
	return &r, nil
}

const reportColumns = `week, created_at, participants, total_score, winners, entries`

func (s *Store) WeeklyEntries(ctx context.Context, week leaderboard.Week) ([]leaderboard.Entry, error) {
	return weeklyEntries(ctx, s.conn, week)
}

func (s *Store) WeeklyScore(ctx context.Context, week leaderboard.Week, id shared.UserID) (int, error) {
	var score int
	err := s.conn.QueryRow(ctx, `
		SELECT COALESCE((SELECT score FROM weekly_scores WHERE week = $1 AND user_id = $2), 0)
	`, week.ID(), string(id)).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("failed to get weekly score: %w", err)
	}
	return score, nil
}

func (s *Store) SaveReport(ctx context.Context, r *leaderboard.WeeklyReport) (bool, error) {
	return saveReport(ctx, s.conn, r)
}

func (s *Store) GetReport(ctx context.Context, week leaderboard.Week) (*leaderboard.WeeklyReport, error) {
	r, err := scanReport(s.conn.QueryRow(ctx, `SELECT `+reportColumns+` FROM weekly_reports WHERE week = $1`, week.ID()))
	if IsNoRows(err) {
		return nil, shared.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return r, nil
}

// ListReports returns the newest reports first. Week ids sort as dates.
func (s *Store) ListReports(ctx context.Context, limit int) ([]*leaderboard.WeeklyReport, error) {
	query := `SELECT ` + reportColumns + ` FROM weekly_reports ORDER BY week DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]*leaderboard.WeeklyReport, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// SnapshotWeek holds the week gate exclusively: every scoring unit either
// committed before the read or starts after the report exists.
func (s *Store) SnapshotWeek(ctx context.Context, week leaderboard.Week, fn func([]leaderboard.Entry) (*leaderboard.WeeklyReport, error)) (bool, error) {
	inserted := false
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, weekGateLockID); err != nil {
			return fmt.Errorf("failed to take week gate: %w", err)
		}

		exists, err := reportExists(ctx, tx, week.ID())
		if err != nil || exists {
			return err
		}

		entries, err := weeklyEntries(ctx, tx, week)
		if err != nil {
			return err
		}
		report, err := fn(entries)
		if err != nil {
			return err
		}
		inserted, err = saveReport(ctx, tx, report)
		return err
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}
