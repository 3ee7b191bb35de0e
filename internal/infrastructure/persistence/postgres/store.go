package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
)

// Store implements every repository contract on one pool.
type Store struct {
	conn *Connection
}

// NewStore creates a store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

const userColumns = `id, handle, active, registered_at, updated_at, rating, rating_updated_at`

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	var id, handle string
	var rating *int32
	var ratingAt *time.Time
	if err := row.Scan(&id, &handle, &u.Active, &u.RegisteredAt, &u.UpdatedAt, &rating, &ratingAt); err != nil {
		return nil, err
	}
	u.ID = shared.UserID(id)
	u.Handle = shared.Handle(handle)
	if rating != nil {
		r := int(*rating)
		u.Rating = &r
	}
	if ratingAt != nil {
		u.RatingUpdatedAt = *ratingAt
	}
	return &u, nil
}

// GetUser returns shared.ErrUserNotFound for unknown ids.
func (s *Store) GetUser(ctx context.Context, id shared.UserID) (*user.User, error) {
	u, err := scanUser(s.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id)))
	if IsNoRows(err) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// SaveUser upserts the user. The stored rating survives unless the handle
// changed.
func (s *Store) SaveUser(ctx context.Context, u *user.User) error {
	var rating *int32
	var ratingAt *time.Time
	if u.Rating != nil {
		r := int32(*u.Rating)
		rating = &r
		ratingAt = &u.RatingUpdatedAt
	}

	_, err := s.conn.Exec(ctx, `
		INSERT INTO users (id, handle, active, registered_at, updated_at, rating, rating_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			handle = EXCLUDED.handle,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at,
			rating = CASE WHEN users.handle = EXCLUDED.handle THEN users.rating ELSE EXCLUDED.rating END,
			rating_updated_at = CASE WHEN users.handle = EXCLUDED.handle THEN users.rating_updated_at ELSE EXCLUDED.rating_updated_at END
	`, string(u.ID), string(u.Handle), u.Active, u.RegisteredAt, u.UpdatedAt, rating, ratingAt)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// ListActiveUsers returns active users ordered by id.
func (s *Store) ListActiveUsers(ctx context.Context) ([]*user.User, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+userColumns+` FROM users WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*user.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) CountActiveUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRow(ctx, `SELECT count(*) FROM users WHERE active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *Store) SaveRating(ctx context.Context, id shared.UserID, rating int, at time.Time) error {
	tag, err := s.conn.Exec(ctx, `UPDATE users SET rating = $2, rating_updated_at = $3 WHERE id = $1`, string(id), rating, at)
	if err != nil {
		return fmt.Errorf("failed to save rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBLEMS
// ══════════════════════════════════════════════════════════════════════════════

// UpsertProblems writes the catalog in one batch.
func (s *Store) UpsertProblems(ctx context.Context, ps []problem.Problem) error {
	if len(ps) == 0 {
		return nil
	}
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range ps {
			batch.Queue(`
				INSERT INTO problems (id, contest_id, title, raw_difficulty, updated_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET
					contest_id = EXCLUDED.contest_id,
					title = EXCLUDED.title,
					raw_difficulty = EXCLUDED.raw_difficulty,
					updated_at = EXCLUDED.updated_at
			`, string(p.ID), p.ContestID, p.Title, p.RawDifficulty, p.UpdatedAt)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range ps {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to upsert problem: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetProblem(ctx context.Context, id shared.ProblemID) (*problem.Problem, error) {
	var p problem.Problem
	var pid string
	err := s.conn.QueryRow(ctx, `
		SELECT id, contest_id, title, raw_difficulty, updated_at FROM problems WHERE id = $1
	`, string(id)).Scan(&pid, &p.ContestID, &p.Title, &p.RawDifficulty, &p.UpdatedAt)
	if IsNoRows(err) {
		return nil, shared.WrapError("problem", "Find", shared.ErrNotFound, "problem not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get problem: %w", err)
	}
	p.ID = shared.ProblemID(pid)
	return &p, nil
}

func (s *Store) CountProblems(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRow(ctx, `SELECT count(*) FROM problems`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count problems: %w", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GOALS
// ══════════════════════════════════════════════════════════════════════════════

func toInt32s(xs []int) []int32 {
	out := make([]int32, len(xs))
	for i, x := range xs {
		out[i] = int32(x)
	}
	return out
}

func toInts(xs []int32) []int {
	if len(xs) == 0 {
		return nil
	}
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = int(x)
	}
	return out
}

// SaveGoal upserts a goal; milestone marks reset when the target changes.
func (s *Store) SaveGoal(ctx context.Context, g *goal.Goal) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO goals (user_id, week, target, notified, updated_at)
		VALUES ($1, $2, $3, '{}', $4)
		ON CONFLICT (user_id, week) DO UPDATE SET
			notified = CASE WHEN goals.target = EXCLUDED.target THEN goals.notified ELSE '{}' END,
			target = EXCLUDED.target,
			updated_at = EXCLUDED.updated_at
	`, string(g.UserID), g.Week, g.Target, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save goal: %w", err)
	}
	return nil
}

func (s *Store) GetGoal(ctx context.Context, id shared.UserID, week string) (*goal.Goal, error) {
	g := goal.Goal{UserID: id, Week: week}
	var notified []int32
	err := s.conn.QueryRow(ctx, `
		SELECT target, notified, updated_at FROM goals WHERE user_id = $1 AND week = $2
	`, string(id), week).Scan(&g.Target, &notified, &g.UpdatedAt)
	if IsNoRows(err) {
		return nil, shared.ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}
	g.Notified = toInts(notified)
	return &g, nil
}

func (s *Store) DeleteGoal(ctx context.Context, id shared.UserID, week string) error {
	if _, err := s.conn.Exec(ctx, `DELETE FROM goals WHERE user_id = $1 AND week = $2`, string(id), week); err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	return nil
}

func (s *Store) MarkGoal(ctx context.Context, g *goal.Goal) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE goals SET notified = $3, updated_at = $4 WHERE user_id = $1 AND week = $2
	`, string(g.UserID), g.Week, toInt32s(g.Notified), g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to mark goal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrGoalNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetSettings(ctx context.Context) (settings.Settings, error) {
	st := settings.Default()
	var pollSeconds int
	err := s.conn.QueryRow(ctx, `
		SELECT notify_channel_id, rank_channel_id, health_channel_id, weekly_role_id, streak_role_id,
		       poll_interval_seconds, ai_enabled, ai_probability, updated_at
		FROM settings WHERE id = 1
	`).Scan(&st.NotifyChannelID, &st.RankChannelID, &st.HealthChannelID, &st.WeeklyRoleID, &st.StreakRoleID,
		&pollSeconds, &st.AIEnabled, &st.AIProbability, &st.UpdatedAt)
	if IsNoRows(err) {
		return settings.Default(), nil
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	st.PollInterval = time.Duration(pollSeconds) * time.Second
	return st, nil
}

func (s *Store) SaveSettings(ctx context.Context, st settings.Settings) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO settings (id, notify_channel_id, rank_channel_id, health_channel_id, weekly_role_id,
		                      streak_role_id, poll_interval_seconds, ai_enabled, ai_probability, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			notify_channel_id = EXCLUDED.notify_channel_id,
			rank_channel_id = EXCLUDED.rank_channel_id,
			health_channel_id = EXCLUDED.health_channel_id,
			weekly_role_id = EXCLUDED.weekly_role_id,
			streak_role_id = EXCLUDED.streak_role_id,
			poll_interval_seconds = EXCLUDED.poll_interval_seconds,
			ai_enabled = EXCLUDED.ai_enabled,
			ai_probability = EXCLUDED.ai_probability,
			updated_at = EXCLUDED.updated_at
	`, st.NotifyChannelID, st.RankChannelID, st.HealthChannelID, st.WeeklyRoleID, st.StreakRoleID,
		int(st.PollInterval/time.Second), st.AIEnabled, st.AIProbability, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
