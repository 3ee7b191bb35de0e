package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_users_and_problems", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_scoring_state", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_weekly", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USERS & PROBLEMS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    handle TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    registered_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    rating INTEGER,
    rating_updated_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_users_active ON users(id) WHERE active;

CREATE TABLE IF NOT EXISTS problems (
    id TEXT PRIMARY KEY,
    contest_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    raw_difficulty DOUBLE PRECISION,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    id SMALLINT PRIMARY KEY DEFAULT 1,
    notify_channel_id TEXT NOT NULL DEFAULT '',
    rank_channel_id TEXT NOT NULL DEFAULT '',
    health_channel_id TEXT NOT NULL DEFAULT '',
    weekly_role_id TEXT NOT NULL DEFAULT '',
    streak_role_id TEXT NOT NULL DEFAULT '',
    poll_interval_seconds INTEGER NOT NULL,
    ai_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    ai_probability DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL,

    CONSTRAINT single_row CHECK (id = 1)
);
`

const migration001Down = `
DROP TABLE IF EXISTS settings;
DROP TABLE IF EXISTS problems;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: SCORING STATE
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS checkpoints (
    user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    last_epoch BIGINT NOT NULL DEFAULT 0,
    last_submission_id BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS last_ac (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    problem_id TEXT NOT NULL,
    at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, problem_id)
);

CREATE TABLE IF NOT EXISTS streaks (
    user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    current INTEGER NOT NULL DEFAULT 0,
    last_ac_day TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS submission_records (
    id UUID PRIMARY KEY,
    submission_id BIGINT NOT NULL UNIQUE,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    problem_id TEXT NOT NULL,
    submitted_at TIMESTAMPTZ NOT NULL,
    week TEXT NOT NULL,
    base_score INTEGER NOT NULL,
    multiplier DOUBLE PRECISION NOT NULL,
    final_score INTEGER NOT NULL,
    streak INTEGER NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_user ON submission_records(user_id, processed_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS submission_records;
DROP TABLE IF EXISTS streaks;
DROP TABLE IF EXISTS last_ac;
DROP TABLE IF EXISTS checkpoints;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: WEEKLY SCORES, REPORTS, GOALS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS weekly_scores (
    week TEXT NOT NULL,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    score INTEGER NOT NULL DEFAULT 0,
    score_updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (week, user_id),

    CONSTRAINT valid_score CHECK (score >= 0)
);

CREATE TABLE IF NOT EXISTS weekly_reports (
    week TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL,
    participants INTEGER NOT NULL,
    total_score INTEGER NOT NULL,
    winners TEXT[] NOT NULL DEFAULT '{}',
    entries JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE TABLE IF NOT EXISTS goals (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    week TEXT NOT NULL,
    target INTEGER NOT NULL,
    notified INTEGER[] NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, week),

    CONSTRAINT valid_target CHECK (target > 0)
);
`

const migration003Down = `
DROP TABLE IF EXISTS goals;
DROP TABLE IF EXISTS weekly_reports;
DROP TABLE IF EXISTS weekly_scores;
`
