// Package sqlite implements the Store contract on an embedded SQLite file
// through gorm. It suits a single worker process: writers are serialized
// by SQLite itself and the week gate is an in-process lock.
package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODELS
// ══════════════════════════════════════════════════════════════════════════════

type userModel struct {
	ID              string `gorm:"primaryKey"`
	Handle          string `gorm:"not null"`
	Active          bool   `gorm:"not null;index"`
	RegisteredAt    time.Time
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
	Rating          *int
	RatingUpdatedAt *time.Time
}

func (userModel) TableName() string { return "users" }

type problemModel struct {
	ID            string `gorm:"primaryKey"`
	ContestID     string `gorm:"not null"`
	Title         string `gorm:"not null"`
	RawDifficulty *float64
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (problemModel) TableName() string { return "problems" }

type checkpointModel struct {
	UserID           string `gorm:"primaryKey"`
	LastEpoch        int64  `gorm:"not null"`
	LastSubmissionID int64  `gorm:"not null"`
}

func (checkpointModel) TableName() string { return "checkpoints" }

type lastACModel struct {
	UserID    string `gorm:"primaryKey"`
	ProblemID string `gorm:"primaryKey"`
	At        time.Time
}

func (lastACModel) TableName() string { return "last_ac" }

type streakModel struct {
	UserID    string `gorm:"primaryKey"`
	Current   int    `gorm:"not null"`
	LastACDay string `gorm:"column:last_ac_day;not null"`
}

func (streakModel) TableName() string { return "streaks" }

type recordModel struct {
	ID           string `gorm:"primaryKey"`
	SubmissionID int64  `gorm:"uniqueIndex;not null"`
	UserID       string `gorm:"index:idx_records_user;not null"`
	ProblemID    string `gorm:"not null"`
	SubmittedAt  time.Time
	Week         string `gorm:"not null"`
	BaseScore    int
	Multiplier   float64
	FinalScore   int
	Streak       int
	ProcessedAt  time.Time `gorm:"index:idx_records_user"`
}

func (recordModel) TableName() string { return "submission_records" }

type weeklyScoreModel struct {
	Week           string `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey"`
	Score          int    `gorm:"not null"`
	ScoreUpdatedAt time.Time
}

func (weeklyScoreModel) TableName() string { return "weekly_scores" }

type reportModel struct {
	Week         string    `gorm:"primaryKey"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	Participants int
	TotalScore   int
	Winners      string `gorm:"not null"` // JSON array
	Entries      string `gorm:"not null"` // JSON array
}

func (reportModel) TableName() string { return "weekly_reports" }

type goalModel struct {
	UserID    string    `gorm:"primaryKey"`
	Week      string    `gorm:"primaryKey"`
	Target    int       `gorm:"not null"`
	Notified  string    `gorm:"not null"` // JSON array
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (goalModel) TableName() string { return "goals" }

type settingsModel struct {
	ID                  int `gorm:"primaryKey"`
	NotifyChannelID     string
	RankChannelID       string
	HealthChannelID     string
	WeeklyRoleID        string
	StreakRoleID        string
	PollIntervalSeconds int
	AIEnabled           bool
	AIProbability       float64
	UpdatedAt           time.Time `gorm:"autoUpdateTime:false"`
}

func (settingsModel) TableName() string { return "settings" }

func models() []interface{} {
	return []interface{}{
		&userModel{}, &problemModel{}, &checkpointModel{}, &lastACModel{}, &streakModel{},
		&recordModel{}, &weeklyScoreModel{}, &reportModel{}, &goalModel{}, &settingsModel{},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Config holds the database file settings.
type Config struct {
	// Path is the database file. ":memory:" is not supported, since every
	// pooled connection would see its own database.
	Path string

	// BusyTimeout is how long a writer waits for the file lock.
	BusyTimeout time.Duration

	// LogQueries enables gorm's SQL log.
	LogQueries bool
}

// DSN builds the go-sqlite3 connection string. Transactions start with
// BEGIN IMMEDIATE so concurrent writers queue instead of failing on upgrade.
func (c Config) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL",
		c.Path, busy.Milliseconds())
}

// Store implements every repository contract on one SQLite file.
type Store struct {
	db *gorm.DB

	// gate: начисления держат его на чтение, снимок недели - на запись
	gate sync.RWMutex
}

// Open opens (or creates) the database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	level := gormlogger.Silent
	if cfg.LogQueries {
		level = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open %s: %w", cfg.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get sql.DB: %w", err)
	}
	// один писатель за раз; вложенных запросов вне транзакции нет
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models()...); err != nil {
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
