// Package app wires configuration, storage, transport and use cases into a
// runnable process. The worker and the API binaries share it and differ
// only in Role.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/config"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/scheduler"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/tracing"
)

// Role selects what a process runs.
type Role string

const (
	// RoleWorker polls, scores, closes weeks and runs the event handlers.
	RoleWorker Role = "worker"

	// RoleAPI serves the HTTP API only.
	RoleAPI Role = "api"
)

// App holds every wired component of one process.
type App struct {
	Role   Role
	Config *config.Config
	Log    *logger.Logger
	Clock  timeutil.Clock

	Store   Store
	Bus     EventBus
	Cache   leaderboard.Cache // nil when the ranking cache is off
	Locker  command.Locker
	Tracker *health.Tracker

	Commands Commands
	Queries  Queries

	// Worker only
	Scheduler *scheduler.Scheduler

	closers []func()
}

// Commands are the write-side use cases. Feed-driven handlers are nil in
// the API role.
type Commands struct {
	Poll           *command.PollSubmissionsHandler
	SyncProblems   *command.SyncProblemsHandler
	RefreshRatings *command.RefreshRatingsHandler
	Rollover       *command.WeeklyRolloverHandler
	Users          *command.UserHandler
	Preferences    *command.PreferencesHandler
}

// Queries are the read-side use cases.
type Queries struct {
	Ranking *query.GetRankingHandler
	Reports *query.ReportsHandler
	Status  *query.UserStatusHandler
	Health  *query.HealthHandler
}

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	if cfg.Observability.LogFormat == string(logger.FormatConsole) {
		opts.Format = logger.FormatConsole
	}
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// New wires the process. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, role Role) (a *App, err error) {
	a = &App{
		Role:    role,
		Config:  cfg,
		Log:     log.With(logger.String("role", string(role))),
		Clock:   timeutil.SystemClock(),
		Tracker: health.New(time.Now()),
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ТРАССИРОВКА
	// ─────────────────────────────────────────────────────────────────────────
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.App.Name + "-" + string(role),
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		Endpoint:    cfg.Observability.TracingEndpoint,
		Insecure:    cfg.Observability.TracingInsecure,
		SampleRatio: cfg.Observability.TracingSampleRatio,
	}, a.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			a.Log.Warn("failed to flush spans", logger.Err(err))
		}
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Database, a.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = store
	a.onClose(closeStore)

	if err := a.seedSettings(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS, КЕШ, БЛОКИРОВКИ, ШИНА СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.wireMessaging(); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. USE CASES
	// ─────────────────────────────────────────────────────────────────────────
	a.wireQueries()
	a.wireCommands()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ВОРКЕР: ПОДПИСКИ И ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	if role == RoleWorker {
		if err := a.wireSubscriptions(ctx); err != nil {
			return nil, err
		}
		if a.Scheduler, err = a.wireScheduler(); err != nil {
			return nil, err
		}
	}

	a.Log.Info("application wired",
		logger.String("driver", cfg.Database.Driver),
		logger.Bool("redis", a.redisEnabled()),
		logger.Bool("ranking_cache", a.Cache != nil),
	)
	return a, nil
}

// Start launches background work. The API role has none.
func (a *App) Start(ctx context.Context) error {
	if a.Scheduler == nil || !a.Config.Scheduler.Enabled {
		return nil
	}
	return a.Scheduler.Start(ctx)
}

// Stop halts the scheduler and waits for running jobs.
func (a *App) Stop() {
	if a.Scheduler == nil || !a.Scheduler.IsRunning() {
		return
	}
	if err := a.Scheduler.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		a.Log.Warn("failed to stop scheduler", logger.Err(err))
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.Log.Sync()
}

func (a *App) onClose(fn func()) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// seedSettings writes the notification defaults from the config when the
// settings row was never saved.
func (a *App) seedSettings(ctx context.Context) error {
	st, err := a.Store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if !st.UpdatedAt.IsZero() {
		return nil
	}

	n := a.Config.Notify
	st.NotifyChannelID = n.NotifyChannelID
	st.RankChannelID = n.RankChannelID
	st.HealthChannelID = n.HealthChannelID
	st.AIEnabled = n.AIEnabled
	st.AIProbability = n.AIProbability
	st.PollInterval = a.Config.Scheduler.PollInterval
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid notification defaults: %w", err)
	}
	st.UpdatedAt = a.Clock.Now()

	if err := a.Store.SaveSettings(ctx, st); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	a.Log.Info("settings seeded from config")
	return nil
}
