// Package jobs contains the scheduled jobs of the ranking hub. Each job is a
// thin wrapper over an application handler: it runs the use case, records
// the outcome in the health tracker and keeps the stats of its last run.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// Job names. The admin trigger endpoint accepts exactly these.
const (
	NamePoll           = "poll_submissions"
	NameSyncProblems   = "sync_problems"
	NameRefreshRatings = "refresh_ratings"
	NameRollover       = "weekly_rollover"
	NameRebuildRanking = "rebuild_ranking"
	NameHealthCheck    = "health_check"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Poller runs one submission polling cycle.
type Poller interface {
	Handle(ctx context.Context, cmd command.PollSubmissionsCommand) (*command.PollSubmissionsResult, error)
}

// ProblemSyncer refreshes the problem catalog.
type ProblemSyncer interface {
	Handle(ctx context.Context) (*command.SyncProblemsResult, error)
}

// RatingRefresher refreshes user ratings.
type RatingRefresher interface {
	Handle(ctx context.Context, cmd command.RefreshRatingsCommand) (*command.RefreshRatingsResult, error)
}

// WeekCloser closes a finished week.
type WeekCloser interface {
	Handle(ctx context.Context, cmd command.WeeklyRolloverCommand) (*command.WeeklyRolloverResult, error)
}

// HealthReporter builds the engine status.
type HealthReporter interface {
	Handle(ctx context.Context) *query.HealthStatusDTO
}

// EntriesReader reads the live rows of a week.
type EntriesReader interface {
	WeeklyEntries(ctx context.Context, week leaderboard.Week) ([]leaderboard.Entry, error)
}

// Deps are shared by every job.
type Deps struct {
	Tracker *health.Tracker
	Clock   timeutil.Clock
	Logger  *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock()
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

// Stats describe the last run of a job.
type Stats struct {
	StartedAt time.Time
	Duration  time.Duration
	Err       error
	Detail    any
}

// lastStats хранит статистику последнего запуска.
type lastStats struct {
	v atomic.Pointer[Stats]
}

func (l *lastStats) store(s Stats) { l.v.Store(&s) }

// LastStats returns the stats of the last run, or nil before the first one.
func (l *lastStats) LastStats() *Stats { return l.v.Load() }
