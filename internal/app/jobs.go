package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/scheduler"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/scheduler/jobs"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// rebuildInterval is how often the cached ranking is checked against the
// store.
const rebuildInterval = 10 * time.Minute

type registration struct {
	job      scheduler.Job
	schedule scheduler.Schedule
	opts     []scheduler.RegisterOption
}

// wireScheduler registers every job. The poll interval follows the settings
// row, so an admin change applies from the next cycle. The rollover runs
// once at start to catch up on a week closed while the worker was down.
func (a *App) wireScheduler() (*scheduler.Scheduler, error) {
	cfg := a.Config.Scheduler

	s := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:            a.Log,
		Timezone:          timeutil.JST,
		TickInterval:      time.Second,
		JobTimeout:        cfg.JobTimeout,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		MaxHistorySize:    200,
	})
	s.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success && !r.Manual {
			a.Log.Warn("scheduled job failed", logger.String("job", r.JobName), logger.Err(r.Error))
		}
	})

	deps := jobs.Deps{Tracker: a.Tracker, Clock: a.Clock, Logger: a.Log}

	rollover, err := scheduler.NewCronSchedule(cfg.RolloverCron, timeutil.JST)
	if err != nil {
		return nil, fmt.Errorf("invalid rollover schedule: %w", err)
	}
	poll := &scheduler.SettingsInterval{Interval: a.pollInterval, Fallback: cfg.PollInterval}

	registrations := []registration{
		{jobs.NewPollJob(a.Commands.Poll, deps), poll, []scheduler.RegisterOption{scheduler.Immediately()}},
		{jobs.NewSyncProblemsJob(a.Commands.SyncProblems, deps), scheduler.NewIntervalSchedule(cfg.ProblemSyncInterval), []scheduler.RegisterOption{scheduler.Immediately()}},
		{jobs.NewRolloverJob(a.Commands.Rollover, deps), rollover, []scheduler.RegisterOption{scheduler.Immediately()}},
		{jobs.NewRefreshRatingsJob(a.Commands.RefreshRatings, deps), scheduler.NewIntervalSchedule(24 * time.Hour), nil},
		{jobs.NewHealthCheckJob(a.Queries.Health, deps).WithBus(a.Bus), scheduler.NewIntervalSchedule(cfg.HealthInterval), nil},
	}
	if a.Cache != nil {
		registrations = append(registrations, registration{
			jobs.NewRebuildRankingJob(a.Store, a.Cache, deps), scheduler.NewIntervalSchedule(rebuildInterval), []scheduler.RegisterOption{scheduler.Immediately()},
		})
	}

	for _, r := range registrations {
		if err := s.Register(r.job, r.schedule, r.opts...); err != nil {
			return nil, fmt.Errorf("failed to register job %s: %w", r.job.Name(), err)
		}
	}
	return s, nil
}

// pollInterval reads the current poll interval from settings. Zero makes
// the schedule fall back to the configured interval.
func (a *App) pollInterval() time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := a.Store.GetSettings(ctx)
	if err != nil {
		a.Log.Warn("failed to read poll interval", logger.Err(err))
		return 0
	}
	return st.PollInterval
}
