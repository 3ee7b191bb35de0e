package jobs

import (
	"context"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC PROBLEMS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SyncProblemsJob refreshes the problem catalog and difficulties.
type SyncProblemsJob struct {
	lastStats

	syncer ProblemSyncer
	deps   Deps
}

// NewSyncProblemsJob creates the job.
func NewSyncProblemsJob(syncer ProblemSyncer, deps Deps) *SyncProblemsJob {
	return &SyncProblemsJob{syncer: syncer, deps: deps.withDefaults()}
}

func (j *SyncProblemsJob) Name() string { return NameSyncProblems }

func (j *SyncProblemsJob) Description() string {
	return "Refreshes the problem catalog and estimated difficulties"
}

// Run executes the sync.
func (j *SyncProblemsJob) Run(ctx context.Context) error {
	started := j.deps.Clock.Now()
	res, err := j.syncer.Handle(ctx)
	j.deps.Tracker.Record(health.ComponentProblemSync, started, err)
	j.store(Stats{StartedAt: started, Duration: j.deps.Clock.Now().Sub(started), Err: err, Detail: res})
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH RATINGS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RefreshRatingsJob re-reads the AtCoder rating of every active user.
type RefreshRatingsJob struct {
	lastStats

	refresher RatingRefresher
	deps      Deps
	log       *logger.Logger
}

// NewRefreshRatingsJob creates the job.
func NewRefreshRatingsJob(refresher RatingRefresher, deps Deps) *RefreshRatingsJob {
	deps = deps.withDefaults()
	return &RefreshRatingsJob{
		refresher: refresher,
		deps:      deps,
		log:       deps.Logger.With(logger.Component("job." + NameRefreshRatings)),
	}
}

func (j *RefreshRatingsJob) Name() string { return NameRefreshRatings }

func (j *RefreshRatingsJob) Description() string {
	return "Refreshes contest ratings of active users"
}

// Run executes the refresh.
func (j *RefreshRatingsJob) Run(ctx context.Context) error {
	started := j.deps.Clock.Now()
	res, err := j.refresher.Handle(ctx, command.RefreshRatingsCommand{})
	j.deps.Tracker.Record(health.ComponentRatingSync, started, err)
	j.store(Stats{StartedAt: started, Duration: j.deps.Clock.Now().Sub(started), Err: err, Detail: res})

	if err == nil && res != nil && res.Failed > 0 {
		j.log.Warn("some ratings were not refreshed",
			logger.Int("updated", res.Updated),
			logger.Int("failed", res.Failed),
		)
	}
	return err
}
