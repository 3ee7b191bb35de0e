package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD RANKING JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildRankingJob reconciles the ranking cache of the current week with
// the store. The cache is fed incrementally by scored events; a lost event
// or a cache restart leaves it stale until this job runs.
type RebuildRankingJob struct {
	lastStats

	store EntriesReader
	cache leaderboard.Cache
	deps  Deps
	log   *logger.Logger
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	Week    string
	Entries int
	// Drift - число строк, место которых в кеше не совпадало с хранилищем.
	Drift      int
	TopChanged bool
}

// NewRebuildRankingJob creates the job.
func NewRebuildRankingJob(store EntriesReader, cache leaderboard.Cache, deps Deps) *RebuildRankingJob {
	deps = deps.withDefaults()
	return &RebuildRankingJob{
		store: store,
		cache: cache,
		deps:  deps,
		log:   deps.Logger.With(logger.Component("job." + NameRebuildRanking)),
	}
}

func (j *RebuildRankingJob) Name() string { return NameRebuildRanking }

func (j *RebuildRankingJob) Description() string {
	return "Rebuilds the cached ranking of the current week from the store"
}

// Run executes the rebuild.
func (j *RebuildRankingJob) Run(ctx context.Context) error {
	started := j.deps.Clock.Now()
	stats, err := j.rebuild(ctx, leaderboard.WeekOf(started))
	j.lastStats.store(Stats{StartedAt: started, Duration: j.deps.Clock.Now().Sub(started), Err: err, Detail: stats})
	return err
}

func (j *RebuildRankingJob) rebuild(ctx context.Context, week leaderboard.Week) (*RebuildStats, error) {
	entries, err := j.store.WeeklyEntries(ctx, week)
	if err != nil {
		return nil, fmt.Errorf("failed to read weekly entries: %w", err)
	}
	fresh, err := leaderboard.Build(week, entries)
	if err != nil {
		return nil, err
	}

	stats := &RebuildStats{Week: week.ID(), Entries: fresh.Count()}

	cached, err := j.cached(ctx, week)
	if err != nil {
		j.log.Warn("failed to read cached ranking", logger.WeekID(week.ID()), logger.Err(err))
	}
	diff := leaderboard.CalculateDiff(cached, fresh)
	stats.Drift = len(diff.Moves)
	stats.TopChanged = diff.TopChanged

	if err := j.cache.Rebuild(ctx, fresh); err != nil {
		return stats, fmt.Errorf("failed to rebuild cache: %w", err)
	}

	if stats.Drift > 0 {
		j.log.Info("ranking cache drift repaired",
			logger.WeekID(week.ID()),
			logger.Int("entries", stats.Entries),
			logger.Int("drift", stats.Drift),
		)
	}
	return stats, nil
}

// cached returns nil when the week is not cached at all.
func (j *RebuildRankingJob) cached(ctx context.Context, week leaderboard.Week) (*leaderboard.Ranking, error) {
	entries, err := j.cache.GetEntries(ctx, week)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return leaderboard.Build(week, entries)
}
