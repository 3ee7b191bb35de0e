package jobs

import (
	"context"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY ROLLOVER JOB
// ══════════════════════════════════════════════════════════════════════════════

// RolloverJob closes the week that just ended. It is registered to run
// once at startup as well: if the process was down over Monday 07:00 JST
// the missed week is closed on boot. A second run is a no-op.
type RolloverJob struct {
	lastStats

	closer WeekCloser
	deps   Deps
	log    *logger.Logger
}

// NewRolloverJob creates the job.
func NewRolloverJob(closer WeekCloser, deps Deps) *RolloverJob {
	deps = deps.withDefaults()
	return &RolloverJob{
		closer: closer,
		deps:   deps,
		log:    deps.Logger.With(logger.Component("job." + NameRollover)),
	}
}

func (j *RolloverJob) Name() string { return NameRollover }

func (j *RolloverJob) Description() string {
	return "Closes the previous week into an immutable report"
}

// Run closes the previous week.
func (j *RolloverJob) Run(ctx context.Context) error {
	started := j.deps.Clock.Now()
	res, err := j.closer.Handle(ctx, command.WeeklyRolloverCommand{})
	j.deps.Tracker.Record(health.ComponentRollover, started, err)
	j.store(Stats{StartedAt: started, Duration: j.deps.Clock.Now().Sub(started), Err: err, Detail: res})
	if err != nil {
		return err
	}

	if res.Created {
		j.log.Info("previous week closed", logger.WeekID(res.Report.Week.ID()))
	}
	return nil
}
