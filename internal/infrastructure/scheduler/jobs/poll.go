package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLL SUBMISSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// PollJob fetches and scores new submissions of every active user.
type PollJob struct {
	lastStats

	poller Poller
	deps   Deps
	log    *logger.Logger
}

// NewPollJob creates the job.
func NewPollJob(poller Poller, deps Deps) *PollJob {
	deps = deps.withDefaults()
	return &PollJob{
		poller: poller,
		deps:   deps,
		log:    deps.Logger.With(logger.Component("job." + NamePoll)),
	}
}

// Name returns the job name.
func (j *PollJob) Name() string { return NamePoll }

// Description returns a human-readable description.
func (j *PollJob) Description() string {
	return "Fetches new AtCoder submissions and scores first-time accepts"
}

// Run executes one cycle. The cycle counts as failed only when every user
// failed; isolated failures are logged by the poller and retried next tick.
func (j *PollJob) Run(ctx context.Context) error {
	started := j.deps.Clock.Now()

	res, err := j.poller.Handle(ctx, command.PollSubmissionsCommand{CorrelationID: uuid.NewString()})

	failed := cycleError(res, err)
	j.deps.Tracker.Record(health.ComponentPoll, started, failed)
	j.store(Stats{StartedAt: started, Duration: j.deps.Clock.Now().Sub(started), Err: failed, Detail: res})

	if failed != nil {
		return failed
	}
	if err != nil {
		j.log.Warn("some users failed to poll",
			logger.Int("failed", res.Failed),
			logger.Int("users", len(res.Users)),
			logger.Err(err),
		)
	}
	return nil
}

// cycleError decides whether a cycle failed as a whole.
func cycleError(res *command.PollSubmissionsResult, err error) error {
	if err == nil {
		return nil
	}
	if res == nil || len(res.Users) == 0 || res.Failed == len(res.Users) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
