package jobs

import (
	"context"
	"errors"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/messaging"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ErrUnhealthy is returned by the health job when the database is down.
var ErrUnhealthy = errors.New("engine is unhealthy")

// BusMetrics exposes the counters of an event bus.
type BusMetrics interface {
	Metrics() *messaging.EventBusMetrics
}

// HealthCheckDetail is stored as the detail of the last run.
type HealthCheckDetail struct {
	Status *query.HealthStatusDTO
	Bus    *messaging.EventBusMetricsSnapshot
}

// HealthCheckJob periodically logs the engine status, so an operator
// tailing the logs sees stalled components without calling the API.
type HealthCheckJob struct {
	lastStats

	reporter HealthReporter
	bus      BusMetrics
	deps     Deps
	log      *logger.Logger
}

// NewHealthCheckJob creates the job.
func NewHealthCheckJob(reporter HealthReporter, deps Deps) *HealthCheckJob {
	deps = deps.withDefaults()
	return &HealthCheckJob{
		reporter: reporter,
		deps:     deps,
		log:      deps.Logger.With(logger.Component("job." + NameHealthCheck)),
	}
}

// WithBus adds event bus counters to the summary.
func (j *HealthCheckJob) WithBus(bus BusMetrics) *HealthCheckJob {
	j.bus = bus
	return j
}

func (j *HealthCheckJob) Name() string { return NameHealthCheck }

func (j *HealthCheckJob) Description() string {
	return "Logs the engine health summary"
}

// Run logs the status.
func (j *HealthCheckJob) Run(ctx context.Context) error {
	started := j.deps.Clock.Now()
	status := j.reporter.Handle(ctx)

	fields := []logger.Field{
		logger.String("week", status.CurrentWeek),
		logger.String("uptime", status.Uptime),
		logger.Int("active_users", status.ActiveUsers),
		logger.Int("problems", status.Problems),
		logger.Int("recent_errors", len(status.RecentErrors)),
	}
	if status.LastPoll != nil {
		fields = append(fields, logger.Time("last_poll", status.LastPoll.LastRunAt))
	}
	detail := &HealthCheckDetail{Status: status}
	if j.bus != nil {
		if m := j.bus.Metrics(); m != nil {
			snap := m.Snapshot()
			detail.Bus = &snap
			fields = append(fields,
				logger.Int64("events_published", snap.TotalPublished),
				logger.Int64("handler_failures", snap.HandlerFailures),
				logger.Duration("handler_avg", snap.AverageHandlerDuration),
			)
		}
	}

	var err error
	switch {
	case !status.DatabaseOK:
		err = ErrUnhealthy
		j.log.Error("health check failed", append(fields, logger.String("database_error", status.DatabaseErr))...)
	case !status.Healthy:
		j.log.Warn("health check degraded", fields...)
	default:
		j.log.Info("health check ok", fields...)
	}

	j.store(Stats{StartedAt: started, Duration: j.deps.Clock.Now().Sub(started), Err: err, Detail: detail})
	return err
}
