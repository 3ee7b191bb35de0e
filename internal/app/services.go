package app

import (
	"github.com/ac-hub/atcoder-ranking-hub/config"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/external/atcoder"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

func (a *App) wireQueries() {
	ranking := query.NewGetRankingHandler(a.Store, a.Cache, a.Clock, a.Log)
	a.Queries = Queries{
		Ranking: ranking,
		Reports: query.NewReportsHandler(a.Store),
		Status:  query.NewUserStatusHandler(a.Store, ranking, a.Clock),
		Health:  query.NewHealthHandler(a.Store, a.Tracker, a.Clock),
	}
}

// wireCommands builds the write side. The feed client and the handlers
// that use it exist only in the worker.
func (a *App) wireCommands() {
	var features command.Features
	if a.Config.Features != nil {
		features = a.Config.Features
	}

	a.Commands.Users = command.NewUserHandler(a.Store, a.Locker, a.Bus, a.Clock, a.Log)
	a.Commands.Preferences = command.NewPreferencesHandler(a.Store, a.Clock, a.Log)

	if a.Role != RoleWorker {
		return
	}

	client := atcoder.NewClient(atcoderConfig(a.Config.AtCoder, a.Log))
	sched := a.Config.Scheduler
	gate := command.NewWeekGate()

	processor := command.NewProcessSubmissionsHandler(
		a.Store, a.Locker, gate, a.Bus, features, a.Clock, a.Log,
		command.ProcessSubmissionsConfig{DefaultRating: a.Config.Scoring.DefaultRating},
	)
	a.Commands.Poll = command.NewPollSubmissionsHandler(
		a.Store, client, processor, a.Clock, a.Log,
		command.PollSubmissionsConfig{Lookback: sched.Lookback, Concurrency: sched.PollConcurrency},
	)
	a.Commands.SyncProblems = command.NewSyncProblemsHandler(a.Store, client, a.Bus, a.Clock, a.Log)
	a.Commands.RefreshRatings = command.NewRefreshRatingsHandler(a.Store, client, a.Bus, a.Clock, a.Log, sched.PollConcurrency)
	a.Commands.Rollover = command.NewWeeklyRolloverHandler(a.Store, gate, a.Commands.RefreshRatings, a.Bus, features, a.Clock, a.Log)
}

func atcoderConfig(c config.AtCoderConfig, log *logger.Logger) atcoder.ClientConfig {
	cc := atcoder.DefaultClientConfig()
	cc.SubmissionsURL = c.SubmissionsURL
	cc.ProblemsURL = c.ProblemsURL
	cc.ModelsURL = c.ModelsURL
	cc.HistoryURL = c.HistoryURL
	cc.UserAgent = c.UserAgent
	cc.Timeout = c.RequestTimeout
	cc.RateLimiter = atcoder.RateLimiterConfig{
		RequestsPerMinute: c.RateLimit,
		Burst:             c.RateLimitBurst,
	}
	cc.MaxRetries = c.MaxRetries
	cc.RetryBaseDelay = c.RetryBaseDelay
	cc.RetryMaxDelay = c.RetryMaxDelay
	cc.BreakerThreshold = c.CircuitBreakerThreshold
	cc.BreakerTimeout = c.CircuitBreakerTimeout
	cc.Logger = log
	return cc
}
