package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLL SUBMISSIONS COMMAND
// Reads the feed for every active user and hands the result to the
// processor. The feed read happens without any user lock held.
// ══════════════════════════════════════════════════════════════════════════════

// PollSubmissionsCommand polls one user, or every active user when UserID
// is empty.
type PollSubmissionsCommand struct {
	UserID        shared.UserID
	CorrelationID string
}

// UserPollResult is the outcome for one user.
type UserPollResult struct {
	UserID  shared.UserID
	Handle  shared.Handle
	Fetched int
	Pending int
	Scored  int
	Err     error
}

// PollSubmissionsResult summarises one polling cycle.
type PollSubmissionsResult struct {
	Users     []UserPollResult
	Fetched   int
	Scored    int
	Failed    int
	Duration  time.Duration
	StartedAt time.Time
}

// PollSubmissionsConfig contains configuration for the poller.
type PollSubmissionsConfig struct {
	// Lookback widens the fetch window behind the checkpoint.
	Lookback time.Duration

	// Concurrency bounds parallel users per cycle.
	Concurrency int
}

// DefaultPollSubmissionsConfig returns the default poller configuration.
func DefaultPollSubmissionsConfig() PollSubmissionsConfig {
	return PollSubmissionsConfig{
		Lookback:    24 * time.Hour,
		Concurrency: 4,
	}
}

// PollSubmissionsHandler handles PollSubmissionsCommand.
type PollSubmissionsHandler struct {
	store     Store
	feed      FeedReader
	processor *ProcessSubmissionsHandler
	clock     timeutil.Clock
	log       *logger.Logger
	config    PollSubmissionsConfig
}

// NewPollSubmissionsHandler creates a new poller.
func NewPollSubmissionsHandler(
	store Store,
	feed FeedReader,
	processor *ProcessSubmissionsHandler,
	clock timeutil.Clock,
	log *logger.Logger,
	cfg PollSubmissionsConfig,
) *PollSubmissionsHandler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PollSubmissionsHandler{
		store:     store,
		feed:      feed,
		processor: processor,
		clock:     clock,
		log:       log.With(logger.Component("poller")),
		config:    cfg,
	}
}

// Handle runs one polling cycle. A failure for one user never stops the
// others; the returned error joins every per-user failure.
func (h *PollSubmissionsHandler) Handle(ctx context.Context, cmd PollSubmissionsCommand) (result *PollSubmissionsResult, err error) {
	ctx, span := tracing.Start(ctx, "command.PollSubmissions")
	defer func() { tracing.End(span, err) }()

	result = &PollSubmissionsResult{StartedAt: h.clock.Now()}
	start := time.Now()

	users, err := h.targets(ctx, cmd.UserID)
	if err != nil {
		return result, err
	}
	span.SetAttributes(attribute.Int("users", len(users)))

	var (
		mu   sync.Mutex
		errs []error
	)
	result.Users = make([]UserPollResult, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)

	for i, u := range users {
		g.Go(func() error {
			r := h.pollUser(gctx, u, cmd.CorrelationID)
			result.Users[i] = r
			if r.Err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("user %s: %w", u.ID, r.Err))
				mu.Unlock()
			}
			// per-user errors must not cancel the siblings
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range result.Users {
		result.Fetched += r.Fetched
		result.Scored += r.Scored
		if r.Err != nil {
			result.Failed++
		}
	}
	result.Duration = time.Since(start)

	h.log.Info("poll cycle finished",
		logger.Int("users", len(users)),
		logger.Int("fetched", result.Fetched),
		logger.Int("scored", result.Scored),
		logger.Int("failed", result.Failed),
		logger.Latency(result.Duration),
	)

	return result, errors.Join(errs...)
}

func (h *PollSubmissionsHandler) targets(ctx context.Context, id shared.UserID) ([]*user.User, error) {
	if id == "" {
		users, err := h.store.ListActiveUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active users: %w", err)
		}
		return users, nil
	}
	u, err := h.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !u.Active {
		return nil, shared.ErrUserInactive
	}
	return []*user.User{u}, nil
}

// pollUser fetches and processes one user. A fetch failure leaves the
// checkpoint untouched so that the next cycle retries the same window.
func (h *PollSubmissionsHandler) pollUser(ctx context.Context, u *user.User, correlationID string) UserPollResult {
	r := UserPollResult{UserID: u.ID, Handle: u.Handle}
	log := h.log.With(logger.UserID(u.ID.String()), logger.Handle(u.Handle.String()))

	cp, err := h.store.GetCheckpoint(ctx, u.ID)
	if err != nil {
		r.Err = fmt.Errorf("failed to read checkpoint: %w", err)
		return r
	}

	from := cp.FetchFrom(h.config.Lookback)
	candidates, err := h.feed.Submissions(ctx, u.Handle, from)
	if err != nil {
		log.Warn("feed fetch failed", logger.Int64("from_second", from), logger.Err(err))
		r.Err = err
		return r
	}
	r.Fetched = len(candidates)
	if len(candidates) == 0 {
		return r
	}

	pending, _ := submission.Pending(candidates, cp)
	r.Pending = len(pending)
	log.Debug("feed read",
		logger.Int64("from_second", from),
		logger.Int("fetched", r.Fetched),
		logger.Int("pending", r.Pending),
	)

	res, err := h.processor.Handle(ctx, ProcessSubmissionsCommand{
		UserID:        u.ID,
		Candidates:    candidates,
		CorrelationID: correlationID,
	})
	if res != nil {
		r.Scored = len(res.Scored)
	}
	if err != nil {
		r.Err = err
	}
	return r
}
