package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH RATINGS COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RefreshRatingsCommand refreshes one user, or every active user when
// UserID is empty.
type RefreshRatingsCommand struct {
	UserID shared.UserID
}

// RefreshRatingsResult contains the result of a rating refresh.
type RefreshRatingsResult struct {
	Updated int
	Failed  int
}

// RefreshRatingsHandler pulls current ratings from the rating source.
type RefreshRatingsHandler struct {
	store       Store
	source      RatingSource
	publisher   shared.EventPublisher
	clock       timeutil.Clock
	log         *logger.Logger
	concurrency int
}

// NewRefreshRatingsHandler creates a new handler.
func NewRefreshRatingsHandler(
	store Store,
	source RatingSource,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	concurrency int,
) *RefreshRatingsHandler {
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &RefreshRatingsHandler{
		store:       store,
		source:      source,
		publisher:   publisher,
		clock:       clock,
		log:         log.With(logger.Component("rating_sync")),
		concurrency: concurrency,
	}
}

// Handle refreshes ratings. A failed user keeps the previous rating.
func (h *RefreshRatingsHandler) Handle(ctx context.Context, cmd RefreshRatingsCommand) (result *RefreshRatingsResult, err error) {
	ctx, span := tracing.Start(ctx, "command.RefreshRatings")
	defer func() { tracing.End(span, err) }()

	var users []*user.User
	if cmd.UserID != "" {
		u, err := h.store.GetUser(ctx, cmd.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to get user: %w", err)
		}
		users = []*user.User{u}
	} else {
		users, err = h.store.ListActiveUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active users: %w", err)
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	result = &RefreshRatingsResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for _, u := range users {
		g.Go(func() error {
			rating, err := h.source.Rating(gctx, u.Handle)
			if err == nil {
				err = h.store.SaveRating(gctx, u.ID, rating, h.clock.Now())
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
				h.log.Warn("rating refresh failed", logger.UserID(u.ID.String()), logger.Handle(u.Handle.String()), logger.Err(err))
				return nil
			}
			result.Updated++
			return nil
		})
	}
	_ = g.Wait()

	h.log.Info("ratings refreshed", logger.Int("updated", result.Updated), logger.Int("failed", result.Failed))

	if err := publishAll(h.publisher, []shared.Event{
		shared.NewRatingsRefreshedEvent(result.Updated, result.Failed, h.clock.Now()),
	}); err != nil {
		h.log.Warn("failed to publish ratings event", logger.Err(err))
	}

	return result, errors.Join(errs...)
}
