package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER / DEACTIVATE USER
// ══════════════════════════════════════════════════════════════════════════════

// RegisterUserCommand links an AtCoder handle to a user id.
type RegisterUserCommand struct {
	UserID string
	Handle string
}

// RegisterUserResult contains the result of registration.
type RegisterUserResult struct {
	User          *user.User
	Created       bool
	HandleChanged bool
	Reactivated   bool
}

// DeactivateUserCommand removes a user from scoring and ranking.
type DeactivateUserCommand struct {
	UserID string
}

// UserHandler handles user lifecycle commands.
type UserHandler struct {
	store     Store
	locker    Locker
	publisher shared.EventPublisher
	clock     timeutil.Clock
	log       *logger.Logger
}

// NewUserHandler creates a new handler.
func NewUserHandler(store Store, locker Locker, publisher shared.EventPublisher, clock timeutil.Clock, log *logger.Logger) *UserHandler {
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &UserHandler{
		store:     store,
		locker:    locker,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("users")),
	}
}

// Register creates or re-links a user. New users and users whose handle
// changed start with a checkpoint at the current time, so history from
// before the registration is never scored.
func (h *UserHandler) Register(ctx context.Context, cmd RegisterUserCommand) (*RegisterUserResult, error) {
	id, err := shared.NewUserID(cmd.UserID)
	if err != nil {
		return nil, err
	}
	handle, err := shared.NewHandle(cmd.Handle)
	if err != nil {
		return nil, err
	}

	unlock, err := h.locker.Lock(ctx, "user:"+id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to lock user %s: %w", id, err)
	}
	defer unlock()

	now := h.clock.Now()
	result := &RegisterUserResult{}

	u, err := h.store.GetUser(ctx, id)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		u, err = user.New(id, handle, now)
		if err != nil {
			return nil, err
		}
		result.Created = true
	case err != nil:
		return nil, fmt.Errorf("failed to get user: %w", err)
	default:
		result.HandleChanged, result.Reactivated, err = u.Relink(handle, now)
		if err != nil {
			return nil, err
		}
	}

	if err := h.store.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	if result.Created || result.HandleChanged {
		cp := submission.Checkpoint{Epoch: now.Unix()}
		if err := h.store.ResetCheckpoint(ctx, id, cp); err != nil {
			return nil, fmt.Errorf("failed to reset checkpoint: %w", err)
		}
	}
	result.User = u

	h.log.Info("user registered",
		logger.UserID(id.String()),
		logger.Handle(handle.String()),
		logger.Bool("created", result.Created),
		logger.Bool("handle_changed", result.HandleChanged),
		logger.Bool("reactivated", result.Reactivated),
	)

	if err := publishAll(h.publisher, []shared.Event{
		shared.NewUserRegisteredEvent(id, handle, result.Reactivated, now),
	}); err != nil {
		h.log.Warn("failed to publish user event", logger.Err(err))
	}
	return result, nil
}

// Deactivate marks the user inactive. Scores and audit rows are kept.
func (h *UserHandler) Deactivate(ctx context.Context, cmd DeactivateUserCommand) error {
	id, err := shared.NewUserID(cmd.UserID)
	if err != nil {
		return err
	}

	unlock, err := h.locker.Lock(ctx, "user:"+id.String())
	if err != nil {
		return fmt.Errorf("failed to lock user %s: %w", id, err)
	}
	defer unlock()

	u, err := h.store.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	now := h.clock.Now()
	if err := u.Deactivate(now); err != nil {
		return err
	}
	if err := h.store.SaveUser(ctx, u); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	h.log.Info("user deactivated", logger.UserID(id.String()))

	if err := publishAll(h.publisher, []shared.Event{shared.NewUserDeactivatedEvent(id, now)}); err != nil {
		h.log.Warn("failed to publish user event", logger.Err(err))
	}
	return nil
}
