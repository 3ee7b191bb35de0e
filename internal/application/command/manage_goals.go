package command

import (
	"context"
	"fmt"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GOALS & SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// SetGoalCommand sets the current week's target for a user.
type SetGoalCommand struct {
	UserID string
	Target int
}

// SetGoalResult contains the stored goal and the score so far.
type SetGoalResult struct {
	Goal    *goal.Goal
	Current int
}

// UpdateSettingsCommand replaces the settings row. Nil fields are kept.
type UpdateSettingsCommand struct {
	NotifyChannelID *string
	RankChannelID   *string
	HealthChannelID *string
	WeeklyRoleID    *string
	StreakRoleID    *string
	PollInterval    *string // Go duration, e.g. "3m"
	AIEnabled       *bool
	AIProbability   *float64
}

// PreferencesHandler manages goals and deployment settings.
type PreferencesHandler struct {
	store Store
	clock timeutil.Clock
	log   *logger.Logger
}

// NewPreferencesHandler creates a new handler.
func NewPreferencesHandler(store Store, clock timeutil.Clock, log *logger.Logger) *PreferencesHandler {
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PreferencesHandler{store: store, clock: clock, log: log.With(logger.Component("preferences"))}
}

// SetGoal replaces the user's goal for the current week. Milestones that
// are already reached do not fire retroactively for the new target until
// the next scored submission.
func (h *PreferencesHandler) SetGoal(ctx context.Context, cmd SetGoalCommand) (*SetGoalResult, error) {
	id, err := shared.NewUserID(cmd.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := h.store.GetUser(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	now := h.clock.Now()
	week := leaderboard.WeekOf(now)

	g, err := goal.New(id, week.ID(), cmd.Target, now)
	if err != nil {
		return nil, err
	}
	if err := h.store.SaveGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to save goal: %w", err)
	}

	current, err := h.store.WeeklyScore(ctx, week, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read weekly score: %w", err)
	}

	h.log.Info("goal set", logger.UserID(id.String()), logger.WeekID(week.ID()), logger.Int("target", cmd.Target))
	return &SetGoalResult{Goal: g, Current: current}, nil
}

// ClearGoal removes the user's goal for the current week.
func (h *PreferencesHandler) ClearGoal(ctx context.Context, userID string) error {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return err
	}
	week := leaderboard.WeekOf(h.clock.Now())
	if err := h.store.DeleteGoal(ctx, id, week.ID()); err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	h.log.Info("goal cleared", logger.UserID(id.String()), logger.WeekID(week.ID()))
	return nil
}

// UpdateSettings applies the non-nil fields and validates the result.
func (h *PreferencesHandler) UpdateSettings(ctx context.Context, cmd UpdateSettingsCommand) (settings.Settings, error) {
	s, err := h.store.GetSettings(ctx)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&s.NotifyChannelID, cmd.NotifyChannelID)
	set(&s.RankChannelID, cmd.RankChannelID)
	set(&s.HealthChannelID, cmd.HealthChannelID)
	set(&s.WeeklyRoleID, cmd.WeeklyRoleID)
	set(&s.StreakRoleID, cmd.StreakRoleID)

	if cmd.PollInterval != nil {
		d, err := parseDuration(*cmd.PollInterval)
		if err != nil {
			return settings.Settings{}, err
		}
		s.PollInterval = d
	}
	if cmd.AIEnabled != nil {
		s.AIEnabled = *cmd.AIEnabled
	}
	if cmd.AIProbability != nil {
		s.AIProbability = *cmd.AIProbability
	}

	if err := s.Validate(); err != nil {
		return settings.Settings{}, err
	}
	s.UpdatedAt = h.clock.Now()

	if err := h.store.SaveSettings(ctx, s); err != nil {
		return settings.Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	h.log.Info("settings updated", logger.Duration("poll_interval", s.PollInterval), logger.Bool("ai_enabled", s.AIEnabled))
	return s, nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, shared.WrapError("settings", "Parse", shared.ErrInvalidInput, "invalid poll interval", err)
	}
	return d, nil
}
