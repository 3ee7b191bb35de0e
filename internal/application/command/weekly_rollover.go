package command

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ac-hub/atcoder-ranking-hub/config"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY ROLLOVER COMMAND
// Closes a finished week: snapshots its ranking into an immutable report
// exactly once, then optionally refreshes ratings for the new week.
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyRolloverCommand closes Week, or the week before the current one
// when Week is zero.
type WeeklyRolloverCommand struct {
	Week leaderboard.Week

	// SkipRatingRefresh disables the rating refresh even when the feature
	// is on. Used by the admin "re-run" trigger.
	SkipRatingRefresh bool
}

// WeeklyRolloverResult contains the result of the rollover.
type WeeklyRolloverResult struct {
	Report *leaderboard.WeeklyReport

	// Created is false when the week had already been closed.
	Created bool

	Ratings *RefreshRatingsResult
	Events  []shared.Event
}

// WeeklyRolloverHandler handles WeeklyRolloverCommand.
type WeeklyRolloverHandler struct {
	store     Store
	gate      *WeekGate
	ratings   *RefreshRatingsHandler
	publisher shared.EventPublisher
	features  Features
	clock     timeutil.Clock
	log       *logger.Logger
	roll      func() float64
}

// NewWeeklyRolloverHandler creates a new handler. ratings may be nil.
func NewWeeklyRolloverHandler(
	store Store,
	gate *WeekGate,
	ratings *RefreshRatingsHandler,
	publisher shared.EventPublisher,
	features Features,
	clock timeutil.Clock,
	log *logger.Logger,
) *WeeklyRolloverHandler {
	if features == nil {
		features = AllFeatures
	}
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	if gate == nil {
		gate = NewWeekGate()
	}
	return &WeeklyRolloverHandler{
		store:     store,
		gate:      gate,
		ratings:   ratings,
		publisher: publisher,
		features:  features,
		clock:     clock,
		log:       log.With(logger.Component("rollover")),
		roll:      rand.Float64,
	}
}

// SetRoll replaces the AI lottery source. Tests only.
func (h *WeeklyRolloverHandler) SetRoll(fn func() float64) { h.roll = fn }

// Handle closes the week. Running it twice is a no-op the second time.
func (h *WeeklyRolloverHandler) Handle(ctx context.Context, cmd WeeklyRolloverCommand) (result *WeeklyRolloverResult, err error) {
	now := h.clock.Now()

	week := cmd.Week
	if week.IsZero() {
		week = leaderboard.WeekOf(now).Prev()
	}
	if now.Before(week.End()) {
		return nil, shared.WrapError("leaderboard", "Rollover", shared.ErrInvalidState,
			"week is still open", fmt.Errorf("week %s ends at %s", week.ID(), week.End().Format(time.RFC3339)))
	}

	ctx, span := tracing.Start(ctx, "command.WeeklyRollover", attribute.String("week", week.ID()))
	defer func() { tracing.End(span, err) }()

	log := h.log.With(logger.WeekID(week.ID()))

	inserted, err := h.snapshot(ctx, week, now)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot week %s: %w", week.ID(), err)
	}

	report, err := h.store.GetReport(ctx, week)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	result = &WeeklyRolloverResult{Report: report, Created: inserted}
	if !inserted {
		log.Info("week already closed, report unchanged", logger.Time("created_at", report.CreatedAt))
	} else {
		log.Info("week closed",
			logger.Int("participants", report.Participants),
			logger.Int("total_score", report.TotalScore),
			logger.Int("winners", len(report.Winners)),
		)
		result.Events = h.reportEvents(ctx, report, now, log)
		if err := publishAll(h.publisher, result.Events); err != nil {
			log.Warn("failed to publish rollover events", logger.Err(err))
		}
	}

	// Ratings refresh is best effort and never fails the rollover.
	if h.ratings != nil && !cmd.SkipRatingRefresh && h.features.Enabled(config.FeatureRatingRefresh) {
		res, err := h.ratings.Handle(ctx, RefreshRatingsCommand{})
		if err != nil {
			log.Warn("rating refresh after rollover failed", logger.Err(err))
		}
		result.Ratings = res
	}

	return result, nil
}

// snapshot holds the week gate exclusively so that no scoring unit is in
// flight between reading the entries and writing the report.
func (h *WeeklyRolloverHandler) snapshot(ctx context.Context, week leaderboard.Week, now time.Time) (bool, error) {
	release := h.gate.exclusive()
	defer release()

	return h.store.SnapshotWeek(ctx, week, func(entries []leaderboard.Entry) (*leaderboard.WeeklyReport, error) {
		ranking, err := leaderboard.Build(week, entries)
		if err != nil {
			return nil, err
		}
		return leaderboard.NewWeeklyReport(ranking, now), nil
	})
}

func (h *WeeklyRolloverHandler) reportEvents(ctx context.Context, report *leaderboard.WeeklyReport, now time.Time, log *logger.Logger) []shared.Event {
	stgs, err := h.store.GetSettings(ctx)
	if err != nil {
		log.Warn("failed to read settings, AI text disabled", logger.Err(err))
	}
	useAI := err == nil && h.features.Enabled(config.FeatureAINotifications) && stgs.UseAIText(h.roll())

	events := []shared.Event{
		shared.NewWeeklyReportCreatedEvent(report.Week.ID(), report.Participants, report.TotalScore, useAI, now),
	}
	if len(report.Winners) > 0 {
		events = append(events, shared.NewWeeklyWinnerDecidedEvent(report.Week.ID(), report.Winners, report.WinningScore(), now))
	}
	return events
}
