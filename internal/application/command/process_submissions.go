package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ac-hub/atcoder-ranking-hub/config"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/scoring"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESS SUBMISSIONS COMMAND
// Scores the accepted submissions of one user. Each admitted submission is
// one atomic unit: duplicate mark, streak, audit record, weekly score and
// checkpoint commit together or not at all.
// ══════════════════════════════════════════════════════════════════════════════

// ProcessSubmissionsCommand carries one feed read for one user.
type ProcessSubmissionsCommand struct {
	UserID shared.UserID

	// Candidates as returned by the feed: any order, any verdict.
	Candidates []submission.Candidate

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c ProcessSubmissionsCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// Outcome is what happened to one candidate.
type Outcome int

const (
	// OutcomeScored: admitted and persisted.
	OutcomeScored Outcome = iota
	// OutcomeDuplicate: inside the duplicate window, nothing but the
	// checkpoint changed.
	OutcomeDuplicate
	// OutcomeReplay: the external submission id was already recorded.
	OutcomeReplay
	// OutcomeBehind: at or before the checkpoint, ignored.
	OutcomeBehind
)

func (o Outcome) String() string {
	switch o {
	case OutcomeScored:
		return "scored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeReplay:
		return "replay"
	case OutcomeBehind:
		return "behind"
	default:
		return "unknown"
	}
}

// ScoredSubmission is the scoring result of one admitted submission.
type ScoredSubmission struct {
	Candidate   submission.Candidate
	Problem     *problem.Problem // nil when the catalog does not know it
	Result      scoring.Result
	Transition  streak.Transition
	PrevStreak  int
	Week        string
	WeeklyScore int
	ProcessedAt time.Time
}

// ProcessSubmissionsResult contains the result of processing.
type ProcessSubmissionsResult struct {
	UserID     shared.UserID
	Scored     []ScoredSubmission
	Duplicates int
	Replays    int
	Behind     int
	Invalid    int
	NotAC      int
	Checkpoint submission.Checkpoint

	// Events published after commit.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ProcessSubmissionsConfig contains configuration for the handler.
type ProcessSubmissionsConfig struct {
	// DefaultRating is used while a user's rating is unknown.
	DefaultRating int
}

// ProcessSubmissionsHandler handles ProcessSubmissionsCommand.
type ProcessSubmissionsHandler struct {
	store     Store
	locker    Locker
	gate      *WeekGate
	publisher shared.EventPublisher
	features  Features
	clock     timeutil.Clock
	log       *logger.Logger
	config    ProcessSubmissionsConfig

	// roll draws the AI text lottery; uniform in [0, 1).
	roll func() float64
}

// NewProcessSubmissionsHandler creates a new handler.
func NewProcessSubmissionsHandler(
	store Store,
	locker Locker,
	gate *WeekGate,
	publisher shared.EventPublisher,
	features Features,
	clock timeutil.Clock,
	log *logger.Logger,
	cfg ProcessSubmissionsConfig,
) *ProcessSubmissionsHandler {
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
	return &ProcessSubmissionsHandler{
		store:     store,
		locker:    locker,
		gate:      gate,
		publisher: publisher,
		features:  features,
		clock:     clock,
		log:       log.With(logger.Component("processor")),
		config:    cfg,
		roll:      rand.Float64,
	}
}

// SetRoll replaces the AI lottery source. Tests only.
func (h *ProcessSubmissionsHandler) SetRoll(fn func() float64) { h.roll = fn }

// Handle processes one user's candidates. The user lock is held for the
// whole call, but no network I/O happens inside it.
func (h *ProcessSubmissionsHandler) Handle(ctx context.Context, cmd ProcessSubmissionsCommand) (result *ProcessSubmissionsResult, err error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("process_submissions: %w", err)
	}

	ctx, span := tracing.Start(ctx, "command.ProcessSubmissions",
		attribute.String("user_id", cmd.UserID.String()),
		attribute.Int("candidates", len(cmd.Candidates)),
	)
	defer func() { tracing.End(span, err) }()

	unlock, err := h.locker.Lock(ctx, "user:"+cmd.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to lock user %s: %w", cmd.UserID, err)
	}
	defer unlock()

	log := h.log.With(logger.UserID(cmd.UserID.String()))
	if cmd.CorrelationID != "" {
		log = log.WithRequestID(cmd.CorrelationID)
	}

	u, err := h.store.GetUser(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	result = &ProcessSubmissionsResult{UserID: u.ID}
	if !u.Active {
		log.Debug("user inactive, skipping batch", logger.Int("candidates", len(cmd.Candidates)))
		return result, nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Order candidates
	// ─────────────────────────────────────────────────────────────────────────

	valid := make([]submission.Candidate, 0, len(cmd.Candidates))
	for _, c := range cmd.Candidates {
		if err := c.Validate(); err != nil {
			result.Invalid++
			log.Warn("malformed candidate skipped",
				logger.SubmissionID(c.ID),
				logger.ProblemID(c.ProblemID.String()),
				logger.Int64("epoch", c.Epoch),
			)
			continue
		}
		valid = append(valid, c)
	}
	submission.SortCandidates(valid)

	var before *leaderboard.Ranking
	if h.features.Enabled(config.FeatureRankingEvents) {
		before, err = h.liveRanking(ctx)
		if err != nil {
			log.Warn("failed to read ranking before batch", logger.Err(err))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// One unit per accepted candidate
	// ─────────────────────────────────────────────────────────────────────────

	var maxKey submission.Checkpoint
	for _, c := range valid {
		if c.Key().After(maxKey) {
			maxKey = c.Key()
		}
		if !c.IsAccepted() {
			result.NotAC++
			continue
		}

		p, err := h.lookupProblem(ctx, c.ProblemID)
		if err != nil {
			return result, err
		}

		outcome, scored, err := h.processOne(ctx, u, c, p)
		if err != nil {
			// Later candidates must not overtake this one.
			log.Error("scoring unit rolled back",
				logger.SubmissionID(c.ID),
				logger.ProblemID(c.ProblemID.String()),
				logger.Err(err),
			)
			return result, fmt.Errorf("failed to process submission %d: %w", c.ID, err)
		}

		switch outcome {
		case OutcomeScored:
			result.Scored = append(result.Scored, *scored)
			log.Info("submission scored",
				logger.SubmissionID(c.ID),
				logger.ProblemID(c.ProblemID.String()),
				logger.Score(scored.Result.FinalScore),
				logger.Streak(scored.Result.Streak),
				logger.WeekID(scored.Week),
			)
		case OutcomeDuplicate:
			result.Duplicates++
			log.Debug("duplicate within window", logger.SubmissionID(c.ID), logger.ProblemID(c.ProblemID.String()))
		case OutcomeReplay:
			result.Replays++
			log.Debug("submission already recorded", logger.SubmissionID(c.ID))
		case OutcomeBehind:
			result.Behind++
		}
	}

	// Non-AC tail: move the checkpoint past everything that was read.
	if !maxKey.IsZero() {
		if err := h.advanceCheckpoint(ctx, u.ID, maxKey); err != nil {
			return result, fmt.Errorf("failed to advance checkpoint: %w", err)
		}
	}

	result.Checkpoint, err = h.store.GetCheckpoint(ctx, u.ID)
	if err != nil {
		return result, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Events (after commit)
	// ─────────────────────────────────────────────────────────────────────────

	if len(result.Scored) > 0 {
		result.Events = h.buildEvents(ctx, u, result.Scored, before, log)
		if err := publishAll(h.publisher, result.Events); err != nil {
			log.Warn("failed to publish events", logger.Err(err))
		}
	}

	return result, nil
}

func (h *ProcessSubmissionsHandler) lookupProblem(ctx context.Context, id shared.ProblemID) (*problem.Problem, error) {
	p, err := h.store.GetProblem(ctx, id)
	if err == nil {
		return p, nil
	}
	if shared.IsNotFound(err) {
		// Unknown problems score with the flat base.
		return nil, nil
	}
	return nil, fmt.Errorf("failed to get problem %s: %w", id, err)
}

// processOne runs the atomic unit for one accepted candidate.
func (h *ProcessSubmissionsHandler) processOne(
	ctx context.Context,
	u *user.User,
	c submission.Candidate,
	p *problem.Problem,
) (Outcome, *ScoredSubmission, error) {
	release := h.gate.shared()
	defer release()

	now := h.clock.Now()
	at := c.SubmittedAt()

	var (
		outcome Outcome
		scored  *ScoredSubmission
	)

	err := h.store.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
		outcome, scored = OutcomeBehind, nil

		cp, err := tx.Checkpoint(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}
		if !c.Key().After(cp) {
			return nil
		}
		advance := func() error { return tx.SaveCheckpoint(ctx, u.ID, c.Key()) }

		// 1. Duplicate filter
		mark, err := tx.LastACMark(ctx, u.ID, c.ProblemID)
		if err != nil {
			return fmt.Errorf("read last AC mark: %w", err)
		}
		if !submission.Admit(mark, at) {
			outcome = OutcomeDuplicate
			return advance()
		}

		// 2. Streak transition
		prev, err := tx.Streak(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("read streak: %w", err)
		}
		next, transition := streak.Apply(prev, timeutil.DateOf(at))

		// 3. Score
		in := scoring.Input{
			Rating: u.EffectiveRating(h.config.DefaultRating),
			Streak: next.Current,
		}
		if p != nil {
			in.RawDifficulty = p.RawDifficulty
		}
		res := scoring.Calculate(in)

		// 4. Week bucket: the submission's week unless it is already closed.
		week := leaderboard.WeekOf(at)
		closed, err := tx.ReportExists(ctx, week.ID())
		if err != nil {
			return fmt.Errorf("check report: %w", err)
		}
		if closed {
			week = leaderboard.WeekOf(now)
		}

		// 5. Persist
		inserted, err := tx.InsertRecord(ctx, submission.Record{
			ID:           uuid.NewString(),
			UserID:       u.ID,
			ProblemID:    c.ProblemID,
			SubmissionID: c.ID,
			SubmittedAt:  at,
			Week:         week.ID(),
			BaseScore:    res.BaseScore,
			Multiplier:   res.Multiplier,
			FinalScore:   res.FinalScore,
			Streak:       res.Streak,
			ProcessedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if !inserted {
			outcome = OutcomeReplay
			return advance()
		}

		if err := tx.SaveLastACMark(ctx, submission.LastACMark{UserID: u.ID, ProblemID: c.ProblemID, At: at}); err != nil {
			return fmt.Errorf("save last AC mark: %w", err)
		}
		if err := tx.SaveStreak(ctx, u.ID, next); err != nil {
			return fmt.Errorf("save streak: %w", err)
		}
		total, err := tx.AddWeeklyScore(ctx, week.ID(), u.ID, res.FinalScore, now)
		if err != nil {
			return fmt.Errorf("add weekly score: %w", err)
		}

		outcome = OutcomeScored
		scored = &ScoredSubmission{
			Candidate:   c,
			Problem:     p,
			Result:      res,
			Transition:  transition,
			PrevStreak:  prev.Current,
			Week:        week.ID(),
			WeeklyScore: total,
			ProcessedAt: now,
		}
		return advance()
	})
	if err != nil {
		return OutcomeBehind, nil, err
	}
	return outcome, scored, nil
}

func (h *ProcessSubmissionsHandler) advanceCheckpoint(ctx context.Context, userID shared.UserID, key submission.Checkpoint) error {
	return h.store.WithinTx(ctx, func(ctx context.Context, tx submission.Tx) error {
		cp, err := tx.Checkpoint(ctx, userID)
		if err != nil {
			return err
		}
		if !key.After(cp) {
			return nil
		}
		return tx.SaveCheckpoint(ctx, userID, key)
	})
}

func (h *ProcessSubmissionsHandler) liveRanking(ctx context.Context) (*leaderboard.Ranking, error) {
	week := leaderboard.WeekOf(h.clock.Now())
	entries, err := h.store.WeeklyEntries(ctx, week)
	if err != nil {
		return nil, err
	}
	return leaderboard.Build(week, entries)
}

func (h *ProcessSubmissionsHandler) buildEvents(
	ctx context.Context,
	u *user.User,
	scored []ScoredSubmission,
	before *leaderboard.Ranking,
	log *logger.Logger,
) []shared.Event {
	events := make([]shared.Event, 0, len(scored)+2)

	stgs, err := h.store.GetSettings(ctx)
	if err != nil {
		log.Warn("failed to read settings, AI text disabled", logger.Err(err))
		stgs = settings.Default()
	}
	aiAllowed := h.features.EnabledFor(config.FeatureAINotifications, u.ID.String())

	for _, s := range scored {
		events = append(events, h.scoredEvent(u, s, aiAllowed && stgs.UseAIText(h.roll())))

		if h.features.EnabledFor(config.FeatureStreakRole, u.ID.String()) &&
			streak.CrossedThreshold(s.PrevStreak, s.Result.Streak) {
			events = append(events, shared.NewStreakThresholdCrossedEvent(u.ID, s.Result.Streak, streak.RoleThreshold, s.ProcessedAt))
		}
	}

	last := scored[len(scored)-1]

	if h.features.EnabledFor(config.FeatureGoalMilestones, u.ID.String()) {
		if e := h.goalEvent(ctx, u.ID, last, log); e != nil {
			events = append(events, e)
		}
	}

	if before != nil {
		after, err := h.liveRanking(ctx)
		if err != nil {
			log.Warn("failed to read ranking after batch", logger.Err(err))
			return events
		}
		diff := leaderboard.CalculateDiff(before, after)
		week := after.Week().ID()
		for _, m := range diff.Moves {
			events = append(events, shared.NewRankChangedEvent(week, m.UserID, m.OldRank, m.NewRank, m.Score, last.ProcessedAt))
		}
		if diff.TopChanged {
			events = append(events, shared.NewTopRankChangedEvent(week, diff.PreviousTop, diff.CurrentTop, last.ProcessedAt))
		}
	}

	return events
}

func (h *ProcessSubmissionsHandler) scoredEvent(u *user.User, s ScoredSubmission, useAI bool) shared.SubmissionScoredEvent {
	e := shared.SubmissionScoredEvent{
		BaseEvent:         shared.NewBaseEvent(shared.EventSubmissionScored, u.ID.String(), s.ProcessedAt),
		Handle:            u.Handle,
		ProblemID:         s.Candidate.ProblemID,
		ContestID:         s.Candidate.ContestID,
		SubmissionID:      s.Candidate.ID,
		SubmittedAt:       s.Candidate.SubmittedAt(),
		Week:              s.Week,
		DisplayDifficulty: s.Result.DisplayDifficulty,
		Rating:            s.Result.Rating,
		BaseScore:         s.Result.BaseScore,
		Multiplier:        s.Result.Multiplier,
		FinalScore:        s.Result.FinalScore,
		Streak:            s.Result.Streak,
		DifficultyColor:   string(s.Result.DifficultyColor),
		RatingColor:       string(s.Result.RatingColor),
		Tier:              string(s.Result.Tier),
		WeeklyScore:       s.WeeklyScore,
		UseAIText:         useAI,
	}
	if s.Problem != nil {
		e.ProblemTitle = s.Problem.Title
		if e.ContestID == "" {
			e.ContestID = s.Problem.ContestID
		}
	}
	return e
}

// goalEvent checks the weekly goal once per batch against the latest total.
func (h *ProcessSubmissionsHandler) goalEvent(ctx context.Context, userID shared.UserID, last ScoredSubmission, log *logger.Logger) shared.Event {
	g, err := h.store.GetGoal(ctx, userID, last.Week)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			log.Warn("failed to read goal", logger.Err(err))
		}
		return nil
	}
	m, ok := g.Reached(last.WeeklyScore)
	if !ok {
		return nil
	}
	g.Mark(m, last.ProcessedAt)
	if err := h.store.MarkGoal(ctx, g); err != nil {
		log.Warn("failed to mark goal milestone", logger.Err(err))
		return nil
	}
	return shared.NewGoalMilestoneReachedEvent(userID, last.Week, m, last.WeeklyScore, g.Target, last.ProcessedAt)
}
