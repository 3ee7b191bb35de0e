package command

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC PROBLEMS COMMAND
// Refreshes the problem catalog. Scores already awarded are never touched.
// ══════════════════════════════════════════════════════════════════════════════

// SyncProblemsResult contains the result of a catalog refresh.
type SyncProblemsResult struct {
	Problems       int
	WithDifficulty int
	Duration       time.Duration

	// Shared is true when this call joined a refresh already in flight.
	Shared bool
}

// SyncProblemsHandler refreshes the problem catalog.
type SyncProblemsHandler struct {
	store     Store
	catalog   CatalogReader
	publisher shared.EventPublisher
	clock     timeutil.Clock
	log       *logger.Logger

	group singleflight.Group
}

// NewSyncProblemsHandler creates a new handler.
func NewSyncProblemsHandler(
	store Store,
	catalog CatalogReader,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
) *SyncProblemsHandler {
	if clock == nil {
		clock = timeutil.SystemClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SyncProblemsHandler{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("problem_sync")),
	}
}

// Handle refreshes the catalog. Concurrent callers (the scheduled job and
// the admin trigger) share a single upstream read.
func (h *SyncProblemsHandler) Handle(ctx context.Context) (*SyncProblemsResult, error) {
	v, err, joined := h.group.Do("catalog", func() (any, error) {
		return h.sync(ctx)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*SyncProblemsResult)
	res.Shared = joined
	return &res, nil
}

func (h *SyncProblemsHandler) sync(ctx context.Context) (result *SyncProblemsResult, err error) {
	ctx, span := tracing.Start(ctx, "command.SyncProblems")
	defer func() { tracing.End(span, err) }()

	start := time.Now()

	problems, err := h.catalog.Problems(ctx)
	if err != nil {
		h.log.Warn("catalog fetch failed", logger.Err(err))
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}

	now := h.clock.Now()
	withDifficulty := 0
	for i := range problems {
		problems[i].UpdatedAt = now
		if problems[i].HasDifficulty() {
			withDifficulty++
		}
	}

	if err := h.store.UpsertProblems(ctx, problems); err != nil {
		return nil, fmt.Errorf("failed to save catalog: %w", err)
	}

	result = &SyncProblemsResult{
		Problems:       len(problems),
		WithDifficulty: withDifficulty,
		Duration:       time.Since(start),
	}

	h.log.Info("catalog synced",
		logger.Int("problems", result.Problems),
		logger.Int("with_difficulty", result.WithDifficulty),
		logger.Latency(result.Duration),
	)

	if err := publishAll(h.publisher, []shared.Event{
		shared.NewCatalogSyncedEvent(result.Problems, result.WithDifficulty, now),
	}); err != nil {
		h.log.Warn("failed to publish catalog event", logger.Err(err))
	}

	return result, nil
}
