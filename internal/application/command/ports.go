// Package command contains write operations (CQRS - Commands).
// Commands change engine state: ingest submissions, close weeks, refresh
// the catalog and ratings, and manage users, goals and settings.
package command

import (
	"context"
	"sync"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// Store is the persistence contract shared by all commands. The memory,
// postgres and sqlite stores implement it.
type Store interface {
	user.Repository
	problem.Repository
	submission.Repository
	submission.UnitOfWork
	leaderboard.Repository
	leaderboard.Snapshotter
	goal.Repository
	settings.Repository

	Ping(ctx context.Context) error
}

// FeedReader reads a user's submissions from the external feed.
type FeedReader interface {
	// Submissions returns every submission with epoch >= fromSecond.
	// The result may be unsorted and may include non-AC verdicts.
	Submissions(ctx context.Context, handle shared.Handle, fromSecond int64) ([]submission.Candidate, error)
}

// CatalogReader reads the full problem catalog with difficulty estimates.
type CatalogReader interface {
	Problems(ctx context.Context) ([]problem.Problem, error)
}

// RatingSource returns a user's current rating (0 when unrated).
type RatingSource interface {
	Rating(ctx context.Context, handle shared.Handle) (int, error)
}

// Locker serializes work per key. unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Features gates optional behaviour. *config.FeatureFlags satisfies it.
type Features interface {
	Enabled(name string) bool
	EnabledFor(name, userID string) bool
}

// WeekGate orders scoring units against the rollover snapshot within one
// process: scoring holds it shared, the snapshot holds it exclusively.
type WeekGate struct {
	mu sync.RWMutex
}

// NewWeekGate creates a gate.
func NewWeekGate() *WeekGate { return &WeekGate{} }

func (g *WeekGate) shared() func() {
	g.mu.RLock()
	return g.mu.RUnlock
}

func (g *WeekGate) exclusive() func() {
	g.mu.Lock()
	return g.mu.Unlock
}

type allFeatures struct{}

func (allFeatures) Enabled(string) bool            { return true }
func (allFeatures) EnabledFor(string, string) bool { return true }

// AllFeatures enables every feature. Used when no flags are configured.
var AllFeatures Features = allFeatures{}

// publishAll sends events in order and returns the first error.
func publishAll(p shared.EventPublisher, events []shared.Event) error {
	if p == nil {
		return nil
	}
	var first error
	for _, e := range events {
		if err := p.Publish(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
