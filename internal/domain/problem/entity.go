// Package problem holds the AtCoder problem catalog entry.
package problem

import (
	"context"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/scoring"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// Problem is one catalog row. RawDifficulty is nil when the difficulty model
// has no estimate for the problem.
type Problem struct {
	ID            shared.ProblemID
	ContestID     string
	Title         string
	RawDifficulty *float64
	UpdatedAt     time.Time
}

// DisplayDifficulty is nil exactly when RawDifficulty is nil.
func (p *Problem) DisplayDifficulty() *int {
	if p == nil {
		return nil
	}
	return scoring.DisplayDifficulty(p.RawDifficulty)
}

// HasDifficulty reports whether the problem has a difficulty estimate.
func (p *Problem) HasDifficulty() bool {
	return p != nil && p.DisplayDifficulty() != nil
}

// Repository is the problem catalog store.
type Repository interface {
	// UpsertProblems inserts or replaces catalog rows. Scores already
	// awarded are never recomputed.
	UpsertProblems(ctx context.Context, ps []Problem) error

	// GetProblem returns shared.ErrNotFound for unknown ids.
	GetProblem(ctx context.Context, id shared.ProblemID) (*Problem, error)

	CountProblems(ctx context.Context) (int, error)
}
