package atcoder

import (
	"sort"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// DTO -> DOMAIN
// ══════════════════════════════════════════════════════════════════════════════

// CandidateFromDTO maps a feed row. Verdict filtering happens downstream.
func CandidateFromDTO(dto SubmissionDTO) submission.Candidate {
	return submission.Candidate{
		ID:        dto.ID,
		ProblemID: shared.ProblemID(dto.ProblemID),
		ContestID: dto.ContestID,
		Result:    dto.Result,
		Epoch:     dto.EpochSecond,
	}
}

// CandidatesFromDTO maps a page of feed rows.
func CandidatesFromDTO(dtos []SubmissionDTO) []submission.Candidate {
	out := make([]submission.Candidate, len(dtos))
	for i, dto := range dtos {
		out[i] = CandidateFromDTO(dto)
	}
	return out
}

// ProblemsFromDTO joins the catalog with the difficulty models. A problem
// without a model (or a model without difficulty) keeps a nil difficulty.
// The result is sorted by id.
func ProblemsFromDTO(problems []ProblemDTO, models map[string]ProblemModelDTO, at time.Time) []problem.Problem {
	out := make([]problem.Problem, 0, len(problems))
	for _, p := range problems {
		if p.ID == "" {
			continue
		}
		title := p.Title
		if title == "" {
			title = p.Name
		}
		item := problem.Problem{
			ID:        shared.ProblemID(p.ID),
			ContestID: p.ContestID,
			Title:     title,
			UpdatedAt: at,
		}
		if m, ok := models[p.ID]; ok && m.Difficulty != nil {
			d := *m.Difficulty
			item.RawDifficulty = &d
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RatingFromHistory returns the rating after the last contest, 0 when the
// user never took part in one.
func RatingFromHistory(history []ContestResultDTO) int {
	if len(history) == 0 {
		return 0
	}
	return history[len(history)-1].NewRating
}
