// Package submission holds the accepted-submission candidate, the ingestion
// checkpoint, the rolling duplicate window and the immutable audit record.
package submission

import (
	"sort"
	"strings"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// ResultAccepted is the judge verdict for a fully correct submission.
const ResultAccepted = "AC"

// Candidate is one submission observed in the feed.
type Candidate struct {
	ID        int64
	ProblemID shared.ProblemID
	ContestID string
	Result    string
	Epoch     int64 // submission time, unix seconds
}

// SubmittedAt returns the submission time in UTC.
func (c Candidate) SubmittedAt() time.Time {
	return time.Unix(c.Epoch, 0).UTC()
}

// IsAccepted reports whether the verdict is AC.
func (c Candidate) IsAccepted() bool {
	return strings.EqualFold(c.Result, ResultAccepted)
}

// Validate rejects candidates that cannot be scored or ordered.
func (c Candidate) Validate() error {
	if c.ID <= 0 || c.Epoch <= 0 || !c.ProblemID.IsValid() {
		return shared.ErrInvalidCandidate
	}
	return nil
}

// Key returns the ordering key (epoch, id).
func (c Candidate) Key() Checkpoint {
	return Checkpoint{Epoch: c.Epoch, SubmissionID: c.ID}
}

// Checkpoint is the per-user ingestion marker: the (epoch, id) of the last
// candidate the processor has evaluated, admitted or not.
type Checkpoint struct {
	Epoch        int64
	SubmissionID int64
}

// IsZero reports whether nothing has been evaluated yet.
func (c Checkpoint) IsZero() bool {
	return c.Epoch == 0 && c.SubmissionID == 0
}

// Less orders checkpoints by epoch, then submission id.
func (c Checkpoint) Less(o Checkpoint) bool {
	if c.Epoch != o.Epoch {
		return c.Epoch < o.Epoch
	}
	return c.SubmissionID < o.SubmissionID
}

// After reports whether c is strictly past o.
func (c Checkpoint) After(o Checkpoint) bool {
	return o.Less(c)
}

// FetchFrom is the unix second the feed should be read from. The window
// reaches back by lookback so that submissions indexed late by the feed in
// the same second as the checkpoint are still seen.
func (c Checkpoint) FetchFrom(lookback time.Duration) int64 {
	return max(0, c.Epoch-int64(lookback/time.Second))
}

// SortCandidates orders candidates by (epoch, id).
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Key().Less(cs[j].Key())
	})
}

// Pending keeps accepted candidates strictly past the checkpoint, sorted.
// Everything else is returned in skipped so callers can log it.
func Pending(cs []Candidate, cp Checkpoint) (pending []Candidate, skipped int) {
	pending = make([]Candidate, 0, len(cs))
	for _, c := range cs {
		if !c.IsAccepted() || !c.Key().After(cp) {
			skipped++
			continue
		}
		pending = append(pending, c)
	}
	SortCandidates(pending)
	return pending, skipped
}

// Record is the immutable audit row for a scored submission.
type Record struct {
	ID           string // uuid
	UserID       shared.UserID
	ProblemID    shared.ProblemID
	SubmissionID int64
	SubmittedAt  time.Time
	Week         string
	BaseScore    int
	Multiplier   float64
	FinalScore   int
	Streak       int
	ProcessedAt  time.Time
}
