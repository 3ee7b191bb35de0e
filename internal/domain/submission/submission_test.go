package submission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

var base = time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)

func TestAdmit_Window(t *testing.T) {
	mark := &LastACMark{UserID: "u1", ProblemID: "abc300_a", At: base}

	tests := []struct {
		name  string
		after time.Duration
		want  bool
	}{
		{"same instant", 0, false},
		{"three days", 3 * 24 * time.Hour, false},
		{"five days", 5 * 24 * time.Hour, false},
		{"one second short of seven days", DuplicateWindow - time.Second, false},
		{"exactly seven days", DuplicateWindow, true},
		{"eight days", 8 * 24 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Admit(mark, base.Add(tt.after)))
		})
	}
}

func TestAdmit_NoMark(t *testing.T) {
	assert.True(t, Admit(nil, base))
	assert.True(t, Admit(&LastACMark{}, base))
}

func TestAdmit_EarlierCandidateRejected(t *testing.T) {
	mark := &LastACMark{At: base}
	assert.False(t, Admit(mark, base.Add(-time.Hour)))
}

func TestCandidate_Validate(t *testing.T) {
	ok := Candidate{ID: 10, ProblemID: "abc300_a", Result: "AC", Epoch: base.Unix()}
	require.NoError(t, ok.Validate())

	bad := []Candidate{
		{ID: 0, ProblemID: "abc300_a", Epoch: base.Unix()},
		{ID: 10, ProblemID: "", Epoch: base.Unix()},
		{ID: 10, ProblemID: "abc 300", Epoch: base.Unix()},
		{ID: 10, ProblemID: "abc300_a", Epoch: 0},
	}
	for _, c := range bad {
		err := c.Validate()
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	}
}

func TestCheckpoint_Ordering(t *testing.T) {
	a := Checkpoint{Epoch: 100, SubmissionID: 5}
	b := Checkpoint{Epoch: 100, SubmissionID: 6}
	c := Checkpoint{Epoch: 101, SubmissionID: 1}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, c.After(a))
	assert.False(t, a.After(a))
	assert.True(t, Checkpoint{}.IsZero())
}

func TestCheckpoint_FetchFrom(t *testing.T) {
	cp := Checkpoint{Epoch: 200000}
	assert.Equal(t, int64(200000-86400), cp.FetchFrom(24*time.Hour))
	assert.Equal(t, int64(0), Checkpoint{Epoch: 500}.FetchFrom(24*time.Hour))
}

func TestPending(t *testing.T) {
	cp := Checkpoint{Epoch: 1000, SubmissionID: 50}
	cs := []Candidate{
		{ID: 70, ProblemID: "p3", Result: "AC", Epoch: 1002},
		{ID: 49, ProblemID: "p0", Result: "AC", Epoch: 1000}, // behind
		{ID: 50, ProblemID: "p0", Result: "AC", Epoch: 1000}, // equal, already seen
		{ID: 51, ProblemID: "p1", Result: "AC", Epoch: 1000},
		{ID: 60, ProblemID: "p2", Result: "WA", Epoch: 1001},
		{ID: 61, ProblemID: "p2", Result: "AC", Epoch: 1001},
		{ID: 10, ProblemID: "p9", Result: "AC", Epoch: 900}, // older
	}

	pending, skipped := Pending(cs, cp)
	require.Len(t, pending, 3)
	assert.Equal(t, 4, skipped)
	assert.Equal(t, int64(51), pending[0].ID)
	assert.Equal(t, int64(61), pending[1].ID)
	assert.Equal(t, int64(70), pending[2].ID)
}

func TestCandidate_SubmittedAt(t *testing.T) {
	c := Candidate{Epoch: base.Unix()}
	assert.True(t, c.SubmittedAt().Equal(base))
	assert.Equal(t, time.UTC, c.SubmittedAt().Location())
	assert.True(t, Candidate{Result: "ac"}.IsAccepted())
	assert.False(t, Candidate{Result: "TLE"}.IsAccepted())
}
