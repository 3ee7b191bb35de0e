package atcoder

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// KENKOOOO DTOs
// ══════════════════════════════════════════════════════════════════════════════

// SubmissionDTO is one element of /v3/user/submissions.
type SubmissionDTO struct {
	ID            int64   `json:"id"`
	EpochSecond   int64   `json:"epoch_second"`
	ProblemID     string  `json:"problem_id"`
	ContestID     string  `json:"contest_id"`
	UserID        string  `json:"user_id"`
	Language      string  `json:"language"`
	Point         float64 `json:"point"`
	Length        int     `json:"length"`
	Result        string  `json:"result"`
	ExecutionTime *int    `json:"execution_time"`
}

// ProblemDTO is one element of resources/problems.json.
type ProblemDTO struct {
	ID           string `json:"id"`
	ContestID    string `json:"contest_id"`
	ProblemIndex string `json:"problem_index"`
	Name         string `json:"name"`
	Title        string `json:"title"`
}

// ProblemModelDTO is one value of resources/problem-models.json. Most
// fields are absent for old or unrated problems.
type ProblemModelDTO struct {
	Slope            *float64 `json:"slope"`
	Intercept        *float64 `json:"intercept"`
	Variance         *float64 `json:"variance"`
	Difficulty       *float64 `json:"difficulty"`
	Discrimination   *float64 `json:"discrimination"`
	IRTLogLikelihood *float64 `json:"irt_loglikelihood"`
	IRTUsers         *float64 `json:"irt_users"`
	IsExperimental   bool     `json:"is_experimental"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ATCODER DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ContestResultDTO is one element of atcoder.jp/users/{handle}/history/json.
type ContestResultDTO struct {
	IsRated           bool   `json:"IsRated"`
	Place             int    `json:"Place"`
	OldRating         int    `json:"OldRating"`
	NewRating         int    `json:"NewRating"`
	Performance       int    `json:"Performance"`
	ContestScreenName string `json:"ContestScreenName"`
	ContestName       string `json:"ContestName"`
	EndTime           string `json:"EndTime"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// StatusError is a non-2xx response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.StatusCode)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
