package submission

import (
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// DuplicateWindow is how long a scored problem stays blocked for the same user.
const DuplicateWindow = 7 * 24 * time.Hour

// LastACMark is the time a (user, problem) pair was last scored.
type LastACMark struct {
	UserID    shared.UserID
	ProblemID shared.ProblemID
	At        time.Time
}

// Admit decides whether a candidate submitted at may be scored given the
// pair's previous mark. The window is rolling, not calendar aligned, and a
// candidate exactly DuplicateWindow after the mark is admitted.
func Admit(mark *LastACMark, at time.Time) bool {
	if mark == nil || mark.At.IsZero() {
		return true
	}
	return at.Sub(mark.At) >= DuplicateWindow
}
