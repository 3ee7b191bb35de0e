package shared

import (
	"regexp"
	"strings"
)

// UserID is the stable external identifier of a registered user
// (the chat-platform member id in the original deployment).
type UserID string

func (u UserID) String() string { return string(u) }

// IsValid reports whether the id is non-empty and has no surrounding spaces.
func (u UserID) IsValid() bool {
	s := string(u)
	return s != "" && strings.TrimSpace(s) == s && len(s) <= 64
}

// NewUserID validates and returns a UserID.
func NewUserID(id string) (UserID, error) {
	u := UserID(id)
	if !u.IsValid() {
		return "", ErrInvalidUserID
	}
	return u, nil
}

// Handle is an AtCoder user name.
type Handle string

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

func (h Handle) String() string { return string(h) }

// IsValid reports whether h matches AtCoder's user name rules.
func (h Handle) IsValid() bool {
	return handlePattern.MatchString(string(h))
}

// NewHandle trims and validates an AtCoder user name.
func NewHandle(s string) (Handle, error) {
	h := Handle(strings.TrimSpace(s))
	if !h.IsValid() {
		return "", ErrInvalidHandle
	}
	return h, nil
}

// ProblemID is an AtCoder problem identifier such as "abc300_a".
type ProblemID string

func (p ProblemID) String() string { return string(p) }

// IsValid reports whether the id is usable as a key.
func (p ProblemID) IsValid() bool {
	s := string(p)
	return s != "" && !strings.ContainsAny(s, " \t\n")
}

// Rank is a 1-based leaderboard position. Zero means unranked.
type Rank int

func (r Rank) Int() int           { return int(r) }
func (r Rank) IsUnranked() bool   { return r <= 0 }
func (r Rank) IsTop(n int) bool   { return r > 0 && int(r) <= n }
func (r Rank) IsFirst() bool      { return r == 1 }
func (r Rank) Better(o Rank) bool { return !r.IsUnranked() && (o.IsUnranked() || r < o) }
