// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrOutOfOrder       = errors.New("out of order")

	// Concurrency errors
	ErrConflict    = errors.New("concurrent modification detected")
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "user", "leaderboard", "submission"
	Op      string // operation that failed
	Kind    error  // base error for errors.Is()
	Message string
	Err     error // underlying error, optional
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both Kind and Err.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// User domain errors
var (
	ErrUserNotFound  = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrInvalidUserID = NewDomainError("user", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidHandle = NewDomainError("user", "Validate", ErrInvalidID, "invalid AtCoder handle")
	ErrUserInactive  = NewDomainError("user", "CheckStatus", ErrInvalidState, "user is not active")
)

// Submission domain errors
var (
	ErrInvalidCandidate = NewDomainError("submission", "Validate", ErrInvalidInput, "malformed submission candidate")
	ErrCandidateBehind  = NewDomainError("submission", "Order", ErrOutOfOrder, "candidate is at or behind the checkpoint")
)

// Leaderboard domain errors
var (
	ErrReportNotFound   = NewDomainError("leaderboard", "FindReport", ErrNotFound, "weekly report not found")
	ErrInvalidWeek      = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid week identifier")
	ErrRankingNotCached = NewDomainError("leaderboard", "Cache", ErrNotFound, "ranking is not cached")
)

// Goal domain errors
var (
	ErrGoalNotFound      = NewDomainError("goal", "Find", ErrNotFound, "weekly goal not found")
	ErrInvalidGoalTarget = NewDomainError("goal", "Validate", ErrValueOutOfRange, "goal target must be positive")
)

// External service errors
var (
	ErrAtCoderUnavailable     = NewDomainError("atcoder", "Request", ErrServiceUnavailable, "AtCoder data source is unavailable")
	ErrAtCoderRateLimited     = NewDomainError("atcoder", "Request", ErrRateLimited, "AtCoder data source rate limit exceeded")
	ErrAtCoderTimeout         = NewDomainError("atcoder", "Request", ErrTimeout, "AtCoder data source request timeout")
	ErrAtCoderInvalidResponse = NewDomainError("atcoder", "Parse", ErrInvalidFormat, "invalid response from AtCoder data source")
	ErrAtCoderUserNotFound    = NewDomainError("atcoder", "Request", ErrNotFound, "AtCoder user not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried on the next cycle.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrLockTimeout)
}
