// Package settings holds per-deployment options that the engine reads but
// never decides on: where notifications go and how often to poll.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

const (
	DefaultPollInterval = 180 * time.Second
	MinPollInterval     = 30 * time.Second
)

// Settings is the single settings row of a deployment.
type Settings struct {
	NotifyChannelID string
	RankChannelID   string
	HealthChannelID string
	WeeklyRoleID    string
	StreakRoleID    string

	PollInterval  time.Duration
	AIEnabled     bool
	AIProbability float64

	UpdatedAt time.Time
}

// Default returns settings used before an operator changes anything.
func Default() Settings {
	return Settings{
		PollInterval:  DefaultPollInterval,
		AIProbability: 0.2,
	}
}

// Validate collects every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if s.PollInterval < MinPollInterval {
		errs = append(errs, fmt.Errorf("poll interval must be at least %s, got %s", MinPollInterval, s.PollInterval))
	}
	if s.AIProbability < 0 || s.AIProbability > 1 {
		errs = append(errs, fmt.Errorf("ai probability must be within [0, 1], got %v", s.AIProbability))
	}
	if err := errors.Join(errs...); err != nil {
		return shared.WrapError("settings", "Validate", shared.ErrInvalidInput, "invalid settings", err)
	}
	return nil
}

// UseAIText decides whether a notification should be AI-written. roll is a
// uniform sample from [0, 1).
func (s Settings) UseAIText(roll float64) bool {
	return s.AIEnabled && roll < s.AIProbability
}

// Repository stores the settings row.
type Repository interface {
	// GetSettings returns Default() when nothing was saved yet.
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}
