package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages optional behaviours of the engine.
// Supports gradual rollout by user hash and per-user overrides.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID  string
	IsAdmin bool
}

// Predefined feature flag names.
const (
	// === Ranking ===
	FeatureRankingCache  = "ranking.cache"  // Redis copy of the live ranking
	FeatureRankingEvents = "ranking.events" // ranking.changed / ranking.top_changed

	// === Concurrency ===
	FeatureDistributedLock = "lock.distributed" // Redis lease on top of the local lock

	// === Gamification ===
	FeatureGoalMilestones = "gamification.goal_milestones"
	FeatureStreakRole     = "gamification.streak_role" // streak.threshold_crossed events

	// === Jobs ===
	FeatureRatingRefresh = "jobs.rating_refresh" // refresh ratings at rollover

	// === Notifications ===
	FeatureAINotifications = "notify.ai_text"
)

// LoadFeatureFlags builds flags from defaults, then file overrides, then
// environment variables.
func LoadFeatureFlags(overrides map[string]string) *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	for name, val := range overrides {
		ff.apply(name, val)
	}

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{FeatureRankingCache, "Keep the live ranking in Redis", false, 0},
		{FeatureRankingEvents, "Publish rank change events after scoring", true, 100},
		{FeatureDistributedLock, "Serialize users across worker instances", false, 0},
		{FeatureGoalMilestones, "Publish weekly goal milestones", true, 100},
		{FeatureStreakRole, "Publish streak role threshold crossings", true, 100},
		{FeatureRatingRefresh, "Refresh ratings at weekly rollover", true, 100},
		{FeatureAINotifications, "Allow AI-written notification text", true, 100},
	}
	for i := range defaults {
		f := defaults[i]
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_RANKING_CACHE=true
func (ff *FeatureFlags) loadFromEnvironment() {
	for name := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			ff.apply(name, val)
		}
	}
}

// apply sets a flag from "true", "false" or a rollout percentage.
// Unknown names and unparsable values are ignored.
func (ff *FeatureFlags) apply(name, val string) {
	feature, ok := ff.features[name]
	if !ok {
		return
	}
	val = strings.TrimSpace(val)
	if b, err := strconv.ParseBool(val); err == nil {
		feature.Enabled = b
		if b {
			feature.RolloutPercent = 100
		} else {
			feature.RolloutPercent = 0
		}
		return
	}
	if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
		feature.Enabled = p > 0
		feature.RolloutPercent = p
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "ranking.cache" -> "FEATURE_RANKING_CACHE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
// A nil FeatureFlags has every feature disabled.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check user overrides first
	if ctx != nil && ctx.UserID != "" {
		if userOverrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := userOverrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin users get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// Enabled is IsEnabled without a user context.
func (ff *FeatureFlags) Enabled(featureName string) bool {
	return ff.IsEnabled(featureName, nil)
}

// EnabledFor is IsEnabled for one user.
func (ff *FeatureFlags) EnabledFor(featureName, userID string) bool {
	return ff.IsEnabled(featureName, &FeatureContext{UserID: userID})
}

// isInRollout uses consistent hashing so users stay in their bucket.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific user.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns copies of all features sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, v := range ff.features {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
