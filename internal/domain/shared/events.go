package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. The engine only emits facts; notification text, AI
// messages and role changes are decided by subscribers.
const (
	// User events
	EventUserRegistered  EventType = "user.registered"
	EventUserDeactivated EventType = "user.deactivated"

	// Scoring events
	EventSubmissionScored EventType = "submission.scored"

	// Streak events
	EventStreakThresholdCrossed EventType = "streak.threshold_crossed"

	// Ranking events
	EventRankChanged    EventType = "ranking.changed"
	EventTopRankChanged EventType = "ranking.top_changed"

	// Weekly events
	EventWeeklyReportCreated EventType = "weekly.report_created"
	EventWeeklyWinnerDecided EventType = "weekly.winner_decided"

	// Goal events
	EventGoalMilestoneReached EventType = "goal.milestone_reached"

	// System events
	EventCatalogSynced    EventType = "system.catalog_synced"
	EventRatingsRefreshed EventType = "system.ratings_refreshed"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the user id or week id the event belongs to.
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }
func (e BaseEvent) Correlation() string   { return e.CorrelationID }

// NewBaseEvent creates a new base event stamped at at.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// User Events
// ═══════════════════════════════════════════════════════════════════════════

// UserRegisteredEvent is emitted when a user is registered or re-linked.
type UserRegisteredEvent struct {
	BaseEvent
	Handle      Handle `json:"handle"`
	Reactivated bool   `json:"reactivated"`
}

func (e UserRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.AggregateId,
		"handle":      e.Handle.String(),
		"reactivated": e.Reactivated,
	}
}

func NewUserRegisteredEvent(userID UserID, handle Handle, reactivated bool, at time.Time) UserRegisteredEvent {
	return UserRegisteredEvent{
		BaseEvent:   NewBaseEvent(EventUserRegistered, userID.String(), at),
		Handle:      handle,
		Reactivated: reactivated,
	}
}

// UserDeactivatedEvent is emitted when a user leaves.
type UserDeactivatedEvent struct {
	BaseEvent
}

func (e UserDeactivatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"user_id": e.AggregateId}
}

func NewUserDeactivatedEvent(userID UserID, at time.Time) UserDeactivatedEvent {
	return UserDeactivatedEvent{BaseEvent: NewBaseEvent(EventUserDeactivated, userID.String(), at)}
}

// ═══════════════════════════════════════════════════════════════════════════
// Scoring Events
// ═══════════════════════════════════════════════════════════════════════════

// SubmissionScoredEvent carries everything a notifier needs to render an
// accepted-submission message.
type SubmissionScoredEvent struct {
	BaseEvent
	Handle            Handle    `json:"handle"`
	ProblemID         ProblemID `json:"problem_id"`
	ProblemTitle      string    `json:"problem_title"`
	ContestID         string    `json:"contest_id"`
	SubmissionID      int64     `json:"submission_id"`
	SubmittedAt       time.Time `json:"submitted_at"`
	Week              string    `json:"week"`
	DisplayDifficulty *int      `json:"display_difficulty,omitempty"`
	Rating            int       `json:"rating"`
	BaseScore         int       `json:"base_score"`
	Multiplier        float64   `json:"multiplier"`
	FinalScore        int       `json:"final_score"`
	Streak            int       `json:"streak"`
	DifficultyColor   string    `json:"difficulty_color"`
	RatingColor       string    `json:"rating_color"`
	Tier              string    `json:"tier"`
	WeeklyScore       int       `json:"weekly_score"`
	UseAIText         bool      `json:"use_ai_text"`
}

func (e SubmissionScoredEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"user_id":          e.AggregateId,
		"handle":           e.Handle.String(),
		"problem_id":       e.ProblemID.String(),
		"problem_title":    e.ProblemTitle,
		"contest_id":       e.ContestID,
		"submission_id":    e.SubmissionID,
		"submitted_at":     e.SubmittedAt.Format(time.RFC3339),
		"week":             e.Week,
		"rating":           e.Rating,
		"base_score":       e.BaseScore,
		"multiplier":       e.Multiplier,
		"final_score":      e.FinalScore,
		"streak":           e.Streak,
		"difficulty_color": e.DifficultyColor,
		"rating_color":     e.RatingColor,
		"tier":             e.Tier,
		"weekly_score":     e.WeeklyScore,
		"use_ai_text":      e.UseAIText,
	}
	if e.DisplayDifficulty != nil {
		p["display_difficulty"] = *e.DisplayDifficulty
	}
	return p
}

// StreakThresholdCrossedEvent fires when a user's streak moves across the
// role threshold in either direction.
type StreakThresholdCrossedEvent struct {
	BaseEvent
	Streak    int  `json:"streak"`
	Threshold int  `json:"threshold"`
	Above     bool `json:"above"`
}

func (e StreakThresholdCrossedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.AggregateId,
		"streak":    e.Streak,
		"threshold": e.Threshold,
		"above":     e.Above,
	}
}

func NewStreakThresholdCrossedEvent(userID UserID, streak, threshold int, at time.Time) StreakThresholdCrossedEvent {
	return StreakThresholdCrossedEvent{
		BaseEvent: NewBaseEvent(EventStreakThresholdCrossed, userID.String(), at),
		Streak:    streak,
		Threshold: threshold,
		Above:     streak >= threshold,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ranking Events
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedEvent is emitted for each user whose live position moved.
type RankChangedEvent struct {
	BaseEvent
	UserID  UserID `json:"user_id"`
	OldRank Rank   `json:"old_rank"`
	NewRank Rank   `json:"new_rank"`
	Score   int    `json:"score"`
}

func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"week":     e.AggregateId,
		"user_id":  e.UserID.String(),
		"old_rank": e.OldRank.Int(),
		"new_rank": e.NewRank.Int(),
		"score":    e.Score,
	}
}

func NewRankChangedEvent(week string, userID UserID, oldRank, newRank Rank, score int, at time.Time) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent: NewBaseEvent(EventRankChanged, week, at),
		UserID:    userID,
		OldRank:   oldRank,
		NewRank:   newRank,
		Score:     score,
	}
}

// TopRankChangedEvent is emitted when the set of rank-1 users changes.
type TopRankChangedEvent struct {
	BaseEvent
	Previous []UserID `json:"previous"`
	Current  []UserID `json:"current"`
}

func (e TopRankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"week":     e.AggregateId,
		"previous": userIDStrings(e.Previous),
		"current":  userIDStrings(e.Current),
	}
}

func NewTopRankChangedEvent(week string, previous, current []UserID, at time.Time) TopRankChangedEvent {
	return TopRankChangedEvent{
		BaseEvent: NewBaseEvent(EventTopRankChanged, week, at),
		Previous:  previous,
		Current:   current,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Weekly Events
// ═══════════════════════════════════════════════════════════════════════════

// WeeklyReportCreatedEvent is emitted once per closed week.
type WeeklyReportCreatedEvent struct {
	BaseEvent
	Participants int  `json:"participants"`
	TotalScore   int  `json:"total_score"`
	UseAIText    bool `json:"use_ai_text"`
}

func (e WeeklyReportCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"week":         e.AggregateId,
		"participants": e.Participants,
		"total_score":  e.TotalScore,
		"use_ai_text":  e.UseAIText,
	}
}

func NewWeeklyReportCreatedEvent(week string, participants, total int, useAI bool, at time.Time) WeeklyReportCreatedEvent {
	return WeeklyReportCreatedEvent{
		BaseEvent:    NewBaseEvent(EventWeeklyReportCreated, week, at),
		Participants: participants,
		TotalScore:   total,
		UseAIText:    useAI,
	}
}

// WeeklyWinnerDecidedEvent names the rank-1 users of a closed week.
type WeeklyWinnerDecidedEvent struct {
	BaseEvent
	Winners []UserID `json:"winners"`
	Score   int      `json:"score"`
}

func (e WeeklyWinnerDecidedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"week":    e.AggregateId,
		"winners": userIDStrings(e.Winners),
		"score":   e.Score,
	}
}

func NewWeeklyWinnerDecidedEvent(week string, winners []UserID, score int, at time.Time) WeeklyWinnerDecidedEvent {
	return WeeklyWinnerDecidedEvent{
		BaseEvent: NewBaseEvent(EventWeeklyWinnerDecided, week, at),
		Winners:   winners,
		Score:     score,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Goal Events
// ═══════════════════════════════════════════════════════════════════════════

// GoalMilestoneReachedEvent is emitted once per milestone per user and week.
type GoalMilestoneReachedEvent struct {
	BaseEvent
	Week      string `json:"week"`
	Milestone int    `json:"milestone"`
	Current   int    `json:"current"`
	Target    int    `json:"target"`
}

func (e GoalMilestoneReachedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.AggregateId,
		"week":      e.Week,
		"milestone": e.Milestone,
		"current":   e.Current,
		"target":    e.Target,
	}
}

func NewGoalMilestoneReachedEvent(userID UserID, week string, milestone, current, target int, at time.Time) GoalMilestoneReachedEvent {
	return GoalMilestoneReachedEvent{
		BaseEvent: NewBaseEvent(EventGoalMilestoneReached, userID.String(), at),
		Week:      week,
		Milestone: milestone,
		Current:   current,
		Target:    target,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// CatalogSyncedEvent reports a finished problem catalog refresh.
type CatalogSyncedEvent struct {
	BaseEvent
	Problems       int `json:"problems"`
	WithDifficulty int `json:"with_difficulty"`
}

func (e CatalogSyncedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"problems":        e.Problems,
		"with_difficulty": e.WithDifficulty,
	}
}

func NewCatalogSyncedEvent(problems, withDifficulty int, at time.Time) CatalogSyncedEvent {
	return CatalogSyncedEvent{
		BaseEvent:      NewBaseEvent(EventCatalogSynced, "catalog", at),
		Problems:       problems,
		WithDifficulty: withDifficulty,
	}
}

// RatingsRefreshedEvent reports a finished rating refresh.
type RatingsRefreshedEvent struct {
	BaseEvent
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

func (e RatingsRefreshedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"updated": e.Updated, "failed": e.Failed}
}

func NewRatingsRefreshedEvent(updated, failed int, at time.Time) RatingsRefreshedEvent {
	return RatingsRefreshedEvent{
		BaseEvent: NewBaseEvent(EventRatingsRefreshed, "ratings", at),
		Updated:   updated,
		Failed:    failed,
	}
}

func userIDStrings(ids []UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Source        string          `json:"source,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
