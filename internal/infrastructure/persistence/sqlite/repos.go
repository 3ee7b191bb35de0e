package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/goal"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/streak"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

func (m userModel) toDomain() *user.User {
	u := &user.User{
		ID:           shared.UserID(m.ID),
		Handle:       shared.Handle(m.Handle),
		Active:       m.Active,
		RegisteredAt: m.RegisteredAt,
		UpdatedAt:    m.UpdatedAt,
		Rating:       m.Rating,
	}
	if m.RatingUpdatedAt != nil {
		u.RatingUpdatedAt = *m.RatingUpdatedAt
	}
	return u
}

func (s *Store) GetUser(ctx context.Context, id shared.UserID) (*user.User, error) {
	var m userModel
	err := s.db.WithContext(ctx).Take(&m, "id = ?", string(id)).Error
	if isNotFound(err) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return m.toDomain(), nil
}

// SaveUser upserts the user. The stored rating survives unless the handle
// changed.
func (s *Store) SaveUser(ctx context.Context, u *user.User) error {
	m := userModel{
		ID:           u.ID.String(),
		Handle:       u.Handle.String(),
		Active:       u.Active,
		RegisteredAt: u.RegisteredAt,
		UpdatedAt:    u.UpdatedAt,
		Rating:       u.Rating,
	}
	if u.Rating != nil {
		at := u.RatingUpdatedAt
		m.RatingUpdatedAt = &at
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"handle":            gorm.Expr("excluded.handle"),
			"active":            gorm.Expr("excluded.active"),
			"updated_at":        gorm.Expr("excluded.updated_at"),
			"rating":            gorm.Expr("CASE WHEN users.handle = excluded.handle THEN users.rating ELSE excluded.rating END"),
			"rating_updated_at": gorm.Expr("CASE WHEN users.handle = excluded.handle THEN users.rating_updated_at ELSE excluded.rating_updated_at END"),
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]*user.User, error) {
	var rows []userModel
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]*user.User, len(rows))
	for i, m := range rows {
		users[i] = m.toDomain()
	}
	return users, nil
}

func (s *Store) CountActiveUsers(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&userModel{}).Where("active = ?", true).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return int(n), nil
}

func (s *Store) SaveRating(ctx context.Context, id shared.UserID, rating int, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", string(id)).
		Updates(map[string]interface{}{"rating": rating, "rating_updated_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to save rating: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBLEMS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) UpsertProblems(ctx context.Context, ps []problem.Problem) error {
	if len(ps) == 0 {
		return nil
	}
	rows := make([]problemModel, len(ps))
	for i, p := range ps {
		rows[i] = problemModel{
			ID:            p.ID.String(),
			ContestID:     p.ContestID,
			Title:         p.Title,
			RawDifficulty: p.RawDifficulty,
			UpdatedAt:     p.UpdatedAt,
		}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"contest_id", "title", "raw_difficulty", "updated_at"}),
	}).CreateInBatches(&rows, 200).Error
	if err != nil {
		return fmt.Errorf("failed to upsert problems: %w", err)
	}
	return nil
}

func (s *Store) GetProblem(ctx context.Context, id shared.ProblemID) (*problem.Problem, error) {
	var m problemModel
	err := s.db.WithContext(ctx).Take(&m, "id = ?", id.String()).Error
	if isNotFound(err) {
		return nil, shared.WrapError("problem", "Find", shared.ErrNotFound, "problem not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get problem: %w", err)
	}
	return &problem.Problem{
		ID:            shared.ProblemID(m.ID),
		ContestID:     m.ContestID,
		Title:         m.Title,
		RawDifficulty: m.RawDifficulty,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

func (s *Store) CountProblems(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&problemModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count problems: %w", err)
	}
	return int(n), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION STATE
// ══════════════════════════════════════════════════════════════════════════════

func getCheckpoint(db *gorm.DB, id shared.UserID) (submission.Checkpoint, error) {
	var m checkpointModel
	err := db.Take(&m, "user_id = ?", string(id)).Error
	if isNotFound(err) {
		return submission.Checkpoint{}, nil
	}
	if err != nil {
		return submission.Checkpoint{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return submission.Checkpoint{Epoch: m.LastEpoch, SubmissionID: m.LastSubmissionID}, nil
}

func saveCheckpoint(db *gorm.DB, id shared.UserID, cp submission.Checkpoint) error {
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_epoch", "last_submission_id"}),
	}).Create(&checkpointModel{UserID: string(id), LastEpoch: cp.Epoch, LastSubmissionID: cp.SubmissionID}).Error
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func getStreak(db *gorm.DB, id shared.UserID) (streak.State, error) {
	var m streakModel
	err := db.Take(&m, "user_id = ?", string(id)).Error
	if isNotFound(err) {
		return streak.State{}, nil
	}
	if err != nil {
		return streak.State{}, fmt.Errorf("failed to get streak: %w", err)
	}
	day, err := timeutil.ParseDate(m.LastACDay)
	if err != nil {
		return streak.State{}, err
	}
	return streak.State{Current: m.Current, LastACDay: day}, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id shared.UserID) (submission.Checkpoint, error) {
	return getCheckpoint(s.db.WithContext(ctx), id)
}

func (s *Store) ResetCheckpoint(ctx context.Context, id shared.UserID, cp submission.Checkpoint) error {
	return saveCheckpoint(s.db.WithContext(ctx), id, cp)
}

func (s *Store) GetStreak(ctx context.Context, id shared.UserID) (streak.State, error) {
	return getStreak(s.db.WithContext(ctx), id)
}

func (s *Store) ListRecords(ctx context.Context, id shared.UserID, limit int) ([]submission.Record, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", string(id)).Order("processed_at DESC, submission_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []recordModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	records := make([]submission.Record, len(rows))
	for i, m := range rows {
		records[i] = submission.Record{
			ID:           m.ID,
			UserID:       shared.UserID(m.UserID),
			ProblemID:    shared.ProblemID(m.ProblemID),
			SubmissionID: m.SubmissionID,
			SubmittedAt:  m.SubmittedAt,
			Week:         m.Week,
			BaseScore:    m.BaseScore,
			Multiplier:   m.Multiplier,
			FinalScore:   m.FinalScore,
			Streak:       m.Streak,
			ProcessedAt:  m.ProcessedAt,
		}
	}
	return records, nil
}

// WithinTx runs one scoring unit in a BEGIN IMMEDIATE transaction while
// holding the week gate shared.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx submission.Tx) error) error {
	s.gate.RLock()
	defer s.gate.RUnlock()

	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &gormTx{db: db})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Checkpoint(_ context.Context, id shared.UserID) (submission.Checkpoint, error) {
	return getCheckpoint(t.db, id)
}

func (t *gormTx) SaveCheckpoint(_ context.Context, id shared.UserID, cp submission.Checkpoint) error {
	return saveCheckpoint(t.db, id, cp)
}

func (t *gormTx) LastACMark(_ context.Context, id shared.UserID, p shared.ProblemID) (*submission.LastACMark, error) {
	var m lastACModel
	err := t.db.Take(&m, "user_id = ? AND problem_id = ?", string(id), string(p)).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last AC: %w", err)
	}
	return &submission.LastACMark{UserID: id, ProblemID: p, At: m.At}, nil
}

func (t *gormTx) SaveLastACMark(_ context.Context, mark submission.LastACMark) error {
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "problem_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"at"}),
	}).Create(&lastACModel{UserID: string(mark.UserID), ProblemID: string(mark.ProblemID), At: mark.At}).Error
	if err != nil {
		return fmt.Errorf("failed to save last AC: %w", err)
	}
	return nil
}

func (t *gormTx) Streak(_ context.Context, id shared.UserID) (streak.State, error) {
	return getStreak(t.db, id)
}

func (t *gormTx) SaveStreak(_ context.Context, id shared.UserID, st streak.State) error {
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current", "last_ac_day"}),
	}).Create(&streakModel{UserID: string(id), Current: st.Current, LastACDay: st.LastACDay.String()}).Error
	if err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}
	return nil
}

func (t *gormTx) InsertRecord(_ context.Context, r submission.Record) (bool, error) {
	res := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "submission_id"}},
		DoNothing: true,
	}).Create(&recordModel{
		ID:           r.ID,
		SubmissionID: r.SubmissionID,
		UserID:       string(r.UserID),
		ProblemID:    string(r.ProblemID),
		SubmittedAt:  r.SubmittedAt,
		Week:         r.Week,
		BaseScore:    r.BaseScore,
		Multiplier:   r.Multiplier,
		FinalScore:   r.FinalScore,
		Streak:       r.Streak,
		ProcessedAt:  r.ProcessedAt,
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert record: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (t *gormTx) ReportExists(_ context.Context, week string) (bool, error) {
	return reportExists(t.db, week)
}

func (t *gormTx) AddWeeklyScore(_ context.Context, week string, id shared.UserID, delta int, at time.Time) (int, error) {
	err := t.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "week"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"score":            gorm.Expr("weekly_scores.score + excluded.score"),
			"score_updated_at": gorm.Expr("CASE WHEN excluded.score <> 0 THEN excluded.score_updated_at ELSE weekly_scores.score_updated_at END"),
		}),
	}).Create(&weeklyScoreModel{Week: week, UserID: string(id), Score: delta, ScoreUpdatedAt: at}).Error
	if err != nil {
		return 0, fmt.Errorf("failed to add weekly score: %w", err)
	}

	var m weeklyScoreModel
	if err := t.db.Take(&m, "week = ? AND user_id = ?", week, string(id)).Error; err != nil {
		return 0, fmt.Errorf("failed to read weekly score: %w", err)
	}
	return m.Score, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

type reportEntry struct {
	Rank           int       `json:"rank"`
	UserID         string    `json:"user_id"`
	Handle         string    `json:"handle"`
	Score          int       `json:"score"`
	ScoreUpdatedAt time.Time `json:"score_updated_at"`
}

type entryRow struct {
	UserID         string
	Handle         string
	Score          int
	ScoreUpdatedAt time.Time
}

func weeklyEntries(db *gorm.DB, week leaderboard.Week) ([]leaderboard.Entry, error) {
	var rows []entryRow
	err := db.Table("weekly_scores AS w").
		Select("w.user_id, u.handle, w.score, w.score_updated_at").
		Joins("JOIN users u ON u.id = w.user_id").
		Where("w.week = ? AND u.active = ?", week.ID(), true).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query weekly entries: %w", err)
	}
	entries := make([]leaderboard.Entry, len(rows))
	for i, r := range rows {
		entries[i] = leaderboard.Entry{
			UserID:         shared.UserID(r.UserID),
			Handle:         shared.Handle(r.Handle),
			Score:          r.Score,
			ScoreUpdatedAt: r.ScoreUpdatedAt,
		}
	}
	return entries, nil
}

func reportExists(db *gorm.DB, week string) (bool, error) {
	var n int64
	if err := db.Model(&reportModel{}).Where("week = ?", week).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check report: %w", err)
	}
	return n > 0, nil
}

func saveReport(db *gorm.DB, r *leaderboard.WeeklyReport) (bool, error) {
	rows := make([]reportEntry, len(r.Entries))
	for i, e := range r.Entries {
		rows[i] = reportEntry{
			Rank:           int(e.Rank),
			UserID:         e.UserID.String(),
			Handle:         e.Handle.String(),
			Score:          e.Score,
			ScoreUpdatedAt: e.ScoreUpdatedAt.UTC(),
		}
	}
	entries, err := json.Marshal(rows)
	if err != nil {
		return false, fmt.Errorf("failed to encode report entries: %w", err)
	}
	winners := make([]string, len(r.Winners))
	for i, w := range r.Winners {
		winners[i] = w.String()
	}
	winnersJSON, err := json.Marshal(winners)
	if err != nil {
		return false, fmt.Errorf("failed to encode winners: %w", err)
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&reportModel{
		Week:         r.Week.ID(),
		CreatedAt:    r.CreatedAt,
		Participants: r.Participants,
		TotalScore:   r.TotalScore,
		Winners:      string(winnersJSON),
		Entries:      string(entries),
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to save report: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (m reportModel) toDomain() (*leaderboard.WeeklyReport, error) {
	week, err := leaderboard.ParseWeek(m.Week)
	if err != nil {
		return nil, err
	}
	var rows []reportEntry
	if err := json.Unmarshal([]byte(m.Entries), &rows); err != nil {
		return nil, fmt.Errorf("failed to decode report entries: %w", err)
	}
	var winners []string
	if err := json.Unmarshal([]byte(m.Winners), &winners); err != nil {
		return nil, fmt.Errorf("failed to decode winners: %w", err)
	}

	r := &leaderboard.WeeklyReport{
		Week:         week,
		CreatedAt:    m.CreatedAt,
		Participants: m.Participants,
		TotalScore:   m.TotalScore,
		Entries:      make([]leaderboard.Entry, len(rows)),
		Winners:      make([]shared.UserID, len(winners)),
	}
	for i, e := range rows {
		r.Entries[i] = leaderboard.Entry{
			Rank:           shared.Rank(e.Rank),
			UserID:         shared.UserID(e.UserID),
			Handle:         shared.Handle(e.Handle),
			Score:          e.Score,
			ScoreUpdatedAt: e.ScoreUpdatedAt,
		}
	}
	for i, w := range winners {
		r.Winners[i] = shared.UserID(w)
	}
	return r, nil
}

func (s *Store) WeeklyEntries(ctx context.Context, week leaderboard.Week) ([]leaderboard.Entry, error) {
	return weeklyEntries(s.db.WithContext(ctx), week)
}

func (s *Store) WeeklyScore(ctx context.Context, week leaderboard.Week, id shared.UserID) (int, error) {
	var m weeklyScoreModel
	err := s.db.WithContext(ctx).Take(&m, "week = ? AND user_id = ?", week.ID(), string(id)).Error
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get weekly score: %w", err)
	}
	return m.Score, nil
}

func (s *Store) SaveReport(ctx context.Context, r *leaderboard.WeeklyReport) (bool, error) {
	return saveReport(s.db.WithContext(ctx), r)
}

func (s *Store) GetReport(ctx context.Context, week leaderboard.Week) (*leaderboard.WeeklyReport, error) {
	var m reportModel
	err := s.db.WithContext(ctx).Take(&m, "week = ?", week.ID()).Error
	if isNotFound(err) {
		return nil, shared.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return m.toDomain()
}

func (s *Store) ListReports(ctx context.Context, limit int) ([]*leaderboard.WeeklyReport, error) {
	q := s.db.WithContext(ctx).Order("week DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []reportModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	reports := make([]*leaderboard.WeeklyReport, 0, len(rows))
	for _, m := range rows {
		r, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// SnapshotWeek holds the week gate exclusively for the read and the insert.
func (s *Store) SnapshotWeek(ctx context.Context, week leaderboard.Week, fn func([]leaderboard.Entry) (*leaderboard.WeeklyReport, error)) (bool, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		exists, err := reportExists(db, week.ID())
		if err != nil || exists {
			return err
		}
		entries, err := weeklyEntries(db, week)
		if err != nil {
			return err
		}
		report, err := fn(entries)
		if err != nil {
			return err
		}
		inserted, err = saveReport(db, report)
		return err
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GOALS & SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

func encodeMarks(xs []int) string {
	if xs == nil {
		xs = []int{}
	}
	data, _ := json.Marshal(xs)
	return string(data)
}

func decodeMarks(s string) []int {
	var xs []int
	_ = json.Unmarshal([]byte(s), &xs)
	if len(xs) == 0 {
		return nil
	}
	return xs
}

// SaveGoal upserts a goal; milestone marks reset when the target changes.
func (s *Store) SaveGoal(ctx context.Context, g *goal.Goal) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "week"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"notified":   gorm.Expr("CASE WHEN goals.target = excluded.target THEN goals.notified ELSE '[]' END"),
			"target":     gorm.Expr("excluded.target"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&goalModel{
		UserID:    string(g.UserID),
		Week:      g.Week,
		Target:    g.Target,
		Notified:  encodeMarks(nil),
		UpdatedAt: g.UpdatedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to save goal: %w", err)
	}
	return nil
}

func (s *Store) GetGoal(ctx context.Context, id shared.UserID, week string) (*goal.Goal, error) {
	var m goalModel
	err := s.db.WithContext(ctx).Take(&m, "user_id = ? AND week = ?", string(id), week).Error
	if isNotFound(err) {
		return nil, shared.ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}
	return &goal.Goal{
		UserID:    id,
		Week:      week,
		Target:    m.Target,
		Notified:  decodeMarks(m.Notified),
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (s *Store) DeleteGoal(ctx context.Context, id shared.UserID, week string) error {
	err := s.db.WithContext(ctx).Where("user_id = ? AND week = ?", string(id), week).Delete(&goalModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	return nil
}

func (s *Store) MarkGoal(ctx context.Context, g *goal.Goal) error {
	res := s.db.WithContext(ctx).Model(&goalModel{}).
		Where("user_id = ? AND week = ?", string(g.UserID), g.Week).
		Updates(map[string]interface{}{"notified": encodeMarks(g.Notified), "updated_at": g.UpdatedAt})
	if res.Error != nil {
		return fmt.Errorf("failed to mark goal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrGoalNotFound
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context) (settings.Settings, error) {
	var m settingsModel
	err := s.db.WithContext(ctx).Take(&m, "id = ?", 1).Error
	if isNotFound(err) {
		return settings.Default(), nil
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return settings.Settings{
		NotifyChannelID: m.NotifyChannelID,
		RankChannelID:   m.RankChannelID,
		HealthChannelID: m.HealthChannelID,
		WeeklyRoleID:    m.WeeklyRoleID,
		StreakRoleID:    m.StreakRoleID,
		PollInterval:    time.Duration(m.PollIntervalSeconds) * time.Second,
		AIEnabled:       m.AIEnabled,
		AIProbability:   m.AIProbability,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

func (s *Store) SaveSettings(ctx context.Context, st settings.Settings) error {
	m := settingsModel{
		ID:                  1,
		NotifyChannelID:     st.NotifyChannelID,
		RankChannelID:       st.RankChannelID,
		HealthChannelID:     st.HealthChannelID,
		WeeklyRoleID:        st.WeeklyRoleID,
		StreakRoleID:        st.StreakRoleID,
		PollIntervalSeconds: int(st.PollInterval / time.Second),
		AIEnabled:           st.AIEnabled,
		AIProbability:       st.AIProbability,
		UpdatedAt:           st.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
