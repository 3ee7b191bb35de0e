package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLive(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"status": "ok"})
}

// handleHealth answers 503 when the engine is unhealthy, so probes can use
// the status code alone.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Handle(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, JSONResponse{
		Success:   status.Healthy,
		Data:      status,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: c.GetString(ctxKeyRequestID),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING & REPORTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRanking(c *gin.Context) {
	q := query.GetRankingQuery{Week: c.Query("week")}
	var err error
	if q.Limit, err = intQuery(c, "limit", 0); err != nil {
		respondError(c, err)
		return
	}
	if q.Offset, err = intQuery(c, "offset", 0); err != nil {
		respondError(c, err)
		return
	}

	res, err := s.deps.Ranking.Handle(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWithMeta(c, http.StatusOK, res, &ResponseMeta{TotalCount: res.TotalCount, HasMore: res.HasMore})
}

// handleRankingTop returns every entry tied at rank 1.
func (s *Server) handleRankingTop(c *gin.Context) {
	res, err := s.deps.Ranking.Handle(c.Request.Context(), query.GetRankingQuery{Week: c.Query("week"), Limit: 100})
	if err != nil {
		respondError(c, err)
		return
	}
	top := make([]query.RankingEntryDTO, 0, len(res.TopUsers))
	for _, e := range res.Entries {
		if e.Rank != 1 {
			break
		}
		top = append(top, e)
	}
	respond(c, http.StatusOK, gin.H{"week": res.Week, "closed": res.Closed, "top": top})
}

func (s *Server) handleListReports(c *gin.Context) {
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		respondError(c, err)
		return
	}
	reports, err := s.deps.Reports.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWithMeta(c, http.StatusOK, reports, &ResponseMeta{TotalCount: len(reports)})
}

func (s *Server) handleGetReport(c *gin.Context) {
	report, err := s.deps.Reports.Get(c.Request.Context(), c.Param("week"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, report)
}

func (s *Server) handleUserStatus(c *gin.Context) {
	recent, err := intQuery(c, "recent", 10)
	if err != nil {
		respondError(c, err)
		return
	}
	status, err := s.deps.Status.Handle(c.Request.Context(), c.Param("id"), recent)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: USERS & GOALS
// ══════════════════════════════════════════════════════════════════════════════

type registerUserRequest struct {
	Handle string `json:"handle"`
}

type userResponse struct {
	UserID        string `json:"user_id"`
	Handle        string `json:"handle"`
	Active        bool   `json:"active"`
	Created       bool   `json:"created"`
	HandleChanged bool   `json:"handle_changed"`
	Reactivated   bool   `json:"reactivated"`
}

func (s *Server) handleRegisterUser(c *gin.Context) {
	var req registerUserRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.deps.Users.Register(c.Request.Context(), command.RegisterUserCommand{
		UserID: c.Param("id"),
		Handle: req.Handle,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respond(c, status, userResponse{
		UserID:        res.User.ID.String(),
		Handle:        res.User.Handle.String(),
		Active:        res.User.Active,
		Created:       res.Created,
		HandleChanged: res.HandleChanged,
		Reactivated:   res.Reactivated,
	})
}

func (s *Server) handleDeactivateUser(c *gin.Context) {
	if err := s.deps.Users.Deactivate(c.Request.Context(), command.DeactivateUserCommand{UserID: c.Param("id")}); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setGoalRequest struct {
	Target int `json:"target"`
}

func (s *Server) handleSetGoal(c *gin.Context) {
	var req setGoalRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.deps.Preferences.SetGoal(c.Request.Context(), command.SetGoalCommand{
		UserID: c.Param("id"),
		Target: req.Target,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"user_id": res.Goal.UserID.String(),
		"week":    res.Goal.Week,
		"target":  res.Goal.Target,
		"current": res.Current,
	})
}

func (s *Server) handleClearGoal(c *gin.Context) {
	if err := s.deps.Preferences.ClearGoal(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

type settingsDTO struct {
	NotifyChannelID string    `json:"notify_channel_id"`
	RankChannelID   string    `json:"rank_channel_id"`
	HealthChannelID string    `json:"health_channel_id"`
	WeeklyRoleID    string    `json:"weekly_role_id"`
	StreakRoleID    string    `json:"streak_role_id"`
	PollInterval    string    `json:"poll_interval"`
	AIEnabled       bool      `json:"ai_enabled"`
	AIProbability   float64   `json:"ai_probability"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
}

func toSettingsDTO(st settings.Settings) settingsDTO {
	return settingsDTO{
		NotifyChannelID: st.NotifyChannelID,
		RankChannelID:   st.RankChannelID,
		HealthChannelID: st.HealthChannelID,
		WeeklyRoleID:    st.WeeklyRoleID,
		StreakRoleID:    st.StreakRoleID,
		PollInterval:    st.PollInterval.String(),
		AIEnabled:       st.AIEnabled,
		AIProbability:   st.AIProbability,
		UpdatedAt:       st.UpdatedAt,
	}
}

type updateSettingsRequest struct {
	NotifyChannelID *string  `json:"notify_channel_id"`
	RankChannelID   *string  `json:"rank_channel_id"`
	HealthChannelID *string  `json:"health_channel_id"`
	WeeklyRoleID    *string  `json:"weekly_role_id"`
	StreakRoleID    *string  `json:"streak_role_id"`
	PollInterval    *string  `json:"poll_interval"`
	AIEnabled       *bool    `json:"ai_enabled"`
	AIProbability   *float64 `json:"ai_probability"`
}

func (s *Server) handleGetSettings(c *gin.Context) {
	st, err := s.deps.Settings.GetSettings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, toSettingsDTO(st))
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := s.deps.Preferences.UpdateSettings(c.Request.Context(), command.UpdateSettingsCommand{
		NotifyChannelID: req.NotifyChannelID,
		RankChannelID:   req.RankChannelID,
		HealthChannelID: req.HealthChannelID,
		WeeklyRoleID:    req.WeeklyRoleID,
		StreakRoleID:    req.StreakRoleID,
		PollInterval:    req.PollInterval,
		AIEnabled:       req.AIEnabled,
		AIProbability:   req.AIProbability,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, toSettingsDTO(st))
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: JOBS
// ══════════════════════════════════════════════════════════════════════════════

type jobDTO struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	LastRun     time.Time `json:"last_run,omitzero"`
	NextRun     time.Time `json:"next_run,omitzero"`
	RunCount    int64     `json:"run_count"`
	FailCount   int64     `json:"fail_count"`
	LastError   string    `json:"last_error,omitempty"`
}

type jobRunDTO struct {
	RunID    string `json:"run_id"`
	Job      string `json:"job"`
	Success  bool   `json:"success"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleListJobs(c *gin.Context) {
	infos := s.deps.Jobs.ListJobs()
	out := make([]jobDTO, len(infos))
	for i, info := range infos {
		out[i] = jobDTO{
			Name:        info.Name,
			Description: info.Description,
			Schedule:    info.Schedule,
			Enabled:     info.Enabled,
			Running:     info.Running,
			LastRun:     info.LastRun,
			NextRun:     info.NextRun,
			RunCount:    info.RunCount,
			FailCount:   info.FailCount,
		}
		if info.LastResult != nil && info.LastResult.Error != nil {
			out[i].LastError = info.LastResult.Error.Error()
		}
	}
	respondWithMeta(c, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

// handleRunJob runs a job synchronously. A job that fails still answers
// 200: the run happened and its error is part of the result.
func (s *Server) handleRunJob(c *gin.Context) {
	res, err := s.deps.Jobs.RunNow(c.Request.Context(), c.Param("name"))
	if res == nil {
		respondError(c, err)
		return
	}
	dto := jobRunDTO{
		RunID:    res.RunID,
		Job:      res.JobName,
		Success:  res.Success,
		Duration: res.Duration.String(),
	}
	if res.Error != nil {
		dto.Error = res.Error.Error()
	}
	respond(c, http.StatusOK, dto)
}

var _ JobRunner = (*scheduler.Scheduler)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.WrapError("http", "Query", shared.ErrInvalidInput, key+" must be an integer", err)
	}
	return v, nil
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, shared.WrapError("http", "Bind", errBadBody, "malformed request body", err))
		return false
	}
	return true
}
