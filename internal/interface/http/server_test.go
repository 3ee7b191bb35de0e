package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/health"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/lock"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/memory"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/scheduler"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/timeutil"
)

const adminKey = "s3cret-admin-key"

// Tuesday 2024-03-05 10:00 JST, week 2024-03-04.
var now = time.Date(2024, time.March, 5, 1, 0, 0, 0, time.UTC)

type env struct {
	t     *testing.T
	store *memory.Store
	sched *scheduler.Scheduler
	srv   *Server
}

type funcJob struct {
	name string
	err  error
}

func (j *funcJob) Name() string              { return j.name }
func (j *funcJob) Description() string       { return "test" }
func (j *funcJob) Run(context.Context) error { return j.err }

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	store := memory.New()
	clock := timeutil.FixedClock(now)
	ranking := query.NewGetRankingHandler(store, nil, clock, nil)

	sched := scheduler.NewScheduler(scheduler.DefaultSchedulerConfig())
	require.NoError(t, sched.Register(&funcJob{name: "ok"}, scheduler.NewIntervalSchedule(time.Hour)))
	require.NoError(t, sched.Register(&funcJob{name: "broken", err: errors.New("upstream down")}, scheduler.NewIntervalSchedule(time.Hour)))

	cfg := DefaultConfig()
	cfg.AdminKeyHash = string(hash)

	srv := NewServer(cfg, Dependencies{
		Ranking:     ranking,
		Reports:     query.NewReportsHandler(store),
		Status:      query.NewUserStatusHandler(store, ranking, clock),
		Health:      query.NewHealthHandler(store, health.New(now.Add(-time.Hour)), clock),
		Users:       command.NewUserHandler(store, lock.NewKeyedMutex(), nil, clock, nil),
		Preferences: command.NewPreferencesHandler(store, clock, nil),
		Settings:    store,
		Jobs:        sched,
	})
	return &env{t: t, store: store, sched: sched, srv: srv}
}

func (e *env) do(method, path string, body interface{}, admin bool) (*httptest.ResponseRecorder, JSONResponse) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(headerAdminKey, adminKey)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var resp JSONResponse
	if rec.Body.Len() > 0 {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (e *env) score(userID string, delta int, at time.Time) {
	e.t.Helper()
	err := e.store.WithinTx(context.Background(), func(ctx context.Context, tx submission.Tx) error {
		_, err := tx.AddWeeklyScore(ctx, leaderboard.WeekOf(at).ID(), shared.UserID(userID), delta, at)
		return err
	})
	require.NoError(e.t, err)
}

func (e *env) register(id, handle string) {
	e.t.Helper()
	rec, _ := e.do(http.MethodPut, "/api/v1/admin/users/"+id, gin.H{"handle": handle}, true)
	require.Contains(e.t, []int{http.StatusCreated, http.StatusOK}, rec.Code)
}

func TestLiveAndHealth(t *testing.T) {
	e := newEnv(t)

	rec, resp := e.do(http.MethodGet, "/livez", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	rec, resp = e.do(http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "2024-03-04", data["current_week"])
	assert.Equal(t, true, data["database_ok"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(headerRequestID, "req-42")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
	assert.Contains(t, rec.Body.String(), `"request_id":"req-42"`)
}

func TestRanking(t *testing.T) {
	e := newEnv(t)
	e.register("u1", "tourist")
	e.register("u2", "chokudai")
	e.register("u3", "snuke")

	e.score("u1", 264, now.Add(-3*time.Hour))
	e.score("u2", 264, now.Add(-3*time.Hour))
	e.score("u3", 100, now.Add(-time.Hour))

	rec, resp := e.do(http.MethodGet, "/api/v1/ranking?limit=2", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "2024-03-04", data["week"])
	assert.Len(t, data["entries"], 2)
	assert.Equal(t, 3, resp.Meta.TotalCount)
	assert.True(t, resp.Meta.HasMore)

	rec, resp = e.do(http.MethodGet, "/api/v1/ranking/top", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	top := resp.Data.(map[string]interface{})["top"].([]interface{})
	assert.Len(t, top, 2)

	rec, resp = e.do(http.MethodGet, "/api/v1/ranking?week=garbage", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", resp.Error.Code)

	rec, _ = e.do(http.MethodGet, "/api/v1/ranking?limit=abc", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReports(t *testing.T) {
	e := newEnv(t)
	e.register("u1", "tourist")

	prev := leaderboard.WeekOf(now).Prev()
	e.score("u1", 300, prev.Start().Add(time.Hour))
	_, err := e.store.SnapshotWeek(context.Background(), prev, func(entries []leaderboard.Entry) (*leaderboard.WeeklyReport, error) {
		r, err := leaderboard.Build(prev, entries)
		if err != nil {
			return nil, err
		}
		return leaderboard.NewWeeklyReport(r, prev.End()), nil
	})
	require.NoError(t, err)

	rec, resp := e.do(http.MethodGet, "/api/v1/reports", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resp.Meta.TotalCount)

	rec, resp = e.do(http.MethodGet, "/api/v1/reports/"+prev.ID(), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, []interface{}{"u1"}, data["winners"])

	rec, resp = e.do(http.MethodGet, "/api/v1/reports/"+leaderboard.WeekOf(now).ID(), nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestUserStatus(t *testing.T) {
	e := newEnv(t)
	e.register("u1", "tourist")
	e.score("u1", 264, now.Add(-time.Hour))

	rec, resp := e.do(http.MethodGet, "/api/v1/users/u1/status", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "tourist", data["handle"])
	assert.Equal(t, float64(264), data["weekly_score"])
	assert.Equal(t, float64(1), data["rank"])

	rec, _ = e.do(http.MethodGet, "/api/v1/users/ghost/status", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRequiresKey(t *testing.T) {
	e := newEnv(t)

	rec, resp := e.do(http.MethodGet, "/api/v1/admin/settings", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", resp.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/settings", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rw := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rw, req)
	assert.Equal(t, http.StatusUnauthorized, rw.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/settings", nil)
	req.Header.Set("Authorization", "Bearer "+adminKey)
	rw = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rw, req)
	assert.Equal(t, http.StatusOK, rw.Code)
}

func TestAdminRoutesDisabledWithoutHash(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer(DefaultConfig(), Dependencies{Settings: memory.New()})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/settings", nil)
	req.Header.Set(headerAdminKey, adminKey)
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUsers(t *testing.T) {
	e := newEnv(t)

	rec, resp := e.do(http.MethodPut, "/api/v1/admin/users/u1", gin.H{"handle": "tourist"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["created"])

	rec, resp = e.do(http.MethodPut, "/api/v1/admin/users/u1", gin.H{"handle": "tourist2"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["handle_changed"])

	rec, _ = e.do(http.MethodPut, "/api/v1/admin/users/u2", gin.H{"handle": ""}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = e.do(http.MethodDelete, "/api/v1/admin/users/u1", nil, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	u, err := e.store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, u.Active)

	rec, _ = e.do(http.MethodDelete, "/api/v1/admin/users/ghost", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminGoals(t *testing.T) {
	e := newEnv(t)
	e.register("u1", "tourist")
	e.score("u1", 120, now.Add(-time.Hour))

	rec, resp := e.do(http.MethodPut, "/api/v1/admin/users/u1/goal", gin.H{"target": 500}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(500), data["target"])
	assert.Equal(t, float64(120), data["current"])

	rec, _ = e.do(http.MethodPut, "/api/v1/admin/users/u1/goal", gin.H{"target": 0}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = e.do(http.MethodDelete, "/api/v1/admin/users/u1/goal", nil, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminSettings(t *testing.T) {
	e := newEnv(t)

	rec, resp := e.do(http.MethodPatch, "/api/v1/admin/settings", gin.H{"poll_interval": "5m", "ai_enabled": true, "ai_probability": 0.25}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "5m0s", data["poll_interval"])
	assert.Equal(t, true, data["ai_enabled"])

	rec, resp = e.do(http.MethodGet, "/api/v1/admin/settings", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.25, resp.Data.(map[string]interface{})["ai_probability"])

	rec, _ = e.do(http.MethodPatch, "/api/v1/admin/settings", gin.H{"poll_interval": "soon"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/settings", bytes.NewBufferString("{"))
	req.Header.Set(headerAdminKey, adminKey)
	rw := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestAdminJobs(t *testing.T) {
	e := newEnv(t)

	rec, resp := e.do(http.MethodGet, "/api/v1/admin/jobs", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, resp.Meta.TotalCount)

	rec, resp = e.do(http.MethodPost, "/api/v1/admin/jobs/ok/run", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["success"])

	rec, resp = e.do(http.MethodPost, "/api/v1/admin/jobs/broken/run", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["success"])
	assert.Equal(t, "upstream down", data["error"])

	rec, _ = e.do(http.MethodPost, "/api/v1/admin/jobs/missing/run", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrUserNotFound, http.StatusNotFound},
		{shared.ErrInvalidWeek, http.StatusBadRequest},
		{shared.ErrConflict, http.StatusConflict},
		{scheduler.ErrJobBusy, http.StatusConflict},
		{shared.ErrRateLimited, http.StatusTooManyRequests},
		{shared.ErrLockTimeout, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusOf(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)
	rec, resp := e.do(http.MethodGet, "/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}
