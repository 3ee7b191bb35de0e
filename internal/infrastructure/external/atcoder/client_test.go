package atcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/circuitbreaker"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/retry"
)

func testClient(srv *httptest.Server) *Client {
	cfg := DefaultClientConfig()
	cfg.SubmissionsURL = srv.URL + "/v3/user/submissions"
	cfg.ProblemsURL = srv.URL + "/resources/problems.json"
	cfg.ModelsURL = srv.URL + "/resources/problem-models.json"
	cfg.HistoryURL = srv.URL + "/users/%s/history/json"
	cfg.RateLimiter = RateLimiterConfig{RequestsPerMinute: 600000, Burst: 100}
	cfg.MaxRetries = 3
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 20 * time.Millisecond
	cfg.BreakerThreshold = 10
	cfg.HTTPClient = srv.Client()
	return NewClient(cfg)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Submissions(t *testing.T) {
	var gotUser, gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/user/submissions", r.URL.Path)
		gotUser = r.URL.Query().Get("user")
		gotFrom = r.URL.Query().Get("from_second")
		writeJSON(w, []SubmissionDTO{
			{ID: 41000001, EpochSecond: 1709600000, ProblemID: "abc300_a", ContestID: "abc300", Result: "AC"},
			{ID: 41000002, EpochSecond: 1709600100, ProblemID: "abc300_b", ContestID: "abc300", Result: "WA"},
		})
	}))
	defer srv.Close()

	got, err := testClient(srv).Submissions(context.Background(), "tourist", 1709500000)
	require.NoError(t, err)

	assert.Equal(t, "tourist", gotUser)
	assert.Equal(t, "1709500000", gotFrom)
	require.Len(t, got, 2)
	assert.Equal(t, int64(41000001), got[0].ID)
	assert.Equal(t, shared.ProblemID("abc300_a"), got[0].ProblemID)
	assert.True(t, got[0].IsAccepted())
	assert.False(t, got[1].IsAccepted())
}

func TestClient_SubmissionsPaginates(t *testing.T) {
	var calls []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from, _ := strconv.ParseInt(r.URL.Query().Get("from_second"), 10, 64)
		calls = append(calls, from)

		var page []SubmissionDTO
		switch len(calls) {
		case 1:
			// полная страница: последняя секунда повторится на следующей
			for i := 0; i < pageSize; i++ {
				page = append(page, SubmissionDTO{ID: int64(i + 1), EpochSecond: 1000 + int64(i), ProblemID: "abc300_a", Result: "AC"})
			}
		default:
			page = []SubmissionDTO{
				{ID: pageSize, EpochSecond: 1000 + pageSize - 1, ProblemID: "abc300_a", Result: "AC"},
				{ID: pageSize + 1, EpochSecond: 2000, ProblemID: "abc300_b", Result: "AC"},
			}
		}
		writeJSON(w, page)
	}))
	defer srv.Close()

	got, err := testClient(srv).Submissions(context.Background(), "tourist", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1000 + pageSize - 1}, calls)
	assert.Len(t, got, pageSize+1)
}

func TestClient_Problems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/resources/problems.json":
			writeJSON(w, []ProblemDTO{
				{ID: "abc300_f", ContestID: "abc300", Title: "F. Substring of Repeated"},
				{ID: "abc300_a", ContestID: "abc300", Title: "A. N-choice question"},
				{ID: "arc001_1", ContestID: "arc001", Name: "Centering"},
			})
		case "/resources/problem-models.json":
			fmt.Fprint(w, `{"abc300_f": {"difficulty": 1203.4, "is_experimental": false}, "arc001_1": {"is_experimental": true}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got, err := testClient(srv).Problems(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, shared.ProblemID("abc300_a"), got[0].ID)
	assert.Nil(t, got[0].RawDifficulty)

	assert.Equal(t, shared.ProblemID("abc300_f"), got[1].ID)
	require.NotNil(t, got[1].RawDifficulty)
	assert.InDelta(t, 1203.4, *got[1].RawDifficulty, 1e-9)

	assert.Equal(t, "Centering", got[2].Title)
	assert.Nil(t, got[2].RawDifficulty)
}

func TestClient_Rating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/tourist/history/json":
			writeJSON(w, []ContestResultDTO{
				{IsRated: true, OldRating: 0, NewRating: 2800},
				{IsRated: true, OldRating: 2800, NewRating: 3810},
			})
		case "/users/newbie/history/json":
			fmt.Fprint(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(srv)

	rating, err := c.Rating(context.Background(), "tourist")
	require.NoError(t, err)
	assert.Equal(t, 3810, rating)

	rating, err = c.Rating(context.Background(), "newbie")
	require.NoError(t, err)
	assert.Zero(t, rating)

	_, err = c.Rating(context.Background(), "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, `[{"NewRating": 1200}]`)
		}
	}))
	defer srv.Close()

	rating, err := testClient(srv).Rating(context.Background(), "chokudai")
	require.NoError(t, err)
	assert.Equal(t, 1200, rating)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv).Submissions(context.Background(), "tourist", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.True(t, shared.IsRetryable(err))
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv).Submissions(context.Background(), "tourist", 0)
	assert.ErrorIs(t, err, shared.ErrExternalService)
	assert.Equal(t, int32(1), hits.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestClient_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"not": "a list"`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Submissions(context.Background(), "tourist", 0)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestClient_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv)
	c.kenkoooo = circuitbreaker.New("kenkoooo",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithTimeout(time.Hour),
	)
	c.retryOpts = []retry.Option{retry.WithMaxAttempts(1)}

	for i := 0; i < 2; i++ {
		_, err := c.Submissions(context.Background(), "tourist", 0)
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.kenkoooo.State())

	_, err := c.Submissions(context.Background(), "tourist", 0)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Equal(t, int32(2), hits.Load())

	// история идёт через отдельный предохранитель
	assert.Equal(t, "closed", c.Status().Breakers["atcoder"])
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := testClient(srv).Submissions(ctx, "tourist", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, time.March, 5, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-1", now))
	assert.Zero(t, parseRetryAfter("soon", now))
}
