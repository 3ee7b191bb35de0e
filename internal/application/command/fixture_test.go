package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/user"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/lock"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/persistence/memory"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// Tuesday 2024-03-05 10:00 JST, week 2024-03-04.
var day1 = time.Date(2024, time.March, 5, 1, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	ctx   context.Context
	store *memory.Store
	clock *testClock
	pub   *recorder
	gate  *WeekGate
	lock  *lock.KeyedMutex
	proc  *ProcessSubmissionsHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memory.New(),
		clock: &testClock{t: day1.Add(time.Minute)},
		pub:   &recorder{},
		gate:  NewWeekGate(),
		lock:  lock.NewKeyedMutex(),
	}
	f.proc = NewProcessSubmissionsHandler(f.store, f.lock, f.gate, f.pub, nil, f.clock, logger.Nop(),
		ProcessSubmissionsConfig{DefaultRating: 0})
	f.proc.SetRoll(func() float64 { return 0.99 })

	raw := 1203.0
	require.NoError(t, f.store.UpsertProblems(f.ctx, []problem.Problem{
		{ID: "abc300_p", ContestID: "abc300", Title: "P", RawDifficulty: &raw},
		{ID: "abc300_q", ContestID: "abc300", Title: "Q"},
	}))
	return f
}

func (f *fixture) addUser(t *testing.T, id, handle string, rating int) {
	t.Helper()
	u, err := user.New(shared.UserID(id), shared.Handle(handle), day1.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.store.SaveUser(f.ctx, u))
	require.NoError(t, f.store.SaveRating(f.ctx, u.ID, rating, day1.Add(-24*time.Hour)))
}

func (f *fixture) process(t *testing.T, id string, cs ...submission.Candidate) *ProcessSubmissionsResult {
	t.Helper()
	res, err := f.proc.Handle(f.ctx, ProcessSubmissionsCommand{UserID: shared.UserID(id), Candidates: cs})
	require.NoError(t, err)
	return res
}

func ac(id int64, p string, at time.Time) submission.Candidate {
	return submission.Candidate{ID: id, ProblemID: shared.ProblemID(p), ContestID: "abc300", Result: "AC", Epoch: at.Unix()}
}

func verdict(id int64, p, result string, at time.Time) submission.Candidate {
	c := ac(id, p, at)
	c.Result = result
	return c
}
