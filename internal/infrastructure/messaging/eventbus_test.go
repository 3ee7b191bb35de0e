package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

var at = time.Date(2024, time.March, 5, 1, 0, 0, 0, time.UTC)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true, Logger: logger.Nop()})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()

	var scored, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventSubmissionScored, func(e shared.Event) error {
		scored = append(scored, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewUserDeactivatedEvent("u1", at)))
	require.NoError(t, bus.Publish(shared.SubmissionScoredEvent{BaseEvent: shared.NewBaseEvent(shared.EventSubmissionScored, "u1", at)}))

	assert.Equal(t, []shared.EventType{shared.EventSubmissionScored}, scored)
	assert.Equal(t, []shared.EventType{shared.EventUserDeactivated, shared.EventSubmissionScored}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerFailuresDoNotReachPublisher(t *testing.T) {
	bus := syncBus()
	calls := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { calls++; return nil }))

	assert.NoError(t, bus.Publish(shared.NewUserDeactivatedEvent("u1", at)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})
	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		n.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewUserDeactivatedEvent("u1", at)))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(5), n.Load())

	assert.ErrorIs(t, bus.Publish(shared.NewUserDeactivatedEvent("u1", at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventUserDeactivated, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestEncodeDecode(t *testing.T) {
	e := shared.NewGoalMilestoneReachedEvent("u1", "2024-03-04", 50, 264, 500, at)
	e.BaseEvent = e.WithCorrelationID("poll-1")

	data, err := Encode(e, "worker-a")
	require.NoError(t, err)

	got, source, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", source)
	assert.Equal(t, shared.EventGoalMilestoneReached, got.EventType())
	assert.Equal(t, "u1", got.AggregateID())
	assert.True(t, at.Equal(got.OccurredAt()))
	assert.EqualValues(t, 50, got.Payload()["milestone"])

	_, _, err = Decode([]byte("{"))
	assert.Error(t, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS BUS
// ══════════════════════════════════════════════════════════════════════════════

// fakeRedis is an in-process pub/sub shared by several buses.
type fakeRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

type fakeRedisClient struct{ hub *fakeRedis }

func (c fakeRedisClient) Publish(_ context.Context, channel string, message interface{}) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for _, ch := range c.hub.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (c fakeRedisClient) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	c.hub.subs = append(c.hub.subs, ch)
	return ch, nil
}

func TestRedisEventBus_FansOutToOtherInstances(t *testing.T) {
	hub := &fakeRedis{}
	newBus := func(id string) *RedisEventBus {
		b, err := NewRedisEventBus(RedisEventBusConfig{
			Client:     fakeRedisClient{hub: hub},
			InstanceID: id,
		})
		require.NoError(t, err)
		return b
	}
	api, worker := newBus("api"), newBus("worker")

	var apiSeen, workerSeen atomic.Int32
	require.NoError(t, api.Subscribe(shared.EventWeeklyReportCreated, func(shared.Event) error {
		apiSeen.Add(1)
		return nil
	}))
	require.NoError(t, worker.Subscribe(shared.EventWeeklyReportCreated, func(shared.Event) error {
		workerSeen.Add(1)
		return nil
	}))

	require.NoError(t, worker.Publish(shared.NewWeeklyReportCreatedEvent("2024-02-26", 3, 900, false, at)))

	assert.Eventually(t, func() bool { return apiSeen.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), workerSeen.Load())

	require.NoError(t, api.Close())
	require.NoError(t, worker.Close())
	assert.ErrorIs(t, api.Publish(shared.NewUserDeactivatedEvent("u1", at)), ErrEventBusClosed)
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

func TestDispatcher_RetriesAndRecovers(t *testing.T) {
	bus := syncBus()
	d := NewDispatcher(context.Background(), bus, logger.Nop())
	d.Use(RecoveryMiddleware(logger.Nop()))
	d.Use(LoggingMiddleware(logger.Nop()))

	attempts := 0
	require.NoError(t, d.Register(shared.EventUserDeactivated, Registration{
		Name:       "flaky",
		MaxRetries: 2,
		Handler: func(shared.Event) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}))
	panics := 0
	require.NoError(t, d.Register(shared.EventUserDeactivated, Registration{
		Name: "panicky",
		Handler: func(shared.Event) error {
			panics++
			panic("nil map")
		},
	}))

	err := d.Dispatch(shared.NewUserDeactivatedEvent("u1", at))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, panics)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerPanic)

	// через шину: подписка одна на тип
	attempts = 0
	require.NoError(t, bus.Publish(shared.NewUserDeactivatedEvent("u1", at)))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, panics)
}

func TestDispatcher_Timeout(t *testing.T) {
	d := NewDispatcher(context.Background(), syncBus(), nil)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, d.Register(shared.EventUserDeactivated, Registration{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Handler: func(shared.Event) error { <-release; return nil },
	}))
	err := d.Dispatch(shared.NewUserDeactivatedEvent("u1", at))
	assert.ErrorContains(t, err, "timeout")
}
