package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleep collects requested delays without waiting.
func recordSleep(delays *[]time.Duration) Option {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	})
}

func TestDo_RetriesRetryable(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("boom"))
		}
		return nil
	}, WithMaxAttempts(5), WithJitter(0), recordSleep(&delays))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDo_StopsOnPlainError(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	}, WithMaxAttempts(5), recordSleep(new([]time.Duration)))

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentIsUnwrapped(t *testing.T) {
	sentinel := errors.New("gone")
	err := Do(context.Background(), func(ctx context.Context) error {
		return Permanent(sentinel)
	}, WithRetryIf(func(error) bool { return true }))

	assert.Equal(t, sentinel, err)
}

func TestDo_HonoursDelayHint(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return After(errors.New("429"), 5*time.Second)
		}
		if calls == 2 {
			return After(errors.New("429"), time.Hour)
		}
		return nil
	}, WithMaxAttempts(3), WithMaxDelay(10*time.Second), recordSleep(&delays))

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, delays)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("still failing")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(sentinel)
	}, WithMaxAttempts(3), recordSleep(new([]time.Duration)))

	assert.Equal(t, sentinel, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errors.New("flaky"))
		}
		return 42, nil
	}, recordSleep(new([]time.Duration)))

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDelay_CappedAtMax(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(4*time.Second), WithJitter(0))
	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 4*time.Second, r.Delay(3))
	assert.Equal(t, 4*time.Second, r.Delay(10))
}

func TestClassification(t *testing.T) {
	base := errors.New("x")
	assert.True(t, IsRetryable(Retryable(base)))
	assert.False(t, IsRetryable(base))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.Nil(t, Retryable(nil))
	assert.Nil(t, Permanent(nil))

	d, ok := DelayHint(After(base, time.Second))
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
	_, ok = DelayHint(Retryable(base))
	assert.False(t, ok)
}
