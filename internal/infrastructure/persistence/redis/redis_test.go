package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/leaderboard"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

func TestConfigOptions_HostPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.DB = 2

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
}

func TestConfigOptions_URLWins(t *testing.T) {
	cfg := Config{URL: "redis://:secret@redis.internal:6380/3", Host: "ignored", Port: 1}

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)

	_, err = Config{URL: "http://nope"}.Options()
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestKeysFor(t *testing.T) {
	w, err := leaderboard.ParseWeek("2024-03-04")
	require.NoError(t, err)

	k := keysFor(w)
	assert.Equal(t, "ranking:2024-03-04:scores", k.scores)
	assert.Equal(t, "ranking:2024-03-04:info", k.info)
	assert.Equal(t, "ranking:2024-03-04:built", k.built)
	assert.Equal(t, "lock:user:u1", LockKey("user:u1"))
}

func TestEntryCodec(t *testing.T) {
	jst := time.FixedZone("JST", 9*3600)
	e := leaderboard.Entry{
		Rank:           3,
		UserID:         "u1",
		Handle:         "tourist",
		Score:          564,
		ScoreUpdatedAt: time.Date(2024, time.March, 5, 10, 0, 0, 0, jst),
	}

	data, err := encodeEntry(e)
	require.NoError(t, err)

	got, err := decodeEntry(string(data))
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("u1"), got.UserID)
	assert.Equal(t, shared.Handle("tourist"), got.Handle)
	assert.Equal(t, 564, got.Score)
	assert.True(t, e.ScoreUpdatedAt.Equal(got.ScoreUpdatedAt))
	// место не кешируется, его проставляет Ranking
	assert.Zero(t, got.Rank)

	_, err = decodeEntry("not json")
	assert.ErrorIs(t, err, ErrSerialization)
}
