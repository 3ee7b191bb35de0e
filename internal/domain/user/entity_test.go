package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

var now = time.Date(2024, time.March, 5, 3, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	u, err := New("42", "tourist", now)
	require.NoError(t, err)
	assert.True(t, u.Active)
	assert.Equal(t, 0, u.EffectiveRating(0))

	_, err = New("", "tourist", now)
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = New("42", "a!", now)
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestRelink(t *testing.T) {
	u, _ := New("42", "tourist", now)
	r := 3000
	u.Rating = &r
	require.NoError(t, u.Deactivate(now))
	assert.ErrorIs(t, u.Deactivate(now), shared.ErrInvalidState)

	changed, reactivated, err := u.Relink("tourist", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, reactivated)
	assert.Equal(t, 3000, u.EffectiveRating(0))

	changed, reactivated, err = u.Relink("petr", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, reactivated)
	assert.Nil(t, u.Rating)
	assert.Equal(t, 1200, u.EffectiveRating(1200))
}
