package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jst(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, JST)
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"monday 07:00 exactly", jst(2024, 3, 4, 7, 0, 0), jst(2024, 3, 4, 7, 0, 0)},
		{"monday 06:59", jst(2024, 3, 4, 6, 59, 59), jst(2024, 2, 26, 7, 0, 0)},
		{"sunday night", jst(2024, 3, 10, 23, 59, 0), jst(2024, 3, 4, 7, 0, 0)},
		{"wednesday", jst(2024, 3, 6, 12, 0, 0), jst(2024, 3, 4, 7, 0, 0)},
		{"year boundary", jst(2025, 1, 1, 0, 0, 0), jst(2024, 12, 30, 7, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeekStart(tt.in)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestWeekStart_FromUTC(t *testing.T) {
	// 2024-03-03 22:00 UTC is Monday 07:00 JST.
	in := time.Date(2024, 3, 3, 22, 0, 0, 0, time.UTC)
	assert.True(t, WeekStart(in).Equal(in))
	assert.True(t, WeekStart(in.Add(Week)).Equal(in.Add(Week)))
	assert.True(t, WeekStart(in.Add(-time.Nanosecond)).Equal(in.Add(-Week)))
}

func TestDateOf_JSTBoundary(t *testing.T) {
	// 14:59 UTC is 23:59 JST, 15:00 UTC is the next JST day.
	a := time.Date(2024, 3, 4, 14, 59, 0, 0, time.UTC)
	b := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, NewDate(2024, 3, 4), DateOf(a))
	assert.Equal(t, NewDate(2024, 3, 5), DateOf(b))
	assert.Equal(t, DateOf(a).AddDays(1), DateOf(b))
}

func TestDate(t *testing.T) {
	d := NewDate(2024, 2, 28)
	assert.Equal(t, NewDate(2024, 2, 29), d.AddDays(1))
	assert.Equal(t, NewDate(2024, 3, 1), d.AddDays(2))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.False(t, d.Before(d))
	assert.Equal(t, "2024-02-28", d.String())
	assert.Equal(t, "", Date{}.String())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, 3, 4), d)

	d, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseDate("04/03/2024")
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, at, FixedClock(at).Now())
}
