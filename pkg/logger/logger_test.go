package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(level Level) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(Options{Output: buf, Level: level, Format: FormatJSON})
	return l, buf
}

func TestJSONOutput(t *testing.T) {
	l, buf := newBuffered(LevelInfo)
	l.With(Component("poller")).Info("user polled",
		UserID("42"),
		SubmissionID(123),
		Err(errors.New("boom")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "user polled", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "poller", entry["component"])
	assert.Equal(t, "42", entry["user_id"])
	assert.Equal(t, float64(123), entry["submission_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBuffered(LevelWarn)
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, l.Enabled(LevelInfo))

	l.SetLevel(LevelDebug)
	l.Debug("shown")
	assert.NotZero(t, buf.Len())
}

func TestErrNilIsSkipped(t *testing.T) {
	l, buf := newBuffered(LevelInfo)
	l.Info("ok", Err(nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, has := entry["error"]
	assert.False(t, has)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestContextPropagation(t *testing.T) {
	l := Nop()
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
