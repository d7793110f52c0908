package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "debug", Out: &buf}).With("target", "page-1")

	l.Info("拦截开始", "requestID", "r1", "status", 200)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "拦截开始", line["message"])
	assert.Equal(t, "page-1", line["target"])
	assert.Equal(t, "r1", line["requestID"])
	assert.EqualValues(t, 200, line["status"])
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Out: &buf})

	l.Debug("hidden")
	l.Info("hidden")
	l.Err(errors.New("boom"), "visible", "odd")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"odd":"(MISSING)"`)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestNopLogger(t *testing.T) {
	l := NewNop().With("a", 1)
	l.Info("x")
	l.Err(errors.New("x"), "y")
}
