package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects the logger into a buffer for the duration of a test.
func captureOutput(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()

	mu.Lock()
	prevOut, prevColor := output, useColor
	mu.Unlock()
	prevLevel := Level(currentLevel.Load())
	prevFormat, _ := currentFormat.Load().(string)

	var buf bytes.Buffer
	InitWithWriter(&buf, level, format, false)

	t.Cleanup(func() {
		mu.Lock()
		output, useColor = prevOut, prevColor
		mu.Unlock()
		currentLevel.Store(int32(prevLevel))
		currentFormat.Store(prevFormat)
		reconfigure()
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{" warn ", LevelWarn, true},
		{"warning", LevelWarn, true},
		{"Error", LevelError, true},
		{"verbose", LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, "WARN", "text")

	Debug("debug line")
	Info("info line")
	Warn("warn line")
	Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line")
	assert.Contains(t, out, "[ERROR] error line")
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	captureOutput(t, "ERROR", "text")

	SetLevel("chatty")
	assert.True(t, Enabled(LevelError))
	assert.False(t, Enabled(LevelWarn))
}

func TestTextFormatFields(t *testing.T) {
	buf := captureOutput(t, "DEBUG", "text")

	Info("upload completed",
		ShuffleID(3), MapID(7), AttemptID(42),
		KeyNumRunningOrPending, 2,
		Err(errors.New("boom here")),
		Err(nil),
	)

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "upload completed")
	assert.Contains(t, line, "shuffle_id=3")
	assert.Contains(t, line, "map_id=7")
	assert.Contains(t, line, "attempt_id=42")
	assert.Contains(t, line, "num_running_or_pending=2")
	assert.Contains(t, line, `error="boom here"`)
	assert.NotContains(t, line, "\033[")
}

func TestTextFormatGroups(t *testing.T) {
	buf := captureOutput(t, "INFO", "text")

	With("backend", "s3").WithGroup("s3").Info("put", "bucket", "shuffle")
	assert.Contains(t, buf.String(), "backend=s3 s3.bucket=shuffle")
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t, "INFO", "json")

	Info("download started", ReduceID(5), DurationMs(1500*time.Microsecond))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "download started", rec["msg"])
	assert.Equal(t, float64(5), rec[KeyReduceID])
	assert.Equal(t, 1.5, rec[KeyDurationMs])
}

func TestContextFields(t *testing.T) {
	buf := captureOutput(t, "DEBUG", "text")

	ctx := WithContext(context.Background(), &LogContext{AppName: "etl-nightly", ExecutorID: "exec-1"})
	InfoCtx(ctx, "upload requested", MapID(1))

	line := buf.String()
	assert.Contains(t, line, "app_name=etl-nightly")
	assert.Contains(t, line, "executor_id=exec-1")
	assert.Less(t, strings.Index(line, "app_name"), strings.Index(line, "map_id"))
}

func TestContextClone(t *testing.T) {
	var nilCtx *LogContext
	assert.Nil(t, nilCtx.Clone())

	lc := &LogContext{AppName: "a"}
	traced := lc.WithTrace("t1", "s1")
	assert.Equal(t, "a", traced.AppName)
	assert.Equal(t, "t1", traced.TraceID)
	assert.Empty(t, lc.TraceID)

	assert.Nil(t, FromContext(context.Background()))
}

func TestHandlerDisabledLevel(t *testing.T) {
	h := NewColorTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
