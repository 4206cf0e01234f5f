package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFields_MergesAndOverwrites(t *testing.T) {
	ctx := WithFields(context.Background(), LogFields{"a": 1, "b": 2})
	ctx = WithFields(ctx, LogFields{"b": 3, "c": 4})

	assert.Equal(t, LogFields{"a": 1, "b": 3, "c": 4}, fieldsFrom(ctx))
}

func TestInfo_IncludesContextMetadata(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })
	Setup(&buf, "debug", false)

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-123")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithFields(ctx, LogFields{"operation": "fetch_all"})

	Info(ctx, "Fetched state")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Fetched state", entry["msg"])
	assert.Equal(t, "trace-123", entry["trace_id"])
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "fetch_all", entry["operation"])
}

func TestSetup_Levels(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
		warnOn  bool
	}{
		{level: "debug", debugOn: true, infoOn: true, warnOn: true},
		{level: "info", infoOn: true, warnOn: true},
		{level: "warn", warnOn: true},
		{level: "error"},
		{level: "verbose", infoOn: true, warnOn: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := Setup(&buf, tt.level, true)
			ctx := context.Background()

			assert.Equal(t, tt.debugOn, logger.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.infoOn, logger.Enabled(ctx, slog.LevelInfo))
			assert.Equal(t, tt.warnOn, logger.Enabled(ctx, slog.LevelWarn))
		})
	}
}
