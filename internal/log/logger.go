package log

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/gin-gonic/gin"
)

// Setup installs the process-wide logger: text in development, JSON otherwise. Unknown levels
// fall back to info.
func Setup(w io.Writer, level string, development bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if development {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithContext returns the default logger tagged with the trace ID, user ID and fields carried by
// ctx, which may be a *gin.Context or a context.Context.
func WithContext(ctx interface{}) *slog.Logger {
	var traceID, userID string
	var fields LogFields

	switch v := ctx.(type) {
	case *gin.Context:
		traceID = v.GetString("trace_id")
		userID = v.GetString("user_id")
		if v.Request != nil {
			fields = fieldsFrom(v.Request.Context())
		}
	case context.Context:
		traceID, _ = v.Value(TraceIDKey).(string)
		userID, _ = v.Value(UserIDKey).(string)
		fields = fieldsFrom(v)
	}

	args := make([]any, 0, 4+2*len(fields))
	if traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	if userID != "" {
		args = append(args, "user_id", userID)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}

	return slog.Default().With(args...)
}

// Info logs at info level with the metadata carried by ctx.
func Info(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// Error logs at error level with the metadata carried by ctx.
func Error(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// Warn logs at warn level with the metadata carried by ctx.
func Warn(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// Debug logs at debug level with the metadata carried by ctx.
func Debug(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}
