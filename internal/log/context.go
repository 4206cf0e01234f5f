package log

import "context"

// ContextKey namespaces the values this package reads from a context.
type ContextKey string

const (
	// TraceIDKey holds the request or job trace ID.
	TraceIDKey ContextKey = "trace_id"
	// UserIDKey holds the signed-in user's ID.
	UserIDKey ContextKey = "user_id"

	fieldsKey ContextKey = "log_fields"
)

// LogFields are extra attributes attached to every line logged with a context.
type LogFields map[string]any

// WithFields returns a context whose log lines also carry fields. Later values win on key collision.
func WithFields(ctx context.Context, fields LogFields) context.Context {
	existing := fieldsFrom(ctx)
	merged := make(LogFields, len(existing)+len(fields))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

// WithUserID tags every line logged with ctx with the user's ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func fieldsFrom(ctx context.Context) LogFields {
	fields, _ := ctx.Value(fieldsKey).(LogFields)
	return fields
}
