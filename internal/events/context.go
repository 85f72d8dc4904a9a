package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	jobIDKey
	sourceKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithJobID adds a job identifier to context.
func WithJobID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("job_id", id)
	ctx = context.WithValue(ctx, jobIDKey, id)
	return WithLogger(ctx, logger)
}

// WithSource adds the source file being processed to context.
func WithSource(ctx context.Context, path string) context.Context {
	logger := FromContext(ctx).WithField("source", path)
	ctx = context.WithValue(ctx, sourceKey, path)
	return WithLogger(ctx, logger)
}

// GetJobID retrieves the job identifier from context.
func GetJobID(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	level:  InfoLevel,
	format: "text",
	output: os.Stderr,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
