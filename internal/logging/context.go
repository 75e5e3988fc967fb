package logging

import (
	"context"
	"fmt"
	"time"
)

type contextKey struct{}

// NewContext returns a context with logger attached; messages logged via
// ContextLogf/ContextLogfLevel on the returned context (or its descendants) are
// sent to logger.
func NewContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the Logger attached to ctx, if any.
func FromContext(ctx context.Context) (Logger, bool) {
	l, ok := ctx.Value(contextKey{}).(Logger)
	return l, ok
}

// ContextLogf formats and logs a message at LevelInfo via the logger
// attached to ctx, if any. It is a no-op if ctx carries no logger.
func ContextLogf(ctx context.Context, format string, args ...interface{}) {
	ContextLogfLevel(ctx, LevelInfo, format, args...)
}

// ContextLogfLevel is ContextLogf with an explicit level.
func ContextLogfLevel(ctx context.Context, level Level, format string, args ...interface{}) {
	l, ok := FromContext(ctx)
	if !ok {
		return
	}
	l.Log(level, time.Now(), fmt.Sprintf(format, args...))
}
