// Package ctxlog provides a context key for safely passing a slog.Logger
// instance through context.Context.
package ctxlog

import (
	"context"
	"io"
	"log/slog"
)

// key is an unexported type to prevent collisions with context keys from other packages.
type key struct{}

// loggerKey is the key for the slog.Logger in a context.Context.
var loggerKey = key{}

// discard is handed out when neither the context nor the caller supplied a logger.
var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the slog.Logger from a context. Solvers call into the
// engine from contexts they own, so a missing logger is not an error: a
// discarding logger is returned instead.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return discard
}

// Ensure returns ctx unchanged when it already carries a logger, and
// otherwise a child context carrying fallback (or a discarding logger when
// fallback is nil).
func Ensure(ctx context.Context, fallback *slog.Logger) context.Context {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return ctx
	}
	if fallback == nil {
		fallback = discard
	}
	return WithLogger(ctx, fallback)
}
