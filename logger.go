package chunkcache

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with chunkcache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithKey adds the chunk key fields to the logger.
func (l *Logger) WithKey(key ChunkKey) *Logger {
	return &Logger{
		Logger: l.Logger.With("world", key.World, "x", key.X, "z", key.Z),
	}
}

// WithWorld adds a world field to the logger.
func (l *Logger) WithWorld(world string) *Logger {
	return &Logger{
		Logger: l.Logger.With("world", world),
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogUnload logs an explicit unload request.
func (l *Logger) LogUnload(ctx context.Context, key ChunkKey, freed int64, err error) {
	kl := l.WithKey(key)
	switch {
	case errors.Is(err, ErrUnloadRefused):
		kl.DebugContext(ctx, "unload refused")
	case err != nil:
		kl.ErrorContext(ctx, "unload failed",
			"error", err,
		)
	default:
		kl.DebugContext(ctx, "unload completed",
			"freed_bytes", freed,
		)
	}
}

// LogPass logs a manually requested pass.
func (l *Logger) LogPass(ctx context.Context, res PassResult, err error) {
	if err != nil {
		l.WarnContext(ctx, "pass failed",
			"pass", res.Kind,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "pass completed",
		"pass", res.Kind,
		"considered", res.Considered,
		"compressed", res.Compressed,
		"unloaded", res.Unloaded,
		"refused", res.Refused,
		"freed_bytes", res.FreedBytes,
		"duration", res.Duration,
	)
}

// LogConfigErrors logs clamped configuration values.
func (l *Logger) LogConfigErrors(ctx context.Context, errs []error) {
	for _, err := range errs {
		var ce *ConfigError
		if errors.As(err, &ce) {
			l.WarnContext(ctx, "invalid configuration value, using default",
				"field", ce.Field,
				"value", ce.Value,
				"default", ce.Default,
			)
			continue
		}
		l.WarnContext(ctx, "invalid configuration", "error", err)
	}
}
