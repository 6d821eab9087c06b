package chunkcache

import (
	"log/slog"
	"time"

	"github.com/hupe1980/chunkcache/codec"
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	clock            func() time.Time
	predicate        SafetyPredicate
	sampler          PressureSampler
	background       bool
}

// Option configures a Cache.
type Option func(*options)

// WithCodec configures a codec instance, overriding Config.Codec.
//
// If nil is passed, the codec named by Config.Codec is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &chunkcache.BasicMetricsCollector{}
//	c, _ := chunkcache.New(chunkcache.DefaultConfig(), chunkcache.WithMetricsCollector(metrics))
//	// ... use c ...
//	stats := metrics.GetStats()
//	fmt.Printf("Compressions: %d, Avg latency: %dns\n", stats.CompressionCount, stats.CompressionAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := chunkcache.NewJSONLogger(slog.LevelInfo)
//	c, _ := chunkcache.New(cfg, chunkcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithClock replaces the time source used for access timestamps and idleness.
// Pass timers still run on wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithSafetyPredicate adds a host predicate. A chunk is unloaded only if both
// the built-in protection registry and p allow it. A panicking predicate
// blocks the unload.
func WithSafetyPredicate(p SafetyPredicate) Option {
	return func(o *options) {
		o.predicate = p
	}
}

// WithPressureSampler replaces the memory sampler. By default the cache samples
// resident chunk bytes against Config.MemoryLimitBytes when it is set, and the
// Go runtime's retained memory otherwise.
func WithPressureSampler(s PressureSampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// WithoutBackgroundTasks disables the scheduler and pressure monitor loops.
// Passes then only run when requested (CompressIdle, UnloadIdle, Emergency,
// CheckPressure).
func WithoutBackgroundTasks() Option {
	return func(o *options) {
		o.background = false
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		clock:            time.Now,
		background:       true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
