package chunkcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/chunkcache/codec"
	"github.com/hupe1980/chunkcache/internal/cache"
	"github.com/hupe1980/chunkcache/internal/protect"
	"github.com/hupe1980/chunkcache/internal/scheduler"
)

var (
	// ErrClosed is returned when work is requested from a cache after Shutdown.
	ErrClosed = errors.New("chunkcache: cache is closed")

	// ErrUnloadRefused is returned when the safety predicate blocks an unload.
	ErrUnloadRefused = cache.ErrUnloadRefused

	// ErrInvalidConfig is wrapped by every ConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownCodec is returned by New for a codec name that is not built in.
	ErrUnknownCodec = errors.New("unknown codec")

	// ErrCorrupt is matched by every decompression failure.
	ErrCorrupt = codec.ErrCorrupt

	// ErrInvalidRadius is returned by ProtectRadius for a radius out of range.
	ErrInvalidRadius = protect.ErrInvalidRadius
)

// MaxProtectRadius is the largest radius ProtectRadius accepts.
const MaxProtectRadius = protect.MaxRadius

// ConfigError describes a configuration value that was replaced by a safe default.
type ConfigError struct {
	Field   string
	Value   any
	Default any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v, using %v", e.Field, e.Value, e.Default)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, scheduler.ErrStopped) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
