package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the budget for resident chunk bytes (raw + compressed).
	// It is advisory: charging never fails, the budget only feeds Ratio.
	// If 0, only tracking is performed.
	MemoryLimitBytes int64

	// MaxBackgroundWorkers is the maximum number of concurrent scheduler passes.
	// If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// CompressionBytesPerSec caps the raw bytes fed to the compressor by
	// scheduled passes. If 0, unlimited.
	CompressionBytesPerSec int64
}

// Controller accounts resident memory and bounds background work.
type Controller struct {
	// Memory
	memUsed  atomic.Int64
	memLimit atomic.Int64

	// Concurrency
	bgSem *semaphore.Weighted

	// Compression throughput; nil means unlimited.
	limiter atomic.Pointer[rate.Limiter]
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}
	c.memLimit.Store(cfg.MemoryLimitBytes)
	c.SetCompressionThroughput(cfg.CompressionBytesPerSec)

	return c
}

// Charge records bytes as resident.
func (c *Controller) Charge(bytes int64) {
	if c == nil || bytes == 0 {
		return
	}
	c.memUsed.Add(bytes)
}

// Release records bytes as no longer resident.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes == 0 {
		return
	}
	c.memUsed.Add(-bytes)
}

// Resident returns the currently resident bytes.
func (c *Controller) Resident() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured budget in bytes (0 if unset).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.memLimit.Load()
}

// SetMemoryLimit replaces the budget.
func (c *Controller) SetMemoryLimit(bytes int64) {
	if c == nil {
		return
	}
	if bytes < 0 {
		bytes = 0
	}
	c.memLimit.Store(bytes)
}

// AcquireBackground reserves a background pass slot, blocking until one is free.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground reserves a background pass slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background pass slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// SetCompressionThroughput replaces the compression budget. 0 means unlimited.
func (c *Controller) SetCompressionThroughput(bytesPerSec int64) {
	if c == nil {
		return
	}
	if bytesPerSec <= 0 {
		c.limiter.Store(nil)
		return
	}
	c.limiter.Store(rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec)))
}

// AcquireCompression waits until the throughput budget allows compressing n bytes.
// Requests larger than the burst are split.
func (c *Controller) AcquireCompression(ctx context.Context, n int) error {
	if c == nil || n <= 0 {
		return nil
	}
	lim := c.limiter.Load()
	if lim == nil {
		return nil
	}
	burst := max(lim.Burst(), 1)
	for n > 0 {
		step := min(n, burst)
		if err := lim.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
