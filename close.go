package chunkcache

import (
	"context"

	"github.com/hupe1980/chunkcache/internal/safe"
)

// Shutdown stops the background passes and the pressure monitor, waiting for
// an in-flight pass to finish or ctx to be done. Stored chunks stay readable
// after Shutdown; manual passes return ErrClosed. Shutdown is idempotent.
func (c *Cache) Shutdown(ctx context.Context) error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	safe.Go(c.logger.Logger, "shutdown", func() {
		defer close(done)
		c.monitor.Stop()
		c.sched.Stop()
	})

	select {
	case <-done:
		c.logger.Info("cache shut down", "records", c.store.Len())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline.
func (c *Cache) Close() error {
	return c.Shutdown(context.Background())
}
