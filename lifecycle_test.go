package chunkcache_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkcache"
)

// TestNoGoroutineLeaks verifies that the scheduler loops and the pressure
// monitor stop when the cache is closed.
func TestNoGoroutineLeaks(t *testing.T) {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	before := runtime.NumGoroutine()

	for range 5 {
		cfg := chunkcache.DefaultConfig()
		cfg.CompressionIntervalMs = 1
		cfg.UnloadIntervalMs = 1
		cfg.MemoryPressure.SampleIntervalMs = 1
		c, err := chunkcache.New(cfg)
		require.NoError(t, err)

		c.RegisterData(chunkcache.Key("w", 0, 0), make([]byte, 4096))
		time.Sleep(10 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, c.Shutdown(ctx))
		cancel()
	}

	var after int
	for range 20 {
		runtime.GC()
		time.Sleep(25 * time.Millisecond)
		after = runtime.NumGoroutine()
		if after <= before+2 {
			break
		}
	}
	assert.LessOrEqual(t, after, before+2, "goroutines leaked: before=%d after=%d", before, after)
}

func TestShutdown_Deadline(t *testing.T) {
	c, err := chunkcache.New(chunkcache.DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Either the loops stop immediately or the expired context is reported.
	err = c.Shutdown(ctx)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
	require.NoError(t, c.Shutdown(context.Background()), "second shutdown is a no-op")
}
