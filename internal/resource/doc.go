// Package resource tracks the cache's resident memory and bounds background work.
//
// The Controller manages three concerns:
//
//   - Memory: resident chunk bytes (raw + compressed), measured against an
//     advisory budget that feeds the managed pressure sampler
//   - Concurrency: scheduler passes share background slots so a compression pass,
//     an unload pass and an emergency pass never pile up
//   - Throughput: a token bucket on raw bytes handed to the compressor by
//     scheduled passes, which bounds the CPU a pass can burn per second
//
// # Memory Accounting
//
// Charging never fails. The tier store charges on every buffer it takes ownership
// of and releases on every buffer it drops:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 512 << 20})
//	rc.Charge(int64(len(raw)))
//	defer rc.Release(int64(len(raw)))
//
// # Background Slots
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// # Compression Throughput
//
//	if err := rc.AcquireCompression(ctx, len(raw)); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
