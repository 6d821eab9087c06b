package chunkcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chunkcache/codec"
	"github.com/hupe1980/chunkcache/internal/cache"
	"github.com/hupe1980/chunkcache/internal/pressure"
	"github.com/hupe1980/chunkcache/internal/protect"
	"github.com/hupe1980/chunkcache/internal/resource"
	"github.com/hupe1980/chunkcache/internal/safe"
	"github.com/hupe1980/chunkcache/internal/scheduler"
	"github.com/hupe1980/chunkcache/internal/tracker"
)

// Cache is a tiered in-memory chunk cache. All methods are safe for concurrent
// use. TrackAccess, RegisterData and GetData are the hot path: they never wait
// on background passes.
type Cache struct {
	cfgMu sync.Mutex
	cfg   atomic.Pointer[Config]

	logger  *Logger
	metrics MetricsCollector
	clock   func() time.Time

	rc        *resource.Controller
	tracker   *tracker.Tracker
	store     *cache.Store
	sched     *scheduler.Scheduler
	monitor   *pressure.Monitor
	registry  *protect.Registry
	predicate protect.Combined

	closed atomic.Bool
}

// New creates a cache. Invalid configuration values are replaced by defaults
// and logged; New only fails for an unknown codec name.
func New(cfg Config, optFns ...Option) (*Cache, error) {
	o := applyOptions(optFns)

	errs := cfg.Sanitize()
	cd := o.codec
	if cd == nil {
		var ok bool
		if cd, ok = codec.ByName(cfg.Codec); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, cfg.Codec)
		}
	}
	cfg.Codec = cd.Name()
	o.logger.LogConfigErrors(context.Background(), errs)

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:       cfg.MemoryLimitBytes,
		MaxBackgroundWorkers:   1,
		CompressionBytesPerSec: cfg.CompressionBytesPerSec,
	})
	tr := tracker.New(nil)
	store := cache.NewStore(tr, cache.Options{
		Codec:          cd,
		Level:          cfg.CompressionLevel,
		ThresholdBytes: cfg.CompressionThresholdBytes,
		Resources:      rc,
		Logger:         o.logger.WithComponent("store").Logger,
		Observer:       o.metricsCollector,
	})

	c := &Cache{
		logger:   o.logger,
		clock:    o.clock,
		metrics:  o.metricsCollector,
		rc:       rc,
		tracker:  tr,
		store:    store,
		registry: protect.NewRegistry(),
	}
	c.predicate = protect.Combined{c.registry}
	if o.predicate != nil {
		c.predicate = append(c.predicate, o.predicate)
	}
	c.cfg.Store(&cfg)

	c.sched = scheduler.New(store, rc, cfg.schedulerConfig(), scheduler.Options{
		Logger:   o.logger.WithComponent("scheduler").Logger,
		Clock:    o.clock,
		Allow:    c.allowUnload,
		Observer: o.metricsCollector,
	})

	sampler := o.sampler
	if sampler == nil {
		if cfg.MemoryLimitBytes > 0 {
			sampler = pressure.ManagedSampler{Controller: rc}
		} else {
			sampler = pressure.RuntimeSampler{}
		}
	}
	c.monitor = pressure.NewMonitor(sampler, c.sched, cfg.pressureConfig(), pressure.Options{
		Logger:   o.logger.WithComponent("pressure").Logger,
		Observer: o.metricsCollector,
	})

	if o.background {
		c.sched.Start()
		c.monitor.Start()
	}
	return c, nil
}

// Config returns the current configuration.
func (c *Cache) Config() Config { return *c.cfg.Load() }

// UpdateConfig applies cfg at runtime. Invalid values are replaced by defaults
// and returned as *ConfigError. The codec cannot change; a different codec is
// reported and ignored.
func (c *Cache) UpdateConfig(cfg Config) []error {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	var errs []error
	cur := c.Config()
	if cfg.Codec == "" {
		cfg.Codec = cur.Codec
	}
	if cfg.Codec != cur.Codec {
		errs = append(errs, &ConfigError{Field: "codec", Value: cfg.Codec, Default: cur.Codec})
		cfg.Codec = cur.Codec
	}
	errs = append(errs, cfg.Sanitize()...)

	c.store.SetLevel(cfg.CompressionLevel)
	c.store.SetThreshold(cfg.CompressionThresholdBytes)
	c.rc.SetMemoryLimit(cfg.MemoryLimitBytes)
	c.rc.SetCompressionThroughput(cfg.CompressionBytesPerSec)
	c.sched.SetConfig(cfg.schedulerConfig())
	c.monitor.SetConfig(cfg.pressureConfig())
	c.cfg.Store(&cfg)

	c.logger.LogConfigErrors(context.Background(), errs)
	c.logger.Info("configuration updated", "errors", len(errs))
	return errs
}

// TrackAccess records an access to key without touching its payload.
func (c *Cache) TrackAccess(key ChunkKey) {
	c.tracker.Touch(key, c.clock())
}

// RegisterData stores a private copy of data as the raw payload of key,
// replacing any previous payload, and records an access.
func (c *Cache) RegisterData(key ChunkKey, data []byte) {
	c.store.RegisterData(key, data, c.clock())
}

// GetData returns a private copy of the payload of key. A compressed payload is
// decompressed and promoted back to raw. A corrupt payload is discarded and
// reported as a miss; the caller repopulates with RegisterData.
func (c *Cache) GetData(key ChunkKey) ([]byte, bool) {
	b, ok := c.store.GetData(key, c.clock())
	c.metrics.RecordGet(ok)
	return b, ok
}

// Unload removes key from the cache and returns the bytes freed. With safe mode
// enabled the safety predicate is consulted and ErrUnloadRefused is returned if
// it blocks the key. Unloading an unknown key is a no-op.
func (c *Cache) Unload(key ChunkKey) (int64, error) {
	var allow func(ChunkKey) bool
	if c.Config().SafeModeEnabled {
		allow = c.allowUnload
	}
	freed, _, err := c.store.UnloadChunk(key, allow, true)
	c.logger.LogUnload(context.Background(), key, freed, err)
	if err != nil {
		return 0, err
	}
	return freed, nil
}

// allowUnload evaluates the combined safety predicate. A panic blocks the unload.
func (c *Cache) allowUnload(key ChunkKey) bool {
	allowed := false
	if err := safe.Call(c.logger.Logger, "safety predicate", func() {
		allowed = protect.Allows(c.predicate, key)
	}); err != nil {
		return false
	}
	return allowed
}

// Protect marks key as spawn-protected: it is never unloaded.
func (c *Cache) Protect(key ChunkKey) { c.registry.Protect(key) }

// Unprotect clears the spawn protection of key.
func (c *Cache) Unprotect(key ChunkKey) { c.registry.Unprotect(key) }

// ProtectRadius spawn-protects the square of chunks within radius of (cx, cz).
// It returns ErrInvalidRadius for a negative radius or one above MaxProtectRadius.
func (c *Cache) ProtectRadius(world string, cx, cz, radius int32) error {
	if err := c.registry.ProtectRadius(world, cx, cz, radius); err != nil {
		return err
	}
	c.logger.WithWorld(world).Debug("spawn area protected", "x", cx, "z", cz, "radius", radius)
	return nil
}

// AcquireHolder registers a holder of key, for example a player standing in the
// chunk. A held chunk is never unloaded. It returns the holder count.
func (c *Cache) AcquireHolder(key ChunkKey) int32 { return c.registry.Acquire(key) }

// ReleaseHolder drops a holder of key and returns the remaining count.
func (c *Cache) ReleaseHolder(key ChunkKey) int32 { return c.registry.Release(key) }

// CompressIdle runs a compression pass now.
func (c *Cache) CompressIdle(ctx context.Context) (PassResult, error) {
	return c.runPass(ctx, PassCompression)
}

// UnloadIdle runs an unload pass now.
func (c *Cache) UnloadIdle(ctx context.Context) (PassResult, error) {
	return c.runPass(ctx, PassUnload)
}

// Emergency runs an emergency pass now.
func (c *Cache) Emergency(ctx context.Context) (PassResult, error) {
	return c.runPass(ctx, PassEmergency)
}

// RunPass runs the pass of the given kind now.
func (c *Cache) RunPass(ctx context.Context, kind PassKind) (PassResult, error) {
	return c.runPass(ctx, kind)
}

func (c *Cache) runPass(ctx context.Context, kind PassKind) (PassResult, error) {
	if c.closed.Load() {
		return PassResult{Kind: kind}, ErrClosed
	}

	var (
		res PassResult
		err error
	)
	switch kind {
	case PassCompression:
		res, err = c.sched.CompressPass(ctx)
	case PassUnload:
		res, err = c.sched.UnloadPass(ctx)
	case PassEmergency:
		res, err = c.sched.EmergencyPass(ctx)
	default:
		return PassResult{Kind: kind}, fmt.Errorf("unknown pass %q", kind)
	}
	err = translateError(err)
	c.logger.LogPass(ctx, res, err)
	return res, err
}

// CheckPressure samples memory now and responds to the level, running the
// emergency pass when it is critical.
func (c *Cache) CheckPressure(ctx context.Context) PressureLevel {
	return c.monitor.CheckNow(ctx)
}

// Inspect returns the state of key.
func (c *Cache) Inspect(key ChunkKey) (ChunkInfo, bool) {
	info, ok := c.store.Inspect(key)
	if !ok {
		return ChunkInfo{}, false
	}
	return ChunkInfo{
		Key:             key.String(),
		Tier:            info.Tier.String(),
		RawSize:         info.RawSize,
		CompressedSize:  info.CompressedSize,
		OriginalSize:    info.OriginalSize,
		Generation:      info.Generation,
		LastAccessUnix:  info.LastAccess,
		AccessCount:     info.AccessCount,
		Active:          info.Active,
		SkipCompression: info.SkipCompression,
		SpawnProtected:  c.predicate.IsSpawnProtected(key),
		Holders:         c.predicate.HasActiveHolders(key),
	}, true
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	cnt := c.store.Counters()
	return Stats{
		CompressedCount:         cnt.CompressedCount,
		UnloadedCount:           cnt.UnloadedCount,
		ActiveCount:             int64(c.tracker.ActiveCount()),
		MemoryFreedBytes:        cnt.MemoryFreedBytes,
		CompressionRatioPercent: cnt.CompressionRatioPercent(),
		UnloadCandidateCount:    int64(c.tracker.Queue().Len()),
		RecordCount:             cnt.Records,
		RawCount:                cnt.RawCount,
		TrackedCount:            int64(c.tracker.Len()),
		ResidentBytes:           cnt.ResidentBytes,
		Hits:                    cnt.Hits,
		Misses:                  cnt.Misses,
		CodecErrors:             cnt.CodecErrors,
		UnloadRefused:           cnt.UnloadRefused,
		PressureLevel:           c.monitor.Level().String(),
	}
}
