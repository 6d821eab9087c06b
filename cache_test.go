package chunkcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkcache"
	"github.com/hupe1980/chunkcache/codec"
	"github.com/hupe1980/chunkcache/testutil"
)

var epoch = time.Unix(1_700_000_000, 0)

type harness struct {
	t       *testing.T
	clk     *testutil.Clock
	rng     *testutil.RNG
	cache   *chunkcache.Cache
	metrics *chunkcache.BasicMetricsCollector
}

func newHarness(t *testing.T, cfg chunkcache.Config, opts ...chunkcache.Option) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clk:     testutil.NewClock(epoch),
		rng:     testutil.NewRNG(7),
		metrics: &chunkcache.BasicMetricsCollector{},
	}
	opts = append([]chunkcache.Option{
		chunkcache.WithClock(h.clk.Now),
		chunkcache.WithMetricsCollector(h.metrics),
		chunkcache.WithoutBackgroundTasks(),
	}, opts...)

	c, err := chunkcache.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	h.cache = c
	return h
}

func (h *harness) register(key chunkcache.ChunkKey, size int) []byte {
	data := h.rng.ChunkPayload(size)
	h.cache.RegisterData(key, data)
	return data
}

func TestCache_CompressAndPromote(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig())
	key := chunkcache.Key("overworld", 3, -7)
	payload := h.register(key, 20000)

	h.clk.Advance(31 * time.Second)
	res, err := h.cache.CompressIdle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Compressed)

	st := h.cache.Stats()
	assert.Equal(t, int64(1), st.CompressedCount)
	assert.Positive(t, st.MemoryFreedBytes)
	assert.Positive(t, st.CompressionRatioPercent)
	assert.Less(t, st.CompressionRatioPercent, 100.0)

	info, ok := h.cache.Inspect(key)
	require.True(t, ok)
	assert.Equal(t, "compressed", info.Tier)
	assert.Equal(t, 20000, info.OriginalSize)
	assert.Less(t, info.CompressedSize, 20000)

	got, ok := h.cache.GetData(key)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	st = h.cache.Stats()
	assert.Zero(t, st.CompressedCount)
	assert.Equal(t, int64(1), st.RawCount)
	assert.Equal(t, int64(1), st.ActiveCount)

	m := h.metrics.GetStats()
	assert.Equal(t, int64(1), m.GetHits)
	assert.Equal(t, int64(1), m.CompressionCount)
	assert.Equal(t, int64(1), m.DecompressionCount)
	assert.Equal(t, int64(1), m.PassCount)
}

func TestCache_NoPrematureMutation(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig())
	key := chunkcache.Key("overworld", 0, 0)
	payload := h.register(key, 20000)

	for range 10 {
		h.clk.Advance(2 * time.Second)
		_, err := h.cache.CompressIdle(context.Background())
		require.NoError(t, err)
		_, err = h.cache.UnloadIdle(context.Background())
		require.NoError(t, err)
	}

	info, ok := h.cache.Inspect(key)
	require.True(t, ok)
	assert.Equal(t, "raw", info.Tier)
	got, ok := h.cache.GetData(key)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestCache_ReturnsPrivateCopies(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig())
	key := chunkcache.Key("overworld", 1, 1)
	payload := h.register(key, 4096)
	orig := append([]byte(nil), payload...)

	payload[0] ^= 0xFF
	got, ok := h.cache.GetData(key)
	require.True(t, ok)
	assert.Equal(t, orig, got)

	got[1] ^= 0xFF
	again, _ := h.cache.GetData(key)
	assert.Equal(t, orig, again)
}

func TestCache_IdleEviction(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig())
	key := chunkcache.Key("overworld", 5, 5)
	h.register(key, 20000)

	h.clk.Advance(301 * time.Second)
	res, err := h.cache.UnloadIdle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unloaded)

	st := h.cache.Stats()
	assert.Equal(t, int64(1), st.UnloadedCount)
	assert.Zero(t, st.RecordCount)
	assert.Zero(t, st.TrackedCount)

	_, ok := h.cache.GetData(key)
	assert.False(t, ok)
	_, ok = h.cache.Inspect(key)
	assert.False(t, ok)
}

func TestCache_ProtectedChunksSurvive(t *testing.T) {
	cfg := chunkcache.DefaultConfig()
	cfg.EmergencyRetainFloor = 0
	h := newHarness(t, cfg)

	spawn := chunkcache.Key("overworld", 0, 0)
	held := chunkcache.Key("overworld", 40, 40)
	free := chunkcache.Key("overworld", 80, 80)
	require.NoError(t, h.cache.ProtectRadius("overworld", 0, 0, 2))
	assert.Equal(t, int32(1), h.cache.AcquireHolder(held))

	for _, k := range []chunkcache.ChunkKey{spawn, held, free} {
		h.register(k, 8192)
	}

	ctx := context.Background()
	for range 50 {
		h.clk.Advance(time.Hour)
		_, err := h.cache.CompressIdle(ctx)
		require.NoError(t, err)
		_, err = h.cache.UnloadIdle(ctx)
		require.NoError(t, err)
		_, err = h.cache.Emergency(ctx)
		require.NoError(t, err)

		_, ok := h.cache.Inspect(spawn)
		require.True(t, ok, "spawn chunk unloaded")
		_, ok = h.cache.Inspect(held)
		require.True(t, ok, "held chunk unloaded")
	}
	_, ok := h.cache.Inspect(free)
	assert.False(t, ok)

	info, _ := h.cache.Inspect(spawn)
	assert.True(t, info.SpawnProtected)
	info, _ = h.cache.Inspect(held)
	assert.True(t, info.Holders)

	assert.Zero(t, h.cache.ReleaseHolder(held))
	h.clk.Advance(time.Hour)
	_, err := h.cache.UnloadIdle(ctx)
	require.NoError(t, err)
	_, ok = h.cache.Inspect(held)
	assert.False(t, ok)
}

func TestCache_ExplicitUnload(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig())
	key := chunkcache.Key("nether", 2, 2)
	h.register(key, 4096)
	h.cache.Protect(key)

	_, err := h.cache.Unload(key)
	require.ErrorIs(t, err, chunkcache.ErrUnloadRefused)
	assert.Equal(t, int64(1), h.cache.Stats().UnloadRefused)

	h.cache.Unprotect(key)
	freed, err := h.cache.Unload(key)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), freed)

	freed, err = h.cache.Unload(key)
	require.NoError(t, err)
	assert.Zero(t, freed)
}

func TestCache_UnloadWithoutSafeMode(t *testing.T) {
	cfg := chunkcache.DefaultConfig()
	cfg.SafeModeEnabled = false
	h := newHarness(t, cfg)
	key := chunkcache.Key("nether", 2, 2)
	h.register(key, 4096)
	h.cache.Protect(key)

	freed, err := h.cache.Unload(key)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), freed)
}

type panickyPredicate struct{}

func (panickyPredicate) IsSpawnProtected(chunkcache.ChunkKey) bool { panic("boom") }
func (panickyPredicate) HasActiveHolders(chunkcache.ChunkKey) bool { return false }

func TestCache_PanickingPredicateBlocks(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig(), chunkcache.WithSafetyPredicate(panickyPredicate{}))
	key := chunkcache.Key("end", 0, 0)
	h.register(key, 4096)

	_, err := h.cache.Unload(key)
	require.ErrorIs(t, err, chunkcache.ErrUnloadRefused)

	h.clk.Advance(time.Hour)
	res, err := h.cache.UnloadIdle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Unloaded)
	_, ok := h.cache.Inspect(key)
	assert.True(t, ok)
}

func TestCache_PressureEscalation(t *testing.T) {
	var used atomic.Uint64
	sampler := chunkcache.PressureSamplerFunc(func(context.Context) (uint64, uint64, error) {
		return used.Load(), 1000, nil
	})
	cfg := chunkcache.DefaultConfig()
	cfg.EmergencyRetainFloor = 2
	cfg.ChunkUnloadDelayMs = 10_000
	h := newHarness(t, cfg, chunkcache.WithPressureSampler(sampler))

	keys := make([]chunkcache.ChunkKey, 6)
	for i := range keys {
		keys[i] = chunkcache.Key("overworld", int32(i), 0)
		h.register(keys[i], 8192)
		h.clk.Advance(time.Second)
	}
	// Keys 0..3 have been idle for the unload delay, 4 and 5 have not.
	h.clk.Advance(7 * time.Second)

	ctx := context.Background()
	used.Store(500)
	assert.Equal(t, chunkcache.PressureNormal, h.cache.CheckPressure(ctx))
	assert.Equal(t, int64(6), h.cache.Stats().RecordCount)

	used.Store(800)
	assert.Equal(t, chunkcache.PressureElevated, h.cache.CheckPressure(ctx))
	assert.Equal(t, int64(6), h.cache.Stats().RecordCount)

	used.Store(950)
	assert.Equal(t, chunkcache.PressureCritical, h.cache.CheckPressure(ctx))

	st := h.cache.Stats()
	assert.Equal(t, int64(2), st.RecordCount)
	assert.Equal(t, "critical", st.PressureLevel)
	for i, k := range keys {
		_, ok := h.cache.Inspect(k)
		assert.Equal(t, i >= 4, ok, "key %d", i)
	}
	assert.Equal(t, int64(1), h.metrics.GetStats().EmergencyPassCount)
	assert.Equal(t, chunkcache.PressureCritical, h.metrics.GetStats().PressureLevel)
}

func TestCache_CorruptFrameIsAMiss(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig(), chunkcache.WithCodec(&flakyCodec{Codec: codec.NewZstd()}))
	key := chunkcache.Key("overworld", 9, 9)
	h.register(key, 20000)

	h.clk.Advance(time.Minute)
	res, err := h.cache.CompressIdle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Compressed)

	_, ok := h.cache.GetData(key)
	assert.False(t, ok)
	_, ok = h.cache.Inspect(key)
	assert.False(t, ok)
	assert.Equal(t, int64(1), h.cache.Stats().CodecErrors)
	assert.Equal(t, int64(1), h.metrics.GetStats().DecompressionErrors)

	payload := h.register(key, 1000)
	got, ok := h.cache.GetData(key)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

// flakyCodec compresses normally but fails every decompression.
type flakyCodec struct {
	codec.Codec
}

func (f *flakyCodec) Decompress([]byte) ([]byte, error) {
	return nil, &codec.Error{Codec: f.Name(), Reason: "checksum mismatch"}
}

func TestCache_LZ4(t *testing.T) {
	cfg := chunkcache.DefaultConfig()
	cfg.Codec = "lz4"
	cfg.CompressionLevel = 0
	h := newHarness(t, cfg)
	key := chunkcache.Key("overworld", 1, 2)
	payload := h.register(key, 20000)

	h.clk.Advance(time.Minute)
	res, err := h.cache.CompressIdle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Compressed)

	got, ok := h.cache.GetData(key)
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, "lz4", h.cache.Config().Codec)
}

func TestNew_UnknownCodec(t *testing.T) {
	cfg := chunkcache.DefaultConfig()
	cfg.Codec = "brotli"
	_, err := chunkcache.New(cfg, chunkcache.WithoutBackgroundTasks())
	require.ErrorIs(t, err, chunkcache.ErrUnknownCodec)
}

func TestCache_UpdateConfig(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig())

	cfg := h.cache.Config()
	cfg.Codec = "lz4"
	cfg.UnloadBatchSize = -1
	cfg.ChunkUnloadDelayMs = 1000
	errs := h.cache.UpdateConfig(cfg)
	require.Len(t, errs, 2)

	fields := make([]string, 0, len(errs))
	for _, err := range errs {
		var ce *chunkcache.ConfigError
		require.ErrorAs(t, err, &ce)
		require.ErrorIs(t, err, chunkcache.ErrInvalidConfig)
		fields = append(fields, ce.Field)
	}
	assert.ElementsMatch(t, []string{"unload_batch_size", "codec"}, fields)

	got := h.cache.Config()
	assert.Equal(t, "zstd", got.Codec)
	assert.Equal(t, 20, got.UnloadBatchSize)
	assert.Equal(t, int64(1000), got.ChunkUnloadDelayMs)

	key := chunkcache.Key("overworld", 0, 0)
	h.register(key, 4096)
	h.clk.Advance(2 * time.Second)
	res, err := h.cache.UnloadIdle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unloaded)
}

func TestCache_TrackAccessDefersCompression(t *testing.T) {
	h := newHarness(t, chunkcache.DefaultConfig())
	key := chunkcache.Key("overworld", 0, 0)
	h.register(key, 20000)

	for range 5 {
		h.clk.Advance(20 * time.Second)
		h.cache.TrackAccess(key)
		res, err := h.cache.CompressIdle(context.Background())
		require.NoError(t, err)
		assert.Zero(t, res.Compressed)
	}
	info, _ := h.cache.Inspect(key)
	assert.Equal(t, "raw", info.Tier)
	assert.Equal(t, uint64(6), info.AccessCount)
}

func TestCache_Shutdown(t *testing.T) {
	c, err := chunkcache.New(chunkcache.DefaultConfig())
	require.NoError(t, err)

	key := chunkcache.Key("overworld", 0, 0)
	c.RegisterData(key, []byte("payload"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Close())

	_, err = c.CompressIdle(context.Background())
	require.ErrorIs(t, err, chunkcache.ErrClosed)

	got, ok := c.GetData(key)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestCache_BackgroundPasses(t *testing.T) {
	cfg := chunkcache.DefaultConfig()
	cfg.ChunkCompressionDelayMs = 1
	cfg.CompressionIntervalMs = 5
	cfg.ChunkUnloadDelayMs = 60_000
	c, err := chunkcache.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	rng := testutil.NewRNG(1)
	payload := rng.ChunkPayload(20000)
	key := chunkcache.Key("overworld", 0, 0)
	c.RegisterData(key, payload)

	require.Eventually(t, func() bool {
		return c.Stats().CompressedCount == 1
	}, 5*time.Second, 5*time.Millisecond)

	got, ok := c.GetData(key)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestCache_Concurrent(t *testing.T) {
	cfg := chunkcache.DefaultConfig()
	cfg.EmergencyRetainFloor = 8
	h := newHarness(t, cfg)

	const keys = 32
	payloads := make([][]byte, keys)
	for i := range payloads {
		payloads[i] = h.rng.ChunkPayload(4096 + i*64)
	}
	key := func(i int) chunkcache.ChunkKey { return chunkcache.Key("overworld", int32(i), 0) }

	ctx, cancel := context.WithCancel(context.Background())
	var bad atomic.Int32
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ctx.Err() == nil; i++ {
				k := (i*7 + w) % keys
				switch i % 3 {
				case 0:
					h.cache.RegisterData(key(k), payloads[k])
				case 1:
					if got, ok := h.cache.GetData(key(k)); ok && string(got) != string(payloads[k]) {
						bad.Add(1)
					}
				default:
					h.cache.TrackAccess(key(k))
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			h.clk.Advance(10 * time.Minute)
			_, _ = h.cache.CompressIdle(ctx)
			_, _ = h.cache.UnloadIdle(ctx)
			_, _ = h.cache.Emergency(ctx)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.Zero(t, bad.Load(), "payload mismatch")
	st := h.cache.Stats()
	assert.GreaterOrEqual(t, st.RecordCount, int64(0))
	assert.LessOrEqual(t, st.RecordCount, int64(keys))
}

func TestConfigError(t *testing.T) {
	err := error(&chunkcache.ConfigError{Field: "unload_batch_size", Value: -1, Default: 20})
	assert.True(t, errors.Is(err, chunkcache.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "unload_batch_size")
}
