package prommetrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkcache"
	"github.com/hupe1980/chunkcache/testutil"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordGet(true)
	c.RecordGet(true)
	c.RecordGet(false)
	c.RecordCompression(20000, 2000, time.Millisecond, nil)
	c.RecordCompression(0, 0, time.Millisecond, errors.New("boom"))
	c.RecordDecompression(20000, time.Millisecond, nil)
	c.RecordUnload(4096, false)
	c.RecordUnload(0, true)
	c.RecordPass(chunkcache.PassResult{Kind: chunkcache.PassEmergency, FreedBytes: 100, Duration: time.Second})
	c.RecordPressure(chunkcache.PressureCritical, 900, 1000)

	assert.InDelta(t, 2.0, promtest.ToFloat64(c.gets.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1.0, promtest.ToFloat64(c.gets.WithLabelValues("miss")), 0)
	assert.InDelta(t, 20000.0, promtest.ToFloat64(c.codecBytes.WithLabelValues("compress", "in")), 0)
	assert.InDelta(t, 2000.0, promtest.ToFloat64(c.codecBytes.WithLabelValues("compress", "out")), 0)
	assert.InDelta(t, 1.0, promtest.ToFloat64(c.codecErrors.WithLabelValues("compress")), 0)
	assert.InDelta(t, 1.0, promtest.ToFloat64(c.unloads.WithLabelValues("refused")), 0)
	assert.InDelta(t, 4096.0, promtest.ToFloat64(c.unloadFreed), 0)
	assert.InDelta(t, 1.0, promtest.ToFloat64(c.passes.WithLabelValues("emergency")), 0)
	assert.InDelta(t, 100.0, promtest.ToFloat64(c.passFreed.WithLabelValues("emergency")), 0)
	assert.InDelta(t, 2.0, promtest.ToFloat64(c.pressureLevel), 0)
	assert.InDelta(t, 1000.0, promtest.ToFloat64(c.memoryLimit), 0)
}

func TestCollector_WithCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := New(reg)
	clk := testutil.NewClock(time.Unix(0, 0))

	c, err := chunkcache.New(chunkcache.DefaultConfig(),
		chunkcache.WithMetricsCollector(col),
		chunkcache.WithClock(clk.Now),
		chunkcache.WithoutBackgroundTasks(),
	)
	require.NoError(t, err)
	defer c.Close()
	reg.MustRegister(NewStatsCollector(c.Stats))

	key := chunkcache.Key("overworld", 0, 0)
	c.RegisterData(key, testutil.NewRNG(1).ChunkPayload(20000))
	clk.Advance(time.Minute)
	_, err = c.CompressIdle(context.Background())
	require.NoError(t, err)

	expected := `
# HELP chunkcache_compressed_chunks Chunks in the compressed tier.
# TYPE chunkcache_compressed_chunks gauge
chunkcache_compressed_chunks 1
# HELP chunkcache_raw_chunks Chunks in the raw tier.
# TYPE chunkcache_raw_chunks gauge
chunkcache_raw_chunks 0
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"chunkcache_compressed_chunks", "chunkcache_raw_chunks"))
	assert.InDelta(t, 1.0, promtest.ToFloat64(col.passes.WithLabelValues("compression")), 0)

	_, ok := c.GetData(key)
	require.True(t, ok)
	assert.InDelta(t, 1.0, promtest.ToFloat64(col.gets.WithLabelValues("hit")), 0)
}

func TestStatsCollector_Lint(t *testing.T) {
	sc := NewStatsCollector(func() chunkcache.Stats { return chunkcache.Stats{} })
	problems, err := promtest.CollectAndLint(sc)
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Equal(t, 9, promtest.CollectAndCount(sc))
}
