package chunkcache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkcache"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := chunkcache.DefaultConfig()
	assert.Empty(t, cfg.Sanitize())
	assert.Equal(t, "zstd", cfg.Codec)
	assert.True(t, cfg.SafeModeEnabled)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*chunkcache.Config)
		field  string
		check  func(*testing.T, chunkcache.Config)
	}{
		{
			name:   "negative compression delay",
			mutate: func(c *chunkcache.Config) { c.ChunkCompressionDelayMs = -5 },
			field:  "chunk_compression_delay_ms",
			check: func(t *testing.T, c chunkcache.Config) {
				assert.Equal(t, int64(30_000), c.ChunkCompressionDelayMs)
			},
		},
		{
			name:   "zero batch size",
			mutate: func(c *chunkcache.Config) { c.CompressionBatchSize = 0 },
			field:  "compression_batch_size",
			check: func(t *testing.T, c chunkcache.Config) {
				assert.Equal(t, 64, c.CompressionBatchSize)
			},
		},
		{
			name:   "level out of range",
			mutate: func(c *chunkcache.Config) { c.CompressionLevel = 99 },
			field:  "compression_level",
			check: func(t *testing.T, c chunkcache.Config) {
				assert.Equal(t, 22, c.CompressionLevel)
			},
		},
		{
			name: "inverted pressure thresholds",
			mutate: func(c *chunkcache.Config) {
				c.MemoryPressure.ElevatedPercent = 90
				c.MemoryPressure.CriticalPercent = 80
			},
			field: "memory_pressure.elevated_percent",
			check: func(t *testing.T, c chunkcache.Config) {
				assert.InDelta(t, 70.0, c.MemoryPressure.ElevatedPercent, 0)
				assert.InDelta(t, 85.0, c.MemoryPressure.CriticalPercent, 0)
			},
		},
		{
			name:   "negative memory limit",
			mutate: func(c *chunkcache.Config) { c.MemoryLimitBytes = -1 },
			field:  "memory_limit_bytes",
			check: func(t *testing.T, c chunkcache.Config) {
				assert.Zero(t, c.MemoryLimitBytes)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := chunkcache.DefaultConfig()
			tt.mutate(&cfg)
			errs := cfg.Sanitize()
			require.NotEmpty(t, errs)

			var ce *chunkcache.ConfigError
			require.ErrorAs(t, errs[0], &ce)
			assert.Equal(t, tt.field, ce.Field)
			tt.check(t, cfg)
			assert.Empty(t, cfg.Sanitize(), "sanitized config is stable")
		})
	}
}

func TestSanitize_EmptyCodec(t *testing.T) {
	cfg := chunkcache.DefaultConfig()
	cfg.Codec = ""
	assert.Empty(t, cfg.Sanitize())
	assert.Equal(t, "zstd", cfg.Codec)
}

func TestParseConfig(t *testing.T) {
	cfg, err := chunkcache.ParseConfig([]byte(`
codec: lz4
compression_level: 4
chunk_unload_delay_ms: 120000
unload_batch_size: 50
memory_pressure:
  elevated_percent: 60
  critical_percent: 90
safe_mode_enabled: false
`))
	require.NoError(t, err)
	assert.Equal(t, "lz4", cfg.Codec)
	assert.Equal(t, 4, cfg.CompressionLevel)
	assert.Equal(t, int64(120_000), cfg.ChunkUnloadDelayMs)
	assert.Equal(t, 50, cfg.UnloadBatchSize)
	assert.InDelta(t, 60.0, cfg.MemoryPressure.ElevatedPercent, 0)
	assert.Equal(t, int64(5_000), cfg.MemoryPressure.SampleIntervalMs, "default kept")
	assert.False(t, cfg.SafeModeEnabled)
	assert.Equal(t, 64, cfg.CompressionBatchSize, "default kept")
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := chunkcache.ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, chunkcache.DefaultConfig(), cfg)
}

func TestParseConfig_UnknownField(t *testing.T) {
	_, err := chunkcache.ParseConfig([]byte("chunk_unlaod_delay_ms: 5\n"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunkcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compression_batch_size: 8\n"), 0o600))

	cfg, err := chunkcache.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.CompressionBatchSize)

	_, err = chunkcache.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
