package chunkcache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/chunkcache/codec"
	"github.com/hupe1980/chunkcache/internal/pressure"
	"github.com/hupe1980/chunkcache/internal/scheduler"
)

// MemoryPressureConfig configures the memory pressure monitor.
type MemoryPressureConfig struct {
	// ElevatedPercent is the usage ratio at which pass intervals are halved.
	ElevatedPercent float64 `yaml:"elevated_percent" json:"elevated_percent"`
	// CriticalPercent is the usage ratio above which the emergency pass runs.
	CriticalPercent  float64 `yaml:"critical_percent" json:"critical_percent"`
	SampleIntervalMs int64   `yaml:"sample_interval_ms" json:"sample_interval_ms"`
	// ReclaimHint asks the runtime to return memory to the OS after an
	// emergency pass.
	ReclaimHint bool `yaml:"reclaim_hint" json:"reclaim_hint"`
}

// Config is the cache configuration. Every field is optional; invalid values
// are replaced by defaults (see Sanitize). All fields except Codec can be
// changed at runtime with Cache.UpdateConfig.
type Config struct {
	// Codec is the compression algorithm: "zstd" (default) or "lz4".
	Codec string `yaml:"codec" json:"codec"`
	// CompressionLevel is clamped into the codec's level range.
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
	// CompressionThresholdBytes is the smallest payload that is ever compressed.
	CompressionThresholdBytes int `yaml:"compression_threshold_bytes" json:"compression_threshold_bytes"`

	ChunkCompressionDelayMs int64 `yaml:"chunk_compression_delay_ms" json:"chunk_compression_delay_ms"`
	ChunkUnloadDelayMs      int64 `yaml:"chunk_unload_delay_ms" json:"chunk_unload_delay_ms"`
	CompressionIntervalMs   int64 `yaml:"compression_interval_ms" json:"compression_interval_ms"`
	UnloadIntervalMs        int64 `yaml:"unload_interval_ms" json:"unload_interval_ms"`
	CompressionBatchSize    int   `yaml:"compression_batch_size" json:"compression_batch_size"`
	UnloadBatchSize         int   `yaml:"unload_batch_size" json:"unload_batch_size"`

	// MaxCompressedEntries caps the compressed tier for scheduled compression
	// passes. 0 means unlimited.
	MaxCompressedEntries int `yaml:"max_compressed_entries" json:"max_compressed_entries"`
	// CompressionBytesPerSec caps scheduled compression throughput. 0 means unlimited.
	CompressionBytesPerSec int64 `yaml:"compression_bytes_per_sec" json:"compression_bytes_per_sec"`

	MemoryPressure MemoryPressureConfig `yaml:"memory_pressure" json:"memory_pressure"`
	// MemoryLimitBytes is the budget for resident chunk bytes. When set, memory
	// pressure is measured against it instead of process memory.
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes" json:"memory_limit_bytes"`

	EmergencyRetainFloor int   `yaml:"emergency_retain_floor" json:"emergency_retain_floor"`
	EmergencyMinIdleMs   int64 `yaml:"emergency_min_idle_ms" json:"emergency_min_idle_ms"`
	EmergencyParallelism int   `yaml:"emergency_parallelism" json:"emergency_parallelism"`

	// SafeModeEnabled makes explicit Unload calls honor the safety predicate.
	// Scheduled passes always honor it.
	SafeModeEnabled bool `yaml:"safe_mode_enabled" json:"safe_mode_enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Codec:                     "zstd",
		CompressionLevel:          3,
		CompressionThresholdBytes: 1024,
		ChunkCompressionDelayMs:   30_000,
		ChunkUnloadDelayMs:        300_000,
		CompressionIntervalMs:     30_000,
		UnloadIntervalMs:          60_000,
		CompressionBatchSize:      64,
		UnloadBatchSize:           20,
		MemoryPressure: MemoryPressureConfig{
			ElevatedPercent:  70,
			CriticalPercent:  85,
			SampleIntervalMs: 5_000,
		},
		EmergencyRetainFloor: 256,
		EmergencyParallelism: runtime.GOMAXPROCS(0),
		SafeModeEnabled:      true,
	}
}

// Sanitize replaces invalid values with safe defaults in place and returns a
// *ConfigError for each replacement. The codec name is only normalized; an
// unknown name is reported by New.
func (c *Config) Sanitize() []error {
	d := DefaultConfig()
	var errs []error
	fix := func(field string, value, def any) {
		errs = append(errs, &ConfigError{Field: field, Value: value, Default: def})
	}

	if c.Codec == "" {
		c.Codec = d.Codec
	}
	if cd, ok := codec.ByName(c.Codec); ok {
		if lvl := codec.ClampLevel(cd, c.CompressionLevel); lvl != c.CompressionLevel {
			fix("compression_level", c.CompressionLevel, lvl)
			c.CompressionLevel = lvl
		}
	}
	if c.CompressionThresholdBytes < 0 {
		fix("compression_threshold_bytes", c.CompressionThresholdBytes, d.CompressionThresholdBytes)
		c.CompressionThresholdBytes = d.CompressionThresholdBytes
	}
	if c.ChunkCompressionDelayMs < 0 {
		fix("chunk_compression_delay_ms", c.ChunkCompressionDelayMs, d.ChunkCompressionDelayMs)
		c.ChunkCompressionDelayMs = d.ChunkCompressionDelayMs
	}
	if c.ChunkUnloadDelayMs < 0 {
		fix("chunk_unload_delay_ms", c.ChunkUnloadDelayMs, d.ChunkUnloadDelayMs)
		c.ChunkUnloadDelayMs = d.ChunkUnloadDelayMs
	}
	if c.CompressionIntervalMs <= 0 {
		fix("compression_interval_ms", c.CompressionIntervalMs, d.CompressionIntervalMs)
		c.CompressionIntervalMs = d.CompressionIntervalMs
	}
	if c.UnloadIntervalMs <= 0 {
		fix("unload_interval_ms", c.UnloadIntervalMs, d.UnloadIntervalMs)
		c.UnloadIntervalMs = d.UnloadIntervalMs
	}
	if c.CompressionBatchSize <= 0 {
		fix("compression_batch_size", c.CompressionBatchSize, d.CompressionBatchSize)
		c.CompressionBatchSize = d.CompressionBatchSize
	}
	if c.UnloadBatchSize <= 0 {
		fix("unload_batch_size", c.UnloadBatchSize, d.UnloadBatchSize)
		c.UnloadBatchSize = d.UnloadBatchSize
	}
	if c.MaxCompressedEntries < 0 {
		fix("max_compressed_entries", c.MaxCompressedEntries, 0)
		c.MaxCompressedEntries = 0
	}
	if c.CompressionBytesPerSec < 0 {
		fix("compression_bytes_per_sec", c.CompressionBytesPerSec, 0)
		c.CompressionBytesPerSec = 0
	}

	mp := &c.MemoryPressure
	if !validPercent(mp.ElevatedPercent) || !validPercent(mp.CriticalPercent) || mp.ElevatedPercent >= mp.CriticalPercent {
		fix("memory_pressure.elevated_percent", mp.ElevatedPercent, d.MemoryPressure.ElevatedPercent)
		fix("memory_pressure.critical_percent", mp.CriticalPercent, d.MemoryPressure.CriticalPercent)
		mp.ElevatedPercent = d.MemoryPressure.ElevatedPercent
		mp.CriticalPercent = d.MemoryPressure.CriticalPercent
	}
	if mp.SampleIntervalMs <= 0 {
		fix("memory_pressure.sample_interval_ms", mp.SampleIntervalMs, d.MemoryPressure.SampleIntervalMs)
		mp.SampleIntervalMs = d.MemoryPressure.SampleIntervalMs
	}

	if c.MemoryLimitBytes < 0 {
		fix("memory_limit_bytes", c.MemoryLimitBytes, 0)
		c.MemoryLimitBytes = 0
	}
	if c.EmergencyRetainFloor < 0 {
		fix("emergency_retain_floor", c.EmergencyRetainFloor, d.EmergencyRetainFloor)
		c.EmergencyRetainFloor = d.EmergencyRetainFloor
	}
	if c.EmergencyMinIdleMs < 0 {
		fix("emergency_min_idle_ms", c.EmergencyMinIdleMs, 0)
		c.EmergencyMinIdleMs = 0
	}
	if c.EmergencyParallelism <= 0 {
		fix("emergency_parallelism", c.EmergencyParallelism, d.EmergencyParallelism)
		c.EmergencyParallelism = d.EmergencyParallelism
	}
	return errs
}

func validPercent(p float64) bool { return p > 0 && p <= 100 }

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

func (c Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		CompressionDelay:     ms(c.ChunkCompressionDelayMs),
		UnloadDelay:          ms(c.ChunkUnloadDelayMs),
		CompressionInterval:  ms(c.CompressionIntervalMs),
		UnloadInterval:       ms(c.UnloadIntervalMs),
		CompressionBatchSize: c.CompressionBatchSize,
		UnloadBatchSize:      c.UnloadBatchSize,
		MaxCompressedEntries: c.MaxCompressedEntries,
		EmergencyMinIdle:     ms(c.EmergencyMinIdleMs),
		EmergencyParallelism: c.EmergencyParallelism,
		EmergencyRetainFloor: c.EmergencyRetainFloor,
	}
}

func (c Config) pressureConfig() pressure.Config {
	return pressure.Config{
		ElevatedPercent: c.MemoryPressure.ElevatedPercent,
		CriticalPercent: c.MemoryPressure.CriticalPercent,
		SampleInterval:  ms(c.MemoryPressure.SampleIntervalMs),
		ReclaimHint:     c.MemoryPressure.ReclaimHint,
	}
}

// ParseConfig decodes YAML on top of DefaultConfig. Unknown keys are an error.
// The result is not sanitized.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file. See ParseConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return ParseConfig(data)
}
