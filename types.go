package chunkcache

import (
	"github.com/hupe1980/chunkcache/internal/pressure"
	"github.com/hupe1980/chunkcache/internal/scheduler"
	"github.com/hupe1980/chunkcache/model"
)

// ChunkKey identifies a chunk by world and chunk coordinates.
type ChunkKey = model.ChunkKey

// Key returns the key of chunk (x, z) in world.
func Key(world string, x, z int32) ChunkKey { return model.Key(world, x, z) }

// ParseChunkKey parses the "world:x:z" form produced by ChunkKey.String.
func ParseChunkKey(s string) (ChunkKey, error) { return model.ParseChunkKey(s) }

// Tier is the storage representation of a chunk payload.
type Tier = model.Tier

const (
	TierAbsent     = model.TierAbsent
	TierRaw        = model.TierRaw
	TierCompressed = model.TierCompressed
)

// SafetyPredicate decides whether a chunk may be unloaded. Implementations must
// be safe for concurrent use and should be fast; they are consulted by every
// unload.
type SafetyPredicate interface {
	IsSpawnProtected(key ChunkKey) bool
	HasActiveHolders(key ChunkKey) bool
}

// PassKind names a scheduler pass.
type PassKind = scheduler.Kind

const (
	PassCompression = scheduler.KindCompression
	PassUnload      = scheduler.KindUnload
	PassEmergency   = scheduler.KindEmergency
)

// ParsePassKind parses "compression" (or "compress"), "unload" or "emergency".
func ParsePassKind(s string) (PassKind, bool) { return scheduler.ParseKind(s) }

// PassResult summarizes one scheduler pass.
type PassResult = scheduler.Result

// PressureLevel is a memory pressure classification.
type PressureLevel = pressure.Level

const (
	PressureNormal   = pressure.LevelNormal
	PressureElevated = pressure.LevelElevated
	PressureCritical = pressure.LevelCritical
)

// PressureSampler reports memory in use and the limit it is measured against.
type PressureSampler = pressure.Sampler

// PressureSamplerFunc adapts a function to a PressureSampler.
type PressureSamplerFunc = pressure.FuncSampler

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	// CompressedCount is the number of chunks currently in the compressed tier.
	CompressedCount int64 `json:"compressed_count"`
	// UnloadedCount is the number of chunks unloaded since creation.
	UnloadedCount int64 `json:"unloaded_count"`
	// ActiveCount is the number of recently accessed chunks.
	ActiveCount int64 `json:"active_count"`
	// MemoryFreedBytes accumulates bytes reclaimed by compression and unloads.
	MemoryFreedBytes int64 `json:"memory_freed_bytes"`
	// CompressionRatioPercent is compressed/original over all compressions.
	CompressionRatioPercent float64 `json:"compression_ratio_percent"`
	// UnloadCandidateCount is the length of the unload candidate queue.
	UnloadCandidateCount int64 `json:"unload_candidate_count"`

	RecordCount   int64  `json:"record_count"`
	RawCount      int64  `json:"raw_count"`
	TrackedCount  int64  `json:"tracked_count"`
	ResidentBytes int64  `json:"resident_bytes"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	CodecErrors   int64  `json:"codec_errors"`
	UnloadRefused int64  `json:"unload_refused"`
	PressureLevel string `json:"pressure_level"`
}

// ChunkInfo describes the state of one chunk.
type ChunkInfo struct {
	Key             string `json:"key"`
	Tier            string `json:"tier"`
	RawSize         int    `json:"raw_size"`
	CompressedSize  int    `json:"compressed_size"`
	OriginalSize    int    `json:"original_size"`
	Generation      uint64 `json:"generation"`
	LastAccessUnix  int64  `json:"last_access_unix_nano"`
	AccessCount     uint64 `json:"access_count"`
	Active          bool   `json:"active"`
	SkipCompression bool   `json:"skip_compression"`
	SpawnProtected  bool   `json:"spawn_protected"`
	Holders         bool   `json:"has_holders"`
}
