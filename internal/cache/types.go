package cache

import (
	"errors"
	"time"

	"github.com/hupe1980/chunkcache/model"
)

var (
	// ErrUnloadRefused is returned when the safety predicate blocks an unload.
	ErrUnloadRefused = errors.New("unload refused by safety predicate")

	// ErrBusy is returned when a record is locked by a concurrent operation and
	// the caller asked not to wait.
	ErrBusy = errors.New("record busy")
)

// Info is a point-in-time view of one key across the tier store and the tracker.
type Info struct {
	Key            model.ChunkKey
	Tier           model.Tier
	RawSize        int
	CompressedSize int
	OriginalSize   int
	Generation     uint64
	// SkipCompression is set when compression did not shrink the payload and the
	// key has not been accessed since.
	SkipCompression bool
	Compressing     bool
	LastAccess      int64 // unix nanos, 0 if untracked
	AccessCount     uint64
	Active          bool
}

// CompressOutcome describes what CompressChunk did.
type CompressOutcome uint8

const (
	// Compressed means the raw tier was replaced by a smaller compressed tier.
	Compressed CompressOutcome = iota
	// AlreadyCompressed means there was nothing to do.
	AlreadyCompressed
	// NotResident means the key has no raw payload.
	NotResident
	// BelowThreshold means the payload is too small to be worth compressing.
	BelowThreshold
	// NotSmaller means compression did not shrink the payload; the key is skipped
	// until its next access.
	NotSmaller
	// SkipMarked means an earlier attempt did not shrink the payload.
	SkipMarked
	// InFlight means another compression of the same key is running.
	InFlight
	// Stale means the record changed or was removed while compressing; the result
	// was discarded.
	Stale
)

func (o CompressOutcome) String() string {
	switch o {
	case Compressed:
		return "compressed"
	case AlreadyCompressed:
		return "already_compressed"
	case NotResident:
		return "not_resident"
	case BelowThreshold:
		return "below_threshold"
	case NotSmaller:
		return "not_smaller"
	case SkipMarked:
		return "skip_marked"
	case InFlight:
		return "in_flight"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// CompressResult is returned by CompressChunk.
type CompressResult struct {
	Outcome        CompressOutcome
	RawSize        int
	CompressedSize int
}

// Freed returns the bytes reclaimed by the compression.
func (r CompressResult) Freed() int64 {
	if r.Outcome != Compressed {
		return 0
	}
	return int64(r.RawSize - r.CompressedSize)
}

// Observer receives tier store events. Implementations must be safe for
// concurrent use.
type Observer interface {
	RecordCompression(rawBytes, compressedBytes int, duration time.Duration, err error)
	RecordDecompression(bytes int, duration time.Duration, err error)
	RecordUnload(freedBytes int64, refused bool)
}

type noopObserver struct{}

func (noopObserver) RecordCompression(int, int, time.Duration, error) {}
func (noopObserver) RecordDecompression(int, time.Duration, error)    {}
func (noopObserver) RecordUnload(int64, bool)                         {}

// Counters is a snapshot of the tier store counters.
type Counters struct {
	Records          int64
	RawCount         int64
	CompressedCount  int64
	ResidentBytes    int64
	MemoryFreedBytes int64
	// CompressedTotal and OriginalTotal accumulate over successful compressions.
	CompressedTotal int64
	OriginalTotal   int64
	UnloadedCount   int64
	UnloadRefused   int64
	Hits            int64
	Misses          int64
	CodecErrors     int64
}

// CompressionRatioPercent returns compressed/original over all successful
// compressions, as a percentage. 0 when nothing has been compressed.
func (c Counters) CompressionRatioPercent() float64 {
	if c.OriginalTotal == 0 {
		return 0
	}
	return float64(c.CompressedTotal) * 100 / float64(c.OriginalTotal)
}
