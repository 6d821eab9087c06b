package chunkcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus;
// see the prommetrics package for a ready-made adapter.
//
// Implementations must be safe for concurrent use: codec and unload events are
// reported from the host's goroutines as well as from background passes.
type MetricsCollector interface {
	// RecordGet is called after each GetData.
	RecordGet(hit bool)

	// RecordCompression is called after each compression attempt that ran the codec.
	RecordCompression(rawBytes, compressedBytes int, duration time.Duration, err error)

	// RecordDecompression is called after each promotion from the compressed tier.
	RecordDecompression(bytes int, duration time.Duration, err error)

	// RecordUnload is called after each unload attempt.
	RecordUnload(freedBytes int64, refused bool)

	// RecordPass is called after each scheduler pass.
	RecordPass(res PassResult)

	// RecordPressure is called after each memory pressure sample.
	RecordPressure(level PressureLevel, usedBytes, limitBytes uint64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGet(bool)                                   {}
func (NoopMetricsCollector) RecordCompression(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDecompression(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordUnload(int64, bool)                         {}
func (NoopMetricsCollector) RecordPass(PassResult)                            {}
func (NoopMetricsCollector) RecordPressure(PressureLevel, uint64, uint64)     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	GetHits              atomic.Int64
	GetMisses            atomic.Int64
	CompressionCount     atomic.Int64
	CompressionErrors    atomic.Int64
	CompressionNanos     atomic.Int64
	CompressionRawBytes  atomic.Int64
	CompressionOutBytes  atomic.Int64
	DecompressionCount   atomic.Int64
	DecompressionErrors  atomic.Int64
	DecompressionNanos   atomic.Int64
	UnloadCount          atomic.Int64
	UnloadRefused        atomic.Int64
	UnloadFreedBytes     atomic.Int64
	PassCount            atomic.Int64
	EmergencyPassCount   atomic.Int64
	PressureLevelCurrent atomic.Int32
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(hit bool) {
	if hit {
		b.GetHits.Add(1)
	} else {
		b.GetMisses.Add(1)
	}
}

// RecordCompression implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompression(rawBytes, compressedBytes int, duration time.Duration, err error) {
	b.CompressionCount.Add(1)
	b.CompressionNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CompressionErrors.Add(1)
		return
	}
	b.CompressionRawBytes.Add(int64(rawBytes))
	b.CompressionOutBytes.Add(int64(compressedBytes))
}

// RecordDecompression implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDecompression(bytes int, duration time.Duration, err error) {
	b.DecompressionCount.Add(1)
	b.DecompressionNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DecompressionErrors.Add(1)
	}
}

// RecordUnload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnload(freedBytes int64, refused bool) {
	if refused {
		b.UnloadRefused.Add(1)
		return
	}
	b.UnloadCount.Add(1)
	b.UnloadFreedBytes.Add(freedBytes)
}

// RecordPass implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPass(res PassResult) {
	b.PassCount.Add(1)
	if res.Kind == PassEmergency {
		b.EmergencyPassCount.Add(1)
	}
}

// RecordPressure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPressure(level PressureLevel, _, _ uint64) {
	b.PressureLevelCurrent.Store(int32(level))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GetHits:                b.GetHits.Load(),
		GetMisses:              b.GetMisses.Load(),
		CompressionCount:       b.CompressionCount.Load(),
		CompressionErrors:      b.CompressionErrors.Load(),
		CompressionAvgNanos:    avg(b.CompressionNanos.Load(), b.CompressionCount.Load()),
		DecompressionCount:     b.DecompressionCount.Load(),
		DecompressionErrors:    b.DecompressionErrors.Load(),
		DecompressionAvgNanos:  avg(b.DecompressionNanos.Load(), b.DecompressionCount.Load()),
		UnloadCount:            b.UnloadCount.Load(),
		UnloadRefused:          b.UnloadRefused.Load(),
		UnloadFreedBytes:       b.UnloadFreedBytes.Load(),
		PassCount:              b.PassCount.Load(),
		EmergencyPassCount:     b.EmergencyPassCount.Load(),
		CompressionRawBytes:    b.CompressionRawBytes.Load(),
		CompressionOutputBytes: b.CompressionOutBytes.Load(),
		PressureLevel:          PressureLevel(b.PressureLevelCurrent.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GetHits                int64
	GetMisses              int64
	CompressionCount       int64
	CompressionErrors      int64
	CompressionAvgNanos    int64
	CompressionRawBytes    int64
	CompressionOutputBytes int64
	DecompressionCount     int64
	DecompressionErrors    int64
	DecompressionAvgNanos  int64
	UnloadCount            int64
	UnloadRefused          int64
	UnloadFreedBytes       int64
	PassCount              int64
	EmergencyPassCount     int64
	PressureLevel          PressureLevel
}
