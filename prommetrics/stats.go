package prommetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/chunkcache"
)

// StatsCollector exposes a Stats snapshot as gauges, read at scrape time.
type StatsCollector struct {
	stats func() chunkcache.Stats
	descs []statDesc
}

type statDesc struct {
	desc  *prometheus.Desc
	vtype prometheus.ValueType
	value func(chunkcache.Stats) float64
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector creates a collector over stats, typically Cache.Stats.
func NewStatsCollector(stats func() chunkcache.Stats) *StatsCollector {
	gauge := func(name, help string, v func(chunkcache.Stats) float64) statDesc {
		return statDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			vtype: prometheus.GaugeValue,
			value: v,
		}
	}
	counter := func(name, help string, v func(chunkcache.Stats) float64) statDesc {
		d := gauge(name, help, v)
		d.vtype = prometheus.CounterValue
		return d
	}

	return &StatsCollector{
		stats: stats,
		descs: []statDesc{
			gauge("compressed_chunks", "Chunks in the compressed tier.",
				func(s chunkcache.Stats) float64 { return float64(s.CompressedCount) }),
			gauge("raw_chunks", "Chunks in the raw tier.",
				func(s chunkcache.Stats) float64 { return float64(s.RawCount) }),
			gauge("active_chunks", "Recently accessed chunks.",
				func(s chunkcache.Stats) float64 { return float64(s.ActiveCount) }),
			gauge("tracked_chunks", "Chunks with access bookkeeping.",
				func(s chunkcache.Stats) float64 { return float64(s.TrackedCount) }),
			gauge("unload_candidates", "Length of the unload candidate queue.",
				func(s chunkcache.Stats) float64 { return float64(s.UnloadCandidateCount) }),
			gauge("resident_bytes", "Bytes held by resident payloads.",
				func(s chunkcache.Stats) float64 { return float64(s.ResidentBytes) }),
			gauge("compression_ratio", "Compressed size over original size.",
				func(s chunkcache.Stats) float64 { return s.CompressionRatioPercent / 100 }),
			counter("unloaded_chunks_total", "Chunks unloaded since start.",
				func(s chunkcache.Stats) float64 { return float64(s.UnloadedCount) }),
			counter("memory_freed_bytes_total", "Bytes reclaimed by compression and unloads.",
				func(s chunkcache.Stats) float64 { return float64(s.MemoryFreedBytes) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.vtype, d.value(s))
	}
}
