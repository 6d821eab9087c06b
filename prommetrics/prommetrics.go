// Package prommetrics exports chunkcache metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	col := prommetrics.New(reg)
//	c, _ := chunkcache.New(cfg, chunkcache.WithMetricsCollector(col))
//	reg.MustRegister(prommetrics.NewStatsCollector(c.Stats))
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/chunkcache"
)

const namespace = "chunkcache"

// Collector implements chunkcache.MetricsCollector with Prometheus counters
// and histograms.
type Collector struct {
	gets          *prometheus.CounterVec
	codecLatency  *prometheus.HistogramVec
	codecBytes    *prometheus.CounterVec
	codecErrors   *prometheus.CounterVec
	unloads       *prometheus.CounterVec
	unloadFreed   prometheus.Counter
	passes        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	passFreed     *prometheus.CounterVec
	pressureLevel prometheus.Gauge
	memoryUsed    prometheus.Gauge
	memoryLimit   prometheus.Gauge
}

var _ chunkcache.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers it with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gets_total",
			Help:      "GetData calls by result.",
		}, []string{"result"}),
		codecLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "codec_duration_seconds",
			Help:      "Latency of chunk compression and decompression.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		codecBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_bytes_total",
			Help:      "Bytes processed by the codec.",
		}, []string{"op", "side"}),
		codecErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_errors_total",
			Help:      "Codec failures.",
		}, []string{"op"}),
		unloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unloads_total",
			Help:      "Unload attempts by result.",
		}, []string{"result"}),
		unloadFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unload_freed_bytes_total",
			Help:      "Bytes freed by unloads.",
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Scheduler passes by kind.",
		}, []string{"kind"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of scheduler passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		passFreed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_freed_bytes_total",
			Help:      "Bytes freed by scheduler passes.",
		}, []string{"kind"}),
		pressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_pressure_level",
			Help:      "Memory pressure level: 0 normal, 1 elevated, 2 critical.",
		}),
		memoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_used_bytes",
			Help:      "Memory usage at the last pressure sample.",
		}),
		memoryLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_limit_bytes",
			Help:      "Memory limit at the last pressure sample.",
		}),
	}

	reg.MustRegister(
		c.gets, c.codecLatency, c.codecBytes, c.codecErrors,
		c.unloads, c.unloadFreed,
		c.passes, c.passDuration, c.passFreed,
		c.pressureLevel, c.memoryUsed, c.memoryLimit,
	)
	return c
}

// RecordGet implements chunkcache.MetricsCollector.
func (c *Collector) RecordGet(hit bool) {
	if hit {
		c.gets.WithLabelValues("hit").Inc()
	} else {
		c.gets.WithLabelValues("miss").Inc()
	}
}

// RecordCompression implements chunkcache.MetricsCollector.
func (c *Collector) RecordCompression(rawBytes, compressedBytes int, d time.Duration, err error) {
	c.codecLatency.WithLabelValues("compress").Observe(d.Seconds())
	if err != nil {
		c.codecErrors.WithLabelValues("compress").Inc()
		return
	}
	c.codecBytes.WithLabelValues("compress", "in").Add(float64(rawBytes))
	c.codecBytes.WithLabelValues("compress", "out").Add(float64(compressedBytes))
}

// RecordDecompression implements chunkcache.MetricsCollector.
func (c *Collector) RecordDecompression(bytes int, d time.Duration, err error) {
	c.codecLatency.WithLabelValues("decompress").Observe(d.Seconds())
	if err != nil {
		c.codecErrors.WithLabelValues("decompress").Inc()
		return
	}
	c.codecBytes.WithLabelValues("decompress", "out").Add(float64(bytes))
}

// RecordUnload implements chunkcache.MetricsCollector.
func (c *Collector) RecordUnload(freedBytes int64, refused bool) {
	if refused {
		c.unloads.WithLabelValues("refused").Inc()
		return
	}
	c.unloads.WithLabelValues("unloaded").Inc()
	c.unloadFreed.Add(float64(freedBytes))
}

// RecordPass implements chunkcache.MetricsCollector.
func (c *Collector) RecordPass(res chunkcache.PassResult) {
	kind := string(res.Kind)
	c.passes.WithLabelValues(kind).Inc()
	c.passDuration.WithLabelValues(kind).Observe(res.Duration.Seconds())
	c.passFreed.WithLabelValues(kind).Add(float64(res.FreedBytes))
}

// RecordPressure implements chunkcache.MetricsCollector.
func (c *Collector) RecordPressure(level chunkcache.PressureLevel, usedBytes, limitBytes uint64) {
	c.pressureLevel.Set(float64(level))
	c.memoryUsed.Set(float64(usedBytes))
	c.memoryLimit.Set(float64(limitBytes))
}
