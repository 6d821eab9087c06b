// Package pressure samples memory usage on a fixed interval and escalates the
// eviction scheduler when usage crosses the configured thresholds.
//
// Sampling failures and unknown limits classify as normal, so a broken sampler
// never triggers emergency passes.
package pressure

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chunkcache/internal/safe"
	"github.com/hupe1980/chunkcache/internal/scheduler"
)

// Level is a memory pressure classification.
type Level int32

const (
	LevelNormal Level = iota
	LevelElevated
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelElevated:
		return "elevated"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ElevatedIntervalScale is applied to the scheduler intervals while pressure
// is above normal.
const ElevatedIntervalScale = 0.5

// Config holds the monitor policy.
type Config struct {
	ElevatedPercent float64
	CriticalPercent float64
	SampleInterval  time.Duration
	// ReclaimHint asks the runtime to return freed memory to the OS after an
	// emergency pass. Advisory only.
	ReclaimHint bool
}

// DefaultConfig returns the default monitor policy.
func DefaultConfig() Config {
	return Config{
		ElevatedPercent: 70,
		CriticalPercent: 85,
		SampleInterval:  5 * time.Second,
	}
}

// Classify maps a usage sample to a level. A zero limit is normal.
func Classify(used, limit uint64, cfg Config) Level {
	if limit == 0 {
		return LevelNormal
	}
	pct := float64(used) * 100 / float64(limit)
	switch {
	case pct > cfg.CriticalPercent:
		return LevelCritical
	case pct >= cfg.ElevatedPercent:
		return LevelElevated
	default:
		return LevelNormal
	}
}

// Target is what the monitor escalates.
type Target interface {
	SetIntervalScale(f float64)
	EmergencyPass(ctx context.Context) (scheduler.Result, error)
}

// Observer receives every classified sample.
type Observer interface {
	RecordPressure(level Level, usedBytes, limitBytes uint64)
}

type noopObserver struct{}

func (noopObserver) RecordPressure(Level, uint64, uint64) {}

// Options holds the monitor's collaborators.
type Options struct {
	Logger   *slog.Logger
	Observer Observer
	// FreeOSMemory implements the reclaim hint. Defaults to debug.FreeOSMemory.
	FreeOSMemory func()
}

// Monitor samples memory and drives a Target.
type Monitor struct {
	sampler Sampler
	target  Target
	logger  *slog.Logger
	obs     Observer
	freeOS  func()

	cfg   atomic.Pointer[Config]
	level atomic.Int32
	used  atomic.Uint64
	limit atomic.Uint64

	checkMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	closeCh chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// NewMonitor creates a monitor. A nil sampler uses RuntimeSampler.
func NewMonitor(sampler Sampler, target Target, cfg Config, opts Options) *Monitor {
	if sampler == nil {
		sampler = RuntimeSampler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.FreeOSMemory == nil {
		opts.FreeOSMemory = debug.FreeOSMemory
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		sampler: sampler,
		target:  target,
		logger:  opts.Logger,
		obs:     opts.Observer,
		freeOS:  opts.FreeOSMemory,
		ctx:     ctx,
		cancel:  cancel,
		closeCh: make(chan struct{}),
	}
	m.SetConfig(cfg)
	return m
}

// SetConfig replaces the monitor policy.
func (m *Monitor) SetConfig(cfg Config) {
	d := DefaultConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = d.SampleInterval
	}
	if cfg.ElevatedPercent <= 0 || cfg.CriticalPercent <= 0 || cfg.ElevatedPercent >= cfg.CriticalPercent {
		cfg.ElevatedPercent, cfg.CriticalPercent = d.ElevatedPercent, d.CriticalPercent
	}
	m.cfg.Store(&cfg)
}

// Config returns the monitor policy.
func (m *Monitor) Config() Config { return *m.cfg.Load() }

// Level returns the level of the last sample.
func (m *Monitor) Level() Level { return Level(m.level.Load()) }

// LastSample returns the last successful sample.
func (m *Monitor) LastSample() (used, limit uint64) {
	return m.used.Load(), m.limit.Load()
}

// CheckNow runs one sample-classify-respond cycle and returns the level.
func (m *Monitor) CheckNow(ctx context.Context) Level {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	cfg := m.Config()
	used, limit, err := m.sampler.Sample(ctx)
	level := LevelNormal
	if err != nil {
		m.logger.Debug("memory sample failed, assuming normal pressure", "error", err)
		used, limit = 0, 0
	} else {
		level = Classify(used, limit, cfg)
	}
	m.used.Store(used)
	m.limit.Store(limit)

	prev := Level(m.level.Swap(int32(level)))
	if prev != level {
		m.logger.Info("memory pressure changed", "from", prev, "to", level, "used_bytes", used, "limit_bytes", limit)
	}
	m.obs.RecordPressure(level, used, limit)

	if m.target == nil {
		return level
	}

	switch level {
	case LevelNormal:
		m.target.SetIntervalScale(1)
	case LevelElevated:
		m.target.SetIntervalScale(ElevatedIntervalScale)
	case LevelCritical:
		m.target.SetIntervalScale(ElevatedIntervalScale)
		if _, err := m.target.EmergencyPass(ctx); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, scheduler.ErrStopped) {
			m.logger.Warn("emergency pass failed", "error", err)
		}
		if cfg.ReclaimHint {
			m.freeOS()
		}
	}
	return level
}

// Start launches the sampling loop. It is a no-op if already started or stopped.
func (m *Monitor) Start() {
	if m.stopped.Load() || !m.started.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the sampling loop and waits for an in-flight cycle. Idempotent.
func (m *Monitor) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	m.cancel()
	close(m.closeCh)
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	for {
		timer := time.NewTimer(m.Config().SampleInterval)
		select {
		case <-m.closeCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		_ = safe.Call(m.logger, "memory pressure check", func() {
			m.CheckNow(m.ctx)
		})
	}
}
