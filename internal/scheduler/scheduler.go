// Package scheduler runs the periodic compression and unload passes over the
// tier store, and the emergency pass triggered under critical memory pressure.
//
// Passes never hold a store-wide lock: candidates are collected from a
// point-in-time view, ordered oldest access first, and processed key by key.
// A failure on one key never aborts the rest of the pass.
package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chunkcache/internal/cache"
	"github.com/hupe1980/chunkcache/internal/resource"
	"github.com/hupe1980/chunkcache/internal/safe"
	"github.com/hupe1980/chunkcache/internal/tracker"
	"github.com/hupe1980/chunkcache/model"
)

// ErrStopped is returned by passes requested after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Kind names a pass.
type Kind string

const (
	KindCompression Kind = "compression"
	KindUnload      Kind = "unload"
	KindEmergency   Kind = "emergency"
)

// ParseKind parses a pass name.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindCompression, KindUnload, KindEmergency:
		return k, true
	case "compress":
		return KindCompression, true
	}
	return "", false
}

// Config holds the pass policy.
type Config struct {
	CompressionDelay     time.Duration
	UnloadDelay          time.Duration
	CompressionInterval  time.Duration
	UnloadInterval       time.Duration
	CompressionBatchSize int
	UnloadBatchSize      int
	// MaxCompressedEntries caps the compressed tier for scheduled passes. 0 means unlimited.
	MaxCompressedEntries int
	EmergencyMinIdle     time.Duration
	EmergencyParallelism int
	EmergencyRetainFloor int
}

// DefaultConfig returns the default pass policy.
func DefaultConfig() Config {
	return Config{
		CompressionDelay:     30 * time.Second,
		UnloadDelay:          5 * time.Minute,
		CompressionInterval:  30 * time.Second,
		UnloadInterval:       60 * time.Second,
		CompressionBatchSize: 64,
		UnloadBatchSize:      20,
		EmergencyParallelism: runtime.GOMAXPROCS(0),
		EmergencyRetainFloor: 256,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.CompressionInterval <= 0 {
		c.CompressionInterval = d.CompressionInterval
	}
	if c.UnloadInterval <= 0 {
		c.UnloadInterval = d.UnloadInterval
	}
	if c.CompressionBatchSize <= 0 {
		c.CompressionBatchSize = d.CompressionBatchSize
	}
	if c.UnloadBatchSize <= 0 {
		c.UnloadBatchSize = d.UnloadBatchSize
	}
	if c.EmergencyParallelism <= 0 {
		c.EmergencyParallelism = 1
	}
	c.CompressionDelay = max(c.CompressionDelay, 0)
	c.UnloadDelay = max(c.UnloadDelay, 0)
	c.EmergencyMinIdle = max(c.EmergencyMinIdle, 0)
	c.MaxCompressedEntries = max(c.MaxCompressedEntries, 0)
	c.EmergencyRetainFloor = max(c.EmergencyRetainFloor, 0)
	return c
}

// Result summarizes one pass.
type Result struct {
	Kind       Kind          `json:"kind"`
	Considered int           `json:"considered"`
	Compressed int           `json:"compressed"`
	Unloaded   int           `json:"unloaded"`
	Refused    int           `json:"refused"`
	Skipped    int           `json:"skipped"`
	Errors     int           `json:"errors"`
	FreedBytes int64         `json:"freed_bytes"`
	Duration   time.Duration `json:"duration_ns"`
}

// Observer receives a Result after every pass.
type Observer interface {
	RecordPass(Result)
}

type noopObserver struct{}

func (noopObserver) RecordPass(Result) {}

// Options holds the scheduler's collaborators.
type Options struct {
	Logger *slog.Logger
	// Clock is the logical time source for idleness. Defaults to time.Now.
	Clock func() time.Time
	// Allow is the safety predicate: it reports whether a key may be unloaded.
	// nil allows everything.
	Allow    func(model.ChunkKey) bool
	Observer Observer
}

type backoff struct {
	attempts int
	until    int64 // unix nanos
}

// Scheduler drives the passes.
type Scheduler struct {
	store   *cache.Store
	tracker *tracker.Tracker
	rc      *resource.Controller
	logger  *slog.Logger
	now     func() time.Time
	allow   func(model.ChunkKey) bool
	obs     Observer

	cfg   atomic.Pointer[Config]
	scale atomic.Uint64 // float64 bits

	backoffMu sync.Mutex
	backoff   map[model.ChunkKey]backoff

	resetMu sync.Mutex
	resetCh chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	closeCh chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New creates a scheduler over store. rc bounds background work; a nil rc gets
// a private controller with a single slot and no throughput limit.
func New(store *cache.Store, rc *resource.Controller, cfg Config, opts Options) *Scheduler {
	if rc == nil {
		rc = resource.NewController(resource.Config{})
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:   store,
		tracker: store.Tracker(),
		rc:      rc,
		logger:  opts.Logger,
		now:     opts.Clock,
		allow:   opts.Allow,
		obs:     opts.Observer,
		backoff: make(map[model.ChunkKey]backoff),
		resetCh: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		closeCh: make(chan struct{}),
	}
	s.SetConfig(cfg)
	s.scale.Store(math.Float64bits(1))
	return s
}

// Config returns the current pass policy.
func (s *Scheduler) Config() Config { return *s.cfg.Load() }

// SetConfig replaces the pass policy. Running loops pick up new intervals
// immediately.
func (s *Scheduler) SetConfig(cfg Config) {
	cfg = cfg.normalized()
	s.cfg.Store(&cfg)
	s.wakeLoops()
}

// SetIntervalScale multiplies both pass intervals by f, for example 0.5 under
// elevated memory pressure. f is clamped to (0, 1].
func (s *Scheduler) SetIntervalScale(f float64) {
	if f <= 0 || f > 1 || math.IsNaN(f) {
		f = 1
	}
	if old := s.scale.Swap(math.Float64bits(f)); old != math.Float64bits(f) {
		s.wakeLoops()
	}
}

// IntervalScale returns the current interval multiplier.
func (s *Scheduler) IntervalScale() float64 {
	return math.Float64frombits(s.scale.Load())
}

func (s *Scheduler) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * s.IntervalScale())
}

func (s *Scheduler) wakeLoops() {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	close(s.resetCh)
	s.resetCh = make(chan struct{})
}

func (s *Scheduler) resetSignal() <-chan struct{} {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	return s.resetCh
}

// Start launches the compression and unload loops. It is a no-op if the
// scheduler was already started or stopped.
func (s *Scheduler) Start() {
	if s.stopped.Load() || !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(2)
	go s.loop(KindCompression, func(c Config) time.Duration { return c.CompressionInterval }, s.CompressPass)
	go s.loop(KindUnload, func(c Config) time.Duration { return c.UnloadInterval }, s.UnloadPass)
}

// Stop stops the loops and waits for in-flight passes. Keys already being
// processed finish; no new key is started. Stop is idempotent.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	close(s.closeCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(kind Kind, interval func(Config) time.Duration, pass func(context.Context) (Result, error)) {
	defer s.wg.Done()

	last := time.Now()
	for {
		reset := s.resetSignal()
		wait := s.scaled(interval(s.Config())) - time.Since(last)
		timer := time.NewTimer(max(wait, 0))

		select {
		case <-s.closeCh:
			timer.Stop()
			return
		case <-reset:
			timer.Stop()
			continue
		case <-timer.C:
		}

		_ = safe.Call(s.logger, string(kind)+" pass", func() {
			if _, err := pass(s.ctx); err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
				s.logger.Warn("scheduled pass failed", "pass", kind, "error", err)
			}
		})
		last = time.Now()
	}
}

// run executes fn holding a background slot, so passes never overlap.
func (s *Scheduler) run(ctx context.Context, kind Kind, fn func(context.Context, *Result) error) (Result, error) {
	res := Result{Kind: kind}
	if s.stopped.Load() {
		return res, ErrStopped
	}

	// Stop cancels s.ctx; honor it for passes requested with an unrelated context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.rc.AcquireBackground(ctx); err != nil {
		return res, err
	}
	defer s.rc.ReleaseBackground()

	start := time.Now()
	err := fn(ctx, &res)
	res.Duration = time.Since(start)

	s.obs.RecordPass(res)
	s.logger.Debug("pass completed",
		"pass", kind,
		"considered", res.Considered,
		"compressed", res.Compressed,
		"unloaded", res.Unloaded,
		"refused", res.Refused,
		"freed_bytes", res.FreedBytes,
		"duration", res.Duration,
	)
	return res, err
}

func (s *Scheduler) allowed(key model.ChunkKey) bool {
	return s.allow == nil || s.allow(key)
}
