package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/chunkcache/internal/cache"
	"github.com/hupe1980/chunkcache/internal/queue"
	"github.com/hupe1980/chunkcache/internal/tracker"
	"github.com/hupe1980/chunkcache/model"
)

// maxBackoffFactor caps the refusal backoff at this multiple of the unload interval.
const maxBackoffFactor = 8

// CompressPass compresses up to CompressionBatchSize raw chunks idle for at
// least CompressionDelay, oldest first. Each compression waits on the
// throughput limiter.
func (s *Scheduler) CompressPass(ctx context.Context) (Result, error) {
	return s.run(ctx, KindCompression, s.compressPass)
}

func (s *Scheduler) compressPass(ctx context.Context, res *Result) error {
	cfg := s.Config()
	now := s.now()
	s.tracker.SweepActive(cfg.CompressionDelay, now)

	limit := cfg.CompressionBatchSize
	if cfg.MaxCompressedEntries > 0 {
		room := cfg.MaxCompressedEntries - int(s.store.Counters().CompressedCount)
		if room <= 0 {
			s.logger.Debug("compressed tier full, skipping pass", "max_compressed_entries", cfg.MaxCompressedEntries)
			return nil
		}
		limit = min(limit, room)
	}

	cands := s.compressionCandidates(cfg.CompressionDelay, false, limit, now)
	res.Considered = len(cands)

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.rc.AcquireCompression(ctx, c.Size); err != nil {
			return err
		}
		r, err := s.store.CompressChunk(c.Key)
		s.tallyCompression(res, c.Key, r, err)
	}
	return nil
}

// compressionCandidates returns raw, unmarked chunks idle for at least minIdle,
// oldest first. limit <= 0 returns all of them.
func (s *Scheduler) compressionCandidates(minIdle time.Duration, includeActive bool, limit int, now time.Time) []queue.Candidate {
	threshold := s.store.Threshold()
	cutoff := now.UnixNano() - int64(minIdle)
	sel := queue.NewOldest(limit)

	s.store.Range(func(info cache.Info) bool {
		switch {
		case info.Tier != model.TierRaw,
			info.Compressing,
			info.SkipCompression,
			info.RawSize < threshold,
			info.Active && !includeActive,
			info.LastAccess > cutoff:
			return true
		}
		sel.Offer(queue.Candidate{Key: info.Key, LastAccess: info.LastAccess, Size: info.RawSize})
		return true
	})
	return sel.Drain()
}

func (s *Scheduler) tallyCompression(res *Result, key model.ChunkKey, r cache.CompressResult, err error) {
	if err != nil {
		res.Errors++
		s.logger.Warn("chunk compression failed", "key", key.String(), "error", err)
		return
	}
	if r.Outcome == cache.Compressed {
		res.Compressed++
		res.FreedBytes += r.Freed()
		return
	}
	res.Skipped++
}

// UnloadPass enqueues chunks idle for at least UnloadDelay that the safety
// predicate allows, oldest first, then drains up to UnloadBatchSize keys from
// the candidate queue. Each drained key is re-checked for idleness. A refused
// key is backed off exponentially.
func (s *Scheduler) UnloadPass(ctx context.Context) (Result, error) {
	return s.run(ctx, KindUnload, s.unloadPass)
}

func (s *Scheduler) unloadPass(ctx context.Context, res *Result) error {
	cfg := s.Config()
	now := s.now()
	s.tracker.SweepActive(min(cfg.CompressionDelay, cfg.UnloadDelay), now)
	s.pruneBackoff()

	cutoff := now.UnixNano() - int64(cfg.UnloadDelay)
	var idle []queue.Candidate
	s.tracker.Range(func(key model.ChunkKey, snap tracker.Snapshot) bool {
		if !snap.Active && !snap.Queued && snap.LastAccess <= cutoff {
			idle = append(idle, queue.Candidate{Key: key, LastAccess: snap.LastAccess})
		}
		return true
	})

	sel := queue.NewOldest(0)
	for _, c := range idle {
		if s.inBackoff(c.Key, now) || !s.allowed(c.Key) {
			continue
		}
		if info, ok := s.store.Inspect(c.Key); ok {
			c.Size = info.RawSize + info.CompressedSize
		}
		sel.Offer(c)
	}
	for _, c := range sel.Drain() {
		if s.tracker.Enqueue(c.Key) {
			res.Considered++
		}
	}

	for range cfg.UnloadBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, ok := s.tracker.Dequeue()
		if !ok {
			break
		}
		snap, ok := s.tracker.Get(key)
		if !ok {
			continue
		}
		if snap.Active || snap.LastAccess > cutoff {
			res.Skipped++
			continue
		}
		s.unloadOne(key, res, now)
	}
	return nil
}

func (s *Scheduler) unloadOne(key model.ChunkKey, res *Result, now time.Time) {
	freed, removed, err := s.store.UnloadChunk(key, s.allow, false)
	switch {
	case errors.Is(err, cache.ErrUnloadRefused):
		res.Refused++
		retry := s.deferKey(key, now)
		s.logger.Debug("unload refused", "key", key.String(), "retry_in", retry)
	case errors.Is(err, cache.ErrBusy):
		res.Skipped++
	case err != nil:
		res.Errors++
		s.logger.Warn("chunk unload failed", "key", key.String(), "error", err)
	case removed:
		res.Unloaded++
		res.FreedBytes += freed
		s.clearBackoff(key)
	}
}

// EmergencyPass compresses every raw chunk idle for at least EmergencyMinIdle
// in parallel, bypassing the throughput limiter and the compressed tier cap,
// then unloads the oldest chunks idle for at least UnloadDelay that the safety
// predicate allows, without a batch cap, until the record count reaches
// EmergencyRetainFloor.
func (s *Scheduler) EmergencyPass(ctx context.Context) (Result, error) {
	return s.run(ctx, KindEmergency, s.emergencyPass)
}

func (s *Scheduler) emergencyPass(ctx context.Context, res *Result) error {
	cfg := s.Config()
	now := s.now()

	cands := s.compressionCandidates(cfg.EmergencyMinIdle, true, 0, now)
	res.Considered = len(cands)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.EmergencyParallelism)
	for _, c := range cands {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := s.store.CompressChunk(c.Key)
			mu.Lock()
			s.tallyCompression(res, c.Key, r, err)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	excess := s.store.Len() - cfg.EmergencyRetainFloor
	if excess <= 0 {
		return nil
	}

	// Only the batch cap is lifted; chunks still in use are never evicted.
	s.tracker.SweepActive(cfg.UnloadDelay, now)
	cutoff := now.UnixNano() - int64(cfg.UnloadDelay)
	sel := queue.NewOldest(0)
	s.store.Range(func(info cache.Info) bool {
		if !info.Active && info.LastAccess <= cutoff {
			sel.Offer(queue.Candidate{Key: info.Key, LastAccess: info.LastAccess, Size: info.RawSize + info.CompressedSize})
		}
		return true
	})

	for _, c := range sel.Drain() {
		if s.store.Len() <= cfg.EmergencyRetainFloor {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Considered++
		s.unloadOne(c.Key, res, now)
	}

	s.logger.Info("emergency pass completed",
		"compressed", res.Compressed,
		"unloaded", res.Unloaded,
		"refused", res.Refused,
		"freed_bytes", res.FreedBytes,
		"records", s.store.Len(),
	)
	return nil
}

// deferKey records a refusal and returns the backoff delay.
func (s *Scheduler) deferKey(key model.ChunkKey, now time.Time) time.Duration {
	base := s.Config().UnloadInterval
	limit := base * maxBackoffFactor

	s.backoffMu.Lock()
	defer s.backoffMu.Unlock()

	b := s.backoff[key]
	b.attempts++
	d := base
	for i := 1; i < b.attempts && d < limit; i++ {
		d *= 2
	}
	d = min(d, limit)
	b.until = now.Add(d).UnixNano()
	s.backoff[key] = b
	return d
}

func (s *Scheduler) inBackoff(key model.ChunkKey, now time.Time) bool {
	s.backoffMu.Lock()
	defer s.backoffMu.Unlock()
	b, ok := s.backoff[key]
	return ok && now.UnixNano() < b.until
}

func (s *Scheduler) clearBackoff(key model.ChunkKey) {
	s.backoffMu.Lock()
	delete(s.backoff, key)
	s.backoffMu.Unlock()
}

// pruneBackoff drops backoff state for keys that are no longer tracked.
func (s *Scheduler) pruneBackoff() {
	s.backoffMu.Lock()
	defer s.backoffMu.Unlock()
	for key := range s.backoff {
		if _, ok := s.tracker.Get(key); !ok {
			delete(s.backoff, key)
		}
	}
}

// BackoffLen returns the number of keys with refusal backoff state.
func (s *Scheduler) BackoffLen() int {
	s.backoffMu.Lock()
	defer s.backoffMu.Unlock()
	return len(s.backoff)
}
