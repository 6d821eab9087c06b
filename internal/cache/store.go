package cache

import (
	"context"
	"errors"
	"hash/maphash"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/chunkcache/codec"
	"github.com/hupe1980/chunkcache/internal/hash"
	"github.com/hupe1980/chunkcache/internal/resource"
	"github.com/hupe1980/chunkcache/internal/tracker"
	"github.com/hupe1980/chunkcache/model"
)

const numShards = 64

var errGone = errors.New("record gone")

type shard struct {
	mu      sync.RWMutex
	records map[model.ChunkKey]*record
}

// Options configures a Store.
type Options struct {
	Codec codec.Codec
	Level int
	// ThresholdBytes is the minimum payload size considered for compression.
	ThresholdBytes int
	Resources      *resource.Controller
	Logger         *slog.Logger
	Observer       Observer
}

// Store is the tier manager: a 64-way sharded map from chunk key to its resident
// payload, either raw or compressed. Access bookkeeping lives in the tracker the
// store is bound to.
type Store struct {
	seed    maphash.Seed
	shards  [numShards]shard
	codec   codec.Codec
	tracker *tracker.Tracker
	rc      *resource.Controller
	logger  *slog.Logger
	obs     Observer
	flight  singleflight.Group

	level     atomic.Int64
	threshold atomic.Int64

	records         atomic.Int64
	rawCount        atomic.Int64
	compressedCount atomic.Int64
	freed           atomic.Int64
	compressedTotal atomic.Int64
	originalTotal   atomic.Int64
	unloaded        atomic.Int64
	refused         atomic.Int64
	hits            atomic.Int64
	misses          atomic.Int64
	codecErrors     atomic.Int64
}

// NewStore creates a store bound to t.
func NewStore(t *tracker.Tracker, opts Options) *Store {
	if t == nil {
		t = tracker.New(nil)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}

	s := &Store{
		seed:    maphash.MakeSeed(),
		codec:   opts.Codec,
		tracker: t,
		rc:      opts.Resources,
		logger:  opts.Logger,
		obs:     opts.Observer,
	}
	for i := range s.shards {
		s.shards[i].records = make(map[model.ChunkKey]*record)
	}
	s.SetLevel(opts.Level)
	s.SetThreshold(opts.ThresholdBytes)
	return s
}

// Tracker returns the access tracker the store is bound to.
func (s *Store) Tracker() *tracker.Tracker { return s.tracker }

// Codec returns the store's codec.
func (s *Store) Codec() codec.Codec { return s.codec }

// SetLevel sets the compression level used from the next compression on.
func (s *Store) SetLevel(level int) {
	s.level.Store(int64(codec.ClampLevel(s.codec, level)))
}

// Level returns the current compression level.
func (s *Store) Level() int { return int(s.level.Load()) }

// SetThreshold sets the minimum payload size considered for compression.
func (s *Store) SetThreshold(n int) {
	if n < 0 {
		n = 0
	}
	s.threshold.Store(int64(n))
}

// Threshold returns the minimum payload size considered for compression.
func (s *Store) Threshold() int { return int(s.threshold.Load()) }

func (s *Store) shard(key model.ChunkKey) *shard {
	return &s.shards[hash.Shard(s.seed, key, numShards)]
}

func (s *Store) lookup(key model.ChunkKey) *record {
	sh := s.shard(key)
	sh.mu.RLock()
	rec := sh.records[key]
	sh.mu.RUnlock()
	return rec
}

func (s *Store) getOrCreate(key model.ChunkKey) *record {
	sh := s.shard(key)
	sh.mu.RLock()
	rec, ok := sh.records[key]
	sh.mu.RUnlock()
	if ok {
		return rec
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if rec, ok = sh.records[key]; !ok {
		rec = &record{}
		sh.records[key] = rec
		s.records.Add(1)
	}
	return rec
}

// RegisterData stores a private copy of data as the raw payload of key, replacing
// any prior payload in either tier, and records an access at now.
func (s *Store) RegisterData(key model.ChunkKey, data []byte, now time.Time) {
	buf := clone(data)

	for {
		rec := s.getOrCreate(key)
		rec.mu.Lock()
		if rec.removed {
			// Lost a race with an unload; the next lookup creates a fresh record.
			rec.mu.Unlock()
			continue
		}
		s.dropPayload(rec)
		rec.raw = buf
		rec.origSize = len(buf)
		rec.gen++
		rec.skipAt.Store(0)
		s.rawCount.Add(1)
		s.rc.Charge(int64(len(buf)))
		// Touch under rec.mu so an unload cannot forget the key in between.
		s.tracker.Touch(key, now)
		rec.mu.Unlock()
		break
	}
}

// dropPayload releases whatever rec holds. Callers hold rec.mu.
func (s *Store) dropPayload(rec *record) {
	switch rec.tier() {
	case model.TierRaw:
		s.rawCount.Add(-1)
	case model.TierCompressed:
		s.compressedCount.Add(-1)
	}
	s.rc.Release(rec.resident())
	rec.raw, rec.compressed = nil, nil
}

// GetData returns a private copy of the raw payload of key, promoting a compressed
// payload back to raw first. Concurrent promotions of the same key decompress
// once. A hit records an access at now.
func (s *Store) GetData(key model.ChunkKey, now time.Time) ([]byte, bool) {
	rec := s.lookup(key)
	if rec == nil {
		s.misses.Add(1)
		return nil, false
	}

	rec.mu.Lock()
	switch {
	case rec.removed || rec.tier() == model.TierAbsent:
		rec.mu.Unlock()
		s.misses.Add(1)
		return nil, false
	case rec.raw != nil:
		out := clone(rec.raw)
		s.hit(key, now)
		rec.mu.Unlock()
		return out, true
	}
	rec.mu.Unlock()

	v, err, _ := s.flight.Do(key.String(), func() (any, error) {
		return s.promote(key, rec)
	})
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}

	// The shared buffer is never written after publication.
	out := clone(v.([]byte))
	s.hit(key, now)
	return out, true
}

func (s *Store) hit(key model.ChunkKey, now time.Time) {
	s.hits.Add(1)
	s.tracker.Touch(key, now)
}

// promote decompresses rec in place.
func (s *Store) promote(key model.ChunkKey, rec *record) ([]byte, error) {
	rec.mu.Lock()

	if rec.removed {
		rec.mu.Unlock()
		return nil, errGone
	}
	if rec.raw != nil {
		raw := rec.raw
		rec.mu.Unlock()
		return raw, nil
	}
	if rec.compressed == nil {
		rec.mu.Unlock()
		return nil, errGone
	}

	start := time.Now()
	raw, err := s.codec.Decompress(rec.compressed)
	if err == nil && len(raw) != rec.origSize {
		err = &codec.Error{Codec: s.codec.Name(), Reason: "original size mismatch", Err: codec.ErrCorrupt}
	}
	s.obs.RecordDecompression(len(raw), time.Since(start), err)

	if err != nil {
		// A corrupt frame is unrecoverable: drop the key entirely.
		s.codecErrors.Add(1)
		s.dropPayload(rec)
		rec.removed = true
		rec.gen++
		s.evict(key, rec)
		rec.mu.Unlock()

		s.logger.Warn("discarded corrupt compressed chunk", "key", key.String(), "error", err)
		return nil, err
	}

	s.rc.Release(int64(len(rec.compressed)))
	s.rc.Charge(int64(len(raw)))
	rec.compressed = nil
	rec.raw = raw
	rec.gen++
	s.compressedCount.Add(-1)
	s.rawCount.Add(1)
	rec.mu.Unlock()

	return raw, nil
}

// evict removes rec from its shard and forgets the key's bookkeeping if rec is
// still the record for key. Callers hold rec.mu.
func (s *Store) evict(key model.ChunkKey, rec *record) {
	sh := s.shard(key)
	sh.mu.Lock()
	if sh.records[key] == rec {
		delete(sh.records, key)
		s.records.Add(-1)
		s.tracker.Forget(key)
	}
	sh.mu.Unlock()
}

// CompressChunk replaces the raw payload of key with its compressed form.
//
// The codec runs outside the record lock. The result is published only if the
// record was neither replaced nor removed meanwhile; otherwise it is discarded
// and Stale is returned. A payload that does not shrink stays raw and is skipped
// until the key's next access.
func (s *Store) CompressChunk(key model.ChunkKey) (CompressResult, error) {
	rec := s.lookup(key)
	if rec == nil {
		return CompressResult{Outcome: NotResident}, nil
	}
	if !rec.compressing.CompareAndSwap(false, true) {
		return CompressResult{Outcome: InFlight}, nil
	}
	defer rec.compressing.Store(false)

	count := s.accessCount(key)

	rec.mu.Lock()
	if rec.removed || rec.tier() == model.TierAbsent {
		rec.mu.Unlock()
		return CompressResult{Outcome: NotResident}, nil
	}
	if rec.raw == nil {
		rec.mu.Unlock()
		return CompressResult{Outcome: AlreadyCompressed}, nil
	}
	raw, gen := rec.raw, rec.gen
	rec.mu.Unlock()

	res := CompressResult{RawSize: len(raw)}
	if int64(len(raw)) < s.threshold.Load() {
		res.Outcome = BelowThreshold
		return res, nil
	}
	if skip := rec.skipAt.Load(); skip != 0 && skip == count {
		res.Outcome = SkipMarked
		return res, nil
	}

	start := time.Now()
	frame, err := s.codec.Compress(raw, s.Level())
	s.obs.RecordCompression(len(raw), len(frame), time.Since(start), err)
	if err != nil {
		s.codecErrors.Add(1)
		return res, err
	}
	res.CompressedSize = len(frame)

	if len(frame) >= len(raw) {
		rec.skipAt.Store(count)
		res.Outcome = NotSmaller
		return res, nil
	}

	rec.mu.Lock()
	if rec.removed || rec.gen != gen || rec.raw == nil {
		rec.mu.Unlock()
		res.Outcome = Stale
		return res, nil
	}
	rec.raw = nil
	rec.compressed = frame
	rec.gen++
	s.rc.Release(int64(len(raw)))
	s.rc.Charge(int64(len(frame)))
	rec.mu.Unlock()

	s.rawCount.Add(-1)
	s.compressedCount.Add(1)
	s.freed.Add(int64(len(raw) - len(frame)))
	s.originalTotal.Add(int64(len(raw)))
	s.compressedTotal.Add(int64(len(frame)))

	res.Outcome = Compressed
	return res, nil
}

func (s *Store) accessCount(key model.ChunkKey) uint64 {
	snap, _ := s.tracker.Get(key)
	return snap.Count
}

// UnloadChunk removes key from every tier and drops its bookkeeping. allow is
// consulted first; a nil allow permits everything. When wait is false and the
// record is locked by a concurrent operation, ErrBusy is returned and nothing
// changes.
//
// It returns the bytes freed and whether anything was removed.
func (s *Store) UnloadChunk(key model.ChunkKey, allow func(model.ChunkKey) bool, wait bool) (int64, bool, error) {
	if allow != nil && !allow(key) {
		s.refused.Add(1)
		s.obs.RecordUnload(0, true)
		return 0, false, ErrUnloadRefused
	}

	freed, removed, err := s.remove(key, wait)
	if err != nil {
		return 0, false, err
	}
	if removed {
		s.unloaded.Add(1)
		s.freed.Add(freed)
		s.obs.RecordUnload(freed, false)
	}
	return freed, removed, nil
}

// remove drops the record and the tracker entry of key.
//
// Lock order is rec.mu, then the shard lock, then the tracker. The record lock
// is taken before the shard lock so waiting on a busy record never stalls the
// rest of the shard. The tracker entry is forgotten under the shard lock, so a
// concurrent RegisterData either lands before the removal or creates a fresh
// record that keeps its own bookkeeping.
func (s *Store) remove(key model.ChunkKey, wait bool) (int64, bool, error) {
	sh := s.shard(key)
	for {
		rec := s.lookup(key)
		if rec != nil {
			if wait {
				rec.mu.Lock()
			} else if !rec.mu.TryLock() {
				return 0, false, ErrBusy
			}
		}

		sh.mu.Lock()
		if sh.records[key] != rec {
			// Replaced or created meanwhile.
			sh.mu.Unlock()
			if rec != nil {
				rec.mu.Unlock()
			}
			continue
		}

		var freed int64
		if rec != nil {
			delete(sh.records, key)
			s.records.Add(-1)
			freed = rec.resident()
			s.dropPayload(rec)
			rec.removed = true
			rec.gen++
		}
		_, tracked := s.tracker.Get(key)
		s.tracker.Forget(key)
		sh.mu.Unlock()
		if rec != nil {
			rec.mu.Unlock()
		}
		return freed, rec != nil || tracked, nil
	}
}

// Inspect returns the current state of key.
func (s *Store) Inspect(key model.ChunkKey) (Info, bool) {
	info := Info{Key: key}
	snap, tracked := s.tracker.Get(key)
	info.LastAccess = snap.LastAccess
	info.AccessCount = snap.Count
	info.Active = snap.Active

	rec := s.lookup(key)
	if rec == nil {
		return info, tracked
	}
	rec.mu.Lock()
	s.fill(&info, rec, snap.Count)
	rec.mu.Unlock()
	return info, true
}

// fill copies rec's state into info. Callers hold rec.mu.
func (s *Store) fill(info *Info, rec *record, count uint64) {
	info.Tier = rec.tier()
	info.RawSize = len(rec.raw)
	info.CompressedSize = len(rec.compressed)
	info.OriginalSize = rec.origSize
	info.Generation = rec.gen
	info.Compressing = rec.compressing.Load()
	skip := rec.skipAt.Load()
	info.SkipCompression = skip != 0 && skip == count
}

// Range calls fn with the state of every record until fn returns false.
// Records locked by a concurrent operation are skipped. fn must not call back
// into the store.
func (s *Store) Range(fn func(Info) bool) {
	type item struct {
		info Info
		skip uint64
	}

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()
		items := make([]item, 0, len(sh.records))
		for key, rec := range sh.records {
			if !rec.mu.TryLock() {
				continue
			}
			it := item{info: Info{Key: key}, skip: rec.skipAt.Load()}
			s.fill(&it.info, rec, 0)
			rec.mu.Unlock()
			items = append(items, it)
		}
		sh.mu.RUnlock()

		for _, it := range items {
			snap, _ := s.tracker.Get(it.info.Key)
			it.info.LastAccess = snap.LastAccess
			it.info.AccessCount = snap.Count
			it.info.Active = snap.Active
			it.info.SkipCompression = it.skip != 0 && it.skip == snap.Count
			if !fn(it.info) {
				return
			}
		}
	}
}

// Len returns the number of records.
func (s *Store) Len() int { return int(s.records.Load()) }

// Counters returns a snapshot of the store counters.
func (s *Store) Counters() Counters {
	return Counters{
		Records:          s.records.Load(),
		RawCount:         s.rawCount.Load(),
		CompressedCount:  s.compressedCount.Load(),
		ResidentBytes:    s.rc.Resident(),
		MemoryFreedBytes: s.freed.Load(),
		CompressedTotal:  s.compressedTotal.Load(),
		OriginalTotal:    s.originalTotal.Load(),
		UnloadedCount:    s.unloaded.Load(),
		UnloadRefused:    s.refused.Load(),
		Hits:             s.hits.Load(),
		Misses:           s.misses.Load(),
		CodecErrors:      s.codecErrors.Load(),
	}
}

// Clear drops every record and all tracker bookkeeping.
func (s *Store) Clear(ctx context.Context) error {
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh := &s.shards[i]
		sh.mu.RLock()
		keys := make([]model.ChunkKey, 0, len(sh.records))
		for key := range sh.records {
			keys = append(keys, key)
		}
		sh.mu.RUnlock()

		for _, key := range keys {
			if _, _, err := s.remove(key, true); err != nil {
				return err
			}
		}
	}
	return nil
}
