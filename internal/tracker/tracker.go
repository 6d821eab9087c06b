// Package tracker records per-chunk access times, access counts and the active set.
//
// The tracker is on the host's hot path. Each shard is guarded by an RWMutex that
// is only write-locked to insert or forget a key; steady-state touches take the
// read lock and update the entry with atomics.
package tracker

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chunkcache/internal/hash"
	"github.com/hupe1980/chunkcache/internal/queue"
	"github.com/hupe1980/chunkcache/model"
)

const numShards = 64

// Entry is the access bookkeeping for one key.
type Entry struct {
	lastAccess atomic.Int64
	count      atomic.Uint64
	active     atomic.Bool
	queued     atomic.Bool
}

// LastAccess returns the last access time in unix nanoseconds.
func (e *Entry) LastAccess() int64 { return e.lastAccess.Load() }

// Count returns the number of recorded accesses.
func (e *Entry) Count() uint64 { return e.count.Load() }

// Active reports whether the key is in the active set.
func (e *Entry) Active() bool { return e.active.Load() }

// Queued reports whether the key is in the unload candidate queue.
func (e *Entry) Queued() bool { return e.queued.Load() }

type shard struct {
	mu      sync.RWMutex
	entries map[model.ChunkKey]*Entry
}

// Tracker is a sharded access tracker.
type Tracker struct {
	seed   maphash.Seed
	shards [numShards]shard
	queue  *queue.Candidates

	active atomic.Int64
	size   atomic.Int64
}

// New creates a tracker. Touches remove keys from q.
func New(q *queue.Candidates) *Tracker {
	if q == nil {
		q = queue.NewCandidates()
	}
	t := &Tracker{
		seed:  maphash.MakeSeed(),
		queue: q,
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[model.ChunkKey]*Entry)
	}
	return t
}

// Queue returns the candidate queue the tracker keeps in sync.
func (t *Tracker) Queue() *queue.Candidates { return t.queue }

func (t *Tracker) shard(key model.ChunkKey) *shard {
	return &t.shards[hash.Shard(t.seed, key, numShards)]
}

// Touch records an access at now: it updates the last access time, increments the
// count, marks the key active and pulls it out of the candidate queue.
// It returns the access count after the increment.
func (t *Tracker) Touch(key model.ChunkKey, now time.Time) uint64 {
	s := t.shard(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.RUnlock()
		s.mu.Lock()
		if e, ok = s.entries[key]; !ok {
			e = &Entry{}
			s.entries[key] = e
			t.size.Add(1)
		}
		n := t.touch(key, e, now)
		s.mu.Unlock()
		return n
	}
	n := t.touch(key, e, now)
	s.mu.RUnlock()
	return n
}

func (t *Tracker) touch(key model.ChunkKey, e *Entry, now time.Time) uint64 {
	e.lastAccess.Store(now.UnixNano())
	n := e.count.Add(1)
	if !e.active.Load() && e.active.CompareAndSwap(false, true) {
		t.active.Add(1)
	}
	if e.queued.Load() && e.queued.CompareAndSwap(true, false) {
		t.queue.Remove(key)
	}
	return n
}

// Snapshot returns a copy of the bookkeeping for key.
type Snapshot struct {
	LastAccess int64
	Count      uint64
	Active     bool
	Queued     bool
}

// Get returns the bookkeeping for key.
func (t *Tracker) Get(key model.ChunkKey) (Snapshot, bool) {
	s := t.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return snapshot(e), true
}

func snapshot(e *Entry) Snapshot {
	return Snapshot{
		LastAccess: e.lastAccess.Load(),
		Count:      e.count.Load(),
		Active:     e.active.Load(),
		Queued:     e.queued.Load(),
	}
}

// IsIdleSince reports whether now - lastAccess(key) > threshold.
// Unknown keys are idle.
func (t *Tracker) IsIdleSince(key model.ChunkKey, threshold time.Duration, now time.Time) bool {
	snap, ok := t.Get(key)
	if !ok {
		return true
	}
	return now.UnixNano()-snap.LastAccess > int64(threshold)
}

// SweepActive removes keys idle for at least threshold from the active set and
// returns how many were demoted.
func (t *Tracker) SweepActive(threshold time.Duration, now time.Time) int {
	cutoff := now.UnixNano() - int64(threshold)
	demoted := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for _, e := range s.entries {
			if e.lastAccess.Load() <= cutoff && e.active.CompareAndSwap(true, false) {
				t.active.Add(-1)
				demoted++
			}
		}
		s.mu.RUnlock()
	}
	return demoted
}

// Range calls fn for every tracked key until fn returns false.
// fn runs under a shard read lock and must not call back into the tracker's
// write paths (Touch on a new key, Forget).
func (t *Tracker) Range(fn func(key model.ChunkKey, snap Snapshot) bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for k, e := range s.entries {
			if !fn(k, snapshot(e)) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Enqueue marks key as an unload candidate and pushes it onto the queue.
// It reports whether the key was newly queued.
func (t *Tracker) Enqueue(key model.ChunkKey) bool {
	s := t.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if !e.queued.CompareAndSwap(false, true) {
		return false
	}
	return t.queue.Push(key)
}

// Dequeue pops the oldest candidate and clears its queued flag.
func (t *Tracker) Dequeue() (model.ChunkKey, bool) {
	key, ok := t.queue.Pop()
	if !ok {
		return key, false
	}
	s := t.shard(key)
	s.mu.RLock()
	if e, ok := s.entries[key]; ok {
		e.queued.Store(false)
	}
	s.mu.RUnlock()
	return key, true
}

// Forget drops all bookkeeping for key.
func (t *Tracker) Forget(key model.ChunkKey) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	t.size.Add(-1)
	if e.active.Swap(false) {
		t.active.Add(-1)
	}
	if e.queued.Swap(false) {
		t.queue.Remove(key)
	}
}

// ActiveCount returns the size of the active set.
func (t *Tracker) ActiveCount() int { return int(t.active.Load()) }

// Len returns the number of tracked keys.
func (t *Tracker) Len() int { return int(t.size.Load()) }
