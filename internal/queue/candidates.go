package queue

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/chunkcache/model"
)

// Candidates is a FIFO of keys provisionally marked for unload, deduplicated by key.
// It is safe for concurrent use.
type Candidates struct {
	mu    sync.Mutex
	order *list.List
	index map[model.ChunkKey]*list.Element
	size  atomic.Int64
}

// NewCandidates creates an empty candidate queue.
func NewCandidates() *Candidates {
	return &Candidates{
		order: list.New(),
		index: make(map[model.ChunkKey]*list.Element),
	}
}

// Push appends key unless it is already queued. It reports whether key was added.
func (q *Candidates) Push(key model.ChunkKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[key]; ok {
		return false
	}
	q.index[key] = q.order.PushBack(key)
	q.size.Add(1)
	return true
}

// Remove drops key from the queue. It reports whether key was queued.
func (q *Candidates) Remove(key model.ChunkKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[key]
	if !ok {
		return false
	}
	q.order.Remove(e)
	delete(q.index, key)
	q.size.Add(-1)
	return true
}

// Pop removes and returns the oldest queued key.
func (q *Candidates) Pop() (model.ChunkKey, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.order.Front()
	if e == nil {
		return model.ChunkKey{}, false
	}
	key := q.order.Remove(e).(model.ChunkKey)
	delete(q.index, key)
	q.size.Add(-1)
	return key, true
}

// Contains reports whether key is queued.
func (q *Candidates) Contains(key model.ChunkKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[key]
	return ok
}

// Len returns the number of queued keys without taking the lock.
func (q *Candidates) Len() int {
	return int(q.size.Load())
}
