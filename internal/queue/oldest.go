// Package queue holds the ordering structures used by the eviction scheduler.
package queue

import (
	"strings"

	"github.com/hupe1980/chunkcache/model"
)

// Candidate is a chunk considered by a scheduler pass.
type Candidate struct {
	Key        model.ChunkKey
	LastAccess int64 // unix nanos
	Size       int
}

// older reports whether a should be processed before b:
// oldest access first, then the larger payload, then key order.
func older(a, b Candidate) bool {
	if a.LastAccess != b.LastAccess {
		return a.LastAccess < b.LastAccess
	}
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	if a.Key.World != b.Key.World {
		return strings.Compare(a.Key.World, b.Key.World) < 0
	}
	if a.Key.X != b.Key.X {
		return a.Key.X < b.Key.X
	}
	return a.Key.Z < b.Key.Z
}

// Oldest selects the n oldest candidates from a stream without sorting the stream.
//
// Internally it is a value-based max-heap keyed on age: the root is the youngest
// candidate kept so far, and is replaced whenever an older one arrives.
type Oldest struct {
	limit int
	items []Candidate
}

// NewOldest returns a selector keeping at most limit candidates.
// limit <= 0 keeps everything.
func NewOldest(limit int) *Oldest {
	capacity := limit
	if capacity <= 0 {
		capacity = 64
	}
	return &Oldest{
		limit: limit,
		items: make([]Candidate, 0, capacity),
	}
}

// Offer considers c for selection.
func (o *Oldest) Offer(c Candidate) {
	if o.limit <= 0 || len(o.items) < o.limit {
		o.items = append(o.items, c)
		o.siftUp(len(o.items) - 1)
		return
	}
	if older(c, o.items[0]) {
		o.items[0] = c
		o.siftDown(0)
	}
}

// Len returns the number of candidates currently held.
func (o *Oldest) Len() int { return len(o.items) }

// Drain returns the held candidates oldest first and resets the selector.
func (o *Oldest) Drain() []Candidate {
	n := len(o.items)
	out := make([]Candidate, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = o.items[0]
		last := o.items[len(o.items)-1]
		o.items[len(o.items)-1] = Candidate{}
		o.items = o.items[:len(o.items)-1]
		if len(o.items) > 0 {
			o.items[0] = last
			o.siftDown(0)
		}
	}
	return out
}

// less orders the heap so the youngest candidate is at the root.
func (o *Oldest) less(i, j int) bool {
	return older(o.items[j], o.items[i])
}

func (o *Oldest) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !o.less(i, p) {
			return
		}
		o.items[i], o.items[p] = o.items[p], o.items[i]
		i = p
	}
}

func (o *Oldest) siftDown(i int) {
	n := len(o.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		r := l + 1
		if r < n && o.less(r, l) {
			best = r
		}
		if !o.less(best, i) {
			return
		}
		o.items[i], o.items[best] = o.items[best], o.items[i]
		i = best
	}
}
