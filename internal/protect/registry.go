// Package protect holds the built-in unload safety predicate: spawn-protected
// chunks and chunks with active holders (for example player occupancy).
package protect

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/chunkcache/model"
)

// Predicate decides whether a chunk may be unloaded.
type Predicate interface {
	IsSpawnProtected(key model.ChunkKey) bool
	HasActiveHolders(key model.ChunkKey) bool
}

// Allows reports whether p permits unloading key.
func Allows(p Predicate, key model.ChunkKey) bool {
	if p == nil {
		return true
	}
	return !p.IsSpawnProtected(key) && !p.HasActiveHolders(key)
}

// Registry is a Predicate backed by per-world roaring bitmaps of packed (x, z)
// coordinates and a holder count per key. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	spawn map[string]*roaring64.Bitmap

	holdersMu sync.RWMutex
	holders   map[model.ChunkKey]int32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		spawn:   make(map[string]*roaring64.Bitmap),
		holders: make(map[model.ChunkKey]int32),
	}
}

// Protect marks key as spawn-protected.
func (r *Registry) Protect(key model.ChunkKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.world(key.World).Add(key.Packed())
}

// Unprotect clears the spawn protection of key.
func (r *Registry) Unprotect(key model.ChunkKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.spawn[key.World]
	if !ok {
		return
	}
	bm.Remove(key.Packed())
	if bm.IsEmpty() {
		delete(r.spawn, key.World)
	}
}

// MaxRadius is the largest radius ProtectRadius accepts.
const MaxRadius = 4096

// ErrInvalidRadius is returned by ProtectRadius for a negative or oversized radius.
var ErrInvalidRadius = errors.New("invalid protection radius")

// ProtectRadius protects the square of chunks within radius of (cx, cz). The
// square is clipped to the int32 coordinate range.
func (r *Registry) ProtectRadius(world string, cx, cz, radius int32) error {
	if radius < 0 || radius > MaxRadius {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidRadius, radius, MaxRadius)
	}
	xlo, xhi := clip(int64(cx)-int64(radius)), clip(int64(cx)+int64(radius))
	zlo, zhi := clip(int64(cz)-int64(radius)), clip(int64(cz)+int64(radius))

	r.mu.Lock()
	defer r.mu.Unlock()

	bm := r.world(world)
	for x := xlo; x <= xhi; x++ {
		addRow(bm, int32(x), int32(zlo), int32(zhi)) //nolint:gosec // clipped to int32
	}
	return nil
}

func clip(v int64) int64 {
	return min(max(v, math.MinInt32), math.MaxInt32)
}

// addRow adds (x, z) for z in [lo, hi]. Packed z is the uint32 bit pattern, so a
// row crossing zero is split into two contiguous spans.
func addRow(bm *roaring64.Bitmap, x, lo, hi int32) {
	base := uint64(uint32(x)) << 32
	if lo < 0 && hi >= 0 {
		addSpan(bm, base|uint64(uint32(lo)), base|0xFFFFFFFF)
		addSpan(bm, base, base|uint64(uint32(hi)))
		return
	}
	addSpan(bm, base|uint64(uint32(lo)), base|uint64(uint32(hi)))
}

// addSpan adds the closed interval [first, last].
func addSpan(bm *roaring64.Bitmap, first, last uint64) {
	if last == math.MaxUint64 {
		bm.AddRange(first, last)
		bm.Add(last)
		return
	}
	bm.AddRange(first, last+1)
}

// ClearWorld removes all spawn protection for world.
func (r *Registry) ClearWorld(world string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.spawn, world)
}

// ProtectedCount returns the number of protected chunks in world.
func (r *Registry) ProtectedCount(world string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bm, ok := r.spawn[world]; ok {
		return bm.GetCardinality()
	}
	return 0
}

// IsSpawnProtected implements Predicate.
func (r *Registry) IsSpawnProtected(key model.ChunkKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bm, ok := r.spawn[key.World]
	return ok && bm.Contains(key.Packed())
}

// Acquire registers a holder of key and returns the new holder count.
func (r *Registry) Acquire(key model.ChunkKey) int32 {
	r.holdersMu.Lock()
	defer r.holdersMu.Unlock()
	r.holders[key]++
	return r.holders[key]
}

// Release drops a holder of key and returns the remaining count.
// Releasing a key without holders is a no-op.
func (r *Registry) Release(key model.ChunkKey) int32 {
	r.holdersMu.Lock()
	defer r.holdersMu.Unlock()

	n, ok := r.holders[key]
	if !ok {
		return 0
	}
	if n <= 1 {
		delete(r.holders, key)
		return 0
	}
	r.holders[key] = n - 1
	return n - 1
}

// HasActiveHolders implements Predicate.
func (r *Registry) HasActiveHolders(key model.ChunkKey) bool {
	r.holdersMu.RLock()
	defer r.holdersMu.RUnlock()
	return r.holders[key] > 0
}

func (r *Registry) world(name string) *roaring64.Bitmap {
	bm, ok := r.spawn[name]
	if !ok {
		bm = roaring64.New()
		r.spawn[name] = bm
	}
	return bm
}

// Combined is a Predicate that blocks unloading when any member blocks it.
type Combined []Predicate

// IsSpawnProtected implements Predicate.
func (c Combined) IsSpawnProtected(key model.ChunkKey) bool {
	for _, p := range c {
		if p != nil && p.IsSpawnProtected(key) {
			return true
		}
	}
	return false
}

// HasActiveHolders implements Predicate.
func (c Combined) HasActiveHolders(key model.ChunkKey) bool {
	for _, p := range c {
		if p != nil && p.HasActiveHolders(key) {
			return true
		}
	}
	return false
}
