package cache

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/chunkcache/model"
)

// record holds the resident payload of one key.
//
// raw and compressed are never both set. Buffers are never mutated in place:
// replacing a tier assigns a new slice, so a slice read under mu stays valid
// after mu is released.
type record struct {
	mu         sync.Mutex
	raw        []byte
	compressed []byte
	origSize   int
	gen        uint64
	removed    bool

	// compressing is the in-progress marker for Store.CompressChunk.
	compressing atomic.Bool
	// skipAt is the access count at which compression last failed to shrink the
	// payload. 0 means no skip.
	skipAt atomic.Uint64
}

func (r *record) tier() model.Tier {
	switch {
	case r.raw != nil:
		return model.TierRaw
	case r.compressed != nil:
		return model.TierCompressed
	default:
		return model.TierAbsent
	}
}

// resident returns the bytes held by the record. Callers hold mu.
func (r *record) resident() int64 {
	return int64(len(r.raw) + len(r.compressed))
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
