package hash

import (
	"hash/maphash"

	"github.com/hupe1980/chunkcache/model"
)

// Key hashes a chunk key with the given seed.
//
// The result is stable for the lifetime of the seed only; it is meant for shard
// selection, not for anything that outlives the process.
func Key(seed maphash.Seed, key model.ChunkKey) uint64 {
	return maphash.Comparable(seed, key)
}

// Shard maps a chunk key onto one of n shards. n must be a power of two.
func Shard(seed maphash.Seed, key model.ChunkKey, n int) int {
	return int(Key(seed, key) & uint64(n-1)) //nolint:gosec // n is a small power of two
}
