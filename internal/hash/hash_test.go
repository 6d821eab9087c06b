package hash

import (
	"hash/maphash"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/chunkcache/model"
)

func TestCRC32C(t *testing.T) {
	// Known vector for CRC32C("123456789").
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
	assert.Equal(t, uint32(0), CRC32C(nil))
}

func TestShard(t *testing.T) {
	seed := maphash.MakeSeed()

	k := model.Key("overworld", 3, -7)
	first := Shard(seed, k, 64)
	for range 10 {
		assert.Equal(t, first, Shard(seed, k, 64), "shard must be deterministic for a seed")
	}

	seen := make(map[int]struct{})
	for x := range int32(32) {
		for z := range int32(32) {
			idx := Shard(seed, model.Key("overworld", x, z), 64)
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, 64)
			seen[idx] = struct{}{}
		}
	}
	assert.Greater(t, len(seen), 48, "1024 keys should spread over most shards")
}
