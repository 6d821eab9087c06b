// Package hash provides the hashing primitives used across chunkcache.
//
// # CRC32-Castagnoli (CRC32C)
//
// Compressed chunk frames carry a CRC32C of the original payload. Decompression
// verifies it so a corrupted in-memory frame surfaces as a codec error instead of
// handing garbage back to the host.
//
//	checksum := hash.CRC32C(payload)
//
// # Key hashing
//
// Shard selection for the tier store and the access tracker uses maphash over the
// comparable ChunkKey:
//
//	idx := hash.Shard(seed, key, 64)
package hash
