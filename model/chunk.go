package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidKey is returned when a chunk key string cannot be parsed.
var ErrInvalidKey = errors.New("invalid chunk key")

// ChunkKey identifies a chunk by world and chunk-space column coordinates.
//
// ChunkKey is comparable and is used directly as a map key.
type ChunkKey struct {
	World string
	X     int32
	Z     int32
}

// Key is shorthand for ChunkKey{World: world, X: x, Z: z}.
func Key(world string, x, z int32) ChunkKey {
	return ChunkKey{World: world, X: x, Z: z}
}

// String renders the key as "world:x:z".
func (k ChunkKey) String() string {
	var b strings.Builder
	b.Grow(len(k.World) + 24)
	b.WriteString(k.World)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(int64(k.X), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(int64(k.Z), 10))
	return b.String()
}

// Packed returns x and z packed into a single uint64 (x in the high word).
// The world is not part of the packed value.
func (k ChunkKey) Packed() uint64 {
	return uint64(uint32(k.X))<<32 | uint64(uint32(k.Z))
}

// Unpack reverses Packed.
func Unpack(p uint64) (x, z int32) {
	return int32(uint32(p >> 32)), int32(uint32(p))
}

// ParseChunkKey parses the "world:x:z" form produced by String.
// The world part may itself contain colons; the last two fields are the coordinates.
func ParseChunkKey(s string) (ChunkKey, error) {
	zi := strings.LastIndexByte(s, ':')
	if zi <= 0 {
		return ChunkKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	xi := strings.LastIndexByte(s[:zi], ':')
	if xi <= 0 {
		return ChunkKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	x, err := strconv.ParseInt(s[xi+1:zi], 10, 32)
	if err != nil {
		return ChunkKey{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	z, err := strconv.ParseInt(s[zi+1:], 10, 32)
	if err != nil {
		return ChunkKey{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}

	return ChunkKey{World: s[:xi], X: int32(x), Z: int32(z)}, nil
}

// Tier is the storage representation of a chunk payload.
type Tier uint8

const (
	// TierAbsent means no payload is resident.
	TierAbsent Tier = iota
	// TierRaw means the payload is stored uncompressed.
	TierRaw
	// TierCompressed means the payload is stored as a codec frame.
	TierCompressed
)

func (t Tier) String() string {
	switch t {
	case TierRaw:
		return "raw"
	case TierCompressed:
		return "compressed"
	default:
		return "absent"
	}
}
