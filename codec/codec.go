// Package codec implements the compression codecs used for the compressed chunk tier.
//
// Every codec produces a self-describing frame:
//
//	magic(2) | algorithm(1) | flags(1) | originalSize uint32 | crc32c uint32 | body
//
// The frame is held in memory only; it is never a persistence format.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/chunkcache/internal/hash"
)

// ErrCorrupt is matched (via errors.Is) by every decompression failure.
var ErrCorrupt = errors.New("corrupt compressed stream")

// ErrTooLarge is returned by Compress when the input does not fit in a frame.
var ErrTooLarge = errors.New("payload exceeds maximum frame size")

// MaxFrameSize is the largest original payload a frame can describe.
const MaxFrameSize = 1 << 30

// Codec compresses and decompresses chunk payloads.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Compress encodes src at the given level. Levels outside Levels() are clamped.
	// The result is a new buffer; src is never retained.
	Compress(src []byte, level int) ([]byte, error)
	// Decompress decodes a frame produced by Compress.
	// It returns a *Error on any malformed, truncated or mismatched input.
	Decompress(frame []byte) ([]byte, error)
	// Levels returns the inclusive range of valid compression levels.
	Levels() (min, max int)
	// Name returns the stable codec name.
	Name() string
}

// Error describes a decompression failure.
type Error struct {
	Codec  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec %s: %s: %v", e.Codec, e.Reason, e.Err)
	}
	return fmt.Sprintf("codec %s: %s", e.Codec, e.Reason)
}

// Is reports whether target is ErrCorrupt.
func (e *Error) Is(target error) bool { return target == ErrCorrupt }

// Unwrap returns the underlying decoder error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Default is the codec used when none is configured.
var Default Codec = NewZstd()

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "", "zstd":
		return Default, true
	case "lz4":
		return NewLZ4(), true
	default:
		return nil, false
	}
}

// ClampLevel clamps level into the codec's valid range.
func ClampLevel(c Codec, level int) int {
	lo, hi := c.Levels()
	if level < lo {
		return lo
	}
	if level > hi {
		return hi
	}
	return level
}

type algorithm uint8

const (
	algZstd algorithm = 1
	algLZ4  algorithm = 2
)

const (
	magic0 = 'C'
	magic1 = 'K'

	flagStored = 1 << 0

	headerSize = 12
)

// encodeFrame wraps body in a frame header. If body is nil the input is stored verbatim.
func encodeFrame(alg algorithm, src, body []byte) []byte {
	flags := byte(0)
	if body == nil {
		flags |= flagStored
		body = src
	}

	out := make([]byte, headerSize+len(body))
	out[0] = magic0
	out[1] = magic1
	out[2] = byte(alg)
	out[3] = flags
	binary.LittleEndian.PutUint32(out[4:], uint32(len(src))) //nolint:gosec // bounded by MaxFrameSize
	binary.LittleEndian.PutUint32(out[8:], hash.CRC32C(src))
	copy(out[headerSize:], body)
	return out
}

type frameHeader struct {
	stored   bool
	size     int
	checksum uint32
	body     []byte
}

func decodeFrame(name string, alg algorithm, frame []byte) (frameHeader, error) {
	if len(frame) < headerSize {
		return frameHeader{}, &Error{Codec: name, Reason: "frame shorter than header"}
	}
	if frame[0] != magic0 || frame[1] != magic1 {
		return frameHeader{}, &Error{Codec: name, Reason: "bad magic"}
	}
	if algorithm(frame[2]) != alg {
		return frameHeader{}, &Error{Codec: name, Reason: fmt.Sprintf("algorithm mismatch (frame=%d)", frame[2])}
	}

	size := binary.LittleEndian.Uint32(frame[4:])
	if size > MaxFrameSize {
		return frameHeader{}, &Error{Codec: name, Reason: fmt.Sprintf("declared size %d exceeds limit", size)}
	}

	h := frameHeader{
		stored:   frame[3]&flagStored != 0,
		size:     int(size),
		checksum: binary.LittleEndian.Uint32(frame[8:]),
		body:     frame[headerSize:],
	}
	if h.stored && len(h.body) != h.size {
		return frameHeader{}, &Error{Codec: name, Reason: "stored body length mismatch"}
	}
	return h, nil
}

func verify(name string, h frameHeader, out []byte) ([]byte, error) {
	if len(out) != h.size {
		return nil, &Error{Codec: name, Reason: fmt.Sprintf("decoded %d bytes, want %d", len(out), h.size)}
	}
	if hash.CRC32C(out) != h.checksum {
		return nil, &Error{Codec: name, Reason: "checksum mismatch"}
	}
	return out, nil
}

func checkSize(src []byte) error {
	if uint64(len(src)) > math.MaxUint32 || len(src) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(src))
	}
	return nil
}
