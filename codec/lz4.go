package codec

import (
	"github.com/pierrec/lz4/v4"
)

// hcLevels maps levels 1..9 onto the lz4 high-compression depths.
var hcLevels = [...]lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// LZ4 is an lz4 block codec. Level 0 uses the fast compressor; 1..9 use the
// high-compression compressor with increasing search depth.
type LZ4 struct{}

// NewLZ4 creates an lz4 codec.
func NewLZ4() *LZ4 { return &LZ4{} }

// Name returns "lz4".
func (*LZ4) Name() string { return "lz4" }

// Levels returns 0..9.
func (*LZ4) Levels() (int, int) { return 0, len(hcLevels) }

// Compress implements Codec.
func (l *LZ4) Compress(src []byte, level int) ([]byte, error) {
	if err := checkSize(src); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return encodeFrame(algLZ4, src, nil), nil
	}

	dst := make([]byte, lz4.CompressBlockBound(len(src)))

	var (
		n   int
		err error
	)
	if level = ClampLevel(l, level); level == 0 {
		n, err = lz4.CompressBlock(src, dst, nil)
	} else {
		n, err = lz4.CompressBlockHC(src, dst, hcLevels[level-1], nil, nil)
	}
	if err != nil {
		return nil, err
	}

	// n == 0 means incompressible.
	var body []byte
	if n > 0 && n < len(src) {
		body = dst[:n]
	}
	return encodeFrame(algLZ4, src, body), nil
}

// Decompress implements Codec.
func (l *LZ4) Decompress(frame []byte) ([]byte, error) {
	h, err := decodeFrame(l.Name(), algLZ4, frame)
	if err != nil {
		return nil, err
	}

	out := make([]byte, h.size)
	if h.stored {
		copy(out, h.body)
		return verify(l.Name(), h, out)
	}

	n, err := lz4.UncompressBlock(h.body, out)
	if err != nil {
		return nil, &Error{Codec: l.Name(), Reason: "decode", Err: err}
	}
	return verify(l.Name(), h, out[:n])
}
