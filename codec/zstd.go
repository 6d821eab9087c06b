package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd is a zstd codec. Levels follow the zstd command line scale (1..22) and are
// mapped onto the encoder speed presets.
type Zstd struct {
	encoders [zstd.SpeedBestCompression + 1]struct {
		once sync.Once
		enc  *zstd.Encoder
		err  error
	}

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

// NewZstd creates a zstd codec. Encoders and the decoder are created lazily.
func NewZstd() *Zstd {
	return &Zstd{}
}

// Name returns "zstd".
func (*Zstd) Name() string { return "zstd" }

// Levels returns 1..22.
func (*Zstd) Levels() (int, int) { return 1, 22 }

// Compress implements Codec.
func (z *Zstd) Compress(src []byte, level int) ([]byte, error) {
	if err := checkSize(src); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return encodeFrame(algZstd, src, nil), nil
	}

	enc, err := z.encoder(zstd.EncoderLevelFromZstd(ClampLevel(z, level)))
	if err != nil {
		return nil, err
	}

	body := enc.EncodeAll(src, make([]byte, 0, len(src)/2))
	if len(body) >= len(src) {
		body = nil
	}
	return encodeFrame(algZstd, src, body), nil
}

// Decompress implements Codec.
func (z *Zstd) Decompress(frame []byte) ([]byte, error) {
	h, err := decodeFrame(z.Name(), algZstd, frame)
	if err != nil {
		return nil, err
	}
	if h.stored {
		out := make([]byte, h.size)
		copy(out, h.body)
		return verify(z.Name(), h, out)
	}

	dec, err := z.decoder()
	if err != nil {
		return nil, err
	}

	out, err := dec.DecodeAll(h.body, make([]byte, 0, h.size))
	if err != nil {
		return nil, &Error{Codec: z.Name(), Reason: "decode", Err: err}
	}
	return verify(z.Name(), h, out)
}

func (z *Zstd) encoder(level zstd.EncoderLevel) (*zstd.Encoder, error) {
	slot := &z.encoders[level]
	slot.once.Do(func() {
		// A single-goroutine encoder keeps EncodeAll output deterministic.
		slot.enc, slot.err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(level),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return slot.enc, slot.err
}

func (z *Zstd) decoder() (*zstd.Decoder, error) {
	z.decOnce.Do(func() {
		z.dec, z.decErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(MaxFrameSize),
		)
	})
	return z.dec, z.decErr
}
