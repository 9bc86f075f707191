// Package compression wraps zstd for cache payloads.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// payloads below this size are stored as-is
const minCompressSize = 256

type Level int

const (
	Fastest Level = 1
	Default Level = 2
	Better  Level = 3
)

// Compressor is safe for concurrent use.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCompressor(level Level) (*Compressor, error) {
	encoderLevel := zstd.SpeedDefault
	switch level {
	case Fastest:
		encoderLevel = zstd.SpeedFastest
	case Better:
		encoderLevel = zstd.SpeedBetterCompression
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Compressor{encoder: encoder, decoder: decoder}, nil
}

// Compress returns the zstd frame for data and true, or data itself and
// false when compression would not make it smaller.
func (c *Compressor) Compress(data []byte) ([]byte, bool) {
	if len(data) < minCompressSize {
		return data, false
	}
	out := c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(out) >= len(data) {
		return data, false
	}
	return out, true
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *Compressor) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return nil
}
