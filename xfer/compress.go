// Package xfer is the streaming compression layer wrapped around the frame
// codec and its adaptive level controller. Each frame's payload is
// compressed independently with klauspost/compress/zstd's one-shot
// EncodeAll/DecodeAll, so a COMPRESSION_HINT can retarget the level at any
// frame boundary without tearing down a stateful stream.
package xfer

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/mag-/psync"
)

// Codec holds the zstd encoders (one per level seen so far, lazily built
// and reused; klauspost documents EncodeAll/DecodeAll as safe for
// concurrent use) and a single shared decoder.
type Codec struct {
	mu       sync.Mutex
	encoders map[int]*zstd.Encoder
	decoder  *zstd.Decoder
}

// NewCodec builds an empty Codec; encoders are created on first use per
// level so a session that never raises its level never pays for the
// levels it doesn't use.
func NewCodec() (*Codec, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, psync.NewError(psync.KindIO, "", err)
	}
	return &Codec{encoders: make(map[int]*zstd.Encoder), decoder: dec}, nil
}

// Compress compresses payload at the given psync level (1-19), mapped onto
// zstd's encoder-level scale via EncoderLevelFromZstd.
func (c *Codec) Compress(level int, payload []byte) ([]byte, error) {
	enc, err := c.encoderFor(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(payload, make([]byte, 0, len(payload))), nil
}

// Decompress reverses Compress. The decoder does not need to know which
// level compressed the frame; zstd's format is self-describing.
func (c *Codec) Decompress(payload []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, psync.NewError(psync.KindProtocol, "", errors.Wrap(err, "zstd decode"))
	}
	return out, nil
}

// Close releases the codec's encoders and decoder.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, enc := range c.encoders {
		enc.Close()
	}
	c.decoder.Close()
}

func (c *Codec) encoderFor(level int) (*zstd.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[level]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, psync.NewError(psync.KindIO, "", err)
	}
	c.encoders[level] = enc
	return enc, nil
}
