package compress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

type s2Codec struct{}

func (s2Codec) Name() string { return "s2" }

func (s2Codec) Compress(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (s2Codec) Decompress(src []byte, maxLen int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n > maxLen {
		return nil, ErrTooLarge
	}
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decompress(src []byte, maxLen int) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n > maxLen {
		return nil, ErrTooLarge
	}
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// zstdCodec shares one encoder. Decoders are kept per output limit so
// DecodeAll refuses oversized frames before allocating for them.
type zstdCodec struct {
	once sync.Once
	enc  *zstd.Encoder
	err  error

	mu   sync.Mutex
	decs map[int]*zstd.Decoder
}

func newZstdCodec() *zstdCodec {
	return &zstdCodec{decs: make(map[int]*zstd.Decoder)}
}

func (*zstdCodec) Name() string { return "zstd" }

func (z *zstdCodec) init() error {
	z.once.Do(func() {
		z.enc, z.err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return z.err
}

func (z *zstdCodec) decoder(maxLen int) (*zstd.Decoder, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if d, ok := z.decs[maxLen]; ok {
		return d, nil
	}
	d, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(uint64(max(maxLen, zstd.MinWindowSize))),
	)
	if err != nil {
		return nil, err
	}
	z.decs[maxLen] = d
	return d, nil
}

func (z *zstdCodec) Compress(src []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(src, nil), nil
}

func (z *zstdCodec) Decompress(src []byte, maxLen int) ([]byte, error) {
	var h zstd.Header
	if err := h.Decode(src); err == nil && h.HasFCS && h.FrameContentSize > uint64(max(maxLen, 0)) {
		return nil, ErrTooLarge
	}
	d, err := z.decoder(maxLen)
	if err != nil {
		return nil, err
	}
	out, err := d.DecodeAll(src, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, ErrTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(out) > maxLen {
		return nil, ErrTooLarge
	}
	return out, nil
}
