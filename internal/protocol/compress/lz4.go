package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// lz4 blocks carry no length, and CompressBlock reports 0 for input it cannot
// shrink, so each payload starts with a marker byte. Block payloads follow the
// marker with the uvarint decoded length.
const (
	lz4Stored byte = 0
	lz4Block  byte = 1
)

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, 1+binary.MaxVarintLen64+lz4.CompressBlockBound(len(src)))
	dst[0] = lz4Block
	hdr := 1 + binary.PutUvarint(dst[1:], uint64(len(src)))
	n, err := lz4.CompressBlock(src, dst[hdr:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || hdr+n >= 1+len(src) {
		dst[0] = lz4Stored
		n = copy(dst[1:], src)
		return dst[:1+n], nil
	}
	return dst[:hdr+n], nil
}

func (lz4Codec) Decompress(src []byte, maxLen int) ([]byte, error) {
	if len(src) == 0 {
		return nil, ErrCorrupt
	}
	body := src[1:]
	switch src[0] {
	case lz4Stored:
		if len(body) > maxLen {
			return nil, ErrTooLarge
		}
		return bytes.Clone(body), nil
	case lz4Block:
		size, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, fmt.Errorf("%w: lz4 length header", ErrCorrupt)
		}
		if size > uint64(max(maxLen, 0)) {
			return nil, ErrTooLarge
		}
		dst := make([]byte, size)
		got, err := lz4.UncompressBlock(body[n:], dst)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint64(got) != size {
			return nil, fmt.Errorf("%w: lz4 decoded %d of %d bytes", ErrCorrupt, got, size)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: lz4 marker %d", ErrCorrupt, src[0])
	}
}
