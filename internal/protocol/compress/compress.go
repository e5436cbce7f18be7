// Package compress holds the payload codecs a channel can apply to the bytes
// after a frame's key.
package compress

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownCodec = errors.New("compress: unknown codec")
	ErrTooLarge     = errors.New("compress: output exceeds limit")
	ErrCorrupt      = errors.New("compress: corrupt input")
)

// Codec compresses and decompresses whole payloads. Decompress fails with
// ErrTooLarge rather than produce more than maxLen bytes.
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, maxLen int) ([]byte, error)
}

// Default is the codec existing peers speak.
const Default = "lzf"

var registry = map[string]Codec{
	"lzf":    lzfCodec{},
	"s2":     s2Codec{},
	"snappy": snappyCodec{},
	"lz4":    lz4Codec{},
	"zstd":   newZstdCodec(),
}

// Lookup returns the named codec. An empty name selects Default.
func Lookup(name string) (Codec, error) {
	if name == "" {
		name = Default
	}
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
