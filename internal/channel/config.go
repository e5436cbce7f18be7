package channel

import (
	"time"

	"github.com/danmuck/wirechan/internal/protocol/compress"
	"github.com/danmuck/wirechan/internal/protocol/frame"
	"github.com/danmuck/wirechan/internal/transport"
	"github.com/go-faster/errors"
)

const (
	DefaultBufferSize = 64 * 1024
	MinBufferSize     = frame.BodyOffset
)

var ErrInvalidConfig = errors.New("channel: invalid config")

// Config is fixed for a channel's lifetime. BufferSize bounds both buffers and
// therefore the largest frame either side can carry.
type Config struct {
	BufferSize     int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Compression    string
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     DefaultBufferSize,
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   15 * time.Second,
		Compression:    compress.Default,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Compression == "" {
		c.Compression = def.Compression
	}
	return c
}

func (c Config) Validate() error {
	if c.BufferSize < MinBufferSize {
		return errors.Wrapf(ErrInvalidConfig, "buffer_size %d below %d", c.BufferSize, MinBufferSize)
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		return errors.Wrap(ErrInvalidConfig, "timeouts must not be negative")
	}
	if _, err := compress.Lookup(c.Compression); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// TransportConfig derives TCP socket options.
func (c Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.DialTimeout = c.ConnectTimeout
	tc.WriteTimeout = c.WriteTimeout
	return tc
}
