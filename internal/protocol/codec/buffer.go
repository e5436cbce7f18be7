package codec

import (
	"errors"
)

var (
	ErrBufferOverflow   = errors.New("codec: buffer overflow")
	ErrBufferUnderflow  = errors.New("codec: buffer underflow")
	ErrInvalidLength    = errors.New("codec: invalid sequence length")
	ErrInvalidTimestamp = errors.New("codec: invalid timestamp")
	ErrInvalidPosition  = errors.New("codec: position out of range")
)

// Buffer is a fixed-capacity byte buffer with one cursor shared by reads and writes.
//
// Writes are bounded by capacity and extend the valid length. Reads are bounded by
// the valid length.
type Buffer struct {
	data []byte
	pos  int
	size int
}

// NewBuffer allocates a Buffer with the given capacity and no valid bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Wrap returns a Buffer over data with every byte valid and the cursor at 0.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data, size: len(data)}
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len returns the number of valid bytes.
func (b *Buffer) Len() int {
	return b.size
}

// Pos returns the cursor offset.
func (b *Buffer) Pos() int {
	return b.pos
}

// Remaining returns the number of valid bytes after the cursor.
func (b *Buffer) Remaining() int {
	return b.size - b.pos
}

// Reset moves the cursor to 0 and drops all valid bytes.
func (b *Buffer) Reset() {
	b.pos = 0
	b.size = 0
}

// SetPos repositions the cursor anywhere within capacity.
func (b *Buffer) SetPos(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return ErrInvalidPosition
	}
	b.pos = pos
	if pos > b.size {
		b.size = pos
	}
	return nil
}

// SetLen records n bytes as valid. The cursor is clamped to n.
func (b *Buffer) SetLen(n int) error {
	if n < 0 || n > len(b.data) {
		return ErrInvalidPosition
	}
	b.size = n
	if b.pos > n {
		b.pos = n
	}
	return nil
}

// Bytes returns the valid bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.size]
}

// Raw returns the full backing array regardless of the valid length. Transports
// fill it directly.
func (b *Buffer) Raw() []byte {
	return b.data
}

// Unread returns the valid bytes after the cursor without advancing it.
func (b *Buffer) Unread() []byte {
	return b.data[b.pos:b.size]
}

// Write copies p at the cursor with no length prefix. It writes all of p or nothing.
func (b *Buffer) Write(p []byte) (int, error) {
	off, err := b.reserve(len(p))
	if err != nil {
		return 0, err
	}
	return copy(b.data[off:], p), nil
}

// reserve claims n writable bytes at the cursor and returns their offset.
func (b *Buffer) reserve(n int) (int, error) {
	if n < 0 || b.pos+n > len(b.data) {
		return 0, ErrBufferOverflow
	}
	off := b.pos
	b.pos += n
	if b.pos > b.size {
		b.size = b.pos
	}
	return off, nil
}

// need claims n readable bytes at the cursor and returns their offset.
func (b *Buffer) need(n int) (int, error) {
	if n < 0 || b.pos+n > b.size {
		return 0, ErrBufferUnderflow
	}
	off := b.pos
	b.pos += n
	return off, nil
}
