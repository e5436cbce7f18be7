package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/wirechan/internal/protocol/codec"
)

// Wire layout: [int32 length][uint32 key][payload], length = KeyLen + len(payload).
const (
	HeaderLen  = 4
	KeyLen     = 4
	BodyOffset = HeaderLen + KeyLen
)

var (
	ErrShortRead        = errors.New("frame: peer closed mid-frame")
	ErrLengthOutOfRange = errors.New("frame: declared length out of range")
	ErrFrameTooLarge    = errors.New("frame: frame exceeds buffer capacity")
	ErrNoFrame          = errors.New("frame: buffer holds no frame")
)

// Receiver is the read half of a transport. Receive may fill fewer bytes than
// len(p); a 0-byte read with a nil error means the peer closed.
type Receiver interface {
	Receive(p []byte) (int, error)
}

type Phase uint8

const (
	AwaitHeader Phase = iota
	AwaitBody
	Complete
)

func (p Phase) String() string {
	switch p {
	case AwaitHeader:
		return "await_header"
	case AwaitBody:
		return "await_body"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Assembler reads whole frames from src into buf, one per Next call.
type Assembler struct {
	src    Receiver
	buf    *codec.Buffer
	phase  Phase
	filled int
}

func NewAssembler(src Receiver, buf *codec.Buffer) *Assembler {
	return &Assembler{src: src, buf: buf}
}

func (a *Assembler) Phase() Phase {
	return a.phase
}

// Buffer returns the receive buffer. After Next succeeds its valid length is the
// full frame and its cursor sits just past the key.
func (a *Assembler) Buffer() *codec.Buffer {
	return a.buf
}

// Next blocks until one complete frame is buffered and returns its key.
func (a *Assembler) Next() (uint32, error) {
	a.phase = AwaitHeader
	a.filled = 0
	a.buf.Reset()

	if err := a.fill(HeaderLen); err != nil {
		return 0, err
	}
	if err := a.buf.SetLen(HeaderLen); err != nil {
		return 0, err
	}
	length, err := a.buf.ReadInt32()
	if err != nil {
		return 0, err
	}
	if length < KeyLen || int(length) > a.buf.Cap()-HeaderLen {
		return 0, fmt.Errorf("%w: %d (capacity %d)", ErrLengthOutOfRange, length, a.buf.Cap())
	}
	total := int(length) + HeaderLen

	a.phase = AwaitBody
	if err := a.fill(total); err != nil {
		return 0, err
	}
	if err := a.buf.SetLen(total); err != nil {
		return 0, err
	}
	if err := a.buf.SetPos(HeaderLen); err != nil {
		return 0, err
	}
	key, err := a.buf.ReadUint32()
	if err != nil {
		return 0, err
	}
	a.phase = Complete
	return key, nil
}

// fill receives until n bytes are buffered, never reading past n.
func (a *Assembler) fill(n int) error {
	raw := a.buf.Raw()
	for a.filled < n {
		got, err := a.src.Receive(raw[a.filled:n])
		if got > 0 {
			a.filled += got
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if a.filled >= n {
					return nil
				}
				return fmt.Errorf("%w: %d of %d bytes", ErrShortRead, a.filled, n)
			}
			return err
		}
		if got == 0 {
			return fmt.Errorf("%w: %d of %d bytes", ErrShortRead, a.filled, n)
		}
	}
	return nil
}

// Begin resets b for a new outgoing frame: the length slot is skipped and the
// key written, leaving the cursor at BodyOffset.
func Begin(b *codec.Buffer, key uint32) error {
	b.Reset()
	if err := b.SetPos(HeaderLen); err != nil {
		return ErrFrameTooLarge
	}
	if err := b.WriteUint32(key); err != nil {
		return ErrFrameTooLarge
	}
	return nil
}

// PatchLength writes cursor-HeaderLen into the length slot. The cursor is not moved.
func PatchLength(b *codec.Buffer) error {
	pos := b.Pos()
	if pos < BodyOffset {
		return ErrNoFrame
	}
	binary.BigEndian.PutUint32(b.Raw()[:HeaderLen], uint32(pos-HeaderLen))
	return nil
}

// Encode builds a standalone frame.
func Encode(key uint32, payload []byte) ([]byte, error) {
	if len(payload) > math.MaxInt32-KeyLen {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, BodyOffset+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(KeyLen+len(payload)))
	binary.BigEndian.PutUint32(out[4:8], key)
	copy(out[BodyOffset:], payload)
	return out, nil
}

// Decode parses exactly one frame from p. The payload aliases p.
func Decode(p []byte) (uint32, []byte, error) {
	if len(p) < BodyOffset {
		return 0, nil, ErrNoFrame
	}
	length := int32(binary.BigEndian.Uint32(p[0:4]))
	if length < KeyLen || int(length)+HeaderLen != len(p) {
		return 0, nil, fmt.Errorf("%w: %d for %d bytes", ErrLengthOutOfRange, length, len(p))
	}
	return binary.BigEndian.Uint32(p[4:8]), p[BodyOffset:], nil
}
