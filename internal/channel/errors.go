package channel

import (
	"fmt"

	"github.com/danmuck/wirechan/internal/protocol/codec"
	"github.com/danmuck/wirechan/internal/protocol/compress"
	"github.com/danmuck/wirechan/internal/protocol/frame"
	"github.com/go-faster/errors"
)

var (
	ErrChannelUsed  = errors.New("channel: already connected once")
	ErrNotConnected = errors.New("channel: not connected")
	ErrClosed       = errors.New("channel: disconnected")
	errShortWrite   = errors.New("channel: transport accepted 0 bytes")
)

// Reason classifies the single disconnect of a channel.
type Reason int32

const (
	ReasonUnknown Reason = iota
	ReasonUser
	ReasonConnection
	ReasonReceive
	ReasonSend
	ReasonProtocol
)

func (r Reason) String() string {
	switch r {
	case ReasonUser:
		return "user"
	case ReasonConnection:
		return "connection"
	case ReasonReceive:
		return "receive"
	case ReasonSend:
		return "send"
	case ReasonProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// DisconnectError is what Connect returns for any disconnect not requested by
// the user.
type DisconnectError struct {
	Reason Reason
	Err    error
}

func (e *DisconnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("channel: disconnected (%s)", e.Reason)
	}
	return fmt.Sprintf("channel: disconnected (%s): %v", e.Reason, e.Err)
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

var protocolErrors = []error{
	codec.ErrBufferOverflow,
	codec.ErrBufferUnderflow,
	codec.ErrInvalidLength,
	codec.ErrInvalidTimestamp,
	codec.ErrInvalidPosition,
	frame.ErrLengthOutOfRange,
	frame.ErrFrameTooLarge,
	compress.ErrCorrupt,
	compress.ErrTooLarge,
}

// IsProtocolError reports whether err came from malformed wire data.
func IsProtocolError(err error) bool {
	for _, target := range protocolErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func classifyReceive(err error) Reason {
	if IsProtocolError(err) {
		return ReasonProtocol
	}
	return ReasonReceive
}

func classifyHandler(err error) Reason {
	if IsProtocolError(err) {
		return ReasonProtocol
	}
	return ReasonUnknown
}
