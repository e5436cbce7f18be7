// Package transport is the stream socket a channel owns.
package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport: closed")

// Transport is a connected duplex byte stream. Send and Receive may transfer
// fewer bytes than requested; callers loop. Receive returns (0, nil) once the
// peer has closed.
type Transport interface {
	Connect(ctx context.Context, host string, port int) error
	Send(p []byte) (int, error)
	Receive(p []byte) (int, error)
	Close() error
}

// Addresser is implemented by transports that know their peer.
type Addresser interface {
	RemoteAddr() string
}

// Remote returns the peer address of t, or "" when it is unknown.
func Remote(t Transport) string {
	if a, ok := t.(Addresser); ok {
		return a.RemoteAddr()
	}
	return ""
}
