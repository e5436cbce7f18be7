package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

var ErrAlreadyConnected = errors.New("transport: already connected")

// Config holds socket options for TCP transports.
type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	KeepAlive    time.Duration
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		KeepAlive:    30 * time.Second,
	}
}

// TCP is a Transport over a net.Conn.
type TCP struct {
	cfg Config

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func NewTCP(cfg Config) *TCP {
	return &TCP{cfg: cfg}
}

// FromConn wraps an accepted connection. Connect on the result is a no-op.
func FromConn(conn net.Conn, cfg Config) *TCP {
	return &TCP{cfg: cfg, conn: conn}
}

func (t *TCP) Connect(ctx context.Context, host string, port int) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	dialer := net.Dialer{Timeout: t.cfg.DialTimeout, KeepAlive: t.cfg.KeepAlive}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = conn.Close()
		return ErrClosed
	}
	if t.conn != nil {
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	t.conn = conn
	return nil
}

func (t *TCP) current() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.conn == nil {
		return nil, net.ErrClosed
	}
	return t.conn, nil
}

func (t *TCP) Send(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	if t.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
			return 0, err
		}
	}
	return conn.Write(p)
}

func (t *TCP) Receive(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	n, err := conn.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// Close is safe to call more than once; it also unblocks a pending Receive.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func (t *TCP) RemoteAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}
