// Package fakeconn provides a scripted in-memory transport for tests.
package fakeconn

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/danmuck/wirechan/internal/transport"
)

var _ transport.Transport = (*Conn)(nil)

// Conn delivers fed bytes to Receive in chunks of at most RecvChunk and accepts
// at most SendChunk bytes per Send. Zero chunk sizes mean unlimited.
type Conn struct {
	RecvChunk int
	SendChunk int

	mu         sync.Mutex
	cond       *sync.Cond
	in         []byte
	eof        bool
	out        bytes.Buffer
	closed     bool
	closeCount int
	connectErr error
	sendErr    error
	recvErr    error
	host       string
	port       int
}

func New() *Conn {
	c := &Conn{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Chunked returns a Conn that moves at most recv bytes per Receive and send
// bytes per Send.
func Chunked(recv, send int) *Conn {
	c := New()
	c.RecvChunk = recv
	c.SendChunk = send
	return c
}

func (c *Conn) FailConnect(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

func (c *Conn) FailSend(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// FailReceive makes blocked and future Receive calls return err once the fed
// bytes are drained.
func (c *Conn) FailReceive(err error) {
	c.mu.Lock()
	c.recvErr = err
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Feed queues bytes for Receive.
func (c *Conn) Feed(p []byte) {
	c.mu.Lock()
	c.in = append(c.in, p...)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// FeedEOF simulates the peer closing after the queued bytes.
func (c *Conn) FeedEOF() {
	c.mu.Lock()
	c.eof = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Sent returns a copy of everything accepted by Send.
func (c *Conn) Sent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.out.Bytes())
}

func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Connect(_ context.Context, host string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.host, c.port = host, port
	return c.connectErr
}

func (c *Conn) Send(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, transport.ErrClosed
	}
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	n := len(p)
	if c.SendChunk > 0 && n > c.SendChunk {
		n = c.SendChunk
	}
	c.out.Write(p[:n])
	return n, nil
}

func (c *Conn) Receive(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.in) == 0 && !c.eof && !c.closed && c.recvErr == nil {
		c.cond.Wait()
	}
	if c.closed {
		return 0, transport.ErrClosed
	}
	if len(c.in) == 0 {
		if c.recvErr != nil {
			return 0, c.recvErr
		}
		return 0, nil
	}
	n := len(p)
	if c.RecvChunk > 0 && n > c.RecvChunk {
		n = c.RecvChunk
	}
	n = copy(p[:n], c.in)
	c.in = c.in[n:]
	return n, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if c.closed {
		return errors.New("fakeconn: already closed")
	}
	c.closed = true
	c.cond.Broadcast()
	return nil
}

func (c *Conn) RemoteAddr() string {
	return "fake:0"
}
