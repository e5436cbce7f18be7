// Package channel runs one framed connection: a receive loop that hands each
// complete frame to a Handler, a serialized send pipeline, and a terminal
// disconnect that happens exactly once.
package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danmuck/wirechan/internal/logging"
	"github.com/danmuck/wirechan/internal/observability"
	"github.com/danmuck/wirechan/internal/protocol/codec"
	"github.com/danmuck/wirechan/internal/protocol/compress"
	"github.com/danmuck/wirechan/internal/protocol/frame"
	"github.com/danmuck/wirechan/internal/transport"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Handler receives each frame with in positioned just past the key. in is only
// valid until HandleFrame returns. A returned error disconnects the channel.
type Handler interface {
	HandleFrame(ch *Channel, key uint32, in *codec.Buffer) error
}

type HandlerFunc func(ch *Channel, key uint32, in *codec.Buffer) error

func (f HandlerFunc) HandleFrame(ch *Channel, key uint32, in *codec.Buffer) error {
	return f(ch, key, in)
}

// Observer is notified once when the channel connects and once when it
// disconnects. OnDisconnected never precedes OnConnected.
type Observer interface {
	OnConnected(ch *Channel)
	OnDisconnected(ch *Channel, reason Reason, err error)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	Connected    func(ch *Channel)
	Disconnected func(ch *Channel, reason Reason, err error)
}

func (o ObserverFuncs) OnConnected(ch *Channel) {
	if o.Connected != nil {
		o.Connected(ch)
	}
}

func (o ObserverFuncs) OnDisconnected(ch *Channel, reason Reason, err error) {
	if o.Disconnected != nil {
		o.Disconnected(ch, reason, err)
	}
}

type Option func(*Channel)

func WithObserver(o Observer) Option {
	return func(c *Channel) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

type Stats struct {
	FramesIn  uint64 `json:"frames_in"`
	FramesOut uint64 `json:"frames_out"`
	BytesIn   uint64 `json:"bytes_in"`
	BytesOut  uint64 `json:"bytes_out"`
}

type Channel struct {
	id        string
	cfg       Config
	tr        transport.Transport
	handler   Handler
	codec     compress.Codec
	observers []Observer
	logger    zerolog.Logger

	state    atomic.Int32
	disposed atomic.Bool
	ready    chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	ended  bool
	reason Reason
	cause  error

	sendMu  sync.Mutex
	sendBuf *codec.Buffer
	recvBuf *codec.Buffer

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
}

// New builds an idle channel over tr. The channel takes ownership of tr.
func New(tr transport.Transport, h Handler, cfg Config, opts ...Option) (*Channel, error) {
	if tr == nil {
		return nil, errors.New("channel: nil transport")
	}
	if h == nil {
		return nil, errors.New("channel: nil handler")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cc, err := compress.Lookup(cfg.Compression)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		id:      uuid.New().String(),
		cfg:     cfg,
		tr:      tr,
		handler: h,
		codec:   cc,
		logger:  logging.Component("channel"),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("channel_id", c.id).Logger()
	return c, nil
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Config() Config {
	return c.cfg
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) RemoteAddr() string {
	return transport.Remote(c.tr)
}

// Ready is closed once the transport is connected.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when the channel disconnects.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Reason reports the disconnect reason once Done is closed.
func (c *Channel) Reason() (Reason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.ended
}

// Err is nil while connected and after a user disconnect; otherwise it is a
// *DisconnectError.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended || c.reason == ReasonUser {
		return nil
	}
	return &DisconnectError{Reason: c.reason, Err: c.cause}
}

func (c *Channel) Stats() Stats {
	return Stats{
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
		BytesIn:   c.bytesIn.Load(),
		BytesOut:  c.bytesOut.Load(),
	}
}

// Connect opens the transport, notifies observers, and runs the receive loop
// until the channel disconnects. Cancelling ctx disconnects with ReasonUser. A
// channel connects at most once.
func (c *Channel) Connect(ctx context.Context, host string, port int) (err error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrChannelUsed
	}
	defer func() {
		if r := recover(); r != nil {
			c.Disconnect(ReasonUnknown, errors.Errorf("channel: panic: %v", r))
		}
		err = c.finish()
	}()

	c.sendMu.Lock()
	c.sendBuf = codec.NewBuffer(c.cfg.BufferSize)
	c.sendMu.Unlock()
	c.recvBuf = codec.NewBuffer(c.cfg.BufferSize)

	stop := context.AfterFunc(ctx, func() {
		c.Disconnect(ReasonUser, context.Cause(ctx))
	})
	defer stop()

	dialCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := c.tr.Connect(dialCtx, host, port); err != nil {
		c.Disconnect(ReasonConnection, errors.Wrap(err, "connect"))
		return nil
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return nil
	}

	close(c.ready)
	observability.RecordConnected()
	c.logger.Info().Str("remote", c.RemoteAddr()).Msg("channel connected")
	for _, o := range c.observers {
		o.OnConnected(c)
	}

	c.receiveLoop()
	return nil
}

// Run drives a channel whose transport is already connected, such as one
// accepted by a listener.
func (c *Channel) Run(ctx context.Context) error {
	return c.Connect(ctx, "", 0)
}

func (c *Channel) receiveLoop() {
	asm := frame.NewAssembler(c.tr, c.recvBuf)
	for !c.disposed.Load() {
		key, err := asm.Next()
		if err != nil {
			c.Disconnect(classifyReceive(err), errors.Wrapf(err, "receive (%s)", asm.Phase()))
			return
		}
		n := c.recvBuf.Len()
		c.framesIn.Add(1)
		c.bytesIn.Add(uint64(n))
		observability.RecordFrame(observability.DirectionIn, n)

		if err := c.handler.HandleFrame(c, key, c.recvBuf); err != nil {
			c.Disconnect(classifyHandler(err), errors.Wrapf(err, "handle frame key=%d", key))
			return
		}
	}
}

// finish waits for the disconnect and delivers OnDisconnected from the
// goroutine that delivered OnConnected.
func (c *Channel) finish() error {
	<-c.done
	c.notifyDisconnected()
	return c.Err()
}

func (c *Channel) notifyDisconnected() {
	c.mu.Lock()
	reason, cause := c.reason, c.cause
	c.mu.Unlock()
	for _, o := range c.observers {
		o.OnDisconnected(c, reason, cause)
	}
}

// Disconnect tears the channel down with reason. Only the first call has any
// effect; it reports whether this call was that one.
func (c *Channel) Disconnect(reason Reason, cause error) bool {
	if !c.disposed.CompareAndSwap(false, true) {
		return false
	}
	c.mu.Lock()
	c.ended = true
	c.reason = reason
	c.cause = cause
	c.mu.Unlock()

	prev := State(c.state.Swap(int32(StateDisconnected)))
	if err := c.tr.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("transport close")
	}
	close(c.done)
	observability.RecordDisconnect(reason.String(), prev == StateConnected)

	event := c.logger.Warn()
	if reason == ReasonUser {
		event = c.logger.Info()
	}
	event.Str("reason", reason.String()).Str("from", prev.String()).Err(cause).Msg("channel disconnected")

	// With no Connect in flight nobody else will notify.
	if prev == StateIdle {
		c.notifyDisconnected()
	}
	return true
}

// Close disconnects with ReasonUser.
func (c *Channel) Close() error {
	c.Disconnect(ReasonUser, nil)
	return nil
}

// Send writes one frame. fill appends payload fields to a buffer whose cursor
// sits just past the key. With compressed set and a non-empty payload, the
// payload is replaced by its compressed form before the length is patched.
// Sends are serialized per channel. A fill or compression error aborts only
// this frame; a panic in fill disconnects with ReasonUnknown and a transport
// failure with ReasonSend.
func (c *Channel) Send(key uint32, compressed bool, fill func(out *codec.Buffer) error) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.disposed.Load() {
		return ErrClosed
	}
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	b := c.sendBuf
	if err := frame.Begin(b, key); err != nil {
		return err
	}
	if fill != nil {
		if err := c.fillFrame(key, b, fill); err != nil {
			return err
		}
	}
	if compressed && b.Pos() > frame.BodyOffset {
		if err := c.deflate(b); err != nil {
			return err
		}
	}
	if err := frame.PatchLength(b); err != nil {
		return err
	}
	return c.transmit(b.Raw()[:b.Pos()])
}

// fillFrame runs fill. A panic disconnects with ReasonUnknown and is returned
// as an error.
func (c *Channel) fillFrame(key uint32, b *codec.Buffer, fill func(out *codec.Buffer) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("channel: panic filling frame key=%d: %v", key, r)
			c.Disconnect(ReasonUnknown, err)
		}
	}()
	if err := fill(b); err != nil {
		return errors.Wrapf(err, "fill frame key=%d", key)
	}
	return nil
}

func (c *Channel) deflate(b *codec.Buffer) error {
	raw := b.Raw()[frame.BodyOffset:b.Pos()]
	packed, err := c.codec.Compress(raw)
	if err != nil {
		return errors.Wrap(err, "compress payload")
	}
	if frame.BodyOffset+len(packed) > b.Cap() {
		return errors.Wrapf(frame.ErrFrameTooLarge, "compressed payload is %d bytes", len(packed))
	}
	observability.RecordCompression(c.codec.Name(), len(raw), len(packed))
	copy(b.Raw()[frame.BodyOffset:], packed)
	end := frame.BodyOffset + len(packed)
	if err := b.SetLen(end); err != nil {
		return err
	}
	return b.SetPos(end)
}

func (c *Channel) transmit(p []byte) error {
	for sent := 0; sent < len(p); {
		n, err := c.tr.Send(p[sent:])
		if n > 0 {
			sent += n
		}
		if err == nil && n == 0 {
			err = errShortWrite
		}
		if err != nil {
			err = errors.Wrapf(err, "send %d of %d bytes", sent, len(p))
			c.Disconnect(ReasonSend, err)
			return err
		}
	}
	c.framesOut.Add(1)
	c.bytesOut.Add(uint64(len(p)))
	observability.RecordFrame(observability.DirectionOut, len(p))
	return nil
}

// Inflate decompresses the payload of the frame being handled in place and
// rewinds the cursor to its start. An empty payload is left as is, matching
// Send. Call it only from HandleFrame.
func (c *Channel) Inflate() error {
	b := c.recvBuf
	if b == nil || b.Len() < frame.BodyOffset {
		return frame.ErrNoFrame
	}
	if b.Len() == frame.BodyOffset {
		return b.SetPos(frame.BodyOffset)
	}
	out, err := c.codec.Decompress(b.Raw()[frame.BodyOffset:b.Len()], b.Cap()-frame.BodyOffset)
	if err != nil {
		return errors.Wrap(err, "inflate payload")
	}
	copy(b.Raw()[frame.BodyOffset:], out)
	if err := b.SetLen(frame.BodyOffset + len(out)); err != nil {
		return err
	}
	return b.SetPos(frame.BodyOffset)
}
