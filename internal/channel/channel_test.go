package channel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/wirechan/internal/protocol/codec"
	"github.com/danmuck/wirechan/internal/protocol/compress"
	"github.com/danmuck/wirechan/internal/protocol/frame"
	"github.com/danmuck/wirechan/internal/testutil/fakeconn"
	"github.com/danmuck/wirechan/internal/testutil/testlog"
)

type recorder struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	reasons      []Reason
	order        []string
}

func (r *recorder) OnConnected(*Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
	r.order = append(r.order, "connected")
}

func (r *recorder) OnDisconnected(_ *Channel, reason Reason, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
	r.reasons = append(r.reasons, reason)
	r.order = append(r.order, "disconnected")
}

func (r *recorder) snapshot() (int, int, []Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected, r.disconnected, append([]Reason(nil), r.reasons...)
}

func nopHandler() Handler {
	return HandlerFunc(func(*Channel, uint32, *codec.Buffer) error { return nil })
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferSize = 4096
	return cfg
}

type running struct {
	ch  *Channel
	rec *recorder
	err chan error
}

func start(t *testing.T, conn *fakeconn.Conn, h Handler, cfg Config) running {
	t.Helper()
	rec := &recorder{}
	ch, err := New(conn, h, cfg, WithObserver(rec))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- ch.Connect(context.Background(), "fake", 1)
	}()
	select {
	case <-ch.Ready():
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("channel never connected")
	}
	return running{ch: ch, rec: rec, err: errCh}
}

func (r running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.err:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("connect did not return")
		return nil
	}
}

func requireReason(t *testing.T, err error, want Reason) {
	t.Helper()
	var de *DisconnectError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DisconnectError, got %v", err)
	}
	if de.Reason != want {
		t.Fatalf("reason: got=%s want=%s (%v)", de.Reason, want, de.Err)
	}
}

func TestSendEncodesKeyAndPayload(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	r := start(t, conn, nopHandler(), testConfig())
	defer r.ch.Close()

	err := r.ch.Send(42, false, func(out *codec.Buffer) error {
		return out.WriteInt32(1000)
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := r.ch.Send(1, false, nil); err != nil {
		t.Fatalf("send empty: %v", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x2A, 0x00, 0x00, 0x03, 0xE8,
		0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x01,
	}
	if got := conn.Sent(); !bytes.Equal(got, want) {
		t.Fatalf("wire mismatch:\n got=% X\nwant=% X", got, want)
	}
	if s := r.ch.Stats(); s.FramesOut != 2 || s.BytesOut != uint64(len(want)) {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestSendLoopsOnPartialWrites(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.Chunked(0, 3)
	r := start(t, conn, nopHandler(), testConfig())
	defer r.ch.Close()

	payload := bytes.Repeat([]byte{0x11}, 100)
	if err := r.ch.Send(5, false, func(out *codec.Buffer) error {
		_, err := out.Write(payload)
		return err
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	want, _ := frame.Encode(5, payload)
	if !bytes.Equal(conn.Sent(), want) {
		t.Fatalf("partial writes produced a different frame")
	}
}

func TestCompressedFrameLengthInvariant(t *testing.T) {
	testlog.Start(t)
	raw := codec.NewBuffer(4096)
	if err := raw.WriteBytes(bytes.Repeat([]byte("abcd"), 500)); err != nil {
		t.Fatalf("build payload: %v", err)
	}

	for _, name := range compress.Names() {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Compression = name
			conn := fakeconn.New()
			r := start(t, conn, nopHandler(), cfg)
			defer r.ch.Close()

			if err := r.ch.Send(7, true, func(out *codec.Buffer) error {
				_, err := out.Write(raw.Bytes())
				return err
			}); err != nil {
				t.Fatalf("send: %v", err)
			}

			key, packed, err := frame.Decode(conn.Sent())
			if err != nil {
				t.Fatalf("length header does not match bytes sent: %v", err)
			}
			if key != 7 {
				t.Fatalf("key: %d", key)
			}
			if len(packed) >= raw.Len() {
				t.Fatalf("payload was not compressed: %d >= %d", len(packed), raw.Len())
			}
			cc, _ := compress.Lookup(name)
			out, err := cc.Decompress(packed, cfg.BufferSize-frame.BodyOffset)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(out, raw.Bytes()) {
				t.Fatalf("decompressed payload mismatch")
			}
		})
	}
}

func TestCompressSkipsEmptyPayload(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	r := start(t, conn, nopHandler(), testConfig())
	defer r.ch.Close()

	if err := r.ch.Send(1, true, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if want := []byte{0, 0, 0, 4, 0, 0, 0, 1}; !bytes.Equal(conn.Sent(), want) {
		t.Fatalf("empty compressed frame: % X", conn.Sent())
	}
}

func TestReceiveOneByteAtATime(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.Chunked(1, 0)

	type got struct {
		key   uint32
		value int32
	}
	var mu sync.Mutex
	var frames []got
	h := HandlerFunc(func(_ *Channel, key uint32, in *codec.Buffer) error {
		v, err := in.ReadInt32()
		if err != nil {
			return err
		}
		mu.Lock()
		frames = append(frames, got{key, v})
		mu.Unlock()
		return nil
	})

	r := start(t, conn, h, testConfig())
	for i := int32(0); i < 3; i++ {
		b := codec.NewBuffer(4)
		_ = b.WriteInt32(1000 + i)
		f, _ := frame.Encode(uint32(40+i), b.Bytes())
		conn.Feed(f)
	}
	conn.FeedEOF()

	requireReason(t, r.wait(t), ReasonReceive)

	mu.Lock()
	defer mu.Unlock()
	if len(frames) != 3 {
		t.Fatalf("frames: %+v", frames)
	}
	for i, f := range frames {
		if f.key != uint32(40+i) || f.value != int32(1000+i) {
			t.Fatalf("frame %d out of order or corrupt: %+v", i, f)
		}
	}
	if s := r.ch.Stats(); s.FramesIn != 3 || s.BytesIn != 36 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestPeerCloseMidBodyDisconnectsOnce(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	called := 0
	h := HandlerFunc(func(*Channel, uint32, *codec.Buffer) error {
		called++
		return nil
	})
	r := start(t, conn, h, testConfig())

	conn.Feed([]byte{0x00, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x2A, 0x00})
	conn.FeedEOF()

	err := r.wait(t)
	requireReason(t, err, ReasonReceive)
	if !errors.Is(err, frame.ErrShortRead) {
		t.Fatalf("expected ErrShortRead in chain, got %v", err)
	}
	if called != 0 {
		t.Fatalf("partial frame was dispatched")
	}
	connected, disconnected, reasons := r.rec.snapshot()
	if connected != 1 || disconnected != 1 || reasons[0] != ReasonReceive {
		t.Fatalf("notifications: connected=%d disconnected=%d reasons=%v", connected, disconnected, reasons)
	}
	if conn.CloseCount() != 1 {
		t.Fatalf("transport closed %d times", conn.CloseCount())
	}
	if st := r.ch.State(); st != StateDisconnected {
		t.Fatalf("state: %s", st)
	}
}

func TestConcurrentFailuresNotifyOnce(t *testing.T) {
	testlog.Start(t)
	for i := 0; i < 50; i++ {
		conn := fakeconn.New()
		conn.FailSend(errors.New("broken pipe"))
		r := start(t, conn, nopHandler(), testConfig())

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = r.ch.Send(1, false, nil)
		}()
		go func() {
			defer wg.Done()
			conn.FailReceive(errors.New("connection reset"))
		}()
		go func() {
			defer wg.Done()
			r.ch.Disconnect(ReasonReceive, errors.New("racing"))
		}()
		wg.Wait()

		err := r.wait(t)
		var de *DisconnectError
		if !errors.As(err, &de) || (de.Reason != ReasonSend && de.Reason != ReasonReceive) {
			t.Fatalf("iteration %d: unexpected result %v", i, err)
		}
		_, disconnected, reasons := r.rec.snapshot()
		if disconnected != 1 || reasons[0] != de.Reason {
			t.Fatalf("iteration %d: disconnected=%d reasons=%v", i, disconnected, reasons)
		}
		if conn.CloseCount() != 1 {
			t.Fatalf("iteration %d: transport closed %d times", i, conn.CloseCount())
		}
	}
}

func TestConnectFailure(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	conn.FailConnect(errors.New("refused"))
	rec := &recorder{}
	ch, err := New(conn, nopHandler(), testConfig(), WithObserver(rec))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	requireReason(t, ch.Connect(context.Background(), "nowhere", 9), ReasonConnection)
	connected, disconnected, reasons := rec.snapshot()
	if connected != 0 || disconnected != 1 || reasons[0] != ReasonConnection {
		t.Fatalf("notifications: connected=%d disconnected=%d reasons=%v", connected, disconnected, reasons)
	}
	select {
	case <-ch.Ready():
		t.Fatalf("ready closed after failed connect")
	default:
	}
	if err := ch.Connect(context.Background(), "nowhere", 9); !errors.Is(err, ErrChannelUsed) {
		t.Fatalf("expected ErrChannelUsed, got %v", err)
	}
}

func TestContextCancelIsUserDisconnect(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	rec := &recorder{}
	ch, err := New(conn, nopHandler(), testConfig(), WithObserver(rec))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ch.Connect(ctx, "fake", 1) }()
	<-ch.Ready()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("user disconnect should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connect did not return after cancel")
	}
	if reason, ok := ch.Reason(); !ok || reason != ReasonUser {
		t.Fatalf("reason: %s ok=%v", reason, ok)
	}
	if err := ch.Send(1, false, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after disconnect, got %v", err)
	}
	if _, _, reasons := rec.snapshot(); len(reasons) != 1 {
		t.Fatalf("reasons: %v", reasons)
	}
}

func TestObserverOrderWhenClosedFromOnConnected(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	rec := &recorder{}
	closer := ObserverFuncs{Connected: func(ch *Channel) { _ = ch.Close() }}
	ch, err := New(conn, nopHandler(), testConfig(), WithObserver(closer), WithObserver(rec))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ch.Connect(context.Background(), "fake", 1); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.order) != 2 || rec.order[0] != "connected" || rec.order[1] != "disconnected" {
		t.Fatalf("unexpected notification order: %v", rec.order)
	}
}

func TestCloseBeforeConnectNotifies(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	ch, err := New(fakeconn.New(), nopHandler(), testConfig(), WithObserver(rec))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ch.Send(1, false, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	_ = ch.Close()
	_ = ch.Close()
	if _, disconnected, reasons := rec.snapshot(); disconnected != 1 || reasons[0] != ReasonUser {
		t.Fatalf("disconnected=%d reasons=%v", disconnected, reasons)
	}
	if err := ch.Connect(context.Background(), "fake", 1); !errors.Is(err, ErrChannelUsed) {
		t.Fatalf("expected ErrChannelUsed, got %v", err)
	}
}

func TestOversizedLengthIsProtocolError(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	r := start(t, conn, nopHandler(), testConfig())
	conn.Feed([]byte{0x7F, 0xFF, 0xFF, 0xFF})

	err := r.wait(t)
	requireReason(t, err, ReasonProtocol)
	if !errors.Is(err, frame.ErrLengthOutOfRange) {
		t.Fatalf("expected ErrLengthOutOfRange, got %v", err)
	}
}

func TestHandlerDecodeErrorIsProtocolError(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	h := HandlerFunc(func(_ *Channel, _ uint32, in *codec.Buffer) error {
		_, err := in.ReadInt64()
		return err
	})
	r := start(t, conn, h, testConfig())
	f, _ := frame.Encode(3, []byte{1, 2, 3, 4})
	conn.Feed(f)

	err := r.wait(t)
	requireReason(t, err, ReasonProtocol)
	if !errors.Is(err, codec.ErrBufferUnderflow) {
		t.Fatalf("expected ErrBufferUnderflow, got %v", err)
	}
}

func TestHandlerPanicIsUnknown(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	h := HandlerFunc(func(*Channel, uint32, *codec.Buffer) error {
		panic("handler bug")
	})
	r := start(t, conn, h, testConfig())
	f, _ := frame.Encode(3, nil)
	conn.Feed(f)

	requireReason(t, r.wait(t), ReasonUnknown)
	if _, disconnected, _ := r.rec.snapshot(); disconnected != 1 {
		t.Fatalf("disconnected=%d", disconnected)
	}
}

func TestFillErrorKeepsChannelOpen(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	cfg := testConfig()
	cfg.BufferSize = 16
	r := start(t, conn, nopHandler(), cfg)
	defer r.ch.Close()

	err := r.ch.Send(9, false, func(out *codec.Buffer) error {
		return out.WriteString("this string does not fit")
	})
	if !errors.Is(err, codec.ErrBufferOverflow) {
		t.Fatalf("expected ErrBufferOverflow, got %v", err)
	}
	if r.ch.State() != StateConnected {
		t.Fatalf("fill error should not disconnect, state=%s", r.ch.State())
	}
	if len(conn.Sent()) != 0 {
		t.Fatalf("aborted frame reached the wire")
	}
	if err := r.ch.Send(9, false, func(out *codec.Buffer) error { return out.WriteInt32(1) }); err != nil {
		t.Fatalf("send after fill error: %v", err)
	}
}

func TestFillPanicDisconnectsUnknown(t *testing.T) {
	testlog.Start(t)
	conn := fakeconn.New()
	r := start(t, conn, nopHandler(), testConfig())

	err := r.ch.Send(9, false, func(*codec.Buffer) error {
		panic("encoder bug")
	})
	if err == nil || !strings.Contains(err.Error(), "encoder bug") {
		t.Fatalf("expected panic surfaced as error, got %v", err)
	}
	requireReason(t, r.wait(t), ReasonUnknown)
	if len(conn.Sent()) != 0 {
		t.Fatalf("partial frame reached the wire: % X", conn.Sent())
	}
	if err := r.ch.Send(9, false, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after panic, got %v", err)
	}
	if c, d, _ := r.rec.snapshot(); c != 1 || d != 1 {
		t.Fatalf("notifications: connected=%d disconnected=%d", c, d)
	}
}

func TestInflateDecodesCompressedPayload(t *testing.T) {
	testlog.Start(t)
	plain := codec.NewBuffer(256)
	_ = plain.WriteString("hello hello hello hello hello")
	_ = plain.WriteInt32(5)
	lzf, _ := compress.Lookup("lzf")
	packed, err := lzf.Compress(plain.Bytes())
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	wire, _ := frame.Encode(11, packed)

	var gotText string
	var gotNum int32
	h := HandlerFunc(func(ch *Channel, key uint32, in *codec.Buffer) error {
		if err := ch.Inflate(); err != nil {
			return err
		}
		if in.Len() != frame.BodyOffset+plain.Len() || in.Pos() != frame.BodyOffset {
			t.Errorf("inflate bookkeeping: len=%d pos=%d", in.Len(), in.Pos())
		}
		var err error
		if gotText, err = in.ReadString(); err != nil {
			return err
		}
		if gotNum, err = in.ReadInt32(); err != nil {
			return err
		}
		return ch.Close()
	})

	conn := fakeconn.New()
	r := start(t, conn, h, testConfig())
	conn.Feed(wire)
	if err := r.wait(t); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if gotText != "hello hello hello hello hello" || gotNum != 5 {
		t.Fatalf("decoded %q %d", gotText, gotNum)
	}
}

func TestInflateEmptyPayloadIsNoop(t *testing.T) {
	testlog.Start(t)
	remaining := -1
	h := HandlerFunc(func(ch *Channel, _ uint32, in *codec.Buffer) error {
		if err := ch.Inflate(); err != nil {
			return err
		}
		remaining = in.Remaining()
		return ch.Close()
	})
	cfg := testConfig()
	cfg.Compression = "lz4"
	conn := fakeconn.New()
	r := start(t, conn, h, cfg)
	wire, _ := frame.Encode(3, nil)
	conn.Feed(wire)
	if err := r.wait(t); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining after inflate: %d", remaining)
	}
}

func TestCorruptCompressedPayloadIsProtocolError(t *testing.T) {
	testlog.Start(t)
	h := HandlerFunc(func(ch *Channel, _ uint32, _ *codec.Buffer) error {
		return ch.Inflate()
	})
	conn := fakeconn.New()
	r := start(t, conn, h, testConfig())
	wire, _ := frame.Encode(11, []byte{0x1F, 'x'})
	conn.Feed(wire)
	requireReason(t, r.wait(t), ReasonProtocol)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	bad := cfg
	bad.BufferSize = 7
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	bad = cfg
	bad.Compression = "brotli"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for codec, got %v", err)
	}
	if _, err := New(fakeconn.New(), nopHandler(), bad); err == nil {
		t.Fatalf("New should reject invalid config")
	}
}
