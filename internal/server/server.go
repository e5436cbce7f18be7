// Package server accepts TCP connections and runs each one as a channel.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wirechan/internal/channel"
	"github.com/danmuck/wirechan/internal/logging"
	"github.com/danmuck/wirechan/internal/protocol/codec"
	"github.com/danmuck/wirechan/internal/transport"
	"github.com/rs/zerolog"
)

var errKicked = errors.New("server: kicked by admin")

// FlagCompressed marks keys whose payload is compressed with the channel codec.
const FlagCompressed uint32 = 1 << 31

type Config struct {
	Name        string
	ListenAddr  string
	AdminAddr   string
	CORSOrigins []string
	// AdminToken guards mutating admin routes. Empty disables them.
	AdminToken  string
	Channel     channel.Config
}

func DefaultConfig() Config {
	return Config{
		Name:       "wirechan",
		ListenAddr: ":7400",
		Channel:    channel.DefaultConfig(),
	}
}

// ChannelInfo is the admin view of one live channel.
type ChannelInfo struct {
	ID        string        `json:"id"`
	Remote    string        `json:"remote"`
	State     string        `json:"state"`
	Connected time.Time     `json:"connected"`
	Stats     channel.Stats `json:"stats"`
}

type tracked struct {
	ch    *channel.Channel
	since time.Time
}

type Server struct {
	cfg     Config
	handler channel.Handler
	logger  zerolog.Logger
	started time.Time

	mu       sync.Mutex
	channels map[string]tracked

	active   atomic.Int64
	accepted atomic.Uint64
}

// New builds a server that dispatches every frame to h, or echoes frames back
// when h is nil.
func New(cfg Config, h channel.Handler) *Server {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultConfig().Name
	}
	cfg.Channel = cfg.Channel.WithDefaults()
	if h == nil {
		h = EchoHandler()
	}
	return &Server{
		cfg:      cfg,
		handler:  h,
		logger:   logging.Component("server").With().Str("node", cfg.Name).Logger(),
		started:  time.Now(),
		channels: make(map[string]tracked),
	}
}

// EchoHandler sends every frame back under the same key. Compressed frames are
// inflated and re-compressed on the way out.
func EchoHandler() channel.Handler {
	return channel.HandlerFunc(func(ch *channel.Channel, key uint32, in *codec.Buffer) error {
		compressed := key&FlagCompressed != 0
		if compressed {
			if err := ch.Inflate(); err != nil {
				return err
			}
		}
		payload := in.Unread()
		return ch.Send(key, compressed, func(out *codec.Buffer) error {
			_, err := out.Write(payload)
			return err
		})
	})
}

// Run listens on the configured addresses until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Channel.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	adminErr := make(chan error, 1)
	var admin *http.Server
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		admin = &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			s.logger.Info().Str("addr", addr).Msg("admin listening")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	var runErr error
	select {
	case runErr = <-serveErr:
	case runErr = <-adminErr:
		cancel()
		<-serveErr
	}
	if admin != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = admin.Shutdown(shutdownCtx)
	}
	return runErr
}

// Serve accepts connections from ln until ctx is cancelled, then disconnects
// every live channel.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAll()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.accepted.Add(1)
		tr := transport.FromConn(conn, s.cfg.Channel.TransportConfig())
		ch, err := channel.New(tr, s.handler, s.cfg.Channel,
			channel.WithObserver(s),
			channel.WithLogger(s.logger),
		)
		if err != nil {
			_ = tr.Close()
			return err
		}
		s.track(ch)
		go func() {
			if err := ch.Run(ctx); err != nil {
				s.logger.Debug().Err(err).Str("channel_id", ch.ID()).Msg("channel ended")
			}
		}()
	}
}

func (s *Server) track(ch *channel.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID()] = tracked{ch: ch, since: time.Now()}
}

func (s *Server) OnConnected(ch *channel.Channel) {
	active := s.active.Add(1)
	s.logger.Debug().Str("channel_id", ch.ID()).Int64("active", active).Msg("client connected")
}

func (s *Server) OnDisconnected(ch *channel.Channel, reason channel.Reason, _ error) {
	s.mu.Lock()
	delete(s.channels, ch.ID())
	s.mu.Unlock()
	select {
	case <-ch.Ready():
		active := s.active.Add(-1)
		s.logger.Debug().
			Str("channel_id", ch.ID()).
			Str("reason", reason.String()).
			Int64("active", active).
			Msg("client disconnected")
	default:
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	live := make([]*channel.Channel, 0, len(s.channels))
	for _, t := range s.channels {
		live = append(live, t.ch)
	}
	s.mu.Unlock()
	for _, ch := range live {
		_ = ch.Close()
	}
}

// Kick disconnects the live channel with id. It reports whether one was found.
func (s *Server) Kick(id string) bool {
	s.mu.Lock()
	t, ok := s.channels[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.ch.Disconnect(channel.ReasonUser, errKicked)
	return true
}

// Channels returns live channels ordered by connect time.
func (s *Server) Channels() []ChannelInfo {
	s.mu.Lock()
	out := make([]ChannelInfo, 0, len(s.channels))
	for _, t := range s.channels {
		out = append(out, ChannelInfo{
			ID:        t.ch.ID(),
			Remote:    t.ch.RemoteAddr(),
			State:     t.ch.State().String(),
			Connected: t.since,
			Stats:     t.ch.Stats(),
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Connected.Equal(out[j].Connected) {
			return out[i].ID < out[j].ID
		}
		return out[i].Connected.Before(out[j].Connected)
	})
	return out
}

var _ channel.Observer = (*Server)(nil)
