package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/wirechan/internal/backoff"
	"github.com/danmuck/wirechan/internal/channel"
	"github.com/danmuck/wirechan/internal/logging"
	"github.com/danmuck/wirechan/internal/observability"
	"github.com/danmuck/wirechan/internal/protocol/codec"
	"github.com/danmuck/wirechan/internal/server"
	"github.com/danmuck/wirechan/internal/transport"
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

type pingOptions struct {
	addr     string
	config   string
	count    int
	size     int
	compress bool
	timeout  time.Duration
}

var pingOpts = &pingOptions{}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send frames to an echo server and report round trips",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		observability.InitLogger("wirechan")
		cfg := defaultClientConfig()
		if path := strings.TrimSpace(pingOpts.config); path != "" {
			var err error
			if cfg, err = loadClientConfig(path); err != nil {
				return err
			}
		}
		return runPing(cmd.Context(), cfg, *pingOpts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().StringVarP(&pingOpts.addr, "addr", "a", "127.0.0.1:7400", "server address")
	pingCmd.Flags().StringVarP(&pingOpts.config, "config", "c", "", "client config path (toml)")
	pingCmd.Flags().IntVarP(&pingOpts.count, "count", "n", 4, "frames to send")
	pingCmd.Flags().IntVarP(&pingOpts.size, "size", "s", 32, "payload filler bytes")
	pingCmd.Flags().BoolVarP(&pingOpts.compress, "compress", "z", false, "compress payloads")
	pingCmd.Flags().DurationVar(&pingOpts.timeout, "timeout", 5*time.Second, "per-frame reply timeout")
}

type echoReply struct {
	seq int64
	at  time.Time
}

// runPing dials addr, redialing per cfg.Retry while the dial itself fails.
func runPing(ctx context.Context, cfg clientConfig, opts pingOptions, out io.Writer) error {
	host, rawPort, err := net.SplitHostPort(opts.addr)
	if err != nil {
		return errors.Wrap(err, "parse addr")
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return errors.Wrap(err, "parse port")
	}
	if opts.count <= 0 {
		opts.count = 1
	}
	if opts.timeout <= 0 {
		opts.timeout = 5 * time.Second
	}

	logger := logging.Component("ping")
	return backoff.Retry(ctx, cfg.Retry, isConnectFailure,
		func(attempt int, delay time.Duration, err error) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("connect failed")
		},
		func(int) error {
			return pingOnce(ctx, host, port, cfg.Channel, opts, out)
		})
}

// isConnectFailure reports whether err came from dialing rather than from an
// established channel.
func isConnectFailure(err error) bool {
	var de *channel.DisconnectError
	return errors.As(err, &de) && de.Reason == channel.ReasonConnection
}

func pingOnce(ctx context.Context, host string, port int, cfg channel.Config, opts pingOptions, out io.Writer) error {
	replies := make(chan echoReply, opts.count)
	h := channel.HandlerFunc(func(ch *channel.Channel, key uint32, in *codec.Buffer) error {
		if key&server.FlagCompressed != 0 {
			if err := ch.Inflate(); err != nil {
				return err
			}
		}
		seq, err := in.ReadInt64()
		if err != nil {
			return err
		}
		if _, err := in.ReadBytes(); err != nil {
			return err
		}
		select {
		case replies <- echoReply{seq: seq, at: time.Now()}:
		default:
		}
		return nil
	})

	ch, err := channel.New(transport.NewTCP(cfg.TransportConfig()), h, cfg)
	if err != nil {
		return err
	}
	connErr := make(chan error, 1)
	go func() { connErr <- ch.Connect(ctx, host, port) }()

	select {
	case <-ch.Ready():
	case err := <-connErr:
		if err == nil {
			err = ctx.Err()
		}
		return err
	}

	fmt.Fprintf(out, "PING %s (%s, compress=%t)\n", ch.RemoteAddr(), cfg.Compression, opts.compress)
	filler := []byte(strings.Repeat("w", opts.size))
	key := uint32(1)
	if opts.compress {
		key |= server.FlagCompressed
	}

	var rtts []time.Duration
	sendErr := func() error {
		for seq := int64(0); seq < int64(opts.count); seq++ {
			sent := time.Now()
			if err := ch.Send(key, opts.compress, func(b *codec.Buffer) error {
				if err := b.WriteInt64(seq); err != nil {
					return err
				}
				return b.WriteBytes(filler)
			}); err != nil {
				return err
			}
			select {
			case r := <-replies:
				if r.seq != seq {
					return errors.Errorf("reply out of order: got seq=%d want=%d", r.seq, seq)
				}
				rtt := r.at.Sub(sent)
				rtts = append(rtts, rtt)
				fmt.Fprintf(out, "seq=%d bytes=%d time=%s\n", seq, 8+4+len(filler), rtt.Round(time.Microsecond))
			case <-ch.Done():
				return ch.Err()
			case <-time.After(opts.timeout):
				return errors.Errorf("seq=%d: no reply within %s", seq, opts.timeout)
			}
		}
		return nil
	}()

	_ = ch.Close()
	if err := <-connErr; err != nil && sendErr == nil {
		sendErr = err
	}

	stats := ch.Stats()
	fmt.Fprintf(out, "%d sent, %d received, %d bytes out, %d bytes in", opts.count, len(rtts), stats.BytesOut, stats.BytesIn)
	if len(rtts) > 0 {
		var total time.Duration
		for _, d := range rtts {
			total += d
		}
		fmt.Fprintf(out, ", avg %s", (total / time.Duration(len(rtts))).Round(time.Microsecond))
	}
	fmt.Fprintln(out)
	return sendErr
}
