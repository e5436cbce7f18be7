package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/wirechan/internal/channel"
	"github.com/danmuck/wirechan/internal/server"
)

// ServerConfig converts a validated node config into server settings.
func (c NodeConfig) ServerConfig() (server.Config, error) {
	ch, err := c.Channel.toChannel()
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Name:        c.Name,
		ListenAddr:  c.Addr,
		AdminAddr:   c.AdminAddr,
		CORSOrigins: c.CorsOrigins,
		AdminToken:  c.AdminToken,
		Channel:     ch,
	}, nil
}

func (c ChannelConfig) toChannel() (channel.Config, error) {
	out := channel.Config{
		BufferSize:  c.BufferSize,
		Compression: strings.TrimSpace(c.Compression),
	}
	var err error
	if out.ConnectTimeout, err = parseDuration("connect_timeout", c.ConnectTimeout); err != nil {
		return channel.Config{}, err
	}
	if out.WriteTimeout, err = parseDuration("write_timeout", c.WriteTimeout); err != nil {
		return channel.Config{}, err
	}
	out = out.WithDefaults()
	if err := out.Validate(); err != nil {
		return channel.Config{}, err
	}
	return out, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
