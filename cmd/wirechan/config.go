package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wirechan/internal/backoff"
	"github.com/danmuck/wirechan/internal/channel"
)

type fileConfig struct {
	BufferSize       int    `toml:"buffer_size"`
	Compression      string `toml:"compression"`
	ConnectTimeout   string `toml:"connect_timeout"`
	ConnectTimeoutMS int64  `toml:"connect_timeout_ms"`
	WriteTimeout     string `toml:"write_timeout"`
	MaxAttempts      int    `toml:"max_connect_attempts"`
	RetryInitial     string `toml:"retry_initial_delay"`
	RetryMax         string `toml:"retry_max_delay"`
}

// clientConfig is what ping dials with.
type clientConfig struct {
	Channel channel.Config
	Retry   backoff.Config
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Channel: channel.DefaultConfig(),
		Retry:   backoff.DefaultConfig(),
	}
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("buffer_size") {
		cfg.Channel.BufferSize = raw.BufferSize
	}

	if meta.IsDefined("compression") {
		cfg.Channel.Compression = strings.ToLower(strings.TrimSpace(raw.Compression))
	}

	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Channel.ConnectTimeout = d
	}

	if meta.IsDefined("connect_timeout_ms") {
		cfg.Channel.ConnectTimeout = time.Duration(raw.ConnectTimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Channel.WriteTimeout = d
	}

	if meta.IsDefined("max_connect_attempts") {
		cfg.Retry.MaxAttempts = raw.MaxAttempts
	}

	if meta.IsDefined("retry_initial_delay") {
		d, err := parseDuration("retry_initial_delay", raw.RetryInitial)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Retry.InitialDelay = d
	}

	if meta.IsDefined("retry_max_delay") {
		d, err := parseDuration("retry_max_delay", raw.RetryMax)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Retry.MaxDelay = d
	}

	if err := cfg.Channel.Validate(); err != nil {
		return clientConfig{}, err
	}
	return cfg, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}
